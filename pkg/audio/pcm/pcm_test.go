package pcm

import (
	"testing"
	"time"
)

func TestFormat(t *testing.T) {
	f := Format{SampleRate: 48000, Channels: 2}
	if got := f.SamplesInDuration(20 * time.Millisecond); got != 960 {
		t.Errorf("SamplesInDuration = %d, want 960", got)
	}
	if got := Mono16K.Duration(FrameSize); got != 32*time.Millisecond {
		t.Errorf("Duration(512) = %v, want 32ms", got)
	}
	if !f.Valid() || (Format{}).Valid() {
		t.Error("Valid misreports")
	}
	if f.String() != "audio/L16; rate=48000; channels=2" {
		t.Errorf("String = %q", f.String())
	}
}

func TestConvert(t *testing.T) {
	in := []int16{0, 16384, -32768, 32767}
	f := Int16ToFloat32(in)
	if f[1] != 0.5 || f[2] != -1 {
		t.Errorf("Int16ToFloat32 = %v", f)
	}
	back := Float32ToInt16(f)
	for i := range in {
		if back[i] != in[i] {
			t.Errorf("round trip [%d] = %d, want %d", i, back[i], in[i])
		}
	}
	if got := Float32ToInt16([]float32{2, -2}); got[0] != 32767 || got[1] != -32768 {
		t.Errorf("clipping = %v", got)
	}

	b := []byte{0x00, 0x40, 0x00, 0x80, 0x01}
	if got := BytesToFloat32(b); len(got) != 2 || got[0] != 0.5 || got[1] != -1 {
		t.Errorf("BytesToFloat32 = %v", got)
	}
}

func TestChannel(t *testing.T) {
	stereo := []float32{1, -1, 2, -2, 3, -3}
	if got := Channel(stereo, 2, 1); len(got) != 3 || got[2] != -3 {
		t.Errorf("Channel(1) = %v", got)
	}
	if got := Channel(stereo, 2, 5); got[0] != 1 {
		t.Errorf("out-of-range channel = %v, want channel 0", got)
	}
	mono := []float32{1, 2}
	got := Channel(mono, 1, 0)
	got[0] = 9
	if mono[0] != 1 {
		t.Error("Channel aliases its input")
	}
}

func TestFramer(t *testing.T) {
	var frames []Frame
	f := NewFramer(4, func(fr Frame) { frames = append(frames, fr) })

	f.Write([]float32{1, 2, 3})
	if len(frames) != 0 || f.Pending() != 3 {
		t.Fatalf("frames=%d pending=%d", len(frames), f.Pending())
	}
	f.Write([]float32{4, 5, 6, 7, 8, 9})
	if len(frames) != 2 || frames[1][3] != 8 {
		t.Fatalf("frames = %v", frames)
	}
	f.Flush()
	if len(frames) != 3 || frames[2][0] != 9 || frames[2][1] != 0 {
		t.Fatalf("flushed frame = %v", frames[2])
	}
	f.Flush()
	if len(frames) != 3 {
		t.Fatal("empty Flush emitted a frame")
	}
}
