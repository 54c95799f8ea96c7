package source

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"

	"github.com/haivivi/voxid/pkg/audio/pcm"
)

// Container identifies an audio file format.
type Container string

const (
	WAV Container = "wav"
	MP3 Container = "mp3"
)

// ErrUnsupportedFormat is returned for files that are neither WAV nor MP3
// or use an encoding the decoders cannot read.
var ErrUnsupportedFormat = errors.New("source: unsupported audio format")

// decoder yields interleaved float32 chunks and io.EOF at the end.
type decoder interface {
	Format() pcm.Format
	Read() ([]float32, error)
}

const decodeChunk = 4096

// Detect guesses the container from the file name, then from the first
// bytes of r.
func Detect(name string, r io.ReadSeeker) (Container, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".wav", ".wave":
		return WAV, nil
	case ".mp3":
		return MP3, nil
	}

	head := make([]byte, 4)
	n, _ := io.ReadFull(r, head)
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return "", fmt.Errorf("source: rewind: %w", err)
	}
	head = head[:n]
	switch {
	case bytes.HasPrefix(head, []byte("RIFF")):
		return WAV, nil
	case bytes.HasPrefix(head, []byte("ID3")),
		len(head) >= 2 && head[0] == 0xFF && head[1]&0xE0 == 0xE0:
		return MP3, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, name)
}

func newDecoder(c Container, r io.ReadSeeker) (decoder, error) {
	switch c {
	case WAV:
		return newWAVDecoder(r)
	case MP3:
		return newMP3Decoder(r)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, c)
}

type wavDecoder struct {
	dec   *wav.Decoder
	f     pcm.Format
	buf   *audio.IntBuffer
	scale float32
	bias  int
}

func newWAVDecoder(r io.ReadSeeker) (*wavDecoder, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("%w: invalid wav header", ErrUnsupportedFormat)
	}
	dec.ReadInfo()
	if err := dec.Err(); err != nil {
		return nil, fmt.Errorf("source: wav: %w", err)
	}
	if dec.WavAudioFormat != 1 {
		return nil, fmt.Errorf("%w: wav encoding %d", ErrUnsupportedFormat, dec.WavAudioFormat)
	}
	f := pcm.Format{SampleRate: int(dec.SampleRate), Channels: int(dec.NumChans)}
	if !f.Valid() {
		return nil, fmt.Errorf("%w: wav format %s", ErrUnsupportedFormat, f)
	}
	if err := dec.FwdToPCM(); err != nil {
		return nil, fmt.Errorf("source: wav: %w", err)
	}

	d := &wavDecoder{
		dec: dec,
		f:   f,
		buf: &audio.IntBuffer{
			Format: &audio.Format{NumChannels: f.Channels, SampleRate: f.SampleRate},
			Data:   make([]int, decodeChunk*f.Channels),
		},
	}
	switch bits := int(dec.BitDepth); bits {
	case 8:
		// 8-bit WAV is unsigned.
		d.scale, d.bias = 128, 128
	case 16, 24, 32:
		d.scale = float32(int64(1) << (bits - 1))
	default:
		return nil, fmt.Errorf("%w: wav bit depth %d", ErrUnsupportedFormat, bits)
	}
	return d, nil
}

func (d *wavDecoder) Format() pcm.Format { return d.f }

func (d *wavDecoder) Read() ([]float32, error) {
	n, err := d.dec.PCMBuffer(d.buf)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("source: wav: %w", err)
	}
	n -= n % d.f.Channels
	if n == 0 {
		return nil, io.EOF
	}
	out := make([]float32, n)
	for i, v := range d.buf.Data[:n] {
		out[i] = float32(v-d.bias) / d.scale
	}
	return out, nil
}

// mp3Decoder wraps go-mp3, which always produces 16-bit little-endian
// stereo.
type mp3Decoder struct {
	r   io.Reader
	f   pcm.Format
	buf []byte
}

func newMP3Decoder(r io.Reader) (*mp3Decoder, error) {
	dec, err := mp3.NewDecoder(r)
	if err != nil {
		return nil, fmt.Errorf("%w: mp3: %v", ErrUnsupportedFormat, err)
	}
	return &mp3Decoder{
		r:   dec,
		f:   pcm.Format{SampleRate: dec.SampleRate(), Channels: 2},
		buf: make([]byte, decodeChunk*4),
	}, nil
}

func (d *mp3Decoder) Format() pcm.Format { return d.f }

func (d *mp3Decoder) Read() ([]float32, error) {
	n, err := io.ReadFull(d.r, d.buf)
	switch {
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
	case err != nil:
		return nil, fmt.Errorf("source: mp3: %w", err)
	}
	n -= n % 4
	if n == 0 {
		return nil, io.EOF
	}
	return pcm.BytesToFloat32(d.buf[:n]), nil
}
