package onnx

import (
	"math"
	"os"
	"path/filepath"
	"testing"
)

func TestNewEnv(t *testing.T) {
	env, err := NewEnv("test")
	if err != nil {
		t.Fatal(err)
	}
	defer env.Close()
}

func TestEnvDoubleClose(t *testing.T) {
	env, err := NewEnv("test")
	if err != nil {
		t.Fatal(err)
	}
	env.Close()
	env.Close()
}

func TestNewTensor(t *testing.T) {
	data := []float32{1, 2, 3, 4, 5, 6}
	tensor, err := NewTensor([]int64{2, 3}, data)
	if err != nil {
		t.Fatal(err)
	}
	defer tensor.Close()

	shape, err := tensor.Shape()
	if err != nil {
		t.Fatal(err)
	}
	if len(shape) != 2 || shape[0] != 2 || shape[1] != 3 {
		t.Errorf("shape = %v, want [2,3]", shape)
	}

	out, err := tensor.FloatData()
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 6 {
		t.Fatalf("len = %d, want 6", len(out))
	}
	for i, v := range out {
		if v != data[i] {
			t.Errorf("[%d] = %f, want %f", i, v, data[i])
		}
	}
}

func TestIntegerTensors(t *testing.T) {
	sr, err := NewTensorInt64([]int64{1}, []int64{16000})
	if err != nil {
		t.Fatal(err)
	}
	defer sr.Close()
	got, err := sr.FloatData()
	if err != nil || len(got) != 1 || got[0] != 16000 {
		t.Fatalf("int64 FloatData = %v, %v", got, err)
	}

	lens, err := NewTensorInt32([]int64{2}, []int32{150, -1})
	if err != nil {
		t.Fatal(err)
	}
	defer lens.Close()
	got, err = lens.FloatData()
	if err != nil || len(got) != 2 || got[0] != 150 || got[1] != -1 {
		t.Fatalf("int32 FloatData = %v, %v", got, err)
	}
}

func TestTensorEmptyData(t *testing.T) {
	if _, err := NewTensor([]int64{0}, nil); err == nil {
		t.Error("expected error for empty data")
	}
	if _, err := NewTensor(nil, []float32{1}); err == nil {
		t.Error("expected error for empty shape")
	}
}

func TestTensorShortData(t *testing.T) {
	if _, err := NewTensor([]int64{2, 3}, []float32{1, 2, 3}); err == nil {
		t.Error("expected error for short data")
	}
}

func TestEmptyModel(t *testing.T) {
	env, err := NewEnv("test")
	if err != nil {
		t.Fatal(err)
	}
	defer env.Close()
	if _, err := env.NewSession(nil, SessionOptions{}); err == nil {
		t.Error("expected error for empty model")
	}
	if _, err := env.NewSession([]byte("not a model"), SessionOptions{}); err == nil {
		t.Error("expected error for garbage model")
	}
}

// TestSpeakerModel runs a speaker embedding model when VOXID_MODEL_DIR
// holds speaker.onnx.
func TestSpeakerModel(t *testing.T) {
	dir := os.Getenv("VOXID_MODEL_DIR")
	if dir == "" {
		t.Skip("VOXID_MODEL_DIR not set")
	}
	data, err := os.ReadFile(filepath.Join(dir, "speaker.onnx"))
	if err != nil {
		t.Skip(err)
	}

	env, err := NewEnv("test")
	if err != nil {
		t.Fatal(err)
	}
	defer env.Close()

	session, err := env.NewSession(data, SessionOptions{Threads: 1})
	if err != nil {
		t.Fatal(err)
	}
	defer session.Close()
	if len(session.InputNames()) != 1 || len(session.OutputNames()) != 1 {
		t.Fatalf("io = %v -> %v", session.InputNames(), session.OutputNames())
	}

	T := 200
	feats := make([]float32, T*80)
	for i := range feats {
		feats[i] = float32(i%100) * 0.01
	}
	input, err := NewTensor([]int64{1, int64(T), 80}, feats)
	if err != nil {
		t.Fatal(err)
	}
	defer input.Close()

	outputs, err := session.Run(session.InputNames(), []*Tensor{input}, session.OutputNames())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	defer outputs[0].Close()

	emb, err := outputs[0].FloatData()
	if err != nil {
		t.Fatal(err)
	}
	if len(emb) != 512 {
		t.Errorf("expected 512-dim, got %d", len(emb))
	}
	for i, v := range emb {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			t.Fatalf("emb[%d] = %f (NaN/Inf)", i, v)
		}
	}
}
