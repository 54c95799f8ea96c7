package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
)

// apiError implements smithy.APIError for test assertions.
type apiError struct {
	code string
	msg  string
}

func (e *apiError) Error() string { return e.msg }
func (e *apiError) ErrorCode() string { return e.code }
func (e *apiError) ErrorMessage() string { return e.msg }
func (e *apiError) ErrorFault() smithy.ErrorFault { return smithy.FaultClient }

var errNoSuchKey = &apiError{code: "NoSuchKey", msg: "no such key"}
var errNotFound = &apiError{code: "NotFound", msg: "not found"}

// mockS3 is a thread-safe in-memory S3 backend for testing.
type mockS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string

	// Optional hooks to inject errors.
	getErr    error
	putErr    error
	deleteErr error
	headErr   error
}

func newMockS3() *mockS3 {
	return &mockS3{objects: make(map[string][]byte), types: make(map[string]string)}
}

func (m *mockS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[*in.Key]
	if !ok {
		return nil, errNoSuchKey
	}
	return &s3.GetObjectOutput{
		Body: io.NopCloser(bytes.NewReader(data)),
	}, nil
}

func (m *mockS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if m.putErr != nil {
		return nil, m.putErr
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if in.ContentLength != nil && *in.ContentLength != int64(len(data)) {
		return nil, errors.New("content length mismatch")
	}
	m.objects[*in.Key] = data
	if in.ContentType != nil {
		m.types[*in.Key] = *in.ContentType
	}
	return &s3.PutObjectOutput{}, nil
}

func (m *mockS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	if m.deleteErr != nil {
		return nil, m.deleteErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, *in.Key)
	return &s3.DeleteObjectOutput{}, nil
}

func (m *mockS3) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	if m.headErr != nil {
		return nil, m.headErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[*in.Key]; !ok {
		return nil, errNotFound
	}
	return &s3.HeadObjectOutput{}, nil
}

func TestS3StoreRoundTrip(t *testing.T) {
	mock := newMockS3()
	store := NewS3(mock, "voxid", "library")
	ctx := context.Background()

	if err := WriteFile(ctx, store, "speakers.json", []byte("long content here")); err != nil {
		t.Fatal(err)
	}
	if err := WriteFile(ctx, store, "speakers.json", []byte("[]")); err != nil {
		t.Fatal(err)
	}
	got, err := ReadFile(ctx, store, "speakers.json")
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "[]" {
		t.Fatalf("got %q, want []", got)
	}

	mock.mu.Lock()
	_, ok := mock.objects["library/speakers.json"]
	ct := mock.types["library/speakers.json"]
	mock.mu.Unlock()
	if !ok {
		t.Fatal("expected object under prefixed key")
	}
	if ct != "application/json" {
		t.Errorf("content type = %q", ct)
	}

	if ok, _ := store.Exists(ctx, "speakers.json"); !ok {
		t.Fatal("Exists = false after write")
	}
	for range 2 {
		if err := store.Delete(ctx, "speakers.json"); err != nil {
			t.Fatal(err)
		}
	}
	if ok, _ := store.Exists(ctx, "speakers.json"); ok {
		t.Fatal("Exists = true after delete")
	}
	if _, err := store.Read(ctx, "speakers.json"); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("Read after delete: %v, want ErrNotExist", err)
	}
}

func TestS3StoreErrors(t *testing.T) {
	ctx := context.Background()

	mock := newMockS3()
	mock.getErr = errors.New("network timeout")
	mock.headErr = errors.New("network failure")
	mock.deleteErr = errors.New("access denied")
	store := NewS3(mock, "bucket", "")

	if _, err := store.Read(ctx, "x"); err == nil || errors.Is(err, os.ErrNotExist) {
		t.Fatalf("Read: %v", err)
	}
	if _, err := store.Exists(ctx, "x"); err == nil {
		t.Fatal("Exists: expected error")
	}
	if err := store.Delete(ctx, "x"); err == nil {
		t.Fatal("Delete: expected error")
	}

	mock.putErr = errors.New("upload failed")
	err := WriteFile(ctx, store, "obj", []byte("data"))
	if err == nil || !strings.Contains(err.Error(), "upload failed") {
		t.Fatalf("WriteFile: %v, want upload failure", err)
	}
}

func TestS3Keys(t *testing.T) {
	tests := []struct {
		prefix, path, want string
	}{
		{"", "speakers.json", "speakers.json"},
		{"lib/", "speakers.json", "lib/speakers.json"},
		{"/lib", "/recordings/a.wav", "lib/recordings/a.wav"},
		{"lib", "recordings/../speakers.json", "lib/speakers.json"},
	}
	for _, tt := range tests {
		if got := NewS3(nil, "b", tt.prefix).key(tt.path); got != tt.want {
			t.Errorf("key(%q, %q) = %q, want %q", tt.prefix, tt.path, got, tt.want)
		}
	}
}

func TestS3WriterCloseTwice(t *testing.T) {
	mock := newMockS3()
	store := NewS3(mock, "voxid", "")
	w, err := store.Write(context.Background(), "rec.wav")
	if err != nil {
		t.Fatal(err)
	}
	w.Write([]byte("RIFF"))
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if _, err := w.Write([]byte("x")); err == nil {
		t.Error("Write after Close should fail")
	}
	if mock.types["rec.wav"] != "audio/wav" {
		t.Errorf("content type = %q", mock.types["rec.wav"])
	}
}

func TestIsS3NotFound(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"NoSuchKey", errNoSuchKey, true},
		{"NotFound", errNotFound, true},
		{"other api error", &apiError{code: "AccessDenied", msg: "denied"}, false},
		{"plain error", errors.New("timeout"), false},
		{"nil", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isS3NotFound(tt.err); got != tt.want {
				t.Fatalf("isS3NotFound(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestOpenS3(t *testing.T) {
	fs, err := Open(Config{Kind: KindS3, S3: S3Config{
		Bucket:       "voxid",
		Endpoint:     "http://127.0.0.1:9000",
		UsePathStyle: true,
	}})
	if err != nil {
		t.Fatal(err)
	}
	s, ok := fs.(*S3Store)
	if !ok {
		t.Fatalf("Open returned %T", fs)
	}
	if s.bucket != "voxid" {
		t.Errorf("bucket = %q", s.bucket)
	}
	if _, err := Open(Config{Kind: KindS3}); err == nil {
		t.Fatal("expected error without bucket")
	}
}
