package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
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

func (e *apiError) Error() string                 { return e.msg }
func (e *apiError) ErrorCode() string             { return e.code }
func (e *apiError) ErrorMessage() string          { return e.msg }
func (e *apiError) ErrorFault() smithy.ErrorFault { return smithy.FaultClient }

var errNoSuchKey = &apiError{code: "NoSuchKey", msg: "no such key"}
var errNotFound = &apiError{code: "NotFound", msg: "not found"}

// mockS3 is an in-memory bucket for testing.
type mockS3 struct {
	mu      sync.Mutex
	objects map[string][]byte

	getErr  error
	headErr error
}

func newMockS3() *mockS3 {
	return &mockS3{objects: make(map[string][]byte)}
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
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
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

func TestS3Open(t *testing.T) {
	mock := newMockS3()
	mock.objects["decks/talk.pdf"] = []byte("deck bytes")
	src := NewS3(mock, "bucket", "decks")

	r, err := src.Open(context.Background(), "talk.pdf")
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "deck bytes" {
		t.Fatalf("got %q", got)
	}
}

func TestS3OpenNotExist(t *testing.T) {
	src := NewS3(newMockS3(), "bucket", "")
	_, err := src.Open(context.Background(), "missing.pdf")
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected os.ErrNotExist, got %v", err)
	}
}

func TestS3OpenOtherError(t *testing.T) {
	mock := newMockS3()
	mock.getErr = errors.New("network timeout")
	src := NewS3(mock, "bucket", "")

	_, err := src.Open(context.Background(), "x")
	if err == nil {
		t.Fatal("expected error")
	}
	if errors.Is(err, os.ErrNotExist) {
		t.Fatal("generic errors must not look like not-exist")
	}
}

func TestS3Exists(t *testing.T) {
	mock := newMockS3()
	mock.objects["present.pdf"] = []byte("x")
	src := NewS3(mock, "bucket", "")
	ctx := context.Background()

	ok, err := src.Exists(ctx, "present.pdf")
	if err != nil || !ok {
		t.Fatalf("Exists(present) = %v, %v", ok, err)
	}
	ok, err = src.Exists(ctx, "missing.pdf")
	if err != nil || ok {
		t.Fatalf("Exists(missing) = %v, %v", ok, err)
	}
}

func TestS3ExistsOtherError(t *testing.T) {
	mock := newMockS3()
	mock.headErr = errors.New("network failure")
	src := NewS3(mock, "bucket", "")
	if _, err := src.Exists(context.Background(), "x"); err == nil {
		t.Fatal("expected error")
	}
}

func TestS3KeyPrefix(t *testing.T) {
	src := NewS3(newMockS3(), "bucket", "my/prefix")
	if got := src.key("file.pdf"); got != "my/prefix/file.pdf" {
		t.Fatalf("key = %q", got)
	}
	src = NewS3(newMockS3(), "bucket", "")
	if got := src.key("a/b"); got != "a/b" {
		t.Fatalf("key = %q", got)
	}
}

func TestCacheMaterializeFromS3(t *testing.T) {
	mock := newMockS3()
	mock.objects["talk.pdf"] = []byte("s3 deck")
	src := NewS3(mock, "bucket", "")
	cache, err := NewCache(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	local, err := cache.Materialize(context.Background(), src, "talk.pdf")
	if err != nil {
		t.Fatal(err)
	}
	got, err := os.ReadFile(local)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "s3 deck" {
		t.Fatalf("got %q", got)
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
