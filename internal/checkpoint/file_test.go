package checkpoint

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/danielpatrickdp/adaptive-rehab/go-controller/internal/state"
)

func TestFileStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	fs, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	ctx := context.Background()

	if err := fs.Write(ctx, "patients/p1.json", []byte("one")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := fs.Write(ctx, "patients/p1.json", []byte("two")); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	got, err := fs.Read(ctx, "patients/p1.json")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != "two" {
		t.Fatalf("expected two, got %q", got)
	}

	entries, _ := os.ReadDir(filepath.Join(dir, "patients"))
	if len(entries) != 1 {
		t.Fatalf("expected temp files cleaned up, got %d entries", len(entries))
	}
}

func TestFileStoreMissing(t *testing.T) {
	fs, _ := NewFileStore(t.TempDir())
	_, err := fs.Read(context.Background(), "nope")
	if !errors.Is(err, state.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestFileStoreConfinesHandle(t *testing.T) {
	dir := t.TempDir()
	fs, _ := NewFileStore(dir)
	ctx := context.Background()

	if err := fs.Write(ctx, "../../escape", []byte("x")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "escape")); err != nil {
		t.Fatalf("expected file confined to root: %v", err)
	}
	if err := fs.Write(ctx, "", []byte("x")); err == nil {
		t.Fatal("expected error for empty handle")
	}
}

func TestMemStoreCopies(t *testing.T) {
	m := NewMemStore()
	ctx := context.Background()
	buf := []byte("abc")
	m.Write(ctx, "h", buf)
	buf[0] = 'z'

	got, err := m.Read(ctx, "h")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != "abc" {
		t.Fatalf("expected stored copy abc, got %q", got)
	}
	if _, err := m.Read(ctx, "x"); !errors.Is(err, state.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestWithNilOpener(t *testing.T) {
	err := With(context.Background(), nil, func(Store) error { return nil })
	if err == nil {
		t.Fatal("expected error for nil opener")
	}
}

type failingCloser struct{ *MemStore }

func (failingCloser) Close() error { return errors.New("close boom") }

func TestWithJoinsCloseError(t *testing.T) {
	open := func(context.Context) (Store, error) { return failingCloser{NewMemStore()}, nil }
	fnErr := errors.New("fn boom")
	err := With(context.Background(), open, func(Store) error { return fnErr })
	if !errors.Is(err, fnErr) {
		t.Fatalf("expected fn error preserved, got %v", err)
	}
	if err == nil || err.Error() == fnErr.Error() {
		t.Fatalf("expected close error joined, got %v", err)
	}
}

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	ctx := context.Background()
	rs, err := NewRedisStore(ctx, addr, "adaptrehab:test:")
	if err != nil {
		t.Fatalf("NewRedisStore: %v", err)
	}
	defer rs.Close()

	handle := "ckpt-" + t.Name()
	if err := rs.Write(ctx, handle, []byte("payload")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := rs.Read(ctx, handle)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != "payload" {
		t.Fatalf("expected payload, got %q", got)
	}
	if _, err := rs.Read(ctx, "absent-"+t.Name()); !errors.Is(err, state.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
