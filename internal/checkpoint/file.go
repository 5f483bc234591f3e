package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/danielpatrickdp/adaptive-rehab/go-controller/internal/state"
)

// #region file-store
// FileStore maps handles to files under a root directory.
type FileStore struct {
	root string
}

// NewFileStore creates root if needed.
func NewFileStore(root string) (*FileStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir %s: %w", root, err)
	}
	return &FileStore{root: root}, nil
}

// FileOpener returns an Opener rooted at dir.
func FileOpener(dir string) Opener {
	return func(context.Context) (Store, error) {
		return NewFileStore(dir)
	}
}

// path confines handle to the root; "../x" resolves to "<root>/x".
func (f *FileStore) path(handle string) (string, error) {
	clean := filepath.Clean("/" + filepath.FromSlash(handle))
	if clean == string(filepath.Separator) || strings.TrimSpace(handle) == "" {
		return "", fmt.Errorf("invalid handle %q", handle)
	}
	return filepath.Join(f.root, clean), nil
}

// Read returns the file contents for handle.
func (f *FileStore) Read(_ context.Context, handle string) ([]byte, error) {
	p, err := f.path(handle)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("read %s: %w", handle, state.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", handle, err)
	}
	return data, nil
}

// Write replaces the file for handle via a temp file and rename.
func (f *FileStore) Write(_ context.Context, handle string, data []byte) error {
	p, err := f.path(handle)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(p), ".ckpt-*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp: %w", err)
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}

// Close is a no-op; files are not held open between calls.
func (f *FileStore) Close() error { return nil }

// #endregion file-store
