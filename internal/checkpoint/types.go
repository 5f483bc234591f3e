package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// #region store-interface
// Store is the narrow byte-store contract policies checkpoint through.
// Read returns state.ErrNotFound (wrapped) for an unknown handle.
type Store interface {
	Read(ctx context.Context, handle string) ([]byte, error)
	Write(ctx context.Context, handle string, data []byte) error
	Close() error
}

// Opener acquires a Store for the duration of one checkpoint operation.
type Opener func(ctx context.Context) (Store, error)

// #endregion store-interface

// #region with
// With opens a store, runs fn against it, and always closes it.
// A close error is joined with fn's error.
func With(ctx context.Context, open Opener, fn func(Store) error) (err error) {
	if open == nil {
		return errors.New("no checkpoint store configured")
	}
	s, err := open(ctx)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if cerr := s.Close(); cerr != nil {
			err = errors.Join(err, fmt.Errorf("close store: %w", cerr))
		}
	}()
	return fn(s)
}

// #endregion with

// #region version
// Version is one stored revision of a handle's payload.
type Version struct {
	VersionID string
	Handle    string
	ParentID  string
	Payload   []byte
	CreatedAt time.Time
	Active    bool
}

// #endregion version
