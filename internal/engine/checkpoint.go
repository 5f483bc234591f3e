package engine

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/danielpatrickdp/adaptive-rehab/go-controller/internal/checkpoint"
	"github.com/danielpatrickdp/adaptive-rehab/go-controller/internal/policy"
	"github.com/danielpatrickdp/adaptive-rehab/go-controller/internal/state"
	"github.com/danielpatrickdp/adaptive-rehab/go-controller/internal/telemetry"
)

// #region final-write
// finalWrite is a checkpoint captured under the session lock and written after
// the lock is released.
type finalWrite struct {
	handle string
	data   []byte
	err    error
}

// snapshot captures the policy state for save_path. Callers hold s.mu.
func (s *session) snapshot() *finalWrite {
	if s.savePath == "" {
		return nil
	}
	cp, ok := s.policy.(policy.Checkpointer)
	if !ok {
		return nil
	}
	data, err := cp.Snapshot()
	return &finalWrite{handle: s.savePath, data: data, err: err}
}

func (e *Engine) writeFinal(ctx context.Context, id, name string, w *finalWrite) {
	if w == nil {
		return
	}
	err := w.err
	if err == nil {
		err = e.write(ctx, w.handle, w.data)
	}
	e.reportSave(id, name, w.handle, len(w.data), err)
}

// #endregion final-write

// #region io
func (e *Engine) write(ctx context.Context, handle string, data []byte) error {
	return checkpoint.With(ctx, e.opts.Checkpoints, func(st checkpoint.Store) error {
		return st.Write(ctx, handle, data)
	})
}

func (e *Engine) read(ctx context.Context, handle string) ([]byte, error) {
	var data []byte
	err := checkpoint.With(ctx, e.opts.Checkpoints, func(st checkpoint.Store) error {
		var err error
		data, err = st.Read(ctx, handle)
		return err
	})
	return data, err
}

func (e *Engine) reportSave(id, name, handle string, size int, err error) {
	if err != nil {
		e.log.Warn("checkpoint save failed",
			zap.String("session_id", id),
			zap.String("handle", handle),
			zap.Error(err))
		e.pub.Publish(telemetry.NewEvent(telemetry.EventCheckpointFailed, id, name, map[string]any{
			"op":     "save",
			"handle": handle,
			"error":  err.Error(),
		}))
		return
	}
	e.pub.Publish(telemetry.NewEvent(telemetry.EventCheckpointSaved, id, name, map[string]any{
		"handle": handle,
		"bytes":  size,
	}))
}

func (e *Engine) reportLoad(id, name, handle string, err error) {
	if err != nil {
		e.log.Warn("checkpoint load failed",
			zap.String("session_id", id),
			zap.String("handle", handle),
			zap.Error(err))
		e.pub.Publish(telemetry.NewEvent(telemetry.EventCheckpointFailed, id, name, map[string]any{
			"op":     "load",
			"handle": handle,
			"error":  err.Error(),
		}))
		return
	}
	e.pub.Publish(telemetry.NewEvent(telemetry.EventCheckpointLoaded, id, name, map[string]any{
		"handle": handle,
	}))
}

// autoLoad restores s.policy from s.savePath. s is not yet visible to other
// callers. A missing checkpoint is the normal first-run case and stays quiet.
func (e *Engine) autoLoad(ctx context.Context, s *session) {
	cp, ok := s.policy.(policy.Checkpointer)
	if !ok {
		return
	}
	data, err := e.read(ctx, s.savePath)
	if errors.Is(err, state.ErrNotFound) {
		e.log.Debug("no checkpoint yet", zap.String("session_id", s.id), zap.String("handle", s.savePath))
		return
	}
	if err == nil {
		err = cp.Restore(data)
	}
	e.reportLoad(s.id, s.policyName, s.savePath, err)
}

// #endregion io

// #region save-load
// SaveCheckpoint persists the session's learned state under handle, or under
// the session's save_path when handle is empty. The snapshot is taken under the
// session lock; the write happens after it is released.
func (e *Engine) SaveCheckpoint(ctx context.Context, id, handle string) error {
	var (
		name string
		data []byte
	)
	err := e.withSession(id, func(s *session) error {
		name = s.policyName
		if handle == "" {
			handle = s.savePath
		}
		if handle == "" {
			return &state.ValidationError{Missing: []string{"handle"}, Reason: "no handle given and no save_path configured"}
		}
		cp, ok := s.policy.(policy.Checkpointer)
		if !ok {
			return fmt.Errorf("save checkpoint with %s: %w", s.policyName, state.ErrUnsupported)
		}
		var err error
		data, err = cp.Snapshot()
		if err != nil {
			return &state.PersistenceError{Op: "save", Handle: handle, Err: err}
		}
		return nil
	})
	if err != nil {
		return err
	}

	if err := e.write(ctx, handle, data); err != nil {
		e.reportSave(id, name, handle, len(data), err)
		return &state.PersistenceError{Op: "save", Handle: handle, Err: err}
	}
	e.reportSave(id, name, handle, len(data), nil)
	return nil
}

// LoadCheckpoint replaces the session's learned state with the payload stored
// under handle (or save_path). A read failure leaves the policy as it was; a
// payload that cannot be decoded resets the policy to a fresh state.
func (e *Engine) LoadCheckpoint(ctx context.Context, id, handle string) error {
	var name string
	err := e.withSession(id, func(s *session) error {
		name = s.policyName
		if handle == "" {
			handle = s.savePath
		}
		if handle == "" {
			return &state.ValidationError{Missing: []string{"handle"}, Reason: "no handle given and no save_path configured"}
		}
		if _, ok := s.policy.(policy.Checkpointer); !ok {
			return fmt.Errorf("load checkpoint into %s: %w", s.policyName, state.ErrUnsupported)
		}
		return nil
	})
	if err != nil {
		return err
	}

	data, err := e.read(ctx, handle)
	if err != nil {
		e.reportLoad(id, name, handle, err)
		return &state.PersistenceError{Op: "load", Handle: handle, Err: err}
	}

	err = e.withSession(id, func(s *session) error {
		name = s.policyName
		cp, ok := s.policy.(policy.Checkpointer)
		if !ok {
			return fmt.Errorf("load checkpoint into %s: %w", s.policyName, state.ErrUnsupported)
		}
		if err := cp.Restore(data); err != nil {
			return &state.PersistenceError{Op: "load", Handle: handle, Err: err}
		}
		return nil
	})
	var pe *state.PersistenceError
	if errors.As(err, &pe) {
		e.reportLoad(id, name, handle, err)
		return err
	}
	if err != nil {
		return err
	}
	e.reportLoad(id, name, handle, nil)
	return nil
}

// #endregion save-load
