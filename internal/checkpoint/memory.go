package checkpoint

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/danielpatrickdp/adaptive-rehab/go-controller/internal/state"
)

// #region mem-store
// MemStore is an in-process Store. Close does not discard data, so one
// MemStore can back an Opener across many operations.
type MemStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{data: make(map[string][]byte)}
}

// Opener returns an Opener that always yields m.
func (m *MemStore) Opener() Opener {
	return func(context.Context) (Store, error) { return m, nil }
}

func (m *MemStore) Read(_ context.Context, handle string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.data[handle]
	if !ok {
		return nil, fmt.Errorf("read %s: %w", handle, state.ErrNotFound)
	}
	return slices.Clone(b), nil
}

func (m *MemStore) Write(_ context.Context, handle string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[handle] = slices.Clone(data)
	return nil
}

func (m *MemStore) Close() error { return nil }

// Handles lists stored handles in sorted order.
func (m *MemStore) Handles() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.data))
	for k := range m.data {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}

// #endregion mem-store
