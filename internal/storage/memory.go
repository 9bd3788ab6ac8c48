package storage

import (
	"context"
	"strings"
	"sync"
	"time"
)

// Memory is an in-memory Backend for tests.
type Memory struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{data: make(map[string][]byte)}
}

// List implements Backend.
func (m *Memory) List(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var keys []string
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

// Get implements Backend.
func (m *Memory) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// Put implements Backend.
func (m *Memory) Put(ctx context.Context, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := make([]byte, len(data))
	copy(stored, data)
	m.data[key] = stored
	return nil
}

// Delete implements Backend.
func (m *Memory) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

// Len returns the number of stored objects.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}

// memory://name stores are shared process-wide so that two replicas in one
// test can converge through the same store.
var (
	namedMu sync.Mutex
	named   = make(map[string]*Memory)
)

// NamedMemory returns the shared in-memory store for a name, creating it on
// first use.
func NamedMemory(name string) *Memory {
	namedMu.Lock()
	defer namedMu.Unlock()

	m, ok := named[name]
	if !ok {
		m = NewMemory()
		named[name] = m
	}
	return m
}

// Throttled wraps a Backend and sleeps before every operation. Used in
// tests to surface timing-dependent behavior.
type Throttled struct {
	Inner Backend
	Delay time.Duration
}

// List implements Backend.
func (t *Throttled) List(ctx context.Context, prefix string) ([]string, error) {
	if err := t.wait(ctx); err != nil {
		return nil, err
	}
	return t.Inner.List(ctx, prefix)
}

// Get implements Backend.
func (t *Throttled) Get(ctx context.Context, key string) ([]byte, error) {
	if err := t.wait(ctx); err != nil {
		return nil, err
	}
	return t.Inner.Get(ctx, key)
}

// Put implements Backend.
func (t *Throttled) Put(ctx context.Context, key string, data []byte) error {
	if err := t.wait(ctx); err != nil {
		return err
	}
	return t.Inner.Put(ctx, key, data)
}

// Delete implements Backend.
func (t *Throttled) Delete(ctx context.Context, key string) error {
	if err := t.wait(ctx); err != nil {
		return err
	}
	return t.Inner.Delete(ctx, key)
}

func (t *Throttled) wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(t.Delay):
		return nil
	}
}
