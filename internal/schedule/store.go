package schedule

import (
	"context"
	"sync"
	"time"
)

// Store persists named alarms. Put on an existing name replaces its fire time.
type Store interface {
	Put(ctx context.Context, name string, at time.Time) error
	Remove(ctx context.Context, names ...string) error
	List(ctx context.Context) (map[string]time.Time, error)
	// PopDue removes and returns alarms due at or before now.
	PopDue(ctx context.Context, now time.Time) ([]string, error)
}

// MemoryStore is an in-process Store for tests and Redis-less runs.
type MemoryStore struct {
	mu     sync.Mutex
	alarms map[string]time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{alarms: make(map[string]time.Time)}
}

func (m *MemoryStore) Put(_ context.Context, name string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alarms[name] = at
	return nil
}

func (m *MemoryStore) Remove(_ context.Context, names ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, n := range names {
		delete(m.alarms, n)
	}
	return nil
}

func (m *MemoryStore) List(context.Context) (map[string]time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]time.Time, len(m.alarms))
	for k, v := range m.alarms {
		out[k] = v
	}
	return out, nil
}

func (m *MemoryStore) PopDue(_ context.Context, now time.Time) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var due []string
	for name, at := range m.alarms {
		if !at.After(now) {
			due = append(due, name)
			delete(m.alarms, name)
		}
	}
	return due, nil
}
