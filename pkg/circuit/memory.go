package circuit

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps circuit state in process. Suitable for single-instance
// deployments and tests.
type MemoryStore struct {
	mu    sync.Mutex
	items map[string]*Snapshot
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]*Snapshot)}
}

func (m *MemoryStore) get(dest string) *Snapshot {
	s, ok := m.items[dest]
	if !ok {
		s = &Snapshot{State: Closed}
		m.items[dest] = s
	}
	return s
}

func (m *MemoryStore) Load(_ context.Context, dest string) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.items[dest]; ok {
		return *s, nil
	}
	return Snapshot{State: Closed}, nil
}

func (m *MemoryStore) IncrFailures(_ context.Context, dest string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.get(dest)
	s.Failures++
	return s.Failures, nil
}

func (m *MemoryStore) IncrSuccesses(_ context.Context, dest string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.get(dest)
	s.Successes++
	return s.Successes, nil
}

func (m *MemoryStore) ResetFailures(_ context.Context, dest string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.get(dest).Failures = 0
	return nil
}

func (m *MemoryStore) Open(_ context.Context, dest string, until time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.get(dest)
	s.State = Open
	s.OpenUntil = until
	s.Successes = 0
	return nil
}

func (m *MemoryStore) HalfOpen(_ context.Context, dest string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.get(dest)
	if s.State == Open {
		s.State = HalfOpen
	}
	return nil
}

func (m *MemoryStore) Close(_ context.Context, dest string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[dest] = &Snapshot{State: Closed}
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, dest string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, dest)
	return nil
}
