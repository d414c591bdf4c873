package inbound

import (
	"context"
	"maps"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store persists inbound events.
type Store interface {
	CreateEvent(ctx context.Context, e *Event) error
	// GetEvent returns ErrEventNotFound when id is unknown.
	GetEvent(ctx context.Context, id uuid.UUID) (*Event, error)
	// MarkProcessed records the processing outcome. Later calls for the same event are no-ops.
	MarkProcessed(ctx context.Context, id uuid.UUID, status ProcessingStatus, processingErr string, at time.Time) error
	// ListUnprocessed returns valid events still pending, oldest first.
	ListUnprocessed(ctx context.Context, limit int) ([]*Event, error)
}

// MemoryStore keeps events in process.
type MemoryStore struct {
	mu     sync.RWMutex
	events map[uuid.UUID]*Event
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{events: make(map[uuid.UUID]*Event)}
}

func cloneEvent(e *Event) *Event {
	c := *e
	c.Payload = slices.Clone(e.Payload)
	c.Headers = http.Header(maps.Clone(map[string][]string(e.Headers)))
	return &c
}

func (m *MemoryStore) CreateEvent(_ context.Context, e *Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	m.events[e.ID] = cloneEvent(e)
	return nil
}

func (m *MemoryStore) GetEvent(_ context.Context, id uuid.UUID) (*Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.events[id]
	if !ok {
		return nil, ErrEventNotFound
	}
	return cloneEvent(e), nil
}

func (m *MemoryStore) MarkProcessed(_ context.Context, id uuid.UUID, status ProcessingStatus, processingErr string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.events[id]
	if !ok {
		return ErrEventNotFound
	}
	if e.Processed {
		return nil
	}
	e.Processed = true
	e.ProcessingStatus = status
	e.ProcessingError = processingErr
	e.ProcessedAt = &at
	return nil
}

func (m *MemoryStore) ListUnprocessed(_ context.Context, limit int) ([]*Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Event
	for _, e := range m.events {
		if !e.Processed && e.ProcessingStatus == StatusPending {
			out = append(out, cloneEvent(e))
		}
	}
	slices.SortFunc(out, func(a, b *Event) int { return a.ReceivedAt.Compare(b.ReceivedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
