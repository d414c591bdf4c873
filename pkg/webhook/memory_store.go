package webhook

import (
	"cmp"
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore implements every store interface in process. Records are copied in
// and out so callers never share state with the store.
type MemoryStore struct {
	mu            sync.RWMutex
	deliveries    map[uuid.UUID]*Delivery
	endpoints     map[uuid.UUID]*Endpoint
	subscriptions map[uuid.UUID]*Subscription
	now           func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		deliveries:    make(map[uuid.UUID]*Delivery),
		endpoints:     make(map[uuid.UUID]*Endpoint),
		subscriptions: make(map[uuid.UUID]*Subscription),
		now:           time.Now,
	}
}

func (m *MemoryStore) CreateDelivery(_ context.Context, d *Delivery) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	m.deliveries[d.ID] = d.Clone()
	return nil
}

func (m *MemoryStore) GetDelivery(_ context.Context, id uuid.UUID) (*Delivery, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.deliveries[id]
	if !ok {
		return nil, ErrDeliveryNotFound
	}
	return d.Clone(), nil
}

func (m *MemoryStore) UpdateDelivery(_ context.Context, d *Delivery) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.deliveries[d.ID]; !ok {
		return ErrDeliveryNotFound
	}
	m.deliveries[d.ID] = d.Clone()
	return nil
}

func (m *MemoryStore) UpdateDeliveryIf(_ context.Context, d *Delivery, expected Status, attempt int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.deliveries[d.ID]
	if !ok {
		return false, ErrDeliveryNotFound
	}
	if cur.Status != expected || cur.Attempt != attempt {
		return false, nil
	}
	m.deliveries[d.ID] = d.Clone()
	return true, nil
}

func (m *MemoryStore) TransitionStatus(_ context.Context, id uuid.UUID, attempt int, from []Status, to Status) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.deliveries[id]
	if !ok {
		return false, ErrDeliveryNotFound
	}
	if d.Attempt != attempt || !slices.Contains(from, d.Status) {
		return false, nil
	}
	d.Status = to
	d.UpdatedAt = m.now()
	return true, nil
}

func (m *MemoryStore) AnnotateDelivery(_ context.Context, id uuid.UUID, meta map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.deliveries[id]
	if !ok {
		return ErrDeliveryNotFound
	}
	if d.Metadata == nil {
		d.Metadata = map[string]any{}
	}
	maps.Copy(d.Metadata, meta)
	return nil
}

func (m *MemoryStore) list(limit int, keep func(*Delivery) bool, order func(a, b *Delivery) int) []*Delivery {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Delivery
	for _, d := range m.deliveries {
		if keep(d) {
			out = append(out, d.Clone())
		}
	}
	slices.SortFunc(out, order)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func byCreated(a, b *Delivery) int { return a.CreatedAt.Compare(b.CreatedAt) }

func (m *MemoryStore) ListDueForRetry(_ context.Context, now time.Time, limit int) ([]*Delivery, error) {
	return m.list(limit, func(d *Delivery) bool {
		return d.Status == StatusRetrying &&
			d.NextAttemptAt != nil && !d.NextAttemptAt.After(now) &&
			d.Attempt <= d.MaxAttempts
	}, func(a, b *Delivery) int {
		return a.NextAttemptAt.Compare(*b.NextAttemptAt)
	}), nil
}

func (m *MemoryStore) ListStalled(_ context.Context, claimedBefore, pendingBefore time.Time, limit int) ([]*Delivery, error) {
	return m.list(limit, func(d *Delivery) bool {
		switch d.Status {
		case StatusInProgress:
			return d.UpdatedAt.Before(claimedBefore)
		case StatusPending:
			start := d.UpdatedAt
			if d.NextAttemptAt != nil {
				start = *d.NextAttemptAt
			}
			return start.Before(pendingBefore)
		}
		return false
	}, byCreated), nil
}

func (m *MemoryStore) ListFailedSince(_ context.Context, since time.Time, limit int) ([]*Delivery, error) {
	return m.list(limit, func(d *Delivery) bool {
		return d.Status == StatusFailed && d.LastAttemptAt != nil && !d.LastAttemptAt.Before(since)
	}, byCreated), nil
}

func (m *MemoryStore) ListFinishedBefore(_ context.Context, t time.Time, limit int) ([]*Delivery, error) {
	return m.list(limit, func(d *Delivery) bool {
		switch d.Status {
		case StatusSuccess, StatusCancelled, StatusFailed:
			return d.UpdatedAt.Before(t)
		}
		return false
	}, byCreated), nil
}

func (m *MemoryStore) DeleteDeliveries(_ context.Context, ids []uuid.UUID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, id := range ids {
		if _, ok := m.deliveries[id]; ok {
			delete(m.deliveries, id)
			n++
		}
	}
	return n, nil
}

func cloneEndpoint(e *Endpoint) *Endpoint {
	c := *e
	c.Headers = maps.Clone(e.Headers)
	c.Events = slices.Clone(e.Events)
	c.RetryIntervals = slices.Clone(e.RetryIntervals)
	return &c
}

func (m *MemoryStore) CreateEndpoint(_ context.Context, e *Endpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	now := m.now()
	e.CreatedAt, e.UpdatedAt = now, now
	m.endpoints[e.ID] = cloneEndpoint(e)
	return nil
}

func (m *MemoryStore) GetEndpoint(_ context.Context, id uuid.UUID) (*Endpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.endpoints[id]
	if !ok || e.DeletedAt != nil {
		return nil, ErrEndpointNotFound
	}
	return cloneEndpoint(e), nil
}

func (m *MemoryStore) UpdateEndpoint(_ context.Context, e *Endpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.endpoints[e.ID]
	if !ok || cur.DeletedAt != nil {
		return ErrEndpointNotFound
	}
	e.UpdatedAt = m.now()
	m.endpoints[e.ID] = cloneEndpoint(e)
	return nil
}

func (m *MemoryStore) DeleteEndpoint(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.endpoints[id]
	if !ok || e.DeletedAt != nil {
		return ErrEndpointNotFound
	}
	now := m.now()
	e.DeletedAt = &now
	e.Active = false
	return nil
}

func cloneSubscription(s *Subscription) *Subscription {
	c := *s
	c.Filters = maps.Clone(s.Filters)
	return &c
}

func (m *MemoryStore) CreateSubscription(_ context.Context, s *Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	now := m.now()
	s.CreatedAt, s.UpdatedAt = now, now
	m.subscriptions[s.ID] = cloneSubscription(s)
	return nil
}

func (m *MemoryStore) GetSubscription(_ context.Context, id uuid.UUID) (*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.subscriptions[id]
	if !ok {
		return nil, ErrSubscriptionNotFound
	}
	return cloneSubscription(s), nil
}

func (m *MemoryStore) UpdateSubscription(_ context.Context, s *Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subscriptions[s.ID]; !ok {
		return ErrSubscriptionNotFound
	}
	s.UpdatedAt = m.now()
	m.subscriptions[s.ID] = cloneSubscription(s)
	return nil
}

func (m *MemoryStore) ListSubscriptionsForEvent(_ context.Context, event string, now time.Time) ([]*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Subscription
	for _, s := range m.subscriptions {
		if s.Eligible(now) && MatchPattern(s.EventPattern, event) {
			out = append(out, cloneSubscription(s))
		}
	}
	slices.SortFunc(out, func(a, b *Subscription) int {
		return cmp.Or(a.CreatedAt.Compare(b.CreatedAt), cmp.Compare(a.ID.String(), b.ID.String()))
	})
	return out, nil
}

func (m *MemoryStore) IncrementDeliveryCount(_ context.Context, id uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subscriptions[id]
	if !ok {
		return false, ErrSubscriptionNotFound
	}
	if s.MaxDeliveries > 0 && s.DeliveryCount >= s.MaxDeliveries {
		return false, nil
	}
	s.DeliveryCount++
	return true, nil
}
