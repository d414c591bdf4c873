package inbound_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/hookrelay/pkg/eventbus"
	"github.com/dmitrymomot/hookrelay/pkg/inbound"
	"github.com/dmitrymomot/hookrelay/pkg/signature"
)

const secret = "whsec_inbound"

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func signed(t *testing.T, body string) inbound.Request {
	t.Helper()
	sig, err := signature.Sign([]byte(body), secret, signature.SHA256)
	require.NoError(t, err)
	h := http.Header{}
	h.Set(signature.DefaultHeader, sig)
	h.Set("Content-Type", "application/json")
	return inbound.Request{Body: []byte(body), Header: h}
}

func newReceiver(t *testing.T, store inbound.Store, sources []inbound.Source, opts ...inbound.Option) *inbound.Receiver {
	t.Helper()
	opts = append([]inbound.Option{inbound.WithLogger(discard())}, opts...)
	rc, err := inbound.NewReceiver(store, sources, opts...)
	require.NoError(t, err)
	return rc
}

func defaultSource(mutate ...func(*inbound.Source)) []inbound.Source {
	s := inbound.Source{Name: "billing", Validator: "default", Secret: secret}
	for _, m := range mutate {
		m(&s)
	}
	return []inbound.Source{s}
}

func TestReceiver_HandleRequest_Valid(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := inbound.NewMemoryStore()
	rc := newReceiver(t, store, defaultSource())

	var got *inbound.Event
	rc.On("billing", "invoice.paid", func(_ context.Context, e *inbound.Event) error {
		got = e
		return nil
	})

	res, err := rc.HandleRequest(ctx, "billing", signed(t, `{"type":"invoice.paid","id":"in_1"}`))
	require.NoError(t, err)
	assert.True(t, res.Valid)
	assert.Equal(t, inbound.StatusSuccess, res.Status)
	assert.Equal(t, "invoice.paid", res.Event)
	require.NotNil(t, got)
	assert.JSONEq(t, `{"type":"invoice.paid","id":"in_1"}`, string(got.Payload))

	stored, err := store.GetEvent(ctx, res.EventID)
	require.NoError(t, err)
	assert.True(t, stored.Valid)
	assert.True(t, stored.Processed)
	assert.Equal(t, inbound.StatusSuccess, stored.ProcessingStatus)
	assert.NotEmpty(t, stored.Signature)
	assert.NotNil(t, stored.ProcessedAt)
}

func TestReceiver_HandleRequest_InvalidSignature(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("rejected and recorded", func(t *testing.T) {
		t.Parallel()
		store := inbound.NewMemoryStore()
		rc := newReceiver(t, store, defaultSource())
		rc.OnAny("billing", func(context.Context, *inbound.Event) error {
			t.Fatal("handler must not run")
			return nil
		})

		req := signed(t, `{"type":"invoice.paid"}`)
		req.Body = []byte(`{"type":"invoice.paid","amount":1}`)
		_, err := rc.HandleRequest(ctx, "billing", req)

		var sigErr *inbound.InvalidSignatureError
		require.ErrorAs(t, err, &sigErr)
		assert.Equal(t, "billing", sigErr.Source)
		assert.True(t, inbound.IsInvalidSignature(err))
		assert.NotContains(t, err.Error(), sigErr.Signature)

		events, err := store.ListUnprocessed(ctx, 0)
		require.NoError(t, err)
		assert.Empty(t, events, "rejected events are stored as skipped")
	})

	t.Run("accepted when policy is off", func(t *testing.T) {
		t.Parallel()
		store := inbound.NewMemoryStore()
		off := false
		rc := newReceiver(t, store, defaultSource(func(s *inbound.Source) { s.RequireValid = &off }))
		var calls atomic.Int32
		rc.OnAny("billing", func(context.Context, *inbound.Event) error {
			calls.Add(1)
			return nil
		})

		res, err := rc.HandleRequest(ctx, "billing", inbound.Request{Body: []byte(`{"type":"x"}`), Header: http.Header{}})
		require.NoError(t, err)
		assert.False(t, res.Valid)
		assert.EqualValues(t, 1, calls.Load())

		stored, err := store.GetEvent(ctx, res.EventID)
		require.NoError(t, err)
		assert.False(t, stored.Valid)
		assert.Equal(t, "signature verification failed", stored.ValidationMessage)
	})
}

func TestReceiver_UnknownSource(t *testing.T) {
	t.Parallel()
	rc := newReceiver(t, inbound.NewMemoryStore(), defaultSource())
	_, err := rc.HandleRequest(context.Background(), "nope", signed(t, `{}`))
	require.ErrorIs(t, err, inbound.ErrUnknownSource)
}

func TestReceiver_Outcomes(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := inbound.NewMemoryStore()
	rc := newReceiver(t, store, defaultSource())

	rc.On("billing", "failing", func(context.Context, *inbound.Event) error { return errors.New("downstream unavailable") })
	rc.On("billing", "panicking", func(context.Context, *inbound.Event) error { panic("boom") })

	res, err := rc.HandleRequest(ctx, "billing", signed(t, `{"type":"unhandled"}`))
	require.NoError(t, err)
	assert.Equal(t, inbound.StatusSkipped, res.Status)

	res, err = rc.HandleRequest(ctx, "billing", signed(t, `{"type":"failing"}`))
	require.NoError(t, err)
	assert.Equal(t, inbound.StatusError, res.Status)
	stored, err := store.GetEvent(ctx, res.EventID)
	require.NoError(t, err)
	assert.Equal(t, "downstream unavailable", stored.ProcessingError)

	res, err = rc.HandleRequest(ctx, "billing", signed(t, `{"type":"panicking"}`))
	require.NoError(t, err)
	assert.Equal(t, inbound.StatusError, res.Status)
}

func TestReceiver_Hooks(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	rc := newReceiver(t, inbound.NewMemoryStore(), defaultSource())

	var order []string
	rc.Before(inbound.AllSources, func(context.Context, *inbound.Event) error {
		order = append(order, "global-before")
		return nil
	})
	rc.Before("billing", func(_ context.Context, e *inbound.Event) error {
		order = append(order, "before")
		if e.Event == "blocked" {
			return errors.New("blocked by policy")
		}
		return nil
	})
	rc.After("billing", func(context.Context, *inbound.Event) error {
		order = append(order, "after")
		return errors.New("ignored")
	})
	rc.OnAny("billing", func(context.Context, *inbound.Event) error {
		order = append(order, "handler")
		return nil
	})

	res, err := rc.HandleRequest(ctx, "billing", signed(t, `{"type":"allowed"}`))
	require.NoError(t, err)
	assert.Equal(t, inbound.StatusSuccess, res.Status)
	assert.Equal(t, []string{"global-before", "before", "handler", "after"}, order)

	order = nil
	res, err = rc.HandleRequest(ctx, "billing", signed(t, `{"type":"blocked"}`))
	require.NoError(t, err)
	assert.Equal(t, inbound.StatusError, res.Status)
	assert.Equal(t, []string{"global-before", "before"}, order)
}

func TestReceiver_EventName(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	tests := []struct {
		name   string
		source func(*inbound.Source)
		header http.Header
		body   string
		want   string
	}{
		{name: "type field", body: `{"type":"a.b"}`, want: "a.b"},
		{name: "event field", body: `{"event":"c.d"}`, want: "c.d"},
		{
			name:   "header",
			source: func(s *inbound.Source) { s.EventHeader = "X-GitHub-Event" },
			header: http.Header{"X-Github-Event": {"push"}},
			body:   `{"type":"ignored"}`,
			want:   "push",
		},
		{
			name:   "header missing falls back to body",
			source: func(s *inbound.Source) { s.EventHeader = "X-GitHub-Event" },
			body:   `{"type":"from.body"}`,
			want:   "from.body",
		},
		{
			name:   "custom field",
			source: func(s *inbound.Source) { s.EventField = "kind" },
			body:   `{"kind":"k","type":"t"}`,
			want:   "k",
		},
		{name: "not json", body: `hello`, want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var mutate []func(*inbound.Source)
			if tt.source != nil {
				mutate = append(mutate, tt.source)
			}
			rc := newReceiver(t, inbound.NewMemoryStore(), defaultSource(mutate...))
			req := signed(t, tt.body)
			for k, v := range tt.header {
				req.Header[k] = v
			}
			res, err := rc.HandleRequest(ctx, "billing", req)
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Event)
		})
	}
}

func TestReceiver_Dedupe(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := inbound.NewMemoryStore()
	rc := newReceiver(t, store, defaultSource(func(s *inbound.Source) { s.IDHeader = "X-Delivery-Id" }),
		inbound.WithDeduper(inbound.NewMemoryDeduper(), time.Hour),
	)
	var calls atomic.Int32
	rc.OnAny("billing", func(context.Context, *inbound.Event) error {
		calls.Add(1)
		return nil
	})

	req := signed(t, `{"type":"x"}`)
	req.Header.Set("X-Delivery-Id", "evt_1")

	first, err := rc.HandleRequest(ctx, "billing", req)
	require.NoError(t, err)
	assert.False(t, first.Duplicate)

	second, err := rc.HandleRequest(ctx, "billing", req)
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.Equal(t, uuid.Nil, second.EventID)
	assert.EqualValues(t, 1, calls.Load())
}

func TestReceiver_DedupeIgnoresForgedIDs(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := inbound.NewMemoryStore()
	rc := newReceiver(t, store, defaultSource(func(s *inbound.Source) { s.IDHeader = "X-Delivery-Id" }),
		inbound.WithDeduper(inbound.NewMemoryDeduper(), time.Hour),
	)
	var calls atomic.Int32
	rc.OnAny("billing", func(context.Context, *inbound.Event) error {
		calls.Add(1)
		return nil
	})

	forged := inbound.Request{Body: []byte(`{"type":"invoice.paid"}`), Header: http.Header{}}
	forged.Header.Set("X-Delivery-Id", "evt_1")
	forged.Header.Set(signature.DefaultHeader, "sha256=deadbeef")
	_, err := rc.HandleRequest(ctx, "billing", forged)
	require.True(t, inbound.IsInvalidSignature(err))

	genuine := signed(t, `{"type":"invoice.paid"}`)
	genuine.Header.Set("X-Delivery-Id", "evt_1")
	res, err := rc.HandleRequest(ctx, "billing", genuine)
	require.NoError(t, err)
	assert.False(t, res.Duplicate)
	assert.NotEqual(t, uuid.Nil, res.EventID)
	assert.Equal(t, inbound.StatusSuccess, res.Status)
	assert.EqualValues(t, 1, calls.Load())
}

// flakyStore fails the first CreateEvent.
type flakyStore struct {
	*inbound.MemoryStore
	failed atomic.Bool
}

func (s *flakyStore) CreateEvent(ctx context.Context, e *inbound.Event) error {
	if s.failed.CompareAndSwap(false, true) {
		return errors.New("connection reset")
	}
	return s.MemoryStore.CreateEvent(ctx, e)
}

func TestReceiver_DedupeReleasedOnStoreFailure(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := &flakyStore{MemoryStore: inbound.NewMemoryStore()}
	rc := newReceiver(t, store, defaultSource(func(s *inbound.Source) { s.IDHeader = "X-Delivery-Id" }),
		inbound.WithDeduper(inbound.NewMemoryDeduper(), time.Hour),
	)

	req := signed(t, `{"type":"invoice.paid"}`)
	req.Header.Set("X-Delivery-Id", "evt_2")

	_, err := rc.HandleRequest(ctx, "billing", req)
	require.Error(t, err)

	res, err := rc.HandleRequest(ctx, "billing", req)
	require.NoError(t, err)
	assert.False(t, res.Duplicate, "the redelivery is accepted")

	stored, err := store.GetEvent(ctx, res.EventID)
	require.NoError(t, err)
	assert.True(t, stored.Valid)

	again, err := rc.HandleRequest(ctx, "billing", req)
	require.NoError(t, err)
	assert.True(t, again.Duplicate)
}

type fakeQueue struct {
	ids []uuid.UUID
}

func (q *fakeQueue) EnqueueEvent(_ context.Context, id uuid.UUID) error {
	q.ids = append(q.ids, id)
	return nil
}

func TestReceiver_Async(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := inbound.NewMemoryStore()
	q := &fakeQueue{}
	bus := eventbus.New[inbound.Notification](8)
	sub := bus.Subscribe(ctx)

	rc := newReceiver(t, store, defaultSource(func(s *inbound.Source) { s.Async = true }),
		inbound.WithTaskQueue(q),
		inbound.WithEventBus(bus),
	)
	var calls atomic.Int32
	rc.OnAny("billing", func(context.Context, *inbound.Event) error {
		calls.Add(1)
		return nil
	})

	res, err := rc.HandleRequest(ctx, "billing", signed(t, `{"type":"x"}`))
	require.NoError(t, err)
	assert.True(t, res.Queued)
	assert.Equal(t, inbound.StatusPending, res.Status)
	assert.EqualValues(t, 0, calls.Load())
	require.Equal(t, []uuid.UUID{res.EventID}, q.ids)

	n := <-sub.C()
	assert.Equal(t, inbound.OutcomeQueued, n.Outcome)

	pending, err := store.ListUnprocessed(ctx, 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	status, err := rc.Process(ctx, res.EventID)
	require.NoError(t, err)
	assert.Equal(t, inbound.StatusSuccess, status)

	status, err = rc.Process(ctx, res.EventID)
	require.NoError(t, err)
	assert.Equal(t, inbound.StatusSuccess, status)
	assert.EqualValues(t, 1, calls.Load(), "processed events are not run again")

	n = <-sub.C()
	assert.Equal(t, inbound.OutcomeProcessed, n.Outcome)
}

func TestReceiver_ProcessPending(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := inbound.NewMemoryStore()
	rc := newReceiver(t, store, defaultSource(func(s *inbound.Source) { s.Async = true }),
		inbound.WithTaskQueue(&fakeQueue{}),
	)
	rc.OnAny("billing", func(context.Context, *inbound.Event) error { return nil })

	for range 3 {
		_, err := rc.HandleRequest(ctx, "billing", signed(t, `{"type":"x"}`))
		require.NoError(t, err)
	}
	n, err := rc.ProcessPending(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	pending, err := store.ListUnprocessed(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestNewReceiver_InvalidSources(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		sources []inbound.Source
	}{
		{name: "missing name", sources: []inbound.Source{{Validator: "default", Secret: "s"}}},
		{name: "unknown validator", sources: []inbound.Source{{Name: "a", Validator: "carrier-pigeon", Secret: "s"}}},
		{name: "missing secret", sources: []inbound.Source{{Name: "a", Validator: "github"}}},
		{name: "duplicate", sources: []inbound.Source{
			{Name: "a", Validator: inbound.NoValidation},
			{Name: "a", Validator: inbound.NoValidation},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := inbound.NewReceiver(inbound.NewMemoryStore(), tt.sources)
			require.ErrorIs(t, err, inbound.ErrInvalidSource)
		})
	}
}
