package eventbus_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/hookrelay/pkg/eventbus"
)

func TestBus_PublishToAllSubscribers(t *testing.T) {
	t.Parallel()

	bus := eventbus.New[string](4)
	defer bus.Close()

	ctx := context.Background()
	a := bus.Subscribe(ctx)
	b := bus.Subscribe(ctx)

	bus.Publish("dispatched")

	assert.Equal(t, "dispatched", <-a.C())
	assert.Equal(t, "dispatched", <-b.C())
}

func TestBus_SlowSubscriberDrops(t *testing.T) {
	t.Parallel()

	bus := eventbus.New[int](1)
	defer bus.Close()

	sub := bus.Subscribe(context.Background())
	bus.Publish(1)
	bus.Publish(2)
	bus.Publish(3)

	assert.Equal(t, 1, <-sub.C())
	assert.Equal(t, 2, sub.Dropped())
}

func TestBus_ContextCancelUnsubscribes(t *testing.T) {
	t.Parallel()

	bus := eventbus.New[int](1)
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	sub := bus.Subscribe(ctx)
	cancel()

	require.Eventually(t, func() bool {
		select {
		case _, ok := <-sub.C():
			return !ok
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)

	bus.Publish(1)
}

func TestBus_Close(t *testing.T) {
	t.Parallel()

	bus := eventbus.New[int](1)
	sub := bus.Subscribe(context.Background())

	bus.Close()
	bus.Close()

	_, ok := <-sub.C()
	assert.False(t, ok)

	late := bus.Subscribe(context.Background())
	_, ok = <-late.C()
	assert.False(t, ok)

	bus.Publish(1)

	var nilBus *eventbus.Bus[int]
	nilBus.Publish(1)
}

func TestListen(t *testing.T) {
	t.Parallel()

	bus := eventbus.New[string](8)
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var got []string
	ready := make(chan struct{})

	go func() {
		close(ready)
		eventbus.Listen(ctx, bus, func(_ context.Context, v string) {
			mu.Lock()
			defer mu.Unlock()
			got = append(got, v)
		})
	}()
	<-ready

	require.Eventually(t, func() bool {
		bus.Publish("ping")
		mu.Lock()
		defer mu.Unlock()
		return len(got) > 0
	}, time.Second, 10*time.Millisecond)
}
