package eventbus

import (
	"context"
	"sync"
)

// Bus fans published values out to subscribers. Publishing never blocks: a
// subscriber whose buffer is full misses the value and is counted as dropped.
// All methods are safe for concurrent use.
type Bus[T any] struct {
	mu         sync.RWMutex
	subs       map[*Subscription[T]]struct{}
	bufferSize int
	closed     bool
	done       chan struct{}
	wg         sync.WaitGroup
}

// Subscription receives values from a Bus.
type Subscription[T any] struct {
	ch      chan T
	mu      sync.Mutex
	closed  bool
	dropped int
}

// C returns the receive channel. It is closed when the subscription ends.
func (s *Subscription[T]) C() <-chan T { return s.ch }

// Dropped returns how many values were skipped because the buffer was full.
func (s *Subscription[T]) Dropped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

func (s *Subscription[T]) send(v T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- v:
	default:
		s.dropped++
	}
}

func (s *Subscription[T]) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// New creates a bus. Each subscriber gets a channel buffered to bufferSize (minimum 1).
func New[T any](bufferSize int) *Bus[T] {
	return &Bus[T]{
		subs:       make(map[*Subscription[T]]struct{}),
		bufferSize: max(bufferSize, 1),
		done:       make(chan struct{}),
	}
}

// Subscribe registers a subscriber that lives until ctx is done or the bus closes.
func (b *Bus[T]) Subscribe(ctx context.Context) *Subscription[T] {
	sub := &Subscription[T]{ch: make(chan T, b.bufferSize)}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		sub.close()
		return sub
	}
	b.subs[sub] = struct{}{}

	if ctx.Done() != nil {
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			select {
			case <-ctx.Done():
				b.unsubscribe(sub)
			case <-b.done:
			}
		}()
	}
	return sub
}

// Publish delivers v to every current subscriber without blocking.
func (b *Bus[T]) Publish(v T) {
	if b == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for sub := range b.subs {
		sub.send(v)
	}
}

// Close ends all subscriptions. Calling it more than once is a no-op.
func (b *Bus[T]) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	close(b.done)
	for sub := range b.subs {
		sub.close()
	}
	clear(b.subs)
	b.mu.Unlock()

	b.wg.Wait()
}

func (b *Bus[T]) unsubscribe(sub *Subscription[T]) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, sub)
	sub.close()
}

// Listen subscribes and calls fn for every value until ctx is done or the bus closes.
// It blocks; run it in its own goroutine.
func Listen[T any](ctx context.Context, b *Bus[T], fn func(context.Context, T)) {
	sub := b.Subscribe(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case v, ok := <-sub.C():
			if !ok {
				return
			}
			fn(ctx, v)
		}
	}
}
