package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/dmitrymomot/hookrelay/pkg/logger"
)

// Broadcast fans event out to every matching subscription. Each subscription gets its
// own delivery; one failing subscription never stops the others. The returned slice
// holds every delivery that was created, including sync sends that failed.
// Only errors that prevent the fan-out itself are returned.
func (dp *Dispatcher) Broadcast(ctx context.Context, event string, payload any, opts ...SendOption) ([]*Delivery, error) {
	if dp.subscriptions == nil || dp.endpoints == nil {
		return nil, fmt.Errorf("%w: subscription and endpoint stores are required for broadcast", ErrConfiguration)
	}
	if event == "" {
		return nil, fmt.Errorf("%w: event is required", ErrInvalidPayload)
	}

	body, err := marshalPayload(payload)
	if err != nil {
		return nil, err
	}
	doc, err := payloadMap(body)
	if err != nil {
		return nil, err
	}

	now := dp.now()
	subs, err := dp.subscriptions.ListSubscriptionsForEvent(ctx, event, now)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions for %q: %w", event, err)
	}
	if len(subs) == 0 {
		dp.logger.DebugContext(ctx, "no subscriptions for event", logger.Event(event))
		return nil, nil
	}

	mode := dp.collect(opts).mode
	if mode == "" {
		mode = cmpOrString(dp.cfg.BroadcastMode, ModeQueue)
	}
	if mode == ModeQueue && dp.queue == nil {
		mode = ModeSync
	}

	var (
		mu         sync.Mutex
		deliveries = make([]*Delivery, 0, len(subs))
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(dp.cfg.BroadcastConcurrency, 1))

	for _, sub := range subs {
		if !sub.Matches(event, doc, now) {
			continue
		}
		g.Go(func() error {
			d, err := dp.deliverSubscription(gctx, sub, event, body, mode, opts)
			if d != nil {
				mu.Lock()
				deliveries = append(deliveries, d)
				mu.Unlock()
			}
			if err != nil {
				dp.logger.WarnContext(gctx, "broadcast to subscription failed",
					slog.String("subscription_id", sub.ID.String()),
					logger.Event(event),
					logger.Error(err),
				)
			}
			// Errors stay per subscription.
			return nil
		})
	}
	_ = g.Wait()

	return deliveries, nil
}

func (dp *Dispatcher) deliverSubscription(ctx context.Context, sub *Subscription, event string, body []byte, mode string, opts []SendOption) (*Delivery, error) {
	ep, err := dp.endpoints.GetEndpoint(ctx, sub.EndpointID)
	if err != nil {
		return nil, fmt.Errorf("get endpoint %s: %w", sub.EndpointID, err)
	}
	if !ep.IsActive() || !ep.Accepts(event) {
		return nil, nil
	}

	ok, err := dp.subscriptions.IncrementDeliveryCount(ctx, sub.ID)
	if err != nil {
		return nil, fmt.Errorf("increment delivery count: %w", err)
	}
	if !ok {
		// Cap reached by a concurrent broadcast.
		return nil, nil
	}

	callOpts := append(endpointOptions(ep), opts...)
	callOpts = append(callOpts, WithMetadata("subscription_id", sub.ID.String()))
	if mode == ModeSync {
		return dp.Send(ctx, ep.URL, event, json.RawMessage(body), callOpts...)
	}
	return dp.Queue(ctx, ep.URL, event, json.RawMessage(body), callOpts...)
}
