// Package webhook delivers events to HTTP endpoints with retries, request signing and
// per-destination circuit breaking.
//
// A Dispatcher owns the delivery state machine. Every attempt is claimed with a
// status compare-and-swap in the DeliveryStore, so only one worker ever runs a given
// attempt, and the delivery record is the source of truth for what happened.
//
//	store := webhook.NewMemoryStore()
//	dp := webhook.NewDispatcher(store, circuit.New(circuit.NewMemoryStore()),
//		webhook.WithEndpointStore(store),
//		webhook.WithSubscriptionStore(store),
//		webhook.WithTaskQueue(webhook.NewQueueAdapter(enqueuer, "")),
//	)
//
//	// Inline: the outcome is returned.
//	d, err := dp.Send(ctx, "https://example.com/hooks", "order.created", order,
//		webhook.WithSecret(secret))
//
//	// Async: failures become scheduled retries.
//	d, err = dp.Queue(ctx, "https://example.com/hooks", "order.created", order)
//
//	// Fan out to every matching subscription.
//	ds, err := dp.Broadcast(ctx, "order.created", order)
//
// Inline sends return *circuit.OpenError when the destination's breaker is open and
// *DeliveryError for transport failures or rejected responses. Queued attempts that
// fail are rescheduled with the delivery's backoff policy until MaxAttempts is
// reached; an open circuit postpones a queued attempt without consuming it.
//
// The Sweeper re-enqueues retries and pending deliveries whose queue task was lost,
// reclaims attempts left in progress by a dead worker and can re-attempt recently
// failed deliveries. The Cleaner enforces retention and can archive
// deliveries before deleting them.
//
// Dispatcher events (dispatching, dispatched, dispatch-failed, retry-scheduled,
// cancelled) are published on an optional eventbus.Bus for metrics and audit
// consumers. Publishing never blocks delivery.
package webhook
