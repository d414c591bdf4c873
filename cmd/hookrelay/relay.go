package main

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/dmitrymomot/hookrelay/pkg/inbound"
	"github.com/dmitrymomot/hookrelay/pkg/logger"
	"github.com/dmitrymomot/hookrelay/pkg/webhook"
)

type broadcaster interface {
	Broadcast(ctx context.Context, event string, payload any, opts ...webhook.SendOption) ([]*webhook.Delivery, error)
}

// relayEvent names the outbound event for an inbound one: "<source>.<event>",
// or just the source when no event name was extracted.
func relayEvent(e *inbound.Event) string {
	if e.Event == "" {
		return e.Source
	}
	return e.Source + "." + e.Event
}

// relayHandler fans every verified inbound event out to matching subscriptions.
// Events that failed signature verification are never relayed.
func relayHandler(b broadcaster, log *slog.Logger) inbound.Handler {
	return func(ctx context.Context, e *inbound.Event) error {
		if !e.Valid {
			return nil
		}
		event := relayEvent(e)
		deliveries, err := b.Broadcast(ctx, event, json.RawMessage(e.Payload),
			webhook.WithMetadata("inbound_event_id", e.ID.String()),
		)
		if err != nil {
			return err
		}
		log.DebugContext(ctx, "relayed inbound event",
			logger.Source(e.Source),
			logger.Event(event),
			slog.Int("deliveries", len(deliveries)),
		)
		return nil
	}
}
