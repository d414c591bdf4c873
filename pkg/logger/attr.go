package logger

import (
	"log/slog"
	"time"
)

// Error records err under "error". A nil error yields an empty Attr, which slog drops.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.Any("error", err)
}

// Component names the subsystem emitting the record.
func Component(name string) slog.Attr {
	return slog.String("component", name)
}

func DeliveryID(id string) slog.Attr {
	return slog.String("delivery_id", id)
}

// Destination records the target URL of an outbound delivery.
func Destination(url string) slog.Attr {
	return slog.String("destination", url)
}

// Event records the webhook event name.
func Event(name string) slog.Attr {
	return slog.String("event", name)
}

func Attempt(n int) slog.Attr {
	return slog.Int("attempt", n)
}

// Source records the inbound provider a webhook came from.
func Source(name string) slog.Attr {
	return slog.String("source", name)
}

func Duration(d time.Duration) slog.Attr {
	return slog.Duration("duration", d)
}
