// Package circuit implements a per-destination circuit breaker.
//
// Each destination, usually a webhook URL, moves through three states:
//
//	closed    -> calls pass; failures are counted
//	open      -> calls are rejected with *OpenError until OpenUntil
//	half_open -> calls pass; the first failure reopens, the first success closes
//
// The open to half_open transition is computed when state is read, so no
// background timer is needed. State lives in a Store. MemoryStore serves a single
// process; RedisStore shares counters between workers using HINCRBY.
//
// Usage:
//
//	b := circuit.New(circuit.NewRedisStore(client), circuit.WithThreshold(5))
//	res, err := circuit.Execute(ctx, b, url, send, nil)
//	if circuit.IsOpen(err) {
//		// reschedule
//	}
package circuit
