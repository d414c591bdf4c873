// Package metrics exposes Prometheus collectors for deliveries, the circuit
// breaker, retry sweeps and inbound webhooks.
//
// Collectors are fed from the dispatcher and receiver event buses, so the
// delivery path never calls into Prometheus directly:
//
//	m := metrics.New()
//	go m.Run(ctx, deliveryBus, inboundBus)
//	breaker := circuit.New(store, circuit.WithStateChange(m.CircuitStateChanged))
//	router.Handle("/metrics", m.Handler())
package metrics
