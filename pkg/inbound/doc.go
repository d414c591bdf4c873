// Package inbound receives webhooks from external providers.
//
// Each configured Source names a signature validator from pkg/signature, a
// secret and a policy. A request is verified, stored as an Event, then handed
// to the handler registered for its (source, event) pair, either inline or
// through the task queue.
//
//	rc, err := inbound.NewReceiver(store, sources,
//		inbound.WithTaskQueue(inbound.NewQueueAdapter(enqueuer, "inbound")),
//		inbound.WithDeduper(inbound.NewRedisDeduper(rdb, ""), 24*time.Hour),
//	)
//	rc.On("stripe", "invoice.paid", handleInvoicePaid)
//	rc.On("stripe", "customer.*", handleCustomer)
//	rc.OnAny("github", handleGitHub)
//	router.Mount("/webhooks", rc.Routes(inbound.DefaultMaxBodySize))
//
// Handler lookup tries the exact event name, then the source's catch-all, then
// prefix patterns, longest prefix first. Sources are declared in Go or loaded
// from YAML:
//
//	sources:
//	  - name: stripe
//	    validator: stripe
//	    secret: ${STRIPE_WEBHOOK_SECRET}
//	    tolerance: 5m
//	    id_header: Stripe-Event-Id
//	  - name: github
//	    validator: github
//	    secret: ${GITHUB_WEBHOOK_SECRET}
//	    event_header: X-GitHub-Event
//	    id_header: X-GitHub-Delivery
//	    async: true
package inbound
