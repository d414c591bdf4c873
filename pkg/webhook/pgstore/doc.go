// Package pgstore persists deliveries, endpoints and subscriptions in PostgreSQL
// through pgx. The schema lives in the top-level migrations package.
//
//	store := pgstore.New(pool, pgstore.WithCipher(cipher))
//	dp := webhook.NewDispatcher(store, breaker,
//		webhook.WithEndpointStore(store),
//		webhook.WithSubscriptionStore(store),
//	)
//
// Status changes are compare-and-swap updates guarded by the current status, so
// several workers may share one database without running the same attempt twice.
// Endpoint secrets are sealed with the configured secrets.Cipher, scoped to the
// endpoint id; rows written before a key was configured are read back as plaintext.
package pgstore
