// Package redis connects to Redis with go-redis and provides the small
// coordination helpers the service needs.
//
// Connect retries until the server answers a PING. Healthcheck returns a
// readiness check. Lock is a token-guarded SET NX lease used to run periodic
// jobs on a single replica; MarkOnce records a key for a TTL and reports
// whether it was new, which inbound receivers use to drop replays.
//
//	client, err := redis.Connect(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	lock := redis.NewLock(client, "hookrelay:lock:sweep", time.Minute)
//	err = lock.Do(ctx, func(ctx context.Context) error {
//		_, err := sweeper.Run(ctx)
//		return err
//	})
//	if errors.Is(err, redis.ErrLockHeld) {
//		// another replica is sweeping
//	}
package redis
