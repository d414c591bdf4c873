// Package httpserver runs the service's HTTP surface.
//
// Server binds a listener, serves until its context is cancelled and then
// drains in-flight requests within the shutdown timeout. NewRouter returns a chi
// router with the standard middleware stack, and LivenessHandler and
// ReadinessHandler back the /healthz and /readyz endpoints.
//
//	r := httpserver.NewRouter(log, cfg.RequestTimeout)
//	r.Get("/healthz", httpserver.LivenessHandler())
//	r.Get("/readyz", httpserver.ReadinessHandler(log, 2*time.Second, map[string]httpserver.Check{
//		"postgres": pg.Healthcheck(pool),
//	}))
//	r.Mount("/webhooks", receiver.Routes())
//
//	srv := httpserver.NewFromConfig(cfg, httpserver.WithLogger(log))
//	return srv.Run(ctx, r)
package httpserver
