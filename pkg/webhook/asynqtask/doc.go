// Package asynqtask runs webhook delivery tasks on Redis through hibiken/asynq.
//
// Client implements webhook.TaskQueue. Every task is enqueued with the delivery
// task key as its asynq task id, so a second enqueue of the same attempt is
// rejected by Redis and surfaces as webhook.ErrDuplicateTask. Server pulls tasks
// and hands them to Dispatcher.Process.
//
//	opt, _ := asynq.ParseRedisURI(os.Getenv("REDIS_URL"))
//	client := asynqtask.NewClient(opt, asynqtask.WithQueue(cfg.Queue))
//	dp := webhook.NewDispatcher(store, breaker, webhook.WithTaskQueue(client))
//
//	srv := asynqtask.NewServer(opt, dp, cfg, log)
//	return srv.Run(ctx)
package asynqtask
