// Package queue is a small storage-agnostic task queue with delayed, unique and
// periodic tasks.
//
// An Enqueuer stores one-time tasks, a Scheduler materializes periodic tasks from a
// Schedule (fixed interval, daily or cron expression) and a Worker claims due tasks
// and runs the Handler registered under the task name. The three talk to storage
// through the EnqueuerRepository, SchedulerRepository and WorkerRepository
// interfaces; MemoryStorage implements all of them.
//
// Tasks enqueued WithUniqueKey are rejected with ErrDuplicateTask while another
// pending or processing task holds the same key:
//
//	err := enq.Enqueue(ctx, payload,
//		queue.WithUniqueKey("delivery:42:1"),
//		queue.WithDelay(30*time.Second),
//	)
//	if errors.Is(err, queue.ErrDuplicateTask) {
//		// already queued
//	}
//
// Periodic work:
//
//	sched, _ := queue.NewScheduler(storage)
//	every, _ := queue.Cron("*/5 * * * *")
//	_ = sched.AddTask("webhook.sweep", every)
//	worker.RegisterHandlers(queue.NewPeriodicTaskHandler("webhook.sweep", sweep))
package queue
