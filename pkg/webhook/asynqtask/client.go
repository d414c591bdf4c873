package asynqtask

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/dmitrymomot/hookrelay/pkg/webhook"
)

// Client enqueues delivery tasks.
type Client struct {
	client   *asynq.Client
	queue    string
	maxRetry int
	timeout  time.Duration
}

var _ webhook.TaskQueue = (*Client)(nil)

// ClientOption configures a Client.
type ClientOption func(*Client)

func WithQueue(name string) ClientOption {
	return func(c *Client) {
		if name != "" {
			c.queue = name
		}
	}
}

// WithMaxRetry bounds asynq-level retries. Those only cover errors returned by
// Dispatcher.Process; failed deliveries are rescheduled as new tasks.
func WithMaxRetry(n int) ClientOption {
	return func(c *Client) {
		if n >= 0 {
			c.maxRetry = n
		}
	}
}

func WithTaskTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// NewClient connects to Redis described by opt.
func NewClient(opt asynq.RedisConnOpt, opts ...ClientOption) *Client {
	c := &Client{
		client:   asynq.NewClient(opt),
		queue:    "webhooks",
		maxRetry: 3,
		timeout:  2 * time.Minute,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// ClientFromConfig applies cfg to a new Client.
func ClientFromConfig(opt asynq.RedisConnOpt, cfg Config) *Client {
	return NewClient(opt, WithQueue(cfg.Queue), WithMaxRetry(cfg.MaxRetry), WithTaskTimeout(cfg.TaskTimeout))
}

func (c *Client) EnqueueDelivery(ctx context.Context, task webhook.DeliveryTask, delay time.Duration) error {
	t, err := NewDeliveryTask(task,
		asynq.Queue(c.queue),
		asynq.MaxRetry(c.maxRetry),
		asynq.Timeout(c.timeout),
		asynq.ProcessIn(max(delay, 0)),
	)
	if err != nil {
		return err
	}
	if _, err := c.client.EnqueueContext(ctx, t); err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
			return fmt.Errorf("%w: %s", webhook.ErrDuplicateTask, task.Key())
		}
		return fmt.Errorf("enqueue delivery task: %w", err)
	}
	return nil
}

func (c *Client) Close() error {
	return c.client.Close()
}
