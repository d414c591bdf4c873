package webhook

import (
	"log/slog"
	"maps"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/hookrelay/pkg/eventbus"
	"github.com/dmitrymomot/hookrelay/pkg/response"
	"github.com/dmitrymomot/hookrelay/pkg/signature"
)

// sendOptions collects per-call settings. Zero values fall back to the endpoint,
// then to the dispatcher Config.
type sendOptions struct {
	endpointID      *uuid.UUID
	secret          string
	algorithm       signature.Algorithm
	signatureHeader string
	headers         map[string]string

	timeout            time.Duration
	connectTimeout     time.Duration
	insecureSkipVerify bool

	maxAttempts     int
	strategy        RetryStrategy
	baseDelay       time.Duration
	intervals       []time.Duration
	provider        response.Provider
	successStatuses []int
	failFast        bool

	metadata map[string]any
	delay    time.Duration
	mode     string
	source   string
}

// SendOption configures a single dispatch call.
type SendOption func(*sendOptions)

// WithSecret signs the payload with secret.
func WithSecret(secret string) SendOption {
	return func(o *sendOptions) { o.secret = secret }
}

// WithAlgorithm sets the HMAC hash. Default sha256.
func WithAlgorithm(a signature.Algorithm) SendOption {
	return func(o *sendOptions) { o.algorithm = a }
}

// WithSignatureHeader sets the header carrying the signature.
func WithSignatureHeader(name string) SendOption {
	return func(o *sendOptions) { o.signatureHeader = name }
}

// WithHeader adds a custom request header.
func WithHeader(key, value string) SendOption {
	return func(o *sendOptions) {
		if key == "" {
			return
		}
		if o.headers == nil {
			o.headers = map[string]string{}
		}
		o.headers[key] = value
	}
}

// WithHeaders adds custom request headers.
func WithHeaders(headers map[string]string) SendOption {
	return func(o *sendOptions) {
		if o.headers == nil {
			o.headers = map[string]string{}
		}
		maps.Copy(o.headers, headers)
	}
}

// WithTimeout sets the total request timeout.
func WithTimeout(d time.Duration) SendOption {
	return func(o *sendOptions) { o.timeout = d }
}

// WithConnectTimeout sets the TCP connect timeout.
func WithConnectTimeout(d time.Duration) SendOption {
	return func(o *sendOptions) { o.connectTimeout = d }
}

// WithInsecureSkipVerify disables TLS certificate verification.
func WithInsecureSkipVerify() SendOption {
	return func(o *sendOptions) { o.insecureSkipVerify = true }
}

// WithMaxAttempts caps the attempt series.
func WithMaxAttempts(n int) SendOption {
	return func(o *sendOptions) { o.maxAttempts = n }
}

// WithRetryStrategy selects exponential, linear or fixed delays.
func WithRetryStrategy(s RetryStrategy) SendOption {
	return func(o *sendOptions) { o.strategy = s }
}

// WithBaseDelay sets the first retry delay.
func WithBaseDelay(d time.Duration) SendOption {
	return func(o *sendOptions) { o.baseDelay = d }
}

// WithRetryIntervals sets an explicit delay per attempt.
func WithRetryIntervals(intervals ...time.Duration) SendOption {
	return func(o *sendOptions) { o.intervals = intervals }
}

// WithProvider enables provider-aware response classification.
func WithProvider(p response.Provider) SendOption {
	return func(o *sendOptions) { o.provider = p }
}

// WithSuccessStatuses overrides the 200-226 success set.
func WithSuccessStatuses(codes ...int) SendOption {
	return func(o *sendOptions) { o.successStatuses = codes }
}

// WithFailFast ends the series on the first response that is neither a success
// nor worth retrying, such as 400 or 404, instead of spending the remaining attempts.
func WithFailFast() SendOption {
	return func(o *sendOptions) { o.failFast = true }
}

// WithMetadata attaches a metadata key to the delivery record.
func WithMetadata(key string, value any) SendOption {
	return func(o *sendOptions) {
		if o.metadata == nil {
			o.metadata = map[string]any{}
		}
		o.metadata[key] = value
	}
}

// WithDelay postpones the first async attempt.
func WithDelay(d time.Duration) SendOption {
	return func(o *sendOptions) { o.delay = d }
}

// WithSync makes Broadcast and Retry send inline instead of queueing.
func WithSync() SendOption {
	return func(o *sendOptions) { o.mode = ModeSync }
}

// WithQueue makes Broadcast and Retry queue the attempt.
func WithQueue() SendOption {
	return func(o *sendOptions) { o.mode = ModeQueue }
}

// withSource tags the task source recorded in metadata.
func withSource(source string) SendOption {
	return func(o *sendOptions) { o.source = source }
}

// endpointOptions expands an endpoint's configuration into call options.
func endpointOptions(e *Endpoint) []SendOption {
	id := e.ID
	opts := []SendOption{
		func(o *sendOptions) { o.endpointID = &id },
		WithSecret(e.Secret),
		WithAlgorithm(e.SignatureAlgorithm),
		WithSignatureHeader(e.SignatureHeader),
		WithHeaders(e.Headers),
		WithTimeout(e.Timeout),
		WithConnectTimeout(e.ConnectTimeout),
		WithMaxAttempts(e.MaxAttempts),
		WithRetryStrategy(e.RetryStrategy),
		WithRetryIntervals(e.RetryIntervals...),
		WithProvider(e.Provider),
	}
	if e.InsecureSkipVerify {
		opts = append(opts, WithInsecureSkipVerify())
	}
	return opts
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

func WithEndpointStore(s EndpointStore) DispatcherOption {
	return func(d *Dispatcher) { d.endpoints = s }
}

func WithSubscriptionStore(s SubscriptionStore) DispatcherOption {
	return func(d *Dispatcher) { d.subscriptions = s }
}

// WithTaskQueue enables Queue, QueueToEndpoint and async retries.
func WithTaskQueue(q TaskQueue) DispatcherOption {
	return func(d *Dispatcher) { d.queue = q }
}

// WithEventBus publishes dispatcher events on bus.
func WithEventBus(bus *eventbus.Bus[Event]) DispatcherOption {
	return func(d *Dispatcher) { d.bus = bus }
}

func WithLogger(l *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithHTTPClient replaces the pooled transport. Per-delivery connect timeouts and
// TLS settings are not applied to a custom client.
func WithHTTPClient(c *http.Client) DispatcherOption {
	return func(d *Dispatcher) { d.transport.client = c }
}

func WithConfig(cfg Config) DispatcherOption {
	return func(d *Dispatcher) { d.cfg = cfg }
}

func WithClock(now func() time.Time) DispatcherOption {
	return func(d *Dispatcher) { d.now = now }
}

// WithBeforeHook registers a hook run before every attempt.
func WithBeforeHook(h BeforeHook) DispatcherOption {
	return func(d *Dispatcher) { d.before = append(d.before, h) }
}

// WithAfterHook registers a hook run after every successful attempt.
func WithAfterHook(h AfterHook) DispatcherOption {
	return func(d *Dispatcher) { d.after = append(d.after, h) }
}
