package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/hookrelay/pkg/circuit"
	"github.com/dmitrymomot/hookrelay/pkg/eventbus"
	"github.com/dmitrymomot/hookrelay/pkg/logger"
	"github.com/dmitrymomot/hookrelay/pkg/response"
	"github.com/dmitrymomot/hookrelay/pkg/signature"
)

// Standard headers on every outbound request.
const (
	HeaderID    = "X-Webhook-ID"
	HeaderEvent = "X-Webhook-Event"
)

// Dispatcher runs delivery attempts and owns the delivery state machine.
// It is safe for concurrent use; correctness across processes relies on the
// store's status compare-and-swap.
type Dispatcher struct {
	deliveries    DeliveryStore
	endpoints     EndpointStore
	subscriptions SubscriptionStore
	breaker       *circuit.Breaker
	queue         TaskQueue
	bus           *eventbus.Bus[Event]
	transport     *transport
	cfg           Config
	logger        *slog.Logger
	now           func() time.Time
	before        []BeforeHook
	after         []AfterHook
}

// NewDispatcher creates a dispatcher. Endpoint and subscription stores are needed
// for the *ToEndpoint and Broadcast calls; a task queue is needed for async delivery.
func NewDispatcher(deliveries DeliveryStore, breaker *circuit.Breaker, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		deliveries: deliveries,
		breaker:    breaker,
		transport:  &transport{},
		cfg:        DefaultConfig(),
		logger:     slog.Default(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.breaker == nil {
		d.breaker = circuit.New(circuit.NewMemoryStore(), circuit.WithLogger(d.logger))
	}
	d.transport.userAgent = d.cfg.UserAgent
	d.transport.maxBody = d.cfg.MaxResponseBody
	if d.transport.maxBody <= 0 {
		d.transport.maxBody = 64 << 10
	}
	d.logger = d.logger.With(logger.Component("webhook.dispatcher"))
	return d
}

// Send creates a delivery and attempts it inline. Failures are persisted and returned:
// *circuit.OpenError when the destination is open, *DeliveryError otherwise.
func (dp *Dispatcher) Send(ctx context.Context, url, event string, payload any, opts ...SendOption) (*Delivery, error) {
	o := dp.collect(opts)
	d, err := dp.create(ctx, url, event, payload, o)
	if err != nil {
		return nil, err
	}
	return dp.attempt(ctx, d, false)
}

// Queue creates a delivery and hands it to the task queue. Delivery failures never
// surface here; they become scheduled retries.
func (dp *Dispatcher) Queue(ctx context.Context, url, event string, payload any, opts ...SendOption) (*Delivery, error) {
	if dp.queue == nil {
		return nil, ErrNoTaskQueue
	}
	o := dp.collect(opts)
	d, err := dp.create(ctx, url, event, payload, o)
	if err != nil {
		return nil, err
	}
	if err := dp.enqueue(ctx, DeliveryTask{DeliveryID: d.ID, Attempt: d.Attempt, Source: SourceQueue}, o.delay); err != nil {
		return d, err
	}
	return d, nil
}

// SendToEndpoint resolves the endpoint, applies its policy and sends inline.
func (dp *Dispatcher) SendToEndpoint(ctx context.Context, endpointID uuid.UUID, event string, payload any, opts ...SendOption) (*Delivery, error) {
	epOpts, err := dp.resolveEndpoint(ctx, endpointID, event)
	if err != nil {
		return nil, err
	}
	return dp.Send(ctx, epOpts.url, event, payload, append(epOpts.opts, opts...)...)
}

// QueueToEndpoint resolves the endpoint, applies its policy and queues.
func (dp *Dispatcher) QueueToEndpoint(ctx context.Context, endpointID uuid.UUID, event string, payload any, opts ...SendOption) (*Delivery, error) {
	epOpts, err := dp.resolveEndpoint(ctx, endpointID, event)
	if err != nil {
		return nil, err
	}
	return dp.Queue(ctx, epOpts.url, event, payload, append(epOpts.opts, opts...)...)
}

type resolvedEndpoint struct {
	url  string
	opts []SendOption
}

func (dp *Dispatcher) resolveEndpoint(ctx context.Context, id uuid.UUID, event string) (resolvedEndpoint, error) {
	if dp.endpoints == nil {
		return resolvedEndpoint{}, fmt.Errorf("%w: endpoint store not configured", ErrConfiguration)
	}
	ep, err := dp.endpoints.GetEndpoint(ctx, id)
	if err != nil {
		return resolvedEndpoint{}, fmt.Errorf("get endpoint %s: %w", id, err)
	}
	if !ep.IsActive() {
		return resolvedEndpoint{}, fmt.Errorf("%w: %s", ErrEndpointInactive, id)
	}
	if !ep.Accepts(event) {
		return resolvedEndpoint{}, fmt.Errorf("%w: %s does not accept %q", ErrEventNotAccepted, id, event)
	}
	return resolvedEndpoint{url: ep.URL, opts: endpointOptions(ep)}, nil
}

// Retry puts a failed or retrying delivery back to pending and queues it, or
// sends it inline with WithSync.
func (dp *Dispatcher) Retry(ctx context.Context, id uuid.UUID, opts ...SendOption) (*Delivery, error) {
	o := dp.collect(opts)
	d, err := dp.deliveries.GetDelivery(ctx, id)
	if err != nil {
		return nil, err
	}
	prev, prevAttempt := d.Status, d.Attempt
	if err := d.ResetForRetry(dp.now()); err != nil {
		return d, err
	}
	source := o.source
	if source == "" {
		source = SourceManual
	}
	d.SetMetadata("retry_source", source)
	d.SetMetadata("retried_at", dp.now().UTC().Format(time.RFC3339))
	maps.Copy(d.Metadata, o.metadata)

	ok, err := dp.deliveries.UpdateDeliveryIf(ctx, d, prev, prevAttempt)
	if err != nil {
		return nil, fmt.Errorf("update delivery %s: %w", d.ID, err)
	}
	if !ok {
		return d, fmt.Errorf("%w: delivery %s changed concurrently", ErrInvalidTransition, d.ID)
	}

	if o.mode == ModeSync || (o.mode == "" && dp.queue == nil) {
		return dp.attempt(ctx, d, false)
	}
	task := DeliveryTask{DeliveryID: d.ID, Attempt: d.Attempt, Source: source, Nonce: source}
	if err := dp.enqueue(ctx, task, 0); err != nil {
		return d, err
	}
	return d, nil
}

// Cancel stops future attempts of a pending or retrying delivery. An attempt
// already in flight still completes and is persisted.
func (dp *Dispatcher) Cancel(ctx context.Context, id uuid.UUID, reason string) (*Delivery, error) {
	d, err := dp.deliveries.GetDelivery(ctx, id)
	if err != nil {
		return nil, err
	}
	prev := d.Status
	if err := d.Cancel(reason, dp.now()); err != nil {
		return d, err
	}
	ok, err := dp.deliveries.UpdateDeliveryIf(ctx, d, prev, d.Attempt)
	if err != nil {
		return nil, fmt.Errorf("update delivery %s: %w", d.ID, err)
	}
	if !ok {
		return d, fmt.Errorf("%w: delivery %s changed concurrently", ErrInvalidTransition, d.ID)
	}
	dp.publish(EventCancelled, d)
	dp.logger.InfoContext(ctx, "delivery cancelled", logger.DeliveryID(d.ID.String()), slog.String("reason", reason))
	return d, nil
}

// Process runs the attempt named by task. It is the entry point for queue workers.
// Stale tasks, terminal deliveries and deliveries held by another worker are skipped.
// Delivery failures are handled by scheduling retries, so only infrastructure
// errors are returned.
func (dp *Dispatcher) Process(ctx context.Context, task DeliveryTask) error {
	d, err := dp.deliveries.GetDelivery(ctx, task.DeliveryID)
	if errors.Is(err, ErrDeliveryNotFound) {
		dp.logger.WarnContext(ctx, "delivery task for missing delivery", logger.DeliveryID(task.DeliveryID.String()))
		return nil
	}
	if err != nil {
		return err
	}

	if d.Attempt != task.Attempt || (d.Status != StatusPending && d.Status != StatusRetrying) {
		dp.logger.DebugContext(ctx, "skipping stale delivery task",
			logger.DeliveryID(d.ID.String()),
			slog.String("status", d.Status.String()),
			slog.Int("attempt", d.Attempt),
			slog.Int("task_attempt", task.Attempt),
		)
		return nil
	}

	_, err = dp.attempt(ctx, d, true)
	var derr *DeliveryError
	if err == nil || errors.As(err, &derr) || circuit.IsOpen(err) || errors.Is(err, ErrHookRejected) ||
		errors.Is(err, errAttemptClaimed) {
		return nil
	}
	return err
}

var errAttemptClaimed = errors.New("delivery claimed by another worker")

func (dp *Dispatcher) collect(opts []SendOption) *sendOptions {
	o := &sendOptions{}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// create validates input, serializes and signs the payload and stores a pending delivery.
func (dp *Dispatcher) create(ctx context.Context, url, event string, payload any, o *sendOptions) (*Delivery, error) {
	if err := validateDestination(url); err != nil {
		return nil, err
	}
	if event == "" {
		return nil, fmt.Errorf("%w: event is required", ErrInvalidPayload)
	}
	body, err := marshalPayload(payload)
	if err != nil {
		return nil, err
	}

	maxAttempts := cmpOr(o.maxAttempts, cmpOr(dp.cfg.MaxAttempts, DefaultMaxAttempts))
	d := NewDelivery(url, event, body, maxAttempts, dp.now())
	d.EndpointID = o.endpointID
	d.Policy = dp.policy(o)
	maps.Copy(d.Metadata, o.metadata)

	maps.Copy(d.Headers, o.headers)
	d.Headers[HeaderID] = d.ID.String()
	d.Headers[HeaderEvent] = event

	if o.secret != "" {
		algo := o.algorithm
		if algo == "" {
			algo = signature.Algorithm(dp.cfg.SignatureAlgorithm)
		}
		sig, err := signature.Sign(body, o.secret, algo)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
		}
		header := cmpOrString(o.signatureHeader, dp.cfg.SignatureHeader, signature.DefaultHeader)
		d.Signature = sig
		d.Headers[header] = sig
	}

	if o.delay > 0 {
		next := d.CreatedAt.Add(o.delay)
		d.NextAttemptAt = &next
	}

	if err := dp.deliveries.CreateDelivery(ctx, d); err != nil {
		return nil, fmt.Errorf("create delivery: %w", err)
	}
	return d, nil
}

func (dp *Dispatcher) policy(o *sendOptions) Policy {
	p := dp.cfg.policy()
	if o.timeout > 0 {
		p.Timeout = o.timeout
	}
	if o.connectTimeout > 0 {
		p.ConnectTimeout = o.connectTimeout
	}
	p.InsecureSkipVerify = o.insecureSkipVerify
	if o.strategy != "" {
		p.Strategy = o.strategy
	}
	if o.baseDelay > 0 {
		p.BaseDelay = o.baseDelay
	}
	p.Intervals = o.intervals
	p.Provider = o.provider
	p.SuccessStatuses = o.successStatuses
	if o.failFast {
		p.FailFast = true
	}
	return p
}

func marshalPayload(payload any) (json.RawMessage, error) {
	switch v := payload.(type) {
	case json.RawMessage:
		if !json.Valid(v) {
			return nil, fmt.Errorf("%w: not valid JSON", ErrInvalidPayload)
		}
		return v, nil
	case []byte:
		if !json.Valid(v) {
			return nil, fmt.Errorf("%w: not valid JSON", ErrInvalidPayload)
		}
		return v, nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	return b, nil
}

// attempt performs one delivery attempt. In async mode failures schedule retries;
// in sync mode they leave the delivery failed. The claim matches both status and
// attempt number, so a worker holding a stale copy can never run an attempt twice.
func (dp *Dispatcher) attempt(ctx context.Context, d *Delivery, async bool) (*Delivery, error) {
	prev, claimed := d.Status, d.Attempt
	ok, err := dp.deliveries.TransitionStatus(ctx, d.ID, claimed, []Status{StatusPending, StatusRetrying}, StatusInProgress)
	if err != nil {
		return d, fmt.Errorf("claim delivery %s: %w", d.ID, err)
	}
	if !ok {
		return d, fmt.Errorf("%w: %s", errAttemptClaimed, d.ID)
	}

	log := dp.logger.With(
		logger.DeliveryID(d.ID.String()),
		logger.Destination(d.Destination),
		logger.Event(d.Event),
		logger.Attempt(d.Attempt),
	)

	d.startAttempt(dp.now())
	dp.publish(EventDispatching, d)

	for _, h := range dp.before {
		if err := h(ctx, d); err != nil {
			log.WarnContext(ctx, "before hook rejected delivery", logger.Error(err))
			d.clearResponse()
			d.MarkFailed("before hook rejected delivery", err.Error(), dp.now())
			dp.persist(ctx, d, claimed)
			dp.publish(EventDispatchFailed, d)
			return d, fmt.Errorf("%w: %w", ErrHookRejected, err)
		}
	}

	if err := dp.breaker.Check(ctx, d.Destination); err != nil {
		oe, isOpen := circuit.AsOpen(err)
		if !isOpen {
			// Breaker store failure: fail open rather than block deliveries.
			log.ErrorContext(ctx, "circuit check failed", logger.Error(err))
		} else {
			return dp.circuitOpen(ctx, d, claimed, prev, oe, async)
		}
	}

	res := dp.transport.post(ctx, d)
	now := dp.now()

	if res.Err != nil {
		d.clearResponse()
		d.ResponseTime = res.Duration
		d.ErrorMessage = res.Err.Error()
		d.ErrorDetail = fmt.Sprintf("%T: %v", res.Err, res.Err)
		dp.recordFailure(ctx, d)
		derr := &DeliveryError{Destination: d.Destination, DeliveryID: d.ID, Err: res.Err}
		log.WarnContext(ctx, "delivery transport error", logger.Error(res.Err), logger.Duration(res.Duration))
		return dp.fail(ctx, d, claimed, nil, async, derr, now)
	}

	d.recordResponse(res.StatusCode, res.Header, string(res.Body), res.Duration)
	analyzer := dp.analyzer(d.Policy)
	resp := response.Response{StatusCode: res.StatusCode, Header: res.Header, Body: res.Body}
	result := analyzer.Analyze(resp)

	if result.Success {
		d.MarkSuccess(now)
		dp.persist(ctx, d, claimed)
		if err := dp.breaker.RecordSuccess(ctx, d.Destination); err != nil {
			log.ErrorContext(ctx, "record circuit success", logger.Error(err))
		}
		for _, h := range dp.after {
			if err := h(ctx, d); err != nil {
				log.WarnContext(ctx, "after hook failed", logger.Error(err))
			}
		}
		dp.publish(EventDispatched, d)
		log.InfoContext(ctx, "delivery succeeded", slog.Int("status_code", res.StatusCode), logger.Duration(res.Duration))
		return d, nil
	}

	d.ErrorMessage = result.Error.Message
	if detail, err := json.Marshal(result.Error); err == nil {
		d.ErrorDetail = string(detail)
	}
	dp.recordFailure(ctx, d)
	derr := &DeliveryError{
		Destination:  d.Destination,
		DeliveryID:   d.ID,
		StatusCode:   res.StatusCode,
		ResponseBody: result.Error.Body,
		Err:          result.Error,
	}
	log.WarnContext(ctx, "delivery rejected by destination", slog.Int("status_code", res.StatusCode), logger.Duration(res.Duration))
	return dp.fail(ctx, d, claimed, &resp, async, derr, now)
}

func (dp *Dispatcher) recordFailure(ctx context.Context, d *Delivery) {
	if err := dp.breaker.RecordFailure(ctx, d.Destination); err != nil {
		dp.logger.ErrorContext(ctx, "record circuit failure", logger.Destination(d.Destination), logger.Error(err))
	}
}

// fail applies the failure policy and persists the outcome.
func (dp *Dispatcher) fail(ctx context.Context, d *Delivery, claimed int, resp *response.Response, async bool, derr *DeliveryError, now time.Time) (*Delivery, error) {
	if !async {
		d.MarkFailed(d.ErrorMessage, d.ErrorDetail, now)
		dp.persist(ctx, d, claimed)
		dp.publish(EventDispatchFailed, d)
		return d, derr
	}

	analyzer := dp.analyzer(d.Policy)
	if d.Policy.FailFast && resp != nil && resp.StatusCode < 500 && !analyzer.ShouldRetry(*resp) {
		d.MarkFailed(d.ErrorMessage, d.ErrorDetail, now)
		d.SetMetadata("failure_reason", "non_retryable_status")
		dp.persist(ctx, d, claimed)
		dp.publish(EventDispatchFailed, d)
		return d, derr
	}

	failedAttempt := d.Attempt
	delay := d.Policy.Backoff().NextInterval(failedAttempt)
	if resp != nil {
		if hint, ok := analyzer.HintedDelay(*resp); ok && hint > delay {
			delay = hint
		}
	}

	if !d.ScheduleRetry(delay, now) {
		d.ErrorMessage = cmpOrString(d.ErrorMessage, "max attempts reached")
		d.SetMetadata("failure_reason", "max_attempts_reached")
		dp.persist(ctx, d, claimed)
		dp.publish(EventDispatchFailed, d)
		return d, derr
	}

	if !dp.persist(ctx, d, claimed) {
		return d, derr
	}
	dp.publish(EventDispatchFailed, d)
	dp.publish(EventRetryScheduled, d)
	task := DeliveryTask{DeliveryID: d.ID, Attempt: d.Attempt, Source: SourceRetry}
	if err := dp.enqueue(ctx, task, delay); err != nil {
		// The retry sweep picks up retrying deliveries whose task was lost.
		dp.logger.ErrorContext(ctx, "enqueue retry", logger.DeliveryID(d.ID.String()), logger.Error(err))
	}
	return d, derr
}

// circuitOpen handles a rejected attempt. Inline sends fail; async attempts are
// pushed to the reopen time without consuming an attempt.
func (dp *Dispatcher) circuitOpen(ctx context.Context, d *Delivery, claimed int, prev Status, oe *circuit.OpenError, async bool) (*Delivery, error) {
	now := dp.now()
	d.clearResponse()
	d.ErrorMessage = "circuit open"
	d.ErrorDetail = oe.Error()

	if !async {
		d.MarkFailed("circuit open", oe.Error(), now)
		dp.persist(ctx, d, claimed)
		ev := newEvent(EventDispatchFailed, d, now)
		ev.CircuitOpen = true
		dp.bus.Publish(ev)
		return d, oe
	}

	next := oe.ReopenAt
	if next.Before(now) {
		next = now
	}
	d.Status = StatusRetrying
	if prev == StatusPending && d.Attempt == 1 {
		d.Status = StatusPending
	}
	d.NextAttemptAt = &next
	d.UpdatedAt = now
	if !dp.persist(ctx, d, claimed) {
		return d, oe
	}

	ev := newEvent(EventDispatchFailed, d, now)
	ev.CircuitOpen = true
	dp.bus.Publish(ev)

	task := DeliveryTask{
		DeliveryID: d.ID,
		Attempt:    d.Attempt,
		Source:     SourceCircuit,
		Nonce:      fmt.Sprintf("%s-%d", SourceCircuit, next.Unix()),
	}
	if err := dp.enqueue(ctx, task, next.Sub(now)); err != nil && !errors.Is(err, ErrDuplicateTask) {
		dp.logger.ErrorContext(ctx, "reschedule after open circuit", logger.DeliveryID(d.ID.String()), logger.Error(err))
	}
	return d, oe
}

func (dp *Dispatcher) analyzer(p Policy) *response.Analyzer {
	opts := []response.Option{
		response.WithProvider(p.Provider),
		response.WithClock(dp.now),
	}
	if len(p.SuccessStatuses) > 0 {
		opts = append(opts, response.WithSuccessStatuses(p.SuccessStatuses...))
	}
	if p.MaxDelay > 0 {
		opts = append(opts, response.WithMaxHint(p.MaxDelay))
	}
	return response.New(opts...)
}

// persist writes the outcome of the claimed attempt while the delivery is still
// in progress at that attempt. A failed or lost write is logged: the attempt already
// happened and the caller still gets its outcome. Deliveries left in progress are
// reclaimed by the sweeper.
func (dp *Dispatcher) persist(ctx context.Context, d *Delivery, claimed int) bool {
	ok, err := dp.deliveries.UpdateDeliveryIf(ctx, d, StatusInProgress, claimed)
	if err != nil {
		dp.logger.ErrorContext(ctx, "persist delivery", logger.DeliveryID(d.ID.String()), logger.Error(err))
		return false
	}
	if !ok {
		dp.logger.WarnContext(ctx, "delivery changed during attempt, outcome discarded",
			logger.DeliveryID(d.ID.String()), logger.Attempt(claimed))
	}
	return ok
}

func (dp *Dispatcher) enqueue(ctx context.Context, task DeliveryTask, delay time.Duration) error {
	if dp.queue == nil {
		return ErrNoTaskQueue
	}
	err := dp.queue.EnqueueDelivery(ctx, task, delay)
	if errors.Is(err, ErrDuplicateTask) {
		dp.logger.DebugContext(ctx, "delivery task already queued", slog.String("key", task.Key()))
		return nil
	}
	if err != nil {
		return fmt.Errorf("enqueue delivery %s: %w", task.DeliveryID, err)
	}
	return nil
}

func (dp *Dispatcher) publish(t EventType, d *Delivery) {
	dp.bus.Publish(newEvent(t, d, dp.now()))
}

func cmpOrString(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
