package inbound

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/hookrelay/pkg/eventbus"
	"github.com/dmitrymomot/hookrelay/pkg/logger"
	"github.com/dmitrymomot/hookrelay/pkg/signature"
)

// Receiver verifies, stores and dispatches inbound webhooks.
type Receiver struct {
	sources    map[string]source
	registry   *Registry
	store      Store
	queue      TaskQueue
	dedupe     Deduper
	dedupeTTL  time.Duration
	validators *signature.Registry
	bus        *eventbus.Bus[Notification]
	logger     *slog.Logger
	now        func() time.Time
}

type source struct {
	Source
	validator signature.Validator
}

// Option configures a Receiver.
type Option func(*Receiver)

// WithRegistry shares a handler registry. By default each Receiver owns a new one.
func WithRegistry(r *Registry) Option {
	return func(rc *Receiver) { rc.registry = r }
}

// WithValidators resolves source validators from reg instead of the built-in set.
func WithValidators(reg *signature.Registry) Option {
	return func(rc *Receiver) { rc.validators = reg }
}

// WithTaskQueue enables async processing for sources marked Async.
func WithTaskQueue(q TaskQueue) Option {
	return func(rc *Receiver) { rc.queue = q }
}

// WithDeduper drops requests whose provider delivery id was already seen within ttl.
func WithDeduper(d Deduper, ttl time.Duration) Option {
	return func(rc *Receiver) {
		rc.dedupe = d
		if ttl > 0 {
			rc.dedupeTTL = ttl
		}
	}
}

func WithEventBus(bus *eventbus.Bus[Notification]) Option {
	return func(rc *Receiver) { rc.bus = bus }
}

func WithLogger(l *slog.Logger) Option {
	return func(rc *Receiver) {
		if l != nil {
			rc.logger = l
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(rc *Receiver) {
		if now != nil {
			rc.now = now
		}
	}
}

// NewReceiver validates sources and builds their signature validators.
func NewReceiver(store Store, sources []Source, opts ...Option) (*Receiver, error) {
	rc := &Receiver{
		sources:    make(map[string]source, len(sources)),
		registry:   NewRegistry(),
		store:      store,
		dedupeTTL:  24 * time.Hour,
		validators: signature.NewRegistry(),
		logger:     slog.Default(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(rc)
	}
	rc.logger = rc.logger.With(logger.Component("inbound"))

	for _, s := range sources {
		if err := s.validate(rc.validators); err != nil {
			return nil, err
		}
		if _, dup := rc.sources[s.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate source %q", ErrInvalidSource, s.Name)
		}
		compiled := source{Source: s}
		if s.Validator != NoValidation {
			v, err := rc.validators.Validator(s.Validator)
			if err != nil {
				return nil, fmt.Errorf("%w: %w", ErrInvalidSource, err)
			}
			compiled.validator = withTolerance(v, s.Tolerance)
		}
		rc.sources[s.Name] = compiled
	}
	return rc, nil
}

// Registry returns the handler registry for On/OnAny/Before/After registration.
func (rc *Receiver) Registry() *Registry { return rc.registry }

func (rc *Receiver) On(source, event string, h Handler) { rc.registry.On(source, event, h) }

func (rc *Receiver) OnAny(source string, h Handler) { rc.registry.OnAny(source, h) }

func (rc *Receiver) Before(source string, h Hook) { rc.registry.Before(source, h) }

func (rc *Receiver) After(source string, h Hook) { rc.registry.After(source, h) }

// HandleRequest runs one inbound request: signature check, replay check, storage,
// then processing inline or through the task queue. A bad signature on a source that
// requires one is stored for audit and reported as *InvalidSignatureError.
func (rc *Receiver) HandleRequest(ctx context.Context, sourceName string, req Request) (Result, error) {
	src, ok := rc.sources[sourceName]
	if !ok {
		return Result{}, fmt.Errorf("%w: %q", ErrUnknownSource, sourceName)
	}
	log := rc.logger.With(logger.Source(sourceName))

	e := &Event{
		ID:               uuid.New(),
		Source:           sourceName,
		Event:            eventName(src.Source, req),
		Payload:          req.Body,
		Headers:          req.Header.Clone(),
		Signature:        signatureValue(src.Source, req.Header),
		ProcessingStatus: StatusPending,
		ReceivedAt:       rc.now(),
	}
	if src.validator == nil {
		e.Valid = true
	} else {
		e.Valid = src.validator.Validate(signature.Request{Body: req.Body, Header: req.Header}, src.Secret)
	}
	if !e.Valid {
		e.ValidationMessage = "signature verification failed"
	}
	log = log.With(logger.Event(e.Event), slog.String("inbound_id", e.ID.String()))

	if !e.Valid && src.RequiresValid() {
		at := rc.now()
		e.Processed = true
		e.ProcessingStatus = StatusSkipped
		e.ProcessedAt = &at
		if err := rc.store.CreateEvent(ctx, e); err != nil {
			log.ErrorContext(ctx, "store rejected inbound webhook", logger.Error(err))
		}
		log.WarnContext(ctx, "inbound webhook rejected: invalid signature")
		rc.notify(sourceName, e.Event, false, StatusSkipped, OutcomeRejected)
		return Result{}, &InvalidSignatureError{Source: sourceName, Signature: e.Signature}
	}
	if !e.Valid {
		log.WarnContext(ctx, "inbound webhook accepted with invalid signature")
	}

	// Only verified requests claim a delivery id.
	seenKey := ""
	if e.Valid {
		key, first := rc.markSeen(ctx, log, sourceName, src.Source, req)
		if !first {
			rc.notify(sourceName, e.Event, true, StatusSkipped, OutcomeDuplicate)
			return Result{Duplicate: true, Valid: true, Event: e.Event, Status: StatusSkipped}, nil
		}
		seenKey = key
	}

	if err := rc.store.CreateEvent(ctx, e); err != nil {
		rc.forgetSeen(ctx, log, seenKey)
		return Result{}, fmt.Errorf("store inbound event: %w", err)
	}
	res := Result{EventID: e.ID, Event: e.Event, Valid: e.Valid, Status: StatusPending}

	if src.Async && rc.queue != nil {
		if err := rc.queue.EnqueueEvent(ctx, e.ID); err != nil {
			return res, err
		}
		res.Queued = true
		rc.notify(sourceName, e.Event, e.Valid, StatusPending, OutcomeQueued)
		return res, nil
	}

	status, err := rc.process(ctx, e)
	if err != nil {
		return res, err
	}
	res.Status = status
	return res, nil
}

// markSeen claims the provider delivery id of req. It returns the claimed key and
// false when the id was already seen within the dedupe TTL. Replay checks that fail
// let the request through.
func (rc *Receiver) markSeen(ctx context.Context, log *slog.Logger, sourceName string, src Source, req Request) (string, bool) {
	if rc.dedupe == nil || src.IDHeader == "" {
		return "", true
	}
	id := req.Header.Get(src.IDHeader)
	if id == "" {
		return "", true
	}
	key := sourceName + ":" + id
	first, err := rc.dedupe.MarkOnce(ctx, key, rc.dedupeTTL)
	if err != nil {
		log.WarnContext(ctx, "replay check failed", logger.Error(err))
		return "", true
	}
	if !first {
		log.InfoContext(ctx, "duplicate inbound webhook dropped", slog.String("delivery_id", id))
		return "", false
	}
	return key, true
}

// forgetSeen releases a claimed delivery id so the provider's redelivery is accepted.
func (rc *Receiver) forgetSeen(ctx context.Context, log *slog.Logger, key string) {
	if key == "" {
		return
	}
	if err := rc.dedupe.Forget(ctx, key); err != nil {
		log.WarnContext(ctx, "release delivery id", logger.Error(err))
	}
}

// Process runs handlers for a stored event. Events already processed are left alone.
func (rc *Receiver) Process(ctx context.Context, id uuid.UUID) (ProcessingStatus, error) {
	e, err := rc.store.GetEvent(ctx, id)
	if err != nil {
		return "", err
	}
	if e.Processed {
		return e.ProcessingStatus, nil
	}
	return rc.process(ctx, e)
}

// ProcessPending runs up to limit stored events that were never processed, for
// example after a worker outage.
func (rc *Receiver) ProcessPending(ctx context.Context, limit int) (int, error) {
	events, err := rc.store.ListUnprocessed(ctx, limit)
	if err != nil {
		return 0, err
	}
	var n int
	for _, e := range events {
		if _, err := rc.process(ctx, e); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func (rc *Receiver) process(ctx context.Context, e *Event) (ProcessingStatus, error) {
	log := rc.logger.With(logger.Source(e.Source), logger.Event(e.Event), slog.String("inbound_id", e.ID.String()))

	status, procErr := rc.run(ctx, e)
	msg := ""
	if procErr != nil {
		msg = procErr.Error()
		log.ErrorContext(ctx, "inbound handler failed", logger.Error(procErr))
	}
	if err := rc.store.MarkProcessed(ctx, e.ID, status, msg, rc.now()); err != nil {
		return status, fmt.Errorf("record inbound outcome: %w", err)
	}
	rc.notify(e.Source, e.Event, e.Valid, status, OutcomeProcessed)
	return status, nil
}

func (rc *Receiver) run(ctx context.Context, e *Event) (ProcessingStatus, error) {
	for _, hook := range rc.registry.hooks(e.Source, true) {
		if err := hook(ctx, e); err != nil {
			return StatusError, fmt.Errorf("before hook: %w", err)
		}
	}

	h, ok := rc.registry.Lookup(e.Source, e.Event)
	if !ok {
		rc.logger.DebugContext(ctx, "no inbound handler", logger.Source(e.Source), logger.Event(e.Event))
		return StatusSkipped, nil
	}
	if err := safeCall(ctx, h, e); err != nil {
		return StatusError, err
	}

	for _, hook := range rc.registry.hooks(e.Source, false) {
		if err := hook(ctx, e); err != nil {
			rc.logger.WarnContext(ctx, "inbound after hook failed", logger.Source(e.Source), logger.Error(err))
		}
	}
	return StatusSuccess, nil
}

func safeCall(ctx context.Context, h Handler, e *Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, e)
}

func (rc *Receiver) notify(source, event string, valid bool, status ProcessingStatus, outcome string) {
	rc.bus.Publish(Notification{
		Source:  source,
		Event:   event,
		Valid:   valid,
		Status:  status,
		Outcome: outcome,
		At:      rc.now(),
	})
}

func eventName(s Source, req Request) string {
	if s.EventHeader != "" {
		if v := req.Header.Get(s.EventHeader); v != "" {
			return v
		}
	}
	var doc map[string]any
	if err := json.Unmarshal(req.Body, &doc); err != nil {
		return ""
	}
	fields := []string{"type", "event"}
	if s.EventField != "" {
		fields = []string{s.EventField}
	}
	for _, f := range fields {
		if v, ok := doc[f].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

var signatureHeaders = []string{
	signature.DefaultHeader,
	"X-Hub-Signature-256",
	"Stripe-Signature",
	"X-Shopify-Hmac-Sha256",
	"X-Slack-Signature",
	"Webhook-Signature",
}

func signatureValue(s Source, h http.Header) string {
	if s.SignatureHeader != "" {
		return h.Get(s.SignatureHeader)
	}
	for _, name := range signatureHeaders {
		if v := h.Get(name); v != "" {
			return v
		}
	}
	return ""
}

func withTolerance(v signature.Validator, d time.Duration) signature.Validator {
	if d <= 0 {
		return v
	}
	switch t := v.(type) {
	case signature.HMAC:
		t.Tolerance = d
		return t
	case signature.Stripe:
		t.Tolerance = d
		return t
	}
	return v
}

// IsInvalidSignature reports whether err is a signature rejection.
func IsInvalidSignature(err error) bool {
	return errors.Is(err, ErrInvalidSignature)
}
