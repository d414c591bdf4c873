package response

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"math/rand/v2"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Response is a captured HTTP response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Error describes why a response was classified as a failure.
type Error struct {
	StatusCode int    `json:"status_code"`
	Message    string `json:"message"`
	Body       string `json:"body,omitempty"`
	Type       string `json:"type,omitempty"`
	Code       string `json:"code,omitempty"`
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("status %d", e.StatusCode)
	}
	return fmt.Sprintf("status %d: %s", e.StatusCode, e.Message)
}

// Result is the outcome of Analyze.
type Result struct {
	Success bool
	Error   *Error
}

// Provider selects provider-aware body inspection.
type Provider string

const (
	ProviderGeneric Provider = ""
	ProviderStripe  Provider = "stripe"
	ProviderSlack   Provider = "slack"
	// ProviderStrict treats any top-level "error" key as a failure even on 2xx.
	ProviderStrict Provider = "strict"
)

const maxErrorBody = 1024

// DefaultMaxHint caps Retry-After and rate-limit reset hints.
const DefaultMaxHint = 24 * time.Hour

var retryableStatuses = map[int]bool{
	http.StatusRequestTimeout:      true,
	http.StatusTooEarly:            true,
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

var transientKeywords = []string{
	"timeout",
	"timed out",
	"temporarily unavailable",
	"try again",
	"rate limit",
	"overloaded",
	"service unavailable",
}

var rateLimitHeaders = []string{
	"X-RateLimit-Remaining",
	"X-RateLimit-Reset",
	"RateLimit-Remaining",
	"RateLimit-Reset",
}

// Analyzer classifies responses from webhook destinations.
// It holds no mutable state and is safe for concurrent use.
type Analyzer struct {
	success  func(code int) bool
	provider Provider

	baseDelay  time.Duration
	maxDelay   time.Duration
	multiplier float64
	jitter     float64
	maxHint    time.Duration
	now        func() time.Time
}

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithSuccessStatuses replaces the default 200-226 success set.
func WithSuccessStatuses(codes ...int) Option {
	return func(a *Analyzer) {
		set := make(map[int]bool, len(codes))
		for _, c := range codes {
			set[c] = true
		}
		a.success = func(code int) bool { return set[code] }
	}
}

// WithProvider enables provider-specific body inspection.
func WithProvider(p Provider) Option {
	return func(a *Analyzer) { a.provider = p }
}

// WithBackoff sets the computed delay used when no header hint is present.
func WithBackoff(base, max time.Duration, multiplier float64) Option {
	return func(a *Analyzer) {
		a.baseDelay = base
		a.maxDelay = max
		a.multiplier = multiplier
	}
}

// WithJitter sets the jitter fraction applied to computed delays. Zero disables it.
func WithJitter(fraction float64) Option {
	return func(a *Analyzer) { a.jitter = fraction }
}

// WithMaxHint caps delays requested through response headers.
func WithMaxHint(d time.Duration) Option {
	return func(a *Analyzer) {
		if d > 0 {
			a.maxHint = d
		}
	}
}

// WithClock overrides the clock used to resolve HTTP-date and epoch headers.
func WithClock(now func() time.Time) Option {
	return func(a *Analyzer) { a.now = now }
}

// New creates an analyzer.
func New(opts ...Option) *Analyzer {
	a := &Analyzer{
		success:    func(code int) bool { return code >= 200 && code <= 226 },
		baseDelay:  30 * time.Second,
		maxDelay:   time.Hour,
		multiplier: 2,
		jitter:     0.2,
		maxHint:    DefaultMaxHint,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// IsSuccessStatus reports whether code belongs to the success set.
func (a *Analyzer) IsSuccessStatus(code int) bool {
	return a.success(code)
}

// Analyze classifies r. A success status with a provider failure marker in the body
// is still a failure.
func (a *Analyzer) Analyze(r Response) Result {
	info, failed := a.inspectBody(r.Body)
	if a.success(r.StatusCode) && !failed {
		return Result{Success: true}
	}

	e := &Error{StatusCode: r.StatusCode, Body: truncate(r.Body)}
	if info != nil {
		e.Message, e.Type, e.Code = info.message, info.typ, info.code
	}
	if e.Message == "" {
		if text := http.StatusText(r.StatusCode); text != "" && !a.success(r.StatusCode) {
			e.Message = text
		} else {
			e.Message = "unexpected response"
		}
	}
	return Result{Error: e}
}

type bodyError struct {
	message, typ, code string
}

// inspectBody extracts error details from a JSON body. failed reports whether the body
// itself signals failure for the configured provider.
func (a *Analyzer) inspectBody(body []byte) (*bodyError, bool) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 || body[0] != '{' {
		return nil, false
	}
	var doc map[string]any
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, false
	}

	switch a.provider {
	case ProviderSlack:
		if ok, present := doc["ok"].(bool); present && !ok {
			return &bodyError{message: stringField(doc, "error"), code: stringField(doc, "error")}, true
		}
		return nil, false
	case ProviderStripe:
		if nested, ok := doc["error"].(map[string]any); ok {
			return &bodyError{
				message: stringField(nested, "message"),
				typ:     stringField(nested, "type"),
				code:    stringField(nested, "code"),
			}, true
		}
		return nil, false
	}

	info := genericError(doc)
	if info == nil {
		return nil, false
	}
	_, hasError := doc["error"]
	return info, a.provider == ProviderStrict && hasError
}

func genericError(doc map[string]any) *bodyError {
	switch v := doc["error"].(type) {
	case string:
		return &bodyError{message: v, code: stringField(doc, "code")}
	case map[string]any:
		return &bodyError{
			message: stringField(v, "message"),
			typ:     stringField(v, "type"),
			code:    stringField(v, "code"),
		}
	}
	for _, key := range []string{"message", "error_description", "detail"} {
		if msg := stringField(doc, key); msg != "" {
			return &bodyError{message: msg, code: stringField(doc, "code")}
		}
	}
	if errs, ok := doc["errors"].([]any); ok && len(errs) > 0 {
		switch first := errs[0].(type) {
		case string:
			return &bodyError{message: first}
		case map[string]any:
			return &bodyError{message: stringField(first, "message"), code: stringField(first, "code")}
		}
	}
	return nil
}

// ShouldRetry reports whether a failed response is worth another attempt.
func (a *Analyzer) ShouldRetry(r Response) bool {
	if retryableStatuses[r.StatusCode] {
		return true
	}
	if a.success(r.StatusCode) {
		return false
	}
	for _, h := range rateLimitHeaders {
		if r.Header.Get(h) != "" {
			return true
		}
	}
	lower := strings.ToLower(string(r.Body))
	for _, kw := range transientKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// RetryDelay returns how long to wait before the given attempt (1-based). Header hints
// win over the computed exponential delay.
func (a *Analyzer) RetryDelay(r Response, attempt int) time.Duration {
	if d, ok := a.HintedDelay(r); ok {
		return d
	}
	return a.computed(attempt)
}

// HintedDelay returns the delay requested by Retry-After or rate-limit reset headers,
// capped at the analyzer's max hint.
func (a *Analyzer) HintedDelay(r Response) (time.Duration, bool) {
	if r.Header == nil {
		return 0, false
	}
	if v := strings.TrimSpace(r.Header.Get("Retry-After")); v != "" {
		if secs, err := strconv.ParseInt(v, 10, 64); err == nil && secs >= 0 {
			return a.seconds(secs), true
		}
		if at, err := http.ParseTime(v); err == nil {
			return a.until(at), true
		}
	}
	for _, h := range []string{"X-RateLimit-Reset", "RateLimit-Reset"} {
		v := strings.TrimSpace(r.Header.Get(h))
		if v == "" {
			continue
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			continue
		}
		// Values past 2001 in unix seconds are absolute, smaller ones are deltas.
		if n > 1_000_000_000 {
			return a.until(time.Unix(n, 0)), true
		}
		return a.seconds(n), true
	}
	return 0, false
}

// seconds converts a header value without overflowing time.Duration.
func (a *Analyzer) seconds(n int64) time.Duration {
	if n >= int64(a.maxHint/time.Second) {
		return a.maxHint
	}
	return time.Duration(n) * time.Second
}

func (a *Analyzer) until(at time.Time) time.Duration {
	return min(max(at.Sub(a.now()), 0), a.maxHint)
}

func (a *Analyzer) computed(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(a.baseDelay) * math.Pow(a.multiplier, float64(attempt-1))
	if a.jitter > 0 {
		d *= 1 + (rand.Float64()*2-1)*a.jitter
	}
	if d > float64(a.maxDelay) {
		d = float64(a.maxDelay)
	}
	return time.Duration(d)
}

func stringField(m map[string]any, key string) string {
	switch v := m[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return ""
}

func truncate(b []byte) string {
	if len(b) > maxErrorBody {
		return string(b[:maxErrorBody]) + "..."
	}
	return string(b)
}
