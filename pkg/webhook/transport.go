package webhook

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"
)

// attemptResult is what one HTTP POST produced. Err is set only for transport
// failures; HTTP error statuses are classified later.
type attemptResult struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Duration   time.Duration
	Err        error
}

type transportKey struct {
	connectTimeout time.Duration
	insecure       bool
}

// transport posts deliveries. It keeps one pooled http.Transport per distinct
// (connect timeout, TLS verify) pair.
type transport struct {
	client    *http.Client
	pool      sync.Map // transportKey -> *http.Client
	userAgent string
	maxBody   int64
}

func (t *transport) clientFor(p Policy) *http.Client {
	if t.client != nil {
		return t.client
	}
	key := transportKey{connectTimeout: p.ConnectTimeout, insecure: p.InsecureSkipVerify}
	if c, ok := t.pool.Load(key); ok {
		return c.(*http.Client)
	}

	dialer := &net.Dialer{Timeout: p.ConnectTimeout, KeepAlive: 30 * time.Second}
	c := &http.Client{
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			DialContext:         dialer.DialContext,
			TLSHandshakeTimeout: max(p.ConnectTimeout, 5*time.Second),
			TLSClientConfig:     &tls.Config{InsecureSkipVerify: p.InsecureSkipVerify}, //nolint:gosec // opt-in per endpoint
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	actual, _ := t.pool.LoadOrStore(key, c)
	return actual.(*http.Client)
}

// post sends one attempt. The total timeout is layered on ctx.
func (t *transport) post(ctx context.Context, d *Delivery) attemptResult {
	start := time.Now()
	var res attemptResult

	reqCtx := ctx
	if d.Policy.Timeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, d.Policy.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, d.Destination, bytes.NewReader(d.Payload))
	if err != nil {
		res.Err = fmt.Errorf("create request: %w", err)
		res.Duration = time.Since(start)
		return res
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", t.userAgent)
	for k, v := range d.Headers {
		req.Header.Set(k, v)
	}

	resp, err := t.clientFor(d.Policy).Do(req)
	if err != nil {
		res.Duration = time.Since(start)
		if errors.Is(reqCtx.Err(), context.DeadlineExceeded) {
			res.Err = fmt.Errorf("request timed out after %s: %w", d.Policy.Timeout, err)
		} else {
			res.Err = err
		}
		return res
	}
	defer func() { _ = resp.Body.Close() }()

	// A short read still leaves a usable status code.
	body, _ := io.ReadAll(io.LimitReader(resp.Body, t.maxBody))
	res.Duration = time.Since(start)
	res.StatusCode = resp.StatusCode
	res.Header = resp.Header.Clone()
	res.Body = body
	return res
}

// validateDestination restricts deliveries to absolute http(s) URLs.
func validateDestination(raw string) error {
	if raw == "" {
		return fmt.Errorf("%w: URL is required", ErrInvalidURL)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: only http and https schemes are supported", ErrInvalidURL)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: host is required", ErrInvalidURL)
	}
	return nil
}
