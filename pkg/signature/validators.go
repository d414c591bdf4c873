package signature

import (
	"crypto/hmac"
	"encoding/base64"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// HMAC validates a keyed-hash signature carried in a single header.
// The zero value checks a hex HMAC-SHA256 in X-Webhook-Signature over the raw body.
type HMAC struct {
	Header    string
	Prefix    string // stripped before decoding, e.g. "sha256="
	Encoding  Encoding
	Algorithm Algorithm

	// TimestampHeader switches the signed content to Base(timestamp, body).
	TimestampHeader string
	// Tolerance rejects timestamps further than this from now. Zero disables the check.
	Tolerance time.Duration
	// Base builds the signed content when TimestampHeader is set.
	// Defaults to "timestamp.body".
	Base func(timestamp string, body []byte) []byte

	Now func() time.Time
}

// Validate implements Validator.
func (v HMAC) Validate(req Request, secret string) bool {
	header := v.Header
	if header == "" {
		header = DefaultHeader
	}
	sig := strings.TrimSpace(req.Header.Get(header))
	if sig == "" {
		return false
	}
	if v.Prefix != "" {
		if !strings.HasPrefix(sig, v.Prefix) {
			return false
		}
		sig = strings.TrimPrefix(sig, v.Prefix)
	}

	signed := req.Body
	if v.TimestampHeader != "" {
		ts := req.Header.Get(v.TimestampHeader)
		if ts == "" || !withinTolerance(ts, v.Tolerance, v.Now) {
			return false
		}
		base := v.Base
		if base == nil {
			base = timestampedBase
		}
		signed = base(ts, req.Body)
	}

	expected, err := Digest(signed, secret, v.Algorithm)
	if err != nil {
		return false
	}
	got, err := decode(v.Encoding, sig)
	if err != nil {
		return false
	}
	return hmac.Equal(expected, got)
}

// Stripe validates the "t=<unix>,v1=<hex>[,v1=<hex>...]" header scheme, where each
// v1 value is an HMAC-SHA256 of "t.body". Any matching v1 entry is accepted so
// secrets can be rolled.
type Stripe struct {
	Header    string
	Tolerance time.Duration
	Now       func() time.Time
}

// Validate implements Validator.
func (v Stripe) Validate(req Request, secret string) bool {
	header := v.Header
	if header == "" {
		header = "Stripe-Signature"
	}
	raw := req.Header.Get(header)
	if raw == "" {
		return false
	}

	var ts string
	var candidates []string
	for part := range strings.SplitSeq(raw, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch key {
		case "t":
			ts = value
		case "v1":
			candidates = append(candidates, value)
		}
	}
	if ts == "" || len(candidates) == 0 || !withinTolerance(ts, v.Tolerance, v.Now) {
		return false
	}

	expected, err := Digest(timestampedBase(ts, req.Body), secret, SHA256)
	if err != nil {
		return false
	}
	for _, c := range candidates {
		got, err := decode(Hex, c)
		if err != nil {
			continue
		}
		if hmac.Equal(expected, got) {
			return true
		}
	}
	return false
}

// APIKey compares a static token in a header with the secret.
type APIKey struct {
	Header string
	Prefix string // e.g. "Bearer "
}

// Validate implements Validator.
func (v APIKey) Validate(req Request, secret string) bool {
	if secret == "" {
		return false
	}
	header := v.Header
	if header == "" {
		header = "X-API-Key"
	}
	value := req.Header.Get(header)
	if v.Prefix != "" {
		if !strings.HasPrefix(value, v.Prefix) {
			return false
		}
		value = strings.TrimPrefix(value, v.Prefix)
	}
	return value != "" && constantTimeEqual(value, secret)
}

// Basic validates HTTP basic credentials. The secret has the form "user:password".
type Basic struct{}

// Validate implements Validator.
func (Basic) Validate(req Request, secret string) bool {
	if secret == "" {
		return false
	}
	auth := req.Header.Get("Authorization")
	encoded, ok := strings.CutPrefix(auth, "Basic ")
	if !ok {
		return false
	}
	creds, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return false
	}
	return constantTimeEqual(string(creds), secret)
}

// JWT validates an HMAC-signed bearer token using the secret as key.
type JWT struct {
	Header  string
	Methods []string
	Issuer  string
}

// Validate implements Validator.
func (v JWT) Validate(req Request, secret string) bool {
	if secret == "" {
		return false
	}
	header := v.Header
	if header == "" {
		header = "Authorization"
	}
	raw := strings.TrimSpace(req.Header.Get(header))
	raw = strings.TrimPrefix(raw, "Bearer ")
	if raw == "" {
		return false
	}

	methods := v.Methods
	if len(methods) == 0 {
		methods = []string{jwt.SigningMethodHS256.Alg()}
	}
	opts := []jwt.ParserOption{jwt.WithValidMethods(methods)}
	if v.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.Issuer))
	}

	token, err := jwt.Parse(raw, func(*jwt.Token) (any, error) {
		return []byte(secret), nil
	}, opts...)
	return err == nil && token.Valid
}

func withinTolerance(ts string, tolerance time.Duration, now func() time.Time) bool {
	if tolerance <= 0 {
		return true
	}
	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return false
	}
	if now == nil {
		now = time.Now
	}
	diff := now().Sub(time.Unix(unix, 0))
	if diff < 0 {
		diff = -diff
	}
	return diff <= tolerance
}
