package signature

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"hash"
	"net/http"
	"strconv"
)

// Algorithm names the hash function used for HMAC signatures.
type Algorithm string

const (
	SHA256 Algorithm = "sha256"
	SHA1   Algorithm = "sha1"
	SHA512 Algorithm = "sha512"
)

// Encoding controls how a signature digest is rendered in a header.
type Encoding string

const (
	Hex    Encoding = "hex"
	Base64 Encoding = "base64"
)

// DefaultHeader is the outbound signature header when none is configured.
const DefaultHeader = "X-Webhook-Signature"

func (a Algorithm) hasher() (func() hash.Hash, error) {
	switch a {
	case SHA256, "":
		return sha256.New, nil
	case SHA1:
		return sha1.New, nil
	case SHA512:
		return sha512.New, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, string(a))
	}
}

// Valid reports whether the algorithm is supported.
func (a Algorithm) Valid() bool {
	_, err := a.hasher()
	return err == nil
}

// Request is the part of an HTTP request a validator looks at.
// Body must be the exact raw bytes received.
type Request struct {
	Body   []byte
	Header http.Header
}

// Validator verifies that a request was produced by the holder of secret.
// Implementations must be safe for concurrent use.
type Validator interface {
	Validate(req Request, secret string) bool
}

// Digest computes the raw HMAC of payload.
func Digest(payload []byte, secret string, algo Algorithm) ([]byte, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}
	h, err := algo.hasher()
	if err != nil {
		return nil, err
	}
	mac := hmac.New(h, []byte(secret))
	mac.Write(payload)
	return mac.Sum(nil), nil
}

// Sign returns the hex encoded HMAC of payload. The payload must be the exact
// bytes that go over the wire.
func Sign(payload []byte, secret string, algo Algorithm) (string, error) {
	sum, err := Digest(payload, secret, algo)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(sum), nil
}

// SignTimestamped signs "timestamp.payload", which binds the signature to the
// send time and lets receivers reject replays.
func SignTimestamped(payload []byte, secret string, algo Algorithm, timestamp int64) (string, error) {
	return Sign(timestampedBase(strconv.FormatInt(timestamp, 10), payload), secret, algo)
}

// Verify checks a hex signature produced by Sign in constant time.
func Verify(payload []byte, secret string, algo Algorithm, sig string) bool {
	expected, err := Digest(payload, secret, algo)
	if err != nil {
		return false
	}
	got, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}
	return hmac.Equal(expected, got)
}

func timestampedBase(ts string, body []byte) []byte {
	buf := make([]byte, 0, len(ts)+1+len(body))
	buf = append(buf, ts...)
	buf = append(buf, '.')
	return append(buf, body...)
}

func decode(enc Encoding, s string) ([]byte, error) {
	if enc == Base64 {
		return base64.StdEncoding.DecodeString(s)
	}
	return hex.DecodeString(s)
}

func constantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
