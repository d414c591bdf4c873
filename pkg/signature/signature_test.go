package signature_test

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/hookrelay/pkg/signature"
)

func request(body string, headers map[string]string) signature.Request {
	h := http.Header{}
	for k, v := range headers {
		h.Set(k, v)
	}
	return signature.Request{Body: []byte(body), Header: h}
}

func TestSign(t *testing.T) {
	t.Parallel()

	t.Run("matches manual hmac", func(t *testing.T) {
		t.Parallel()

		payload := []byte(`{"event":"order.created"}`)
		mac := hmac.New(sha256.New, []byte("secret"))
		mac.Write(payload)

		sig, err := signature.Sign(payload, "secret", signature.SHA256)
		require.NoError(t, err)
		assert.Equal(t, hex.EncodeToString(mac.Sum(nil)), sig)
	})

	t.Run("algorithms produce different lengths", func(t *testing.T) {
		t.Parallel()

		payload := []byte("x")
		s1, err := signature.Sign(payload, "k", signature.SHA1)
		require.NoError(t, err)
		s256, err := signature.Sign(payload, "k", signature.SHA256)
		require.NoError(t, err)
		s512, err := signature.Sign(payload, "k", signature.SHA512)
		require.NoError(t, err)

		assert.Len(t, s1, 40)
		assert.Len(t, s256, 64)
		assert.Len(t, s512, 128)
	})

	t.Run("empty secret", func(t *testing.T) {
		t.Parallel()

		_, err := signature.Sign([]byte("x"), "", signature.SHA256)
		assert.ErrorIs(t, err, signature.ErrEmptySecret)
	})

	t.Run("unsupported algorithm", func(t *testing.T) {
		t.Parallel()

		_, err := signature.Sign([]byte("x"), "k", signature.Algorithm("md5"))
		assert.ErrorIs(t, err, signature.ErrUnsupportedAlgorithm)
		assert.False(t, signature.Algorithm("md5").Valid())
		assert.True(t, signature.SHA512.Valid())
	})
}

func TestRoundTrip(t *testing.T) {
	t.Parallel()

	payloads := []string{"", "{}", `{"a":1}`, "plain text", string([]byte{0, 1, 2, 255})}
	v := signature.HMAC{}

	for _, p := range payloads {
		sig, err := signature.Sign([]byte(p), "topsecret", signature.SHA256)
		require.NoError(t, err)

		req := request(p, map[string]string{signature.DefaultHeader: sig})
		assert.True(t, v.Validate(req, "topsecret"), "payload %q", p)
		assert.False(t, v.Validate(req, "topsecreT"), "payload %q with wrong secret", p)

		if len(p) > 0 {
			flipped := []byte(p)
			flipped[0] ^= 0x01
			req.Body = flipped
			assert.False(t, v.Validate(req, "topsecret"), "payload %q flipped", p)
		}
	}

	assert.True(t, signature.Verify([]byte("abc"), "k", signature.SHA256, mustSign(t, "abc", "k")))
	assert.False(t, signature.Verify([]byte("abd"), "k", signature.SHA256, mustSign(t, "abc", "k")))
	assert.False(t, signature.Verify([]byte("abc"), "k", signature.SHA256, "not-hex"))
}

func mustSign(t *testing.T, payload, secret string) string {
	t.Helper()
	sig, err := signature.Sign([]byte(payload), secret, signature.SHA256)
	require.NoError(t, err)
	return sig
}

func TestHMAC_Variants(t *testing.T) {
	t.Parallel()

	body := `{"id":42}`

	t.Run("prefix required", func(t *testing.T) {
		t.Parallel()

		v := signature.HMAC{Header: "X-Hub-Signature-256", Prefix: "sha256="}
		sig := mustSign(t, body, "s")

		assert.True(t, v.Validate(request(body, map[string]string{"X-Hub-Signature-256": "sha256=" + sig}), "s"))
		assert.False(t, v.Validate(request(body, map[string]string{"X-Hub-Signature-256": sig}), "s"))
	})

	t.Run("base64", func(t *testing.T) {
		t.Parallel()

		mac := hmac.New(sha256.New, []byte("s"))
		mac.Write([]byte(body))
		sig := base64.StdEncoding.EncodeToString(mac.Sum(nil))

		v := signature.HMAC{Header: "X-Shopify-Hmac-Sha256", Encoding: signature.Base64}
		assert.True(t, v.Validate(request(body, map[string]string{"X-Shopify-Hmac-Sha256": sig}), "s"))
		assert.False(t, v.Validate(request(body+" ", map[string]string{"X-Shopify-Hmac-Sha256": sig}), "s"))
	})

	t.Run("missing header", func(t *testing.T) {
		t.Parallel()

		assert.False(t, signature.HMAC{}.Validate(request(body, nil), "s"))
	})

	t.Run("timestamp binding", func(t *testing.T) {
		t.Parallel()

		now := time.Unix(1_700_000_000, 0)
		ts := now.Unix()
		sig, err := signature.SignTimestamped([]byte(body), "s", signature.SHA256, ts)
		require.NoError(t, err)

		v := signature.HMAC{
			TimestampHeader: "X-Webhook-Timestamp",
			Tolerance:       5 * time.Minute,
			Now:             func() time.Time { return now },
		}
		headers := map[string]string{
			signature.DefaultHeader: sig,
			"X-Webhook-Timestamp":   strconv.FormatInt(ts, 10),
		}
		assert.True(t, v.Validate(request(body, headers), "s"))

		stale := v
		stale.Now = func() time.Time { return now.Add(10 * time.Minute) }
		assert.False(t, stale.Validate(request(body, headers), "s"))

		headers["X-Webhook-Timestamp"] = strconv.FormatInt(ts+1, 10)
		assert.False(t, v.Validate(request(body, headers), "s"))
	})
}

func TestStripe(t *testing.T) {
	t.Parallel()

	body := `{"type":"payment_intent.succeeded"}`
	now := time.Unix(1_700_000_000, 0)
	sig, err := signature.SignTimestamped([]byte(body), "whsec", signature.SHA256, now.Unix())
	require.NoError(t, err)

	v := signature.Stripe{Tolerance: time.Minute, Now: func() time.Time { return now }}

	header := fmt.Sprintf("t=%d,v1=%s", now.Unix(), sig)
	assert.True(t, v.Validate(request(body, map[string]string{"Stripe-Signature": header}), "whsec"))

	rolled := fmt.Sprintf("t=%d,v1=%s,v1=%s", now.Unix(), "deadbeef", sig)
	assert.True(t, v.Validate(request(body, map[string]string{"Stripe-Signature": rolled}), "whsec"))

	assert.False(t, v.Validate(request(body, map[string]string{"Stripe-Signature": "v1=" + sig}), "whsec"))
	assert.False(t, v.Validate(request(body, map[string]string{"Stripe-Signature": header}), "other"))
}

func TestSlackProvider(t *testing.T) {
	t.Parallel()

	v, err := signature.ForProvider("slack")
	require.NoError(t, err)

	body := "token=x&team_id=T1"
	ts := "1531420618"
	mac := hmac.New(sha256.New, []byte("slack-secret"))
	mac.Write([]byte("v0:" + ts + ":" + body))
	sig := "v0=" + hex.EncodeToString(mac.Sum(nil))

	req := request(body, map[string]string{
		"X-Slack-Signature":         sig,
		"X-Slack-Request-Timestamp": ts,
	})
	assert.True(t, v.Validate(req, "slack-secret"))
}

func TestStaticCredentials(t *testing.T) {
	t.Parallel()

	t.Run("api key", func(t *testing.T) {
		t.Parallel()

		v := signature.APIKey{}
		assert.True(t, v.Validate(request("", map[string]string{"X-API-Key": "k1"}), "k1"))
		assert.False(t, v.Validate(request("", map[string]string{"X-API-Key": "k2"}), "k1"))
		assert.False(t, v.Validate(request("", nil), ""))

		bearer := signature.APIKey{Header: "Authorization", Prefix: "Bearer "}
		assert.True(t, bearer.Validate(request("", map[string]string{"Authorization": "Bearer k1"}), "k1"))
	})

	t.Run("basic", func(t *testing.T) {
		t.Parallel()

		auth := "Basic " + base64.StdEncoding.EncodeToString([]byte("user:pass"))
		v := signature.Basic{}
		assert.True(t, v.Validate(request("", map[string]string{"Authorization": auth}), "user:pass"))
		assert.False(t, v.Validate(request("", map[string]string{"Authorization": auth}), "user:other"))
		assert.False(t, v.Validate(request("", map[string]string{"Authorization": "Bearer x"}), "user:pass"))
	})

	t.Run("jwt", func(t *testing.T) {
		t.Parallel()

		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"iss": "billing"}).
			SignedString([]byte("jwt-secret"))
		require.NoError(t, err)

		v := signature.JWT{Issuer: "billing"}
		req := request("{}", map[string]string{"Authorization": "Bearer " + token})
		assert.True(t, v.Validate(req, "jwt-secret"))
		assert.False(t, v.Validate(req, "wrong"))
		assert.False(t, signature.JWT{Issuer: "other"}.Validate(req, "jwt-secret"))
	})
}

func TestRegistry(t *testing.T) {
	t.Parallel()

	reg := signature.NewRegistry()

	v, err := reg.Validator("")
	require.NoError(t, err)
	assert.IsType(t, signature.HMAC{}, v)

	_, err = reg.Validator("nope")
	assert.ErrorIs(t, err, signature.ErrUnknownProvider)

	reg.Register("partner", func() signature.Validator {
		return signature.APIKey{Header: "X-Partner-Token"}
	})
	v, err = reg.Validator("partner")
	require.NoError(t, err)
	assert.True(t, v.Validate(request("", map[string]string{"X-Partner-Token": "t"}), "t"))
	assert.Contains(t, reg.Providers(), "partner")

	_, err = signature.ForProvider("partner")
	assert.ErrorIs(t, err, signature.ErrUnknownProvider, "registration does not leak into built-ins")
}
