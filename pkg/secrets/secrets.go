package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"io"
	"strings"
)

// prefix marks values produced by Cipher so plaintext rows written before
// encryption was enabled can still be read.
const prefix = "enc:v1:"

// Config holds the master key. An empty key disables encryption.
type Config struct {
	Key string `env:"SECRETS_KEY"`
}

// Cipher encrypts short secrets such as endpoint signing keys at rest. Every
// scope (an endpoint or inbound source ID) gets its own HKDF-derived AES-GCM key.
type Cipher struct {
	master []byte
}

// New returns a Cipher for master, which must be KeySize bytes.
func New(master []byte) (*Cipher, error) {
	if len(master) != KeySize {
		return nil, ErrInvalidKey
	}
	return &Cipher{master: append([]byte(nil), master...)}, nil
}

// FromConfig parses cfg.Key. It returns a nil Cipher, which passes values through,
// when no key is configured.
func FromConfig(cfg Config) (*Cipher, error) {
	if cfg.Key == "" {
		return nil, nil
	}
	key, err := ParseKey(cfg.Key)
	if err != nil {
		return nil, err
	}
	return New(key)
}

// Encrypt seals plaintext for scope. A nil Cipher and empty input are returned unchanged.
func (c *Cipher) Encrypt(scope, plaintext string) (string, error) {
	if c == nil || plaintext == "" {
		return plaintext, nil
	}
	gcm, err := c.aead(scope)
	if err != nil {
		return "", errors.Join(ErrEncryptionFailed, err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", errors.Join(ErrEncryptionFailed, err)
	}
	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), []byte(scope))
	return prefix + base64.RawStdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a value produced by Encrypt for the same scope. Values without
// the encryption prefix are returned as is.
func (c *Cipher) Decrypt(scope, value string) (string, error) {
	encoded, ok := strings.CutPrefix(value, prefix)
	if !ok {
		return value, nil
	}
	if c == nil {
		return "", ErrNoKey
	}
	raw, err := base64.RawStdEncoding.DecodeString(encoded)
	if err != nil {
		return "", errors.Join(ErrInvalidCiphertext, err)
	}
	gcm, err := c.aead(scope)
	if err != nil {
		return "", errors.Join(ErrDecryptionFailed, err)
	}
	if len(raw) < gcm.NonceSize() {
		return "", ErrInvalidCiphertext
	}
	nonce, sealed := raw[:gcm.NonceSize()], raw[gcm.NonceSize():]
	plain, err := gcm.Open(nil, nonce, sealed, []byte(scope))
	if err != nil {
		return "", errors.Join(ErrDecryptionFailed, err)
	}
	return string(plain), nil
}

// IsEncrypted reports whether value carries the encryption prefix.
func IsEncrypted(value string) bool {
	return strings.HasPrefix(value, prefix)
}

func (c *Cipher) aead(scope string) (cipher.AEAD, error) {
	key, err := deriveKey(c.master, scope)
	if err != nil {
		return nil, err
	}
	defer clear32(key)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
