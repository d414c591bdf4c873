package inbound

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrUnknownSource    = errors.New("unknown webhook source")
	ErrEventNotFound    = errors.New("inbound event not found")
	ErrPayloadTooLarge  = errors.New("webhook payload too large")
	ErrInvalidSource    = errors.New("invalid source configuration")
)

// InvalidSignatureError is returned when a source requires a valid signature
// and the request does not carry one. The message never says which part failed.
type InvalidSignatureError struct {
	Source    string
	Signature string
}

func (e *InvalidSignatureError) Error() string {
	return fmt.Sprintf("invalid signature for source %q", e.Source)
}

func (e *InvalidSignatureError) Unwrap() error { return ErrInvalidSignature }
