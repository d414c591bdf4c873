package circuit

import (
	"errors"
	"fmt"
	"time"
)

var ErrOpen = errors.New("circuit breaker is open")

// OpenError is returned when a destination's circuit rejects a call.
type OpenError struct {
	Destination  string
	FailureCount int
	ReopenAt     time.Time
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("circuit open for %s after %d failures, reopens at %s",
		e.Destination, e.FailureCount, e.ReopenAt.UTC().Format(time.RFC3339))
}

func (e *OpenError) Unwrap() error { return ErrOpen }

// IsOpen reports whether err was caused by an open circuit.
func IsOpen(err error) bool {
	return errors.Is(err, ErrOpen)
}

// AsOpen extracts the *OpenError from err.
func AsOpen(err error) (*OpenError, bool) {
	var oe *OpenError
	ok := errors.As(err, &oe)
	return oe, ok
}
