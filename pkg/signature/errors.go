package signature

import "errors"

var (
	ErrUnsupportedAlgorithm = errors.New("unsupported signature algorithm")
	ErrEmptySecret          = errors.New("signing secret is empty")
	ErrUnknownProvider      = errors.New("unknown signature provider")
)
