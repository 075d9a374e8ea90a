package transmit

import (
	"errors"
	"fmt"
	"time"
)

// Error taxonomy. Wrapped errors keep these as their root so callers can
// branch with errors.Is.
var (
	ErrConfiguration    = errors.New("invalid configuration")
	ErrResolution       = errors.New("host resolution failed")
	ErrBind             = errors.New("socket could not be opened")
	ErrSocketClosed     = errors.New("socket closed")
	ErrIO               = errors.New("transport failure")
	ErrRateLimited      = errors.New("rate limit rejected")
	ErrEncoding         = errors.New("malformed hex payload")
	ErrNotConnected     = errors.New("not connected")
	ErrAlreadyConnected = errors.New("already connected")
	ErrBurstInProgress  = errors.New("burst already in progress")
	ErrConnectAborted   = errors.New("connect aborted by disconnect")
)

// ErrorKind classifies a failed send or receive attempt.
type ErrorKind string

const (
	KindNone         ErrorKind = ""
	KindRateLimited  ErrorKind = "rate_limited"
	KindSocketClosed ErrorKind = "socket_closed"
	KindIOFailure    ErrorKind = "io_failure"
	KindEncoding     ErrorKind = "encoding"
	KindNotConnected ErrorKind = "not_connected"
)

// KindOf maps an error onto its ErrorKind.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrRateLimited):
		return KindRateLimited
	case errors.Is(err, ErrSocketClosed):
		return KindSocketClosed
	case errors.Is(err, ErrEncoding):
		return KindEncoding
	case errors.Is(err, ErrNotConnected):
		return KindNotConnected
	default:
		return KindIOFailure
	}
}

// RateLimitError reports a send rejected by the rate limiter.
type RateLimitError struct {
	Remaining time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit rejected, retry in %dms", e.Remaining.Milliseconds())
}

func (e *RateLimitError) Unwrap() error {
	return ErrRateLimited
}
