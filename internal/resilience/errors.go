package resilience

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"syscall"
)

// Cause names why a failed portal exchange may succeed on another attempt.
type Cause int

const (
	// CauseNone marks a failure that retrying cannot clear.
	CauseNone Cause = iota
	// CauseThrottled is a 429 from the dashboard.
	CauseThrottled
	// CauseUnavailable is a 408 or a 5xx page, which the analytics server
	// serves while it rebuilds a session.
	CauseUnavailable
	// CauseTransport is a dropped connection or a truncated response body.
	CauseTransport
	// CauseStalled is an export that never reported ready.
	CauseStalled
)

func (c Cause) String() string {
	switch c {
	case CauseThrottled:
		return "throttled"
	case CauseUnavailable:
		return "unavailable"
	case CauseTransport:
		return "transport"
	case CauseStalled:
		return "stalled"
	default:
		return "permanent"
	}
}

// RetryableError is a failure another attempt may clear. Status is the HTTP
// status that produced it, or 0.
type RetryableError struct {
	Cause  Cause
	Status int
	Err    error
}

func (e *RetryableError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s (%d): %v", e.Cause, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Cause, e.Err)
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// Retryable tags err with cause.
func Retryable(cause Cause, err error) *RetryableError {
	return &RetryableError{Cause: cause, Err: err}
}

// StatusCause maps a portal response status to its retry cause.
func StatusCause(code int) Cause {
	switch {
	case code == http.StatusTooManyRequests:
		return CauseThrottled
	case code == http.StatusRequestTimeout,
		code == http.StatusInternalServerError,
		code == http.StatusBadGateway,
		code == http.StatusServiceUnavailable,
		code == http.StatusGatewayTimeout:
		return CauseUnavailable
	default:
		return CauseNone
	}
}

// Dropped connections surface from net/http as plain strings often enough
// that matching the text is the only reliable check.
var droppedConnection = []string{
	"connection reset by peer",
	"broken pipe",
	"server closed idle connection",
	"tls handshake timeout",
}

// CauseOf returns the retry cause carried by err. Untagged network timeouts
// and dropped connections count as CauseTransport.
func CauseOf(err error) Cause {
	if err == nil {
		return CauseNone
	}

	var re *RetryableError
	if errors.As(err, &re) {
		return re.Cause
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return CauseTransport
	}
	if errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return CauseTransport
	}

	msg := strings.ToLower(err.Error())
	for _, s := range droppedConnection {
		if strings.Contains(msg, s) {
			return CauseTransport
		}
	}
	return CauseNone
}

// IsRetryable reports whether err is worth another attempt.
func IsRetryable(err error) bool {
	return CauseOf(err) != CauseNone
}
