package limiter

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"syscall"
)

// HTTPStatusError carries an upstream HTTP status so the limiter can classify
// it without parsing error strings.
type HTTPStatusError struct {
	Status int
	Body   string
}

// Error implements the error interface.
func (e *HTTPStatusError) Error() string {
	msg := "upstream returned status " + strconv.Itoa(e.Status)
	if e.Body != "" {
		msg += ": " + e.Body
	}

	return msg
}

// Transient reports whether an error is worth retrying: timeouts, HTTP 429
// and 5xx, and transport-level resets. Context cancellation is never
// transient — it means the caller gave up.
func Transient(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		return statusErr.Status == http.StatusTooManyRequests || statusErr.Status >= 500
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.EPIPE) {
		return true
	}

	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return true
	}

	return false
}
