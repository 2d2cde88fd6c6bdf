package modelclient

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ClientError wraps hosted API errors with status metadata.
type ClientError struct {
	Status    int
	Temporary bool
	Err       error
}

func (e *ClientError) Error() string {
	if e == nil {
		return "model client error"
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("model client error (status=%d)", e.Status)
}

func (e *ClientError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// IsTransient reports whether an error is safe for a caller to retry with
// a fresh run. The pipeline itself never retries.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var clientErr *ClientError
	if errors.As(err, &clientErr) {
		if clientErr.Temporary {
			return true
		}
		if clientErr.Status == 429 || (clientErr.Status >= 500 && clientErr.Status <= 599) {
			return true
		}
	}
	return false
}
