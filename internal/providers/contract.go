package providers

import (
	"fmt"
	"strconv"
)

// StatusError captures a non-200 HTTP response from a provider backend.
// Adapters return it from Generate so the router can log the status and
// body without parsing free-form error strings.
type StatusError struct {
	StatusCode     int
	Body           string
	RetryAfterSecs int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("API error (status %d): %s", e.StatusCode, e.Body)
}

// ParseRetryAfter records the Retry-After header value when it is a plain
// number of seconds. Empty or non-numeric values are ignored.
func (e *StatusError) ParseRetryAfter(v string) {
	if v == "" {
		return
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		e.RetryAfterSecs = secs
	}
}
