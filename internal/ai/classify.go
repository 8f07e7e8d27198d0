package ai

import (
	"context"
	"errors"
	"strings"
)

// IsTransient reports whether an error is worth waiting out and repeating
// unchanged: timeouts, rate limits, provider 5xx and network flaps.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var rateLimitErr *RateLimitError
	if errors.As(err, &rateLimitErr) {
		return true
	}

	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		if httpErr.StatusCode >= 500 && httpErr.StatusCode < 600 {
			return true
		}
		if httpErr.StatusCode == 429 {
			return true
		}
	}

	errStr := strings.ToLower(err.Error())
	if strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "network") ||
		strings.Contains(errStr, "eof") {
		return true
	}

	return false
}

// IsFatal reports whether an error must not be retried: unsupported engines,
// payload-construction failures and client-side HTTP 4xx (except 429).
func IsFatal(err error) bool {
	if err == nil {
		return false
	}

	var engErr *UnsupportedEngineError
	if errors.As(err, &engErr) {
		return true
	}

	var payloadErr *PayloadError
	if errors.As(err, &payloadErr) {
		return true
	}

	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		if httpErr.StatusCode >= 400 && httpErr.StatusCode < 500 && httpErr.StatusCode != 429 {
			return true
		}
	}

	errStr := strings.ToLower(err.Error())
	if strings.Contains(errStr, "invalid request") ||
		strings.Contains(errStr, "bad request") ||
		strings.Contains(errStr, "malformed") {
		return true
	}

	return false
}

// IsPayload reports whether an error is a local payload-construction
// failure, which surfaces immediately without consuming the retry budget.
func IsPayload(err error) bool {
	var payloadErr *PayloadError
	return errors.As(err, &payloadErr)
}
