package catalog

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrUnavailable wraps network failures, timeouts and an open circuit breaker.
	ErrUnavailable = errors.New("catalog service unavailable")
	// ErrMalformed is returned when a response does not have the expected shape.
	ErrMalformed = errors.New("malformed catalog response")
)

// APIError is a non-2xx answer from the catalog service.
type APIError struct {
	Op     string
	Status int
	Detail string
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("catalog %s: %d %s: %s", e.Op, e.Status, http.StatusText(e.Status), e.Detail)
	}
	return fmt.Sprintf("catalog %s: %d %s", e.Op, e.Status, http.StatusText(e.Status))
}

// IsValidation reports a 4xx answer. These go back to the caller as-is and are never retried.
func IsValidation(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status >= 400 && apiErr.Status < 500
}

// IsNotFound reports a 404 answer.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

// IsTransient reports failures that mean "cannot reach the service right now":
// network errors, timeouts, an open breaker and 5xx answers.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrUnavailable) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status >= 500
}

// Detail returns the user-facing message carried by a validation error, or err's text.
func Detail(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Detail != "" {
		return apiErr.Detail
	}
	return err.Error()
}
