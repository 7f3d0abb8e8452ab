package scraper

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/aluiziolira/go-scrape-policies/models"
)

// ErrInvalidInput indicates a URL that cannot be requested at all.
type ErrInvalidInput struct {
	URL string
}

func (e ErrInvalidInput) Error() string {
	return fmt.Sprintf("invalid URL format: %q", e.URL)
}

// ErrTimeout indicates a timeout while issuing a request.
type ErrTimeout struct {
	Err error
}

func (e ErrTimeout) Error() string {
	return fmt.Errorf("timeout: %w", e.Err).Error()
}

func (e ErrTimeout) Unwrap() error {
	return e.Err
}

// ErrConnection indicates a network connectivity failure.
type ErrConnection struct {
	Err error
}

func (e ErrConnection) Error() string {
	return fmt.Errorf("connection: %w", e.Err).Error()
}

func (e ErrConnection) Unwrap() error {
	return e.Err
}

// ErrMalformed indicates a response body that could not be decoded.
type ErrMalformed struct {
	Err error
}

func (e ErrMalformed) Error() string {
	return fmt.Errorf("malformed response: %w", e.Err).Error()
}

func (e ErrMalformed) Unwrap() error {
	return e.Err
}

// ErrRateLimited indicates the remote service answered HTTP 429.
type ErrRateLimited struct {
	StatusCode int
}

func (e ErrRateLimited) Error() string {
	return fmt.Sprintf("rate_limited: status %d", e.StatusCode)
}

// ErrProvider indicates a non-retryable answer: an HTTP error other than
// 429, or a response without usable data.
type ErrProvider struct {
	StatusCode int
	Message    string
}

func (e ErrProvider) Error() string {
	if e.StatusCode != 0 && e.Message == "" {
		return fmt.Sprintf("Status %d", e.StatusCode)
	}
	return e.Message
}

// ErrRetriesExhausted indicates every attempt failed with a retryable error.
type ErrRetriesExhausted struct {
	Attempts int
	Last     error
}

func (e ErrRetriesExhausted) Error() string {
	return fmt.Sprintf("max retries exceeded after %d attempts", e.Attempts)
}

func (e ErrRetriesExhausted) Unwrap() error {
	return e.Last
}

// classifyNetError wraps transport failures so they can be labelled.
func classifyNetError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout{Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrTimeout{Err: err}
	}
	return ErrConnection{Err: err}
}

// errorKind maps an error to the record error kind it is persisted as.
func errorKind(err error) string {
	var invalid ErrInvalidInput
	if errors.As(err, &invalid) {
		return models.KindInvalidInput
	}
	var exhausted ErrRetriesExhausted
	if errors.As(err, &exhausted) {
		return models.KindRetriesExhausted
	}
	var rateLimited ErrRateLimited
	if errors.As(err, &rateLimited) {
		return models.KindRateLimited
	}
	var provider ErrProvider
	if errors.As(err, &provider) {
		return models.KindProvider
	}
	return models.KindTransient
}

// errorTypeLabel is the metrics label for err.
func errorTypeLabel(err error) string {
	if err == nil {
		return "unknown"
	}
	var exhausted ErrRetriesExhausted
	if errors.As(err, &exhausted) {
		return models.KindRetriesExhausted
	}
	var timeout ErrTimeout
	if errors.As(err, &timeout) {
		return "timeout"
	}
	var conn ErrConnection
	if errors.As(err, &conn) {
		return "connection"
	}
	var malformed ErrMalformed
	if errors.As(err, &malformed) {
		return "malformed"
	}
	return errorKind(err)
}

// recordError converts err into its persisted form.
func recordError(err error, attempts int) *models.RecordError {
	if err == nil {
		return nil
	}
	re := &models.RecordError{
		Kind:     errorKind(err),
		Message:  err.Error(),
		Attempts: attempts,
	}
	var provider ErrProvider
	if errors.As(err, &provider) {
		re.StatusCode = provider.StatusCode
	}
	return re
}
