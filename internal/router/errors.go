package router

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/semantrix/genroute/internal/models"
	"go.uber.org/multierr"
)

var (
	// ErrNoProviders is returned by New when no provider is configured.
	ErrNoProviders = errors.New("no providers configured")

	// ErrUnknownProvider is returned when a request names an unregistered provider.
	ErrUnknownProvider = errors.New("unknown provider")

	// ErrAllProvidersFailed matches every *AllProvidersFailedError.
	ErrAllProvidersFailed = errors.New("all providers failed")

	// ErrProviderUnhealthy is recorded for candidates skipped because of a fresh unhealthy verdict.
	ErrProviderUnhealthy = errors.New("provider marked unhealthy")

	// ErrInvalidRequest is returned for a nil generation request.
	ErrInvalidRequest = errors.New("invalid generation request")
)

// Attempt records what happened to one provider while serving a request.
type Attempt struct {
	Provider string `json:"provider"`
	Err      error  `json:"-"`
	Skipped  bool   `json:"skipped"`
}

// AllProvidersFailedError is returned when neither the selected provider nor
// any fallback candidate produced a result. It unwraps to every attempt error.
type AllProvidersFailedError struct {
	OriginalProvider string
	Attempts         []Attempt
	errs             error
}

func newAllProvidersFailedError(original string, attempts []Attempt) *AllProvidersFailedError {
	var errs error
	for _, a := range attempts {
		errs = multierr.Append(errs, fmt.Errorf("%s: %w", a.Provider, a.Err))
	}
	return &AllProvidersFailedError{
		OriginalProvider: original,
		Attempts:         attempts,
		errs:             errs,
	}
}

// Error implements the error interface.
func (e *AllProvidersFailedError) Error() string {
	if len(e.Attempts) == 0 {
		return ErrAllProvidersFailed.Error()
	}
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, fmt.Sprintf("%s: %v", a.Provider, a.Err))
	}
	return fmt.Sprintf("%s: %s", ErrAllProvidersFailed, strings.Join(parts, "; "))
}

// Is reports whether target is ErrAllProvidersFailed.
func (e *AllProvidersFailedError) Is(target error) bool {
	return target == ErrAllProvidersFailed
}

// Unwrap returns the per-attempt errors.
func (e *AllProvidersFailedError) Unwrap() []error {
	return multierr.Errors(e.errs)
}

// errorType classifies an error for metric labels.
func errorType(err error) string {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "canceled"
	}
	var perr *models.ProviderError
	if !errors.As(err, &perr) {
		return "other"
	}
	switch {
	case perr.StatusCode == http.StatusTooManyRequests:
		return "rate_limited"
	case perr.StatusCode == http.StatusUnauthorized || perr.StatusCode == http.StatusForbidden:
		return "auth"
	case perr.StatusCode >= http.StatusInternalServerError:
		return "server"
	case perr.StatusCode >= http.StatusBadRequest:
		return "client"
	case perr.Retryable:
		return "network"
	default:
		return "response"
	}
}
