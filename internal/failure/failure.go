// Package failure defines the typed errors surfaced by the gateway.
package failure

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Kind names a failure category.
type Kind string

const (
	KindConfiguration        Kind = "configuration"
	KindRateLimited          Kind = "rate_limited"
	KindCircuitOpen          Kind = "circuit_open"
	KindUpstream             Kind = "upstream"
	KindTimeoutOrNetwork     Kind = "timeout_or_network"
	KindEmptyGeneration      Kind = "empty_generation"
	KindLedgerUnavailable    Kind = "ledger_unavailable"
	KindRetryLimit           Kind = "retry_limit"
	KindInsufficientSessions Kind = "insufficient_sessions"
	KindInvalidRequest       Kind = "invalid_request"
	KindInternal             Kind = "internal"
)

// Classified is implemented by every gateway failure.
type Classified interface {
	error
	Kind() Kind
	HTTPStatus() int
}

// ConfigurationError reports missing or invalid gateway configuration.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string   { return "gateway misconfigured: " + e.Reason }
func (e *ConfigurationError) Kind() Kind      { return KindConfiguration }
func (e *ConfigurationError) HTTPStatus() int { return http.StatusInternalServerError }

// RateLimitedError reports that a caller exceeded its request quota.
type RateLimitedError struct {
	Key     string
	ResetAt time.Time
	// RetryAfter is the time left until the window resets.
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited: retry after %s", e.RetryAfter.Round(time.Second))
}
func (e *RateLimitedError) Kind() Kind      { return KindRateLimited }
func (e *RateLimitedError) HTTPStatus() int { return http.StatusTooManyRequests }

// CircuitOpenError reports that a tier's breaker refused the call.
type CircuitOpenError struct {
	Tier       string
	RetryAfter time.Duration
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("tier %s temporarily unavailable", e.Tier)
}
func (e *CircuitOpenError) Kind() Kind      { return KindCircuitOpen }
func (e *CircuitOpenError) HTTPStatus() int { return http.StatusServiceUnavailable }

// UpstreamError reports a non-2xx response from the provider.
type UpstreamError struct {
	Status     int
	Code       string
	Message    string
	RequestID  string
	RetryAfter time.Duration
}

func (e *UpstreamError) Error() string {
	msg := fmt.Sprintf("upstream status %d", e.Status)
	if e.Code != "" {
		msg += " (" + e.Code + ")"
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.RequestID != "" {
		msg += " [request " + e.RequestID + "]"
	}
	return msg
}
func (e *UpstreamError) Kind() Kind { return KindUpstream }

// HTTPStatus maps provider failures onto gateway statuses.
func (e *UpstreamError) HTTPStatus() int {
	if e.Status == http.StatusGatewayTimeout {
		return http.StatusGatewayTimeout
	}
	return http.StatusBadGateway
}

// Retryable reports whether the status is worth another attempt.
func (e *UpstreamError) Retryable() bool {
	return RetryableStatus(e.Status)
}

// RetryableStatus reports whether an upstream status is transient.
func RetryableStatus(status int) bool {
	switch status {
	case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// TimeoutOrNetworkError reports a transport failure talking to the provider.
type TimeoutOrNetworkError struct {
	Timeout bool
	Err     error
}

func (e *TimeoutOrNetworkError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("upstream timeout: %v", e.Err)
	}
	return fmt.Sprintf("upstream network error: %v", e.Err)
}
func (e *TimeoutOrNetworkError) Unwrap() error   { return e.Err }
func (e *TimeoutOrNetworkError) Kind() Kind      { return KindTimeoutOrNetwork }
func (e *TimeoutOrNetworkError) HTTPStatus() int { return http.StatusGatewayTimeout }

// EmptyGenerationError reports a 2xx response without usable content.
type EmptyGenerationError struct {
	RequestID string
}

func (e *EmptyGenerationError) Error() string   { return "upstream returned no content" }
func (e *EmptyGenerationError) Kind() Kind      { return KindEmptyGeneration }
func (e *EmptyGenerationError) HTTPStatus() int { return http.StatusBadGateway }

// LedgerUnavailableError reports a failed ledger call.
type LedgerUnavailableError struct {
	Op  string
	Err error
}

func (e *LedgerUnavailableError) Error() string {
	return fmt.Sprintf("ledger %s failed: %v", e.Op, e.Err)
}
func (e *LedgerUnavailableError) Unwrap() error   { return e.Err }
func (e *LedgerUnavailableError) Kind() Kind      { return KindLedgerUnavailable }
func (e *LedgerUnavailableError) HTTPStatus() int { return http.StatusInternalServerError }

// RetryLimitError reports an attempt loop that ended without an outcome.
type RetryLimitError struct {
	Attempts int
}

func (e *RetryLimitError) Error() string {
	return fmt.Sprintf("upstream retry limit reached after %d attempts", e.Attempts)
}
func (e *RetryLimitError) Kind() Kind      { return KindRetryLimit }
func (e *RetryLimitError) HTTPStatus() int { return http.StatusBadGateway }

// InsufficientSessionsError reports that the ledger declined to consume a credit.
type InsufficientSessionsError struct {
	UserID    string
	Plan      string
	Remaining int64
}

func (e *InsufficientSessionsError) Error() string {
	return fmt.Sprintf("no %s sessions remaining", e.Plan)
}
func (e *InsufficientSessionsError) Kind() Kind      { return KindInsufficientSessions }
func (e *InsufficientSessionsError) HTTPStatus() int { return http.StatusPaymentRequired }

// InvalidRequestError reports a generation request the gateway cannot run.
type InvalidRequestError struct {
	Reason string
}

func (e *InvalidRequestError) Error() string   { return "invalid request: " + e.Reason }
func (e *InvalidRequestError) Kind() Kind      { return KindInvalidRequest }
func (e *InvalidRequestError) HTTPStatus() int { return http.StatusBadRequest }

// KindOf returns the kind of the first classified error in err's chain.
func KindOf(err error) Kind {
	var classified Classified
	if errors.As(err, &classified) {
		return classified.Kind()
	}
	return KindInternal
}

// StatusOf returns the HTTP status for err.
func StatusOf(err error) int {
	var classified Classified
	if errors.As(err, &classified) {
		return classified.HTTPStatus()
	}
	return http.StatusInternalServerError
}

// RetryAfterOf returns the retry hint carried by err, if any.
func RetryAfterOf(err error) time.Duration {
	var limited *RateLimitedError
	if errors.As(err, &limited) {
		return limited.RetryAfter
	}
	var open *CircuitOpenError
	if errors.As(err, &open) {
		return open.RetryAfter
	}
	var upstream *UpstreamError
	if errors.As(err, &upstream) {
		return upstream.RetryAfter
	}
	return 0
}
