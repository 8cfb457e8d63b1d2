package problems

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Kind classifies every failure the connection manager reports to callers.
type Kind string

const (
	AuthorizationDenied     Kind = "authorization_denied"
	InvalidOrExpiredState   Kind = "invalid_or_expired_state"
	TokenExchangeFailed     Kind = "token_exchange_failed"
	ReauthorizationRequired Kind = "reauthorization_required"
	Forbidden               Kind = "forbidden"
	UpstreamRateLimited     Kind = "upstream_rate_limited"
	UpstreamTimeout         Kind = "upstream_timeout"
	UpstreamError           Kind = "upstream_error"
	ProviderUnavailable     Kind = "provider_unavailable"
	Unauthorized            Kind = "unauthorized"
	NotConnected            Kind = "not_connected"
	ConnectionPaused        Kind = "connection_paused"
	TenantNotFound          Kind = "tenant_not_found"
	InvalidRequest          Kind = "invalid_request"
	Unauthenticated         Kind = "unauthenticated"
	Internal                Kind = "internal"
)

var statusByKind = map[Kind]int{
	AuthorizationDenied:     http.StatusBadRequest,
	InvalidOrExpiredState:   http.StatusBadRequest,
	TokenExchangeFailed:     http.StatusBadGateway,
	ReauthorizationRequired: http.StatusConflict,
	Forbidden:               http.StatusForbidden,
	UpstreamRateLimited:     http.StatusTooManyRequests,
	UpstreamTimeout:         http.StatusGatewayTimeout,
	UpstreamError:           http.StatusBadGateway,
	ProviderUnavailable:     http.StatusUnprocessableEntity,
	Unauthorized:            http.StatusConflict,
	NotConnected:            http.StatusNotFound,
	ConnectionPaused:        http.StatusConflict,
	TenantNotFound:          http.StatusNotFound,
	InvalidRequest:          http.StatusBadRequest,
	Unauthenticated:         http.StatusUnauthorized,
	Internal:                http.StatusInternalServerError,
}

var defaultMessages = map[Kind]string{
	AuthorizationDenied:     "the user declined to authorize the integration",
	InvalidOrExpiredState:   "the authorization link is invalid or has expired, please start again",
	TokenExchangeFailed:     "the provider rejected the authorization code",
	ReauthorizationRequired: "the integration must be reconnected",
	Forbidden:               "you are not allowed to act on behalf of that client",
	UpstreamRateLimited:     "the provider is rate limiting requests, try again later",
	UpstreamTimeout:         "the provider did not respond in time",
	UpstreamError:           "the provider returned an error",
	ProviderUnavailable:     "this integration is not available",
	Unauthorized:            "the provider rejected the stored credentials",
	NotConnected:            "the integration is not connected",
	ConnectionPaused:        "the integration is paused",
	TenantNotFound:          "client not found",
	InvalidRequest:          "invalid request",
	Unauthenticated:         "authentication required",
	Internal:                "internal error",
}

// Error is the typed error carried across package boundaries.
// Message is safe to show to end users; Err holds the raw cause and is never rendered.
type Error struct {
	Kind       Kind
	Message    string
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = defaultMessages[e.Kind]
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error { return e.Err }

func New(k Kind, msg string) *Error { return &Error{Kind: k, Message: msg} }

func Newf(k Kind, format string, args ...any) *Error {
	return &Error{Kind: k, Message: fmt.Sprintf(format, args...)}
}

func Wrap(k Kind, err error, msg string) *Error { return &Error{Kind: k, Message: msg, Err: err} }

// KindOf returns the Kind of the first *Error in err's chain.
// Bare context deadline errors count as UpstreamTimeout; anything else is Internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return UpstreamTimeout
	}
	return Internal
}

func Is(err error, k Kind) bool { return err != nil && KindOf(err) == k }

// Status maps a Kind to the HTTP status the API answers with.
func Status(k Kind) int {
	if s, ok := statusByKind[k]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// Message returns the user-facing message for err.
func Message(err error) string {
	var pe *Error
	if errors.As(err, &pe) {
		if pe.Message != "" {
			return pe.Message
		}
		return defaultMessages[pe.Kind]
	}
	return defaultMessages[KindOf(err)]
}

// RetryAfter returns the provider-advised delay carried by err, if any.
func RetryAfter(err error) time.Duration {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.RetryAfter
	}
	return 0
}

// Retryable reports whether the caller may retry the same request later.
func Retryable(k Kind) bool { return k == UpstreamRateLimited || k == UpstreamTimeout }
