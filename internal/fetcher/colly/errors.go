package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// FetchErrorKind classifies fetch failures.
type FetchErrorKind string

// Fetch failure kinds.
const (
	FetchUnknown     FetchErrorKind = "unknown network error encountered"
	FetchNetwork     FetchErrorKind = "transport-level error occurred"
	FetchBadResponse FetchErrorKind = "fetch bad response"
	FetchParsing     FetchErrorKind = "failed to parse response data"
)

// FetchError describes a failed fetch. Status is zero when no response arrived.
type FetchError struct {
	Kind   FetchErrorKind
	URL    string
	Status int
	Cause  error
}

func (e *FetchError) Error() string {
	msg := fmt.Sprintf("%s | %s", e.Kind, e.URL)
	if e.Status != 0 {
		msg += fmt.Sprintf(" | status %d", e.Status)
	}
	if e.Cause != nil {
		msg += " | caused by: " + e.Cause.Error()
	}
	return msg
}

func (e *FetchError) Unwrap() error { return e.Cause }

func newFetchError(kind FetchErrorKind, link string, status int, cause error) *FetchError {
	if kind == "" {
		kind = inferKind(cause)
	}
	return &FetchError{Kind: kind, URL: link, Status: status, Cause: cause}
}

func inferKind(cause error) FetchErrorKind {
	if cause == nil {
		return FetchUnknown
	}
	if errors.Is(cause, context.DeadlineExceeded) {
		return FetchNetwork
	}
	var netErr net.Error
	if errors.As(cause, &netErr) {
		return FetchNetwork
	}
	var opErr *net.OpError
	if errors.As(cause, &opErr) {
		return FetchNetwork
	}
	return FetchUnknown
}
