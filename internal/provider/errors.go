package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"unicode/utf8"
)

const maxResponseBodyLength = 2048

// DispatchError is returned for every failed outbound call: non-2xx responses,
// network errors, timeouts and auth failures. Transient marks failures worth retrying
// soon, e.g. 429 or 5xx.
type DispatchError struct {
	StatusCode int
	Message    string
	Transient  bool
	Cause      error
}

func (e *DispatchError) Error() string {
	if e == nil {
		return "<nil>"
	}

	var b strings.Builder
	b.WriteString("dispatch error")
	if e.StatusCode > 0 {
		fmt.Fprintf(&b, ": status=%d", e.StatusCode)
	}
	if msg := strings.TrimSpace(e.Message); msg != "" {
		b.WriteString(": " + msg)
	}
	if e.Cause != nil {
		b.WriteString(": " + e.Cause.Error())
	}
	return strings.ToValidUTF8(b.String(), string(utf8.RuneError))
}

func (e *DispatchError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// requestFailure wraps a transport-level error. Only caller cancellation is final.
func requestFailure(what string, err error) *DispatchError {
	return &DispatchError{
		Message:   what + " request failed",
		Transient: !errors.Is(err, context.Canceled),
		Cause:     err,
	}
}

// statusFailure describes a non-2xx response, keeping a bounded excerpt of its body.
func statusFailure(statusCode int, body string) *DispatchError {
	msg := fmt.Sprintf("endpoint returned status %d", statusCode)
	if excerpt := truncate(strings.TrimSpace(body), maxResponseBodyLength); excerpt != "" {
		msg += ": " + excerpt
	}
	return &DispatchError{
		StatusCode: statusCode,
		Message:    msg,
		Transient:  isTransientHTTPStatus(statusCode),
	}
}

func isTransientHTTPStatus(statusCode int) bool {
	switch {
	case statusCode == http.StatusTooManyRequests, statusCode == http.StatusRequestTimeout:
		return true
	default:
		return statusCode >= http.StatusInternalServerError && statusCode <= 599
	}
}

func isSuccessStatus(statusCode int) bool {
	return statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices
}

// truncate replaces invalid UTF-8 and cuts s to at most limit bytes without
// splitting a rune. The result is always safe to store in a text column.
func truncate(s string, limit int) string {
	s = strings.ToValidUTF8(s, string(utf8.RuneError))
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// IsTransient reports whether an error should be retried.
func IsTransient(err error) bool {
	var dispatchErr *DispatchError
	var netErr net.Error
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		return false
	case errors.Is(err, context.DeadlineExceeded):
		return true
	case errors.As(err, &dispatchErr):
		return dispatchErr.Transient
	case errors.As(err, &netErr):
		return netErr.Timeout()
	default:
		return false
	}
}
