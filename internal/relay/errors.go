package relay

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is the failure category reported to clients
type Kind string

const (
	KindInvalidRequest         Kind = "InvalidRequest"
	KindAuthenticationRequired Kind = "AuthenticationRequired"
	KindLicenseRestricted      Kind = "LicenseRestricted"
	KindExtractionFailed       Kind = "ExtractionFailed"
	KindExecutionError         Kind = "ExecutionError"
	KindEmptyArtifact          Kind = "EmptyArtifact"
	KindBusy                   Kind = "Busy"
)

// Sentinel errors. These can be checked with errors.Is().
var (
	// ErrResponseCommitted is returned when a second response is attempted
	ErrResponseCommitted = errors.New("response already committed")
	// ErrJobTerminal is returned for any transition out of a terminal state
	ErrJobTerminal = errors.New("job already terminal")
	// ErrInvalidTransition is returned for transitions the state machine forbids
	ErrInvalidTransition = errors.New("invalid job state transition")
)

// Error is a classified relay failure
type Error struct {
	Kind    Kind
	Reason  string // classifier rule or execution cause, e.g. "bot_check", "timeout"
	Message string // short user-facing text
	Detail  string // diagnostic excerpt, bounded
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s (%s): %v", e.Kind, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s (%s): %s", e.Kind, e.Reason, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Status maps the failure to an HTTP status. authStatus is the configured
// status for AuthenticationRequired (400 or 500).
func (e *Error) Status(authStatus int) int {
	switch e.Kind {
	case KindInvalidRequest:
		return http.StatusBadRequest
	case KindBusy:
		return http.StatusServiceUnavailable
	case KindAuthenticationRequired:
		if authStatus == http.StatusBadRequest {
			return http.StatusBadRequest
		}
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// ErrorBody is the JSON error contract
type ErrorBody struct {
	Success  bool   `json:"success"`
	Message  string `json:"message"`
	Category Kind   `json:"category,omitempty"`
	Reason   string `json:"reason,omitempty"`
	Detail   string `json:"detail,omitempty"`
}

// Body renders the error with its detail cut to detailLimit characters
func (e *Error) Body(detailLimit int) ErrorBody {
	return ErrorBody{
		Success:  false,
		Message:  e.Message,
		Category: e.Kind,
		Reason:   e.Reason,
		Detail:   truncate(e.Detail, detailLimit),
	}
}

func invalidRequest(msg string) *Error {
	return &Error{Kind: KindInvalidRequest, Reason: "validation", Message: msg}
}

// InvalidRequest builds a validation failure for malformed bodies
func InvalidRequest(msg string) *Error {
	return invalidRequest(msg)
}

func busyError() *Error {
	return &Error{
		Kind:    KindBusy,
		Reason:  "concurrency_limit",
		Message: "The server is busy with other downloads. Try again in a moment.",
	}
}

func executionError(reason string, err error) *Error {
	msg := "The download tool could not be run on the server. Please try again later."
	switch reason {
	case "timeout":
		msg = "The download took too long and was stopped. Try a lower quality or a shorter video."
	case "cancelled":
		msg = "The download was cancelled before it finished."
	}
	return &Error{Kind: KindExecutionError, Reason: reason, Message: msg, Err: err}
}

func emptyArtifactError(detail string) *Error {
	return &Error{
		Kind:    KindEmptyArtifact,
		Reason:  "empty_artifact",
		Message: "The download finished but produced an empty file. Try a different quality or source.",
		Detail:  detail,
	}
}

// truncate keeps the last limit bytes of s, never splitting a UTF-8 sequence.
// The tail is kept because yt-dlp reports the fatal error last.
func truncate(s string, limit int) string {
	if limit <= 0 || len(s) <= limit {
		return s
	}
	cut := len(s) - limit
	for cut < len(s) && !isRuneStart(s[cut]) {
		cut++
	}
	return s[cut:]
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
