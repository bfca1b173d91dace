package molsearch

import (
	"fmt"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/cockroachdb/errors"
)

// ErrorCode represents specific error codes for molecule search operations.
type ErrorCode int

const (
	// ErrCodeInvalidQuery is returned when a query has no molecule or no identifier.
	ErrCodeInvalidQuery ErrorCode = iota + 1000

	// ErrCodeConfig is returned for configuration or input defects that abort a run.
	ErrCodeConfig

	// ErrCodeSubmission is returned when a job could not be submitted.
	ErrCodeSubmission

	// ErrCodeUnexpectedShape is returned when a response payload has no recognizable shape.
	ErrCodeUnexpectedShape

	// ErrCodeFetch is returned when a results page could not be retrieved.
	ErrCodeFetch

	// ErrCodeTimeout is returned when a job does not produce results in time.
	ErrCodeTimeout

	// ErrCodeCanceled is returned when an operation is canceled.
	ErrCodeCanceled

	// ErrCodeRejected is returned when the service rejects credentials or parameters.
	ErrCodeRejected

	// ErrCodeBackendUnavailable is returned when the search service fails transiently.
	ErrCodeBackendUnavailable

	// ErrCodeIteratorReused is returned when a result sequence is ranged over twice.
	ErrCodeIteratorReused
)

// String returns the human-readable string representation of the error code.
// This implements the fmt.Stringer interface.
func (e ErrorCode) String() string {
	switch e {
	case ErrCodeInvalidQuery:
		return "invalid query"
	case ErrCodeConfig:
		return "invalid configuration"
	case ErrCodeSubmission:
		return "submission failed"
	case ErrCodeUnexpectedShape:
		return "unexpected response shape"
	case ErrCodeFetch:
		return "page fetch failed"
	case ErrCodeTimeout:
		return "operation timed out"
	case ErrCodeCanceled:
		return "operation canceled"
	case ErrCodeRejected:
		return "request rejected"
	case ErrCodeBackendUnavailable:
		return "backend unavailable"
	case ErrCodeIteratorReused:
		return "iterator reused"
	default:
		return "unknown error"
	}
}

// newErrorWithCode creates a new error with a code and message.
func newErrorWithCode(code ErrorCode, msg string) error {
	err := errors.New(msg)
	return errors.WithSecondaryError(err, errors.Newf("code: %d", int(code)))
}

// Common errors that can be returned by molecule search operations.
var (
	// ErrInvalidQuery is returned when a query has no molecule or no identifier.
	ErrInvalidQuery = newErrorWithCode(ErrCodeInvalidQuery, "molsearch: invalid query")

	// ErrConfig is returned for configuration or input defects.
	ErrConfig = newErrorWithCode(ErrCodeConfig, "molsearch: invalid configuration")

	// ErrSubmission is returned when a job could not be submitted.
	ErrSubmission = newErrorWithCode(ErrCodeSubmission, "molsearch: submission failed")

	// ErrUnexpectedShape is returned when a payload has no recognizable shape.
	ErrUnexpectedShape = newErrorWithCode(ErrCodeUnexpectedShape, "molsearch: unexpected response shape")

	// ErrFetch is returned when a results page could not be retrieved.
	ErrFetch = newErrorWithCode(ErrCodeFetch, "molsearch: page fetch failed")

	// ErrTimeout is returned when a job does not produce results in time.
	ErrTimeout = newErrorWithCode(ErrCodeTimeout, "molsearch: operation timed out")

	// ErrCanceled is returned when an operation is canceled.
	ErrCanceled = newErrorWithCode(ErrCodeCanceled, "molsearch: operation canceled")

	// ErrRejected is returned on authorization or validation failures. Retrying cannot fix these.
	ErrRejected = newErrorWithCode(ErrCodeRejected, "molsearch: request rejected")

	// ErrBackendUnavailable is returned when the search service fails transiently.
	ErrBackendUnavailable = newErrorWithCode(ErrCodeBackendUnavailable, "molsearch: backend unavailable")

	// ErrIteratorReused is returned when a result sequence is ranged over a second time.
	ErrIteratorReused = newErrorWithCode(ErrCodeIteratorReused, "molsearch: result sequence already consumed")
)

// maxBodyInMessage bounds how much of a response body ends up in an error string.
const maxBodyInMessage = 600

// StatusError is a non-2xx response from the search service.
type StatusError struct {
	// Op names the remote operation, e.g. "get_molsearch_page".
	Op string
	// Code is the HTTP status code.
	Code int
	// Body is the response body, possibly truncated.
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s HTTP %d%s: %s", e.Op, e.Code, statusHint(e.Code), truncate(e.Body, maxBodyInMessage))
}

// Unwrap classifies the status: 401/403/422 are rejections, everything else is transient.
func (e *StatusError) Unwrap() error {
	if e.Rejected() {
		return ErrRejected
	}
	return ErrBackendUnavailable
}

// Rejected reports whether the status indicates a credential or parameter defect.
func (e *StatusError) Rejected() bool {
	switch e.Code {
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusUnprocessableEntity:
		return true
	default:
		return false
	}
}

func statusHint(code int) string {
	switch code {
	case http.StatusUnauthorized, http.StatusForbidden:
		return " (auth error: check X-API-Key and host)"
	case http.StatusUnprocessableEntity:
		return " (validation error: check param names/types; try toggling --db-name-as-list)"
	case http.StatusTooManyRequests:
		return " (rate limit: slow down / backoff)"
	default:
		return ""
	}
}

// ShapeError carries a payload that could not be interpreted.
type ShapeError struct {
	// Op names the operation whose response was malformed.
	Op string
	// Raw is the complete raw payload, kept for diagnostics.
	Raw []byte
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("%s: unexpected response shape: %q", e.Op, truncate(string(e.Raw), maxBodyInMessage))
}

func (e *ShapeError) Unwrap() error { return ErrUnexpectedShape }

// TimeoutError is returned when a job's results did not become available in time.
type TimeoutError struct {
	Handle  JobHandle
	Elapsed time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout waiting for results for job=%s after %s", e.Handle, e.Elapsed.Round(time.Millisecond))
}

func (e *TimeoutError) Unwrap() error { return ErrTimeout }

// IsRejected reports whether err is an authorization or validation failure.
func IsRejected(err error) bool {
	return errors.Is(err, ErrRejected)
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
