package resilience

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
)

// TransientError wraps an error that is safe to retry (e.g., 429, 5xx, network timeout).
type TransientError struct {
	Err        error
	StatusCode int
}

func (e *TransientError) Error() string {
	return e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// NewTransientError wraps an error as transient with an optional HTTP status code.
func NewTransientError(err error, statusCode int) *TransientError {
	return &TransientError{Err: err, StatusCode: statusCode}
}

// InvalidOutputError reports a completion whose output failed to parse or
// validate against the requested schema.
type InvalidOutputError struct {
	Err error
	// Raw is the offending output, kept for the repair prompt.
	Raw string
}

func (e *InvalidOutputError) Error() string {
	return "invalid output: " + e.Err.Error()
}

func (e *InvalidOutputError) Unwrap() error {
	return e.Err
}

// NewInvalidOutputError wraps a parse or validation failure.
func NewInvalidOutputError(err error, raw string) *InvalidOutputError {
	return &InvalidOutputError{Err: err, Raw: raw}
}

// InvalidStateError is returned when a review transition is not allowed from
// the entry's current status, including when a concurrent writer won.
type InvalidStateError struct {
	EntryID string
	From    string
	To      string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("invalid state transition for %s: %s -> %s", e.EntryID, e.From, e.To)
}

// NewInvalidStateError builds an InvalidStateError.
func NewInvalidStateError(entryID, from, to string) *InvalidStateError {
	return &InvalidStateError{EntryID: entryID, From: from, To: to}
}

// PartialExtractionError marks a chunk that produced no usable output after
// retries and repair. Processing of the document continues.
type PartialExtractionError struct {
	ChunkID string
	Err     error
}

func (e *PartialExtractionError) Error() string {
	return fmt.Sprintf("partial extraction for chunk %s: %v", e.ChunkID, e.Err)
}

func (e *PartialExtractionError) Unwrap() error {
	return e.Err
}

// IsInvalidOutput reports whether err carries an InvalidOutputError.
func IsInvalidOutput(err error) bool {
	var ie *InvalidOutputError
	return errors.As(err, &ie)
}

// IsInvalidState reports whether err carries an InvalidStateError.
func IsInvalidState(err error) bool {
	var se *InvalidStateError
	return errors.As(err, &se)
}

// IsPartial reports whether err carries a PartialExtractionError.
func IsPartial(err error) bool {
	var pe *PartialExtractionError
	return errors.As(err, &pe)
}

// IsTransient returns true if the error (or any error in its chain) is a
// TransientError, or if it matches common transient error patterns (network
// timeouts, connection resets, DNS failures).
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var te *TransientError
	if errors.As(err, &te) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, p := range transientPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

var transientPatterns = []string{
	"connection reset by peer",
	"broken pipe",
	"temporary failure in name resolution",
	"tls handshake timeout",
	"i/o timeout",
	"server closed idle connection",
	"overloaded",
}

// IsTransientHTTPStatus returns true if the HTTP status code indicates a
// transient server-side issue that is safe to retry.
func IsTransientHTTPStatus(statusCode int) bool {
	switch statusCode {
	case 408, 429, 500, 502, 503, 504, 529:
		return true
	default:
		return false
	}
}

// Classify names the error class for warnings and phase metadata.
func Classify(err error) string {
	switch {
	case err == nil:
		return ""
	case IsInvalidState(err):
		return "invalid_state"
	case IsInvalidOutput(err):
		return "invalid_output"
	case IsTransient(err):
		return "transient"
	default:
		return "permanent"
	}
}
