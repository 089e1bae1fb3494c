package ledger

import (
	"errors"
	"fmt"
)

// Ledger errors.
var (
	// ErrTimeout is returned when the ledger does not answer in time.
	ErrTimeout = errors.New("ledger operation timed out")

	// ErrEdgeNotFound is returned for operations on unknown trust edges.
	ErrEdgeNotFound = errors.New("trust edge not found")

	// ErrSessionClosed is returned for operations on a finished session.
	ErrSessionClosed = errors.New("session already committed or rolled back")
)

// Stable rejection codes for client-class payment failures. Observers and
// the adaptive clearing policy key off these; they must not change.
const (
	RejectNoRoute          = "no_route"
	RejectNoCapacity       = "no_capacity"
	RejectLimitExceeded    = "limit_exceeded"
	RejectNotActive        = "not_active"
	RejectSenderNotFound   = "sender_not_found"
	RejectReceiverNotFound = "receiver_not_found"
	RejectInvalidAmount    = "invalid_amount"
)

// RejectionError is a structured client-class rejection. Rejections count
// toward attempts but never toward the run error ceiling.
type RejectionError struct {
	Code   string
	Detail string
}

// Error implements the error interface.
func (e *RejectionError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("payment rejected: %s", e.Code)
	}
	return fmt.Sprintf("payment rejected: %s (%s)", e.Code, e.Detail)
}

// Reject builds a RejectionError.
func Reject(code, format string, args ...interface{}) *RejectionError {
	return &RejectionError{Code: code, Detail: fmt.Sprintf(format, args...)}
}

// RejectionCode extracts the stable code from an error, or "" if the error
// is not a rejection.
func RejectionCode(err error) string {
	var rej *RejectionError
	if errors.As(err, &rej) {
		return rej.Code
	}
	return ""
}
