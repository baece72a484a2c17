package ledger

import (
	"errors"
	"fmt"
)

var (
	// ErrSubscriptionNotFound means a user has no subscription row. For an
	// existing user this is a data integrity fault.
	ErrSubscriptionNotFound = errors.New("subscription not found")
	// ErrStaleEvent means a newer provider event was already applied
	ErrStaleEvent = errors.New("stale billing event")
	// ErrHandleMismatch means the row no longer holds the expected billing
	// subscription handle
	ErrHandleMismatch = errors.New("billing subscription handle mismatch")
	// ErrNotDue means the row is not a free-plan row past its renewal date
	ErrNotDue = errors.New("subscription not due for free quota reset")
	// ErrInvalidUsage means a usage amount or kind was malformed
	ErrInvalidUsage = errors.New("invalid usage")
)

// QuotaExceededError is returned when a consumption would drive a counter
// below zero. Counters are left unchanged.
type QuotaExceededError struct {
	Kind      UsageKind
	Requested int
	Remaining int
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("quota exceeded: requested %d %s, %d remaining", e.Requested, e.Kind, e.Remaining)
}

// Message is the user-facing rejection text
func (e *QuotaExceededError) Message() string {
	if e.Kind == UsageRecording {
		return "No recording time left"
	}
	return "No uploads left"
}

// IsQuotaExceeded reports whether err is a QuotaExceededError
func IsQuotaExceeded(err error) bool {
	var qe *QuotaExceededError
	return errors.As(err, &qe)
}

// AsQuotaExceeded extracts a QuotaExceededError from err
func AsQuotaExceeded(err error) (*QuotaExceededError, bool) {
	var qe *QuotaExceededError
	ok := errors.As(err, &qe)
	return qe, ok
}
