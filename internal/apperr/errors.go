// Package apperr defines the error kinds callers branch on: whether to retry,
// escalate to a human, or wait for a review decision.
package apperr

import (
	"errors"
	"fmt"
)

type Kind string

const (
	// KindTransient is an upstream failure that survived every retry.
	KindTransient Kind = "TRANSIENT"
	// KindSecurityBlock is never retried and needs human intervention.
	KindSecurityBlock Kind = "SECURITY_BLOCK"
	// KindReviewRequired is recoverable by an out-of-band approval only.
	KindReviewRequired Kind = "REVIEW_REQUIRED"
	// KindDegraded marks a partial failure that was skipped.
	KindDegraded Kind = "DEGRADED"
	KindFatal    Kind = "FATAL"
)

type Error struct {
	Kind     Kind
	Op       string
	Message  string
	ReviewID string
	Details  any
	Err      error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	} else if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	if e.ReviewID != "" {
		msg = fmt.Sprintf("%s (review %s)", msg, e.ReviewID)
	}
	if e.Op == "" {
		return fmt.Sprintf("%s: %s", e.Kind, msg)
	}
	return fmt.Sprintf("%s %s: %s", e.Kind, e.Op, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func New(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

func Wrap(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func Transient(op string, err error) *Error {
	return Wrap(KindTransient, op, err)
}

func Fatal(op string, err error) *Error {
	return Wrap(KindFatal, op, err)
}

func SecurityBlock(op, message string, details any) *Error {
	return &Error{Kind: KindSecurityBlock, Op: op, Message: message, Details: details}
}

func ReviewRequired(op, reviewID, reason string) *Error {
	return &Error{Kind: KindReviewRequired, Op: op, Message: reason, ReviewID: reviewID}
}

// KindOf returns the kind of the first *Error in the chain, or "" when err
// carries none.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return ""
}

func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

func ReviewIDOf(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.ReviewID
	}
	return ""
}

// Retryable reports whether a failure may succeed if attempted again. Plain
// errors without a kind are treated as retryable.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindSecurityBlock, KindReviewRequired, KindFatal:
		return false
	default:
		return true
	}
}
