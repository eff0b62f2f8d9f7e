// Package apperr classifies pipeline errors into the kinds that drive
// the ack-vs-redeliver decision in the stream consumers.
package apperr

import (
	"errors"
	"fmt"
)

// Kind determines how a stage handler failure is treated by the consumer.
type Kind int

const (
	// KindTransient: do not ack; the broker redelivers the pending entry.
	KindTransient Kind = iota
	// KindMalformed: ack and drop; retrying cannot help (bad MIME, bad JSON).
	KindMalformed
	// KindPermanent: ack, log at error; operator intervention required.
	KindPermanent
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindMalformed:
		return "malformed"
	case KindPermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// Error is a kind-tagged pipeline error.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func Transient(message string, err error) *Error {
	return &Error{Kind: KindTransient, Message: message, Err: err}
}

func Malformed(message string, err error) *Error {
	return &Error{Kind: KindMalformed, Message: message, Err: err}
}

func Permanent(message string, err error) *Error {
	return &Error{Kind: KindPermanent, Message: message, Err: err}
}

// KindOf extracts the kind from err. Untagged errors count as transient so
// that unknown failures default to redelivery rather than data loss.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindTransient
}
