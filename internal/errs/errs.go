// Package errs contains sentinel errors shared across layers together with
// the single transient-versus-permanent classifier used by the mutation
// endpoint and the client queue.
package errs

import (
	"errors"

	"github.com/meridianworks/meridian/backend/internal/model"
)

// Common sentinels wrapped by service and repository layers.
var (
	// ErrValidation indicates malformed mutation data or an unusable payload.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrUnauthorized indicates the caller lacks the required role on the entity.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrConflict indicates the target entity was deleted or replaced concurrently.
	ErrConflict = errors.New("conflict")

	// ErrMethodNotAllowed indicates a mutation type with no registered handler.
	ErrMethodNotAllowed = errors.New("method not allowed")

	// ErrTransient indicates temporary infrastructure failure; safe to retry.
	ErrTransient = errors.New("transient failure")
)

// Class partitions every error into the retry decision the queue must make.
type Class string

const (
	// ClassPermanent marks errors that will never succeed on retry.
	ClassPermanent Class = "permanent"
	// ClassTransient marks errors expected to clear on a later attempt.
	ClassTransient Class = "transient"
)

// Classify maps an error to its retry class. Unknown errors classify as
// transient: server-side idempotence makes an extra retry harmless, while
// dropping a recoverable mutation loses data.
func Classify(err error) Class {
	switch {
	case errors.Is(err, ErrValidation),
		errors.Is(err, ErrNotFound),
		errors.Is(err, ErrUnauthorized),
		errors.Is(err, ErrConflict),
		errors.Is(err, ErrMethodNotAllowed):
		return ClassPermanent
	default:
		return ClassTransient
	}
}

// StatusFor converts an apply outcome into the wire status for one mutation.
func StatusFor(err error) model.MutationStatus {
	if err == nil {
		return model.StatusSuccess
	}
	if Classify(err) == ClassPermanent {
		return model.StatusPermanentError
	}
	return model.StatusTransientError
}

// ClassForStatus maps a wire status back to a retry class on the client.
func ClassForStatus(status model.MutationStatus) Class {
	if status == model.StatusPermanentError {
		return ClassPermanent
	}
	return ClassTransient
}
