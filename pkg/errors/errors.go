// Package errors defines the domain error taxonomy for meetwise.
//
// Sentinels are matched with errors.Is, so callers may wrap them freely:
//
//	import mwerrors "github.com/otherjamesbrown/meetwise/pkg/errors"
//
//	return nil, fmt.Errorf("get meeting %s: %w", id, mwerrors.ErrNotFound)
//
//	if mwerrors.IsNotReady(err) {
//	    // transcript not written yet
//	}
package errors

import "errors"

// Domain errors.
var (
	// ErrNotFound indicates an unknown meeting, agent or pipeline job.
	ErrNotFound = errors.New("not found")

	// ErrConflict indicates an optimistic-concurrency violation on a status or
	// artifact write. Callers re-read and re-decide; they never retry blindly.
	ErrConflict = errors.New("conflict")

	// ErrDuplicateEvent marks a provider event already seen inside the dedup window.
	ErrDuplicateEvent = errors.New("duplicate event")

	// ErrTransientFailure marks a retryable transcription or summarization failure.
	ErrTransientFailure = errors.New("transient processing failure")

	// ErrPermanentFailure marks a processing failure after the retry ceiling,
	// or one that no retry can fix.
	ErrPermanentFailure = errors.New("permanent processing failure")

	// ErrNotReady indicates the assistant was asked before a transcript exists.
	ErrNotReady = errors.New("not ready")

	// ErrInvalidTransition indicates an event or action incompatible with the
	// meeting's current status.
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrValidation indicates malformed input.
	ErrValidation = errors.New("validation error")

	// ErrAlreadyExists indicates a pipeline job already exists for the meeting.
	ErrAlreadyExists = errors.New("already exists")
)

// IsNotFound reports whether any error in err's chain is ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConflict reports whether any error in err's chain is ErrConflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsDuplicateEvent reports whether any error in err's chain is ErrDuplicateEvent.
func IsDuplicateEvent(err error) bool {
	return errors.Is(err, ErrDuplicateEvent)
}

// IsTransient reports whether any error in err's chain is ErrTransientFailure.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransientFailure)
}

// IsPermanent reports whether any error in err's chain is ErrPermanentFailure.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrPermanentFailure)
}

// IsNotReady reports whether any error in err's chain is ErrNotReady.
func IsNotReady(err error) bool {
	return errors.Is(err, ErrNotReady)
}

// IsInvalidTransition reports whether any error in err's chain is ErrInvalidTransition.
func IsInvalidTransition(err error) bool {
	return errors.Is(err, ErrInvalidTransition)
}

// IsValidation reports whether any error in err's chain is ErrValidation.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsAlreadyExists reports whether any error in err's chain is ErrAlreadyExists.
func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}
