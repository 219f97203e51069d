package dialog

import "errors"

var (
	// ErrStoreUnavailable wraps any persistence failure.
	ErrStoreUnavailable = errors.New("dialog store unavailable")
	// ErrProjectNotFound means no project matches the given identity.
	ErrProjectNotFound = errors.New("project not found")
	// ErrQuestionNotFound means the stored card/question does not resolve in the catalog.
	ErrQuestionNotFound = errors.New("question not found")
	// ErrMalformedState means a stored state value is not a known State.
	ErrMalformedState = errors.New("malformed dialog state")
)
