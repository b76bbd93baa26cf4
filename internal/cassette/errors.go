package cassette

import (
	"errors"
	"fmt"
)

var (
	// ErrCassetteNotFound is returned when replaying a cassette that was never recorded.
	ErrCassetteNotFound = errors.New("cassette not found")
	// ErrNoMatchingInteraction means a replayed request has no recorded counterpart.
	ErrNoMatchingInteraction = errors.New("no matching interaction")
	// ErrCassetteExhausted means replay asked for more interactions than were recorded.
	ErrCassetteExhausted = errors.New("cassette exhausted")
	// ErrSanitization means a redaction hook failed and the commit was aborted.
	ErrSanitization = errors.New("sanitization failed")
)

// InteractionError reports a replayed request the cassette could not serve.
type InteractionError struct {
	ID        ID
	Signature string
	Err       error
}

func (e *InteractionError) Error() string {
	return fmt.Sprintf("%s: %v: %s", e.ID, e.Err, e.Signature)
}

func (e *InteractionError) Unwrap() error { return e.Err }

// SanitizationError reports a failed commit. Nothing was written.
type SanitizationError struct {
	ID  ID
	Err error
}

func (e *SanitizationError) Error() string {
	return fmt.Sprintf("%s: %v: %v", e.ID, ErrSanitization, e.Err)
}

func (e *SanitizationError) Unwrap() []error { return []error{ErrSanitization, e.Err} }
