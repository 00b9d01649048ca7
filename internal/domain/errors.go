package domain

import "errors"

// Sentinel errors returned by services and repositories. Callers match them with errors.Is.
var (
	// ErrNotFound is returned when an owner-scoped lookup finds nothing.
	ErrNotFound = errors.New("not found")

	// ErrInvalidTransition is returned when an entry or draft cannot move to the requested state.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrInvalidArgument is returned for malformed input such as unknown enum values.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrSelfContactImmutable is returned when a mutation would create, retype or delete the Self contact.
	ErrSelfContactImmutable = errors.New("self contact cannot be created, retyped or deleted")

	// ErrConcurrentModification is returned when a draft was saved by someone else since it was loaded.
	ErrConcurrentModification = errors.New("draft was modified concurrently")
)
