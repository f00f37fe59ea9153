package apperrors

import "errors"

var (
	// ErrMetadataUnavailable means a required catalog row set could not be
	// retrieved. The desired page tree would be incomplete, so the run aborts.
	ErrMetadataUnavailable = errors.New("metadata unavailable")

	// ErrDependencyUnresolved means a single dependency edge could not be
	// mapped to a known object. Logged and excluded; the run continues.
	ErrDependencyUnresolved = errors.New("dependency unresolved")

	// ErrForeignContentConflict means a desired page collides with a remote
	// page that carries no recognizable key marker. The page is skipped,
	// never overwritten.
	ErrForeignContentConflict = errors.New("foreign content conflict")

	ErrNotFound     = errors.New("not found")
	ErrAccessDenied = errors.New("access denied")
)
