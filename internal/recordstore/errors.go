package recordstore

import "errors"

// Sentinel errors returned by every Store implementation. Callers use
// errors.Is against these rather than inspecting adapter-specific errors.
var (
	ErrNotFound        = errors.New("recordstore: key not found")
	ErrConflict        = errors.New("recordstore: key already exists")
	ErrVersionMismatch = errors.New("recordstore: version mismatch")
	ErrGuardFailed     = errors.New("recordstore: guarded add rejected")
	ErrUnavailable     = errors.New("recordstore: backing store unavailable")
)
