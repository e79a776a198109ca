// internal/positions/errors.go
package positions

import "errors"

var (
	// ErrAlreadyMonitoring means the position is already in the active set.
	ErrAlreadyMonitoring = errors.New("position is already being monitored")
	// ErrPositionNotFound means the position is not in the active set.
	ErrPositionNotFound = errors.New("position is not being monitored")
	// ErrInvalidConfiguration covers bad monitoring options.
	ErrInvalidConfiguration = errors.New("invalid monitoring configuration")
	// ErrSigningUnavailable means no signing key exists for the position's
	// user. Fatal for the exit attempt; the position is marked FAILED.
	ErrSigningUnavailable = errors.New("signing key unavailable")
)
