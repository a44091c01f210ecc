package ticket

import "errors"

var (
	// ErrNotFound covers unknown tickets and callers with no relation to the ticket.
	ErrNotFound = errors.New("ticket: not found")
	// ErrForbidden signals the action exists for the status but not for the caller's role.
	ErrForbidden = errors.New("ticket: forbidden")
	// ErrInvalidTransition signals the action is not defined for the current status.
	ErrInvalidTransition = errors.New("ticket: invalid status transition")
	// ErrConflict is returned once the bounded version-conflict retries are exhausted.
	ErrConflict = errors.New("ticket: concurrent modification")
	// ErrValidation wraps malformed input; details follow the colon.
	ErrValidation = errors.New("ticket: validation failed")

	// ErrVersionConflict is returned by stores when the expected version is stale.
	ErrVersionConflict = errors.New("ticket: version conflict")
	// ErrNotEligible means an automatic transition no longer applies.
	ErrNotEligible = errors.New("ticket: not eligible for automatic transition")
)
