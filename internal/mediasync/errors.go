package mediasync

import "errors"

var (
	// ErrUnknownDevice is returned for operations on a device that is not registered
	ErrUnknownDevice = errors.New("unknown device")

	// ErrUnknownItem is returned when a device reports on media outside its current plan
	ErrUnknownItem = errors.New("unknown sync item")

	// ErrStaleProgress is returned when reported bytes are lower than the stored progress
	ErrStaleProgress = errors.New("stale progress report")

	// ErrInvalidProgress is returned for malformed progress values
	ErrInvalidProgress = errors.New("invalid progress report")

	// ErrCollaboratorUnavailable is returned when every requirement source failed
	ErrCollaboratorUnavailable = errors.New("requirement sources unavailable")

	// errStateRemoved aborts a reconciliation whose rows were deleted underneath it
	errStateRemoved = errors.New("sync state removed during reconciliation")
)
