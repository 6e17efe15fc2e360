package session

import "errors"

var (
	// Returned when a registration or join uses a name that is already
	// active or waiting for approval.
	ErrNameUnavailable = errors.New("name already in use")

	// Returned when a non-admin calls an admin-only operation.
	ErrNotAdmin = errors.New("operation requires the session admin")

	// Returned once the board has been closed.
	ErrClosed = errors.New("board is closed")
)
