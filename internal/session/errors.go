package session

import "errors"

var (
	// ErrInvalidTicket is returned when the presented ticket cannot be
	// redeemed. The reason is deliberately not distinguished.
	ErrInvalidTicket = errors.New("invalid ticket")

	// ErrUnknownProject is returned when the requested project does not
	// exist in storage.
	ErrUnknownProject = errors.New("unknown project")
)
