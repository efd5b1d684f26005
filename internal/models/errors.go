package models

import "errors"

var (
	// ErrNotFound is returned by stores when a record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidTransition is returned when a report status change would move
	// the report backwards or out of a terminal state.
	ErrInvalidTransition = errors.New("invalid status transition")
)
