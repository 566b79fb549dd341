package domain

import "errors"

var (
	// ErrVersionConflict is returned by storage when an optimistic version check fails.
	ErrVersionConflict = errors.New("version conflict")
	// ErrDuplicateKey is returned by storage when a unique key already exists.
	ErrDuplicateKey = errors.New("duplicate key")
	// ErrInvalidTransition is returned by lifecycle state machines.
	ErrInvalidTransition = errors.New("invalid state transition")
)
