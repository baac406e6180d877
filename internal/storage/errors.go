package storage

import "errors"

var (
	// ErrNotFound is returned when a violation does not exist.
	ErrNotFound = errors.New("violation not found")

	// ErrAlreadyExists is returned when a violation ID is recorded twice.
	ErrAlreadyExists = errors.New("violation already exists")
)
