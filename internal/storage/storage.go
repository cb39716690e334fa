// Package storage defines the errors shared by every game store implementation.
package storage

import "errors"

var (
	// ErrNotFound indicates a requested record is missing.
	ErrNotFound = errors.New("record not found")
	// ErrAlreadyExists indicates a uniqueness-constrained record already exists.
	ErrAlreadyExists = errors.New("record already exists")
	// ErrConflict indicates an optimistic version check failed.
	ErrConflict = errors.New("record version conflict")
)
