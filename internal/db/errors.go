package db

import "errors"

var (
	// ErrNotFound is returned when a keyed record does not exist
	ErrNotFound = errors.New("record not found")
	// ErrStatusConflict is returned when a status transition lost a race
	ErrStatusConflict = errors.New("project status changed concurrently")
)
