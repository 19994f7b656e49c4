package adapter

import "errors"

var (
	// ErrUnknownCollection is returned for a collection that was never
	// registered or defined on this adapter.
	ErrUnknownCollection = errors.New("unknown collection")

	// ErrUniqueConstraint is returned when a unique attribute value is
	// already taken. You can check for this error with errors.Is
	ErrUniqueConstraint = errors.New("unique constraint failure")

	ErrTableCreate = errors.New("failed to create table")
	ErrTableDrop   = errors.New("failed to drop table")

	// ErrWrite wraps the first error of a write that partly failed.
	ErrWrite = errors.New("write failed")
)
