package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrLockHeld indicates another operation owns the deal lock.
	ErrLockHeld = errors.New("shared: deal is locked by another operation")
)
