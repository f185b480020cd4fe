package quota

import "errors"

var (
	ErrEntryNotFound = errors.New("quota entry not found")
	ErrEntryExists   = errors.New("quota entry already exists for this subscription and code")
	// ErrConcurrentUpdate surfaces after the optimistic retry budget is spent
	// on a contended entry.
	ErrConcurrentUpdate = errors.New("quota entry was concurrently modified too many times")
)
