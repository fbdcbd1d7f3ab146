package ledger

import "errors"

var (
	// ErrNotFound indicates no entry matched.
	ErrNotFound = errors.New("ledger: entry not found")

	// ErrInvalidEntry indicates a record missing fields required by its status.
	ErrInvalidEntry = errors.New("ledger: invalid entry")

	// ErrIO indicates the ledger could not be read or written durably.
	ErrIO = errors.New("ledger: I/O failure")
)
