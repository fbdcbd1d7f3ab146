package documents

import "errors"

var (
	// ErrNotFound indicates the document is unknown or no longer stored.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput indicates validation or bad input.
	ErrInvalidInput = errors.New("invalid input")

	// ErrStorage indicates the object store or the ledger failed.
	ErrStorage = errors.New("storage failure")
)
