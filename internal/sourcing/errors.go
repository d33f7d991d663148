package sourcing

import "errors"

var (
	// ErrNotFound is returned by stores when no record matches.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned by Create when the (source, externalId) key already exists.
	ErrConflict = errors.New("conflict")
	// ErrUnknownFamily is returned by ParseFamily for unsupported input.
	ErrUnknownFamily = errors.New("unknown source family")
	// ErrQueueClosed is returned by a Queue after Close.
	ErrQueueClosed = errors.New("queue closed")
)
