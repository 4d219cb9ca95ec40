package store

import "errors"

var (
	// ErrNotFound is returned by Get for a key that was never set or was
	// deleted.
	ErrNotFound = errors.New("store: not found")

	// ErrCorrupt is returned when a stored value fails authentication, which
	// happens when the key changed or the row was tampered with.
	ErrCorrupt = errors.New("store: value cannot be decrypted")
)
