package watcher

import "errors"

var (
	// ErrStopped is returned by Wait and Watch once the watcher has been
	// stopped.
	ErrStopped = errors.New("watcher: stopped")

	// ErrInvalidInterval is returned by New for a non-positive interval.
	ErrInvalidInterval = errors.New("watcher: poll interval must be positive")
)
