package job

import "errors"

var (
	// ErrUnknownStatus is returned by ParseStatus for a status string outside
	// the closed set the console knows about.
	ErrUnknownStatus = errors.New("job: unknown status")

	// ErrUnknownJob is returned by Board operations on an id that was never
	// observed.
	ErrUnknownJob = errors.New("job: unknown job")
)
