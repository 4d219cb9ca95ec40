// Package job models the lifecycle of the asynchronous backend jobs managed
// by the console: ad-hoc tasks, scheduled tasks and backups.
//
// The backend is the only authority on a job's status. This package encodes
// the transition rules the console respects when offering actions, and keeps
// the optimistic status shown between a mutating call and the next refresh.
// It never decides on its own that a transition happened.
package job

import (
	"fmt"
	"strings"
)

// ─── Kind ────────────────────────────────────────────────────────────────────

// Kind identifies the resource family a job belongs to.
type Kind string

const (
	KindTask          Kind = "task"
	KindScheduledTask Kind = "scheduled_task"
	KindBackup        Kind = "backup"
)

// ─── Status ──────────────────────────────────────────────────────────────────

// Status is the backend-reported state of a single job run.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

var knownStatuses = map[Status]struct{}{
	StatusPending:   {},
	StatusRunning:   {},
	StatusPaused:    {},
	StatusCompleted: {},
	StatusFailed:    {},
	StatusCancelled: {},
}

// ParseStatus normalizes a backend status string. Unknown values are returned
// unchanged together with ErrUnknownStatus so callers can still display them.
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := knownStatuses[st]; !ok {
		return Status(s), fmt.Errorf("%w: %q", ErrUnknownStatus, s)
	}
	return st, nil
}

// IsTerminal reports whether the run has finished: no further transition
// happens without a new explicit command.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Settled reports whether the job is at rest: either terminal or waiting in
// pending for an explicit start. These are the states delete accepts.
func (s Status) Settled() bool {
	return s == StatusPending || s.IsTerminal()
}

// Active reports whether a run is in flight (running or paused).
func (s Status) Active() bool {
	return s == StatusRunning || s == StatusPaused
}

func (s Status) String() string { return string(s) }
