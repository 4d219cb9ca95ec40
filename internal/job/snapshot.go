package job

import (
	"fmt"
	"sync"
	"time"
)

// Snapshot is the client's view of one job: the last status the backend
// reported plus, while a mutating call is outstanding, the status the call is
// expected to lead to.
type Snapshot struct {
	Kind       Kind
	ID         string
	Status     Status
	Optimistic Status
	ObservedAt time.Time

	// pending lists the outstanding requests, oldest first. Optimistic is
	// the target of the newest one.
	pending []pendingOp
	seq     uint64
}

// Ticket identifies one outstanding request on a snapshot. The zero Ticket
// belongs to no request.
type Ticket uint64

type pendingOp struct {
	ticket Ticket
	target Status
}

// Effective returns the status to display: the optimistic one while a
// request is in flight, the authoritative one otherwise.
func (s Snapshot) Effective() Status {
	if s.Optimistic != "" {
		return s.Optimistic
	}
	return s.Status
}

// Request records the optimistic target of op and returns the ticket to
// roll it back with. Operations without a target status leave the snapshot
// untouched and return the zero Ticket.
func (s *Snapshot) Request(op Operation) Ticket {
	target, ok := Target(op)
	if !ok {
		return 0
	}
	s.seq++
	t := Ticket(s.seq)
	s.pending = append(s.pending, pendingOp{ticket: t, target: target})
	s.Optimistic = target
	return t
}

// Rollback withdraws the request behind t after the backend rejected it.
// Requests still in flight keep their optimistic status; with none left the
// authoritative status shows again.
func (s *Snapshot) Rollback(t Ticket) {
	for i, p := range s.pending {
		if p.ticket == t {
			s.pending = append(s.pending[:i:i], s.pending[i+1:]...)
			break
		}
	}
	s.Optimistic = ""
	if n := len(s.pending); n > 0 {
		s.Optimistic = s.pending[n-1].target
	}
}

// Observe replaces the snapshot with a backend-reported status. It reports
// whether the authoritative status changed.
func (s *Snapshot) Observe(status Status, at time.Time) bool {
	changed := s.Status != status
	s.Status = status
	s.Optimistic = ""
	s.pending = nil
	s.ObservedAt = at
	return changed
}

// -----------------------------------------------------------------------------
// Board
// -----------------------------------------------------------------------------

// Board holds snapshots for every job the console is currently showing. It is
// safe for concurrent use: list refreshes, lifecycle actions and background
// polls update it independently.
type Board struct {
	mu    sync.RWMutex
	items map[string]*Snapshot
	now   func() time.Time
}

// NewBoard returns an empty Board.
func NewBoard() *Board {
	return &Board{
		items: make(map[string]*Snapshot),
		now:   time.Now,
	}
}

func boardKey(kind Kind, id string) string {
	return fmt.Sprintf("%s/%s", kind, id)
}

// Observe records an authoritative status. The returned previous status is
// empty when the job was not on the board yet.
func (b *Board) Observe(kind Kind, id string, status Status) (previous Status, changed bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	key := boardKey(kind, id)
	snap, ok := b.items[key]
	if !ok {
		b.items[key] = &Snapshot{Kind: kind, ID: id, Status: status, ObservedAt: b.now()}
		return "", true
	}
	previous = snap.Status
	changed = snap.Observe(status, b.now())
	return previous, changed
}

// Request marks op as in flight for a known job.
func (b *Board) Request(kind Kind, id string, op Operation) (Ticket, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	snap, ok := b.items[boardKey(kind, id)]
	if !ok {
		return 0, fmt.Errorf("%w: %s %s", ErrUnknownJob, kind, id)
	}
	return snap.Request(op), nil
}

// Rollback withdraws a failed request. Unknown ids and the zero Ticket are
// ignored.
func (b *Board) Rollback(kind Kind, id string, t Ticket) {
	if t == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if snap, ok := b.items[boardKey(kind, id)]; ok {
		snap.Rollback(t)
	}
}

// Get returns a copy of the snapshot for a job.
func (b *Board) Get(kind Kind, id string) (Snapshot, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	snap, ok := b.items[boardKey(kind, id)]
	if !ok {
		return Snapshot{}, false
	}
	out := *snap
	out.pending = nil
	return out, true
}

// Forget removes a job, typically after it was deleted.
func (b *Board) Forget(kind Kind, id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.items, boardKey(kind, id))
}

// Len returns the number of tracked jobs.
func (b *Board) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.items)
}
