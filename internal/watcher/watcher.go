// Package watcher observes long-running jobs by polling.
//
// The backend offers no push channel, so a watched job is re-read on a fixed
// interval until it reaches a terminal status. Each watched job is one
// gocron duration job tagged with the job's kind and id, running in
// singleton mode: a slow poll delays the next one instead of overlapping it.
//
// Observed statuses are written to the job.Board (when one is configured)
// and reported to the watch callback whenever they change. A poll failing
// with an authorization error ends the watch, since the session is gone and
// every later poll would fail the same way; other failures are reported and
// polling continues.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"

	"github.com/policyhub/console/internal/job"
	"github.com/policyhub/console/internal/transport"
)

// DefaultInterval is the poll interval used by consolectl.
const DefaultInterval = 2 * time.Second

// Source reads the current status of one job, normally through a gateway's
// Get.
type Source func(ctx context.Context) (job.Status, error)

// Event is one observation delivered to a watch callback.
type Event struct {
	Kind     job.Kind
	ID       string
	Status   job.Status
	Previous job.Status
	Err      error
	At       time.Time
}

// Final reports whether no further event follows for this watch.
func (e Event) Final() bool {
	if e.Err != nil {
		return errors.Is(e.Err, transport.ErrUnauthorized)
	}
	return e.Status.IsTerminal()
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithBoard makes every poll result an authoritative observation on b.
func WithBoard(b *job.Board) Option {
	return func(w *Watcher) { w.board = b }
}

// WithPollTimeout bounds each individual poll. It defaults to the transport
// timeout.
func WithPollTimeout(d time.Duration) Option {
	return func(w *Watcher) { w.pollTimeout = d }
}

type watch struct {
	kind job.Kind
	id   string
	src  Source
	fn   func(Event)
	last job.Status
	seq  uint64
}

// Watcher polls watched jobs. Create it with New, then Start it.
type Watcher struct {
	cron        gocron.Scheduler
	interval    time.Duration
	pollTimeout time.Duration
	board       *job.Board
	logger      *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	watches map[string]*watch
	seq     uint64
	stopped bool
}

// New creates a Watcher polling every interval.
func New(logger *zap.Logger, interval time.Duration, opts ...Option) (*Watcher, error) {
	if interval <= 0 {
		return nil, ErrInvalidInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("watcher: create scheduler: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &Watcher{
		cron:        s,
		interval:    interval,
		pollTimeout: transport.DefaultTimeout,
		logger:      logger.Named("watcher"),
		ctx:         ctx,
		cancel:      cancel,
		watches:     make(map[string]*watch),
	}
	for _, o := range opts {
		o(w)
	}
	return w, nil
}

// Start begins polling. Jobs watched before Start are polled right away.
func (w *Watcher) Start() {
	w.cron.Start()
	w.logger.Debug("watcher started", zap.Duration("interval", w.interval))
}

// Stop ends every watch and waits for in-flight polls to return.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return nil
	}
	w.stopped = true
	w.watches = make(map[string]*watch)
	w.mu.Unlock()

	w.cancel()
	if err := w.cron.Shutdown(); err != nil {
		return fmt.Errorf("watcher: shutdown: %w", err)
	}
	w.logger.Debug("watcher stopped")
	return nil
}

func watchKey(kind job.Kind, id string) string {
	return string(kind) + "/" + id
}

// Watch polls src until the job is terminal or the session is gone, calling
// fn with every status change and every failed poll. Watching an id that is
// already watched replaces the previous watch.
func (w *Watcher) Watch(kind job.Kind, id string, src Source, fn func(Event)) error {
	key := watchKey(kind, id)

	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return ErrStopped
	}
	if _, ok := w.watches[key]; ok {
		w.cron.RemoveByTags(key)
	}
	w.seq++
	wt := &watch{kind: kind, id: id, src: src, fn: fn, seq: w.seq}
	w.watches[key] = wt
	w.mu.Unlock()

	_, err := w.cron.NewJob(
		gocron.DurationJob(w.interval),
		gocron.NewTask(w.poll, key, wt.seq),
		gocron.WithTags(key),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		w.mu.Lock()
		if cur, ok := w.watches[key]; ok && cur.seq == wt.seq {
			delete(w.watches, key)
		}
		w.mu.Unlock()
		return fmt.Errorf("watcher: schedule %s: %w", key, err)
	}

	w.logger.Debug("watching job", zap.String("kind", string(kind)), zap.String("id", id))
	return nil
}

// Unwatch ends the watch of one job. Unknown jobs are ignored.
func (w *Watcher) Unwatch(kind job.Kind, id string) {
	key := watchKey(kind, id)

	w.mu.Lock()
	_, ok := w.watches[key]
	delete(w.watches, key)
	stopped := w.stopped
	w.mu.Unlock()

	if ok && !stopped {
		w.cron.RemoveByTags(key)
	}
}

// Watching reports whether a job is currently watched.
func (w *Watcher) Watching(kind job.Kind, id string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.watches[watchKey(kind, id)]
	return ok
}

// Len returns the number of active watches.
func (w *Watcher) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.watches)
}

// poll runs one observation. seq guards against a replaced watch whose
// gocron job fires one last time.
func (w *Watcher) poll(key string, seq uint64) {
	w.mu.Lock()
	wt, ok := w.watches[key]
	if !ok || wt.seq != seq {
		w.mu.Unlock()
		return
	}
	src := wt.src
	w.mu.Unlock()

	ctx, cancel := context.WithTimeout(w.ctx, w.pollTimeout)
	status, err := src(ctx)
	cancel()
	if w.ctx.Err() != nil {
		return
	}

	ev := Event{Kind: wt.kind, ID: wt.id, Err: err, At: time.Now()}

	w.mu.Lock()
	if cur, ok := w.watches[key]; !ok || cur.seq != seq {
		w.mu.Unlock()
		return
	}
	if err == nil {
		ev.Previous, ev.Status = wt.last, status
		if status == wt.last {
			w.mu.Unlock()
			return
		}
		wt.last = status
	} else {
		ev.Status = wt.last
	}
	final := ev.Final()
	if final {
		delete(w.watches, key)
	}
	w.mu.Unlock()

	if err == nil && w.board != nil {
		w.board.Observe(wt.kind, wt.id, status)
	}

	switch {
	case err != nil && final:
		w.logger.Info("watch ended: session lost", zap.String("key", key), zap.Error(err))
	case err != nil:
		w.logger.Warn("poll failed", zap.String("key", key), zap.Error(err))
	default:
		w.logger.Debug("job status observed",
			zap.String("key", key),
			zap.String("from", string(ev.Previous)),
			zap.String("to", string(status)),
		)
	}

	if final {
		w.cron.RemoveByTags(key)
	}
	if wt.fn != nil {
		wt.fn(ev)
	}
}

// -----------------------------------------------------------------------------
// Wait
// -----------------------------------------------------------------------------

// Until returns a predicate matching any of statuses.
func Until(statuses ...job.Status) func(job.Status) bool {
	return func(s job.Status) bool {
		for _, want := range statuses {
			if s == want {
				return true
			}
		}
		return false
	}
}

// Changed returns a predicate matching any status other than from.
func Changed(from job.Status) func(job.Status) bool {
	return func(s job.Status) bool { return s != from }
}

// Wait watches a job until pred holds for its status or the job becomes
// terminal, and returns the last observed status. A terminal status that
// does not satisfy pred is returned without error; callers compare it.
func (w *Watcher) Wait(ctx context.Context, kind job.Kind, id string, src Source, pred func(job.Status) bool) (job.Status, error) {
	type outcome struct {
		status job.Status
		err    error
	}
	done := make(chan outcome, 1)
	var once sync.Once
	finish := func(o outcome) { once.Do(func() { done <- o }) }

	err := w.Watch(kind, id, src, func(ev Event) {
		switch {
		case ev.Err != nil && ev.Final():
			finish(outcome{status: ev.Status, err: ev.Err})
		case ev.Err != nil:
		case pred == nil || pred(ev.Status) || ev.Status.IsTerminal():
			finish(outcome{status: ev.Status})
		}
	})
	if err != nil {
		return "", err
	}
	defer w.Unwatch(kind, id)

	select {
	case o := <-done:
		return o.status, o.err
	case <-ctx.Done():
		return "", ctx.Err()
	case <-w.ctx.Done():
		return "", ErrStopped
	}
}
