package job

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotOptimisticFlow(t *testing.T) {
	s := Snapshot{Kind: KindTask, ID: "1", Status: StatusRunning}

	s.Request(OpPause)
	assert.Equal(t, StatusPaused, s.Effective())
	assert.Equal(t, StatusRunning, s.Status)

	changed := s.Observe(StatusPaused, time.Now())
	assert.True(t, changed)
	assert.Equal(t, StatusPaused, s.Effective())
	assert.Empty(t, s.Optimistic)
}

func TestSnapshotRollbackKeepsAuthoritativeStatus(t *testing.T) {
	s := Snapshot{Kind: KindTask, ID: "1", Status: StatusPaused}

	s.Rollback(s.Request(OpPause))

	assert.Equal(t, StatusPaused, s.Status)
	assert.Equal(t, StatusPaused, s.Effective())
}

func TestSnapshotRollbackKeepsOtherRequests(t *testing.T) {
	s := Snapshot{Kind: KindTask, ID: "1", Status: StatusRunning}

	pause := s.Request(OpPause)
	stop := s.Request(OpStop)
	assert.Equal(t, StatusCancelled, s.Effective())

	// The later stop is rejected while the pause is still in flight.
	s.Rollback(stop)
	assert.Equal(t, StatusPaused, s.Effective())

	s.Rollback(pause)
	assert.Equal(t, StatusRunning, s.Effective())
	assert.Empty(t, s.Optimistic)

	// Rejecting the older request keeps the newer one.
	pause = s.Request(OpPause)
	stop = s.Request(OpStop)
	s.Rollback(pause)
	assert.Equal(t, StatusCancelled, s.Effective())
	s.Rollback(stop)
	assert.Equal(t, StatusRunning, s.Effective())
}

func TestBoardRollbackKeepsConcurrentRequest(t *testing.T) {
	b := NewBoard()
	b.Observe(KindTask, "3", StatusRunning)

	first, err := b.Request(KindTask, "3", OpPause)
	require.NoError(t, err)
	second, err := b.Request(KindTask, "3", OpStop)
	require.NoError(t, err)

	b.Rollback(KindTask, "3", first)
	snap, _ := b.Get(KindTask, "3")
	assert.Equal(t, StatusCancelled, snap.Effective())

	b.Rollback(KindTask, "3", second)
	snap, _ = b.Get(KindTask, "3")
	assert.Equal(t, StatusRunning, snap.Effective())
}

func TestSnapshotRequestWithoutTarget(t *testing.T) {
	s := Snapshot{Status: StatusCompleted}
	assert.Zero(t, s.Request(OpDelete))
	assert.Empty(t, s.Optimistic)
}

func TestBoard(t *testing.T) {
	b := NewBoard()

	prev, changed := b.Observe(KindTask, "7", StatusPending)
	assert.Empty(t, prev)
	assert.True(t, changed)

	_, err := b.Request(KindTask, "7", OpStart)
	require.NoError(t, err)
	snap, ok := b.Get(KindTask, "7")
	require.True(t, ok)
	assert.Equal(t, StatusRunning, snap.Effective())

	prev, changed = b.Observe(KindTask, "7", StatusPending)
	assert.Equal(t, StatusPending, prev)
	assert.False(t, changed)

	snap, _ = b.Get(KindTask, "7")
	assert.Equal(t, StatusPending, snap.Effective())

	_, err = b.Request(KindTask, "8", OpStart)
	assert.ErrorIs(t, err, ErrUnknownJob)

	// Same id under another kind is a different job.
	_, ok = b.Get(KindBackup, "7")
	assert.False(t, ok)

	b.Forget(KindTask, "7")
	assert.Equal(t, 0, b.Len())
}

func TestBoardConcurrentObserve(t *testing.T) {
	b := NewBoard()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			status := StatusRunning
			if i%2 == 0 {
				status = StatusPaused
			}
			b.Observe(KindTask, "1", status)
			ticket, _ := b.Request(KindTask, "1", OpStop)
			b.Rollback(KindTask, "1", ticket)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, b.Len())
}
