package job

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskTransitions(t *testing.T) {
	testCases := []struct {
		name   string
		status Status
		op     Operation
		want   bool
	}{
		{"start from pending", StatusPending, OpStart, true},
		{"start from running", StatusRunning, OpStart, false},
		{"pause from running", StatusRunning, OpPause, true},
		{"pause from paused", StatusPaused, OpPause, false},
		{"resume from paused", StatusPaused, OpResume, true},
		{"resume from running", StatusRunning, OpResume, false},
		{"stop from running", StatusRunning, OpStop, true},
		{"stop from paused", StatusPaused, OpStop, true},
		{"cancel from paused", StatusPaused, OpCancel, true},
		{"stop from pending", StatusPending, OpStop, false},
		{"stop from completed", StatusCompleted, OpStop, false},
		{"delete from completed", StatusCompleted, OpDelete, true},
		{"delete from failed", StatusFailed, OpDelete, true},
		{"delete from cancelled", StatusCancelled, OpDelete, true},
		{"delete from pending", StatusPending, OpDelete, true},
		{"delete from running", StatusRunning, OpDelete, false},
		{"download when completed", StatusCompleted, OpDownload, true},
		{"download when failed", StatusFailed, OpDownload, false},
		{"enable is not a task operation", StatusPending, OpEnable, false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Allowed(KindTask, tc.status, tc.op))
		})
	}
}

func TestStopAndCancelAreSynonyms(t *testing.T) {
	assert.Equal(t, OpStop, Canonical(OpCancel))
	assert.Equal(t, OpStop, Canonical(OpStop))

	stopTarget, ok := Target(OpStop)
	require.True(t, ok)
	cancelTarget, ok := Target(OpCancel)
	require.True(t, ok)
	assert.Equal(t, stopTarget, cancelTarget)
	assert.Equal(t, StatusCancelled, cancelTarget)

	for _, s := range []Status{StatusPending, StatusRunning, StatusPaused, StatusCompleted} {
		assert.Equal(t, Allowed(KindTask, s, OpStop), Allowed(KindTask, s, OpCancel), s)
	}
}

func TestBackupHasNoPauseLoop(t *testing.T) {
	for _, s := range []Status{StatusPending, StatusRunning, StatusPaused, StatusCompleted} {
		assert.False(t, Allowed(KindBackup, s, OpPause))
		assert.False(t, Allowed(KindBackup, s, OpResume))
		assert.False(t, Allowed(KindBackup, s, OpStop))
	}
	assert.True(t, Allowed(KindBackup, StatusCompleted, OpRestore))
	assert.False(t, Allowed(KindBackup, StatusRunning, OpRestore))
	assert.False(t, Allowed(KindBackup, StatusRunning, OpDelete))
}

func TestScheduledTaskEnableIsOrthogonal(t *testing.T) {
	for _, s := range []Status{"", StatusRunning, StatusFailed, StatusCompleted} {
		assert.True(t, Allowed(KindScheduledTask, s, OpEnable), s)
		assert.True(t, Allowed(KindScheduledTask, s, OpDisable), s)
	}
	assert.False(t, Allowed(KindScheduledTask, StatusRunning, OpDelete))
	assert.True(t, Allowed(KindScheduledTask, "", OpDelete))
	assert.False(t, Allowed(KindScheduledTask, StatusRunning, OpPause))
}

func TestActions(t *testing.T) {
	assert.Equal(t, []Operation{OpPause, OpStop, OpCancel}, Actions(KindTask, StatusRunning))
	assert.Equal(t, []Operation{OpStart, OpDelete}, Actions(KindTask, StatusPending))
	assert.Equal(t, []Operation{OpRestore, OpDownload, OpDelete}, Actions(KindBackup, StatusCompleted))
	assert.Empty(t, Actions(KindBackup, StatusRunning))
}

func TestTargetWithoutStatusChange(t *testing.T) {
	for _, op := range []Operation{OpDelete, OpEnable, OpDisable, OpRestore, OpDownload} {
		_, ok := Target(op)
		assert.False(t, ok, op)
	}
}

func TestParseStatus(t *testing.T) {
	s, err := ParseStatus(" Running ")
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, s)

	s, err = ParseStatus("exploded")
	assert.ErrorIs(t, err, ErrUnknownStatus)
	assert.Equal(t, Status("exploded"), s)
}

func TestStatusPredicates(t *testing.T) {
	assert.True(t, StatusCancelled.IsTerminal())
	assert.False(t, StatusPending.IsTerminal())
	assert.True(t, StatusPending.Settled())
	assert.False(t, StatusPaused.Settled())
	assert.True(t, StatusPaused.Active())
}
