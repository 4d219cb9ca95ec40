package api

import (
	"context"
	"net/http"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/policyhub/console/internal/job"
	"github.com/policyhub/console/internal/paging"
	"github.com/policyhub/console/internal/testutil/mockconsole"
	"github.com/policyhub/console/internal/transport"
)

func TestScheduledTaskCRUD(t *testing.T) {
	f := newFixture(t, mockconsole.Options{})
	ctx := context.Background()
	g := f.client.ScheduledTasks

	created, err := g.Create(ctx, ScheduledTaskCreate{
		TaskType:       "scheduled",
		TaskName:       "daily crawl",
		CronExpression: "0 2 * * *",
		Config:         job.CrawlPayload(job.CrawlConfig{Keywords: []string{"税收"}}),
		IsEnabled:      true,
	})
	require.NoError(t, err)
	assert.True(t, created.IsEnabled)
	require.NotNil(t, created.NextRunTime)
	assert.Equal(t, 2, created.NextRunTime.Hour())

	cfg, err := created.Config()
	require.NoError(t, err)
	require.NotNil(t, cfg.Crawl)
	assert.Equal(t, []string{"税收"}, cfg.Crawl.Keywords)

	cron := "*/15 * * * *"
	name := "quarter-hourly"
	updated, err := g.Update(ctx, created.ID, ScheduledTaskUpdate{CronExpression: &cron, TaskName: &name})
	require.NoError(t, err)
	assert.Equal(t, cron, updated.CronExpression)
	assert.Equal(t, name, updated.TaskName)

	reqs := f.requestsTo(http.MethodPut, "/api/scheduled-tasks/"+itoa(created.ID))
	require.Len(t, reqs, 1)
	assert.JSONEq(t, `{"task_name":"quarter-hourly","cron_expression":"*/15 * * * *"}`, string(reqs[0].Body))

	require.NoError(t, g.Delete(ctx, created.ID))
	_, err = g.Get(ctx, created.ID)
	assert.ErrorIs(t, err, transport.ErrRejected)
}

func TestScheduledTaskRejectsInvalidCron(t *testing.T) {
	f := newFixture(t, mockconsole.Options{})

	_, err := f.client.ScheduledTasks.Create(context.Background(), ScheduledTaskCreate{
		TaskType:       "scheduled",
		TaskName:       "broken",
		CronExpression: "every day",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, transport.ErrRejected)
	assert.Contains(t, transport.Message(err), "Invalid cron expression")
}

func TestScheduledTaskToggle(t *testing.T) {
	f := newFixture(t, mockconsole.Options{})
	ctx := context.Background()
	g := f.client.ScheduledTasks

	created, err := g.Create(ctx, ScheduledTaskCreate{
		TaskType: "scheduled", TaskName: "weekly", CronExpression: "0 3 * * 1", IsEnabled: true,
	})
	require.NoError(t, err)

	// Put the definition on the board through a listing.
	f.mock.SetLastRun(created.ID, job.StatusCompleted)
	_, err = g.List(ctx, ScheduledTaskFilter{})
	require.NoError(t, err)

	disabled, err := g.Disable(ctx, created.ID)
	require.NoError(t, err)
	assert.False(t, disabled.IsEnabled)
	assert.Nil(t, disabled.NextRunTime)
	assert.Equal(t, job.StatusCompleted, disabled.LastRunStatus, "toggling never touches the last run")

	snap, ok := f.board.Get(job.KindScheduledTask, strconv.FormatInt(created.ID, 10))
	require.True(t, ok)
	assert.Equal(t, job.StatusCompleted, snap.Effective())

	enabled, err := g.SetEnabled(ctx, created.ID, true)
	require.NoError(t, err)
	assert.True(t, enabled.IsEnabled)

	assert.Equal(t, 1, f.mock.Count(http.MethodPut, "/api/scheduled-tasks/"+itoa(created.ID)+"/disable"))
	assert.Equal(t, 1, f.mock.Count(http.MethodPut, "/api/scheduled-tasks/"+itoa(created.ID)+"/enable"))
}

func TestScheduledTaskListFilters(t *testing.T) {
	f := newFixture(t, mockconsole.Options{})
	ctx := context.Background()
	g := f.client.ScheduledTasks

	for i, enabled := range []bool{true, false, true} {
		_, err := g.Create(ctx, ScheduledTaskCreate{
			TaskType:       "scheduled",
			TaskName:       "def-" + strconv.Itoa(i),
			CronExpression: "@daily",
			IsEnabled:      enabled,
		})
		require.NoError(t, err)
	}

	on := true
	page, err := g.List(ctx, ScheduledTaskFilter{
		Window:    paging.Window{Page: 1, PageSize: 1},
		IsEnabled: &on,
	})
	require.NoError(t, err)
	assert.EqualValues(t, 2, page.Total)
	assert.Equal(t, 2, page.Pages())
	require.Len(t, page.Items, 1)

	reqs := f.requestsTo(http.MethodGet, "/api/scheduled-tasks/")
	require.Len(t, reqs, 1)
	assert.Equal(t, "true", reqs[0].Query.Get("is_enabled"))
	assert.Equal(t, "0", reqs[0].Query.Get("skip"))
	assert.Equal(t, "1", reqs[0].Query.Get("limit"))
}

func TestSchedulerStatusIsCached(t *testing.T) {
	f := newFixture(t, mockconsole.Options{})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		st, err := f.client.ScheduledTasks.Status(ctx)
		require.NoError(t, err)
		assert.True(t, st.Enabled)
		assert.True(t, st.Running)
	}
	assert.Equal(t, 1, f.mock.Count(http.MethodGet, "/api/scheduled-tasks/status"))
}
