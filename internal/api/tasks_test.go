package api

import (
	"context"
	"encoding/json"
	"io"
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

func crawlTask(name string) TaskCreate {
	return TaskCreate{
		TaskType: "crawl_task",
		TaskName: name,
		Config: job.CrawlPayload(job.CrawlConfig{
			Keywords:   []string{"数据安全"},
			LimitPages: 2,
		}),
	}
}

func TestTaskLifecycleEndToEnd(t *testing.T) {
	f := newFixture(t, mockconsole.Options{})
	ctx := context.Background()
	tasks := f.client.Tasks

	created, err := tasks.Create(ctx, crawlTask("nightly"), false)
	require.NoError(t, err)
	assert.Equal(t, job.StatusPending, created.Status)
	assert.Equal(t, []job.Operation{job.OpStart, job.OpDelete}, created.Actions())

	started, err := tasks.Start(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusRunning, started.Status)

	paused, err := tasks.Pause(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusPaused, paused.Status)

	key := strconv.FormatInt(created.ID, 10)
	snap, ok := f.board.Get(job.KindTask, key)
	require.True(t, ok)
	assert.Equal(t, job.StatusPaused, snap.Effective())

	// A second pause is illegal from paused; the backend is the judge.
	_, err = tasks.Pause(ctx, created.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, transport.ErrRejected)
	assert.Contains(t, transport.Message(err), "cannot be paused")

	snap, ok = f.board.Get(job.KindTask, key)
	require.True(t, ok)
	assert.Equal(t, job.StatusPaused, snap.Status)
	assert.Empty(t, snap.Optimistic, "a rejected command leaves no optimistic status")

	resumed, err := tasks.Resume(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusRunning, resumed.Status)

	stopped, err := tasks.Stop(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusCancelled, stopped.Status)
	assert.NotNil(t, stopped.EndTime)

	require.NoError(t, tasks.Delete(ctx, created.ID))
	_, ok = f.board.Get(job.KindTask, key)
	assert.False(t, ok)

	_, err = tasks.Get(ctx, created.ID)
	assert.ErrorIs(t, err, transport.ErrRejected)
	var terr *transport.Error
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, http.StatusNotFound, terr.StatusCode)
}

func TestStopAndCancelSendIdenticalRequests(t *testing.T) {
	f := newFixture(t, mockconsole.Options{})
	ctx := context.Background()
	tasks := f.client.Tasks

	a, err := tasks.Create(ctx, crawlTask("a"), false)
	require.NoError(t, err)
	b, err := tasks.Create(ctx, crawlTask("b"), false)
	require.NoError(t, err)
	for _, id := range []int64{a.ID, b.ID} {
		_, err := tasks.Start(ctx, id)
		require.NoError(t, err)
	}

	_, err = tasks.Stop(ctx, a.ID)
	require.NoError(t, err)
	_, err = tasks.Cancel(ctx, b.ID)
	require.NoError(t, err)

	stopA := f.requestsTo(http.MethodPost, "/api/tasks/"+itoa(a.ID)+"/stop")
	stopB := f.requestsTo(http.MethodPost, "/api/tasks/"+itoa(b.ID)+"/stop")
	require.Len(t, stopA, 1)
	require.Len(t, stopB, 1, "cancel is sent as stop")
	assert.Equal(t, stopA[0].Query, stopB[0].Query)
	assert.Equal(t, stopA[0].Body, stopB[0].Body)
	assert.Zero(t, f.mock.Count(http.MethodPost, "/api/tasks/"+itoa(b.ID)+"/cancel"))

	st, _ := f.mock.TaskStatus(b.ID)
	assert.Equal(t, job.StatusCancelled, st)
}

func TestCreateWithAutoStart(t *testing.T) {
	f := newFixture(t, mockconsole.Options{})
	ctx := context.Background()

	created, err := f.client.Tasks.Create(ctx, crawlTask("now"), true)
	require.NoError(t, err)
	assert.Equal(t, job.StatusPending, created.Status, "the reply carries the creation-time status")

	reqs := f.requestsTo(http.MethodPost, "/api/tasks/")
	require.Len(t, reqs, 1)
	assert.Equal(t, "true", reqs[0].Query.Get("auto_start"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(reqs[0].Body, &body))
	assert.Equal(t, "now", body["task_name"])
	cfg := body["config"].(map[string]any)
	assert.Equal(t, []any{"数据安全"}, cfg["keywords"])

	got, err := f.client.Tasks.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusRunning, got.Status)

	decoded, err := got.Config()
	require.NoError(t, err)
	require.NotNil(t, decoded.Crawl)
	assert.Equal(t, 2, decoded.Crawl.LimitPages)
}

func TestTaskCreateValidationMessage(t *testing.T) {
	f := newFixture(t, mockconsole.Options{})

	_, err := f.client.Tasks.Create(context.Background(), TaskCreate{TaskType: "crawl_task"}, false)
	require.Error(t, err)
	assert.ErrorIs(t, err, transport.ErrRejected)
	assert.Equal(t, "body.task_name: field required", transport.Message(err))
}

func TestTaskListPagesNatively(t *testing.T) {
	f := newFixture(t, mockconsole.Options{})
	ctx := context.Background()
	for _, name := range []string{"one", "two", "three"} {
		_, err := f.client.Tasks.Create(ctx, crawlTask(name), false)
		require.NoError(t, err)
	}

	page, err := f.client.Tasks.List(ctx, TaskFilter{Window: paging.Window{Page: 2, PageSize: 2}})
	require.NoError(t, err)

	reqs := f.requestsTo(http.MethodGet, "/api/tasks/")
	require.Len(t, reqs, 1)
	assert.Equal(t, "2", reqs[0].Query.Get("page"))
	assert.Equal(t, "2", reqs[0].Query.Get("page_size"))
	assert.Empty(t, reqs[0].Query.Get("skip"))
	assert.Empty(t, reqs[0].Query.Get("status"), "unset filters are not sent")

	assert.EqualValues(t, 3, page.Total)
	assert.Equal(t, 2, page.PageNumber())
	assert.Equal(t, 2, page.Pages())
	require.Len(t, page.Items, 1)
	assert.Equal(t, "one", page.Items[0].TaskName)
	assert.Equal(t, 3, f.board.Len())
}

func TestTaskDownload(t *testing.T) {
	f := newFixture(t, mockconsole.Options{})
	ctx := context.Background()

	created, err := f.client.Tasks.Create(ctx, crawlTask("export"), false)
	require.NoError(t, err)

	_, err = f.client.Tasks.Download(ctx, created.ID, FormatMarkdown)
	assert.ErrorIs(t, err, transport.ErrRejected)

	f.mock.SetTaskStatus(created.ID, job.StatusCompleted)
	got, err := f.client.Tasks.Get(ctx, created.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Result)
	assert.Equal(t, 3, got.Result.PolicyCount)
	assert.Contains(t, got.Actions(), job.OpDownload)

	dl, err := f.client.Tasks.Download(ctx, created.ID, "")
	require.NoError(t, err)
	defer dl.Body.Close()
	body, err := io.ReadAll(dl.Body)
	require.NoError(t, err)
	assert.Equal(t, "task_"+itoa(created.ID)+"_all.zip", dl.Filename)
	assert.Equal(t, "PK", string(body[:2]))
}

func TestDoRejectsNonTransitions(t *testing.T) {
	g := &TaskGateway{}
	_, err := g.Do(context.Background(), 1, job.OpDownload)
	assert.Error(t, err)
}

func TestParseFileFormat(t *testing.T) {
	f, err := ParseFileFormat("")
	require.NoError(t, err)
	assert.Equal(t, FormatAll, f)

	f, err = ParseFileFormat("docx")
	require.NoError(t, err)
	assert.Equal(t, FormatDocx, f)

	_, err = ParseFileFormat("pdf")
	assert.Error(t, err)
}

func TestTaskDecodesLegacyTimestamps(t *testing.T) {
	var task Task
	require.NoError(t, json.Unmarshal([]byte(`{
		"id": 7,
		"task_type": "crawl_task",
		"task_name": "legacy",
		"status": "completed",
		"started_at": "2024-03-01T10:00:00",
		"completed_at": "2024-03-01 10:05:00",
		"created_at": "2024-03-01T09:59:59.123456"
	}`), &task))

	require.NotNil(t, task.StartTime)
	require.NotNil(t, task.EndTime)
	assert.Equal(t, 5*60.0, task.EndTime.Sub(task.StartTime.Time).Seconds())
	assert.Equal(t, 2024, task.CreatedAt.Year())
}
