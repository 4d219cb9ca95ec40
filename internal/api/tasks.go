package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/policyhub/console/internal/job"
	"github.com/policyhub/console/internal/paging"
	"github.com/policyhub/console/internal/transport"
)

// Task is an ad-hoc crawl or backup run.
type Task struct {
	ID              int64           `json:"id"`
	TaskType        string          `json:"task_type"`
	TaskName        string          `json:"task_name"`
	Status          job.Status      `json:"status"`
	Progress        float64         `json:"progress"`
	ProgressMessage string          `json:"progress_message,omitempty"`
	ConfigJSON      json.RawMessage `json:"config_json,omitempty"`
	Result          *job.Result     `json:"result_json,omitempty"`
	ErrorMessage    string          `json:"error_message,omitempty"`
	PolicyCount     int             `json:"policy_count"`
	SuccessCount    int             `json:"success_count"`
	FailedCount     int             `json:"failed_count"`
	StartTime       *Time           `json:"start_time,omitempty"`
	EndTime         *Time           `json:"end_time,omitempty"`
	CreatedAt       Time            `json:"created_at"`
	UpdatedAt       *Time           `json:"updated_at,omitempty"`
}

// UnmarshalJSON also accepts started_at/completed_at, which older backends
// send instead of start_time/end_time.
func (t *Task) UnmarshalJSON(data []byte) error {
	type plain Task
	var aux struct {
		plain
		StartedAt   *Time `json:"started_at"`
		CompletedAt *Time `json:"completed_at"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*t = Task(aux.plain)
	if t.StartTime == nil {
		t.StartTime = aux.StartedAt
	}
	if t.EndTime == nil {
		t.EndTime = aux.CompletedAt
	}
	return nil
}

// Config decodes the task configuration according to its task type.
func (t Task) Config() (job.Config, error) {
	return job.DecodeConfig(t.TaskType, t.ConfigJSON)
}

// Actions lists the lifecycle operations that may be offered for the task.
func (t Task) Actions() []job.Operation {
	return job.Actions(job.KindTask, t.Status)
}

// TaskCreate is the body of a task creation.
type TaskCreate struct {
	TaskType string     `json:"task_type"`
	TaskName string     `json:"task_name"`
	Config   job.Config `json:"config"`
}

// TaskFilter narrows a task listing. Zero fields are not sent.
type TaskFilter struct {
	paging.Window
	TaskType      string
	Status        job.Status
	CompletedOnly *bool
}

// FileFormat selects what a task download bundles.
type FileFormat string

const (
	FormatAll      FileFormat = "all"
	FormatMarkdown FileFormat = "markdown"
	FormatDocx     FileFormat = "docx"
)

// ParseFileFormat validates a download format. Empty means FormatAll.
func ParseFileFormat(s string) (FileFormat, error) {
	switch f := FileFormat(s); f {
	case "":
		return FormatAll, nil
	case FormatAll, FormatMarkdown, FormatDocx:
		return f, nil
	}
	return "", fmt.Errorf("api: unsupported file format %q (want all, markdown or docx)", s)
}

// TaskGateway binds /api/tasks. Tasks page natively, so the window is sent as
// page/page_size.
type TaskGateway struct {
	gateway
}

// List returns one page of tasks.
func (g *TaskGateway) List(ctx context.Context, f TaskFilter) (paging.Page[Task], error) {
	q := paging.NewQuery().
		Native(f.Window).
		String("task_type", f.TaskType).
		String("status", string(f.Status)).
		Bool("completed_only", f.CompletedOnly)

	var page paging.Page[Task]
	err := g.sender.JSON(ctx, &transport.Request{
		Method: http.MethodGet,
		Path:   "/api/tasks/",
		Query:  q.Values(),
	}, &page)
	if err != nil {
		return paging.Page[Task]{}, err
	}

	for _, t := range page.Items {
		g.observe(job.KindTask, itoa(t.ID), t.Status)
	}
	return page.Normalize(), nil
}

// Get returns one task.
func (g *TaskGateway) Get(ctx context.Context, id int64) (*Task, error) {
	var t Task
	err := g.sender.JSON(ctx, &transport.Request{
		Method: http.MethodGet,
		Route:  "/api/tasks/{id}",
		Path:   "/api/tasks/" + itoa(id),
	}, &t)
	if err != nil {
		return nil, err
	}
	g.observe(job.KindTask, itoa(t.ID), t.Status)
	return &t, nil
}

// Create registers a task. With autoStart the backend moves it from pending
// toward running on its own; the returned status is still whatever the
// backend reported at creation time.
func (g *TaskGateway) Create(ctx context.Context, in TaskCreate, autoStart bool) (*Task, error) {
	var t Task
	err := g.sender.JSON(ctx, &transport.Request{
		Method: http.MethodPost,
		Path:   "/api/tasks/",
		Query:  url.Values{"auto_start": {strconv.FormatBool(autoStart)}},
		Body:   in,
	}, &t)
	if err != nil {
		return nil, err
	}
	g.observe(job.KindTask, itoa(t.ID), t.Status)
	return &t, nil
}

// Start asks the backend to run a pending task.
func (g *TaskGateway) Start(ctx context.Context, id int64) (*Task, error) {
	return g.transition(ctx, id, job.OpStart)
}

// Stop cancels a running or paused task.
func (g *TaskGateway) Stop(ctx context.Context, id int64) (*Task, error) {
	return g.transition(ctx, id, job.OpStop)
}

// Cancel is Stop under another name. Both send the identical request.
func (g *TaskGateway) Cancel(ctx context.Context, id int64) (*Task, error) {
	return g.transition(ctx, id, job.OpCancel)
}

// Pause suspends a running task.
func (g *TaskGateway) Pause(ctx context.Context, id int64) (*Task, error) {
	return g.transition(ctx, id, job.OpPause)
}

// Resume continues a paused task.
func (g *TaskGateway) Resume(ctx context.Context, id int64) (*Task, error) {
	return g.transition(ctx, id, job.OpResume)
}

// Do runs op by name. It covers the run-changing operations only.
func (g *TaskGateway) Do(ctx context.Context, id int64, op job.Operation) (*Task, error) {
	if _, ok := job.Target(op); !ok {
		return nil, fmt.Errorf("api: %q is not a task transition", op)
	}
	return g.transition(ctx, id, op)
}

func (g *TaskGateway) transition(ctx context.Context, id int64, op job.Operation) (*Task, error) {
	name := string(job.Canonical(op))
	var t Task
	err := g.command(ctx, job.KindTask, itoa(id), op, &transport.Request{
		Method: http.MethodPost,
		Route:  "/api/tasks/{id}/" + name,
		Path:   "/api/tasks/" + itoa(id) + "/" + name,
	}, &t)
	if err != nil {
		return nil, err
	}
	g.observe(job.KindTask, itoa(id), t.Status)
	return &t, nil
}

// Delete removes a task record. The backend refuses tasks that are still
// running.
func (g *TaskGateway) Delete(ctx context.Context, id int64) error {
	err := g.sender.JSON(ctx, &transport.Request{
		Method: http.MethodDelete,
		Route:  "/api/tasks/{id}",
		Path:   "/api/tasks/" + itoa(id),
	}, nil)
	if err != nil {
		return err
	}
	g.forget(job.KindTask, itoa(id))
	return nil
}

// Download streams the task's artifacts as a zip. The caller closes the
// body.
func (g *TaskGateway) Download(ctx context.Context, id int64, format FileFormat) (*transport.Download, error) {
	if format == "" {
		format = FormatAll
	}
	return g.sender.Stream(ctx, &transport.Request{
		Method: http.MethodGet,
		Route:  "/api/tasks/{id}/download",
		Path:   "/api/tasks/" + itoa(id) + "/download",
		Query:  url.Values{"file_format": {string(format)}},
	})
}
