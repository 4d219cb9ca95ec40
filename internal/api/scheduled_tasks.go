package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/policyhub/console/internal/job"
	"github.com/policyhub/console/internal/paging"
	"github.com/policyhub/console/internal/transport"
)

// ScheduledTask is a cron-driven recurring job definition. IsEnabled gates
// future firings only; LastRunStatus is the status of the latest run.
type ScheduledTask struct {
	ID             int64           `json:"id"`
	TaskType       string          `json:"task_type"`
	TaskName       string          `json:"task_name"`
	CronExpression string          `json:"cron_expression"`
	IsEnabled      bool            `json:"is_enabled"`
	ConfigJSON     json.RawMessage `json:"config_json,omitempty"`
	NextRunTime    *Time           `json:"next_run_time,omitempty"`
	LastRunTime    *Time           `json:"last_run_time,omitempty"`
	LastRunStatus  job.Status      `json:"last_run_status,omitempty"`
	LastRunResult  string          `json:"last_run_result,omitempty"`
	CreatedAt      Time            `json:"created_at"`
	UpdatedAt      *Time           `json:"updated_at,omitempty"`
}

// Config decodes the task configuration according to its task type.
func (s ScheduledTask) Config() (job.Config, error) {
	return job.DecodeConfig(s.TaskType, s.ConfigJSON)
}

// Actions lists the operations that may be offered for the definition.
func (s ScheduledTask) Actions() []job.Operation {
	return job.Actions(job.KindScheduledTask, s.LastRunStatus)
}

// ScheduledTaskCreate is the body of a definition creation. The cron
// expression is validated by the backend only.
type ScheduledTaskCreate struct {
	TaskType       string     `json:"task_type"`
	TaskName       string     `json:"task_name"`
	CronExpression string     `json:"cron_expression"`
	Config         job.Config `json:"config"`
	IsEnabled      bool       `json:"is_enabled"`
}

// ScheduledTaskUpdate is a partial update. Nil fields are left unchanged.
type ScheduledTaskUpdate struct {
	TaskName       *string     `json:"task_name,omitempty"`
	CronExpression *string     `json:"cron_expression,omitempty"`
	Config         *job.Config `json:"config,omitempty"`
	IsEnabled      *bool       `json:"is_enabled,omitempty"`
}

// ScheduledTaskFilter narrows a listing.
type ScheduledTaskFilter struct {
	paging.Window
	TaskType  string
	IsEnabled *bool
}

// SchedulerStatus describes the backend scheduler itself.
type SchedulerStatus struct {
	Enabled bool   `json:"enabled"`
	Running bool   `json:"running"`
	Message string `json:"message"`
}

const schedulerStatusKey = "scheduler-status"

// ScheduledTaskGateway binds /api/scheduled-tasks. The backend pages with
// skip/limit; responses are normalized to page/page_size.
type ScheduledTaskGateway struct {
	gateway
}

// List returns one page of definitions.
func (g *ScheduledTaskGateway) List(ctx context.Context, f ScheduledTaskFilter) (paging.Page[ScheduledTask], error) {
	q := paging.NewQuery().
		Window(f.Window).
		String("task_type", f.TaskType).
		Bool("is_enabled", f.IsEnabled)

	var page paging.Page[ScheduledTask]
	err := g.sender.JSON(ctx, &transport.Request{
		Method: http.MethodGet,
		Path:   "/api/scheduled-tasks/",
		Query:  q.Values(),
	}, &page)
	if err != nil {
		return paging.Page[ScheduledTask]{}, err
	}
	for _, s := range page.Items {
		g.observe(job.KindScheduledTask, itoa(s.ID), s.LastRunStatus)
	}
	return page.Normalize(), nil
}

// Get returns one definition.
func (g *ScheduledTaskGateway) Get(ctx context.Context, id int64) (*ScheduledTask, error) {
	var s ScheduledTask
	err := g.sender.JSON(ctx, &transport.Request{
		Method: http.MethodGet,
		Route:  "/api/scheduled-tasks/{id}",
		Path:   "/api/scheduled-tasks/" + itoa(id),
	}, &s)
	if err != nil {
		return nil, err
	}
	g.observe(job.KindScheduledTask, itoa(s.ID), s.LastRunStatus)
	return &s, nil
}

// Create registers a definition.
func (g *ScheduledTaskGateway) Create(ctx context.Context, in ScheduledTaskCreate) (*ScheduledTask, error) {
	var s ScheduledTask
	err := g.sender.JSON(ctx, &transport.Request{
		Method: http.MethodPost,
		Path:   "/api/scheduled-tasks/",
		Body:   in,
	}, &s)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// Update changes the fields set in in.
func (g *ScheduledTaskGateway) Update(ctx context.Context, id int64, in ScheduledTaskUpdate) (*ScheduledTask, error) {
	var s ScheduledTask
	err := g.sender.JSON(ctx, &transport.Request{
		Method: http.MethodPut,
		Route:  "/api/scheduled-tasks/{id}",
		Path:   "/api/scheduled-tasks/" + itoa(id),
		Body:   in,
	}, &s)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// Delete removes a definition.
func (g *ScheduledTaskGateway) Delete(ctx context.Context, id int64) error {
	err := g.sender.JSON(ctx, &transport.Request{
		Method: http.MethodDelete,
		Route:  "/api/scheduled-tasks/{id}",
		Path:   "/api/scheduled-tasks/" + itoa(id),
	}, nil)
	if err != nil {
		return err
	}
	g.forget(job.KindScheduledTask, itoa(id))
	return nil
}

// Enable lets future firings happen. An in-flight run is not affected.
func (g *ScheduledTaskGateway) Enable(ctx context.Context, id int64) (*ScheduledTask, error) {
	return g.toggle(ctx, id, job.OpEnable)
}

// Disable stops future firings. An in-flight run is not affected.
func (g *ScheduledTaskGateway) Disable(ctx context.Context, id int64) (*ScheduledTask, error) {
	return g.toggle(ctx, id, job.OpDisable)
}

// SetEnabled calls Enable or Disable.
func (g *ScheduledTaskGateway) SetEnabled(ctx context.Context, id int64, enabled bool) (*ScheduledTask, error) {
	if enabled {
		return g.Enable(ctx, id)
	}
	return g.Disable(ctx, id)
}

func (g *ScheduledTaskGateway) toggle(ctx context.Context, id int64, op job.Operation) (*ScheduledTask, error) {
	var s ScheduledTask
	err := g.command(ctx, job.KindScheduledTask, itoa(id), op, &transport.Request{
		Method: http.MethodPut,
		Route:  "/api/scheduled-tasks/{id}/" + string(op),
		Path:   "/api/scheduled-tasks/" + itoa(id) + "/" + string(op),
	}, &s)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// Status reports whether the backend scheduler is enabled and running.
// The answer is cached briefly.
func (g *ScheduledTaskGateway) Status(ctx context.Context) (*SchedulerStatus, error) {
	st, err := cached(g.gateway, schedulerStatusKey, func() (SchedulerStatus, error) {
		var st SchedulerStatus
		err := g.sender.JSON(ctx, &transport.Request{
			Method: http.MethodGet,
			Path:   "/api/scheduled-tasks/status",
		}, &st)
		return st, err
	})
	if err != nil {
		return nil, err
	}
	return &st, nil
}
