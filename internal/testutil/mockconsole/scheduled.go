package mockconsole

import (
	"encoding/json"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/robfig/cron/v3"

	"github.com/policyhub/console/internal/job"
)

type scheduledTask struct {
	id            int64
	taskType      string
	name          string
	cronExpr      string
	schedule      cron.Schedule
	enabled       bool
	config        json.RawMessage
	lastRun       time.Time
	lastRunStatus job.Status
	createdAt     time.Time
	updatedAt     time.Time
}

func (s *scheduledTask) view(now time.Time) map[string]any {
	v := map[string]any{
		"id":              s.id,
		"task_type":       s.taskType,
		"task_name":       s.name,
		"cron_expression": s.cronExpr,
		"is_enabled":      s.enabled,
		"config_json":     s.config,
		"next_run_time":   nil,
		"last_run_time":   stamp(s.lastRun),
		"created_at":      stamp(s.createdAt),
		"updated_at":      stamp(s.updatedAt),
	}
	if s.enabled {
		v["next_run_time"] = stamp(s.schedule.Next(now))
	}
	if s.lastRunStatus != "" {
		v["last_run_status"] = s.lastRunStatus
	}
	return v
}

func (c *Console) scheduledRoutes(r chi.Router) {
	r.Get("/", c.listScheduled)
	r.Post("/", c.createScheduled)
	r.Get("/status", c.schedulerStatus)
	r.Get("/{id}", c.getScheduled)
	r.Put("/{id}", c.updateScheduled)
	r.Delete("/{id}", c.deleteScheduled)
	r.Put("/{id}/enable", c.toggleScheduled(true))
	r.Put("/{id}/disable", c.toggleScheduled(false))
}

func (c *Console) listScheduled(w http.ResponseWriter, r *http.Request) {
	skip, limit, ok := window(w, r, 100, 1000)
	if !ok {
		return
	}
	q := r.URL.Query()

	c.mu.Lock()
	now := c.opts.Now()
	var matched []*scheduledTask
	for _, s := range c.scheduled {
		if tt := q.Get("task_type"); tt != "" && s.taskType != tt {
			continue
		}
		if en := q.Get("is_enabled"); en != "" && strconv.FormatBool(s.enabled) != en {
			continue
		}
		matched = append(matched, s)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].id > matched[j].id })
	items := make([]map[string]any, 0)
	for i := skip; i < len(matched) && len(items) < limit; i++ {
		items = append(items, matched[i].view(now))
	}
	c.mu.Unlock()

	render(w, http.StatusOK, map[string]any{"items": items, "total": len(matched), "skip": skip, "limit": limit})
}

func (c *Console) createScheduled(w http.ResponseWriter, r *http.Request) {
	var in struct {
		TaskType       string          `json:"task_type"`
		TaskName       string          `json:"task_name"`
		CronExpression string          `json:"cron_expression"`
		Config         json.RawMessage `json:"config"`
		IsEnabled      *bool           `json:"is_enabled"`
	}
	if !decode(w, r, &in) {
		return
	}
	if in.TaskName == "" {
		invalid(w, []string{"body", "task_name"}, "field required")
		return
	}
	sched, err := cron.ParseStandard(in.CronExpression)
	if err != nil {
		fail(w, http.StatusBadRequest, "Invalid cron expression: "+err.Error())
		return
	}

	c.mu.Lock()
	c.nextSched++
	now := c.opts.Now()
	s := &scheduledTask{
		id:        c.nextSched,
		taskType:  in.TaskType,
		name:      in.TaskName,
		cronExpr:  in.CronExpression,
		schedule:  sched,
		enabled:   in.IsEnabled == nil || *in.IsEnabled,
		config:    in.Config,
		createdAt: now,
		updatedAt: now,
	}
	c.scheduled[s.id] = s
	view := s.view(now)
	c.mu.Unlock()

	render(w, http.StatusOK, view)
}

func (c *Console) lookupScheduled(w http.ResponseWriter, r *http.Request) (*scheduledTask, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		invalid(w, []string{"path", "id"}, "value is not a valid integer")
		return nil, false
	}
	s, ok := c.scheduled[id]
	if !ok {
		fail(w, http.StatusNotFound, "Scheduled task not found")
		return nil, false
	}
	return s, true
}

func (c *Console) getScheduled(w http.ResponseWriter, r *http.Request) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.lookupScheduled(w, r)
	if !ok {
		return
	}
	render(w, http.StatusOK, s.view(c.opts.Now()))
}

func (c *Console) updateScheduled(w http.ResponseWriter, r *http.Request) {
	var in struct {
		TaskName       *string         `json:"task_name"`
		CronExpression *string         `json:"cron_expression"`
		Config         json.RawMessage `json:"config"`
		IsEnabled      *bool           `json:"is_enabled"`
	}
	if !decode(w, r, &in) {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.lookupScheduled(w, r)
	if !ok {
		return
	}
	if in.CronExpression != nil {
		sched, err := cron.ParseStandard(*in.CronExpression)
		if err != nil {
			fail(w, http.StatusBadRequest, "Invalid cron expression: "+err.Error())
			return
		}
		s.cronExpr, s.schedule = *in.CronExpression, sched
	}
	if in.TaskName != nil {
		s.name = *in.TaskName
	}
	if len(in.Config) > 0 {
		s.config = in.Config
	}
	if in.IsEnabled != nil {
		s.enabled = *in.IsEnabled
	}
	s.updatedAt = c.opts.Now()
	render(w, http.StatusOK, s.view(s.updatedAt))
}

func (c *Console) deleteScheduled(w http.ResponseWriter, r *http.Request) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.lookupScheduled(w, r)
	if !ok {
		return
	}
	if s.lastRunStatus.Active() {
		fail(w, http.StatusBadRequest, "Cannot delete a scheduled task while it is running")
		return
	}
	delete(c.scheduled, s.id)
	render(w, http.StatusOK, map[string]any{"message": "Scheduled task deleted"})
}

func (c *Console) toggleScheduled(enabled bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c.mu.Lock()
		defer c.mu.Unlock()
		s, ok := c.lookupScheduled(w, r)
		if !ok {
			return
		}
		s.enabled = enabled
		s.updatedAt = c.opts.Now()
		render(w, http.StatusOK, s.view(s.updatedAt))
	}
}

func (c *Console) schedulerStatus(w http.ResponseWriter, _ *http.Request) {
	c.mu.Lock()
	enabled := c.flags["scheduler_enabled"]
	c.mu.Unlock()

	msg := "Scheduler is running"
	if !enabled {
		msg = "Scheduler is disabled"
	}
	render(w, http.StatusOK, map[string]any{"enabled": enabled, "running": enabled, "message": msg})
}

// SetLastRun records the outcome of the latest firing of a definition.
func (c *Console) SetLastRun(id int64, status job.Status) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.scheduled[id]; ok {
		s.lastRun = c.opts.Now()
		s.lastRunStatus = status
	}
}

// window reads skip and limit, applying the defaults and upper bound.
func window(w http.ResponseWriter, r *http.Request, defLimit, maxLimit int) (skip, limit int, ok bool) {
	q := r.URL.Query()
	skip, limit = 0, defLimit
	if v := q.Get("skip"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			invalid(w, []string{"query", "skip"}, "ensure this value is greater than or equal to 0")
			return 0, 0, false
		}
		skip = n
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxLimit {
			invalid(w, []string{"query", "limit"}, "ensure this value is between 1 and "+strconv.Itoa(maxLimit))
			return 0, 0, false
		}
		limit = n
	}
	return skip, limit, true
}
