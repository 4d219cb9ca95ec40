package mockconsole

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/policyhub/console/internal/job"
)

type task struct {
	id        int64
	taskType  string
	name      string
	status    job.Status
	progress  float64
	config    json.RawMessage
	result    map[string]any
	errMsg    string
	policies  int
	started   time.Time
	ended     time.Time
	createdAt time.Time
	updatedAt time.Time
}

func (t *task) view() map[string]any {
	v := map[string]any{
		"id":            t.id,
		"task_type":     t.taskType,
		"task_name":     t.name,
		"status":        t.status,
		"progress":      t.progress,
		"config_json":   t.config,
		"policy_count":  t.policies,
		"success_count": t.policies,
		"failed_count":  0,
		"start_time":    stamp(t.started),
		"end_time":      stamp(t.ended),
		"created_at":    stamp(t.createdAt),
		"updated_at":    stamp(t.updatedAt),
	}
	if t.result != nil {
		v["result_json"] = t.result
	}
	if t.errMsg != "" {
		v["error_message"] = t.errMsg
	}
	return v
}

// taskMoves are the transitions the backend accepts, keyed by action.
var taskMoves = map[string]struct {
	from []job.Status
	to   job.Status
	verb string
}{
	"start":  {from: []job.Status{job.StatusPending}, to: job.StatusRunning, verb: "started"},
	"pause":  {from: []job.Status{job.StatusRunning}, to: job.StatusPaused, verb: "paused"},
	"resume": {from: []job.Status{job.StatusPaused}, to: job.StatusRunning, verb: "resumed"},
	"stop":   {from: []job.Status{job.StatusRunning, job.StatusPaused}, to: job.StatusCancelled, verb: "stopped"},
}

func (c *Console) taskRoutes(r chi.Router) {
	r.Get("/", c.listTasks)
	r.Post("/", c.createTask)
	r.Get("/{id}", c.getTask)
	r.Delete("/{id}", c.deleteTask)
	r.Post("/{id}/{action}", c.moveTask)
	r.Get("/{id}/download", c.downloadTask)
}

func (c *Console) listTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, size := 1, 20
	if v := q.Get("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			invalid(w, []string{"query", "page"}, "ensure this value is greater than or equal to 1")
			return
		}
		page = n
	}
	if v := q.Get("page_size"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 100 {
			invalid(w, []string{"query", "page_size"}, "ensure this value is between 1 and 100")
			return
		}
		size = n
	}

	c.mu.Lock()
	var matched []*task
	for _, t := range c.tasks {
		if tt := q.Get("task_type"); tt != "" && t.taskType != tt {
			continue
		}
		if st := q.Get("status"); st != "" && string(t.status) != st {
			continue
		}
		if q.Get("completed_only") == "true" && t.status != job.StatusCompleted {
			continue
		}
		matched = append(matched, t)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].id > matched[j].id })

	items := make([]map[string]any, 0, size)
	for i := (page - 1) * size; i < len(matched) && len(items) < size; i++ {
		items = append(items, matched[i].view())
	}
	c.mu.Unlock()

	render(w, http.StatusOK, map[string]any{
		"items":       items,
		"total":       len(matched),
		"page":        page,
		"page_size":   size,
		"total_pages": (len(matched) + size - 1) / size,
	})
}

func (c *Console) createTask(w http.ResponseWriter, r *http.Request) {
	var in struct {
		TaskType string          `json:"task_type"`
		TaskName string          `json:"task_name"`
		Config   json.RawMessage `json:"config"`
	}
	if !decode(w, r, &in) {
		return
	}
	if in.TaskName == "" {
		invalid(w, []string{"body", "task_name"}, "field required")
		return
	}
	if in.TaskType == "" {
		in.TaskType = "crawl_task"
	}

	c.mu.Lock()
	c.nextTask++
	now := c.opts.Now()
	t := &task{
		id:        c.nextTask,
		taskType:  in.TaskType,
		name:      in.TaskName,
		status:    job.StatusPending,
		config:    in.Config,
		createdAt: now,
		updatedAt: now,
	}
	c.tasks[t.id] = t
	view := t.view()
	// The reply reflects creation time; the run starts right after.
	if r.URL.Query().Get("auto_start") == "true" {
		t.status = job.StatusRunning
		t.started = now
	}
	c.mu.Unlock()

	render(w, http.StatusOK, view)
}

func (c *Console) lookupTask(w http.ResponseWriter, r *http.Request) (*task, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		invalid(w, []string{"path", "id"}, "value is not a valid integer")
		return nil, false
	}
	t, ok := c.tasks[id]
	if !ok {
		fail(w, http.StatusNotFound, "Task not found")
		return nil, false
	}
	return t, true
}

func (c *Console) getTask(w http.ResponseWriter, r *http.Request) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.lookupTask(w, r)
	if !ok {
		return
	}
	render(w, http.StatusOK, t.view())
}

func (c *Console) deleteTask(w http.ResponseWriter, r *http.Request) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.lookupTask(w, r)
	if !ok {
		return
	}
	if t.status.Active() {
		fail(w, http.StatusBadRequest, "Cannot delete a running task, stop it first")
		return
	}
	delete(c.tasks, t.id)
	render(w, http.StatusOK, map[string]any{"message": "Task deleted"})
}

func (c *Console) moveTask(w http.ResponseWriter, r *http.Request) {
	action := chi.URLParam(r, "action")
	move, known := taskMoves[action]

	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.lookupTask(w, r)
	if !ok {
		return
	}
	if !known {
		fail(w, http.StatusNotFound, "Not Found")
		return
	}

	legal := false
	for _, s := range move.from {
		if s == t.status {
			legal = true
		}
	}
	if !legal {
		fail(w, http.StatusBadRequest, fmt.Sprintf("Task cannot be %s in status '%s'", move.verb, t.status))
		return
	}

	now := c.opts.Now()
	t.status = move.to
	t.updatedAt = now
	if action == "start" {
		t.started = now
	}
	if move.to.IsTerminal() {
		t.ended = now
	}
	render(w, http.StatusOK, t.view())
}

func (c *Console) downloadTask(w http.ResponseWriter, r *http.Request) {
	format := r.URL.Query().Get("file_format")
	if format == "" {
		format = "all"
	}
	if format != "all" && format != "markdown" && format != "docx" {
		invalid(w, []string{"query", "file_format"}, "unexpected value")
		return
	}

	c.mu.Lock()
	t, ok := c.lookupTask(w, r)
	if !ok {
		c.mu.Unlock()
		return
	}
	status, id, name := t.status, t.id, t.name
	c.mu.Unlock()

	if status != job.StatusCompleted {
		fail(w, http.StatusBadRequest, "Task is not completed")
		return
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	f, err := zw.Create(name + ".md")
	if err == nil {
		_, err = f.Write([]byte("# " + name + "\n"))
	}
	if err == nil {
		err = zw.Close()
	}
	if err != nil {
		fail(w, http.StatusInternalServerError, err.Error())
		return
	}
	attachment(w, "application/zip", fmt.Sprintf("task_%d_%s.zip", id, format), buf.Bytes())
}

// SetTaskStatus moves a task as the backend's worker would: progress, run
// completion or failure. It bypasses the command rules.
func (c *Console) SetTaskStatus(id int64, status job.Status) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.tasks[id]
	if !ok {
		return
	}
	now := c.opts.Now()
	t.status = status
	t.updatedAt = now
	switch status {
	case job.StatusCompleted:
		t.progress = 100
		t.policies = 3
		t.ended = now
		t.result = map[string]any{"success": true, "policy_count": 3, "message": "crawl finished"}
	case job.StatusFailed:
		t.ended = now
		t.errMsg = "crawler aborted"
	}
}

// TaskStatus returns the stored status of a task.
func (c *Console) TaskStatus(id int64) (job.Status, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.tasks[id]
	if !ok {
		return "", false
	}
	return t.status, true
}
