package mockconsole

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/policyhub/console/internal/job"
)

type backup struct {
	id        int64
	kind      string
	name      string
	status    job.Status
	path      string
	content   []byte
	started   time.Time
	ended     time.Time
	createdAt time.Time
}

func (b *backup) view() map[string]any {
	return map[string]any{
		"id":          strconv.FormatInt(b.id, 10),
		"backup_type": b.kind,
		"status":      b.status,
		"local_path":  b.path,
		"file_size":   strconv.Itoa(len(b.content)),
		"start_time":  stamp(b.started),
		"end_time":    stamp(b.ended),
		"created_at":  stamp(b.createdAt),
		"source_type": "manual",
		"source_name": b.name,
	}
}

func (b *backup) legacyView() map[string]any {
	return map[string]any{
		"id":           b.id,
		"backup_type":  b.kind,
		"status":       b.status,
		"file_path":    b.path,
		"file_size":    len(b.content),
		"created_at":   stamp(b.createdAt),
		"completed_at": stamp(b.ended),
	}
}

func (c *Console) backupRoutes(r chi.Router) {
	r.Get("/", c.listBackups)
	r.Post("/", c.createBackup)
	r.Post("/upload", c.uploadBackup)
	r.Post("/cleanup", c.cleanupBackups)
	r.Get("/{id}", c.getBackup)
	r.Delete("/{id}", c.deleteBackup)
	r.Post("/{id}/restore", c.restoreBackup)
	r.Get("/{id}/download", c.downloadBackup)
}

func (c *Console) listBackups(w http.ResponseWriter, r *http.Request) {
	skip, limit, ok := window(w, r, 20, 100)
	if !ok {
		return
	}
	q := r.URL.Query()

	c.mu.Lock()
	var matched []*backup
	// Newest first.
	for i := len(c.backups) - 1; i >= 0; i-- {
		b := c.backups[i]
		if bt := q.Get("backup_type"); bt != "" && b.kind != bt {
			continue
		}
		if st := q.Get("status"); st != "" && string(b.status) != st {
			continue
		}
		matched = append(matched, b)
	}
	items := make([]map[string]any, 0)
	for i := skip; i < len(matched) && len(items) < limit; i++ {
		if c.opts.LegacyBackups {
			items = append(items, matched[i].legacyView())
		} else {
			items = append(items, matched[i].view())
		}
	}
	c.mu.Unlock()

	key := "items"
	if c.opts.LegacyBackups {
		key = "backups"
	}
	render(w, http.StatusOK, map[string]any{key: items, "total": len(matched), "skip": skip, "limit": limit})
}

func (c *Console) createBackup(w http.ResponseWriter, r *http.Request) {
	var in struct {
		BackupType string `json:"backup_type"`
		BackupName string `json:"backup_name"`
	}
	if !decode(w, r, &in) {
		return
	}
	if in.BackupType == "" {
		in.BackupType = "full"
	}

	c.mu.Lock()
	b := c.addBackup(in.BackupType, in.BackupName, job.StatusRunning, nil)
	view := b.view()
	c.mu.Unlock()
	render(w, http.StatusOK, view)
}

func (c *Console) uploadBackup(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		invalid(w, []string{"body", "file"}, "field required")
		return
	}
	f, hdr, err := r.FormFile("file")
	if err != nil {
		invalid(w, []string{"body", "file"}, "field required")
		return
	}
	defer f.Close()
	content, err := io.ReadAll(f)
	if err != nil {
		fail(w, http.StatusBadRequest, err.Error())
		return
	}

	name := r.FormValue("backup_name")
	if name == "" {
		name = hdr.Filename
	}

	c.mu.Lock()
	b := c.addBackup("uploaded", name, job.StatusCompleted, content)
	view := b.view()
	c.mu.Unlock()
	render(w, http.StatusOK, view)
}

// AddBackup stores a backup directly, e.g. to seed a listing.
func (c *Console) AddBackup(kind string, status job.Status) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return strconv.FormatInt(c.addBackup(kind, "", status, []byte("backup")).id, 10)
}

func (c *Console) addBackup(kind, name string, status job.Status, content []byte) *backup {
	c.nextBkp++
	now := c.opts.Now()
	b := &backup{
		id:        c.nextBkp,
		kind:      kind,
		name:      name,
		status:    status,
		path:      fmt.Sprintf("/var/backups/policy_%d.sql.gz", c.nextBkp),
		content:   content,
		started:   now,
		createdAt: now.Add(time.Duration(c.nextBkp) * time.Millisecond),
	}
	if status.IsTerminal() {
		b.ended = now
	}
	c.backups = append(c.backups, b)
	return b
}

func (c *Console) lookupBackup(w http.ResponseWriter, r *http.Request) (int, bool) {
	id := chi.URLParam(r, "id")
	for i, b := range c.backups {
		if strconv.FormatInt(b.id, 10) == id {
			return i, true
		}
	}
	fail(w, http.StatusNotFound, "Backup not found")
	return 0, false
}

func (c *Console) getBackup(w http.ResponseWriter, r *http.Request) {
	c.mu.Lock()
	defer c.mu.Unlock()
	i, ok := c.lookupBackup(w, r)
	if !ok {
		return
	}
	render(w, http.StatusOK, c.backups[i].view())
}

func (c *Console) deleteBackup(w http.ResponseWriter, r *http.Request) {
	c.mu.Lock()
	defer c.mu.Unlock()
	i, ok := c.lookupBackup(w, r)
	if !ok {
		return
	}
	if c.backups[i].status.Active() {
		fail(w, http.StatusBadRequest, "Cannot delete a backup in progress")
		return
	}
	c.backups = append(c.backups[:i], c.backups[i+1:]...)
	render(w, http.StatusOK, map[string]any{"message": "Backup deleted"})
}

func (c *Console) restoreBackup(w http.ResponseWriter, r *http.Request) {
	var in struct {
		TargetDatabase string `json:"target_database"`
	}
	if !decode(w, r, &in) {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	i, ok := c.lookupBackup(w, r)
	if !ok {
		return
	}
	b := c.backups[i]
	if b.status != job.StatusCompleted {
		fail(w, http.StatusBadRequest, fmt.Sprintf("Backup cannot be restored in status '%s'", b.status))
		return
	}
	render(w, http.StatusOK, map[string]any{
		"success":         true,
		"message":         "Backup restored",
		"backup_id":       strconv.FormatInt(b.id, 10),
		"target_database": in.TargetDatabase,
	})
}

func (c *Console) downloadBackup(w http.ResponseWriter, r *http.Request) {
	c.mu.Lock()
	i, ok := c.lookupBackup(w, r)
	if !ok {
		c.mu.Unlock()
		return
	}
	b := *c.backups[i]
	c.mu.Unlock()

	if b.status != job.StatusCompleted {
		fail(w, http.StatusBadRequest, "Backup is not completed")
		return
	}
	attachment(w, "application/gzip", fmt.Sprintf("backup_%d.sql.gz", b.id), b.content)
}

func (c *Console) cleanupBackups(w http.ResponseWriter, r *http.Request) {
	keep := 10
	if v := r.URL.Query().Get("keep_count"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 100 {
			invalid(w, []string{"query", "keep_count"}, "ensure this value is between 1 and 100")
			return
		}
		keep = n
	}

	c.mu.Lock()
	deleted := 0
	if len(c.backups) > keep {
		deleted = len(c.backups) - keep
		c.backups = append([]*backup(nil), c.backups[deleted:]...)
	}
	kept := len(c.backups)
	c.mu.Unlock()

	render(w, http.StatusOK, map[string]any{
		"success":       true,
		"message":       fmt.Sprintf("Deleted %d old backups", deleted),
		"deleted_count": deleted,
		"kept_count":    kept,
	})
}

// SetBackupStatus moves a backup as the backend's worker would.
func (c *Console) SetBackupStatus(id string, status job.Status) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, b := range c.backups {
		if strconv.FormatInt(b.id, 10) != id {
			continue
		}
		b.status = status
		if status.IsTerminal() {
			b.ended = c.opts.Now()
		}
		if status == job.StatusCompleted && b.content == nil {
			b.content = []byte("backup")
		}
	}
}
