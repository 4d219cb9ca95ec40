package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/policyhub/console/internal/job"
	"github.com/policyhub/console/internal/paging"
	"github.com/policyhub/console/internal/transport"
)

// Backup is a point-in-time snapshot of the policy database. Its lifecycle
// is linear: pending, running, then completed or failed.
type Backup struct {
	ID             string     `json:"id"`
	BackupType     string     `json:"backup_type"`
	Status         job.Status `json:"status"`
	S3Key          string     `json:"s3_key,omitempty"`
	LocalPath      string     `json:"local_path,omitempty"`
	FileSize       string     `json:"file_size,omitempty"`
	StartTime      *Time      `json:"start_time,omitempty"`
	EndTime        *Time      `json:"end_time,omitempty"`
	ErrorMessage   string     `json:"error_message,omitempty"`
	CreatedAt      Time       `json:"created_at"`
	SourceType     string     `json:"source_type,omitempty"`
	SourceID       string     `json:"source_id,omitempty"`
	SourceName     string     `json:"source_name,omitempty"`
	SourceDeleted  bool       `json:"source_deleted,omitempty"`
	BackupStrategy string     `json:"backup_strategy,omitempty"`
}

// UnmarshalJSON accepts the legacy record shape too: numeric id and
// file_size, file_path instead of local_path, completed_at instead of
// end_time. Records are always produced in the current shape.
func (b *Backup) UnmarshalJSON(data []byte) error {
	type plain Backup
	var aux struct {
		plain
		ID          json.RawMessage `json:"id"`
		FileSize    json.RawMessage `json:"file_size"`
		FilePath    string          `json:"file_path"`
		CompletedAt *Time           `json:"completed_at"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	*b = Backup(aux.plain)
	b.ID = scalarString(aux.ID)
	b.FileSize = scalarString(aux.FileSize)
	if b.LocalPath == "" {
		b.LocalPath = aux.FilePath
	}
	if b.EndTime == nil {
		b.EndTime = aux.CompletedAt
	}
	return nil
}

// scalarString renders a JSON string or number as a string.
func scalarString(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	var n json.Number
	if json.Unmarshal(raw, &n) == nil {
		return n.String()
	}
	return ""
}

// Actions lists the operations that may be offered for the backup.
func (b Backup) Actions() []job.Operation {
	return job.Actions(job.KindBackup, b.Status)
}

// BackupCreate is the body of a manual backup request.
type BackupCreate struct {
	BackupType string `json:"backup_type,omitempty"`
	BackupName string `json:"backup_name,omitempty"`
}

// BackupFilter narrows a listing.
type BackupFilter struct {
	paging.Window
	BackupType string
	Status     job.Status
}

// RestoreOptions is the body of a restore. An empty TargetDatabase restores
// into the original database.
type RestoreOptions struct {
	TargetDatabase string `json:"target_database,omitempty"`
}

// RestoreResult is the outcome of a restore.
type RestoreResult struct {
	Success        bool   `json:"success"`
	Message        string `json:"message"`
	BackupID       string `json:"backup_id,omitempty"`
	TargetDatabase string `json:"target_database,omitempty"`
	Error          string `json:"error,omitempty"`
}

// CleanupResult is the outcome of a retention cleanup.
type CleanupResult struct {
	Success      bool   `json:"success"`
	Message      string `json:"message"`
	DeletedCount int    `json:"deleted_count"`
	KeptCount    int    `json:"kept_count"`
	Error        string `json:"error,omitempty"`
}

// BackupGateway binds /api/backups. The backend pages with skip/limit;
// responses are normalized to page/page_size.
type BackupGateway struct {
	gateway
}

// List returns one page of backups.
func (g *BackupGateway) List(ctx context.Context, f BackupFilter) (paging.Page[Backup], error) {
	q := paging.NewQuery().
		Window(f.Window).
		String("backup_type", f.BackupType).
		String("status", string(f.Status))

	var resp struct {
		paging.Page[Backup]
		Legacy []Backup `json:"backups"`
	}
	err := g.sender.JSON(ctx, &transport.Request{
		Method: http.MethodGet,
		Path:   "/api/backups/",
		Query:  q.Values(),
	}, &resp)
	if err != nil {
		return paging.Page[Backup]{}, err
	}

	page := resp.Page
	if len(page.Items) == 0 && len(resp.Legacy) > 0 {
		page.Items = resp.Legacy
	}
	for _, b := range page.Items {
		g.observe(job.KindBackup, b.ID, b.Status)
	}
	return page.Normalize(), nil
}

// Get returns one backup.
func (g *BackupGateway) Get(ctx context.Context, id string) (*Backup, error) {
	var b Backup
	err := g.sender.JSON(ctx, &transport.Request{
		Method: http.MethodGet,
		Route:  "/api/backups/{id}",
		Path:   "/api/backups/" + id,
	}, &b)
	if err != nil {
		return nil, err
	}
	g.observe(job.KindBackup, b.ID, b.Status)
	return &b, nil
}

// Create starts a manual backup.
func (g *BackupGateway) Create(ctx context.Context, in BackupCreate) (*Backup, error) {
	var b Backup
	err := g.sender.JSON(ctx, &transport.Request{
		Method: http.MethodPost,
		Path:   "/api/backups/",
		Body:   in,
	}, &b)
	if err != nil {
		return nil, err
	}
	g.observe(job.KindBackup, b.ID, b.Status)
	return &b, nil
}

// Restore loads a completed backup back into the database.
func (g *BackupGateway) Restore(ctx context.Context, id string, opts RestoreOptions) (*RestoreResult, error) {
	var res RestoreResult
	err := g.command(ctx, job.KindBackup, id, job.OpRestore, &transport.Request{
		Method: http.MethodPost,
		Route:  "/api/backups/{id}/restore",
		Path:   "/api/backups/" + id + "/restore",
		Body:   opts,
	}, &res)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// Delete removes a backup record and its artifact.
func (g *BackupGateway) Delete(ctx context.Context, id string) error {
	err := g.sender.JSON(ctx, &transport.Request{
		Method: http.MethodDelete,
		Route:  "/api/backups/{id}",
		Path:   "/api/backups/" + id,
	}, nil)
	if err != nil {
		return err
	}
	g.forget(job.KindBackup, id)
	return nil
}

// Download streams the backup artifact. The caller closes the body.
func (g *BackupGateway) Download(ctx context.Context, id string) (*transport.Download, error) {
	return g.sender.Stream(ctx, &transport.Request{
		Method: http.MethodGet,
		Route:  "/api/backups/{id}/download",
		Path:   "/api/backups/" + id + "/download",
	})
}

// Upload registers an externally produced backup file. name is optional.
func (g *BackupGateway) Upload(ctx context.Context, filename string, content io.Reader, name string) (*Backup, error) {
	form := &transport.Multipart{
		Files: []transport.FilePart{{Field: "file", Filename: filename, Content: content}},
	}
	if name != "" {
		form.Fields = map[string]string{"backup_name": name}
	}

	var b Backup
	err := g.sender.JSON(ctx, &transport.Request{
		Method: http.MethodPost,
		Path:   "/api/backups/upload",
		Form:   form,
	}, &b)
	if err != nil {
		return nil, err
	}
	g.observe(job.KindBackup, b.ID, b.Status)
	return &b, nil
}

// Cleanup keeps the newest keepCount backups and deletes the rest. A
// non-positive keepCount lets the backend apply its default.
func (g *BackupGateway) Cleanup(ctx context.Context, keepCount int) (*CleanupResult, error) {
	q := url.Values{}
	if keepCount > 0 {
		q.Set("keep_count", strconv.Itoa(keepCount))
	}

	var res CleanupResult
	err := g.sender.JSON(ctx, &transport.Request{
		Method: http.MethodPost,
		Path:   "/api/backups/cleanup",
		Query:  q,
	}, &res)
	if err != nil {
		return nil, err
	}
	return &res, nil
}
