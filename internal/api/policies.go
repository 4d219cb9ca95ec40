package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/policyhub/console/internal/paging"
	"github.com/policyhub/console/internal/transport"
)

// Policy is one crawled policy document. List responses omit Content and
// Attachments.
type Policy struct {
	ID              int64        `json:"id"`
	Title           string       `json:"title"`
	DocNumber       string       `json:"doc_number,omitempty"`
	PubDate         string       `json:"pub_date,omitempty"`
	EffectiveDate   string       `json:"effective_date,omitempty"`
	Category        string       `json:"category,omitempty"`
	CategoryCode    string       `json:"category_code,omitempty"`
	CategoryDisplay string       `json:"category_display,omitempty"`
	Level           string       `json:"level,omitempty"`
	Validity        string       `json:"validity,omitempty"`
	Publisher       string       `json:"publisher,omitempty"`
	SourceName      string       `json:"source_name,omitempty"`
	SourceURL       string       `json:"source_url,omitempty"`
	Content         string       `json:"content,omitempty"`
	ContentSummary  string       `json:"content_summary,omitempty"`
	Keywords        []string     `json:"keywords,omitempty"`
	WordCount       int          `json:"word_count"`
	AttachmentCount int          `json:"attachment_count"`
	CrawlTime       *Time        `json:"crawl_time,omitempty"`
	CreatedAt       *Time        `json:"created_at,omitempty"`
	UpdatedAt       *Time        `json:"updated_at,omitempty"`
	Attachments     []Attachment `json:"attachments,omitempty"`
}

// Attachment is a file published together with a policy.
type Attachment struct {
	ID       int64  `json:"id"`
	PolicyID int64  `json:"policy_id"`
	FileName string `json:"file_name"`
	FileURL  string `json:"file_url"`
	FileSize int64  `json:"file_size"`
	FileType string `json:"file_type,omitempty"`
}

// PolicyFilter narrows a listing. Zero fields are not sent.
type PolicyFilter struct {
	paging.Window
	Category   string
	Level      string
	StartDate  time.Time
	EndDate    time.Time
	Keyword    string
	Publisher  string
	SourceName string
	TaskID     *int64
}

// PolicySearch is a full-text search. Without a keyword the backend falls
// back to plain filtering.
type PolicySearch struct {
	paging.Window
	Keyword   string
	Category  string
	Level     string
	StartDate time.Time
	EndDate   time.Time
}

// searchBody is the wire form of PolicySearch; paging travels in the body.
type searchBody struct {
	Keyword   string `json:"keyword,omitempty"`
	Category  string `json:"category,omitempty"`
	Level     string `json:"level,omitempty"`
	StartDate string `json:"start_date,omitempty"`
	EndDate   string `json:"end_date,omitempty"`
	Skip      *int   `json:"skip,omitempty"`
	Limit     *int   `json:"limit,omitempty"`
}

// PolicyFileType selects the rendition served by File.
type PolicyFileType string

const (
	PolicyJSON     PolicyFileType = "json"
	PolicyMarkdown PolicyFileType = "markdown"
	PolicyDocx     PolicyFileType = "docx"
)

// ParsePolicyFileType validates a rendition name.
func ParsePolicyFileType(s string) (PolicyFileType, error) {
	switch t := PolicyFileType(s); t {
	case PolicyJSON, PolicyMarkdown, PolicyDocx:
		return t, nil
	}
	return "", fmt.Errorf("api: unsupported policy file type %q (want json, markdown or docx)", s)
}

// IndexResult is the outcome of a search index rebuild.
type IndexResult struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Indexed int    `json:"indexed,omitempty"`
}

// PolicyGateway binds /api/policies. The backend pages with skip/limit;
// responses are normalized to page/page_size.
type PolicyGateway struct {
	gateway
}

// List returns one page of policies.
func (g *PolicyGateway) List(ctx context.Context, f PolicyFilter) (paging.Page[Policy], error) {
	q := paging.NewQuery().
		Window(f.Window).
		String("category", f.Category).
		String("level", f.Level).
		Date("start_date", f.StartDate).
		Date("end_date", f.EndDate).
		String("keyword", f.Keyword).
		String("publisher", f.Publisher).
		String("source_name", f.SourceName).
		Int("task_id", f.TaskID)

	var page paging.Page[Policy]
	err := g.sender.JSON(ctx, &transport.Request{
		Method: http.MethodGet,
		Path:   "/api/policies/",
		Query:  q.Values(),
	}, &page)
	if err != nil {
		return paging.Page[Policy]{}, err
	}
	return page.Normalize(), nil
}

// Search runs a full-text search.
func (g *PolicyGateway) Search(ctx context.Context, s PolicySearch) (paging.Page[Policy], error) {
	body := searchBody{
		Keyword:  s.Keyword,
		Category: s.Category,
		Level:    s.Level,
	}
	if !s.StartDate.IsZero() {
		body.StartDate = s.StartDate.Format(time.DateOnly)
	}
	if !s.EndDate.IsZero() {
		body.EndDate = s.EndDate.Format(time.DateOnly)
	}
	if s.Window.Defined() {
		skip, limit := s.Window.Offset(), s.Window.PageSize
		body.Skip, body.Limit = &skip, &limit
	}

	var page paging.Page[Policy]
	err := g.sender.JSON(ctx, &transport.Request{
		Method: http.MethodPost,
		Path:   "/api/policies/search",
		Body:   body,
	}, &page)
	if err != nil {
		return paging.Page[Policy]{}, err
	}
	return page.Normalize(), nil
}

// Get returns one policy with content and attachments.
func (g *PolicyGateway) Get(ctx context.Context, id int64) (*Policy, error) {
	var p Policy
	err := g.sender.JSON(ctx, &transport.Request{
		Method: http.MethodGet,
		Route:  "/api/policies/{id}",
		Path:   "/api/policies/" + itoa(id),
	}, &p)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// Delete removes a policy.
func (g *PolicyGateway) Delete(ctx context.Context, id int64) error {
	return g.sender.JSON(ctx, &transport.Request{
		Method: http.MethodDelete,
		Route:  "/api/policies/{id}",
		Path:   "/api/policies/" + itoa(id),
	}, nil)
}

// Categories lists the known categories, optionally of one source.
func (g *PolicyGateway) Categories(ctx context.Context, sourceName string) ([]string, error) {
	return g.meta(ctx, "categories", paging.NewQuery().String("source_name", sourceName))
}

// Levels lists the known legal effect levels.
func (g *PolicyGateway) Levels(ctx context.Context) ([]string, error) {
	return g.meta(ctx, "levels", paging.NewQuery())
}

// SourceNames lists the data sources that produced policies.
func (g *PolicyGateway) SourceNames(ctx context.Context) ([]string, error) {
	return g.meta(ctx, "source-names", paging.NewQuery())
}

func (g *PolicyGateway) meta(ctx context.Context, name string, q *paging.Query) ([]string, error) {
	var out []string
	err := g.sender.JSON(ctx, &transport.Request{
		Method: http.MethodGet,
		Path:   "/api/policies/meta/" + name,
		Query:  q.Values(),
	}, &out)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// RebuildIndex rebuilds the full-text search index.
func (g *PolicyGateway) RebuildIndex(ctx context.Context) (*IndexResult, error) {
	var res IndexResult
	err := g.sender.JSON(ctx, &transport.Request{
		Method: http.MethodPost,
		Path:   "/api/policies/search/rebuild-index",
	}, &res)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// File streams one rendition of a policy. The caller closes the body.
func (g *PolicyGateway) File(ctx context.Context, id int64, t PolicyFileType) (*transport.Download, error) {
	return g.sender.Stream(ctx, &transport.Request{
		Method: http.MethodGet,
		Route:  "/api/policies/{id}/file/{type}",
		Path:   "/api/policies/" + itoa(id) + "/file/" + string(t),
	})
}
