package mockconsole

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
)

type policy struct {
	id         int64
	title      string
	docNumber  string
	pubDate    time.Time
	category   string
	level      string
	publisher  string
	sourceName string
	content    string
	taskID     int64
}

func (p *policy) view(full bool) map[string]any {
	v := map[string]any{
		"id":               p.id,
		"title":            p.title,
		"doc_number":       p.docNumber,
		"pub_date":         p.pubDate.Format(time.DateOnly),
		"category":         p.category,
		"level":            p.level,
		"publisher":        p.publisher,
		"source_name":      p.sourceName,
		"word_count":       len([]rune(p.content)),
		"attachment_count": 1,
	}
	if full {
		v["content"] = p.content
		v["attachments"] = []map[string]any{{
			"id":        p.id,
			"policy_id": p.id,
			"file_name": "附件1.pdf",
			"file_url":  fmt.Sprintf("https://example.com/%d.pdf", p.id),
			"file_size": 1024,
		}}
	}
	return v
}

var (
	seedCategories = []string{"国务院文件", "部门规章"}
	seedLevels     = []string{"行政法规", "部门规章", "规范性文件"}
	seedSources    = []string{"gov", "npc"}
)

// SeedPolicies adds n generated policies. Policy i is published i days
// after 2024-01-01 and alternates category, level and source.
func (c *Console) SeedPolicies(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		id := int64(len(c.policies) + 1)
		c.policies = append(c.policies, &policy{
			id:         id,
			title:      fmt.Sprintf("关于数据安全管理的通知 %d", id),
			docNumber:  fmt.Sprintf("国办发〔2024〕%d号", id),
			pubDate:    base.AddDate(0, 0, i),
			category:   seedCategories[i%len(seedCategories)],
			level:      seedLevels[i%len(seedLevels)],
			publisher:  "国务院办公厅",
			sourceName: seedSources[i%len(seedSources)],
			content:    "为加强数据安全管理，现就有关事项通知如下。",
			taskID:     1,
		})
	}
}

type policyQuery struct {
	Keyword    string `json:"keyword"`
	Category   string `json:"category"`
	Level      string `json:"level"`
	Publisher  string `json:"publisher"`
	SourceName string `json:"source_name"`
	StartDate  string `json:"start_date"`
	EndDate    string `json:"end_date"`
	TaskID     string `json:"-"`
	Skip       *int   `json:"skip"`
	Limit      *int   `json:"limit"`
}

func (q policyQuery) match(p *policy) bool {
	switch {
	case q.Keyword != "" && !strings.Contains(p.title, q.Keyword) && !strings.Contains(p.content, q.Keyword):
		return false
	case q.Category != "" && p.category != q.Category:
		return false
	case q.Level != "" && p.level != q.Level:
		return false
	case q.Publisher != "" && !strings.Contains(p.publisher, q.Publisher):
		return false
	case q.SourceName != "" && p.sourceName != q.SourceName:
		return false
	case q.TaskID != "" && strconv.FormatInt(p.taskID, 10) != q.TaskID:
		return false
	}
	date := p.pubDate.Format(time.DateOnly)
	if q.StartDate != "" && date < q.StartDate {
		return false
	}
	if q.EndDate != "" && date > q.EndDate {
		return false
	}
	return true
}

func (c *Console) policyRoutes(r chi.Router) {
	r.Get("/", c.listPolicies)
	r.Post("/search", c.searchPolicies)
	r.Post("/search/rebuild-index", c.rebuildIndex)
	r.Get("/meta/categories", c.policyMeta(func(p *policy) string { return p.category }))
	r.Get("/meta/levels", c.policyMeta(func(p *policy) string { return p.level }))
	r.Get("/meta/source-names", c.policyMeta(func(p *policy) string { return p.sourceName }))
	r.Get("/{id}", c.getPolicy)
	r.Delete("/{id}", c.deletePolicy)
	r.Get("/{id}/file/{type}", c.policyFile)
}

func (c *Console) listPolicies(w http.ResponseWriter, r *http.Request) {
	skip, limit, ok := window(w, r, 20, 100)
	if !ok {
		return
	}
	v := r.URL.Query()
	c.renderPolicies(w, policyQuery{
		Keyword:    v.Get("keyword"),
		Category:   v.Get("category"),
		Level:      v.Get("level"),
		Publisher:  v.Get("publisher"),
		SourceName: v.Get("source_name"),
		StartDate:  v.Get("start_date"),
		EndDate:    v.Get("end_date"),
		TaskID:     v.Get("task_id"),
	}, skip, limit)
}

func (c *Console) searchPolicies(w http.ResponseWriter, r *http.Request) {
	var q policyQuery
	if !decode(w, r, &q) {
		return
	}
	skip, limit := 0, 20
	if q.Skip != nil {
		skip = *q.Skip
	}
	if q.Limit != nil {
		if *q.Limit < 1 || *q.Limit > 100 {
			invalid(w, []string{"body", "limit"}, "ensure this value is between 1 and 100")
			return
		}
		limit = *q.Limit
	}
	c.renderPolicies(w, q, skip, limit)
}

func (c *Console) renderPolicies(w http.ResponseWriter, q policyQuery, skip, limit int) {
	c.mu.Lock()
	var matched []*policy
	for _, p := range c.policies {
		if q.match(p) {
			matched = append(matched, p)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool { return matched[i].pubDate.After(matched[j].pubDate) })
	items := make([]map[string]any, 0)
	for i := skip; i < len(matched) && len(items) < limit; i++ {
		items = append(items, matched[i].view(false))
	}
	c.mu.Unlock()

	render(w, http.StatusOK, map[string]any{"items": items, "total": len(matched), "skip": skip, "limit": limit})
}

func (c *Console) policyMeta(field func(*policy) string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		source := r.URL.Query().Get("source_name")

		c.mu.Lock()
		seen := map[string]bool{}
		out := []string{}
		for _, p := range c.policies {
			if source != "" && p.sourceName != source {
				continue
			}
			if v := field(p); v != "" && !seen[v] {
				seen[v] = true
				out = append(out, v)
			}
		}
		c.mu.Unlock()

		sort.Strings(out)
		render(w, http.StatusOK, out)
	}
}

func (c *Console) rebuildIndex(w http.ResponseWriter, _ *http.Request) {
	c.mu.Lock()
	n := len(c.policies)
	c.mu.Unlock()
	render(w, http.StatusOK, map[string]any{
		"success": true,
		"message": fmt.Sprintf("Indexed %d policies", n),
		"indexed": n,
	})
}

func (c *Console) lookupPolicy(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		invalid(w, []string{"path", "id"}, "value is not a valid integer")
		return 0, false
	}
	for i, p := range c.policies {
		if p.id == id {
			return i, true
		}
	}
	fail(w, http.StatusNotFound, "Policy not found")
	return 0, false
}

func (c *Console) getPolicy(w http.ResponseWriter, r *http.Request) {
	c.mu.Lock()
	defer c.mu.Unlock()
	i, ok := c.lookupPolicy(w, r)
	if !ok {
		return
	}
	render(w, http.StatusOK, c.policies[i].view(true))
}

func (c *Console) deletePolicy(w http.ResponseWriter, r *http.Request) {
	c.mu.Lock()
	defer c.mu.Unlock()
	i, ok := c.lookupPolicy(w, r)
	if !ok {
		return
	}
	c.policies = append(c.policies[:i], c.policies[i+1:]...)
	render(w, http.StatusOK, map[string]any{"message": "Policy deleted"})
}

func (c *Console) policyFile(w http.ResponseWriter, r *http.Request) {
	kind := chi.URLParam(r, "type")

	c.mu.Lock()
	i, ok := c.lookupPolicy(w, r)
	if !ok {
		c.mu.Unlock()
		return
	}
	p := *c.policies[i]
	c.mu.Unlock()

	name := fmt.Sprintf("policy_%d.%s", p.id, kind)
	switch kind {
	case "json":
		body, _ := json.Marshal(p.view(true))
		attachment(w, "application/json", name, body)
	case "markdown":
		attachment(w, "text/markdown; charset=utf-8", name, []byte("# "+p.title+"\n\n"+p.content+"\n"))
	case "docx":
		attachment(w, "application/vnd.openxmlformats-officedocument.wordprocessingml.document", name, []byte("PK\x03\x04"))
	default:
		fail(w, http.StatusBadRequest, "Unsupported file type: "+kind)
	}
}
