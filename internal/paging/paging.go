// Package paging translates between the console's page/page_size convention
// and the backend's skip/limit convention.
//
// Every function here is pure. The request side turns a Window into query
// parameters; the response side derives page, page_size and total_pages from
// skip and limit. Normalizing an already normalized response is a no-op.
package paging

import (
	"net/url"
	"strconv"
	"time"
)

// Window is a UI page request. Page is 1-based. A zero Page or PageSize means
// the caller did not ask for paging and the server default applies.
type Window struct {
	Page     int
	PageSize int
}

// Defined reports whether both Page and PageSize are set.
func (w Window) Defined() bool {
	return w.Page > 0 && w.PageSize > 0
}

// Offset returns the 0-based skip for the window: (page - 1) * page_size.
func (w Window) Offset() int {
	if !w.Defined() {
		return 0
	}
	return (w.Page - 1) * w.PageSize
}

// -----------------------------------------------------------------------------
// Request side
// -----------------------------------------------------------------------------

// Query accumulates list parameters. Filters are only added when defined, so
// an unset field never reaches the wire as an empty or placeholder value.
type Query struct {
	values url.Values
}

// NewQuery returns an empty Query.
func NewQuery() *Query {
	return &Query{values: url.Values{}}
}

// Window adds skip and limit for endpoints using the offset convention.
func (q *Query) Window(w Window) *Query {
	if w.Defined() {
		q.values.Set("skip", strconv.Itoa(w.Offset()))
		q.values.Set("limit", strconv.Itoa(w.PageSize))
	}
	return q
}

// Native adds page and page_size for endpoints that page natively.
func (q *Query) Native(w Window) *Query {
	if w.Defined() {
		q.values.Set("page", strconv.Itoa(w.Page))
		q.values.Set("page_size", strconv.Itoa(w.PageSize))
	}
	return q
}

// String adds key when v is non-empty.
func (q *Query) String(key, v string) *Query {
	if v != "" {
		q.values.Set(key, v)
	}
	return q
}

// Bool adds key when v is non-nil.
func (q *Query) Bool(key string, v *bool) *Query {
	if v != nil {
		q.values.Set(key, strconv.FormatBool(*v))
	}
	return q
}

// Int adds key when v is non-nil.
func (q *Query) Int(key string, v *int64) *Query {
	if v != nil {
		q.values.Set(key, strconv.FormatInt(*v, 10))
	}
	return q
}

// Date adds key formatted as YYYY-MM-DD when t is non-zero.
func (q *Query) Date(key string, t time.Time) *Query {
	if !t.IsZero() {
		q.values.Set(key, t.Format(time.DateOnly))
	}
	return q
}

// Values returns the accumulated parameters.
func (q *Query) Values() url.Values {
	return q.values
}

// -----------------------------------------------------------------------------
// Response side
// -----------------------------------------------------------------------------

// Meta is the paging envelope of a list response. The backend fills Skip and
// Limit; Page, PageSize and TotalPages are either sent by natively paging
// endpoints or derived by Normalize.
type Meta struct {
	Total      int64 `json:"total"`
	Skip       *int  `json:"skip,omitempty"`
	Limit      *int  `json:"limit,omitempty"`
	Page       *int  `json:"page,omitempty"`
	PageSize   *int  `json:"page_size,omitempty"`
	TotalPages *int  `json:"total_pages,omitempty"`
}

// Normalize derives page, page_size and total_pages when skip and limit are
// present and limit is positive. Otherwise m is returned unchanged; a zero
// limit means "no paging" and nothing is derived.
func (m Meta) Normalize() Meta {
	if m.Skip == nil || m.Limit == nil || *m.Limit <= 0 {
		return m
	}

	skip, limit := *m.Skip, *m.Limit
	page := skip/limit + 1
	pageSize := limit
	totalPages := int((m.Total + int64(limit) - 1) / int64(limit))

	m.Page = &page
	m.PageSize = &pageSize
	m.TotalPages = &totalPages
	return m
}

// Page is a normalized list response.
type Page[T any] struct {
	Items []T `json:"items"`
	Meta
}

// Normalize returns p with its Meta normalized. Items are not touched.
func (p Page[T]) Normalize() Page[T] {
	p.Meta = p.Meta.Normalize()
	return p
}

// PageNumber returns the normalized page, or 0 when unknown.
func (m Meta) PageNumber() int { return deref(m.Page) }

// Size returns the normalized page size, or 0 when unknown.
func (m Meta) Size() int { return deref(m.PageSize) }

// Pages returns the normalized total page count, or 0 when unknown.
func (m Meta) Pages() int { return deref(m.TotalPages) }

func deref(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}
