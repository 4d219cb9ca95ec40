package paging

import (
	"encoding/json"
	"fmt"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intp(v int) *int { return &v }

func TestWindowRoundTrip(t *testing.T) {
	for page := 1; page <= 12; page++ {
		for size := 1; size <= 25; size++ {
			for _, total := range []int64{0, 1, 9, 10, 25, 101, 1000} {
				q := NewQuery().Window(Window{Page: page, PageSize: size}).Values()
				skip, err := strconv.Atoi(q.Get("skip"))
				require.NoError(t, err)
				limit, err := strconv.Atoi(q.Get("limit"))
				require.NoError(t, err)

				assert.Equal(t, (page-1)*size, skip)

				// The server echoes skip/limit back together with the total.
				m := Meta{Total: total, Skip: &skip, Limit: &limit}.Normalize()

				require.NotNil(t, m.Page)
				assert.Equal(t, page, *m.Page)
				assert.Equal(t, size, *m.PageSize)
				want := int((total + int64(size) - 1) / int64(size))
				assert.Equal(t, want, *m.TotalPages, fmt.Sprintf("total=%d size=%d", total, size))
			}
		}
	}
}

func TestNormalizeIsIdempotent(t *testing.T) {
	testCases := []Meta{
		{Total: 25, Skip: intp(10), Limit: intp(10)},
		{Total: 3, Skip: intp(0), Limit: intp(20)},
		{Total: 7, Page: intp(2), PageSize: intp(5), TotalPages: intp(2)},
		{Total: 7},
		{Total: 7, Skip: intp(0), Limit: intp(0)},
	}

	for i, m := range testCases {
		t.Run(strconv.Itoa(i), func(t *testing.T) {
			once := m.Normalize()
			twice := once.Normalize()
			assert.Equal(t, once, twice)
		})
	}
}

func TestNormalizeZeroLimit(t *testing.T) {
	m := Meta{Total: 40, Skip: intp(20), Limit: intp(0)}

	assert.NotPanics(t, func() { m = m.Normalize() })
	assert.Nil(t, m.Page)
	assert.Nil(t, m.PageSize)
	assert.Nil(t, m.TotalPages)
}

func TestNormalizePassesThroughPagedResponse(t *testing.T) {
	m := Meta{Total: 30, Page: intp(3), PageSize: intp(10), TotalPages: intp(3)}
	assert.Equal(t, m, m.Normalize())
}

func TestBackupsExample(t *testing.T) {
	q := NewQuery().Window(Window{Page: 2, PageSize: 10}).Values()
	assert.Equal(t, "10", q.Get("skip"))
	assert.Equal(t, "10", q.Get("limit"))

	var p Page[map[string]any]
	require.NoError(t, json.Unmarshal([]byte(`{"items":[],"total":25,"skip":10,"limit":10}`), &p))
	p = p.Normalize()

	assert.Equal(t, 2, p.PageNumber())
	assert.Equal(t, 10, p.Size())
	assert.Equal(t, 3, p.Pages())
}

func TestQueryOmitsUndefinedFilters(t *testing.T) {
	enabled := false
	taskID := int64(4)
	q := NewQuery().
		Window(Window{Page: 1}).
		String("task_type", "").
		String("status", "running").
		Bool("is_enabled", &enabled).
		Bool("completed_only", nil).
		Int("task_id", &taskID).
		Int("other", nil).
		Date("start_date", time.Time{}).
		Date("end_date", time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC)).
		Values()

	assert.Equal(t, "running", q.Get("status"))
	assert.Equal(t, "false", q.Get("is_enabled"))
	assert.Equal(t, "4", q.Get("task_id"))
	assert.Equal(t, "2024-12-31", q.Get("end_date"))
	for _, k := range []string{"skip", "limit", "task_type", "completed_only", "other", "start_date"} {
		assert.NotContains(t, q, k)
	}
}

func TestNativeWindow(t *testing.T) {
	q := NewQuery().Native(Window{Page: 3, PageSize: 15}).Values()
	assert.Equal(t, "3", q.Get("page"))
	assert.Equal(t, "15", q.Get("page_size"))
	assert.NotContains(t, q, "skip")

	assert.Empty(t, NewQuery().Native(Window{PageSize: 15}).Values())
}

func TestPageJSONShape(t *testing.T) {
	p := Page[int]{Items: []int{1}, Meta: Meta{Total: 1, Skip: intp(0), Limit: intp(10)}}.Normalize()
	out, err := json.Marshal(p)
	require.NoError(t, err)
	assert.JSONEq(t, `{"items":[1],"total":1,"skip":0,"limit":10,"page":1,"page_size":10,"total_pages":1}`, string(out))
}
