package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/policyhub/console/internal/paging"
	"github.com/policyhub/console/internal/testutil/mockconsole"
	"github.com/policyhub/console/internal/transport"
)

func TestPolicyListFiltersAndPaging(t *testing.T) {
	f := newFixture(t, mockconsole.Options{})
	f.mock.SeedPolicies(30)
	ctx := context.Background()

	page, err := f.client.Policies.List(ctx, PolicyFilter{
		Window:    paging.Window{Page: 2, PageSize: 10},
		Category:  "国务院文件",
		StartDate: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	reqs := f.requestsTo(http.MethodGet, "/api/policies/")
	require.Len(t, reqs, 1)
	q := reqs[0].Query
	assert.Equal(t, "10", q.Get("skip"))
	assert.Equal(t, "10", q.Get("limit"))
	assert.Equal(t, "国务院文件", q.Get("category"))
	assert.Equal(t, "2024-01-01", q.Get("start_date"))
	assert.False(t, q.Has("end_date"))
	assert.False(t, q.Has("level"))

	assert.EqualValues(t, 15, page.Total)
	assert.Equal(t, 2, page.PageNumber())
	assert.Equal(t, 2, page.Pages())
	assert.Len(t, page.Items, 5)
	for _, p := range page.Items {
		assert.Equal(t, "国务院文件", p.Category)
		assert.Empty(t, p.Content, "listings omit content")
	}
}

func TestPolicySearchSendsPagingInBody(t *testing.T) {
	f := newFixture(t, mockconsole.Options{})
	f.mock.SeedPolicies(12)
	ctx := context.Background()

	page, err := f.client.Policies.Search(ctx, PolicySearch{
		Window:  paging.Window{Page: 1, PageSize: 5},
		Keyword: "数据安全",
		EndDate: time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.EqualValues(t, 10, page.Total)
	assert.Len(t, page.Items, 5)
	assert.Equal(t, 1, page.PageNumber())

	reqs := f.requestsTo(http.MethodPost, "/api/policies/search")
	require.Len(t, reqs, 1)
	assert.Empty(t, reqs[0].Query)
	assert.JSONEq(t, `{"keyword":"数据安全","end_date":"2024-01-10","skip":0,"limit":5}`, string(reqs[0].Body))

	// Without a window the server defaults apply and no paging is sent.
	_, err = f.client.Policies.Search(ctx, PolicySearch{Level: "行政法规"})
	require.NoError(t, err)
	reqs = f.requestsTo(http.MethodPost, "/api/policies/search")
	require.Len(t, reqs, 2)
	assert.JSONEq(t, `{"level":"行政法规"}`, string(reqs[1].Body))
}

func TestPolicyDetailMetaAndFiles(t *testing.T) {
	f := newFixture(t, mockconsole.Options{})
	f.mock.SeedPolicies(4)
	ctx := context.Background()
	g := f.client.Policies

	p, err := g.Get(ctx, 1)
	require.NoError(t, err)
	assert.NotEmpty(t, p.Content)
	require.Len(t, p.Attachments, 1)
	assert.Equal(t, int64(1), p.Attachments[0].PolicyID)

	cats, err := g.Categories(ctx, "")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"国务院文件", "部门规章"}, cats)

	cats, err = g.Categories(ctx, "npc")
	require.NoError(t, err)
	assert.Equal(t, []string{"部门规章"}, cats)
	assert.Len(t, f.requestsTo(http.MethodGet, "/api/policies/meta/categories"), 2)

	levels, err := g.Levels(ctx)
	require.NoError(t, err)
	assert.Len(t, levels, 3)

	sources, err := g.SourceNames(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"gov", "npc"}, sources)

	dl, err := g.File(ctx, 2, PolicyMarkdown)
	require.NoError(t, err)
	body, err := io.ReadAll(dl.Body)
	require.NoError(t, err)
	require.NoError(t, dl.Body.Close())
	assert.Equal(t, "policy_2.markdown", dl.Filename)
	assert.Contains(t, string(body), "# 关于数据安全管理的通知 2")

	dl, err = g.File(ctx, 2, PolicyJSON)
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.NewDecoder(dl.Body).Decode(&doc))
	require.NoError(t, dl.Body.Close())
	assert.EqualValues(t, 2, doc["id"])

	res, err := g.RebuildIndex(ctx)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 4, res.Indexed)

	require.NoError(t, g.Delete(ctx, 1))
	_, err = g.Get(ctx, 1)
	assert.ErrorIs(t, err, transport.ErrRejected)
}

func TestParsePolicyFileType(t *testing.T) {
	for _, s := range []string{"json", "markdown", "docx"} {
		got, err := ParsePolicyFileType(s)
		require.NoError(t, err)
		assert.Equal(t, PolicyFileType(s), got)
	}
	_, err := ParsePolicyFileType("pdf")
	assert.Error(t, err)
}
