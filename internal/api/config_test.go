package api

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/policyhub/console/internal/testutil/mockconsole"
	"github.com/policyhub/console/internal/transport"
)

func ptr[T any](v T) *T { return &v }

func TestFeatureFlagsCache(t *testing.T) {
	f := newFixture(t, mockconsole.Options{})
	ctx := context.Background()
	cfg := f.client.Config
	const path = "/api/config/feature-flags"

	flags, err := cfg.FeatureFlags(ctx)
	require.NoError(t, err)
	assert.False(t, flags.S3Enabled)
	assert.True(t, flags.SchedulerEnabled)

	_, err = cfg.FeatureFlags(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, f.mock.Count(http.MethodGet, path))

	updated, err := cfg.SetFeatureFlag(ctx, "s3_enabled", true)
	require.NoError(t, err)
	assert.True(t, updated.S3Enabled)

	// The update response refreshes the cache.
	flags, err = cfg.FeatureFlags(ctx)
	require.NoError(t, err)
	assert.True(t, flags.S3Enabled)
	assert.Equal(t, 1, f.mock.Count(http.MethodGet, path))

	_, err = cfg.SetFeatureFlag(ctx, "warp_drive", true)
	assert.ErrorIs(t, err, transport.ErrRejected)
	assert.Contains(t, transport.Message(err), "warp_drive")

	// A failed update still drops the cached copy.
	_, err = cfg.FeatureFlags(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, f.mock.Count(http.MethodGet, path))
}

func TestCacheDroppedWhenSessionExpires(t *testing.T) {
	f := newFixture(t, mockconsole.Options{})
	ctx := context.Background()
	const path = "/api/config/feature-flags"

	_, err := f.client.Config.FeatureFlags(ctx)
	require.NoError(t, err)

	f.mock.RevokeTokens()
	_, err = f.client.Tasks.List(ctx, TaskFilter{})
	require.ErrorIs(t, err, transport.ErrUnauthorized)
	require.False(t, f.session.Authenticated())

	_, err = f.client.Config.FeatureFlags(ctx)
	assert.ErrorIs(t, err, transport.ErrUnauthorized)
	assert.Equal(t, 2, f.mock.Count(http.MethodGet, path))

	// A new login starts from an empty cache too.
	_, err = f.client.Auth.Login(ctx, mockconsole.DefaultUsername, mockconsole.DefaultPassword)
	require.NoError(t, err)
	_, err = f.client.Config.FeatureFlags(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, f.mock.Count(http.MethodGet, path))
}

func TestEmailUpdateInvalidatesDependents(t *testing.T) {
	f := newFixture(t, mockconsole.Options{})
	ctx := context.Background()
	cfg := f.client.Config

	avail, err := cfg.EmailAvailable(ctx)
	require.NoError(t, err)
	assert.False(t, avail.Available)
	_, err = cfg.FeatureFlags(ctx)
	require.NoError(t, err)

	email, err := cfg.UpdateEmail(ctx, EmailConfigUpdate{
		Enabled:      ptr(true),
		SMTPHost:     ptr("smtp.example.com"),
		SMTPPassword: ptr("hunter2"),
		FromAddress:  ptr("console@example.com"),
		ToAddresses:  []string{"ops@example.com"},
	})
	require.NoError(t, err)
	assert.True(t, email.Enabled)
	assert.Equal(t, "******", email.SMTPPassword)
	assert.Equal(t, 587, email.SMTPPort)

	avail, err = cfg.EmailAvailable(ctx)
	require.NoError(t, err)
	assert.True(t, avail.Available)
	assert.True(t, avail.Configured)

	flags, err := cfg.FeatureFlags(ctx)
	require.NoError(t, err)
	assert.True(t, flags.EmailEnabled)

	assert.Equal(t, 2, f.mock.Count(http.MethodGet, "/api/config/email/available"))
	assert.Equal(t, 2, f.mock.Count(http.MethodGet, "/api/config/feature-flags"))

	res, err := cfg.TestEmail(ctx, EmailConfigUpdate{})
	require.NoError(t, err)
	assert.True(t, res.Success)

	res, err = cfg.SendTestEmail(ctx, "ops@example.com", nil)
	require.NoError(t, err)
	assert.True(t, res.Success)
	reqs := f.requestsTo(http.MethodPost, "/api/config/email/send-test")
	require.Len(t, reqs, 1)
	assert.JSONEq(t, `{"to_address":"ops@example.com"}`, string(reqs[0].Body))
}

func TestS3AndCrawlerConfig(t *testing.T) {
	f := newFixture(t, mockconsole.Options{})
	ctx := context.Background()
	cfg := f.client.Config

	res, err := cfg.TestS3(ctx, S3ConfigUpdate{})
	require.NoError(t, err)
	assert.False(t, res.Success)

	s3, err := cfg.UpdateS3(ctx, S3ConfigUpdate{
		Enabled:         ptr(true),
		BucketName:      ptr("policy-backups"),
		SecretAccessKey: ptr("s3cr3t"),
	})
	require.NoError(t, err)
	assert.Equal(t, "policy-backups", s3.BucketName)
	assert.Equal(t, "******", s3.SecretAccessKey)
	assert.Equal(t, "us-east-1", s3.Region, "unset fields are left alone")

	s3, err = cfg.S3(ctx)
	require.NoError(t, err)
	assert.True(t, s3.Enabled)

	res, err = cfg.TestS3(ctx, S3ConfigUpdate{})
	require.NoError(t, err)
	assert.True(t, res.Success)

	crawler, err := cfg.UpdateCrawler(ctx, CrawlerConfigUpdate{RequestDelay: ptr(0.5), UseProxy: ptr(true)})
	require.NoError(t, err)
	assert.Equal(t, 0.5, crawler.RequestDelay)
	assert.True(t, crawler.UseProxy)

	crawler, err = cfg.Crawler(ctx)
	require.NoError(t, err)
	assert.True(t, crawler.UseProxy)

	res, err = cfg.TestProxy(ctx, "id", "")
	require.NoError(t, err)
	assert.False(t, res.Success)
	res, err = cfg.TestProxy(ctx, "id", "key")
	require.NoError(t, err)
	assert.True(t, res.Success)
}

func TestDataSourcesCachedCopy(t *testing.T) {
	f := newFixture(t, mockconsole.Options{})
	ctx := context.Background()

	sources, err := f.client.Config.DataSources(ctx)
	require.NoError(t, err)
	require.Len(t, sources, 2)
	assert.Equal(t, "gov", sources[0].Name)
	sources[0].Name = "mutated"

	again, err := f.client.Config.DataSources(ctx)
	require.NoError(t, err)
	assert.Equal(t, "gov", again[0].Name, "callers cannot corrupt the cache")
	assert.Equal(t, 1, f.mock.Count(http.MethodGet, "/api/config/data-sources"))
}
