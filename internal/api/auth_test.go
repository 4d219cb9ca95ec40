package api

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/policyhub/console/internal/session"
	"github.com/policyhub/console/internal/testutil/mockconsole"
	"github.com/policyhub/console/internal/transport"
)

func TestLoginInstallsCredential(t *testing.T) {
	f := newFixture(t, mockconsole.Options{})
	ctx := context.Background()

	assert.True(t, f.session.Authenticated())
	tok, ok := f.session.Token()
	require.True(t, ok)
	assert.Equal(t, mockconsole.DefaultUsername, session.SubjectOf(tok.AccessToken))
	assert.WithinDuration(t, time.Now().Add(mockconsole.DefaultTokenTTL), tok.Expiry, time.Minute)

	me, err := f.client.Auth.Me(ctx)
	require.NoError(t, err)
	assert.Equal(t, mockconsole.DefaultUsername, me.Username)
	assert.Equal(t, mockconsole.DefaultEmail, me.Email)
	assert.True(t, me.IsActive)

	reqs := f.requestsTo(http.MethodGet, "/api/auth/me")
	require.Len(t, reqs, 1)
	assert.Equal(t, "Bearer "+tok.AccessToken, reqs[0].Header.Get("Authorization"))
}

func TestLoginFailureLeavesSessionEmpty(t *testing.T) {
	mock := mockconsole.New(mockconsole.Options{})
	base := mock.Serve(t)
	sess := session.New(session.NewMemoryStore(), nil, session.Options{})
	tc, err := transport.New(transport.Options{BaseURL: base}, sess.TransportOptions()...)
	require.NoError(t, err)
	c := New(tc, sess, Options{})

	_, err = c.Auth.Login(context.Background(), "admin", "wrong")
	require.Error(t, err)
	assert.ErrorIs(t, err, transport.ErrUnauthorized)
	assert.Equal(t, "Incorrect username or password", transport.Message(err))
	assert.False(t, sess.Authenticated())
}

func TestRefreshReplacesToken(t *testing.T) {
	f := newFixture(t, mockconsole.Options{})

	before, _ := f.session.Token()
	tok, err := f.client.Auth.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "bearer", tok.TokenType)

	after, ok := f.session.Token()
	require.True(t, ok)
	assert.Equal(t, tok.AccessToken, after.AccessToken)
	assert.False(t, after.Expiry.Before(before.Expiry))
}

func TestPasswordFlows(t *testing.T) {
	f := newFixture(t, mockconsole.Options{})
	ctx := context.Background()
	auth := f.client.Auth

	_, err := auth.ChangePassword(ctx, "nope", "secret99")
	assert.ErrorIs(t, err, transport.ErrRejected)
	assert.Equal(t, "Incorrect old password", transport.Message(err))

	res, err := auth.ChangePassword(ctx, mockconsole.DefaultPassword, "secret99")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Empty(t, res.NewPassword)

	gen, err := auth.GeneratePassword(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, gen.NewPassword, DefaultPasswordLength)
	reqs := f.requestsTo(http.MethodPost, "/api/auth/generate-password")
	require.Len(t, reqs, 1)
	assert.Equal(t, "12", reqs[0].Query.Get("length"))

	require.NoError(t, auth.Logout(ctx))
	_, err = auth.Login(ctx, mockconsole.DefaultUsername, "secret99")
	assert.ErrorIs(t, err, transport.ErrUnauthorized)
	_, err = auth.Login(ctx, mockconsole.DefaultUsername, gen.NewPassword)
	require.NoError(t, err)

	res, err = auth.ResetPassword(ctx, "abc")
	assert.ErrorIs(t, err, transport.ErrRejected)
	assert.Nil(t, res)
}

func TestForgotPasswordNeedsMail(t *testing.T) {
	f := newFixture(t, mockconsole.Options{})
	ctx := context.Background()
	require.NoError(t, f.client.Auth.Logout(ctx))

	_, err := f.client.Auth.ForgotPassword(ctx, "admin")
	assert.ErrorIs(t, err, transport.ErrRejected)
	assert.Equal(t, "Email service is not available", transport.Message(err))

	// Public probes work without a session.
	avail, err := f.client.Config.EmailAvailable(ctx)
	require.NoError(t, err)
	assert.False(t, avail.Enabled)
	for _, r := range f.mock.Requests() {
		assert.Empty(t, r.Header.Get("Authorization"), r.Path)
	}
}

func TestLogoutFlushesCache(t *testing.T) {
	f := newFixture(t, mockconsole.Options{})
	ctx := context.Background()

	_, err := f.client.Config.FeatureFlags(ctx)
	require.NoError(t, err)
	require.NoError(t, f.client.Auth.Logout(ctx))
	require.NoError(t, f.client.Auth.Logout(ctx), "logout is idempotent")
	assert.False(t, f.session.Authenticated())

	_, err = f.client.Config.FeatureFlags(ctx)
	assert.ErrorIs(t, err, transport.ErrUnauthorized)
	assert.Equal(t, 2, f.mock.Count(http.MethodGet, "/api/config/feature-flags"))
}

func TestRevokedTokenTearsDownSession(t *testing.T) {
	f := newFixture(t, mockconsole.Options{})
	ctx := context.Background()

	f.mock.RevokeTokens()
	_, err := f.client.Tasks.List(ctx, TaskFilter{})
	require.Error(t, err)
	assert.ErrorIs(t, err, transport.ErrUnauthorized)
	assert.False(t, f.session.Authenticated())

	// Without a credential the next call goes out bare and is refused again.
	_, err = f.client.Tasks.List(ctx, TaskFilter{})
	assert.ErrorIs(t, err, transport.ErrUnauthorized)
	reqs := f.requestsTo(http.MethodGet, "/api/tasks/")
	require.Len(t, reqs, 2)
	assert.Empty(t, reqs[1].Header.Get("Authorization"))
}
