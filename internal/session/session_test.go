package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/policyhub/console/internal/transport"
)

// recordingNavigator counts redirects and moves its location like a browser.
type recordingNavigator struct {
	mu       sync.Mutex
	location string
	visits   []string
}

func (n *recordingNavigator) Location() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.location
}

func (n *recordingNavigator) Navigate(to string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.location = to
	n.visits = append(n.visits, to)
}

func (n *recordingNavigator) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.visits)
}

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "admin",
		ExpiresAt: jwt.NewNumericDate(exp),
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return tok
}

func TestSetAndClear(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	s := New(store, nil, Options{})

	require.NoError(t, s.Set(ctx, signedToken(t, time.Now().Add(time.Hour)), "bearer"))
	assert.True(t, s.Authenticated())

	tok, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "bearer", tok.TokenType)
	assert.False(t, tok.Expiry.IsZero())

	require.NoError(t, s.Clear(ctx))
	require.NoError(t, s.Clear(ctx), "clearing an absent credential is a no-op")
	assert.False(t, s.Authenticated())
	_, ok := s.Token()
	assert.False(t, ok)

	_, err = store.Load(ctx)
	assert.ErrorIs(t, err, ErrNoCredential)
}

func TestSetRejectsExpiredToken(t *testing.T) {
	s := New(NewMemoryStore(), nil, Options{})
	err := s.Set(context.Background(), signedToken(t, time.Now().Add(-time.Minute)), "")
	assert.ErrorIs(t, err, ErrSessionExpired)
	assert.False(t, s.Authenticated())
}

func TestOpaqueTokenNeverExpiresLocally(t *testing.T) {
	s := New(NewMemoryStore(), nil, Options{})
	require.NoError(t, s.Set(context.Background(), "not-a-jwt", ""))

	tok, ok := s.Token()
	require.True(t, ok)
	assert.True(t, tok.Expiry.IsZero())
	assert.Equal(t, "Bearer", tok.TokenType)
	assert.Empty(t, SubjectOf("not-a-jwt"))
}

func TestRestore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	s := New(store, nil, Options{})
	require.NoError(t, s.Restore(ctx))
	assert.False(t, s.Authenticated())

	require.NoError(t, s.Set(ctx, signedToken(t, time.Now().Add(time.Hour)), ""))

	fresh := New(store, nil, Options{})
	require.NoError(t, fresh.Restore(ctx))
	assert.True(t, fresh.Authenticated())

	// A clock past the expiry discards the persisted credential.
	later := New(store, nil, Options{Now: func() time.Time { return time.Now().Add(2 * time.Hour) }})
	require.NoError(t, later.Restore(ctx))
	assert.False(t, later.Authenticated())
	_, err := store.Load(ctx)
	assert.ErrorIs(t, err, ErrNoCredential)
}

func TestUnauthorizedRedirectsExactlyOnce(t *testing.T) {
	testCases := []struct {
		name      string
		location  string
		redirects int
		want      string
	}{
		{"from another view", "/tasks?status=running", 1, "/login?redirect=%2Ftasks%3Fstatus%3Drunning"},
		{"already on login", "/login", 0, "/login"},
		{"on login with redirect query", "/login?redirect=%2Ftasks", 0, "/login?redirect=%2Ftasks"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			s := New(NewMemoryStore(), nil, Options{})
			nav := &recordingNavigator{location: tc.location}
			s.SetNavigator(nav)
			require.NoError(t, s.Set(ctx, "token", ""))

			resp := &http.Response{StatusCode: http.StatusUnauthorized}
			require.NoError(t, s.InspectResponse(resp))
			require.NoError(t, s.InspectResponse(resp))

			assert.False(t, s.Authenticated())
			assert.Equal(t, tc.redirects, nav.count())
			assert.Equal(t, tc.want, nav.Location())
		})
	}
}

func TestConcurrentUnauthorizedResponses(t *testing.T) {
	s := New(NewMemoryStore(), nil, Options{})
	nav := &recordingNavigator{location: "/backups"}
	s.SetNavigator(nav)
	require.NoError(t, s.Set(context.Background(), "token", ""))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.InspectResponse(&http.Response{StatusCode: http.StatusUnauthorized})
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, nav.count())
	assert.False(t, s.Authenticated())
}

func TestOtherStatusesLeaveSession(t *testing.T) {
	s := New(NewMemoryStore(), nil, Options{})
	nav := &recordingNavigator{location: "/tasks"}
	s.SetNavigator(nav)
	require.NoError(t, s.Set(context.Background(), "token", ""))

	for _, code := range []int{200, 400, 403, 404, 500} {
		require.NoError(t, s.InspectResponse(&http.Response{StatusCode: code}))
	}
	assert.True(t, s.Authenticated())
	assert.Zero(t, nav.count())
}

func TestTransportIntegration(t *testing.T) {
	var (
		hits     atomic.Int32
		lastAuth atomic.Value
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		lastAuth.Store(r.Header.Get("Authorization"))
		if r.URL.Path == "/api/auth/me" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"detail":"Token expired"}`))
		}
	}))
	defer srv.Close()

	now := time.Now()
	clock := func() time.Time { return now }

	s := New(NewMemoryStore(), nil, Options{Now: func() time.Time { return clock() }})
	nav := &recordingNavigator{location: "/tasks"}
	s.SetNavigator(nav)

	c, err := transport.New(transport.Options{BaseURL: srv.URL}, s.TransportOptions()...)
	require.NoError(t, err)
	ctx := context.Background()

	// Public endpoint without a credential.
	_, err = c.Send(ctx, &transport.Request{Method: http.MethodGet, Path: "/api/config/email/available"})
	require.NoError(t, err)
	assert.Empty(t, lastAuth.Load())

	token := signedToken(t, now.Add(time.Minute))
	require.NoError(t, s.Set(ctx, token, "bearer"))
	_, err = c.Send(ctx, &transport.Request{Method: http.MethodGet, Path: "/api/tasks/"})
	require.NoError(t, err)
	assert.Equal(t, "Bearer "+token, lastAuth.Load())

	// The backend rejects the credential: teardown, one redirect, error kept.
	_, err = c.Send(ctx, &transport.Request{Method: http.MethodGet, Path: "/api/auth/me"})
	assert.ErrorIs(t, err, transport.ErrUnauthorized)
	assert.Equal(t, "Token expired", transport.Message(err))
	assert.False(t, s.Authenticated())
	assert.Equal(t, 1, nav.count())

	// A locally expired credential never reaches the backend.
	nav.Navigate("/backups")
	require.NoError(t, s.Set(ctx, token, "bearer"))
	before := hits.Load()
	clock = func() time.Time { return now.Add(2 * time.Minute) }

	_, err = c.Send(ctx, &transport.Request{Method: http.MethodGet, Path: "/api/backups/"})
	assert.ErrorIs(t, err, transport.ErrUnauthorized)
	assert.ErrorIs(t, err, ErrSessionExpired)
	assert.Equal(t, before, hits.Load())
	assert.Equal(t, "/login?redirect=%2Fbackups", nav.Location())
}
