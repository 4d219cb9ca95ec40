package api

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/policyhub/console/internal/job"
	"github.com/policyhub/console/internal/session"
	"github.com/policyhub/console/internal/testutil/mockconsole"
	"github.com/policyhub/console/internal/transport"
)

type fixture struct {
	mock    *mockconsole.Console
	client  *Client
	session *session.Session
	board   *job.Board
}

// newFixture starts a mock backend and returns a logged-in client.
func newFixture(t *testing.T, opts mockconsole.Options) *fixture {
	t.Helper()

	mock := mockconsole.New(opts)
	base := mock.Serve(t)

	sess := session.New(session.NewMemoryStore(), nil, session.Options{})
	tc, err := transport.New(transport.Options{BaseURL: base}, sess.TransportOptions()...)
	require.NoError(t, err)

	board := job.NewBoard()
	c := New(tc, sess, Options{Board: board})
	_, err = c.Auth.Login(context.Background(), mockconsole.DefaultUsername, mockconsole.DefaultPassword)
	require.NoError(t, err)
	mock.ResetRequests()

	return &fixture{mock: mock, client: c, session: sess, board: board}
}

// requestsTo returns the recorded requests for method and path.
func (f *fixture) requestsTo(method, path string) []mockconsole.Recorded {
	var out []mockconsole.Recorded
	for _, r := range f.mock.Requests() {
		if r.Method == method && r.Path == path {
			out = append(out, r)
		}
	}
	return out
}
