// Package api holds the typed gateways to the console backend, one per
// resource family: tasks, scheduled tasks, backups, policies, system
// configuration and authentication.
//
// Gateways are thin. They translate paging conventions through the paging
// package, encode filters only when set, and send everything through a
// Sender, normally a *transport.Client wired with the session interceptors.
// Lifecycle commands are requested, never assumed: the status a gateway
// returns is whatever the backend reported.
package api

import (
	"context"
	"strconv"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/policyhub/console/internal/job"
	"github.com/policyhub/console/internal/session"
	"github.com/policyhub/console/internal/transport"
)

// DefaultCacheTTL bounds how long read-mostly configuration is served from
// memory.
const DefaultCacheTTL = 30 * time.Second

// Sender performs backend calls. *transport.Client implements it.
type Sender interface {
	JSON(ctx context.Context, req *transport.Request, out any) error
	Stream(ctx context.Context, req *transport.Request) (*transport.Download, error)
}

// Options configures a Client.
type Options struct {
	Logger *zap.Logger

	// Board, when set, receives every status the gateways observe and the
	// optimistic status of in-flight lifecycle commands.
	Board *job.Board

	// CacheTTL defaults to DefaultCacheTTL. A negative value disables
	// caching.
	CacheTTL time.Duration
}

// Client groups the resource gateways.
type Client struct {
	Tasks          *TaskGateway
	ScheduledTasks *ScheduledTaskGateway
	Backups        *BackupGateway
	Policies       *PolicyGateway
	Config         *ConfigGateway
	Auth           *AuthGateway
}

// New builds every gateway over sender. sess may be nil when the caller
// manages credentials itself; Auth.Login then only returns the token.
func New(sender Sender, sess *session.Session, opts Options) *Client {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	ttl := opts.CacheTTL
	if ttl == 0 {
		ttl = DefaultCacheTTL
	}

	var cache *gocache.Cache
	if ttl > 0 {
		cache = gocache.New(ttl, 2*ttl)
	}

	base := gateway{
		sender: sender,
		sess:   sess,
		board:  opts.Board,
		cache:  cache,
		logger: opts.Logger.Named("api"),
	}

	return &Client{
		Tasks:          &TaskGateway{gateway: base},
		ScheduledTasks: &ScheduledTaskGateway{gateway: base},
		Backups:        &BackupGateway{gateway: base},
		Policies:       &PolicyGateway{gateway: base},
		Config:         &ConfigGateway{gateway: base},
		Auth:           &AuthGateway{gateway: base, session: sess},
	}
}

// gateway is the state shared by every resource gateway.
type gateway struct {
	sender Sender
	sess   *session.Session
	board  *job.Board
	cache  *gocache.Cache
	logger *zap.Logger
}

// observe records an authoritative status on the board.
func (g gateway) observe(kind job.Kind, id string, status job.Status) {
	if g.board == nil || status == "" {
		return
	}
	if prev, changed := g.board.Observe(kind, id, status); changed && prev != "" {
		g.logger.Debug("job status changed",
			zap.String("kind", string(kind)),
			zap.String("id", id),
			zap.String("from", string(prev)),
			zap.String("to", string(status)),
		)
	}
}

// command sends a lifecycle request. While it is in flight the board shows
// the operation's target status; a rejection withdraws only this request,
// leaving the last authoritative status and other in-flight requests
// untouched.
func (g gateway) command(ctx context.Context, kind job.Kind, id string, op job.Operation, req *transport.Request, out any) error {
	var ticket job.Ticket
	if g.board != nil {
		// Unknown ids simply are not tracked optimistically.
		ticket, _ = g.board.Request(kind, id, op)
	}

	if err := g.sender.JSON(ctx, req, out); err != nil {
		if g.board != nil {
			g.board.Rollback(kind, id, ticket)
		}
		g.logger.Debug("lifecycle command rejected",
			zap.String("kind", string(kind)),
			zap.String("id", id),
			zap.String("op", string(op)),
			zap.Error(err),
		)
		return err
	}
	return nil
}

func (g gateway) forget(kind job.Kind, id string) {
	if g.board != nil {
		g.board.Forget(kind, id)
	}
}

// cached serves key from the cache or loads it with fetch. Entries belong to
// the live session: without one the cache is dropped and every read goes to
// the backend.
func cached[T any](g gateway, key string, fetch func() (T, error)) (T, error) {
	if g.sess != nil && !g.sess.Authenticated() {
		if g.cache != nil {
			g.cache.Flush()
		}
		return fetch()
	}
	if g.cache != nil {
		if v, ok := g.cache.Get(key); ok {
			return v.(T), nil
		}
	}
	v, err := fetch()
	if err != nil {
		return v, err
	}
	if g.cache != nil {
		g.cache.SetDefault(key, v)
	}
	return v, nil
}

func (g gateway) invalidate(keys ...string) {
	if g.cache == nil {
		return
	}
	for _, k := range keys {
		g.cache.Delete(k)
	}
}

func itoa(id int64) string { return strconv.FormatInt(id, 10) }
