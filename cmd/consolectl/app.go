package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/policyhub/console/internal/api"
	"github.com/policyhub/console/internal/config"
	"github.com/policyhub/console/internal/job"
	"github.com/policyhub/console/internal/session"
	"github.com/policyhub/console/internal/store"
	"github.com/policyhub/console/internal/transport"
	"github.com/policyhub/console/internal/watcher"
)

// locationKey persists the router location between invocations, so a login
// resumes the view that was redirected to it.
const locationKey = "location"

// keyFile holds the generated store key when no secret is configured.
const keyFile = "store.key"

var errLoginRequired = errors.New("not logged in: run consolectl login")

// app is the wiring shared by every command for one invocation.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	db       *store.Store
	session  *session.Session
	guard    *session.Guard
	router   *session.Router
	board    *job.Board
	client   *api.Client
	registry *prometheus.Registry
	out      io.Writer
}

// loadConfig layers the global flags over the file and environment.
func loadConfig(cmd *cobra.Command, opts *options) (*config.Config, error) {
	// The file is explicit only when the root --config flag was given.
	cfg, err := config.Load(opts.configPath, cmd.Root().PersistentFlags().Changed("config"))
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("base-url") {
		cfg.Server.BaseURL = opts.baseURL
	}
	if flags.Changed("timeout") {
		cfg.Server.Timeout = opts.timeout
	}
	if flags.Changed("state-dir") {
		cfg.Session.StateDir = opts.stateDir
	}
	if flags.Changed("secret") {
		cfg.Session.Secret = opts.secret
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = opts.logLevel
	}
	if flags.Changed("cache-ttl") {
		cfg.Cache.TTL = opts.cacheTTL
	}
	if flags.Changed("watch-interval") {
		cfg.Watch.Interval = opts.interval
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newApp opens the session store, restores the saved credential and builds
// the transport and gateways.
func newApp(cmd *cobra.Command, opts *options) (*app, error) {
	cfg, err := loadConfig(cmd, opts)
	if err != nil {
		return nil, err
	}

	logger, err := buildLogger(strings.ToLower(cfg.Log.Level))
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}

	db, err := openStore(cfg, logger)
	if err != nil {
		return nil, err
	}

	ctx := cmd.Context()
	sess := session.New(store.Credentials(db), logger, session.Options{LoginPath: cfg.Session.LoginPath})
	if err := sess.Restore(ctx); err != nil {
		db.Close()
		return nil, err
	}

	guard := session.NewGuard(sess, session.ConsoleRoutes(), session.GuardOptions{
		LoginPath:   cfg.Session.LoginPath,
		LandingPath: cfg.Session.LandingPath,
	})
	start := "/"
	if loc, err := db.Get(ctx, locationKey); err == nil {
		start = string(loc)
	}
	router := session.NewRouter(guard, start, logger)
	sess.SetNavigator(router)

	registry := prometheus.NewRegistry()
	metrics, err := transport.NewMetrics(registry)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	topts := append(sess.TransportOptions(),
		transport.WithRequestInterceptor(transport.RequestID()),
		transport.WithObserver(metrics),
	)
	tc, err := transport.New(transport.Options{
		BaseURL:   cfg.Server.BaseURL,
		Timeout:   cfg.Server.Timeout,
		UserAgent: "consolectl/" + version,
		Logger:    logger,
	}, topts...)
	if err != nil {
		db.Close()
		return nil, err
	}

	board := job.NewBoard()
	return &app{
		cfg:     cfg,
		logger:  logger,
		db:      db,
		session: sess,
		guard:   guard,
		router:  router,
		board:   board,
		client: api.New(tc, sess, api.Options{
			Logger:   logger,
			Board:    board,
			CacheTTL: cfg.Cache.TTL,
		}),
		registry: registry,
		out:      cmd.OutOrStdout(),
	}, nil
}

func openStore(cfg *config.Config, logger *zap.Logger) (*store.Store, error) {
	scfg := store.Config{
		Path:   cfg.Session.StorePath(),
		Secret: cfg.Session.Secret,
		Logger: logger,
	}
	if scfg.Path == "" {
		scfg.Path = store.MemoryPath
	} else {
		if err := os.MkdirAll(cfg.Session.StateDir, 0o700); err != nil {
			return nil, fmt.Errorf("failed to create state dir: %w", err)
		}
		scfg.KeyFile = filepath.Join(cfg.Session.StateDir, keyFile)
	}
	return store.Open(scfg)
}

// close saves the router location and releases the store.
func (a *app) close() {
	ctx := context.Background()
	if err := a.db.Set(ctx, locationKey, []byte(a.router.Location())); err != nil {
		a.logger.Warn("failed to save location", zap.Error(err))
	}
	if err := a.db.Close(); err != nil {
		a.logger.Warn("failed to close store", zap.Error(err))
	}
	a.logger.Sync() //nolint:errcheck
}

// enter admits view through the guard. A redirect to the login view means
// the session is missing or expired.
func (a *app) enter(view string) error {
	d, err := a.router.Push(view)
	if err != nil {
		return err
	}
	if d.Route.Path == a.cfg.Session.LoginPath && pathOf(view) != a.cfg.Session.LoginPath {
		return errLoginRequired
	}
	return nil
}

// print writes v as indented JSON.
func (a *app) print(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

// newWatcher returns a started watcher feeding the app's board. The caller
// stops it.
func (a *app) newWatcher() (*watcher.Watcher, error) {
	w, err := watcher.New(a.logger, a.cfg.Watch.Interval,
		watcher.WithBoard(a.board),
		watcher.WithPollTimeout(a.cfg.Server.Timeout),
	)
	if err != nil {
		return nil, err
	}
	w.Start()
	return w, nil
}

// action is the body of a command once the app is wired and the view
// admitted.
type action func(ctx context.Context, a *app, args []string) error

// view wraps fn as a cobra RunE entering path first. A {id} placeholder in
// path is filled from the first argument; an empty path skips admission.
func view(opts *options, path string, fn action) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, opts)
		if err != nil {
			return err
		}
		defer a.close()

		if path != "" {
			target := path
			if len(args) > 0 {
				target = strings.Replace(target, "{id}", url.PathEscape(args[0]), 1)
			}
			if err := a.enter(target); err != nil {
				return err
			}
		}

		err = fn(cmd.Context(), a, args)
		if errors.Is(err, transport.ErrUnauthorized) {
			return fmt.Errorf("%w (run consolectl login)", err)
		}
		return err
	}
}

func pathOf(location string) string {
	u, err := url.Parse(location)
	if err != nil {
		return location
	}
	return u.Path
}
