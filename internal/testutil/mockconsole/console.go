// Package mockconsole is an in-memory stand-in for the policy console
// backend. It speaks the same REST dialect: FastAPI style {"detail": ...}
// errors, skip/limit paging on most collections, page/page_size on tasks,
// and HS256 bearer tokens on every route except login, forgot-password and
// the email availability probe.
//
// The task state machine is enforced the way the backend does it, so
// illegal lifecycle commands come back as 400s. Every request is recorded
// for assertions.
package mockconsole

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// Default credentials of the seeded administrator.
const (
	DefaultUsername = "admin"
	DefaultPassword = "admin123"
	DefaultEmail    = "admin@example.com"
)

// DefaultTokenTTL is the lifetime of issued access tokens.
const DefaultTokenTTL = time.Hour

// timeLayout is the naive ISO form the backend emits.
const timeLayout = "2006-01-02T15:04:05.000000"

// Options configures a Console.
type Options struct {
	Logger   *zap.Logger
	Now      func() time.Time
	TokenTTL time.Duration

	// LegacyBackups renders backup listings in the older shape: numeric
	// ids and sizes, file_path, completed_at, and a "backups" array.
	LegacyBackups bool
}

// Recorded is one request the console received.
type Recorded struct {
	Method string
	Path   string
	Query  url.Values
	Header http.Header
	Body   []byte
}

type user struct {
	id       int64
	username string
	email    string
	hash     []byte
	active   bool
	created  time.Time
}

// Console is the mock backend. It is safe for concurrent use.
type Console struct {
	mu     sync.Mutex
	opts   Options
	logger *zap.Logger
	secret []byte

	users     map[string]*user
	tasks     map[int64]*task
	nextTask  int64
	scheduled map[int64]*scheduledTask
	nextSched int64
	backups   []*backup
	nextBkp   int64
	policies  []*policy

	flags   map[string]bool
	s3      map[string]any
	email   map[string]any
	crawler map[string]any
	sources []map[string]any

	requests []Recorded
}

// New returns a Console seeded with the default administrator.
func New(opts Options) *Console {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = DefaultTokenTTL
	}

	c := &Console{
		opts:      opts,
		logger:    opts.Logger.Named("mockconsole"),
		secret:    []byte("mockconsole-secret"),
		users:     make(map[string]*user),
		tasks:     make(map[int64]*task),
		scheduled: make(map[int64]*scheduledTask),
		flags: map[string]bool{
			"s3_enabled":        false,
			"email_enabled":     false,
			"cache_enabled":     true,
			"scheduler_enabled": true,
		},
		s3:      map[string]any{"enabled": false, "region": "us-east-1"},
		email:   map[string]any{"enabled": false, "smtp_port": 587, "smtp_use_tls": true},
		crawler: map[string]any{"request_delay": 2.0, "use_proxy": false},
		sources: []map[string]any{
			{"name": "gov", "base_url": "https://www.gov.cn", "enabled": true, "type": "html"},
			{"name": "npc", "base_url": "https://flk.npc.gov.cn", "enabled": true, "type": "api"},
		},
	}
	c.addUser(DefaultUsername, DefaultEmail, DefaultPassword)
	return c
}

func (c *Console) addUser(username, email, password string) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		panic(err)
	}
	c.users[username] = &user{
		id:       int64(len(c.users) + 1),
		username: username,
		email:    email,
		hash:     hash,
		active:   true,
		created:  c.opts.Now(),
	}
}

// Serve starts the console on a loopback listener for the duration of the
// test and returns its base URL.
func (c *Console) Serve(tb testing.TB) string {
	tb.Helper()
	srv := httptest.NewServer(c.Handler())
	tb.Cleanup(srv.Close)
	return srv.URL
}

// Handler returns the console's router.
func (c *Console) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(c.record)
	r.Use(c.requestLogger)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Post("/auth/login", c.login)
			r.Post("/auth/forgot-password", c.forgotPassword)
			r.Get("/config/email/available", c.emailAvailable)
		})

		r.Group(func(r chi.Router) {
			r.Use(c.authenticate)

			r.Get("/auth/me", c.me)
			r.Post("/auth/refresh", c.refresh)
			r.Post("/auth/change-password", c.changePassword)
			r.Post("/auth/reset-password", c.resetPassword)
			r.Post("/auth/generate-password", c.generatePassword)

			r.Route("/tasks", c.taskRoutes)
			r.Route("/scheduled-tasks", c.scheduledRoutes)
			r.Route("/backups", c.backupRoutes)
			r.Route("/policies", c.policyRoutes)
			r.Route("/config", c.configRoutes)
		})
	})
	return r
}

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

func (c *Console) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body []byte
		if r.Body != nil && !strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
			body, _ = io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewReader(body))
		}

		c.mu.Lock()
		c.requests = append(c.requests, Recorded{
			Method: r.Method,
			Path:   r.URL.Path,
			Query:  r.URL.Query(),
			Header: r.Header.Clone(),
			Body:   body,
		})
		c.mu.Unlock()

		next.ServeHTTP(w, r)
	})
}

func (c *Console) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		c.logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func (c *Console) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			fail(w, http.StatusUnauthorized, "Not authenticated")
			return
		}

		c.mu.Lock()
		secret := c.secret
		c.mu.Unlock()

		claims := &jwt.RegisteredClaims{}
		_, err := jwt.ParseWithClaims(parts[1], claims, func(*jwt.Token) (any, error) {
			return secret, nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(c.opts.Now))
		if err != nil {
			fail(w, http.StatusUnauthorized, "Could not validate credentials")
			return
		}

		c.mu.Lock()
		_, ok := c.users[claims.Subject]
		c.mu.Unlock()
		if !ok {
			fail(w, http.StatusUnauthorized, "Could not validate credentials")
			return
		}
		next.ServeHTTP(w, r.WithContext(withUser(r.Context(), claims.Subject)))
	})
}

// -----------------------------------------------------------------------------
// Tokens
// -----------------------------------------------------------------------------

// IssueToken signs a token for username valid for ttl. A negative ttl yields
// an already expired token.
func (c *Console) IssueToken(username string, ttl time.Duration) string {
	c.mu.Lock()
	secret := c.secret
	c.mu.Unlock()

	now := c.opts.Now()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   username,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}).SignedString(secret)
	if err != nil {
		panic(err)
	}
	return tok
}

// RevokeTokens invalidates every token issued so far. Subsequent calls with
// an old token get a 401.
func (c *Console) RevokeTokens() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.secret = append([]byte("rotated-"), c.secret...)
}

// -----------------------------------------------------------------------------
// Recorder
// -----------------------------------------------------------------------------

// Requests returns a copy of every recorded request, oldest first.
func (c *Console) Requests() []Recorded {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Recorded(nil), c.requests...)
}

// Count returns how many requests hit method and path.
func (c *Console) Count(method, path string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, r := range c.requests {
		if r.Method == method && r.Path == path {
			n++
		}
	}
	return n
}

// ResetRequests forgets every recorded request.
func (c *Console) ResetRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests = nil
}

// -----------------------------------------------------------------------------
// Response helpers
// -----------------------------------------------------------------------------

func render(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// fail writes a FastAPI style error. detail is a string or a validation
// error list.
func fail(w http.ResponseWriter, status int, detail any) {
	render(w, status, map[string]any{"detail": detail})
}

// invalid writes a 422 validation error for one field.
func invalid(w http.ResponseWriter, loc []string, msg string) {
	fail(w, http.StatusUnprocessableEntity, []map[string]any{{
		"loc":  loc,
		"msg":  msg,
		"type": "value_error",
	}})
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && err != io.EOF {
		invalid(w, []string{"body"}, "invalid JSON: "+err.Error())
		return false
	}
	return true
}

func stamp(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(timeLayout)
}

func attachment(w http.ResponseWriter, contentType, filename string, body []byte) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}
