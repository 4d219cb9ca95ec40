// Package session owns the console's single bearer credential and the
// authorization decision for every view.
//
// A Session is created once per process and handed explicitly to the
// transport (as interceptors) and to the Guard. It holds at most one
// credential. Any response reporting the credential invalid tears it down
// and sends the user to the login view, unless they are already there.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/policyhub/console/internal/transport"
)

// Default view paths.
const (
	DefaultLoginPath   = "/login"
	DefaultLandingPath = "/policies"
)

// Navigator moves the user between views. The session only uses it to send
// the user to the login view after the credential became invalid.
type Navigator interface {
	Location() string
	Navigate(to string)
}

// Options configures a Session.
type Options struct {
	// LoginPath is the login view. Defaults to DefaultLoginPath.
	LoginPath string

	// Now is the clock used for expiry checks. Defaults to time.Now.
	Now func() time.Time
}

// Session is the process-wide credential holder.
type Session struct {
	// tok is read lock-free by every outbound request and by route
	// admission. mu serializes the transitions that replace it.
	tok atomic.Pointer[oauth2.Token]
	mu  sync.Mutex

	store     Store
	nav       Navigator
	loginPath string
	now       func() time.Time
	logger    *zap.Logger
}

// New creates a Session backed by store. The session starts without a
// credential; call Restore to pick up a persisted one.
func New(store Store, logger *zap.Logger, opts Options) *Session {
	if opts.LoginPath == "" {
		opts.LoginPath = DefaultLoginPath
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{
		store:     store,
		loginPath: opts.LoginPath,
		now:       opts.Now,
		logger:    logger.Named("session"),
	}
}

// SetNavigator injects the navigator used for the login redirect.
func (s *Session) SetNavigator(nav Navigator) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nav = nav
}

// LoginPath returns the login view path.
func (s *Session) LoginPath() string { return s.loginPath }

// Restore loads the persisted credential. A missing credential is not an
// error. A persisted credential that already expired is discarded.
func (s *Session) Restore(ctx context.Context) error {
	tok, err := s.store.Load(ctx)
	if errors.Is(err, ErrNoCredential) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("session: restore: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.expired(tok) {
		s.logger.Info("discarding expired credential", zap.Time("expiry", tok.Expiry))
		if err := s.store.Delete(ctx); err != nil {
			return fmt.Errorf("session: restore: %w", err)
		}
		return nil
	}
	s.tok.Store(tok)
	return nil
}

// Set installs a freshly issued credential, replacing any live one. JWT
// credentials carry their expiry in the exp claim; opaque tokens never
// expire locally and rely on the backend answering 401.
func (s *Session) Set(ctx context.Context, accessToken, tokenType string) error {
	if accessToken == "" {
		return fmt.Errorf("session: set: %w", ErrNoCredential)
	}
	if tokenType == "" {
		tokenType = "Bearer"
	}

	tok := &oauth2.Token{AccessToken: accessToken, TokenType: tokenType}
	if exp, ok := expiryOf(accessToken); ok {
		tok.Expiry = exp
	}
	if s.expired(tok) {
		return fmt.Errorf("session: set: %w", ErrSessionExpired)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.store.Save(ctx, tok); err != nil {
		return fmt.Errorf("session: set: %w", err)
	}
	s.tok.Store(tok)

	fields := []zap.Field{zap.String("token_type", tokenType)}
	if !tok.Expiry.IsZero() {
		fields = append(fields, zap.Time("expiry", tok.Expiry))
	}
	s.logger.Info("credential installed", fields...)
	return nil
}

// Token returns a copy of the live credential.
func (s *Session) Token() (*oauth2.Token, bool) {
	tok := s.tok.Load()
	if tok == nil {
		return nil, false
	}
	cp := *tok
	return &cp, true
}

// Authenticated reports whether a credential is present and not expired.
func (s *Session) Authenticated() bool {
	tok := s.tok.Load()
	return tok != nil && !s.expired(tok)
}

// Clear destroys the credential. Clearing an absent credential is a no-op.
func (s *Session) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clearLocked(ctx)
}

func (s *Session) clearLocked(ctx context.Context) error {
	had := s.tok.Swap(nil) != nil
	if err := s.store.Delete(ctx); err != nil {
		return fmt.Errorf("session: clear: %w", err)
	}
	if had {
		s.logger.Info("credential cleared")
	}
	return nil
}

// Expire tears the credential down after the backend or the local clock
// declared it invalid, then redirects to the login view unless the current
// location already is the login view. It reports whether a redirect was
// issued. Once the first redirect lands on the login view, later failures
// see it there and do not redirect again.
func (s *Session) Expire(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.clearLocked(ctx); err != nil {
		s.logger.Warn("failed to clear credential", zap.Error(err))
	}

	if s.nav == nil {
		return false
	}
	from := s.nav.Location()
	if pathOf(from) == s.loginPath {
		return false
	}

	to := LoginRedirect(s.loginPath, from)
	s.logger.Info("session expired, redirecting to login", zap.String("from", from))
	s.nav.Navigate(to)
	return true
}

// AttachCredential is the request interceptor that writes the authorization
// header. Without a credential the request goes out unauthenticated, since
// some endpoints are public. A credential past its expiry is torn down and
// the request is refused.
func (s *Session) AttachCredential(r *http.Request) error {
	tok := s.tok.Load()
	if tok == nil {
		return nil
	}
	if s.expired(tok) {
		s.Expire(r.Context())
		return fmt.Errorf("%w: %w", ErrSessionExpired, transport.ErrUnauthorized)
	}
	tok.SetAuthHeader(r)
	return nil
}

// InspectResponse is the response interceptor detecting an invalidated
// credential. The rejection itself still reaches the caller as an error.
func (s *Session) InspectResponse(resp *http.Response) error {
	if resp.StatusCode != http.StatusUnauthorized {
		return nil
	}
	ctx := context.Background()
	if resp.Request != nil {
		ctx = resp.Request.Context()
	}
	s.Expire(ctx)
	return nil
}

// TransportOptions wires the session into a transport.Client.
func (s *Session) TransportOptions() []transport.Option {
	return []transport.Option{
		transport.WithRequestInterceptor(s.AttachCredential),
		transport.WithResponseInterceptor(s.InspectResponse),
	}
}

func (s *Session) expired(tok *oauth2.Token) bool {
	return !tok.Expiry.IsZero() && !s.now().Before(tok.Expiry)
}

// expiryOf reads the exp claim without verifying the signature. Verification
// is the backend's job.
func expiryOf(accessToken string) (time.Time, bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(accessToken, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}

// SubjectOf returns the sub claim of a JWT credential, or "" for opaque
// tokens.
func SubjectOf(accessToken string) string {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(accessToken, claims); err != nil {
		return ""
	}
	sub, _ := claims.GetSubject()
	return sub
}

// LoginRedirect builds the login location remembering where the user was
// headed, e.g. /login?redirect=%2Ftasks.
func LoginRedirect(loginPath, from string) string {
	if from == "" || pathOf(from) == loginPath {
		return loginPath
	}
	return loginPath + "?" + url.Values{"redirect": {from}}.Encode()
}

func pathOf(location string) string {
	u, err := url.Parse(location)
	if err != nil {
		return location
	}
	return u.Path
}
