package api

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"

	"go.uber.org/zap"

	"github.com/policyhub/console/internal/session"
	"github.com/policyhub/console/internal/transport"
)

// DefaultPasswordLength is used by GeneratePassword when no length is given.
const DefaultPasswordLength = 12

// Token is the login response.
type Token struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// User is the authenticated account.
type User struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	IsActive  bool   `json:"is_active"`
	CreatedAt *Time  `json:"created_at,omitempty"`
}

// PasswordResult is the outcome of a password operation. NewPassword is only
// set when the backend generated one.
type PasswordResult struct {
	Success     bool   `json:"success"`
	Message     string `json:"message"`
	NewPassword string `json:"new_password,omitempty"`
}

// AuthGateway binds /api/auth and keeps the session in step with it.
type AuthGateway struct {
	gateway
	session *session.Session
}

// Login exchanges credentials for a token and installs it as the live
// session credential.
func (g *AuthGateway) Login(ctx context.Context, username, password string) (*Token, error) {
	var tok Token
	err := g.sender.JSON(ctx, &transport.Request{
		Method: http.MethodPost,
		Path:   "/api/auth/login",
		Body:   map[string]string{"username": username, "password": password},
	}, &tok)
	if err != nil {
		return nil, err
	}
	if err := g.install(ctx, tok); err != nil {
		return nil, err
	}
	g.logger.Info("logged in", zap.String("username", username))
	return &tok, nil
}

// Refresh trades the live credential for a fresh one.
func (g *AuthGateway) Refresh(ctx context.Context) (*Token, error) {
	var tok Token
	if err := g.sender.JSON(ctx, &transport.Request{Method: http.MethodPost, Path: "/api/auth/refresh"}, &tok); err != nil {
		return nil, err
	}
	if err := g.install(ctx, tok); err != nil {
		return nil, err
	}
	return &tok, nil
}

func (g *AuthGateway) install(ctx context.Context, tok Token) error {
	if tok.AccessToken == "" {
		return errors.New("api: login response carries no access token")
	}
	if g.cache != nil {
		g.cache.Flush()
	}
	if g.session == nil {
		return nil
	}
	return g.session.Set(ctx, tok.AccessToken, tok.TokenType)
}

// Logout drops the credential. It never contacts the backend.
func (g *AuthGateway) Logout(ctx context.Context) error {
	if g.cache != nil {
		g.cache.Flush()
	}
	if g.session == nil {
		return nil
	}
	return g.session.Clear(ctx)
}

// Me returns the account behind the live credential.
func (g *AuthGateway) Me(ctx context.Context) (*User, error) {
	var u User
	if err := g.sender.JSON(ctx, &transport.Request{Method: http.MethodGet, Path: "/api/auth/me"}, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// ChangePassword changes the caller's own password.
func (g *AuthGateway) ChangePassword(ctx context.Context, oldPassword, newPassword string) (*PasswordResult, error) {
	return g.password(ctx, &transport.Request{
		Method: http.MethodPost,
		Path:   "/api/auth/change-password",
		Body:   map[string]string{"old_password": oldPassword, "new_password": newPassword},
	})
}

// ResetPassword sets a new password without the old one (administrators).
func (g *AuthGateway) ResetPassword(ctx context.Context, newPassword string) (*PasswordResult, error) {
	return g.password(ctx, &transport.Request{
		Method: http.MethodPost,
		Path:   "/api/auth/reset-password",
		Body:   map[string]string{"new_password": newPassword},
	})
}

// GeneratePassword replaces the password with a random one of length
// characters and returns it.
func (g *AuthGateway) GeneratePassword(ctx context.Context, length int) (*PasswordResult, error) {
	if length <= 0 {
		length = DefaultPasswordLength
	}
	return g.password(ctx, &transport.Request{
		Method: http.MethodPost,
		Path:   "/api/auth/generate-password",
		Query:  url.Values{"length": {strconv.Itoa(length)}},
	})
}

// ForgotPassword mails a new password to the account's address. username
// may also be the e-mail address.
func (g *AuthGateway) ForgotPassword(ctx context.Context, username string) (*PasswordResult, error) {
	return g.password(ctx, &transport.Request{
		Method: http.MethodPost,
		Path:   "/api/auth/forgot-password",
		Body:   map[string]string{"username": username},
	})
}

func (g *AuthGateway) password(ctx context.Context, req *transport.Request) (*PasswordResult, error) {
	var r PasswordResult
	if err := g.sender.JSON(ctx, req, &r); err != nil {
		return nil, err
	}
	return &r, nil
}
