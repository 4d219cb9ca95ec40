package session

import "errors"

var (
	// ErrNoCredential is returned by a Store that holds no credential.
	ErrNoCredential = errors.New("session: no credential")

	// ErrSessionExpired is returned when the credential's own expiry has
	// passed. Requests carrying it are never sent.
	ErrSessionExpired = errors.New("session: credential expired")

	// ErrRedirectLoop is returned by Router.Push when route admission keeps
	// redirecting without settling on a view.
	ErrRedirectLoop = errors.New("session: too many redirects")

	// ErrUnknownRoute is returned by Router.Push for a path no route matches.
	ErrUnknownRoute = errors.New("session: unknown route")
)
