package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/oauth2"

	"github.com/policyhub/console/internal/session"
)

// CredentialKey is the single well-known key the session credential lives
// under.
const CredentialKey = "token"

// credentials adapts a Store to session.Store.
type credentials struct {
	s *Store
}

// Credentials returns a session.Store persisting the credential in s.
func Credentials(s *Store) session.Store {
	return &credentials{s: s}
}

func (c *credentials) Load(ctx context.Context) (*oauth2.Token, error) {
	data, err := c.s.Get(ctx, CredentialKey)
	if errors.Is(err, ErrNotFound) {
		return nil, session.ErrNoCredential
	}
	if err != nil {
		return nil, err
	}

	var tok oauth2.Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, fmt.Errorf("store: decode credential: %w", err)
	}
	if tok.AccessToken == "" {
		return nil, session.ErrNoCredential
	}
	return &tok, nil
}

func (c *credentials) Save(ctx context.Context, tok *oauth2.Token) error {
	data, err := json.Marshal(tok)
	if err != nil {
		return fmt.Errorf("store: encode credential: %w", err)
	}
	return c.s.Set(ctx, CredentialKey, data)
}

func (c *credentials) Delete(ctx context.Context) error {
	return c.s.Delete(ctx, CredentialKey)
}
