package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/policyhub/console/internal/session"
)

func openMemory(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Config{Path: MemoryPath, Secret: "test-secret"})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestGetSetDelete(t *testing.T) {
	ctx := context.Background()
	s := openMemory(t)

	_, err := s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Set(ctx, "k", []byte("v1")))
	require.NoError(t, s.Set(ctx, "k", []byte("v2")))

	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v2", string(got))

	require.NoError(t, s.Delete(ctx, "k"))
	require.NoError(t, s.Delete(ctx, "k"))
	_, err = s.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestValuesAreEncryptedAtRest(t *testing.T) {
	ctx := context.Background()
	s := openMemory(t)
	require.NoError(t, s.Set(ctx, "token", []byte("super-secret-token")))

	var raw string
	require.NoError(t, s.sqlDB.QueryRowContext(ctx, "SELECT value FROM entries WHERE key = ?", "token").Scan(&raw))
	assert.NotContains(t, raw, "super-secret-token")
}

func TestPersistsAcrossOpenWithKeyFile(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	cfg := Config{Path: filepath.Join(dir, "console.db"), KeyFile: filepath.Join(dir, "keys", "store.key")}

	s, err := Open(cfg)
	require.NoError(t, err)
	require.NoError(t, s.Set(ctx, "token", []byte("abc")))
	require.NoError(t, s.Close())

	info, err := os.Stat(cfg.KeyFile)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	s, err = Open(cfg)
	require.NoError(t, err)
	defer s.Close()
	got, err := s.Get(ctx, "token")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(got))
}

func TestWrongSecretIsCorrupt(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "console.db")

	s, err := Open(Config{Path: path, Secret: "one"})
	require.NoError(t, err)
	require.NoError(t, s.Set(ctx, "token", []byte("abc")))
	require.NoError(t, s.Close())

	s, err = Open(Config{Path: path, Secret: "two"})
	require.NoError(t, err)
	defer s.Close()
	_, err = s.Get(ctx, "token")
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestOpenRequiresKeyMaterial(t *testing.T) {
	_, err := Open(Config{Path: filepath.Join(t.TempDir(), "x.db")})
	assert.Error(t, err)

	_, err = Open(Config{})
	assert.Error(t, err)
}

func TestCredentialsAdapter(t *testing.T) {
	ctx := context.Background()
	creds := Credentials(openMemory(t))

	_, err := creds.Load(ctx)
	assert.ErrorIs(t, err, session.ErrNoCredential)

	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	require.NoError(t, creds.Save(ctx, &oauth2.Token{AccessToken: "t", TokenType: "Bearer", Expiry: exp}))

	tok, err := creds.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "t", tok.AccessToken)
	assert.True(t, exp.Equal(tok.Expiry))

	// Wired into a session, the credential survives a restart.
	sess := session.New(creds, nil, session.Options{})
	require.NoError(t, sess.Restore(ctx))
	assert.True(t, sess.Authenticated())
	require.NoError(t, sess.Clear(ctx))
	require.NoError(t, sess.Clear(ctx))

	_, err = creds.Load(ctx)
	assert.ErrorIs(t, err, session.ErrNoCredential)
}
