// Package store is the console's durable client-side storage: a small
// SQLite key/value table whose values are encrypted at rest. It keeps the
// session credential across consolectl invocations.
//
// SQLite is accessed through the modernc pure-Go driver, so no CGO is
// required. The schema is embedded and migrated on Open.
package store

import (
	"context"
	"crypto/cipher"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"
	gormsqlite "gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	// Registers itself as "sqlite" in database/sql.
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// MemoryPath opens a private in-memory database, mostly for tests.
const MemoryPath = ":memory:"

// Config holds what Open needs.
type Config struct {
	// Path is the SQLite file, or MemoryPath.
	Path string

	// Secret derives the encryption key. When empty, a random key is kept
	// in KeyFile instead.
	Secret string

	// KeyFile holds the generated key when Secret is empty. Required in that
	// case unless Path is MemoryPath, where an ephemeral key is used.
	KeyFile string

	Logger   *zap.Logger
	LogLevel gormlogger.LogLevel
}

// entry is one row of the key/value table. Value is base64(nonce+ciphertext).
type entry struct {
	Key       string `gorm:"primaryKey"`
	Value     string `gorm:"not null"`
	UpdatedAt time.Time
}

func (entry) TableName() string { return "entries" }

// Store is an encrypted key/value store.
type Store struct {
	db     *gorm.DB
	sqlDB  *sql.DB
	aead   cipher.AEAD
	logger *zap.Logger
}

// Open opens (creating if needed) the database at cfg.Path, applies pending
// migrations and prepares the cipher.
func Open(cfg Config) (*Store, error) {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Path == "" {
		return nil, errors.New("store: path is required")
	}
	logger := cfg.Logger.Named("store")

	key, err := resolveKey(cfg)
	if err != nil {
		return nil, err
	}
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}

	// Open through database/sql with the modernc driver and hand the
	// connection to GORM, so GORM does not try to load go-sqlite3.
	sqlDB, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite: %w", err)
	}
	// One writer at a time; also keeps a :memory: database on a single
	// connection.
	sqlDB.SetMaxOpenConns(1)

	database, err := gorm.Open(gormsqlite.Dialector{Conn: sqlDB}, &gorm.Config{
		Logger: newZapGORMLogger(logger, cfg.LogLevel),
	})
	if err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("store: init gorm: %w", err)
	}

	if err := migrateUp(sqlDB, logger); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("store: migrations failed: %w", err)
	}

	return &Store{db: database, sqlDB: sqlDB, aead: aead, logger: logger}, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.sqlDB.Close()
}

// Get returns the decrypted value of key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	var e entry
	err := s.db.WithContext(ctx).First(&e, "key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get %q: %w", key, err)
	}

	plain, err := unseal(s.aead, e.Value)
	if err != nil {
		return nil, fmt.Errorf("store: get %q: %w", key, err)
	}
	return plain, nil
}

// Set upserts key.
func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	sealed, err := seal(s.aead, value)
	if err != nil {
		return fmt.Errorf("store: set %q: %w", key, err)
	}
	if err := s.db.WithContext(ctx).Save(&entry{Key: key, Value: sealed}).Error; err != nil {
		return fmt.Errorf("store: set %q: %w", key, err)
	}
	return nil
}

// Delete removes key. Deleting an absent key succeeds.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.db.WithContext(ctx).Delete(&entry{}, "key = ?", key).Error; err != nil {
		return fmt.Errorf("store: delete %q: %w", key, err)
	}
	return nil
}

// migrateUp applies all pending up-migrations. ErrNoChange is success.
func migrateUp(sqlDB *sql.DB, logger *zap.Logger) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}
	drv, err := migratesqlite.WithInstance(sqlDB, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("create sqlite migrate driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", drv)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}

	version, _, _ := m.Version()
	logger.Debug("store migrations applied", zap.Uint("version", version))
	return nil
}
