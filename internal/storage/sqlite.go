package storage

import (
	"context"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Backend using SQLite. When opened with a passphrase,
// values are encrypted at rest.
type SQLiteStore struct {
	db     *sql.DB
	sealer *sealer
	mu     sync.RWMutex
}

// NewSQLiteStore opens (or creates) the database at dbPath. An empty
// passphrase stores values unencrypted.
func NewSQLiteStore(dbPath, passphrase string) (*SQLiteStore, error) {
	// WAL mode and busy timeout so concurrent processes don't trip over each other
	dsn := fmt.Sprintf("%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.init(); err != nil {
		db.Close()
		return nil, err
	}

	// The file exists after init; tokens should not be world readable
	if err := os.Chmod(dbPath, 0600); err != nil && !os.IsNotExist(err) {
		log.Debug().Err(err).Str("path", dbPath).Msg("failed to restrict database permissions")
	}

	if passphrase != "" {
		salt, err := store.salt()
		if err != nil {
			db.Close()
			return nil, err
		}
		s, err := newSealer(DeriveKey(passphrase, salt))
		if err != nil {
			db.Close()
			return nil, err
		}
		store.sealer = s
	}

	return store, nil
}

func (s *SQLiteStore) init() error {
	kvQuery := `
	CREATE TABLE IF NOT EXISTS kv (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		last_updated DATETIME NOT NULL
	);
	`
	if _, err := s.db.Exec(kvQuery); err != nil {
		return fmt.Errorf("failed to create kv table: %w", err)
	}

	metaQuery := `
	CREATE TABLE IF NOT EXISTS meta (
		name TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`
	if _, err := s.db.Exec(metaQuery); err != nil {
		return fmt.Errorf("failed to create meta table: %w", err)
	}

	return nil
}

// salt returns the key derivation salt, creating it on first use.
func (s *SQLiteStore) salt() ([]byte, error) {
	var encoded string
	err := s.db.QueryRow("SELECT value FROM meta WHERE name = 'kdf_salt'").Scan(&encoded)
	if err == nil {
		return base64.StdEncoding.DecodeString(encoded)
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to query salt: %w", err)
	}

	salt, err := newSalt()
	if err != nil {
		return nil, err
	}
	// INSERT OR IGNORE then re-read, in case another process won the race
	if _, err := s.db.Exec(
		"INSERT OR IGNORE INTO meta (name, value) VALUES ('kdf_salt', ?)",
		base64.StdEncoding.EncodeToString(salt),
	); err != nil {
		return nil, fmt.Errorf("failed to store salt: %w", err)
	}
	if err := s.db.QueryRow("SELECT value FROM meta WHERE name = 'kdf_salt'").Scan(&encoded); err != nil {
		return nil, fmt.Errorf("failed to query salt: %w", err)
	}
	return base64.StdEncoding.DecodeString(encoded)
}

// Get retrieves a value by key.
func (s *SQLiteStore) Get(ctx context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var stored string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM kv WHERE key = ?", key).Scan(&stored)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to query %s: %w", key, err)
	}

	value, err := s.sealer.open(key, stored)
	if err != nil {
		return "", false, fmt.Errorf("failed to decrypt %s: %w", key, err)
	}
	return value, true, nil
}

// Set stores or updates a value.
func (s *SQLiteStore) Set(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, err := s.sealer.seal(key, value)
	if err != nil {
		return fmt.Errorf("failed to encrypt %s: %w", key, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO kv (key, value, last_updated)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			last_updated = excluded.last_updated
	`, key, stored, time.Now())
	if err != nil {
		return fmt.Errorf("failed to save %s: %w", key, err)
	}
	return nil
}

// Delete removes a value by key.
func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, "DELETE FROM kv WHERE key = ?", key); err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
