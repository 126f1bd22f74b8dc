package memory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/user/roshambo/internal/memory/migrations"
)

// SQLiteBackend stores records in a player_memory table
type SQLiteBackend struct {
	sqlDB *sql.DB
}

// OpenSQLite opens the database at dsn and applies embedded migrations
func OpenSQLite(dsn string) (*SQLiteBackend, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	if dsn != ":memory:" && !strings.HasPrefix(dsn, "file:") {
		if err := os.MkdirAll(filepath.Dir(dsn), 0755); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
	}
	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// sqlite allows one writer; a single connection keeps ":memory:" databases shared too
	sqlDB.SetMaxOpenConns(1)
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := migrate(sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &SQLiteBackend{sqlDB: sqlDB}, nil
}

// migrate runs the Up half of each embedded schema file. The statements use
// IF NOT EXISTS, so reopening an existing database changes nothing.
func migrate(sqlDB *sql.DB, migrationFS fs.FS) error {
	files, err := fs.Glob(migrationFS, "*.sql")
	if err != nil {
		return fmt.Errorf("list migrations: %w", err)
	}
	for _, file := range files {
		content, err := fs.ReadFile(migrationFS, file)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", file, err)
		}
		up, _, _ := strings.Cut(string(content), "-- +migrate Down")
		if _, err := sqlDB.Exec(up); err != nil {
			return fmt.Errorf("exec migration %s: %w", file, err)
		}
	}
	return nil
}

// Get reads the payload for slot
func (s *SQLiteBackend) Get(ctx context.Context, slot string) ([]byte, error) {
	var payload string
	err := s.sqlDB.QueryRowContext(ctx, "SELECT payload FROM player_memory WHERE slot = ?", slot).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get player memory: %w", err)
	}
	return []byte(payload), nil
}

// Put upserts the payload for slot
func (s *SQLiteBackend) Put(ctx context.Context, slot string, data []byte) error {
	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO player_memory (slot, payload, updated_at) VALUES (?, ?, ?)
ON CONFLICT(slot) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at`,
		slot, string(data), time.Now().UTC().UnixMilli())
	if err != nil {
		return fmt.Errorf("put player memory: %w", err)
	}
	return nil
}

// Delete removes the row for slot
func (s *SQLiteBackend) Delete(ctx context.Context, slot string) error {
	res, err := s.sqlDB.ExecContext(ctx, "DELETE FROM player_memory WHERE slot = ?", slot)
	if err != nil {
		return fmt.Errorf("delete player memory: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete player memory: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Keys lists stored slots in lexical order
func (s *SQLiteBackend) Keys(ctx context.Context) ([]string, error) {
	rows, err := s.sqlDB.QueryContext(ctx, "SELECT slot FROM player_memory ORDER BY slot")
	if err != nil {
		return nil, fmt.Errorf("list player memory: %w", err)
	}
	defer rows.Close()

	keys := make([]string, 0)
	for rows.Next() {
		var slot string
		if err := rows.Scan(&slot); err != nil {
			return nil, fmt.Errorf("scan player memory: %w", err)
		}
		keys = append(keys, slot)
	}
	return keys, rows.Err()
}

// Close closes the SQLite handle
func (s *SQLiteBackend) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}
