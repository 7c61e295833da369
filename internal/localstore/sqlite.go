package localstore

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

const schema = `CREATE TABLE IF NOT EXISTS items (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
)`

// SQLite persists items in a single-file database, one file per profile.
type SQLite struct {
	db *sql.DB
}

func OpenSQLite(path string) (*SQLite, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open local storage: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init local storage: %w", err)
	}

	return &SQLite{db: db}, nil
}

// GetItem reports a read failure the same way as a missing key; callers treat
// unreadable local data as absent.
func (s *SQLite) GetItem(key string) (string, bool) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM items WHERE key = ?`, key).Scan(&value)
	if err != nil {
		return "", false
	}
	return value, true
}

func (s *SQLite) SetItem(key, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO items (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("set %q: %w", key, err)
	}
	return nil
}

func (s *SQLite) RemoveItem(key string) error {
	if _, err := s.db.Exec(`DELETE FROM items WHERE key = ?`, key); err != nil {
		return fmt.Errorf("remove %q: %w", key, err)
	}
	return nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
