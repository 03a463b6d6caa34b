package kv

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

var sqliteDialect = dialect{
	name:        "SQLite",
	rebind:      func(q string) string { return q },
	memberOrder: "member",
	concurrent:  false,
}

// OpenSQLite opens or creates an SQLite-backed store at the given path.
func OpenSQLite(path string, opts Options) (*SQLStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// One connection serializes writers; WAL keeps readers from blocking on disk.
	conn.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA busy_timeout=5000;",
	} {
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	if err := migrateSQLite(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return newSQLStore(conn, sqliteDialect, opts), nil
}

func migrateSQLite(conn *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS kv_strings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS kv_hashes (
		key TEXT NOT NULL,
		field TEXT NOT NULL,
		value TEXT NOT NULL,
		PRIMARY KEY (key, field)
	);
	CREATE TABLE IF NOT EXISTS kv_zsets (
		key TEXT NOT NULL,
		member TEXT NOT NULL,
		score REAL NOT NULL,
		PRIMARY KEY (key, member)
	);
	CREATE INDEX IF NOT EXISTS idx_kv_zsets_score ON kv_zsets(key, score);
	CREATE TABLE IF NOT EXISTS kv_sets (
		key TEXT NOT NULL,
		member TEXT NOT NULL,
		PRIMARY KEY (key, member)
	);
	CREATE TABLE IF NOT EXISTS kv_expiry (
		key TEXT PRIMARY KEY,
		expires_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_kv_expiry_at ON kv_expiry(expires_at);
	`
	_, err := conn.Exec(schema)
	return err
}
