// Package store provides the SQLite-backed persistent key/value store used
// as the durable cache tier, plus the saved-node persistence for each tree.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

var ErrNotFound = errors.New("key not found")

const pragmas = `
PRAGMA journal_mode=WAL;
PRAGMA busy_timeout=5000;
PRAGMA synchronous=NORMAL;
`

const schema = `
CREATE TABLE IF NOT EXISTS kv (
	key TEXT PRIMARY KEY,
	value BLOB NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS saved_nodes (
	tree_id TEXT NOT NULL,
	node_id TEXT NOT NULL,
	saved_at INTEGER NOT NULL,
	PRIMARY KEY (tree_id, node_id)
);
`

// DB wraps a SQLite connection.
type DB struct {
	conn *sql.DB
	path string
	mu   sync.Mutex // serialises writers
}

// OpenDir opens or creates the store at {dir}/competree.db.
func OpenDir(dir string) (*DB, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating store directory: %w", err)
	}
	return Open(filepath.Join(dir, "competree.db"))
}

// Open opens a database at the given path.
func Open(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite: %w", err)
	}

	for _, pragma := range strings.Split(pragmas, "\n") {
		pragma = strings.TrimSpace(pragma)
		if pragma == "" {
			continue
		}
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close()
			return nil, fmt.Errorf("applying pragma %q: %w", pragma, err)
		}
	}

	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	return &DB{conn: conn, path: dbPath}, nil
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// ----- Key/value -----

// Get returns the value stored under key, or ErrNotFound.
func (db *DB) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := db.conn.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying key: %w", err)
	}
	return value, nil
}

// Put stores value under key. Last write wins.
func (db *DB) Put(ctx context.Context, key string, value []byte) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	_, err := db.conn.ExecContext(ctx,
		`INSERT OR REPLACE INTO kv (key, value, updated_at) VALUES (?, ?, ?)`,
		key, value, time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("writing key: %w", err)
	}
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (db *DB) Delete(ctx context.Context, key string) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if _, err := db.conn.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("deleting key: %w", err)
	}
	return nil
}

// Clear removes every key/value entry. Saved nodes are kept.
func (db *DB) Clear(ctx context.Context) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if _, err := db.conn.ExecContext(ctx, `DELETE FROM kv`); err != nil {
		return fmt.Errorf("clearing store: %w", err)
	}
	return nil
}

// Keys returns all stored keys in lexical order.
func (db *DB) Keys(ctx context.Context) ([]string, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT key FROM kv ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("querying keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("scanning key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// Size returns the number of entries and their total value size in bytes.
func (db *DB) Size(ctx context.Context) (count int64, bytes int64, err error) {
	err = db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(LENGTH(value)), 0) FROM kv`,
	).Scan(&count, &bytes)
	if err != nil {
		return 0, 0, fmt.Errorf("measuring store: %w", err)
	}
	return count, bytes, nil
}

// ----- Saved nodes -----

// SavedNodes returns the saved node ids for a tree, oldest first.
func (db *DB) SavedNodes(ctx context.Context, treeID string) ([]string, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT node_id FROM saved_nodes WHERE tree_id = ? ORDER BY saved_at, node_id`, treeID)
	if err != nil {
		return nil, fmt.Errorf("querying saved nodes: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning saved node: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// SetSaved marks or unmarks a node as saved. Idempotent.
func (db *DB) SetSaved(ctx context.Context, treeID, nodeID string, saved bool) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	var err error
	if saved {
		_, err = db.conn.ExecContext(ctx,
			`INSERT OR IGNORE INTO saved_nodes (tree_id, node_id, saved_at) VALUES (?, ?, ?)`,
			treeID, nodeID, time.Now().UnixMilli())
	} else {
		_, err = db.conn.ExecContext(ctx,
			`DELETE FROM saved_nodes WHERE tree_id = ? AND node_id = ?`, treeID, nodeID)
	}
	if err != nil {
		return fmt.Errorf("updating saved node: %w", err)
	}
	return nil
}
