// Package database provides the embedded SQLite state store and its
// schema-versioned migrations.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // register the "sqlite" driver for database/sql
)

// Config holds state store configuration.
type Config struct {
	// Path is the database file location, e.g. ".gao-dev/state.db".
	Path string

	// BusyTimeout bounds how long a writer waits on a locked database.
	BusyTimeout time.Duration
}

// DefaultConfig returns the configuration used when none is provided.
func DefaultConfig(projectRoot string) Config {
	return Config{
		Path:        filepath.Join(projectRoot, ".gao-dev", "state.db"),
		BusyTimeout: 5 * time.Second,
	}
}

// Client wraps the sql.DB handle for the state store. Readers run
// concurrently under WAL; writers queue on the database write lock.
type Client struct {
	db   *sql.DB
	path string
}

// DB returns the underlying handle for direct queries and health checks.
func (c *Client) DB() *sql.DB {
	return c.db
}

// Path returns the database file location.
func (c *Client) Path() string {
	return c.path
}

// Close closes the underlying database handle.
func (c *Client) Close() error {
	return c.db.Close()
}

// NewClient opens (creating if needed) the state store and applies pending
// migrations.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?%s", cfg.Path, dsnParams(cfg).Encode())
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// WAL permits one writer alongside concurrent readers. Write
	// transactions take the lock at BEGIN (txlock=immediate), so contending
	// writers queue on busy_timeout instead of deadlocking on upgrade.
	db.SetMaxOpenConns(4)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Client{db: db, path: cfg.Path}, nil
}

func dsnParams(cfg Config) url.Values {
	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	params := url.Values{}
	params.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busy.Milliseconds()))
	params.Add("_pragma", "journal_mode(WAL)")
	params.Add("_pragma", "foreign_keys(1)")
	params.Add("_txlock", "immediate")
	return params
}
