// Package store wraps a single embedded SQLite connection with a
// reentrancy-safe pool of compiled statements and transaction guards.
//
// A Conn is not safe for concurrent use from multiple goroutines. It is
// designed for single-threaded cooperative use, where "concurrency" means
// overlapping logical users within one thread of control: a row-processing
// loop may acquire a second Statement with the same SQL text, and the pool
// routes it to a distinct slot so neither acquisition observes the other's
// bound parameters or cursor position.
package store

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// Config holds configuration for opening a connection.
type Config struct {
	// Path is the database file path. Ignored when Memory is set.
	Path string

	// Memory opens a private in-memory database.
	Memory bool

	// BusyTimeout is how long a write waits for a lock before failing.
	// Defaults to 5 seconds.
	BusyTimeout time.Duration

	// ForeignKeys enables foreign-key enforcement on the connection.
	ForeignKeys bool
}

// Conn is one SQLite connection plus the statement pool built on it.
type Conn struct {
	conn   *sqlite.Conn
	pool   *pool
	closed bool

	// txDepth tracks transaction nesting; see transaction.go.
	txDepth int
}

// Open opens a connection described by cfg and applies its pragmas.
// File-backed databases use WAL journaling.
func Open(cfg Config) (*Conn, error) {
	path := cfg.Path
	flags := sqlite.OpenReadWrite | sqlite.OpenCreate | sqlite.OpenURI | sqlite.OpenWAL
	if cfg.Memory {
		path = ":memory:"
		flags = sqlite.OpenReadWrite | sqlite.OpenCreate | sqlite.OpenMemory
	}

	raw, err := sqlite.OpenConn(path, flags)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	raw.SetBusyTimeout(busy)

	if cfg.ForeignKeys {
		// Applied outside any transaction; foreign_keys is a no-op inside one.
		if err := sqlitex.ExecuteTransient(raw, "pragma foreign_keys = on;", nil); err != nil {
			_ = raw.Close()
			return nil, fmt.Errorf("enable foreign keys: %w", err)
		}
	}

	log.Debug().
		Str("path", path).
		Bool("memory", cfg.Memory).
		Msg("database connection opened")

	return &Conn{conn: raw, pool: newPool()}, nil
}

// IsValid reports whether the connection is open and usable. Every
// fallible operation on an invalid connection fails with
// ErrInvalidConnection.
func (c *Conn) IsValid() bool {
	return c != nil && !c.closed && c.conn != nil
}

// Close finalizes every pooled statement and closes the connection.
// Safe to call more than once.
func (c *Conn) Close() error {
	if !c.IsValid() {
		return nil
	}
	c.closed = true
	c.pool.finalizeAll()

	if err := c.conn.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}

	log.Debug().Msg("database connection closed")
	return nil
}

// ExecScript immediately executes sql, which may contain any number of
// statements. It bypasses the statement pool; use Statement for anything
// that binds parameters or reads results.
func (c *Conn) ExecScript(sql string) error {
	if !c.IsValid() {
		return fmt.Errorf("exec script: %w", ErrInvalidConnection)
	}
	if err := sqlitex.ExecuteScript(c.conn, sql, nil); err != nil {
		return wrapSQLite("exec script", sql, err)
	}
	return nil
}

// LastInsertID returns the rowid of the most recent successful insert on
// this connection.
func (c *Conn) LastInsertID() int64 {
	if !c.IsValid() {
		return 0
	}
	return c.conn.LastInsertRowID()
}

// Statement acquires an exclusive handle on a compiled statement for text
// from the pool, compiling a new slot when every existing one is in use.
// text must contain exactly one SQL statement; trailing semicolons and
// spaces are tolerated. Close the returned Statement to return the slot
// to the pool.
func (c *Conn) Statement(text string) (*Statement, error) {
	s, err := c.pool.acquire(c, text)
	if err != nil {
		return nil, err
	}
	return &Statement{conn: c, slot: s}, nil
}
