package store

import (
	"errors"
	"fmt"
)

// Transaction marks a region whose partial effects are undone unless it
// is committed. The intended shape mirrors database/sql:
//
//	tx, err := conn.Begin()
//	if err != nil { ... }
//	defer tx.Rollback()
//	...
//	return tx.Commit()
//
// Rollback after a successful Commit is a no-op. Nested Begin calls are
// backed by savepoints, so an inner guard can roll back without
// disturbing the outer one.
//
// Rolling back undoes database effects only. Values already cached in an
// identity map are not re-synchronized; callers crossing a rollback
// boundary must treat affected handles as stale.
type Transaction struct {
	conn  *Conn
	depth int
	done  bool
}

var errTransactionDone = errors.New("transaction already finalized")

// Begin starts a transaction, or a savepoint when one is already open on
// this connection.
func (c *Conn) Begin() (*Transaction, error) {
	if !c.IsValid() {
		return nil, fmt.Errorf("begin transaction: %w", ErrInvalidConnection)
	}

	t := &Transaction{conn: c, depth: c.txDepth}
	if err := c.execControl(t.beginSQL()); err != nil {
		return nil, err
	}
	c.txDepth++
	return t, nil
}

// Commit makes the guarded region's effects permanent (or, for a nested
// guard, folds them into the enclosing transaction).
func (t *Transaction) Commit() error {
	if t.done {
		return fmt.Errorf("commit: %w", errTransactionDone)
	}
	if !t.conn.IsValid() {
		return fmt.Errorf("commit: %w", ErrInvalidConnection)
	}

	sql := "commit"
	if t.depth > 0 {
		sql = fmt.Sprintf("release savepoint sp_%d", t.depth)
	}
	if err := t.conn.execControl(sql); err != nil {
		return err
	}
	t.done = true
	t.conn.txDepth--
	return nil
}

// Rollback undoes the guarded region's effects. It is a no-op after
// Commit, so it can be deferred unconditionally.
func (t *Transaction) Rollback() error {
	if t.done {
		return nil
	}
	if !t.conn.IsValid() {
		return fmt.Errorf("rollback: %w", ErrInvalidConnection)
	}

	if t.depth > 0 {
		if err := t.conn.execControl(fmt.Sprintf("rollback to savepoint sp_%d", t.depth)); err != nil {
			return err
		}
		if err := t.conn.execControl(fmt.Sprintf("release savepoint sp_%d", t.depth)); err != nil {
			return err
		}
	} else {
		if err := t.conn.execControl("rollback"); err != nil {
			return err
		}
	}
	t.done = true
	t.conn.txDepth--
	return nil
}

func (t *Transaction) beginSQL() string {
	if t.depth > 0 {
		return fmt.Sprintf("savepoint sp_%d", t.depth)
	}
	return "begin transaction"
}

// execControl runs a transaction-control statement through the pool, so
// repeated begin/commit cycles reuse compiled slots.
func (c *Conn) execControl(sql string) error {
	st, err := c.Statement(sql)
	if err != nil {
		return err
	}
	defer st.Close()
	return st.StepFinal()
}
