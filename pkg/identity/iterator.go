package identity

import (
	"github.com/thebtf/sqlid/pkg/store"
)

// Iterator walks a result set of primary keys, materializing each row
// through the identity map, so rows already cached come back as aliases
// of their existing records.
//
// Usage follows the database/sql Rows shape:
//
//	it, err := m.Iterate("")
//	if err != nil { ... }
//	defer it.Close()
//	for it.Next() {
//	    h, err := it.Handle()
//	    ...
//	    h.Release()
//	}
//	if err := it.Err(); err != nil { ... }
//
// The iterator holds a pooled statement slot until closed; a nested
// iteration with the same SQL text is routed to a distinct slot and does
// not disturb this one's cursor.
type Iterator[T any] struct {
	m    *Map[T]
	st   *store.Statement
	cur  Handle[T]
	err  error
	done bool
}

// Iterate starts an iteration over text, a select whose first column
// yields primary keys from the map's table. An empty text selects every
// key in the table.
func (m *Map[T]) Iterate(text string) (*Iterator[T], error) {
	if text == "" {
		text = "select " + m.traits.PrimaryKey + " from " + m.traits.Table
	}
	st, err := m.conn.Statement(text)
	if err != nil {
		return nil, err
	}
	return &Iterator[T]{m: m, st: st}, nil
}

// Next advances to the next row, reporting whether one is available.
// Once it returns false, check Err.
func (it *Iterator[T]) Next() bool {
	if it.err != nil || it.done || it.st == nil {
		return false
	}
	it.cur.Release()

	hasRow, err := it.st.Step()
	if err != nil {
		it.err = err
		return false
	}
	if !hasRow {
		it.done = true
		return false
	}

	id, err := it.st.ColumnInt64(0)
	if err != nil {
		it.err = err
		return false
	}

	h, err := it.m.GetUnchecked(id)
	if err != nil {
		it.err = err
		return false
	}
	it.cur = h
	return true
}

// Handle returns a handle to the current row's record. The caller owns
// the returned handle and must release it.
func (it *Iterator[T]) Handle() (Handle[T], error) {
	if !it.cur.Bound() {
		return Handle[T]{}, ErrUnboundHandle
	}
	return it.cur.Clone()
}

// Err returns the first error encountered while iterating, if any.
func (it *Iterator[T]) Err() error {
	return it.err
}

// Close releases the iterator's claim on the current record and returns
// its statement slot to the pool. Safe to call more than once.
func (it *Iterator[T]) Close() {
	it.cur.Release()
	if it.st != nil {
		it.st.Close()
		it.st = nil
	}
}
