package store

import (
	"fmt"

	"zombiezen.com/go/sqlite"
)

// Statement is an exclusive handle on one pooled statement slot. It is
// created by Conn.Statement and must be closed to return the slot to the
// pool. Two live Statements never share a slot, even for identical SQL
// text.
//
// After a bind, step or extraction failure the slot is reset and its
// bindings cleared before the error is returned, so the statement is
// always left in a clean, reusable state.
type Statement struct {
	conn *Conn
	slot *slot
}

// Bind binds a named parameter, e.g. ":name" including the prefix.
// Supported value types: int, int64, float64, string, bool, []byte and
// nil.
func (s *Statement) Bind(param string, value any) error {
	if s.slot == nil {
		return fmt.Errorf("bind %s: %w", param, errReleased)
	}
	if !s.conn.IsValid() {
		return fmt.Errorf("bind %s: %w", param, ErrInvalidConnection)
	}

	idx := s.paramIndex(param)
	if idx == 0 {
		s.conn.pool.clean(s.slot)
		return fmt.Errorf("bind %s: %w", param, ErrNoSuchParameter)
	}

	stmt := s.slot.stmt
	switch v := value.(type) {
	case int:
		stmt.BindInt64(idx, int64(v))
	case int64:
		stmt.BindInt64(idx, v)
	case float64:
		stmt.BindFloat(idx, v)
	case string:
		stmt.BindText(idx, v)
	case bool:
		stmt.BindBool(idx, v)
	case []byte:
		stmt.BindBytes(idx, v)
	case nil:
		stmt.BindNull(idx)
	default:
		s.conn.pool.clean(s.slot)
		return fmt.Errorf("bind %s: unsupported value type %T", param, value)
	}
	return nil
}

// paramIndex returns the 1-based index of the named parameter, or 0 when
// the statement declares no such parameter.
func (s *Statement) paramIndex(param string) int {
	stmt := s.slot.stmt
	for i := 1; i <= stmt.BindParamCount(); i++ {
		if stmt.BindParamName(i) == param {
			return i
		}
	}
	return 0
}

// Step advances to the next result row, returning true while one is
// available. On exhaustion the statement resets itself, so a further
// Step replays the result set from the first row.
func (s *Statement) Step() (bool, error) {
	if s.slot == nil {
		return false, fmt.Errorf("step: %w", errReleased)
	}
	if !s.conn.IsValid() {
		return false, fmt.Errorf("step: %w", ErrInvalidConnection)
	}

	hasRow, err := s.slot.stmt.Step()
	if err != nil {
		s.conn.pool.clean(s.slot)
		return false, wrapSQLite("step", s.slot.text, err)
	}
	if !hasRow {
		_ = s.slot.stmt.Reset()
		s.slot.hasRow = false
		return false, nil
	}
	s.slot.hasRow = true
	return true, nil
}

// StepFinal steps the statement and fails with ErrUnexpectedResultRow if
// a result row is still available. Use it for statements that are meant
// to return nothing, such as inserts.
func (s *Statement) StepFinal() error {
	hasRow, err := s.Step()
	if err != nil {
		return err
	}
	if hasRow {
		s.Reset()
		return fmt.Errorf("step final %q: %w", s.slot.text, ErrUnexpectedResultRow)
	}
	return nil
}

// Reset rewinds the cursor, keeping bound parameters. Never fails. A
// no-op once the connection has been closed.
func (s *Statement) Reset() {
	if s.slot == nil || !s.conn.IsValid() {
		return
	}
	_ = s.slot.stmt.Reset()
	s.slot.hasRow = false
}

// ClearBindings sets every bound parameter back to null. Never fails. A
// no-op once the connection has been closed.
func (s *Statement) ClearBindings() {
	if s.slot == nil || !s.conn.IsValid() {
		return
	}
	_ = s.slot.stmt.ClearBindings()
}

// ColumnInt extracts the integer value at column col of the current row.
func (s *Statement) ColumnInt(col int) (int, error) {
	if err := s.checkColumn(col, sqlite.TypeInteger); err != nil {
		return 0, err
	}
	return s.slot.stmt.ColumnInt(col), nil
}

// ColumnInt64 extracts the 64-bit integer value at column col of the
// current row.
func (s *Statement) ColumnInt64(col int) (int64, error) {
	if err := s.checkColumn(col, sqlite.TypeInteger); err != nil {
		return 0, err
	}
	return s.slot.stmt.ColumnInt64(col), nil
}

// ColumnFloat extracts the float value at column col of the current row.
func (s *Statement) ColumnFloat(col int) (float64, error) {
	if err := s.checkColumn(col, sqlite.TypeFloat); err != nil {
		return 0, err
	}
	return s.slot.stmt.ColumnFloat(col), nil
}

// ColumnText extracts the text value at column col of the current row.
func (s *Statement) ColumnText(col int) (string, error) {
	if err := s.checkColumn(col, sqlite.TypeText); err != nil {
		return "", err
	}
	return s.slot.stmt.ColumnText(col), nil
}

// checkColumn verifies that the cursor is on a row, col is in range, and
// the stored value has exactly the wanted type. No implicit conversions.
func (s *Statement) checkColumn(col int, want sqlite.ColumnType) error {
	if s.slot == nil {
		return fmt.Errorf("extract column %d: %w", col, errReleased)
	}
	if !s.conn.IsValid() {
		return fmt.Errorf("extract column %d: %w", col, ErrInvalidConnection)
	}
	if !s.slot.hasRow {
		return fmt.Errorf("extract column %d: %w", col, ErrNoResultRow)
	}
	if col < 0 || col >= s.slot.stmt.ColumnCount() {
		s.conn.pool.clean(s.slot)
		return fmt.Errorf("extract column %d: %w", col, ErrResultIndexOutOfRange)
	}
	if got := s.slot.stmt.ColumnType(col); got != want {
		s.conn.pool.clean(s.slot)
		return fmt.Errorf("extract column %d: have %v, want %v: %w", col, got, want, ErrValueType)
	}
	return nil
}

// Close releases the slot back to the pool: cursor rewound, bindings
// cleared, lock dropped. Never fails; safe to call more than once.
func (s *Statement) Close() {
	if s.slot == nil {
		return
	}
	if s.conn.IsValid() {
		s.conn.pool.release(s.slot)
	}
	s.slot = nil
}
