package store

import (
	"errors"
	"fmt"

	"zombiezen.com/go/sqlite"
)

// Error kinds reported by this package. Callers discriminate with
// errors.Is; none of them is ever retried automatically.
var (
	// ErrInvalidConnection marks an operation attempted on a connection
	// that is closed or failed to open.
	ErrInvalidConnection = errors.New("invalid database connection")

	// ErrTooManyStatements marks SQL text containing more than one
	// statement where exactly one is tracked per slot.
	ErrTooManyStatements = errors.New("sql text contains more than one statement")

	// ErrNoSuchParameter marks a bind against a parameter name the
	// statement does not declare.
	ErrNoSuchParameter = errors.New("no such bind parameter")

	// ErrNoResultRow marks column extraction while the statement is not
	// positioned on a result row.
	ErrNoResultRow = errors.New("no result row available")

	// ErrResultIndexOutOfRange marks column extraction with an index
	// outside the result row.
	ErrResultIndexOutOfRange = errors.New("result column index out of range")

	// ErrValueType marks column extraction with a type that does not
	// match the stored value.
	ErrValueType = errors.New("result column type mismatch")

	// ErrUnexpectedResultRow marks a StepFinal that found a row where
	// none was expected.
	ErrUnexpectedResultRow = errors.New("unexpected result row")

	errReleased = errors.New("statement already released")
)

// Error is a failure reported by the backing SQLite engine, tagged with
// the operation and the offending SQL text.
type Error struct {
	Op   string
	SQL  string
	Code sqlite.ResultCode
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s [%s]: %v (sql: %s)", e.Op, e.Code, e.Err, e.SQL)
}

func (e *Error) Unwrap() error { return e.Err }

// wrapSQLite tags a backing-store error with its result code and SQL.
func wrapSQLite(op, sql string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, SQL: sql, Code: sqlite.ErrCode(err), Err: err}
}

// IsConstraint reports whether err is a constraint violation reported by
// the backing store.
func IsConstraint(err error) bool {
	var se *Error
	if errors.As(err, &se) {
		return se.Code.ToPrimary() == sqlite.ResultConstraint
	}
	return sqlite.ErrCode(err).ToPrimary() == sqlite.ResultConstraint
}
