package database

import (
	"errors"
	"fmt"
	"strings"
)

// Causes matchable with errors.Is through any wrapping.
var (
	ErrNotConnected     = errors.New("database not connected")
	ErrInvalidInput     = errors.New("invalid input")
	ErrQueryFailed      = errors.New("query failed")
	ErrUnexpectedResult = errors.New("unexpected query result")
)

// DBError records the operation that failed and the statement it ran.
// Params are kept for debugging but left out of Error because they carry
// message bodies.
type DBError struct {
	op     string
	query  string
	params map[string]any
	err    error
}

// NewDBError wraps err as the failure of op.
func NewDBError(err error, op string) *DBError {
	return &DBError{op: op, err: err}
}

// WithQuery attaches the failed statement.
func (e *DBError) WithQuery(query string) *DBError {
	e.query = query
	return e
}

// WithParams attaches the statement's bind parameters.
func (e *DBError) WithParams(params map[string]any) *DBError {
	e.params = params
	return e
}

// Op returns the failed operation.
func (e *DBError) Op() string { return e.op }

// Query returns the failed statement, if any.
func (e *DBError) Query() string { return e.query }

// Params returns the statement's bind parameters, if any.
func (e *DBError) Params() map[string]any { return e.params }

func (e *DBError) Error() string {
	var b strings.Builder
	b.WriteString(e.op)
	if e.err != nil {
		fmt.Fprintf(&b, ": %v", e.err)
	}
	if e.query != "" {
		fmt.Fprintf(&b, " [query: %s]", strings.Join(strings.Fields(e.query), " "))
	}
	return b.String()
}

func (e *DBError) Unwrap() error { return e.err }

// WrapError prefixes op to err. An existing DBError is extended in place
// so the statement it carries survives.
func WrapError(err error, op string) error {
	if err == nil {
		return nil
	}
	var dbErr *DBError
	if errors.As(err, &dbErr) {
		if dbErr.op != "" {
			op = op + ": " + dbErr.op
		}
		dbErr.op = op
		return dbErr
	}
	return NewDBError(err, op)
}
