package database

import (
	"context"
	"fmt"
	"strings"

	"github.com/surrealdb/surrealdb.go"
)

// Query executes a raw SurrealQL query with parameters and returns the rows
// of the first statement, unmarshalled into T.
//
// Example:
//
//	query := "SELECT * FROM chat_message WHERE room_id = $room"
//	rows, err := Query[messageRow](ctx, db, query, map[string]any{"room": "r1"})
func Query[T any](ctx context.Context, db *surrealdb.DB, query string, params map[string]any) ([]T, error) {
	queryResults, err := surrealdb.Query[[]T](ctx, db, query, params)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrQueryFailed, err)
	}
	if queryResults == nil || len(*queryResults) == 0 {
		return nil, nil
	}
	return (*queryResults)[0].Result, nil
}

// QueryOne executes a query and returns a single result.
// If no results are found, it returns nil, nil.
func QueryOne[T any](ctx context.Context, db *surrealdb.DB, query string, params map[string]any) (*T, error) {
	// CREATE/UPDATE/UPSERT statements don't support LIMIT.
	if strings.HasPrefix(strings.ToUpper(strings.TrimSpace(query)), "SELECT") && !hasLimitClause(query) {
		query += " LIMIT 1"
	}

	results, err := Query[T](ctx, db, query, params)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, nil
	}
	return &results[0], nil
}

// Execute runs a statement whose rows are not needed.
func Execute(ctx context.Context, db *surrealdb.DB, query string, params map[string]any) error {
	if _, err := surrealdb.Query[any](ctx, db, query, params); err != nil {
		return fmt.Errorf("%w: %w", ErrQueryFailed, err)
	}
	return nil
}

// hasLimitClause checks if the query already has a LIMIT clause
func hasLimitClause(query string) bool {
	query = " " + strings.ToUpper(query) + " "
	return strings.Contains(query, " LIMIT ")
}

// queryRows runs a read on conn under the configured query timeout.
func queryRows[T any](ctx context.Context, conn DBConnection, op, query string, params map[string]any) ([]T, error) {
	ctx, cancel := withTimeout(ctx, conn.GetDBQueryTimeout(), queryTimeoutKey)
	defer cancel()

	var rows []T
	err := conn.WithConnection(ctx, func(db *surrealdb.DB) error {
		var err error
		rows, err = Query[T](ctx, db, query, params)
		return err
	})
	if err != nil {
		return nil, NewDBError(err, op).WithQuery(query)
	}
	return rows, nil
}

// writeRow runs a write on conn under the configured execute timeout and
// returns the first row it produced.
func writeRow[T any](ctx context.Context, conn DBConnection, op, query string, params map[string]any) (*T, error) {
	ctx, cancel := withTimeout(ctx, conn.GetDBExecuteTimeout(), executeTimeoutKey)
	defer cancel()

	var row *T
	err := conn.WithConnection(ctx, func(db *surrealdb.DB) error {
		var err error
		row, err = QueryOne[T](ctx, db, query, params)
		return err
	})
	if err != nil {
		return nil, NewDBError(err, op).WithQuery(query)
	}
	return row, nil
}
