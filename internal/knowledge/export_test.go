package knowledge

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// FailExecWhen makes every SQL exec matching pred fail with errInjected.
// This file only compiles during `go test`.
func (b *SQLiteBackend) FailExecWhen(pred func(query string, args []any) bool) {
	b.hooks.exec = func(ctx context.Context, db execer, query string, args ...any) (sql.Result, error) {
		if pred(query, args) {
			return nil, errInjected
		}
		return db.ExecContext(ctx, query, args...)
	}
}

var errInjected = errors.New("injected failure")

// DB exposes the underlying database for test assertions.
func (b *SQLiteBackend) DB() *sql.DB {
	return b.db
}

// SetNow pins the timestamp used for last_updated and returns a restore func.
func SetNow(t time.Time) func() {
	prev := timeNow
	timeNow = func() time.Time { return t }
	return func() { timeNow = prev }
}

// EachRow exposes the row iteration helper used by load.
func EachRow(rows interface {
	Next() bool
	Err() error
	Close() error
}, fn func() error) error {
	return eachRow(rows, fn)
}
