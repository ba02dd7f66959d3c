package dbopen

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/hazyhaar/docenrich/connectivity"
)

// busyPolicy retries SQLITE_BUSY three times, 100 then 200 ms apart.
var busyPolicy = connectivity.Policy{Attempts: 3, BaseDelay: 100 * time.Millisecond}

// IsBusy reports whether err is an SQLite BUSY or locked condition.
func IsBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked")
}

// onlyBusy lets connectivity.Do retry BUSY errors and nothing else.
func onlyBusy(err error) error {
	if err == nil || IsBusy(err) {
		return err
	}
	return connectivity.Permanent(err)
}

// RunTx runs fn in a transaction, retrying the whole transaction on BUSY.
func RunTx(ctx context.Context, db *sql.DB, fn func(*sql.Tx) error) error {
	return connectivity.Do(ctx, busyPolicy, "dbopen.tx", func(ctx context.Context, _ int) error {
		return onlyBusy(runOnce(ctx, db, fn))
	})
}

func runOnce(ctx context.Context, db *sql.DB, fn func(*sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("dbopen: begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("dbopen: commit: %w", err)
	}
	return nil
}

// Exec runs a single statement, retrying on BUSY.
func Exec(ctx context.Context, db *sql.DB, query string, args ...any) (sql.Result, error) {
	var res sql.Result
	err := connectivity.Do(ctx, busyPolicy, "dbopen.exec", func(ctx context.Context, _ int) error {
		var err error
		res, err = db.ExecContext(ctx, query, args...)
		return onlyBusy(err)
	})
	return res, err
}
