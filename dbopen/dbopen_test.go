package dbopen_test

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hazyhaar/docenrich/dbopen"
	"github.com/hazyhaar/docenrich/kit"
)

func pragma(t *testing.T, db *sql.DB, name string) string {
	t.Helper()
	var v string
	if err := db.QueryRow("PRAGMA " + name).Scan(&v); err != nil {
		t.Fatalf("PRAGMA %s: %v", name, err)
	}
	return v
}

func TestOpenAppliesPragmas(t *testing.T) {
	// WHAT: the queue and vector databases get the same pragmas.
	// WHY: workers and the API write concurrently; WAL and busy_timeout
	// keep them from failing on each other.
	path := filepath.Join(t.TempDir(), "docenrich.db")
	db, err := dbopen.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	want := map[string]string{
		"journal_mode": "wal",
		"foreign_keys": "1",
		"synchronous":  "1",
		"busy_timeout": "10000",
	}
	for name, v := range want {
		if got := pragma(t, db, name); got != v {
			t.Errorf("%s = %q, want %q", name, got, v)
		}
	}
}

func TestOpenMemoryWithBusyTimeout(t *testing.T) {
	db := dbopen.OpenMemory(t, dbopen.WithBusyTimeout(2500))
	if got := pragma(t, db, "busy_timeout"); got != "2500" {
		t.Fatalf("busy_timeout = %s, want 2500", got)
	}
}

func TestWithMkdirAllAndSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "nested", "docenrich.db")
	db, err := dbopen.Open(path,
		dbopen.WithMkdirAll(),
		dbopen.WithSchema(`CREATE TABLE docs (doc_id TEXT PRIMARY KEY, stage TEXT)`),
		dbopen.WithSchema(`CREATE INDEX docs_stage ON docs(stage)`),
	)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("database file missing: %v", err)
	}
	if _, err := db.Exec(`INSERT INTO docs VALUES ('doc-1', 'uploaded')`); err != nil {
		t.Fatalf("schema not applied: %v", err)
	}
}

func TestOpenBadSchemaFails(t *testing.T) {
	_, err := dbopen.Open(filepath.Join(t.TempDir(), "x.db"), dbopen.WithSchema(`CREATE TABLE (`))
	if err == nil || !strings.Contains(err.Error(), "schema") {
		t.Fatalf("err = %v, want schema error", err)
	}
}

func TestIsBusy(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("no such table: doc_jobs"), false},
		{errors.New("SQLITE_BUSY"), true},
		{errors.New("claim: database is locked (5)"), true},
		{errors.New("database table is locked"), true},
	}
	for _, tt := range tests {
		if got := dbopen.IsBusy(tt.err); got != tt.want {
			t.Errorf("IsBusy(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestRunTxCommitsAndRollsBack(t *testing.T) {
	db := dbopen.OpenMemory(t, dbopen.WithSchema(`CREATE TABLE vectors (id TEXT PRIMARY KEY)`))
	ctx := context.Background()

	err := dbopen.RunTx(ctx, db, func(tx *sql.Tx) error {
		_, err := tx.Exec(`INSERT INTO vectors VALUES ('a')`)
		return err
	})
	if err != nil {
		t.Fatalf("RunTx: %v", err)
	}

	sentinel := errors.New("abort batch")
	err = dbopen.RunTx(ctx, db, func(tx *sql.Tx) error {
		if _, err := tx.Exec(`INSERT INTO vectors VALUES ('b')`); err != nil {
			return err
		}
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("RunTx error = %v, want sentinel", err)
	}

	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM vectors`).Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("rows = %d, want 1 (second batch rolled back)", n)
	}
}

func TestRunTxCancelledContext(t *testing.T) {
	db := dbopen.OpenMemory(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := dbopen.RunTx(ctx, db, func(*sql.Tx) error { return nil }); err == nil {
		t.Fatal("expected error on cancelled context")
	}
}

func TestExecNonBusyErrorIsNotRetried(t *testing.T) {
	// WHAT: a non-BUSY error comes back at once, unwrapped.
	// WHY: only BUSY is worth a retry; anything else would wait 300 ms for nothing.
	db := dbopen.OpenMemory(t)
	start := time.Now()
	_, err := dbopen.Exec(context.Background(), db, `INSERT INTO nowhere VALUES (1)`)
	if err == nil {
		t.Fatal("expected error")
	}
	if strings.Contains(err.Error(), "permanent") {
		t.Errorf("error still wrapped: %v", err)
	}
	if time.Since(start) > 90*time.Millisecond {
		t.Errorf("non-busy error was retried")
	}
}

func TestWithTraceLogsStatements(t *testing.T) {
	// WHAT: traced statements reach slog with the document id of the context.
	// WHY: queue claims and vector writes are otherwise invisible when a
	// worker stalls.
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	t.Cleanup(func() { slog.SetDefault(prev) })

	db := dbopen.OpenMemory(t, dbopen.WithTrace(time.Second), dbopen.WithSchema(`CREATE TABLE doc_jobs (doc_id TEXT)`))
	ctx := kit.WithDocID(context.Background(), "doc-42")
	if _, err := db.ExecContext(ctx, `INSERT INTO doc_jobs
		VALUES (?)`, "doc-42"); err != nil {
		t.Fatal(err)
	}
	if _, err := db.ExecContext(ctx, `INSERT INTO missing VALUES (1)`); err == nil {
		t.Fatal("expected error")
	}

	out := buf.String()
	for _, want := range []string{"INSERT INTO doc_jobs VALUES (?)", "doc_id=doc-42", "level=ERROR"} {
		if !strings.Contains(out, want) {
			t.Errorf("log missing %q:\n%s", want, out)
		}
	}
}
