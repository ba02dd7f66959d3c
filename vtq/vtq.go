// Package vtq schedules document processing on a visibility-timeout queue
// stored in SQLite.
//
// A claimed job is invisible to other consumers until its visibility
// expires. A consumer that finishes acks (deletes) the job; one that fails
// nacks it with the cause; one that crashes simply lets the visibility run
// out and the job reappears. Long runs keep their claim alive with a
// heartbeat that extends the visibility.
//
// Jobs are keyed by document id, so enqueueing a document that is already
// queued or running is a no-op.
//
// Schema (created by EnsureTable):
//
//	CREATE TABLE IF NOT EXISTS doc_jobs (
//	    doc_id      TEXT PRIMARY KEY,
//	    queue       TEXT NOT NULL DEFAULT '',
//	    payload     BLOB,
//	    visible_at  INTEGER NOT NULL DEFAULT 0,  -- unix ms
//	    created_at  INTEGER NOT NULL,            -- unix ms
//	    attempts    INTEGER NOT NULL DEFAULT 0,
//	    last_error  TEXT NOT NULL DEFAULT '',
//	    dead        INTEGER NOT NULL DEFAULT 0
//	);
package vtq

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/docenrich/dbopen"
)

const schema = `
CREATE TABLE IF NOT EXISTS doc_jobs (
	doc_id      TEXT PRIMARY KEY,
	queue       TEXT NOT NULL DEFAULT '',
	payload     BLOB,
	visible_at  INTEGER NOT NULL DEFAULT 0,
	created_at  INTEGER NOT NULL,
	attempts    INTEGER NOT NULL DEFAULT 0,
	last_error  TEXT NOT NULL DEFAULT '',
	dead        INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_doc_jobs_visible ON doc_jobs (queue, dead, visible_at);
`

const columns = `doc_id, queue, payload, visible_at, created_at, attempts, last_error, dead`

// Job is a queued document.
type Job struct {
	DocID     string    `json:"doc_id"`
	Queue     string    `json:"queue"`
	Payload   []byte    `json:"payload,omitempty"`
	VisibleAt time.Time `json:"visible_at"`
	CreatedAt time.Time `json:"created_at"`
	Attempts  int       `json:"attempts"`
	LastError string    `json:"last_error,omitempty"`
	// Dead jobs exceeded MaxAttempts; they stay for inspection until
	// enqueued again.
	Dead bool `json:"dead"`
}

// Options configures a queue.
type Options struct {
	// Queue names the logical queue inside the table. Default: "".
	Queue string
	// Visibility is how long a claimed job stays invisible. Default: 5m.
	Visibility time.Duration
	// Heartbeat is the visibility extension period while a handler runs.
	// Default: Visibility/3.
	Heartbeat time.Duration
	// PollInterval is the delay between claim rounds. Default: 1s.
	PollInterval time.Duration
	// MaxAttempts buries a job after that many deliveries. 0 means
	// unlimited.
	MaxAttempts int
	Logger      *slog.Logger
}

func (o *Options) defaults() {
	if o.Visibility <= 0 {
		o.Visibility = 5 * time.Minute
	}
	if o.Heartbeat <= 0 {
		o.Heartbeat = o.Visibility / 3
	}
	if o.PollInterval <= 0 {
		o.PollInterval = time.Second
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Q is a queue handle.
type Q struct {
	db   *sql.DB
	opts Options
}

// New creates a queue handle. Call EnsureTable once at startup.
func New(db *sql.DB, opts Options) *Q {
	opts.defaults()
	return &Q{db: db, opts: opts}
}

// EnsureTable creates the doc_jobs table and its index.
func (q *Q) EnsureTable(ctx context.Context) error {
	_, err := dbopen.Exec(ctx, q.db, schema)
	return err
}

// Enqueue makes docID visible immediately. It reports false when the
// document is already queued or running. A dead job is revived with its
// attempts reset.
func (q *Q) Enqueue(ctx context.Context, docID string, payload []byte) (bool, error) {
	now := time.Now().UnixMilli()
	res, err := dbopen.Exec(ctx, q.db, `
		INSERT INTO doc_jobs (doc_id, queue, payload, visible_at, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(doc_id) DO UPDATE SET
			payload = excluded.payload,
			visible_at = excluded.visible_at,
			attempts = 0,
			last_error = '',
			dead = 0
		WHERE doc_jobs.dead = 1`,
		docID, q.opts.Queue, payload, now, now,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// Claim picks the oldest visible job and hides it for the visibility
// duration. It returns nil, nil when nothing is visible.
func (q *Q) Claim(ctx context.Context) (*Job, error) {
	jobs, err := q.ClaimBatch(ctx, 1)
	if err != nil || len(jobs) == 0 {
		return nil, err
	}
	return jobs[0], nil
}

// ClaimBatch claims up to n visible jobs. It returns an empty, non-nil
// slice when nothing is visible.
func (q *Q) ClaimBatch(ctx context.Context, n int) ([]*Job, error) {
	now := time.Now()
	hideUntil := now.Add(q.opts.Visibility).UnixMilli()

	rows, err := q.db.QueryContext(ctx, `
		UPDATE doc_jobs
		SET visible_at = ?, attempts = attempts + 1
		WHERE doc_id IN (
			SELECT doc_id FROM doc_jobs
			WHERE queue = ? AND dead = 0 AND visible_at <= ?
			ORDER BY visible_at ASC, created_at ASC
			LIMIT ?
		)
		RETURNING `+columns,
		hideUntil, q.opts.Queue, now.UnixMilli(), n,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	jobs := []*Job{}
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(s scanner) (*Job, error) {
	var j Job
	var visAt, creAt int64
	var dead int
	if err := s.Scan(&j.DocID, &j.Queue, &j.Payload, &visAt, &creAt, &j.Attempts, &j.LastError, &dead); err != nil {
		return nil, err
	}
	j.VisibleAt = time.UnixMilli(visAt)
	j.CreatedAt = time.UnixMilli(creAt)
	j.Dead = dead == 1
	return &j, nil
}

// Get returns the job of docID, nil when none is queued.
func (q *Q) Get(ctx context.Context, docID string) (*Job, error) {
	row := q.db.QueryRowContext(ctx,
		`SELECT `+columns+` FROM doc_jobs WHERE doc_id = ? AND queue = ?`, docID, q.opts.Queue)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return j, err
}

// Ack deletes a processed job.
func (q *Q) Ack(ctx context.Context, docID string) error {
	_, err := dbopen.Exec(ctx, q.db,
		`DELETE FROM doc_jobs WHERE doc_id = ? AND queue = ?`, docID, q.opts.Queue)
	return err
}

// Nack makes a job visible again and records cause.
func (q *Q) Nack(ctx context.Context, docID string, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	_, err := dbopen.Exec(ctx, q.db,
		`UPDATE doc_jobs SET visible_at = 0, last_error = ? WHERE doc_id = ? AND queue = ?`,
		msg, docID, q.opts.Queue)
	return err
}

// Bury marks a job dead. It is no longer claimed but stays visible to Get.
func (q *Q) Bury(ctx context.Context, docID string, reason string) error {
	_, err := dbopen.Exec(ctx, q.db,
		`UPDATE doc_jobs SET dead = 1, last_error = ? WHERE doc_id = ? AND queue = ?`,
		reason, docID, q.opts.Queue)
	return err
}

// Extend hides a claimed job for extra from now.
func (q *Q) Extend(ctx context.Context, docID string, extra time.Duration) error {
	_, err := dbopen.Exec(ctx, q.db,
		`UPDATE doc_jobs SET visible_at = ? WHERE doc_id = ? AND queue = ? AND dead = 0`,
		time.Now().Add(extra).UnixMilli(), docID, q.opts.Queue)
	return err
}

// Purge deletes every job of the queue.
func (q *Q) Purge(ctx context.Context) error {
	_, err := dbopen.Exec(ctx, q.db, `DELETE FROM doc_jobs WHERE queue = ?`, q.opts.Queue)
	return err
}

// Len counts the live (not dead) jobs of the queue.
func (q *Q) Len(ctx context.Context) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM doc_jobs WHERE queue = ? AND dead = 0`, q.opts.Queue,
	).Scan(&n)
	return n, err
}

// Handler processes a claimed job. nil acks it, an error nacks it.
type Handler func(ctx context.Context, job *Job) error

// Run consumes jobs one at a time until ctx is cancelled.
func (q *Q) Run(ctx context.Context, handler Handler) {
	q.RunBatch(ctx, 1, 1, handler)
}

// RunBatch claims up to batchSize jobs per round and runs at most
// maxConcurrency handlers at once. It blocks until ctx is cancelled and
// drains in-flight handlers before returning.
func (q *Q) RunBatch(ctx context.Context, batchSize, maxConcurrency int, handler Handler) {
	batchSize = max(batchSize, 1)
	maxConcurrency = max(maxConcurrency, 1)
	log := q.opts.Logger
	log.Info("vtq: consumer started",
		"queue", q.opts.Queue,
		"batch_size", batchSize,
		"max_concurrency", maxConcurrency,
		"visibility", q.opts.Visibility,
		"heartbeat", q.opts.Heartbeat,
	)

	sem := make(chan struct{}, maxConcurrency)
	var wg sync.WaitGroup
	defer func() {
		wg.Wait()
		log.Info("vtq: consumer stopped", "queue", q.opts.Queue)
	}()

	ticker := time.NewTicker(q.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		// Claim only what can start now; claimed jobs waiting on the
		// semaphore would burn their visibility.
		free := maxConcurrency - len(sem)
		if free <= 0 {
			continue
		}
		jobs, err := q.ClaimBatch(ctx, min(batchSize, free))
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn("vtq: claim failed", "error", err, "queue", q.opts.Queue)
			continue
		}

		for _, job := range jobs {
			if q.opts.MaxAttempts > 0 && job.Attempts > q.opts.MaxAttempts {
				log.Warn("vtq: max attempts exceeded, burying",
					"doc_id", job.DocID, "attempts", job.Attempts, "last_error", job.LastError)
				_ = q.Bury(context.Background(), job.DocID, "max attempts exceeded: "+job.LastError)
				continue
			}

			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				_ = q.Nack(context.Background(), job.DocID, ctx.Err())
				continue
			}

			wg.Add(1)
			go func(j *Job) {
				defer wg.Done()
				defer func() { <-sem }()
				q.handle(ctx, j, handler)
			}(job)
		}
	}
}

// handle runs handler with a visibility heartbeat and settles the job.
func (q *Q) handle(ctx context.Context, j *Job, handler Handler) {
	log := q.opts.Logger
	stop := make(chan struct{})
	var hb sync.WaitGroup
	hb.Add(1)
	go func() {
		defer hb.Done()
		t := time.NewTicker(q.opts.Heartbeat)
		defer t.Stop()
		for {
			select {
			case <-stop:
				return
			case <-t.C:
				if err := q.Extend(context.Background(), j.DocID, q.opts.Visibility); err != nil {
					log.Warn("vtq: heartbeat failed", "doc_id", j.DocID, "error", err)
				}
			}
		}
	}()

	err := handler(ctx, j)
	close(stop)
	hb.Wait()

	if err != nil {
		log.Warn("vtq: handler failed, nacking", "doc_id", j.DocID, "attempt", j.Attempts, "error", err)
		_ = q.Nack(context.Background(), j.DocID, err)
		return
	}
	_ = q.Ack(context.Background(), j.DocID)
}
