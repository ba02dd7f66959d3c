// Package vecstore keeps chunk embeddings in SQLite, partitioned by
// namespace. Records are upserted by id, filtered by source document and
// markdown version, and searched by brute-force cosine similarity.
//
// Usage:
//
//	st, err := vecstore.Open("data/docenrich.db", nil)
//	defer st.Close()
//	err = st.EnsureIndex(ctx, 1536)
//	n, err := st.Upsert(ctx, "default", records)
//	hits, err := st.Search(ctx, "default", queryVec, 5, vecstore.Filter{Version: "v2"})
package vecstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/hazyhaar/docenrich/dbopen"
	"github.com/hazyhaar/docenrich/horosembed"
)

// ErrDimensionMismatch is returned when a vector or an index request does
// not match the stored dimension.
var ErrDimensionMismatch = errors.New("vecstore: dimension mismatch")

const schema = `
CREATE TABLE IF NOT EXISTS vec_meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS vec_records (
	namespace       TEXT    NOT NULL,
	id              TEXT    NOT NULL,
	source_document TEXT    NOT NULL,
	version         TEXT    NOT NULL,
	char_start      INTEGER NOT NULL DEFAULT 0,
	char_end        INTEGER NOT NULL DEFAULT 0,
	pages           TEXT    NOT NULL DEFAULT '[]',
	text            TEXT    NOT NULL DEFAULT '',
	vector          BLOB    NOT NULL,
	norm            REAL    NOT NULL,
	updated_at      INTEGER NOT NULL,
	PRIMARY KEY (namespace, id)
);
CREATE INDEX IF NOT EXISTS idx_vec_records_source
	ON vec_records(namespace, source_document, version);
`

// Metadata is stored alongside each vector.
type Metadata struct {
	SourceDocument string `json:"source_document"`
	Version        string `json:"version"`
	CharStart      int    `json:"char_start"`
	CharEnd        int    `json:"char_end"`
	Pages          []int  `json:"pages"`
	Text           string `json:"text"`
}

// Record is one stored vector.
type Record struct {
	ID       string    `json:"id"`
	Vector   []float32 `json:"-"`
	Metadata Metadata  `json:"metadata"`
}

// Match is a search hit.
type Match struct {
	Record
	Score float64 `json:"score"`
}

// Filter restricts queries. Empty fields match anything.
type Filter struct {
	SourceDocument string
	Version        string
}

// Store is a SQLite-backed vector store.
type Store struct {
	db     *sql.DB
	owned  bool
	logger *slog.Logger
}

// Open opens (or creates) the database at path.
func Open(path string, logger *slog.Logger) (*Store, error) {
	db, err := dbopen.Open(path, dbopen.WithMkdirAll(), dbopen.WithSchema(schema))
	if err != nil {
		return nil, fmt.Errorf("vecstore: %w", err)
	}
	s := newStore(db, logger)
	s.owned = true
	return s, nil
}

// New uses an existing database, shared with other components.
func New(db *sql.DB, logger *slog.Logger) (*Store, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("vecstore: schema: %w", err)
	}
	return newStore(db, logger), nil
}

func newStore(db *sql.DB, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, logger: logger}
}

// Close closes the database if Open created it.
func (s *Store) Close() error {
	if s.owned {
		return s.db.Close()
	}
	return nil
}

// Dimension returns the stored dimension, 0 when no index exists yet.
func (s *Store) Dimension(ctx context.Context) (int, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM vec_meta WHERE key = 'dimension'`).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("vecstore: dimension: %w", err)
	}
	return strconv.Atoi(v)
}

// EnsureIndex records dim on first use and rejects any other dimension
// afterwards.
func (s *Store) EnsureIndex(ctx context.Context, dim int) error {
	if dim <= 0 {
		return fmt.Errorf("%w: %d", ErrDimensionMismatch, dim)
	}
	cur, err := s.Dimension(ctx)
	if err != nil {
		return err
	}
	if cur == 0 {
		_, err := dbopen.Exec(ctx, s.db,
			`INSERT OR IGNORE INTO vec_meta(key, value) VALUES ('dimension', ?)`, strconv.Itoa(dim))
		if err != nil {
			return fmt.Errorf("vecstore: ensure index: %w", err)
		}
		s.logger.Info("vecstore: index created", "dimension", dim)
		return nil
	}
	if cur != dim {
		return fmt.Errorf("%w: index has %d, got %d", ErrDimensionMismatch, cur, dim)
	}
	return nil
}

// Upsert inserts or replaces records by id within namespace.
func (s *Store) Upsert(ctx context.Context, namespace string, recs []Record) (int, error) {
	if len(recs) == 0 {
		return 0, nil
	}
	dim, err := s.Dimension(ctx)
	if err != nil {
		return 0, err
	}
	now := time.Now().Unix()
	err = dbopen.RunTx(ctx, s.db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO vec_records
				(namespace, id, source_document, version, char_start, char_end, pages, text, vector, norm, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(namespace, id) DO UPDATE SET
				source_document = excluded.source_document,
				version         = excluded.version,
				char_start      = excluded.char_start,
				char_end        = excluded.char_end,
				pages           = excluded.pages,
				text            = excluded.text,
				vector          = excluded.vector,
				norm            = excluded.norm,
				updated_at      = excluded.updated_at`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, r := range recs {
			if dim > 0 && len(r.Vector) != dim {
				return fmt.Errorf("%w: record %s has %d, index has %d", ErrDimensionMismatch, r.ID, len(r.Vector), dim)
			}
			pages, err := json.Marshal(nonNil(r.Metadata.Pages))
			if err != nil {
				return err
			}
			if _, err := stmt.ExecContext(ctx,
				namespace, r.ID, r.Metadata.SourceDocument, r.Metadata.Version,
				r.Metadata.CharStart, r.Metadata.CharEnd, string(pages), r.Metadata.Text,
				horosembed.EncodeVector(r.Vector), horosembed.Norm(r.Vector), now,
			); err != nil {
				return fmt.Errorf("record %s: %w", r.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("vecstore: upsert: %w", err)
	}
	return len(recs), nil
}

// DeleteBySource removes the records of one document version.
func (s *Store) DeleteBySource(ctx context.Context, namespace, doc, version string) (int64, error) {
	res, err := dbopen.Exec(ctx, s.db,
		`DELETE FROM vec_records WHERE namespace = ? AND source_document = ? AND version = ?`,
		namespace, doc, version)
	if err != nil {
		return 0, fmt.Errorf("vecstore: delete: %w", err)
	}
	return res.RowsAffected()
}

// Query returns matching records ordered by document, version and offset.
func (s *Store) Query(ctx context.Context, namespace string, f Filter) ([]Record, error) {
	var out []Record
	err := s.scan(ctx, namespace, f, func(r Record, _ float64) {
		out = append(out, r)
	})
	return out, err
}

// Count returns the number of records in namespace matching f.
func (s *Store) Count(ctx context.Context, namespace string, f Filter) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM vec_records
		WHERE namespace = ? AND (? = '' OR source_document = ?) AND (? = '' OR version = ?)`,
		namespace, f.SourceDocument, f.SourceDocument, f.Version, f.Version).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("vecstore: count: %w", err)
	}
	return n, nil
}

// Search returns the topK records most similar to vec.
func (s *Store) Search(ctx context.Context, namespace string, vec []float32, topK int, f Filter) ([]Match, error) {
	if topK <= 0 {
		topK = 5
	}
	qnorm := horosembed.Norm(vec)
	var hits []Match
	err := s.scan(ctx, namespace, f, func(r Record, norm float64) {
		hits = append(hits, Match{Record: r, Score: horosembed.Cosine(vec, r.Vector, qnorm, norm)})
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

func (s *Store) scan(ctx context.Context, namespace string, f Filter, fn func(Record, float64)) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, source_document, version, char_start, char_end, pages, text, vector, norm
		FROM vec_records
		WHERE namespace = ? AND (? = '' OR source_document = ?) AND (? = '' OR version = ?)
		ORDER BY source_document, version, char_start, id`,
		namespace, f.SourceDocument, f.SourceDocument, f.Version, f.Version)
	if err != nil {
		return fmt.Errorf("vecstore: query: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			r     Record
			pages string
			blob  []byte
			norm  float64
		)
		if err := rows.Scan(&r.ID, &r.Metadata.SourceDocument, &r.Metadata.Version,
			&r.Metadata.CharStart, &r.Metadata.CharEnd, &pages, &r.Metadata.Text, &blob, &norm); err != nil {
			return fmt.Errorf("vecstore: scan: %w", err)
		}
		if err := json.Unmarshal([]byte(pages), &r.Metadata.Pages); err != nil {
			return fmt.Errorf("vecstore: pages of %s: %w", r.ID, err)
		}
		if r.Vector, err = horosembed.DecodeVector(blob); err != nil {
			return fmt.Errorf("vecstore: vector of %s: %w", r.ID, err)
		}
		fn(r, norm)
	}
	return rows.Err()
}

func nonNil(p []int) []int {
	if p == nil {
		return []int{}
	}
	return p
}
