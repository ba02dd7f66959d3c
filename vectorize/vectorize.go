// Package vectorize turns a document's markdown artifacts into chunk
// embeddings in the vector store. Each (document, version) pair is replaced
// as a whole: old records are deleted, then the new chunks are upserted.
package vectorize

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"sort"
	"strconv"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hazyhaar/docenrich/artifacts"
	"github.com/hazyhaar/docenrich/chunk"
	"github.com/hazyhaar/docenrich/connectivity"
	"github.com/hazyhaar/docenrich/horosembed"
	"github.com/hazyhaar/docenrich/mdemit"
	"github.com/hazyhaar/docenrich/observability"
	"github.com/hazyhaar/docenrich/vecstore"
)

// ErrNoMarkdown is returned when the extracted markdown is missing.
var ErrNoMarkdown = errors.New("vectorize: no markdown")

// VectorStore is the subset of vecstore.Store used here.
type VectorStore interface {
	EnsureIndex(ctx context.Context, dim int) error
	DeleteBySource(ctx context.Context, namespace, doc, version string) (int64, error)
	Upsert(ctx context.Context, namespace string, recs []vecstore.Record) (int, error)
}

// Config configures a Vectorizer.
type Config struct {
	Namespace string `json:"namespace" yaml:"namespace"`
	// Versions lists the markdown versions to index. Default: v1, v2.
	Versions []string `json:"versions" yaml:"versions"`
	// UploadBatchSize is the number of chunks embedded and upserted
	// together. Default: 100.
	UploadBatchSize int `json:"upload_batch_size" yaml:"upload_batch_size"`
	// Workers bounds concurrent batches. Default: 2.
	Workers      int `json:"workers" yaml:"workers"`
	ChunkSize    int `json:"chunk_size" yaml:"chunk_size"`
	ChunkOverlap int `json:"chunk_overlap" yaml:"chunk_overlap"`

	Retry   connectivity.Policy    `json:"retry" yaml:"retry"`
	Metrics *observability.Metrics `json:"-" yaml:"-"`
	Logger  *slog.Logger           `json:"-" yaml:"-"`
}

func (c *Config) defaults() {
	if len(c.Versions) == 0 {
		c.Versions = []string{artifacts.V1, artifacts.V2}
	}
	if c.UploadBatchSize <= 0 {
		c.UploadBatchSize = 100
	}
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Retry.Logger == nil {
		c.Retry.Logger = c.Logger
	}
}

// VersionResult reports one indexed version.
type VersionResult struct {
	Version  string `json:"version"`
	Chunks   int    `json:"chunks"`
	Deleted  int64  `json:"deleted"`
	Upserted int    `json:"upserted"`
	Skipped  string `json:"skipped,omitempty"`
}

// Result reports a Vectorize run.
type Result struct {
	DocID     string          `json:"doc_id"`
	Namespace string          `json:"namespace"`
	Dimension int             `json:"dimension"`
	Model     string          `json:"model"`
	Versions  []VersionResult `json:"versions"`
	Upserted  int             `json:"upserted"`
	Duration  time.Duration   `json:"duration"`
}

// Vectorizer indexes document markdown.
type Vectorizer struct {
	store *artifacts.Store
	vs    VectorStore
	emb   horosembed.Embedder
	cfg   Config
}

// New builds a Vectorizer.
func New(store *artifacts.Store, vs VectorStore, emb horosembed.Embedder, cfg Config) *Vectorizer {
	cfg.defaults()
	return &Vectorizer{store: store, vs: vs, emb: emb, cfg: cfg}
}

// Vectorize indexes every configured version of docID into namespace,
// the configured one when empty. A missing v1 is an error; a missing v2 is
// skipped.
func (v *Vectorizer) Vectorize(ctx context.Context, docID, namespace string) (*Result, error) {
	start := time.Now()
	log := observability.WithDoc(v.cfg.Logger, docID)
	if namespace == "" {
		namespace = v.cfg.Namespace
	}

	dim := v.emb.Dimension()
	if err := v.vs.EnsureIndex(ctx, dim); err != nil {
		return nil, fmt.Errorf("vectorize: %w", err)
	}

	res := &Result{DocID: docID, Namespace: namespace, Dimension: dim, Model: v.emb.Model()}
	for _, version := range v.cfg.Versions {
		vr, err := v.version(ctx, docID, namespace, version)
		if err != nil {
			return nil, err
		}
		res.Versions = append(res.Versions, *vr)
		res.Upserted += vr.Upserted
	}
	res.Duration = time.Since(start)

	v.cfg.Metrics.Vectors(res.Upserted)
	err := observability.UpdateDocMetrics(v.store, docID, func(m *observability.DocMetrics) {
		vm := &observability.VectorMetrics{
			Chunks:    make(map[string]int, len(res.Versions)),
			Upserted:  res.Upserted,
			Namespace: res.Namespace,
			Dimension: dim,
		}
		for _, vr := range res.Versions {
			vm.Chunks[vr.Version] = vr.Chunks
		}
		m.Vectorization = vm
	})
	if err != nil {
		log.Warn("vectorize: metrics not written", "error", err)
	}
	log.Info("vectorization complete",
		"namespace", res.Namespace, "upserted", res.Upserted, "dimension", dim,
		"duration_ms", res.Duration.Milliseconds())
	return res, nil
}

func (v *Vectorizer) version(ctx context.Context, docID, namespace, version string) (*VersionResult, error) {
	log := observability.WithDoc(v.cfg.Logger, docID)
	vr := &VersionResult{Version: version}

	path, err := v.store.MarkdownPath(docID, version)
	if err != nil {
		return nil, fmt.Errorf("vectorize: %s: %w", version, err)
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		if version == artifacts.V1 {
			return nil, fmt.Errorf("%w: %s", ErrNoMarkdown, docID)
		}
		log.Warn("vectorize: version missing, skipped", "version", version)
		vr.Skipped = "missing"
		return vr, nil
	}
	if err != nil {
		return nil, fmt.Errorf("vectorize: read %s: %w", version, err)
	}

	text := Body(string(data), docID)
	chunks := chunk.Split(text, chunk.Options{Size: v.cfg.ChunkSize, Overlap: v.cfg.ChunkOverlap})
	vr.Chunks = len(chunks)

	if vr.Deleted, err = v.vs.DeleteBySource(ctx, namespace, docID, version); err != nil {
		return nil, fmt.Errorf("vectorize: delete %s: %w", version, err)
	}
	if len(chunks) == 0 {
		vr.Skipped = "empty"
		return vr, nil
	}

	pages := NewPageIndex(text)
	var upserted atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(v.cfg.Workers)
	for start := 0; start < len(chunks); start += v.cfg.UploadBatchSize {
		batch := chunks[start:min(start+v.cfg.UploadBatchSize, len(chunks))]
		g.Go(func() error {
			n, err := v.batch(gctx, docID, namespace, version, batch, pages)
			upserted.Add(int64(n))
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("vectorize: %s: %w", version, err)
	}
	vr.Upserted = int(upserted.Load())
	log.Debug("vectorize: version indexed", "version", version, "chunks", vr.Chunks, "deleted", vr.Deleted)
	return vr, nil
}

func (v *Vectorizer) batch(ctx context.Context, docID, namespace, version string, chunks []chunk.Chunk, pages *PageIndex) (int, error) {
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}

	var vecs [][]float32
	err := connectivity.Do(ctx, v.cfg.Retry, "embeddings", func(ctx context.Context, _ int) error {
		var err error
		vecs, err = v.emb.EmbedBatch(ctx, texts)
		if errors.Is(err, horosembed.ErrDimensionMismatch) {
			return connectivity.Permanent(err)
		}
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("embed chunks %d..%d: %w", chunks[0].Index, chunks[len(chunks)-1].Index, err)
	}

	recs := make([]vecstore.Record, len(chunks))
	for i, c := range chunks {
		recs[i] = vecstore.Record{
			ID:     RecordID(docID, version, c.Index),
			Vector: vecs[i],
			Metadata: vecstore.Metadata{
				SourceDocument: docID,
				Version:        version,
				CharStart:      c.Start,
				CharEnd:        c.End,
				Pages:          pages.Pages(c.Start, c.End),
				Text:           c.Text,
			},
		}
	}

	var n int
	err = connectivity.Do(ctx, v.cfg.Retry, "vector upsert", func(ctx context.Context, _ int) error {
		var err error
		n, err = v.vs.Upsert(ctx, namespace, recs)
		if errors.Is(err, vecstore.ErrDimensionMismatch) {
			return connectivity.Permanent(err)
		}
		return err
	})
	return n, err
}

// RecordID is the vector id of chunk i of a document version.
func RecordID(docID, version string, i int) string {
	return docID + "_" + version + "_" + strconv.Itoa(i)
}

// Body returns the indexed text of a markdown artifact: the document
// without frontmatter and footer.
func Body(doc, docID string) string {
	if _, body, ok := mdemit.SplitFrontmatter(doc); ok {
		doc = body
	}
	return mdemit.StripFooter(doc, docID)
}

var rePageMarker = regexp.MustCompile(`<!-- page (\d+) -->`)

// PageIndex maps byte offsets of a markdown body to page numbers using the
// page markers written at extraction.
type PageIndex struct {
	offsets []int
	pages   []int
}

// NewPageIndex scans text for page markers.
func NewPageIndex(text string) *PageIndex {
	idx := &PageIndex{}
	for _, m := range rePageMarker.FindAllStringSubmatchIndex(text, -1) {
		n, err := strconv.Atoi(text[m[2]:m[3]])
		if err != nil {
			continue
		}
		idx.offsets = append(idx.offsets, m[0])
		idx.pages = append(idx.pages, n)
	}
	return idx
}

// Pages returns the sorted pages overlapping [start, end). Text before the
// first marker belongs to no page.
func (p *PageIndex) Pages(start, end int) []int {
	// Page in effect at start.
	i := sort.SearchInts(p.offsets, start+1) - 1
	seen := map[int]bool{}
	var out []int
	add := func(n int) {
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	if i >= 0 {
		add(p.pages[i])
	}
	for j := i + 1; j < len(p.offsets) && p.offsets[j] < end; j++ {
		add(p.pages[j])
	}
	sort.Ints(out)
	return out
}
