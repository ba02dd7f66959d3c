// Package ingest receives uploaded PDFs into the artefact store.
//
// The upload is streamed to disk while hashing, checked for the %PDF magic
// and the size limit, then given a document directory with its
// document_meta.json and the initial processing state.
package ingest

import (
	"bufio"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hazyhaar/docenrich/artifacts"
	"github.com/hazyhaar/docenrich/idgen"
	"github.com/hazyhaar/docenrich/observability"
	"github.com/hazyhaar/docenrich/orchestrator"
)

var (
	// ErrNotPDF is returned for content without the %PDF magic or with a
	// foreign content type.
	ErrNotPDF = errors.New("ingest: not a pdf")
	// ErrTooLarge is returned when the upload exceeds MaxFileSize.
	ErrTooLarge = errors.New("ingest: file too large")
)

var pdfMagic = []byte("%PDF-")

// Config configures an Ingester.
type Config struct {
	// MaxFileSize in bytes. Default: 100 MB.
	MaxFileSize int64
	// Dedup returns the existing document when the same bytes were
	// uploaded before.
	Dedup bool

	NewID   idgen.Generator
	Now     func() time.Time
	Metrics *observability.Metrics
	Logger  *slog.Logger
}

func (c *Config) defaults() {
	if c.MaxFileSize <= 0 {
		c.MaxFileSize = 100 << 20
	}
	if c.NewID == nil {
		c.NewID = idgen.Document
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Result describes a received upload.
type Result struct {
	DocumentID   string `json:"document_id"`
	Filename     string `json:"filename"`
	SizeBytes    int64  `json:"size_bytes"`
	SHA256       string `json:"sha256"`
	Deduplicated bool   `json:"deduplicated,omitempty"`
}

// Ingester writes uploads into a store.
type Ingester struct {
	store *artifacts.Store
	cfg   Config
}

// New returns an Ingester over store.
func New(store *artifacts.Store, cfg Config) *Ingester {
	cfg.defaults()
	return &Ingester{store: store, cfg: cfg}
}

// MaxFileSize returns the configured limit in bytes.
func (in *Ingester) MaxFileSize() int64 { return in.cfg.MaxFileSize }

// Receive streams r into a new document directory. contentType may be
// empty; when set it must be a PDF or a generic binary type.
func (in *Ingester) Receive(ctx context.Context, r io.Reader, filename, contentType string) (*Result, error) {
	if err := checkContentType(contentType); err != nil {
		return nil, err
	}
	br := bufio.NewReader(r)
	head, err := br.Peek(len(pdfMagic))
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("ingest: read: %w", err)
	}
	if !bytes.Equal(head, pdfMagic) {
		return nil, fmt.Errorf("%w: missing %%PDF header", ErrNotPDF)
	}

	docID := in.cfg.NewID()
	dir, err := in.store.Ensure(docID)
	if err != nil {
		return nil, err
	}
	log := observability.WithDoc(in.cfg.Logger, docID)

	size, sum, err := in.write(ctx, br, dir)
	if err != nil {
		os.RemoveAll(dir)
		in.cfg.Metrics.Document("rejected")
		return nil, err
	}

	if in.cfg.Dedup {
		if prev, ok := in.findBySHA(sum, docID); ok {
			os.RemoveAll(dir)
			log.Info("ingest: duplicate upload", "existing", prev, "sha256", sum)
			return &Result{DocumentID: prev, Filename: filename, SizeBytes: size, SHA256: sum, Deduplicated: true}, nil
		}
	}

	now := in.cfg.Now().UTC()
	base := artifacts.BaseName(filename)
	meta := &artifacts.DocumentMeta{
		DocID:            docID,
		OriginalFilename: filepath.Base(filename),
		BaseName:         base,
		MarkdownFiles: map[string]string{
			artifacts.V1: artifacts.MarkdownName(base, artifacts.V1),
			artifacts.V2: artifacts.MarkdownName(base, artifacts.V2),
		},
		SHA256:     sum,
		SizeBytes:  size,
		UploadedAt: now,
	}
	if err := in.store.SaveMeta(meta); err != nil {
		os.RemoveAll(dir)
		return nil, err
	}
	if err := orchestrator.InitState(in.store, docID, now); err != nil {
		os.RemoveAll(dir)
		return nil, err
	}

	in.cfg.Metrics.Document("uploaded")
	log.Info("ingest: received", "filename", meta.OriginalFilename, "size", size, "sha256", sum)
	return &Result{DocumentID: docID, Filename: meta.OriginalFilename, SizeBytes: size, SHA256: sum}, nil
}

// ReceiveFile ingests a local file.
func (in *Ingester) ReceiveFile(ctx context.Context, path string) (*Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("ingest: open: %w", err)
	}
	defer f.Close()
	return in.Receive(ctx, f, filepath.Base(path), "")
}

// write copies r to source.pdf through a temp file, hashing on the way.
func (in *Ingester) write(ctx context.Context, r io.Reader, dir string) (int64, string, error) {
	tmp, err := os.CreateTemp(dir, ".upload-*.tmp")
	if err != nil {
		return 0, "", fmt.Errorf("ingest: temp: %w", err)
	}
	defer os.Remove(tmp.Name())

	h := sha256.New()
	limited := io.LimitReader(ctxReader{ctx, r}, in.cfg.MaxFileSize+1)
	n, err := io.Copy(io.MultiWriter(tmp, h), limited)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return 0, "", fmt.Errorf("ingest: write: %w", err)
	}
	if n > in.cfg.MaxFileSize {
		return 0, "", fmt.Errorf("%w: over %d bytes", ErrTooLarge, in.cfg.MaxFileSize)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(dir, artifacts.SourcePDF)); err != nil {
		return 0, "", fmt.Errorf("ingest: rename: %w", err)
	}
	return n, hex.EncodeToString(h.Sum(nil)), nil
}

func (in *Ingester) findBySHA(sum, except string) (string, bool) {
	ids, err := in.store.List()
	if err != nil {
		return "", false
	}
	for _, id := range ids {
		if id == except {
			continue
		}
		if m, err := in.store.LoadMeta(id); err == nil && m.SHA256 == sum {
			return id, true
		}
	}
	return "", false
}

func checkContentType(ct string) error {
	if ct == "" {
		return nil
	}
	mt, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return fmt.Errorf("%w: content type %q", ErrNotPDF, ct)
	}
	switch strings.ToLower(mt) {
	case "application/pdf", "application/x-pdf", "application/octet-stream":
		return nil
	}
	return fmt.Errorf("%w: content type %q", ErrNotPDF, ct)
}

// ctxReader stops a copy once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
