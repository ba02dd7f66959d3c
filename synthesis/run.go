package synthesis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/hazyhaar/docenrich/artifacts"
	"github.com/hazyhaar/docenrich/enhance"
)

// Config configures a Synthesizer.
type Config struct {
	IncludeFootnotes bool `json:"include_footnotes" yaml:"include_footnotes"`
	IncludeMetadata  bool `json:"include_metadata" yaml:"include_metadata"`

	Logger *slog.Logger `json:"-" yaml:"-"`
}

// Synthesizer writes the v2 markdown of stored documents.
type Synthesizer struct {
	store *artifacts.Store
	cfg   Config
}

// New returns a Synthesizer over store.
func New(store *artifacts.Store, cfg Config) *Synthesizer {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Synthesizer{store: store, cfg: cfg}
}

// Synthesize renders the approved enhancements of docID into its v2
// markdown. A document without enhancements.json gets a v2 identical in
// body to v1.
func (s *Synthesizer) Synthesize(ctx context.Context, docID string) (*Report, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	v1Path, err := s.store.MarkdownPath(docID, artifacts.V1)
	if err != nil {
		return nil, err
	}
	v1, err := os.ReadFile(v1Path)
	if err != nil {
		return nil, fmt.Errorf("synthesis: read v1: %w", err)
	}

	var file enhance.File
	if err := s.store.ReadJSON(docID, artifacts.EnhancementsFile, &file); err != nil && !errors.Is(err, artifacts.ErrNotFound) {
		return nil, fmt.Errorf("synthesis: read enhancements: %w", err)
	}
	var approved []enhance.Enhancement
	for _, e := range file.Enhancements {
		if e.Status == enhance.StatusApproved {
			approved = append(approved, e)
		}
	}

	out, rep, err := Render(string(v1), approved, Options{
		Footnotes: s.cfg.IncludeFootnotes,
		Metadata:  s.cfg.IncludeMetadata,
	})
	if err != nil {
		return nil, err
	}

	v2Path, err := s.store.MarkdownPath(docID, artifacts.V2)
	if err != nil {
		return nil, err
	}
	if err := artifacts.WriteFileAtomic(v2Path, []byte(out)); err != nil {
		return nil, fmt.Errorf("synthesis: write v2: %w", err)
	}
	if meta, err := s.store.LoadMeta(docID); err == nil {
		if meta.MarkdownFiles == nil {
			meta.MarkdownFiles = map[string]string{}
		}
		meta.MarkdownFiles[artifacts.V2] = filepath.Base(v2Path)
		if err := s.store.SaveMeta(meta); err != nil {
			return nil, fmt.Errorf("synthesis: save meta: %w", err)
		}
	}

	s.cfg.Logger.InfoContext(ctx, "synthesis complete",
		"doc_id", docID,
		"approved", len(approved),
		"anchored", rep.Anchored,
		"appendix", rep.Appendix)
	return rep, nil
}
