// Package tables detects tables on a PDF page and recovers their structure.
//
// Extractors form a capability set: each one implements Extractor and the
// Chain tries them in order. The primary extractor reconstructs ruled
// grids first and falls back to whitespace-aligned stream detection; the
// secondary extractor clusters word start positions and only runs when the
// primary one fails or finds nothing.
package tables

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hazyhaar/docenrich/docmodel"
)

// ErrUnavailable is returned by an extractor that cannot run in this process.
var ErrUnavailable = errors.New("tables: extractor unavailable")

// PageInput is what table extractors see of a page.
type PageInput struct {
	Number int
	Size   docmodel.PageSize
	Words  []docmodel.Word
	Rules  []docmodel.BBox
}

// Extractor recovers tables from one page.
type Extractor interface {
	Name() string
	Extract(ctx context.Context, in *PageInput) ([]docmodel.Table, error)
}

// Chain runs a primary extractor then, on failure or zero tables, the
// secondary one. Unavailable extractors are skipped silently.
type Chain struct {
	Primary   Extractor
	Secondary Extractor
	Logger    *slog.Logger
}

// NewChain returns the default chain: Primary then WordGrid.
func NewChain(logger *slog.Logger) *Chain {
	if logger == nil {
		logger = slog.Default()
	}
	return &Chain{Primary: Primary{}, Secondary: WordGrid{}, Logger: logger}
}

// Extract returns post-processed tables with ids and plausible boxes.
func (c *Chain) Extract(ctx context.Context, docID string, in *PageInput) ([]docmodel.Table, error) {
	var found []docmodel.Table
	for i, ex := range []Extractor{c.Primary, c.Secondary} {
		if ex == nil {
			continue
		}
		if i == 1 && len(found) > 0 {
			break
		}
		tbls, err := ex.Extract(ctx, in)
		if errors.Is(err, ErrUnavailable) {
			c.Logger.Debug("table extractor unavailable", "extractor", ex.Name(), "page", in.Number)
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			c.Logger.Warn("table extractor failed", "extractor", ex.Name(), "page", in.Number, "error", err)
			continue
		}
		found = tbls
	}

	out := make([]docmodel.Table, 0, len(found))
	for _, t := range found {
		t = Postprocess(t)
		if len(t.Headers) < 2 || len(t.Rows) == 0 {
			continue
		}
		if t.BBox.Area() == 0 {
			t.BBox = EstimateBBox(t, in.Size, len(out))
			t.BBoxEstimated = true
		}
		t.BBox = t.BBox.Clamp(in.Size).Round()
		t.Page = in.Number
		t.TableID = fmt.Sprintf("t_%s_p%d_%d", docID, in.Number, len(out))
		out = append(out, t)
	}
	return out, nil
}
