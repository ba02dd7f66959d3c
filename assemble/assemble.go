// Package assemble turns the blocks, tables and figures of a page into the
// ordered content units written to units_metadata.json.
package assemble

import (
	"log/slog"
	"strings"
	"unicode"

	"github.com/hazyhaar/docenrich/docmodel"
	"github.com/hazyhaar/docenrich/tables"
)

// Config tunes exclusion and merging.
type Config struct {
	// ZonePadding is added around table boxes. Default: 5.
	ZonePadding float64 `json:"zone_padding" yaml:"zone_padding"`
	// MergeGap is the largest vertical gap merged into one paragraph. Default: 20.
	MergeGap float64 `json:"merge_gap" yaml:"merge_gap"`
	// MinOverlap is the horizontal overlap required to merge. Default: 0.7.
	MinOverlap float64 `json:"min_overlap" yaml:"min_overlap"`
	// SentenceGap inhibits merging after a terminal punctuation mark. Default: 6.
	SentenceGap float64 `json:"sentence_gap" yaml:"sentence_gap"`

	Logger *slog.Logger `json:"-" yaml:"-"`
}

func (c *Config) defaults() {
	if c.ZonePadding <= 0 {
		c.ZonePadding = 5
	}
	if c.MergeGap <= 0 {
		c.MergeGap = 20
	}
	if c.MinOverlap <= 0 {
		c.MinOverlap = 0.7
	}
	if c.SentenceGap <= 0 {
		c.SentenceGap = 6
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

const (
	strictOverlap  = 0.15
	lenientOverlap = 0.5
	largeArea      = 5000
	largeText      = 100
)

// Page is the assembler input for one page.
type Page struct {
	DocID   string
	Number  int
	Size    docmodel.PageSize
	Text    []docmodel.Block
	Tables  []docmodel.Table
	Figures []docmodel.Figure
	// Assign maps a box to its layout column. Nil means single column.
	Assign func(docmodel.BBox) docmodel.Column
}

// Stats reports what the assembler dropped or overrode.
type Stats struct {
	Excluded   int  `json:"excluded"`
	Overridden int  `json:"overridden"`
	Emergency  bool `json:"emergency"`
	Deduped    int  `json:"deduped"`
	Merged     int  `json:"merged"`
}

// Assembler builds units page by page.
type Assembler struct {
	cfg Config
}

// New creates an Assembler.
func New(cfg Config) *Assembler {
	cfg.defaults()
	return &Assembler{cfg: cfg}
}

// Assemble returns the page's units in reading order with ids assigned.
func (a *Assembler) Assemble(p Page) ([]docmodel.Unit, Stats) {
	var st Stats
	assign := p.Assign
	if assign == nil {
		assign = func(docmodel.BBox) docmodel.Column { return docmodel.ColumnSingle }
	}

	zones := a.zones(p)
	text := a.filter(p, zones, &st)
	paras := a.merge(text, &st)

	var units []docmodel.Unit
	for _, b := range paras {
		col := b.Column
		if col == "" {
			col = assign(b.BBox)
		}
		src := b.Source
		if src == "" {
			src = docmodel.SourceNative
		}
		units = append(units, docmodel.Unit{
			UnitType: docmodel.UnitParagraph,
			Column:   col,
			BBox:     b.BBox,
			Source:   src,
			Content:  b.Text,
		})
	}
	for _, t := range p.Tables {
		units = append(units, docmodel.Unit{
			UnitType: docmodel.UnitTable,
			Column:   assign(t.BBox),
			BBox:     t.BBox,
			Source:   docmodel.Source(t.Provenance),
			Content:  tables.Markdown(t),
			Extra: map[string]any{
				"table_id":       t.TableID,
				"n_rows":         len(t.Rows),
				"n_cols":         len(t.Headers),
				"bbox_estimated": t.BBoxEstimated,
			},
		})
	}
	for _, f := range p.Figures {
		if strings.TrimSpace(f.OCRText) == "" {
			continue
		}
		extra := map[string]any{"figure_id": f.FigureID, "area_ratio": f.AreaRatio}
		if f.CropPath != "" {
			extra["crop_path"] = f.CropPath
		}
		units = append(units, docmodel.Unit{
			UnitType: docmodel.UnitFigure,
			Column:   assign(f.BBox),
			BBox:     f.BBox,
			Source:   docmodel.SourceOCRImage,
			Content:  strings.TrimSpace(f.OCRText),
			Extra:    extra,
		})
	}

	units = finalize(p, units, &st)
	if st.Excluded > 0 || st.Emergency {
		a.cfg.Logger.Debug("assemble: table masking",
			"doc_id", p.DocID, "page", p.Number,
			"excluded", st.Excluded, "overridden", st.Overridden, "emergency", st.Emergency)
	}
	return units, st
}

// zones returns padded table boxes usable for masking. Implausible boxes
// stay on their table but do not mask text.
func (a *Assembler) zones(p Page) []docmodel.BBox {
	var out []docmodel.BBox
	for _, t := range p.Tables {
		if !tables.Plausible(t.BBox, p.Size) {
			a.cfg.Logger.Debug("assemble: table box not used for masking",
				"doc_id", p.DocID, "page", p.Number, "table_id", t.TableID, "bbox", t.BBox)
			continue
		}
		out = append(out, t.BBox.Pad(a.cfg.ZonePadding).Clamp(p.Size))
	}
	return out
}

func (a *Assembler) filter(p Page, zones []docmodel.BBox, st *Stats) []docmodel.Block {
	var kept []docmodel.Block
	for _, b := range p.Text {
		if strings.TrimSpace(b.Text) == "" {
			continue
		}
		if !Excluded(b, zones) {
			kept = append(kept, b)
			continue
		}
		if b.BBox.Area() > largeArea || len([]rune(b.Text)) > largeText {
			st.Overridden++
			kept = append(kept, b)
			continue
		}
		st.Excluded++
	}
	if len(kept) > 0 || len(zones) == 0 || len(p.Text) == 0 {
		return kept
	}

	// Everything was masked: keep what is not strictly inside a table.
	st.Emergency = true
	a.cfg.Logger.Warn("assemble: all text masked by tables, using containment only",
		"doc_id", p.DocID, "page", p.Number)
	for _, b := range p.Text {
		if strings.TrimSpace(b.Text) == "" {
			continue
		}
		inside := false
		for _, z := range zones {
			if z.Contains(b.BBox, 0) {
				inside = true
				break
			}
		}
		if !inside {
			kept = append(kept, b)
		}
	}
	return kept
}

// Excluded reports whether a text block overlaps a table zone enough to be
// treated as table content. Titles above and captions below a table use a
// lenient threshold.
func Excluded(b docmodel.Block, zones []docmodel.BBox) bool {
	title, caption := IsTitle(b.Text), IsCaption(b.Text)
	for _, z := range zones {
		r := b.BBox.OverlapRatio(z)
		cy := b.BBox.CenterY()
		if (title && cy < z.CenterY()) || (caption && cy > z.CenterY()) {
			if r >= lenientOverlap {
				return true
			}
			continue
		}
		if r > strictOverlap {
			return true
		}
	}
	return false
}

var titlePrefixes = []string{"table", "tabel", "figure", "gambar", "grafik", "chart", "diagram"}
var captionPrefixes = []string{"source", "sumber", "note", "catatan", "keterangan", "*"}

// IsTitle reports whether s looks like a table or figure title.
func IsTitle(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" || len([]rune(s)) > 120 {
		return false
	}
	low := strings.ToLower(s)
	for _, p := range titlePrefixes {
		if strings.HasPrefix(low, p) {
			return true
		}
	}
	words := strings.Fields(s)
	if len(words) > 15 || strings.HasSuffix(s, ".") {
		return false
	}
	upper, lettered := 0, 0
	for _, w := range words {
		r := []rune(w)[0]
		if !unicode.IsLetter(r) {
			continue
		}
		lettered++
		if unicode.IsUpper(r) {
			upper++
		}
	}
	return lettered > 0 && float64(upper)/float64(lettered) >= 0.6
}

// IsCaption reports whether s looks like a source or note line under a table.
func IsCaption(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" || len([]rune(s)) > 200 {
		return false
	}
	low := strings.ToLower(s)
	for _, p := range captionPrefixes {
		if strings.HasPrefix(low, p) {
			return true
		}
	}
	return false
}
