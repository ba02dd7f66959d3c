// Package layout maps PDF pages to typed, positioned blocks.
//
// It reads glyph runs, ruling rectangles and image placements through
// github.com/ledongthuc/pdf, converts every coordinate to the top-left
// origin used across docenrich, groups glyphs into lines and lines into
// text blocks, then classifies the page layout (one or two columns) and
// strips running headers and footers.
//
// Usage:
//
//	doc, err := layout.Open(path)
//	defer doc.Close()
//	page, err := doc.Page(1)
//	blocks := layout.Map(page, layout.Options{})
package layout

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/hazyhaar/docenrich/docmodel"
)

// ErrNoPages is returned when a PDF declares zero pages.
var ErrNoPages = errors.New("layout: document has no pages")

// Glyph is one positioned text run, top-left origin.
type Glyph struct {
	BBox     docmodel.BBox
	Text     string
	FontSize float64
	Font     string
}

// Image is an image XObject placed on a page.
type Image struct {
	Name   string
	BBox   docmodel.BBox
	Pixels [2]int
	// Placed is false when the box was derived from pixel size because the
	// content stream did not reveal a transformation matrix.
	Placed bool
}

// Page is the raw material of one PDF page.
type Page struct {
	Number int
	Size   docmodel.PageSize
	Glyphs []Glyph
	Rules  []docmodel.BBox
	Images []Image
	// PlainText is the reader's plain-text rendition, used as a fallback.
	PlainText string
	// Words holds the reader's row-grouped words, filled only when the
	// content walk yielded no glyphs.
	Words []Glyph
}

// Document is an open PDF.
type Document struct {
	f *os.File
	r *pdf.Reader
}

// Open opens the PDF at path.
func Open(path string) (*Document, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("layout: open %s: %w", path, err)
	}
	if r.NumPage() == 0 {
		f.Close()
		return nil, ErrNoPages
	}
	return &Document{f: f, r: r}, nil
}

// Close releases the underlying file.
func (d *Document) Close() error {
	if d.f == nil {
		return nil
	}
	return d.f.Close()
}

// NumPages returns the page count.
func (d *Document) NumPages() int { return d.r.NumPage() }

// Page loads page n (1-based). Malformed content streams make the reader
// panic; the panic is recovered and returned as an error.
func (d *Document) Page(n int) (pg *Page, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			pg = nil
			err = fmt.Errorf("layout: page %d: malformed content: %v", n, rec)
		}
	}()

	p := d.r.Page(n)
	if p.V.IsNull() {
		return nil, fmt.Errorf("layout: page %d: missing page object", n)
	}

	size := pageSize(p)
	pg = &Page{Number: n, Size: size}

	content := p.Content()
	for _, t := range content.Text {
		if strings.TrimSpace(t.S) == "" {
			continue
		}
		fs := t.FontSize
		if fs <= 0 {
			fs = 10
		}
		w := t.W
		if w <= 0 {
			w = fs * 0.5 * float64(len([]rune(t.S)))
		}
		// Glyph box spans from descender to ascender around the baseline.
		bb := docmodel.FromBottomLeft(t.X, t.Y-0.2*fs, t.X+w, t.Y+0.8*fs, size.Height)
		pg.Glyphs = append(pg.Glyphs, Glyph{BBox: bb, Text: t.S, FontSize: fs, Font: t.Font})
	}
	for _, r := range content.Rect {
		bb := docmodel.FromBottomLeft(r.Min.X, r.Min.Y, r.Max.X, r.Max.Y, size.Height)
		pg.Rules = append(pg.Rules, bb)
	}

	pg.Images = pageImages(p, size)
	pg.PlainText = plainText(p)
	if len(pg.Glyphs) == 0 {
		pg.Words = rowWords(p, size)
	}
	return pg, nil
}

func rowWords(p pdf.Page, size docmodel.PageSize) (out []Glyph) {
	defer func() {
		if recover() != nil {
			out = nil
		}
	}()
	rows, err := p.GetTextByRow()
	if err != nil {
		return nil
	}
	for _, row := range rows {
		for _, t := range row.Content {
			if strings.TrimSpace(t.S) == "" {
				continue
			}
			fs := t.FontSize
			if fs <= 0 {
				fs = 10
			}
			w := t.W
			if w <= 0 {
				w = fs * 0.5 * float64(len([]rune(t.S)))
			}
			bb := docmodel.FromBottomLeft(t.X, t.Y-0.2*fs, t.X+w, t.Y+0.8*fs, size.Height)
			out = append(out, Glyph{BBox: bb, Text: t.S, FontSize: fs, Font: t.Font})
		}
	}
	return out
}

func plainText(p pdf.Page) (s string) {
	defer func() {
		if recover() != nil {
			s = ""
		}
	}()
	txt, err := p.GetPlainText(nil)
	if err != nil {
		return ""
	}
	return txt
}

// pageSize reads CropBox, then MediaBox, falling back to A4.
func pageSize(p pdf.Page) docmodel.PageSize {
	for _, key := range []string{"CropBox", "MediaBox"} {
		box := inheritedKey(p.V, key)
		if box.Kind() != pdf.Array || box.Len() != 4 {
			continue
		}
		x0, y0 := box.Index(0).Float64(), box.Index(1).Float64()
		x1, y1 := box.Index(2).Float64(), box.Index(3).Float64()
		w, h := x1-x0, y1-y0
		if w < 0 {
			w = -w
		}
		if h < 0 {
			h = -h
		}
		if w > 1 && h > 1 {
			return docmodel.PageSize{Width: w, Height: h}
		}
	}
	return docmodel.A4
}

// inheritedKey walks up the page tree for inheritable attributes.
func inheritedKey(v pdf.Value, key string) pdf.Value {
	for depth := 0; depth < 32 && !v.IsNull(); depth++ {
		if k := v.Key(key); !k.IsNull() {
			return k
		}
		v = v.Key("Parent")
	}
	return pdf.Value{}
}

// sortGlyphs orders glyphs top-to-bottom then left-to-right.
func sortGlyphs(gs []Glyph) {
	sort.SliceStable(gs, func(i, j int) bool {
		bi, bj := gs[i].BBox, gs[j].BBox
		if d := bi.CenterY() - bj.CenterY(); d < -1 || d > 1 {
			return d < 0
		}
		return bi.X0() < bj.X0()
	})
}
