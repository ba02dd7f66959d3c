// Package docmodel holds the data types shared by the extraction stages:
// page blocks, content units, tables and figures, plus the bounding-box
// geometry they are built on.
//
// All boxes use a top-left origin with Y growing downward, in PDF points.
package docmodel

import (
	"fmt"
	"strings"
)

// UnitType classifies an emitted content unit.
type UnitType string

const (
	UnitParagraph UnitType = "paragraph"
	UnitTable     UnitType = "table"
	UnitFigure    UnitType = "figure"
)

// Column identifies the layout column a unit belongs to.
type Column string

const (
	ColumnLeft   Column = "left"
	ColumnRight  Column = "right"
	ColumnSingle Column = "single"
	ColumnFull   Column = "full"
)

// Order returns the reading-order rank of a column: left < single = full < right.
func (c Column) Order() int {
	switch c {
	case ColumnLeft:
		return 0
	case ColumnRight:
		return 2
	default:
		return 1
	}
}

// Source records which extractor produced a unit.
type Source string

const (
	SourceNative Source = "native"
	// SourceCamelot tags the primary table extractor (ruled grid, then stream).
	SourceCamelot Source = "camelot"
	// SourcePdfplumber tags the secondary word-grid table extractor.
	SourcePdfplumber  Source = "pdfplumber"
	SourceOCRFull     Source = "ocr_full"
	SourceOCRImage    Source = "ocr_image"
	SourceOCRFallback Source = "ocr_fallback"
)

// BlockKind is the type of a raw page block before assembly.
type BlockKind string

const (
	BlockText   BlockKind = "text"
	BlockFigure BlockKind = "figure"
)

// Block is a raw layout element produced by the layout mapper.
type Block struct {
	Kind      BlockKind `json:"type"`
	BBox      BBox      `json:"bbox"`
	Text      string    `json:"text,omitempty"`
	FontSize  float64   `json:"font_size,omitempty"`
	NeedsOCR  bool      `json:"needs_ocr,omitempty"`
	AreaRatio float64   `json:"area_ratio,omitempty"`
	Column    Column    `json:"column,omitempty"`
	Source    Source    `json:"source,omitempty"`
	// ImageRef identifies the image XObject a figure block was built from.
	ImageRef string `json:"image_ref,omitempty"`
}

// Unit is the atomic content record emitted by extraction.
type Unit struct {
	UnitID   string         `json:"unit_id"`
	DocID    string         `json:"doc_id"`
	Page     int            `json:"page"`
	UnitType UnitType       `json:"unit_type"`
	Column   Column         `json:"column"`
	BBox     BBox           `json:"bbox"`
	Y0       float64        `json:"y0"`
	Source   Source         `json:"source"`
	Anchor   string         `json:"anchor"`
	Content  string         `json:"content"`
	Extra    map[string]any `json:"extra,omitempty"`
}

// UnitID formats the stable identifier of a unit.
func UnitID(docID string, page int, col Column, index int) string {
	return fmt.Sprintf("u_%s_%d_%s_%d", docID, page, col, index)
}

// Anchor formats the opaque position reference stored on a unit.
func Anchor(page int, col Column, index int) string {
	return fmt.Sprintf("p%d:%s:%d", page, col, index)
}

// Provenance names the table extractor that recovered a table.
type Provenance string

const (
	ProvenanceCamelot    Provenance = "camelot"
	ProvenancePdfplumber Provenance = "pdfplumber"
)

// Table is a recovered table with its structure and position.
type Table struct {
	TableID       string         `json:"table_id"`
	Page          int            `json:"page"`
	BBox          BBox           `json:"bbox"`
	Headers       []string       `json:"headers"`
	Rows          [][]string     `json:"rows"`
	Provenance    Provenance     `json:"provenance"`
	Fixes         map[string]int `json:"fixes"`
	BBoxEstimated bool           `json:"bbox_estimated,omitempty"`
	// Cells holds per-cell boxes when the extractor exposes them.
	Cells []BBox `json:"-"`
}

// Width returns the number of columns of the table.
func (t *Table) Width() int {
	n := len(t.Headers)
	for _, r := range t.Rows {
		if len(r) > n {
			n = len(r)
		}
	}
	return n
}

// Figure is an image region found on a page.
type Figure struct {
	FigureID  string  `json:"figure_id"`
	Page      int     `json:"page"`
	BBox      BBox    `json:"bbox"`
	AreaRatio float64 `json:"area_ratio"`
	NeedsOCR  bool    `json:"needs_ocr"`
	OCRText   string  `json:"ocr_text,omitempty"`
	CropPath  string  `json:"crop_path,omitempty"`
}

// PageSize is the width and height of a page in points.
type PageSize struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// A4 is used when a page does not declare a usable MediaBox.
var A4 = PageSize{Width: 595, Height: 842}

// Rect returns the page rectangle.
func (p PageSize) Rect() BBox { return BBox{0, 0, p.Width, p.Height} }

// Area returns the page area.
func (p PageSize) Area() float64 { return p.Width * p.Height }

// WordCount counts whitespace separated tokens.
func WordCount(s string) int { return len(strings.Fields(s)) }

// Word is a positioned word, the input of table detection.
type Word struct {
	BBox BBox   `json:"bbox"`
	Text string `json:"text"`
}
