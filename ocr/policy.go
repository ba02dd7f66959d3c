package ocr

import (
	"strings"

	"github.com/hazyhaar/docenrich/docmodel"
)

// Reason explains why a page goes through full-page OCR.
type Reason string

const (
	ReasonNone      Reason = ""
	ReasonTableScan Reason = "table_scan"
	ReasonImageScan Reason = "image_scan"
	ReasonEmptyPage Reason = "empty_page"
)

// PageFacts is what the policy needs to know about a page after native
// extraction.
type PageFacts struct {
	Size    docmodel.PageSize
	Text    []docmodel.Block
	Figures []docmodel.Block
	Tables  []docmodel.Table
}

// Decision is the OCR plan for one page.
type Decision struct {
	FullPage bool
	Reason   Reason
	// Regions lists the figure blocks to OCR individually.
	Regions []docmodel.Block
}

// Decide applies the OCR policy:
//   - tables covering more than 70% of the page with fewer than 3 text
//     blocks, or images covering most of the page with almost no text, is a
//     full-page scan;
//   - a page with no text and no tables is OCRed whole;
//   - otherwise only figures flagged needs_ocr are OCRed.
func Decide(f PageFacts) Decision {
	area := f.Size.Area()
	if area <= 0 {
		return Decision{}
	}
	var tableArea, imageArea float64
	for _, t := range f.Tables {
		tableArea += t.BBox.Area()
	}
	for _, b := range f.Figures {
		imageArea += b.BBox.Area()
	}
	chars := 0
	for _, b := range f.Text {
		chars += len([]rune(strings.TrimSpace(b.Text)))
	}

	switch {
	case len(f.Tables) > 0 && tableArea/area > 0.7 && len(f.Text) < 3:
		return Decision{FullPage: true, Reason: ReasonTableScan}
	case len(f.Figures) > 0 && imageArea/area > 0.5 && chars < 50:
		return Decision{FullPage: true, Reason: ReasonImageScan}
	case len(f.Text) == 0 && len(f.Tables) == 0:
		return Decision{FullPage: true, Reason: ReasonEmptyPage}
	}
	var d Decision
	for _, b := range f.Figures {
		if b.NeedsOCR {
			d.Regions = append(d.Regions, b)
		}
	}
	return d
}
