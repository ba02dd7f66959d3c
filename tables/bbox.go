package tables

import (
	"math"
	"strings"

	"github.com/hazyhaar/docenrich/docmodel"
)

// Plausible reports whether a table box may be used as an exclusion zone.
// Boxes covering more than 60% or less than 1% of the page are rejected.
func Plausible(b docmodel.BBox, size docmodel.PageSize) bool {
	area := size.Area()
	if area <= 0 {
		return false
	}
	r := b.Area() / area
	return r >= 0.01 && r <= 0.60
}

// BBoxFromCells returns the union of cell boxes, if any.
func BBoxFromCells(cells []docmodel.BBox) (docmodel.BBox, bool) {
	if len(cells) == 0 {
		return docmodel.BBox{}, false
	}
	bb := cells[0]
	for _, c := range cells[1:] {
		bb = bb.Union(c)
	}
	return bb, true
}

// EstimateBBox produces a conservative box for a table whose position is
// unknown: narrow, right-aligned when the headers look like rates or
// prices, left-aligned otherwise.
func EstimateBBox(t docmodel.Table, size docmodel.PageSize, index int) docmodel.BBox {
	if bb, ok := BBoxFromCells(t.Cells); ok {
		return bb
	}
	width := math.Min(float64(len(t.Headers))*80, size.Width*0.45)
	x0 := 50.0
	joined := strings.ToLower(strings.Join(t.Headers, " "))
	for _, k := range []string{"%", "index", "rate", "price", "harga", "kurs", "suku bunga"} {
		if strings.Contains(joined, k) {
			x0 = size.Width - width - 50
			break
		}
	}
	y0 := 100 + float64(index)*120
	return docmodel.BBox{x0, y0, x0 + width, y0 + float64(len(t.Rows))*20 + 40}.Clamp(size)
}
