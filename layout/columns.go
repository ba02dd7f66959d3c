package layout

import (
	"math"
	"sort"

	"github.com/hazyhaar/docenrich/docmodel"
)

// ColumnLayout describes how a page's content is split horizontally.
type ColumnLayout struct {
	TwoColumn bool    `json:"two_column"`
	Boundary  float64 `json:"boundary,omitempty"`
	GutterX0  float64 `json:"gutter_x0,omitempty"`
	GutterX1  float64 `json:"gutter_x1,omitempty"`
	Width     float64 `json:"width"`
}

// Assign returns the column of a box under this layout. Boxes crossing the
// gutter, or wider than 60% of the page, are full width.
func (c ColumnLayout) Assign(b docmodel.BBox) docmodel.Column {
	if !c.TwoColumn {
		return docmodel.ColumnSingle
	}
	if b.Width() > 0.6*c.Width {
		return docmodel.ColumnFull
	}
	if b.X0() < c.GutterX0-1 && b.X1() > c.GutterX1+1 {
		return docmodel.ColumnFull
	}
	if b.CenterX() < c.Boundary {
		return docmodel.ColumnLeft
	}
	return docmodel.ColumnRight
}

// DetectColumns classifies the page as one or two columns from the text
// blocks. mode selects the histogram split (default) or 2-means clustering.
func DetectColumns(blocks []docmodel.Block, size docmodel.PageSize, mode string, minPerSide int) ColumnLayout {
	single := ColumnLayout{Width: size.Width}
	var text []docmodel.BBox
	for _, b := range blocks {
		if b.Kind != docmodel.BlockText || b.BBox.Width() > 0.6*size.Width {
			continue
		}
		text = append(text, b.BBox)
	}
	if len(text) < 2*minPerSide {
		return single
	}
	if mode == "kmeans" {
		return kmeansColumns(text, size, minPerSide)
	}
	return histogramColumns(text, size, minPerSide)
}

func histogramColumns(text []docmodel.BBox, size docmodel.PageSize, minPerSide int) ColumnLayout {
	mid := size.Width / 2
	var left, right []docmodel.BBox
	for _, b := range text {
		if b.CenterX() < mid {
			left = append(left, b)
		} else {
			right = append(right, b)
		}
	}
	return splitLayout(left, right, mid, size, minPerSide)
}

// kmeansColumns runs 2-means on block X centers.
func kmeansColumns(text []docmodel.BBox, size docmodel.PageSize, minPerSide int) ColumnLayout {
	xs := make([]float64, len(text))
	for i, b := range text {
		xs[i] = b.CenterX()
	}
	sorted := append([]float64(nil), xs...)
	sort.Float64s(sorted)
	c0, c1 := sorted[0], sorted[len(sorted)-1]
	if c1-c0 < 0.15*size.Width {
		return ColumnLayout{Width: size.Width}
	}
	assign := make([]int, len(xs))
	for iter := 0; iter < 20; iter++ {
		var s0, s1 float64
		var n0, n1 int
		for i, x := range xs {
			if math.Abs(x-c0) <= math.Abs(x-c1) {
				assign[i] = 0
				s0 += x
				n0++
			} else {
				assign[i] = 1
				s1 += x
				n1++
			}
		}
		if n0 == 0 || n1 == 0 {
			return ColumnLayout{Width: size.Width}
		}
		nc0, nc1 := s0/float64(n0), s1/float64(n1)
		if nc0 == c0 && nc1 == c1 {
			break
		}
		c0, c1 = nc0, nc1
	}
	var left, right []docmodel.BBox
	for i, b := range text {
		if assign[i] == 0 {
			left = append(left, b)
		} else {
			right = append(right, b)
		}
	}
	return splitLayout(left, right, (c0+c1)/2, size, minPerSide)
}

// splitLayout validates a candidate split: enough blocks per side and a
// gutter of at least 5% of page width between the sides.
func splitLayout(left, right []docmodel.BBox, boundary float64, size docmodel.PageSize, minPerSide int) ColumnLayout {
	single := ColumnLayout{Width: size.Width}
	if len(left) < minPerSide || len(right) < minPerSide {
		return single
	}
	maxLeft := 0.0
	for _, b := range left {
		maxLeft = math.Max(maxLeft, b.X1())
	}
	minRight := size.Width
	for _, b := range right {
		minRight = math.Min(minRight, b.X0())
	}
	if minRight-maxLeft < 0.05*size.Width {
		return single
	}
	return ColumnLayout{
		TwoColumn: true,
		Boundary:  (maxLeft + minRight) / 2,
		GutterX0:  maxLeft,
		GutterX1:  minRight,
		Width:     size.Width,
	}
}
