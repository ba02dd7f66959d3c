package docmodel

import "math"

// MinExtent is the smallest width or height a normalized box may have.
const MinExtent = 0.5

// BBox is an axis-aligned box (x0, y0, x1, y1), top-left origin.
type BBox [4]float64

func (b BBox) X0() float64 { return b[0] }
func (b BBox) Y0() float64 { return b[1] }
func (b BBox) X1() float64 { return b[2] }
func (b BBox) Y1() float64 { return b[3] }

func (b BBox) Width() float64  { return b[2] - b[0] }
func (b BBox) Height() float64 { return b[3] - b[1] }

// Area returns the box area, zero for inverted boxes.
func (b BBox) Area() float64 {
	w, h := b.Width(), b.Height()
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

// CenterX returns the horizontal center.
func (b BBox) CenterX() float64 { return (b[0] + b[2]) / 2 }

// CenterY returns the vertical center.
func (b BBox) CenterY() float64 { return (b[1] + b[3]) / 2 }

// Ordered swaps coordinates so that x0<=x1 and y0<=y1.
func (b BBox) Ordered() BBox {
	if b[0] > b[2] {
		b[0], b[2] = b[2], b[0]
	}
	if b[1] > b[3] {
		b[1], b[3] = b[3], b[1]
	}
	return b
}

// FromBottomLeft converts a box expressed with a bottom-left origin into
// the top-left system by flipping Y against the page height.
func FromBottomLeft(x0, y0, x1, y1, pageHeight float64) BBox {
	return BBox{x0, pageHeight - y1, x1, pageHeight - y0}.Ordered()
}

// Clamp orders the box, clips it to the page rectangle and enforces a
// minimum extent so the result is never degenerate.
func (b BBox) Clamp(page PageSize) BBox {
	b = b.Ordered()
	for i := range b {
		if math.IsNaN(b[i]) || math.IsInf(b[i], 0) {
			b[i] = 0
		}
	}
	b[0] = clampF(b[0], 0, page.Width)
	b[2] = clampF(b[2], 0, page.Width)
	b[1] = clampF(b[1], 0, page.Height)
	b[3] = clampF(b[3], 0, page.Height)

	if b.Width() < MinExtent {
		if b[0]+MinExtent <= page.Width {
			b[2] = b[0] + MinExtent
		} else {
			b[0] = page.Width - MinExtent
			b[2] = page.Width
		}
	}
	if b.Height() < MinExtent {
		if b[1]+MinExtent <= page.Height {
			b[3] = b[1] + MinExtent
		} else {
			b[1] = page.Height - MinExtent
			b[3] = page.Height
		}
	}
	return b
}

// Pad grows the box by d on each side.
func (b BBox) Pad(d float64) BBox {
	return BBox{b[0] - d, b[1] - d, b[2] + d, b[3] + d}
}

// Union returns the smallest box containing both.
func (b BBox) Union(o BBox) BBox {
	return BBox{
		math.Min(b[0], o[0]), math.Min(b[1], o[1]),
		math.Max(b[2], o[2]), math.Max(b[3], o[3]),
	}
}

// Intersect returns the overlapping region; ok is false when disjoint.
func (b BBox) Intersect(o BBox) (BBox, bool) {
	r := BBox{
		math.Max(b[0], o[0]), math.Max(b[1], o[1]),
		math.Min(b[2], o[2]), math.Min(b[3], o[3]),
	}
	if r[0] >= r[2] || r[1] >= r[3] {
		return BBox{}, false
	}
	return r, true
}

// OverlapRatio is the share of b's area covered by o.
func (b BBox) OverlapRatio(o BBox) float64 {
	a := b.Area()
	if a == 0 {
		return 0
	}
	r, ok := b.Intersect(o)
	if !ok {
		return 0
	}
	return r.Area() / a
}

// HorizontalOverlap is the shared X extent divided by the narrower width.
func (b BBox) HorizontalOverlap(o BBox) float64 {
	lo := math.Max(b[0], o[0])
	hi := math.Min(b[2], o[2])
	if hi <= lo {
		return 0
	}
	w := math.Min(b.Width(), o.Width())
	if w <= 0 {
		return 0
	}
	return (hi - lo) / w
}

// Contains reports whether o lies entirely inside b, with tolerance tol.
func (b BBox) Contains(o BBox, tol float64) bool {
	return o[0] >= b[0]-tol && o[1] >= b[1]-tol && o[2] <= b[2]+tol && o[3] <= b[3]+tol
}

// Near reports whether every coordinate differs by at most tol.
func (b BBox) Near(o BBox, tol float64) bool {
	for i := range b {
		if math.Abs(b[i]-o[i]) > tol {
			return false
		}
	}
	return true
}

// Valid reports whether the box is ordered, non-degenerate and inside page.
func (b BBox) Valid(page PageSize) bool {
	if b.Width() < MinExtent-1e-9 || b.Height() < MinExtent-1e-9 {
		return false
	}
	return b[0] >= 0 && b[1] >= 0 && b[2] <= page.Width+1e-9 && b[3] <= page.Height+1e-9
}

// Round returns the box with coordinates rounded to 2 decimals, which keeps
// serialized artifacts stable across runs.
func (b BBox) Round() BBox {
	for i := range b {
		b[i] = math.Round(b[i]*100) / 100
	}
	return b
}

func clampF(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
