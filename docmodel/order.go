package docmodel

import (
	"math"
	"sort"
)

// YTolerance is the vertical distance under which two centers are treated
// as the same line when ordering.
const YTolerance = 1.0

// SortUnits orders units for reading: by page, then by vertical band, then
// column (left < single = full < right), then Y center, then X.
//
// Full-width units split a page into bands; inside a band all left-column
// units are read before right-column ones. Single-column pages have no
// full-width separators so the order reduces to (page, y_center, x0).
func SortUnits(units []Unit) {
	bands := make([]int, len(units))
	byPage := map[int][]float64{}
	for _, u := range units {
		if u.Column == ColumnFull {
			byPage[u.Page] = append(byPage[u.Page], u.BBox.CenterY())
		}
	}
	for i, u := range units {
		above := 0
		yc := u.BBox.CenterY()
		for _, fy := range byPage[u.Page] {
			if fy < yc-YTolerance {
				above++
			}
		}
		if u.Column == ColumnFull {
			bands[i] = 2*above + 1
		} else {
			bands[i] = 2 * above
		}
	}

	idx := make([]int, len(units))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		ua, ub := units[idx[a]], units[idx[b]]
		if ua.Page != ub.Page {
			return ua.Page < ub.Page
		}
		if bands[idx[a]] != bands[idx[b]] {
			return bands[idx[a]] < bands[idx[b]]
		}
		if oa, ob := ua.Column.Order(), ub.Column.Order(); oa != ob && twoColumn(ua.Column, ub.Column) {
			return oa < ob
		}
		ya, yb := ua.BBox.CenterY(), ub.BBox.CenterY()
		if math.Abs(ya-yb) > YTolerance {
			return ya < yb
		}
		if oa, ob := ua.Column.Order(), ub.Column.Order(); oa != ob {
			return oa < ob
		}
		return ua.BBox.X0() < ub.BBox.X0()
	})

	sorted := make([]Unit, len(units))
	for i, j := range idx {
		sorted[i] = units[j]
	}
	copy(units, sorted)
}

// twoColumn reports whether a and b are the two sides of a split layout.
func twoColumn(a, b Column) bool {
	return (a == ColumnLeft || a == ColumnRight) && (b == ColumnLeft || b == ColumnRight)
}
