package tables

import (
	"context"
	"math"
	"sort"

	"github.com/hazyhaar/docenrich/docmodel"
)

// WordGrid is the secondary extractor. It clusters the left edges of words
// across rows; an x position shared by at least three rows becomes a column
// anchor, and consecutive rows hitting two or more anchors form a table.
type WordGrid struct{}

func (WordGrid) Name() string { return string(docmodel.ProvenancePdfplumber) }

func (g WordGrid) Extract(ctx context.Context, in *PageInput) ([]docmodel.Table, error) {
	rs := rows(in.Words)
	if len(rs) < 3 {
		return nil, nil
	}

	var starts []float64
	for _, r := range rs {
		for _, s := range spans(r) {
			starts = append(starts, s.bbox.X0())
		}
	}
	anchors := supportedAnchors(starts, 4, 3)
	if len(anchors) < 2 {
		return nil, nil
	}

	var out []docmodel.Table
	var block [][]docmodel.Word
	emit := func() {
		if len(block) >= 3 {
			if t, ok := anchoredTable(block, anchors, in.Size); ok {
				t.Provenance = docmodel.ProvenancePdfplumber
				out = append(out, t)
			}
		}
		block = nil
	}
	for _, r := range rs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		hits := 0
		for _, s := range spans(r) {
			if nearest(anchors, s.bbox.X0(), 4) >= 0 {
				hits++
			}
		}
		if hits >= 2 && (len(block) == 0 || rowGap(block[len(block)-1], r) <= 2.5*rowHeight(r)) {
			block = append(block, r)
			continue
		}
		emit()
		if hits >= 2 {
			block = append(block, r)
		}
	}
	emit()
	return out, nil
}

// supportedAnchors clusters xs within tol and keeps clusters with at least
// minSupport members.
func supportedAnchors(xs []float64, tol float64, minSupport int) []float64 {
	sort.Float64s(xs)
	var out []float64
	i := 0
	for i < len(xs) {
		j := i + 1
		sum := xs[i]
		for j < len(xs) && xs[j]-xs[j-1] <= tol {
			sum += xs[j]
			j++
		}
		if j-i >= minSupport {
			out = append(out, sum/float64(j-i))
		}
		i = j
	}
	return out
}

func nearest(anchors []float64, x, tol float64) int {
	best, bestD := -1, tol
	for i, a := range anchors {
		if d := math.Abs(a - x); d <= bestD {
			best, bestD = i, d
		}
	}
	return best
}

func anchoredTable(block [][]docmodel.Word, anchors []float64, size docmodel.PageSize) (docmodel.Table, bool) {
	used := map[int]bool{}
	for _, r := range block {
		for _, s := range spans(r) {
			if ai := nearest(anchors, s.bbox.X0(), 4); ai >= 0 {
				used[ai] = true
			}
		}
	}
	var cols []float64
	for i, a := range anchors {
		if used[i] {
			cols = append(cols, a)
		}
	}
	if len(cols) < 2 {
		return docmodel.Table{}, false
	}

	var grid [][]string
	bbox := rowBox(block[0])
	for _, r := range block {
		row := make([]string, len(cols))
		for _, s := range spans(r) {
			ci := 0
			for k, c := range cols {
				if s.bbox.X0() >= c-4 {
					ci = k
				}
			}
			if row[ci] != "" {
				row[ci] += " "
			}
			row[ci] += s.text
		}
		bbox = bbox.Union(rowBox(r))
		grid = append(grid, row)
	}
	if looksLikeProse(grid) {
		return docmodel.Table{}, false
	}
	return docmodel.Table{
		BBox:    bbox.Clamp(size),
		Headers: grid[0],
		Rows:    grid[1:],
		Fixes:   map[string]int{},
	}, true
}
