package tables

import (
	"context"
	"math"
	"sort"
	"strings"

	"github.com/hazyhaar/docenrich/docmodel"
)

// Primary reconstructs ruled grids from ruling rectangles (lattice mode),
// then detects whitespace-aligned tables among the remaining words
// (stream mode).
type Primary struct{}

func (Primary) Name() string { return string(docmodel.ProvenanceCamelot) }

func (p Primary) Extract(ctx context.Context, in *PageInput) ([]docmodel.Table, error) {
	tbls := Lattice(in)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	// Words already consumed by a ruled grid do not feed stream detection.
	var rest []docmodel.Word
	for _, w := range in.Words {
		inside := false
		for _, t := range tbls {
			if t.BBox.Contains(w.BBox, 2) {
				inside = true
				break
			}
		}
		if !inside {
			rest = append(rest, w)
		}
	}
	tbls = append(tbls, Stream(rest, in.Size)...)
	for i := range tbls {
		tbls[i].Provenance = docmodel.ProvenanceCamelot
	}
	return tbls, nil
}

type segment struct {
	vertical bool
	pos      float64 // x for vertical, y for horizontal
	lo, hi   float64 // extent along the other axis
}

// edges turns ruling rectangles into line segments. Thin rectangles are
// lines; larger ones contribute their four borders.
func edges(rules []docmodel.BBox) []segment {
	var out []segment
	for _, r := range rules {
		w, h := r.Width(), r.Height()
		switch {
		case h <= 2 && w >= 5:
			out = append(out, segment{pos: r.CenterY(), lo: r.X0(), hi: r.X1()})
		case w <= 2 && h >= 5:
			out = append(out, segment{vertical: true, pos: r.CenterX(), lo: r.Y0(), hi: r.Y1()})
		case w > 2 && h > 2:
			out = append(out,
				segment{pos: r.Y0(), lo: r.X0(), hi: r.X1()},
				segment{pos: r.Y1(), lo: r.X0(), hi: r.X1()},
				segment{vertical: true, pos: r.X0(), lo: r.Y0(), hi: r.Y1()},
				segment{vertical: true, pos: r.X1(), lo: r.Y0(), hi: r.Y1()},
			)
		}
	}
	return out
}

func touches(a, b segment, tol float64) bool {
	if a.vertical == b.vertical {
		return math.Abs(a.pos-b.pos) <= tol && a.lo <= b.hi+tol && b.lo <= a.hi+tol
	}
	if a.vertical {
		a, b = b, a
	}
	// a horizontal, b vertical
	return b.pos >= a.lo-tol && b.pos <= a.hi+tol && a.pos >= b.lo-tol && a.pos <= b.hi+tol
}

// Lattice finds bordered tables: connected groups of ruling segments that
// form at least a 2x2 grid. Words are assigned to cells by their centers.
func Lattice(in *PageInput) []docmodel.Table {
	segs := edges(in.Rules)
	if len(segs) < 4 {
		return nil
	}
	parent := make([]int, len(segs))
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(i int) int {
		for parent[i] != i {
			parent[i] = parent[parent[i]]
			i = parent[i]
		}
		return i
	}
	for i := range segs {
		for j := i + 1; j < len(segs); j++ {
			if touches(segs[i], segs[j], 2) {
				parent[find(i)] = find(j)
			}
		}
	}
	groups := map[int][]segment{}
	var roots []int
	for i := range segs {
		r := find(i)
		if _, ok := groups[r]; !ok {
			roots = append(roots, r)
		}
		groups[r] = append(groups[r], segs[i])
	}

	var out []docmodel.Table
	for _, r := range roots {
		if t, ok := gridTable(groups[r], in.Words); ok {
			out = append(out, t)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].BBox.Y0() < out[j].BBox.Y0() })
	return out
}

func gridTable(segs []segment, words []docmodel.Word) (docmodel.Table, bool) {
	var xs, ys []float64
	bbox := docmodel.BBox{math.Inf(1), math.Inf(1), math.Inf(-1), math.Inf(-1)}
	for _, s := range segs {
		if s.vertical {
			xs = append(xs, s.pos)
			bbox = bbox.Union(docmodel.BBox{s.pos, s.lo, s.pos, s.hi})
		} else {
			ys = append(ys, s.pos)
			bbox = bbox.Union(docmodel.BBox{s.lo, s.pos, s.hi, s.pos})
		}
	}
	xs = cluster(xs, 3)
	ys = cluster(ys, 3)
	if len(xs) < 3 || len(ys) < 3 {
		return docmodel.Table{}, false
	}

	nr, nc := len(ys)-1, len(xs)-1
	cells := make([][][]docmodel.Word, nr)
	for i := range cells {
		cells[i] = make([][]docmodel.Word, nc)
	}
	for _, w := range words {
		cx, cy := w.BBox.CenterX(), w.BBox.CenterY()
		ri := interval(ys, cy)
		ci := interval(xs, cx)
		if ri < 0 || ci < 0 {
			continue
		}
		cells[ri][ci] = append(cells[ri][ci], w)
	}

	var grid [][]string
	var boxes []docmodel.BBox
	for ri := 0; ri < nr; ri++ {
		row := make([]string, nc)
		empty := true
		for ci := 0; ci < nc; ci++ {
			row[ci] = cellText(cells[ri][ci])
			if row[ci] != "" {
				empty = false
			}
			boxes = append(boxes, docmodel.BBox{xs[ci], ys[ri], xs[ci+1], ys[ri+1]})
		}
		if !empty {
			grid = append(grid, row)
		}
	}
	if len(grid) < 2 {
		return docmodel.Table{}, false
	}
	return docmodel.Table{
		BBox:    bbox,
		Headers: grid[0],
		Rows:    grid[1:],
		Cells:   boxes,
		Fixes:   map[string]int{},
	}, true
}

// cluster sorts values and merges those within tol into their mean.
func cluster(vs []float64, tol float64) []float64 {
	if len(vs) == 0 {
		return nil
	}
	sort.Float64s(vs)
	var out []float64
	sum, n := vs[0], 1
	last := vs[0]
	for _, v := range vs[1:] {
		if v-last <= tol {
			sum += v
			n++
		} else {
			out = append(out, sum/float64(n))
			sum, n = v, 1
		}
		last = v
	}
	return append(out, sum/float64(n))
}

// interval returns i such that bounds[i] <= v < bounds[i+1], or -1.
func interval(bounds []float64, v float64) int {
	for i := 0; i+1 < len(bounds); i++ {
		if v >= bounds[i] && v < bounds[i+1] {
			return i
		}
	}
	return -1
}

// cellText orders words in reading order and joins them.
func cellText(ws []docmodel.Word) string {
	if len(ws) == 0 {
		return ""
	}
	sort.SliceStable(ws, func(i, j int) bool {
		if d := ws[i].BBox.CenterY() - ws[j].BBox.CenterY(); math.Abs(d) > 2 {
			return d < 0
		}
		return ws[i].BBox.X0() < ws[j].BBox.X0()
	})
	parts := make([]string, len(ws))
	for i, w := range ws {
		parts[i] = w.Text
	}
	return strings.Join(parts, " ")
}

// rows groups words into text rows by vertical center.
func rows(words []docmodel.Word) [][]docmodel.Word {
	ws := append([]docmodel.Word(nil), words...)
	sort.SliceStable(ws, func(i, j int) bool {
		if d := ws[i].BBox.CenterY() - ws[j].BBox.CenterY(); math.Abs(d) > 2 {
			return d < 0
		}
		return ws[i].BBox.X0() < ws[j].BBox.X0()
	})
	var out [][]docmodel.Word
	var cy float64
	for _, w := range ws {
		if n := len(out); n > 0 && math.Abs(w.BBox.CenterY()-cy) <= math.Max(2, 0.4*w.BBox.Height()) {
			out[n-1] = append(out[n-1], w)
			continue
		}
		out = append(out, []docmodel.Word{w})
		cy = w.BBox.CenterY()
	}
	for _, r := range out {
		sort.SliceStable(r, func(i, j int) bool { return r[i].BBox.X0() < r[j].BBox.X0() })
	}
	return out
}

type span struct {
	bbox docmodel.BBox
	text string
}

// spans merges the words of a row into runs separated by wide gaps.
func spans(row []docmodel.Word) []span {
	var out []span
	for _, w := range row {
		if n := len(out); n > 0 {
			gap := w.BBox.X0() - out[n-1].bbox.X1()
			if gap < math.Max(8, 1.2*w.BBox.Height()) {
				out[n-1].bbox = out[n-1].bbox.Union(w.BBox)
				out[n-1].text += " " + w.Text
				continue
			}
		}
		out = append(out, span{bbox: w.BBox, text: w.Text})
	}
	return out
}

// Stream finds borderless tables: runs of at least three consecutive rows
// that split into two or more spans sharing whitespace gutters.
func Stream(words []docmodel.Word, size docmodel.PageSize) []docmodel.Table {
	rs := rows(words)
	var out []docmodel.Table
	start := -1
	flush := func(end int) {
		if start >= 0 && end-start >= 3 {
			if t, ok := alignedTable(rs[start:end], size); ok {
				out = append(out, t)
			}
		}
		start = -1
	}
	for i, r := range rs {
		multi := len(spans(r)) >= 2
		near := i > 0 && start >= 0 && rowGap(rs[i-1], r) <= 2.5*rowHeight(r)
		switch {
		case multi && start >= 0 && near:
		case multi:
			flush(i)
			start = i
		default:
			flush(i)
		}
	}
	flush(len(rs))
	return out
}

func rowHeight(r []docmodel.Word) float64 {
	h := 0.0
	for _, w := range r {
		h = math.Max(h, w.BBox.Height())
	}
	if h == 0 {
		h = 10
	}
	return h
}

func rowGap(a, b []docmodel.Word) float64 {
	return rowBox(b).Y0() - rowBox(a).Y1()
}

func rowBox(r []docmodel.Word) docmodel.BBox {
	bb := r[0].BBox
	for _, w := range r[1:] {
		bb = bb.Union(w.BBox)
	}
	return bb
}

// alignedTable computes column gutters over a block of rows and builds the
// table if the result looks tabular rather than two-column prose.
func alignedTable(block [][]docmodel.Word, size docmodel.PageSize) (docmodel.Table, bool) {
	var all []span
	for _, r := range block {
		all = append(all, spans(r)...)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].bbox.X0() < all[j].bbox.X0() })

	// Column ranges are the union of overlapping span extents.
	type colRange struct{ x0, x1 float64 }
	var cols []colRange
	for _, s := range all {
		if n := len(cols); n > 0 && s.bbox.X0() <= cols[n-1].x1+2 {
			cols[n-1].x1 = math.Max(cols[n-1].x1, s.bbox.X1())
			continue
		}
		cols = append(cols, colRange{s.bbox.X0(), s.bbox.X1()})
	}
	if len(cols) < 2 {
		return docmodel.Table{}, false
	}

	var grid [][]string
	var boxes []docmodel.BBox
	bbox := rowBox(block[0])
	for _, r := range block {
		row := make([]string, len(cols))
		for _, s := range spans(r) {
			for ci, c := range cols {
				if s.bbox.CenterX() >= c.x0-1 && s.bbox.CenterX() <= c.x1+1 {
					if row[ci] != "" {
						row[ci] += " "
					}
					row[ci] += s.text
					break
				}
			}
		}
		rb := rowBox(r)
		bbox = bbox.Union(rb)
		for _, c := range cols {
			boxes = append(boxes, docmodel.BBox{c.x0, rb.Y0(), c.x1, rb.Y1()})
		}
		grid = append(grid, row)
	}

	filled := 0
	for _, row := range grid {
		n := 0
		for _, c := range row {
			if c != "" {
				n++
			}
		}
		if n >= 2 {
			filled++
		}
	}
	if filled < 3 {
		return docmodel.Table{}, false
	}
	if looksLikeProse(grid) {
		return docmodel.Table{}, false
	}
	return docmodel.Table{
		BBox:    bbox.Clamp(size),
		Headers: grid[0],
		Rows:    grid[1:],
		Cells:   boxes,
		Fixes:   map[string]int{},
	}, true
}

// looksLikeProse rejects blocks whose columns hold long sentences, which
// is what two-column body text looks like to whitespace detection.
func looksLikeProse(grid [][]string) bool {
	if len(grid) == 0 {
		return true
	}
	width := len(grid[0])
	for ci := 0; ci < width; ci++ {
		total, n := 0, 0
		for _, row := range grid {
			if ci < len(row) && row[ci] != "" {
				total += len([]rune(row[ci]))
				n++
			}
		}
		if n > 0 && total/n > 40 {
			return true
		}
	}
	return false
}
