package assemble

import (
	"math"
	"sort"
	"strings"

	"github.com/hazyhaar/docenrich/docmodel"
)

// merge joins vertically adjacent blocks of the same column into
// paragraphs.
func (a *Assembler) merge(blocks []docmodel.Block, st *Stats) []docmodel.Block {
	byCol := map[docmodel.Column][]docmodel.Block{}
	var cols []docmodel.Column
	for _, b := range blocks {
		if _, ok := byCol[b.Column]; !ok {
			cols = append(cols, b.Column)
		}
		byCol[b.Column] = append(byCol[b.Column], b)
	}

	var out []docmodel.Block
	for _, c := range cols {
		bs := byCol[c]
		sort.SliceStable(bs, func(i, j int) bool { return bs[i].BBox.Y0() < bs[j].BBox.Y0() })
		cur := bs[0]
		for _, b := range bs[1:] {
			if a.mergeable(cur, b) {
				cur.Text = strings.TrimSpace(cur.Text) + " " + strings.TrimSpace(b.Text)
				cur.BBox = cur.BBox.Union(b.BBox)
				st.Merged++
				continue
			}
			out = append(out, cur)
			cur = b
		}
		out = append(out, cur)
	}
	return out
}

func (a *Assembler) mergeable(prev, next docmodel.Block) bool {
	if prev.Source != next.Source {
		return false
	}
	gap := next.BBox.Y0() - prev.BBox.Y1()
	if gap >= a.cfg.MergeGap {
		return false
	}
	if prev.BBox.HorizontalOverlap(next.BBox) <= a.cfg.MinOverlap {
		return false
	}
	if prev.FontSize > 0 && next.FontSize > 0 {
		if math.Abs(prev.FontSize-next.FontSize) > 0.2*math.Max(prev.FontSize, next.FontSize) {
			return false
		}
	}
	if endsSentence(prev.Text) && gap > a.cfg.SentenceGap {
		return false
	}
	return true
}

func endsSentence(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return false
	}
	switch s[len(s)-1] {
	case '.', '!', '?', ':', ';':
		return true
	}
	return false
}

// finalize clamps boxes, removes duplicates, sorts and assigns ids.
func finalize(p Page, units []docmodel.Unit, st *Stats) []docmodel.Unit {
	var clean []docmodel.Unit
	for _, u := range units {
		u.Content = strings.TrimSpace(u.Content)
		if u.Content == "" {
			continue
		}
		u.DocID = p.DocID
		u.Page = p.Number
		u.BBox = u.BBox.Clamp(p.Size).Round()
		u.Y0 = u.BBox.Y0()
		clean = append(clean, u)
	}

	// Units sharing a box within 1pt are the same content seen twice;
	// a table wins over text.
	var out []docmodel.Unit
	for _, u := range clean {
		dup := -1
		for i, o := range out {
			if o.BBox.Near(u.BBox, 1) {
				dup = i
				break
			}
		}
		if dup < 0 {
			out = append(out, u)
			continue
		}
		st.Deduped++
		if u.UnitType == docmodel.UnitTable && out[dup].UnitType != docmodel.UnitTable {
			out[dup] = u
		}
	}

	docmodel.SortUnits(out)
	next := map[docmodel.Column]int{}
	for i := range out {
		u := &out[i]
		idx := next[u.Column]
		next[u.Column] = idx + 1
		u.UnitID = docmodel.UnitID(p.DocID, p.Number, u.Column, idx)
		u.Anchor = docmodel.Anchor(p.Number, u.Column, idx)
	}
	return out
}
