package layout

import (
	"math"
	"regexp"
	"strings"

	"github.com/hazyhaar/docenrich/docmodel"
)

// Options tunes block construction and page classification.
type Options struct {
	// HeaderFooterMode is "auto" (default), "strict" or "off".
	HeaderFooterMode string `json:"header_footer_mode" yaml:"header_footer_mode"`
	// ColumnMode is "histogram" (default) or "kmeans".
	ColumnMode string `json:"column_mode" yaml:"column_mode"`
	// MinBlocksPerSide is the minimum number of blocks each side needs for
	// a page to be classified as two columns. Default: 3.
	MinBlocksPerSide int `json:"min_blocks_per_side" yaml:"min_blocks_per_side"`
	// MarginBand is the height of the header and footer bands. Default: 50pt.
	MarginBand float64 `json:"margin_band" yaml:"margin_band"`
}

func (o *Options) defaults() {
	if o.HeaderFooterMode == "" {
		o.HeaderFooterMode = "auto"
	}
	if o.ColumnMode == "" {
		o.ColumnMode = "histogram"
	}
	if o.MinBlocksPerSide <= 0 {
		o.MinBlocksPerSide = 3
	}
	if o.MarginBand <= 0 {
		o.MarginBand = 50
	}
}

// Result is the mapped page.
type Result struct {
	Page    int
	Size    docmodel.PageSize
	Blocks  []docmodel.Block
	Columns ColumnLayout
	// Removed holds header/footer blocks that were stripped.
	Removed []docmodel.Block
	// Fallback names the text recovery path used: "", "plain" or "words".
	Fallback string
}

// TextBlocks returns the text blocks of the result.
func (r *Result) TextBlocks() []docmodel.Block {
	var out []docmodel.Block
	for _, b := range r.Blocks {
		if b.Kind == docmodel.BlockText {
			out = append(out, b)
		}
	}
	return out
}

// FigureBlocks returns the image blocks of the result.
func (r *Result) FigureBlocks() []docmodel.Block {
	var out []docmodel.Block
	for _, b := range r.Blocks {
		if b.Kind == docmodel.BlockFigure {
			out = append(out, b)
		}
	}
	return out
}

// Map turns a page into typed blocks, strips margins and assigns columns.
func Map(p *Page, opts Options) *Result {
	opts.defaults()
	res := &Result{Page: p.Number, Size: p.Size}

	blocks := GroupBlocks(p.Glyphs, p.Size)
	if len(blocks) == 0 {
		if blocks = PlainTextBlocks(p.PlainText, p.Size); len(blocks) > 0 {
			res.Fallback = "plain"
		} else if blocks = WordRowBlocks(p.Words, p.Size); len(blocks) > 0 {
			res.Fallback = "words"
		}
	}
	blocks = append(blocks, FigureBlocks(p.Images, p.Size)...)

	res.Blocks, res.Removed = StripMargins(blocks, p.Size, opts.HeaderFooterMode, opts.MarginBand)
	res.Columns = DetectColumns(res.Blocks, p.Size, opts.ColumnMode, opts.MinBlocksPerSide)
	for i := range res.Blocks {
		res.Blocks[i].Column = res.Columns.Assign(res.Blocks[i].BBox)
	}
	return res
}

type line struct {
	bbox     docmodel.BBox
	text     strings.Builder
	fontSize float64
	glyphs   int
	lastX1   float64
}

// GroupBlocks groups glyphs into lines, then lines into text blocks.
func GroupBlocks(glyphs []Glyph, size docmodel.PageSize) []docmodel.Block {
	lines := groupLines(glyphs)
	if len(lines) == 0 {
		return nil
	}

	type block struct {
		bbox     docmodel.BBox
		parts    []string
		fontSize float64
		lastLine docmodel.BBox
	}
	var blocks []*block
	for _, ln := range lines {
		txt := strings.TrimSpace(ln.text.String())
		if txt == "" {
			continue
		}
		var target *block
		for i := len(blocks) - 1; i >= 0; i-- {
			b := blocks[i]
			gap := ln.bbox.Y0() - b.lastLine.Y1()
			lh := math.Max(ln.bbox.Height(), b.lastLine.Height())
			if gap < -lh/2 || gap > 0.8*lh {
				continue
			}
			if b.lastLine.HorizontalOverlap(ln.bbox) < 0.3 && math.Abs(b.lastLine.X0()-ln.bbox.X0()) > 2*ln.fontSize {
				continue
			}
			if !similarSize(b.fontSize, ln.fontSize) {
				continue
			}
			target = b
			break
		}
		if target == nil {
			blocks = append(blocks, &block{bbox: ln.bbox, parts: []string{txt}, fontSize: ln.fontSize, lastLine: ln.bbox})
			continue
		}
		target.bbox = target.bbox.Union(ln.bbox)
		target.parts = append(target.parts, txt)
		target.lastLine = ln.bbox
	}

	out := make([]docmodel.Block, 0, len(blocks))
	for _, b := range blocks {
		out = append(out, docmodel.Block{
			Kind:     docmodel.BlockText,
			BBox:     b.bbox.Clamp(size),
			Text:     joinLines(b.parts),
			FontSize: b.fontSize,
			Source:   docmodel.SourceNative,
		})
	}
	return out
}

// groupLines clusters glyphs sharing a baseline and splits them at wide gaps.
func groupLines(glyphs []Glyph) []*line {
	gs := make([]Glyph, len(glyphs))
	copy(gs, glyphs)
	sortGlyphs(gs)

	var lines []*line
	var open []*line
	for _, g := range gs {
		var target *line
		for _, ln := range open {
			tol := math.Max(1.5, 0.35*math.Min(ln.fontSize, g.FontSize))
			if math.Abs(ln.bbox.CenterY()-g.BBox.CenterY()) > tol {
				continue
			}
			gap := g.BBox.X0() - ln.lastX1
			if gap > math.Max(2*g.FontSize, 10) || gap < -g.FontSize {
				continue
			}
			target = ln
			break
		}
		if target == nil {
			ln := &line{bbox: g.BBox, fontSize: g.FontSize, glyphs: 1, lastX1: g.BBox.X1()}
			ln.text.WriteString(g.Text)
			lines = append(lines, ln)
			open = pruneOpen(append(open, ln), g.BBox.CenterY())
			continue
		}
		if g.BBox.X0()-target.lastX1 > 0.15*g.FontSize && !strings.HasSuffix(target.text.String(), " ") && !strings.HasPrefix(g.Text, " ") {
			target.text.WriteByte(' ')
		}
		target.text.WriteString(g.Text)
		target.bbox = target.bbox.Union(g.BBox)
		target.fontSize = (target.fontSize*float64(target.glyphs) + g.FontSize) / float64(target.glyphs+1)
		target.glyphs++
		target.lastX1 = math.Max(target.lastX1, g.BBox.X1())
	}
	return lines
}

// pruneOpen drops lines that are well above the current baseline.
func pruneOpen(open []*line, y float64) []*line {
	kept := open[:0]
	for _, ln := range open {
		if y-ln.bbox.CenterY() < 3*ln.fontSize {
			kept = append(kept, ln)
		}
	}
	return kept
}

func similarSize(a, b float64) bool {
	if a <= 0 || b <= 0 {
		return true
	}
	return math.Abs(a-b)/math.Max(a, b) <= 0.2
}

// joinLines joins wrapped lines, removing soft hyphenation.
func joinLines(parts []string) string {
	var sb strings.Builder
	for i, p := range parts {
		if i > 0 {
			prev := sb.String()
			if strings.HasSuffix(prev, "-") && len(prev) > 1 && isLetter(prev[len(prev)-2]) {
				s := sb.String()
				sb.Reset()
				sb.WriteString(s[:len(s)-1])
			} else {
				sb.WriteByte(' ')
			}
		}
		sb.WriteString(p)
	}
	return sb.String()
}

func isLetter(b byte) bool { return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') }

var blankLineRe = regexp.MustCompile(`\n\s*\n`)

// PlainTextBlocks splits plain text on blank lines and gives each paragraph
// an equally spaced synthetic box so reading order stays valid.
func PlainTextBlocks(text string, size docmodel.PageSize) []docmodel.Block {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	var paras []string
	for _, p := range blankLineRe.Split(text, -1) {
		p = strings.Join(strings.Fields(p), " ")
		if p != "" {
			paras = append(paras, p)
		}
	}
	if len(paras) == 0 {
		return nil
	}
	const margin = 72.0
	usable := size.Height - 2*margin
	if usable <= 0 {
		usable = size.Height
	}
	step := usable / float64(len(paras))
	out := make([]docmodel.Block, 0, len(paras))
	for i, p := range paras {
		y0 := margin + float64(i)*step
		bb := docmodel.BBox{margin, y0, size.Width - margin, y0 + step*0.9}
		out = append(out, docmodel.Block{
			Kind:   docmodel.BlockText,
			BBox:   bb.Clamp(size),
			Text:   p,
			Source: docmodel.SourceNative,
		})
	}
	return out
}

// WordRowBlocks groups the reader's row words into blocks by Y only; used
// when neither glyphs nor plain text produced anything.
func WordRowBlocks(glyphs []Glyph, size docmodel.PageSize) []docmodel.Block {
	gs := make([]Glyph, len(glyphs))
	copy(gs, glyphs)
	sortGlyphs(gs)
	var out []docmodel.Block
	var cur *docmodel.Block
	var curY float64
	for _, g := range gs {
		if cur != nil && math.Abs(g.BBox.CenterY()-curY) <= 3 {
			cur.Text += " " + g.Text
			cur.BBox = cur.BBox.Union(g.BBox)
			continue
		}
		if cur != nil {
			out = append(out, *cur)
		}
		cur = &docmodel.Block{Kind: docmodel.BlockText, BBox: g.BBox, Text: g.Text, FontSize: g.FontSize, Source: docmodel.SourceNative}
		curY = g.BBox.CenterY()
	}
	if cur != nil {
		out = append(out, *cur)
	}
	kept := out[:0]
	for _, b := range out {
		b.Text = strings.Join(strings.Fields(b.Text), " ")
		if b.Text == "" {
			continue
		}
		b.BBox = b.BBox.Clamp(size)
		kept = append(kept, b)
	}
	return kept
}

// FigureBlocks converts placed images into figure blocks and flags the
// ones that should be OCRed: banners lying in the top 20% of the page and
// mid-sized images in the content band.
func FigureBlocks(images []Image, size docmodel.PageSize) []docmodel.Block {
	var out []docmodel.Block
	area := size.Area()
	for _, im := range images {
		bb := im.BBox.Clamp(size)
		ratio := 0.0
		if area > 0 {
			ratio = bb.Area() / area
		}
		if ratio < 0.001 {
			continue
		}
		inTop := bb.Y1() <= 0.2*size.Height
		inContent := bb.CenterY() > 0.1*size.Height && bb.CenterY() < 0.9*size.Height
		out = append(out, docmodel.Block{
			Kind:      docmodel.BlockFigure,
			BBox:      bb,
			AreaRatio: ratio,
			NeedsOCR:  inTop || (inContent && ratio < 0.3),
			ImageRef:  im.Name,
		})
	}
	return out
}

// Words merges glyph runs into positioned words, splitting at gaps wider
// than 15% of the font size.
func Words(glyphs []Glyph) []docmodel.Word {
	gs := make([]Glyph, len(glyphs))
	copy(gs, glyphs)
	sortGlyphs(gs)
	var out []docmodel.Word
	var cur *docmodel.Word
	var curFS float64
	for _, g := range gs {
		if cur != nil {
			sameLine := math.Abs(cur.BBox.CenterY()-g.BBox.CenterY()) <= math.Max(1.5, 0.35*g.FontSize)
			gap := g.BBox.X0() - cur.BBox.X1()
			if sameLine && gap <= 0.15*math.Max(curFS, g.FontSize) && gap > -g.FontSize {
				cur.Text += g.Text
				cur.BBox = cur.BBox.Union(g.BBox)
				continue
			}
			out = append(out, *cur)
		}
		cur = &docmodel.Word{BBox: g.BBox, Text: strings.TrimSpace(g.Text)}
		curFS = g.FontSize
	}
	if cur != nil {
		out = append(out, *cur)
	}
	kept := out[:0]
	for _, w := range out {
		if w.Text != "" {
			kept = append(kept, w)
		}
	}
	return kept
}
