package layout

import (
	"strings"
	"testing"

	"github.com/hazyhaar/docenrich/docmodel"
)

var letter = docmodel.PageSize{Width: 612, Height: 792}

// glyphsFor lays out s one character per glyph starting at (x, top).
func glyphsFor(s string, x, top, fs float64) []Glyph {
	var out []Glyph
	cw := fs * 0.5
	for _, r := range s {
		if r != ' ' {
			out = append(out, Glyph{BBox: docmodel.BBox{x, top, x + cw, top + fs}, Text: string(r), FontSize: fs})
		}
		x += cw
	}
	return out
}

func TestGroupBlocks_ParagraphAndSpacing(t *testing.T) {
	// WHAT: wrapped lines of one paragraph become one block with spaces kept.
	// WHY: per-glyph runs carry no explicit spaces; gaps must become spaces.
	var gs []Glyph
	gs = append(gs, glyphsFor("Laporan keuangan tahunan", 72, 100, 10)...)
	gs = append(gs, glyphsFor("disusun oleh direksi.", 72, 112, 10)...)
	gs = append(gs, glyphsFor("Bagian kedua", 72, 200, 10)...)

	blocks := GroupBlocks(gs, letter)
	if len(blocks) != 2 {
		t.Fatalf("got %d blocks, want 2: %+v", len(blocks), blocks)
	}
	if blocks[0].Text != "Laporan keuangan tahunan disusun oleh direksi." {
		t.Errorf("block 0 = %q", blocks[0].Text)
	}
	if blocks[1].Text != "Bagian kedua" {
		t.Errorf("block 1 = %q", blocks[1].Text)
	}
	for _, b := range blocks {
		if !b.BBox.Valid(letter) {
			t.Errorf("invalid bbox %v", b.BBox)
		}
	}
}

func TestGroupBlocks_TwoColumnsStaySeparate(t *testing.T) {
	var gs []Glyph
	for i := 0; i < 4; i++ {
		y := 100 + float64(i)*12
		gs = append(gs, glyphsFor("kiri kolom teks", 50, y, 10)...)
		gs = append(gs, glyphsFor("kanan kolom teks", 330, y, 10)...)
	}
	blocks := GroupBlocks(gs, letter)
	if len(blocks) != 2 {
		t.Fatalf("got %d blocks, want 2", len(blocks))
	}
	for _, b := range blocks {
		if strings.Contains(b.Text, "kiri") && strings.Contains(b.Text, "kanan") {
			t.Fatalf("columns merged: %q", b.Text)
		}
	}
}

func TestPlainTextBlocks(t *testing.T) {
	// WHAT: plain text fallback yields one block per paragraph in order.
	// WHY: synthetic boxes keep downstream sorting valid.
	blocks := PlainTextBlocks("Pertama baris.\n\nKedua\nlanjutan.\n\n\nKetiga.", letter)
	if len(blocks) != 3 {
		t.Fatalf("got %d blocks", len(blocks))
	}
	if blocks[1].Text != "Kedua lanjutan." {
		t.Errorf("got %q", blocks[1].Text)
	}
	for i := 1; i < len(blocks); i++ {
		if blocks[i].BBox.Y0() <= blocks[i-1].BBox.Y0() {
			t.Fatal("synthetic boxes not increasing")
		}
	}
}

func TestWordRowBlocks(t *testing.T) {
	gs := []Glyph{
		{BBox: docmodel.BBox{10, 100, 40, 110}, Text: "Total"},
		{BBox: docmodel.BBox{300, 101, 340, 111}, Text: "1.500"},
		{BBox: docmodel.BBox{10, 130, 40, 140}, Text: "Aset"},
	}
	blocks := WordRowBlocks(gs, letter)
	if len(blocks) != 2 || blocks[0].Text != "Total 1.500" {
		t.Fatalf("got %+v", blocks)
	}
}

func TestMapFallbacks(t *testing.T) {
	// WHAT: a page without glyphs recovers text from plain text first, then from row words.
	// WHY: some content streams only decode through the reader's row walk.
	words := []Glyph{
		{BBox: docmodel.BBox{72, 300, 120, 310}, Text: "Neraca", FontSize: 10},
		{BBox: docmodel.BBox{130, 300, 170, 310}, Text: "2023", FontSize: 10},
	}
	res := Map(&Page{Number: 1, Size: letter, Words: words}, Options{})
	if res.Fallback != "words" {
		t.Fatalf("fallback = %q, want words", res.Fallback)
	}
	if tb := res.TextBlocks(); len(tb) != 1 || tb[0].Text != "Neraca 2023" {
		t.Fatalf("blocks = %+v", tb)
	}

	res = Map(&Page{Number: 1, Size: letter, Words: words, PlainText: "Laporan posisi keuangan"}, Options{})
	if res.Fallback != "plain" {
		t.Fatalf("fallback = %q, want plain", res.Fallback)
	}

	res = Map(&Page{Number: 1, Size: letter, Glyphs: glyphsFor("Aset lancar", 72, 300, 10), Words: words}, Options{})
	if res.Fallback != "" {
		t.Fatalf("fallback = %q with glyphs present", res.Fallback)
	}
}

func TestFigureBlocks_NeedsOCR(t *testing.T) {
	imgs := []Image{
		{Name: "banner", BBox: docmodel.BBox{0, 10, 612, 90}},
		{Name: "chart", BBox: docmodel.BBox{100, 300, 400, 500}},
		{Name: "scan", BBox: docmodel.BBox{0, 0, 612, 792}},
	}
	blocks := FigureBlocks(imgs, letter)
	if len(blocks) != 3 {
		t.Fatalf("got %d", len(blocks))
	}
	if !blocks[0].NeedsOCR {
		t.Error("banner in top 20% should need OCR")
	}
	if !blocks[1].NeedsOCR {
		t.Error("mid-sized content image should need OCR")
	}
	if blocks[2].NeedsOCR {
		t.Error("full-page image is handled by full-page OCR, not per image")
	}
	if blocks[2].AreaRatio < 0.99 {
		t.Errorf("area ratio = %v", blocks[2].AreaRatio)
	}
}

func TestDetectColumns(t *testing.T) {
	var blocks []docmodel.Block
	for i := 0; i < 5; i++ {
		y := 100 + float64(i)*40
		blocks = append(blocks,
			docmodel.Block{Kind: docmodel.BlockText, BBox: docmodel.BBox{50, y, 280, y + 30}},
			docmodel.Block{Kind: docmodel.BlockText, BBox: docmodel.BBox{330, y, 560, y + 30}},
		)
	}
	for _, mode := range []string{"histogram", "kmeans"} {
		cl := DetectColumns(blocks, letter, mode, 3)
		if !cl.TwoColumn {
			t.Fatalf("%s: expected two columns", mode)
		}
		if got := cl.Assign(docmodel.BBox{50, 0, 280, 10}); got != docmodel.ColumnLeft {
			t.Errorf("%s: left block assigned %s", mode, got)
		}
		if got := cl.Assign(docmodel.BBox{330, 0, 560, 10}); got != docmodel.ColumnRight {
			t.Errorf("%s: right block assigned %s", mode, got)
		}
		if got := cl.Assign(docmodel.BBox{50, 0, 560, 10}); got != docmodel.ColumnFull {
			t.Errorf("%s: spanning block assigned %s", mode, got)
		}
	}
}

func TestDetectColumns_SingleWhenNoGutter(t *testing.T) {
	var blocks []docmodel.Block
	for i := 0; i < 5; i++ {
		y := 100 + float64(i)*40
		blocks = append(blocks,
			docmodel.Block{Kind: docmodel.BlockText, BBox: docmodel.BBox{50, y, 310, y + 30}},
			docmodel.Block{Kind: docmodel.BlockText, BBox: docmodel.BBox{305, y, 560, y + 30}},
		)
	}
	cl := DetectColumns(blocks, letter, "histogram", 3)
	if cl.TwoColumn {
		t.Fatal("overlapping sides must not be two-column")
	}
}

func TestStripMargins_PageNumber(t *testing.T) {
	// WHAT: a bare "12" at top center is dropped; a real heading is kept.
	// WHY: page numbers must never reach a unit.
	blocks := []docmodel.Block{
		{Kind: docmodel.BlockText, Text: "12", BBox: docmodel.BBox{300, 20, 312, 30}},
		{Kind: docmodel.BlockText, Text: "Laporan Tahunan 2023", BBox: docmodel.BBox{200, 20, 400, 32}},
		{Kind: docmodel.BlockText, Text: "Body text", BBox: docmodel.BBox{72, 300, 400, 312}},
		{Kind: docmodel.BlockFigure, BBox: docmodel.BBox{0, 0, 100, 40}},
		{Kind: docmodel.BlockText, Text: "Halaman 3 dari 40", BBox: docmodel.BBox{250, 770, 360, 780}},
		{Kind: docmodel.BlockText, Text: "CONFIDENTIAL", BBox: docmodel.BBox{250, 770, 360, 780}},
	}
	kept, removed := StripMargins(blocks, letter, "auto", 50)
	if len(kept) != 3 {
		t.Fatalf("kept %d blocks, want 3: %+v", len(kept), kept)
	}
	for _, b := range kept {
		if b.Text == "12" {
			t.Fatal("page number kept")
		}
	}
	if len(removed) != 3 {
		t.Fatalf("removed %d, want 3", len(removed))
	}

	kept, _ = StripMargins(blocks, letter, "strict", 50)
	if len(kept) != 2 {
		t.Fatalf("strict kept %d, want 2", len(kept))
	}
	kept, _ = StripMargins(blocks, letter, "off", 50)
	if len(kept) != len(blocks) {
		t.Fatal("off mode must keep everything")
	}
}

func TestIsPageNumber(t *testing.T) {
	// WHAT: roman numerals are page numbers only when they form a numeral on their own.
	// WHY: words spelled from i, v, x, l and c ("civil", "ill") are header content.
	for _, s := range []string{"7", " 12 ", "- 4 -", "3/40", "Halaman 3 dari 40", "vii", "IX", "xxiv", "i"} {
		if !IsPageNumber(s) {
			t.Errorf("IsPageNumber(%q) = false", s)
		}
	}
	for _, s := range []string{"", "civil", "ill", "Vivi", "ic", "lxx", "vii Bab", "iiii"} {
		if IsPageNumber(s) {
			t.Errorf("IsPageNumber(%q) = true", s)
		}
	}
}

func TestStripMargins_KeepsRomanLookingWord(t *testing.T) {
	blocks := []docmodel.Block{
		{Kind: docmodel.BlockText, Text: "CIVIL", BBox: docmodel.BBox{250, 10, 330, 34}},
		{Kind: docmodel.BlockText, Text: "vii", BBox: docmodel.BBox{300, 10, 312, 34}},
	}
	kept, removed := StripMargins(blocks, letter, "auto", 50)
	if len(kept) != 1 || kept[0].Text != "CIVIL" {
		t.Fatalf("kept = %+v", kept)
	}
	if len(removed) != 1 || removed[0].Text != "vii" {
		t.Fatalf("removed = %+v", removed)
	}
}

func TestRetainBandText(t *testing.T) {
	tests := []struct {
		text string
		bbox docmodel.BBox
		want bool
	}{
		{"7", docmodel.BBox{300, 10, 306, 20}, false},
		{"- 7 -", docmodel.BBox{300, 10, 320, 20}, false},
		{"Nomor: 12/PBI/2023", docmodel.BBox{300, 10, 400, 20}, true},
		{"PT Bank Contoh", docmodel.BBox{300, 10, 400, 20}, true},
		{"Ini adalah kalimat, lengkap.", docmodel.BBox{300, 10, 400, 20}, true},
		{"DRAFT", docmodel.BBox{300, 10, 340, 20}, false},
	}
	for _, tt := range tests {
		b := docmodel.Block{Kind: docmodel.BlockText, Text: tt.text, BBox: tt.bbox}
		if got := RetainBandText(b, letter); got != tt.want {
			t.Errorf("RetainBandText(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}

func TestScanPlacements(t *testing.T) {
	stream := []byte("q\n200 0 0 100 50 600 cm\n/Im1 Do\nQ\nq 10 0 0 10 0 0 cm /Im2 Do Q")
	pl := scanPlacements(stream)
	if len(pl) != 2 {
		t.Fatalf("got %d placements", len(pl))
	}
	x0, y0 := pl[0].ctm.apply(0, 0)
	x1, y1 := pl[0].ctm.apply(1, 1)
	if x0 != 50 || y0 != 600 || x1 != 250 || y1 != 700 {
		t.Fatalf("Im1 placed at %v,%v-%v,%v", x0, y0, x1, y1)
	}
	if pl[1].name != "Im2" {
		t.Fatalf("second name = %q", pl[1].name)
	}
}
