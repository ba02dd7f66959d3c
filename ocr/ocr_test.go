package ocr

import (
	"context"
	"errors"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/hazyhaar/docenrich/docmodel"
)

type fakeRenderer struct {
	w, h int
	err  error
	fill color.Color
}

func (f fakeRenderer) RenderPage(_ context.Context, _ string, _, _ int) (image.Image, error) {
	if f.err != nil {
		return nil, f.err
	}
	fill := f.fill
	if fill == nil {
		fill = color.White
	}
	img := image.NewNRGBA(image.Rect(0, 0, f.w, f.h))
	for y := 0; y < f.h; y++ {
		for x := 0; x < f.w; x++ {
			img.Set(x, y, fill)
		}
	}
	return img, nil
}

type fakeEngine struct {
	mu    sync.Mutex
	byPSM map[int]string
	err   error
	sizes []image.Point
	psms  []int
	gray  []bool
}

func (f *fakeEngine) Recognize(_ context.Context, img image.Image, psm int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.psms = append(f.psms, psm)
	f.sizes = append(f.sizes, img.Bounds().Size())
	r, g, b, _ := img.At(img.Bounds().Min.X, img.Bounds().Min.Y).RGBA()
	f.gray = append(f.gray, r == g && g == b)
	if f.err != nil {
		return "", f.err
	}
	return f.byPSM[psm], nil
}

func TestRegion_PicksMostMeaningfulPass(t *testing.T) {
	// WHAT: region OCR tries every segmentation mode and keeps the richest text.
	// WHY: charts and banners defeat any single mode.
	eng := &fakeEngine{byPSM: map[int]string{
		PSMSingleLine:   "a-b",
		PSMUniformBlock: "Laporan  2023",
		PSMSparse:       "x",
	}}
	dir := t.TempDir()
	s := New(Config{DPI: 144, DebugDir: dir}, fakeRenderer{w: 1000, h: 1000}, eng)

	r, err := s.Render(context.Background(), "doc.pdf", 3)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if r.Scale != 2 {
		t.Fatalf("scale = %v, want 2", r.Scale)
	}
	if _, err := os.Stat(filepath.Join(dir, "pages", "page-3.png")); err != nil {
		t.Fatalf("debug page render missing: %v", err)
	}

	txt, crop, err := s.Region(context.Background(), r, docmodel.BBox{10, 10, 110, 60}, "p3_img0")
	if err != nil {
		t.Fatalf("region: %v", err)
	}
	if txt != "Laporan 2023" {
		t.Errorf("text = %q", txt)
	}
	if crop != filepath.Join(dir, "crops", "p3_img0.png") {
		t.Errorf("crop path = %q", crop)
	}
	if len(eng.psms) != len(RegionPSMs) {
		t.Errorf("passes = %v", eng.psms)
	}
	if eng.sizes[0] != (image.Point{X: 200, Y: 100}) {
		t.Errorf("crop size = %v, want 200x100", eng.sizes[0])
	}
}

func TestRegion_OutsidePage(t *testing.T) {
	s := New(Config{DPI: 72}, fakeRenderer{w: 100, h: 100}, &fakeEngine{})
	r, _ := s.Render(context.Background(), "x.pdf", 1)
	txt, _, err := s.Region(context.Background(), r, docmodel.BBox{200, 200, 300, 300}, "out")
	if err != nil || txt != "" {
		t.Fatalf("got %q, %v", txt, err)
	}
}

func TestFullPage_SinglePass(t *testing.T) {
	eng := &fakeEngine{byPSM: map[int]string{PSMUniformBlock: "1.46\nTIN atau NPWP\n"}}
	s := New(Config{}, fakeRenderer{w: 50, h: 50}, eng)
	r, _ := s.Render(context.Background(), "x.pdf", 1)
	txt, err := s.FullPage(context.Background(), r)
	if err != nil {
		t.Fatal(err)
	}
	if txt != "1.46 TIN atau NPWP" {
		t.Errorf("text = %q", txt)
	}
	if len(eng.psms) != 1 || eng.psms[0] != PSMUniformBlock {
		t.Errorf("psms = %v", eng.psms)
	}
}

func TestFullPage_Preprocesses(t *testing.T) {
	// WHAT: the full-page pass sees the same grayscale image region passes do.
	eng := &fakeEngine{byPSM: map[int]string{PSMUniformBlock: "Ringkasan"}}
	s := New(Config{}, fakeRenderer{w: 40, h: 40, fill: color.NRGBA{R: 200, G: 30, B: 30, A: 255}}, eng)
	r, err := s.Render(context.Background(), "x.pdf", 1)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.FullPage(context.Background(), r); err != nil {
		t.Fatal(err)
	}
	if len(eng.gray) != 1 || !eng.gray[0] {
		t.Fatalf("engine got a colour image: %v", eng.gray)
	}
}

func TestUnavailable_Propagates(t *testing.T) {
	// WHAT: a missing engine surfaces ErrUnavailable so callers can skip OCR.
	eng := &fakeEngine{err: ErrUnavailable}
	s := New(Config{}, fakeRenderer{w: 50, h: 50}, eng)
	r, _ := s.Render(context.Background(), "x.pdf", 1)
	if _, err := s.FullPage(context.Background(), r); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("err = %v", err)
	}
	if _, _, err := s.Region(context.Background(), r, docmodel.BBox{0, 0, 20, 20}, "r"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("err = %v", err)
	}
	if len(eng.psms) != 2 {
		t.Errorf("region should stop at first unavailable pass, psms = %v", eng.psms)
	}
}

func TestClean(t *testing.T) {
	cases := []struct {
		name, in, want string
	}{
		{"single number", "1.46\nTIN atau NPWP", "1.46 TIN atau NPWP"},
		{"number list", "1.46\n1.47\nPertama\nKedua", "1.46 Pertama\n1.47 Kedua"},
		{"spaces", "Laporan   keuangan  \t tahunan  ", "Laporan keuangan tahunan"},
		{"blank runs", "a\n\n\n\nb", "a\n\nb"},
		{"corrections", "Bank daan nasabah yano baik", "Bank dan nasabah yang baik"},
		{"trailing number", "Isi\n12", "Isi\n12"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := Clean(c.in); got != c.want {
				t.Errorf("Clean(%q) = %q, want %q", c.in, got, c.want)
			}
		})
	}
}

func TestFilterTableLines(t *testing.T) {
	in := "Total 12.500\nPenjelasan atas laporan keuangan konsolidasian\nKurs USD 15.000 per dolar Amerika\n45% 30% 25%"
	got := FilterTableLines(in)
	if got != "Penjelasan atas laporan keuangan konsolidasian" {
		t.Errorf("got %q", got)
	}
}

func TestDecide(t *testing.T) {
	size := docmodel.A4
	text := func(n int, s string) []docmodel.Block {
		var out []docmodel.Block
		for i := 0; i < n; i++ {
			out = append(out, docmodel.Block{Kind: docmodel.BlockText, Text: s, BBox: docmodel.BBox{50, float64(100 + 20*i), 300, float64(110 + 20*i)}})
		}
		return out
	}
	bigTable := []docmodel.Table{{BBox: docmodel.BBox{10, 10, 585, 800}}}
	scan := []docmodel.Block{{Kind: docmodel.BlockFigure, BBox: docmodel.BBox{0, 0, 595, 842}}}
	chart := []docmodel.Block{{Kind: docmodel.BlockFigure, BBox: docmodel.BBox{50, 300, 250, 400}, NeedsOCR: true}}
	photo := []docmodel.Block{{Kind: docmodel.BlockFigure, BBox: docmodel.BBox{50, 500, 250, 600}}}

	cases := []struct {
		name    string
		facts   PageFacts
		full    bool
		reason  Reason
		regions int
	}{
		{"table scan", PageFacts{Size: size, Text: text(1, "x"), Tables: bigTable}, true, ReasonTableScan, 0},
		{"table page with text", PageFacts{Size: size, Text: text(5, "x"), Tables: bigTable}, false, ReasonNone, 0},
		{"image scan", PageFacts{Size: size, Figures: scan}, true, ReasonImageScan, 0},
		{"empty", PageFacts{Size: size}, true, ReasonEmptyPage, 0},
		{"regions", PageFacts{Size: size, Text: text(4, "Paragraf isi laporan"), Figures: append(chart, photo...)}, false, ReasonNone, 1},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			d := Decide(c.facts)
			if d.FullPage != c.full || d.Reason != c.reason || len(d.Regions) != c.regions {
				t.Errorf("Decide = %+v", d)
			}
		})
	}
}
