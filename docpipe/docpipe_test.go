package docpipe

import (
	"context"
	"errors"
	"image"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hazyhaar/docenrich/artifacts"
	"github.com/hazyhaar/docenrich/docmodel"
	"github.com/hazyhaar/docenrich/observability"
	"github.com/hazyhaar/docenrich/ocr"
)

type fakeRenderer struct{}

func (fakeRenderer) RenderPage(_ context.Context, _ string, _, dpi int) (image.Image, error) {
	s := float64(dpi) / 72
	return image.NewRGBA(image.Rect(0, 0, int(612*s), int(792*s))), nil
}

type fakeEngine struct {
	mu    sync.Mutex
	text  string
	calls int
}

func (e *fakeEngine) Recognize(_ context.Context, _ image.Image, _ int) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	if e.text == "" {
		return "", ocr.ErrUnavailable
	}
	return e.text, nil
}

func newTestPipeline(t *testing.T, engine *fakeEngine) (*Pipeline, *artifacts.Store) {
	t.Helper()
	store, err := artifacts.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	pipe := New(Config{Workers: 2}, store, WithOCR(fakeRenderer{}, engine), WithClock(func() time.Time { return fixed }))
	return pipe, store
}

func TestExtract_TextPDF(t *testing.T) {
	// WHAT: a two-page text PDF yields ordered units and every extraction artifact.
	// WHY: this is the main path for born-digital documents.
	pipe, store := newTestPipeline(t, &fakeEngine{})
	path := writePDF(t, "Laporan Tahunan.pdf", buildTextPDF([][]string{
		{"Laporan keuangan tahunan perusahaan", "menunjukkan kenaikan laba bersih."},
		{"Halaman kedua berisi penjelasan", "mengenai kebijakan akuntansi."},
	}))

	var last Progress
	res, err := pipe.Extract(context.Background(), "doc1", path, Options{Progress: func(p Progress) { last = p }})
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if res.PageCount != 2 {
		t.Errorf("pages = %d, want 2", res.PageCount)
	}
	if len(res.Units) < 2 {
		t.Fatalf("units = %d, want >= 2: %+v", len(res.Units), res.Units)
	}

	seen := map[string]bool{}
	pages := map[int]bool{}
	for _, u := range res.Units {
		if seen[u.UnitID] {
			t.Errorf("duplicate unit id %s", u.UnitID)
		}
		seen[u.UnitID] = true
		pages[u.Page] = true
		if strings.TrimSpace(u.Content) == "" {
			t.Errorf("empty unit %s", u.UnitID)
		}
		if !u.BBox.Valid(docmodel.PageSize{Width: 612, Height: 792}) {
			t.Errorf("bbox %v outside page", u.BBox)
		}
	}
	if !pages[1] || !pages[2] {
		t.Errorf("units do not cover both pages: %v", pages)
	}
	if res.Units[0].Page != 1 {
		t.Errorf("first unit on page %d", res.Units[0].Page)
	}
	if !strings.Contains(res.Markdown, "laba bersih") {
		t.Errorf("markdown misses page text:\n%s", res.Markdown)
	}
	if !strings.Contains(res.Markdown, "<!-- END OF DOCUMENT: doc1 -->") {
		t.Error("markdown misses footer")
	}

	if res.MarkdownFile != "Laporan_Tahunan.md" {
		t.Errorf("markdown file = %q", res.MarkdownFile)
	}
	for _, name := range []string{artifacts.UnitsFile, artifacts.TablesFile, artifacts.FiguresFile, res.MarkdownFile, artifacts.MetricsFile} {
		if _, err := store.ReadFile("doc1", name); err != nil {
			t.Errorf("artifact %s: %v", name, err)
		}
	}
	meta, err := store.LoadMeta("doc1")
	if err != nil {
		t.Fatal(err)
	}
	if meta.MarkdownFiles[artifacts.V1] != res.MarkdownFile {
		t.Errorf("meta markdown files = %v", meta.MarkdownFiles)
	}

	var prog Progress
	if err := store.ReadJSON("doc1", artifacts.ProgressFile, &prog); err != nil {
		t.Fatal(err)
	}
	if prog.Status != StatusCompleted || prog.PagesDone != 2 || prog.Percent != 100 {
		t.Errorf("progress = %+v", prog)
	}
	if last.Status != StatusCompleted {
		t.Errorf("last callback = %+v", last)
	}

	var dm observability.DocMetrics
	if err := store.ReadJSON("doc1", artifacts.MetricsFile, &dm); err != nil {
		t.Fatal(err)
	}
	if dm.Extraction == nil || dm.Extraction.Pages != 2 || dm.Extraction.Units != len(res.Units) {
		t.Errorf("metrics = %+v", dm.Extraction)
	}
}

func TestExtract_Deterministic(t *testing.T) {
	// WHAT: extracting the same file twice yields identical units JSON.
	// WHY: unit ids are referenced by enhancements across runs.
	pipe, store := newTestPipeline(t, &fakeEngine{})
	path := writePDF(t, "a.pdf", buildTextPDF([][]string{{"Satu dua tiga empat lima"}, {"Enam tujuh delapan"}, {"Sembilan sepuluh"}}))

	if _, err := pipe.Extract(context.Background(), "d", path, Options{}); err != nil {
		t.Fatal(err)
	}
	first, _ := store.ReadFile("d", artifacts.UnitsFile)
	if _, err := pipe.Extract(context.Background(), "d", path, Options{}); err != nil {
		t.Fatal(err)
	}
	second, _ := store.ReadFile("d", artifacts.UnitsFile)
	if string(first) != string(second) {
		t.Errorf("units differ between runs:\n%s\n%s", first, second)
	}
}

func TestExtract_ScannedPageUsesFullPageOCR(t *testing.T) {
	// WHAT: a page with only an image goes through full-page OCR and yields one paragraph.
	// WHY: scanned documents must still produce at least one unit per page.
	engine := &fakeEngine{text: "LAPORAN PINDAIAN\nLaba bersih naik 10%"}
	pipe, _ := newTestPipeline(t, engine)
	path := writePDF(t, "scan.pdf", buildImageOnlyPDF())

	res, err := pipe.Extract(context.Background(), "scan", path, Options{})
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	var paras []docmodel.Unit
	for _, u := range res.Units {
		if u.UnitType == docmodel.UnitParagraph {
			paras = append(paras, u)
		}
	}
	if len(paras) != 1 {
		t.Fatalf("paragraphs = %d, want 1: %+v", len(paras), res.Units)
	}
	if paras[0].Source != docmodel.SourceOCRFull || paras[0].Column != docmodel.ColumnFull {
		t.Errorf("unit = %+v", paras[0])
	}
	if !strings.Contains(paras[0].Content, "Laba bersih") {
		t.Errorf("content = %q", paras[0].Content)
	}
	if res.Metrics.OCRPages != 1 {
		t.Errorf("ocr pages = %d", res.Metrics.OCRPages)
	}
}

func TestExtract_OCRUnavailableDegrades(t *testing.T) {
	// WHAT: without an OCR engine a scanned page produces no units but no error.
	pipe, _ := newTestPipeline(t, &fakeEngine{})
	path := writePDF(t, "scan.pdf", buildImageOnlyPDF())

	res, err := pipe.Extract(context.Background(), "scan", path, Options{})
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(res.Units) != 0 {
		t.Errorf("units = %+v", res.Units)
	}
	if len(res.FailedPages) != 0 {
		t.Errorf("failed pages = %v", res.FailedPages)
	}
}

func TestExtract_InputDefect(t *testing.T) {
	// WHAT: an unreadable file fails with ErrInputDefect.
	// WHY: the orchestrator does not retry input defects.
	pipe, _ := newTestPipeline(t, &fakeEngine{})
	path := writePDF(t, "bad.pdf", []byte("%PDF-1.4\nthis is not a real document"))

	_, err := pipe.Extract(context.Background(), "bad", path, Options{})
	if !errors.Is(err, ErrInputDefect) {
		t.Fatalf("err = %v, want ErrInputDefect", err)
	}
	_, err = pipe.Extract(context.Background(), "bad", path+".missing", Options{})
	if !errors.Is(err, ErrInputDefect) {
		t.Fatalf("missing file err = %v", err)
	}
}

func TestExtract_TooLarge(t *testing.T) {
	store, _ := artifacts.New(t.TempDir())
	pipe := New(Config{MaxFileSize: 10}, store)
	path := writePDF(t, "a.pdf", buildTextPDF([][]string{{"x"}}))
	if _, err := pipe.Extract(context.Background(), "big", path, Options{}); !errors.Is(err, ErrInputDefect) {
		t.Fatalf("err = %v", err)
	}
}

func TestExtract_Cancelled(t *testing.T) {
	pipe, _ := newTestPipeline(t, &fakeEngine{})
	path := writePDF(t, "a.pdf", buildTextPDF([][]string{{"Satu"}, {"Dua"}}))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := pipe.Extract(ctx, "c", path, Options{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}
