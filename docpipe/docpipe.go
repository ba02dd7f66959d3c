// Package docpipe turns a PDF into ordered, typed content units and the
// canonical markdown artifact.
//
// It composes the extraction stages: pdfcpu validates the file and counts
// pages, the layout mapper builds positioned blocks per page, the table
// chain recovers tables, the OCR policy decides which pages and figures are
// rendered and recognized, and the assembler masks tables and merges
// blocks into units. Pages run on a bounded worker pool; results are put
// back in page order before the markdown is rendered and the artifacts are
// written.
//
// Usage:
//
//	pipe := docpipe.New(docpipe.Config{}, store)
//	res, err := pipe.Extract(ctx, docID, store.Path(docID, artifacts.SourcePDF), docpipe.Options{})
package docpipe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hazyhaar/docenrich/artifacts"
	"github.com/hazyhaar/docenrich/assemble"
	"github.com/hazyhaar/docenrich/docmodel"
	"github.com/hazyhaar/docenrich/layout"
	"github.com/hazyhaar/docenrich/mdemit"
	"github.com/hazyhaar/docenrich/observability"
	"github.com/hazyhaar/docenrich/ocr"
	"github.com/hazyhaar/docenrich/tables"
)

// ErrInputDefect marks a PDF that cannot be processed at all: unreadable,
// oversized or without pages. It is not retried.
var ErrInputDefect = errors.New("docpipe: input defect")

// Pipeline is the PDF extraction engine.
type Pipeline struct {
	cfg       Config
	store     *artifacts.Store
	tables    *tables.Chain
	assembler *assemble.Assembler
	renderer  ocr.Renderer
	engine    ocr.Engine
	logger    *slog.Logger
	now       func() time.Time
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithOCR replaces the pdftoppm renderer and the tesseract engine.
func WithOCR(r ocr.Renderer, e ocr.Engine) Option {
	return func(p *Pipeline) { p.renderer, p.engine = r, e }
}

// WithTables replaces the table extractor chain.
func WithTables(c *tables.Chain) Option {
	return func(p *Pipeline) { p.tables = c }
}

// WithClock fixes the extraction timestamp.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// New creates a Pipeline writing artifacts into store.
func New(cfg Config, store *artifacts.Store, opts ...Option) *Pipeline {
	cfg.defaults()
	p := &Pipeline{
		cfg:       cfg,
		store:     store,
		tables:    tables.NewChain(cfg.Logger),
		assembler: assemble.New(assemble.Config{Logger: cfg.Logger}),
		logger:    cfg.Logger,
		now:       time.Now,
	}
	for _, o := range opts {
		o(p)
	}
	if p.renderer == nil {
		p.renderer = &ocr.Pdftoppm{Binary: cfg.PdftoppmPath}
	}
	if p.engine == nil {
		p.engine = &ocr.Tesseract{Binary: cfg.TesseractPath, Languages: cfg.OCRLanguages}
	}
	return p
}

// pageResult is everything one page contributes to the document.
type pageResult struct {
	units      []docmodel.Unit
	tables     []docmodel.Table
	figures    []docmodel.Figure
	stats      assemble.Stats
	ocrPage    bool
	ocrRegions int
	ocrChars   int
}

// run is the shared state of one extraction.
type run struct {
	docID string
	path  string
	doc   *layout.Document
	info  *pdfInfo
	ocr   *ocr.Service
	// docMu serializes access to the PDF readers, which are not safe for
	// concurrent use.
	docMu sync.Mutex
}

// Extract processes the PDF at path as document docID and writes the
// extraction artifacts into the document directory.
func (p *Pipeline) Extract(ctx context.Context, docID, path string, opts Options) (*Result, error) {
	start := time.Now()
	log := observability.WithDoc(p.logger, docID)

	if _, err := p.store.Ensure(docID); err != nil {
		return nil, err
	}
	st, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%w: stat %s: %v", ErrInputDefect, path, err)
	}
	if st.Size() > p.cfg.MaxFileSize {
		return nil, fmt.Errorf("%w: file too large: %d bytes (max %d)", ErrInputDefect, st.Size(), p.cfg.MaxFileSize)
	}

	info, err := inspectPDF(path)
	if err != nil {
		log.Warn("docpipe: pdfcpu inspection failed, continuing with layout reader", "error", err)
	}
	doc, err := layout.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInputDefect, err)
	}
	defer doc.Close()
	total := doc.NumPages()
	if total == 0 {
		return nil, fmt.Errorf("%w: no pages", ErrInputDefect)
	}

	r := &run{docID: docID, path: path, doc: doc, info: info}
	if !p.cfg.DisableOCR {
		ocrCfg := ocr.Config{DPI: p.cfg.DPI, Languages: p.cfg.OCRLanguages, Logger: log}
		if p.cfg.DebugRenders {
			ocrCfg.DebugDir, _ = p.store.Dir(docID)
		}
		r.ocr = ocr.New(ocrCfg, p.renderer, p.engine)
	}

	log.Info("docpipe: extraction started", "pages", total, "workers", p.cfg.Workers)
	progress := newProgressTracker(p.store, docID, total, opts.Progress, log)

	results := make([]*pageResult, total)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Workers)
	for n := 1; n <= total; n++ {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			res, err := p.page(gctx, r, n)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				log.Warn("docpipe: page failed, skipping", "page", n, "error", err)
				p.cfg.Metrics.Page("failed")
				progress.page(n, true)
				return nil
			}
			results[n-1] = res
			p.cfg.Metrics.Page("ok")
			progress.page(n, false)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		progress.finish(StatusFailed, "Ekstraksi dibatalkan")
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		progress.finish(StatusFailed, "Ekstraksi dibatalkan")
		return nil, err
	}

	out, ocrChars := p.collect(docID, total, results)
	out.FailedPages = progress.failed()
	out.Quality = computeQuality(total, unitText(out.Units), ocrChars, info.HasImageStreams() || len(out.Figures) > 0)
	if out.Quality.NeedsOCR() && r.ocr == nil {
		log.Warn("docpipe: document looks scanned but OCR is disabled", "chars_per_page", out.Quality.CharsPerPage)
	}

	if err := p.write(docID, path, out, opts); err != nil {
		progress.finish(StatusFailed, err.Error())
		return nil, err
	}
	out.Metrics.DurationSeconds = time.Since(start).Seconds()
	out.Metrics.Quality = out.Quality
	if err := observability.UpdateDocMetrics(p.store, docID, func(m *observability.DocMetrics) {
		em := out.Metrics
		m.Extraction = &em
	}); err != nil {
		log.Warn("docpipe: write metrics", "error", err)
	}
	progress.finish(StatusCompleted, "Ekstraksi selesai")

	log.Info("docpipe: extraction done",
		"pages", total, "failed_pages", len(out.FailedPages), "units", len(out.Units),
		"tables", len(out.Tables), "figures", len(out.Figures), "duration", time.Since(start))
	return out, nil
}

// page extracts, OCRs and assembles one page.
func (p *Pipeline) page(ctx context.Context, r *run, n int) (*pageResult, error) {
	r.docMu.Lock()
	pg, err := r.doc.Page(n)
	if err == nil && len(pg.Glyphs) == 0 && strings.TrimSpace(pg.PlainText) == "" {
		pg.PlainText = r.info.PageText(n)
	}
	r.docMu.Unlock()
	if err != nil {
		return nil, err
	}

	mapped := layout.Map(pg, p.cfg.Layout)
	text := mapped.TextBlocks()
	figBlocks := mapped.FigureBlocks()

	tbls, err := p.tables.Extract(ctx, r.docID, &tables.PageInput{
		Number: n,
		Size:   pg.Size,
		Words:  layout.Words(pg.Glyphs),
		Rules:  pg.Rules,
	})
	if err != nil {
		return nil, fmt.Errorf("tables: %w", err)
	}

	res := &pageResult{tables: tbls}
	for i, b := range figBlocks {
		res.figures = append(res.figures, docmodel.Figure{
			FigureID:  fmt.Sprintf("f_%s_p%d_%d", r.docID, n, i),
			Page:      n,
			BBox:      b.BBox.Round(),
			AreaRatio: b.AreaRatio,
			NeedsOCR:  b.NeedsOCR,
		})
	}

	var rendered *ocr.Rendered
	var renderErr error
	render := func() *ocr.Rendered {
		if rendered == nil && renderErr == nil && r.ocr != nil {
			rendered, renderErr = r.ocr.Render(ctx, r.path, n)
			if renderErr != nil {
				p.logger.Debug("docpipe: render failed", "doc_id", r.docID, "page", n, "error", renderErr)
			}
		}
		return rendered
	}

	decision := ocr.Decide(ocr.PageFacts{Size: pg.Size, Text: text, Figures: figBlocks, Tables: tbls})
	if r.ocr != nil {
		if decision.FullPage {
			if rd := render(); rd != nil {
				txt, err := r.ocr.FullPage(ctx, rd)
				p.cfg.Metrics.OCR("full_page")
				if err == nil && txt != "" {
					p.logger.Debug("docpipe: full-page OCR", "doc_id", r.docID, "page", n, "reason", decision.Reason)
					text = []docmodel.Block{pageBlock(pg.Size, txt, docmodel.SourceOCRFull)}
					res.ocrPage = true
					res.ocrChars += len([]rune(txt))
				}
			}
		} else {
			p.regions(ctx, r, n, res, decision.Regions, render)
		}
	}

	page := assemble.Page{
		DocID:   r.docID,
		Number:  n,
		Size:    pg.Size,
		Text:    text,
		Tables:  tbls,
		Figures: res.figures,
		Assign:  mapped.Columns.Assign,
	}
	res.units, res.stats = p.assembler.Assemble(page)

	// Text almost entirely swallowed by table masking: recover the prose
	// around the tables from an OCR pass.
	if r.ocr != nil && !res.ocrPage && len(tbls) > 0 &&
		countType(res.units, docmodel.UnitParagraph) < 2 &&
		len([]rune(pg.PlainText)) > p.cfg.FallbackMinChars {
		if rd := render(); rd != nil {
			txt, err := r.ocr.FullPage(ctx, rd)
			p.cfg.Metrics.OCR("fallback")
			if txt = ocr.FilterTableLines(txt); err == nil && txt != "" {
				page.Text = append(page.Text, pageBlock(pg.Size, txt, docmodel.SourceOCRFallback))
				res.units, res.stats = p.assembler.Assemble(page)
				res.ocrChars += len([]rune(txt))
			}
		}
	}
	return res, ctx.Err()
}

// regions OCRs the figures the policy selected and stores their text.
func (p *Pipeline) regions(ctx context.Context, r *run, n int, res *pageResult, regions []docmodel.Block, render func() *ocr.Rendered) {
	if len(regions) == 0 {
		return
	}
	if len(regions) > p.cfg.MaxOCRRegionsPerPage {
		regions = regions[:p.cfg.MaxOCRRegionsPerPage]
	}
	rd := render()
	if rd == nil {
		return
	}
	for _, b := range regions {
		idx := figureIndex(res.figures, b.BBox.Round())
		if idx < 0 {
			continue
		}
		txt, crop, err := r.ocr.Region(ctx, rd, b.BBox, fmt.Sprintf("p%d_img%d", n, idx))
		p.cfg.Metrics.OCR("region")
		if errors.Is(err, ocr.ErrUnavailable) {
			return
		}
		if err != nil {
			p.logger.Debug("docpipe: region OCR failed", "doc_id", r.docID, "page", n, "figure", idx, "error", err)
			continue
		}
		res.ocrRegions++
		res.figures[idx].OCRText = txt
		if crop != "" {
			if dir, err := p.store.Dir(r.docID); err == nil {
				if rel, err := filepath.Rel(dir, crop); err == nil {
					crop = filepath.ToSlash(rel)
				}
			}
			res.figures[idx].CropPath = crop
		}
		res.ocrChars += len([]rune(txt))
	}
}

// collect merges page results in page order. It also returns the number of
// characters recovered by OCR.
func (p *Pipeline) collect(docID string, total int, results []*pageResult) (*Result, int) {
	out := &Result{DocID: docID, PageCount: total}
	ocrChars := 0
	m := &out.Metrics
	m.Pages = total
	m.UnitsByType = map[string]int{}
	m.UnitsBySource = map[string]int{}
	m.TableFixes = map[string]int{}
	for _, res := range results {
		if res == nil {
			m.PagesFailed++
			continue
		}
		out.Units = append(out.Units, res.units...)
		out.Tables = append(out.Tables, res.tables...)
		out.Figures = append(out.Figures, res.figures...)
		m.ExcludedBlocks += res.stats.Excluded
		m.OCRRegions += res.ocrRegions
		ocrChars += res.ocrChars
		if res.ocrPage {
			m.OCRPages++
		}
		for _, t := range res.tables {
			for k, v := range t.Fixes {
				m.TableFixes[k] += v
			}
		}
	}
	docmodel.SortUnits(out.Units)
	for _, u := range out.Units {
		m.UnitsByType[string(u.UnitType)]++
		m.UnitsBySource[string(u.Source)]++
	}
	m.Units = len(out.Units)
	m.Tables = len(out.Tables)
	m.Figures = len(out.Figures)
	if out.Tables == nil {
		out.Tables = []docmodel.Table{}
	}
	if out.Figures == nil {
		out.Figures = []docmodel.Figure{}
	}
	if out.Units == nil {
		out.Units = []docmodel.Unit{}
	}
	return out, ocrChars
}

// write renders the markdown and stores every extraction artifact.
func (p *Pipeline) write(docID, path string, out *Result, opts Options) error {
	meta, err := p.store.LoadMeta(docID)
	if err != nil {
		if !errors.Is(err, artifacts.ErrNotFound) {
			return err
		}
		src := opts.SourceFile
		if src == "" {
			src = filepath.Base(path)
		}
		meta = &artifacts.DocumentMeta{
			DocID:            docID,
			OriginalFilename: src,
			BaseName:         artifacts.BaseName(src),
			UploadedAt:       p.now().UTC(),
		}
	}
	if meta.BaseName == "" {
		meta.BaseName = artifacts.BaseName(meta.OriginalFilename)
	}
	source := opts.SourceFile
	if source == "" {
		source = meta.OriginalFilename
	}

	md, mdMeta, err := mdemit.Render(out.Units, mdemit.Options{
		DocID:       docID,
		Title:       opts.Title,
		SourceFile:  source,
		PageCount:   out.PageCount,
		HasImages:   len(out.Figures) > 0,
		ExtractedAt: p.now().UTC(),
		Anchors:     p.cfg.Anchors,
	})
	if err != nil {
		return err
	}
	out.Markdown, out.Meta = md, mdMeta
	out.MarkdownFile = artifacts.MarkdownName(meta.BaseName, artifacts.V1)

	for name, v := range map[string]any{
		artifacts.UnitsFile:   out.Units,
		artifacts.TablesFile:  out.Tables,
		artifacts.FiguresFile: out.Figures,
	} {
		if err := p.store.WriteJSON(docID, name, v); err != nil {
			return fmt.Errorf("docpipe: write %s: %w", name, err)
		}
	}
	if err := p.store.WriteFile(docID, out.MarkdownFile, []byte(md)); err != nil {
		return fmt.Errorf("docpipe: write markdown: %w", err)
	}

	if meta.MarkdownFiles == nil {
		meta.MarkdownFiles = map[string]string{}
	}
	meta.MarkdownFiles[artifacts.V1] = out.MarkdownFile
	return p.store.SaveMeta(meta)
}

// pageBlock wraps OCR text as one full-width block covering the page.
func pageBlock(size docmodel.PageSize, text string, src docmodel.Source) docmodel.Block {
	return docmodel.Block{
		Kind:   docmodel.BlockText,
		BBox:   size.Rect(),
		Text:   text,
		Column: docmodel.ColumnFull,
		Source: src,
	}
}

func figureIndex(figs []docmodel.Figure, bb docmodel.BBox) int {
	for i, f := range figs {
		if f.BBox.Near(bb, 1) {
			return i
		}
	}
	return -1
}

func countType(units []docmodel.Unit, t docmodel.UnitType) int {
	n := 0
	for _, u := range units {
		if u.UnitType == t {
			n++
		}
	}
	return n
}

func unitText(units []docmodel.Unit) string {
	var sb strings.Builder
	for _, u := range units {
		sb.WriteString(u.Content)
		sb.WriteByte('\n')
	}
	return sb.String()
}
