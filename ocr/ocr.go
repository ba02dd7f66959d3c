// Package ocr renders PDF pages and image regions and runs an OCR engine
// over them when native text is absent or sparse.
//
// Renderer and Engine are capability interfaces. The default implementations
// shell out to pdftoppm and tesseract; when either binary is missing they
// return ErrUnavailable and the caller continues without OCR text.
package ocr

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"
	"unicode"

	"github.com/disintegration/imaging"

	"github.com/hazyhaar/docenrich/docmodel"
)

// ErrUnavailable is returned when the renderer or the OCR engine cannot run.
var ErrUnavailable = errors.New("ocr: unavailable")

// Renderer rasterizes one PDF page.
type Renderer interface {
	RenderPage(ctx context.Context, pdfPath string, page, dpi int) (image.Image, error)
}

// Engine recognizes text in an image using a page segmentation mode.
type Engine interface {
	Recognize(ctx context.Context, img image.Image, psm int) (string, error)
}

// Page segmentation modes.
const (
	PSMSingleLine   = 7
	PSMUniformBlock = 6
	PSMSparse       = 11
	PSMRawLine      = 13
)

// RegionPSMs is the order in which region OCR tries segmentation modes.
var RegionPSMs = []int{PSMSingleLine, PSMUniformBlock, PSMSparse, PSMRawLine}

// Config configures the OCR service.
type Config struct {
	// DPI used for page renders. Default: 200.
	DPI int `json:"dpi" yaml:"dpi"`
	// Languages passed to the engine. Default: "ind+eng".
	Languages string `json:"languages" yaml:"languages"`
	// DebugDir receives pages/page-N.png and crops/ when non-empty.
	DebugDir string `json:"debug_dir" yaml:"debug_dir"`

	Logger *slog.Logger `json:"-" yaml:"-"`
}

func (c *Config) defaults() {
	if c.DPI <= 0 {
		c.DPI = 200
	}
	if c.Languages == "" {
		c.Languages = "ind+eng"
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Service performs page and region OCR.
type Service struct {
	renderer Renderer
	engine   Engine
	cfg      Config

	warnOnce sync.Once
}

// New creates a Service. A nil renderer or engine selects the exec-based
// default.
func New(cfg Config, r Renderer, e Engine) *Service {
	cfg.defaults()
	if r == nil {
		r = &Pdftoppm{}
	}
	if e == nil {
		e = &Tesseract{Languages: cfg.Languages}
	}
	return &Service{renderer: r, engine: e, cfg: cfg}
}

// Rendered is a rasterized page with its scale from PDF points to pixels.
type Rendered struct {
	Page  int
	Image image.Image
	Scale float64
}

// Render rasterizes a page at the configured DPI.
func (s *Service) Render(ctx context.Context, pdfPath string, page int) (*Rendered, error) {
	img, err := s.renderer.RenderPage(ctx, pdfPath, page, s.cfg.DPI)
	if err != nil {
		s.unavailable(err)
		return nil, err
	}
	if s.cfg.DebugDir != "" {
		s.saveDebug(img, filepath.Join(s.cfg.DebugDir, "pages", fmt.Sprintf("page-%d.png", page)))
	}
	return &Rendered{Page: page, Image: img, Scale: float64(s.cfg.DPI) / 72}, nil
}

// FullPage preprocesses a whole rendered page and OCRs it with a single
// uniform-block pass.
func (s *Service) FullPage(ctx context.Context, r *Rendered) (string, error) {
	txt, err := s.engine.Recognize(ctx, Preprocess(r.Image), PSMUniformBlock)
	if err != nil {
		s.unavailable(err)
		return "", err
	}
	return Clean(txt), nil
}

// Region OCRs the part of a rendered page under bbox. It returns the best
// text across RegionPSMs and the path of the debug crop, if one was saved.
func (s *Service) Region(ctx context.Context, r *Rendered, bbox docmodel.BBox, name string) (string, string, error) {
	bounds := r.Image.Bounds()
	rect := image.Rect(
		int(math.Floor(bbox.X0()*r.Scale)), int(math.Floor(bbox.Y0()*r.Scale)),
		int(math.Ceil(bbox.X1()*r.Scale)), int(math.Ceil(bbox.Y1()*r.Scale)),
	).Add(bounds.Min).Intersect(bounds)
	if rect.Empty() {
		return "", "", nil
	}
	img := Preprocess(imaging.Crop(r.Image, rect))

	var cropPath string
	if s.cfg.DebugDir != "" {
		cropPath = filepath.Join(s.cfg.DebugDir, "crops", name+".png")
		if !s.saveDebug(img, cropPath) {
			cropPath = ""
		}
	}

	best, bestScore := "", -1
	for _, psm := range RegionPSMs {
		if err := ctx.Err(); err != nil {
			return "", cropPath, err
		}
		txt, err := s.engine.Recognize(ctx, img, psm)
		if err != nil {
			if errors.Is(err, ErrUnavailable) {
				s.unavailable(err)
				return "", cropPath, err
			}
			s.cfg.Logger.Debug("ocr: region pass failed", "psm", psm, "region", name, "error", err)
			continue
		}
		if score := Meaningful(txt); score > bestScore {
			best, bestScore = txt, score
		}
	}
	return Clean(best), cropPath, nil
}

// Preprocess converts to grayscale, raises contrast and sharpens.
func Preprocess(img image.Image) *image.NRGBA {
	out := imaging.Grayscale(img)
	out = imaging.AdjustContrast(out, 20)
	return imaging.Sharpen(out, 1.0)
}

// Meaningful counts letters and digits.
func Meaningful(s string) int {
	n := 0
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			n++
		}
	}
	return n
}

func (s *Service) unavailable(err error) {
	if !errors.Is(err, ErrUnavailable) {
		return
	}
	s.warnOnce.Do(func() {
		s.cfg.Logger.Warn("ocr: disabled, continuing without OCR", "error", err)
	})
}

func (s *Service) saveDebug(img image.Image, path string) bool {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		s.cfg.Logger.Debug("ocr: debug dir", "path", path, "error", err)
		return false
	}
	if err := imaging.Save(img, path); err != nil {
		s.cfg.Logger.Debug("ocr: debug save", "path", path, "error", err)
		return false
	}
	return true
}
