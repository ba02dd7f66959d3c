package docpipe

import (
	"log/slog"

	"github.com/hazyhaar/docenrich/layout"
	"github.com/hazyhaar/docenrich/observability"
)

// Config configures the extraction pipeline.
type Config struct {
	// Workers bounds the number of pages processed concurrently. Default: 4.
	Workers int `json:"workers" yaml:"workers"`

	// MaxFileSize is the maximum PDF size to process (default: 100 MB).
	MaxFileSize int64 `json:"max_file_size" yaml:"max_file_size"`

	// DPI for OCR renders. Default: 200.
	DPI int `json:"dpi" yaml:"dpi"`

	// OCRLanguages is passed to tesseract. Default: "ind+eng".
	OCRLanguages string `json:"ocr_languages" yaml:"ocr_languages"`

	// TesseractPath and PdftoppmPath override the binaries looked up in PATH.
	TesseractPath string `json:"tesseract_path" yaml:"tesseract_path"`
	PdftoppmPath  string `json:"pdftoppm_path" yaml:"pdftoppm_path"`

	// DisableOCR skips every OCR path.
	DisableOCR bool `json:"disable_ocr" yaml:"disable_ocr"`

	// DebugRenders keeps pages/page-N.png and crops/ in the document directory.
	DebugRenders bool `json:"debug_renders" yaml:"debug_renders"`

	// MaxOCRRegionsPerPage caps per-figure OCR on one page. Default: 10.
	MaxOCRRegionsPerPage int `json:"max_ocr_regions_per_page" yaml:"max_ocr_regions_per_page"`

	// FallbackMinChars is the plain-text length above which a page whose text
	// was almost entirely masked by tables gets an OCR pass. Default: 500.
	FallbackMinChars int `json:"fallback_min_chars" yaml:"fallback_min_chars"`

	// Anchors emits unit anchors as HTML comments in the markdown.
	Anchors bool `json:"anchors" yaml:"anchors"`

	Layout layout.Options `json:"layout" yaml:"layout"`

	Metrics *observability.Metrics `json:"-" yaml:"-"`

	// Logger for debug/error messages.
	Logger *slog.Logger `json:"-" yaml:"-"`
}

func (c *Config) defaults() {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.MaxFileSize <= 0 {
		c.MaxFileSize = 100 * 1024 * 1024
	}
	if c.DPI <= 0 {
		c.DPI = 200
	}
	if c.OCRLanguages == "" {
		c.OCRLanguages = "ind+eng"
	}
	if c.MaxOCRRegionsPerPage <= 0 {
		c.MaxOCRRegionsPerPage = 10
	}
	if c.FallbackMinChars <= 0 {
		c.FallbackMinChars = 500
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}
