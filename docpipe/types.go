package docpipe

import (
	"time"

	"github.com/hazyhaar/docenrich/docmodel"
	"github.com/hazyhaar/docenrich/mdemit"
	"github.com/hazyhaar/docenrich/observability"
)

// Options carries per-document inputs of one extraction.
type Options struct {
	// SourceFile is the original upload name, used for the title and base name.
	SourceFile string
	// Title overrides the detected title.
	Title string
	// Progress is called after every processed page.
	Progress func(Progress)
}

// Progress is conversion_progress.json.
type Progress struct {
	Status      string    `json:"status"` // running, completed, failed
	Message     string    `json:"message,omitempty"`
	PagesDone   int       `json:"pages_done"`
	PagesTotal  int       `json:"pages_total"`
	CurrentPage int       `json:"current_page"`
	FailedPages []int     `json:"failed_pages"`
	Percent     float64   `json:"percent"`
	UpdatedAt   time.Time `json:"updated_at"`
}

const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Result is the outcome of extracting one document.
type Result struct {
	DocID        string                          `json:"doc_id"`
	PageCount    int                             `json:"page_count"`
	Units        []docmodel.Unit                 `json:"-"`
	Tables       []docmodel.Table                `json:"-"`
	Figures      []docmodel.Figure               `json:"-"`
	Markdown     string                          `json:"-"`
	MarkdownFile string                          `json:"markdown_file"`
	Meta         mdemit.Meta                     `json:"meta"`
	FailedPages  []int                           `json:"failed_pages"`
	Quality      *ExtractionQuality              `json:"quality,omitempty"`
	Metrics      observability.ExtractionMetrics `json:"metrics"`
}

// UnitCount is used by the orchestrator's stage metadata.
func (r *Result) UnitCount() int { return len(r.Units) }
