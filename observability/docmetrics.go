package observability

import (
	"errors"
	"sync"
	"time"

	"github.com/hazyhaar/docenrich/artifacts"
)

// ExtractionMetrics summarizes one extraction run.
type ExtractionMetrics struct {
	Pages           int            `json:"pages"`
	PagesFailed     int            `json:"pages_failed"`
	Units           int            `json:"units"`
	UnitsByType     map[string]int `json:"units_by_type"`
	UnitsBySource   map[string]int `json:"units_by_source"`
	Tables          int            `json:"tables"`
	Figures         int            `json:"figures"`
	OCRPages        int            `json:"ocr_pages"`
	OCRRegions      int            `json:"ocr_regions"`
	ExcludedBlocks  int            `json:"excluded_blocks"`
	TableFixes      map[string]int `json:"table_fixes"`
	DurationSeconds float64        `json:"duration_seconds"`
	Quality         any            `json:"quality,omitempty"`
}

// EnhancementMetrics summarizes one enhancement run.
type EnhancementMetrics struct {
	Windows          int            `json:"windows"`
	WindowsFailed    int            `json:"windows_failed"`
	LLMCalls         int            `json:"llm_calls"`
	PromptTokens     int64          `json:"prompt_tokens"`
	CompletionTokens int64          `json:"completion_tokens"`
	Candidates       int            `json:"candidates"`
	Enhancements     int            `json:"enhancements"`
	ByType           map[string]int `json:"by_type"`
	DurationSeconds  float64        `json:"duration_seconds"`
}

// VectorMetrics summarizes vectorization per markdown version.
type VectorMetrics struct {
	Chunks    map[string]int `json:"chunks"`
	Upserted  int            `json:"upserted"`
	Namespace string         `json:"namespace"`
	Dimension int            `json:"dimension"`
}

// DocMetrics is metrics.json.
type DocMetrics struct {
	DocID          string              `json:"doc_id"`
	Extraction     *ExtractionMetrics  `json:"extraction,omitempty"`
	Enhancement    *EnhancementMetrics `json:"enhancement,omitempty"`
	Vectorization  *VectorMetrics      `json:"vectorization,omitempty"`
	StageDurations map[string]float64  `json:"stage_durations,omitempty"`
	UpdatedAt      time.Time           `json:"updated_at"`
}

var docMetricsMu sync.Mutex

// UpdateDocMetrics loads metrics.json, applies fn and writes it back.
// Several stages contribute to the same file.
func UpdateDocMetrics(store *artifacts.Store, docID string, fn func(*DocMetrics)) error {
	docMetricsMu.Lock()
	defer docMetricsMu.Unlock()

	var m DocMetrics
	if err := store.ReadJSON(docID, artifacts.MetricsFile, &m); err != nil && !errors.Is(err, artifacts.ErrNotFound) {
		return err
	}
	m.DocID = docID
	fn(&m)
	m.UpdatedAt = time.Now().UTC()
	return store.WriteJSON(docID, artifacts.MetricsFile, &m)
}
