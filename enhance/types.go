// Package enhance runs the enhancement engine over a document's windows: it
// prompts the LLM per window, parses and validates the answer, builds
// enhancement records and ranks the merged result.
package enhance

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/docenrich/observability"
)

var (
	// ErrTypeViolation is returned when too many items use unselected types.
	ErrTypeViolation = errors.New("enhance: type violation")
	// ErrUnparseable is returned when no parsing strategy yields an object.
	ErrUnparseable = errors.New("enhance: unparseable response")
	// ErrInvalidShape is returned when the response is JSON of the wrong shape.
	ErrInvalidShape = errors.New("enhance: invalid response shape")
)

// Enhancement status values.
const (
	StatusPending  = "pending"
	StatusApproved = "approved"
)

// Enhancement is one validated derived annotation.
type Enhancement struct {
	EnhancementID    string    `json:"enhancement_id"`
	DocID            string    `json:"doc_id"`
	EnhancementType  string    `json:"enhancement_type"`
	Title            string    `json:"title"`
	GeneratedContent string    `json:"generated_content"`
	SourceUnits      []string  `json:"source_units"`
	ConfidenceScore  float64   `json:"confidence_score"`
	Priority         int       `json:"priority"`
	OriginalContext  string    `json:"original_context"`
	Status           string    `json:"status"`
	Metadata         Metadata  `json:"metadata"`
	CreatedAt        time.Time `json:"created_at"`
}

// Metadata links an enhancement to the window it came from.
type Metadata struct {
	WindowID     string `json:"window_id"`
	WindowNumber int    `json:"window_number"`
	ContentType  string `json:"content_type"`
	HasTables    bool   `json:"has_tables"`
	HasNumerical bool   `json:"has_numerical"`
	Model        string `json:"model,omitempty"`
}

// Selection is what the client asked for.
type Selection struct {
	TypeIDs            []string `json:"selected_types" yaml:"selected_types"`
	DomainHint         string   `json:"domain_hint" yaml:"domain_hint"`
	CustomInstructions string   `json:"custom_instructions" yaml:"custom_instructions"`
}

// File is enhancements.json.
type File struct {
	DocID        string         `json:"doc_id"`
	Total        int            `json:"total"`
	ByType       map[string]int `json:"by_type"`
	Selection    Selection      `json:"selection"`
	Enhancements []Enhancement  `json:"enhancements"`
	GeneratedAt  time.Time      `json:"generated_at"`
}

// Progress is reported after each window.
type Progress struct {
	WindowsDone   int     `json:"windows_done"`
	WindowsTotal  int     `json:"windows_total"`
	FailedWindows int     `json:"failed_windows"`
	Enhancements  int     `json:"enhancements"`
	Percent       float64 `json:"percent"`
}

// WindowResult is the outcome of one window.
type WindowResult struct {
	Enhancements     []Enhancement
	Calls            int
	PromptTokens     int64
	CompletionTokens int64
	Rejected         int
	Failed           bool
}

// Result is the outcome of a document run.
type Result struct {
	Enhancements     []Enhancement  `json:"enhancements"`
	Windows          int            `json:"windows"`
	FailedWindows    []int          `json:"failed_windows"`
	Candidates       int            `json:"candidates"`
	LLMCalls         int            `json:"llm_calls"`
	PromptTokens     int64          `json:"prompt_tokens"`
	CompletionTokens int64          `json:"completion_tokens"`
	ByType           map[string]int `json:"by_type"`
	Duration         time.Duration  `json:"duration"`
}

// Config tunes the executor.
type Config struct {
	// MinContentLength drops items with shorter content, in characters.
	// Default: 100.
	MinContentLength int `json:"min_content_length" yaml:"min_content_length"`
	// RetryAttempts is the number of LLM calls per window. Default: 3.
	RetryAttempts int `json:"retry_attempts" yaml:"retry_attempts"`
	// RetryBaseDelay doubles after each failed attempt. Default: 1s.
	RetryBaseDelay time.Duration `json:"retry_base_delay" yaml:"retry_base_delay"`
	// MaxParallelWindows is the batch size. Default: 5.
	MaxParallelWindows int `json:"max_parallel_windows" yaml:"max_parallel_windows"`
	// ContentLimit truncates window content in the prompt, in characters.
	// Default: 12000.
	ContentLimit int `json:"content_limit" yaml:"content_limit"`
	// MaxRejectedShare above which a response is retried. Default: 0.3.
	MaxRejectedShare float64 `json:"max_rejected_share" yaml:"max_rejected_share"`
	// Model is recorded on each enhancement.
	Model string `json:"model" yaml:"model"`

	Now     func() time.Time       `json:"-" yaml:"-"`
	Metrics *observability.Metrics `json:"-" yaml:"-"`
	Logger  *slog.Logger           `json:"-" yaml:"-"`
}

func (c *Config) defaults() {
	if c.MinContentLength <= 0 {
		c.MinContentLength = 100
	}
	if c.RetryAttempts <= 0 {
		c.RetryAttempts = 3
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = time.Second
	}
	if c.MaxParallelWindows <= 0 {
		c.MaxParallelWindows = 5
	}
	if c.ContentLimit <= 0 {
		c.ContentLimit = 12000
	}
	if c.MaxRejectedShare <= 0 {
		c.MaxRejectedShare = 0.3
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// violation carries the counts behind ErrTypeViolation.
type violation struct {
	invalid, total int
	types          []string
}

func (v *violation) Error() string {
	return fmt.Sprintf("enhance: %d/%d items with unselected types %v", v.invalid, v.total, v.types)
}

func (v *violation) Unwrap() error { return ErrTypeViolation }
