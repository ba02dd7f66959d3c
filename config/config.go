// Package config loads the docenrich YAML configuration and maps it onto
// the per-component configs.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/docenrich/docpipe"
	"github.com/hazyhaar/docenrich/enhance"
	"github.com/hazyhaar/docenrich/horosembed"
	"github.com/hazyhaar/docenrich/layout"
	"github.com/hazyhaar/docenrich/llm"
	"github.com/hazyhaar/docenrich/synthesis"
	"github.com/hazyhaar/docenrich/vectorize"
	"github.com/hazyhaar/docenrich/vtq"
	"github.com/hazyhaar/docenrich/window"
)

// Config is the full docenrich configuration.
type Config struct {
	Listen          string `yaml:"listen"`
	ArtefactsDir    string `yaml:"artefacts_dir"`
	DBPath          string `yaml:"db_path"`
	ProfilesDir     string `yaml:"profiles_dir"`
	ActiveNamespace string `yaml:"active_namespace"`
	LogLevel        string `yaml:"log_level"`
	LogFormat       string `yaml:"log_format"`

	// DBTraceSlow enables SQL statement logging; statements slower than
	// this log at Warn. 0 disables tracing.
	DBTraceSlow time.Duration `yaml:"db_trace_slow"`

	Extraction  ExtractionConfig  `yaml:"extraction"`
	LLM         LLMConfig         `yaml:"llm"`
	Embedding   EmbeddingConfig   `yaml:"embedding"`
	VectorStore VectorStoreConfig `yaml:"vectorstore"`
	Enhancement EnhancementConfig `yaml:"enhancement"`
	Synthesis   SynthesisConfig   `yaml:"synthesis"`
	Queue       QueueConfig       `yaml:"queue"`
}

// ExtractionConfig configures the PDF pipeline.
type ExtractionConfig struct {
	Workers          int    `yaml:"workers"`
	DPI              int    `yaml:"dpi"`
	OCRLanguages     string `yaml:"ocr_languages"`
	TesseractPath    string `yaml:"tesseract_path"`
	PdftoppmPath     string `yaml:"pdftoppm_path"`
	HeaderFooterMode string `yaml:"header_footer_mode"`
	ColumnMode       string `yaml:"column_mode"`
	DebugRenders     bool   `yaml:"debug_renders"`
	DisableOCR       bool   `yaml:"disable_ocr"`
	Anchors          bool   `yaml:"anchors"`
	MaxFileMB        int    `yaml:"max_file_mb"`
}

// LLMConfig configures the completion provider and the enhancement windows.
type LLMConfig struct {
	Provider            string        `yaml:"provider"`
	Model               string        `yaml:"model"`
	BaseURL             string        `yaml:"base_url"`
	APIKey              string        `yaml:"api_key"`
	Temperature         float64       `yaml:"temperature"`
	MaxTokens           int           `yaml:"max_tokens"`
	Timeout             time.Duration `yaml:"timeout"`
	RetryAttempts       int           `yaml:"retry_attempts"`
	RetryBaseDelay      time.Duration `yaml:"retry_base_delay"`
	RequestsPerSecond   float64       `yaml:"requests_per_second"`
	WindowSize          int           `yaml:"window_size"`
	WindowOverlapTokens int           `yaml:"window_overlap_tokens"`
	MaxParallelWindows  int           `yaml:"max_parallel_windows"`
	MinContentLength    int           `yaml:"min_content_length"`
}

// EmbeddingConfig configures the embedding provider.
type EmbeddingConfig struct {
	Model     string `yaml:"model"`
	BaseURL   string `yaml:"base_url"`
	APIKey    string `yaml:"api_key"`
	Dimension int    `yaml:"dimension"`
	BatchSize int    `yaml:"batch_size"`
}

// VectorStoreConfig configures vectorization.
type VectorStoreConfig struct {
	// Namespace overrides the active namespace for vectors.
	Namespace       string `yaml:"namespace"`
	V1Enabled       bool   `yaml:"vector_version_v1_enabled"`
	V2Enabled       bool   `yaml:"vector_version_v2_enabled"`
	UploadBatchSize int    `yaml:"upload_batch_size"`
	ChunkSize       int    `yaml:"chunk_size"`
	ChunkOverlap    int    `yaml:"chunk_overlap"`
}

// EnhancementConfig configures approval and the type registry.
type EnhancementConfig struct {
	AutoApproveAll bool          `yaml:"auto_approve_all"`
	RegistryPath   string        `yaml:"registry_path"`
	// ReloadInterval polls the profiles directory while serving and drops
	// the cached profiles on change. The registry itself reloads only
	// through the API. 0 disables polling.
	ReloadInterval time.Duration `yaml:"reload_interval"`
}

// SynthesisConfig configures the v2 markdown.
type SynthesisConfig struct {
	IncludeFootnotes bool `yaml:"include_footnotes"`
	IncludeMetadata  bool `yaml:"include_metadata"`
}

// QueueConfig configures the background processing queue.
type QueueConfig struct {
	Workers      int           `yaml:"workers"`
	Visibility   time.Duration `yaml:"visibility"`
	PollInterval time.Duration `yaml:"poll_interval"`
	MaxAttempts  int           `yaml:"max_attempts"`
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() *Config {
	return &Config{
		Listen:          ":8080",
		ArtefactsDir:    "artefacts",
		DBPath:          "data/docenrich.db",
		ProfilesDir:     "profiles",
		ActiveNamespace: "default",
		LogLevel:        "info",
		LogFormat:       "json",
		Extraction: ExtractionConfig{
			Workers:          4,
			DPI:              200,
			OCRLanguages:     "ind+eng",
			TesseractPath:    "tesseract",
			PdftoppmPath:     "pdftoppm",
			HeaderFooterMode: "auto",
			ColumnMode:       "histogram",
			MaxFileMB:        100,
		},
		LLM: LLMConfig{
			Provider:            "openai",
			Model:               "gpt-4.1",
			Temperature:         0.3,
			MaxTokens:           8000,
			Timeout:             120 * time.Second,
			RetryAttempts:       3,
			RetryBaseDelay:      time.Second,
			RequestsPerSecond:   2,
			WindowSize:          10000,
			WindowOverlapTokens: 500,
			MaxParallelWindows:  5,
			MinContentLength:    100,
		},
		Embedding: EmbeddingConfig{
			Model:     "text-embedding-3-small",
			BatchSize: 64,
		},
		VectorStore: VectorStoreConfig{
			V1Enabled:       true,
			V2Enabled:       true,
			UploadBatchSize: 100,
			ChunkSize:       1000,
			ChunkOverlap:    150,
		},
		Enhancement: EnhancementConfig{AutoApproveAll: true, ReloadInterval: 2 * time.Second},
		Synthesis:   SynthesisConfig{IncludeFootnotes: true, IncludeMetadata: true},
		Queue: QueueConfig{
			Workers:      2,
			Visibility:   10 * time.Minute,
			PollInterval: 2 * time.Second,
			MaxAttempts:  3,
		},
	}
}

// LoadConfig reads path over DefaultConfig, applies the environment and
// validates. An empty path uses the defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.ApplyEnv(os.Getenv)
	return cfg, cfg.Validate()
}

// LoadEnv loads .env files into the process environment. Missing files
// are ignored; existing variables win.
func LoadEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// ApplyEnv overrides secrets and endpoints from the environment.
func (c *Config) ApplyEnv(getenv func(string) string) {
	set := func(dst *string, key string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	set(&c.LLM.APIKey, "OPENAI_API_KEY")
	set(&c.LLM.BaseURL, "OPENAI_BASE_URL")
	set(&c.Embedding.APIKey, "OPENAI_API_KEY")
	set(&c.Listen, "DOCENRICH_LISTEN")
	set(&c.ArtefactsDir, "DOCENRICH_ARTEFACTS_DIR")
	set(&c.DBPath, "DOCENRICH_DB_PATH")
	set(&c.LogLevel, "LOG_LEVEL")
}

// Validate checks that required fields are present and values are sane.
func (c *Config) Validate() error {
	if c.ArtefactsDir == "" {
		return fmt.Errorf("artefacts_dir is required")
	}
	if c.DBPath == "" {
		return fmt.Errorf("db_path is required")
	}
	if c.ActiveNamespace == "" {
		return fmt.Errorf("active_namespace is required")
	}
	switch c.LogFormat {
	case "json", "text":
	default:
		return fmt.Errorf("log_format must be json or text, got %q", c.LogFormat)
	}
	if c.Extraction.Workers <= 0 {
		return fmt.Errorf("extraction.workers must be > 0")
	}
	if c.Extraction.MaxFileMB <= 0 {
		return fmt.Errorf("extraction.max_file_mb must be > 0")
	}
	switch c.Extraction.HeaderFooterMode {
	case "auto", "strict", "off":
	default:
		return fmt.Errorf("extraction.header_footer_mode %q (use auto, strict or off)", c.Extraction.HeaderFooterMode)
	}
	switch c.Extraction.ColumnMode {
	case "histogram", "kmeans":
	default:
		return fmt.Errorf("extraction.column_mode %q (use histogram or kmeans)", c.Extraction.ColumnMode)
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		return fmt.Errorf("llm.temperature must be in [0, 2]")
	}
	if c.LLM.WindowSize <= 0 {
		return fmt.Errorf("llm.window_size must be > 0")
	}
	if c.LLM.WindowOverlapTokens >= c.LLM.WindowSize {
		return fmt.Errorf("llm.window_overlap_tokens must be < window_size")
	}
	if c.LLM.RequestsPerSecond <= 0 {
		return fmt.Errorf("llm.requests_per_second must be > 0")
	}
	if c.VectorStore.ChunkSize <= 0 || c.VectorStore.ChunkOverlap >= c.VectorStore.ChunkSize {
		return fmt.Errorf("vectorstore.chunk_overlap must be < chunk_size")
	}
	if !c.VectorStore.V1Enabled && !c.VectorStore.V2Enabled {
		return fmt.Errorf("vectorstore: at least one markdown version must be enabled")
	}
	if c.Queue.Workers <= 0 {
		return fmt.Errorf("queue.workers must be > 0")
	}
	if c.Enhancement.ReloadInterval < 0 {
		return fmt.Errorf("enhancement.reload_interval must be >= 0")
	}
	return nil
}

// MaxFileBytes returns the upload size limit in bytes.
func (c *Config) MaxFileBytes() int64 { return int64(c.Extraction.MaxFileMB) * 1024 * 1024 }

// VectorNamespace is the namespace vectors go to when a run names none.
func (c *Config) VectorNamespace() string {
	if c.VectorStore.Namespace != "" {
		return c.VectorStore.Namespace
	}
	return c.ActiveNamespace
}

// Docpipe maps the extraction section.
func (c *Config) Docpipe() docpipe.Config {
	e := c.Extraction
	return docpipe.Config{
		Workers:       e.Workers,
		MaxFileSize:   c.MaxFileBytes(),
		DPI:           e.DPI,
		OCRLanguages:  e.OCRLanguages,
		TesseractPath: e.TesseractPath,
		PdftoppmPath:  e.PdftoppmPath,
		DisableOCR:    e.DisableOCR,
		DebugRenders:  e.DebugRenders,
		Anchors:       e.Anchors,
		Layout: layout.Options{
			HeaderFooterMode: e.HeaderFooterMode,
			ColumnMode:       e.ColumnMode,
		},
	}
}

// Completion maps the llm section onto the client config.
func (c *Config) Completion() llm.Config {
	l := c.LLM
	return llm.Config{
		Provider:          l.Provider,
		Model:             l.Model,
		BaseURL:           l.BaseURL,
		APIKey:            l.APIKey,
		Temperature:       l.Temperature,
		MaxTokens:         l.MaxTokens,
		Timeout:           l.Timeout,
		RequestsPerSecond: l.RequestsPerSecond,
	}
}

// Window maps the window budget.
func (c *Config) Window() window.Config {
	return window.Config{MaxTokens: c.LLM.WindowSize, OverlapTokens: c.LLM.WindowOverlapTokens}
}

// Enhance maps the executor settings.
func (c *Config) Enhance() enhance.Config {
	return enhance.Config{
		MinContentLength:   c.LLM.MinContentLength,
		RetryAttempts:      c.LLM.RetryAttempts,
		RetryBaseDelay:     c.LLM.RetryBaseDelay,
		MaxParallelWindows: c.LLM.MaxParallelWindows,
		Model:              c.LLM.Model,
	}
}

// Embedder maps the embedding section. The provider and rate follow llm.
func (c *Config) Embedder() horosembed.Config {
	base := c.Embedding.BaseURL
	if base == "" {
		base = c.LLM.BaseURL
	}
	return horosembed.Config{
		Provider:          c.LLM.Provider,
		BaseURL:           base,
		APIKey:            c.Embedding.APIKey,
		Model:             c.Embedding.Model,
		Dimension:         c.Embedding.Dimension,
		BatchSize:         c.Embedding.BatchSize,
		RequestsPerSecond: c.LLM.RequestsPerSecond,
	}
}

// Vectorize maps the vector store section.
func (c *Config) Vectorize() vectorize.Config {
	v := c.VectorStore
	var versions []string
	if v.V1Enabled {
		versions = append(versions, "v1")
	}
	if v.V2Enabled {
		versions = append(versions, "v2")
	}
	return vectorize.Config{
		Namespace:       c.VectorNamespace(),
		Versions:        versions,
		UploadBatchSize: v.UploadBatchSize,
		ChunkSize:       v.ChunkSize,
		ChunkOverlap:    v.ChunkOverlap,
	}
}

// SynthesisOptions maps the synthesis section.
func (c *Config) SynthesisOptions() synthesis.Config {
	return synthesis.Config{
		IncludeFootnotes: c.Synthesis.IncludeFootnotes,
		IncludeMetadata:  c.Synthesis.IncludeMetadata,
	}
}

// QueueOptions maps the queue section.
func (c *Config) QueueOptions() vtq.Options {
	return vtq.Options{
		Visibility:   c.Queue.Visibility,
		PollInterval: c.Queue.PollInterval,
		MaxAttempts:  c.Queue.MaxAttempts,
	}
}
