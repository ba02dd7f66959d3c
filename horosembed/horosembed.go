// Package horosembed converts text to float32 vectors through any
// OpenAI-compatible embeddings endpoint.
//
// Usage:
//
//	emb := horosembed.New(horosembed.Config{
//	    APIKey: os.Getenv("OPENAI_API_KEY"),
//	    Model:  "text-embedding-3-small",
//	})
//	vec, err := emb.Embed(ctx, "Berapa laba bersih 2023?")
//	// vec is []float32 of dimension 1536
package horosembed

import (
	"context"
	"log/slog"
	"time"

	"github.com/hazyhaar/docenrich/llm"
)

// Embedder converts text to vectors.
type Embedder interface {
	// Embed returns the embedding vector for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch returns embeddings for several texts, in input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension returns the vector dimension.
	Dimension() int

	// Model returns the model name.
	Model() string
}

// Config configures the embedding client.
type Config struct {
	// Provider keys the shared rate limiter. Default: "openai".
	Provider string `json:"provider" yaml:"provider"`

	// BaseURL of an OpenAI-compatible server. Empty uses the OpenAI API.
	BaseURL string `json:"base_url" yaml:"base_url"`

	// APIKey for the provider. With neither APIKey nor BaseURL, New
	// returns a no-op embedder.
	APIKey string `json:"-" yaml:"api_key"`

	// Model is the embedding model. Default: "text-embedding-3-small".
	Model string `json:"model" yaml:"model"`

	// Dimension overrides the dimension looked up from the model name.
	Dimension int `json:"dimension" yaml:"dimension"`

	// BatchSize is the maximum number of texts per request. Default: 64.
	BatchSize int `json:"batch_size" yaml:"batch_size"`

	// Timeout per request. Default: 30s.
	Timeout time.Duration `json:"timeout" yaml:"timeout"`

	// RequestsPerSecond feeds the shared limiter. Default: 2.
	RequestsPerSecond float64 `json:"requests_per_second" yaml:"requests_per_second"`

	Limiters *llm.Limiters `json:"-" yaml:"-"`
	Logger   *slog.Logger  `json:"-" yaml:"-"`
}

func (c *Config) defaults() {
	if c.Provider == "" {
		c.Provider = "openai"
	}
	if c.Model == "" {
		c.Model = "text-embedding-3-small"
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 64
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.RequestsPerSecond == 0 {
		c.RequestsPerSecond = 2
	}
	if c.Limiters == nil {
		c.Limiters = llm.DefaultLimiters()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// New creates an Embedder from config. Without credentials or a base URL
// it returns a no-op embedder producing zero vectors of the model's
// dimension.
func New(cfg Config) Embedder {
	cfg.defaults()
	dim := DimensionFor(cfg.Model, cfg.Dimension)
	if cfg.APIKey == "" && cfg.BaseURL == "" {
		cfg.Logger.Warn("embedding provider not configured, using zero vectors", "model", cfg.Model)
		return &noopEmbedder{dim: dim, model: cfg.Model}
	}
	return newOpenAIClient(cfg, dim)
}

// noopEmbedder returns zero vectors, for running without a provider.
type noopEmbedder struct {
	dim   int
	model string
}

func (n *noopEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	return make([]float32, n.dim), nil
}

func (n *noopEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = make([]float32, n.dim)
	}
	return out, nil
}

func (n *noopEmbedder) Dimension() int { return n.dim }
func (n *noopEmbedder) Model() string  { return n.model }
