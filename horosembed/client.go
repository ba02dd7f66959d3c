package horosembed

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"golang.org/x/time/rate"
)

// ErrDimensionMismatch is returned when the provider answers with vectors
// of another size than configured.
var ErrDimensionMismatch = errors.New("horosembed: dimension mismatch")

// openaiClient implements Embedder with the OpenAI SDK. It covers OpenAI
// itself and compatible servers (vLLM, Ollama, LiteLLM).
type openaiClient struct {
	api     openai.Client
	cfg     Config
	dim     int
	limiter *rate.Limiter
}

func newOpenAIClient(cfg Config, dim int) *openaiClient {
	opts := []option.RequestOption{
		option.WithMaxRetries(0),
		option.WithRequestTimeout(cfg.Timeout),
	}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &openaiClient{
		api:     openai.NewClient(opts...),
		cfg:     cfg,
		dim:     dim,
		limiter: cfg.Limiters.Get(cfg.Provider, cfg.BaseURL, cfg.RequestsPerSecond),
	}
}

func (c *openaiClient) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (c *openaiClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	result := make([][]float32, len(texts))
	for start := 0; start < len(texts); start += c.cfg.BatchSize {
		end := min(start+c.cfg.BatchSize, len(texts))
		vecs, err := c.call(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("horosembed: batch [%d:%d]: %w", start, end, err)
		}
		copy(result[start:end], vecs)
	}
	return result, nil
}

func (c *openaiClient) call(ctx context.Context, texts []string) ([][]float32, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}
	resp, err := c.api.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(c.cfg.Model),
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("no embeddings returned")
	}

	// Reassemble in input order.
	vecs := make([][]float32, len(texts))
	for _, d := range resp.Data {
		i := int(d.Index)
		if i < 0 || i >= len(vecs) {
			continue
		}
		if len(d.Embedding) != c.dim {
			return nil, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(d.Embedding), c.dim)
		}
		v := make([]float32, len(d.Embedding))
		for j, x := range d.Embedding {
			v[j] = float32(x)
		}
		vecs[i] = v
	}
	for i, v := range vecs {
		if v == nil {
			return nil, fmt.Errorf("missing embedding for input index %d", i)
		}
	}
	c.cfg.Logger.Debug("horosembed: batch embedded",
		"model", c.cfg.Model, "texts", len(texts), "prompt_tokens", resp.Usage.PromptTokens)
	return vecs, nil
}

func (c *openaiClient) Dimension() int { return c.dim }

func (c *openaiClient) Model() string { return c.cfg.Model }
