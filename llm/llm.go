// Package llm is the chat-completion client used by the enhancement engine.
// It talks to any OpenAI-compatible endpoint, waits on a rate limiter shared
// per provider, and trips a circuit breaker after repeated failures.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/hazyhaar/docenrich/connectivity"
	"github.com/hazyhaar/docenrich/observability"
)

var (
	// ErrEmptyResponse is returned when the provider answers without choices.
	ErrEmptyResponse = errors.New("llm: empty response")
	// ErrCircuitOpen is returned while the breaker rejects calls.
	ErrCircuitOpen = errors.New("llm: circuit open")
	// ErrNotConfigured is returned by New without an API key or base URL.
	ErrNotConfigured = errors.New("llm: not configured")
)

// Request is one chat completion.
type Request struct {
	System string
	User   string
	// Model overrides Config.Model.
	Model string
	// Temperature overrides Config.Temperature when non-nil.
	Temperature *float64
	// MaxTokens overrides Config.MaxTokens when positive.
	MaxTokens int
	// JSON asks for a JSON object response.
	JSON bool
}

// Response is the assistant message and its usage.
type Response struct {
	Content          string `json:"content"`
	Model            string `json:"model"`
	FinishReason     string `json:"finish_reason"`
	PromptTokens     int64  `json:"prompt_tokens"`
	CompletionTokens int64  `json:"completion_tokens"`
}

// Completer produces chat completions.
type Completer interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}

// Config configures the client.
type Config struct {
	Provider    string        `json:"provider" yaml:"provider"`
	Model       string        `json:"model" yaml:"model"`
	BaseURL     string        `json:"base_url" yaml:"base_url"`
	APIKey      string        `json:"-" yaml:"api_key"`
	Temperature float64       `json:"temperature" yaml:"temperature"`
	MaxTokens   int           `json:"max_tokens" yaml:"max_tokens"`
	Timeout     time.Duration `json:"timeout" yaml:"timeout"`
	// RequestsPerSecond feeds the shared limiter. Default: 2.
	RequestsPerSecond float64 `json:"requests_per_second" yaml:"requests_per_second"`
	// BreakerFailures consecutive failures open the breaker. Default: 5.
	BreakerFailures int `json:"breaker_failures" yaml:"breaker_failures"`
	// BreakerCooldown is how long the breaker stays open. Default: 30s.
	BreakerCooldown time.Duration `json:"breaker_cooldown" yaml:"breaker_cooldown"`

	HTTPClient *http.Client           `json:"-" yaml:"-"`
	Limiters   *Limiters              `json:"-" yaml:"-"`
	Metrics    *observability.Metrics `json:"-" yaml:"-"`
	Logger     *slog.Logger           `json:"-" yaml:"-"`
}

func (c *Config) defaults() {
	if c.Provider == "" {
		c.Provider = "openai"
	}
	if c.Model == "" {
		c.Model = "gpt-4.1"
	}
	if c.Temperature == 0 {
		c.Temperature = 0.3
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = 8000
	}
	if c.Timeout <= 0 {
		c.Timeout = 120 * time.Second
	}
	if c.RequestsPerSecond == 0 {
		c.RequestsPerSecond = 2
	}
	if c.BreakerFailures <= 0 {
		c.BreakerFailures = 5
	}
	if c.BreakerCooldown <= 0 {
		c.BreakerCooldown = 30 * time.Second
	}
	if c.Limiters == nil {
		c.Limiters = DefaultLimiters()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Client is a Completer backed by the OpenAI SDK.
type Client struct {
	cfg     Config
	api     openai.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
}

// New builds a client. An API key or a base URL (for keyless local
// servers) is required.
func New(cfg Config) (*Client, error) {
	cfg.defaults()
	if cfg.APIKey == "" && cfg.BaseURL == "" {
		return nil, ErrNotConfigured
	}
	opts := []option.RequestOption{option.WithMaxRetries(0)}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}

	c := &Client{
		cfg:     cfg,
		api:     openai.NewClient(opts...),
		limiter: cfg.Limiters.Get(cfg.Provider, cfg.BaseURL, cfg.RequestsPerSecond),
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "llm-" + cfg.Provider,
		MaxRequests: 1,
		Timeout:     cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(cfg.BreakerFailures)
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled) || isPermanent(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			cfg.Logger.Warn("llm: breaker state changed", "name", name, "from", from.String(), "to", to.String())
		},
	})
	return c, nil
}

// Model returns the default model name.
func (c *Client) Model() string { return c.cfg.Model }

// Complete sends one chat completion. Client errors (4xx other than 429)
// are wrapped with connectivity.Permanent so callers do not retry them.
func (c *Client) Complete(ctx context.Context, req Request) (*Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("llm: rate limit wait: %w", err)
	}

	params := openai.ChatCompletionNewParams{
		Model:       c.cfg.Model,
		MaxTokens:   openai.Int(int64(c.cfg.MaxTokens)),
		Temperature: openai.Float(c.cfg.Temperature),
	}
	if req.Model != "" {
		params.Model = req.Model
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	}
	if req.System != "" {
		params.Messages = append(params.Messages, openai.SystemMessage(req.System))
	}
	params.Messages = append(params.Messages, openai.UserMessage(req.User))
	if req.JSON {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		}
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	start := time.Now()
	out, err := c.breaker.Execute(func() (interface{}, error) {
		comp, err := c.api.Chat.Completions.New(ctx, params)
		if err != nil {
			return nil, classify(err)
		}
		if len(comp.Choices) == 0 {
			return nil, ErrEmptyResponse
		}
		return comp, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			err = ErrCircuitOpen
		}
		c.cfg.Metrics.LLMCall("error", 0, 0)
		c.cfg.Logger.Debug("llm: completion failed",
			"model", params.Model, "duration_ms", time.Since(start).Milliseconds(), "error", err)
		return nil, fmt.Errorf("llm: complete: %w", err)
	}

	comp := out.(*openai.ChatCompletion)
	resp := &Response{
		Content:          comp.Choices[0].Message.Content,
		Model:            comp.Model,
		FinishReason:     string(comp.Choices[0].FinishReason),
		PromptTokens:     comp.Usage.PromptTokens,
		CompletionTokens: comp.Usage.CompletionTokens,
	}
	c.cfg.Metrics.LLMCall("ok", resp.PromptTokens, resp.CompletionTokens)
	c.cfg.Logger.Debug("llm: completion",
		"model", resp.Model,
		"prompt_tokens", resp.PromptTokens,
		"completion_tokens", resp.CompletionTokens,
		"duration_ms", time.Since(start).Milliseconds())
	return resp, nil
}

func classify(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		code := apiErr.StatusCode
		if code >= 400 && code < 500 && code != http.StatusTooManyRequests && code != http.StatusRequestTimeout {
			return connectivity.Permanent(err)
		}
	}
	return err
}

func isPermanent(err error) bool {
	var perm *connectivity.PermanentError
	return errors.As(err, &perm)
}
