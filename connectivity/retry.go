// Package connectivity holds the retry policy shared by outbound calls
// (LLM completions, embeddings, vector writes).
package connectivity

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Policy configures Do.
type Policy struct {
	// Attempts is the total number of calls, first one included. Default: 3.
	Attempts int `json:"attempts" yaml:"attempts"`
	// BaseDelay is the wait after the first failure, doubled each attempt.
	// Default: 1s.
	BaseDelay time.Duration `json:"base_delay" yaml:"base_delay"`
	// MaxDelay caps a single wait. Zero means no cap.
	MaxDelay time.Duration `json:"max_delay" yaml:"max_delay"`

	Logger *slog.Logger `json:"-" yaml:"-"`
}

func (p *Policy) defaults() {
	if p.Attempts <= 0 {
		p.Attempts = 3
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = time.Second
	}
}

// Backoff returns the wait after the given zero-based attempt.
func (p Policy) Backoff(attempt int) time.Duration {
	p.defaults()
	wait := p.BaseDelay * (1 << uint(attempt))
	if p.MaxDelay > 0 && wait > p.MaxDelay {
		wait = p.MaxDelay
	}
	return wait
}

// Do calls fn until it succeeds, the attempts are spent, the error is
// permanent or ctx is done. It returns the last error.
func Do(ctx context.Context, p Policy, op string, fn func(ctx context.Context, attempt int) error) error {
	p.defaults()
	var lastErr error
	for attempt := 0; attempt < p.Attempts; attempt++ {
		err := fn(ctx, attempt)
		if err == nil {
			return nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return lastErr
		}
		var perm *PermanentError
		if errors.As(err, &perm) {
			return perm.Err
		}

		if attempt < p.Attempts-1 {
			wait := p.Backoff(attempt)
			if p.Logger != nil {
				p.Logger.WarnContext(ctx, "retrying call",
					"op", op,
					"attempt", attempt+1,
					"attempts", p.Attempts,
					"backoff_ms", wait.Milliseconds(),
					"error", err)
			}
			select {
			case <-ctx.Done():
				return lastErr
			case <-time.After(wait):
			}
		}
	}
	return lastErr
}
