package enhance

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hazyhaar/docenrich/connectivity"
	"github.com/hazyhaar/docenrich/llm"
	"github.com/hazyhaar/docenrich/registry"
	"github.com/hazyhaar/docenrich/window"
)

// Executor generates enhancements for windows.
type Executor struct {
	cfg Config
	llm llm.Completer
	reg *registry.Registry
}

// New returns an executor. A nil registry uses registry.Default().
func New(cfg Config, completer llm.Completer, reg *registry.Registry) *Executor {
	cfg.defaults()
	if reg == nil {
		reg = registry.Default()
	}
	return &Executor{cfg: cfg, llm: completer, reg: reg}
}

// types resolves the selection to known ids. An empty selection means the
// registry's default-enabled types.
func (e *Executor) types(sel Selection) []string {
	ids := e.reg.ValidIDs(sel.TypeIDs)
	if len(sel.TypeIDs) == 0 {
		ids = e.reg.DefaultSelection()
	}
	return ids
}

// EnhanceWindow prompts the LLM for one window and returns its validated
// records. Exhausted retries yield an empty result marked Failed, never an
// error; only context cancellation is returned.
func (e *Executor) EnhanceWindow(ctx context.Context, docID string, w *window.Window, sel Selection) (*WindowResult, error) {
	log := e.cfg.Logger.With("doc_id", docID, "window", w.WindowNumber)
	res := &WindowResult{}

	ids := e.types(sel)
	if len(ids) == 0 {
		log.WarnContext(ctx, "no valid enhancement types selected", "selected", sel.TypeIDs)
		return res, nil
	}
	allowed := make(map[string]bool, len(ids))
	for _, id := range ids {
		allowed[id] = true
	}

	system := registry.WithCustomInstructions(e.reg.SystemPrompt(ids, sel.DomainHint), sel.CustomInstructions)
	user := UserPrompt(w, sel.DomainHint, e.cfg.ContentLimit)
	v := &validator{
		docID:    docID,
		w:        w,
		allowed:  allowed,
		minLen:   e.cfg.MinContentLength,
		maxShare: e.cfg.MaxRejectedShare,
		model:    e.cfg.Model,
	}

	enforce := false
	policy := connectivity.Policy{
		Attempts:  e.cfg.RetryAttempts,
		BaseDelay: e.cfg.RetryBaseDelay,
		Logger:    log,
	}
	err := connectivity.Do(ctx, policy, "enhance_window", func(ctx context.Context, attempt int) error {
		prompt := system
		if enforce {
			prompt += enforcement(ids)
		}
		resp, err := e.llm.Complete(ctx, llm.Request{System: prompt, User: user, JSON: true})
		res.Calls++
		if err != nil {
			return err
		}
		res.PromptTokens += resp.PromptTokens
		res.CompletionTokens += resp.CompletionTokens
		if v.model == "" {
			v.model = resp.Model
		}

		items, strategy, err := Parse(resp.Content)
		if err != nil {
			log.WarnContext(ctx, "response not parseable", "attempt", attempt+1, "error", err)
			return err
		}
		if strategy != StrategyDirect {
			log.DebugContext(ctx, "response recovered", "strategy", strategy)
		}

		v.now = e.cfg.Now()
		out, rejected, err := v.build(items)
		if errors.Is(err, ErrTypeViolation) {
			enforce = true
			return err
		}
		if err != nil {
			return err
		}
		res.Enhancements = out
		res.Rejected = rejected
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		log.ErrorContext(ctx, "window failed", "calls", res.Calls, "error", err)
		res.Enhancements = nil
		res.Failed = true
		return res, nil
	}
	log.DebugContext(ctx, "window enhanced",
		"enhancements", len(res.Enhancements),
		"rejected", res.Rejected,
		"calls", res.Calls)
	return res, nil
}

// Run enhances every window in batches of MaxParallelWindows, reports
// progress after each window and returns the ranked result.
func (e *Executor) Run(ctx context.Context, docID string, windows []window.Window, sel Selection, progress func(Progress)) (*Result, error) {
	start := time.Now()
	res := &Result{Windows: len(windows)}
	results := make([]*WindowResult, len(windows))

	var mu sync.Mutex
	done, failed, found := 0, 0, 0
	report := func(r *WindowResult) {
		mu.Lock()
		defer mu.Unlock()
		done++
		if r.Failed {
			failed++
		}
		found += len(r.Enhancements)
		if progress != nil {
			progress(Progress{
				WindowsDone:   done,
				WindowsTotal:  len(windows),
				FailedWindows: failed,
				Enhancements:  found,
				Percent:       float64(done) / float64(len(windows)) * 100,
			})
		}
	}

	for lo := 0; lo < len(windows); lo += e.cfg.MaxParallelWindows {
		hi := min(lo+e.cfg.MaxParallelWindows, len(windows))
		g, gctx := errgroup.WithContext(ctx)
		for i := lo; i < hi; i++ {
			g.Go(func() error {
				r, err := e.EnhanceWindow(gctx, docID, &windows[i], sel)
				if err != nil {
					return err
				}
				results[i] = r
				report(r)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, fmt.Errorf("enhance: batch %d: %w", lo/e.cfg.MaxParallelWindows+1, err)
		}
	}

	var all []Enhancement
	for i, r := range results {
		res.LLMCalls += r.Calls
		res.PromptTokens += r.PromptTokens
		res.CompletionTokens += r.CompletionTokens
		if r.Failed {
			res.FailedWindows = append(res.FailedWindows, windows[i].WindowNumber)
		}
		all = append(all, r.Enhancements...)
	}
	res.Candidates = len(all)
	res.Enhancements = Rank(all)
	res.ByType = CountByType(res.Enhancements)
	res.Duration = time.Since(start)
	sort.Ints(res.FailedWindows)

	types := make([]string, 0, len(res.ByType))
	for t := range res.ByType {
		types = append(types, t)
	}
	sort.Strings(types)
	for _, t := range types {
		e.cfg.Metrics.Enhancement(t, res.ByType[t])
	}

	e.cfg.Logger.InfoContext(ctx, "enhancement complete",
		"doc_id", docID,
		"windows", res.Windows,
		"failed_windows", len(res.FailedWindows),
		"candidates", res.Candidates,
		"enhancements", len(res.Enhancements),
		"llm_calls", res.LLMCalls,
		"duration_ms", res.Duration.Milliseconds())
	return res, nil
}
