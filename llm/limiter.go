package llm

import (
	"strings"
	"sync"

	"golang.org/x/time/rate"
)

// Limiters hands out one token bucket per provider endpoint, so every
// client talking to the same provider shares its request budget.
type Limiters struct {
	mu sync.Mutex
	m  map[string]*rate.Limiter
}

// NewLimiters creates an empty registry.
func NewLimiters() *Limiters {
	return &Limiters{m: make(map[string]*rate.Limiter)}
}

var defaultLimiters = sync.OnceValue(NewLimiters)

// DefaultLimiters returns the process-wide registry.
func DefaultLimiters() *Limiters { return defaultLimiters() }

// Get returns the limiter for provider and baseURL, creating it with rps
// requests per second and burst 1. The first caller fixes the rate. A
// non-positive rps means unlimited.
func (l *Limiters) Get(provider, baseURL string, rps float64) *rate.Limiter {
	key := strings.ToLower(provider) + "|" + strings.TrimRight(baseURL, "/")
	l.mu.Lock()
	defer l.mu.Unlock()
	if lim, ok := l.m[key]; ok {
		return lim
	}
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	lim := rate.NewLimiter(limit, 1)
	l.m[key] = lim
	return lim
}

// Len returns the number of distinct limiters.
func (l *Limiters) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.m)
}
