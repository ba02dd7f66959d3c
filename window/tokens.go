package window

import (
	"log/slog"
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

// Encoding is the tokenizer used for window budgets.
const Encoding = "cl100k_base"

// Counter counts tokens.
type Counter interface {
	Count(s string) int
	Name() string
}

// Approx estimates four characters per token. It is deterministic and needs
// no vocabulary file.
type Approx struct{}

func (Approx) Count(s string) int {
	n := utf8.RuneCountInString(s)
	return (n + 3) / 4
}

func (Approx) Name() string { return "approx" }

type bpe struct {
	enc  *tiktoken.Tiktoken
	name string
}

func (b bpe) Count(s string) int { return len(b.enc.Encode(s, nil, nil)) }
func (b bpe) Name() string       { return b.name }

// NewCounter loads the named BPE encoding, falling back to Approx when it
// cannot be loaded.
func NewCounter(encoding string, logger *slog.Logger) Counter {
	if logger == nil {
		logger = slog.Default()
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		logger.Warn("window: tokenizer unavailable, using approximation",
			"encoding", encoding, "error", err)
		return Approx{}
	}
	return bpe{enc: enc, name: encoding}
}

var (
	defaultOnce    sync.Once
	defaultCounter Counter
)

// DefaultCounter returns the process-wide cl100k_base counter.
func DefaultCounter() Counter {
	defaultOnce.Do(func() {
		defaultCounter = NewCounter(Encoding, nil)
	})
	return defaultCounter
}
