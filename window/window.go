// Package window groups ordered units into token-bounded, overlapping
// windows and annotates each window with its tables, numeric patterns and
// dominant content type.
package window

import (
	"fmt"
	"log/slog"
	"maps"
	"sort"
	"strings"

	"github.com/hazyhaar/docenrich/docmodel"
)

// Window is the unit of work of one enhancement call.
type Window struct {
	WindowID          string          `json:"window_id"`
	WindowNumber      int             `json:"window_number"`
	TotalWindows      int             `json:"total_windows"`
	Content           string          `json:"content"`
	Units             []docmodel.Unit `json:"units"`
	Tables            []Table         `json:"tables"`
	NumericalPatterns []Pattern       `json:"numerical_patterns"`
	TokenCount        int             `json:"token_count"`
	Metadata          Metadata        `json:"metadata"`
}

// UnitIDs returns the ids of the window's units without repeats.
func (w *Window) UnitIDs() []string {
	seen := make(map[string]bool, len(w.Units))
	var out []string
	for _, u := range w.Units {
		if !seen[u.UnitID] {
			seen[u.UnitID] = true
			out = append(out, u.UnitID)
		}
	}
	return out
}

// Metadata summarizes what a window contains.
type Metadata struct {
	HasTables    bool   `json:"has_tables"`
	HasNumerical bool   `json:"has_numerical"`
	DominantType string `json:"dominant_type"`
	TableCount   int    `json:"table_count"`
	NumberCount  int    `json:"number_count"`
}

// Dominant content types.
const (
	TypeFinancial  = "financial"
	TypeLegal      = "legal"
	TypeProcedural = "procedural"
	TypeGeneral    = "general"
)

// Config sets the token budget.
type Config struct {
	// MaxTokens is the window budget W. Default: 10000.
	MaxTokens int `json:"max_tokens" yaml:"max_tokens"`
	// OverlapTokens bounds the trailing units carried into the next window.
	// Default: 500. Negative disables overlap.
	OverlapTokens int `json:"overlap_tokens" yaml:"overlap_tokens"`

	Counter Counter      `json:"-" yaml:"-"`
	Logger  *slog.Logger `json:"-" yaml:"-"`
}

func (c *Config) defaults() {
	if c.MaxTokens <= 0 {
		c.MaxTokens = 10000
	}
	if c.OverlapTokens == 0 {
		c.OverlapTokens = 500
	}
	if c.OverlapTokens < 0 {
		c.OverlapTokens = 0
	}
	if c.Counter == nil {
		c.Counter = DefaultCounter()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Builder cuts unit streams into windows.
type Builder struct {
	cfg Config
	sep int
}

// New creates a Builder.
func New(cfg Config) *Builder {
	cfg.defaults()
	return &Builder{cfg: cfg, sep: cfg.Counter.Count(joiner)}
}

const joiner = "\n\n"

type item struct {
	unit   docmodel.Unit
	tokens int
}

// Build returns the windows of docID. A window's token count is the sum of
// its units' counts plus one separator between consecutive units, and never
// exceeds MaxTokens.
func (b *Builder) Build(docID string, units []docmodel.Unit) []Window {
	us := append([]docmodel.Unit(nil), units...)
	sort.SliceStable(us, func(i, j int) bool {
		if us[i].Page != us[j].Page {
			return us[i].Page < us[j].Page
		}
		return us[i].Y0 < us[j].Y0
	})

	items := b.expand(us)
	W := b.cfg.MaxTokens

	var (
		out []Window
		cur []item
		tok int
	)
	for _, it := range items {
		if len(cur) > 0 && tok+b.sep+it.tokens > W {
			out = append(out, b.window(docID, len(out)+1, cur, tok))
			cur = b.seed(cur)
			tok = b.cost(cur)
			if len(cur) > 0 && tok+b.sep+it.tokens > W {
				cur, tok = nil, 0
			}
		}
		if len(cur) > 0 {
			tok += b.sep
		}
		cur = append(cur, it)
		tok += it.tokens
	}
	if len(cur) > 0 {
		out = append(out, b.window(docID, len(out)+1, cur, tok))
	}
	for i := range out {
		out[i].TotalWindows = len(out)
	}
	b.cfg.Logger.Debug("window: built",
		"doc_id", docID, "units", len(units), "windows", len(out), "tokenizer", b.cfg.Counter.Name())
	return out
}

// seed keeps the trailing items whose cost fits the overlap budget.
func (b *Builder) seed(cur []item) []item {
	if b.cfg.OverlapTokens == 0 {
		return nil
	}
	start, tok := len(cur), 0
	for i := len(cur) - 1; i >= 0; i-- {
		add := cur[i].tokens
		if start < len(cur) {
			add += b.sep
		}
		if tok+add > b.cfg.OverlapTokens {
			break
		}
		tok += add
		start = i
	}
	return append([]item(nil), cur[start:]...)
}

func (b *Builder) cost(items []item) int {
	tok := 0
	for i, it := range items {
		if i > 0 {
			tok += b.sep
		}
		tok += it.tokens
	}
	return tok
}

// expand counts tokens per unit and splits units larger than the budget.
func (b *Builder) expand(units []docmodel.Unit) []item {
	var out []item
	for _, u := range units {
		n := b.cfg.Counter.Count(u.Content)
		if n <= b.cfg.MaxTokens {
			out = append(out, item{unit: u, tokens: n})
			continue
		}
		parts := Split(u.Content, b.cfg.MaxTokens, b.cfg.Counter)
		b.cfg.Logger.Debug("window: oversized unit split",
			"unit_id", u.UnitID, "tokens", n, "parts", len(parts))
		for i, p := range parts {
			pu := u
			pu.Content = p
			pu.Extra = maps.Clone(u.Extra)
			if pu.Extra == nil {
				pu.Extra = map[string]any{}
			}
			pu.Extra["part"] = i + 1
			pu.Extra["parts"] = len(parts)
			out = append(out, item{unit: pu, tokens: b.cfg.Counter.Count(p)})
		}
	}
	return out
}

func (b *Builder) window(docID string, n int, items []item, tok int) Window {
	w := Window{
		WindowID:     fmt.Sprintf("%s_w%d", docID, n),
		WindowNumber: n,
		TokenCount:   tok,
	}
	texts := make([]string, 0, len(items))
	for _, it := range items {
		w.Units = append(w.Units, it.unit)
		texts = append(texts, it.unit.Content)
	}
	w.Content = strings.Join(texts, joiner)
	w.Tables = ParseTables(w.Units)
	w.NumericalPatterns = Patterns(w.Content)
	w.Metadata = Classify(w.Content, len(w.Tables), len(w.NumericalPatterns))
	return w
}

// Classify derives window metadata from its content and counts.
func Classify(content string, tables, numbers int) Metadata {
	m := Metadata{
		HasTables:    tables > 0,
		HasNumerical: numbers > 0,
		TableCount:   tables,
		NumberCount:  numbers,
		DominantType: TypeGeneral,
	}
	low := strings.ToLower(content)
	switch {
	case tables >= 2 || numbers >= 10:
		m.DominantType = TypeFinancial
	case strings.Contains(low, "pasal") || strings.Contains(low, "ayat"):
		m.DominantType = TypeLegal
	case strings.Contains(low, "langkah") || strings.Contains(low, "prosedur"):
		m.DominantType = TypeProcedural
	}
	return m
}
