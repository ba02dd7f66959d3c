// Package registry is the declarative catalog of enhancement types. It is
// loaded from YAML (embedded by default), exposes categories, types and
// per-domain recommendations, and builds the system prompt for a type
// selection.
package registry

import (
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed types_registry.yaml
var embedded []byte

// Category groups enhancement types for display.
type Category struct {
	ID           string `yaml:"id" json:"id"`
	Name         string `yaml:"name" json:"name"`
	NameEN       string `yaml:"name_en" json:"name_en"`
	Description  string `yaml:"description" json:"description"`
	Icon         string `yaml:"icon" json:"icon"`
	DisplayOrder int    `yaml:"display_order" json:"display_order"`
}

// Type is one enhancement type.
type Type struct {
	ID                 string            `yaml:"id" json:"id"`
	Category           string            `yaml:"category" json:"category"`
	Name               string            `yaml:"name" json:"name"`
	NameEN             string            `yaml:"name_en" json:"name_en"`
	Description        string            `yaml:"description" json:"description"`
	ApplicableDomains  []string          `yaml:"applicable_domains" json:"applicable_domains"`
	DefaultEnabled     bool              `yaml:"default_enabled" json:"default_enabled"`
	DefaultPriority    int               `yaml:"default_priority" json:"default_priority"`
	PromptInstructions string            `yaml:"prompt_instructions" json:"prompt_instructions,omitempty"`
	Examples           map[string]string `yaml:"examples" json:"examples,omitempty"`
}

// Example returns the example text for domain, if any.
func (t Type) Example(domain string) string {
	if domain == "" {
		return ""
	}
	return t.Examples[strings.ToLower(domain)]
}

// AppliesTo reports whether the type is meant for domain.
func (t Type) AppliesTo(domain string) bool {
	for _, d := range t.ApplicableDomains {
		if d == "all" || strings.EqualFold(d, domain) {
			return true
		}
	}
	return false
}

// Recommendation lists type ids suggested for a domain.
type Recommendation struct {
	AutoSuggest    []string `yaml:"auto_suggest" json:"auto_suggest"`
	Optional       []string `yaml:"optional" json:"optional"`
	NotRecommended []string `yaml:"not_recommended" json:"not_recommended"`
}

// Metadata is the free-form header of the registry file.
type Metadata map[string]any

type catalog struct {
	Metadata        Metadata                  `yaml:"metadata"`
	Categories      []Category                `yaml:"categories"`
	Types           []Type                    `yaml:"enhancement_types"`
	Recommendations map[string]Recommendation `yaml:"domain_recommendations"`
}

// FallbackRecommendation is used when neither the domain nor "default" is
// present in the catalog.
var FallbackRecommendation = Recommendation{
	AutoSuggest:    []string{"executive_summary", "implication_analysis", "pattern_recognition"},
	Optional:       []string{"section_summary"},
	NotRecommended: []string{},
}

// Config controls where the catalog comes from.
type Config struct {
	// Path of a YAML catalog. Empty uses the embedded one.
	Path   string       `json:"path" yaml:"path"`
	Logger *slog.Logger `json:"-" yaml:"-"`
}

func (c *Config) defaults() {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Registry holds a loaded catalog. Safe for concurrent use.
type Registry struct {
	cfg Config

	mu    sync.RWMutex
	cat   *catalog
	index map[string]int
}

// Load reads the catalog described by cfg.
func Load(cfg Config) (*Registry, error) {
	cfg.defaults()
	r := &Registry{cfg: cfg}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

var (
	defaultOnce sync.Once
	defaultReg  *Registry
)

// Default returns the process-wide registry built from the embedded catalog.
func Default() *Registry {
	defaultOnce.Do(func() {
		r, err := Load(Config{})
		if err != nil {
			panic(fmt.Sprintf("registry: embedded catalog: %v", err))
		}
		defaultReg = r
	})
	return defaultReg
}

// Reload re-reads the catalog. On error the previous catalog stays active.
func (r *Registry) Reload() error {
	data := embedded
	src := "embedded"
	if r.cfg.Path != "" {
		b, err := os.ReadFile(r.cfg.Path)
		if err != nil {
			return fmt.Errorf("registry: read %s: %w", r.cfg.Path, err)
		}
		data, src = b, r.cfg.Path
	}
	cat, err := parse(data)
	if err != nil {
		return fmt.Errorf("registry: %s: %w", src, err)
	}
	index := make(map[string]int, len(cat.Types))
	for i, t := range cat.Types {
		index[t.ID] = i
	}

	r.mu.Lock()
	r.cat, r.index = cat, index
	r.mu.Unlock()
	r.cfg.Logger.Info("registry: loaded",
		"source", src, "categories", len(cat.Categories), "types", len(cat.Types))
	return nil
}

func parse(data []byte) (*catalog, error) {
	var cat catalog
	if err := yaml.Unmarshal(data, &cat); err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	seen := make(map[string]bool)
	for i := range cat.Types {
		t := &cat.Types[i]
		if t.ID == "" {
			return nil, fmt.Errorf("enhancement_types[%d]: missing id", i)
		}
		if seen[t.ID] {
			return nil, fmt.Errorf("duplicate type id %q", t.ID)
		}
		seen[t.ID] = true
		if len(t.ApplicableDomains) == 0 {
			t.ApplicableDomains = []string{"all"}
		}
		if t.DefaultPriority == 0 {
			t.DefaultPriority = 5
		}
		if t.Name == "" {
			t.Name = t.ID
		}
	}
	for i := range cat.Categories {
		c := &cat.Categories[i]
		if c.NameEN == "" {
			c.NameEN = c.Name
		}
		if c.Icon == "" {
			c.Icon = "📄"
		}
		if c.DisplayOrder == 0 {
			c.DisplayOrder = 99
		}
	}
	sort.SliceStable(cat.Categories, func(i, j int) bool {
		return cat.Categories[i].DisplayOrder < cat.Categories[j].DisplayOrder
	})
	if cat.Metadata == nil {
		cat.Metadata = Metadata{}
	}
	return &cat, nil
}

func (r *Registry) snapshot() (*catalog, map[string]int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cat, r.index
}

// Metadata returns the catalog header.
func (r *Registry) Metadata() Metadata {
	cat, _ := r.snapshot()
	return cat.Metadata
}

// Categories returns the categories ordered by display order.
func (r *Registry) Categories() []Category {
	cat, _ := r.snapshot()
	return append([]Category(nil), cat.Categories...)
}

// Types returns every type in catalog order.
func (r *Registry) Types() []Type {
	cat, _ := r.snapshot()
	return append([]Type(nil), cat.Types...)
}

// Type looks up a type by id.
func (r *Registry) Type(id string) (Type, bool) {
	cat, index := r.snapshot()
	i, ok := index[id]
	if !ok {
		return Type{}, false
	}
	return cat.Types[i], true
}

// TypesByCategory groups types by category id.
func (r *Registry) TypesByCategory() map[string][]Type {
	cat, _ := r.snapshot()
	out := make(map[string][]Type)
	for _, t := range cat.Types {
		out[t.Category] = append(out[t.Category], t)
	}
	return out
}

// Recommendations returns the suggestions for domain, falling back to the
// "default" entry and then to FallbackRecommendation.
func (r *Registry) Recommendations(domain string) Recommendation {
	cat, _ := r.snapshot()
	if rec, ok := cat.Recommendations[strings.ToLower(domain)]; ok {
		return rec
	}
	if rec, ok := cat.Recommendations["default"]; ok {
		return rec
	}
	return FallbackRecommendation
}

// ValidIDs keeps the known ids of selected, in order and without
// duplicates.
func (r *Registry) ValidIDs(selected []string) []string {
	_, index := r.snapshot()
	seen := make(map[string]bool, len(selected))
	var out []string
	for _, id := range selected {
		if _, ok := index[id]; ok && !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

// DefaultSelection returns the ids of types enabled by default.
func (r *Registry) DefaultSelection() []string {
	cat, _ := r.snapshot()
	var out []string
	for _, t := range cat.Types {
		if t.DefaultEnabled {
			out = append(out, t.ID)
		}
	}
	return out
}

// FrontendType is a Type without its prompt instructions.
type FrontendType struct {
	ID                string            `json:"id"`
	Category          string            `json:"category"`
	Name              string            `json:"name"`
	NameEN            string            `json:"name_en"`
	Description       string            `json:"description"`
	ApplicableDomains []string          `json:"applicable_domains"`
	DefaultEnabled    bool              `json:"default_enabled"`
	DefaultPriority   int               `json:"default_priority"`
	Examples          map[string]string `json:"examples,omitempty"`
}

// FrontendConfig is the shape served to clients.
type FrontendConfig struct {
	Metadata              Metadata                  `json:"metadata"`
	Categories            []Category                `json:"categories"`
	Types                 []FrontendType            `json:"types"`
	DomainRecommendations map[string]Recommendation `json:"domain_recommendations"`
}

// FrontendConfig returns the catalog stripped of prompt text.
func (r *Registry) FrontendConfig() FrontendConfig {
	cat, _ := r.snapshot()
	fc := FrontendConfig{
		Metadata:              cat.Metadata,
		Categories:            append([]Category(nil), cat.Categories...),
		DomainRecommendations: make(map[string]Recommendation, len(cat.Recommendations)),
	}
	for k, v := range cat.Recommendations {
		fc.DomainRecommendations[k] = v
	}
	for _, t := range cat.Types {
		fc.Types = append(fc.Types, FrontendType{
			ID:                t.ID,
			Category:          t.Category,
			Name:              t.Name,
			NameEN:            t.NameEN,
			Description:       t.Description,
			ApplicableDomains: t.ApplicableDomains,
			DefaultEnabled:    t.DefaultEnabled,
			DefaultPriority:   t.DefaultPriority,
			Examples:          t.Examples,
		})
	}
	return fc
}
