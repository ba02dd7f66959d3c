package enhance

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hazyhaar/docenrich/window"
)

const defaultConfidence = 0.8

var (
	highPriority   = map[string]bool{"formula_discovery": true, "compliance_mapping": true, "risk_identification": true}
	mediumPriority = map[string]bool{"implication_analysis": true, "pattern_recognition": true, "requirement_synthesis": true}
)

// validator turns parsed items into records for one window.
type validator struct {
	docID    string
	w        *window.Window
	allowed  map[string]bool
	minLen   int
	maxShare float64
	model    string
	now      time.Time
}

// build validates items. It returns ErrTypeViolation when the share of
// items with unselected types exceeds maxShare.
func (v *validator) build(items []map[string]any) ([]Enhancement, int, error) {
	invalid := 0
	var bad []string
	for _, it := range items {
		if t := itemType(it); !v.allowed[t] {
			invalid++
			bad = append(bad, t)
		}
	}
	if len(items) > 0 && float64(invalid)/float64(len(items)) > v.maxShare {
		sort.Strings(bad)
		return nil, invalid, &violation{invalid: invalid, total: len(items), types: bad}
	}

	known := make(map[string]bool, len(v.w.Units))
	for _, u := range v.w.Units {
		known[u.UnitID] = true
	}

	var out []Enhancement
	rejected := 0
	for _, it := range items {
		e, ok := v.record(it, known)
		if !ok {
			rejected++
			continue
		}
		out = append(out, e)
	}
	return out, rejected, nil
}

func (v *validator) record(it map[string]any, known map[string]bool) (Enhancement, bool) {
	if it == nil {
		return Enhancement{}, false
	}
	typ := itemType(it)
	if !v.allowed[typ] {
		return Enhancement{}, false
	}
	content, _ := it["content"].(string)
	content = strings.TrimSpace(content)
	if content == "" || utf8.RuneCountInString(content) < v.minLen {
		return Enhancement{}, false
	}

	var sources []string
	if list, ok := it["source_units"].([]any); ok {
		seen := map[string]bool{}
		for _, s := range list {
			id, _ := s.(string)
			if known[id] && !seen[id] {
				seen[id] = true
				sources = append(sources, id)
			}
		}
	}
	if len(sources) == 0 {
		ids := v.w.UnitIDs()
		sources = ids[:min(len(ids), defaultSourceIDs)]
	}

	title, _ := it["title"].(string)
	title = strings.TrimSpace(title)
	if title == "" {
		title = "Enhancement"
	}
	conf := confidence(it["confidence"])

	return Enhancement{
		EnhancementID:    v.id(content),
		DocID:            v.docID,
		EnhancementType:  typ,
		Title:            title,
		GeneratedContent: content,
		SourceUnits:      sources,
		ConfidenceScore:  conf,
		Priority:         Priority(typ, v.w.Metadata.DominantType, conf),
		OriginalContext:  truncateRunes(v.w.Content, contextExcerpt),
		Status:           StatusPending,
		Metadata: Metadata{
			WindowID:     v.w.WindowID,
			WindowNumber: v.w.WindowNumber,
			ContentType:  v.w.Metadata.DominantType,
			HasTables:    len(v.w.Tables) > 0,
			HasNumerical: len(v.w.NumericalPatterns) > 0,
			Model:        v.model,
		},
		CreatedAt: v.now,
	}, true
}

// id is enh_{doc8}_w{n}_{hash8}_{timestamp}.
func (v *validator) id(content string) string {
	doc := v.docID
	if len(doc) > 8 {
		doc = doc[:8]
	}
	sum := sha256.Sum256([]byte(content))
	return fmt.Sprintf("enh_%s_w%d_%s_%s",
		doc, v.w.WindowNumber, hex.EncodeToString(sum[:4]), v.now.UTC().Format("20060102150405"))
}

func itemType(it map[string]any) string {
	if it == nil {
		return ""
	}
	if t, ok := it["type"].(string); ok && t != "" {
		return strings.TrimSpace(t)
	}
	t, _ := it["enhancement_type"].(string)
	return strings.TrimSpace(t)
}

func confidence(v any) float64 {
	c := defaultConfidence
	switch x := v.(type) {
	case float64:
		c = x
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(x), 64); err == nil {
			c = f
		}
	}
	return min(1, max(0, c))
}

// Priority scores an enhancement from its type, the window's dominant
// content type and its confidence, in [1,10].
func Priority(typ, contentType string, conf float64) int {
	p := 5
	switch {
	case highPriority[typ]:
		p = 8
	case mediumPriority[typ]:
		p = 6
	}
	if contentType == window.TypeFinancial {
		p++
	}
	if conf >= 0.85 {
		p++
	}
	return min(10, max(1, p))
}
