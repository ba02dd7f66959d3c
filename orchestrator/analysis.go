package orchestrator

import (
	"fmt"
	"strings"

	"github.com/hazyhaar/docenrich/artifacts"
	"github.com/hazyhaar/docenrich/docmodel"
	"github.com/hazyhaar/docenrich/observability"
	"github.com/hazyhaar/docenrich/registry"
	"github.com/hazyhaar/docenrich/window"
)

// Keyword lists for the content scans, matched on lower-cased text.
var (
	legalTerms = []string{
		"pasal", "ayat", "undang-undang", "peraturan", "ketentuan", "kewajiban",
		"sanksi", "perjanjian", "hukum", "regulasi",
	}
	proceduralTerms = []string{
		"langkah", "prosedur", "tahapan", "mekanisme", "persyaratan", "alur",
		"formulir", "pengajuan", "tata cara",
	}
	financialTerms = []string{
		"laba", "pendapatan", "aset", "neraca", "liabilitas", "ekuitas", "rp",
		"bunga", "premi", "anggaran",
	}
	researchTerms = []string{
		"penelitian", "metodologi", "responden", "hipotesis", "temuan", "survei",
	}
)

// Analysis summarizes an extracted document to help pick enhancement types.
type Analysis struct {
	DocID                  string                  `json:"doc_id"`
	Pages                  int                     `json:"pages"`
	Tables                 int                     `json:"tables"`
	Units                  int                     `json:"units"`
	HasNumericalData       bool                    `json:"has_numerical_data"`
	HasLegalTerms          bool                    `json:"has_legal_terms"`
	HasProceduralContent   bool                    `json:"has_procedural_content"`
	DetectedDomain         string                  `json:"detected_domain"`
	ContentCharacteristics map[string]any          `json:"content_characteristics"`
	Recommended            registry.Recommendation `json:"recommended_types"`
}

// Analyze scans the extraction artifacts of docID. It needs
// units_metadata.json and returns artifacts.ErrNotFound before extraction.
func Analyze(store *artifacts.Store, reg *registry.Registry, docID string) (*Analysis, error) {
	if reg == nil {
		reg = registry.Default()
	}
	var units []docmodel.Unit
	if err := store.ReadJSON(docID, artifacts.UnitsFile, &units); err != nil {
		return nil, fmt.Errorf("orchestrator: analyze %s: %w", docID, err)
	}
	var tables []docmodel.Table
	_ = store.ReadJSON(docID, artifacts.TablesFile, &tables)

	a := &Analysis{DocID: docID, Units: len(units), Tables: len(tables)}
	var sb strings.Builder
	for _, u := range units {
		a.Pages = max(a.Pages, u.Page)
		sb.WriteString(u.Content)
		sb.WriteString("\n\n")
	}
	var m observability.DocMetrics
	if err := store.ReadJSON(docID, artifacts.MetricsFile, &m); err == nil && m.Extraction != nil {
		a.Pages = max(a.Pages, m.Extraction.Pages)
	}

	text := sb.String()
	low := strings.ToLower(text)
	patterns := window.Patterns(text)
	byType := map[string]int{}
	for _, p := range patterns {
		byType[p.Type]++
	}

	legal := countTerms(low, legalTerms)
	procedural := countTerms(low, proceduralTerms)
	financial := countTerms(low, financialTerms) + byType[window.PatternCurrency]*2 + a.Tables
	research := countTerms(low, researchTerms)

	a.HasNumericalData = len(patterns) > 0
	a.HasLegalTerms = legal > 0
	a.HasProceduralContent = procedural > 0
	a.DetectedDomain = detectDomain(financial, legal, procedural, research)
	a.Recommended = reg.Recommendations(a.DetectedDomain)
	a.ContentCharacteristics = map[string]any{
		"numerical_patterns": len(patterns),
		"patterns_by_type":   byType,
		"legal_terms":        legal,
		"procedural_terms":   procedural,
		"financial_terms":    financial,
		"research_terms":     research,
		"characters":         len([]rune(text)),
	}
	return a, nil
}

func countTerms(low string, terms []string) int {
	n := 0
	for _, t := range terms {
		n += countWord(low, t)
	}
	return n
}

// countWord counts occurrences of term not embedded in a longer word.
func countWord(s, term string) int {
	n := 0
	for i := 0; ; {
		j := strings.Index(s[i:], term)
		if j < 0 {
			return n
		}
		start, end := i+j, i+j+len(term)
		if (start == 0 || !isLetter(s[start-1])) && (end == len(s) || !isLetter(s[end])) {
			n++
		}
		i = end
	}
}

func isLetter(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z'
}

// detectDomain picks the domain with the highest score; ties go to the
// earlier domain in financial, legal, operational, research order.
func detectDomain(financial, legal, procedural, research int) string {
	best, domain := 0, DomainOther
	for _, c := range []struct {
		name  string
		score int
	}{
		{"financial", financial},
		{"legal", legal},
		{"operational", procedural},
		{"research", research},
	} {
		if c.score > best {
			best, domain = c.score, c.name
		}
	}
	return domain
}
