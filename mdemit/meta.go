package mdemit

import (
	"regexp"
	"strings"
	"unicode"
)

// Document types returned by ClassifyDocument.
const (
	TypeFinancialReport = "financial_report"
	TypeRegulation      = "regulation"
	TypeContract        = "contract"
	TypeSOP             = "sop"
	TypeProposal        = "proposal"
	TypeReport          = "report"
	TypeOther           = "other"
)

var typeKeywords = []struct {
	kind  string
	words []string
}{
	{TypeFinancialReport, []string{"laporan keuangan", "neraca", "laba rugi", "arus kas", "liabilitas", "ekuitas", "pendapatan", "financial statement", "balance sheet", "laba bersih"}},
	{TypeRegulation, []string{"peraturan", "undang-undang", "pasal", "ayat", "menimbang", "mengingat", "ketentuan", "regulation"}},
	{TypeContract, []string{"perjanjian", "kontrak", "pihak pertama", "pihak kedua", "para pihak", "agreement"}},
	{TypeSOP, []string{"standar operasional", "prosedur", "langkah", "tahapan", "procedure", "sop"}},
	{TypeProposal, []string{"proposal", "usulan", "rencana anggaran", "rencana kegiatan"}},
	{TypeReport, []string{"laporan", "report", "ringkasan eksekutif", "kesimpulan", "rekomendasi"}},
}

// ClassifyDocument scores keyword hits per document type. A type needs at
// least two hits; ties go to the type listed first.
func ClassifyDocument(text string) string {
	low := strings.ToLower(text)
	best, bestScore := TypeOther, 1
	for _, tk := range typeKeywords {
		score := 0
		for _, w := range tk.words {
			score += strings.Count(low, w)
		}
		if score > bestScore {
			best, bestScore = tk.kind, score
		}
	}
	return best
}

var (
	idStopwords = set("yang", "dan", "di", "ke", "dari", "untuk", "dengan", "pada", "adalah", "ini", "itu", "dalam", "tidak", "akan", "oleh", "atau", "sebagai", "juga")
	enStopwords = set("the", "and", "of", "to", "in", "is", "for", "that", "with", "on", "as", "by", "are", "this", "be", "or")
)

func set(ws ...string) map[string]bool {
	m := make(map[string]bool, len(ws))
	for _, w := range ws {
		m[w] = true
	}
	return m
}

// DetectLanguage returns "id", "en", "mixed" or "unknown" from the ratio
// of Indonesian to English stopwords.
func DetectLanguage(text string) string {
	var id, en int
	for _, w := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool { return !unicode.IsLetter(r) }) {
		if idStopwords[w] {
			id++
		}
		if enStopwords[w] {
			en++
		}
	}
	total := id + en
	switch {
	case total == 0:
		return "unknown"
	case float64(id)/float64(total) >= 0.7:
		return "id"
	case float64(id)/float64(total) <= 0.3:
		return "en"
	}
	return "mixed"
}

var dateRes = []*regexp.Regexp{
	regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}\b`),
	regexp.MustCompile(`\b\d{1,2}/\d{1,2}/\d{4}\b`),
	regexp.MustCompile(`\b\d{1,2}-\d{1,2}-\d{4}\b`),
	regexp.MustCompile(`(?i)\b\d{1,2}\s+(?:januari|februari|maret|april|mei|juni|juli|agustus|september|oktober|november|desember)\s+\d{4}\b`),
	regexp.MustCompile(`(?i)\b\d{1,2}\s+(?:january|february|march|april|may|june|july|august|september|october|november|december)\s+\d{4}\b`),
	regexp.MustCompile(`(?i)\b(?:january|february|march|april|may|june|july|august|september|october|november|december)\s+\d{1,2},\s+\d{4}\b`),
}

// Dates returns distinct date strings in order of appearance.
func Dates(text string) []string {
	type hit struct {
		pos int
		s   string
	}
	var hits []hit
	for _, re := range dateRes {
		for _, loc := range re.FindAllStringIndex(text, -1) {
			hits = append(hits, hit{loc[0], text[loc[0]:loc[1]]})
		}
	}
	for i := 1; i < len(hits); i++ {
		for j := i; j > 0 && hits[j].pos < hits[j-1].pos; j-- {
			hits[j], hits[j-1] = hits[j-1], hits[j]
		}
	}
	out := []string{}
	seen := map[string]bool{}
	for _, h := range hits {
		if !seen[h.s] && len(out) < 50 {
			seen[h.s] = true
			out = append(out, h.s)
		}
	}
	return out
}

var (
	numberRe = regexp.MustCompile(`\d{1,3}(?:[.,]\d{3})+(?:[.,]\d+)?%?|\d+(?:[.,]\d+)?%?`)
	urlRe    = regexp.MustCompile(`https?://[^\s)>\]"]+`)
	emailRe  = regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`)
)

// Numbers returns how many numeric tokens text holds and the first 20
// distinct ones.
func Numbers(text string) (int, []string) {
	all := numberRe.FindAllString(text, -1)
	return len(all), distinct(all, 20)
}

// URLs returns distinct http(s) URLs.
func URLs(text string) []string { return distinct(urlRe.FindAllString(text, -1), 0) }

// Emails returns distinct e-mail addresses.
func Emails(text string) []string { return distinct(emailRe.FindAllString(text, -1), 0) }

func distinct(in []string, limit int) []string {
	out := []string{}
	seen := map[string]bool{}
	for _, s := range in {
		s = strings.TrimRight(s, ".,;")
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

// IsHeading reports whether a paragraph is a short ALL-CAPS line.
func IsHeading(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" || strings.ContainsRune(s, '\n') || len([]rune(s)) > 80 || strings.HasSuffix(s, ".") {
		return false
	}
	letters := 0
	for _, r := range s {
		if unicode.IsLetter(r) {
			if !unicode.IsUpper(r) {
				return false
			}
			letters++
		}
	}
	return letters >= 2
}
