package window

import (
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/hazyhaar/docenrich/docmodel"
)

// Table is a table unit parsed back from its markdown.
type Table struct {
	UnitID     string     `json:"unit_id"`
	Headers    []string   `json:"headers"`
	Rows       [][]string `json:"rows"`
	RawContent string     `json:"raw_content"`
}

const rawTableLimit = 1000

// ParseTables parses the table units of a window. Units that do not hold a
// markdown table with at least one row are skipped.
func ParseTables(units []docmodel.Unit) []Table {
	var out []Table
	for _, u := range units {
		if u.UnitType != docmodel.UnitTable {
			continue
		}
		headers, rows, ok := ParseMarkdownTable(u.Content)
		if !ok {
			continue
		}
		raw := u.Content
		if len(raw) > rawTableLimit {
			raw = truncate(raw, rawTableLimit)
		}
		out = append(out, Table{UnitID: u.UnitID, Headers: headers, Rows: rows, RawContent: raw})
	}
	return out
}

// ParseMarkdownTable reads a pipe table: headers on line 0, the separator
// line skipped, rows after. Escaped pipes stay inside their cell.
func ParseMarkdownTable(s string) ([]string, [][]string, bool) {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) < 3 {
		return nil, nil, false
	}
	headers := cells(lines[0])
	var rows [][]string
	for _, l := range lines[2:] {
		if !strings.Contains(l, "|") {
			continue
		}
		if c := cells(l); len(c) > 0 {
			rows = append(rows, c)
		}
	}
	if len(headers) == 0 || len(rows) == 0 {
		return nil, nil, false
	}
	return headers, rows, true
}

func cells(line string) []string {
	var (
		out []string
		cur strings.Builder
	)
	flush := func() {
		if c := strings.TrimSpace(cur.String()); c != "" {
			out = append(out, c)
		}
		cur.Reset()
	}
	for i := 0; i < len(line); i++ {
		switch {
		case line[i] == '\\' && i+1 < len(line) && line[i+1] == '|':
			cur.WriteByte('|')
			i++
		case line[i] == '|':
			flush()
		default:
			cur.WriteByte(line[i])
		}
	}
	flush()
	return out
}

// Pattern is a numeric token found in window content. Start and End are
// character (rune) offsets into the content.
type Pattern struct {
	Type    string `json:"type"`
	Subtype string `json:"subtype,omitempty"`
	Value   string `json:"value"`
	Text    string `json:"text"`
	Start   int    `json:"start"`
	End     int    `json:"end"`
	Context string `json:"context,omitempty"`
}

// Pattern types.
const (
	PatternCurrency   = "currency"
	PatternPercentage = "percentage"
	PatternPeriod     = "period"
	PatternNumber     = "number"
)

const contextRadius = 20

var (
	reIDR     = regexp.MustCompile(`(?i)(?:\bRp\.?|\bIDR)\s?(\d(?:[\d.,]*\d)?)(?:\s*(?:ribu|juta|miliar|triliun)\b)?`)
	reUSD     = regexp.MustCompile(`(?i)(?:\bUSD|US\$|\$)\s?(\d(?:[\d.,]*\d)?)(?:\s*(?:thousand|million|billion|ribu|juta|miliar|triliun)\b)?`)
	rePercent = regexp.MustCompile(`(?i)(\d+(?:[.,]\d+)?)\s*(?:%|persen\b)`)
	rePeriod  = regexp.MustCompile(`(?i)\b(\d+)\s*(?:tahun|bulan|hari|minggu|kuartal|semester)\b`)
	reNumber  = regexp.MustCompile(`\b\d+(?:[.,]\d+)*\b`)
)

// Patterns finds currency amounts, percentages, periods and remaining
// plain numbers. Plain numbers inside a typed span are not reported again.
func Patterns(content string) []Pattern {
	var out []Pattern
	typed := func(re *regexp.Regexp, typ, sub string) {
		for _, m := range re.FindAllStringSubmatchIndex(content, -1) {
			out = append(out, Pattern{
				Type:    typ,
				Subtype: sub,
				Value:   content[m[2]:m[3]],
				Text:    content[m[0]:m[1]],
				Start:   m[0],
				End:     m[1],
			})
		}
	}
	typed(reIDR, PatternCurrency, "idr")
	typed(reUSD, PatternCurrency, "usd")
	typed(rePercent, PatternPercentage, "")
	typed(rePeriod, PatternPeriod, "")

	spans := make([][2]int, len(out))
	for i, p := range out {
		spans[i] = [2]int{p.Start, p.End}
	}
	for _, m := range reNumber.FindAllStringIndex(content, -1) {
		if covered(spans, m[0], m[1]) {
			continue
		}
		out = append(out, Pattern{
			Type:    PatternNumber,
			Value:   content[m[0]:m[1]],
			Text:    content[m[0]:m[1]],
			Start:   m[0],
			End:     m[1],
			Context: around(content, m[0], m[1]),
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	for i := range out {
		out[i].Start = runeOffset(content, out[i].Start)
		out[i].End = runeOffset(content, out[i].End)
	}
	return out
}

func runeOffset(s string, byteOff int) int {
	return utf8.RuneCountInString(s[:byteOff])
}

func covered(spans [][2]int, start, end int) bool {
	for _, s := range spans {
		if start < s[1] && end > s[0] {
			return true
		}
	}
	return false
}

// around returns up to contextRadius bytes on each side, widened to rune
// boundaries.
func around(s string, start, end int) string {
	lo := max(0, start-contextRadius)
	for lo > 0 && !utf8.RuneStart(s[lo]) {
		lo--
	}
	hi := min(len(s), end+contextRadius)
	for hi < len(s) && !utf8.RuneStart(s[hi]) {
		hi++
	}
	return s[lo:hi]
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
