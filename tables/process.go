package tables

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/hazyhaar/docenrich/docmodel"
)

var (
	mergedPercentRe = regexp.MustCompile(`(\d+[.,]?\d*%)(\d+[.,]?\d*%)`)
	numericOnlyRe   = regexp.MustCompile(`^[\d.,\s]+$`)
	numberRe        = regexp.MustCompile(`^\d+([.,]\d+)*$`)
	parenNegRe      = regexp.MustCompile(`\((\d+(?:[.,]\d+)*)\)`)
	mergedDateRe    = regexp.MustCompile(`(\d{1,2}-[A-Za-z]{3})(\d{1,2}-[A-Za-z]{3})`)
)

// Fix counter names recorded in Table.Fixes.
const (
	FixSplitPercent   = "split_percent"
	FixSplitNumbers   = "split_numbers"
	FixNegativeParens = "negative_parens"
	FixSplitDates     = "split_dates"
	FixDroppedColumns = "dropped_columns"
	FixSynthHeaders   = "synth_headers"
)

// SplitCell repairs one cell and reports which fix applied, if any.
// Parenthesized negatives are rewritten before the merge checks so that
// "(0.50)" becomes "-0.50".
func SplitCell(cell string) (string, string) {
	if m := mergedPercentRe.FindStringSubmatch(cell); m != nil {
		return m[1] + " | " + m[2], FixSplitPercent
	}
	if numericOnlyRe.MatchString(cell) {
		parts := strings.Fields(cell)
		if len(parts) == 2 && numberRe.MatchString(parts[0]) && numberRe.MatchString(parts[1]) {
			return parts[0] + " | " + parts[1], FixSplitNumbers
		}
	}
	if parenNegRe.MatchString(cell) {
		return parenNegRe.ReplaceAllString(cell, "-$1"), FixNegativeParens
	}
	if m := mergedDateRe.FindStringSubmatch(cell); m != nil {
		return m[1] + " | " + m[2], FixSplitDates
	}
	return cell, ""
}

// Postprocess normalizes a raw table: merged-token repair, header cleanup,
// empty column removal, whitespace trimming and equal-length rows.
func Postprocess(t docmodel.Table) docmodel.Table {
	if t.Fixes == nil {
		t.Fixes = map[string]int{}
	}
	width := t.Width()
	headers := pad(t.Headers, width)
	rows := make([][]string, 0, len(t.Rows))
	for _, r := range t.Rows {
		row := pad(r, width)
		for i, c := range row {
			fixed, fix := SplitCell(strings.TrimSpace(c))
			if fix != "" {
				t.Fixes[fix]++
			}
			row[i] = fixed
		}
		rows = append(rows, row)
	}

	for i, h := range headers {
		h = strings.Join(strings.Fields(strings.ReplaceAll(h, "\n", " ")), " ")
		if h == "" {
			h = fmt.Sprintf("Col%d", i)
			t.Fixes[FixSynthHeaders]++
		}
		headers[i] = h
	}

	keep := make([]bool, width)
	for ci := 0; ci < width; ci++ {
		if len(rows) == 0 {
			keep[ci] = true
			continue
		}
		for _, r := range rows {
			if strings.TrimSpace(r[ci]) != "" {
				keep[ci] = true
				break
			}
		}
		if !keep[ci] {
			t.Fixes[FixDroppedColumns]++
		}
	}
	t.Headers = filter(headers, keep)
	t.Rows = t.Rows[:0:0]
	for _, r := range rows {
		t.Rows = append(t.Rows, filter(r, keep))
	}
	return t
}

func pad(r []string, n int) []string {
	out := make([]string, n)
	for i := 0; i < n && i < len(r); i++ {
		out[i] = strings.TrimSpace(r[i])
	}
	return out
}

func filter(r []string, keep []bool) []string {
	out := make([]string, 0, len(r))
	for i, v := range r {
		if keep[i] {
			out = append(out, v)
		}
	}
	return out
}
