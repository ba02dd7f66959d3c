package enhance

import (
	"sort"
	"strings"
)

const fingerprintLen = 200

// Fingerprint is the dedupe key: the first 200 characters of the content,
// lower-cased with whitespace collapsed.
func Fingerprint(content string) string {
	return strings.Join(strings.Fields(strings.ToLower(truncateRunes(content, fingerprintLen))), " ")
}

// Rank keeps the first enhancement of each fingerprint and orders the rest
// by priority then confidence, both descending. The sort is stable so equal
// items keep their emission order.
func Rank(in []Enhancement) []Enhancement {
	seen := make(map[string]bool, len(in))
	out := make([]Enhancement, 0, len(in))
	for _, e := range in {
		fp := Fingerprint(e.GeneratedContent)
		if seen[fp] {
			continue
		}
		seen[fp] = true
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].ConfidenceScore > out[j].ConfidenceScore
	})
	return out
}

// CountByType tallies enhancements per type.
func CountByType(es []Enhancement) map[string]int {
	out := make(map[string]int)
	for _, e := range es {
		out[e.EnhancementType]++
	}
	return out
}
