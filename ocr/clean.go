package ocr

import (
	"regexp"
	"strings"
)

var (
	sectionNumberRe = regexp.MustCompile(`^\d+\.?\d*\.?$`)
	spaceRunRe      = regexp.MustCompile(`[ \t]+`)
	blankRunRe      = regexp.MustCompile(`\n\s*\n\s*\n+`)
)

// corrections fixes a handful of unambiguous Indonesian misreads.
var corrections = []struct {
	re   *regexp.Regexp
	with string
}{
	{regexp.MustCompile(`(?i)\bdaan\b`), "dan"},
	{regexp.MustCompile(`(?i)\byano\b`), "yang"},
	{regexp.MustCompile(`(?i)\bunluk\b`), "untuk"},
}

// Clean normalizes raw OCR output. Section numbers that tesseract put on
// their own line are rejoined with their content: "1.46\n1.47\nA\nB"
// becomes "1.46 A\n1.47 B".
func Clean(text string) string {
	for _, c := range corrections {
		text = c.re.ReplaceAllString(text, c.with)
	}
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	var out []string
	for i := 0; i < len(lines); i++ {
		line := strings.TrimSpace(lines[i])
		if !sectionNumberRe.MatchString(line) || i+1 >= len(lines) {
			out = append(out, line)
			continue
		}
		nums := []string{line}
		j := i + 1
		for j < len(lines) && sectionNumberRe.MatchString(strings.TrimSpace(lines[j])) {
			nums = append(nums, strings.TrimSpace(lines[j]))
			j++
		}
		if len(nums) == 1 {
			next := strings.TrimSpace(lines[j])
			if next != "" {
				out = append(out, line+" "+next)
				i = j
			} else {
				out = append(out, line)
			}
			continue
		}
		for k, n := range nums {
			if j+k < len(lines) && strings.TrimSpace(lines[j+k]) != "" {
				out = append(out, n+" "+strings.TrimSpace(lines[j+k]))
			} else {
				out = append(out, n)
			}
		}
		i = j + len(nums) - 1
	}
	text = strings.Join(out, "\n")
	text = blankRunRe.ReplaceAllString(text, "\n\n")
	text = spaceRunRe.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

// FilterTableLines keeps substantial prose lines from full-page OCR of a
// page that also carries tables, so table cells are not emitted twice.
func FilterTableLines(text string) string {
	var keep []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if len([]rune(line)) > 20 && !LikelyTableText(line) {
			keep = append(keep, line)
		}
	}
	return strings.Join(keep, "\n")
}

// LikelyTableText reports whether a line looks like a table row.
func LikelyTableText(s string) bool {
	s = strings.TrimSpace(s)
	rs := []rune(s)
	if len(rs) < 10 {
		return true
	}
	nonAlpha := 0
	for _, r := range rs {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r > 127) {
			nonAlpha++
		}
	}
	if float64(nonAlpha)/float64(len(rs)) > 0.7 {
		return true
	}
	for _, p := range []string{"%", "$", "|", "USD", "IDR", "Rp"} {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}
