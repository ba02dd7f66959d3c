package tables

import (
	"strings"

	"github.com/hazyhaar/docenrich/docmodel"
)

// Markdown renders a table as a GitHub pipe table. Cell newlines become
// spaces and pipes are escaped.
func Markdown(t docmodel.Table) string {
	var sb strings.Builder
	writeRow(&sb, t.Headers)
	sb.WriteString("\n|")
	for _, h := range t.Headers {
		n := len([]rune(h)) + 2
		if n < 3 {
			n = 3
		}
		sb.WriteString(strings.Repeat("-", n))
		sb.WriteByte('|')
	}
	for _, r := range t.Rows {
		sb.WriteByte('\n')
		writeRow(&sb, r)
	}
	return sb.String()
}

func writeRow(sb *strings.Builder, cells []string) {
	sb.WriteString("| ")
	for i, c := range cells {
		if i > 0 {
			sb.WriteString(" | ")
		}
		sb.WriteString(strings.ReplaceAll(strings.Join(strings.Fields(c), " "), "|", `\|`))
	}
	sb.WriteString(" |")
}
