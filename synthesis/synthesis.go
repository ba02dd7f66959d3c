// Package synthesis builds the enhanced markdown (v2) from the extracted
// markdown (v1) and the approved enhancements: each enhancement becomes a
// footnote anchored after the sentence it was derived from, and those whose
// context cannot be located go to an appendix.
//
// Synthesis is idempotent. Running it over its own output strips the
// previous markers and sections first and yields the same document.
package synthesis

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/docenrich/enhance"
	"github.com/hazyhaar/docenrich/mdemit"
)

const (
	stubLen        = 40
	minStubLen     = 10
	sentenceReach  = 400
	contextProbe   = 50
	generatorLabel = "docenrich/synthesis"
)

var (
	reMarker    = regexp.MustCompile(`\[\^fn\d+\]`)
	reFootnotes = regexp.MustCompile(`(?m)^## Footnotes[ \t]*$`)
	reAppendix  = regexp.MustCompile(`(?m)^## Appendix[ \t]*$`)
)

// Options controls the rendering.
type Options struct {
	// Footnotes anchors enhancements in the text. When false every
	// enhancement is listed in the appendix.
	Footnotes bool
	// Metadata adds the enhancement distribution to the frontmatter.
	Metadata bool
}

// Anchor records where one enhancement landed.
type Anchor struct {
	EnhancementID string `json:"enhancement_id"`
	Footnote      int    `json:"footnote,omitempty"`
	Position      int    `json:"position,omitempty"`
	Reason        string `json:"reason,omitempty"`
}

// Report summarizes a synthesis.
type Report struct {
	Anchored int      `json:"anchored"`
	Appendix int      `json:"appendix"`
	Skipped  int      `json:"skipped"`
	Anchors  []Anchor `json:"anchors"`
}

// Summary is added to the frontmatter when Options.Metadata is set.
type Summary struct {
	Total  int            `yaml:"total"`
	ByType map[string]int `yaml:"by_type"`
}

type enhancedMeta struct {
	mdemit.Meta  `yaml:",inline"`
	Enhancements *Summary `yaml:"enhancements,omitempty"`
}

// Render merges enhancements into the v1 document.
func Render(v1 string, es []enhance.Enhancement, opts Options) (string, *Report, error) {
	meta, body, hasMeta := mdemit.SplitFrontmatter(v1)
	docID := meta.DocID
	if hasMeta {
		body = mdemit.StripFooter(body, docID)
	}
	body = Strip(body)

	rep := &Report{}
	type placed struct {
		pos   int
		order int
		e     enhance.Enhancement
	}
	var marks []placed
	var appendix []enhance.Enhancement
	for i, e := range es {
		if strings.TrimSpace(e.GeneratedContent) == "" {
			rep.Skipped++
			rep.Anchors = append(rep.Anchors, Anchor{EnhancementID: e.EnhancementID, Reason: "empty_content"})
			continue
		}
		if !opts.Footnotes {
			appendix = append(appendix, e)
			continue
		}
		pos, reason := locate(body, e.OriginalContext)
		if pos < 0 {
			appendix = append(appendix, e)
			rep.Anchors = append(rep.Anchors, Anchor{EnhancementID: e.EnhancementID, Reason: reason})
			continue
		}
		marks = append(marks, placed{pos: pos, order: i, e: e})
	}
	sort.SliceStable(marks, func(i, j int) bool {
		if marks[i].pos != marks[j].pos {
			return marks[i].pos < marks[j].pos
		}
		return marks[i].order < marks[j].order
	})

	var sb strings.Builder
	prev := 0
	for n, m := range marks {
		sb.WriteString(body[prev:m.pos])
		fmt.Fprintf(&sb, "[^fn%d]", n+1)
		prev = m.pos
		rep.Anchors = append(rep.Anchors, Anchor{EnhancementID: m.e.EnhancementID, Footnote: n + 1, Position: m.pos})
	}
	sb.WriteString(body[prev:])
	rep.Anchored = len(marks)
	rep.Appendix = len(appendix)

	if len(marks) > 0 {
		sb.WriteString("\n## Footnotes\n\n")
		for n, m := range marks {
			fmt.Fprintf(&sb, "[^fn%d]: %s\n", n+1, entry(m.e))
		}
	}
	if len(appendix) > 0 {
		sb.WriteString("\n## Appendix\n\n")
		for _, e := range appendix {
			fmt.Fprintf(&sb, "- %s\n", entry(e))
		}
	}
	out := sb.String()

	if !hasMeta {
		return out, rep, nil
	}
	em := enhancedMeta{Meta: meta}
	em.Generator = generatorLabel
	if opts.Metadata {
		em.Enhancements = &Summary{Total: len(es), ByType: enhance.CountByType(es)}
	}
	head, err := yaml.Marshal(em)
	if err != nil {
		return "", nil, fmt.Errorf("synthesis: frontmatter: %w", err)
	}
	var doc strings.Builder
	doc.WriteString("---\n")
	doc.Write(head)
	doc.WriteString("---\n")
	doc.WriteString(out)
	doc.WriteString("\n---\n\n")
	doc.WriteString(mdemit.Footer(docID))
	doc.WriteByte('\n')
	return doc.String(), rep, nil
}

// Strip removes footnote markers and the trailing Footnotes and Appendix
// sections.
func Strip(body string) string {
	body = reMarker.ReplaceAllString(body, "")
	for _, re := range []*regexp.Regexp{reFootnotes, reAppendix} {
		locs := re.FindAllStringIndex(body, -1)
		if len(locs) == 0 {
			continue
		}
		body = strings.TrimRight(body[:locs[len(locs)-1][0]], " \t\r\n") + "\n"
	}
	return body
}

func entry(e enhance.Enhancement) string {
	content := strings.Join(strings.Fields(e.GeneratedContent), " ")
	title := strings.TrimSpace(e.Title)
	if title == "" {
		return fmt.Sprintf("(%s) %s", e.EnhancementType, content)
	}
	return fmt.Sprintf("**%s** (%s): %s", title, e.EnhancementType, content)
}

// locate returns the insertion offset for a context, or -1 and a reason.
func locate(body, context string) (int, string) {
	ctx := strings.TrimSpace(context)
	if ctx == "" {
		return -1, "no_context"
	}
	start, n := find(body, ctx)
	if start < 0 {
		return -1, "context_not_found"
	}
	pos := sentenceEnd(body, start+min(n, contextProbe))
	if !safeLine(body, pos) {
		return -1, "unsafe_region"
	}
	return pos, ""
}

// find tries the whole context, a 40-character stub, then the leading
// 5, 4 and 3 words. It returns the offset and the matched length.
func find(body, ctx string) (int, int) {
	if i := strings.Index(body, ctx); i >= 0 {
		return i, len(ctx)
	}
	if stub := truncateRunes(ctx, stubLen); len([]rune(stub)) >= minStubLen {
		if i := strings.Index(body, stub); i >= 0 {
			return i, len(stub)
		}
	}
	words := strings.Fields(ctx)
	for _, k := range []int{5, 4, 3} {
		if len(words) < k {
			continue
		}
		span := strings.Join(words[:k], " ")
		if i := strings.Index(body, span); i >= 0 {
			return i, len(span)
		}
	}
	return -1, 0
}

// sentenceEnd returns the offset right after the first sentence terminator
// at or after from, or the end of the line when there is none in reach.
func sentenceEnd(body string, from int) int {
	from = min(from, len(body))
	lineEnd := len(body)
	if j := strings.IndexByte(body[from:], '\n'); j >= 0 {
		lineEnd = from + j
	}
	limit := min(lineEnd, from+sentenceReach)
	for i := from; i < limit; i++ {
		switch body[i] {
		case '.', '!', '?':
			if i+1 == len(body) || body[i+1] == ' ' || body[i+1] == '\n' {
				return i + 1
			}
		}
	}
	end := lineEnd
	for end > from && (body[end-1] == ' ' || body[end-1] == '\t' || body[end-1] == '\r') {
		end--
	}
	return end
}

// safeLine rejects table rows, HTML comments and blockquotes, where a
// marker would break the markup.
func safeLine(body string, pos int) bool {
	start := strings.LastIndexByte(body[:pos], '\n') + 1
	line := strings.TrimSpace(body[start:pos])
	switch {
	case strings.HasPrefix(line, "|"),
		strings.HasPrefix(line, "<!--"),
		strings.HasPrefix(line, ">"):
		return false
	}
	return true
}

func truncateRunes(s string, n int) string {
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
