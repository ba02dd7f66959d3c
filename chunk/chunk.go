// Package chunk splits markdown into overlapping chunks for embedding.
//
// The splitter is recursive: it cuts on the first separator present in the
// text, merges the pieces back up to Size characters, and recurses with the
// next separator on any piece that is still too long. Every chunk carries
// its byte span in the source text.
package chunk

import (
	"strings"
	"unicode/utf8"
)

// DefaultSeparators go from paragraphs down to single characters.
var DefaultSeparators = []string{"\n\n", "\n", " ", ""}

// Options configures Split.
type Options struct {
	// Size is the maximum chunk length in characters. Default: 1000.
	Size int `json:"size" yaml:"size"`
	// Overlap is the target number of characters shared by consecutive
	// chunks. Default: 150; negative disables overlap. Values not below Size
	// are halved down to Size/2.
	Overlap int `json:"overlap" yaml:"overlap"`
	// Separators are tried in order. Default: DefaultSeparators.
	Separators []string `json:"separators" yaml:"separators"`
}

func (o *Options) defaults() {
	if o.Size <= 0 {
		o.Size = 1000
	}
	switch {
	case o.Overlap < 0:
		o.Overlap = 0
	case o.Overlap == 0:
		o.Overlap = 150
	}
	if o.Overlap >= o.Size {
		o.Overlap = o.Size / 2
	}
	if len(o.Separators) == 0 {
		o.Separators = DefaultSeparators
	}
}

// Chunk is one piece of the source text.
type Chunk struct {
	Index int    `json:"index"`
	Text  string `json:"text"`
	// Start and End are byte offsets of Text in the source.
	Start int `json:"start"`
	End   int `json:"end"`
	// Overlap is the number of bytes shared with the previous chunk.
	Overlap int `json:"overlap"`
}

// Split cuts text into chunks. Empty or blank text yields nil.
func Split(text string, opts Options) []Chunk {
	opts.defaults()
	if strings.TrimSpace(text) == "" {
		return nil
	}
	s := splitter{size: opts.Size, overlap: opts.Overlap}
	pieces := s.split(text, opts.Separators)

	out := make([]Chunk, 0, len(pieces))
	prevStart, prevEnd := 0, 0
	for i, p := range pieces {
		from := 0
		if i > 0 {
			from = max(prevStart+1, prevEnd-opts.Overlap*utf8.UTFMax)
			from = min(from, len(text))
		}
		at := strings.Index(text[from:], p)
		if at < 0 {
			from = prevStart
			at = strings.Index(text[from:], p)
		}
		if at < 0 {
			from, at = 0, strings.Index(text, p)
		}
		start := from + at
		c := Chunk{Index: i, Text: p, Start: start, End: start + len(p)}
		if i > 0 && start < prevEnd {
			c.Overlap = prevEnd - start
		}
		out = append(out, c)
		prevStart, prevEnd = c.Start, c.End
	}
	return out
}

type splitter struct {
	size, overlap int
}

func length(s string) int { return utf8.RuneCountInString(s) }

func (s splitter) split(text string, seps []string) []string {
	sep := seps[len(seps)-1]
	var rest []string
	for i, c := range seps {
		if c == "" {
			sep = c
			break
		}
		if strings.Contains(text, c) {
			sep = c
			rest = seps[i+1:]
			break
		}
	}

	var out, good []string
	for _, part := range strings.Split(text, sep) {
		if length(part) < s.size {
			good = append(good, part)
			continue
		}
		if len(good) > 0 {
			out = append(out, s.merge(good, sep)...)
			good = nil
		}
		if len(rest) == 0 {
			if t := strings.TrimSpace(part); t != "" {
				out = append(out, t)
			}
			continue
		}
		out = append(out, s.split(part, rest)...)
	}
	if len(good) > 0 {
		out = append(out, s.merge(good, sep)...)
	}
	return out
}

// merge packs small pieces into chunks of at most size characters, keeping
// up to overlap characters of the previous chunk at the start of the next.
func (s splitter) merge(parts []string, sep string) []string {
	sepLen := length(sep)
	var out, cur []string
	total := 0
	joined := func() {
		if t := strings.TrimSpace(strings.Join(cur, sep)); t != "" {
			out = append(out, t)
		}
	}
	for _, p := range parts {
		n := length(p)
		extra := 0
		if len(cur) > 0 {
			extra = sepLen
		}
		if total+n+extra > s.size && len(cur) > 0 {
			joined()
			for len(cur) > 0 && (total > s.overlap || total+n+sepIf(len(cur) > 0, sepLen) > s.size) {
				total -= length(cur[0]) + sepIf(len(cur) > 1, sepLen)
				cur = cur[1:]
			}
		}
		cur = append(cur, p)
		total += n + sepIf(len(cur) > 1, sepLen)
	}
	joined()
	return out
}

func sepIf(ok bool, n int) int {
	if ok {
		return n
	}
	return 0
}
