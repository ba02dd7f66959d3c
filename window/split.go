package window

import (
	"strings"
)

// Split cuts text into parts of at most limit tokens, preferring paragraph,
// then line, then sentence, then word boundaries. Runs without any boundary
// are cut by runes.
func Split(text string, limit int, c Counter) []string {
	if limit <= 0 {
		limit = 1
	}
	var out []string
	for _, p := range splitLevel(text, limit, c, 0) {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

type splitter struct {
	sep   string
	split func(string) []string
}

var levels = []splitter{
	{"\n\n", func(s string) []string { return strings.Split(s, "\n\n") }},
	{"\n", func(s string) []string { return strings.Split(s, "\n") }},
	{" ", sentences},
	{" ", strings.Fields},
}

func splitLevel(text string, limit int, c Counter, level int) []string {
	if c.Count(text) <= limit {
		return []string{text}
	}
	if level >= len(levels) {
		return cutRunes(text, limit, c)
	}
	lv := levels[level]
	pieces := lv.split(text)
	if len(pieces) <= 1 {
		return splitLevel(text, limit, c, level+1)
	}

	var (
		out []string
		cur string
	)
	for _, p := range pieces {
		if strings.TrimSpace(p) == "" {
			continue
		}
		if c.Count(p) > limit {
			if cur != "" {
				out = append(out, cur)
				cur = ""
			}
			out = append(out, splitLevel(p, limit, c, level+1)...)
			continue
		}
		if cur == "" {
			cur = p
			continue
		}
		if joined := cur + lv.sep + p; c.Count(joined) <= limit {
			cur = joined
			continue
		}
		out = append(out, cur)
		cur = p
	}
	if cur != "" {
		out = append(out, cur)
	}
	return out
}

// sentences splits after '.', '!' or '?' followed by whitespace.
func sentences(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s)-1; i++ {
		switch s[i] {
		case '.', '!', '?':
			if s[i+1] == ' ' || s[i+1] == '\t' {
				out = append(out, strings.TrimSpace(s[start:i+1]))
				start = i + 1
			}
		}
	}
	if rest := strings.TrimSpace(s[start:]); rest != "" {
		out = append(out, rest)
	}
	return out
}

func cutRunes(s string, limit int, c Counter) []string {
	r := []rune(s)
	var out []string
	for start := 0; start < len(r); {
		size := min(len(r)-start, limit*4)
		for size > 1 && c.Count(string(r[start:start+size])) > limit {
			size /= 2
		}
		out = append(out, string(r[start:start+size]))
		start += size
	}
	return out
}
