package enhance

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// Parse strategies, in the order they are tried.
const (
	StrategyDirect = iota + 1
	StrategyFenced
	StrategyRepair
	StrategyGreedy
	StrategyArray
)

var (
	reFenced        = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")
	reTrailingComma = regexp.MustCompile(`,(\s*[}\]])`)
	reGreedy        = regexp.MustCompile(`(?s)\{.*"enhancements".*\}`)
	reArrayStart    = regexp.MustCompile(`"enhancements"\s*:\s*\[`)
)

// Parse decodes an LLM answer into its enhancement items. It returns the
// strategy that succeeded. Valid JSON always goes through the direct path.
func Parse(content string) ([]map[string]any, int, error) {
	content = strings.TrimSpace(content)

	var v any
	if err := json.Unmarshal([]byte(content), &v); err == nil {
		items, err := items(v, false)
		return items, StrategyDirect, err
	}

	if m := reFenced.FindStringSubmatch(content); m != nil {
		if items, ok := tryObject(m[1]); ok {
			return items, StrategyFenced, nil
		}
	}
	if items, ok := tryObject(repair(content)); ok {
		return items, StrategyRepair, nil
	}
	if m := reGreedy.FindString(content); m != "" {
		if items, ok := tryObject(m); ok {
			return items, StrategyGreedy, nil
		}
	}
	if items, ok := salvage(content); ok {
		return items, StrategyArray, nil
	}
	return nil, 0, ErrUnparseable
}

// tryObject accepts only objects that carry the enhancements key.
func tryObject(s string) ([]map[string]any, bool) {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, false
	}
	items, err := items(v, true)
	return items, err == nil
}

func items(v any, requireKey bool) ([]map[string]any, error) {
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: not an object", ErrInvalidShape)
	}
	raw, ok := obj["enhancements"]
	if !ok || raw == nil {
		if requireKey {
			return nil, fmt.Errorf("%w: no enhancements key", ErrInvalidShape)
		}
		return []map[string]any{}, nil
	}
	list, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: enhancements is not a list", ErrInvalidShape)
	}
	out := make([]map[string]any, 0, len(list))
	for _, it := range list {
		if m, ok := it.(map[string]any); ok {
			out = append(out, m)
		} else {
			// Keep the slot so rejection ratios count it.
			out = append(out, nil)
		}
	}
	return out, nil
}

// repair drops trailing commas, closes strings left open at a line end and
// closes brackets left open at the end of the text.
func repair(s string) string {
	s = reTrailingComma.ReplaceAllString(s, "$1")
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		t := strings.TrimRight(l, " \t\r")
		quotes := strings.Count(t, `"`) - strings.Count(t, `\"`)
		if quotes%2 != 0 && !strings.HasSuffix(t, `"`) {
			lines[i] = t + `"`
		}
	}
	s = strings.Join(lines, "\n")
	s = strings.TrimRight(s, " \t\r\n")
	s = strings.TrimSuffix(s, ",")

	var stack []byte
	inStr, esc := false, false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inStr {
			switch {
			case esc:
				esc = false
			case c == '\\':
				esc = true
			case c == '"':
				inStr = false
			}
			continue
		}
		switch c {
		case '"':
			inStr = true
		case '{':
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		}
	}
	if inStr {
		s += `"`
	}
	var sb strings.Builder
	sb.WriteString(s)
	for i := len(stack) - 1; i >= 0; i-- {
		sb.WriteByte(stack[i])
	}
	return reTrailingComma.ReplaceAllString(sb.String(), "$1")
}

// salvage extracts every complete object of the enhancements array, even
// when the array itself is cut off.
func salvage(s string) ([]map[string]any, bool) {
	loc := reArrayStart.FindStringIndex(s)
	if loc == nil {
		return nil, false
	}
	var out []map[string]any
	depth, start := 0, -1
	inStr, esc := false, false
	for i := loc[1]; i < len(s); i++ {
		c := s[i]
		if inStr {
			switch {
			case esc:
				esc = false
			case c == '\\':
				esc = true
			case c == '"':
				inStr = false
			}
			continue
		}
		switch c {
		case '"':
			inStr = true
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth == 0 {
				continue
			}
			depth--
			if depth == 0 && start >= 0 {
				var m map[string]any
				if json.Unmarshal([]byte(s[start:i+1]), &m) == nil {
					out = append(out, m)
				}
				start = -1
			}
		case ']':
			if depth == 0 {
				return out, true
			}
		}
	}
	return out, len(out) > 0
}
