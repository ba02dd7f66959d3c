package docpipe

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"unicode"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
)

// pdfInfo is pdfcpu's view of a document: validated structure, page count,
// image streams and raw content streams for the text fallback.
type pdfInfo struct {
	mu         sync.Mutex
	ctx        *model.Context
	pageCount  int
	imagePages map[int]int
}

// inspectPDF reads and validates the PDF at path.
func inspectPDF(path string) (*pdfInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	conf := model.NewDefaultConfiguration()
	ctx, err := api.ReadValidateAndOptimize(f, conf)
	if err != nil {
		return nil, fmt.Errorf("pdfcpu read: %w", err)
	}

	info := &pdfInfo{ctx: ctx, pageCount: ctx.PageCount, imagePages: map[int]int{}}
	if ctx.Optimize != nil {
		for pageNr := 1; pageNr <= ctx.PageCount; pageNr++ {
			if n := len(pdfcpu.ImageObjNrs(ctx, pageNr)); n > 0 {
				info.imagePages[pageNr] = n
			}
		}
	}
	return info, nil
}

// HasImageStreams reports whether any page references an image XObject,
// falling back to a scan of the cross-reference table.
func (i *pdfInfo) HasImageStreams() bool {
	if i == nil {
		return false
	}
	if len(i.imagePages) > 0 {
		return true
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	for _, entry := range i.ctx.Table {
		if entry == nil || entry.Free || entry.Compressed {
			continue
		}
		sd, ok := entry.Object.(types.StreamDict)
		if !ok {
			continue
		}
		if subtype, found := sd.Find("Subtype"); found {
			if name, isName := subtype.(types.Name); isName && name == "Image" {
				return true
			}
		}
	}
	return false
}

// PageText decodes the text operators of one page's content stream. It is
// the last resort when the layout reader recovers no glyphs.
func (i *pdfInfo) PageText(pageNr int) string {
	if i == nil || pageNr < 1 || pageNr > i.pageCount {
		return ""
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	r, err := pdfcpu.ExtractPageContent(i.ctx, pageNr)
	if err != nil || r == nil {
		return ""
	}
	data, err := io.ReadAll(r)
	if err != nil || len(data) == 0 {
		return ""
	}
	return extractTextFromStream(data)
}

// pdfStringRe matches PDF string literals in parentheses: (text here)
var pdfStringRe = regexp.MustCompile(`\(((?:[^()\\]|\\.)*)\)`)

// extractTextFromStream parses content stream operators for text. Line
// moves become newlines so paragraph splitting still has something to work
// with.
func extractTextFromStream(data []byte) string {
	var sb strings.Builder

	for _, line := range bytes.Split(data, []byte{'\n'}) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}

		switch {
		// (text) Tj  and  [(text) -100 (more text)] TJ
		case bytes.HasSuffix(line, []byte("Tj")), bytes.HasSuffix(line, []byte("TJ")):
			for _, m := range pdfStringRe.FindAllSubmatch(line, -1) {
				sb.WriteString(decodePDFString(m[1]))
			}

		// (text) '  moves to the next line first.
		case bytes.HasSuffix(line, []byte("'")) && bytes.Contains(line, []byte("(")):
			for _, m := range pdfStringRe.FindAllSubmatch(line, -1) {
				sb.WriteByte('\n')
				sb.WriteString(decodePDFString(m[1]))
			}

		case bytes.HasSuffix(line, []byte("Td")), bytes.HasSuffix(line, []byte("TD")):
			if sb.Len() == 0 {
				break
			}
			fields := bytes.Fields(line)
			ty := 0.0
			if len(fields) >= 3 {
				ty, _ = strconv.ParseFloat(string(fields[len(fields)-2]), 64)
			}
			switch {
			case ty < -30:
				sb.WriteString("\n\n")
			case ty < 0:
				sb.WriteByte('\n')
			default:
				sb.WriteByte(' ')
			}

		case bytes.Equal(line, []byte("T*")):
			sb.WriteByte('\n')
		}
	}

	return cleanPDFText(sb.String())
}

// decodePDFString handles basic PDF escape sequences.
func decodePDFString(raw []byte) string {
	var sb strings.Builder
	for i := 0; i < len(raw); i++ {
		if raw[i] == '\\' && i+1 < len(raw) {
			i++
			switch raw[i] {
			case 'n':
				sb.WriteByte('\n')
			case 'r':
				sb.WriteByte('\r')
			case 't':
				sb.WriteByte('\t')
			case '\\':
				sb.WriteByte('\\')
			case '(':
				sb.WriteByte('(')
			case ')':
				sb.WriteByte(')')
			default:
				// Octal escape (e.g. \040 for space).
				if raw[i] >= '0' && raw[i] <= '7' {
					val := int(raw[i] - '0')
					if i+1 < len(raw) && raw[i+1] >= '0' && raw[i+1] <= '7' {
						i++
						val = val*8 + int(raw[i]-'0')
						if i+1 < len(raw) && raw[i+1] >= '0' && raw[i+1] <= '7' {
							i++
							val = val*8 + int(raw[i]-'0')
						}
					}
					sb.WriteByte(byte(val))
				} else {
					sb.WriteByte(raw[i])
				}
			}
		} else {
			sb.WriteByte(raw[i])
		}
	}
	return sb.String()
}

// cleanPDFText collapses horizontal whitespace, keeps at most one blank
// line between paragraphs and drops unprintable runes.
func cleanPDFText(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	var sb strings.Builder
	prevSpace, newlines := false, 0
	for _, r := range text {
		switch {
		case r == '\n':
			newlines++
			prevSpace = false
		case unicode.IsSpace(r):
			if newlines == 0 && sb.Len() > 0 {
				prevSpace = true
			}
		case unicode.IsPrint(r):
			if newlines > 0 && sb.Len() > 0 {
				sb.WriteString(strings.Repeat("\n", min(newlines, 2)))
			} else if prevSpace {
				sb.WriteByte(' ')
			}
			sb.WriteRune(r)
			prevSpace, newlines = false, 0
		}
	}
	return strings.TrimSpace(sb.String())
}
