package layout

import (
	"bufio"
	"bytes"
	"io"
	"math"
	"sort"
	"strconv"

	"github.com/ledongthuc/pdf"

	"github.com/hazyhaar/docenrich/docmodel"
)

// matrix is a PDF affine transform [a b c d e f].
type matrix [6]float64

var identity = matrix{1, 0, 0, 1, 0, 0}

// mul returns m × n (apply m first, then n).
func (m matrix) mul(n matrix) matrix {
	return matrix{
		m[0]*n[0] + m[1]*n[2],
		m[0]*n[1] + m[1]*n[3],
		m[2]*n[0] + m[3]*n[2],
		m[2]*n[1] + m[3]*n[3],
		m[4]*n[0] + m[5]*n[2] + n[4],
		m[4]*n[1] + m[5]*n[3] + n[5],
	}
}

func (m matrix) apply(x, y float64) (float64, float64) {
	return x*m[0] + y*m[2] + m[4], x*m[1] + y*m[3] + m[5]
}

// pageImages lists image XObjects of a page and where they are drawn.
func pageImages(p pdf.Page, size docmodel.PageSize) []Image {
	xobj := inheritedKey(p.V, "Resources").Key("XObject")
	if xobj.Kind() != pdf.Dict {
		return nil
	}
	pixels := map[string][2]int{}
	for _, name := range xobj.Keys() {
		obj := xobj.Key(name)
		if obj.Key("Subtype").Name() != "Image" {
			continue
		}
		pixels[name] = [2]int{int(obj.Key("Width").Int64()), int(obj.Key("Height").Int64())}
	}
	if len(pixels) == 0 {
		return nil
	}

	placed := map[string]bool{}
	var out []Image
	for _, pl := range scanPlacements(contentStream(p.V.Key("Contents"))) {
		px, ok := pixels[pl.name]
		if !ok {
			continue
		}
		x0, y0 := pl.ctm.apply(0, 0)
		x1, y1 := pl.ctm.apply(1, 1)
		bb := docmodel.FromBottomLeft(x0, y0, x1, y1, size.Height).Clamp(size)
		out = append(out, Image{Name: pl.name, BBox: bb, Pixels: px, Placed: true})
		placed[pl.name] = true
	}

	names := make([]string, 0, len(pixels))
	for n := range pixels {
		if !placed[n] {
			names = append(names, n)
		}
	}
	sort.Strings(names)
	y := 0.0
	for _, n := range names {
		px := pixels[n]
		w := math.Min(float64(px[0]), size.Width)
		h := math.Min(float64(px[1]), size.Height)
		if w <= 0 || h <= 0 {
			continue
		}
		bb := docmodel.BBox{0, y, w, y + h}.Clamp(size)
		out = append(out, Image{Name: n, BBox: bb, Pixels: px})
		y = math.Min(y+h, size.Height-1)
	}
	return out
}

// contentStream concatenates the decoded page content streams.
func contentStream(v pdf.Value) []byte {
	var buf bytes.Buffer
	read := func(s pdf.Value) {
		defer func() { _ = recover() }()
		if s.Kind() != pdf.Stream {
			return
		}
		rc := s.Reader()
		defer rc.Close()
		_, _ = io.Copy(&buf, rc)
		buf.WriteByte('\n')
	}
	switch v.Kind() {
	case pdf.Stream:
		read(v)
	case pdf.Array:
		for i := 0; i < v.Len(); i++ {
			read(v.Index(i))
		}
	}
	return buf.Bytes()
}

type placement struct {
	name string
	ctm  matrix
}

// scanPlacements tracks q/Q/cm and records the CTM at each "/Name Do".
func scanPlacements(data []byte) []placement {
	var (
		out      []placement
		ctm      = identity
		stack    []matrix
		operands []string
	)
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	sc.Split(splitTokens)
	inline := false
	for sc.Scan() {
		tok := sc.Text()
		if inline {
			if tok == "EI" {
				inline = false
			}
			continue
		}
		switch tok {
		case "q":
			stack = append(stack, ctm)
		case "Q":
			if n := len(stack); n > 0 {
				ctm = stack[n-1]
				stack = stack[:n-1]
			}
		case "cm":
			if len(operands) >= 6 {
				var m matrix
				ok := true
				for i, s := range operands[len(operands)-6:] {
					f, err := strconv.ParseFloat(s, 64)
					if err != nil {
						ok = false
						break
					}
					m[i] = f
				}
				if ok {
					ctm = m.mul(ctm)
				}
			}
		case "Do":
			if n := len(operands); n > 0 && len(operands[n-1]) > 1 && operands[n-1][0] == '/' {
				out = append(out, placement{name: operands[n-1][1:], ctm: ctm})
			}
		case "BI":
			inline = true
		}
		if isOperator(tok) {
			operands = operands[:0]
		} else {
			operands = append(operands, tok)
		}
	}
	return out
}

func isOperator(tok string) bool {
	if tok == "" {
		return false
	}
	c := tok[0]
	if c == '/' || c == '(' || c == '[' || c == ']' || c == '<' || c == '>' || c == '-' || c == '+' || c == '.' {
		return false
	}
	return c < '0' || c > '9'
}

// splitTokens splits a content stream into whitespace-separated tokens,
// keeping literal strings and arrays whole enough to not confuse operands.
func splitTokens(data []byte, atEOF bool) (int, []byte, error) {
	i := 0
	for i < len(data) && isSpace(data[i]) {
		i++
	}
	if i >= len(data) {
		if atEOF {
			return len(data), nil, nil
		}
		return i, nil, nil
	}
	start := i
	switch data[i] {
	case '(':
		depth := 0
		for j := i; j < len(data); j++ {
			switch data[j] {
			case '\\':
				j++
			case '(':
				depth++
			case ')':
				depth--
				if depth == 0 {
					return j + 1, data[start : j+1], nil
				}
			}
		}
	case '[', ']':
		return i + 1, data[i : i+1], nil
	case '%':
		for j := i; j < len(data); j++ {
			if data[j] == '\n' || data[j] == '\r' {
				return j + 1, nil, nil
			}
		}
	default:
		for j := i + 1; j < len(data); j++ {
			if isSpace(data[j]) || data[j] == '/' || data[j] == '[' || data[j] == ']' || data[j] == '(' {
				return j, data[start:j], nil
			}
		}
	}
	if atEOF {
		return len(data), data[start:], nil
	}
	return start, nil, nil
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\n' || b == '\r' || b == '\t' || b == '\f' || b == 0
}
