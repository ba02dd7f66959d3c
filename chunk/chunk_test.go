package chunk

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestSplit_ShortText(t *testing.T) {
	text := "Hello world this is a short text."
	chunks := Split(text, Options{})
	if len(chunks) != 1 {
		t.Fatalf("split short: got %d chunks, want 1", len(chunks))
	}
	if chunks[0].Text != text {
		t.Errorf("text: got %q, want %q", chunks[0].Text, text)
	}
	if chunks[0].Start != 0 || chunks[0].End != len(text) {
		t.Errorf("span: got [%d,%d), want [0,%d)", chunks[0].Start, chunks[0].End, len(text))
	}
	if chunks[0].Overlap != 0 {
		t.Errorf("overlap: got %d, want 0", chunks[0].Overlap)
	}
}

func TestSplit_Empty(t *testing.T) {
	if chunks := Split("", Options{}); chunks != nil {
		t.Errorf("split empty: got %v, want nil", chunks)
	}
	if chunks := Split(" \n\n ", Options{}); chunks != nil {
		t.Errorf("split blank: got %v, want nil", chunks)
	}
}

func TestSplit_LongText(t *testing.T) {
	// WHAT: chunks stay within Size, spans point back at the source and
	// consecutive chunks overlap.
	words := make([]string, 200)
	for i := range words {
		words[i] = "word"
	}
	text := strings.Join(words, " ")

	chunks := Split(text, Options{Size: 50, Overlap: 10})
	if len(chunks) < 3 {
		t.Fatalf("split long: got %d chunks, want >= 3", len(chunks))
	}
	for i, c := range chunks {
		if n := utf8.RuneCountInString(c.Text); n > 50 {
			t.Errorf("chunk[%d]: %d chars > 50 max", i, n)
		}
		if c.Index != i {
			t.Errorf("chunk[%d]: index=%d, want %d", i, c.Index, i)
		}
		if text[c.Start:c.End] != c.Text {
			t.Errorf("chunk[%d]: span [%d,%d) does not match text", i, c.Start, c.End)
		}
		if i > 0 && c.Overlap == 0 {
			t.Errorf("chunk[%d]: no overlap with previous chunk", i)
		}
	}
	if chunks[0].Overlap != 0 {
		t.Errorf("chunk[0]: overlap=%d, want 0", chunks[0].Overlap)
	}
}

func TestSplit_NoOverlap(t *testing.T) {
	text := strings.Repeat("kata ", 100)
	chunks := Split(text, Options{Size: 40, Overlap: -1})
	for i := 1; i < len(chunks); i++ {
		if chunks[i].Start < chunks[i-1].End {
			t.Errorf("chunk[%d] starts at %d before previous end %d", i, chunks[i].Start, chunks[i-1].End)
		}
	}
}

func TestSplit_ParagraphAware(t *testing.T) {
	// WHY: paragraphs are the preferred cut so a chunk does not mix topics.
	para1 := strings.TrimSpace(strings.Repeat("alpha ", 30))
	para2 := strings.TrimSpace(strings.Repeat("beta ", 30))
	para3 := strings.TrimSpace(strings.Repeat("gamma ", 30))
	text := para1 + "\n\n" + para2 + "\n\n" + para3

	chunks := Split(text, Options{Size: 200, Overlap: 20})
	if len(chunks) != 3 {
		t.Fatalf("paragraph split: got %d chunks, want 3", len(chunks))
	}
	for i, want := range []string{para1, para2, para3} {
		if chunks[i].Text != want {
			t.Errorf("chunk[%d]: got %q", i, chunks[i].Text[:min(len(chunks[i].Text), 30)])
		}
	}
	if chunks[1].Start != len(para1)+2 {
		t.Errorf("chunk[1] start: got %d, want %d", chunks[1].Start, len(para1)+2)
	}
}

func TestSplit_Runes(t *testing.T) {
	text := strings.Repeat("é", 35)
	chunks := Split(text, Options{Size: 10, Overlap: 3})
	if len(chunks) < 4 {
		t.Fatalf("got %d chunks, want >= 4", len(chunks))
	}
	for i, c := range chunks {
		if !utf8.ValidString(c.Text) {
			t.Errorf("chunk[%d] cuts a rune", i)
		}
		if n := utf8.RuneCountInString(c.Text); n > 10 {
			t.Errorf("chunk[%d]: %d chars > 10", i, n)
		}
	}
}
