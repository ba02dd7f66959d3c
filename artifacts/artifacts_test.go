package artifacts

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestStore_JSONRoundTrip(t *testing.T) {
	// WHAT: WriteJSON then ReadJSON inside a document directory.
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Ensure("doc1"); err != nil {
		t.Fatal(err)
	}
	in := map[string]int{"pages": 3}
	if err := s.WriteJSON("doc1", MetricsFile, in); err != nil {
		t.Fatal(err)
	}
	var out map[string]int
	if err := s.ReadJSON("doc1", MetricsFile, &out); err != nil {
		t.Fatal(err)
	}
	if out["pages"] != 3 {
		t.Errorf("got %v", out)
	}

	entries, _ := os.ReadDir(filepath.Join(s.Root(), "doc1"))
	if len(entries) != 1 {
		t.Errorf("temp files left behind: %v", entries)
	}
}

func TestStore_MissingIsNotFound(t *testing.T) {
	s, _ := New(t.TempDir())
	var v any
	if err := s.ReadJSON("nope", StateFile, &v); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v", err)
	}
	if _, err := s.ReadFile("nope", "x.md"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v", err)
	}
}

func TestStore_RejectsTraversal(t *testing.T) {
	// WHAT: document ids and file names cannot escape the root.
	s, _ := New(t.TempDir())
	for _, id := range []string{"../etc", "a/b", ""} {
		if _, err := s.Dir(id); err == nil {
			t.Errorf("Dir(%q) accepted", id)
		}
	}
	if _, err := s.Path("doc", "../../x"); err == nil {
		t.Error("Path accepted traversal")
	}
}

func TestStore_MarkdownPath(t *testing.T) {
	s, _ := New(t.TempDir())
	s.Ensure("d")
	p, err := s.MarkdownPath("d", V1)
	if err != nil || filepath.Base(p) != "document.md" {
		t.Fatalf("default = %q, %v", p, err)
	}
	if err := s.SaveMeta(&DocumentMeta{
		DocID: "d", OriginalFilename: "Laporan Tahunan 2023.pdf", BaseName: "Laporan_Tahunan_2023",
		MarkdownFiles: map[string]string{V1: "Laporan_Tahunan_2023.md"},
		UploadedAt:    time.Now(),
	}); err != nil {
		t.Fatal(err)
	}
	p, _ = s.MarkdownPath("d", V1)
	if filepath.Base(p) != "Laporan_Tahunan_2023.md" {
		t.Errorf("v1 = %q", p)
	}
	p, _ = s.MarkdownPath("d", V2)
	if filepath.Base(p) != "Laporan_Tahunan_2023_enhanced.md" {
		t.Errorf("v2 = %q", p)
	}
}

func TestStore_List(t *testing.T) {
	s, _ := New(t.TempDir())
	s.Ensure("b")
	s.Ensure("a")
	os.WriteFile(filepath.Join(s.Root(), "stray.txt"), nil, 0o644)
	ids, err := s.List()
	if err != nil || len(ids) != 2 || ids[0] != "a" || ids[1] != "b" {
		t.Fatalf("List = %v, %v", ids, err)
	}
}

func TestBaseName(t *testing.T) {
	cases := map[string]string{
		"Laporan Tahunan 2023.pdf": "Laporan_Tahunan_2023",
		"/tmp/x/../a&b.pdf":        "a_b",
		".pdf":                     "document",
		"résumé.PDF":               "r_sum",
	}
	for in, want := range cases {
		if got := BaseName(in); got != want {
			t.Errorf("BaseName(%q) = %q, want %q", in, got, want)
		}
	}
}
