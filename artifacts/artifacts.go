// Package artifacts owns the per-document directory layout and writes its
// JSON files atomically.
package artifacts

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/hazyhaar/docenrich/horosafe"
)

// File names inside a document directory.
const (
	SourcePDF        = "source.pdf"
	UnitsFile        = "units_metadata.json"
	TablesFile       = "tables.json"
	FiguresFile      = "figures.json"
	EnhancementsFile = "enhancements.json"
	StateFile        = "processing_state.json"
	ProgressFile     = "conversion_progress.json"
	MetricsFile      = "metrics.json"
	MetaFile         = "document_meta.json"
	PagesDir         = "pages"
	CropsDir         = "crops"
)

// Markdown versions.
const (
	V1 = "v1"
	V2 = "v2"
)

// ErrNotFound is returned when a document or one of its files does not exist.
var ErrNotFound = errors.New("artifacts: not found")

// DocumentMeta is document_meta.json.
type DocumentMeta struct {
	DocID            string            `json:"doc_id"`
	OriginalFilename string            `json:"original_filename"`
	BaseName         string            `json:"base_name"`
	MarkdownFiles    map[string]string `json:"markdown_files"`
	SHA256           string            `json:"sha256,omitempty"`
	SizeBytes        int64             `json:"size_bytes,omitempty"`
	UploadedAt       time.Time         `json:"uploaded_at"`
}

// Store maps document ids to directories under a root.
type Store struct {
	root string
}

// New creates the root directory if needed.
func New(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("artifacts: mkdir %s: %w", root, err)
	}
	return &Store{root: root}, nil
}

// Root returns the artefacts root directory.
func (s *Store) Root() string { return s.root }

// Dir returns the directory of docID without creating it.
func (s *Store) Dir(docID string) (string, error) {
	if err := horosafe.ValidateIdentifier(docID); err != nil {
		return "", fmt.Errorf("artifacts: doc id: %w", err)
	}
	return horosafe.SafePath(s.root, docID)
}

// Path returns the path of name inside the document directory.
func (s *Store) Path(docID, name string) (string, error) {
	dir, err := s.Dir(docID)
	if err != nil {
		return "", err
	}
	return horosafe.SafePath(dir, name)
}

// Ensure creates the document directory.
func (s *Store) Ensure(docID string) (string, error) {
	dir, err := s.Dir(docID)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("artifacts: mkdir %s: %w", dir, err)
	}
	return dir, nil
}

// Exists reports whether the document directory exists.
func (s *Store) Exists(docID string) bool {
	dir, err := s.Dir(docID)
	if err != nil {
		return false
	}
	st, err := os.Stat(dir)
	return err == nil && st.IsDir()
}

// List returns the ids of all documents, sorted.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("artifacts: list: %w", err)
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() && horosafe.ValidateIdentifier(e.Name()) == nil {
			ids = append(ids, e.Name())
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// WriteJSON stores v as indented JSON under name.
func (s *Store) WriteJSON(docID, name string, v any) error {
	p, err := s.Path(docID, name)
	if err != nil {
		return err
	}
	return WriteJSON(p, v)
}

// ReadJSON loads name into v. Missing files return ErrNotFound.
func (s *Store) ReadJSON(docID, name string, v any) error {
	p, err := s.Path(docID, name)
	if err != nil {
		return err
	}
	return ReadJSON(p, v)
}

// WriteFile stores data under name atomically.
func (s *Store) WriteFile(docID, name string, data []byte) error {
	p, err := s.Path(docID, name)
	if err != nil {
		return err
	}
	return WriteFileAtomic(p, data)
}

// ReadFile returns the content of name.
func (s *Store) ReadFile(docID, name string) ([]byte, error) {
	p, err := s.Path(docID, name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, docID, name)
	}
	return data, err
}

// SaveMeta writes document_meta.json.
func (s *Store) SaveMeta(m *DocumentMeta) error {
	return s.WriteJSON(m.DocID, MetaFile, m)
}

// LoadMeta reads document_meta.json.
func (s *Store) LoadMeta(docID string) (*DocumentMeta, error) {
	var m DocumentMeta
	if err := s.ReadJSON(docID, MetaFile, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// MarkdownName returns the markdown file name of a version.
func MarkdownName(base, version string) string {
	if version == V2 {
		return base + "_enhanced.md"
	}
	return base + ".md"
}

// MarkdownPath resolves the markdown file of a version through the
// document meta, falling back to "document" as base name.
func (s *Store) MarkdownPath(docID, version string) (string, error) {
	base := "document"
	if m, err := s.LoadMeta(docID); err == nil {
		if name, ok := m.MarkdownFiles[version]; ok && name != "" {
			return s.Path(docID, name)
		}
		if m.BaseName != "" {
			base = m.BaseName
		}
	}
	return s.Path(docID, MarkdownName(base, version))
}

var baseNameRe = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// BaseName sanitizes the stem of an uploaded file name.
func BaseName(filename string) string {
	stem := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	stem = baseNameRe.ReplaceAllString(stem, "_")
	stem = strings.Trim(stem, "._-")
	if stem == "" {
		return "document"
	}
	if len(stem) > 100 {
		stem = stem[:100]
	}
	return stem
}

// WriteJSON marshals v and writes it atomically.
func WriteJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("artifacts: marshal %s: %w", filepath.Base(path), err)
	}
	return WriteFileAtomic(path, append(data, '\n'))
}

// ReadJSON unmarshals the file at path into v.
func ReadJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if err != nil {
		return fmt.Errorf("artifacts: read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("artifacts: decode %s: %w", filepath.Base(path), err)
	}
	return nil
}

// WriteFileAtomic writes to a temp file in the same directory and renames
// it over path.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("artifacts: mkdir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("artifacts: temp: %w", err)
	}
	name := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(name)
		return fmt.Errorf("artifacts: write %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(name)
		return fmt.Errorf("artifacts: sync %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(name)
		return fmt.Errorf("artifacts: close %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(name, path); err != nil {
		os.Remove(name)
		return fmt.Errorf("artifacts: rename %s: %w", filepath.Base(path), err)
	}
	return nil
}
