// Package mdemit renders ordered units as the canonical markdown artifact:
// YAML frontmatter, page separators, headings, inline tables and a bounded
// end-of-document footer.
package mdemit

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/docenrich/docmodel"
)

// Generator is written to the frontmatter of every rendered document.
const Generator = "docenrich/extract"

// NumbersMeta summarizes numeric tokens.
type NumbersMeta struct {
	Count  int      `yaml:"count" json:"count"`
	Sample []string `yaml:"sample" json:"sample"`
}

// Meta is the YAML frontmatter block.
type Meta struct {
	DocID        string      `yaml:"doc_id" json:"doc_id"`
	Title        string      `yaml:"title" json:"title"`
	SourceFile   string      `yaml:"source_file,omitempty" json:"source_file,omitempty"`
	PageCount    int         `yaml:"page_count" json:"page_count"`
	DocumentType string      `yaml:"document_type" json:"document_type"`
	Language     string      `yaml:"language" json:"language"`
	Dates        []string    `yaml:"dates" json:"dates"`
	Numbers      NumbersMeta `yaml:"numbers" json:"numbers"`
	URLs         []string    `yaml:"urls" json:"urls"`
	Emails       []string    `yaml:"emails" json:"emails"`
	HasTables    bool        `yaml:"has_tables" json:"has_tables"`
	HasImages    bool        `yaml:"has_images" json:"has_images"`
	ExtractedAt  string      `yaml:"extracted_at" json:"extracted_at"`
	Generator    string      `yaml:"generator" json:"generator"`
}

// Options carries document-level facts the units do not hold.
type Options struct {
	DocID      string
	Title      string
	SourceFile string
	PageCount  int
	// HasImages is set when figures were found even if none produced text.
	HasImages   bool
	ExtractedAt time.Time
	// Anchors emits an HTML comment with each unit's anchor.
	Anchors bool
}

// Footer returns the end-of-document marker for docID.
func Footer(docID string) string {
	return fmt.Sprintf("<!-- END OF DOCUMENT: %s -->", docID)
}

// Render produces the markdown document and its frontmatter.
func Render(units []docmodel.Unit, opts Options) (string, Meta, error) {
	us := append([]docmodel.Unit(nil), units...)
	docmodel.SortUnits(us)

	meta := Detect(us, opts)
	head, err := yaml.Marshal(meta)
	if err != nil {
		return "", meta, fmt.Errorf("mdemit: frontmatter: %w", err)
	}

	var sb strings.Builder
	sb.WriteString("---\n")
	sb.Write(head)
	sb.WriteString("---\n")

	page := 0
	for _, u := range us {
		if u.Page != page {
			page = u.Page
			fmt.Fprintf(&sb, "\n<!-- page %d -->\n", page)
		}
		sb.WriteByte('\n')
		if opts.Anchors {
			fmt.Fprintf(&sb, "<!-- %s -->\n", u.Anchor)
		}
		content := strings.TrimSpace(u.Content)
		switch u.UnitType {
		case docmodel.UnitTable:
			sb.WriteString(content)
		case docmodel.UnitFigure:
			fmt.Fprintf(&sb, "> [Gambar p.%d] %s", u.Page, strings.Join(strings.Fields(content), " "))
		default:
			if IsHeading(content) {
				sb.WriteString("## ")
			}
			sb.WriteString(content)
		}
		sb.WriteByte('\n')
	}
	sb.WriteString("\n---\n\n")
	sb.WriteString(Footer(meta.DocID))
	sb.WriteByte('\n')
	return sb.String(), meta, nil
}

// Detect derives the frontmatter from the unit stream.
func Detect(units []docmodel.Unit, opts Options) Meta {
	var text strings.Builder
	m := Meta{
		DocID:      opts.DocID,
		Title:      opts.Title,
		SourceFile: opts.SourceFile,
		PageCount:  opts.PageCount,
		HasImages:  opts.HasImages,
		Generator:  Generator,
	}
	for _, u := range units {
		text.WriteString(u.Content)
		text.WriteByte('\n')
		switch u.UnitType {
		case docmodel.UnitTable:
			m.HasTables = true
		case docmodel.UnitFigure:
			m.HasImages = true
		}
		if m.PageCount < u.Page {
			m.PageCount = u.Page
		}
		if m.Title == "" && u.UnitType == docmodel.UnitParagraph {
			m.Title = titleFrom(u.Content)
		}
	}
	s := text.String()
	m.DocumentType = ClassifyDocument(s)
	m.Language = DetectLanguage(s)
	m.Dates = Dates(s)
	m.Numbers.Count, m.Numbers.Sample = Numbers(s)
	m.URLs = URLs(s)
	m.Emails = Emails(s)
	ts := opts.ExtractedAt
	if ts.IsZero() {
		ts = time.Now()
	}
	m.ExtractedAt = ts.UTC().Format(time.RFC3339)
	return m
}

func titleFrom(s string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(s), "\n")
	r := []rune(line)
	if len(r) > 120 {
		line = strings.TrimSpace(string(r[:120]))
	}
	return line
}

// SplitFrontmatter separates a rendered document into its frontmatter and
// body. ok is false when the document has no frontmatter.
func SplitFrontmatter(doc string) (Meta, string, bool) {
	var m Meta
	if !strings.HasPrefix(doc, "---\n") {
		return m, doc, false
	}
	head, body, found := strings.Cut(doc[4:], "\n---\n")
	if !found {
		return m, doc, false
	}
	if err := yaml.Unmarshal([]byte(head), &m); err != nil {
		return m, doc, false
	}
	return m, body, true
}

// StripFooter removes the end-of-document footer and its rule.
func StripFooter(body string, docID string) string {
	body = strings.TrimRight(body, "\n")
	body = strings.TrimSuffix(body, Footer(docID))
	body = strings.TrimRight(body, "\n")
	body = strings.TrimSuffix(body, "---")
	return strings.TrimRight(body, "\n") + "\n"
}
