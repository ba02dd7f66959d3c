package layout

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/hazyhaar/docenrich/docmodel"
)

var pageNumberRes = []*regexp.Regexp{
	regexp.MustCompile(`^\d{1,4}$`),
	regexp.MustCompile(`^[-–—]\s*\d{1,4}\s*[-–—]$`),
	regexp.MustCompile(`^\d{1,4}\s*/\s*\d{1,4}$`),
	regexp.MustCompile(`(?i)^(page|hal\.?|halaman)\s*\d{1,4}(\s*(of|dari|/)\s*\d{1,4})?$`),
	regexp.MustCompile(`(?i)^x{0,3}(?:ix|iv|v?i{0,3})$`),
}

// IsPageNumber reports whether s, taken as a whole line, is a bare page
// number. Roman numerals are accepted up to xxxix.
func IsPageNumber(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return false
	}
	for _, re := range pageNumberRes {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}

// StripMargins removes header and footer text from the top and bottom
// bands of the page.
//
// In "auto" mode a band block is kept when it looks like content: long
// text, tall or wide block, a sentence with punctuation, mixed case words,
// or alphanumeric identifiers. Page numbers are always dropped. "strict"
// drops every band text block and "off" keeps everything. Image blocks are
// never dropped.
func StripMargins(blocks []docmodel.Block, size docmodel.PageSize, mode string, band float64) (kept, removed []docmodel.Block) {
	if mode == "off" {
		return blocks, nil
	}
	for _, b := range blocks {
		if b.Kind != docmodel.BlockText {
			kept = append(kept, b)
			continue
		}
		inBand := b.BBox.Y0() < band || b.BBox.Y1() > size.Height-band
		if !inBand {
			kept = append(kept, b)
			continue
		}
		if mode != "strict" && RetainBandText(b, size) {
			kept = append(kept, b)
			continue
		}
		removed = append(removed, b)
	}
	return kept, removed
}

// RetainBandText applies the content-aware retention rules to a block
// found in a header or footer band.
func RetainBandText(b docmodel.Block, size docmodel.PageSize) bool {
	text := strings.TrimSpace(b.Text)
	if text == "" || IsPageNumber(text) {
		return false
	}
	if len([]rune(text)) > 100 {
		return true
	}
	if b.BBox.Height() > 15 {
		return true
	}
	if b.BBox.Width() > 0.5*size.Width {
		return true
	}
	words := strings.Fields(text)
	if len(words) >= 3 && strings.ContainsAny(text, ".,;:!?") {
		return true
	}
	var upper, lower, letter, digit bool
	for _, r := range text {
		switch {
		case unicode.IsUpper(r):
			upper, letter = true, true
		case unicode.IsLower(r):
			lower, letter = true, true
		case unicode.IsDigit(r):
			digit = true
		}
	}
	if len(words) >= 2 && upper && lower {
		return true
	}
	if len(words) >= 2 && letter && digit {
		return true
	}
	return false
}
