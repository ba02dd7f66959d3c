package horosafe

import (
	"errors"
	"strings"
	"testing"
)

func TestSafePath(t *testing.T) {
	// WHAT: names resolve inside the artefact root, escapes are refused.
	// WHY: document ids come from URLs and CLI arguments.
	tests := []struct {
		base, input string
		wantErr     bool
	}{
		{"/data/artefacts", "0190c3a8-doc/source.pdf", false},
		{"/data/artefacts", "../etc/passwd", true},
		{"/data/artefacts", "doc/../other", true},
		{"/data/artefacts", "doc/../../outside", true},
		{"/data/artefacts", "/abs/inside", false},
		{"/data/artefacts/", "units.json", false},
	}
	for _, tt := range tests {
		got, err := SafePath(tt.base, tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("SafePath(%q, %q) error=%v, wantErr=%v", tt.base, tt.input, err, tt.wantErr)
			continue
		}
		if err == nil && !strings.HasPrefix(got, "/data/artefacts/") {
			t.Errorf("SafePath(%q, %q) = %q, outside base", tt.base, tt.input, got)
		}
		if err != nil && !errors.Is(err, ErrPathTraversal) {
			t.Errorf("SafePath(%q, %q) error %v is not ErrPathTraversal", tt.base, tt.input, err)
		}
	}
}

func TestValidateIdentifier(t *testing.T) {
	valid := []string{"0190c3a8-7b1e-7c3d-9a2b-1f2e3d4c5b6a", "report_v2.pdf", "a"}
	for _, s := range valid {
		if err := ValidateIdentifier(s); err != nil {
			t.Errorf("ValidateIdentifier(%q) = %v", s, err)
		}
	}

	invalid := []string{"", ".", "..", "../etc/passwd", "has spaces", "bad$id", "é", strings.Repeat("a", MaxIdentifierLen+1)}
	for _, s := range invalid {
		err := ValidateIdentifier(s)
		if !errors.Is(err, ErrInvalidIdentifier) {
			t.Errorf("ValidateIdentifier(%q) = %v, want ErrInvalidIdentifier", s, err)
		}
	}
}
