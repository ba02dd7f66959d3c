package idgen

import (
	"strings"
	"testing"

	"github.com/hazyhaar/docenrich/horosafe"
)

func TestNanoID(t *testing.T) {
	for _, length := range []int{8, 12, 24} {
		id := NanoID(length)()
		if len(id) != length {
			t.Fatalf("NanoID(%d): got length %d", length, len(id))
		}
		for _, c := range id {
			if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'z')) {
				t.Fatalf("NanoID: unexpected character %q in %q", c, id)
			}
		}
	}
}

func TestNanoIDUniqueness(t *testing.T) {
	gen := NanoID(12)
	seen := make(map[string]struct{}, 1000)
	for i := 0; i < 1000; i++ {
		id := gen()
		if _, ok := seen[id]; ok {
			t.Fatalf("duplicate at iteration %d: %q", i, id)
		}
		seen[id] = struct{}{}
	}
}

func TestDocIDIsSafeIdentifier(t *testing.T) {
	// WHAT: document ids pass the identifier guard.
	// WHY: they become directory names under the artefacts root.
	for i := 0; i < 50; i++ {
		id := NewDocID()
		if err := horosafe.ValidateIdentifier(id); err != nil {
			t.Fatalf("%q: %v", id, err)
		}
		if len(id) != 36 || strings.Count(id, "-") != 4 {
			t.Fatalf("not a UUID: %q", id)
		}
	}
}

func TestDocIDsSortByCreation(t *testing.T) {
	prev := NewDocID()
	for i := 0; i < 100; i++ {
		id := NewDocID()
		if id <= prev {
			t.Fatalf("%q not after %q", id, prev)
		}
		prev = id
	}
}

func TestRequestID(t *testing.T) {
	id := NewRequestID()
	if !strings.HasPrefix(id, "req_") || len(id) != 4+12 {
		t.Fatalf("request id = %q", id)
	}
}

func TestParse(t *testing.T) {
	id := NewDocID()
	got, err := Parse(strings.ToUpper(id))
	if err != nil || got != id {
		t.Fatalf("Parse = %q, %v", got, err)
	}
	if _, err := Parse("not-a-uuid"); err == nil {
		t.Fatal("invalid id accepted")
	}
}
