// Package idgen generates document and request identifiers.
//
// Document ids name the artefact directory and the queue row, so every
// generator here yields strings accepted by horosafe.ValidateIdentifier.
package idgen

import (
	"crypto/rand"
	"fmt"

	"github.com/google/uuid"
)

// Generator produces unique string identifiers.
type Generator func() string

// UUIDv7 returns a Generator of RFC 9562 version 7 UUIDs. They sort by
// creation time, which keeps the artefact listing in upload order.
func UUIDv7() Generator {
	return func() string {
		return uuid.Must(uuid.NewV7()).String()
	}
}

// NanoID returns a Generator of base-36 ids of the given length.
func NanoID(length int) Generator {
	const alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
	return func() string {
		buf := make([]byte, length)
		if _, err := rand.Read(buf); err != nil {
			panic("idgen: crypto/rand failed: " + err.Error())
		}
		for i := range buf {
			buf[i] = alphabet[int(buf[i])%len(alphabet)]
		}
		return string(buf)
	}
}

// Prefixed prepends prefix to every id of gen.
func Prefixed(prefix string, gen Generator) Generator {
	return func() string {
		return prefix + gen()
	}
}

var (
	// Document names uploaded documents.
	Document Generator = UUIDv7()
	// Request tags HTTP and MCP requests in logs.
	Request Generator = Prefixed("req_", NanoID(12))
)

// NewDocID returns a fresh document id.
func NewDocID() string { return Document() }

// NewRequestID returns a fresh request id.
func NewRequestID() string { return Request() }

// Parse validates a UUID document id and returns it in canonical form.
func Parse(s string) (string, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return "", fmt.Errorf("idgen: invalid document id: %w", err)
	}
	return u.String(), nil
}
