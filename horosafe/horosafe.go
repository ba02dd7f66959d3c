// Package horosafe guards the filesystem against user-supplied names:
// document ids reach directory paths, so they are validated before use.
package horosafe

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// MaxIdentifierLen bounds document ids and artifact names.
const MaxIdentifierLen = 256

var (
	// ErrPathTraversal is returned when a name would escape its base directory.
	ErrPathTraversal = errors.New("horosafe: path traversal detected")
	// ErrInvalidIdentifier is returned by ValidateIdentifier.
	ErrInvalidIdentifier = errors.New("horosafe: invalid identifier")
)

// ValidateIdentifier accepts ASCII letters, digits, '_', '-' and '.'.
// A lone "." or ".." is rejected even though its characters are allowed.
func ValidateIdentifier(s string) error {
	switch {
	case s == "":
		return fmt.Errorf("%w: empty", ErrInvalidIdentifier)
	case len(s) > MaxIdentifierLen:
		return fmt.Errorf("%w: too long (max %d)", ErrInvalidIdentifier, MaxIdentifierLen)
	case s == "." || s == "..":
		return fmt.Errorf("%w: %q", ErrInvalidIdentifier, s)
	}
	for _, r := range s {
		if !isIdentChar(r) {
			return fmt.Errorf("%w: character %q", ErrInvalidIdentifier, r)
		}
	}
	return nil
}

// SafePath joins base and name and returns ErrPathTraversal when the result
// is not inside base.
func SafePath(base, name string) (string, error) {
	if strings.Contains(name, "..") {
		return "", ErrPathTraversal
	}
	root := filepath.Clean(base)
	joined := filepath.Join(root, filepath.Clean("/"+name))
	if joined != root && !strings.HasPrefix(joined, root+string(filepath.Separator)) {
		return "", ErrPathTraversal
	}
	return joined, nil
}

func isIdentChar(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
		(r >= '0' && r <= '9') || r == '_' || r == '-' || r == '.'
}
