// Package uuid includes tests for the UUID generator wrapper.
package uuid

import (
	"regexp"
	"testing"

	goUUID "github.com/google/uuid"
)

// TestGeneratorNewRunID ensures run IDs are unique valid UUIDv7 strings.
func TestGeneratorNewRunID(t *testing.T) {
	t.Parallel()

	gen := New()
	id1, err := gen.NewRunID()
	if err != nil {
		t.Fatalf("NewRunID() error = %v", err)
	}
	id2, err := gen.NewRunID()
	if err != nil {
		t.Fatalf("NewRunID() error = %v", err)
	}
	if id1 == id2 {
		t.Fatalf("expected unique IDs, got %s and %s", id1, id2)
	}
	parsed, err := goUUID.Parse(id1)
	if err != nil {
		t.Fatalf("id1 not valid UUID: %v", err)
	}
	if parsed.Version() != 7 {
		t.Fatalf("expected version 7, got %d", parsed.Version())
	}
}

// TestGeneratorToken checks the token shape and that tokens differ.
func TestGeneratorToken(t *testing.T) {
	t.Parallel()

	hex := regexp.MustCompile(`^[0-9a-f]{8}$`)
	gen := New()
	seen := make(map[string]struct{})
	for i := 0; i < 50; i++ {
		tok, err := gen.Token()
		if err != nil {
			t.Fatalf("Token() error = %v", err)
		}
		if !hex.MatchString(tok) {
			t.Fatalf("token %q is not 8 lowercase hex chars", tok)
		}
		seen[tok] = struct{}{}
	}
	if len(seen) < 45 {
		t.Fatalf("expected mostly unique tokens, got %d distinct", len(seen))
	}
}
