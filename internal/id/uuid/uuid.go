// Package uuid provides ID generation helpers.
package uuid

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// TokenLength is the number of hex characters in a document token.
const TokenLength = 8

// Generator creates run ids and short document tokens.
type Generator struct{}

// New creates a new Generator.
func New() *Generator {
	return &Generator{}
}

// NewRunID returns a time-ordered UUIDv7 string identifying one harvest run.
func (Generator) NewRunID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid7: %w", err)
	}
	return id.String(), nil
}

// Token returns the first TokenLength hex characters of a fresh UUIDv4.
func (Generator) Token() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("generate uuid4: %w", err)
	}
	return strings.ReplaceAll(id.String(), "-", "")[:TokenLength], nil
}
