// Package idgen centralizes identifier allocation for the core. No other
// package is permitted to mint entity IDs or encode reserved "mock" values;
// see the multi-tenant identity note in the design notes.
package idgen

import (
	"strconv"
	"sync"

	"github.com/google/uuid"
)

// Reserved identifiers used by development/test fixtures. Nothing in the
// core should special-case these outside of this package and its callers'
// test setup.
const (
	MockUserID       = "00000000-0000-0000-0000-000000000001"
	MockCollectionID = "00000000-0000-0000-0000-000000000002"
	MockDocumentID   = "00000000-0000-0000-0000-000000000003"
	MockSessionID    = "00000000-0000-0000-0000-000000000004"
)

// Generator allocates opaque 128-bit identifiers. The default generator is
// backed by google/uuid v4; tests may install a deterministic override via
// SetOverride so that golden-output assertions are reproducible.
type Generator struct {
	mu       sync.Mutex
	override func() string
}

var shared = &Generator{}

// New returns a fresh opaque identifier from the process-wide generator.
func New() string {
	return shared.New()
}

// New returns a fresh opaque identifier, using the override if one is set.
func (g *Generator) New() string {
	g.mu.Lock()
	override := g.override
	g.mu.Unlock()
	if override != nil {
		return override()
	}
	return uuid.NewString()
}

// SetOverride installs a deterministic ID source for tests. Passing nil
// restores the default uuid.NewString behavior.
func (g *Generator) SetOverride(fn func() string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.override = fn
}

// SetOverride installs a deterministic ID source on the process-wide
// generator. Intended for test setup only.
func SetOverride(fn func() string) {
	shared.SetOverride(fn)
}

// Sequential returns an override generator that yields ids "prefix-1",
// "prefix-2", ... in call order. Useful for tests that need stable,
// human-readable identifiers.
func Sequential(prefix string) func() string {
	var n int
	var mu sync.Mutex
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return prefix + "-" + strconv.Itoa(n)
	}
}
