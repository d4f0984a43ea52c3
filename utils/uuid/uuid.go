// Package uuid generates bot and task identifiers.
package uuid

import (
	"strconv"
	"sync"

	"github.com/google/uuid"
)

// IDer generates identifiers for a kind of object.
type IDer interface {
	ID(kind string) string
}

// UUID generates kind-prefixed random UUIDs, e.g. "task_0f5c...".
type UUID struct{}

// NewUUID creates a new UUID ID generator.
func NewUUID() *UUID {
	return &UUID{}
}

// ID generates a new ID for kind.
func (u *UUID) ID(kind string) string {
	return kind + "_" + uuid.NewString()
}

// Sequence generates kind-prefixed ascending numbers per kind.
type Sequence struct {
	mu sync.Mutex
	n  map[string]int
}

// NewSequence creates a new sequential ID generator.
func NewSequence() *Sequence {
	return &Sequence{n: make(map[string]int)}
}

// ID returns the next ID for kind, starting at 1.
func (s *Sequence) ID(kind string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n[kind]++
	return kind + "_" + strconv.Itoa(s.n[kind])
}
