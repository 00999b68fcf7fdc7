// Package ids provides instance and correlation id generation.
package ids

import (
	"strings"
	"sync"

	"github.com/google/uuid"
)

// correlationSpace namespaces the deterministic correlation ids.
var correlationSpace = uuid.MustParse("6f0d1b9e-3c61-4f7e-9a55-2f4f0c8e7a11")

// IDer generates identifiers.
type IDer interface {
	ID() string
}

// UUID is an ID generator utilizing a random UUID.
type UUID struct{}

// NewUUID creates a new UUID ID generator.
func NewUUID() *UUID {
	return &UUID{}
}

// ID generates a new UUID ID.
func (u *UUID) ID() string {
	return uuid.NewString()
}

// StaticIDs is an ID generator that cycles through provided IDs.
type StaticIDs struct {
	mu  sync.Mutex
	ids []string
	i   int
}

// NewStaticIDs creates a new static ID generator.
func NewStaticIDs(ids ...string) *StaticIDs {
	return &StaticIDs{ids: ids}
}

// ID returns the next ID. It will continually cycle through the IDs.
func (s *StaticIDs) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.ids[s.i%len(s.ids)]
	s.i++
	return id
}

// Correlation derives a stable correlation id from its parts, so a branch
// spawned twice for the same parent and target waits on the same id.
func Correlation(parts ...string) string {
	return uuid.NewSHA1(correlationSpace, []byte(strings.Join(parts, "/"))).String()
}
