package testutil

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// StubClock returns a fixed time. Safe for concurrent use.
type StubClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewStubClock creates a StubClock set to the given time.
func NewStubClock(t time.Time) *StubClock {
	return &StubClock{now: t}
}

// FixedClock returns a StubClock set to 2024-01-15 10:30:00 UTC.
func FixedClock() *StubClock {
	return NewStubClock(time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC))
}

func (c *StubClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *StubClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// StubIDGenerator returns sequential UUIDs:
// 00000000-0000-0000-0000-000000000001, ...-000000000002, etc.
type StubIDGenerator struct {
	mu      sync.Mutex
	counter int
	repeat  map[int]int
}

func NewStubIDGenerator() *StubIDGenerator {
	return &StubIDGenerator{}
}

// RepeatAt makes the call number n return the same ID as call number of.
// Used to force unique constraint violations.
func (g *StubIDGenerator) RepeatAt(n, of int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.repeat == nil {
		g.repeat = make(map[int]int)
	}
	g.repeat[n] = of
}

func (g *StubIDGenerator) New() uuid.UUID {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.counter++
	if of, ok := g.repeat[g.counter]; ok {
		return SeqID(of)
	}
	return SeqID(g.counter)
}

// SeqID returns the n-th UUID produced by a fresh StubIDGenerator.
func SeqID(n int) uuid.UUID {
	return uuid.MustParse(fmt.Sprintf("00000000-0000-0000-0000-%012d", n))
}
