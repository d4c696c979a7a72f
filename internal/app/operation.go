package app

import (
	"time"

	"mentory-go/internal/mentory"
)

// Session identifies one CLI invocation in the log.
type Session struct {
	ID        string
	Operation string
	StartedAt time.Time
}

// NewSession creates a session for operation. The ID is the start time, so
// log lines from one invocation sort and group together.
func NewSession(operation string, clock mentory.Clock) *Session {
	if clock == nil {
		clock = mentory.RealClock{}
	}
	now := clock.Now().UTC()
	return &Session{
		ID:        now.Format("20060102T150405Z"),
		Operation: operation,
		StartedAt: now,
	}
}

// Elapsed returns the time since the session started.
func (s *Session) Elapsed(clock mentory.Clock) time.Duration {
	if clock == nil {
		clock = mentory.RealClock{}
	}
	return clock.Now().Sub(s.StartedAt)
}
