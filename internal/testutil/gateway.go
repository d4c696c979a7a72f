package testutil

import (
	"context"
	"sync"
)

// StubGateway answers questions from a script. Once the script is used up
// the last entry repeats. Safe for concurrent use.
type StubGateway struct {
	mu        sync.Mutex
	answers   []StubAnswer
	questions []string
}

// StubAnswer is one scripted reply.
type StubAnswer struct {
	Text string
	Err  error
}

func NewStubGateway(answers ...StubAnswer) *StubGateway {
	return &StubGateway{answers: answers}
}

func (g *StubGateway) Ask(ctx context.Context, question string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.questions = append(g.questions, question)
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(g.answers) == 0 {
		return "", nil
	}

	a := g.answers[0]
	if len(g.answers) > 1 {
		g.answers = g.answers[1:]
	}
	return a.Text, a.Err
}

// Questions returns every question asked so far.
func (g *StubGateway) Questions() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.questions...)
}
