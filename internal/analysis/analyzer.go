package analysis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"mentory-go/internal/mentory"
	"mentory-go/internal/model"
)

// Enqueuer accepts analyzed records. *store.Store satisfies it.
type Enqueuer interface {
	Enqueue(ctx context.Context, pending *model.PendingRecord) error
}

// Entry is what the user wrote, with everything the analysis needs passed in.
type Entry struct {
	Text       string
	RecordDate time.Time       // Day the entry belongs to; zero means today
	Character  model.Character // Persona the analysis is written in
}

// Result is the outcome of a submitted entry.
type Result struct {
	Pending     *model.PendingRecord
	Suggestions []string // Not persisted until the record is flushed
}

// Analyzer asks the gateway about an entry and queues the analyzed record.
type Analyzer struct {
	gateway Gateway
	queue   Enqueuer
	clock   mentory.Clock
	ids     mentory.IDGenerator
	logger  mentory.Logger
}

func NewAnalyzer(gateway Gateway, queue Enqueuer, clock mentory.Clock, ids mentory.IDGenerator, logger mentory.Logger) *Analyzer {
	if clock == nil {
		clock = mentory.RealClock{}
	}
	if ids == nil {
		ids = mentory.UUIDGenerator{}
	}
	if logger == nil {
		logger = mentory.NewNopLogger()
	}
	return &Analyzer{gateway: gateway, queue: queue, clock: clock, ids: ids, logger: logger}
}

// Submit analyzes entry and enqueues the result. Gateway failures are
// returned wrapped in ErrAnalysis and nothing is queued.
func (a *Analyzer) Submit(ctx context.Context, entry Entry) (*Result, error) {
	text := strings.TrimSpace(entry.Text)
	if text == "" {
		return nil, fmt.Errorf("journal entry: %w", mentory.ErrEmptyInput)
	}

	character := entry.Character
	if character == "" {
		character = model.CharacterCool
	}

	answer, err := a.gateway.Ask(ctx, analysisPrompt(text, character))
	if err != nil {
		a.logger.Warn("analysis failed", "error", err)
		return nil, fmt.Errorf("%w: %w", mentory.ErrAnalysis, err)
	}
	v := parseVerdict(answer)

	now := a.clock.Now()
	recordDate := entry.RecordDate
	if recordDate.IsZero() {
		recordDate = now
	}

	pending := &model.PendingRecord{
		ID:             a.ids.New(),
		RecordDate:     recordDate,
		CreatedAt:      now,
		AnalyzedResult: v.Analysis,
		Emotion:        model.Emotion(v.Emotion),
	}
	if err := a.queue.Enqueue(ctx, pending); err != nil {
		return nil, err
	}

	a.logger.Info("entry analyzed", "pending_id", pending.ID, "emotion", pending.Emotion)
	return &Result{Pending: pending, Suggestions: v.Suggestions}, nil
}

// MentorWriter produces mentor messages through a gateway.
// It satisfies store.ContentSource.
type MentorWriter struct {
	Gateway Gateway
}

func (w MentorWriter) MentorContent(ctx context.Context, character model.Character) (string, error) {
	answer, err := w.Gateway.Ask(ctx, mentorPrompt(character))
	if err != nil {
		return "", fmt.Errorf("%w: %w", mentory.ErrAnalysis, err)
	}
	return strings.TrimSpace(answer), nil
}
