// Package store owns the per-user journal: the pending queue, the durable
// records and the cached mentor message.
//
// Every Store runs a single worker goroutine. All operations are funneled
// through it, so operations against one identity observe a total order while
// different identities proceed independently. An operation that has started
// runs to completion even if the caller's context is cancelled; an operation
// whose caller gave up before it started is skipped.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"mentory-go/internal/mentory"
	"mentory-go/internal/model"
)

// Store is the single owner of one identity's journal.
type Store struct {
	id     uuid.UUID
	db     mentory.Database
	clock  mentory.Clock
	ids    mentory.IDGenerator
	logger mentory.Logger

	ops       chan *op
	quit      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once

	events *broadcaster
}

type op struct {
	ctx  context.Context
	run  func(ctx context.Context)
	done chan struct{}
	err  error // set when the op was skipped
}

// New creates a Store for the identity and starts its worker.
// Close must be called to stop the worker.
func New(id uuid.UUID, db mentory.Database, clock mentory.Clock, ids mentory.IDGenerator, logger mentory.Logger) *Store {
	if clock == nil {
		clock = mentory.RealClock{}
	}
	if ids == nil {
		ids = mentory.UUIDGenerator{}
	}
	if logger == nil {
		logger = mentory.NewNopLogger()
	}

	s := &Store{
		id:      id,
		db:      db,
		clock:   clock,
		ids:     ids,
		logger:  logger,
		ops:     make(chan *op),
		quit:    make(chan struct{}),
		stopped: make(chan struct{}),
		events:  newBroadcaster(logger),
	}
	go s.loop()
	return s
}

// ID returns the store identity.
func (s *Store) ID() uuid.UUID {
	return s.id
}

func (s *Store) loop() {
	defer close(s.stopped)
	for {
		select {
		case o := <-s.ops:
			if err := o.ctx.Err(); err != nil {
				o.err = err
				close(o.done)
				continue
			}
			o.run(context.WithoutCancel(o.ctx))
			close(o.done)
		case <-s.quit:
			return
		}
	}
}

// submit hands fn to the worker and waits for it to finish.
func (s *Store) submit(ctx context.Context, fn func(ctx context.Context)) error {
	o := &op{ctx: ctx, run: fn, done: make(chan struct{})}
	select {
	case s.ops <- o:
	case <-ctx.Done():
		return ctx.Err()
	case <-s.quit:
		return mentory.ErrStoreClosed
	}
	<-o.done
	return o.err
}

// call runs fn on the worker and returns its result.
func call[T any](s *Store, ctx context.Context, fn func(ctx context.Context) (T, error)) (T, error) {
	var (
		result T
		err    error
	)
	if serr := s.submit(ctx, func(ctx context.Context) {
		result, err = fn(ctx)
	}); serr != nil {
		var zero T
		return zero, serr
	}
	return result, err
}

// Close stops the worker and closes all subscriptions.
// Operations submitted after Close return ErrStoreClosed.
func (s *Store) Close() {
	s.closeOnce.Do(func() {
		close(s.quit)
		<-s.stopped
		s.events.close()
	})
}

// Subscribe returns a channel receiving a Snapshot after every committed
// mutation. The channel is closed when ctx is done or the store is closed.
func (s *Store) Subscribe(ctx context.Context) <-chan Snapshot {
	return s.events.subscribe(ctx)
}

// failed logs a persistence failure and wraps it.
func (s *Store) failed(operation string, err error) error {
	s.logger.Error("store operation failed", "store", s.id, "op", operation, "error", err)
	return fmt.Errorf("%s: %w: %w", operation, mentory.ErrPersistence, err)
}

// publish reads the current state and broadcasts it. Read failures are
// logged and the snapshot is published with whatever could be read.
func (s *Store) publish(ctx context.Context, kind SnapshotKind) {
	snap := Snapshot{StoreID: s.id, Kind: kind}
	var errs []error

	var err error
	if snap.UserName, err = s.db.GetUserName(ctx, s.id); err != nil {
		errs = append(errs, err)
	}
	if snap.Character, err = s.db.GetCharacter(ctx, s.id); err != nil {
		errs = append(errs, err)
	}
	if pending, err := s.db.ListPendingRecords(ctx, s.id); err != nil {
		errs = append(errs, err)
	} else {
		snap.PendingCount = len(pending)
	}
	if snap.RecordCount, err = s.db.CountRecords(ctx, s.id); err != nil {
		errs = append(errs, err)
	}
	if snap.MentorMessage, err = s.db.GetMentorMessage(ctx, s.id); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		s.logger.Warn("snapshot incomplete", "store", s.id, "kind", kind, "error", errors.Join(errs...))
	}
	s.events.publish(snap)
}

// User name

// SetUserName overwrites the user name.
func (s *Store) SetUserName(ctx context.Context, name string) error {
	return s.submitMutation(ctx, "set user name", KindUserName, func(ctx context.Context) error {
		return s.db.SetUserName(ctx, s.id, name)
	})
}

// UserName returns nil when no name was set.
func (s *Store) UserName(ctx context.Context) (*string, error) {
	return call(s, ctx, func(ctx context.Context) (*string, error) {
		name, err := s.db.GetUserName(ctx, s.id)
		if err != nil {
			return nil, s.failed("get user name", err)
		}
		return name, nil
	})
}

// Character

// SetCharacter overwrites the mentor persona.
func (s *Store) SetCharacter(ctx context.Context, character model.Character) error {
	return s.submitMutation(ctx, "set character", KindCharacter, func(ctx context.Context) error {
		return s.db.SetCharacter(ctx, s.id, character)
	})
}

// Character returns nil when no persona was chosen.
func (s *Store) Character(ctx context.Context) (*model.Character, error) {
	return call(s, ctx, func(ctx context.Context) (*model.Character, error) {
		c, err := s.db.GetCharacter(ctx, s.id)
		if err != nil {
			return nil, s.failed("get character", err)
		}
		return c, nil
	})
}

// Pending queue

// Enqueue appends a pending record to the queue, creating the store row on
// first use. A nil ID or zero CreatedAt is filled in.
func (s *Store) Enqueue(ctx context.Context, pending *model.PendingRecord) error {
	if pending.ID == uuid.Nil {
		pending.ID = s.ids.New()
	}
	if pending.CreatedAt.IsZero() {
		pending.CreatedAt = s.clock.Now()
	}
	if pending.RecordDate.IsZero() {
		pending.RecordDate = pending.CreatedAt
	}

	return s.submitMutation(ctx, "enqueue", KindEnqueued, func(ctx context.Context) error {
		seq, err := s.db.AppendPendingRecord(ctx, s.id, pending)
		if err != nil {
			return err
		}
		pending.Seq = seq
		s.logger.Debug("record queued", "store", s.id, "pending_id", pending.ID, "seq", seq)
		return nil
	})
}

// PendingRecords returns the queue in processing order.
func (s *Store) PendingRecords(ctx context.Context) ([]*model.PendingRecord, error) {
	return call(s, ctx, func(ctx context.Context) ([]*model.PendingRecord, error) {
		pending, err := s.db.ListPendingRecords(ctx, s.id)
		if err != nil {
			return nil, s.failed("list pending records", err)
		}
		return pending, nil
	})
}

// FlushQueue materializes every queued record. See Flusher.
func (s *Store) FlushQueue(ctx context.Context) (int, error) {
	return call(s, ctx, func(ctx context.Context) (int, error) {
		n, err := s.flusher().Flush(ctx)
		if err != nil {
			return 0, s.failed("flush queue", err)
		}
		if n > 0 {
			s.publish(ctx, KindFlushed)
		}
		return n, nil
	})
}

func (s *Store) flusher() *Flusher {
	return &Flusher{storeID: s.id, db: s.db, ids: s.ids, logger: s.logger}
}

// Records

// RecordCount returns 0 when the store does not exist yet.
func (s *Store) RecordCount(ctx context.Context) (int, error) {
	return call(s, ctx, func(ctx context.Context) (int, error) {
		n, err := s.db.CountRecords(ctx, s.id)
		if err != nil {
			return 0, s.failed("count records", err)
		}
		return n, nil
	})
}

// Records returns every record in materialization order.
func (s *Store) Records(ctx context.Context) ([]*model.Record, error) {
	return call(s, ctx, func(ctx context.Context) ([]*model.Record, error) {
		records, err := s.db.ListRecords(ctx, s.id)
		if err != nil {
			return nil, s.failed("list records", err)
		}
		return records, nil
	})
}

// DeleteRecord removes a record and its suggestions.
// A missing record is logged and is not an error.
func (s *Store) DeleteRecord(ctx context.Context, recordID uuid.UUID) error {
	_, err := call(s, ctx, func(ctx context.Context) (struct{}, error) {
		err := s.db.DeleteRecord(ctx, s.id, recordID)
		switch {
		case errors.Is(err, mentory.ErrRecordNotFound):
			s.logger.Warn("record to delete not found", "store", s.id, "record_id", recordID)
			return struct{}{}, nil
		case err != nil:
			return struct{}{}, s.failed("delete record", err)
		}
		s.publish(ctx, KindRecordDeleted)
		return struct{}{}, nil
	})
	return err
}

// Suggestions

// AppendSuggestion adds a follow-up action to a record.
func (s *Store) AppendSuggestion(ctx context.Context, recordID uuid.UUID, content string) (*model.Suggestion, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, fmt.Errorf("suggestion content: %w", mentory.ErrEmptyInput)
	}

	return call(s, ctx, func(ctx context.Context) (*model.Suggestion, error) {
		suggestion := &model.Suggestion{
			ID:        s.ids.New(),
			RecordID:  recordID,
			Content:   content,
			CreatedAt: s.clock.Now(),
		}
		if err := s.db.CreateSuggestion(ctx, s.id, suggestion); err != nil {
			if errors.Is(err, mentory.ErrRecordNotFound) {
				return nil, err
			}
			return nil, s.failed("append suggestion", err)
		}
		s.publish(ctx, KindSuggestion)
		return suggestion, nil
	})
}

// MarkSuggestionDone sets the done flag of a suggestion.
func (s *Store) MarkSuggestionDone(ctx context.Context, suggestionID uuid.UUID, done bool) error {
	_, err := call(s, ctx, func(ctx context.Context) (struct{}, error) {
		if err := s.db.UpdateSuggestionDone(ctx, s.id, suggestionID, done); err != nil {
			if errors.Is(err, mentory.ErrSuggestionNotFound) {
				return struct{}{}, err
			}
			return struct{}{}, s.failed("mark suggestion done", err)
		}
		s.publish(ctx, KindSuggestion)
		return struct{}{}, nil
	})
	return err
}

// Mentor message

// MentorMessage returns nil when nothing was cached yet.
func (s *Store) MentorMessage(ctx context.Context) (*model.MentorMessage, error) {
	return call(s, ctx, func(ctx context.Context) (*model.MentorMessage, error) {
		m, err := s.db.GetMentorMessage(ctx, s.id)
		if err != nil {
			return nil, s.failed("get mentor message", err)
		}
		return m, nil
	})
}

// SetMentorMessage replaces the cached mentor message wholesale.
func (s *Store) SetMentorMessage(ctx context.Context, message model.MentorMessage) error {
	return s.submitMutation(ctx, "set mentor message", KindMentorMessage, func(ctx context.Context) error {
		if err := s.db.EnsureStore(ctx, s.id); err != nil {
			return err
		}
		return s.db.ReplaceMentorMessage(ctx, s.id, &message)
	})
}

// submitMutation runs a write on the worker and publishes a snapshot when it commits.
func (s *Store) submitMutation(ctx context.Context, operation string, kind SnapshotKind, fn func(ctx context.Context) error) error {
	_, err := call(s, ctx, func(ctx context.Context) (struct{}, error) {
		if err := fn(ctx); err != nil {
			return struct{}{}, s.failed(operation, err)
		}
		s.publish(ctx, kind)
		return struct{}{}, nil
	})
	return err
}
