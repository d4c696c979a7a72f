package store

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"mentory-go/internal/mentory"
	"mentory-go/internal/model"
)

// subscriberBufferSize is the channel buffer for each subscriber.
const subscriberBufferSize = 64

// SnapshotKind names the mutation that produced a Snapshot.
type SnapshotKind string

const (
	KindUserName      SnapshotKind = "user_name"
	KindCharacter     SnapshotKind = "character"
	KindEnqueued      SnapshotKind = "enqueued"
	KindFlushed       SnapshotKind = "flushed"
	KindRecordDeleted SnapshotKind = "record_deleted"
	KindSuggestion    SnapshotKind = "suggestion"
	KindMentorMessage SnapshotKind = "mentor_message"
)

// Snapshot is the state of a store right after a committed mutation.
type Snapshot struct {
	StoreID       uuid.UUID
	Kind          SnapshotKind
	UserName      *string
	Character     *model.Character
	PendingCount  int
	RecordCount   int
	MentorMessage *model.MentorMessage
}

// broadcaster fans snapshots out to subscribers.
// Publish never blocks: a subscriber whose buffer is full misses the snapshot.
type broadcaster struct {
	mu          sync.RWMutex
	subscribers map[uuid.UUID]chan Snapshot
	closed      bool
	logger      mentory.Logger
}

func newBroadcaster(logger mentory.Logger) *broadcaster {
	return &broadcaster{
		subscribers: make(map[uuid.UUID]chan Snapshot),
		logger:      logger,
	}
}

// subscribe registers a subscriber. The channel is closed when ctx is
// cancelled or the broadcaster shuts down.
func (b *broadcaster) subscribe(ctx context.Context) <-chan Snapshot {
	ch := make(chan Snapshot, subscriberBufferSize)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch
	}
	subID := uuid.New()
	b.subscribers[subID] = ch
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.unsubscribe(subID)
	}()

	return ch
}

func (b *broadcaster) publish(s Snapshot) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for subID, ch := range b.subscribers {
		select {
		case ch <- s:
		default:
			b.logger.Debug("dropped snapshot for slow subscriber", "store", s.StoreID, "sub_id", subID, "kind", s.Kind)
		}
	}
}

func (b *broadcaster) unsubscribe(subID uuid.UUID) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch, ok := b.subscribers[subID]
	if !ok {
		return
	}
	delete(b.subscribers, subID)
	close(ch)
}

func (b *broadcaster) close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for subID, ch := range b.subscribers {
		close(ch)
		delete(b.subscribers, subID)
	}
	b.closed = true
}
