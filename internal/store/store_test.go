package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mentory-go/internal/mentory"
	"mentory-go/internal/model"
	"mentory-go/internal/testutil"
)

var errDiskGone = errors.New("disk gone")

// brokenDatabase fails every read and write.
type brokenDatabase struct {
	mentory.Database
}

func (brokenDatabase) GetUserName(context.Context, uuid.UUID) (*string, error) {
	return nil, errDiskGone
}

func (brokenDatabase) SetUserName(context.Context, uuid.UUID, string) error {
	return errDiskGone
}

func (brokenDatabase) CountRecords(context.Context, uuid.UUID) (int, error) {
	return 0, errDiskGone
}

func (brokenDatabase) GetMentorMessage(context.Context, uuid.UUID) (*model.MentorMessage, error) {
	return nil, errDiskGone
}

func (brokenDatabase) AppendPendingRecord(context.Context, uuid.UUID, *model.PendingRecord) (int64, error) {
	return 0, fmt.Errorf("%w: %v", mentory.ErrStorageUnavailable, errDiskGone)
}

type fixture struct {
	db    mentory.Database
	clock *testutil.StubClock
	ids   *testutil.StubIDGenerator
	store *Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := testutil.FixedClock()
	ids := testutil.NewStubIDGenerator()
	db := testutil.NewTestDatabase(t, clock)

	s := New(model.DefaultStoreID, db, clock, ids, nil)
	t.Cleanup(s.Close)

	return &fixture{db: db, clock: clock, ids: ids, store: s}
}

func pendingEntry(n int, emotion model.Emotion) *model.PendingRecord {
	at := time.Date(2024, 1, n, 21, 0, 0, 0, time.UTC)
	return &model.PendingRecord{
		ID:             uuid.MustParse(fmt.Sprintf("aaaaaaaa-0000-0000-0000-%012d", n)),
		RecordDate:     at,
		CreatedAt:      at.Add(time.Minute),
		AnalyzedResult: fmt.Sprintf("analysis %d", n),
		Emotion:        emotion,
	}
}

func TestStore_EnqueueThenFlush(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	emotions := []model.Emotion{model.EmotionSad, model.EmotionHappy, model.EmotionScared, model.EmotionNeutral}
	for i, e := range emotions {
		require.NoError(t, f.store.Enqueue(ctx, pendingEntry(i+1, e)))
	}

	pending, err := f.store.PendingRecords(ctx)
	require.NoError(t, err)
	require.Len(t, pending, len(emotions))

	n, err := f.store.FlushQueue(ctx)
	require.NoError(t, err)
	assert.Equal(t, len(emotions), n)

	pending, err = f.store.PendingRecords(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)

	records, err := f.store.Records(ctx)
	require.NoError(t, err)
	require.Len(t, records, len(emotions))
	for i, r := range records {
		assert.Equal(t, pendingEntry(i+1, emotions[i]).ID, r.TicketID, "record %d ticket", i)
		assert.Equal(t, emotions[i], r.Emotion, "record %d emotion", i)
		assert.Equal(t, fmt.Sprintf("analysis %d", i+1), r.AnalyzedResult)
		assert.NotEqual(t, r.TicketID, r.ID, "record id must be freshly generated")
	}

	count, err := f.store.RecordCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, len(emotions), count)
}

func TestStore_FlushEmptyQueue(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	n, err := f.store.FlushQueue(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	count, err := f.store.RecordCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestStore_FlushIsNotDeduplicated(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	// The same pending id twice still yields two records.
	require.NoError(t, f.store.Enqueue(ctx, pendingEntry(1, model.EmotionHappy)))
	require.NoError(t, f.store.Enqueue(ctx, pendingEntry(1, model.EmotionHappy)))

	n, err := f.store.FlushQueue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	records, err := f.store.Records(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, records[0].TicketID, records[1].TicketID)
	assert.NotEqual(t, records[0].ID, records[1].ID)
}

func TestStore_EnqueueFillsDefaults(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	p := &model.PendingRecord{AnalyzedResult: "quiet day", Emotion: model.EmotionNeutral}
	require.NoError(t, f.store.Enqueue(ctx, p))

	assert.Equal(t, testutil.SeqID(1), p.ID)
	assert.True(t, p.CreatedAt.Equal(f.clock.Now()))
	assert.True(t, p.RecordDate.Equal(f.clock.Now()))
	assert.NotZero(t, p.Seq)
}

func TestStore_UserNameOverwrites(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	name, err := f.store.UserName(ctx)
	require.NoError(t, err)
	assert.Nil(t, name)

	require.NoError(t, f.store.SetUserName(ctx, "A"))
	require.NoError(t, f.store.SetUserName(ctx, "B"))

	name, err = f.store.UserName(ctx)
	require.NoError(t, err)
	require.NotNil(t, name)
	assert.Equal(t, "B", *name)
}

func TestStore_RecordCountWithoutStore(t *testing.T) {
	f := newFixture(t)

	count, err := f.store.RecordCount(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestStore_DeleteRecord(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	for i := 1; i <= 2; i++ {
		require.NoError(t, f.store.Enqueue(ctx, pendingEntry(i, model.EmotionHappy)))
	}
	_, err := f.store.FlushQueue(ctx)
	require.NoError(t, err)

	records, err := f.store.Records(ctx)
	require.NoError(t, err)

	t.Run("missing id is not an error", func(t *testing.T) {
		require.NoError(t, f.store.DeleteRecord(ctx, uuid.New()))

		count, err := f.store.RecordCount(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, count)
	})

	t.Run("existing id is removed", func(t *testing.T) {
		require.NoError(t, f.store.DeleteRecord(ctx, records[0].ID))

		left, err := f.store.Records(ctx)
		require.NoError(t, err)
		require.Len(t, left, 1)
		assert.Equal(t, records[1].ID, left[0].ID)
	})
}

func TestStore_Suggestions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	require.NoError(t, f.store.Enqueue(ctx, pendingEntry(1, model.EmotionSad)))
	_, err := f.store.FlushQueue(ctx)
	require.NoError(t, err)
	records, err := f.store.Records(ctx)
	require.NoError(t, err)
	recordID := records[0].ID

	first, err := f.store.AppendSuggestion(ctx, recordID, "  take a walk ")
	require.NoError(t, err)
	assert.Equal(t, "take a walk", first.Content)
	_, err = f.store.AppendSuggestion(ctx, recordID, "sleep early")
	require.NoError(t, err)

	require.NoError(t, f.store.MarkSuggestionDone(ctx, first.ID, true))

	records, err = f.store.Records(ctx)
	require.NoError(t, err)
	require.Len(t, records[0].Suggestions, 2)
	assert.True(t, records[0].Suggestions[0].IsDone)
	assert.Equal(t, "sleep early", records[0].Suggestions[1].Content)
	assert.False(t, records[0].Suggestions[1].IsDone)

	_, err = f.store.AppendSuggestion(ctx, recordID, "   ")
	assert.ErrorIs(t, err, mentory.ErrEmptyInput)

	_, err = f.store.AppendSuggestion(ctx, uuid.New(), "orphan")
	assert.ErrorIs(t, err, mentory.ErrRecordNotFound)

	err = f.store.MarkSuggestionDone(ctx, uuid.New(), true)
	assert.ErrorIs(t, err, mentory.ErrSuggestionNotFound)
}

func TestStore_MentorMessageReplacedWholesale(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	got, err := f.store.MentorMessage(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)

	warm := model.CharacterWarm
	content := "You did well today."
	require.NoError(t, f.store.SetMentorMessage(ctx, model.MentorMessage{Character: &warm, Content: &content}))
	require.NoError(t, f.store.SetMentorMessage(ctx, model.MentorMessage{Character: &warm}))

	got, err = f.store.MentorMessage(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.NotNil(t, got.Character)
	assert.Equal(t, warm, *got.Character)
	assert.Nil(t, got.Content)
}

func TestStore_Character(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	c, err := f.store.Character(ctx)
	require.NoError(t, err)
	assert.Nil(t, c)

	require.NoError(t, f.store.SetCharacter(ctx, model.CharacterWarm))

	c, err = f.store.Character(ctx)
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, model.CharacterWarm, *c)
}

func TestStore_PersistenceFailuresReturnNeutralDefaults(t *testing.T) {
	ctx := context.Background()
	s := New(model.DefaultStoreID, brokenDatabase{}, nil, nil, nil)
	defer s.Close()

	name, err := s.UserName(ctx)
	assert.Nil(t, name)
	assert.ErrorIs(t, err, mentory.ErrPersistence)
	assert.ErrorIs(t, err, errDiskGone)

	count, err := s.RecordCount(ctx)
	assert.Zero(t, count)
	assert.ErrorIs(t, err, mentory.ErrPersistence)

	msg, err := s.MentorMessage(ctx)
	assert.Nil(t, msg)
	assert.ErrorIs(t, err, mentory.ErrPersistence)

	err = s.SetUserName(ctx, "A")
	assert.ErrorIs(t, err, mentory.ErrPersistence)

	err = s.Enqueue(ctx, pendingEntry(1, model.EmotionHappy))
	assert.ErrorIs(t, err, mentory.ErrPersistence)
	assert.ErrorIs(t, err, mentory.ErrStorageUnavailable)
}

func TestStore_IdentitiesAreIndependent(t *testing.T) {
	ctx := context.Background()
	clock := testutil.FixedClock()
	db := testutil.NewTestDatabase(t, clock)

	a := New(uuid.MustParse("11111111-1111-1111-1111-111111111111"), db, clock, nil, nil)
	defer a.Close()
	b := New(uuid.MustParse("22222222-2222-2222-2222-222222222222"), db, clock, nil, nil)
	defer b.Close()

	require.NoError(t, a.SetUserName(ctx, "alice"))
	require.NoError(t, a.Enqueue(ctx, pendingEntry(1, model.EmotionHappy)))
	_, err := a.FlushQueue(ctx)
	require.NoError(t, err)

	name, err := b.UserName(ctx)
	require.NoError(t, err)
	assert.Nil(t, name)

	count, err := b.RecordCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)

	n, err := b.FlushQueue(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestStore_ConcurrentEnqueue(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	const writers, perWriter = 8, 10
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				assert.NoError(t, f.store.Enqueue(ctx, &model.PendingRecord{
					ID:             uuid.New(),
					AnalyzedResult: "concurrent",
					Emotion:        model.EmotionNeutral,
				}))
			}
		}()
	}
	wg.Wait()

	n, err := f.store.FlushQueue(ctx)
	require.NoError(t, err)
	assert.Equal(t, writers*perWriter, n)
}

func TestStore_CancelledCallerIsSkipped(t *testing.T) {
	f := newFixture(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := f.store.SetUserName(ctx, "ghost")
	assert.ErrorIs(t, err, context.Canceled)

	name, err := f.store.UserName(context.Background())
	require.NoError(t, err)
	assert.Nil(t, name)
}

func TestStore_Closed(t *testing.T) {
	f := newFixture(t)
	f.store.Close()

	err := f.store.SetUserName(context.Background(), "late")
	assert.ErrorIs(t, err, mentory.ErrStoreClosed)

	// Closing twice is fine.
	f.store.Close()
}

func TestStore_SubscribePublishesOneSnapshotPerMutation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	snapshots := f.store.Subscribe(subCtx)

	require.NoError(t, f.store.SetUserName(ctx, "mina"))
	require.NoError(t, f.store.Enqueue(ctx, pendingEntry(1, model.EmotionHappy)))
	require.NoError(t, f.store.Enqueue(ctx, pendingEntry(2, model.EmotionSad)))
	_, err := f.store.FlushQueue(ctx)
	require.NoError(t, err)
	_, err = f.store.FlushQueue(ctx) // empty, commits nothing
	require.NoError(t, err)
	require.NoError(t, f.store.DeleteRecord(ctx, uuid.New())) // missing, commits nothing

	want := []struct {
		kind    SnapshotKind
		pending int
		records int
	}{
		{KindUserName, 0, 0},
		{KindEnqueued, 1, 0},
		{KindEnqueued, 2, 0},
		{KindFlushed, 0, 2},
	}
	for i, w := range want {
		select {
		case snap := <-snapshots:
			assert.Equal(t, w.kind, snap.Kind, "snapshot %d", i)
			assert.Equal(t, w.pending, snap.PendingCount, "snapshot %d pending", i)
			assert.Equal(t, w.records, snap.RecordCount, "snapshot %d records", i)
			assert.Equal(t, model.DefaultStoreID, snap.StoreID)
			require.NotNil(t, snap.UserName)
			assert.Equal(t, "mina", *snap.UserName)
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for snapshot %d", i)
		}
	}

	select {
	case snap := <-snapshots:
		t.Fatalf("unexpected extra snapshot %+v", snap)
	default:
	}
}

func TestStore_SubscriptionClosesWithContext(t *testing.T) {
	f := newFixture(t)

	ctx, cancel := context.WithCancel(context.Background())
	snapshots := f.store.Subscribe(ctx)
	cancel()

	select {
	case _, ok := <-snapshots:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("subscription channel not closed after cancel")
	}
}
