package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DefaultStoreID is the fixed identity of the single per-user store.
var DefaultStoreID = uuid.Nil

// Emotion is the mood classification attached to a record.
type Emotion string

const (
	EmotionHappy     Emotion = "happy"
	EmotionSad       Emotion = "sad"
	EmotionNeutral   Emotion = "neutral"
	EmotionSurprised Emotion = "surprised"
	EmotionScared    Emotion = "scared"
)

// Emotions lists every known emotion in display order.
var Emotions = []Emotion{EmotionHappy, EmotionSad, EmotionNeutral, EmotionSurprised, EmotionScared}

// ParseEmotion converts a stored or user-supplied value into an Emotion.
func ParseEmotion(s string) (Emotion, error) {
	for _, e := range Emotions {
		if string(e) == s {
			return e, nil
		}
	}
	return "", fmt.Errorf("unknown emotion: %q", s)
}

// Character is the mentor persona the user talks to.
type Character string

const (
	CharacterCool Character = "cool" // analytical, solution oriented
	CharacterWarm Character = "warm" // empathetic, feeling oriented
)

// Characters lists every mentor persona.
var Characters = []Character{CharacterCool, CharacterWarm}

// ParseCharacter converts a stored or user-supplied value into a Character.
func ParseCharacter(s string) (Character, error) {
	for _, c := range Characters {
		if string(c) == s {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown character: %q", s)
}

// PendingRecord is an analyzed entry waiting in a store's queue.
// Seq is its queue position and is assigned by the database on enqueue.
type PendingRecord struct {
	ID             uuid.UUID
	Seq            int64
	RecordDate     time.Time // Day the entry belongs to
	CreatedAt      time.Time // When the user actually wrote it
	AnalyzedResult string
	Emotion        Emotion
}

// Record is a journal entry materialized from a PendingRecord.
type Record struct {
	ID             uuid.UUID // Generated at flush time
	TicketID       uuid.UUID // ID of the PendingRecord it came from
	RecordDate     time.Time
	CreatedAt      time.Time
	AnalyzedResult string
	Emotion        Emotion
	Suggestions    []Suggestion
}

// Suggestion is a follow-up action attached to a record.
type Suggestion struct {
	ID        uuid.UUID
	RecordID  uuid.UUID
	Content   string
	IsDone    bool
	CreatedAt time.Time
}

// MentorMessage is the cached mentor feedback for a store.
// Both fields are optional; the whole value is replaced on write.
type MentorMessage struct {
	Character *Character
	Content   *string
}
