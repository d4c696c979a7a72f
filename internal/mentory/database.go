package mentory

import (
	"context"

	"github.com/google/uuid"

	"mentory-go/internal/model"
)

// Database is the durable medium behind a record store.
// Every method is scoped to one store identity; implementations run each
// mutating method in its own transaction.
type Database interface {
	// Store rows

	// StoreExists reports whether a store row exists for the identity.
	StoreExists(ctx context.Context, storeID uuid.UUID) (bool, error)

	// EnsureStore creates the store row if it does not exist yet.
	EnsureStore(ctx context.Context, storeID uuid.UUID) error

	// GetUserName returns nil when the store or the name is absent.
	GetUserName(ctx context.Context, storeID uuid.UUID) (*string, error)

	// SetUserName creates the store row if needed and overwrites the name.
	SetUserName(ctx context.Context, storeID uuid.UUID, name string) error

	// GetCharacter returns nil when the store or the character is absent.
	GetCharacter(ctx context.Context, storeID uuid.UUID) (*model.Character, error)

	// SetCharacter creates the store row if needed and overwrites the character.
	SetCharacter(ctx context.Context, storeID uuid.UUID, character model.Character) error

	// Pending queue

	// AppendPendingRecord adds a record to the end of the queue, creating the
	// store row first when it does not exist. Returns the assigned queue position.
	AppendPendingRecord(ctx context.Context, storeID uuid.UUID, pending *model.PendingRecord) (int64, error)

	// ListPendingRecords returns the queue in insertion order.
	ListPendingRecords(ctx context.Context, storeID uuid.UUID) ([]*model.PendingRecord, error)

	// MaterializePendingRecords atomically inserts records and removes the
	// pending rows they were built from. Either everything commits or nothing does.
	MaterializePendingRecords(ctx context.Context, storeID uuid.UUID, consumed []*model.PendingRecord, records []*model.Record) error

	// Records

	// CountRecords returns 0 when the store does not exist.
	CountRecords(ctx context.Context, storeID uuid.UUID) (int, error)

	// ListRecords returns records in materialization order with their suggestions.
	ListRecords(ctx context.Context, storeID uuid.UUID) ([]*model.Record, error)

	// DeleteRecord returns ErrRecordNotFound when no such record belongs to the store.
	DeleteRecord(ctx context.Context, storeID uuid.UUID, recordID uuid.UUID) error

	// CreateSuggestion appends a suggestion to a record.
	// Returns ErrRecordNotFound when the record does not belong to the store.
	CreateSuggestion(ctx context.Context, storeID uuid.UUID, suggestion *model.Suggestion) error

	// UpdateSuggestionDone returns ErrSuggestionNotFound when the suggestion is absent.
	UpdateSuggestionDone(ctx context.Context, storeID uuid.UUID, suggestionID uuid.UUID, done bool) error

	// Mentor message

	// GetMentorMessage returns nil when the store or message is absent.
	GetMentorMessage(ctx context.Context, storeID uuid.UUID) (*model.MentorMessage, error)

	// ReplaceMentorMessage overwrites the whole mentor message.
	// Returns ErrStoreNotFound when the store does not exist.
	ReplaceMentorMessage(ctx context.Context, storeID uuid.UUID, message *model.MentorMessage) error

	// BackupTo writes a consistent copy of the database to destPath.
	BackupTo(destPath string) error

	// Close closes the database connection.
	Close() error
}
