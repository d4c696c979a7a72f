package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"mentory-go/internal/database/migrations"
	"mentory-go/internal/mentory"
	"mentory-go/internal/model"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteDatabase implements mentory.Database on top of SQLite.
type SQLiteDatabase struct {
	db    *sql.DB
	path  string
	clock mentory.Clock
}

// NewSQLiteDatabase opens the journal at path (or ":memory:") and brings the
// schema up to date. A nil clock uses the wall clock.
func NewSQLiteDatabase(path string, clock mentory.Clock) (*SQLiteDatabase, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}

	if err := migrations.MigrateUp(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v", mentory.ErrStorageUnavailable, err)
	}

	return NewSQLiteDatabaseFromDB(db, path, clock), nil
}

// NewSQLiteDatabaseFromDB wraps an existing, already migrated connection.
func NewSQLiteDatabaseFromDB(db *sql.DB, path string, clock mentory.Clock) *SQLiteDatabase {
	if clock == nil {
		clock = mentory.RealClock{}
	}
	return &SQLiteDatabase{db: db, path: path, clock: clock}
}

// OpenConnection opens and configures a SQLite connection.
// Foreign keys and the busy timeout are set through the DSN so that every
// pooled connection gets them, not only the first one.
func OpenConnection(path string) (*sql.DB, error) {
	dsn := path + "?_foreign_keys=on&_busy_timeout=5000"
	if path != ":memory:" {
		dsn += "&_journal_mode=WAL"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: opening database: %v", mentory.ErrStorageUnavailable, err)
	}

	if path == ":memory:" {
		// Each pooled connection to :memory: would be a separate database.
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v", mentory.ErrStorageUnavailable, err)
	}

	return db, nil
}

// Store rows

func (s *SQLiteDatabase) StoreExists(ctx context.Context, storeID uuid.UUID) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM stores WHERE id = ?", storeID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("checking store: %w", err)
	}
	return n > 0, nil
}

func (s *SQLiteDatabase) EnsureStore(ctx context.Context, storeID uuid.UUID) error {
	if err := ensureStore(ctx, s.db, storeID, s.clock.Now()); err != nil {
		return fmt.Errorf("creating store: %w", err)
	}
	return nil
}

func (s *SQLiteDatabase) GetUserName(ctx context.Context, storeID uuid.UUID) (*string, error) {
	var name sql.NullString
	err := s.db.QueryRowContext(ctx, "SELECT user_name FROM stores WHERE id = ?", storeID).Scan(&name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // No store yet
		}
		return nil, fmt.Errorf("reading user name: %w", err)
	}
	return nullStringPtr(name), nil
}

func (s *SQLiteDatabase) SetUserName(ctx context.Context, storeID uuid.UUID, name string) error {
	return s.updateStoreColumn(ctx, storeID, "user_name", name)
}

func (s *SQLiteDatabase) GetCharacter(ctx context.Context, storeID uuid.UUID) (*model.Character, error) {
	var raw sql.NullString
	err := s.db.QueryRowContext(ctx, "SELECT character FROM stores WHERE id = ?", storeID).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // No store yet
		}
		return nil, fmt.Errorf("reading character: %w", err)
	}
	return parseCharacterColumn(raw)
}

func (s *SQLiteDatabase) SetCharacter(ctx context.Context, storeID uuid.UUID, character model.Character) error {
	return s.updateStoreColumn(ctx, storeID, "character", string(character))
}

// updateStoreColumn upserts the store row and sets a single column.
// column is always a compile-time constant from this file.
func (s *SQLiteDatabase) updateStoreColumn(ctx context.Context, storeID uuid.UUID, column string, value string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	if err := ensureStore(ctx, tx, storeID, s.clock.Now()); err != nil {
		return fmt.Errorf("creating store: %w", err)
	}

	query := fmt.Sprintf("UPDATE stores SET %s = ? WHERE id = ?", column)
	if _, err := tx.ExecContext(ctx, query, value, storeID); err != nil {
		return fmt.Errorf("updating %s: %w", column, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// Pending queue

func (s *SQLiteDatabase) AppendPendingRecord(ctx context.Context, storeID uuid.UUID, pending *model.PendingRecord) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	if err := ensureStore(ctx, tx, storeID, s.clock.Now()); err != nil {
		return 0, fmt.Errorf("creating store: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO pending_records (id, store_id, record_date, created_at, analyzed_result, emotion)
		VALUES (?, ?, ?, ?, ?, ?)`,
		pending.ID, storeID, pending.RecordDate, pending.CreatedAt, pending.AnalyzedResult, string(pending.Emotion))
	if err != nil {
		return 0, fmt.Errorf("inserting pending record: %w", err)
	}

	seq, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading queue position: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing transaction: %w", err)
	}
	return seq, nil
}

func (s *SQLiteDatabase) ListPendingRecords(ctx context.Context, storeID uuid.UUID) ([]*model.PendingRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, id, record_date, created_at, analyzed_result, emotion
		FROM pending_records WHERE store_id = ? ORDER BY seq`, storeID)
	if err != nil {
		return nil, fmt.Errorf("listing pending records: %w", err)
	}
	defer rows.Close()

	var result []*model.PendingRecord
	for rows.Next() {
		var p model.PendingRecord
		var emotion string
		if err := rows.Scan(&p.Seq, &p.ID, &p.RecordDate, &p.CreatedAt, &p.AnalyzedResult, &emotion); err != nil {
			return nil, fmt.Errorf("scanning pending record: %w", err)
		}
		if p.Emotion, err = model.ParseEmotion(emotion); err != nil {
			return nil, err
		}
		result = append(result, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing pending records: %w", err)
	}
	return result, nil
}

// MaterializePendingRecords inserts records and deletes the consumed queue
// rows in a single transaction. Any failure rolls back both sides.
func (s *SQLiteDatabase) MaterializePendingRecords(ctx context.Context, storeID uuid.UUID, consumed []*model.PendingRecord, records []*model.Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	// 1. Insert records in the order given; seq preserves it for listing.
	for _, r := range records {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO records (id, ticket_id, store_id, record_date, created_at, analyzed_result, emotion)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			r.ID, r.TicketID, storeID, r.RecordDate, r.CreatedAt, r.AnalyzedResult, string(r.Emotion))
		if err != nil {
			return fmt.Errorf("inserting record %s: %w", r.ID, err)
		}
	}

	// 2. Remove exactly the queue rows that were snapshotted.
	for _, p := range consumed {
		res, err := tx.ExecContext(ctx, "DELETE FROM pending_records WHERE seq = ? AND store_id = ?", p.Seq, storeID)
		if err != nil {
			return fmt.Errorf("removing pending record %s: %w", p.ID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("removing pending record %s: %w", p.ID, err)
		}
		if n != 1 {
			return fmt.Errorf("pending record %s (seq %d) vanished from the queue", p.ID, p.Seq)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// Records

func (s *SQLiteDatabase) CountRecords(ctx context.Context, storeID uuid.UUID) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM records WHERE store_id = ?", storeID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting records: %w", err)
	}
	return n, nil
}

func (s *SQLiteDatabase) ListRecords(ctx context.Context, storeID uuid.UUID) ([]*model.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, ticket_id, record_date, created_at, analyzed_result, emotion
		FROM records WHERE store_id = ? ORDER BY seq`, storeID)
	if err != nil {
		return nil, fmt.Errorf("listing records: %w", err)
	}

	var result []*model.Record
	byID := make(map[uuid.UUID]*model.Record)
	for rows.Next() {
		var r model.Record
		var emotion string
		if err := rows.Scan(&r.ID, &r.TicketID, &r.RecordDate, &r.CreatedAt, &r.AnalyzedResult, &emotion); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning record: %w", err)
		}
		if r.Emotion, err = model.ParseEmotion(emotion); err != nil {
			rows.Close()
			return nil, err
		}
		result = append(result, &r)
		byID[r.ID] = &r
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("listing records: %w", err)
	}
	rows.Close()

	if len(result) == 0 {
		return result, nil
	}

	// Attach suggestions in a second pass; the first cursor must be closed
	// because :memory: databases run on a single connection.
	srows, err := s.db.QueryContext(ctx, `
		SELECT sg.id, sg.record_id, sg.content, sg.is_done, sg.created_at
		FROM suggestions sg JOIN records r ON r.id = sg.record_id
		WHERE r.store_id = ? ORDER BY sg.seq`, storeID)
	if err != nil {
		return nil, fmt.Errorf("listing suggestions: %w", err)
	}
	defer srows.Close()

	for srows.Next() {
		var sg model.Suggestion
		if err := srows.Scan(&sg.ID, &sg.RecordID, &sg.Content, &sg.IsDone, &sg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning suggestion: %w", err)
		}
		if r, ok := byID[sg.RecordID]; ok {
			r.Suggestions = append(r.Suggestions, sg)
		}
	}
	if err := srows.Err(); err != nil {
		return nil, fmt.Errorf("listing suggestions: %w", err)
	}

	return result, nil
}

func (s *SQLiteDatabase) DeleteRecord(ctx context.Context, storeID uuid.UUID, recordID uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM records WHERE id = ? AND store_id = ?", recordID, storeID)
	if err != nil {
		return fmt.Errorf("deleting record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("deleting record: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", mentory.ErrRecordNotFound, recordID)
	}
	return nil
}

func (s *SQLiteDatabase) CreateSuggestion(ctx context.Context, storeID uuid.UUID, suggestion *model.Suggestion) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	var n int
	err = tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM records WHERE id = ? AND store_id = ?",
		suggestion.RecordID, storeID).Scan(&n)
	if err != nil {
		return fmt.Errorf("finding record: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", mentory.ErrRecordNotFound, suggestion.RecordID)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO suggestions (id, record_id, content, is_done, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		suggestion.ID, suggestion.RecordID, suggestion.Content, suggestion.IsDone, suggestion.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting suggestion: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func (s *SQLiteDatabase) UpdateSuggestionDone(ctx context.Context, storeID uuid.UUID, suggestionID uuid.UUID, done bool) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE suggestions SET is_done = ?
		WHERE id = ? AND record_id IN (SELECT id FROM records WHERE store_id = ?)`,
		done, suggestionID, storeID)
	if err != nil {
		return fmt.Errorf("updating suggestion: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating suggestion: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", mentory.ErrSuggestionNotFound, suggestionID)
	}
	return nil
}

// Mentor message

func (s *SQLiteDatabase) GetMentorMessage(ctx context.Context, storeID uuid.UUID) (*model.MentorMessage, error) {
	var character, content sql.NullString
	err := s.db.QueryRowContext(ctx,
		"SELECT character, content FROM mentor_messages WHERE store_id = ?", storeID).Scan(&character, &content)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not cached yet
		}
		return nil, fmt.Errorf("reading mentor message: %w", err)
	}

	c, err := parseCharacterColumn(character)
	if err != nil {
		return nil, err
	}
	return &model.MentorMessage{Character: c, Content: nullStringPtr(content)}, nil
}

func (s *SQLiteDatabase) ReplaceMentorMessage(ctx context.Context, storeID uuid.UUID, message *model.MentorMessage) error {
	var character, content sql.NullString
	if message.Character != nil {
		character = sql.NullString{String: string(*message.Character), Valid: true}
	}
	if message.Content != nil {
		content = sql.NullString{String: *message.Content, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO mentor_messages (store_id, character, content, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(store_id) DO UPDATE SET
			character = excluded.character,
			content = excluded.content,
			updated_at = excluded.updated_at`,
		storeID, character, content, s.clock.Now())
	if err != nil {
		if isForeignKeyViolation(err) {
			return fmt.Errorf("%w: %s", mentory.ErrStoreNotFound, storeID)
		}
		return fmt.Errorf("replacing mentor message: %w", err)
	}
	return nil
}

// Path returns the database file path (or ":memory:").
func (s *SQLiteDatabase) Path() string {
	return s.path
}

// CheckMigrations verifies the schema is up to date.
func (s *SQLiteDatabase) CheckMigrations() error {
	return migrations.CheckStatus(s.db)
}

// BackupTo writes a complete copy of the journal to destPath using VACUUM INTO.
// destPath must not exist yet.
func (s *SQLiteDatabase) BackupTo(destPath string) error {
	if _, err := s.db.Exec("VACUUM INTO ?", destPath); err != nil {
		return fmt.Errorf("backing up database: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteDatabase) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func ensureStore(ctx context.Context, e execer, storeID uuid.UUID, now time.Time) error {
	_, err := e.ExecContext(ctx,
		"INSERT INTO stores (id, created_at) VALUES (?, ?) ON CONFLICT(id) DO NOTHING", storeID, now)
	return err
}

func nullStringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func parseCharacterColumn(raw sql.NullString) (*model.Character, error) {
	if !raw.Valid {
		return nil, nil
	}
	c, err := model.ParseCharacter(raw.String)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func isForeignKeyViolation(err error) bool {
	return strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}

// Compile-time check that SQLiteDatabase implements mentory.Database
var _ mentory.Database = (*SQLiteDatabase)(nil)
