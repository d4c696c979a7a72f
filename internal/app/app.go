package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"mentory-go/internal/analysis"
	"mentory-go/internal/backup"
	"mentory-go/internal/config"
	"mentory-go/internal/database"
	"mentory-go/internal/encryption"
	"mentory-go/internal/mentory"
	"mentory-go/internal/model"
	"mentory-go/internal/store"
	"mentory-go/internal/vault"
	"mentory-go/internal/watchsync"
)

// ErrJournalOpen is returned by Restore when the journal was already opened
// by this app.
var ErrJournalOpen = errors.New("journal is open")

// Options tune how a MentoryApp is built. The zero value logs warnings to
// stderr and reads the real environment.
type Options struct {
	Verbose bool
	Stderr  io.Writer
	Getenv  func(string) string
	Clock   mentory.Clock
}

// MentoryApp is the application layer between the CLI and the journal core.
// It constructs dependencies from config on first use, exposes high-level
// operations that accept raw CLI input, and releases everything on Close.
type MentoryApp struct {
	cfg     *config.Config
	storeID uuid.UUID
	getenv  func(string) string
	clock   mentory.Clock
	session *Session
	logger  mentory.Logger
	logFile io.Closer
	closed  bool

	gateway *lazyGateway

	openOnce sync.Once
	openErr  error
	db       *database.SQLiteDatabase
	registry *store.Registry
	store    *store.Store
	analyzer *analysis.Analyzer
	mentor   *store.MentorMessageCache
}

// NewMentoryApp creates a MentoryApp for cfg. operation names the CLI
// command in the log. The journal is opened lazily, so commands that never
// touch it (restore, sync watch) work without one. The caller must call Close.
func NewMentoryApp(cfg *config.Config, operation string, opts Options) (*MentoryApp, error) {
	storeID := model.DefaultStoreID
	if cfg.StoreID != "" {
		id, err := uuid.Parse(cfg.StoreID)
		if err != nil {
			return nil, fmt.Errorf("invalid store_id %q: %w", cfg.StoreID, err)
		}
		storeID = id
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if opts.Getenv == nil {
		opts.Getenv = os.Getenv
	}
	if opts.Clock == nil {
		opts.Clock = mentory.RealClock{}
	}

	session := NewSession(operation, opts.Clock)
	l, logFile, err := newLogger(cfg.LogDir, session.ID, opts.Verbose, opts.Stderr)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	logger := &slogAdapter{l: l}
	logger.Debug("session started", "operation", operation, "store", storeID)

	timeout, err := cfg.AnalysisTimeout()
	if err != nil {
		logFile.Close()
		return nil, err
	}

	return &MentoryApp{
		cfg:     cfg,
		storeID: storeID,
		getenv:  opts.Getenv,
		clock:   opts.Clock,
		session: session,
		logger:  logger,
		logFile: logFile,
		gateway: &lazyGateway{build: func(ctx context.Context) (analysis.Gateway, error) {
			return analysis.NewGatewayFromConfig(ctx, cfg.Analysis, timeout, opts.Getenv, logger)
		}},
	}, nil
}

// lazyGateway builds the configured gateway on the first question, so an
// API key is only required by commands that ask one.
type lazyGateway struct {
	build func(ctx context.Context) (analysis.Gateway, error)

	once sync.Once
	gw   analysis.Gateway
	err  error
}

func (g *lazyGateway) Ask(ctx context.Context, question string) (string, error) {
	g.once.Do(func() { g.gw, g.err = g.build(ctx) })
	if g.err != nil {
		return "", g.err
	}
	return g.gw.Ask(ctx, question)
}

// journal opens the database and starts the store on first use.
func (a *MentoryApp) journal() (*store.Store, error) {
	a.openOnce.Do(func() { a.openErr = a.openJournal() })
	if a.openErr != nil {
		return nil, a.openErr
	}
	return a.store, nil
}

func (a *MentoryApp) openJournal() error {
	db, err := database.NewDatabaseFromConfig(a.cfg.Database, a.owner(), a.clock)
	if err != nil {
		return fmt.Errorf("opening journal: %w", err)
	}
	if err := db.CheckMigrations(); err != nil {
		db.Close()
		return fmt.Errorf("journal schema out of date: %w", err)
	}

	registry := store.NewRegistry(db, a.clock, mentory.UUIDGenerator{}, a.logger)
	if !store.SetDefault(registry) {
		a.logger.Debug("default store registry already installed")
	}
	s, err := registry.Store(a.storeID)
	if err != nil {
		registry.Close()
		db.Close()
		return err
	}

	a.db = db
	a.registry = registry
	a.store = s
	a.analyzer = analysis.NewAnalyzer(a.gateway, s, a.clock, mentory.UUIDGenerator{}, a.logger)
	a.mentor = store.NewMentorMessageCache(s, nil, analysis.MentorWriter{Gateway: a.gateway}, a.logger)
	return nil
}

func (a *MentoryApp) owner() string {
	if a.cfg.StoreID != "" {
		return a.cfg.StoreID
	}
	return a.storeID.String()
}

// SetUserName stores the user's display name.
func (a *MentoryApp) SetUserName(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("user name: %w", mentory.ErrEmptyInput)
	}
	s, err := a.journal()
	if err != nil {
		return err
	}
	return s.SetUserName(ctx, name)
}

// UserName returns the stored name or nil.
func (a *MentoryApp) UserName(ctx context.Context) (*string, error) {
	s, err := a.journal()
	if err != nil {
		return nil, err
	}
	return s.UserName(ctx)
}

// Character returns the mentor persona, persisting the default on first use.
func (a *MentoryApp) Character(ctx context.Context) (model.Character, error) {
	if _, err := a.journal(); err != nil {
		return "", err
	}
	return a.mentor.FetchCharacter(ctx)
}

// SetCharacter parses and stores the persona. The cached mentor message is
// dropped because it was written in the old voice.
func (a *MentoryApp) SetCharacter(ctx context.Context, raw string) (model.Character, error) {
	character, err := model.ParseCharacter(strings.TrimSpace(raw))
	if err != nil {
		return "", err
	}
	s, err := a.journal()
	if err != nil {
		return "", err
	}
	if err := s.SetCharacter(ctx, character); err != nil {
		return "", err
	}
	a.mentor.Reset()
	return character, nil
}

// AddedRecord is the outcome of AddRecord.
type AddedRecord struct {
	Pending     *model.PendingRecord
	Record      *model.Record // nil when the queue was not flushed
	Suggestions []string
}

// AddRecord analyzes text in the current persona's voice and queues it.
// When flush is set the queue is flushed and the suggestions are attached
// to the materialized record.
func (a *MentoryApp) AddRecord(ctx context.Context, text string, recordDate time.Time, flush bool) (*AddedRecord, error) {
	s, err := a.journal()
	if err != nil {
		return nil, err
	}
	character, err := a.mentor.FetchCharacter(ctx)
	if err != nil {
		return nil, err
	}

	res, err := a.analyzer.Submit(ctx, analysis.Entry{Text: text, RecordDate: recordDate, Character: character})
	if err != nil {
		return nil, err
	}
	added := &AddedRecord{Pending: res.Pending, Suggestions: res.Suggestions}
	if !flush {
		return added, nil
	}

	if _, err := s.FlushQueue(ctx); err != nil {
		return added, err
	}
	records, err := s.Records(ctx)
	if err != nil {
		return added, err
	}
	for _, r := range records {
		if r.TicketID == res.Pending.ID {
			added.Record = r
			break
		}
	}
	if added.Record == nil {
		return added, fmt.Errorf("record for %s: %w", res.Pending.ID, mentory.ErrRecordNotFound)
	}

	for _, content := range res.Suggestions {
		sug, err := s.AppendSuggestion(ctx, added.Record.ID, content)
		if err != nil {
			return added, err
		}
		added.Record.Suggestions = append(added.Record.Suggestions, *sug)
	}
	return added, nil
}

// FlushQueue materializes every pending record.
func (a *MentoryApp) FlushQueue(ctx context.Context) (int, error) {
	s, err := a.journal()
	if err != nil {
		return 0, err
	}
	return s.FlushQueue(ctx)
}

// PendingCount returns the number of queued records.
func (a *MentoryApp) PendingCount(ctx context.Context) (int, error) {
	s, err := a.journal()
	if err != nil {
		return 0, err
	}
	pending, err := s.PendingRecords(ctx)
	return len(pending), err
}

func (a *MentoryApp) RecordCount(ctx context.Context) (int, error) {
	s, err := a.journal()
	if err != nil {
		return 0, err
	}
	return s.RecordCount(ctx)
}

// Records returns every record with its suggestions.
func (a *MentoryApp) Records(ctx context.Context) ([]*model.Record, error) {
	s, err := a.journal()
	if err != nil {
		return nil, err
	}
	return s.Records(ctx)
}

func (a *MentoryApp) DeleteRecord(ctx context.Context, rawID string) error {
	id, err := parseID("record", rawID)
	if err != nil {
		return err
	}
	s, err := a.journal()
	if err != nil {
		return err
	}
	return s.DeleteRecord(ctx, id)
}

func (a *MentoryApp) AddSuggestion(ctx context.Context, rawRecordID, content string) (*model.Suggestion, error) {
	id, err := parseID("record", rawRecordID)
	if err != nil {
		return nil, err
	}
	s, err := a.journal()
	if err != nil {
		return nil, err
	}
	return s.AppendSuggestion(ctx, id, content)
}

func (a *MentoryApp) MarkSuggestionDone(ctx context.Context, rawID string, done bool) error {
	id, err := parseID("suggestion", rawID)
	if err != nil {
		return err
	}
	s, err := a.journal()
	if err != nil {
		return err
	}
	return s.MarkSuggestionDone(ctx, id, done)
}

func parseID(kind, raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid %s id %q: %w", kind, raw, err)
	}
	return id, nil
}

// MentorMessage returns the cached mentor message. Content stays empty until
// RefreshMentor has run for the current persona.
func (a *MentoryApp) MentorMessage(ctx context.Context) (model.MentorMessage, error) {
	if _, err := a.Character(ctx); err != nil {
		return model.MentorMessage{}, err
	}
	return a.mentor.Message(), nil
}

// RefreshMentor asks the gateway for new mentor content.
func (a *MentoryApp) RefreshMentor(ctx context.Context) (model.MentorMessage, error) {
	if _, err := a.Character(ctx); err != nil {
		return model.MentorMessage{}, err
	}
	if err := a.mentor.UpdateContent(ctx); err != nil {
		return model.MentorMessage{}, err
	}
	return a.mentor.Message(), nil
}

// backupService builds the backup service. db may be nil for restores.
func (a *MentoryApp) backupService(ctx context.Context, db backup.Snapshotter) (*backup.Service, error) {
	vaults := make([]backup.NamedVault, 0, len(a.cfg.Vaults))
	for _, vc := range a.cfg.Vaults {
		v, err := vault.NewVaultFromConfig(ctx, vc, a.getenv)
		if err != nil {
			return nil, fmt.Errorf("creating vault %s: %w", vc.Name, err)
		}
		vaults = append(vaults, v)
	}

	var sealer mentory.Sealer
	if db != nil {
		var err error
		if sealer, err = encryption.NewSealerFromConfig(a.cfg.Encryption, a.getenv); err != nil {
			return nil, err
		}
	}
	return backup.NewService(a.owner(), db, vaults, sealer, a.logger), nil
}

// Backup seals the journal into every configured vault.
func (a *MentoryApp) Backup(ctx context.Context) ([]backup.Result, error) {
	if _, err := a.journal(); err != nil {
		return nil, err
	}
	svc, err := a.backupService(ctx, a.db)
	if err != nil {
		return nil, err
	}
	return svc.Backup(ctx)
}

// InitBackupKeys generates the age key pair, protecting the private key
// with passphrase.
func (a *MentoryApp) InitBackupKeys(passphrase string) error {
	if t := a.cfg.Encryption.Type; t != "age" && t != "" {
		return fmt.Errorf("backup keys are only used with age encryption (configured: %s)", t)
	}
	if err := encryption.NewKeyPairSealer(a.cfg.Encryption).Setup(passphrase); err != nil {
		return err
	}
	a.logger.Info("backup keys generated", "public_key", a.cfg.Encryption.PublicKeyPath)
	return nil
}

// Restore replaces the journal file with the latest archive of vaultName
// (the first vault when empty). It must run before the journal is opened.
// Returns the restored path.
func (a *MentoryApp) Restore(ctx context.Context, vaultName string, overwrite bool, ask encryption.PassphraseFunc) (string, error) {
	if a.store != nil {
		return "", ErrJournalOpen
	}
	if a.cfg.Database.Type != "sqlite" {
		return "", fmt.Errorf("restore: database type %s has no journal file", a.cfg.Database.Type)
	}

	opener, err := encryption.NewOpenerFromConfig(a.cfg.Encryption, a.getenv, ask)
	if err != nil {
		return "", err
	}
	svc, err := a.backupService(ctx, nil)
	if err != nil {
		return "", err
	}

	dest := database.JournalPath(a.cfg.Database.DataDir, a.owner())
	if err := svc.Restore(ctx, vaultName, dest, opener, overwrite); err != nil {
		return "", err
	}
	return dest, nil
}

// ServeSync runs the phone end of the watch sync until ctx is cancelled.
func (a *MentoryApp) ServeSync(ctx context.Context) error {
	s, err := a.journal()
	if err != nil {
		return err
	}
	addr := a.cfg.Sync.ListenAddr
	if addr == "" {
		addr = config.DefaultListenAddr
	}

	transport := watchsync.NewWebSocketListener(a.logger)
	responder := watchsync.NewResponder(s, transport, a.logger)
	if err := responder.Start(ctx); err != nil {
		_ = responder.Close()
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("starting sync responder: %w", err)
	}
	defer responder.Close()

	return watchsync.Serve(ctx, addr, transport, a.logger)
}

// RunWatch runs the watch end against the configured peer until ctx is
// cancelled, reporting every state change to onUpdate.
func (a *MentoryApp) RunWatch(ctx context.Context, onUpdate func(watchsync.WatchSyncState)) error {
	if a.cfg.Sync.PeerURL == "" {
		return fmt.Errorf("sync.peer_url is not configured")
	}
	timeout, err := a.cfg.SyncRequestTimeout()
	if err != nil {
		return err
	}

	c := watchsync.NewChannel(watchsync.NewWebSocketDialer(a.cfg.Sync.PeerURL, a.logger), timeout, a.logger)
	if onUpdate != nil {
		c.OnUpdate(onUpdate)
	}
	c.Activate()

	<-ctx.Done()
	return c.Close()
}

// Close stops the store, closes the journal and the log file.
func (a *MentoryApp) Close() error {
	if a.closed {
		return nil
	}
	a.closed = true

	var firstErr error

	if a.registry != nil {
		a.registry.Close()
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			firstErr = fmt.Errorf("closing journal: %w", err)
		}
	}

	a.logger.Debug("session finished", "operation", a.session.Operation, "elapsed", a.session.Elapsed(a.clock))
	if a.logFile != nil {
		if err := a.logFile.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing log file: %w", err)
		}
	}
	return firstErr
}
