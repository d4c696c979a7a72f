package store

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"mentory-go/internal/mentory"
)

// ErrNoDefaultRegistry is returned by Default before SetDefault was called.
var ErrNoDefaultRegistry = errors.New("default store registry not initialized")

// Registry hands out exactly one Store per identity.
// All stores share the registry's database.
type Registry struct {
	db     mentory.Database
	clock  mentory.Clock
	ids    mentory.IDGenerator
	logger mentory.Logger

	mu     sync.Mutex
	stores map[uuid.UUID]*Store
	closed bool
}

// NewRegistry creates a Registry on top of db. Nil clock, ids and logger use
// the real implementations or discard output.
func NewRegistry(db mentory.Database, clock mentory.Clock, ids mentory.IDGenerator, logger mentory.Logger) *Registry {
	if logger == nil {
		logger = mentory.NewNopLogger()
	}
	return &Registry{
		db:     db,
		clock:  clock,
		ids:    ids,
		logger: logger,
		stores: make(map[uuid.UUID]*Store),
	}
}

// Store returns the Store for id, starting it on first use.
func (r *Registry) Store(id uuid.UUID) (*Store, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, mentory.ErrStoreClosed
	}
	if s, ok := r.stores[id]; ok {
		return s, nil
	}

	s := New(id, r.db, r.clock, r.ids, r.logger)
	r.stores[id] = s
	r.logger.Debug("store started", "store", id)
	return s, nil
}

// Close stops every store. The database is left open.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, s := range r.stores {
		s.Close()
		delete(r.stores, id)
	}
	r.closed = true
}

var defaultRegistry atomic.Pointer[Registry]

// SetDefault installs the process-wide registry. Only the first call wins;
// it reports whether r was installed.
func SetDefault(r *Registry) bool {
	return defaultRegistry.CompareAndSwap(nil, r)
}

// Default returns the process-wide registry.
func Default() (*Registry, error) {
	r := defaultRegistry.Load()
	if r == nil {
		return nil, ErrNoDefaultRegistry
	}
	return r, nil
}
