package vault

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"mentory-go/internal/mentory"
)

// MemoryVault keeps archives in memory. It is safe for concurrent use.
type MemoryVault struct {
	name     string
	mu       sync.RWMutex
	archives map[string][]byte
	versions map[string]int64
}

var _ mentory.Vault = (*MemoryVault)(nil)

func NewMemoryVault(name string) *MemoryVault {
	return &MemoryVault{
		name:     name,
		archives: make(map[string][]byte),
		versions: make(map[string]int64),
	}
}

func (m *MemoryVault) Name() string {
	return m.name
}

func archiveKey(owner, name string) string {
	return owner + "/" + name
}

func (m *MemoryVault) PutArchive(_ context.Context, owner, name string, r io.Reader, size int64, version int64) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("reading archive: %w", err)
	}
	if int64(len(data)) != size {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, len(data))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	key := archiveKey(owner, name)
	m.archives[key] = data
	m.versions[key] = version
	return nil
}

func (m *MemoryVault) GetArchive(_ context.Context, owner, name string, w io.Writer) error {
	m.mu.RLock()
	data, ok := m.archives[archiveKey(owner, name)]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("archive %s/%s: %w", owner, name, ErrArchiveNotFound)
	}
	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("writing archive: %w", err)
	}
	return nil
}

func (m *MemoryVault) ArchiveVersion(_ context.Context, owner, name string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.versions[archiveKey(owner, name)], nil
}

func (m *MemoryVault) ValidateSetup(context.Context) error {
	return nil
}
