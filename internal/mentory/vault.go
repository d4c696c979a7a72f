package mentory

import (
	"context"
	"io"
)

// Vault stores versioned backup archives of a journal.
// Archives are addressed by owner (the store identity) and name.
type Vault interface {
	// PutArchive stores an archive, replacing any previous one with the same
	// owner and name. size is the number of bytes that will be read from r.
	PutArchive(ctx context.Context, owner, name string, r io.Reader, size int64, version int64) error

	// GetArchive writes the latest archive for owner/name to w.
	GetArchive(ctx context.Context, owner, name string, w io.Writer) error

	// ArchiveVersion returns the stored version, or 0 if nothing was stored.
	ArchiveVersion(ctx context.Context, owner, name string) (int64, error)

	// ValidateSetup verifies that the vault is reachable and writable.
	ValidateSetup(ctx context.Context) error
}
