// Package backup copies a store's journal into sealed vault archives and
// restores it from them.
package backup

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"mentory-go/internal/mentory"
)

// ArchiveName is the vault name of a journal archive under its store owner.
const ArchiveName = "journal.db"

var sqliteHeader = []byte("SQLite format 3\x00")

var (
	// ErrNoVaults is returned when no vault is configured.
	ErrNoVaults = errors.New("no vaults configured")
	// ErrDestinationExists is returned by Restore when dest exists and
	// overwriting was not requested.
	ErrDestinationExists = errors.New("restore destination exists")
	// ErrNotAJournal is returned when an opened archive is not a SQLite file.
	ErrNotAJournal = errors.New("archive is not a journal")
)

// Snapshotter writes a consistent copy of the journal to a path.
type Snapshotter interface {
	BackupTo(destPath string) error
}

// NamedVault is a Vault with a configured name.
type NamedVault interface {
	mentory.Vault
	Name() string
}

// Result describes one archive written by Backup.
type Result struct {
	Vault   string
	Version int64
	Size    int64
}

// Service backs up one store's journal to every configured vault.
type Service struct {
	owner  string
	db     Snapshotter
	vaults []NamedVault
	sealer mentory.Sealer
	logger mentory.Logger
}

func NewService(owner string, db Snapshotter, vaults []NamedVault, sealer mentory.Sealer, logger mentory.Logger) *Service {
	if logger == nil {
		logger = mentory.NewNopLogger()
	}
	return &Service{
		owner:  owner,
		db:     db,
		vaults: vaults,
		sealer: sealer,
		logger: logger,
	}
}

// Backup snapshots the journal, seals it once and uploads it to each vault
// with that vault's previous version + 1. It stops at the first failing vault.
func (s *Service) Backup(ctx context.Context) ([]Result, error) {
	if len(s.vaults) == 0 {
		return nil, ErrNoVaults
	}

	tmpDir, err := os.MkdirTemp("", "mentory-backup-*")
	if err != nil {
		return nil, fmt.Errorf("creating temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	snapshotPath := filepath.Join(tmpDir, "journal.db")
	if err := s.db.BackupTo(snapshotPath); err != nil {
		return nil, fmt.Errorf("snapshotting journal: %w", err)
	}

	sealedPath := filepath.Join(tmpDir, "journal.db.sealed")
	size, err := s.seal(snapshotPath, sealedPath)
	if err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(s.vaults))
	for _, v := range s.vaults {
		r, err := s.upload(ctx, v, sealedPath, size)
		if err != nil {
			return results, fmt.Errorf("vault %s: %w", v.Name(), err)
		}
		s.logger.Info("journal backed up", "vault", r.Vault, "version", r.Version, "size", r.Size)
		results = append(results, r)
	}
	return results, nil
}

func (s *Service) seal(srcPath, destPath string) (int64, error) {
	src, err := os.Open(srcPath)
	if err != nil {
		return 0, fmt.Errorf("opening snapshot: %w", err)
	}
	defer src.Close()

	dest, err := os.OpenFile(destPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return 0, fmt.Errorf("creating sealed archive: %w", err)
	}
	if err := s.sealer.Seal(src, dest); err != nil {
		dest.Close()
		return 0, fmt.Errorf("sealing journal: %w", err)
	}
	if err := dest.Close(); err != nil {
		return 0, fmt.Errorf("closing sealed archive: %w", err)
	}

	info, err := os.Stat(destPath)
	if err != nil {
		return 0, fmt.Errorf("stat sealed archive: %w", err)
	}
	return info.Size(), nil
}

func (s *Service) upload(ctx context.Context, v NamedVault, sealedPath string, size int64) (Result, error) {
	prev, err := v.ArchiveVersion(ctx, s.owner, ArchiveName)
	if err != nil {
		return Result{}, fmt.Errorf("reading archive version: %w", err)
	}

	f, err := os.Open(sealedPath)
	if err != nil {
		return Result{}, fmt.Errorf("opening sealed archive: %w", err)
	}
	defer f.Close()

	version := prev + 1
	if err := v.PutArchive(ctx, s.owner, ArchiveName, f, size, version); err != nil {
		return Result{}, fmt.Errorf("uploading archive: %w", err)
	}
	return Result{Vault: v.Name(), Version: version, Size: size}, nil
}

// Restore writes the latest archive from the named vault (the first vault
// when vaultName is empty) to dest. The journal is written next to dest
// and renamed into place only after it opened cleanly.
func (s *Service) Restore(ctx context.Context, vaultName, dest string, opener mentory.Opener, overwrite bool) error {
	v, err := s.vault(vaultName)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(dest); err == nil {
			return fmt.Errorf("%w: %s", ErrDestinationExists, dest)
		}
	}

	var sealed bytes.Buffer
	if err := v.GetArchive(ctx, s.owner, ArchiveName, &sealed); err != nil {
		return fmt.Errorf("downloading archive: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0700); err != nil {
		return fmt.Errorf("creating restore directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".restore-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if err := opener.Open(&sealed, tmp); err != nil {
		tmp.Close()
		return fmt.Errorf("opening archive: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing restored journal: %w", err)
	}
	if err := checkJournal(tmpPath); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		return fmt.Errorf("moving restored journal: %w", err)
	}

	s.logger.Info("journal restored", "vault", v.Name(), "dest", dest)
	return nil
}

func (s *Service) vault(name string) (NamedVault, error) {
	if len(s.vaults) == 0 {
		return nil, ErrNoVaults
	}
	if name == "" {
		return s.vaults[0], nil
	}
	for _, v := range s.vaults {
		if v.Name() == name {
			return v, nil
		}
	}
	return nil, fmt.Errorf("vault %q not configured", name)
}

func checkJournal(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening restored journal: %w", err)
	}
	defer f.Close()

	header := make([]byte, len(sqliteHeader))
	if _, err := io.ReadFull(f, header); err != nil || !bytes.Equal(header, sqliteHeader) {
		return ErrNotAJournal
	}
	return nil
}
