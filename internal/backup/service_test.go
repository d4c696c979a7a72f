package backup

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"

	"mentory-go/internal/config"
	"mentory-go/internal/database"
	"mentory-go/internal/encryption"
	"mentory-go/internal/testutil"
	"mentory-go/internal/vault"
)

var testStore = uuid.MustParse("7f3c1c9e-3a52-4c41-9d7c-0a4f5a0b2e11")

func newJournal(t *testing.T, name string) *database.SQLiteDatabase {
	t.Helper()
	db, err := database.NewSQLiteDatabase(filepath.Join(t.TempDir(), "journal.db"), testutil.FixedClock())
	if err != nil {
		t.Fatalf("NewSQLiteDatabase() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.SetUserName(context.Background(), testStore, name); err != nil {
		t.Fatalf("SetUserName() error = %v", err)
	}
	return db
}

func TestService_BackupRestoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	db := newJournal(t, "Mina")
	mem := vault.NewMemoryVault("mem")
	sealer, err := encryption.NewPassphraseSealer("journal-pass")
	if err != nil {
		t.Fatal(err)
	}
	svc := NewService(testStore.String(), db, []NamedVault{mem}, sealer, nil)

	results, err := svc.Backup(ctx)
	if err != nil {
		t.Fatalf("Backup() error = %v", err)
	}
	if len(results) != 1 || results[0].Version != 1 || results[0].Vault != "mem" {
		t.Fatalf("Backup() = %+v, want one version 1 result for mem", results)
	}

	var stored bytes.Buffer
	if err := mem.GetArchive(ctx, testStore.String(), ArchiveName, &stored); err != nil {
		t.Fatalf("GetArchive() error = %v", err)
	}
	if bytes.Contains(stored.Bytes(), sqliteHeader) {
		t.Error("vault archive is not sealed")
	}

	dest := filepath.Join(t.TempDir(), "restored", "journal.db")
	if err := svc.Restore(ctx, "", dest, sealer, false); err != nil {
		t.Fatalf("Restore() error = %v", err)
	}

	restored, err := database.NewSQLiteDatabase(dest, testutil.FixedClock())
	if err != nil {
		t.Fatalf("opening restored journal: %v", err)
	}
	defer restored.Close()

	name, err := restored.GetUserName(ctx, testStore)
	if err != nil {
		t.Fatalf("GetUserName() error = %v", err)
	}
	if name == nil || *name != "Mina" {
		t.Errorf("restored user name = %v, want Mina", name)
	}
}

func TestService_VersionIncrementsPerVault(t *testing.T) {
	ctx := context.Background()
	db := newJournal(t, "Jo")
	a, b := vault.NewMemoryVault("a"), vault.NewMemoryVault("b")

	// b already holds an older archive.
	if err := b.PutArchive(ctx, testStore.String(), ArchiveName, bytes.NewReader(nil), 0, 4); err != nil {
		t.Fatal(err)
	}

	svc := NewService(testStore.String(), db, []NamedVault{a, b}, encryption.PlainSealer{}, nil)
	if _, err := svc.Backup(ctx); err != nil {
		t.Fatalf("first Backup() error = %v", err)
	}
	results, err := svc.Backup(ctx)
	if err != nil {
		t.Fatalf("second Backup() error = %v", err)
	}

	want := map[string]int64{"a": 2, "b": 6}
	for _, r := range results {
		if r.Version != want[r.Vault] {
			t.Errorf("vault %s version = %d, want %d", r.Vault, r.Version, want[r.Vault])
		}
	}
}

func testKeyConfig(t *testing.T) config.EncryptionConfig {
	dir := t.TempDir()
	return config.EncryptionConfig{
		Type:           "age",
		PublicKeyPath:  filepath.Join(dir, "mentory.pub"),
		PrivateKeyPath: filepath.Join(dir, "mentory.key"),
	}
}

func TestService_BackupFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("no vaults", func(t *testing.T) {
		svc := NewService(testStore.String(), newJournal(t, "x"), nil, encryption.PlainSealer{}, nil)
		if _, err := svc.Backup(ctx); !errors.Is(err, ErrNoVaults) {
			t.Errorf("Backup() error = %v, want ErrNoVaults", err)
		}
	})

	t.Run("sealer failure uploads nothing", func(t *testing.T) {
		mem := vault.NewMemoryVault("mem")
		keys := encryption.NewKeyPairSealer(testKeyConfig(t))
		svc := NewService(testStore.String(), newJournal(t, "x"), []NamedVault{mem}, keys, nil)

		if _, err := svc.Backup(ctx); !errors.Is(err, encryption.ErrKeysMissing) {
			t.Fatalf("Backup() error = %v, want ErrKeysMissing", err)
		}
		if v, _ := mem.ArchiveVersion(ctx, testStore.String(), ArchiveName); v != 0 {
			t.Errorf("ArchiveVersion() = %d after failed backup, want 0", v)
		}
	})
}

func TestService_RestoreGuards(t *testing.T) {
	ctx := context.Background()
	db := newJournal(t, "x")
	mem := vault.NewMemoryVault("mem")
	svc := NewService(testStore.String(), db, []NamedVault{mem}, encryption.PlainSealer{}, nil)

	t.Run("nothing stored", func(t *testing.T) {
		err := svc.Restore(ctx, "", filepath.Join(t.TempDir(), "j.db"), encryption.PlainSealer{}, false)
		if !errors.Is(err, vault.ErrArchiveNotFound) {
			t.Errorf("Restore() error = %v, want ErrArchiveNotFound", err)
		}
	})

	if _, err := svc.Backup(ctx); err != nil {
		t.Fatalf("Backup() error = %v", err)
	}

	t.Run("existing destination", func(t *testing.T) {
		dest := filepath.Join(t.TempDir(), "j.db")
		if err := os.WriteFile(dest, []byte("keep"), 0600); err != nil {
			t.Fatal(err)
		}
		if err := svc.Restore(ctx, "", dest, encryption.PlainSealer{}, false); !errors.Is(err, ErrDestinationExists) {
			t.Errorf("Restore() error = %v, want ErrDestinationExists", err)
		}
		if err := svc.Restore(ctx, "", dest, encryption.PlainSealer{}, true); err != nil {
			t.Errorf("Restore(overwrite) error = %v", err)
		}
	})

	t.Run("unknown vault", func(t *testing.T) {
		if err := svc.Restore(ctx, "s3", filepath.Join(t.TempDir(), "j.db"), encryption.PlainSealer{}, false); err == nil {
			t.Error("Restore() from an unknown vault succeeded")
		}
	})

	t.Run("archive that is not a journal", func(t *testing.T) {
		var sealed bytes.Buffer
		if err := (encryption.PlainSealer{}).Seal(bytes.NewReader([]byte("just text")), &sealed); err != nil {
			t.Fatal(err)
		}
		other := vault.NewMemoryVault("other")
		if err := other.PutArchive(ctx, testStore.String(), ArchiveName, &sealed, int64(sealed.Len()), 1); err != nil {
			t.Fatal(err)
		}
		svc := NewService(testStore.String(), db, []NamedVault{other}, encryption.PlainSealer{}, nil)

		dest := filepath.Join(t.TempDir(), "j.db")
		if err := svc.Restore(ctx, "other", dest, encryption.PlainSealer{}, false); !errors.Is(err, ErrNotAJournal) {
			t.Errorf("Restore() error = %v, want ErrNotAJournal", err)
		}
		if _, err := os.Stat(dest); !errors.Is(err, os.ErrNotExist) {
			t.Error("rejected archive was written to the destination")
		}
	})
}
