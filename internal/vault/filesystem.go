package vault

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"mentory-go/internal/mentory"
)

// FileSystemVault stores archives under a root directory:
//
//	<root>/
//	  <owner>/
//	    <name>           (sealed archive)
//	    <name>.version   (decimal version)
type FileSystemVault struct {
	name string
	root string
}

var _ mentory.Vault = (*FileSystemVault)(nil)

// NewFileSystemVault creates root if needed.
func NewFileSystemVault(name, root string) (*FileSystemVault, error) {
	if err := os.MkdirAll(root, 0700); err != nil {
		return nil, fmt.Errorf("creating vault root: %w", err)
	}
	return &FileSystemVault{name: name, root: root}, nil
}

func (v *FileSystemVault) Name() string {
	return v.name
}

func (v *FileSystemVault) archivePath(owner, name string) (string, error) {
	for _, part := range []string{owner, name} {
		if part == "" || part == "." || part == ".." || strings.ContainsAny(part, `/\`) {
			return "", fmt.Errorf("invalid archive path component %q", part)
		}
	}
	return filepath.Join(v.root, owner, name), nil
}

func (v *FileSystemVault) PutArchive(_ context.Context, owner, name string, r io.Reader, size int64, version int64) error {
	path, err := v.archivePath(owner, name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("creating owner directory: %w", err)
	}
	if err := writeFileAtomic(path, r, size); err != nil {
		return err
	}
	data := strings.NewReader(strconv.FormatInt(version, 10))
	return writeFileAtomic(path+".version", data, data.Size())
}

func (v *FileSystemVault) GetArchive(_ context.Context, owner, name string, w io.Writer) error {
	path, err := v.archivePath(owner, name)
	if err != nil {
		return err
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("archive %s/%s: %w", owner, name, ErrArchiveNotFound)
		}
		return fmt.Errorf("opening archive: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("reading archive: %w", err)
	}
	return nil
}

// ArchiveVersion returns 0 when no version file exists.
func (v *FileSystemVault) ArchiveVersion(_ context.Context, owner, name string) (int64, error) {
	path, err := v.archivePath(owner, name)
	if err != nil {
		return 0, err
	}
	data, err := os.ReadFile(path + ".version")
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("reading version file: %w", err)
	}
	version, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing version: %w", err)
	}
	return version, nil
}

// ValidateSetup checks that the root is a writable directory.
func (v *FileSystemVault) ValidateSetup(context.Context) error {
	info, err := os.Stat(v.root)
	if err != nil {
		return fmt.Errorf("vault root not accessible: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("vault root is not a directory: %s", v.root)
	}
	f, err := os.CreateTemp(v.root, ".probe-*")
	if err != nil {
		return fmt.Errorf("vault root not writable: %w", err)
	}
	f.Close()
	return os.Remove(f.Name())
}

// writeFileAtomic writes r to a temp file next to destPath and renames it.
func writeFileAtomic(destPath string, r io.Reader, expectedSize int64) error {
	tmp, err := os.CreateTemp(filepath.Dir(destPath), ".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	written, err := io.Copy(tmp, r)
	if err != nil {
		tmp.Close()
		return fmt.Errorf("writing data: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if written != expectedSize {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", expectedSize, written)
	}
	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("renaming temp file: %w", err)
	}

	success = true
	return nil
}
