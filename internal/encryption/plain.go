package encryption

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"mentory-go/internal/mentory"
)

// plainHeader marks an unsealed archive so Open can reject foreign files.
var plainHeader = []byte("MENTORY\x00")

// ErrNotAnArchive is returned when Open is given data without the header.
var ErrNotAnArchive = errors.New("not a plain journal archive")

// PlainSealer stores archives unencrypted behind a fixed header.
type PlainSealer struct{}

var (
	_ mentory.Sealer = PlainSealer{}
	_ mentory.Opener = PlainSealer{}
)

func (PlainSealer) Seal(r io.Reader, w io.Writer) error {
	if _, err := w.Write(plainHeader); err != nil {
		return fmt.Errorf("writing archive header: %w", err)
	}
	if _, err := io.Copy(w, r); err != nil {
		return fmt.Errorf("copying archive: %w", err)
	}
	return nil
}

func (PlainSealer) Open(r io.Reader, w io.Writer) error {
	header := make([]byte, len(plainHeader))
	if _, err := io.ReadFull(r, header); err != nil {
		return fmt.Errorf("reading archive header: %w", err)
	}
	if !bytes.Equal(header, plainHeader) {
		return ErrNotAnArchive
	}
	if _, err := io.Copy(w, r); err != nil {
		return fmt.Errorf("copying archive: %w", err)
	}
	return nil
}
