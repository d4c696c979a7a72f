package mentory

import "io"

// Sealer encrypts backup archives before they leave the device.
// Sealing needs no user interaction; opening may need a passphrase.
type Sealer interface {
	// Seal reads plaintext from r and writes the sealed archive to w.
	Seal(r io.Reader, w io.Writer) error
}

// Opener reverses Seal.
type Opener interface {
	// Open reads a sealed archive from r and writes plaintext to w.
	Open(r io.Reader, w io.Writer) error
}
