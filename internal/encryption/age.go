package encryption

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"filippo.io/age"

	"mentory-go/internal/config"
	"mentory-go/internal/mentory"
)

// ErrKeysMissing is returned when the age key pair has not been generated.
var ErrKeysMissing = errors.New("backup keys not set up")

// KeyPairSealer seals journal archives to an X25519 recipient. The public
// key is stored in plaintext so backups run unattended; the private key is
// itself sealed with the user's passphrase and only needed to restore.
type KeyPairSealer struct {
	publicKeyPath  string
	privateKeyPath string
}

var _ mentory.Sealer = (*KeyPairSealer)(nil)

func NewKeyPairSealer(cfg config.EncryptionConfig) *KeyPairSealer {
	return &KeyPairSealer{
		publicKeyPath:  cfg.PublicKeyPath,
		privateKeyPath: cfg.PrivateKeyPath,
	}
}

// Setup generates a key pair and writes both key files. Existing keys are
// overwritten, which makes older backups unreadable.
func (s *KeyPairSealer) Setup(passphrase string) error {
	if passphrase == "" {
		return fmt.Errorf("setup keys: %w", mentory.ErrEmptyInput)
	}
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return fmt.Errorf("generating key pair: %w", err)
	}

	for _, p := range []string{s.publicKeyPath, s.privateKeyPath} {
		if err := os.MkdirAll(filepath.Dir(p), 0700); err != nil {
			return fmt.Errorf("creating key directory: %w", err)
		}
	}

	if err := os.WriteFile(s.publicKeyPath, []byte(identity.Recipient().String()+"\n"), 0644); err != nil {
		return fmt.Errorf("writing public key: %w", err)
	}

	f, err := os.OpenFile(s.privateKeyPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("creating private key file: %w", err)
	}
	defer f.Close()

	recipient, err := age.NewScryptRecipient(passphrase)
	if err != nil {
		return fmt.Errorf("creating scrypt recipient: %w", err)
	}
	return encrypt(strings.NewReader(identity.String()+"\n"), f, recipient)
}

// IsConfigured reports whether both key files exist.
func (s *KeyPairSealer) IsConfigured() bool {
	for _, p := range []string{s.publicKeyPath, s.privateKeyPath} {
		if _, err := os.Stat(p); err != nil {
			return false
		}
	}
	return true
}

func (s *KeyPairSealer) Seal(r io.Reader, w io.Writer) error {
	data, err := os.ReadFile(s.publicKeyPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("seal: %w (run `mentory backup init`)", ErrKeysMissing)
		}
		return fmt.Errorf("reading public key: %w", err)
	}
	recipients, err := age.ParseRecipients(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("parsing public key: %w", err)
	}
	if len(recipients) == 0 {
		return fmt.Errorf("no recipients in %s", s.publicKeyPath)
	}
	return encrypt(r, w, recipients[0])
}

// Unlock opens the private key with passphrase.
func (s *KeyPairSealer) Unlock(passphrase string) (*IdentityOpener, error) {
	data, err := os.ReadFile(s.privateKeyPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("unlock: %w", ErrKeysMissing)
		}
		return nil, fmt.Errorf("reading private key: %w", err)
	}

	scrypt, err := age.NewScryptIdentity(passphrase)
	if err != nil {
		return nil, fmt.Errorf("creating scrypt identity: %w", err)
	}
	var key bytes.Buffer
	if err := decrypt(bytes.NewReader(data), &key, scrypt); err != nil {
		return nil, fmt.Errorf("decrypting private key: %w", err)
	}

	identities, err := age.ParseIdentities(&key)
	if err != nil {
		return nil, fmt.Errorf("parsing private key: %w", err)
	}
	if len(identities) == 0 {
		return nil, fmt.Errorf("no identities in %s", s.privateKeyPath)
	}
	return &IdentityOpener{identity: identities[0]}, nil
}

// IdentityOpener holds an unlocked private key.
type IdentityOpener struct {
	identity age.Identity
}

var _ mentory.Opener = (*IdentityOpener)(nil)

func (o *IdentityOpener) Open(r io.Reader, w io.Writer) error {
	return decrypt(r, w, o.identity)
}

// PassphraseSealer seals and opens archives with a passphrase alone.
type PassphraseSealer struct {
	passphrase string
}

var (
	_ mentory.Sealer = (*PassphraseSealer)(nil)
	_ mentory.Opener = (*PassphraseSealer)(nil)
)

func NewPassphraseSealer(passphrase string) (*PassphraseSealer, error) {
	if passphrase == "" {
		return nil, fmt.Errorf("passphrase sealer: %w", mentory.ErrEmptyInput)
	}
	return &PassphraseSealer{passphrase: passphrase}, nil
}

func (s *PassphraseSealer) Seal(r io.Reader, w io.Writer) error {
	recipient, err := age.NewScryptRecipient(s.passphrase)
	if err != nil {
		return fmt.Errorf("creating scrypt recipient: %w", err)
	}
	return encrypt(r, w, recipient)
}

func (s *PassphraseSealer) Open(r io.Reader, w io.Writer) error {
	identity, err := age.NewScryptIdentity(s.passphrase)
	if err != nil {
		return fmt.Errorf("creating scrypt identity: %w", err)
	}
	return decrypt(r, w, identity)
}

func encrypt(r io.Reader, w io.Writer, recipient age.Recipient) error {
	ew, err := age.Encrypt(w, recipient)
	if err != nil {
		return fmt.Errorf("creating encrypted writer: %w", err)
	}
	if _, err := io.Copy(ew, r); err != nil {
		return fmt.Errorf("encrypting data: %w", err)
	}
	if err := ew.Close(); err != nil {
		return fmt.Errorf("finalizing encryption: %w", err)
	}
	return nil
}

func decrypt(r io.Reader, w io.Writer, identity age.Identity) error {
	dr, err := age.Decrypt(r, identity)
	if err != nil {
		return fmt.Errorf("creating decrypted reader: %w", err)
	}
	if _, err := io.Copy(w, dr); err != nil {
		return fmt.Errorf("decrypting data: %w", err)
	}
	return nil
}
