package encryption

import (
	"fmt"

	"mentory-go/internal/config"
	"mentory-go/internal/mentory"
)

// PassphraseFunc asks the user for a passphrase.
type PassphraseFunc func(prompt string) (string, error)

// NewSealerFromConfig returns the sealer used for backups. Sealing never
// prompts: the passphrase type reads its passphrase from the environment.
func NewSealerFromConfig(cfg config.EncryptionConfig, getenv func(string) string) (mentory.Sealer, error) {
	switch cfg.Type {
	case "age", "":
		return NewKeyPairSealer(cfg), nil
	case "passphrase":
		passphrase := envPassphrase(cfg, getenv)
		if passphrase == "" {
			return nil, fmt.Errorf("passphrase encryption requires $%s to be set", cfg.PassphraseEnv)
		}
		sealer, err := NewPassphraseSealer(passphrase)
		if err != nil {
			return nil, err
		}
		return sealer, nil
	case "none":
		return PlainSealer{}, nil
	default:
		return nil, fmt.Errorf("unknown encryption type: %q", cfg.Type)
	}
}

// NewOpenerFromConfig returns the opener used for restores, asking for a
// passphrase when the configuration needs one.
func NewOpenerFromConfig(cfg config.EncryptionConfig, getenv func(string) string, ask PassphraseFunc) (mentory.Opener, error) {
	switch cfg.Type {
	case "age", "":
		passphrase, err := ask("Key passphrase: ")
		if err != nil {
			return nil, err
		}
		opener, err := NewKeyPairSealer(cfg).Unlock(passphrase)
		if err != nil {
			return nil, err
		}
		return opener, nil
	case "passphrase":
		passphrase := envPassphrase(cfg, getenv)
		if passphrase == "" {
			var err error
			if passphrase, err = ask("Backup passphrase: "); err != nil {
				return nil, err
			}
		}
		sealer, err := NewPassphraseSealer(passphrase)
		if err != nil {
			return nil, err
		}
		return sealer, nil
	case "none":
		return PlainSealer{}, nil
	default:
		return nil, fmt.Errorf("unknown encryption type: %q", cfg.Type)
	}
}

func envPassphrase(cfg config.EncryptionConfig, getenv func(string) string) string {
	if cfg.PassphraseEnv == "" || getenv == nil {
		return ""
	}
	return getenv(cfg.PassphraseEnv)
}
