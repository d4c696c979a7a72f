package vault

import (
	"context"
	"errors"
	"fmt"

	"mentory-go/internal/config"
	"mentory-go/internal/mentory"
)

// ErrArchiveNotFound is returned by GetArchive when nothing was stored.
var ErrArchiveNotFound = errors.New("archive not found")

// Vault is a configured backend with its name.
type Vault interface {
	mentory.Vault
	Name() string
}

// Environment variables holding static S3 credentials.
const (
	EnvS3AccessKeyID     = "MENTORY_S3_ACCESS_KEY_ID"
	EnvS3SecretAccessKey = "MENTORY_S3_SECRET_ACCESS_KEY"
)

// NewVaultFromConfig creates a Vault for the configured type.
func NewVaultFromConfig(ctx context.Context, cfg config.VaultConfig, getenv func(string) string) (Vault, error) {
	switch cfg.Type {
	case "memory":
		return NewMemoryVault(cfg.Name), nil
	case "filesystem":
		if cfg.FSVaultRoot == "" {
			return nil, fmt.Errorf("filesystem vault requires fs_vault_root to be set")
		}
		v, err := NewFileSystemVault(cfg.Name, cfg.FSVaultRoot)
		if err != nil {
			return nil, err
		}
		return v, nil
	case "s3":
		opts := S3Options{
			Name:     cfg.Name,
			Bucket:   cfg.S3Bucket,
			Prefix:   cfg.S3Prefix,
			Region:   cfg.S3Region,
			Endpoint: cfg.S3Endpoint,
		}
		if getenv != nil {
			opts.AccessKeyID = getenv(EnvS3AccessKeyID)
			opts.SecretAccessKey = getenv(EnvS3SecretAccessKey)
		}
		v, err := NewS3Vault(ctx, opts)
		if err != nil {
			return nil, err
		}
		return v, nil
	default:
		return nil, fmt.Errorf("unknown vault type: %s", cfg.Type)
	}
}
