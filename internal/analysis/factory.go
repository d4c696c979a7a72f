package analysis

import (
	"context"
	"fmt"
	"time"

	"mentory-go/internal/config"
	"mentory-go/internal/mentory"
)

// NewGatewayFromConfig creates a Gateway based on the analysis config type.
// getenv resolves the API key variable.
func NewGatewayFromConfig(ctx context.Context, cfg config.AnalysisConfig, timeout time.Duration, getenv func(string) string, logger mentory.Logger) (Gateway, error) {
	switch cfg.Type {
	case "genai":
		keyEnv := cfg.APIKeyEnv
		if keyEnv == "" {
			keyEnv = config.DefaultAPIKeyEnv
		}
		apiKey := getenv(keyEnv)
		if apiKey == "" {
			return nil, fmt.Errorf("%s is not set (required for analysis type genai)", keyEnv)
		}
		return NewGenAIGateway(ctx, apiKey, cfg.Model, timeout, logger)
	case "canned":
		return CannedGateway{}, nil
	default:
		return nil, fmt.Errorf("unknown analysis type: %s", cfg.Type)
	}
}
