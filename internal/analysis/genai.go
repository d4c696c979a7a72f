package analysis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"

	"mentory-go/internal/mentory"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "gemini-2.5-flash-lite"

// GenAIGateway asks Google's Gemini API.
type GenAIGateway struct {
	client  *genai.Client
	model   string
	timeout time.Duration
	logger  mentory.Logger
}

// NewGenAIGateway creates a gateway for model. A zero timeout means the
// caller's context alone bounds each request.
func NewGenAIGateway(ctx context.Context, apiKey, model string, timeout time.Duration, logger mentory.Logger) (*GenAIGateway, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("GenAI API key is required")
	}
	if model == "" {
		model = DefaultModel
	}
	if logger == nil {
		logger = mentory.NewNopLogger()
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	return &GenAIGateway{client: client, model: model, timeout: timeout, logger: logger}, nil
}

// Ask sends question as a single user turn and returns the answer text.
func (g *GenAIGateway) Ask(ctx context.Context, question string) (string, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	g.logger.Debug("asking gateway", "model", g.model, "question_len", len(question))

	result, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(question), nil)
	if err != nil {
		g.logger.Warn("gateway request failed", "model", g.model, "error", err)
		return "", fmt.Errorf("%w: %v", ErrNetwork, err)
	}

	text := strings.TrimSpace(result.Text())
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

// Name returns the gateway name.
func (g *GenAIGateway) Name() string {
	return fmt.Sprintf("genai:%s", g.model)
}
