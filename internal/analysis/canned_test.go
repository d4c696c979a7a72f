package analysis

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mentory-go/internal/config"
	"mentory-go/internal/model"
)

func TestCannedGateway_ClassifiesEntries(t *testing.T) {
	tests := []struct {
		entry string
		want  model.Emotion
	}{
		{"Got a promotion, so happy!", model.EmotionHappy},
		{"I feel lonely tonight", model.EmotionSad},
		{"Suddenly the lights went out", model.EmotionSurprised},
		{"I'm worried about tomorrow", model.EmotionScared},
		{"Bought groceries", model.EmotionNeutral},
	}

	for _, tt := range tests {
		t.Run(tt.entry, func(t *testing.T) {
			answer, err := CannedGateway{}.Ask(context.Background(), analysisPrompt(tt.entry, model.CharacterCool))
			require.NoError(t, err)

			v := parseVerdict(answer)
			assert.Equal(t, string(tt.want), v.Emotion)
			assert.NotEmpty(t, v.Analysis)
		})
	}
}

func TestCannedGateway_MentorRequest(t *testing.T) {
	answer, err := CannedGateway{}.Ask(context.Background(), mentorPrompt(model.CharacterWarm))
	require.NoError(t, err)
	assert.Equal(t, cannedMentorMessage, answer)
}

func TestNewGatewayFromConfig(t *testing.T) {
	ctx := context.Background()
	noEnv := func(string) string { return "" }

	t.Run("canned", func(t *testing.T) {
		g, err := NewGatewayFromConfig(ctx, config.AnalysisConfig{Type: "canned"}, 0, noEnv, nil)
		require.NoError(t, err)
		assert.IsType(t, CannedGateway{}, g)
	})

	t.Run("genai without key", func(t *testing.T) {
		_, err := NewGatewayFromConfig(ctx, config.AnalysisConfig{Type: "genai"}, 0, noEnv, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), config.DefaultAPIKeyEnv)
	})

	t.Run("genai with key", func(t *testing.T) {
		env := func(k string) string {
			if k == "MY_KEY" {
				return "test-key"
			}
			return ""
		}
		g, err := NewGatewayFromConfig(ctx, config.AnalysisConfig{Type: "genai", APIKeyEnv: "MY_KEY"}, 0, env, nil)
		require.NoError(t, err)
		require.IsType(t, &GenAIGateway{}, g)
		assert.Equal(t, "genai:"+DefaultModel, g.(*GenAIGateway).Name())
	})

	t.Run("unknown", func(t *testing.T) {
		_, err := NewGatewayFromConfig(ctx, config.AnalysisConfig{Type: "oracle"}, 0, noEnv, nil)
		assert.Error(t, err)
	})
}
