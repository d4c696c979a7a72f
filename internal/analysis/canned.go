package analysis

import (
	"context"
	"encoding/json"
	"strings"

	"mentory-go/internal/model"
)

// CannedGateway answers without a network: journal entries are classified
// by keywords and mentor requests get a fixed line. Used offline and when
// no API key is configured.
type CannedGateway struct{}

var emotionKeywords = []struct {
	emotion  model.Emotion
	keywords []string
}{
	{model.EmotionScared, []string{"afraid", "scared", "anxious", "worried", "nervous", "fear"}},
	{model.EmotionSad, []string{"sad", "lonely", "tired", "cried", "lost", "down"}},
	{model.EmotionSurprised, []string{"surprised", "unexpected", "suddenly", "shocked", "wow"}},
	{model.EmotionHappy, []string{"happy", "glad", "great", "fun", "excited", "proud", "good"}},
}

var cannedSuggestions = map[model.Emotion][]string{
	model.EmotionScared:    {"Write down what exactly worries you", "Take five slow breaths"},
	model.EmotionSad:       {"Go for a short walk", "Message someone you trust"},
	model.EmotionSurprised: {"Note what changed today"},
	model.EmotionHappy:     {"Write down what made today good"},
	model.EmotionNeutral:   {"Plan one small thing to look forward to"},
}

const cannedMentorMessage = "Every entry you write is a step toward knowing yourself better."

func (CannedGateway) Ask(ctx context.Context, question string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	idx := strings.Index(question, entryMarker)
	if idx < 0 {
		return cannedMentorMessage, nil
	}
	entry := strings.ToLower(question[idx+len(entryMarker):])

	emotion := model.EmotionNeutral
	for _, ek := range emotionKeywords {
		if containsAny(entry, ek.keywords) {
			emotion = ek.emotion
			break
		}
	}

	answer, err := json.Marshal(verdict{
		Emotion:     string(emotion),
		Analysis:    "Thank you for writing today. It sounds like a " + string(emotion) + " day.",
		Suggestions: cannedSuggestions[emotion],
	})
	if err != nil {
		return "", err
	}
	return string(answer), nil
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}
