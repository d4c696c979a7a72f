package analysis

import (
	"encoding/json"
	"strings"

	"mentory-go/internal/model"
)

// entryMarker separates instructions from the user's own words.
const entryMarker = "<<<ENTRY>>>"

var personas = map[model.Character]string{
	model.CharacterCool: "You are a calm, analytical mentor. You name the problem clearly and suggest concrete next steps.",
	model.CharacterWarm: "You are a warm, empathetic mentor. You acknowledge feelings first and encourage gently.",
}

func persona(character model.Character) string {
	if p, ok := personas[character]; ok {
		return p
	}
	return personas[model.CharacterCool]
}

func analysisPrompt(text string, character model.Character) string {
	emotions := make([]string, len(model.Emotions))
	for i, e := range model.Emotions {
		emotions[i] = string(e)
	}

	var b strings.Builder
	b.WriteString(persona(character))
	b.WriteString("\n\nRead the journal entry below and reply with JSON only, no prose, in this shape:\n")
	b.WriteString(`{"emotion": "<one of ` + strings.Join(emotions, ", ") + `>", "analysis": "<two or three sentences addressed to the writer>", "suggestions": ["<short action>", "..."]}`)
	b.WriteString("\nGive at most three suggestions.\n\n")
	b.WriteString(entryMarker)
	b.WriteString("\n")
	b.WriteString(text)
	return b.String()
}

func mentorPrompt(character model.Character) string {
	return persona(character) +
		"\n\nWrite one short encouraging message (at most two sentences) for someone keeping a daily mood journal. Reply with the message only."
}

// verdict is the JSON shape requested by analysisPrompt.
type verdict struct {
	Emotion     string   `json:"emotion"`
	Analysis    string   `json:"analysis"`
	Suggestions []string `json:"suggestions"`
}

// parseVerdict reads a model answer. Answers that are not JSON are kept as
// the analysis text with a neutral emotion; unknown emotions become neutral.
func parseVerdict(answer string) verdict {
	body := strings.TrimSpace(answer)
	body = strings.TrimPrefix(body, "```json")
	body = strings.TrimPrefix(body, "```")
	body = strings.TrimSuffix(body, "```")
	body = strings.TrimSpace(body)

	var v verdict
	if err := json.Unmarshal([]byte(body), &v); err != nil || strings.TrimSpace(v.Analysis) == "" {
		return verdict{Emotion: string(model.EmotionNeutral), Analysis: strings.TrimSpace(answer)}
	}

	if _, err := model.ParseEmotion(strings.ToLower(strings.TrimSpace(v.Emotion))); err != nil {
		v.Emotion = string(model.EmotionNeutral)
	} else {
		v.Emotion = strings.ToLower(strings.TrimSpace(v.Emotion))
	}
	v.Analysis = strings.TrimSpace(v.Analysis)

	suggestions := v.Suggestions[:0]
	for _, s := range v.Suggestions {
		if s = strings.TrimSpace(s); s != "" {
			suggestions = append(suggestions, s)
		}
	}
	v.Suggestions = suggestions
	return v
}
