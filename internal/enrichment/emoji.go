package enrichment

import "strings"

// emotionEmoji maps a primary emotion to the single emoji a character with
// emoji decoration enabled may append. Kept deliberately small: the point of
// phase 7.6 is a light touch, not emoji-per-sentence decoration.
var emotionEmoji = map[string]string{
	"joy":          "😊",
	"love":         "❤️",
	"excitement":   "✨",
	"sadness":      "😔",
	"anger":        "😤",
	"fear":         "😟",
	"surprise":     "😲",
	"trust":        "🤝",
	"anticipation": "👀",
}

// EmojiDecorator is a pure string transform (phase 7.6): it appends at most
// one emotion-appropriate emoji to a bot response. It does not check any
// character's emoji policy; the orchestrator skips the call when the
// character's policy forbids emoji.
type EmojiDecorator struct{}

func (EmojiDecorator) Name() string { return "emoji_decoration" }

// Decorate appends the emoji for primaryEmotion to the trimmed response, if
// one exists. It does not check whether the response already ends with an
// emoji. On any failure case (empty response, unknown emotion) it returns the
// input unchanged, matching the spec's "failure -> unchanged response" policy.
func (EmojiDecorator) Decorate(response, primaryEmotion string) string {
	trimmed := strings.TrimSpace(response)
	if trimmed == "" {
		return response
	}
	emoji, ok := emotionEmoji[strings.ToLower(primaryEmotion)]
	if !ok {
		return response
	}
	return trimmed + " " + emoji
}
