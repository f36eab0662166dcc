package enrichment

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEmojiDecorator_Decorate_knownEmotion(t *testing.T) {
	d := EmojiDecorator{}
	out := d.Decorate("I'm so glad you're here", "joy")
	assert.True(t, strings.HasPrefix(out, "I'm so glad you're here"))
	assert.True(t, strings.HasSuffix(out, emotionEmoji["joy"]))
}

func TestEmojiDecorator_Decorate_unknownEmotionUnchanged(t *testing.T) {
	d := EmojiDecorator{}
	out := d.Decorate("Noted.", "boredom")
	assert.Equal(t, "Noted.", out)
}

func TestEmojiDecorator_Decorate_emptyResponseUnchanged(t *testing.T) {
	d := EmojiDecorator{}
	out := d.Decorate("   ", "joy")
	assert.Equal(t, "   ", out)
}

func TestEmojiDecorator_Name(t *testing.T) {
	assert.Equal(t, "emoji_decoration", EmojiDecorator{}.Name())
}
