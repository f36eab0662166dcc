package enrichment

import "strings"

const (
	// maxResponseChars is the hard length cap from phase 8; responses over
	// this are truncated rather than regenerated, since a second LLM round
	// trip is reserved for the repeat-detection case below.
	maxResponseChars = 4000

	// repeatWindow is how many trailing words are compared against the
	// preceding window of equal size when checking for recursive repetition.
	repeatWindow = 8
)

var bannedTokens = []string{
	"<|im_start|>", "<|im_end|>", "[SYSTEM]", "###INSTRUCTION###",
}

// ValidationOutcome reports what phase 8 found and what it did about it.
type ValidationOutcome struct {
	Text        string
	Truncated   bool
	Regenerated bool
	Reason      string
}

// ValidateResponse applies phase 8's checks in order: banned-token scrubbing,
// recursive-repeat detection, then length capping. A caller that sees
// Regenerated=true should re-run the LLM call once; this function only
// detects the condition; the orchestrator owns the retry.
func ValidateResponse(text string) ValidationOutcome {
	cleaned := stripBannedTokens(text)

	if isRecursiveRepeat(cleaned) {
		return ValidationOutcome{Text: cleaned, Regenerated: true, Reason: "recursive repeat detected"}
	}

	if len(cleaned) > maxResponseChars {
		return ValidationOutcome{Text: cleaned[:maxResponseChars], Truncated: true, Reason: "length cap exceeded"}
	}

	return ValidationOutcome{Text: cleaned}
}

func stripBannedTokens(text string) string {
	out := text
	for _, tok := range bannedTokens {
		out = strings.ReplaceAll(out, tok, "")
	}
	return out
}

// isRecursiveRepeat flags a response whose final repeatWindow words exactly
// repeat the repeatWindow words immediately before them, the signature of a
// model stuck in a generation loop.
func isRecursiveRepeat(text string) bool {
	words := strings.Fields(text)
	if len(words) < repeatWindow*2 {
		return false
	}
	n := len(words)
	tail := words[n-repeatWindow:]
	prior := words[n-2*repeatWindow : n-repeatWindow]
	for i := range tail {
		if !strings.EqualFold(tail[i], prior[i]) {
			return false
		}
	}
	return true
}
