// Package security implements phase 1 turn validation: a deny-list and
// pattern check that short-circuits the pipeline with a canned response
// before any store or LLM call is made.
package security

import (
	"regexp"
	"strings"

	"github.com/kairos-ai/kairos-core/internal/domain"
)

var denyPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)ignore (all )?(previous|prior|above) instructions`),
	regexp.MustCompile(`(?i)system prompt`),
	regexp.MustCompile(`(?i)you are now`),
	regexp.MustCompile(`(?i)\bDAN\b`),
	regexp.MustCompile(`(?i)reveal your (instructions|prompt|system message)`),
}

var denyWords = []string{"<script", "javascript:", "drop table", "rm -rf"}

// Three canned user-visible templates (§7): none of them leak stack traces,
// store identities, or model names.
const (
	// SafeResponse is returned whenever Validate rejects a turn.
	SafeResponse = "I can't help with that request."

	// ApologyResponse is returned when the LLM completion fails even after
	// the phase-7 retry; the turn still runs phases 9-11 so the attempt is
	// remembered.
	ApologyResponse = "Sorry, I'm having trouble finding the right words right now. Could you try again in a moment?"

	// TimeoutResponse is returned when the turn's deadline expires before
	// phase 7 can start.
	TimeoutResponse = "That's taking longer than expected. Please try again shortly."
)

// Validate runs the deny-list/pattern check over a turn's content.
func Validate(turn domain.Turn) domain.SecurityVerdict {
	lower := strings.ToLower(turn.Content)
	for _, w := range denyWords {
		if strings.Contains(lower, w) {
			return domain.SecurityVerdict{Allowed: false, Reason: "denylisted content"}
		}
	}
	for _, pat := range denyPatterns {
		if pat.MatchString(turn.Content) {
			return domain.SecurityVerdict{Allowed: false, Reason: "prompt injection pattern"}
		}
	}
	return domain.SecurityVerdict{Allowed: true}
}
