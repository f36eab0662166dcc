// Package enrichment implements the optional leaf enrichers the orchestrator
// invokes through one uniform interface rather than guarding each call site
// with a capability check: vision/image analysis, emoji decoration, and
// similar out-of-scope collaborators all plug in as an Enricher. The
// orchestrator holds one field per enricher (Vision, Emoji); a nil Vision
// means no vision enricher is configured.
package enrichment

import "context"

// Enricher is the uniform capability every optional pipeline add-on
// implements. Name identifies it for logging; it carries no other contract
// so vision description, emoji decoration, and future leaf enrichers can all
// satisfy it without a type switch in the orchestrator.
type Enricher interface {
	Name() string
}

// VisionAnalyzer is the external collaborator for phase 6: given an
// attachment reference it returns a natural-language description, which the
// orchestrator injects as a pseudo-memory component. The actual model call
// is out of scope for the core; only the interface is specified here.
type VisionAnalyzer interface {
	Enricher
	Describe(ctx context.Context, attachmentKind, attachmentURI string) (string, error)
}

// EmotionClassifier mirrors the external emotion analyzer contract (C2) for
// enrichers, such as decoration policies, that need the classified primary
// emotion without re-invoking the analyzer themselves.
type EmotionClassifier interface {
	Enricher
	Classify(primaryEmotion string) string
}
