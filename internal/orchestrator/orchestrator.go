// Package orchestrator implements C13: the phased state machine that turns
// an inbound Turn into a ProcessingResult, wiring C2 through C12 and the C14
// persistence fan-out with per-(user,character) serialization and a turn
// deadline.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kairos-ai/kairos-core/internal/character"
	"github.com/kairos-ai/kairos-core/internal/domain"
	"github.com/kairos-ai/kairos-core/internal/enrichment"
	"github.com/kairos-ai/kairos-core/internal/llm"
	"github.com/kairos-ai/kairos-core/internal/persistence"
	"github.com/kairos-ai/kairos-core/internal/promptbuilder"
	"github.com/kairos-ai/kairos-core/internal/relational"
	"github.com/kairos-ai/kairos-core/internal/relationship"
	"github.com/kairos-ai/kairos-core/internal/retriever"
	"github.com/kairos-ai/kairos-core/internal/router"
	"github.com/kairos-ai/kairos-core/internal/security"
	"github.com/kairos-ai/kairos-core/internal/timeseries"
	"github.com/kairos-ai/kairos-core/internal/trajectory"
	"github.com/kairos-ai/kairos-core/internal/vectorstore"
)

// ErrDegraded marks a turn that completed using partial intelligence because
// one or more stores failed; the response still renders.
var ErrDegraded = fmt.Errorf("orchestrator: completed in degraded mode")

// ErrTurnRejected marks a turn phase-1 security validation refused.
var ErrTurnRejected = fmt.Errorf("orchestrator: turn rejected by security validation")

// ErrStoreUnavailable marks a turn that could not proceed because a
// required store call failed outright.
var ErrStoreUnavailable = fmt.Errorf("orchestrator: required store unavailable")

// recentHistoryK bounds how many chronological conversation-kind points C9
// renders as alternating history messages, per spec §4.C9 step 6.
const recentHistoryK = 15

// Config carries the per-turn tunables threaded from environment config.
type Config struct {
	TurnDeadline     time.Duration
	ChatModel        string
	ExtractionModel  string
	CollectionPrefix string
	TokenBudget      int
	DedupPrefixChars int
	HalfLifeDays     float64
	EnableEmojiDecoration bool
}

// Orchestrator is C13.
type Orchestrator struct {
	Logger *zap.Logger
	Config Config

	Relational  relational.Store
	VectorStore vectorstore.Store
	TimeSeries  timeseries.Store

	EmotionAnalyzer llm.EmotionAnalyzer
	Embedder        llm.Embedder
	LLM             llm.LLMClient

	Retriever    *retriever.Retriever
	Character    *character.Integrator
	Relationship *relationship.Engine
	Trajectory   *trajectory.Analyzer
	Assembler    *promptbuilder.Assembler
	Persistence  *persistence.Coordinator

	// Vision is the optional phase-6 attachment describer; nil means no
	// attachment enrichment is configured, not an error.
	Vision enrichment.VisionAnalyzer
	Emoji  enrichment.EmojiDecorator

	pairLocks sync.Map // key: userID+"|"+characterID -> *sync.Mutex
}

func New(cfg Config, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{Logger: logger, Config: cfg}
}

func (o *Orchestrator) pairLock(userID, characterID string) *sync.Mutex {
	key := userID + "|" + characterID
	actual, _ := o.pairLocks.LoadOrStore(key, &sync.Mutex{})
	return actual.(*sync.Mutex)
}

// Process runs phases 0 through 12 for one inbound turn.
func (o *Orchestrator) Process(ctx context.Context, turn domain.Turn) (domain.ProcessingResult, error) {
	start := time.Now()

	// Phase 0: acquire the per-(user,character) lock so relationship/memory
	// writes for the same pair never race, and bound the whole turn by the
	// configured deadline.
	lock := o.pairLock(turn.UserID, turn.CharacterID)
	lock.Lock()
	defer lock.Unlock()

	deadline := o.Config.TurnDeadline
	if deadline <= 0 {
		deadline = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	bundle := domain.NewIntelligenceBundle()

	// Phase 1: security validation. A rejection short-circuits everything
	// downstream with a canned safe response.
	verdict := security.Validate(turn)
	bundle.SecurityVerdict = verdict
	if !verdict.Allowed {
		o.Logger.Warn("turn rejected by security validation", zap.String("reason", verdict.Reason))
		return domain.ProcessingResult{
			ResponseText:     security.SafeResponse,
			Success:          false,
			ProcessingTimeMs: time.Since(start).Milliseconds(),
			Metadata:         map[string]string{"rejected_reason": verdict.Reason},
		}, ErrTurnRejected
	}

	// Phase 2: user emotion analysis (C2), at most once per turn.
	userEmotion, err := o.EmotionAnalyzer.Analyze(ctx, turn.Content)
	if err != nil {
		o.Logger.Warn("emotion analyzer failed, continuing degraded", zap.Error(err))
		bundle.MarkDegraded("emotion")
	} else {
		bundle.UserEmotion = &userEmotion
	}

	// Phase 3: semantic routing (C7). Only the multi_modal intent dispatches
	// to router.Fuse's four-store fusion; the other four intents resolve
	// facts and memories independently in phase 4 below, since Fuse's own
	// Retrieve call would otherwise duplicate the intent-parameterized one.
	intent := router.Classify(turn.Content)

	var facts []domain.Fact
	var memories []retriever.RankedMemory
	var noPriorHistory bool

	if intent == router.IntentMultiModal {
		fusion, err := router.Fuse(ctx, o.Relational, o.Retriever, o.TimeSeries, turn.UserID, turn.CharacterID, turn.Content)
		if err != nil {
			o.Logger.Warn("knowledge fusion failed, continuing degraded", zap.Error(err))
			bundle.MarkDegraded("relational")
		}
		facts = fusion.Facts
		memories = fusion.Memories
		noPriorHistory = fusion.NoPriorHistory
	} else {
		facts, err = o.Relational.QueryFacts(ctx, relational.FactQuery{UserID: turn.UserID, CharacterID: turn.CharacterID, Limit: 10})
		if err != nil {
			o.Logger.Warn("fact query failed, continuing degraded", zap.Error(err))
			bundle.MarkDegraded("relational")
		}

		// Phase 4: direct memory retrieval (C8), parameterized by the
		// classified intent and the user's current emotion.
		result, err := o.Retriever.Retrieve(ctx, retriever.Request{
			UserID: turn.UserID, CharacterID: turn.CharacterID, Query: turn.Content,
			Intent: bridgeIntent(intent), UserEmotion: bundle.UserEmotion,
			CollectionPrefix: o.Config.CollectionPrefix, HalfLifeDays: o.Config.HalfLifeDays,
		})
		if err != nil || result.Degraded {
			bundle.MarkDegraded("vector")
		}
		memories = result.Memories
		noPriorHistory = result.NoPriorHistory
	}

	bundle.UserFacts = toUserFacts(facts)
	bundle.DetectedEntities = entityNames(facts)
	bundle.DetectedTopics = detectedTopics(facts, turn.Content)

	// Phase 5: relationship score read, with read-time decay toward neutral.
	score, err := o.Relationship.GetScores(ctx, turn.UserID, turn.CharacterID)
	if err != nil {
		o.Logger.Warn("relationship read failed, using defaults", zap.Error(err))
		bundle.MarkDegraded("relational")
		score = domain.DefaultRelationshipScore(turn.UserID, turn.CharacterID)
	}
	bundle.RelationshipState = relationship.State(score)

	// Phase 6: bot emotional trajectory (C12).
	collection := vectorstore.CollectionName(o.Config.CollectionPrefix, turn.CharacterID)
	traj, err := o.Trajectory.Analyze(ctx, collection, turn.UserID, turn.CharacterID)
	if err != nil {
		o.Logger.Warn("trajectory analysis failed", zap.Error(err))
	}
	bundle.BotEmotionalTrajectory = traj

	bundle.Confidence = computeConfidence(bundle)

	// Phase 6.5/6.7: character integration (C10) and prompt assembly (C9).
	characterComponents, err := o.Character.Integrate(ctx, turn.CharacterID, turn.Content, bundle)
	if err != nil {
		o.Logger.Error("character integration failed", zap.Error(err))
		return domain.ProcessingResult{Success: false, ProcessingTimeMs: time.Since(start).Milliseconds()}, fmt.Errorf("%w: character definition", ErrStoreUnavailable)
	}

	components := append(coreComponents(turn), characterComponents...)
	components = append(components, contextComponents(bundle, memories, noPriorHistory)...)

	// Phase 6: describe any attachments via the external vision collaborator
	// and fold the description in as a pseudo-memory component. A missing
	// Vision enricher or a failed call simply drops the attachment; the turn
	// proceeds on text alone.
	if o.Vision != nil {
		if desc := o.describeAttachments(ctx, turn); desc != "" {
			components = append(components, promptbuilder.Component{
				Kind: promptbuilder.KindMemoryNarrative, Priority: 17, Content: desc,
				TokenEstimate: estimateTokens(desc),
			})
		}
	}

	history := o.fetchHistory(ctx, collection, turn.UserID)
	assembled := o.Assembler.Assemble(components, history, turn.Content)

	// Deadline expiration before phase 7 starts aborts the turn with a
	// user-visible timeout response rather than attempting the completion.
	if deadlineRemaining(ctx) <= 0 {
		return domain.ProcessingResult{
			ResponseText: security.TimeoutResponse, Success: false,
			ProcessingTimeMs: time.Since(start).Milliseconds(),
		}, fmt.Errorf("orchestrator: deadline expired before completion")
	}

	// Phase 7: LLM completion, with a single retry on a retryable error. A
	// second failure degrades to a canned apology rather than aborting the
	// turn; phases 9-11 still run so the attempt is remembered.
	var llmFailed bool
	completion, err := o.completeWithRetry(ctx, assembled.Messages)
	if err != nil {
		o.Logger.Error("llm completion failed", zap.Error(err))
		llmFailed = true
		completion.Text = security.ApologyResponse
		bundle.MarkDegraded("llm")
	}

	// Phase 7.5: bot emotion analysis over the generated response.
	var botEmotion domain.EmotionRecord
	if !llmFailed {
		botEmotion, err = o.EmotionAnalyzer.Analyze(ctx, completion.Text)
		if err != nil {
			o.Logger.Warn("bot emotion analysis failed", zap.Error(err))
		} else {
			bundle.BotEmotion = &botEmotion
		}
	}

	responseText := completion.Text

	// Phase 7.6: optional emoji decoration, a pure string transform. Gated on
	// both the global toggle and the character's own EmojiPolicy, so a
	// character declared "never"/"disabled" is never decorated regardless of
	// EnableEmojiDecoration. Failure (none possible here beyond an empty
	// response) leaves the text unchanged per the spec's failure policy for
	// this phase.
	if o.Config.EnableEmojiDecoration && bundle.BotEmotion != nil && o.Character.EmojiAllowed(ctx, turn.CharacterID) {
		responseText = o.Emoji.Decorate(responseText, bundle.BotEmotion.PrimaryEmotion)
	}

	// Phase 8: validate the response. A detected recursive-repeat loop
	// triggers one regeneration attempt; anything else (truncation) is
	// applied in place.
	outcome := enrichment.ValidateResponse(responseText)
	if outcome.Regenerated {
		retry, err := o.LLM.Complete(ctx, assembled.Messages, o.Config.ChatModel, 0.8, 800)
		if err == nil {
			outcome = enrichment.ValidateResponse(retry.Text)
		}
	}
	responseText = outcome.Text

	// Response-side confidence is folded back in now that the bot's own
	// emotion record is available.
	bundle.Confidence = computeConfidence(bundle)

	// Phases 9-11: best-effort past this point. If the deadline has already
	// passed, these still run but on a short grace context rather than
	// blocking the caller further.
	remaining := deadlineRemaining(ctx)
	postCtx := ctx
	if remaining <= 0 {
		var postCancel context.CancelFunc
		postCtx, postCancel = context.WithTimeout(context.Background(), 5*time.Second)
		defer postCancel()
	}

	// Phase 9: fan-out commit to C4/C5/C6.
	report := o.Persistence.Commit(postCtx, turn, bundle, responseText, bundle.Confidence)
	if report.VectorWriteErr != nil {
		o.Logger.Error("memory persistence failed", zap.Error(report.VectorWriteErr))
	}
	if report.FactErr != nil {
		o.Logger.Warn("fact extraction failed", zap.Error(report.FactErr))
	}
	if report.MetricErr != nil {
		o.Logger.Warn("metric write failed", zap.Error(report.MetricErr))
	}

	// Phase 10: content-addressed episodic write, isolated from phase 9.
	if err := o.Persistence.WriteEpisodic(postCtx, turn, bundle, responseText); err != nil {
		o.Logger.Warn("episodic write failed", zap.Error(err))
	}

	// Phase 11: relationship update. A failed bot emotion analysis (phase 7.5)
	// leaves BotEmotion nil; the engine treats that as neutral sentiment
	// rather than skipping the update outright.
	if bundle.UserEmotion != nil {
		var botEmotionForUpdate domain.EmotionRecord
		if bundle.BotEmotion != nil {
			botEmotionForUpdate = *bundle.BotEmotion
		}
		if _, err := o.Relationship.Update(postCtx, turn.UserID, turn.CharacterID, *bundle.UserEmotion, botEmotionForUpdate, bundle.Confidence, responseText); err != nil {
			o.Logger.Warn("relationship update failed", zap.Error(err))
		}
	}

	// Phase 12: the bundle is discarded here; nothing downstream sees it.
	result := domain.ProcessingResult{
		ResponseText:     responseText,
		Success:          !llmFailed,
		ProcessingTimeMs: time.Since(start).Milliseconds(),
		Metadata: map[string]string{
			"intent": string(intent),
		},
	}

	if len(bundle.Degraded) > 0 {
		return result, ErrDegraded
	}
	return result, nil
}

func deadlineRemaining(ctx context.Context) time.Duration {
	dl, ok := ctx.Deadline()
	if !ok {
		return time.Hour
	}
	return time.Until(dl)
}

func (o *Orchestrator) completeWithRetry(ctx context.Context, messages []llm.Message) (llm.CompletionResult, error) {
	result, err := o.LLM.Complete(ctx, messages, o.Config.ChatModel, 0.8, 800)
	if err == nil {
		return result, nil
	}
	if !isRetryable(err) {
		return result, err
	}
	return o.LLM.Complete(ctx, messages, o.Config.ChatModel, 0.8, 800)
}

func isRetryable(err error) bool {
	var re *llm.RetryableError
	return errors.As(err, &re)
}

// describeAttachments calls the vision collaborator for each attachment on
// the turn and joins the resulting descriptions into one pseudo-memory
// paragraph. A failure on any single attachment drops that attachment;
// failure on all of them yields an empty string, which the caller treats as
// "no vision component this turn".
func (o *Orchestrator) describeAttachments(ctx context.Context, turn domain.Turn) string {
	if len(turn.Attachments) == 0 {
		return ""
	}
	var descriptions []string
	for _, a := range turn.Attachments {
		desc, err := o.Vision.Describe(ctx, a.Kind, a.URI)
		if err != nil || desc == "" {
			continue
		}
		descriptions = append(descriptions, desc)
	}
	if len(descriptions) == 0 {
		return ""
	}
	return "The user shared: " + strings.Join(descriptions, "; ")
}

// fetchHistory pulls the most recent conversation-kind points for this user
// via C4.Scroll and renders them as chronological user/assistant pairs for
// C9's alternating RECENT_HISTORY messages. Scroll returns newest-first, so
// the result is walked in reverse to restore chronological order; episodic
// points (phase 10's content-addressed writes) are not conversation turns
// and are skipped. A Scroll failure degrades to no history rather than
// aborting the turn.
func (o *Orchestrator) fetchHistory(ctx context.Context, collection, userID string) []promptbuilder.HistoryTurn {
	points, err := o.VectorStore.Scroll(ctx, collection, vectorstore.Filters{UserID: userID}, recentHistoryK)
	if err != nil {
		o.Logger.Warn("history scroll failed, continuing without history", zap.Error(err))
		return nil
	}
	history := make([]promptbuilder.HistoryTurn, 0, len(points))
	for i := len(points) - 1; i >= 0; i-- {
		p := points[i].Payload
		if p.Kind != domain.MemoryKindConversation {
			continue
		}
		history = append(history, promptbuilder.HistoryTurn{UserContent: p.Content, BotContent: p.BotResponse})
	}
	return history
}

// bridgeIntent maps the router's five-way classification onto the
// retriever's narrower two-valued intent, which only distinguishes the cases
// that change named-vector selection.
func bridgeIntent(intent router.Intent) retriever.Intent {
	switch intent {
	case router.IntentConversationStyle:
		return retriever.IntentConversationStyle
	case router.IntentFactualRecall:
		return retriever.IntentFactualRecall
	default:
		return retriever.Intent("")
	}
}

func toUserFacts(facts []domain.Fact) []domain.UserFact {
	out := make([]domain.UserFact, 0, len(facts))
	for _, f := range facts {
		out = append(out, domain.UserFact{
			EntityName: f.EntityName, EntityType: f.EntityType,
			RelationshipType: f.RelationshipType, Confidence: f.Confidence,
			LastMentioned: f.LastMentioned, TemporalWeight: f.TemporalWeight,
		})
	}
	return out
}

func entityNames(facts []domain.Fact) []string {
	names := make([]string, 0, len(facts))
	for _, f := range facts {
		names = append(names, f.EntityName)
	}
	return names
}

func detectedTopics(facts []domain.Fact, query string) []string {
	if len(facts) > 0 {
		return []string{facts[0].EntityName}
	}
	words := strings.Fields(strings.ToLower(query))
	if len(words) > 0 {
		return []string{words[0]}
	}
	return nil
}

// computeConfidence derives the three confidence signals carried in the
// bundle from whatever intelligence was actually gathered this turn.
func computeConfidence(bundle *domain.IntelligenceBundle) domain.Confidence {
	contextScore := 1.0
	if bundle.Degraded["relational"] || bundle.Degraded["vector"] {
		contextScore = 0.5
	}

	emotional := 0.5
	if bundle.UserEmotion != nil {
		emotional = bundle.UserEmotion.Confidence
	}

	overall := (contextScore + emotional) / 2
	return domain.Confidence{Overall: overall, Context: contextScore, Emotional: emotional}
}
