// Package clarify implements the session-scoped clarification state machine:
// ambiguous food requests are detected and resolved with the user before the
// pipeline commits to an answer. States move NONE -> PENDING -> MERGED, or
// are dropped as EXPIRED by the background sweeper.
package clarify

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/nutrimind/coach-core/internal/completion"
	"github.com/nutrimind/coach-core/internal/model"
)

// precheckConfidence is the fixed confidence for deterministic detections.
const precheckConfidence = 0.85

// fallbackConfidence is reported when the LLM path fails and the engine
// proceeds without clarification.
const fallbackConfidence = 0.7

// Result is the outcome of a clarification check.
type Result struct {
	NeedsClarification    bool    `json:"needsClarification"`
	ClarificationQuestion string  `json:"clarificationQuestion,omitempty"`
	Confidence            float64 `json:"confidence"`
	Reasoning             string  `json:"reasoning,omitempty"`
}

// Engine runs the two-stage ambiguity check and the merge step.
type Engine struct {
	sessions SessionStore
	llm      completion.Client
	log      zerolog.Logger
	now      func() time.Time
}

func NewEngine(sessions SessionStore, llm completion.Client, log zerolog.Logger) *Engine {
	return &Engine{sessions: sessions, llm: llm, log: log, now: time.Now}
}

// Check determines whether the message needs clarification before processing.
// Stage 1 is the deterministic branded-item pre-check; stage 2 asks the
// text-completion service. Any failure on the LLM path fails open: the user
// is never blocked on clarification.
func (e *Engine) Check(ctx context.Context, sessionID, message string, intent model.Intent) Result {
	if intent != model.IntentFoodQuestion && intent != model.IntentMealLogging {
		return Result{NeedsClarification: false, Confidence: 1.0}
	}

	if q, ok := detectBrandedItems(message); ok {
		e.log.Debug().Str("session_id", sessionID).Msg("pre-check detected branded item")
		res := Result{
			NeedsClarification:    true,
			ClarificationQuestion: q,
			Confidence:            precheckConfidence,
			Reasoning:             "branded fast-food item detected without brand context",
		}
		e.storeState(ctx, sessionID, message, intent, q)
		return res
	}

	res := e.llmCheck(ctx, message, intent)
	if res.NeedsClarification && res.ClarificationQuestion != "" {
		e.storeState(ctx, sessionID, message, intent, res.ClarificationQuestion)
	}
	return res
}

// Pending returns the stored clarification state for a session, if any.
func (e *Engine) Pending(ctx context.Context, sessionID string) (*model.ClarificationState, bool) {
	st, err := e.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, false
	}
	return st, true
}

// Clear drops the pending state for a session.
func (e *Engine) Clear(ctx context.Context, sessionID string) {
	if err := e.sessions.Delete(ctx, sessionID); err != nil {
		e.log.Warn().Err(err).Str("session_id", sessionID).Msg("clear clarification state")
	}
}

func (e *Engine) storeState(ctx context.Context, sessionID, message string, intent model.Intent, question string) {
	// New state overwrites any stale one for the session: single-flight.
	st := &model.ClarificationState{
		SessionID:             sessionID,
		OriginalMessage:       message,
		OriginalIntent:        intent,
		ClarificationQuestion: question,
		Timestamp:             e.now(),
	}
	if err := e.sessions.Put(ctx, st); err != nil {
		e.log.Error().Err(err).Str("session_id", sessionID).Msg("store clarification state")
		return
	}
	e.log.Debug().Str("session_id", sessionID).Msg("stored clarification state")
}

// detectBrandedItems is the deterministic pre-check. It returns the combined
// clarification question when the message contains ambiguous branded items
// without explicit brand wording.
func detectBrandedItems(message string) (string, bool) {
	if brandContextPattern.MatchString(message) {
		return "", false
	}

	type hit struct {
		item ambiguousItem
		pos  int
	}
	var hits []hit
	for _, it := range ambiguousItems {
		if loc := it.Pattern.FindStringIndex(message); loc != nil {
			hits = append(hits, hit{item: it, pos: loc[0]})
		}
	}
	if len(hits) == 0 {
		return "", false
	}
	// Items are named in order of appearance in the message.
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].pos < hits[j].pos })

	names := make([]string, len(hits))
	for i, h := range hits {
		names[i] = h.item.Name
	}

	// One-shot brand inference: an anchor pins the brand for every ambiguous
	// companion, so a single confirmation covers them all. First matching
	// anchor wins.
	for _, a := range brandAnchors {
		if a.Pattern.MatchString(message) {
			return fmt.Sprintf("Looks like %s. Are the %s from %s too?",
				a.Label, strings.Join(names, " and "), a.Label), true
		}
	}

	if len(hits) > 1 {
		return fmt.Sprintf("Are those %s from %s, or from another restaurant?",
			strings.Join(names, ", "), brandLabel(hits[0].item.DefaultBrand)), true
	}

	return hits[0].item.SingleQuestion, true
}

const detectSystemPrompt = `You are Pat, a precise and conversational nutrition assistant. Review the user's food-related message and decide if clarification is needed before logging or answering.

Clarification IS needed for:
- Branded or fast-food items without clear brand context (nuggets, fries, combo, meal)
- Ambiguous food names ("milk" without type, "bread" without kind)
- Unclear portion sizes ("a bowl" without bowl size)
- Mixed dishes without details ("sandwich" without contents)

Clarification is NOT needed for:
- Specific foods with brand context ("McDonald's Big Mac", "Starbucks grande latte")
- Specific whole foods ("3 large eggs", "10 oz ribeye steak")
- Uniquely branded foods ("Big Mac" is uniquely McDonald's)

If clarification is needed, ask ONE clear, conversational question.

Respond in JSON only:
{"needsClarification": boolean, "clarificationQuestion": string or null, "confidence": number, "reasoning": string}`

func (e *Engine) llmCheck(ctx context.Context, message string, intent model.Intent) Result {
	user := fmt.Sprintf("User message: %q\nIntent: %s", message, intent)
	raw, err := e.complete(ctx, detectSystemPrompt, user, 0.3)
	if err != nil {
		e.log.Warn().Err(err).Msg("clarification check failed, proceeding without clarification")
		return Result{NeedsClarification: false, Confidence: fallbackConfidence}
	}

	var res Result
	if err := json.Unmarshal([]byte(completion.StripFences(raw)), &res); err != nil {
		e.log.Warn().Err(err).Msg("clarification response not parseable, proceeding without clarification")
		return Result{NeedsClarification: false, Confidence: fallbackConfidence}
	}
	if res.Confidence == 0 {
		res.Confidence = fallbackConfidence
	}
	return res
}

// brandInferencePattern spots one-shot brand inference questions so the merge
// prompt can tell the model to propagate the brand onto every ambiguous item.
var brandInferencePattern = regexp.MustCompile(`(?i)\b(looks?\s+like|are\s+the|from\s+.*\s+too)\b`)

const mergePromptHeader = `You are helping merge a meal logging request with clarification.

Original message: %q
Clarification asked: %q
User's response: %q

%s
Return ONLY the merged message, no explanation.

Examples:
- Original: "I ate a big mac, 10pc nuggets, large fries"
- Clarification: "Looks like McDonald's. Are the nuggets and fries from McDonald's too?"
- User: "Yes"
- Merged: "I ate a McDonald's Big Mac, 10pc McDonald's Chicken McNuggets, McDonald's large fries"

- Original: "I ate a big mac"
- Clarification: "Are you asking about McDonald's Big Mac?"
- User: "Yes"
- Merged: "I ate a McDonald's Big Mac"

Return the merged message:`

const mergeBrandInference = `This is a brand inference question. If the user confirmed (e.g., "yes", "correct", "that's right", "yep"), add the brand name to ALL ambiguous items in the original message that don't already have a brand.
`

const mergeGeneric = `If the user confirmed (e.g., "yes", "correct", "that's right"), merge the clarification details into the original message. If the user provided new details, incorporate them.
`

// Resolve merges the user's reply into the original message and consumes the
// pending state (PENDING -> MERGED). A failed merge returns the original
// message unchanged.
func (e *Engine) Resolve(ctx context.Context, st *model.ClarificationState, userResponse string) string {
	defer e.Clear(ctx, st.SessionID)

	guidance := mergeGeneric
	if brandInferencePattern.MatchString(st.ClarificationQuestion) {
		guidance = mergeBrandInference
	}
	prompt := fmt.Sprintf(mergePromptHeader, st.OriginalMessage, st.ClarificationQuestion, userResponse, guidance)

	raw, err := e.complete(ctx, prompt, userResponse, 0.2)
	if err != nil {
		e.log.Warn().Err(err).Str("session_id", st.SessionID).Msg("merge failed, using original message")
		return st.OriginalMessage
	}
	merged := strings.TrimSpace(raw)
	if merged == "" {
		return st.OriginalMessage
	}
	merged = stripWrappingQuotes(merged)
	e.log.Debug().
		Str("session_id", st.SessionID).
		Str("merged", merged).
		Msg("merged clarification response")
	return merged
}

func (e *Engine) complete(ctx context.Context, system, user string, temperature float64) (string, error) {
	if tc, ok := e.llm.(completion.TunableClient); ok {
		return tc.CompleteWith(ctx, system, user, completion.Options{Temperature: temperature})
	}
	return e.llm.Complete(ctx, system, user)
}

func stripWrappingQuotes(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}
