package model

import "time"

// Tier is a memory record's durability class.
type Tier string

const (
	TierEphemeral Tier = "ephemeral"
	TierShortTerm Tier = "short_term"
	TierLongTerm  Tier = "long_term"
)

// Weight returns the relevance weight used by retrieval scoring.
func (t Tier) Weight() float64 {
	switch t {
	case TierLongTerm:
		return 1.0
	case TierShortTerm:
		return 0.7
	default:
		return 0.4
	}
}

// Valid reports whether t is one of the known tiers.
func (t Tier) Valid() bool {
	return t == TierEphemeral || t == TierShortTerm || t == TierLongTerm
}

// Source describes how a memory record was obtained.
type Source string

const (
	SourceExplicit Source = "explicit"
	SourceInferred Source = "inferred"
	SourceSystem   Source = "system"
)

// Priority derives the conflict rank from the source. It is always recomputed,
// never stored independently: explicit user statements outrank inferences,
// which outrank system notes.
func (s Source) Priority() int {
	switch s {
	case SourceExplicit:
		return 2
	case SourceInferred:
		return 1
	default:
		return 0
	}
}

// MemoryRecord is a durable keyed fact about a user.
type MemoryRecord struct {
	ID               string                 `json:"id"`
	OwnerID          string                 `json:"ownerId"`
	Tier             Tier                   `json:"tier"`
	Key              string                 `json:"key"`
	Value            map[string]interface{} `json:"value"`
	Source           Source                 `json:"source"`
	Confidence       float64                `json:"confidence"`
	TTL              *time.Time             `json:"ttl,omitempty"`
	Topics           []string               `json:"topics"`
	IsPII            bool                   `json:"isPii"`
	ConflictPriority int                    `json:"conflictPriority"`
	CreatedAt        time.Time              `json:"createdAt"`
	UpdatedAt        time.Time              `json:"updatedAt"`
}

// MemoryQuery captures filters used when listing memory records.
type MemoryQuery struct {
	OwnerID       string
	Tier          Tier
	Topics        []string
	MinConfidence float64
	Limit         int
}

// Intent classifies the inbound message for the clarification engine.
type Intent string

const (
	IntentFoodQuestion Intent = "food_question"
	IntentMealLogging  Intent = "meal_logging"
)

// ClarificationState is the pending single-flight ambiguity state for a session.
type ClarificationState struct {
	SessionID             string    `json:"sessionId"`
	OriginalMessage       string    `json:"originalMessage"`
	OriginalIntent        Intent    `json:"originalIntent"`
	ClarificationQuestion string    `json:"clarificationQuestion"`
	Timestamp             time.Time `json:"timestamp"`
}

// DietaryFilterRule is a configured dietary gate. Read-only from the
// pipeline's perspective; owned by configuration tooling.
type DietaryFilterRule struct {
	ID                   string                 `json:"id"`
	Type                 string                 `json:"type"`
	Condition            map[string]interface{} `json:"condition"`
	AnnotationTemplate   string                 `json:"annotationTemplate"`
	SubstitutionTemplate string                 `json:"substitutionTemplate"`
	Enabled              bool                   `json:"enabled"`
}

// UserDietaryPreference holds one user's dietary profile.
type UserDietaryPreference struct {
	OwnerID               string                 `json:"ownerId"`
	DietType              string                 `json:"dietType"`
	MacroOverrides        map[string]interface{} `json:"macroOverrides"`
	Allergens             []string               `json:"allergens"`
	ReligiousRestrictions []string               `json:"religiousRestrictions"`
}

// DefaultPreference is the neutral profile used when no row exists for a user.
func DefaultPreference(ownerID string) UserDietaryPreference {
	return UserDietaryPreference{
		OwnerID:               ownerID,
		DietType:              "balanced",
		MacroOverrides:        map[string]interface{}{},
		Allergens:             []string{},
		ReligiousRestrictions: []string{},
	}
}

// Severity ranks an issue or annotation.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Issue is a problem attached to a response during filtering.
type Issue struct {
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
	Field    string   `json:"field,omitempty"`
}

// Annotation marks a payload field with a severity-ranked message.
type Annotation struct {
	Field    string   `json:"field"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
}

// Substitution suggests replacing one item with another.
type Substitution struct {
	Original  string `json:"original"`
	Suggested string `json:"suggested"`
	Reason    string `json:"reason"`
}

// FilterResult is the combined output of the dietary filter pipeline.
type FilterResult struct {
	Annotations   []Annotation   `json:"annotations"`
	Substitutions []Substitution `json:"substitutions"`
	Warnings      []string       `json:"warnings"`
}

// Merge appends other's results after r's, preserving unit order.
func (r *FilterResult) Merge(other FilterResult) {
	r.Annotations = append(r.Annotations, other.Annotations...)
	r.Substitutions = append(r.Substitutions, other.Substitutions...)
	r.Warnings = append(r.Warnings, other.Warnings...)
}

// Tone selects the persona suffix appended at rendering time.
type Tone string

const (
	ToneEmpathetic   Tone = "empathetic"
	ToneMotivational Tone = "motivational"
	ToneFactual      Tone = "factual"
	ToneCasual       Tone = "casual"
)

// ResponseObject is a single answer fragment produced by the generation step.
// FilterPipeline appends issues; the renderer reads and never mutates Payload.
type ResponseObject struct {
	Type            string                 `json:"type"`
	Payload         map[string]interface{} `json:"payload"`
	ProtectedFields []string               `json:"protectedFields"`
	Issues          []Issue                `json:"issues"`
	SuggestedTone   Tone                   `json:"suggestedTone,omitempty"`
	Followups       []string               `json:"followups"`
}
