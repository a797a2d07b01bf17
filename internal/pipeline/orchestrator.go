// Package pipeline sequences a conversational turn: clarification, memory
// retrieval, application handling, dietary filtering, rendering. The
// orchestrator owns no business logic of its own. Every enrichment stage
// fails open so a turn always produces a reply.
package pipeline

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/nutrimind/coach-core/internal/clarify"
	"github.com/nutrimind/coach-core/internal/filter"
	"github.com/nutrimind/coach-core/internal/memory"
	"github.com/nutrimind/coach-core/internal/model"
	"github.com/nutrimind/coach-core/internal/render"
	"github.com/nutrimind/coach-core/internal/store"
)

// Handler produces the answer fragments for a turn. Implemented by the host
// application; the default is the nutrition logging handler in this package.
type Handler func(ctx context.Context, req TurnRequest, memories []*model.MemoryRecord) ([]model.ResponseObject, error)

// TurnRequest is one inbound user message.
type TurnRequest struct {
	OwnerID         string       `json:"ownerId"`
	SessionID       string       `json:"sessionId"`
	Message         string       `json:"message"`
	Intent          model.Intent `json:"intent"`
	PersonaOverride bool         `json:"personaOverride,omitempty"`
	Tone            model.Tone   `json:"tone,omitempty"`
}

// TurnResult is the outcome of a turn. When ClarificationPending is set the
// text is the clarification question and no handling has happened yet.
type TurnResult struct {
	Text                 string             `json:"text"`
	ClarificationPending bool               `json:"clarificationPending"`
	Filter               model.FilterResult `json:"filter"`
}

// Orchestrator wires the turn stages together.
type Orchestrator struct {
	clarifier *clarify.Engine
	memories  *memory.Service
	store     store.Store
	renderer  *render.Renderer
	handler   Handler
	log       zerolog.Logger
}

func NewOrchestrator(
	clarifier *clarify.Engine,
	memories *memory.Service,
	st store.Store,
	renderer *render.Renderer,
	handler Handler,
	log zerolog.Logger,
) *Orchestrator {
	return &Orchestrator{
		clarifier: clarifier,
		memories:  memories,
		store:     st,
		renderer:  renderer,
		handler:   handler,
		log:       log.With().Str("component", "pipeline").Logger(),
	}
}

// mealTopics seed memory retrieval for food-related turns.
var mealTopics = []string{"food", "nutrition", "diet"}

// HandleTurn runs one full turn. It never returns an error for enrichment
// failures; only context cancellation or a total handler breakdown surfaces.
func (o *Orchestrator) HandleTurn(ctx context.Context, req TurnRequest) (TurnResult, error) {
	if err := ctx.Err(); err != nil {
		return TurnResult{}, err
	}

	// A pending clarification means this message answers our question:
	// merge it back into the original intent instead of treating it as a
	// fresh turn.
	if st, ok := o.clarifier.Pending(ctx, req.SessionID); ok {
		merged := o.clarifier.Resolve(ctx, st, req.Message)
		o.log.Debug().Str("session_id", req.SessionID).Msg("merged clarification response")
		req.Message = merged
		req.Intent = st.OriginalIntent
	} else {
		res := o.clarifier.Check(ctx, req.SessionID, req.Message, req.Intent)
		if res.NeedsClarification {
			return TurnResult{
				Text:                 res.ClarificationQuestion,
				ClarificationPending: true,
			}, nil
		}
	}

	memories, err := o.memories.RetrieveRelevant(ctx, req.OwnerID, mealTopics, 5)
	if err != nil {
		o.log.Warn().Err(err).Msg("memory retrieval failed, continuing without context")
		memories = nil
	}

	responses, err := o.handler(ctx, req, memories)
	if err != nil {
		return TurnResult{}, err
	}

	snapshots := render.Snapshot(responses)
	combined := o.applyFilters(ctx, req, responses)

	text := o.renderer.Compose(responses, render.Options{
		ApplyPersona: true,
		Tone:         req.Tone,
		Snapshots:    snapshots,
	})

	return TurnResult{Text: text, Filter: combined}, nil
}

// applyFilters runs the dietary pipeline over every response payload and
// attaches the resulting annotations as issues on that response.
func (o *Orchestrator) applyFilters(ctx context.Context, req TurnRequest, responses []model.ResponseObject) model.FilterResult {
	fp := filter.NewFromStore(ctx, o.store, req.OwnerID, o.log)

	combined := model.FilterResult{
		Annotations:   []model.Annotation{},
		Substitutions: []model.Substitution{},
		Warnings:      []string{},
	}
	for i := range responses {
		result := fp.ApplyAll(responses[i].Payload, req.PersonaOverride)
		for _, a := range result.Annotations {
			responses[i].Issues = append(responses[i].Issues, model.Issue{
				Severity: a.Severity,
				Message:  a.Message,
				Field:    a.Field,
			})
		}
		combined.Merge(result)
	}
	return combined
}
