package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/nutrimind/coach-core/internal/clarify"
	"github.com/nutrimind/coach-core/internal/memory"
	"github.com/nutrimind/coach-core/internal/model"
	"github.com/nutrimind/coach-core/internal/nutrition"
	"github.com/nutrimind/coach-core/internal/render"
	"github.com/nutrimind/coach-core/internal/store"
	"github.com/nutrimind/coach-core/internal/store/sqlite"
)

type fakeLLM struct {
	reply string
	err   error
}

func (f *fakeLLM) Complete(ctx context.Context, system, user string) (string, error) {
	return f.reply, f.err
}

func newOrchestrator(t *testing.T, llm *fakeLLM) (*Orchestrator, store.Store) {
	t.Helper()

	db, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	st := sqlite.NewWithDB(db)

	log := zerolog.Nop()
	engine := clarify.NewEngine(clarify.NewInMemorySessionStore(), llm, log)
	resolver := nutrition.NewResolver(log)
	o := NewOrchestrator(
		engine,
		memory.NewService(st, log),
		st,
		render.New(render.DefaultRegistry(), log),
		NutritionHandler(resolver),
		log,
	)
	return o, st
}

func TestHandleTurn_AmbiguousMessageAsksQuestion(t *testing.T) {
	o, _ := newOrchestrator(t, &fakeLLM{})

	res, err := o.HandleTurn(context.Background(), TurnRequest{
		OwnerID:   "u1",
		SessionID: "s1",
		Message:   "I ate a big mac, 10pc nuggets, large fries",
		Intent:    model.IntentMealLogging,
	})

	require.NoError(t, err)
	require.True(t, res.ClarificationPending)
	require.Equal(t, "Looks like McDonald's. Are the nuggets and fries from McDonald's too?", res.Text)
}

func TestHandleTurn_NextMessageMergesAndAnswers(t *testing.T) {
	llm := &fakeLLM{reply: `{"needsClarification": false, "confidence": 0.9}`}
	o, _ := newOrchestrator(t, llm)
	ctx := context.Background()

	first, err := o.HandleTurn(ctx, TurnRequest{
		OwnerID: "u1", SessionID: "s1",
		Message: "I ate a big mac, 10pc nuggets, large fries",
		Intent:  model.IntentMealLogging,
	})
	require.NoError(t, err)
	require.True(t, first.ClarificationPending)

	// The merge prompt goes to the LLM; return the resolved message.
	llm.reply = "I ate a McDonald's big mac, 10pc McDonald's nuggets, large McDonald's fries"

	second, err := o.HandleTurn(ctx, TurnRequest{
		OwnerID: "u1", SessionID: "s1",
		Message: "yes, all McDonald's",
		Intent:  model.IntentMealLogging,
	})
	require.NoError(t, err)
	require.False(t, second.ClarificationPending)
	require.Contains(t, second.Text, "Here is the nutrition breakdown:")

	// State is consumed: a new ambiguous turn asks again.
	third, err := o.HandleTurn(ctx, TurnRequest{
		OwnerID: "u1", SessionID: "s1",
		Message: "large fries and nuggets",
		Intent:  model.IntentMealLogging,
	})
	require.NoError(t, err)
	require.True(t, third.ClarificationPending)
}

func TestHandleTurn_UnambiguousMessageRendersBreakdown(t *testing.T) {
	llm := &fakeLLM{reply: `{"needsClarification": false, "confidence": 0.9}`}
	o, _ := newOrchestrator(t, llm)

	res, err := o.HandleTurn(context.Background(), TurnRequest{
		OwnerID: "u1", SessionID: "s1",
		Message: "I ate 10 oz steak and 2 eggs",
		Intent:  model.IntentMealLogging,
	})

	require.NoError(t, err)
	require.False(t, res.ClarificationPending)
	require.Contains(t, res.Text, "Here is the nutrition breakdown:")
	require.Contains(t, res.Text, "1. steak (10 oz): 709kcal")
	require.Contains(t, res.Text, "Want me to log this meal?")
}

func TestHandleTurn_FilterIssuesAppearInReply(t *testing.T) {
	llm := &fakeLLM{reply: `{"needsClarification": false, "confidence": 0.9}`}
	o, st := newOrchestrator(t, llm)
	ctx := context.Background()

	err := st.Preferences().Put(ctx, &model.UserDietaryPreference{
		OwnerID:   "u1",
		DietType:  "balanced",
		Allergens: []string{"dairy"},
	})
	require.NoError(t, err)

	res, err := o.HandleTurn(ctx, TurnRequest{
		OwnerID: "u1", SessionID: "s1",
		Message: "I ate 1 cup yogurt",
		Intent:  model.IntentMealLogging,
	})

	require.NoError(t, err)
	require.Contains(t, res.Text, "⚠️ Issues:")
	require.Contains(t, res.Text, "may contain dairy")
	require.NotEmpty(t, res.Filter.Annotations)
}

func TestHandleTurn_PersonaOverrideSkipsFiltering(t *testing.T) {
	llm := &fakeLLM{reply: `{"needsClarification": false, "confidence": 0.9}`}
	o, st := newOrchestrator(t, llm)
	ctx := context.Background()

	require.NoError(t, st.Preferences().Put(ctx, &model.UserDietaryPreference{
		OwnerID: "u1", DietType: "balanced", Allergens: []string{"dairy"},
	}))

	res, err := o.HandleTurn(ctx, TurnRequest{
		OwnerID: "u1", SessionID: "s1",
		Message:         "I ate 1 cup yogurt",
		Intent:          model.IntentMealLogging,
		PersonaOverride: true,
	})

	require.NoError(t, err)
	require.NotContains(t, res.Text, "⚠️ Issues:")
	require.Empty(t, res.Filter.Annotations)
}

func TestHandleTurn_HandlerErrorSurfaces(t *testing.T) {
	llm := &fakeLLM{reply: `{"needsClarification": false, "confidence": 0.9}`}
	o, _ := newOrchestrator(t, llm)
	o.handler = func(ctx context.Context, req TurnRequest, memories []*model.MemoryRecord) ([]model.ResponseObject, error) {
		return nil, errors.New("boom")
	}

	_, err := o.HandleTurn(context.Background(), TurnRequest{
		OwnerID: "u1", SessionID: "s1", Message: "I ate an apple", Intent: model.IntentMealLogging,
	})
	require.Error(t, err)
}

func TestHandleTurn_CancelledContext(t *testing.T) {
	o, _ := newOrchestrator(t, &fakeLLM{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := o.HandleTurn(ctx, TurnRequest{OwnerID: "u1", SessionID: "s1", Message: "hi"})
	require.Error(t, err)
}

func TestExtractItems(t *testing.T) {
	items := extractItems("I ate 10 oz steak, 2 eggs and 1 cup rice")
	require.Equal(t, []nutrition.Item{
		{Name: "steak", Qty: 10, Unit: "oz"},
		{Name: "eggs", Qty: 2},
		{Name: "rice", Qty: 1, Unit: "cup"},
	}, items)

	require.Nil(t, extractItems("   "))
}
