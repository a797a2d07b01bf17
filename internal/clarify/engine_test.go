package clarify

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/nutrimind/coach-core/internal/completion"
	"github.com/nutrimind/coach-core/internal/model"
)

// --- Fakes ---

type fakeLLM struct {
	reply string
	err   error
	calls int
}

func (f *fakeLLM) Complete(ctx context.Context, system, user string) (string, error) {
	f.calls++
	return f.reply, f.err
}

func newEngine(llm completion.Client) (*Engine, SessionStore) {
	sessions := NewInMemorySessionStore()
	return NewEngine(sessions, llm, zerolog.Nop()), sessions
}

// --- Stage 1: deterministic pre-check ---

func TestCheck_AnchorWithCompanions_OneShotInference(t *testing.T) {
	llm := &fakeLLM{}
	e, _ := newEngine(llm)

	res := e.Check(context.Background(), "s1", "I ate a big mac, 10pc nuggets, large fries", model.IntentMealLogging)

	require.True(t, res.NeedsClarification)
	require.Equal(t, "Looks like McDonald's. Are the nuggets and fries from McDonald's too?", res.ClarificationQuestion)
	require.Equal(t, 0.85, res.Confidence)
	require.Zero(t, llm.calls, "pre-check hit must not call the LLM")
}

func TestCheck_TwoAmbiguousNoAnchor_GenericQuestion(t *testing.T) {
	e, _ := newEngine(&fakeLLM{})

	res := e.Check(context.Background(), "s1", "large fries and nuggets", model.IntentMealLogging)

	require.True(t, res.NeedsClarification)
	require.Equal(t, "Are those fries, nuggets from McDonald's, or from another restaurant?", res.ClarificationQuestion)
}

func TestCheck_SingleAmbiguousItem_SpecificQuestion(t *testing.T) {
	e, _ := newEngine(&fakeLLM{})

	cases := map[string]string{
		"I had some nuggets":     "Are those McDonald's Chicken McNuggets?",
		"ate a mcchicken":        "Are you asking about McDonald's McChicken sandwich?",
		"grabbed a combo":        "Are you asking about a McDonald's combo meal?",
		"had a mcdouble earlier": "Are you asking about McDonald's McDouble?",
	}
	for msg, want := range cases {
		res := e.Check(context.Background(), "s1", msg, model.IntentFoodQuestion)
		require.True(t, res.NeedsClarification, msg)
		require.Equal(t, want, res.ClarificationQuestion, msg)
	}
}

func TestCheck_ExplicitBrandSkipsPrecheck(t *testing.T) {
	llm := &fakeLLM{reply: `{"needsClarification": false, "confidence": 0.95}`}
	e, _ := newEngine(llm)

	res := e.Check(context.Background(), "s1", "I ate McDonald's large fries", model.IntentMealLogging)

	require.False(t, res.NeedsClarification)
	require.Equal(t, 1, llm.calls, "brand context must fall through to the LLM stage")
}

func TestCheck_NonFoodIntentSkipsEverything(t *testing.T) {
	llm := &fakeLLM{}
	e, _ := newEngine(llm)

	res := e.Check(context.Background(), "s1", "nuggets", model.Intent("smalltalk"))
	require.False(t, res.NeedsClarification)
	require.Zero(t, llm.calls)
}

// --- Stage 2: LLM fallback ---

func TestCheck_LLMDecisionParsed(t *testing.T) {
	llm := &fakeLLM{reply: "```json\n{\"needsClarification\": true, \"clarificationQuestion\": \"What kind of milk?\", \"confidence\": 0.8}\n```"}
	e, sessions := newEngine(llm)

	res := e.Check(context.Background(), "s1", "a glass of milk", model.IntentFoodQuestion)

	require.True(t, res.NeedsClarification)
	require.Equal(t, "What kind of milk?", res.ClarificationQuestion)
	require.Equal(t, 0.8, res.Confidence)

	st, err := sessions.Get(context.Background(), "s1")
	require.NoError(t, err)
	require.Equal(t, "a glass of milk", st.OriginalMessage)
}

func TestCheck_LLMFailureFailsOpen(t *testing.T) {
	llm := &fakeLLM{err: completion.ErrTransient}
	e, _ := newEngine(llm)

	res := e.Check(context.Background(), "s1", "a glass of milk", model.IntentFoodQuestion)
	require.False(t, res.NeedsClarification)
	require.Equal(t, 0.7, res.Confidence)
}

func TestCheck_LLMGarbageFailsOpen(t *testing.T) {
	llm := &fakeLLM{reply: "sure, sounds tasty!"}
	e, _ := newEngine(llm)

	res := e.Check(context.Background(), "s1", "a glass of milk", model.IntentFoodQuestion)
	require.False(t, res.NeedsClarification)
	require.Equal(t, 0.7, res.Confidence)
}

// --- State machine ---

func TestCheck_OverwritesPriorPendingState(t *testing.T) {
	e, sessions := newEngine(&fakeLLM{})
	ctx := context.Background()

	e.Check(ctx, "s1", "I had some nuggets", model.IntentMealLogging)
	e.Check(ctx, "s1", "large fries and nuggets", model.IntentMealLogging)

	st, err := sessions.Get(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, "large fries and nuggets", st.OriginalMessage)
}

func TestResolve_MergesAndConsumesState(t *testing.T) {
	llm := &fakeLLM{reply: `"I ate McDonald's Chicken McNuggets"`}
	e, sessions := newEngine(llm)
	ctx := context.Background()

	e.Check(ctx, "s1", "I had some nuggets", model.IntentMealLogging)
	st, ok := e.Pending(ctx, "s1")
	require.True(t, ok)

	merged := e.Resolve(ctx, st, "yes")
	require.Equal(t, "I ate McDonald's Chicken McNuggets", merged, "wrapping quotes stripped")

	_, err := sessions.Get(ctx, "s1")
	require.ErrorIs(t, err, model.ErrNotFound, "state consumed after merge")
}

func TestResolve_FailureReturnsOriginal(t *testing.T) {
	llm := &fakeLLM{err: completion.ErrTransient}
	e, _ := newEngine(llm)
	ctx := context.Background()

	st := &model.ClarificationState{
		SessionID:             "s1",
		OriginalMessage:       "I had some nuggets",
		OriginalIntent:        model.IntentMealLogging,
		ClarificationQuestion: "Are those McDonald's Chicken McNuggets?",
		Timestamp:             time.Now(),
	}
	merged := e.Resolve(ctx, st, "yes")
	require.Equal(t, "I had some nuggets", merged)
}

// --- Sweeper ---

func TestSweeper_RemovesStaleStates(t *testing.T) {
	sessions := NewInMemorySessionStore()
	ctx := context.Background()

	fresh := &model.ClarificationState{
		SessionID: "fresh", OriginalMessage: "m", OriginalIntent: model.IntentMealLogging,
		ClarificationQuestion: "q", Timestamp: time.Now(),
	}
	stale := &model.ClarificationState{
		SessionID: "stale", OriginalMessage: "m", OriginalIntent: model.IntentMealLogging,
		ClarificationQuestion: "q", Timestamp: time.Now().Add(-301 * time.Second),
	}
	require.NoError(t, sessions.Put(ctx, fresh))
	require.NoError(t, sessions.Put(ctx, stale))

	sw := NewSweeper(sessions, 300*time.Second, time.Minute, zerolog.Nop())
	sw.Tick(ctx)

	_, err := sessions.Get(ctx, "stale")
	require.ErrorIs(t, err, model.ErrNotFound)
	_, err = sessions.Get(ctx, "fresh")
	require.NoError(t, err)
}

func TestSweeper_RunStopsOnCancel(t *testing.T) {
	sessions := NewInMemorySessionStore()
	sw := NewSweeper(sessions, 300*time.Second, 5*time.Millisecond, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sw.Run(ctx)
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop on cancel")
	}
}
