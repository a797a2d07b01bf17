package memory

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/nutrimind/coach-core/internal/model"
	"github.com/nutrimind/coach-core/internal/store/sqlite"
)

func newService(t *testing.T) *Service {
	t.Helper()
	db, err := sqlite.Open(":memory:")
	if err != nil {
		t.Fatalf("sqlite open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewService(sqlite.NewWithDB(db), zerolog.Nop())
}

func TestRemember_DerivesPriority(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	cases := []struct {
		source model.Source
		want   int
	}{
		{model.SourceExplicit, 2},
		{model.SourceInferred, 1},
		{model.SourceSystem, 0},
	}
	for i, tc := range cases {
		rec, err := svc.Remember(ctx, &model.MemoryRecord{
			OwnerID: "u1", Tier: model.TierShortTerm,
			Key:    string(tc.source) + "_fact",
			Value:  map[string]interface{}{"i": i},
			Source: tc.source,
		})
		require.NoError(t, err)
		require.Equal(t, tc.want, rec.ConflictPriority, "source %s", tc.source)
	}
}

func TestResolve_ExplicitBeatsInferred(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	_, err := svc.Remember(ctx, &model.MemoryRecord{
		OwnerID: "u1", Tier: model.TierShortTerm, Key: "goal",
		Value:  map[string]interface{}{"goal": "lose weight"},
		Source: model.SourceExplicit, Confidence: 0.9,
	})
	require.NoError(t, err)

	_, err = svc.Resolve(ctx, "u1", "goal",
		map[string]interface{}{"goal": "gain muscle"}, model.SourceInferred, 1.0)
	require.NoError(t, err)

	recs, err := svc.Query(ctx, model.MemoryQuery{OwnerID: "u1", Limit: 1})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.Equal(t, "lose weight", recs[0].Value["goal"])
	require.Equal(t, model.SourceExplicit, recs[0].Source)
}

func TestRelevanceScore_MonotonicInConfidence(t *testing.T) {
	now := time.Now()
	base := &model.MemoryRecord{
		Tier: model.TierShortTerm, Topics: []string{"nutrition"},
		CreatedAt: now.Add(-24 * time.Hour), Confidence: 0.5,
	}
	higher := *base
	higher.Confidence = 0.8

	topics := []string{"nutrition"}
	if relevanceScore(&higher, topics, now) <= relevanceScore(base, topics, now) {
		t.Fatal("score should increase with confidence")
	}
}

func TestRelevanceScore_MonotonicInRecency(t *testing.T) {
	now := time.Now()
	older := &model.MemoryRecord{
		Tier: model.TierShortTerm, Topics: []string{"nutrition"},
		CreatedAt: now.Add(-20 * 24 * time.Hour), Confidence: 0.5,
	}
	newer := *older
	newer.CreatedAt = now.Add(-1 * 24 * time.Hour)

	topics := []string{"nutrition"}
	if relevanceScore(&newer, topics, now) < relevanceScore(older, topics, now) {
		t.Fatal("newer record must score equal or higher")
	}

	// Beyond the horizon, recency clamps at zero rather than going negative.
	ancient := *older
	ancient.CreatedAt = now.Add(-90 * 24 * time.Hour)
	veryAncient := *older
	veryAncient.CreatedAt = now.Add(-900 * 24 * time.Hour)
	require.Equal(t,
		relevanceScore(&ancient, topics, now),
		relevanceScore(&veryAncient, topics, now))
}

func TestRelevanceScore_Weights(t *testing.T) {
	now := time.Now()
	rec := &model.MemoryRecord{
		Tier:       model.TierLongTerm,
		Topics:     []string{"nutrition", "breakfast"},
		CreatedAt:  now,
		Confidence: 1.0,
	}
	// Full overlap, zero age, full confidence, long_term tier.
	got := relevanceScore(rec, []string{"nutrition", "breakfast"}, now)
	require.InDelta(t, 0.4+0.3+0.2+0.1, got, 1e-9)

	// Half the query topics matched.
	got = relevanceScore(rec, []string{"nutrition", "sleep"}, now)
	require.InDelta(t, 0.4*0.5+0.3+0.2+0.1, got, 1e-9)
}

func TestRetrieveRelevant_OrdersAndLimits(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	mk := func(key string, tier model.Tier, conf float64, topics []string) {
		_, err := svc.Remember(ctx, &model.MemoryRecord{
			OwnerID: "u1", Tier: tier, Key: key,
			Value: map[string]interface{}{}, Source: model.SourceExplicit,
			Confidence: conf, Topics: topics,
		})
		require.NoError(t, err)
	}
	mk("on_topic_long", model.TierLongTerm, 1.0, []string{"nutrition"})
	mk("on_topic_eph", model.TierEphemeral, 1.0, []string{"nutrition"})
	mk("off_topic", model.TierLongTerm, 1.0, []string{"workout"})
	mk("low_conf", model.TierLongTerm, 0.1, []string{"nutrition"})

	got, err := svc.RetrieveRelevant(ctx, "u1", []string{"nutrition"}, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "on_topic_long", got[0].Key)
	require.Equal(t, "on_topic_eph", got[1].Key)
}

func TestRetrieveRelevant_EmptyIsValid(t *testing.T) {
	svc := newService(t)
	got, err := svc.RetrieveRelevant(context.Background(), "nobody", []string{"nutrition"}, 5)
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestSweepLoop_PrunesExpiredEphemeral(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	past := time.Now().Add(-time.Minute).UTC()
	_, err := svc.Remember(ctx, &model.MemoryRecord{
		OwnerID: "u1", Tier: model.TierEphemeral, Key: "stale",
		Value: map[string]interface{}{}, Source: model.SourceSystem, TTL: &past,
	})
	require.NoError(t, err)
	future := time.Now().Add(time.Hour).UTC()
	_, err = svc.Remember(ctx, &model.MemoryRecord{
		OwnerID: "u1", Tier: model.TierEphemeral, Key: "fresh",
		Value: map[string]interface{}{}, Source: model.SourceSystem, TTL: &future,
	})
	require.NoError(t, err)

	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		svc.SweepLoop(loopCtx, 10*time.Millisecond)
		close(done)
	}()
	require.Eventually(t, func() bool {
		recs, err := svc.Query(ctx, model.MemoryQuery{OwnerID: "u1", Limit: 10})
		return err == nil && len(recs) == 1
	}, 2*time.Second, 20*time.Millisecond)
	cancel()
	<-done

	recs, err := svc.Query(ctx, model.MemoryQuery{OwnerID: "u1", Limit: 10})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.Equal(t, "fresh", recs[0].Key)
}

func TestPromote_ResetsConfidenceAndTTL(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	ttl := time.Now().Add(time.Hour).UTC()
	rec, err := svc.Remember(ctx, &model.MemoryRecord{
		OwnerID: "u1", Tier: model.TierEphemeral, Key: "note",
		Value: map[string]interface{}{}, Source: model.SourceInferred,
		Confidence: 0.4, TTL: &ttl,
	})
	require.NoError(t, err)

	require.NoError(t, svc.Promote(ctx, "u1", rec.ID))

	recs, err := svc.Query(ctx, model.MemoryQuery{OwnerID: "u1", Limit: 1})
	require.NoError(t, err)
	require.Equal(t, model.TierLongTerm, recs[0].Tier)
	require.Equal(t, 1.0, recs[0].Confidence)
	require.Nil(t, recs[0].TTL)
}
