// Package storetest provides a driver compliance suite shared by every
// store.Store implementation.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/nutrimind/coach-core/internal/model"
	"github.com/nutrimind/coach-core/internal/store"
)

// Run exercises a compliance suite against a store.Store implementation.
// Implementations should provide a clean, isolated store from makeStore.
func Run(t *testing.T, makeStore func(t *testing.T) store.Store) {
	t.Helper()

	s := makeStore(t)
	ctx := context.Background()

	owner := "u-" + uuid.New().String()

	// --- Memories: create, derived priority, duplicate key ---
	rec, err := s.Memories().Create(ctx, &model.MemoryRecord{
		OwnerID:    owner,
		Tier:       model.TierShortTerm,
		Key:        "preferred_breakfast",
		Value:      map[string]interface{}{"meal": "oatmeal"},
		Source:     model.SourceInferred,
		Confidence: 0.6,
		Topics:     []string{"nutrition", "breakfast"},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if rec.ID == "" || rec.ConflictPriority != 1 {
		t.Fatalf("Create: id=%q priority=%d", rec.ID, rec.ConflictPriority)
	}
	if _, err := s.Memories().Create(ctx, &model.MemoryRecord{
		OwnerID: owner, Tier: model.TierShortTerm, Key: "preferred_breakfast",
		Value: map[string]interface{}{}, Source: model.SourceSystem,
	}); !errors.Is(err, model.ErrConflict) {
		t.Fatalf("Create duplicate key: want ErrConflict, got %v", err)
	}

	if got, err := s.Memories().Get(ctx, owner, rec.ID); err != nil || got.Key != "preferred_breakfast" {
		t.Fatalf("Get: got=%v err=%v", got, err)
	}
	if got, err := s.Memories().GetByKey(ctx, owner, "preferred_breakfast"); err != nil || got.ID != rec.ID {
		t.Fatalf("GetByKey: got=%v err=%v", got, err)
	}
	if _, err := s.Memories().Get(ctx, owner, "missing"); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("Get missing: want ErrNotFound, got %v", err)
	}

	// --- Upsert conflict resolution ---
	// Explicit beats the existing inferred record.
	winner, err := s.Memories().Upsert(ctx, owner, "preferred_breakfast",
		map[string]interface{}{"meal": "eggs"}, model.SourceExplicit, 0.9)
	if err != nil {
		t.Fatalf("Upsert explicit: %v", err)
	}
	got, err := s.Memories().GetByKey(ctx, owner, "preferred_breakfast")
	if err != nil {
		t.Fatalf("GetByKey after upsert: %v", err)
	}
	if got.ID != winner || got.Source != model.SourceExplicit || got.ConflictPriority != 2 {
		t.Fatalf("Upsert explicit: winner=%s got=%+v", winner, got)
	}
	if got.Value["meal"] != "eggs" {
		t.Fatalf("Upsert explicit: value not replaced: %v", got.Value)
	}

	// A later inferred write must not displace the explicit record.
	loserID, err := s.Memories().Upsert(ctx, owner, "preferred_breakfast",
		map[string]interface{}{"meal": "toast"}, model.SourceInferred, 1.0)
	if err != nil {
		t.Fatalf("Upsert inferred: %v", err)
	}
	got, err = s.Memories().GetByKey(ctx, owner, "preferred_breakfast")
	if err != nil {
		t.Fatalf("GetByKey: %v", err)
	}
	if got.Value["meal"] != "eggs" || got.Source != model.SourceExplicit {
		t.Fatalf("inferred write displaced explicit record: %+v", got)
	}
	if loserID != got.ID {
		t.Fatalf("Upsert loser should report surviving id: got %s want %s", loserID, got.ID)
	}

	// Equal priority, higher confidence wins.
	if _, err := s.Memories().Upsert(ctx, owner, "preferred_breakfast",
		map[string]interface{}{"meal": "omelette"}, model.SourceExplicit, 0.95); err != nil {
		t.Fatalf("Upsert higher confidence: %v", err)
	}
	got, _ = s.Memories().GetByKey(ctx, owner, "preferred_breakfast")
	if got.Value["meal"] != "omelette" || got.Confidence != 0.95 {
		t.Fatalf("higher-confidence write should win: %+v", got)
	}

	// Upsert with no existing record inserts.
	if _, err := s.Memories().Upsert(ctx, owner, "hydration_goal",
		map[string]interface{}{"liters": 2.5}, model.SourceSystem, 0.5); err != nil {
		t.Fatalf("Upsert insert: %v", err)
	}

	// --- Query ordering and filters ---
	if _, err := s.Memories().Create(ctx, &model.MemoryRecord{
		OwnerID: owner, Tier: model.TierLongTerm, Key: "allergy_note",
		Value: map[string]interface{}{"note": "peanuts"}, Source: model.SourceExplicit,
		Confidence: 1.0, Topics: []string{"allergy", "nutrition"},
	}); err != nil {
		t.Fatalf("Create long_term: %v", err)
	}

	list, err := s.Memories().Query(ctx, model.MemoryQuery{OwnerID: owner, Limit: 10})
	if err != nil || len(list) != 3 {
		t.Fatalf("Query all: n=%d err=%v", len(list), err)
	}
	for i := 1; i < len(list); i++ {
		if list[i-1].ConflictPriority < list[i].ConflictPriority {
			t.Fatalf("Query not ordered by conflict_priority desc")
		}
	}

	list, err = s.Memories().Query(ctx, model.MemoryQuery{
		OwnerID: owner, Topics: []string{"allergy"}, Limit: 10,
	})
	if err != nil || len(list) != 1 || list[0].Key != "allergy_note" {
		t.Fatalf("Query topics: n=%d err=%v", len(list), err)
	}

	list, err = s.Memories().Query(ctx, model.MemoryQuery{
		OwnerID: owner, MinConfidence: 0.9, Limit: 10,
	})
	if err != nil {
		t.Fatalf("Query min confidence: %v", err)
	}
	for _, r := range list {
		if r.Confidence < 0.9 {
			t.Fatalf("Query min confidence returned %f", r.Confidence)
		}
	}

	// --- Update / Promote ---
	conf := 0.4
	if err := s.Memories().Update(ctx, owner, rec.ID, store.MemoryUpdate{Confidence: &conf}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	got, _ = s.Memories().Get(ctx, owner, rec.ID)
	if got.Confidence != 0.4 {
		t.Fatalf("Update confidence: %f", got.Confidence)
	}

	ttl := time.Now().Add(-time.Minute).UTC()
	eph, err := s.Memories().Create(ctx, &model.MemoryRecord{
		OwnerID: owner, Tier: model.TierEphemeral, Key: "session_note",
		Value: map[string]interface{}{"note": "skipped lunch"}, Source: model.SourceSystem,
		Confidence: 0.5, TTL: &ttl,
	})
	if err != nil {
		t.Fatalf("Create ephemeral: %v", err)
	}

	if err := s.Memories().Promote(ctx, owner, eph.ID); err != nil {
		t.Fatalf("Promote: %v", err)
	}
	got, _ = s.Memories().Get(ctx, owner, eph.ID)
	if got.Tier != model.TierLongTerm || got.Confidence != 1.0 || got.TTL != nil {
		t.Fatalf("Promote result: %+v", got)
	}

	// --- PruneExpired ---
	ttl2 := time.Now().Add(-time.Hour).UTC()
	if _, err := s.Memories().Create(ctx, &model.MemoryRecord{
		OwnerID: owner, Tier: model.TierEphemeral, Key: "stale_note",
		Value: map[string]interface{}{}, Source: model.SourceSystem, TTL: &ttl2,
	}); err != nil {
		t.Fatalf("Create stale ephemeral: %v", err)
	}
	n, err := s.Memories().PruneExpired(ctx, time.Now())
	if err != nil || n != 1 {
		t.Fatalf("PruneExpired: n=%d err=%v", n, err)
	}
	if _, err := s.Memories().GetByKey(ctx, owner, "stale_note"); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("pruned record still present: %v", err)
	}

	// --- Export / Delete ---
	exp, err := s.Memories().ExportForOwner(ctx, owner)
	if err != nil || len(exp) == 0 {
		t.Fatalf("ExportForOwner: n=%d err=%v", len(exp), err)
	}
	if err := s.Memories().Delete(ctx, owner, rec.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := s.Memories().Delete(ctx, owner, rec.ID); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("Delete missing: want ErrNotFound, got %v", err)
	}
	if err := s.Memories().DeleteAllForOwner(ctx, owner); err != nil {
		t.Fatalf("DeleteAllForOwner: %v", err)
	}
	if list, _ := s.Memories().Query(ctx, model.MemoryQuery{OwnerID: owner, Limit: 10}); len(list) != 0 {
		t.Fatalf("records remain after DeleteAllForOwner: %d", len(list))
	}

	// --- Concurrent writes ---
	// Ids are minted outside any transaction, so parallel upserts must not
	// collide or race.
	concOwner := "u-" + uuid.New().String()
	var (
		wg      sync.WaitGroup
		concErr = make(chan error, 8)
	)
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				key := fmt.Sprintf("note_%d_%d", g, i)
				if _, err := s.Memories().Upsert(ctx, concOwner, key,
					map[string]interface{}{"n": float64(i)}, model.SourceSystem, 0.5); err != nil {
					concErr <- fmt.Errorf("upsert %s: %w", key, err)
					return
				}
			}
		}(g)
	}
	wg.Wait()
	close(concErr)
	for err := range concErr {
		t.Fatal(err)
	}
	if list, err := s.Memories().Query(ctx, model.MemoryQuery{OwnerID: concOwner, Limit: 200}); err != nil || len(list) != 160 {
		t.Fatalf("concurrent upserts: n=%d err=%v", len(list), err)
	}

	// --- Sessions ---
	sessionID := "s-" + uuid.New().String()
	st := &model.ClarificationState{
		SessionID:             sessionID,
		OriginalMessage:       "I ate nuggets",
		OriginalIntent:        model.IntentMealLogging,
		ClarificationQuestion: "Are those McDonald's Chicken McNuggets?",
		Timestamp:             time.Now().UTC(),
	}
	if err := s.Sessions().Put(ctx, st); err != nil {
		t.Fatalf("Sessions.Put: %v", err)
	}
	st.ClarificationQuestion = "updated question"
	if err := s.Sessions().Put(ctx, st); err != nil {
		t.Fatalf("Sessions.Put overwrite: %v", err)
	}
	gotSt, err := s.Sessions().Get(ctx, sessionID)
	if err != nil || gotSt.ClarificationQuestion != "updated question" {
		t.Fatalf("Sessions.Get: got=%v err=%v", gotSt, err)
	}
	if _, err := s.Sessions().Get(ctx, "missing"); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("Sessions.Get missing: want ErrNotFound, got %v", err)
	}

	stale := &model.ClarificationState{
		SessionID:       "s-stale-" + uuid.New().String(),
		OriginalMessage: "old", OriginalIntent: model.IntentFoodQuestion,
		ClarificationQuestion: "q",
		Timestamp:             time.Now().Add(-10 * time.Minute).UTC(),
	}
	if err := s.Sessions().Put(ctx, stale); err != nil {
		t.Fatalf("Sessions.Put stale: %v", err)
	}
	removed, err := s.Sessions().DeleteOlderThan(ctx, time.Now().Add(-5*time.Minute))
	if err != nil || removed != 1 {
		t.Fatalf("DeleteOlderThan: n=%d err=%v", removed, err)
	}
	if _, err := s.Sessions().Get(ctx, sessionID); err != nil {
		t.Fatalf("fresh session swept: %v", err)
	}
	if err := s.Sessions().Delete(ctx, sessionID); err != nil {
		t.Fatalf("Sessions.Delete: %v", err)
	}

	// --- Preferences ---
	if _, err := s.Preferences().Get(ctx, owner); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("Preferences.Get missing: want ErrNotFound, got %v", err)
	}
	pref := &model.UserDietaryPreference{
		OwnerID:   owner,
		DietType:  "keto",
		Allergens: []string{"nuts"},
	}
	if err := s.Preferences().Put(ctx, pref); err != nil {
		t.Fatalf("Preferences.Put: %v", err)
	}
	gotPref, err := s.Preferences().Get(ctx, owner)
	if err != nil || gotPref.DietType != "keto" || len(gotPref.Allergens) != 1 {
		t.Fatalf("Preferences.Get: got=%v err=%v", gotPref, err)
	}
}

// RunRules exercises the rule catalog read path. The catalog has no
// store-level write operation, so the caller seeds rows through the
// driver's own connection.
func RunRules(t *testing.T, s store.Store, seed func(t *testing.T, rules []model.DietaryFilterRule)) {
	t.Helper()

	prefix := "rule-" + uuid.New().String()
	seed(t, []model.DietaryFilterRule{
		{ID: prefix + "-keto", Type: "keto", Condition: map[string]interface{}{"carb_grams_max": float64(20), "item_carb_grams_max": float64(5)}, Enabled: true},
		{ID: prefix + "-low-carb", Type: "low_carb", Condition: map[string]interface{}{"carb_grams_max": float64(100)}, Enabled: true},
		{ID: prefix + "-paleo", Type: "paleo", Condition: map[string]interface{}{}, Enabled: false},
	})

	all, err := s.Rules().ListEnabled(context.Background())
	if err != nil {
		t.Fatalf("ListEnabled: %v", err)
	}
	var got []model.DietaryFilterRule
	for _, r := range all {
		if strings.HasPrefix(r.ID, prefix) {
			got = append(got, r)
		}
	}
	if len(got) != 2 {
		t.Fatalf("want 2 enabled rules, got %d", len(got))
	}
	if got[0].Type != "keto" || got[1].Type != "low_carb" {
		t.Fatalf("unexpected rule order: %s, %s", got[0].Type, got[1].Type)
	}
	if max, ok := got[0].Condition["carb_grams_max"].(float64); !ok || max != 20 {
		t.Fatalf("condition not decoded: %v", got[0].Condition)
	}
	if !got[0].Enabled {
		t.Fatalf("enabled flag not decoded")
	}
}
