// Package memory implements the tiered, conflict-resolving memory store on
// top of the persistence layer.
package memory

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/nutrimind/coach-core/internal/model"
	"github.com/nutrimind/coach-core/internal/store"
)

// Relevance scoring weights. Topic overlap dominates, then recency,
// confidence and tier durability.
const (
	weightTopics     = 0.4
	weightRecency    = 0.3
	weightConfidence = 0.2
	weightTier       = 0.1

	recencyHorizonDays = 30.0

	// Candidates below this confidence are not worth surfacing.
	relevanceMinConfidence = 0.3
)

// Service orchestrates memory-related use cases.
type Service struct {
	store store.Store
	log   zerolog.Logger
	now   func() time.Time
}

func NewService(s store.Store, log zerolog.Logger) *Service {
	return &Service{store: s, log: log, now: time.Now}
}

// Remember inserts a new record. conflict_priority is derived from source by
// the store; callers never set it.
func (s *Service) Remember(ctx context.Context, rec *model.MemoryRecord) (*model.MemoryRecord, error) {
	if rec.Confidence == 0 {
		rec.Confidence = 1.0
	}
	return s.store.Memories().Create(ctx, rec)
}

// Resolve performs the conflict-resolved upsert for (owner,key) and returns
// the id of the surviving record.
func (s *Service) Resolve(ctx context.Context, ownerID, key string, value map[string]interface{}, source model.Source, confidence float64) (string, error) {
	return s.store.Memories().Upsert(ctx, ownerID, key, value, source, confidence)
}

func (s *Service) Query(ctx context.Context, q model.MemoryQuery) ([]*model.MemoryRecord, error) {
	return s.store.Memories().Query(ctx, q)
}

// RetrieveRelevant returns the top-limit records for the given topics, scored
// by topic overlap, recency, confidence and tier durability. An empty result
// is a valid answer; retrieval failures degrade to nil so the caller can
// proceed without personalization.
func (s *Service) RetrieveRelevant(ctx context.Context, ownerID string, topics []string, limit int) ([]*model.MemoryRecord, error) {
	if limit <= 0 {
		limit = 5
	}
	candidates, err := s.store.Memories().Query(ctx, model.MemoryQuery{
		OwnerID:       ownerID,
		Topics:        topics,
		MinConfidence: relevanceMinConfidence,
		Limit:         limit * 2,
	})
	if err != nil {
		return nil, err
	}

	now := s.now()
	type scored struct {
		rec   *model.MemoryRecord
		score float64
	}
	list := make([]scored, 0, len(candidates))
	for _, rec := range candidates {
		list = append(list, scored{rec: rec, score: relevanceScore(rec, topics, now)})
	}
	// Stable sort keeps store order for equal scores, so results are
	// deterministic given identical input state.
	sort.SliceStable(list, func(i, j int) bool { return list[i].score > list[j].score })

	if len(list) > limit {
		list = list[:limit]
	}
	out := make([]*model.MemoryRecord, len(list))
	for i, sc := range list {
		out[i] = sc.rec
	}
	return out, nil
}

func relevanceScore(rec *model.MemoryRecord, topics []string, now time.Time) float64 {
	matches := 0
	for _, t := range topics {
		for _, rt := range rec.Topics {
			if t == rt {
				matches++
				break
			}
		}
	}
	denom := len(topics)
	if denom < 1 {
		denom = 1
	}
	topicScore := float64(matches) / float64(denom)

	ageDays := now.Sub(rec.CreatedAt).Hours() / 24
	recency := 1 - ageDays/recencyHorizonDays
	if recency < 0 {
		recency = 0
	}

	return weightTopics*topicScore +
		weightRecency*recency +
		weightConfidence*rec.Confidence +
		weightTier*rec.Tier.Weight()
}

// Promote moves a record to long_term, resets confidence to 1.0 and clears
// its ttl.
func (s *Service) Promote(ctx context.Context, ownerID, id string) error {
	return s.store.Memories().Promote(ctx, ownerID, id)
}

func (s *Service) Update(ctx context.Context, ownerID, id string, upd store.MemoryUpdate) error {
	return s.store.Memories().Update(ctx, ownerID, id, upd)
}

func (s *Service) Forget(ctx context.Context, ownerID, id string) error {
	return s.store.Memories().Delete(ctx, ownerID, id)
}

func (s *Service) ForgetAll(ctx context.Context, ownerID string) error {
	return s.store.Memories().DeleteAllForOwner(ctx, ownerID)
}

// Export lists every record for the owner for the user-data export tooling.
func (s *Service) Export(ctx context.Context, ownerID string) ([]*model.MemoryRecord, error) {
	out, err := s.store.Memories().ExportForOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []*model.MemoryRecord{}
	}
	return out, nil
}

// SweepLoop prunes expired ephemeral records every interval until ctx is
// cancelled. Readers never consult ttl; the sweep owns expiry.
func (s *Service) SweepLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.store.Memories().PruneExpired(ctx, s.now())
			if err != nil {
				s.log.Error().Err(err).Msg("memory ttl sweep failed")
				continue
			}
			if n > 0 {
				s.log.Info().Int64("pruned", n).Msg("memory ttl sweep")
			}
		}
	}
}
