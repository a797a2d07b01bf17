package store

import (
	"context"
	"time"

	"github.com/nutrimind/coach-core/internal/model"
)

// Store exposes persistence operations required by the pipeline services.
// Implementations live under internal/store/<driver>/ (e.g., postgres, sqlite).
type Store interface {
	Memories() Memories
	Sessions() Sessions
	Rules() Rules
	Preferences() Preferences

	// HealthPing reports backend reachability for the health endpoint.
	HealthPing(ctx context.Context) error
}

// MemoryUpdate carries the mutable subset of a memory record. Nil fields are
// left untouched.
type MemoryUpdate struct {
	Value      map[string]interface{}
	Confidence *float64
	Topics     []string
	Tier       *model.Tier
}

type Memories interface {
	// Create inserts a new record with conflict_priority derived from source.
	// Returns model.ErrConflict when a record for (owner,key) already exists.
	Create(ctx context.Context, rec *model.MemoryRecord) (*model.MemoryRecord, error)

	// Upsert performs the conflict-resolved write for (owner,key): the higher
	// conflict_priority wins, ties broken by higher confidence, then by most
	// recent created_at. The compare and the write are a single atomic
	// statement at the store level. Returns the id of the surviving record.
	Upsert(ctx context.Context, ownerID, key string, value map[string]interface{}, source model.Source, confidence float64) (string, error)

	Get(ctx context.Context, ownerID, id string) (*model.MemoryRecord, error)
	GetByKey(ctx context.Context, ownerID, key string) (*model.MemoryRecord, error)

	// Query lists records ordered by conflict_priority desc, created_at desc.
	Query(ctx context.Context, q model.MemoryQuery) ([]*model.MemoryRecord, error)

	Update(ctx context.Context, ownerID, id string, upd MemoryUpdate) error

	// Promote moves a record to long_term, resets confidence to 1.0 and
	// clears its ttl.
	Promote(ctx context.Context, ownerID, id string) error

	Delete(ctx context.Context, ownerID, id string) error
	DeleteAllForOwner(ctx context.Context, ownerID string) error

	// ExportForOwner returns every record for the owner, ordered by tier then
	// created_at desc, for the user-data export tooling.
	ExportForOwner(ctx context.Context, ownerID string) ([]*model.MemoryRecord, error)

	// PruneExpired removes ephemeral records whose ttl elapsed before now.
	PruneExpired(ctx context.Context, now time.Time) (int64, error)
}

type Sessions interface {
	// Put stores the pending clarification state for a session, overwriting
	// any prior state (single-flight per session).
	Put(ctx context.Context, st *model.ClarificationState) error
	Get(ctx context.Context, sessionID string) (*model.ClarificationState, error)
	Delete(ctx context.Context, sessionID string) error

	// DeleteOlderThan removes states whose timestamp precedes cutoff and
	// returns the number removed.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

type Rules interface {
	ListEnabled(ctx context.Context) ([]model.DietaryFilterRule, error)
}

type Preferences interface {
	// Get returns model.ErrNotFound when no preference row exists; callers
	// default to the neutral profile.
	Get(ctx context.Context, ownerID string) (*model.UserDietaryPreference, error)
	Put(ctx context.Context, pref *model.UserDietaryPreference) error
}

// TopicsOverlap reports whether a and b share at least one topic. Drivers use
// it to apply the topics filter after the SQL-side filters.
func TopicsOverlap(a, b []string) bool {
	if len(a) == 0 {
		return true
	}
	set := make(map[string]struct{}, len(a))
	for _, t := range a {
		set[t] = struct{}{}
	}
	for _, t := range b {
		if _, ok := set[t]; ok {
			return true
		}
	}
	return false
}
