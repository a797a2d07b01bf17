// Package postgres implements store.Store on PostgreSQL via the pgx stdlib
// driver. It is the production backend.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/oklog/ulid/v2"

	"github.com/nutrimind/coach-core/internal/model"
	"github.com/nutrimind/coach-core/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS memory_records (
	id                TEXT PRIMARY KEY,
	owner_id          TEXT NOT NULL,
	tier              TEXT NOT NULL,
	key               TEXT NOT NULL,
	value             JSONB NOT NULL,
	source            TEXT NOT NULL,
	confidence        DOUBLE PRECISION NOT NULL,
	ttl               TIMESTAMPTZ,
	topics            JSONB NOT NULL DEFAULT '[]',
	is_pii            BOOLEAN NOT NULL DEFAULT FALSE,
	conflict_priority INTEGER NOT NULL,
	created_at        TIMESTAMPTZ NOT NULL,
	updated_at        TIMESTAMPTZ NOT NULL,
	UNIQUE(owner_id, key)
);
CREATE INDEX IF NOT EXISTS idx_memory_owner ON memory_records(owner_id, conflict_priority DESC, created_at DESC);

CREATE TABLE IF NOT EXISTS clarification_states (
	session_id       TEXT PRIMARY KEY,
	original_message TEXT NOT NULL,
	original_intent  TEXT NOT NULL,
	question         TEXT NOT NULL,
	ts               TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS dietary_filter_rules (
	id                    TEXT PRIMARY KEY,
	type                  TEXT NOT NULL,
	condition             JSONB NOT NULL DEFAULT '{}',
	annotation_template   TEXT NOT NULL DEFAULT '',
	substitution_template TEXT NOT NULL DEFAULT '',
	enabled               BOOLEAN NOT NULL DEFAULT TRUE
);

CREATE TABLE IF NOT EXISTS user_preferences (
	owner_id               TEXT PRIMARY KEY,
	diet_type              TEXT NOT NULL DEFAULT 'balanced',
	macro_overrides        JSONB NOT NULL DEFAULT '{}',
	allergens              JSONB NOT NULL DEFAULT '[]',
	religious_restrictions JSONB NOT NULL DEFAULT '[]'
);
`

// Open opens a PostgreSQL connection using the pgx stdlib driver and verifies
// connectivity.
func Open(dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres DSN is empty")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// Bootstrap applies the schema. Idempotent.
func Bootstrap(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, schema)
	return err
}

// NewWithDB constructs a Postgres store backed directly by database/sql.
func NewWithDB(db *sql.DB) store.Store {
	return &pgStore{db: db}
}

type pgStore struct {
	db *sql.DB
}

func (s *pgStore) Memories() store.Memories       { return &memories{s} }
func (s *pgStore) Sessions() store.Sessions       { return &sessions{s} }
func (s *pgStore) Rules() store.Rules             { return &rules{s} }
func (s *pgStore) Preferences() store.Preferences { return &preferences{s} }

func (s *pgStore) HealthPing(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// newID returns a fresh ULID. ulid.Make locks its entropy source, so ids
// can be minted from concurrent request handlers.
func (s *pgStore) newID() string {
	return ulid.Make().String()
}

// --- Memories ---

type memories struct{ s *pgStore }

func (m *memories) Create(ctx context.Context, rec *model.MemoryRecord) (*model.MemoryRecord, error) {
	if rec.OwnerID == "" || rec.Key == "" || !rec.Tier.Valid() {
		return nil, model.ErrValidation
	}
	now := time.Now().UTC()
	out := *rec
	if out.ID == "" {
		out.ID = m.s.newID()
	}
	out.ConflictPriority = out.Source.Priority()
	out.CreatedAt = now
	out.UpdatedAt = now

	valueJSON, err := json.Marshal(out.Value)
	if err != nil {
		return nil, fmt.Errorf("marshal value: %w", err)
	}
	topicsJSON, err := json.Marshal(emptyIfNil(out.Topics))
	if err != nil {
		return nil, fmt.Errorf("marshal topics: %w", err)
	}

	_, err = m.s.db.ExecContext(ctx, `
		INSERT INTO memory_records
			(id, owner_id, tier, key, value, source, confidence, ttl, topics, is_pii, conflict_priority, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		out.ID, out.OwnerID, string(out.Tier), out.Key, valueJSON, string(out.Source),
		out.Confidence, out.TTL, topicsJSON, out.IsPII, out.ConflictPriority, now, now)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, model.ErrConflict
		}
		return nil, err
	}
	return &out, nil
}

func (m *memories) Upsert(ctx context.Context, ownerID, key string, value map[string]interface{}, source model.Source, confidence float64) (string, error) {
	if ownerID == "" || key == "" {
		return "", model.ErrValidation
	}
	now := time.Now().UTC()
	id := m.s.newID()
	valueJSON, err := json.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("marshal value: %w", err)
	}

	row := m.s.db.QueryRowContext(ctx, `
		INSERT INTO memory_records
			(id, owner_id, tier, key, value, source, confidence, topics, is_pii, conflict_priority, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,'[]',FALSE,$8,$9,$9)
		ON CONFLICT (owner_id, key) DO UPDATE SET
			value = EXCLUDED.value,
			source = EXCLUDED.source,
			confidence = EXCLUDED.confidence,
			conflict_priority = EXCLUDED.conflict_priority,
			created_at = EXCLUDED.created_at,
			updated_at = EXCLUDED.updated_at
		WHERE EXCLUDED.conflict_priority > memory_records.conflict_priority
		   OR (EXCLUDED.conflict_priority = memory_records.conflict_priority
		       AND (EXCLUDED.confidence > memory_records.confidence
		            OR (EXCLUDED.confidence = memory_records.confidence
		                AND EXCLUDED.created_at >= memory_records.created_at)))
		RETURNING id`,
		id, ownerID, string(model.TierShortTerm), key, valueJSON, string(source),
		confidence, source.Priority(), now)

	var winner string
	if err := row.Scan(&winner); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			row := m.s.db.QueryRowContext(ctx,
				`SELECT id FROM memory_records WHERE owner_id=$1 AND key=$2`, ownerID, key)
			if err := row.Scan(&winner); err != nil {
				return "", err
			}
			return winner, nil
		}
		return "", err
	}
	return winner, nil
}

const memoryColumns = `id, owner_id, tier, key, value, source, confidence, ttl, topics, is_pii, conflict_priority, created_at, updated_at`

func (m *memories) Get(ctx context.Context, ownerID, id string) (*model.MemoryRecord, error) {
	row := m.s.db.QueryRowContext(ctx,
		`SELECT `+memoryColumns+` FROM memory_records WHERE owner_id=$1 AND id=$2`, ownerID, id)
	return scanMemory(row)
}

func (m *memories) GetByKey(ctx context.Context, ownerID, key string) (*model.MemoryRecord, error) {
	row := m.s.db.QueryRowContext(ctx,
		`SELECT `+memoryColumns+` FROM memory_records WHERE owner_id=$1 AND key=$2`, ownerID, key)
	return scanMemory(row)
}

func (m *memories) Query(ctx context.Context, q model.MemoryQuery) ([]*model.MemoryRecord, error) {
	sqlQ := `SELECT ` + memoryColumns + ` FROM memory_records WHERE owner_id=$1`
	args := []interface{}{q.OwnerID}
	if q.Tier != "" {
		args = append(args, string(q.Tier))
		sqlQ += fmt.Sprintf(` AND tier=$%d`, len(args))
	}
	if q.MinConfidence > 0 {
		args = append(args, q.MinConfidence)
		sqlQ += fmt.Sprintf(` AND confidence>=$%d`, len(args))
	}
	sqlQ += ` ORDER BY conflict_priority DESC, created_at DESC`

	rows, err := m.s.db.QueryContext(ctx, sqlQ, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	var out []*model.MemoryRecord
	for rows.Next() {
		rec, err := scanMemory(rows)
		if err != nil {
			return nil, err
		}
		if !store.TopicsOverlap(q.Topics, rec.Topics) {
			continue
		}
		out = append(out, rec)
		if len(out) >= limit {
			break
		}
	}
	return out, rows.Err()
}

func (m *memories) Update(ctx context.Context, ownerID, id string, upd store.MemoryUpdate) error {
	sets := "updated_at=$1"
	args := []interface{}{time.Now().UTC()}
	if upd.Value != nil {
		b, err := json.Marshal(upd.Value)
		if err != nil {
			return fmt.Errorf("marshal value: %w", err)
		}
		args = append(args, b)
		sets += fmt.Sprintf(", value=$%d", len(args))
	}
	if upd.Confidence != nil {
		args = append(args, *upd.Confidence)
		sets += fmt.Sprintf(", confidence=$%d", len(args))
	}
	if upd.Topics != nil {
		b, err := json.Marshal(upd.Topics)
		if err != nil {
			return fmt.Errorf("marshal topics: %w", err)
		}
		args = append(args, b)
		sets += fmt.Sprintf(", topics=$%d", len(args))
	}
	if upd.Tier != nil {
		args = append(args, string(*upd.Tier))
		sets += fmt.Sprintf(", tier=$%d", len(args))
	}
	args = append(args, ownerID, id)
	res, err := m.s.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE memory_records SET %s WHERE owner_id=$%d AND id=$%d`, sets, len(args)-1, len(args)), args...)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (m *memories) Promote(ctx context.Context, ownerID, id string) error {
	res, err := m.s.db.ExecContext(ctx, `
		UPDATE memory_records
		SET tier=$1, confidence=1.0, ttl=NULL, updated_at=$2
		WHERE owner_id=$3 AND id=$4`,
		string(model.TierLongTerm), time.Now().UTC(), ownerID, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (m *memories) Delete(ctx context.Context, ownerID, id string) error {
	res, err := m.s.db.ExecContext(ctx,
		`DELETE FROM memory_records WHERE owner_id=$1 AND id=$2`, ownerID, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (m *memories) DeleteAllForOwner(ctx context.Context, ownerID string) error {
	_, err := m.s.db.ExecContext(ctx,
		`DELETE FROM memory_records WHERE owner_id=$1`, ownerID)
	return err
}

func (m *memories) ExportForOwner(ctx context.Context, ownerID string) ([]*model.MemoryRecord, error) {
	rows, err := m.s.db.QueryContext(ctx,
		`SELECT `+memoryColumns+` FROM memory_records WHERE owner_id=$1 ORDER BY tier ASC, created_at DESC`, ownerID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*model.MemoryRecord
	for rows.Next() {
		rec, err := scanMemory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (m *memories) PruneExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := m.s.db.ExecContext(ctx, `
		DELETE FROM memory_records
		WHERE tier=$1 AND ttl IS NOT NULL AND ttl < $2`,
		string(model.TierEphemeral), now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMemory(row rowScanner) (*model.MemoryRecord, error) {
	var (
		rec          model.MemoryRecord
		tier, source string
		valueJSON    []byte
		topicsJSON   []byte
		ttl          sql.NullTime
	)
	err := row.Scan(&rec.ID, &rec.OwnerID, &tier, &rec.Key, &valueJSON, &source,
		&rec.Confidence, &ttl, &topicsJSON, &rec.IsPII, &rec.ConflictPriority, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	rec.Tier = model.Tier(tier)
	rec.Source = model.Source(source)
	if ttl.Valid {
		t := ttl.Time.UTC()
		rec.TTL = &t
	}
	rec.CreatedAt = rec.CreatedAt.UTC()
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	if err := json.Unmarshal(valueJSON, &rec.Value); err != nil {
		return nil, fmt.Errorf("unmarshal value: %w", err)
	}
	if err := json.Unmarshal(topicsJSON, &rec.Topics); err != nil {
		return nil, fmt.Errorf("unmarshal topics: %w", err)
	}
	return &rec, nil
}

// --- Sessions ---

type sessions struct{ s *pgStore }

func (se *sessions) Put(ctx context.Context, st *model.ClarificationState) error {
	if st.SessionID == "" {
		return model.ErrValidation
	}
	_, err := se.s.db.ExecContext(ctx, `
		INSERT INTO clarification_states (session_id, original_message, original_intent, question, ts)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (session_id) DO UPDATE SET
			original_message = EXCLUDED.original_message,
			original_intent = EXCLUDED.original_intent,
			question = EXCLUDED.question,
			ts = EXCLUDED.ts`,
		st.SessionID, st.OriginalMessage, string(st.OriginalIntent), st.ClarificationQuestion, st.Timestamp)
	return err
}

func (se *sessions) Get(ctx context.Context, sessionID string) (*model.ClarificationState, error) {
	var (
		st     model.ClarificationState
		intent string
	)
	row := se.s.db.QueryRowContext(ctx, `
		SELECT session_id, original_message, original_intent, question, ts
		FROM clarification_states WHERE session_id=$1`, sessionID)
	err := row.Scan(&st.SessionID, &st.OriginalMessage, &intent, &st.ClarificationQuestion, &st.Timestamp)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	st.OriginalIntent = model.Intent(intent)
	st.Timestamp = st.Timestamp.UTC()
	return &st, nil
}

func (se *sessions) Delete(ctx context.Context, sessionID string) error {
	_, err := se.s.db.ExecContext(ctx,
		`DELETE FROM clarification_states WHERE session_id=$1`, sessionID)
	return err
}

func (se *sessions) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := se.s.db.ExecContext(ctx,
		`DELETE FROM clarification_states WHERE ts < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// --- Rules ---

type rules struct{ s *pgStore }

func (r *rules) ListEnabled(ctx context.Context) ([]model.DietaryFilterRule, error) {
	rows, err := r.s.db.QueryContext(ctx, `
		SELECT id, type, condition, annotation_template, substitution_template, enabled
		FROM dietary_filter_rules WHERE enabled ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []model.DietaryFilterRule
	for rows.Next() {
		var (
			rule          model.DietaryFilterRule
			conditionJSON []byte
		)
		if err := rows.Scan(&rule.ID, &rule.Type, &conditionJSON, &rule.AnnotationTemplate, &rule.SubstitutionTemplate, &rule.Enabled); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(conditionJSON, &rule.Condition); err != nil {
			return nil, fmt.Errorf("unmarshal condition: %w", err)
		}
		out = append(out, rule)
	}
	return out, rows.Err()
}

// --- Preferences ---

type preferences struct{ s *pgStore }

func (p *preferences) Get(ctx context.Context, ownerID string) (*model.UserDietaryPreference, error) {
	var (
		pref                               model.UserDietaryPreference
		overridesJSON, allergJSON, relJSON []byte
	)
	row := p.s.db.QueryRowContext(ctx, `
		SELECT owner_id, diet_type, macro_overrides, allergens, religious_restrictions
		FROM user_preferences WHERE owner_id=$1`, ownerID)
	err := row.Scan(&pref.OwnerID, &pref.DietType, &overridesJSON, &allergJSON, &relJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(overridesJSON, &pref.MacroOverrides); err != nil {
		return nil, fmt.Errorf("unmarshal macro overrides: %w", err)
	}
	if err := json.Unmarshal(allergJSON, &pref.Allergens); err != nil {
		return nil, fmt.Errorf("unmarshal allergens: %w", err)
	}
	if err := json.Unmarshal(relJSON, &pref.ReligiousRestrictions); err != nil {
		return nil, fmt.Errorf("unmarshal religious restrictions: %w", err)
	}
	return &pref, nil
}

func (p *preferences) Put(ctx context.Context, pref *model.UserDietaryPreference) error {
	if pref.OwnerID == "" {
		return model.ErrValidation
	}
	overrides, err := json.Marshal(pref.MacroOverrides)
	if err != nil {
		return err
	}
	allergens, err := json.Marshal(emptyIfNil(pref.Allergens))
	if err != nil {
		return err
	}
	restrictions, err := json.Marshal(emptyIfNil(pref.ReligiousRestrictions))
	if err != nil {
		return err
	}
	_, err = p.s.db.ExecContext(ctx, `
		INSERT INTO user_preferences (owner_id, diet_type, macro_overrides, allergens, religious_restrictions)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (owner_id) DO UPDATE SET
			diet_type = EXCLUDED.diet_type,
			macro_overrides = EXCLUDED.macro_overrides,
			allergens = EXCLUDED.allergens,
			religious_restrictions = EXCLUDED.religious_restrictions`,
		pref.OwnerID, pref.DietType, overrides, allergens, restrictions)
	return err
}

// --- helpers ---

func emptyIfNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return model.ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
