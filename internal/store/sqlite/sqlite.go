// Package sqlite implements store.Store on SQLite via the cgo-free
// modernc.org driver. It is the local/dev and test backend.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"

	"github.com/nutrimind/coach-core/internal/model"
	"github.com/nutrimind/coach-core/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS memory_records (
	id                TEXT PRIMARY KEY,
	owner_id          TEXT NOT NULL,
	tier              TEXT NOT NULL,
	key               TEXT NOT NULL,
	value             TEXT NOT NULL,
	source            TEXT NOT NULL,
	confidence        REAL NOT NULL,
	ttl               INTEGER,
	topics            TEXT NOT NULL DEFAULT '[]',
	is_pii            INTEGER NOT NULL DEFAULT 0,
	conflict_priority INTEGER NOT NULL,
	created_at        INTEGER NOT NULL,
	updated_at        INTEGER NOT NULL,
	UNIQUE(owner_id, key)
);
CREATE INDEX IF NOT EXISTS idx_memory_owner ON memory_records(owner_id, conflict_priority DESC, created_at DESC);

CREATE TABLE IF NOT EXISTS clarification_states (
	session_id       TEXT PRIMARY KEY,
	original_message TEXT NOT NULL,
	original_intent  TEXT NOT NULL,
	question         TEXT NOT NULL,
	ts               INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS dietary_filter_rules (
	id                    TEXT PRIMARY KEY,
	type                  TEXT NOT NULL,
	condition             TEXT NOT NULL DEFAULT '{}',
	annotation_template   TEXT NOT NULL DEFAULT '',
	substitution_template TEXT NOT NULL DEFAULT '',
	enabled               INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS user_preferences (
	owner_id               TEXT PRIMARY KEY,
	diet_type              TEXT NOT NULL DEFAULT 'balanced',
	macro_overrides        TEXT NOT NULL DEFAULT '{}',
	allergens              TEXT NOT NULL DEFAULT '[]',
	religious_restrictions TEXT NOT NULL DEFAULT '[]'
);
`

// Open opens (or creates) a SQLite database at path with WAL and foreign keys
// enabled, and applies the schema.
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(wal)&_pragma=foreign_keys(on)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// SQLite allows one writer at a time, and a :memory: path gives every
	// pooled connection its own database. Pin the pool to a single
	// connection so concurrent callers serialize here instead of failing.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

// New opens a SQLite-backed store at path.
func New(path string) (store.Store, error) {
	db, err := Open(path)
	if err != nil {
		return nil, err
	}
	return NewWithDB(db), nil
}

// NewWithDB wires a store onto an existing connection (used by tests).
func NewWithDB(db *sql.DB) store.Store {
	return &sqliteStore{db: db}
}

type sqliteStore struct {
	db *sql.DB
}

func (s *sqliteStore) Memories() store.Memories       { return &memories{s} }
func (s *sqliteStore) Sessions() store.Sessions       { return &sessions{s} }
func (s *sqliteStore) Rules() store.Rules             { return &rules{s} }
func (s *sqliteStore) Preferences() store.Preferences { return &preferences{s} }

func (s *sqliteStore) HealthPing(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// newID returns a fresh ULID. ulid.Make locks its entropy source, so ids
// can be minted from concurrent request handlers.
func (s *sqliteStore) newID() string {
	return ulid.Make().String()
}

// --- Memories ---

type memories struct{ s *sqliteStore }

func nanosOrNil(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UnixNano()
}

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
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		out.ID, out.OwnerID, string(out.Tier), out.Key, string(valueJSON), string(out.Source),
		out.Confidence, nanosOrNil(out.TTL), string(topicsJSON), boolToInt(out.IsPII),
		out.ConflictPriority, now.UnixNano(), now.UnixNano())
	if err != nil {
		if isUniqueViolation(err) {
			return nil, model.ErrConflict
		}
		return nil, err
	}
	return &out, nil
}

// Upsert is a single conditional statement: the ON CONFLICT WHERE clause
// encodes the priority/confidence/recency comparison so two near-simultaneous
// writers cannot both win.
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
		VALUES (?,?,?,?,?,?,?,'[]',0,?,?,?)
		ON CONFLICT(owner_id, key) DO UPDATE SET
			value = excluded.value,
			source = excluded.source,
			confidence = excluded.confidence,
			conflict_priority = excluded.conflict_priority,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at
		WHERE excluded.conflict_priority > memory_records.conflict_priority
		   OR (excluded.conflict_priority = memory_records.conflict_priority
		       AND (excluded.confidence > memory_records.confidence
		            OR (excluded.confidence = memory_records.confidence
		                AND excluded.created_at >= memory_records.created_at)))
		RETURNING id`,
		id, ownerID, string(model.TierShortTerm), key, string(valueJSON), string(source),
		confidence, source.Priority(), now.UnixNano(), now.UnixNano())

	var winner string
	if err := row.Scan(&winner); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Existing record won; report its id.
			row := m.s.db.QueryRowContext(ctx,
				`SELECT id FROM memory_records WHERE owner_id=? AND key=?`, ownerID, key)
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
		`SELECT `+memoryColumns+` FROM memory_records WHERE owner_id=? AND id=?`, ownerID, id)
	return scanMemory(row)
}

func (m *memories) GetByKey(ctx context.Context, ownerID, key string) (*model.MemoryRecord, error) {
	row := m.s.db.QueryRowContext(ctx,
		`SELECT `+memoryColumns+` FROM memory_records WHERE owner_id=? AND key=?`, ownerID, key)
	return scanMemory(row)
}

func (m *memories) Query(ctx context.Context, q model.MemoryQuery) ([]*model.MemoryRecord, error) {
	sqlQ := `SELECT ` + memoryColumns + ` FROM memory_records WHERE owner_id=?`
	args := []interface{}{q.OwnerID}
	if q.Tier != "" {
		sqlQ += ` AND tier=?`
		args = append(args, string(q.Tier))
	}
	if q.MinConfidence > 0 {
		sqlQ += ` AND confidence>=?`
		args = append(args, q.MinConfidence)
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
	sets := "updated_at=?"
	args := []interface{}{time.Now().UTC().UnixNano()}
	if upd.Value != nil {
		b, err := json.Marshal(upd.Value)
		if err != nil {
			return fmt.Errorf("marshal value: %w", err)
		}
		sets += ", value=?"
		args = append(args, string(b))
	}
	if upd.Confidence != nil {
		sets += ", confidence=?"
		args = append(args, *upd.Confidence)
	}
	if upd.Topics != nil {
		b, err := json.Marshal(upd.Topics)
		if err != nil {
			return fmt.Errorf("marshal topics: %w", err)
		}
		sets += ", topics=?"
		args = append(args, string(b))
	}
	if upd.Tier != nil {
		sets += ", tier=?"
		args = append(args, string(*upd.Tier))
	}
	args = append(args, ownerID, id)
	res, err := m.s.db.ExecContext(ctx,
		`UPDATE memory_records SET `+sets+` WHERE owner_id=? AND id=?`, args...)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (m *memories) Promote(ctx context.Context, ownerID, id string) error {
	res, err := m.s.db.ExecContext(ctx, `
		UPDATE memory_records
		SET tier=?, confidence=1.0, ttl=NULL, updated_at=?
		WHERE owner_id=? AND id=?`,
		string(model.TierLongTerm), time.Now().UTC().UnixNano(), ownerID, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (m *memories) Delete(ctx context.Context, ownerID, id string) error {
	res, err := m.s.db.ExecContext(ctx,
		`DELETE FROM memory_records WHERE owner_id=? AND id=?`, ownerID, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (m *memories) DeleteAllForOwner(ctx context.Context, ownerID string) error {
	_, err := m.s.db.ExecContext(ctx,
		`DELETE FROM memory_records WHERE owner_id=?`, ownerID)
	return err
}

func (m *memories) ExportForOwner(ctx context.Context, ownerID string) ([]*model.MemoryRecord, error) {
	rows, err := m.s.db.QueryContext(ctx,
		`SELECT `+memoryColumns+` FROM memory_records WHERE owner_id=? ORDER BY tier ASC, created_at DESC`, ownerID)
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
		WHERE tier=? AND ttl IS NOT NULL AND ttl < ?`,
		string(model.TierEphemeral), now.UnixNano())
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
		rec            model.MemoryRecord
		tier, source   string
		valueJSON      string
		topicsJSON     string
		isPII          int
		ttlNanos       sql.NullInt64
		created, upped int64
	)
	err := row.Scan(&rec.ID, &rec.OwnerID, &tier, &rec.Key, &valueJSON, &source,
		&rec.Confidence, &ttlNanos, &topicsJSON, &isPII, &rec.ConflictPriority, &created, &upped)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	rec.Tier = model.Tier(tier)
	rec.Source = model.Source(source)
	rec.IsPII = isPII != 0
	rec.CreatedAt = time.Unix(0, created).UTC()
	rec.UpdatedAt = time.Unix(0, upped).UTC()
	if ttlNanos.Valid {
		t := time.Unix(0, ttlNanos.Int64).UTC()
		rec.TTL = &t
	}
	if err := json.Unmarshal([]byte(valueJSON), &rec.Value); err != nil {
		return nil, fmt.Errorf("unmarshal value: %w", err)
	}
	if err := json.Unmarshal([]byte(topicsJSON), &rec.Topics); err != nil {
		return nil, fmt.Errorf("unmarshal topics: %w", err)
	}
	return &rec, nil
}

// --- Sessions ---

type sessions struct{ s *sqliteStore }

func (se *sessions) Put(ctx context.Context, st *model.ClarificationState) error {
	if st.SessionID == "" {
		return model.ErrValidation
	}
	_, err := se.s.db.ExecContext(ctx, `
		INSERT INTO clarification_states (session_id, original_message, original_intent, question, ts)
		VALUES (?,?,?,?,?)
		ON CONFLICT(session_id) DO UPDATE SET
			original_message = excluded.original_message,
			original_intent = excluded.original_intent,
			question = excluded.question,
			ts = excluded.ts`,
		st.SessionID, st.OriginalMessage, string(st.OriginalIntent), st.ClarificationQuestion, st.Timestamp.UnixNano())
	return err
}

func (se *sessions) Get(ctx context.Context, sessionID string) (*model.ClarificationState, error) {
	var (
		st     model.ClarificationState
		intent string
		ts     int64
	)
	row := se.s.db.QueryRowContext(ctx, `
		SELECT session_id, original_message, original_intent, question, ts
		FROM clarification_states WHERE session_id=?`, sessionID)
	err := row.Scan(&st.SessionID, &st.OriginalMessage, &intent, &st.ClarificationQuestion, &ts)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	st.OriginalIntent = model.Intent(intent)
	st.Timestamp = time.Unix(0, ts).UTC()
	return &st, nil
}

func (se *sessions) Delete(ctx context.Context, sessionID string) error {
	_, err := se.s.db.ExecContext(ctx,
		`DELETE FROM clarification_states WHERE session_id=?`, sessionID)
	return err
}

func (se *sessions) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := se.s.db.ExecContext(ctx,
		`DELETE FROM clarification_states WHERE ts < ?`, cutoff.UnixNano())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// --- Rules ---

type rules struct{ s *sqliteStore }

func (r *rules) ListEnabled(ctx context.Context) ([]model.DietaryFilterRule, error) {
	rows, err := r.s.db.QueryContext(ctx, `
		SELECT id, type, condition, annotation_template, substitution_template, enabled
		FROM dietary_filter_rules WHERE enabled=1 ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []model.DietaryFilterRule
	for rows.Next() {
		var (
			rule          model.DietaryFilterRule
			conditionJSON string
			enabled       int
		)
		if err := rows.Scan(&rule.ID, &rule.Type, &conditionJSON, &rule.AnnotationTemplate, &rule.SubstitutionTemplate, &enabled); err != nil {
			return nil, err
		}
		rule.Enabled = enabled != 0
		if err := json.Unmarshal([]byte(conditionJSON), &rule.Condition); err != nil {
			return nil, fmt.Errorf("unmarshal condition: %w", err)
		}
		out = append(out, rule)
	}
	return out, rows.Err()
}

// --- Preferences ---

type preferences struct{ s *sqliteStore }

func (p *preferences) Get(ctx context.Context, ownerID string) (*model.UserDietaryPreference, error) {
	var (
		pref                               model.UserDietaryPreference
		overridesJSON, allergJSON, relJSON string
	)
	row := p.s.db.QueryRowContext(ctx, `
		SELECT owner_id, diet_type, macro_overrides, allergens, religious_restrictions
		FROM user_preferences WHERE owner_id=?`, ownerID)
	err := row.Scan(&pref.OwnerID, &pref.DietType, &overridesJSON, &allergJSON, &relJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(overridesJSON), &pref.MacroOverrides); err != nil {
		return nil, fmt.Errorf("unmarshal macro overrides: %w", err)
	}
	if err := json.Unmarshal([]byte(allergJSON), &pref.Allergens); err != nil {
		return nil, fmt.Errorf("unmarshal allergens: %w", err)
	}
	if err := json.Unmarshal([]byte(relJSON), &pref.ReligiousRestrictions); err != nil {
		return nil, fmt.Errorf("unmarshal religious restrictions: %w", err)
	}
	return &pref, nil
}

func (p *preferences) Put(ctx context.Context, pref *model.UserDietaryPreference) error {
	if pref.OwnerID == "" {
		return model.ErrValidation
	}
	overrides, err := json.Marshal(emptyMapIfNil(pref.MacroOverrides))
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
		VALUES (?,?,?,?,?)
		ON CONFLICT(owner_id) DO UPDATE SET
			diet_type = excluded.diet_type,
			macro_overrides = excluded.macro_overrides,
			allergens = excluded.allergens,
			religious_restrictions = excluded.religious_restrictions`,
		pref.OwnerID, pref.DietType, string(overrides), string(allergens), string(restrictions))
	return err
}

// --- helpers ---

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func emptyIfNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func emptyMapIfNil(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return map[string]interface{}{}
	}
	return m
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
	// modernc/sqlite surfaces SQLITE_CONSTRAINT_UNIQUE in the error text.
	return err != nil && strings.Contains(err.Error(), "constraint failed")
}
