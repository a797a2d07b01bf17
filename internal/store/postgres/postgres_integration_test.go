package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"testing"

	"github.com/nutrimind/coach-core/internal/model"
	"github.com/nutrimind/coach-core/internal/store"
	"github.com/nutrimind/coach-core/internal/store/storetest"
)

func makePGDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("COACH_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("COACH_POSTGRES_DSN not set; skipping postgres store integration test")
	}
	db, err := Open(dsn)
	if err != nil {
		t.Fatalf("postgres open: %v", err)
	}
	if err := Bootstrap(context.Background(), db); err != nil {
		t.Fatalf("postgres bootstrap: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func makePGStore(t *testing.T) store.Store {
	t.Helper()
	return NewWithDB(makePGDB(t))
}

func TestPostgresStore_Compliance(t *testing.T) {
	storetest.Run(t, makePGStore)
}

func TestPostgresStore_ListEnabledRules(t *testing.T) {
	db := makePGDB(t)

	storetest.RunRules(t, NewWithDB(db), func(t *testing.T, rules []model.DietaryFilterRule) {
		for _, r := range rules {
			cond, err := json.Marshal(r.Condition)
			if err != nil {
				t.Fatalf("marshal condition: %v", err)
			}
			if _, err := db.Exec(
				`INSERT INTO dietary_filter_rules (id, type, condition, enabled) VALUES ($1, $2, $3, $4)`,
				r.ID, r.Type, string(cond), r.Enabled); err != nil {
				t.Fatalf("seed rule %s: %v", r.ID, err)
			}
			rid := r.ID
			t.Cleanup(func() {
				_, _ = db.Exec(`DELETE FROM dietary_filter_rules WHERE id = $1`, rid)
			})
		}
	})
}
