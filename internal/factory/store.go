// Package factory builds configured infrastructure for the service binary.
package factory

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/nutrimind/coach-core/internal/config"
	storepkg "github.com/nutrimind/coach-core/internal/store"
	storepg "github.com/nutrimind/coach-core/internal/store/postgres"
	storelite "github.com/nutrimind/coach-core/internal/store/sqlite"
)

// NewStore returns the store selected by cfg.DBDriver. SQLite backs the
// local target, Postgres the cloud target. Postgres schema bootstrap runs
// async so startup never blocks on a slow database.
func NewStore(ctx context.Context, cfg *config.Config, log zerolog.Logger) (storepkg.Store, error) {
	switch cfg.DBDriver {
	case "sqlite":
		st, err := storelite.New(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return st, nil

	case "postgres":
		if cfg.PostgresDSN == "" {
			return nil, fmt.Errorf("COACH_POSTGRES_DSN is required when DB_DRIVER=postgres")
		}
		db, err := storepg.Open(cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}

		go func() {
			bootstrapCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			defer cancel()
			if err := storepg.Bootstrap(bootstrapCtx, db); err != nil {
				log.Warn().Err(err).Msg("postgres bootstrap check failed")
			} else {
				log.Debug().Msg("postgres bootstrap check completed")
			}
		}()

		return storepg.NewWithDB(db), nil

	default:
		return nil, fmt.Errorf("unknown DB_DRIVER: %s", cfg.DBDriver)
	}
}
