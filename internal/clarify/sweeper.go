package clarify

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Sweeper expires stale clarification states on a wall-clock tick. It runs
// independently of any request; the session store's own locking keeps the
// sweep safe against concurrent handler access.
type Sweeper struct {
	sessions SessionStore
	window   time.Duration
	interval time.Duration
	log      zerolog.Logger
	now      func() time.Time
}

func NewSweeper(sessions SessionStore, window, interval time.Duration, log zerolog.Logger) *Sweeper {
	return &Sweeper{sessions: sessions, window: window, interval: interval, log: log, now: time.Now}
}

// Run sweeps until ctx is cancelled. Expired states are dropped silently;
// the user is never notified.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick performs a single sweep pass.
func (s *Sweeper) Tick(ctx context.Context) {
	n, err := s.sessions.DeleteOlderThan(ctx, s.now().Add(-s.window))
	if err != nil {
		s.log.Error().Err(err).Msg("clarification sweep failed")
		return
	}
	if n > 0 {
		s.log.Info().Int64("expired", n).Msg("cleared stale clarification states")
	}
}
