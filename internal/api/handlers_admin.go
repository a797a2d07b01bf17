package api

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/nutrimind/coach-core/internal/api/respond"
	"github.com/nutrimind/coach-core/internal/store"
)

// AdminHandler exposes operational maintenance endpoints. The background
// sweeps run on their own; this endpoint forces an immediate pass, mainly
// for admin tooling and tests.
type AdminHandler struct {
	store  store.Store
	window time.Duration
	log    zerolog.Logger
}

func NewAdminHandler(st store.Store, window time.Duration, log zerolog.Logger) *AdminHandler {
	return &AdminHandler{store: st, window: window, log: log}
}

// Sweep POST /api/admin/sweep
func (h *AdminHandler) Sweep(w http.ResponseWriter, r *http.Request) {
	now := time.Now()

	sessions, err := h.store.Sessions().DeleteOlderThan(r.Context(), now.Add(-h.window))
	if err != nil {
		respond.WriteInternalError(w, err.Error())
		return
	}
	memories, err := h.store.Memories().PruneExpired(r.Context(), now)
	if err != nil {
		respond.WriteInternalError(w, err.Error())
		return
	}

	h.log.Info().Int64("sessions_removed", sessions).Int64("memories_pruned", memories).Msg("manual sweep completed")
	respond.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"sessionsRemoved": sessions,
		"memoriesPruned":  memories,
	})
}
