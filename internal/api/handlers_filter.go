package api

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/nutrimind/coach-core/internal/api/respond"
	"github.com/nutrimind/coach-core/internal/filter"
	"github.com/nutrimind/coach-core/internal/store"
)

// FilterHandler exposes the dietary pipeline for admin test tooling.
type FilterHandler struct {
	store store.Store
	log   zerolog.Logger
}

func NewFilterHandler(st store.Store, log zerolog.Logger) *FilterHandler {
	return &FilterHandler{store: st, log: log}
}

// DryRun POST /api/filters/dry-run
// Runs the caller's payload through their configured filter pipeline without
// touching any conversational state. Used to preview what a meal would flag.
func (h *FilterHandler) DryRun(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OwnerID         string                 `json:"ownerId"`
		Payload         map[string]interface{} `json:"payload"`
		PersonaOverride bool                   `json:"personaOverride"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond.WriteBadRequest(w, "Invalid JSON")
		return
	}
	if req.OwnerID == "" {
		respond.WriteBadRequest(w, "ownerId is required")
		return
	}

	fp := filter.NewFromStore(r.Context(), h.store, req.OwnerID, h.log)
	result := fp.ApplyAll(req.Payload, req.PersonaOverride)
	respond.WriteJSON(w, http.StatusOK, result)
}
