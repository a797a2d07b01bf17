package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/nutrimind/coach-core/internal/api/respond"
	"github.com/nutrimind/coach-core/internal/memory"
)

// MemoryHandler serves user-data endpoints backed by the memory service.
type MemoryHandler struct {
	svc *memory.Service
}

func NewMemoryHandler(svc *memory.Service) *MemoryHandler {
	return &MemoryHandler{svc: svc}
}

// ExportMemories GET /api/users/{ownerId}/memories/export
func (h *MemoryHandler) ExportMemories(w http.ResponseWriter, r *http.Request) {
	ownerID := mux.Vars(r)["ownerId"]

	records, err := h.svc.Export(r.Context(), ownerID)
	if err != nil {
		respond.WriteInternalError(w, err.Error())
		return
	}
	respond.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"ownerId":  ownerID,
		"memories": records,
		"count":    len(records),
	})
}

// PurgeMemories DELETE /api/users/{ownerId}/memories
func (h *MemoryHandler) PurgeMemories(w http.ResponseWriter, r *http.Request) {
	ownerID := mux.Vars(r)["ownerId"]

	if err := h.svc.ForgetAll(r.Context(), ownerID); err != nil {
		respond.WriteInternalError(w, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
