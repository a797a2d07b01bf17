package api

import (
	"encoding/json"
	"net/http"

	"github.com/nutrimind/coach-core/internal/api/respond"
	"github.com/nutrimind/coach-core/internal/model"
	"github.com/nutrimind/coach-core/internal/pipeline"
)

// ChatHandler serves the conversational turn endpoint.
type ChatHandler struct {
	orch *pipeline.Orchestrator
}

func NewChatHandler(orch *pipeline.Orchestrator) *ChatHandler {
	return &ChatHandler{orch: orch}
}

// HandleTurn POST /api/chat/turn
func (h *ChatHandler) HandleTurn(w http.ResponseWriter, r *http.Request) {
	var req pipeline.TurnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond.WriteBadRequest(w, "Invalid JSON")
		return
	}
	if req.OwnerID == "" || req.SessionID == "" || req.Message == "" {
		respond.WriteBadRequest(w, "ownerId, sessionId and message are required")
		return
	}
	if req.Intent == "" {
		req.Intent = model.IntentMealLogging
	}

	res, err := h.orch.HandleTurn(r.Context(), req)
	if err != nil {
		respond.WriteInternalError(w, err.Error())
		return
	}
	respond.WriteJSON(w, http.StatusOK, res)
}
