package api

import (
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/nutrimind/coach-core/internal/api/recovery"
	"github.com/nutrimind/coach-core/internal/memory"
	"github.com/nutrimind/coach-core/internal/pipeline"
	"github.com/nutrimind/coach-core/internal/store"
)

// NewRouter wires all API routes onto a mux router. clarificationWindow is
// the max age of pending clarification states, used by the manual sweep.
func NewRouter(orch *pipeline.Orchestrator, memories *memory.Service, st store.Store, clarificationWindow time.Duration, log zerolog.Logger) *mux.Router {
	router := mux.NewRouter()
	router.Use(RequestID, recovery.Middleware)

	chatHandler := NewChatHandler(orch)
	memoryHandler := NewMemoryHandler(memories)
	filterHandler := NewFilterHandler(st, log)
	healthHandler := NewHealthHandler(st)
	adminHandler := NewAdminHandler(st, clarificationWindow, log)

	// Health endpoints
	router.HandleFunc("/api/health", healthHandler.CheckHealth).Methods("GET")
	router.HandleFunc("/api/health/db", healthHandler.CheckStoreHealth).Methods("GET")

	// Conversational turn
	router.HandleFunc("/api/chat/turn", chatHandler.HandleTurn).Methods("POST")

	// User data endpoints
	router.HandleFunc("/api/users/{ownerId}/memories/export", memoryHandler.ExportMemories).Methods("GET")
	router.HandleFunc("/api/users/{ownerId}/memories", memoryHandler.PurgeMemories).Methods("DELETE")

	// Admin tooling
	router.HandleFunc("/api/filters/dry-run", filterHandler.DryRun).Methods("POST")
	router.HandleFunc("/api/admin/sweep", adminHandler.Sweep).Methods("POST")

	return router
}
