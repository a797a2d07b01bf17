package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nutrimind/coach-core/internal/api"
	"github.com/nutrimind/coach-core/internal/clarify"
	"github.com/nutrimind/coach-core/internal/completion"
	"github.com/nutrimind/coach-core/internal/config"
	"github.com/nutrimind/coach-core/internal/factory"
	"github.com/nutrimind/coach-core/internal/memory"
	"github.com/nutrimind/coach-core/internal/nutrition"
	"github.com/nutrimind/coach-core/internal/pipeline"
	"github.com/nutrimind/coach-core/internal/platform/logger"
	"github.com/nutrimind/coach-core/internal/render"
)

func main() {
	// Optional build-target flag override (local | cloud)
	buildTarget := flag.String("build-target", "", "Override BUILD_TARGET (local, cloud)")
	flag.Parse()

	log := logger.New("coach-service", "info")

	cfg, err := config.New()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	log = logger.New("coach-service", cfg.LogLevel)
	if *buildTarget != "" {
		cfg.BuildTarget = *buildTarget
		if err := cfg.ResolveDefaults(); err != nil {
			log.Fatal().Err(err).Msg("Invalid build-target override")
		}
	}

	log.Info().
		Str("build_target", cfg.BuildTarget).
		Str("db_driver", cfg.DBDriver).
		Int("http_port", cfg.HTTPPort).
		Msg("Coach service starting…")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// -------- Storage layer -----------------
	st, err := factory.NewStore(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Store unavailable")
	}

	// -------- Turn pipeline -----------------
	llm := completion.NewOpenAIClient(cfg.CompletionBaseURL, cfg.CompletionAPIKey, cfg.CompletionModel, cfg.CompletionTimeout)

	// Clarification state shares the store so multiple instances see the
	// same pending questions.
	sessions := st.Sessions()
	clarifier := clarify.NewEngine(sessions, llm, log)

	var resolverOpts []nutrition.Option
	if cfg.NutritionResolverURL != "" {
		resolverOpts = append(resolverOpts, nutrition.WithHTTPResolver(cfg.NutritionResolverURL, cfg.CompletionTimeout))
	}
	resolver := nutrition.NewResolver(log, resolverOpts...)

	memories := memory.NewService(st, log)
	orch := pipeline.NewOrchestrator(
		clarifier,
		memories,
		st,
		render.New(render.DefaultRegistry(), log),
		pipeline.NutritionHandler(resolver),
		log,
	)

	// -------- Background sweeps -------------
	sweeper := clarify.NewSweeper(sessions, cfg.ClarificationWindow, cfg.ClarificationSweep, log)
	go sweeper.Run(ctx)
	go memories.SweepLoop(ctx, cfg.MemorySweep)

	// -------- Router & Server ---------------
	router := api.NewRouter(orch, memories, st, cfg.ClarificationWindow, log)
	server := &http.Server{
		Addr:         cfg.GetHTTPAddr(),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Int("port", cfg.HTTPPort).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server…")
	cancel()
	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := server.Shutdown(ctxShutdown); err != nil {
		log.Fatal().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited")
}
