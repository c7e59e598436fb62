// Command kgforge runs the knowledge-graph build and query server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kgforge/kgforge/internal/api"
	"github.com/kgforge/kgforge/internal/config"
	"github.com/kgforge/kgforge/internal/extractor"
	"github.com/kgforge/kgforge/internal/hooks"
	"github.com/kgforge/kgforge/internal/limiter"
	"github.com/kgforge/kgforge/internal/neo4jdb"
	"github.com/kgforge/kgforge/internal/service"
	"github.com/kgforge/kgforge/internal/store"
	"github.com/kgforge/kgforge/internal/ws"
)

// version is stamped at build time via -ldflags.
var version = "dev"

const shutdownTimeout = 15 * time.Second

func main() {
	configPath := flag.String("config", defaultConfigPath(), "path to the YAML configuration file")
	flag.Parse()

	log := logrus.New()

	if err := run(log, *configPath); err != nil {
		log.WithError(err).Fatal("server exited")
	}
}

func defaultConfigPath() string {
	if p := os.Getenv("KGFORGE_CONFIG"); p != "" {
		return p
	}

	return "config.yaml"
}

func run(log *logrus.Logger, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("invalid log_level %q: %w", cfg.LogLevel, err)
	}

	log.SetLevel(level)

	appCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := neo4jdb.New(appCtx, cfg.Neo4j, cfg.Neo4jPassword, log)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := db.Close(closeCtx); err != nil {
			log.WithError(err).Warn("closing neo4j driver")
		}
	}()

	stateStore := store.NewStateStore(db, log)
	graphStore := store.NewGraphStore(db, log)

	if err := stateStore.EnsureSchema(appCtx); err != nil {
		return err
	}

	// Any build that was running when the previous process died is failed
	// now, before the listener can admit new triggers.
	if err := stateStore.RecoverOnStartup(appCtx); err != nil {
		return err
	}

	dataHooks, err := hooks.Load(appCtx, cfg.Hooks, log)
	if err != nil {
		return err
	}

	llmLimiter := limiter.New("llm", cfg.LLM.Concurrency, cfg.LLM.RateLimit, cfg.LLM.Retry, log)
	embLimiter := limiter.New("embeddings", cfg.Embeddings.Concurrency, cfg.Embeddings.RateLimit, cfg.Embeddings.Retry, log)

	ext := extractor.New(
		extractor.NewChatClient(cfg.LLM, cfg.LLMAPIKey),
		extractor.NewEmbeddingsClient(cfg.Embeddings, cfg.EmbAPIKey),
		llmLimiter,
		embLimiter,
		cfg.LLM.Concurrency.MaxInFlight,
		log,
	)

	hub := ws.NewHub(log)
	go hub.Run(appCtx)

	buildSvc := service.NewBuildService(appCtx, stateStore, graphStore, dataHooks, ext, hub, cfg.Retention, cfg.Task, log)
	querySvc := service.NewQueryService(stateStore, graphStore, cfg.Query)

	router := api.NewRouter(appCtx, &api.RouterDeps{
		Log:         log,
		DB:          db,
		Hub:         hub,
		Build:       buildSvc,
		Status:      stateStore,
		Query:       querySvc,
		APIKey:      cfg.ServerAPIKey,
		CORSOrigins: cfg.Server.CORSAllowOrigins,
		Version:     version,
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)

	go func() {
		log.WithField("addr", srv.Addr).Info("server listening")

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-appCtx.Done():
	}

	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http shutdown")
	}

	// The cancelled app context aborts any running pipeline; wait for it to
	// settle its task state before closing stores.
	buildSvc.Wait()
	hub.Shutdown()

	log.Info("shutdown complete")

	return nil
}
