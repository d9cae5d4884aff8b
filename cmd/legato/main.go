package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/emalani/legato/internal/cache"
	"github.com/emalani/legato/internal/config"
	"github.com/emalani/legato/internal/httpapi"
	"github.com/emalani/legato/internal/observability"
	"github.com/emalani/legato/internal/session"
	"github.com/emalani/legato/internal/synth"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	ctx := context.Background()
	store, err := cache.NewStore(ctx, cfg.DatabaseURL, cfg.CacheMaxBytes, cfg.CacheTTL)
	if err != nil {
		log.Fatalf("cache store init failed: %v", err)
	}
	defer store.Close()

	engine := selectEngine(cfg)
	defer engine.Close()

	sessions := session.NewManager(cfg.SessionInactivityTimeout, 0)

	generator := synth.NewGenerator(engine, cache.NewGroup(store))
	perf := observability.NewMonitor(generator, metrics)
	controller := synth.NewController(perf, sessions, synth.Options{
		Strategy:         cfg.ChunkStrategy,
		TargetChunkSize:  cfg.TargetChunkSize,
		MaxChunkSize:     cfg.MaxChunkSize,
		MinTextLength:    cfg.MinTextLength,
		OverlapSize:      cfg.OverlapSize,
		MaxConcurrency:   cfg.MaxConcurrency,
		ChunkTimeout:     cfg.ChunkTimeout,
		SessionTimeout:   cfg.SessionTimeout,
		Strict:           cfg.Strict,
		NoConsistency:    cfg.DisableConsistency,
		KeepOverlapAudio: !cfg.TrimOverlapAudio,
	})

	api := httpapi.New(cfg, controller, engine, sessions, perf, metrics)
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()
	sessions.StartJanitor(runCtx, 5*time.Second)
	go pruneLoop(runCtx, store)

	go func() {
		log.Printf("server listening on %s (engine %s)", cfg.BindAddr, engine.Name())
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("shutdown signal received")

	runCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = httpServer.Close()
	}

	log.Printf("shutdown complete")
}

func selectEngine(cfg config.Config) synth.Engine {
	tryExec := func(fatal bool) synth.Engine {
		if strings.TrimSpace(cfg.ExecCommand) == "" {
			if fatal {
				log.Fatalf("LEGATO_ENGINE=exec but LEGATO_EXEC_COMMAND is not set")
			}
			return nil
		}
		e, err := synth.NewExecEngine(synth.ExecConfig{
			Command:       cfg.ExecCommand,
			Args:          cfg.ExecArgs,
			DefaultVoice:  cfg.DefaultVoice,
			WarmupTimeout: cfg.ExecWarmupWindow,
		})
		if err != nil {
			if fatal {
				log.Fatalf("exec engine init failed: %v", err)
			}
			log.Printf("exec engine unavailable: %v", err)
			return nil
		}
		log.Printf("synthesis engine: exec worker (%s)", cfg.ExecCommand)
		return e
	}

	tryRemote := func(fatal bool) synth.Engine {
		if strings.TrimSpace(cfg.RemoteURL) == "" {
			if fatal {
				log.Fatalf("LEGATO_ENGINE=remote but LEGATO_REMOTE_URL is not set")
			}
			return nil
		}
		e, err := synth.NewRemoteEngine(synth.RemoteConfig{
			BaseURL: cfg.RemoteURL,
			APIKey:  cfg.RemoteAPIKey,
		})
		if err != nil {
			if fatal {
				log.Fatalf("remote engine init failed: %v", err)
			}
			log.Printf("remote engine unavailable: %v", err)
			return nil
		}
		log.Printf("synthesis engine: remote (%s)", cfg.RemoteURL)
		return e
	}

	switch cfg.Engine {
	case config.EngineExec:
		return tryExec(true)
	case config.EngineRemote:
		return tryRemote(true)
	case config.EngineMock:
		log.Printf("synthesis engine: mock")
		return synth.NewMockEngine(synth.MockConfig{})
	default: // auto
		if e := tryExec(false); e != nil {
			return e
		}
		if e := tryRemote(false); e != nil {
			return e
		}
		log.Printf("synthesis engine: mock (no worker command and no remote URL)")
		return synth.NewMockEngine(synth.MockConfig{})
	}
}

// pruneLoop evicts expired cache entries. The in-memory store prunes on
// access too; the postgres store relies on this sweep.
func pruneLoop(ctx context.Context, store cache.Store) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := store.Prune(ctx); err != nil {
				log.Printf("cache prune failed: %v", err)
			}
		}
	}
}
