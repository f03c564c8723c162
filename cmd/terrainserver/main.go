// Package main serves streamed terrain chunks to remote viewers.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/Faultbox/midgard-terrain/internal/config"
	"github.com/Faultbox/midgard-terrain/internal/engine/tasks"
	"github.com/Faultbox/midgard-terrain/internal/engine/terrain"
	"github.com/Faultbox/midgard-terrain/internal/logger"
	"github.com/Faultbox/midgard-terrain/internal/network/chunkstream"
)

func main() {
	config.ParseFlags()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config error: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(cfg.Logging.Level, cfg.Logging.LogFile); err != nil {
		fmt.Fprintf(os.Stderr, "Logger error: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg); err != nil {
		logger.Error("server error", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	table, err := cfg.LODTable()
	if err != nil {
		return err
	}

	var sched *tasks.Scheduler
	if cfg.Streaming.Async {
		sched = tasks.New(cfg.SchedulerOptions()...)
		defer sched.Close()
	}

	hub := chunkstream.NewHub(
		chunkstream.WithAllowedOrigins(cfg.Server.AllowedOrigins),
		chunkstream.WithWriteTimeout(cfg.Server.WriteTimeout),
		chunkstream.WithMaxRadius(cfg.Streaming.ViewRadius),
	)
	orch, err := terrain.New(cfg.OrchestratorConfig(), table, cfg.Sampler(), sched, terrain.WithSink(hub))
	if err != nil {
		return err
	}
	defer orch.Close()

	mux := http.NewServeMux()
	mux.Handle("/chunks", hub)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	srv := &http.Server{
		Addr:              cfg.Server.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("chunk stream listening",
			zap.String("addr", cfg.Server.Listen),
			zap.Int64("seed", cfg.Terrain.Seed),
			zap.Bool("async", cfg.Streaming.Async),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			cancel()
		}
		close(errCh)
	}()

	// The frame loop owns the orchestrator
	loopErr := hub.Run(ctx, orch, cfg.Server.FrameInterval)

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown", zap.Error(err))
	}

	if err := <-errCh; err != nil {
		return err
	}
	if errors.Is(loopErr, context.Canceled) {
		logger.Info("server stopped")
		return nil
	}
	return loopErr
}
