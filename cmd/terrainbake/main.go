// Package main bakes a region of terrain chunks to disk.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"time"

	"go.uber.org/zap"

	"github.com/Faultbox/midgard-terrain/internal/bake"
	"github.com/Faultbox/midgard-terrain/internal/config"
	"github.com/Faultbox/midgard-terrain/internal/engine/tasks"
	"github.com/Faultbox/midgard-terrain/internal/engine/terrain"
	"github.com/Faultbox/midgard-terrain/internal/logger"
)

var (
	flagX    = flag.Float64("x", 0, "Region center X")
	flagY    = flag.Float64("y", 0, "Region center Y")
	flagList = flag.Bool("list", false, "List the index instead of baking")
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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logger.Error("bake failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	b, err := bake.Open(bake.Options{
		OutputDir: cfg.Bake.OutputDir,
		IndexPath: cfg.Bake.IndexDB,
		Level:     cfg.Bake.CompressionLevel,
		Seed:      cfg.Terrain.Seed,
	})
	if err != nil {
		return err
	}

	if *flagList {
		records, err := b.Records(ctx)
		if err != nil {
			b.Close()
			return err
		}
		for _, r := range records {
			fmt.Printf("%-14s res=%-4d verts=%-6d ranges=%-3d seed=%d %s\n",
				r.Key, r.Resolution, r.Vertices, r.Ranges, r.Seed, r.Path)
		}
		return b.Close()
	}

	table, err := cfg.LODTable()
	if err != nil {
		b.Close()
		return err
	}
	var sched *tasks.Scheduler
	if cfg.Streaming.Async {
		sched = tasks.New(cfg.SchedulerOptions()...)
		defer sched.Close()
	}
	orch, err := terrain.New(cfg.OrchestratorConfig(), table, cfg.Sampler(), sched, terrain.WithSink(b))
	if err != nil {
		b.Close()
		return err
	}

	start := time.Now()
	logger.Info("baking region",
		zap.Float64("x", *flagX),
		zap.Float64("y", *flagY),
		zap.Float64("radius", cfg.Bake.Radius),
		zap.String("out", cfg.Bake.OutputDir),
	)
	if err := bake.Region(ctx, orch, *flagX, *flagY, cfg.Bake.Radius); err != nil {
		b.Close()
		return err
	}

	st := orch.Stats()
	logger.Info("bake complete",
		zap.Int("chunks", b.Written()),
		zap.Uint64("builds", st.Builds),
		zap.Uint64("failures", st.Failures),
		zap.Duration("elapsed", time.Since(start)),
	)
	return b.Close()
}
