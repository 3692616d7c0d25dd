package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/seantiz/taskforge/internal/api"
	"github.com/seantiz/taskforge/internal/config"
	"github.com/seantiz/taskforge/internal/engine"
	"github.com/seantiz/taskforge/internal/lifecycle"
	"github.com/seantiz/taskforge/internal/pool"
	"github.com/seantiz/taskforge/internal/runner"
	"github.com/seantiz/taskforge/internal/store"
)

const (
	startupTimeout  = 30 * time.Second
	shutdownTimeout = 30 * time.Second
)

func main() {
	// A .env file is optional; real environment variables win.
	_ = godotenv.Load()

	cfg := config.Load()
	logger := config.NewLogger(os.Stdout, cfg.LogLevel)

	logger.Info("taskforge: starting",
		"listen_addr", cfg.ListenAddr,
	)

	st := store.NewMemoryStore()
	pools := pool.NewManager(pool.Config{
		ComputeWorkers:  cfg.ComputeWorkers,
		IOWorkers:       cfg.IOWorkers,
		BlockingWorkers: cfg.BlockingWorkers,
	}, logger)
	eng := engine.NewEngine(engine.Config{
		DefaultTimeoutS: cfg.DefaultTimeoutS,
		MaxConcurrent:   cfg.MaxConcurrent,
		MaxQueueDepth:   cfg.MaxQueueDepth,
	}, st, pools, logger)

	managers := lifecycle.NewRegistry()
	managers.Register(pools)
	managers.Register(eng)

	initCtx, cancelInit := context.WithTimeout(context.Background(), startupTimeout)
	err := managers.InitializeAll(initCtx)
	cancelInit()
	if err != nil {
		log.Fatalf("failed to initialize: %v", err)
	}

	runners := runner.NewRegistry()
	runner.RegisterBuiltins(runners)

	srv := api.NewServer(cfg.ListenAddr, eng, runners, managers, logger)
	runErr := srv.Run()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()
	if err := managers.ShutdownAll(shutdownCtx); err != nil {
		logger.Error("shutdown", "error", err)
	}

	if runErr != nil {
		log.Fatalf("server error: %v", runErr)
	}
	logger.Info("taskforge: stopped")
}
