// taskdemo drives the task engine without the HTTP layer: it submits a
// handful of builtin tasks, cancels one mid-flight, and reports how each
// settles. It exits non-zero if any task ends in an unexpected status.
package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"time"

	"github.com/seantiz/taskforge/internal/config"
	"github.com/seantiz/taskforge/internal/engine"
	"github.com/seantiz/taskforge/internal/lifecycle"
	"github.com/seantiz/taskforge/internal/model"
	"github.com/seantiz/taskforge/internal/pool"
	"github.com/seantiz/taskforge/internal/runner"
	"github.com/seantiz/taskforge/internal/store"
)

func main() {
	cfg := config.Load()
	logger := config.NewLogger(os.Stdout, cfg.LogLevel)

	st := store.NewMemoryStore()
	pools := pool.NewManager(pool.Config{}, logger)
	eng := engine.NewEngine(engine.Config{}, st, pools, logger)

	managers := lifecycle.NewRegistry()
	managers.Register(pools)
	managers.Register(eng)
	if err := managers.InitializeAll(context.Background()); err != nil {
		log.Fatalf("failed to initialize: %v", err)
	}

	runners := runner.NewRegistry()
	runner.RegisterBuiltins(runners)

	ctx := context.Background()
	failures := 0

	// A step-reporting sleep, watched over its progress stream.
	stepperID := mustSubmit(ctx, eng, runners, "demo-steps", runner.NameSleep,
		`{"duration_ms":500,"steps":5}`, nil)
	progressCh, unsubscribe := eng.Subscribe(stepperID)
	go func() {
		for p := range progressCh {
			logger.Info("progress",
				"task_id", stepperID,
				"percent", p.Percent,
				"message", p.Message,
			)
		}
	}()

	// A body that returns an error.
	failID := mustSubmit(ctx, eng, runners, "demo-fail", runner.NameFail,
		`{"message":"demo failure"}`, nil)

	// A long sleep cancelled mid-flight.
	cancelID := mustSubmit(ctx, eng, runners, "demo-cancel", runner.NameSleep,
		`{"duration_ms":30000,"steps":300}`, nil)
	time.AfterFunc(200*time.Millisecond, func() {
		if _, err := eng.Cancel(ctx, cancelID); err != nil {
			logger.Error("cancel", "task_id", cancelID, "error", err)
		}
	})

	// An echo routed to the io pool at high priority.
	echoID := mustSubmit(ctx, eng, runners, "demo-echo", runner.NameEcho,
		`{"greeting":"hello"}`, func(d *engine.Descriptor) {
			d.Category = model.CategoryIO
			d.Priority = model.PriorityHigh
		})

	expected := map[string]string{
		stepperID: model.StatusCompleted,
		failID:    model.StatusFailed,
		cancelID:  model.StatusCancelled,
		echoID:    model.StatusCompleted,
	}
	for id, want := range expected {
		rec, err := eng.WaitFor(ctx, id, 15*time.Second)
		if err != nil {
			logger.Error("wait", "task_id", id, "error", err)
			failures++
			continue
		}
		logger.Info("task settled",
			"task_id", id,
			"name", rec.Name,
			"status", rec.Status,
			"error", rec.Error,
			"result", string(rec.Result),
		)
		if rec.Status != want {
			logger.Error("unexpected status", "task_id", id, "got", rec.Status, "want", want)
			failures++
		}
	}
	unsubscribe()

	if stats, err := eng.Stats(ctx); err == nil {
		logger.Info("engine stats", "total", stats.Tasks.Total, "by_status", stats.Tasks.ByStatus)
	}
	removed, err := eng.Cleanup(ctx, 0)
	if err != nil {
		logger.Error("cleanup", "error", err)
	} else {
		logger.Info("cleanup", "removed", removed)
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	err = managers.ShutdownAll(shutdownCtx)
	cancelShutdown()
	if err != nil {
		logger.Error("shutdown", "error", err)
		failures++
	}

	if failures > 0 {
		os.Exit(1)
	}
}

func mustSubmit(ctx context.Context, eng *engine.Engine, runners *runner.Registry, name, factoryName, params string, mutate func(*engine.Descriptor)) string {
	factory, err := runners.Resolve(factoryName)
	if err != nil {
		log.Fatalf("resolve %s: %v", factoryName, err)
	}
	body, err := factory(json.RawMessage(params))
	if err != nil {
		log.Fatalf("build %s runner: %v", factoryName, err)
	}
	d := engine.NewDescriptor(name, body)
	if mutate != nil {
		mutate(&d)
	}
	id, err := eng.Submit(ctx, d)
	if err != nil {
		log.Fatalf("submit %s: %v", name, err)
	}
	return id
}
