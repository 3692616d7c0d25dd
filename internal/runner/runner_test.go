package runner_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/seantiz/taskforge/internal/engine"
	"github.com/seantiz/taskforge/internal/model"
	"github.com/seantiz/taskforge/internal/pool"
	"github.com/seantiz/taskforge/internal/runner"
	"github.com/seantiz/taskforge/internal/store"
)

func newTestEngine(t *testing.T) *engine.Engine {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))

	s := store.NewMemoryStore()
	t.Cleanup(func() { s.Close() })

	pools := pool.NewManager(pool.Config{ComputeWorkers: 2, IOWorkers: 1, BlockingWorkers: 1}, logger)
	if err := pools.Initialize(context.Background()); err != nil {
		t.Fatalf("pools.Initialize: %v", err)
	}

	eng := engine.NewEngine(engine.Config{}, s, pools, logger)
	if err := eng.Initialize(context.Background()); err != nil {
		t.Fatalf("engine.Initialize: %v", err)
	}

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		eng.Shutdown(ctx)
		pools.Shutdown(ctx)
	})
	return eng
}

// runByName resolves a built-in, submits it, and waits for a terminal status.
func runByName(t *testing.T, eng *engine.Engine, name string, params json.RawMessage) *model.Task {
	t.Helper()
	reg := runner.NewRegistry()
	runner.RegisterBuiltins(reg)

	factory, err := reg.Resolve(name)
	if err != nil {
		t.Fatalf("Resolve(%q): %v", name, err)
	}
	body, err := factory(params)
	if err != nil {
		t.Fatalf("factory(%q): %v", name, err)
	}

	id, err := eng.Submit(context.Background(), engine.NewDescriptor(name, body))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	got, err := eng.WaitFor(context.Background(), id, 5*time.Second)
	if err != nil {
		t.Fatalf("WaitFor: %v", err)
	}
	return got
}

func TestRegistryRegisterAndList(t *testing.T) {
	reg := runner.NewRegistry()
	reg.Register("zeta", func(json.RawMessage) (engine.Runner, error) { return nil, nil })
	reg.Register("alpha", func(json.RawMessage) (engine.Runner, error) { return nil, nil })

	list := reg.List()
	if len(list) != 2 || list[0] != "alpha" || list[1] != "zeta" {
		t.Errorf("List() = %v, want [alpha zeta]", list)
	}
}

func TestRegistryResolveUnknown(t *testing.T) {
	reg := runner.NewRegistry()
	if _, err := reg.Resolve("nonexistent"); err == nil {
		t.Error("expected error for unregistered runner, got nil")
	}
}

func TestRegisterBuiltins(t *testing.T) {
	reg := runner.NewRegistry()
	runner.RegisterBuiltins(reg)

	list := reg.List()
	want := []string{runner.NameEcho, runner.NameFail, runner.NameSleep}
	if len(list) != len(want) {
		t.Fatalf("List() = %v, want %v", list, want)
	}
	for i, name := range want {
		if list[i] != name {
			t.Errorf("List()[%d] = %q, want %q", i, list[i], name)
		}
	}
}

func TestSleepRunner(t *testing.T) {
	eng := newTestEngine(t)

	got := runByName(t, eng, runner.NameSleep, json.RawMessage(`{"duration_ms":100,"steps":4}`))
	if got.Status != model.StatusCompleted {
		t.Fatalf("status = %q, want completed (error: %s)", got.Status, got.Error)
	}

	var result map[string]int
	if err := json.Unmarshal(got.Result, &result); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if result["slept_ms"] != 100 {
		t.Errorf("slept_ms = %d, want 100", result["slept_ms"])
	}
	// The final engine-recorded progress supersedes the last step report.
	if got.Progress == nil || got.Progress.Percent != 100 {
		t.Errorf("final progress = %+v, want 100", got.Progress)
	}
}

func TestSleepRunnerReportsSteps(t *testing.T) {
	eng := newTestEngine(t)

	reg := runner.NewRegistry()
	runner.RegisterBuiltins(reg)
	factory, _ := reg.Resolve(runner.NameSleep)
	body, err := factory(json.RawMessage(`{"duration_ms":200,"steps":4}`))
	if err != nil {
		t.Fatalf("factory: %v", err)
	}

	id, err := eng.Submit(context.Background(), engine.NewDescriptor("stepped sleep", body))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	ch, unsub := eng.Subscribe(id)
	defer unsub()

	sawSteps := false
	for p := range ch {
		if p.TotalSteps == 4 && p.CurrentStep >= 1 {
			sawSteps = true
		}
	}
	if !sawSteps {
		t.Error("expected step-based progress reports with total_steps = 4")
	}
}

func TestSleepRunnerCancellation(t *testing.T) {
	eng := newTestEngine(t)

	reg := runner.NewRegistry()
	runner.RegisterBuiltins(reg)
	factory, _ := reg.Resolve(runner.NameSleep)
	body, err := factory(json.RawMessage(`{"duration_ms":10000,"steps":100}`))
	if err != nil {
		t.Fatalf("factory: %v", err)
	}

	id, err := eng.Submit(context.Background(), engine.NewDescriptor("long sleep", body))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	// Give the body time to start, then cancel.
	deadline := time.Now().Add(5 * time.Second)
	for {
		tk, err := eng.Get(context.Background(), id)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if tk.Status == model.StatusRunning {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("task never started, status %q", tk.Status)
		}
		time.Sleep(10 * time.Millisecond)
	}
	if _, err := eng.Cancel(context.Background(), id); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	got, err := eng.WaitFor(context.Background(), id, 5*time.Second)
	if err != nil {
		t.Fatalf("WaitFor: %v", err)
	}
	if got.Status != model.StatusCancelled {
		t.Errorf("status = %q, want cancelled", got.Status)
	}
}

func TestSleepRunnerRejectsBadParams(t *testing.T) {
	reg := runner.NewRegistry()
	runner.RegisterBuiltins(reg)
	factory, _ := reg.Resolve(runner.NameSleep)

	if _, err := factory(json.RawMessage(`{"duration_ms":-5}`)); err == nil {
		t.Error("negative duration should be rejected")
	}
	if _, err := factory(json.RawMessage(`{bad json`)); err == nil {
		t.Error("malformed params should be rejected")
	}
}

func TestEchoRunner(t *testing.T) {
	eng := newTestEngine(t)

	params := json.RawMessage(`{"greeting":"hello","n":3}`)
	got := runByName(t, eng, runner.NameEcho, params)
	if got.Status != model.StatusCompleted {
		t.Fatalf("status = %q, want completed", got.Status)
	}
	if string(got.Result) != string(params) {
		t.Errorf("result = %s, want the params echoed back", got.Result)
	}
}

func TestEchoRunnerNoParams(t *testing.T) {
	eng := newTestEngine(t)

	got := runByName(t, eng, runner.NameEcho, nil)
	if got.Status != model.StatusCompleted {
		t.Fatalf("status = %q, want completed", got.Status)
	}
	if string(got.Result) != "null" {
		t.Errorf("result = %s, want null", got.Result)
	}
}

func TestEchoRunnerRejectsInvalidJSON(t *testing.T) {
	reg := runner.NewRegistry()
	runner.RegisterBuiltins(reg)
	factory, _ := reg.Resolve(runner.NameEcho)

	if _, err := factory(json.RawMessage(`{not json`)); err == nil {
		t.Error("invalid JSON params should be rejected")
	}
}

func TestFailRunner(t *testing.T) {
	eng := newTestEngine(t)

	got := runByName(t, eng, runner.NameFail, json.RawMessage(`{"message":"synthetic outage"}`))
	if got.Status != model.StatusFailed {
		t.Fatalf("status = %q, want failed", got.Status)
	}
	if got.Error != "synthetic outage" {
		t.Errorf("error = %q, want the configured message", got.Error)
	}
}

func TestFailRunnerDefaultMessage(t *testing.T) {
	eng := newTestEngine(t)

	got := runByName(t, eng, runner.NameFail, nil)
	if got.Status != model.StatusFailed {
		t.Fatalf("status = %q, want failed", got.Status)
	}
	if got.Error != "intentional failure" {
		t.Errorf("error = %q, want the default message", got.Error)
	}
}
