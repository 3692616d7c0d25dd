package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/seantiz/taskforge/internal/engine"
)

// Built-in runner names.
const (
	NameSleep = "sleep"
	NameEcho  = "echo"
	NameFail  = "fail"
)

// RegisterBuiltins adds the built-in runners to the registry.
func RegisterBuiltins(r *Registry) {
	r.Register(NameSleep, newSleep)
	r.Register(NameEcho, newEcho)
	r.Register(NameFail, newFail)
}

type sleepParams struct {
	DurationMS int `json:"duration_ms"`
	Steps      int `json:"steps"`
}

// newSleep builds a body that sleeps for duration_ms, split into steps with a
// step-progress report after each. It polls cancellation between steps, so a
// cancel lands within one step's delay.
func newSleep(params json.RawMessage) (engine.Runner, error) {
	p := sleepParams{Steps: 1}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, fmt.Errorf("sleep params: %w", err)
		}
	}
	if p.DurationMS < 0 {
		return nil, errors.New("sleep params: duration_ms must not be negative")
	}
	if p.Steps < 1 {
		p.Steps = 1
	}

	return engine.RunnerFunc(func(ctx context.Context, tc *engine.TaskContext) ([]byte, error) {
		stepDelay := time.Duration(p.DurationMS/p.Steps) * time.Millisecond
		for i := 1; i <= p.Steps; i++ {
			if tc.Cancelled() {
				return nil, engine.ErrCancelled
			}
			select {
			case <-time.After(stepDelay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			tc.ReportStep(i, p.Steps, fmt.Sprintf("slept %d of %d steps", i, p.Steps))
		}
		return json.Marshal(map[string]int{"slept_ms": p.DurationMS})
	}), nil
}

// newEcho builds a body that returns its parameters as the task result.
func newEcho(params json.RawMessage) (engine.Runner, error) {
	if len(params) > 0 && !json.Valid(params) {
		return nil, errors.New("echo params: invalid JSON")
	}
	return engine.RunnerFunc(func(context.Context, *engine.TaskContext) ([]byte, error) {
		if len(params) == 0 {
			return json.RawMessage(`null`), nil
		}
		return params, nil
	}), nil
}

type failParams struct {
	Message string `json:"message"`
}

// newFail builds a body that fails with the configured message. Useful for
// exercising failure handling end to end.
func newFail(params json.RawMessage) (engine.Runner, error) {
	p := failParams{Message: "intentional failure"}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, fmt.Errorf("fail params: %w", err)
		}
	}
	return engine.RunnerFunc(func(context.Context, *engine.TaskContext) ([]byte, error) {
		return nil, errors.New(p.Message)
	}), nil
}
