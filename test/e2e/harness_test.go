package e2e

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/seantiz/taskforge/internal/api"
	"github.com/seantiz/taskforge/internal/engine"
	"github.com/seantiz/taskforge/internal/lifecycle"
	"github.com/seantiz/taskforge/internal/pool"
	"github.com/seantiz/taskforge/internal/runner"
	"github.com/seantiz/taskforge/internal/store"
)

// taskServer is a full-stack server over the in-memory store, the worker
// pools, and the builtin runners.
type taskServer struct {
	ts *httptest.Server
}

func newTaskServer(t *testing.T, ecfg engine.Config, pcfg pool.Config) *taskServer {
	t.Helper()

	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	st := store.NewMemoryStore()
	pools := pool.NewManager(pcfg, logger)
	eng := engine.NewEngine(ecfg, st, pools, logger)

	managers := lifecycle.NewRegistry()
	managers.Register(pools)
	managers.Register(eng)
	if err := managers.InitializeAll(context.Background()); err != nil {
		t.Fatalf("InitializeAll: %v", err)
	}

	runners := runner.NewRegistry()
	runner.RegisterBuiltins(runners)

	srv := api.NewServer(":0", eng, runners, managers, logger)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(func() {
		ts.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := managers.ShutdownAll(ctx); err != nil {
			t.Errorf("ShutdownAll: %v", err)
		}
	})

	return &taskServer{ts: ts}
}

func (s *taskServer) url() string { return s.ts.URL }

// submit posts a raw JSON task request and requires a 202.
func (s *taskServer) submit(t *testing.T, body string) map[string]any {
	t.Helper()
	resp, err := http.Post(s.url()+"/v1/tasks", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		b, _ := io.ReadAll(resp.Body)
		t.Fatalf("status = %d, want 202\nbody: %s", resp.StatusCode, b)
	}
	var rec map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return rec
}

func (s *taskServer) get(t *testing.T, id string) map[string]any {
	t.Helper()
	resp, err := http.Get(s.url() + "/v1/tasks/" + id)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET %s status = %d", id, resp.StatusCode)
	}
	var rec map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return rec
}

// wait blocks on the wait endpoint and requires the task to settle.
func (s *taskServer) wait(t *testing.T, id string) map[string]any {
	t.Helper()
	resp, err := http.Get(s.url() + "/v1/tasks/" + id + "/wait?timeout_s=15")
	if err != nil {
		t.Fatalf("GET wait: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		t.Fatalf("wait status = %d\nbody: %s", resp.StatusCode, b)
	}
	var rec map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return rec
}

func (s *taskServer) cancel(t *testing.T, id string) (int, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(http.MethodDelete, s.url()+"/v1/tasks/"+id, nil)
	if err != nil {
		t.Fatalf("build DELETE: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE: %v", err)
	}
	defer resp.Body.Close()
	var rec map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return resp.StatusCode, rec
}

func (s *taskServer) pollStatus(t *testing.T, id, expected string, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if s.get(t, id)["status"] == expected {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("task %s never reached status %q (last: %v)", id, expected, s.get(t, id)["status"])
}

func taskID(t *testing.T, rec map[string]any) string {
	t.Helper()
	id, ok := rec["id"].(string)
	if !ok || id == "" {
		t.Fatalf("record has no id: %v", rec)
	}
	return id
}
