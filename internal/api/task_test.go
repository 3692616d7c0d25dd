package api_test

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/seantiz/taskforge/internal/engine"
	"github.com/seantiz/taskforge/internal/model"
	"github.com/seantiz/taskforge/internal/pool"
)

func TestCreateTaskHappyPath(t *testing.T) {
	ts := newTestServer(t)

	rec := submitTask(t, ts, map[string]any{
		"runner": "echo",
		"name":   "greeting",
		"params": map[string]any{"hello": "world"},
	})
	if rec.ID == "" {
		t.Fatal("accepted task has no id")
	}
	if rec.Name != "greeting" {
		t.Errorf("Name = %q, want %q", rec.Name, "greeting")
	}
	if rec.Category != model.CategoryCore {
		t.Errorf("Category = %q, want %q", rec.Category, model.CategoryCore)
	}
	if rec.Priority != model.PriorityNormal {
		t.Errorf("Priority = %v, want %v", rec.Priority, model.PriorityNormal)
	}
	if !rec.Cancellable {
		t.Error("Cancellable = false, want true by default")
	}

	done := waitForTask(t, ts, rec.ID)
	if done.Status != model.StatusCompleted {
		t.Fatalf("Status = %q, want %q (error %q)", done.Status, model.StatusCompleted, done.Error)
	}
	var result map[string]string
	if err := json.Unmarshal(done.Result, &result); err != nil {
		t.Fatalf("decode result %s: %v", done.Result, err)
	}
	if result["hello"] != "world" {
		t.Errorf("result = %v, want the echoed params", result)
	}
	if done.Progress == nil || done.Progress.Percent != 100 {
		t.Errorf("final progress = %+v, want 100%%", done.Progress)
	}
	if done.DurationMS == nil || done.FinishedAt == nil {
		t.Error("terminal record is missing duration or finish time")
	}
}

func TestCreateTaskDefaultsNameToRunner(t *testing.T) {
	ts := newTestServer(t)

	rec := submitTask(t, ts, map[string]any{"runner": "echo"})
	if rec.Name != "echo" {
		t.Errorf("Name = %q, want %q", rec.Name, "echo")
	}
}

func TestCreateTaskAppliesOverrides(t *testing.T) {
	ts := newTestServer(t)

	rec := submitTask(t, ts, map[string]any{
		"runner":      "sleep",
		"params":      map[string]any{"duration_ms": 10},
		"category":    model.CategoryIO,
		"priority":    "critical",
		"timeout_s":   60,
		"cancellable": false,
	})
	if rec.Category != model.CategoryIO {
		t.Errorf("Category = %q, want %q", rec.Category, model.CategoryIO)
	}
	if rec.Priority != model.PriorityCritical {
		t.Errorf("Priority = %v, want %v", rec.Priority, model.PriorityCritical)
	}
	if rec.TimeoutS == nil || *rec.TimeoutS != 60 {
		t.Errorf("TimeoutS = %v, want 60", rec.TimeoutS)
	}
	if rec.Cancellable {
		t.Error("Cancellable = true, want false")
	}

	done := waitForTask(t, ts, rec.ID)
	if done.Status != model.StatusCompleted {
		t.Fatalf("Status = %q, want %q", done.Status, model.StatusCompleted)
	}
}

func TestCreateTaskValidation(t *testing.T) {
	ts := newTestServer(t)

	cases := []struct {
		name    string
		payload map[string]any
	}{
		{"missing runner", map[string]any{"name": "x"}},
		{"unknown runner", map[string]any{"runner": "transcode"}},
		{"unknown priority", map[string]any{"runner": "echo", "priority": "urgent"}},
		{"unknown category", map[string]any{"runner": "echo", "category": "video"}},
		{"negative timeout", map[string]any{"runner": "echo", "timeout_s": -5}},
		{"bad runner params", map[string]any{"runner": "sleep", "params": map[string]any{"duration_ms": -1}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			code, data := doRequest(t, http.MethodPost, ts.URL+"/v1/tasks", tc.payload)
			if code != http.StatusBadRequest {
				t.Fatalf("status = %d, want %d (body %s)", code, http.StatusBadRequest, data)
			}
			var resp struct {
				Error string `json:"error"`
			}
			if err := json.Unmarshal(data, &resp); err != nil || resp.Error == "" {
				t.Errorf("error body = %s, want an error message", data)
			}
		})
	}
}

func TestGetTaskNotFound(t *testing.T) {
	ts := newTestServer(t)

	code, _ := doRequest(t, http.MethodGet, ts.URL+"/v1/tasks/no-such-id", nil)
	if code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", code, http.StatusNotFound)
	}
}

func TestListTasksFilters(t *testing.T) {
	ts := newTestServer(t)

	a := submitTask(t, ts, map[string]any{"runner": "echo", "name": "a"})
	b := submitTask(t, ts, map[string]any{"runner": "echo", "name": "b", "category": model.CategoryIO})
	c := submitTask(t, ts, map[string]any{"runner": "fail", "name": "c"})
	for _, rec := range []*model.Task{a, b, c} {
		waitForTask(t, ts, rec.ID)
	}

	list := func(query string) (int, []*model.Task, int) {
		t.Helper()
		code, data := doRequest(t, http.MethodGet, ts.URL+"/v1/tasks"+query, nil)
		if code != http.StatusOK {
			t.Fatalf("GET /v1/tasks%s status = %d", query, code)
		}
		var resp struct {
			Tasks []*model.Task `json:"tasks"`
			Total int           `json:"total"`
			Limit int           `json:"limit"`
		}
		if err := json.Unmarshal(data, &resp); err != nil {
			t.Fatalf("decode list: %v", err)
		}
		return resp.Total, resp.Tasks, resp.Limit
	}

	if total, tasks, _ := list(""); total != 3 || len(tasks) != 3 {
		t.Errorf("unfiltered list: total %d len %d, want 3 and 3", total, len(tasks))
	}
	if total, tasks, _ := list("?category=" + model.CategoryIO); total != 1 || len(tasks) != 1 || tasks[0].ID != b.ID {
		t.Errorf("category filter returned total %d, tasks %v", total, tasks)
	}
	if total, tasks, _ := list("?status=" + model.StatusFailed); total != 1 || len(tasks) != 1 || tasks[0].ID != c.ID {
		t.Errorf("status filter returned total %d, tasks %v", total, tasks)
	}
	if total, tasks, limit := list("?limit=2"); total != 3 || len(tasks) != 2 || limit != 2 {
		t.Errorf("paged list: total %d len %d limit %d, want 3, 2, 2", total, len(tasks), limit)
	}
	if total, tasks, _ := list("?status=" + model.StatusCompleted); total != 2 || len(tasks) != 2 {
		t.Errorf("completed filter: total %d len %d, want 2 and 2", total, len(tasks))
	}
}

func TestWaitEndpointTimeout(t *testing.T) {
	ts := newTestServer(t)

	rec := submitTask(t, ts, map[string]any{
		"runner": "sleep",
		"params": map[string]any{"duration_ms": 3000},
	})
	code, _ := doRequest(t, http.MethodGet, ts.URL+"/v1/tasks/"+rec.ID+"/wait?timeout_s=1", nil)
	if code != http.StatusRequestTimeout {
		t.Fatalf("status = %d, want %d", code, http.StatusRequestTimeout)
	}

	// The task is unaffected by the expired wait.
	doRequest(t, http.MethodDelete, ts.URL+"/v1/tasks/"+rec.ID, nil)
}

func TestWaitEndpointNotFound(t *testing.T) {
	ts := newTestServer(t)

	code, _ := doRequest(t, http.MethodGet, ts.URL+"/v1/tasks/ghost/wait?timeout_s=1", nil)
	if code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", code, http.StatusNotFound)
	}
}

func TestCancelRunningTask(t *testing.T) {
	ts := newTestServer(t)

	rec := submitTask(t, ts, map[string]any{
		"runner": "sleep",
		"params": map[string]any{"duration_ms": 10000, "steps": 100},
	})
	pollForStatus(t, ts, rec.ID, model.StatusRunning)

	code, data := doRequest(t, http.MethodDelete, ts.URL+"/v1/tasks/"+rec.ID, nil)
	if code != http.StatusOK {
		t.Fatalf("DELETE status = %d (body %s)", code, data)
	}

	done := waitForTask(t, ts, rec.ID)
	if done.Status != model.StatusCancelled {
		t.Errorf("Status = %q, want %q", done.Status, model.StatusCancelled)
	}
}

func TestCancelNotCancellableConflicts(t *testing.T) {
	ts := newTestServer(t)

	rec := submitTask(t, ts, map[string]any{
		"runner":      "sleep",
		"params":      map[string]any{"duration_ms": 1500},
		"cancellable": false,
	})
	pollForStatus(t, ts, rec.ID, model.StatusRunning)

	code, _ := doRequest(t, http.MethodDelete, ts.URL+"/v1/tasks/"+rec.ID, nil)
	if code != http.StatusConflict {
		t.Fatalf("DELETE status = %d, want %d", code, http.StatusConflict)
	}

	done := waitForTask(t, ts, rec.ID)
	if done.Status != model.StatusCompleted {
		t.Errorf("Status = %q, want %q", done.Status, model.StatusCompleted)
	}
}

func TestCancelFinishedTaskIsNoOp(t *testing.T) {
	ts := newTestServer(t)

	rec := submitTask(t, ts, map[string]any{"runner": "echo"})
	waitForTask(t, ts, rec.ID)

	code, data := doRequest(t, http.MethodDelete, ts.URL+"/v1/tasks/"+rec.ID, nil)
	if code != http.StatusOK {
		t.Fatalf("DELETE status = %d", code)
	}
	if got := decodeTask(t, data); got.Status != model.StatusCompleted {
		t.Errorf("Status = %q, want %q", got.Status, model.StatusCompleted)
	}
}

func TestCancelNotFound(t *testing.T) {
	ts := newTestServer(t)

	code, _ := doRequest(t, http.MethodDelete, ts.URL+"/v1/tasks/ghost", nil)
	if code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", code, http.StatusNotFound)
	}
}

func TestCreateTaskQueueFull(t *testing.T) {
	ts := newTestServerWithConfig(t,
		engine.Config{MaxConcurrent: 1, MaxQueueDepth: 1},
		pool.Config{ComputeWorkers: 1, IOWorkers: 1, BlockingWorkers: 1},
	)

	blocker := submitTask(t, ts, map[string]any{
		"runner": "sleep",
		"params": map[string]any{"duration_ms": 10000},
	})
	pollForStatus(t, ts, blocker.ID, model.StatusRunning)

	submitTask(t, ts, map[string]any{"runner": "echo"})

	code, data := doRequest(t, http.MethodPost, ts.URL+"/v1/tasks", map[string]any{"runner": "echo"})
	if code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want %d (body %s)", code, http.StatusTooManyRequests, data)
	}

	doRequest(t, http.MethodDelete, ts.URL+"/v1/tasks/"+blocker.ID, nil)
}

func TestCleanupEndpoint(t *testing.T) {
	ts := newTestServer(t)

	rec := submitTask(t, ts, map[string]any{"runner": "echo"})
	waitForTask(t, ts, rec.ID)

	code, data := doRequest(t, http.MethodPost, ts.URL+"/v1/tasks/cleanup", map[string]any{"max_age_s": 0})
	if code != http.StatusOK {
		t.Fatalf("cleanup status = %d (body %s)", code, data)
	}
	var resp struct {
		Removed int `json:"removed"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		t.Fatalf("decode cleanup response: %v", err)
	}
	if resp.Removed < 1 {
		t.Errorf("Removed = %d, want at least 1", resp.Removed)
	}

	if code, _ := doRequest(t, http.MethodGet, ts.URL+"/v1/tasks/"+rec.ID, nil); code != http.StatusNotFound {
		t.Errorf("GET after cleanup status = %d, want %d", code, http.StatusNotFound)
	}
}

func TestCleanupRejectsNegativeAge(t *testing.T) {
	ts := newTestServer(t)

	code, _ := doRequest(t, http.MethodPost, ts.URL+"/v1/tasks/cleanup", map[string]any{"max_age_s": -1})
	if code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", code, http.StatusBadRequest)
	}
}
