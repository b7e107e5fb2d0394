package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"multiagent/pkg/agent"
	"multiagent/pkg/bus"
	"multiagent/pkg/coordinator"
	"multiagent/pkg/proto"
	"multiagent/pkg/suggest"
)

type fixture struct {
	coord     *coordinator.Coordinator
	scheduler *coordinator.Scheduler
	server    *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	msgBus := bus.New(bus.Options{QueueSize: 8})
	if err := msgBus.Start(); err != nil {
		t.Fatalf("Failed to start bus: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = msgBus.Stop(ctx)
	})

	editor := agent.NewBase(agent.Config{ID: "editor-1", AgentType: agent.TypeEditor, Bus: msgBus})
	editor.Handle(proto.MsgTypeEditRequired, func(msg *proto.Message) {
		request, err := msg.Payload.ExtractEditRequest()
		if err != nil {
			return
		}
		response := msg.CreateResponse(proto.MsgTypeEditCompleted)
		response.Payload = proto.NewEditCompletedPayload(&proto.EditCompletedPayload{
			TaskID:         request.TaskID,
			Status:         "completed",
			EditCount:      1,
			CompletedEdits: 1,
			Significant:    true,
		})
		_ = editor.Send(response)
	})
	if err := editor.Start(); err != nil {
		t.Fatalf("Failed to start editor: %v", err)
	}
	t.Cleanup(func() { _ = editor.Stop() })

	coord := coordinator.New(coordinator.Config{Bus: msgBus, EditorID: "editor-1"})
	if err := coord.Start(); err != nil {
		t.Fatalf("Failed to start coordinator: %v", err)
	}
	t.Cleanup(func() { _ = coord.Stop() })

	scheduler := coordinator.NewScheduler()
	server := httptest.NewServer(New(Config{Coordinator: coord, Scheduler: scheduler}).Router())
	t.Cleanup(server.Close)
	return &fixture{coord: coord, scheduler: scheduler, server: server}
}

func (f *fixture) request(t *testing.T, method, path string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("Failed to encode request body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, f.server.URL+path, reader)
	if err != nil {
		t.Fatalf("Failed to build request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	var decoded map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		// List endpoints return arrays; callers that need them decode
		// separately.
		decoded = nil
	}
	return resp, decoded
}

func (f *fixture) waitForStatus(t *testing.T, taskID string, want coordinator.Status) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		task, err := f.coord.Task(taskID)
		if err != nil {
			t.Fatalf("Failed to look up task: %v", err)
		}
		if task.Status == want {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("Task %s status = %s, want %s", taskID, task.Status, want)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestCreateTaskEchoesMetadata(t *testing.T) {
	f := newFixture(t)

	resp, body := f.request(t, http.MethodPost, "/api/tasks", map[string]any{
		"description": "add method",
		"file_paths":  []string{"OrderService.java"},
		"priority":    "high",
		"assignee":    "dev-team",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("Status = %d, want 201", resp.StatusCode)
	}
	if body["id"] == "" || body["id"] == nil {
		t.Error("Response missing task id")
	}
	if body["status"] != string(coordinator.StatusScheduled) {
		t.Errorf("status = %v, want %s", body["status"], coordinator.StatusScheduled)
	}
	if body["priority"] != "high" || body["assignee"] != "dev-team" {
		t.Errorf("Metadata not echoed: %v", body)
	}
}

func TestCreateTaskRequiresDescription(t *testing.T) {
	f := newFixture(t)

	resp, body := f.request(t, http.MethodPost, "/api/tasks", map[string]any{"priority": "low"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Status = %d, want 400", resp.StatusCode)
	}
	if body["error"] == nil {
		t.Error("Expected an error body")
	}
}

func TestDeployTaskRunsToCompletion(t *testing.T) {
	f := newFixture(t)

	_, created := f.request(t, http.MethodPost, "/api/tasks", map[string]any{"description": "add method"})
	taskID, _ := created["id"].(string)
	if taskID == "" {
		t.Fatal("No task id in create response")
	}

	resp, deployed := f.request(t, http.MethodPost, "/api/tasks/"+taskID+"/deploy", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Deploy status = %d, want 200", resp.StatusCode)
	}
	if deployed["status"] == string(coordinator.StatusScheduled) {
		t.Errorf("Deploy response still scheduled: %v", deployed)
	}

	f.waitForStatus(t, taskID, coordinator.StatusCompleted)

	resp, fetched := f.request(t, http.MethodGet, "/api/tasks/"+taskID, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Get status = %d, want 200", resp.StatusCode)
	}
	if fetched["status"] != string(coordinator.StatusCompleted) {
		t.Errorf("Fetched status = %v, want completed", fetched["status"])
	}
}

func TestUnknownTaskIs404(t *testing.T) {
	f := newFixture(t)

	resp, body := f.request(t, http.MethodGet, "/api/tasks/no-such-task", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Status = %d, want 404", resp.StatusCode)
	}
	if body["error"] == nil {
		t.Error("Expected an error body")
	}

	resp, _ = f.request(t, http.MethodPost, "/api/tasks/no-such-task/deploy", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Deploy status = %d, want 404", resp.StatusCode)
	}
}

func TestBundleLifecycleOverHTTP(t *testing.T) {
	f := newFixture(t)

	_, first := f.request(t, http.MethodPost, "/api/tasks", map[string]any{"description": "add method"})
	_, second := f.request(t, http.MethodPost, "/api/tasks", map[string]any{"description": "add import"})

	resp, bundle := f.request(t, http.MethodPost, "/api/bundles", map[string]any{
		"title": "refactor",
		"tasks": []string{first["id"].(string), second["id"].(string)},
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("Bundle create status = %d, want 201", resp.StatusCode)
	}
	bundleID, _ := bundle["id"].(string)
	if bundleID == "" {
		t.Fatalf("No bundle id in response: %v", bundle)
	}
	if bundle["bundle_id"] != bundleID {
		t.Errorf("Expected bundle_id aliased to id, got %v", bundle["bundle_id"])
	}

	resp, _ = f.request(t, http.MethodPost, "/api/bundles/"+bundleID+"/deploy", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Bundle deploy status = %d, want 200", resp.StatusCode)
	}

	f.waitForStatus(t, first["id"].(string), coordinator.StatusCompleted)
	f.waitForStatus(t, second["id"].(string), coordinator.StatusCompleted)

	deadline := time.Now().Add(2 * time.Second)
	for {
		resp, fetched := f.request(t, http.MethodGet, "/api/bundles/"+bundleID, nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("Bundle get status = %d, want 200", resp.StatusCode)
		}
		if fetched["status"] == string(coordinator.StatusCompleted) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("Bundle never completed: %v", fetched)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestBundleWithUnknownTaskIs404(t *testing.T) {
	f := newFixture(t)

	resp, _ := f.request(t, http.MethodPost, "/api/bundles", map[string]any{
		"title": "ghost",
		"tasks": []string{"missing"},
	})
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Status = %d, want 404", resp.StatusCode)
	}
}

func TestScheduleRoundTrip(t *testing.T) {
	f := newFixture(t)

	resp, _ := f.request(t, http.MethodGet, "/api/schedules/Observer-1", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Status = %d, want 404 before any schedule exists", resp.StatusCode)
	}

	resp, updated := f.request(t, http.MethodPut, "/api/schedules/Observer-1", map[string]any{
		"interval_ms": 5000,
		"enabled":     true,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Update status = %d, want 200", resp.StatusCode)
	}
	if updated["enabled"] != true {
		t.Errorf("Updated schedule = %v", updated)
	}

	// Reads report the interval in the same unit updates accept.
	resp, fetched := f.request(t, http.MethodGet, "/api/schedules/Observer-1", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Get status = %d, want 200", resp.StatusCode)
	}
	if ms, ok := fetched["interval_ms"].(float64); !ok || int64(ms) != 5000 {
		t.Errorf("interval_ms = %v, want 5000", fetched["interval_ms"])
	}

	cfg, ok := f.scheduler.Schedule("Observer-1")
	if !ok || cfg.Interval != 5*time.Second {
		t.Errorf("Stored schedule = %+v, ok=%v", cfg, ok)
	}

	resp, _ = f.request(t, http.MethodPut, "/api/schedules/Observer-1", map[string]any{"interval_ms": 0})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Zero interval status = %d, want 400", resp.StatusCode)
	}
}

func TestAgentContextEndpoint(t *testing.T) {
	f := newFixture(t)

	resp, _ := f.request(t, http.MethodGet, "/api/agents/observer-1/context/observations", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Status = %d, want 404 for unregistered agent", resp.StatusCode)
	}
}

func TestSuggestCompletesTrailingContext(t *testing.T) {
	f := newFixture(t)
	server := httptest.NewServer(New(Config{
		Coordinator: f.coord,
		Suggest:     suggest.NewLimitedGenerator(suggest.NewRuleGenerator(nil), 10),
	}).Router())
	t.Cleanup(server.Close)

	raw, _ := json.Marshal(map[string]string{"context": "    for ("})
	resp, err := http.Post(server.URL+"/api/suggest", "application/json", bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("Suggest request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Status = %d, want 200", resp.StatusCode)
	}
	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if !strings.Contains(body["suggestion"], "int i = 0") {
		t.Errorf("suggestion = %q, want a for-loop completion", body["suggestion"])
	}

	// Unmatched context degrades to an empty suggestion, not an error.
	raw, _ = json.Marshal(map[string]string{"context": "nothing matches this"})
	resp2, err := http.Post(server.URL+"/api/suggest", "application/json", bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("Suggest request failed: %v", err)
	}
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusOK {
		t.Errorf("Unmatched context status = %d, want 200", resp2.StatusCode)
	}
}

func TestSuggestUnconfiguredIs404(t *testing.T) {
	f := newFixture(t)

	resp, _ := f.request(t, http.MethodPost, "/api/suggest", map[string]string{"context": "if ("})
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Status = %d, want 404 without a generator", resp.StatusCode)
	}
}

func TestHistoryUnconfiguredIs404(t *testing.T) {
	f := newFixture(t)

	resp, _ := f.request(t, http.MethodGet, "/api/history", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Status = %d, want 404 without an archive", resp.StatusCode)
	}
}

func TestMetricsExposed(t *testing.T) {
	f := newFixture(t)

	resp, err := http.Get(f.server.URL + "/metrics")
	if err != nil {
		t.Fatalf("Metrics request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Metrics status = %d, want 200", resp.StatusCode)
	}
}
