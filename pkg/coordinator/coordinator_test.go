package coordinator

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"multiagent/pkg/agent"
	"multiagent/pkg/bus"
	"multiagent/pkg/persistence"
	"multiagent/pkg/proto"
	"multiagent/pkg/testkit"
)

func startBus(t *testing.T) *bus.Bus {
	t.Helper()
	b := bus.New(bus.Options{QueueSize: 8})
	if err := b.Start(); err != nil {
		t.Fatalf("Failed to start bus: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = b.Stop(ctx)
	})
	return b
}

// startStubEditor answers every edit request. Descriptions containing
// "fail" get a task failure, everything else completes with one edit.
func startStubEditor(t *testing.T, msgBus *bus.Bus, id string) *agent.Base {
	t.Helper()
	stub := agent.NewBase(agent.Config{ID: id, AgentType: agent.TypeEditor, Bus: msgBus})
	stub.Handle(proto.MsgTypeEditRequired, func(msg *proto.Message) {
		request, err := msg.Payload.ExtractEditRequest()
		if err != nil {
			t.Errorf("Failed to extract edit request: %v", err)
			return
		}
		if strings.Contains(request.Description, "fail") {
			response := msg.CreateResponse(proto.MsgTypeTaskFailed)
			response.Payload = proto.NewTaskFailedPayload(&proto.TaskFailedPayload{
				TaskID: request.TaskID,
				Error:  "stub editor failure",
			})
			_ = stub.Send(response)
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
		_ = stub.Send(response)
	})
	if err := stub.Start(); err != nil {
		t.Fatalf("Failed to start stub editor: %v", err)
	}
	t.Cleanup(func() { _ = stub.Stop() })
	return stub
}

func startCoordinator(t *testing.T, cfg Config) *Coordinator {
	t.Helper()
	c := New(cfg)
	if err := c.Start(); err != nil {
		t.Fatalf("Failed to start coordinator: %v", err)
	}
	t.Cleanup(func() { _ = c.Stop() })
	return c
}

func TestTaskCompletesOnEditorResponse(t *testing.T) {
	msgBus := startBus(t)
	startStubEditor(t, msgBus, "editor-1")
	c := startCoordinator(t, Config{Bus: msgBus, EditorID: "editor-1"})

	future, err := c.StartTask("add validation to submit", []string{"OrderService.java"})
	if err != nil {
		t.Fatalf("Failed to start task: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	info, err := future.Wait(ctx)
	if err != nil {
		t.Fatalf("Task did not complete: %v", err)
	}
	if info.Status != StatusCompleted {
		t.Errorf("Status = %s, want %s", info.Status, StatusCompleted)
	}
	if info.Result == nil || !info.Result.Significant {
		t.Errorf("Expected a significant edit result, got %+v", info.Result)
	}
	if info.CompletedAt.IsZero() {
		t.Error("CompletedAt not set")
	}

	stored, err := c.Task(future.TaskID())
	if err != nil {
		t.Fatalf("Failed to look up task: %v", err)
	}
	if stored.Status != StatusCompleted {
		t.Errorf("Registry status = %s, want %s", stored.Status, StatusCompleted)
	}
}

func TestTaskFailureResolvesAsError(t *testing.T) {
	msgBus := startBus(t)
	startStubEditor(t, msgBus, "editor-1")
	c := startCoordinator(t, Config{Bus: msgBus, EditorID: "editor-1"})

	future, err := c.StartTask("fail on purpose", nil)
	if err != nil {
		t.Fatalf("Failed to start task: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	info, err := future.Wait(ctx)
	if err == nil {
		t.Fatal("Expected an error from a failed task")
	}
	if !strings.Contains(err.Error(), "stub editor failure") {
		t.Errorf("Error = %v, want it to mention the failure reason", err)
	}
	if info == nil || info.Status != StatusFailed {
		t.Errorf("Info = %+v, want failed status", info)
	}
}

func TestRegisteredTaskStaysScheduled(t *testing.T) {
	msgBus := startBus(t)
	c := startCoordinator(t, Config{Bus: msgBus})

	task := c.RegisterTask("rename a method", nil)
	if task.Status != StatusScheduled {
		t.Errorf("Status = %s, want %s", task.Status, StatusScheduled)
	}
	if len(c.Tasks()) != 1 {
		t.Errorf("Tasks() returned %d entries, want 1", len(c.Tasks()))
	}
}

func TestDoubleDeployRejected(t *testing.T) {
	msgBus := startBus(t)
	startStubEditor(t, msgBus, "editor-1")
	c := startCoordinator(t, Config{Bus: msgBus, EditorID: "editor-1"})

	task := c.RegisterTask("add logging", nil)
	if _, err := c.DeployTask(task.ID); err != nil {
		t.Fatalf("First deploy failed: %v", err)
	}
	if _, err := c.DeployTask(task.ID); err == nil {
		t.Error("Second deploy should be rejected")
	}
}

func TestDeployUnknownTask(t *testing.T) {
	msgBus := startBus(t)
	c := startCoordinator(t, Config{Bus: msgBus})

	_, err := c.DeployTask("no-such-task")
	if !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("Error = %v, want ErrTaskNotFound", err)
	}
}

func TestBundleCompletes(t *testing.T) {
	msgBus := startBus(t)
	startStubEditor(t, msgBus, "editor-1")
	c := startCoordinator(t, Config{Bus: msgBus, EditorID: "editor-1"})

	first := c.RegisterTask("add method", nil)
	second := c.RegisterTask("add import", nil)

	bundle, err := c.CreateBundle("refactor", "two-step refactor", []string{first.ID, second.ID})
	if err != nil {
		t.Fatalf("Failed to create bundle: %v", err)
	}
	if bundle.Status != StatusScheduled {
		t.Errorf("Bundle status = %s, want %s", bundle.Status, StatusScheduled)
	}
	tagged, _ := c.Task(first.ID)
	if tagged.BundleID != bundle.ID {
		t.Errorf("Task bundle id = %q, want %q", tagged.BundleID, bundle.ID)
	}

	future, err := c.DeployBundle(bundle.ID)
	if err != nil {
		t.Fatalf("Failed to deploy bundle: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	info, err := future.Wait(ctx)
	if err != nil {
		t.Fatalf("Bundle did not complete: %v", err)
	}
	if info.Status != StatusCompleted {
		t.Errorf("Bundle status = %s, want %s", info.Status, StatusCompleted)
	}
	for _, taskID := range []string{first.ID, second.ID} {
		task, _ := c.Task(taskID)
		if task.Status != StatusCompleted {
			t.Errorf("Task %s status = %s, want %s", taskID, task.Status, StatusCompleted)
		}
	}
}

func TestBundleFailsWithoutCancellingSiblings(t *testing.T) {
	msgBus := startBus(t)
	startStubEditor(t, msgBus, "editor-1")
	c := startCoordinator(t, Config{Bus: msgBus, EditorID: "editor-1"})

	good := c.RegisterTask("add method", nil)
	bad := c.RegisterTask("fail this one", nil)

	bundle, err := c.CreateBundle("mixed", "", []string{good.ID, bad.ID})
	if err != nil {
		t.Fatalf("Failed to create bundle: %v", err)
	}
	future, err := c.DeployBundle(bundle.ID)
	if err != nil {
		t.Fatalf("Failed to deploy bundle: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	info, err := future.Wait(ctx)
	if err == nil {
		t.Fatal("Expected bundle failure")
	}
	if info == nil || info.Status != StatusFailed {
		t.Errorf("Bundle info = %+v, want failed status", info)
	}

	// The healthy sibling keeps running to completion.
	deadline := time.Now().Add(2 * time.Second)
	for {
		task, _ := c.Task(good.ID)
		if task.Status == StatusCompleted {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("Sibling task never completed, status = %s", task.Status)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestBundleRequiresKnownTasks(t *testing.T) {
	msgBus := startBus(t)
	c := startCoordinator(t, Config{Bus: msgBus})

	if _, err := c.CreateBundle("empty", "", nil); err == nil {
		t.Error("Empty bundle should be rejected")
	}
	if _, err := c.CreateBundle("ghost", "", []string{"missing"}); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("Error = %v, want ErrTaskNotFound", err)
	}
	if _, err := c.Bundle("no-such-bundle"); !errors.Is(err, ErrBundleNotFound) {
		t.Errorf("Error = %v, want ErrBundleNotFound", err)
	}
}

func TestTaskStartAnnounced(t *testing.T) {
	msgBus := startBus(t)
	startStubEditor(t, msgBus, "editor-1")

	announced := make(chan *proto.TaskStartedPayload, 1)
	listener := agent.NewBase(agent.Config{ID: "listener", AgentType: agent.TypeObserver, Bus: msgBus})
	listener.Handle(proto.MsgTypeTaskStarted, func(msg *proto.Message) {
		if started, err := msg.Payload.ExtractTaskStarted(); err == nil {
			announced <- started
		}
	})
	if err := listener.Start(); err != nil {
		t.Fatalf("Failed to start listener: %v", err)
	}
	t.Cleanup(func() { _ = listener.Stop() })

	c := startCoordinator(t, Config{Bus: msgBus, EditorID: "editor-1"})
	future, err := c.StartTask("add method", []string{"A.java"})
	if err != nil {
		t.Fatalf("Failed to start task: %v", err)
	}

	select {
	case started := <-announced:
		if started.TaskID != future.TaskID() {
			t.Errorf("Announced task id = %q, want %q", started.TaskID, future.TaskID())
		}
		if started.Description != "add method" {
			t.Errorf("Announced description = %q", started.Description)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("No task-started announcement received")
	}
}

func TestTaskCompletionAnnounced(t *testing.T) {
	msgBus := startBus(t)
	startStubEditor(t, msgBus, "editor-1")
	collector := testkit.StartCollector(t, msgBus, "collector-1", proto.MsgTypeTaskCompleted)
	c := startCoordinator(t, Config{Bus: msgBus, EditorID: "editor-1"})

	future, err := c.StartTask("add method", nil)
	if err != nil {
		t.Fatalf("Failed to start task: %v", err)
	}

	msg := collector.Next(t, 2*time.Second)
	testkit.AssertBroadcast(t, msg)
	testkit.AssertMessageSource(t, msg, c.ID())
	testkit.AssertHasPayload(t, msg, proto.PayloadKindEditCompleted)
	result, err := msg.Payload.ExtractEditCompleted()
	if err != nil {
		t.Fatalf("Failed to extract completion: %v", err)
	}
	if result.TaskID != future.TaskID() {
		t.Errorf("Announced task id = %q, want %q", result.TaskID, future.TaskID())
	}
}

func TestTaskDetailsEnriched(t *testing.T) {
	msgBus := startBus(t)
	startStubEditor(t, msgBus, "editor-1")
	c := startCoordinator(t, Config{Bus: msgBus, EditorID: "editor-1"})

	future, err := c.StartTask("add method", nil)
	if err != nil {
		t.Fatalf("Failed to start task: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := future.Wait(ctx); err != nil {
		t.Fatalf("Task did not complete: %v", err)
	}
	taskID := future.TaskID()

	architectStub := agent.NewBase(agent.Config{ID: "architect-1", AgentType: agent.TypeArchitect, Bus: msgBus})
	if err := architectStub.SetContext("plan-"+taskID, map[string]string{"task_id": taskID}); err != nil {
		t.Fatalf("Failed to seed context: %v", err)
	}
	c.RegisterAgent(architectStub)

	details, err := c.TaskDetails(taskID)
	if err != nil {
		t.Fatalf("Failed to get task details: %v", err)
	}
	if details["status"] != string(StatusCompleted) {
		t.Errorf("details status = %v, want %s", details["status"], StatusCompleted)
	}
	if _, ok := details["design_plan"]; !ok {
		t.Error("Expected design_plan in task details")
	}
	if _, ok := details["observations"]; ok {
		t.Error("No observer registered, observations should be absent")
	}

	if _, err := c.TaskDetails("missing"); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("Error = %v, want ErrTaskNotFound", err)
	}
}

func TestAgentContextData(t *testing.T) {
	msgBus := startBus(t)
	c := startCoordinator(t, Config{Bus: msgBus})

	stub := agent.NewBase(agent.Config{ID: "observer-1", AgentType: agent.TypeObserver, Bus: msgBus})
	if err := stub.SetContext("observations-task-1", []string{"all quiet"}); err != nil {
		t.Fatalf("Failed to seed context: %v", err)
	}
	c.RegisterAgent(stub)

	if _, ok := c.AgentContextData("observer-1", "observations-task-1"); !ok {
		t.Error("Expected context data for registered agent")
	}
	if _, ok := c.AgentContextData("observer-1", "missing-key"); ok {
		t.Error("Unknown key should report not found")
	}
	if _, ok := c.AgentContextData("nobody", "observations-task-1"); ok {
		t.Error("Unregistered agent should report not found")
	}
}

func TestCompletedTaskArchived(t *testing.T) {
	msgBus := startBus(t)
	startStubEditor(t, msgBus, "editor-1")

	store, err := persistence.Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	c := startCoordinator(t, Config{Bus: msgBus, EditorID: "editor-1", History: store})
	future, err := c.StartTask("add method", nil)
	if err != nil {
		t.Fatalf("Failed to start task: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := future.Wait(ctx); err != nil {
		t.Fatalf("Task did not complete: %v", err)
	}

	records, err := store.TaskResults()
	if err != nil {
		t.Fatalf("Failed to read task results: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("Expected 1 archived result, got %d", len(records))
	}
	if records[0].TaskID != future.TaskID() || records[0].Status != string(StatusCompleted) {
		t.Errorf("Archived record = %+v", records[0])
	}
}
