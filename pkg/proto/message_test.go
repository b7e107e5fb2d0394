package proto

import (
	"strings"
	"testing"
)

func TestNewMessage(t *testing.T) {
	msg := NewMessage(MsgTypeDesignRequired, "coordinator", "architect-1")

	if msg.Type != MsgTypeDesignRequired {
		t.Errorf("Expected type DESIGN_REQUIRED, got %s", msg.Type)
	}
	if msg.SourceID != "coordinator" {
		t.Errorf("Expected source_id 'coordinator', got %s", msg.SourceID)
	}
	if msg.TargetID != "architect-1" {
		t.Errorf("Expected target_id 'architect-1', got %s", msg.TargetID)
	}
	if msg.ID == "" {
		t.Error("Expected non-empty ID")
	}
	if msg.Timestamp.IsZero() {
		t.Error("Expected non-zero timestamp")
	}
}

func TestMessage_ToJSON_FromJSON(t *testing.T) {
	original := NewMessage(MsgTypeEditRequired, "coordinator", "editor-1")
	original.CorrelationID = GenerateCorrelationID()
	original.Payload = NewEditRequestPayload(&EditRequestPayload{
		TaskID:      "task-1",
		Description: "Add health endpoint",
		FilePaths:   []string{"src/Server.java"},
	})

	jsonData, err := original.ToJSON()
	if err != nil {
		t.Fatalf("Failed to convert to JSON: %v", err)
	}

	restored, err := FromJSON(jsonData)
	if err != nil {
		t.Fatalf("Failed to restore from JSON: %v", err)
	}

	if restored.ID != original.ID {
		t.Errorf("ID mismatch: expected %s, got %s", original.ID, restored.ID)
	}
	if restored.Type != original.Type {
		t.Errorf("Type mismatch: expected %s, got %s", original.Type, restored.Type)
	}
	if restored.CorrelationID != original.CorrelationID {
		t.Errorf("CorrelationID mismatch: expected %s, got %s", original.CorrelationID, restored.CorrelationID)
	}

	req, err := restored.Payload.ExtractEditRequest()
	if err != nil {
		t.Fatalf("Failed to extract payload: %v", err)
	}
	if req.TaskID != "task-1" {
		t.Errorf("Payload task_id mismatch: expected 'task-1', got %s", req.TaskID)
	}
	if len(req.FilePaths) != 1 || req.FilePaths[0] != "src/Server.java" {
		t.Errorf("Payload file_paths mismatch: got %v", req.FilePaths)
	}
}

func TestCreateResponse(t *testing.T) {
	request := NewMessage(MsgTypeDesignRequired, "coordinator", "architect-1")
	request.CorrelationID = "c-123"

	response := request.CreateResponse(MsgTypeDesignCompleted)

	if response.Type != MsgTypeDesignCompleted {
		t.Errorf("Expected type DESIGN_COMPLETED, got %s", response.Type)
	}
	if response.SourceID != "architect-1" {
		t.Errorf("Expected source_id 'architect-1', got %s", response.SourceID)
	}
	if response.TargetID != "coordinator" {
		t.Errorf("Expected target_id 'coordinator', got %s", response.TargetID)
	}
	if response.CorrelationID != "c-123" {
		t.Errorf("Expected correlation_id 'c-123', got %s", response.CorrelationID)
	}
	if response.ID == request.ID {
		t.Error("Expected response to get a fresh ID")
	}
}

func TestIsAddressedTo(t *testing.T) {
	direct := NewMessage(MsgTypeEditRequired, "coordinator", "editor-1")
	if !direct.IsAddressedTo("editor-1") {
		t.Error("Expected direct message to match its target")
	}
	if direct.IsAddressedTo("editor-2") {
		t.Error("Expected direct message not to match another agent")
	}

	broadcast := NewMessage(MsgTypeFeedbackProvided, "observer-1", TargetBroadcast)
	if !broadcast.IsAddressedTo("editor-1") {
		t.Error("Expected broadcast message to match any agent")
	}
}

func TestValidate(t *testing.T) {
	msg := NewMessage(MsgTypeTaskStarted, "coordinator", TargetBroadcast)
	if err := msg.Validate(); err != nil {
		t.Errorf("Expected valid message, got error: %v", err)
	}

	msg.Type = ""
	if err := msg.Validate(); err == nil {
		t.Error("Expected error for missing type")
	}
}

func TestParseMsgType(t *testing.T) {
	parsed, err := ParseMsgType("edit_required")
	if err != nil {
		t.Fatalf("Failed to parse msg type: %v", err)
	}
	if parsed != MsgTypeEditRequired {
		t.Errorf("Expected EDIT_REQUIRED, got %s", parsed)
	}

	if _, err := ParseMsgType("NO_SUCH_TYPE"); err == nil {
		t.Error("Expected error for unknown msg type")
	}
}

func TestGenerateCorrelationID(t *testing.T) {
	id1 := GenerateCorrelationID()
	id2 := GenerateCorrelationID()

	if !strings.HasPrefix(id1, "c-") {
		t.Errorf("Expected correlation ID with 'c-' prefix, got %s", id1)
	}
	if id1 == id2 {
		t.Error("Expected unique correlation IDs")
	}
}
