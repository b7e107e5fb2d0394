package proto

import (
	"encoding/json"
	"fmt"
)

// PayloadKind identifies the type of payload in a message.
type PayloadKind string

// Payload kind constants define the discriminator values for the union.
const (
	// Request payloads.
	PayloadKindDesignRequest      PayloadKind = "design_request"
	PayloadKindObservationRequest PayloadKind = "observation_request"
	PayloadKindEditRequest        PayloadKind = "edit_request"
	PayloadKindContextRequest     PayloadKind = "context_request"

	// Response and event payloads.
	PayloadKindDesignPlan        PayloadKind = "design_plan"
	PayloadKindObservationResult PayloadKind = "observation_result"
	PayloadKindEditCompleted     PayloadKind = "edit_completed"
	PayloadKindContextValue      PayloadKind = "context_value"
	PayloadKindTaskStarted       PayloadKind = "task_started"
	PayloadKindTaskFailed        PayloadKind = "task_failed"
	PayloadKindAnnounce          PayloadKind = "announce"

	// Generic key-value payload for miscellaneous data.
	PayloadKindGeneric PayloadKind = "generic"
)

// Payload represents a typed, discriminated union payload for agent messages.
// Senders construct payloads through the New* helpers and receivers
// deserialize with the matching Extract method, so a kind mismatch produces
// an explicit error instead of a silent type assertion failure. Because
// payload data crosses the bus as serialized JSON, every receiver works on
// its own copy and never shares mutable state with the sender.
//
// The discriminated union pattern ensures:
//  1. Sender must specify the Kind when creating the payload
//  2. Receiver must deserialize using the correct Extract method
//  3. Mismatches produce explicit errors, not silent failures
type Payload struct {
	Kind PayloadKind     `json:"kind"` // Discriminator field
	Data json.RawMessage `json:"data"` // Lazily unmarshaled payload data
}

// DesignRequestPayload asks an architect for a design plan.
type DesignRequestPayload struct {
	TaskID      string   `json:"task_id"`
	Description string   `json:"description"`
	FilePaths   []string `json:"file_paths,omitempty"`
}

// ObservationRequestPayload asks an observer to assess a task, optionally
// against an existing plan.
type ObservationRequestPayload struct {
	TaskID      string      `json:"task_id"`
	Description string      `json:"description,omitempty"`
	FilePaths   []string    `json:"file_paths,omitempty"`
	DesignPlan  *DesignPlan `json:"design_plan,omitempty"`
}

// ObservationResultPayload carries observer findings. Periodic feedback sets
// IsPeriodic so receivers can distinguish it from a requested observation.
type ObservationResultPayload struct {
	TaskID       string   `json:"task_id,omitempty"`
	Observations []string `json:"observations"`
	IsPeriodic   bool     `json:"is_periodic,omitempty"`
}

// EditRequestPayload asks an editor to apply a sequence of edits.
type EditRequestPayload struct {
	TaskID      string           `json:"task_id"`
	Description string           `json:"description,omitempty"`
	FilePaths   []string         `json:"file_paths,omitempty"`
	Edits       []EditDescriptor `json:"edits,omitempty"`
	DesignPlan  *DesignPlan      `json:"design_plan,omitempty"`
}

// EditCompletedPayload summarizes an editing run. Status is "completed" when
// at least one edit applied, "no_changes" when the request carried no edits,
// or "failed".
type EditCompletedPayload struct {
	TaskID         string       `json:"task_id"`
	Status         string       `json:"status"`
	Message        string       `json:"message,omitempty"`
	EditCount      int          `json:"edit_count"`
	CompletedEdits int          `json:"completed_edits"`
	Significant    bool         `json:"significant"`
	Results        []EditResult `json:"results,omitempty"`
}

// TaskStartedPayload announces a task entering execution.
type TaskStartedPayload struct {
	TaskID      string   `json:"task_id"`
	Description string   `json:"description,omitempty"`
	FilePaths   []string `json:"file_paths,omitempty"`
	BundleID    string   `json:"bundle_id,omitempty"`
}

// TaskFailedPayload reports a terminal task failure.
type TaskFailedPayload struct {
	TaskID string `json:"task_id"`
	Error  string `json:"error"`
}

// ContextRequestPayload asks the coordinator for a shared context entry.
type ContextRequestPayload struct {
	TaskID     string `json:"task_id,omitempty"`
	ContextKey string `json:"context_key"`
}

// ContextValuePayload answers a context request. Value is raw JSON so the
// entry can hold any serializable shape; Found is false when no entry exists.
type ContextValuePayload struct {
	ContextKey string          `json:"context_key"`
	Value      json.RawMessage `json:"value,omitempty"`
	Found      bool            `json:"found"`
}

// AnnouncePayload accompanies agent lifecycle messages.
type AnnouncePayload struct {
	AgentID   string `json:"agent_id"`
	AgentType string `json:"agent_type,omitempty"`
	Status    string `json:"status,omitempty"`
}

// Design request/plan payloads

// NewDesignRequestPayload creates a payload for design requests.
func NewDesignRequestPayload(data *DesignRequestPayload) *Payload {
	raw, _ := json.Marshal(data) // Struct marshaling should never fail
	return &Payload{Kind: PayloadKindDesignRequest, Data: raw}
}

// ExtractDesignRequest extracts and validates a design request payload.
func (p *Payload) ExtractDesignRequest() (*DesignRequestPayload, error) {
	if p.Kind != PayloadKindDesignRequest {
		return nil, fmt.Errorf("expected design_request payload, got %s", p.Kind)
	}
	var result DesignRequestPayload
	if err := json.Unmarshal(p.Data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal design request: %w", err)
	}
	return &result, nil
}

// NewDesignPlanPayload creates a payload carrying a completed design plan.
func NewDesignPlanPayload(plan *DesignPlan) *Payload {
	raw, _ := json.Marshal(plan)
	return &Payload{Kind: PayloadKindDesignPlan, Data: raw}
}

// ExtractDesignPlan extracts and validates a design plan payload.
func (p *Payload) ExtractDesignPlan() (*DesignPlan, error) {
	if p.Kind != PayloadKindDesignPlan {
		return nil, fmt.Errorf("expected design_plan payload, got %s", p.Kind)
	}
	var result DesignPlan
	if err := json.Unmarshal(p.Data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal design plan: %w", err)
	}
	return &result, nil
}

// Observation request/result payloads

// NewObservationRequestPayload creates a payload for observation requests.
func NewObservationRequestPayload(data *ObservationRequestPayload) *Payload {
	raw, _ := json.Marshal(data)
	return &Payload{Kind: PayloadKindObservationRequest, Data: raw}
}

// ExtractObservationRequest extracts and validates an observation request payload.
func (p *Payload) ExtractObservationRequest() (*ObservationRequestPayload, error) {
	if p.Kind != PayloadKindObservationRequest {
		return nil, fmt.Errorf("expected observation_request payload, got %s", p.Kind)
	}
	var result ObservationRequestPayload
	if err := json.Unmarshal(p.Data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal observation request: %w", err)
	}
	return &result, nil
}

// NewObservationResultPayload creates a payload for observation results.
func NewObservationResultPayload(data *ObservationResultPayload) *Payload {
	raw, _ := json.Marshal(data)
	return &Payload{Kind: PayloadKindObservationResult, Data: raw}
}

// ExtractObservationResult extracts and validates an observation result payload.
func (p *Payload) ExtractObservationResult() (*ObservationResultPayload, error) {
	if p.Kind != PayloadKindObservationResult {
		return nil, fmt.Errorf("expected observation_result payload, got %s", p.Kind)
	}
	var result ObservationResultPayload
	if err := json.Unmarshal(p.Data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal observation result: %w", err)
	}
	return &result, nil
}

// Edit request/completion payloads

// NewEditRequestPayload creates a payload for edit requests.
func NewEditRequestPayload(data *EditRequestPayload) *Payload {
	raw, _ := json.Marshal(data)
	return &Payload{Kind: PayloadKindEditRequest, Data: raw}
}

// ExtractEditRequest extracts and validates an edit request payload.
func (p *Payload) ExtractEditRequest() (*EditRequestPayload, error) {
	if p.Kind != PayloadKindEditRequest {
		return nil, fmt.Errorf("expected edit_request payload, got %s", p.Kind)
	}
	var result EditRequestPayload
	if err := json.Unmarshal(p.Data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal edit request: %w", err)
	}
	return &result, nil
}

// NewEditCompletedPayload creates a payload for edit completion reports.
func NewEditCompletedPayload(data *EditCompletedPayload) *Payload {
	raw, _ := json.Marshal(data)
	return &Payload{Kind: PayloadKindEditCompleted, Data: raw}
}

// ExtractEditCompleted extracts and validates an edit completion payload.
func (p *Payload) ExtractEditCompleted() (*EditCompletedPayload, error) {
	if p.Kind != PayloadKindEditCompleted {
		return nil, fmt.Errorf("expected edit_completed payload, got %s", p.Kind)
	}
	var result EditCompletedPayload
	if err := json.Unmarshal(p.Data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal edit completion: %w", err)
	}
	return &result, nil
}

// Task lifecycle payloads

// NewTaskStartedPayload creates a payload for task start announcements.
func NewTaskStartedPayload(data *TaskStartedPayload) *Payload {
	raw, _ := json.Marshal(data)
	return &Payload{Kind: PayloadKindTaskStarted, Data: raw}
}

// ExtractTaskStarted extracts and validates a task started payload.
func (p *Payload) ExtractTaskStarted() (*TaskStartedPayload, error) {
	if p.Kind != PayloadKindTaskStarted {
		return nil, fmt.Errorf("expected task_started payload, got %s", p.Kind)
	}
	var result TaskStartedPayload
	if err := json.Unmarshal(p.Data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal task started: %w", err)
	}
	return &result, nil
}

// NewTaskFailedPayload creates a payload for task failure reports.
func NewTaskFailedPayload(data *TaskFailedPayload) *Payload {
	raw, _ := json.Marshal(data)
	return &Payload{Kind: PayloadKindTaskFailed, Data: raw}
}

// ExtractTaskFailed extracts and validates a task failure payload.
func (p *Payload) ExtractTaskFailed() (*TaskFailedPayload, error) {
	if p.Kind != PayloadKindTaskFailed {
		return nil, fmt.Errorf("expected task_failed payload, got %s", p.Kind)
	}
	var result TaskFailedPayload
	if err := json.Unmarshal(p.Data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal task failed: %w", err)
	}
	return &result, nil
}

// Context payloads

// NewContextRequestPayload creates a payload for shared context lookups.
func NewContextRequestPayload(data *ContextRequestPayload) *Payload {
	raw, _ := json.Marshal(data)
	return &Payload{Kind: PayloadKindContextRequest, Data: raw}
}

// ExtractContextRequest extracts and validates a context request payload.
func (p *Payload) ExtractContextRequest() (*ContextRequestPayload, error) {
	if p.Kind != PayloadKindContextRequest {
		return nil, fmt.Errorf("expected context_request payload, got %s", p.Kind)
	}
	var result ContextRequestPayload
	if err := json.Unmarshal(p.Data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal context request: %w", err)
	}
	return &result, nil
}

// NewContextValuePayload creates a payload answering a context request.
func NewContextValuePayload(data *ContextValuePayload) *Payload {
	raw, _ := json.Marshal(data)
	return &Payload{Kind: PayloadKindContextValue, Data: raw}
}

// ExtractContextValue extracts and validates a context value payload.
func (p *Payload) ExtractContextValue() (*ContextValuePayload, error) {
	if p.Kind != PayloadKindContextValue {
		return nil, fmt.Errorf("expected context_value payload, got %s", p.Kind)
	}
	var result ContextValuePayload
	if err := json.Unmarshal(p.Data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal context value: %w", err)
	}
	return &result, nil
}

// Lifecycle announce payload

// NewAnnouncePayload creates a payload for agent lifecycle announcements.
func NewAnnouncePayload(data *AnnouncePayload) *Payload {
	raw, _ := json.Marshal(data)
	return &Payload{Kind: PayloadKindAnnounce, Data: raw}
}

// ExtractAnnounce extracts and validates an announce payload.
func (p *Payload) ExtractAnnounce() (*AnnouncePayload, error) {
	if p.Kind != PayloadKindAnnounce {
		return nil, fmt.Errorf("expected announce payload, got %s", p.Kind)
	}
	var result AnnouncePayload
	if err := json.Unmarshal(p.Data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal announce: %w", err)
	}
	return &result, nil
}

// Generic payloads

// NewGenericPayload creates a payload for miscellaneous key-value data.
func NewGenericPayload(data map[string]any) *Payload {
	raw, _ := json.Marshal(data)
	return &Payload{Kind: PayloadKindGeneric, Data: raw}
}

// ExtractGeneric extracts a generic key-value payload.
func (p *Payload) ExtractGeneric() (map[string]any, error) {
	if p.Kind != PayloadKindGeneric {
		return nil, fmt.Errorf("expected generic payload, got %s", p.Kind)
	}
	var result map[string]any
	if err := json.Unmarshal(p.Data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal generic payload: %w", err)
	}
	return result, nil
}
