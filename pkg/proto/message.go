// Package proto defines the message envelope and typed payloads exchanged
// between agents over the message bus.
package proto

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// MsgType identifies the kind of agent message.
type MsgType string

const (
	// Architecture-related messages.
	MsgTypeDesignRequired  MsgType = "DESIGN_REQUIRED"
	MsgTypeDesignCompleted MsgType = "DESIGN_COMPLETED"

	// Observation-related messages.
	MsgTypeObservationRequired  MsgType = "OBSERVATION_REQUIRED"
	MsgTypeObservationCompleted MsgType = "OBSERVATION_COMPLETED"

	// Code editing messages.
	MsgTypeEditRequired  MsgType = "EDIT_REQUIRED"
	MsgTypeEditCompleted MsgType = "EDIT_COMPLETED"

	// Feedback messages.
	MsgTypeFeedbackProvided MsgType = "FEEDBACK_PROVIDED"

	// Coordination messages.
	MsgTypeTaskStarted   MsgType = "TASK_STARTED"
	MsgTypeTaskCompleted MsgType = "TASK_COMPLETED"
	MsgTypeTaskFailed    MsgType = "TASK_FAILED"

	// Context messages.
	MsgTypeContextUpdated   MsgType = "CONTEXT_UPDATED"
	MsgTypeContextRequested MsgType = "CONTEXT_REQUESTED"

	// Agent lifecycle messages.
	MsgTypeAgentInitialized MsgType = "AGENT_INITIALIZED"
	MsgTypeAgentTerminated  MsgType = "AGENT_TERMINATED"
)

// TargetBroadcast addresses a message to every agent on the bus.
const TargetBroadcast = "all"

// Message is the immutable envelope passed between agents. Payloads are
// carried serialized, so a receiver always unmarshals its own copy and can
// never mutate the sender's state.
type Message struct {
	ID            string    `json:"id"`
	Type          MsgType   `json:"type"`
	SourceID      string    `json:"source_id"`
	TargetID      string    `json:"target_id"`
	Timestamp     time.Time `json:"timestamp"`
	Payload       *Payload  `json:"payload,omitempty"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// NewMessage creates a message with a fresh unique ID and no correlation.
// The payload, if any, is assigned by the caller.
func NewMessage(msgType MsgType, sourceID, targetID string) *Message {
	return &Message{
		ID:        uuid.New().String(),
		Type:      msgType,
		SourceID:  sourceID,
		TargetID:  targetID,
		Timestamp: time.Now().UTC(),
	}
}

// CreateResponse builds a reply to this message: source and target are
// swapped and the correlation ID is preserved so the requester's pending
// future resolves.
func (m *Message) CreateResponse(msgType MsgType) *Message {
	return &Message{
		ID:            uuid.New().String(),
		Type:          msgType,
		SourceID:      m.TargetID,
		TargetID:      m.SourceID,
		Timestamp:     time.Now().UTC(),
		CorrelationID: m.CorrelationID,
	}
}

// IsAddressedTo reports whether an agent with the given ID should process
// this message.
func (m *Message) IsAddressedTo(agentID string) bool {
	return m.TargetID == agentID || m.TargetID == TargetBroadcast
}

func (m *Message) ToJSON() ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message: %w", err)
	}
	return data, nil
}

func FromJSON(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal message: %w", err)
	}
	return &msg, nil
}

func (m *Message) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("message ID is required")
	}
	if m.Type == "" {
		return fmt.Errorf("message type is required")
	}
	if m.SourceID == "" {
		return fmt.Errorf("source_id is required")
	}
	if m.TargetID == "" {
		return fmt.Errorf("target_id is required")
	}
	if m.Timestamp.IsZero() {
		return fmt.Errorf("timestamp is required")
	}
	if _, valid := ValidateMsgType(string(m.Type)); !valid {
		return fmt.Errorf("invalid message type: %s", m.Type)
	}
	return nil
}

// GenerateCorrelationID creates a unique token linking a request to its
// response.
func GenerateCorrelationID() string {
	return "c-" + uuid.New().String()
}

// ValidateMsgType validates if a string is a valid message type.
func ValidateMsgType(msgType string) (MsgType, bool) {
	switch MsgType(msgType) {
	case MsgTypeDesignRequired, MsgTypeDesignCompleted,
		MsgTypeObservationRequired, MsgTypeObservationCompleted,
		MsgTypeEditRequired, MsgTypeEditCompleted,
		MsgTypeFeedbackProvided,
		MsgTypeTaskStarted, MsgTypeTaskCompleted, MsgTypeTaskFailed,
		MsgTypeContextUpdated, MsgTypeContextRequested,
		MsgTypeAgentInitialized, MsgTypeAgentTerminated:
		return MsgType(msgType), true
	default:
		return "", false
	}
}

// ParseMsgType parses a string into a MsgType with validation.
func ParseMsgType(s string) (MsgType, error) {
	if msgType, valid := ValidateMsgType(strings.ToUpper(s)); valid {
		return msgType, nil
	}
	return "", fmt.Errorf("unknown message type: %s", s)
}

func (mt MsgType) String() string {
	return string(mt)
}
