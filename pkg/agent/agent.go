// Package agent provides the actor base that concrete agents embed. A Base
// owns its identity, an isolated key-value context, a handler table keyed by
// message type, and the pending-request map that layers request/response on
// top of the pub/sub bus.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"multiagent/pkg/bus"
	"multiagent/pkg/logx"
	"multiagent/pkg/proto"
)

// Agent type names used in lifecycle announcements and registries.
const (
	TypeArchitect   = "architect"
	TypeObserver    = "observer"
	TypeEditor      = "editor"
	TypeCoordinator = "coordinator"
)

// Status is the lifecycle state of an agent.
type Status string

const (
	StatusCreated Status = "created"
	StatusRunning Status = "running"
	StatusStopped Status = "stopped"
)

// Handler processes one inbound message. Handlers for the same agent run
// serially on the bus worker goroutine.
type Handler func(msg *proto.Message)

// GenerateID builds an agent id from a name plus an 8-hex random suffix,
// e.g. "Architect-3f1c9b2a".
func GenerateID(name string) string {
	return name + "-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// ErrAgentStopped is returned from requests interrupted by Stop.
var ErrAgentStopped = fmt.Errorf("agent stopped")

// Config carries the collaborators a Base needs.
type Config struct {
	ID        string
	AgentType string
	Bus       *bus.Bus

	// RequestTimeout bounds Request calls. Zero means no timeout; callers
	// can still bound a request through its context.
	RequestTimeout time.Duration
}

// Base implements the shared agent machinery. Concrete agents embed it,
// register handlers, and let the bus drive them.
type Base struct {
	id             string
	agentType      string
	bus            *bus.Bus
	logger         *logx.Logger
	requestTimeout time.Duration

	mu       sync.Mutex
	status   Status
	handlers map[proto.MsgType]Handler
	kv       map[string]json.RawMessage
	pending  map[string]chan *proto.Message
}

// NewBase creates an agent base in the created state.
func NewBase(cfg Config) *Base {
	return &Base{
		id:             cfg.ID,
		agentType:      cfg.AgentType,
		bus:            cfg.Bus,
		logger:         logx.NewLogger(cfg.ID),
		requestTimeout: cfg.RequestTimeout,
		status:         StatusCreated,
		handlers:       make(map[proto.MsgType]Handler),
		kv:             make(map[string]json.RawMessage),
		pending:        make(map[string]chan *proto.Message),
	}
}

// ID returns the agent identifier.
func (b *Base) ID() string { return b.id }

// AgentType returns the agent's type name.
func (b *Base) AgentType() string { return b.agentType }

// Status returns the current lifecycle state.
func (b *Base) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.status
}

// Logger exposes the agent's component logger to embedders.
func (b *Base) Logger() *logx.Logger { return b.logger }

// Handle registers a handler and subscribes the agent to that message type.
// Call before Start; registration is not synchronized against delivery.
func (b *Base) Handle(msgType proto.MsgType, h Handler) {
	b.mu.Lock()
	b.handlers[msgType] = h
	b.mu.Unlock()
	b.bus.Subscribe(msgType, b)
}

// SubscribeResponses subscribes the agent to message types it expects only
// as correlated responses to its own requests. Messages of these types with
// no matching pending request are dropped.
func (b *Base) SubscribeResponses(msgTypes ...proto.MsgType) {
	for _, msgType := range msgTypes {
		b.bus.Subscribe(msgType, b)
	}
}

// Start marks the agent running and announces it on the bus.
func (b *Base) Start() error {
	b.mu.Lock()
	if b.status == StatusRunning {
		b.mu.Unlock()
		return fmt.Errorf("agent %s is already running", b.id)
	}
	b.status = StatusRunning
	b.mu.Unlock()

	b.logger.Info("Agent started (%s)", b.agentType)

	announce := proto.NewMessage(proto.MsgTypeAgentInitialized, b.id, proto.TargetBroadcast)
	announce.Payload = proto.NewAnnouncePayload(&proto.AnnouncePayload{
		AgentID:   b.id,
		AgentType: b.agentType,
		Status:    string(StatusRunning),
	})
	if err := b.bus.Publish(announce); err != nil {
		b.logger.Warn("Failed to announce start: %v", err)
	}
	return nil
}

// Stop announces termination, detaches from the bus, and fails every pending
// request with ErrAgentStopped.
func (b *Base) Stop() error {
	b.mu.Lock()
	if b.status != StatusRunning {
		b.mu.Unlock()
		return nil
	}
	b.status = StatusStopped
	pending := b.pending
	b.pending = make(map[string]chan *proto.Message)
	b.mu.Unlock()

	announce := proto.NewMessage(proto.MsgTypeAgentTerminated, b.id, proto.TargetBroadcast)
	announce.Payload = proto.NewAnnouncePayload(&proto.AnnouncePayload{
		AgentID:   b.id,
		AgentType: b.agentType,
		Status:    string(StatusStopped),
	})
	if err := b.bus.Publish(announce); err != nil {
		b.logger.Warn("Failed to announce stop: %v", err)
	}

	b.bus.Detach(b.id)
	for correlationID, ch := range pending {
		close(ch)
		b.logger.Debug("Cancelled pending request %s", correlationID)
	}
	b.logger.Info("Agent stopped")
	return nil
}

// OnMessage implements the bus subscriber contract. Responses to pending
// requests resolve their future and bypass the handler table; everything
// else is target-filtered and dispatched by type.
func (b *Base) OnMessage(msg *proto.Message) {
	if msg.SourceID == b.id {
		return // No self-delivery on broadcast subscriptions.
	}

	if msg.CorrelationID != "" {
		b.mu.Lock()
		ch, waiting := b.pending[msg.CorrelationID]
		if waiting {
			delete(b.pending, msg.CorrelationID)
		}
		b.mu.Unlock()
		if waiting {
			ch <- msg
			return
		}
	}

	if !msg.IsAddressedTo(b.id) {
		return
	}

	b.mu.Lock()
	handler, ok := b.handlers[msg.Type]
	b.mu.Unlock()
	if !ok {
		b.logger.Debug("No handler for %s, dropping %s", msg.Type, msg.ID)
		return
	}
	handler(msg)
}

// Send publishes a message from this agent.
func (b *Base) Send(msg *proto.Message) error {
	if msg.SourceID == "" {
		msg.SourceID = b.id
	}
	return b.bus.Publish(msg)
}

// Request publishes msg and waits for the correlated response. A correlation
// ID is assigned when the message has none. The wait is bounded by ctx and,
// when configured, the agent's request timeout.
func (b *Base) Request(ctx context.Context, msg *proto.Message) (*proto.Message, error) {
	if msg.CorrelationID == "" {
		msg.CorrelationID = proto.GenerateCorrelationID()
	}
	if msg.SourceID == "" {
		msg.SourceID = b.id
	}

	ch := make(chan *proto.Message, 1)
	b.mu.Lock()
	if b.status != StatusRunning {
		b.mu.Unlock()
		return nil, ErrAgentStopped
	}
	b.pending[msg.CorrelationID] = ch
	b.mu.Unlock()

	if err := b.bus.Publish(msg); err != nil {
		b.dropPending(msg.CorrelationID)
		return nil, fmt.Errorf("failed to publish request: %w", err)
	}

	if b.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.requestTimeout)
		defer cancel()
	}

	select {
	case response, ok := <-ch:
		if !ok {
			return nil, ErrAgentStopped
		}
		return response, nil
	case <-ctx.Done():
		b.dropPending(msg.CorrelationID)
		return nil, fmt.Errorf("request %s timed out: %w", msg.CorrelationID, ctx.Err())
	}
}

func (b *Base) dropPending(correlationID string) {
	b.mu.Lock()
	delete(b.pending, correlationID)
	b.mu.Unlock()
}

// PendingRequests reports how many requests are awaiting responses.
func (b *Base) PendingRequests() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// SetContext stores a value in the agent's isolated context. The value is
// serialized on write, so later mutation of the original cannot leak in.
func (b *Base) SetContext(key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to serialize context value for %s: %w", key, err)
	}
	b.mu.Lock()
	b.kv[key] = raw
	b.mu.Unlock()
	return nil
}

// GetContext loads a context value into out. It reports false when the key
// is absent.
func (b *Base) GetContext(key string, out any) (bool, error) {
	b.mu.Lock()
	raw, ok := b.kv[key]
	b.mu.Unlock()
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return true, fmt.Errorf("failed to deserialize context value for %s: %w", key, err)
	}
	return true, nil
}

// PeekContext returns a copy of the raw serialized value for key. It exists
// for read-only reporting surfaces; agents still talk to each other through
// the context-request protocol.
func (b *Base) PeekContext(key string) (json.RawMessage, bool) {
	b.mu.Lock()
	raw, ok := b.kv[key]
	b.mu.Unlock()
	if !ok {
		return nil, false
	}
	out := make(json.RawMessage, len(raw))
	copy(out, raw)
	return out, true
}

// DeleteContext removes a context entry.
func (b *Base) DeleteContext(key string) {
	b.mu.Lock()
	delete(b.kv, key)
	b.mu.Unlock()
}

// ContextKeys lists the agent's context keys in sorted order.
func (b *Base) ContextKeys() []string {
	b.mu.Lock()
	keys := make([]string, 0, len(b.kv))
	for k := range b.kv {
		keys = append(keys, k)
	}
	b.mu.Unlock()
	sort.Strings(keys)
	return keys
}
