package testkit

import (
	"testing"
	"time"

	"multiagent/pkg/agent"
	"multiagent/pkg/bus"
	"multiagent/pkg/proto"
)

// Collector is a bus subscriber that records every message of the types it
// was started with. Tests use it to observe traffic without standing up a
// real agent.
type Collector struct {
	base     *agent.Base
	messages chan *proto.Message
}

// StartCollector subscribes a collector to the given message types and
// registers cleanup with the test.
func StartCollector(t *testing.T, msgBus *bus.Bus, id string, msgTypes ...proto.MsgType) *Collector {
	t.Helper()
	c := &Collector{
		base:     agent.NewBase(agent.Config{ID: id, AgentType: "collector", Bus: msgBus}),
		messages: make(chan *proto.Message, 64),
	}
	for _, msgType := range msgTypes {
		c.base.Handle(msgType, func(msg *proto.Message) {
			select {
			case c.messages <- msg:
			default:
				t.Errorf("Collector %s overflowed dropping %s", id, msg.Type)
			}
		})
	}
	if err := c.base.Start(); err != nil {
		t.Fatalf("Failed to start collector %s: %v", id, err)
	}
	t.Cleanup(func() { _ = c.base.Stop() })
	return c
}

// ID returns the collector's bus identity.
func (c *Collector) ID() string { return c.base.ID() }

// Next returns the next recorded message, failing the test on timeout.
func (c *Collector) Next(t *testing.T, timeout time.Duration) *proto.Message {
	t.Helper()
	select {
	case msg := <-c.messages:
		return msg
	case <-time.After(timeout):
		t.Fatalf("Collector %s received no message within %s", c.base.ID(), timeout)
		return nil
	}
}

// TryNext returns the next recorded message, or nil if none arrives before
// the timeout. Use it to assert that traffic did NOT happen.
func (c *Collector) TryNext(timeout time.Duration) *proto.Message {
	select {
	case msg := <-c.messages:
		return msg
	case <-time.After(timeout):
		return nil
	}
}
