// Package testkit provides helpers for asserting on bus traffic in tests.
package testkit

import (
	"testing"

	"multiagent/pkg/proto"
)

// AssertMessageType verifies the message type.
func AssertMessageType(t *testing.T, msg *proto.Message, expected proto.MsgType) {
	t.Helper()
	if msg.Type != expected {
		t.Errorf("Expected message type %s, got %s", expected, msg.Type)
	}
}

// AssertMessageSource verifies the sender.
func AssertMessageSource(t *testing.T, msg *proto.Message, expected string) {
	t.Helper()
	if msg.SourceID != expected {
		t.Errorf("Expected message from %s, got %s", expected, msg.SourceID)
	}
}

// AssertMessageTarget verifies the recipient.
func AssertMessageTarget(t *testing.T, msg *proto.Message, expected string) {
	t.Helper()
	if msg.TargetID != expected {
		t.Errorf("Expected message to %s, got %s", expected, msg.TargetID)
	}
}

// AssertBroadcast verifies the message is addressed to every agent.
func AssertBroadcast(t *testing.T, msg *proto.Message) {
	t.Helper()
	if msg.TargetID != proto.TargetBroadcast {
		t.Errorf("Expected a broadcast, got target %s", msg.TargetID)
	}
}

// AssertCorrelated verifies a response carries the request's correlation id
// and is addressed back to the requester.
func AssertCorrelated(t *testing.T, request, response *proto.Message) {
	t.Helper()
	if response.CorrelationID != request.CorrelationID {
		t.Errorf("Expected correlation id %s, got %s", request.CorrelationID, response.CorrelationID)
	}
	if response.TargetID != request.SourceID {
		t.Errorf("Expected response addressed to %s, got %s", request.SourceID, response.TargetID)
	}
}

// AssertHasPayload verifies the message carries a payload of the given kind.
func AssertHasPayload(t *testing.T, msg *proto.Message, kind proto.PayloadKind) {
	t.Helper()
	if msg.Payload == nil {
		t.Errorf("Expected a %s payload, got none", kind)
		return
	}
	if msg.Payload.Kind != kind {
		t.Errorf("Expected payload kind %s, got %s", kind, msg.Payload.Kind)
	}
}
