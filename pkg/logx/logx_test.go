package logx

import (
	"testing"
)

func TestNewLogger(t *testing.T) {
	logger := NewLogger("test-component")
	if logger.Component() != "test-component" {
		t.Errorf("Expected component 'test-component', got %s", logger.Component())
	}
}

func TestWithComponent(t *testing.T) {
	logger := NewLogger("original")
	derived := logger.WithComponent("derived")

	if derived.Component() != "derived" {
		t.Errorf("Expected component 'derived', got %s", derived.Component())
	}
	if logger.Component() != "original" {
		t.Errorf("Original logger component changed to %s", logger.Component())
	}
}

func TestSetDebugDomains(t *testing.T) {
	defer SetDebug(false, nil)

	SetDebug(true, []string{"bus", "editor"})

	if !IsDebugEnabled("bus") {
		t.Error("Expected debug enabled for 'bus'")
	}
	if !IsDebugEnabled("editor") {
		t.Error("Expected debug enabled for 'editor'")
	}
	if IsDebugEnabled("architect") {
		t.Error("Expected debug disabled for 'architect'")
	}

	SetDebug(true, nil)
	if !IsDebugEnabled("architect") {
		t.Error("Expected all domains enabled when no filter is set")
	}

	SetDebug(false, nil)
	if IsDebugEnabled("bus") {
		t.Error("Expected debug disabled globally")
	}
}

func TestWrapNil(t *testing.T) {
	if err := Wrap(nil, "context"); err != nil {
		t.Errorf("Expected nil for wrapped nil error, got %v", err)
	}
}

func TestErrorfReturnsError(t *testing.T) {
	err := Errorf("boom: %d", 42)
	if err == nil {
		t.Fatal("Expected non-nil error")
	}
	if err.Error() != "boom: 42" {
		t.Errorf("Unexpected error message: %s", err.Error())
	}
}
