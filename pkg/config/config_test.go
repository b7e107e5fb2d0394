package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	workspace := t.TempDir()
	path := writeConfig(t, `{"workspace_root": "`+workspace+`"}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.ListenAddr != DefaultListenAddr {
		t.Errorf("ListenAddr = %q, want %q", cfg.ListenAddr, DefaultListenAddr)
	}
	if cfg.Bus.QueueSize != DefaultBusQueueSize {
		t.Errorf("QueueSize = %d, want %d", cfg.Bus.QueueSize, DefaultBusQueueSize)
	}
	if cfg.Agents.ObservationFrequency.Std() != DefaultObservationFrequency {
		t.Errorf("ObservationFrequency = %s, want %s", cfg.Agents.ObservationFrequency.Std(), DefaultObservationFrequency)
	}
	if cfg.DatabasePath != DefaultDatabasePath {
		t.Errorf("DatabasePath = %q, want %q", cfg.DatabasePath, DefaultDatabasePath)
	}
}

func TestLoadExplicitValues(t *testing.T) {
	workspace := t.TempDir()
	path := writeConfig(t, `{
		"workspace_root": "`+workspace+`",
		"listen_addr": ":9090",
		"database_path": "history.db",
		"event_log_dir": "logs",
		"bus": {"queue_size": 16},
		"agents": {"request_timeout": "5s", "observation_frequency": 1500}
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.ListenAddr != ":9090" {
		t.Errorf("ListenAddr = %q", cfg.ListenAddr)
	}
	if cfg.Bus.QueueSize != 16 {
		t.Errorf("QueueSize = %d, want 16", cfg.Bus.QueueSize)
	}
	if cfg.Agents.RequestTimeout.Std() != 5*time.Second {
		t.Errorf("RequestTimeout = %s, want 5s", cfg.Agents.RequestTimeout.Std())
	}
	if cfg.Agents.ObservationFrequency.Std() != 1500*time.Millisecond {
		t.Errorf("ObservationFrequency = %s, want 1.5s", cfg.Agents.ObservationFrequency.Std())
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, `{"workspace_root": "`+t.TempDir()+`", "workspaceRoot": "typo"}`)
	if _, err := Load(path); err == nil {
		t.Error("Expected an error for an unknown field")
	}
}

func TestLoadRejectsMissingWorkspace(t *testing.T) {
	path := writeConfig(t, `{}`)
	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "workspace_root is required") {
		t.Errorf("Error = %v, want missing workspace_root", err)
	}

	path = writeConfig(t, `{"workspace_root": "/does/not/exist"}`)
	if _, err := Load(path); err == nil {
		t.Error("Expected an error for a nonexistent workspace")
	}
}

func TestArchiveCanBeDisabled(t *testing.T) {
	workspace := t.TempDir()
	path := writeConfig(t, `{"workspace_root": "`+workspace+`", "archive_disabled": true}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.DatabasePath != "" {
		t.Errorf("DatabasePath = %q, want empty with archiving disabled", cfg.DatabasePath)
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	path := writeConfig(t, `{"workspace_root": "`+t.TempDir()+`", "listen_addr": ":9090"}`)
	t.Setenv("AGENTD_LISTEN_ADDR", ":7070")
	t.Setenv("AGENTD_DATABASE_PATH", "override.db")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.ListenAddr != ":7070" {
		t.Errorf("ListenAddr = %q, want env override :7070", cfg.ListenAddr)
	}
	if cfg.DatabasePath != "override.db" {
		t.Errorf("DatabasePath = %q, want env override", cfg.DatabasePath)
	}
}

func TestDefaultConfigValidates(t *testing.T) {
	cfg := Default(t.TempDir())
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default config should validate: %v", err)
	}
}

func TestDurationRejectsGarbage(t *testing.T) {
	path := writeConfig(t, `{"workspace_root": "`+t.TempDir()+`", "agents": {"request_timeout": "soon"}}`)
	if _, err := Load(path); err == nil {
		t.Error("Expected an error for an unparseable duration")
	}
}
