// Package config loads the agent system's runtime configuration from a JSON
// file. Config is value-based: Load returns a populated Config and callers
// pass it down explicitly, there is no process-global instance.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

// Defaults applied for fields the config file leaves unset.
const (
	DefaultListenAddr           = ":8080"
	DefaultBusQueueSize         = 64
	DefaultRequestTimeout       = 30 * time.Second
	DefaultObservationFrequency = 30 * time.Second
	DefaultDatabasePath         = "agents.db"
)

// Duration is a time.Duration that unmarshals from JSON strings like "30s"
// or from integer milliseconds.
type Duration time.Duration

func (d *Duration) UnmarshalJSON(data []byte) error {
	var ms int64
	if err := json.Unmarshal(data, &ms); err == nil {
		*d = Duration(time.Duration(ms) * time.Millisecond)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("duration must be a string or integer milliseconds: %s", data)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Std converts to a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the full runtime configuration.
type Config struct {
	// WorkspaceRoot is the directory the agents edit. Required.
	WorkspaceRoot string `json:"workspace_root"`

	// ListenAddr is the management API bind address.
	ListenAddr string `json:"listen_addr,omitempty"`

	// DatabasePath locates the sqlite archive. Empty disables archiving
	// only when ArchiveDisabled is set; otherwise the default is used.
	DatabasePath    string `json:"database_path,omitempty"`
	ArchiveDisabled bool   `json:"archive_disabled,omitempty"`

	// EventLogDir holds the JSONL message logs. Empty disables them.
	EventLogDir string `json:"event_log_dir,omitempty"`

	Bus    BusConfig    `json:"bus"`
	Agents AgentsConfig `json:"agents"`
}

// BusConfig tunes the message bus.
type BusConfig struct {
	// QueueSize bounds each subscriber's delivery queue.
	QueueSize int `json:"queue_size,omitempty"`
}

// AgentsConfig tunes agent behavior.
type AgentsConfig struct {
	// RequestTimeout bounds request/response exchanges. Zero disables the
	// default timeout; requests then run until their context expires.
	RequestTimeout Duration `json:"request_timeout,omitempty"`

	// ObservationFrequency is the observer's periodic-observation floor.
	ObservationFrequency Duration `json:"observation_frequency,omitempty"`
}

// Default returns a config with every tunable at its default, rooted at the
// given workspace.
func Default(workspaceRoot string) *Config {
	cfg := &Config{WorkspaceRoot: workspaceRoot}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.ListenAddr == "" {
		c.ListenAddr = DefaultListenAddr
	}
	if c.Bus.QueueSize <= 0 {
		c.Bus.QueueSize = DefaultBusQueueSize
	}
	if c.Agents.RequestTimeout < 0 {
		c.Agents.RequestTimeout = 0
	}
	if c.Agents.ObservationFrequency <= 0 {
		c.Agents.ObservationFrequency = Duration(DefaultObservationFrequency)
	}
	if c.DatabasePath == "" && !c.ArchiveDisabled {
		c.DatabasePath = DefaultDatabasePath
	}
}

// Validate rejects configs that cannot produce a working system.
func (c *Config) Validate() error {
	var problems []string
	if c.WorkspaceRoot == "" {
		problems = append(problems, "workspace_root is required")
	} else if info, err := os.Stat(c.WorkspaceRoot); err != nil {
		problems = append(problems, fmt.Sprintf("workspace_root: %v", err))
	} else if !info.IsDir() {
		problems = append(problems, fmt.Sprintf("workspace_root %q is not a directory", c.WorkspaceRoot))
	}
	if c.Bus.QueueSize <= 0 {
		problems = append(problems, "bus.queue_size must be positive")
	}
	if len(problems) > 0 {
		return errors.New("invalid config: " + strings.Join(problems, "; "))
	}
	return nil
}

// Load reads, defaults, and validates a config file.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv lets deployment environments override file settings without
// editing the config.
func (c *Config) applyEnv() {
	if v := os.Getenv("AGENTD_WORKSPACE_ROOT"); v != "" {
		c.WorkspaceRoot = v
	}
	if v := os.Getenv("AGENTD_LISTEN_ADDR"); v != "" {
		c.ListenAddr = v
	}
	if v := os.Getenv("AGENTD_DATABASE_PATH"); v != "" {
		c.DatabasePath = v
	}
	if v := os.Getenv("AGENTD_EVENT_LOG_DIR"); v != "" {
		c.EventLogDir = v
	}
}
