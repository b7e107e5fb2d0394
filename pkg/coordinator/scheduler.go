package coordinator

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"multiagent/pkg/logx"
)

// ScheduleConfig controls how often a periodic agent runs on its own.
type ScheduleConfig struct {
	AgentID  string
	Interval time.Duration
	Enabled  bool
}

// scheduleJSON is the wire form. Intervals travel as milliseconds both
// ways, matching what the management API accepts on updates.
type scheduleJSON struct {
	AgentID    string `json:"agent_id"`
	IntervalMs int64  `json:"interval_ms"`
	Enabled    bool   `json:"enabled"`
}

func (c ScheduleConfig) MarshalJSON() ([]byte, error) {
	return json.Marshal(scheduleJSON{
		AgentID:    c.AgentID,
		IntervalMs: c.Interval.Milliseconds(),
		Enabled:    c.Enabled,
	})
}

func (c *ScheduleConfig) UnmarshalJSON(data []byte) error {
	var wire scheduleJSON
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	c.AgentID = wire.AgentID
	c.Interval = time.Duration(wire.IntervalMs) * time.Millisecond
	c.Enabled = wire.Enabled
	return nil
}

// Applier pushes a schedule into the agent it belongs to.
type Applier func(cfg ScheduleConfig)

// Scheduler maps agents to periodic-activity schedules and pushes updates
// into them. It is a thin management layer: the agents own their timers,
// the scheduler only tells them how fast to tick.
type Scheduler struct {
	logger *logx.Logger

	mu        sync.Mutex
	schedules map[string]ScheduleConfig
	appliers  map[string]Applier
}

// NewScheduler creates an empty scheduler.
func NewScheduler() *Scheduler {
	return &Scheduler{
		logger:    logx.NewLogger("scheduler"),
		schedules: make(map[string]ScheduleConfig),
		appliers:  make(map[string]Applier),
	}
}

// Bind registers the applier for an agent. If a schedule already exists for
// that agent it is applied immediately.
func (s *Scheduler) Bind(agentID string, apply Applier) {
	s.mu.Lock()
	s.appliers[agentID] = apply
	cfg, ok := s.schedules[agentID]
	s.mu.Unlock()
	if ok {
		apply(cfg)
	}
}

// Update stores a schedule and applies it to the bound agent, if any.
func (s *Scheduler) Update(agentID string, interval time.Duration, enabled bool) ScheduleConfig {
	cfg := ScheduleConfig{AgentID: agentID, Interval: interval, Enabled: enabled}
	s.mu.Lock()
	s.schedules[agentID] = cfg
	apply := s.appliers[agentID]
	s.mu.Unlock()

	s.logger.Info("Schedule for %s: interval=%s enabled=%v", agentID, interval, enabled)
	if apply != nil {
		apply(cfg)
	}
	return cfg
}

// Schedule returns the stored schedule for an agent.
func (s *Scheduler) Schedule(agentID string) (ScheduleConfig, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, ok := s.schedules[agentID]
	return cfg, ok
}

// Schedules returns every stored schedule, ordered by agent id.
func (s *Scheduler) Schedules() []ScheduleConfig {
	s.mu.Lock()
	out := make([]ScheduleConfig, 0, len(s.schedules))
	for _, cfg := range s.schedules {
		out = append(out, cfg)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })
	return out
}
