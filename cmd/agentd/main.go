// Command agentd runs the multi-agent editing system: the message bus, the
// architect/observer/editor agents, the coordinator, and the management API.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"multiagent/pkg/api"
	"multiagent/pkg/architect"
	"multiagent/pkg/bus"
	"multiagent/pkg/config"
	"multiagent/pkg/coordinator"
	"multiagent/pkg/editor"
	"multiagent/pkg/eventlog"
	"multiagent/pkg/logx"
	"multiagent/pkg/metrics"
	"multiagent/pkg/observer"
	"multiagent/pkg/persistence"
	"multiagent/pkg/suggest"
	"multiagent/pkg/workspace"
)

// System holds every running component so shutdown can unwind them in
// reverse order of startup.
type System struct {
	cfg    *config.Config
	logger *logx.Logger

	eventLog *eventlog.Writer
	history  *persistence.Store
	bus      *bus.Bus
	store    *workspace.Store
	watcher  *workspace.Watcher

	architect *architect.Architect
	observer  *observer.Observer
	editor    *editor.Editor
	coord     *coordinator.Coordinator
	scheduler *coordinator.Scheduler
}

func main() {
	var configPath string
	var workspaceRoot string
	var listenAddr string
	flag.StringVar(&configPath, "config", "", "Path to config file")
	flag.StringVar(&workspaceRoot, "workspace", "", "Workspace root (overrides config)")
	flag.StringVar(&listenAddr, "listen", "", "Management API address (overrides config)")
	flag.Parse()

	if configPath == "" {
		configPath = os.Getenv("CONFIG_PATH")
	}

	cfg, err := loadConfig(configPath, workspaceRoot)
	if err != nil {
		fmt.Fprintf(os.Stderr, "agentd: %v\n", err)
		os.Exit(1)
	}
	if listenAddr != "" {
		cfg.ListenAddr = listenAddr
	}

	sys := &System{cfg: cfg, logger: logx.NewLogger("agentd")}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := sys.Start(ctx); err != nil {
		sys.logger.Error("Startup failed: %v", err)
		sys.Shutdown()
		os.Exit(1)
	}

	<-ctx.Done()
	sys.logger.Info("Shutdown signal received")
	sys.Shutdown()
}

// loadConfig reads the config file when one is given, otherwise builds a
// default config rooted at the workspace flag or the current directory.
func loadConfig(configPath, workspaceRoot string) (*config.Config, error) {
	if configPath != "" {
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		if workspaceRoot != "" {
			cfg.WorkspaceRoot = workspaceRoot
			if err := cfg.Validate(); err != nil {
				return nil, err
			}
		}
		return cfg, nil
	}

	if workspaceRoot == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve working directory: %w", err)
		}
		workspaceRoot = cwd
	}
	cfg := config.Default(workspaceRoot)
	return cfg, cfg.Validate()
}

// Start brings the system up: infrastructure first, then agents, then the
// coordinator and the management API.
func (s *System) Start(ctx context.Context) error {
	s.logger.Info("Starting agent system in %s", s.cfg.WorkspaceRoot)

	if s.cfg.EventLogDir != "" {
		writer, err := eventlog.NewWriter(s.cfg.EventLogDir)
		if err != nil {
			return fmt.Errorf("failed to open event log: %w", err)
		}
		s.eventLog = writer
	}
	if s.cfg.DatabasePath != "" {
		store, err := persistence.Open(s.cfg.DatabasePath)
		if err != nil {
			return fmt.Errorf("failed to open message archive: %w", err)
		}
		s.history = store
	}

	recorder := metrics.NewRecorder()
	opts := bus.Options{
		QueueSize: s.cfg.Bus.QueueSize,
		EventLog:  s.eventLog,
		Recorder:  recorder,
	}
	if s.history != nil {
		// Assigning a nil *Store into the interface would defeat the
		// bus's nil check.
		opts.History = s.history
	}
	s.bus = bus.New(opts)
	if err := s.bus.Start(); err != nil {
		return fmt.Errorf("failed to start bus: %w", err)
	}

	store, err := workspace.NewStore(s.cfg.WorkspaceRoot)
	if err != nil {
		return fmt.Errorf("failed to open workspace: %w", err)
	}
	s.store = store
	watcher, err := workspace.NewWatcher(store)
	if err != nil {
		return fmt.Errorf("failed to watch workspace: %w", err)
	}
	s.watcher = watcher
	watcher.Start(ctx)

	requestTimeout := s.cfg.Agents.RequestTimeout.Std()
	s.architect = architect.New(architect.Config{
		Bus:            s.bus,
		Store:          store,
		RequestTimeout: requestTimeout,
	})
	s.observer = observer.New(observer.Config{
		Bus:                  s.bus,
		Store:                store,
		ObservationFrequency: s.cfg.Agents.ObservationFrequency.Std(),
		RequestTimeout:       requestTimeout,
	})
	s.editor = editor.New(editor.Config{
		Bus:            s.bus,
		Store:          store,
		ArchitectID:    s.architect.ID(),
		Recorder:       recorder,
		RequestTimeout: requestTimeout,
	})
	s.architect.SetObserverID(s.observer.ID())

	for _, a := range []interface{ Start() error }{s.architect, s.observer, s.editor} {
		if err := a.Start(); err != nil {
			return fmt.Errorf("failed to start agent: %w", err)
		}
	}

	s.coord = coordinator.New(coordinator.Config{
		Bus:            s.bus,
		EditorID:       s.editor.ID(),
		Recorder:       recorder,
		History:        s.history,
		RequestTimeout: requestTimeout,
	})
	if err := s.coord.Start(); err != nil {
		return fmt.Errorf("failed to start coordinator: %w", err)
	}
	s.coord.RegisterAgent(s.architect)
	s.coord.RegisterAgent(s.observer)
	s.coord.RegisterAgent(s.editor)

	s.scheduler = coordinator.NewScheduler()
	s.scheduler.Bind(s.observer.ID(), func(cfg coordinator.ScheduleConfig) {
		if cfg.Enabled {
			s.observer.SetObservationFrequency(cfg.Interval)
		}
	})
	s.scheduler.Update(s.observer.ID(), s.cfg.Agents.ObservationFrequency.Std(), true)

	// Model-backed suggestions when a key is available, rule table otherwise.
	// Either way the generator sits behind a per-minute budget.
	var generator suggest.Generator
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		generator = suggest.NewModelGenerator(key, "")
	} else {
		generator = suggest.NewRuleGenerator(nil)
	}

	server := api.New(api.Config{
		Coordinator: s.coord,
		Scheduler:   s.scheduler,
		History:     s.history,
		Suggest:     suggest.NewLimitedGenerator(generator, 30),
	})
	if err := server.Start(ctx, s.cfg.ListenAddr); err != nil {
		return fmt.Errorf("failed to start management API: %w", err)
	}

	s.logger.Info("Agent system ready: architect=%s observer=%s editor=%s",
		s.architect.ID(), s.observer.ID(), s.editor.ID())
	return nil
}

// Shutdown unwinds the system. Components are stopped in reverse startup
// order so in-flight messages drain before the bus goes away.
func (s *System) Shutdown() {
	if s.coord != nil {
		if err := s.coord.Stop(); err != nil {
			s.logger.Warn("Coordinator stop: %v", err)
		}
	}
	var agents []interface{ Stop() error }
	if s.editor != nil {
		agents = append(agents, s.editor)
	}
	if s.observer != nil {
		agents = append(agents, s.observer)
	}
	if s.architect != nil {
		agents = append(agents, s.architect)
	}
	for _, a := range agents {
		if err := a.Stop(); err != nil {
			s.logger.Warn("Agent stop: %v", err)
		}
	}
	if s.watcher != nil {
		if err := s.watcher.Close(); err != nil {
			s.logger.Warn("Watcher close: %v", err)
		}
	}
	if s.bus != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.bus.Stop(ctx); err != nil {
			s.logger.Warn("Bus stop: %v", err)
		}
	}
	if s.history != nil {
		if err := s.history.Close(); err != nil {
			s.logger.Warn("Archive close: %v", err)
		}
	}
	if s.eventLog != nil {
		if err := s.eventLog.Close(); err != nil {
			s.logger.Warn("Event log close: %v", err)
		}
	}
	s.logger.Info("Agent system stopped")
}
