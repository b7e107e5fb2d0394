// Package api exposes the management HTTP surface: task and bundle
// operations, agent schedules, message history, and Prometheus metrics.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"multiagent/pkg/coordinator"
	"multiagent/pkg/logx"
	"multiagent/pkg/persistence"
	"multiagent/pkg/suggest"
)

// Server serves the management API.
type Server struct {
	coord     *coordinator.Coordinator
	scheduler *coordinator.Scheduler
	history   *persistence.Store
	suggester suggest.Generator
	logger    *logx.Logger
}

// Config wires the server's collaborators. Scheduler, History, and Suggest
// are optional; their endpoints report accordingly when absent.
type Config struct {
	Coordinator *coordinator.Coordinator
	Scheduler   *coordinator.Scheduler
	History     *persistence.Store
	Suggest     suggest.Generator
}

// New creates a management API server.
func New(cfg Config) *Server {
	return &Server{
		coord:     cfg.Coordinator,
		scheduler: cfg.Scheduler,
		history:   cfg.History,
		suggester: cfg.Suggest,
		logger:    logx.NewLogger("api"),
	}
}

// Router builds the HTTP routing table.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Route("/api", func(r chi.Router) {
		r.Route("/tasks", func(r chi.Router) {
			r.Get("/", s.handleListTasks)
			r.Post("/", s.handleCreateTask)
			r.Get("/{taskID}", s.handleGetTask)
			r.Get("/{taskID}/details", s.handleTaskDetails)
			r.Post("/{taskID}/deploy", s.handleDeployTask)
		})
		r.Route("/bundles", func(r chi.Router) {
			r.Get("/", s.handleListBundles)
			r.Post("/", s.handleCreateBundle)
			r.Get("/{bundleID}", s.handleGetBundle)
			r.Post("/{bundleID}/deploy", s.handleDeployBundle)
		})
		r.Route("/schedules", func(r chi.Router) {
			r.Get("/", s.handleListSchedules)
			r.Get("/{agentID}", s.handleGetSchedule)
			r.Put("/{agentID}", s.handleUpdateSchedule)
		})
		r.Get("/agents/{agentID}/context/{key}", s.handleAgentContext)
		r.Get("/history", s.handleHistory)
		r.Post("/suggest", s.handleSuggest)
	})
	r.Handle("/metrics", promhttp.Handler())
	return r
}

// Start serves until the context is cancelled, then shuts down gracefully.
// It returns once the listener is handed off to its goroutine.
func (s *Server) Start(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info("Starting management API on %s", addr)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Server error: %v", err)
		}
	}()

	go func() {
		<-ctx.Done()
		s.logger.Info("Shutting down management API")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("API shutdown failed: %v", err)
		}
	}()
	return nil
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("Failed to encode response: %v", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// lookupStatus maps registry errors onto HTTP statuses.
func lookupStatus(err error) int {
	if errors.Is(err, coordinator.ErrTaskNotFound) || errors.Is(err, coordinator.ErrBundleNotFound) {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

// handleCreateTask registers a task without deploying it. Unrecognized
// request fields are echoed back so clients can round-trip their own
// metadata (priority, assignee, due dates) through the registry response.
func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	description, _ := body["description"].(string)
	if description == "" {
		description, _ = body["title"].(string)
	}
	if description == "" {
		s.writeError(w, http.StatusBadRequest, "description is required")
		return
	}

	var filePaths []string
	if raw, ok := body["file_paths"].([]any); ok {
		for _, v := range raw {
			if path, ok := v.(string); ok {
				filePaths = append(filePaths, path)
			}
		}
	}

	task := s.coord.RegisterTask(description, filePaths)
	response := make(map[string]any, len(body)+2)
	for k, v := range body {
		response[k] = v
	}
	response["id"] = task.ID
	response["status"] = task.Status
	s.writeJSON(w, http.StatusCreated, response)
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.coord.Tasks())
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.coord.Task(chi.URLParam(r, "taskID"))
	if err != nil {
		s.writeError(w, lookupStatus(err), err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleTaskDetails(w http.ResponseWriter, r *http.Request) {
	details, err := s.coord.TaskDetails(chi.URLParam(r, "taskID"))
	if err != nil {
		s.writeError(w, lookupStatus(err), err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, details)
}

// handleDeployTask dispatches the task and returns immediately; completion
// is observed through subsequent GETs, not by blocking the request.
func (s *Server) handleDeployTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	if _, err := s.coord.DeployTask(taskID); err != nil {
		s.writeError(w, lookupStatus(err), err.Error())
		return
	}
	task, err := s.coord.Task(taskID)
	if err != nil {
		s.writeError(w, lookupStatus(err), err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleCreateBundle(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Title       string   `json:"title"`
		Description string   `json:"description"`
		Tasks       []string `json:"tasks"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	bundle, err := s.coord.CreateBundle(body.Title, body.Description, body.Tasks)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, coordinator.ErrTaskNotFound) {
			status = http.StatusNotFound
		}
		s.writeError(w, status, err.Error())
		return
	}
	s.writeJSON(w, http.StatusCreated, bundleResponse(bundle))
}

// bundleResponse aliases the bundle id under "id" so task and bundle
// creation responses are addressed the same way by clients.
func bundleResponse(bundle *coordinator.BundleInfo) map[string]any {
	raw, err := json.Marshal(bundle)
	if err != nil {
		return map[string]any{"id": bundle.ID}
	}
	out := make(map[string]any)
	if err := json.Unmarshal(raw, &out); err != nil {
		return map[string]any{"id": bundle.ID}
	}
	out["id"] = bundle.ID
	return out
}

func (s *Server) handleListBundles(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.coord.Bundles())
}

func (s *Server) handleGetBundle(w http.ResponseWriter, r *http.Request) {
	bundle, err := s.coord.Bundle(chi.URLParam(r, "bundleID"))
	if err != nil {
		s.writeError(w, lookupStatus(err), err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, bundle)
}

func (s *Server) handleDeployBundle(w http.ResponseWriter, r *http.Request) {
	bundleID := chi.URLParam(r, "bundleID")
	if _, err := s.coord.DeployBundle(bundleID); err != nil {
		s.writeError(w, lookupStatus(err), err.Error())
		return
	}
	bundle, err := s.coord.Bundle(bundleID)
	if err != nil {
		s.writeError(w, lookupStatus(err), err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, bundle)
}

func (s *Server) handleListSchedules(w http.ResponseWriter, r *http.Request) {
	if s.scheduler == nil {
		s.writeError(w, http.StatusNotFound, "scheduler not configured")
		return
	}
	s.writeJSON(w, http.StatusOK, s.scheduler.Schedules())
}

func (s *Server) handleGetSchedule(w http.ResponseWriter, r *http.Request) {
	if s.scheduler == nil {
		s.writeError(w, http.StatusNotFound, "scheduler not configured")
		return
	}
	cfg, ok := s.scheduler.Schedule(chi.URLParam(r, "agentID"))
	if !ok {
		s.writeError(w, http.StatusNotFound, "no schedule for agent")
		return
	}
	s.writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) handleUpdateSchedule(w http.ResponseWriter, r *http.Request) {
	if s.scheduler == nil {
		s.writeError(w, http.StatusNotFound, "scheduler not configured")
		return
	}
	var body struct {
		IntervalMs int64 `json:"interval_ms"`
		Enabled    bool  `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if body.IntervalMs <= 0 {
		s.writeError(w, http.StatusBadRequest, "interval_ms must be positive")
		return
	}

	cfg := s.scheduler.Update(chi.URLParam(r, "agentID"), time.Duration(body.IntervalMs)*time.Millisecond, body.Enabled)
	s.writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) handleAgentContext(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentID")
	key := chi.URLParam(r, "key")
	value, ok := s.coord.AgentContextData(agentID, key)
	if !ok {
		s.writeError(w, http.StatusNotFound, "no context data for agent")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"agent_id": agentID,
		"key":      key,
		"value":    json.RawMessage(value),
	})
}

// handleSuggest completes trailing editor context. An exhausted or
// unmatched generator yields an empty suggestion, not an error.
func (s *Server) handleSuggest(w http.ResponseWriter, r *http.Request) {
	if s.suggester == nil {
		s.writeError(w, http.StatusNotFound, "suggestions not configured")
		return
	}
	var body struct {
		Context string `json:"context"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if body.Context == "" {
		s.writeError(w, http.StatusBadRequest, "context is required")
		return
	}

	suggestion, err := s.suggester.Generate(r.Context(), body.Context)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"suggestion": suggestion})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.writeError(w, http.StatusNotFound, "message archive not configured")
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	messages, err := s.history.RecentMessages(limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, messages)
}
