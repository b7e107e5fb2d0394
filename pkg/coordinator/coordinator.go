// Package coordinator owns the task and bundle registries and drives task
// execution over the bus. Completion is push-based: the coordinator's
// pending request resolves the moment the editor's terminal message lands,
// and registered waiters are woken in the same breath.
package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"multiagent/pkg/agent"
	"multiagent/pkg/bus"
	"multiagent/pkg/metrics"
	"multiagent/pkg/persistence"
	"multiagent/pkg/proto"
)

var (
	ErrTaskNotFound   = errors.New("task not found")
	ErrBundleNotFound = errors.New("bundle not found")
)

// Status is a task or bundle lifecycle state. Transitions only move
// forward: scheduled, started, in-progress, then completed or failed.
type Status string

const (
	StatusScheduled  Status = "scheduled"
	StatusStarted    Status = "started"
	StatusInProgress Status = "in-progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

func statusRank(s Status) int {
	switch s {
	case StatusScheduled:
		return 0
	case StatusStarted:
		return 1
	case StatusInProgress:
		return 2
	case StatusCompleted, StatusFailed:
		return 3
	default:
		return -1
	}
}

// TaskInfo is one registry entry.
type TaskInfo struct {
	ID          string                      `json:"task_id"`
	Description string                      `json:"description"`
	FilePaths   []string                    `json:"file_paths,omitempty"`
	BundleID    string                      `json:"bundle_id,omitempty"`
	Status      Status                      `json:"status"`
	CreatedAt   time.Time                   `json:"created_at"`
	StartedAt   time.Time                   `json:"started_at,omitzero"`
	CompletedAt time.Time                   `json:"completed_at,omitzero"`
	Result      *proto.EditCompletedPayload `json:"result,omitempty"`
	Error       string                      `json:"error,omitempty"`
}

func (t *TaskInfo) clone() *TaskInfo {
	out := *t
	out.FilePaths = append([]string(nil), t.FilePaths...)
	return &out
}

// BundleInfo groups tasks for batch deployment.
type BundleInfo struct {
	ID          string    `json:"bundle_id"`
	Title       string    `json:"title,omitempty"`
	Description string    `json:"description,omitempty"`
	TaskIDs     []string  `json:"tasks"`
	Status      Status    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	StartedAt   time.Time `json:"started_at,omitzero"`
	CompletedAt time.Time `json:"completed_at,omitzero"`
	Error       string    `json:"error,omitempty"`
}

func (b *BundleInfo) clone() *BundleInfo {
	out := *b
	out.TaskIDs = append([]string(nil), b.TaskIDs...)
	return &out
}

// Future resolves when its task reaches a terminal status.
type Future struct {
	taskID string
	done   chan struct{}
	once   sync.Once
	info   *TaskInfo
	err    error
}

func newFuture(taskID string) *Future {
	return &Future{taskID: taskID, done: make(chan struct{})}
}

// TaskID names the task this future tracks.
func (f *Future) TaskID() string { return f.taskID }

// Done is closed once the task is terminal.
func (f *Future) Done() <-chan struct{} { return f.done }

// Wait blocks until the task is terminal or the context expires.
func (f *Future) Wait(ctx context.Context) (*TaskInfo, error) {
	select {
	case <-f.done:
		return f.info, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *Future) resolve(info *TaskInfo, err error) {
	f.once.Do(func() {
		f.info = info
		f.err = err
		close(f.done)
	})
}

// BundleFuture resolves when every task in the bundle completes, or as soon
// as one of them fails.
type BundleFuture struct {
	bundleID string
	done     chan struct{}
	once     sync.Once
	info     *BundleInfo
	err      error
}

func newBundleFuture(bundleID string) *BundleFuture {
	return &BundleFuture{bundleID: bundleID, done: make(chan struct{})}
}

// BundleID names the bundle this future tracks.
func (f *BundleFuture) BundleID() string { return f.bundleID }

// Wait blocks until the bundle is terminal or the context expires.
func (f *BundleFuture) Wait(ctx context.Context) (*BundleInfo, error) {
	select {
	case <-f.done:
		return f.info, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *BundleFuture) resolve(info *BundleInfo, err error) {
	f.once.Do(func() {
		f.info = info
		f.err = err
		close(f.done)
	})
}

// ContextPeeker is the read-only window the coordinator gets into an
// agent's isolated context. Reporting only; never used to mutate.
type ContextPeeker interface {
	ID() string
	AgentType() string
	PeekContext(key string) (json.RawMessage, bool)
}

// Config wires a coordinator's collaborators.
type Config struct {
	Bus *bus.Bus

	// EditorID is where edit requests go. Empty means broadcast.
	EditorID string

	// Recorder and History are optional: task lifecycle metrics and the
	// terminal-result archive.
	Recorder *metrics.Recorder
	History  *persistence.Store

	RequestTimeout time.Duration
}

// Coordinator drives tasks and bundles to completion.
type Coordinator struct {
	*agent.Base
	editorID string
	recorder *metrics.Recorder
	history  *persistence.Store

	mu      sync.Mutex
	tasks   map[string]*TaskInfo
	bundles map[string]*BundleInfo
	waiters map[string][]*Future
	agents  map[string]ContextPeeker
}

// New creates a coordinator with a generated id.
func New(cfg Config) *Coordinator {
	c := &Coordinator{
		Base: agent.NewBase(agent.Config{
			ID:             agent.GenerateID("Coordinator"),
			AgentType:      agent.TypeCoordinator,
			Bus:            cfg.Bus,
			RequestTimeout: cfg.RequestTimeout,
		}),
		editorID: cfg.EditorID,
		recorder: cfg.Recorder,
		history:  cfg.History,
		tasks:    make(map[string]*TaskInfo),
		bundles:  make(map[string]*BundleInfo),
		waiters:  make(map[string][]*Future),
		agents:   make(map[string]ContextPeeker),
	}
	if c.editorID == "" {
		c.editorID = proto.TargetBroadcast
	}

	c.SubscribeResponses(proto.MsgTypeEditCompleted, proto.MsgTypeTaskFailed)
	c.Handle(proto.MsgTypeTaskStarted, c.recordExternalTask)
	return c
}

// SetEditorID points edit dispatches at a specific editor. Call before the
// first task starts.
func (c *Coordinator) SetEditorID(id string) { c.editorID = id }

// RegisterAgent makes an agent's context available to read operations.
func (c *Coordinator) RegisterAgent(a ContextPeeker) {
	c.mu.Lock()
	c.agents[a.ID()] = a
	c.mu.Unlock()
}

// RegisterTask creates a registry entry without dispatching it. Bundle
// composition and deferred deployment start here.
func (c *Coordinator) RegisterTask(description string, filePaths []string) *TaskInfo {
	task := &TaskInfo{
		ID:          uuid.NewString(),
		Description: description,
		FilePaths:   append([]string(nil), filePaths...),
		Status:      StatusScheduled,
		CreatedAt:   time.Now().UTC(),
	}
	c.mu.Lock()
	c.tasks[task.ID] = task
	c.mu.Unlock()
	c.Logger().Info("Registered task %s: %s", task.ID, description)
	return task.clone()
}

// StartTask registers a task and deploys it immediately.
func (c *Coordinator) StartTask(description string, filePaths []string) (*Future, error) {
	task := c.RegisterTask(description, filePaths)
	return c.DeployTask(task.ID)
}

// DeployTask announces the task and dispatches it to the editor. The
// returned future resolves on the task's terminal status.
func (c *Coordinator) DeployTask(taskID string) (*Future, error) {
	c.mu.Lock()
	task, ok := c.tasks[taskID]
	if !ok {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	if statusRank(task.Status) >= statusRank(StatusStarted) {
		c.mu.Unlock()
		return nil, fmt.Errorf("task %s already deployed (status %s)", taskID, task.Status)
	}
	task.Status = StatusStarted
	task.StartedAt = time.Now().UTC()
	snapshot := task.clone()
	future := newFuture(taskID)
	c.waiters[taskID] = append(c.waiters[taskID], future)
	c.mu.Unlock()

	c.Logger().Info("Starting task %s: %s", taskID, snapshot.Description)
	if c.recorder != nil {
		c.recorder.TaskStarted()
	}

	announce := proto.NewMessage(proto.MsgTypeTaskStarted, c.ID(), proto.TargetBroadcast)
	announce.Payload = proto.NewTaskStartedPayload(&proto.TaskStartedPayload{
		TaskID:      taskID,
		Description: snapshot.Description,
		FilePaths:   snapshot.FilePaths,
		BundleID:    snapshot.BundleID,
	})
	if err := c.Send(announce); err != nil {
		c.Logger().Warn("Failed to announce task start: %v", err)
	}

	c.setStatus(taskID, StatusInProgress)
	go c.runTask(snapshot)
	return future, nil
}

// runTask dispatches the edit request and resolves the task from the
// response. Blocking is fine here: each task runs on its own goroutine and
// the response arrives as a correlated reply, not through a handler.
func (c *Coordinator) runTask(task *TaskInfo) {
	edit := proto.NewMessage(proto.MsgTypeEditRequired, c.ID(), c.editorID)
	edit.Payload = proto.NewEditRequestPayload(&proto.EditRequestPayload{
		TaskID:      task.ID,
		Description: task.Description,
		FilePaths:   task.FilePaths,
	})

	response, err := c.Request(context.Background(), edit)
	if err != nil {
		c.failTask(task.ID, fmt.Sprintf("edit dispatch failed: %v", err))
		return
	}

	switch response.Type {
	case proto.MsgTypeEditCompleted:
		result, err := response.Payload.ExtractEditCompleted()
		if err != nil {
			c.failTask(task.ID, fmt.Sprintf("malformed edit completion: %v", err))
			return
		}
		c.completeTask(task.ID, result)
	case proto.MsgTypeTaskFailed:
		reason := "task failed"
		if failure, err := response.Payload.ExtractTaskFailed(); err == nil {
			reason = failure.Error
		}
		c.failTask(task.ID, reason)
	default:
		c.failTask(task.ID, fmt.Sprintf("unexpected response type %s", response.Type))
	}
}

// setStatus applies a forward-only status transition.
func (c *Coordinator) setStatus(taskID string, status Status) {
	c.mu.Lock()
	if task, ok := c.tasks[taskID]; ok && statusRank(status) > statusRank(task.Status) {
		task.Status = status
	}
	c.mu.Unlock()
}

func (c *Coordinator) completeTask(taskID string, result *proto.EditCompletedPayload) {
	c.mu.Lock()
	task, ok := c.tasks[taskID]
	if !ok || statusRank(task.Status) >= statusRank(StatusCompleted) {
		c.mu.Unlock()
		return
	}
	task.Status = StatusCompleted
	task.CompletedAt = time.Now().UTC()
	task.Result = result
	snapshot := task.clone()
	waiters := c.waiters[taskID]
	delete(c.waiters, taskID)
	c.mu.Unlock()

	c.Logger().Info("Task completed: %s", taskID)
	done := proto.NewMessage(proto.MsgTypeTaskCompleted, c.ID(), proto.TargetBroadcast)
	done.Payload = proto.NewEditCompletedPayload(result)
	if err := c.Send(done); err != nil {
		c.Logger().Warn("Failed to announce task completion: %v", err)
	}
	c.archiveTask(snapshot)
	if c.recorder != nil {
		c.recorder.TaskFinished(string(StatusCompleted))
	}
	for _, f := range waiters {
		f.resolve(snapshot, nil)
	}
}

func (c *Coordinator) failTask(taskID, reason string) {
	c.mu.Lock()
	task, ok := c.tasks[taskID]
	if !ok || statusRank(task.Status) >= statusRank(StatusFailed) {
		c.mu.Unlock()
		return
	}
	task.Status = StatusFailed
	task.CompletedAt = time.Now().UTC()
	task.Error = reason
	snapshot := task.clone()
	waiters := c.waiters[taskID]
	delete(c.waiters, taskID)
	c.mu.Unlock()

	c.Logger().Error("Task failed: %s - %s", taskID, reason)
	c.archiveTask(snapshot)
	if c.recorder != nil {
		c.recorder.TaskFinished(string(StatusFailed))
	}
	err := fmt.Errorf("task %s failed: %s", taskID, reason)
	for _, f := range waiters {
		f.resolve(snapshot, err)
	}
}

func (c *Coordinator) archiveTask(task *TaskInfo) {
	if c.history == nil {
		return
	}
	rec := &persistence.TaskRecord{
		TaskID:      task.ID,
		Description: task.Description,
		Status:      string(task.Status),
		Error:       task.Error,
		CompletedAt: task.CompletedAt,
	}
	if task.Result != nil {
		if raw, err := json.Marshal(task.Result); err == nil {
			rec.Result = raw
		}
	}
	if err := c.history.RecordTaskResult(rec); err != nil {
		c.Logger().Warn("Failed to archive task %s: %v", task.ID, err)
	}
}

// recordExternalTask keeps the registry aware of tasks announced by other
// coordinators on the same bus.
func (c *Coordinator) recordExternalTask(msg *proto.Message) {
	started, err := msg.Payload.ExtractTaskStarted()
	if err != nil {
		return
	}
	c.mu.Lock()
	if _, exists := c.tasks[started.TaskID]; !exists {
		c.tasks[started.TaskID] = &TaskInfo{
			ID:          started.TaskID,
			Description: started.Description,
			FilePaths:   append([]string(nil), started.FilePaths...),
			BundleID:    started.BundleID,
			Status:      StatusStarted,
			CreatedAt:   time.Now().UTC(),
			StartedAt:   time.Now().UTC(),
		}
	}
	c.mu.Unlock()
}

// Task returns a copy of one registry entry.
func (c *Coordinator) Task(taskID string) (*TaskInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	task, ok := c.tasks[taskID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	return task.clone(), nil
}

// Tasks returns copies of every registry entry.
func (c *Coordinator) Tasks() []*TaskInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*TaskInfo, 0, len(c.tasks))
	for _, task := range c.tasks {
		out = append(out, task.clone())
	}
	return out
}

// CreateBundle groups existing tasks for batch deployment.
func (c *Coordinator) CreateBundle(title, description string, taskIDs []string) (*BundleInfo, error) {
	if len(taskIDs) == 0 {
		return nil, fmt.Errorf("bundle has no tasks")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, taskID := range taskIDs {
		if _, ok := c.tasks[taskID]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
		}
	}

	bundle := &BundleInfo{
		ID:          uuid.NewString(),
		Title:       title,
		Description: description,
		TaskIDs:     append([]string(nil), taskIDs...),
		Status:      StatusScheduled,
		CreatedAt:   time.Now().UTC(),
	}
	c.bundles[bundle.ID] = bundle
	for _, taskID := range taskIDs {
		c.tasks[taskID].BundleID = bundle.ID
	}
	c.Logger().Info("Created task bundle %s with %d tasks", bundle.ID, len(taskIDs))
	return bundle.clone(), nil
}

// DeployBundle dispatches every task in the bundle. The returned future
// resolves once all tasks complete, or with an error as soon as any task
// fails. Sibling tasks already in flight are not cancelled on failure.
func (c *Coordinator) DeployBundle(bundleID string) (*BundleFuture, error) {
	c.mu.Lock()
	bundle, ok := c.bundles[bundleID]
	if !ok {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrBundleNotFound, bundleID)
	}
	if statusRank(bundle.Status) >= statusRank(StatusInProgress) {
		c.mu.Unlock()
		return nil, fmt.Errorf("bundle %s already deployed (status %s)", bundleID, bundle.Status)
	}
	bundle.Status = StatusInProgress
	bundle.StartedAt = time.Now().UTC()
	taskIDs := append([]string(nil), bundle.TaskIDs...)
	c.mu.Unlock()

	c.Logger().Info("Deploying bundle %s with %d tasks", bundleID, len(taskIDs))

	futures := make([]*Future, 0, len(taskIDs))
	for _, taskID := range taskIDs {
		future, err := c.DeployTask(taskID)
		if err != nil {
			c.failBundle(bundleID, err.Error())
			return nil, err
		}
		futures = append(futures, future)
	}

	bundleFuture := newBundleFuture(bundleID)
	errCh := make(chan error, len(futures))
	for _, f := range futures {
		go func(f *Future) {
			_, err := f.Wait(context.Background())
			errCh <- err
		}(f)
	}
	go func() {
		for range futures {
			if err := <-errCh; err != nil {
				// Fail fast; siblings keep running to their own end.
				snapshot := c.failBundle(bundleID, err.Error())
				bundleFuture.resolve(snapshot, err)
				return
			}
		}
		c.mu.Lock()
		bundle := c.bundles[bundleID]
		bundle.Status = StatusCompleted
		bundle.CompletedAt = time.Now().UTC()
		snapshot := bundle.clone()
		c.mu.Unlock()
		c.Logger().Info("Bundle completed: %s", bundleID)
		bundleFuture.resolve(snapshot, nil)
	}()
	return bundleFuture, nil
}

func (c *Coordinator) failBundle(bundleID, reason string) *BundleInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	bundle, ok := c.bundles[bundleID]
	if !ok {
		return nil
	}
	if statusRank(bundle.Status) < statusRank(StatusFailed) {
		bundle.Status = StatusFailed
		bundle.CompletedAt = time.Now().UTC()
		bundle.Error = reason
		c.Logger().Error("Bundle failed: %s - %s", bundleID, reason)
	}
	return bundle.clone()
}

// Bundle returns a copy of one bundle entry.
func (c *Coordinator) Bundle(bundleID string) (*BundleInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	bundle, ok := c.bundles[bundleID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrBundleNotFound, bundleID)
	}
	return bundle.clone(), nil
}

// Bundles returns copies of every bundle entry.
func (c *Coordinator) Bundles() []*BundleInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*BundleInfo, 0, len(c.bundles))
	for _, bundle := range c.bundles {
		out = append(out, bundle.clone())
	}
	return out
}

// AgentContextData is a read-only peek into a registered agent's context.
func (c *Coordinator) AgentContextData(agentID, key string) (json.RawMessage, bool) {
	c.mu.Lock()
	a, ok := c.agents[agentID]
	c.mu.Unlock()
	if !ok {
		return nil, false
	}
	return a.PeekContext(key)
}

// TaskDetails returns a registry entry enriched with what each agent knows
// about the task: the design plan, observations, and completed edits.
func (c *Coordinator) TaskDetails(taskID string) (map[string]any, error) {
	task, err := c.Task(taskID)
	if err != nil {
		return nil, err
	}

	raw, err := json.Marshal(task)
	if err != nil {
		return nil, fmt.Errorf("failed to encode task: %w", err)
	}
	details := make(map[string]any)
	if err := json.Unmarshal(raw, &details); err != nil {
		return nil, fmt.Errorf("failed to decode task: %w", err)
	}

	c.mu.Lock()
	peekers := make([]ContextPeeker, 0, len(c.agents))
	for _, a := range c.agents {
		peekers = append(peekers, a)
	}
	c.mu.Unlock()

	for _, a := range peekers {
		switch a.AgentType() {
		case agent.TypeArchitect:
			if plan, ok := a.PeekContext("plan-" + taskID); ok {
				details["design_plan"] = plan
			}
		case agent.TypeObserver:
			if observations, ok := a.PeekContext("observations-" + taskID); ok {
				details["observations"] = observations
			}
		case agent.TypeEditor:
			if edits, ok := a.PeekContext("completedEdits-" + taskID); ok {
				details["completed_edits"] = edits
			}
		}
	}
	return details, nil
}
