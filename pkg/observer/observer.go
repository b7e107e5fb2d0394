// Package observer implements the feedback agent. It watches document
// changes, evaluates design plans with a set of fixed heuristics, and
// periodically broadcasts observations about editing activity.
package observer

import (
	"encoding/json"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"multiagent/pkg/agent"
	"multiagent/pkg/analysis"
	"multiagent/pkg/bus"
	"multiagent/pkg/proto"
	"multiagent/pkg/workspace"
)

// DefaultObservationFrequency is the minimum gap between periodic
// observations for a task.
const DefaultObservationFrequency = 30 * time.Second

// editHistoryLimit bounds the per-file rolling edit history.
const editHistoryLimit = 10

// Config wires an observer's collaborators.
type Config struct {
	Bus   *bus.Bus
	Store *workspace.Store

	// ObservationFrequency overrides the periodic observation gap.
	// Zero means DefaultObservationFrequency.
	ObservationFrequency time.Duration

	RequestTimeout time.Duration
}

// Observer evaluates design plans and editing activity.
type Observer struct {
	*agent.Base
	store *workspace.Store

	mu              sync.Mutex
	frequency       time.Duration
	activeTaskID    string
	editHistory     map[string][]workspace.ChangeEvent
	lastObservation map[string]time.Time
}

// New creates an observer with a generated id and registers it as a change
// listener on the workspace store.
func New(cfg Config) *Observer {
	o := &Observer{
		Base: agent.NewBase(agent.Config{
			ID:             agent.GenerateID("Observer"),
			AgentType:      agent.TypeObserver,
			Bus:            cfg.Bus,
			RequestTimeout: cfg.RequestTimeout,
		}),
		store:           cfg.Store,
		frequency:       cfg.ObservationFrequency,
		editHistory:     make(map[string][]workspace.ChangeEvent),
		lastObservation: make(map[string]time.Time),
	}
	if o.frequency <= 0 {
		o.frequency = DefaultObservationFrequency
	}

	o.Handle(proto.MsgTypeObservationRequired, o.handleObservationRequest)
	o.Handle(proto.MsgTypeEditCompleted, o.recordEditCompletion)
	o.Handle(proto.MsgTypeDesignCompleted, o.handleDesignBroadcast)
	o.Handle(proto.MsgTypeContextRequested, o.shareRequestedContext)
	o.store.OnChange(o.onDocumentChange)
	return o
}

// SetObservationFrequency adjusts the periodic observation gap.
func (o *Observer) SetObservationFrequency(d time.Duration) {
	o.mu.Lock()
	o.frequency = d
	o.mu.Unlock()
}

// onDocumentChange records the edit and, when the active task's last
// observation is stale, runs a periodic one.
func (o *Observer) onDocumentChange(ev workspace.ChangeEvent) {
	o.mu.Lock()
	history := append(o.editHistory[ev.FilePath], ev)
	if len(history) > editHistoryLimit {
		history = history[len(history)-editHistoryLimit:]
	}
	o.editHistory[ev.FilePath] = history

	taskID := o.activeTaskID
	due := taskID != "" && time.Since(o.lastObservation[taskID]) > o.frequency
	if due {
		o.lastObservation[taskID] = time.Now()
	}
	o.mu.Unlock()

	if due {
		go o.publishPeriodicObservation(taskID)
	}
}

func (o *Observer) handleObservationRequest(msg *proto.Message) {
	request, err := msg.Payload.ExtractObservationRequest()
	if err != nil {
		o.Logger().Warn("Malformed observation request %s: %v", msg.ID, err)
		return
	}

	o.mu.Lock()
	o.activeTaskID = request.TaskID
	o.lastObservation[request.TaskID] = time.Now()
	o.mu.Unlock()

	if request.DesignPlan != nil {
		go o.evaluateAndRespond(msg, request.DesignPlan)
		return
	}

	go func() {
		observations := o.observe()
		o.storeObservations(request.TaskID, observations)

		response := msg.CreateResponse(proto.MsgTypeObservationCompleted)
		response.Payload = proto.NewObservationResultPayload(&proto.ObservationResultPayload{
			TaskID:       request.TaskID,
			Observations: observations,
		})
		if err := o.Send(response); err != nil {
			o.Logger().Error("Failed to send observation result: %v", err)
		}
	}()
}

// handleDesignBroadcast evaluates plans the architect announces directly.
// Refined re-broadcasts are skipped, otherwise every evaluation would feed
// back into another refinement.
func (o *Observer) handleDesignBroadcast(msg *proto.Message) {
	plan, err := msg.Payload.ExtractDesignPlan()
	if err != nil {
		o.Logger().Debug("Ignoring design broadcast %s: %v", msg.ID, err)
		return
	}
	if plan.Refined {
		return
	}
	go o.evaluateAndRespond(msg, plan)
}

func (o *Observer) evaluateAndRespond(msg *proto.Message, plan *proto.DesignPlan) {
	o.mu.Lock()
	o.lastObservation[plan.TaskID] = time.Now()
	o.mu.Unlock()

	observations := evaluatePlan(plan)
	o.storeObservations("design-"+plan.TaskID, observations)

	response := msg.CreateResponse(proto.MsgTypeObservationCompleted)
	response.Payload = proto.NewObservationResultPayload(&proto.ObservationResultPayload{
		TaskID:       plan.TaskID,
		Observations: observations,
	})
	if err := o.Send(response); err != nil {
		o.Logger().Error("Failed to send plan evaluation: %v", err)
	}
}

// recordEditCompletion resets the observation timer and re-observes
// immediately when a significant edit lands.
func (o *Observer) recordEditCompletion(msg *proto.Message) {
	result, err := msg.Payload.ExtractEditCompleted()
	if err != nil {
		o.Logger().Debug("Ignoring edit completion %s: %v", msg.ID, err)
		return
	}
	if !result.Significant {
		return
	}

	o.mu.Lock()
	o.lastObservation[result.TaskID] = time.Now()
	active := o.activeTaskID == result.TaskID
	o.mu.Unlock()

	if active {
		go o.publishPeriodicObservation(result.TaskID)
	}
}

func (o *Observer) publishPeriodicObservation(taskID string) {
	observations := o.observe()
	o.storeObservations(fmt.Sprintf("%s-%d", taskID, time.Now().UnixMilli()), observations)

	feedback := proto.NewMessage(proto.MsgTypeFeedbackProvided, o.ID(), proto.TargetBroadcast)
	feedback.Payload = proto.NewObservationResultPayload(&proto.ObservationResultPayload{
		TaskID:       taskID,
		Observations: observations,
		IsPeriodic:   true,
	})
	if err := o.Send(feedback); err != nil {
		o.Logger().Error("Failed to broadcast periodic feedback: %v", err)
	}
}

func (o *Observer) storeObservations(key string, observations []string) {
	if err := o.SetContext("observations-"+key, observations); err != nil {
		o.Logger().Error("Failed to store observations for %s: %v", key, err)
	}
}

// observe produces a general observation of the current workspace state.
func (o *Observer) observe() []string {
	openFiles := o.store.OpenPaths()

	o.mu.Lock()
	recent := make(map[string][]workspace.ChangeEvent, len(o.editHistory))
	for filePath, edits := range o.editHistory {
		recent[filePath] = append([]workspace.ChangeEvent(nil), edits...)
	}
	o.mu.Unlock()

	observations := []string{
		"Currently open files: " + strings.Join(openFiles, ", "),
		"Detected edit patterns: " + analyzeEditPatterns(recent),
		"Current development focus appears to be on: " + identifyFocus(recent),
	}
	observations = append(observations, o.qualityObservations(openFiles)...)
	return observations
}

// analyzeEditPatterns classifies the recent edit-size distribution.
func analyzeEditPatterns(recent map[string][]workspace.ChangeEvent) string {
	if len(recent) == 0 {
		return "No recent edits detected"
	}

	var bigEdits, smallEdits int
	for _, edits := range recent {
		for _, edit := range edits {
			if len(edit.NewFragment) > 50 {
				bigEdits++
			} else {
				smallEdits++
			}
		}
	}

	switch {
	case bigEdits > smallEdits*2:
		return "Large, infrequent changes - consider more incremental development"
	case smallEdits > bigEdits*5:
		return "Many small, frequent changes - possibly fine-tuning or experimentation"
	default:
		return "Balanced mix of edit sizes - good development rhythm"
	}
}

// identifyFocus names the file with the most recent edits. Paths are walked
// in sorted order so ties resolve deterministically.
func identifyFocus(recent map[string][]workspace.ChangeEvent) string {
	if len(recent) == 0 {
		return "Unknown - no recent activity"
	}

	paths := make([]string, 0, len(recent))
	for filePath := range recent {
		paths = append(paths, filePath)
	}
	sort.Strings(paths)

	var mostActive string
	var mostEdits int
	for _, filePath := range paths {
		if n := len(recent[filePath]); n > mostEdits {
			mostEdits = n
			mostActive = filePath
		}
	}
	if mostActive == "" {
		return "Unknown - no clear focus"
	}
	return fmt.Sprintf("%s (%d recent edits)", path.Base(mostActive), mostEdits)
}

// qualityObservations runs simple checks over the open files: missing
// documentation on public API and excessively long methods.
func (o *Observer) qualityObservations(openFiles []string) []string {
	var observations []string
	for _, filePath := range openFiles {
		content, ok := o.store.Load(filePath)
		if !ok {
			continue
		}
		fileName := path.Base(filePath)
		result := analysis.Analyze(filePath, content)

		missingDocs := false
		for _, class := range result.Elements {
			if !class.Documented {
				missingDocs = true
				break
			}
			for _, method := range class.Methods {
				if method.Exported && !method.Documented {
					missingDocs = true
					break
				}
			}
			if missingDocs {
				break
			}
		}
		if missingDocs {
			observations = append(observations, "Missing documentation for public methods in "+fileName)
		}

		for _, class := range result.Elements {
			for _, method := range class.Methods {
				if method.BodyLines > 30 {
					observations = append(observations, fmt.Sprintf(
						"Method %s in %s is excessively long (%d lines)",
						method.Name, fileName, method.BodyLines))
				}
			}
		}
	}
	return observations
}

// evaluatePlan scores a design plan with three independent heuristics plus a
// static list of suggested improvements.
func evaluatePlan(plan *proto.DesignPlan) []string {
	observations := []string{
		"Design plan completeness: " + evaluateCompleteness(plan.Description, plan.RequiredChanges),
		"Design coherence: " + evaluateCoherence(plan.RequiredChanges),
		"Implementation feasibility: " + evaluateFeasibility(plan.RequiredChanges, plan.FileAnalysis),
		"Suggested improvements:",
		"- Consider adding explicit error handling for edge cases",
		"- Ensure changes are covered by unit tests",
		"- Document public APIs that are being modified",
		"- Consider impact on existing functionality and backward compatibility",
	}
	return observations
}

// evaluateCompleteness measures how many long task-description words appear
// in the stringified change list.
func evaluateCompleteness(description string, changes []proto.EditDescriptor) string {
	if len(changes) == 0 {
		return "Incomplete - no changes specified"
	}

	keyTerms := strings.Fields(strings.ToLower(description))
	addressed := make(map[string]bool)
	for _, change := range changes {
		changeText := strings.ToLower(fmt.Sprintf("%+v", change))
		for _, term := range keyTerms {
			if len(term) > 4 && strings.Contains(changeText, term) {
				addressed[term] = true
			}
		}
	}

	coverage := float64(len(addressed)) / float64(len(keyTerms)) * 100
	switch {
	case coverage < 50:
		return "Potentially incomplete - low coverage of requirements"
	case coverage < 80:
		return "Moderate completeness - some requirements may need more attention"
	default:
		return "Good completeness - most requirements appear to be addressed"
	}
}

// evaluateCoherence flags multiple changes targeting the same file.
func evaluateCoherence(changes []proto.EditDescriptor) string {
	if len(changes) <= 1 {
		return "N/A - too few changes to evaluate coherence"
	}

	seen := make(map[string]bool)
	for _, change := range changes {
		if change.TargetFile == "" {
			continue
		}
		if seen[change.TargetFile] {
			return "Potential conflicts detected - multiple changes to the same files"
		}
		seen[change.TargetFile] = true
	}
	return "Good coherence - changes appear to be well-organized"
}

// evaluateFeasibility checks every change's target file and class against
// the plan's file analysis.
func evaluateFeasibility(changes []proto.EditDescriptor, fileAnalysis []proto.FileAnalysis) string {
	for _, change := range changes {
		if !targetExists(&change, fileAnalysis) {
			return "Low feasibility - some target files or classes don't exist"
		}
	}
	return "Good feasibility - all targets exist and changes appear implementable"
}

func targetExists(change *proto.EditDescriptor, fileAnalysis []proto.FileAnalysis) bool {
	for _, info := range fileAnalysis {
		if info.FilePath != change.TargetFile {
			continue
		}
		if change.TargetClass == "" {
			return true
		}
		for _, class := range info.Elements {
			if class.Name == change.TargetClass {
				return true
			}
		}
		return false
	}
	return false
}

// shareRequestedContext answers context requests for stored observations.
// Unknown keys get no response.
func (o *Observer) shareRequestedContext(msg *proto.Message) {
	request, err := msg.Payload.ExtractContextRequest()
	if err != nil {
		o.Logger().Warn("Malformed context request %s: %v", msg.ID, err)
		return
	}

	var observations []string
	found, err := o.GetContext("observations-"+request.TaskID, &observations)
	if request.ContextKey != "observations" || err != nil || !found {
		return
	}

	raw, err := json.Marshal(observations)
	if err != nil {
		o.Logger().Error("Failed to encode observations: %v", err)
		return
	}
	response := msg.CreateResponse(proto.MsgTypeContextUpdated)
	response.Payload = proto.NewContextValuePayload(&proto.ContextValuePayload{
		ContextKey: request.ContextKey,
		Value:      raw,
		Found:      true,
	})
	if err := o.Send(response); err != nil {
		o.Logger().Warn("Failed to share context: %v", err)
	}
}
