// Package editor implements the code-editing agent. It turns edit requests
// and design plans into workspace mutations, applied strictly in order, and
// reports aggregate results back on the bus.
package editor

import (
	"context"
	"encoding/json"
	"time"

	"multiagent/pkg/agent"
	"multiagent/pkg/bus"
	"multiagent/pkg/metrics"
	"multiagent/pkg/proto"
	"multiagent/pkg/workspace"
)

// Config wires an editor's collaborators.
type Config struct {
	Bus   *bus.Bus
	Store *workspace.Store

	// ArchitectID is where design requests go when an edit request carries
	// neither edits nor a plan. Empty means broadcast.
	ArchitectID string

	// Recorder is optional; when set, per-edit outcomes are counted.
	Recorder *metrics.Recorder

	RequestTimeout time.Duration
}

// Editor applies code edits requested by other agents.
type Editor struct {
	*agent.Base
	store       *workspace.Store
	architectID string
	recorder    *metrics.Recorder
}

// New creates an editor with a generated id.
func New(cfg Config) *Editor {
	e := &Editor{
		Base: agent.NewBase(agent.Config{
			ID:             agent.GenerateID("CodeEditor"),
			AgentType:      agent.TypeEditor,
			Bus:            cfg.Bus,
			RequestTimeout: cfg.RequestTimeout,
		}),
		store:       cfg.Store,
		architectID: cfg.ArchitectID,
		recorder:    cfg.Recorder,
	}
	if e.architectID == "" {
		e.architectID = proto.TargetBroadcast
	}

	e.Handle(proto.MsgTypeEditRequired, e.handleEditRequest)
	e.Handle(proto.MsgTypeDesignCompleted, e.handleDesignCompleted)
	e.Handle(proto.MsgTypeContextRequested, e.shareRequestedContext)
	e.Handle(proto.MsgTypeFeedbackProvided, e.incorporateFeedback)
	e.SubscribeResponses(proto.MsgTypeTaskFailed)
	return e
}

// SetArchitectID points design requests at a specific architect. Call before
// the first edit request.
func (e *Editor) SetArchitectID(id string) { e.architectID = id }

func pendingKey(taskID string) string   { return "pending-" + taskID }
func completedKey(taskID string) string { return "completedEdits-" + taskID }
func feedbackKey(taskID string) string  { return "feedback-" + taskID }

func (e *Editor) handleEditRequest(msg *proto.Message) {
	request, err := msg.Payload.ExtractEditRequest()
	if err != nil {
		e.Logger().Warn("Malformed edit request %s: %v", msg.ID, err)
		return
	}
	if request.TaskID == "" {
		e.failTask(msg, "", "edit request has no task id")
		return
	}

	e.Logger().Info("Received edit request for task %s", request.TaskID)
	if err := e.SetContext(pendingKey(request.TaskID), request); err != nil {
		e.Logger().Error("Failed to record pending edits: %v", err)
	}

	switch {
	case len(request.Edits) > 0:
		go e.executeEdits(msg, request.TaskID, request.Edits)
	case request.DesignPlan != nil:
		go e.runPlan(msg, request.DesignPlan)
	default:
		go e.requestPlanAndRun(msg, request)
	}
}

// requestPlanAndRun asks the architect for a plan and applies it. The final
// completion is reported on the original edit request, so the requester's
// pending future resolves even though the plan came from a third agent.
func (e *Editor) requestPlanAndRun(msg *proto.Message, request *proto.EditRequestPayload) {
	e.Logger().Info("Requesting design plan for task %s", request.TaskID)

	design := proto.NewMessage(proto.MsgTypeDesignRequired, e.ID(), e.architectID)
	design.Payload = proto.NewDesignRequestPayload(&proto.DesignRequestPayload{
		TaskID:      request.TaskID,
		Description: request.Description,
		FilePaths:   request.FilePaths,
	})
	response, err := e.Request(context.Background(), design)
	if err != nil {
		e.failTask(msg, request.TaskID, "failed to obtain design plan: "+err.Error())
		return
	}
	if response.Type == proto.MsgTypeTaskFailed {
		reason := "design planning failed"
		if failure, err := response.Payload.ExtractTaskFailed(); err == nil {
			reason = failure.Error
		}
		e.failTask(msg, request.TaskID, reason)
		return
	}

	plan, err := response.Payload.ExtractDesignPlan()
	if err != nil {
		e.failTask(msg, request.TaskID, "malformed design plan: "+err.Error())
		return
	}
	e.runPlan(msg, plan)
}

// handleDesignCompleted converts an announced plan into edits. Refined
// re-broadcasts are skipped: the original plan's edits have already been
// applied and applying them again would only produce duplicate errors.
func (e *Editor) handleDesignCompleted(msg *proto.Message) {
	plan, err := msg.Payload.ExtractDesignPlan()
	if err != nil {
		e.Logger().Debug("Ignoring design broadcast %s: %v", msg.ID, err)
		return
	}
	if plan.Refined {
		return
	}
	go e.runPlan(msg, plan)
}

func (e *Editor) runPlan(msg *proto.Message, plan *proto.DesignPlan) {
	e.Logger().Info("Processing design plan for task %s", plan.TaskID)

	if len(plan.RequiredChanges) == 0 {
		e.Logger().Warn("No changes specified in design plan for task %s", plan.TaskID)
		response := msg.CreateResponse(proto.MsgTypeEditCompleted)
		response.Payload = proto.NewEditCompletedPayload(&proto.EditCompletedPayload{
			TaskID:  plan.TaskID,
			Status:  "no_changes",
			Message: "No changes were specified in the design plan",
		})
		if err := e.Send(response); err != nil {
			e.Logger().Error("Failed to send no-changes response: %v", err)
		}
		return
	}

	if err := e.SetContext("designPlan-"+plan.TaskID, plan); err != nil {
		e.Logger().Error("Failed to store plan for task %s: %v", plan.TaskID, err)
	}
	e.executeEdits(msg, plan.TaskID, plan.RequiredChanges)
}

// executeEdits applies the edits strictly in list order. Each edit's outcome
// is independent: a failure is recorded as an error-status result and the
// batch continues.
func (e *Editor) executeEdits(msg *proto.Message, taskID string, edits []proto.EditDescriptor) {
	e.Logger().Info("Executing %d edits for task %s", len(edits), taskID)

	results := make([]proto.EditResult, 0, len(edits))
	completed := 0
	for i := range edits {
		result := e.store.ApplyEdit(&edits[i])
		if e.recorder != nil {
			e.recorder.ObserveEdit(string(edits[i].Kind), string(result.Status))
		}
		if result.Status == proto.EditStatusCompleted {
			completed++
		} else {
			e.Logger().Warn("Edit %s on %s: %s %s", edits[i].Kind, edits[i].TargetFile, result.Status, result.Error)
		}
		results = append(results, *result)
	}

	if err := e.SetContext(completedKey(taskID), results); err != nil {
		e.Logger().Error("Failed to record completed edits: %v", err)
	}
	e.DeleteContext(pendingKey(taskID))

	response := msg.CreateResponse(proto.MsgTypeEditCompleted)
	response.Payload = proto.NewEditCompletedPayload(&proto.EditCompletedPayload{
		TaskID:         taskID,
		Status:         "completed",
		EditCount:      len(results),
		CompletedEdits: completed,
		Significant:    completed > 0,
		Results:        results,
	})
	if err := e.Send(response); err != nil {
		e.Logger().Error("Failed to send edit completion: %v", err)
		return
	}
	e.Logger().Info("Completed all edits for task %s (%d/%d applied)", taskID, completed, len(results))
}

// failTask reports a failure that happened before any per-edit processing.
func (e *Editor) failTask(msg *proto.Message, taskID, reason string) {
	e.Logger().Error("Task %s failed: %s", taskID, reason)
	response := msg.CreateResponse(proto.MsgTypeTaskFailed)
	response.Payload = proto.NewTaskFailedPayload(&proto.TaskFailedPayload{
		TaskID: taskID,
		Error:  reason,
	})
	if err := e.Send(response); err != nil {
		e.Logger().Error("Failed to report task failure: %v", err)
	}
}

// incorporateFeedback appends periodic observer feedback to the task's
// history. Already-scheduled edits are not altered.
func (e *Editor) incorporateFeedback(msg *proto.Message) {
	feedback, err := msg.Payload.ExtractObservationResult()
	if err != nil {
		e.Logger().Debug("Ignoring feedback %s: %v", msg.ID, err)
		return
	}
	if !feedback.IsPeriodic {
		return
	}

	var pending proto.EditRequestPayload
	found, err := e.GetContext(pendingKey(feedback.TaskID), &pending)
	if err != nil || !found {
		return
	}

	var history [][]string
	if _, err := e.GetContext(feedbackKey(feedback.TaskID), &history); err != nil {
		e.Logger().Error("Failed to read feedback history: %v", err)
		return
	}
	history = append(history, feedback.Observations)
	if err := e.SetContext(feedbackKey(feedback.TaskID), history); err != nil {
		e.Logger().Error("Failed to record feedback: %v", err)
		return
	}
	e.Logger().Info("Received periodic feedback for task %s", feedback.TaskID)
}

// shareRequestedContext answers context requests for completed edits.
func (e *Editor) shareRequestedContext(msg *proto.Message) {
	request, err := msg.Payload.ExtractContextRequest()
	if err != nil {
		e.Logger().Warn("Malformed context request %s: %v", msg.ID, err)
		return
	}
	if request.ContextKey != "completedEdits" {
		return
	}

	var results []proto.EditResult
	found, err := e.GetContext(completedKey(request.TaskID), &results)
	if err != nil || !found {
		return
	}

	raw, err := json.Marshal(results)
	if err != nil {
		e.Logger().Error("Failed to encode completed edits: %v", err)
		return
	}
	response := msg.CreateResponse(proto.MsgTypeContextUpdated)
	response.Payload = proto.NewContextValuePayload(&proto.ContextValuePayload{
		ContextKey: request.ContextKey,
		Value:      raw,
		Found:      true,
	})
	if err := e.Send(response); err != nil {
		e.Logger().Warn("Failed to share context: %v", err)
	}
}
