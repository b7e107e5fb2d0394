// Package architect implements the planning agent. It turns a task
// description plus file references into a structured design plan, asks the
// observer to evaluate the plan, and refines it when feedback arrives.
package architect

import (
	"fmt"
	"strings"
	"time"

	"multiagent/pkg/agent"
	"multiagent/pkg/analysis"
	"multiagent/pkg/bus"
	"multiagent/pkg/proto"
	"multiagent/pkg/workspace"
)

// Config wires an architect's collaborators.
type Config struct {
	Bus        *bus.Bus
	Store      *workspace.Store
	ObserverID string

	// RequestTimeout is passed through to the agent base.
	RequestTimeout time.Duration
}

// Architect plans code changes. Plans live in the agent's isolated context
// keyed by task id; other agents read them through the context-request
// protocol, never directly.
type Architect struct {
	*agent.Base
	store      *workspace.Store
	observerID string
}

// New creates an architect with a generated id.
func New(cfg Config) *Architect {
	a := &Architect{
		Base: agent.NewBase(agent.Config{
			ID:             agent.GenerateID("Architect"),
			AgentType:      agent.TypeArchitect,
			Bus:            cfg.Bus,
			RequestTimeout: cfg.RequestTimeout,
		}),
		store:      cfg.Store,
		observerID: cfg.ObserverID,
	}
	if a.observerID == "" {
		a.observerID = proto.TargetBroadcast
	}

	a.Handle(proto.MsgTypeDesignRequired, a.handleDesignRequest)
	a.Handle(proto.MsgTypeObservationCompleted, a.incorporateFeedback)
	a.Handle(proto.MsgTypeContextRequested, a.shareRequestedContext)
	return a
}

// SetObserverID points plan evaluations at a specific observer. Call before
// the first design request.
func (a *Architect) SetObserverID(id string) { a.observerID = id }

func planKey(taskID string) string { return "plan-" + taskID }

// handleDesignRequest builds the plan on a background goroutine so a long
// analysis never stalls the agent's message loop.
func (a *Architect) handleDesignRequest(msg *proto.Message) {
	request, err := msg.Payload.ExtractDesignRequest()
	if err != nil {
		a.Logger().Warn("Malformed design request %s: %v", msg.ID, err)
		return
	}

	a.Logger().Info("Creating design plan for task %s", request.TaskID)

	go func() {
		plan, err := a.buildPlan(request)
		if err != nil {
			a.Logger().Error("Planning failed for task %s: %v", request.TaskID, err)
			failure := msg.CreateResponse(proto.MsgTypeTaskFailed)
			failure.Payload = proto.NewTaskFailedPayload(&proto.TaskFailedPayload{
				TaskID: request.TaskID,
				Error:  err.Error(),
			})
			if sendErr := a.Send(failure); sendErr != nil {
				a.Logger().Error("Failed to report planning failure: %v", sendErr)
			}
			return
		}

		if err := a.SetContext(planKey(request.TaskID), plan); err != nil {
			a.Logger().Error("Failed to store plan for task %s: %v", request.TaskID, err)
		}

		response := msg.CreateResponse(proto.MsgTypeDesignCompleted)
		response.Payload = proto.NewDesignPlanPayload(plan)
		if err := a.Send(response); err != nil {
			a.Logger().Error("Failed to send design plan: %v", err)
			return
		}

		evaluation := proto.NewMessage(proto.MsgTypeObservationRequired, a.ID(), a.observerID)
		evaluation.Payload = proto.NewObservationRequestPayload(&proto.ObservationRequestPayload{
			TaskID:     request.TaskID,
			DesignPlan: plan,
		})
		if err := a.Send(evaluation); err != nil {
			a.Logger().Warn("Failed to request plan evaluation: %v", err)
		}
	}()
}

// buildPlan analyzes the referenced files and derives the change list.
func (a *Architect) buildPlan(request *proto.DesignRequestPayload) (*proto.DesignPlan, error) {
	if request.TaskID == "" {
		return nil, fmt.Errorf("design request has no task id")
	}

	fileAnalysis := make([]proto.FileAnalysis, 0, len(request.FilePaths))
	for _, filePath := range request.FilePaths {
		content, ok := a.store.Load(filePath)
		if !ok {
			a.Logger().Debug("Skipping missing file %s", filePath)
			continue
		}
		fileAnalysis = append(fileAnalysis, *analysis.Analyze(filePath, content))
	}

	changes := determineRequiredChanges(request.Description, fileAnalysis)

	plan := &proto.DesignPlan{
		TaskID:          request.TaskID,
		Description:     request.Description,
		FileAnalysis:    fileAnalysis,
		RequiredChanges: changes,
		ArchitecturalRecommendations: []string{
			"Consider extracting common functionality into a utility class",
			"Ensure proper error handling in all modified methods",
			"Add unit tests for new functionality",
		},
		DependencyGraph: buildDependencyChain(changes),
	}
	return plan, nil
}

// determineRequiredChanges keyword-matches the task description against the
// analyzed structure. Deliberately shallow; the contract is the shape of the
// output, not planning quality.
func determineRequiredChanges(description string, fileAnalysis []proto.FileAnalysis) []proto.EditDescriptor {
	changes := []proto.EditDescriptor{}
	if len(fileAnalysis) == 0 {
		return changes
	}
	lowered := strings.ToLower(description)
	first := &fileAnalysis[0]

	if strings.Contains(lowered, "add method") && len(first.Elements) > 0 {
		changes = append(changes, proto.EditDescriptor{
			Kind:        proto.EditAddMethod,
			TargetFile:  first.FilePath,
			TargetClass: first.Elements[0].Name,
			MethodName:  "newMethod",
			MethodBody:  "// TODO: Implement new method\nreturn null;",
			ReturnType:  "Object",
		})
	}
	if strings.Contains(lowered, "add class") {
		changes = append(changes, proto.EditDescriptor{
			Kind:       proto.EditAddClass,
			TargetFile: first.FilePath,
			ClassName:  "NewClass",
			ClassBody:  "    // TODO: Implement new class",
		})
	}
	return changes
}

// buildDependencyChain makes change i depend on every change before it. A
// linear chain, not a real graph; downstream consumers rely on this exact
// shape.
func buildDependencyChain(changes []proto.EditDescriptor) [][]string {
	graph := make([][]string, len(changes))
	for i := range changes {
		deps := []string{}
		for j := 0; j < i; j++ {
			deps = append(deps, proto.ChangeLabel(&changes[j], j))
		}
		graph[i] = deps
	}
	return graph
}

// incorporateFeedback merges observer findings into the stored plan and
// re-broadcasts the refined plan.
func (a *Architect) incorporateFeedback(msg *proto.Message) {
	feedback, err := msg.Payload.ExtractObservationResult()
	if err != nil {
		a.Logger().Warn("Malformed observation result %s: %v", msg.ID, err)
		return
	}

	var plan proto.DesignPlan
	found, err := a.GetContext(planKey(feedback.TaskID), &plan)
	if err != nil || !found {
		a.Logger().Debug("No stored plan for task %s, ignoring feedback", feedback.TaskID)
		return
	}

	plan.ObserverFeedback = feedback.Observations
	plan.Refined = true
	plan.RefinementNotes = feedback.Observations
	if err := a.SetContext(planKey(feedback.TaskID), &plan); err != nil {
		a.Logger().Error("Failed to store refined plan: %v", err)
		return
	}

	broadcast := proto.NewMessage(proto.MsgTypeDesignCompleted, a.ID(), proto.TargetBroadcast)
	broadcast.Payload = proto.NewDesignPlanPayload(&plan)
	if err := a.Send(broadcast); err != nil {
		a.Logger().Error("Failed to broadcast refined plan: %v", err)
	}
}

// shareRequestedContext answers context requests for stored plans. Unknown
// keys get no response, matching the fire-and-forget context protocol.
func (a *Architect) shareRequestedContext(msg *proto.Message) {
	request, err := msg.Payload.ExtractContextRequest()
	if err != nil {
		a.Logger().Warn("Malformed context request %s: %v", msg.ID, err)
		return
	}
	if request.ContextKey != "designPlan" {
		return
	}

	var plan proto.DesignPlan
	found, err := a.GetContext(planKey(request.TaskID), &plan)
	if err != nil || !found {
		return
	}

	payload := proto.NewDesignPlanPayload(&plan)
	response := msg.CreateResponse(proto.MsgTypeContextUpdated)
	response.Payload = proto.NewContextValuePayload(&proto.ContextValuePayload{
		ContextKey: request.ContextKey,
		Value:      payload.Data,
		Found:      true,
	})
	if err := a.Send(response); err != nil {
		a.Logger().Warn("Failed to share context: %v", err)
	}
}
