// Package dispatcher walks a task's plan in topological order, invokes
// the agent runtime for each phase's subtasks, records every transition
// as an event, and applies the failure policy when a subtask doesn't
// complete cleanly. Phases run strictly one at a time in dependency
// order; a phase flagged parallel runs its own subtasks (one per
// required agent) concurrently, while an unflagged phase runs them
// sequentially.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/codeready-toolchain/orchestrator/pkg/agentruntime"
	"github.com/codeready-toolchain/orchestrator/pkg/llmgateway"
	"github.com/codeready-toolchain/orchestrator/pkg/planner"
	"github.com/codeready-toolchain/orchestrator/pkg/registry"
	"github.com/codeready-toolchain/orchestrator/pkg/rendezvous"
	"github.com/codeready-toolchain/orchestrator/pkg/taskcontext"
	"github.com/codeready-toolchain/orchestrator/pkg/taskmodel"
)

// ErrWaitingForInput is returned by Run/Resume when the task has parked
// on an open UI request; the caller (lifecycle) should not treat this
// as a failure, only stop driving the task until SubmitResponse is
// called and Resume is invoked again.
var ErrWaitingForInput = errors.New("dispatcher: task is waiting for human input")

// recoveryAction is the closed set of outcomes the LLM-based recovery
// advisor can recommend for a failed subtask.
type recoveryAction string

const (
	actionRetry            recoveryAction = "retry"
	actionRetryAlternative recoveryAction = "retry_with_alternative_agent"
	actionSkipPhase        recoveryAction = "skip_phase"
	actionFailTask         recoveryAction = "fail_task"
	actionEscalateToUser   recoveryAction = "escalate_to_user"

	defaultMaxSubtaskRetries = 3
)

// Dispatcher drives one or more tasks through their plan. A single
// Dispatcher is shared across all tasks in the process; per-task state
// lives entirely in the event log, not on this struct.
type Dispatcher struct {
	Registry          *registry.Registry
	LLM               llmgateway.Client
	Tools             agentruntime.ToolBackend
	Gate              *rendezvous.Gate
	Controller        agentruntime.InstructionController
	MaxSubtaskRetries int
}

// New returns a Dispatcher with the built-in tool-calling controller
// and default retry cap, wired to the given registry/LLM/tools/gate.
func New(reg *registry.Registry, llm llmgateway.Client, tools agentruntime.ToolBackend, gate *rendezvous.Gate) *Dispatcher {
	return &Dispatcher{
		Registry:          reg,
		LLM:               llm,
		Tools:             tools,
		Gate:              gate,
		Controller:        agentruntime.NewToolCallingController(),
		MaxSubtaskRetries: defaultMaxSubtaskRetries,
	}
}

// Run drives tc's task forward from its current projected state until
// every phase reaches a terminal status, the task parks on a UI
// request (ErrWaitingForInput), or a phase's failure policy escalates
// to fail_task/escalate_to_user.
func (d *Dispatcher) Run(ctx context.Context, tc *taskcontext.Context) error {
	for {
		state, err := tc.Load(ctx)
		if err != nil {
			return fmt.Errorf("dispatcher: load state: %w", err)
		}
		if state.Status.IsTerminal() {
			return nil
		}
		if state.Plan == nil {
			return fmt.Errorf("dispatcher: task %s has no plan", tc.TaskID())
		}

		next, done, err := nextPhase(state)
		if err != nil {
			return d.failTask(ctx, tc, err.Error())
		}
		if done {
			return d.completeTask(ctx, tc)
		}
		if next == nil {
			// A task gated on open UI requests is parked, not stuck:
			// driving it again before the human answers is a no-op.
			if len(state.UIRequests) > 0 {
				return ErrWaitingForInput
			}
			// Nothing runnable, not done, nothing pending on a human:
			// the line is blocked on a failed prerequisite that wasn't
			// itself skipped/cascaded.
			return d.failTask(ctx, tc, "no phase is runnable and the plan is not complete")
		}

		if err := d.runPhase(ctx, tc, *next); err != nil {
			return err
		}
	}
}

// Resume continues a task after a crash or a human response: it
// reattaches any open UI requests this process didn't originally open,
// then behaves exactly like Run.
func (d *Dispatcher) Resume(ctx context.Context, tc *taskcontext.Context) error {
	state, err := tc.Load(ctx)
	if err != nil {
		return fmt.Errorf("dispatcher: load state: %w", err)
	}
	for requestID := range state.UIRequests {
		if !d.Gate.Pending(requestID) {
			d.Gate.Reattach(requestID)
		}
	}
	return d.Run(ctx, tc)
}

// Cancel marks tc's task cancelled. Any in-flight subtask invocation is
// left to return on its own (InstructionController implementations
// respect ctx cancellation); it is the caller's responsibility to
// cancel ctx for that invocation if immediate abandonment is required.
func (d *Dispatcher) Cancel(ctx context.Context, tc *taskcontext.Context, reason string, actor taskmodel.Actor) error {
	_, err := tc.AppendEntry(ctx, taskmodel.Entry{
		Operation: "task_cancelled",
		Data:      map[string]any{"reason": reason},
		Actor:     actor,
		Reasoning: reason,
		Trigger:   &taskmodel.Trigger{Kind: "user_action", Source: "cancel_task"},
	})
	if err != nil {
		return fmt.Errorf("dispatcher: cancel task %s: %w", tc.TaskID(), err)
	}
	return nil
}

// nextPhase walks the plan in topological order and stops at the first
// phase that hasn't reached a terminal status — phases execute strictly
// one at a time; concurrency exists only inside a parallel phase's own
// subtask set, so a parked phase holds the line even for phases that
// don't depend on it. The stopping phase is returned if the dispatcher
// can act on it (pending with prerequisites satisfied, or running with
// progressable subtasks), nil if it is gated on a human or a failed
// prerequisite. Reports done=true once every phase is terminal.
func nextPhase(state *taskmodel.State) (next *taskmodel.Phase, done bool, err error) {
	order, err := planner.TopologicalOrder(*state.Plan)
	if err != nil {
		return nil, false, fmt.Errorf("plan is not executable: %w", err)
	}

	byName := make(map[string]*taskmodel.Phase, len(state.Plan.Phases))
	for i := range state.Plan.Phases {
		byName[state.Plan.Phases[i].Name] = &state.Plan.Phases[i]
	}

	for _, name := range order {
		ph := byName[name]
		current := state.Phases[name]
		switch current.Status {
		case taskmodel.PhaseStatusCompleted, taskmodel.PhaseStatusSkipped, taskmodel.PhaseStatusFailed:
			continue
		case taskmodel.PhaseStatusRunning:
			if phaseCanProgress(state, ph) {
				return ph, false, nil
			}
			return nil, false, nil
		}

		for _, prereq := range ph.Prerequisites {
			preState := state.Phases[prereq]
			if preState == nil || (preState.Status != taskmodel.PhaseStatusCompleted && preState.Status != taskmodel.PhaseStatusSkipped) {
				// In topological order every prerequisite already had
				// its turn; an unsatisfied one here means it failed.
				return nil, false, nil
			}
		}
		return ph, false, nil
	}
	return nil, true, nil
}

// phaseCanProgress reports whether driving a running phase again would
// accomplish anything. An agent slot is dispatchable when it is neither
// completed nor parked on a still-open UI request — that covers fresh
// agents a crash prevented from ever dispatching, crash orphans
// awaiting redispatch under their original request_id, and parked
// subtasks whose question has since been answered. When nothing is
// dispatchable, the phase can still progress if no slot is blocked:
// every required agent completed and only the phase_completed record is
// missing (a crash landed between the two appends).
func phaseCanProgress(state *taskmodel.State, ph *taskmodel.Phase) bool {
	blocked := 0
	for _, agentID := range ph.RequiredAgents {
		slot := slotFor(state, state.TaskID, ph.Name, agentID)
		switch {
		case slot.completed:
		case slot.blocked:
			blocked++
		default:
			return true
		}
	}
	return blocked == 0
}

// subtaskBlocked reports whether requestID still has an unresolved UI
// request open against it.
func subtaskBlocked(state *taskmodel.State, requestID string) bool {
	for _, req := range state.UIRequests {
		if req.SubtaskID == requestID {
			return true
		}
	}
	return false
}

// phaseOutcome is one subtask's verdict on its phase, aggregated by
// runPhase once every required agent has reported.
type phaseOutcome int

const (
	outcomeCompleted phaseOutcome = iota
	outcomeWaiting
	outcomeSkipPhase
	outcomeFailPhase
	outcomeFailTask
)

type subtaskResult struct {
	outcome phaseOutcome
	reason  string
	err     error // infrastructure error (event append failed), fatal
}

// runPhase drives one phase to a decision: select the agents, dispatch
// one subtask per selected agent (concurrently when the phase is
// flagged parallel, sequentially otherwise), and fold the subtask
// verdicts into a single phase-level transition.
func (d *Dispatcher) runPhase(ctx context.Context, tc *taskcontext.Context, phase taskmodel.Phase) error {
	state, err := tc.Load(ctx)
	if err != nil {
		return fmt.Errorf("dispatcher: load state: %w", err)
	}

	if state.Phases[phase.Name].Status != taskmodel.PhaseStatusRunning {
		if _, err := tc.Append(ctx, "phase_started", map[string]any{"phase_name": phase.Name}); err != nil {
			return fmt.Errorf("dispatcher: phase_started %s: %w", phase.Name, err)
		}
	}

	// Intersect the phase's required agents with the registry: every
	// one of them must exist, or the phase cannot run at all.
	var missing []string
	for _, agentID := range phase.RequiredAgents {
		if !d.Registry.Has(agentID) {
			missing = append(missing, agentID)
		}
	}
	if len(missing) > 0 {
		return d.failPhase(ctx, tc, phase.Name,
			fmt.Sprintf("no_agents_available: %s not in registry", strings.Join(missing, ", ")))
	}

	// Figure out what is left to do: agents whose subtask already
	// completed are skipped on a resumed phase; agents parked on a
	// still-open UI request stay parked.
	var pending []subtaskSlot
	blocked := 0
	for _, agentID := range phase.RequiredAgents {
		slot := slotFor(state, tc.TaskID(), phase.Name, agentID)
		switch {
		case slot.completed:
			continue
		case slot.blocked:
			blocked++
		default:
			pending = append(pending, slot)
		}
	}
	if len(pending) == 0 {
		if blocked > 0 {
			return ErrWaitingForInput
		}
		return d.completePhase(ctx, tc, phase.Name)
	}

	results := make([]subtaskResult, len(pending))
	if phase.Parallel {
		var wg sync.WaitGroup
		for i, slot := range pending {
			wg.Add(1)
			go func(i int, slot subtaskSlot) {
				defer wg.Done()
				results[i] = d.runSubtask(ctx, tc, phase, slot)
			}(i, slot)
		}
		wg.Wait()
	} else {
		for i, slot := range pending {
			results[i] = d.runSubtask(ctx, tc, phase, slot)
			// Sequential means one at a time: a subtask that parked,
			// skipped the phase, or failed stops the agents behind it
			// from dispatching. They get their turn (via slotFor) when
			// the phase is driven again after the block resolves.
			if results[i].err != nil || results[i].outcome != outcomeCompleted {
				results = results[:i+1]
				break
			}
		}
	}

	// Fold the verdicts, most severe first. One parked subtask in a
	// parallel phase doesn't stop its siblings — they have already run
	// to their own verdicts by this point — it only parks the phase.
	worst := subtaskResult{outcome: outcomeCompleted}
	for _, r := range results {
		if r.err != nil {
			return r.err
		}
		if r.outcome > worst.outcome {
			worst = r
		}
	}

	switch worst.outcome {
	case outcomeFailTask:
		return d.failTask(ctx, tc, fmt.Sprintf("phase %s: %s", phase.Name, worst.reason))
	case outcomeFailPhase:
		return d.failPhase(ctx, tc, phase.Name, worst.reason)
	case outcomeSkipPhase:
		return d.skipPhase(ctx, tc, phase.Name, worst.reason)
	case outcomeWaiting:
		return ErrWaitingForInput
	}
	if blocked > 0 {
		return ErrWaitingForInput
	}
	return d.completePhase(ctx, tc, phase.Name)
}

// subtaskSlot is one required agent's standing in a phase: the agent to
// dispatch, the request_id to reuse if a prior dispatch is being
// resumed (parked on a now-answered question, or orphaned by a crash),
// and how many attempts were already spent on it.
type subtaskSlot struct {
	agentID       string
	reuseID       string
	priorAttempts int
	completed     bool
	blocked       bool
}

// slotFor derives an agent's slot from the projected state. Request ids
// are minted as <task>-<phase>-<agent>-<attempt>, so an agent's past
// dispatches are recognizable by prefix even across process restarts.
func slotFor(state *taskmodel.State, taskID, phaseName, agentID string) subtaskSlot {
	slot := subtaskSlot{agentID: agentID}
	prefix := fmt.Sprintf("%s-%s-%s-", taskID, phaseName, agentID)
	for _, st := range state.Subtasks {
		if st.PhaseName != phaseName || !strings.HasPrefix(st.RequestID, prefix) {
			continue
		}
		slot.priorAttempts++
		switch st.Status {
		case taskmodel.SubtaskStatusCompleted:
			slot.completed = true
		case taskmodel.SubtaskStatusNeedsInput:
			if subtaskBlocked(state, st.RequestID) {
				slot.blocked = true
			} else {
				slot.reuseID = st.RequestID
				slot.priorAttempts-- // the reused attempt doesn't count twice
			}
		case taskmodel.SubtaskStatusDispatched:
			// Orphaned by a crash: redispatch under the same request_id
			// so downstream idempotency recognizes the duplicate.
			slot.reuseID = st.RequestID
			slot.priorAttempts--
		}
	}
	return slot
}

// runSubtask drives one agent's subtask to a verdict, applying the
// failure policy on any non-success status, up to MaxSubtaskRetries
// attempts. Only subtask-level events are appended here; the
// phase-level transition is runPhase's to make once every sibling has
// reported.
func (d *Dispatcher) runSubtask(ctx context.Context, tc *taskcontext.Context, phase taskmodel.Phase, slot subtaskSlot) subtaskResult {
	agentID := slot.agentID
	maxRetries := d.MaxSubtaskRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxSubtaskRetries
	}

	reuseID := slot.reuseID
	for attempt := slot.priorAttempts + 1; ; attempt++ {
		requestID := reuseID
		if requestID == "" {
			requestID = fmt.Sprintf("%s-%s-%s-%d", tc.TaskID(), phase.Name, slot.agentID, attempt)
		}
		reuseID = "" // only the first loop iteration reuses it

		def, err := d.Registry.Get(agentID)
		if err != nil {
			return subtaskResult{outcome: outcomeFailPhase, reason: fmt.Sprintf("unknown agent %q: %v", agentID, err)}
		}

		if _, err := tc.Append(ctx, "subtask_dispatched", map[string]any{
			"request_id": requestID, "phase_name": phase.Name, "agent_id": agentID,
		}); err != nil {
			return subtaskResult{err: fmt.Errorf("dispatcher: subtask_dispatched %s: %w", requestID, err)}
		}

		state, err := tc.Load(ctx)
		if err != nil {
			return subtaskResult{err: fmt.Errorf("dispatcher: load state: %w", err)}
		}

		resp, runErr := agentruntime.New(d.Controller).Execute(ctx, &agentruntime.Request{
			TaskID:      tc.TaskID(),
			RequestID:   requestID,
			PhaseName:   phase.Name,
			Instruction: def.Instruction,
			TaskData:    state.Data,
		}, &agentruntime.Dependencies{
			LLM:      d.LLM,
			Tools:    agentruntime.NewToolExecutor(d.Tools),
			AgentDef: def,
		})
		if runErr != nil {
			return subtaskResult{err: fmt.Errorf("dispatcher: execute %s: %w", requestID, runErr)}
		}

		switch resp.Status {
		case agentruntime.StatusCompleted:
			if err := d.completeSubtask(ctx, tc, agentID, requestID, resp); err != nil {
				return subtaskResult{err: err}
			}
			return subtaskResult{outcome: outcomeCompleted}

		case agentruntime.StatusNeedsInput:
			return d.parkSubtask(ctx, tc, phase.Name, requestID, resp)

		case agentruntime.StatusDelegated:
			if !d.Registry.Has(resp.NextAgent) {
				reason := fmt.Sprintf("delegated to unknown agent %q", resp.NextAgent)
				if err := d.recordSubtaskFailure(ctx, tc, agentID, requestID, reason); err != nil {
					return subtaskResult{err: err}
				}
				return subtaskResult{outcome: outcomeFailPhase, reason: reason}
			}
			if attempt >= maxRetries {
				if err := d.recordSubtaskFailure(ctx, tc, agentID, requestID, "exceeded delegation hop limit"); err != nil {
					return subtaskResult{err: err}
				}
				return subtaskResult{outcome: outcomeFailPhase, reason: "exceeded delegation hop limit"}
			}
			if err := d.recordSubtaskFailure(ctx, tc, agentID, requestID, fmt.Sprintf("delegated_to:%s", resp.NextAgent)); err != nil {
				return subtaskResult{err: err}
			}
			agentID = resp.NextAgent
			continue

		default: // failed, timed_out, cancelled
			reason := ""
			if resp.Error != nil {
				reason = resp.Error.Error()
			}
			if err := d.recordSubtaskFailure(ctx, tc, agentID, requestID, reason); err != nil {
				return subtaskResult{err: err}
			}

			action := d.recoveryActionFor(ctx, tc, phase, agentID, reason, resp.Error)
			switch action {
			case actionRetry:
				if attempt >= maxRetries {
					return subtaskResult{outcome: outcomeFailPhase, reason: fmt.Sprintf("exceeded %d retries: %s", maxRetries, reason)}
				}
				continue
			case actionRetryAlternative:
				if attempt >= maxRetries {
					return subtaskResult{outcome: outcomeFailPhase, reason: fmt.Sprintf("exceeded %d retries: %s", maxRetries, reason)}
				}
				alt := d.alternativeAgent(agentID)
				if alt == "" {
					return subtaskResult{outcome: outcomeFailPhase, reason: fmt.Sprintf("no alternative agent available: %s", reason)}
				}
				agentID = alt
				continue
			case actionSkipPhase:
				return subtaskResult{outcome: outcomeSkipPhase, reason: reason}
			case actionEscalateToUser:
				return d.parkSubtask(ctx, tc, phase.Name, requestID, &agentruntime.Response{
					UIRequest: &agentruntime.UIRequestSpec{
						TemplateKind: "error",
						Priority:     "urgent",
						Prompt: map[string]any{
							"phase_name": phase.Name,
							"reason":     reason,
						},
					},
				})
			default: // actionFailTask
				return subtaskResult{outcome: outcomeFailTask, reason: reason}
			}
		}
	}
}

// alternativeAgent picks the lexicographically-smallest other agent (by
// the dispatcher's tie-break rule) matching tried's capabilities.
func (d *Dispatcher) alternativeAgent(tried string) string {
	def, err := d.Registry.Get(tried)
	if err != nil {
		return ""
	}
	for _, candidate := range d.Registry.FindByCapability(def.Capabilities...) {
		if candidate.AgentID != tried {
			return candidate.AgentID
		}
	}
	return ""
}

func (d *Dispatcher) completeSubtask(ctx context.Context, tc *taskcontext.Context, agentID, requestID string, resp *agentruntime.Response) error {
	data := map[string]any{"request_id": requestID, "confidence": resp.Confidence}
	for k, v := range resp.Data {
		data[k] = v
	}
	if _, err := tc.AppendEntry(ctx, taskmodel.Entry{
		Operation: "subtask_completed",
		Data:      data,
		Actor:     taskmodel.Actor{Kind: "agent", ID: agentID},
		Reasoning: resp.Reasoning,
		Trigger:   &taskmodel.Trigger{Kind: "agent_request", Source: agentID},
	}); err != nil {
		return fmt.Errorf("dispatcher: subtask_completed %s: %w", requestID, err)
	}
	return nil
}

func (d *Dispatcher) parkSubtask(ctx context.Context, tc *taskcontext.Context, phaseName, requestID string, resp *agentruntime.Response) subtaskResult {
	if _, err := tc.Append(ctx, "subtask_needs_input", map[string]any{"request_id": requestID, "phase_name": phaseName}); err != nil {
		return subtaskResult{err: fmt.Errorf("dispatcher: subtask_needs_input %s: %w", requestID, err)}
	}

	spec := resp.UIRequest
	if spec == nil {
		spec = &agentruntime.UIRequestSpec{TemplateKind: "waiting", Priority: "medium"}
	}
	if err := d.Gate.Open(ctx, tc, taskmodel.UIRequest{
		RequestID:    requestID + "-ui",
		SubtaskID:    requestID,
		TemplateKind: spec.TemplateKind,
		Priority:     spec.Priority,
		Prompt:       spec.Prompt,
	}); err != nil {
		return subtaskResult{err: fmt.Errorf("dispatcher: open ui request for %s: %w", requestID, err)}
	}

	if _, err := tc.Append(ctx, "task_waiting_for_input", map[string]any{"phase_name": phaseName, "request_id": requestID}); err != nil {
		return subtaskResult{err: fmt.Errorf("dispatcher: task_waiting_for_input: %w", err)}
	}
	return subtaskResult{outcome: outcomeWaiting}
}

func (d *Dispatcher) completePhase(ctx context.Context, tc *taskcontext.Context, phaseName string) error {
	_, err := tc.Append(ctx, "phase_completed", map[string]any{"phase_name": phaseName})
	if err != nil {
		return fmt.Errorf("dispatcher: phase_completed %s: %w", phaseName, err)
	}
	return nil
}

func (d *Dispatcher) skipPhase(ctx context.Context, tc *taskcontext.Context, phaseName, reason string) error {
	_, err := tc.AppendEntry(ctx, taskmodel.Entry{
		Operation: "phase_skipped",
		Data:      map[string]any{"phase_name": phaseName, "reason": reason},
		Actor:     taskmodel.SystemActor(),
		Reasoning: reason,
		Trigger:   &taskmodel.Trigger{Kind: "system_event", Source: "failure_policy"},
	})
	if err != nil {
		return fmt.Errorf("dispatcher: phase_skipped %s: %w", phaseName, err)
	}
	return nil
}

func (d *Dispatcher) failPhase(ctx context.Context, tc *taskcontext.Context, phaseName, reason string) error {
	if _, err := tc.AppendEntry(ctx, taskmodel.Entry{
		Operation: "phase_failed",
		Data:      map[string]any{"phase_name": phaseName, "reason": reason},
		Actor:     taskmodel.SystemActor(),
		Reasoning: reason,
		Trigger:   &taskmodel.Trigger{Kind: "system_event", Source: "failure_policy"},
	}); err != nil {
		return fmt.Errorf("dispatcher: phase_failed %s: %w", phaseName, err)
	}
	return d.failTask(ctx, tc, fmt.Sprintf("phase %s failed: %s", phaseName, reason))
}

func (d *Dispatcher) failTask(ctx context.Context, tc *taskcontext.Context, reason string) error {
	_, err := tc.AppendEntry(ctx, taskmodel.Entry{
		Operation: "task_failed",
		Data:      map[string]any{"reason": reason},
		Actor:     taskmodel.SystemActor(),
		Reasoning: reason,
		Trigger:   &taskmodel.Trigger{Kind: "system_event", Source: "failure_policy"},
	})
	if err != nil {
		return fmt.Errorf("dispatcher: task_failed: %w", err)
	}
	return nil
}

func (d *Dispatcher) completeTask(ctx context.Context, tc *taskcontext.Context) error {
	_, err := tc.Append(ctx, "task_completed", map[string]any{})
	if err != nil {
		return fmt.Errorf("dispatcher: task_completed: %w", err)
	}
	return nil
}

func (d *Dispatcher) recordSubtaskFailure(ctx context.Context, tc *taskcontext.Context, agentID, requestID, reason string) error {
	_, err := tc.AppendEntry(ctx, taskmodel.Entry{
		Operation: "subtask_failed",
		Data:      map[string]any{"request_id": requestID, "agent_id": agentID, "reason": reason},
		Actor:     taskmodel.Actor{Kind: "agent", ID: agentID},
		Reasoning: reason,
		Trigger:   &taskmodel.Trigger{Kind: "agent_request", Source: agentID},
	})
	if err != nil {
		return fmt.Errorf("dispatcher: subtask_failed %s: %w", requestID, err)
	}
	return nil
}

// recoveryActionFor asks the LLM gateway's recovery advisor what to do
// about a failed subtask. Structural failures never reach the advisor:
// a contract violation is a programming-level defect the advisor can't
// meaningfully reason about (fail outright), and an unknown instruction
// can only be fixed by a human (escalate). The conservative default on
// advisor unavailability is fail_task.
func (d *Dispatcher) recoveryActionFor(ctx context.Context, tc *taskcontext.Context, phase taskmodel.Phase, agentID, reason string, cause error) recoveryAction {
	if errors.Is(cause, agentruntime.ErrContractViolation) {
		return actionFailTask
	}
	if errors.Is(cause, agentruntime.ErrUnknownInstruction) {
		return actionEscalateToUser
	}

	req := &llmgateway.Request{
		TaskID:    tc.TaskID(),
		RequestID: tc.TaskID() + "-recovery-" + phase.Name,
		Messages: []llmgateway.Message{
			{Role: llmgateway.RoleSystem, Content: "You advise a task orchestration engine on how to recover from a failed phase. " +
				`Respond with only {"action":"retry|retry_with_alternative_agent|skip_phase|fail_task|escalate_to_user"}.`},
			{Role: llmgateway.RoleUser, Content: fmt.Sprintf("Phase %q (agent %q) failed: %s", phase.Name, agentID, reason)},
		},
	}

	result, err := d.LLM.Complete(ctx, req)
	if err != nil {
		return actionFailTask
	}

	var parsed struct {
		Action string `json:"action"`
	}
	if err := llmgateway.CoerceJSON(result.Content, &parsed); err != nil {
		return actionFailTask
	}

	switch recoveryAction(parsed.Action) {
	case actionRetry, actionRetryAlternative, actionSkipPhase, actionFailTask, actionEscalateToUser:
		return recoveryAction(parsed.Action)
	default:
		return actionFailTask
	}
}

// TopologicalOrder re-exports planner.TopologicalOrder for callers
// (lifecycle recovery) that need plan ordering without depending on
// pkg/planner directly.
func TopologicalOrder(plan taskmodel.Plan) ([]string, error) {
	return planner.TopologicalOrder(plan)
}
