// Package projector implements the engine's state projection: a pure,
// side-effect-free fold of a task's event log into its current state.
// No status column is ever mutated anywhere in the engine; whatever
// "current state" a caller sees is recomputed from events on each read,
// so replaying the same history always produces the same state.
package projector

import (
	"github.com/codeready-toolchain/orchestrator/pkg/taskmodel"
)

// Project folds every event in order into a fresh State. Deterministic:
// the same event slice always yields a byte-for-byte identical State.
func Project(taskID string, events []taskmodel.Event) *taskmodel.State {
	state := taskmodel.NewState(taskID)
	for _, ev := range events {
		apply(state, ev)
		state.Tail = ev.SequenceNumber
	}
	state.Completeness = completeness(state)
	return state
}

// ProjectAt projects only the prefix of events up to and including
// sequence upToSeq, enabling time-travel debugging/recovery replay.
func ProjectAt(taskID string, events []taskmodel.Event, upToSeq int64) *taskmodel.State {
	state := taskmodel.NewState(taskID)
	for _, ev := range events {
		if ev.SequenceNumber > upToSeq {
			break
		}
		apply(state, ev)
		state.Tail = ev.SequenceNumber
	}
	state.Completeness = completeness(state)
	return state
}

// completeness is the share of the template's required fields already
// present in the accumulated data, rounded down to a whole percent.
// It reaches 100 only when every required field is present or the task
// has completed.
func completeness(state *taskmodel.State) int {
	if state.Status == taskmodel.TaskStatusCompleted {
		return 100
	}
	required := requiredFields(state.Data)
	if len(required) == 0 {
		return 0
	}
	present := 0
	for _, field := range required {
		if _, ok := state.Data[field]; ok {
			present++
		}
	}
	return present * 100 / len(required)
}

// requiredFields pulls the required-field list out of the template
// snapshot merged into data by the task_created event.
func requiredFields(data map[string]any) []string {
	tmpl, ok := data["template"].(map[string]any)
	if !ok {
		return nil
	}
	raw, ok := tmpl["required_fields"].([]any)
	if !ok {
		return nil
	}
	var fields []string
	for _, f := range raw {
		if s, ok := f.(string); ok {
			fields = append(fields, s)
		}
	}
	return fields
}

func apply(state *taskmodel.State, ev taskmodel.Event) {
	// Every operation's data merges into the task-level data bag
	// regardless of whether the operation is recognized below — an
	// unknown operation never erases previously merged data.
	deepMergeInto(state.Data, ev.Data)

	switch ev.Operation {
	case "task_created":
		state.Status = taskmodel.TaskStatusActive

	case "plan_created":
		state.Plan = decodePlan(ev.Data)
		state.Status = taskmodel.TaskStatusActive
		for i := range state.Plan.Phases {
			p := &state.Plan.Phases[i]
			p.Status = taskmodel.PhaseStatusPending
			state.Phases[p.Name] = p
		}

	case "phase_started":
		if name, ok := ev.Data["phase_name"].(string); ok {
			if ph, exists := state.Phases[name]; exists {
				ph.Status = taskmodel.PhaseStatusRunning
			}
		}

	case "phase_completed":
		if name, ok := ev.Data["phase_name"].(string); ok {
			if ph, exists := state.Phases[name]; exists {
				ph.Status = taskmodel.PhaseStatusCompleted
			}
		}

	case "phase_failed":
		if name, ok := ev.Data["phase_name"].(string); ok {
			if ph, exists := state.Phases[name]; exists {
				ph.Status = taskmodel.PhaseStatusFailed
			}
		}

	case "phase_skipped":
		if name, ok := ev.Data["phase_name"].(string); ok {
			if ph, exists := state.Phases[name]; exists {
				ph.Status = taskmodel.PhaseStatusSkipped
			}
		}

	case "subtask_dispatched":
		st := &taskmodel.Subtask{Status: taskmodel.SubtaskStatusDispatched}
		if v, ok := ev.Data["request_id"].(string); ok {
			st.RequestID = v
		}
		if v, ok := ev.Data["phase_name"].(string); ok {
			st.PhaseName = v
		}
		if v, ok := ev.Data["agent_id"].(string); ok {
			st.AgentID = v
		}
		if st.RequestID != "" {
			state.Subtasks[st.RequestID] = st
		}

	case "subtask_completed":
		setSubtaskStatus(state, ev.Data, taskmodel.SubtaskStatusCompleted)

	case "subtask_failed":
		setSubtaskStatus(state, ev.Data, taskmodel.SubtaskStatusFailed)

	case "subtask_cancelled":
		setSubtaskStatus(state, ev.Data, taskmodel.SubtaskStatusCancelled)

	case "subtask_needs_input":
		setSubtaskStatus(state, ev.Data, taskmodel.SubtaskStatusNeedsInput)

	case "ui_request_created":
		req := &taskmodel.UIRequest{}
		if v, ok := ev.Data["request_id"].(string); ok {
			req.RequestID = v
		}
		if v, ok := ev.Data["subtask_id"].(string); ok {
			req.SubtaskID = v
		}
		if v, ok := ev.Data["template_kind"].(string); ok {
			req.TemplateKind = v
		}
		if v, ok := ev.Data["priority"].(string); ok {
			req.Priority = v
		}
		if v, ok := ev.Data["prompt"].(map[string]any); ok {
			req.Prompt = v
		}
		req.OpenedAt = ev.RecordedAt
		if req.RequestID != "" {
			state.UIRequests[req.RequestID] = req
			// One pending request is enough to gate the whole task.
			if !state.Status.IsTerminal() {
				state.Status = taskmodel.TaskStatusWaiting
			}
		}

	case "ui_response_received", "ui_request_cancelled":
		if v, ok := ev.Data["request_id"].(string); ok {
			delete(state.UIRequests, v)
		}
		// The task leaves waiting_for_input once the last open request
		// is resolved, whichever way it was resolved.
		if state.Status == taskmodel.TaskStatusWaiting && len(state.UIRequests) == 0 {
			state.Status = taskmodel.TaskStatusActive
		}

	case "task_waiting_for_input":
		state.Status = taskmodel.TaskStatusWaiting

	case "task_completed":
		state.Status = taskmodel.TaskStatusCompleted

	case "task_failed":
		state.Status = taskmodel.TaskStatusFailed
		state.FailureInfo = ev.Data

	case "task_cancelled":
		state.Status = taskmodel.TaskStatusCancelled
	}
}

func setSubtaskStatus(state *taskmodel.State, data map[string]any, status taskmodel.SubtaskStatus) {
	reqID, ok := data["request_id"].(string)
	if !ok {
		return
	}
	if st, exists := state.Subtasks[reqID]; exists {
		st.Status = status
	}
}

func decodePlan(data map[string]any) *taskmodel.Plan {
	plan := &taskmodel.Plan{}
	rawPhases, ok := data["phases"].([]any)
	if !ok {
		return plan
	}
	for _, rp := range rawPhases {
		m, ok := rp.(map[string]any)
		if !ok {
			continue
		}
		ph := taskmodel.Phase{}
		if v, ok := m["name"].(string); ok {
			ph.Name = v
		}
		if v, ok := m["parallel"].(bool); ok {
			ph.Parallel = v
		}
		if agents, ok := m["required_agents"].([]any); ok {
			for _, a := range agents {
				if s, ok := a.(string); ok {
					ph.RequiredAgents = append(ph.RequiredAgents, s)
				}
			}
		}
		if prereqs, ok := m["prerequisites"].([]any); ok {
			for _, p := range prereqs {
				if s, ok := p.(string); ok {
					ph.Prerequisites = append(ph.Prerequisites, s)
				}
			}
		}
		plan.Phases = append(plan.Phases, ph)
	}
	return plan
}

// deepMergeInto merges src into dst following the engine's single
// merge rule: object values merge key-wise (recursively), scalar and
// array values replace the destination value outright, and null/absent
// values never erase data already present at dst.
func deepMergeInto(dst, src map[string]any) {
	for k, v := range src {
		if v == nil {
			continue
		}
		if srcMap, ok := v.(map[string]any); ok {
			dstMap, exists := dst[k].(map[string]any)
			if !exists {
				dstMap = map[string]any{}
				dst[k] = dstMap
			}
			deepMergeInto(dstMap, srcMap)
			continue
		}
		dst[k] = v
	}
}
