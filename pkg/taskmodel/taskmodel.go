// Package taskmodel defines the core data types shared across the
// orchestration engine: events, the projected task state, phases,
// subtasks and UI requests. These are plain structs with no database
// or transport dependency — every package that needs persistence or
// wire encoding adapts these types rather than embedding generated code.
package taskmodel

import "time"

// TaskStatus is the closed set of terminal/non-terminal task states.
type TaskStatus string

const (
	TaskStatusCreated   TaskStatus = "created"
	TaskStatusActive    TaskStatus = "active"
	TaskStatusWaiting   TaskStatus = "waiting_for_input"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusCancelled TaskStatus = "cancelled"
)

// IsTerminal reports whether no further events can change this status.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// PhaseStatus mirrors TaskStatus but at phase granularity.
type PhaseStatus string

const (
	PhaseStatusPending   PhaseStatus = "pending"
	PhaseStatusRunning   PhaseStatus = "running"
	PhaseStatusCompleted PhaseStatus = "completed"
	PhaseStatusFailed    PhaseStatus = "failed"
	PhaseStatusSkipped   PhaseStatus = "skipped"
)

// SubtaskStatus mirrors PhaseStatus at the single-agent-invocation level.
type SubtaskStatus string

const (
	SubtaskStatusDispatched SubtaskStatus = "dispatched"
	SubtaskStatusNeedsInput SubtaskStatus = "needs_input"
	SubtaskStatusCompleted  SubtaskStatus = "completed"
	SubtaskStatusFailed     SubtaskStatus = "failed"
	SubtaskStatusCancelled  SubtaskStatus = "cancelled"
)

// Actor identifies who caused an event: a human, a specialized agent,
// or the engine itself.
type Actor struct {
	Kind    string `json:"kind"` // user, agent, system
	ID      string `json:"id"`
	Version string `json:"version,omitempty"`
}

// SystemActor is the engine acting on its own behalf (dispatch
// bookkeeping, recovery sweeps, planner fallbacks).
func SystemActor() Actor {
	return Actor{Kind: "system", ID: "orchestrator"}
}

// Trigger records what prompted an event, distinct from who wrote it —
// a system-actor event may still have been triggered by a user action.
type Trigger struct {
	Kind    string         `json:"kind"` // user_action, agent_request, system_event
	Source  string         `json:"source,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

// Event is one immutable, gap-free, monotonically sequenced entry in a
// task's append-only log. Sequence numbers start at 1 per task.
// RecordedAt is wall-clock time for display only; ordering is defined
// solely by SequenceNumber.
type Event struct {
	EntryID        string         `json:"entry_id"`
	TaskID         string         `json:"task_id"`
	SequenceNumber int64          `json:"sequence_number"`
	Operation      string         `json:"operation"`
	Actor          Actor          `json:"actor"`
	Data           map[string]any `json:"data"`
	Reasoning      string         `json:"reasoning,omitempty"`
	Trigger        *Trigger       `json:"trigger,omitempty"`
	RecordedAt     time.Time      `json:"recorded_at"`
}

// Entry is the write-side shape of an event: everything the caller
// declares, before the log assigns entry_id, sequence, and timestamp.
type Entry struct {
	Operation string
	Data      map[string]any
	Actor     Actor
	Reasoning string
	Trigger   *Trigger
}

// Phase is one node of the plan DAG. RequiredAgents is the full set of
// agents the phase dispatches one subtask to each; Parallel declares
// whether those subtasks run concurrently or one after another.
type Phase struct {
	Name           string      `json:"name"`
	RequiredAgents []string    `json:"required_agents,omitempty"`
	Prerequisites  []string    `json:"prerequisites,omitempty"`
	Parallel       bool        `json:"parallel,omitempty"`
	Status         PhaseStatus `json:"status"`
}

// Plan is the ordered set of phases the orchestrator will execute.
type Plan struct {
	Phases []Phase `json:"phases"`
}

// Subtask is a single agent invocation within a phase.
type Subtask struct {
	RequestID string        `json:"request_id"`
	PhaseName string        `json:"phase_name"`
	AgentID   string        `json:"agent_id"`
	Status    SubtaskStatus `json:"status"`
}

// UIRequest is an open human-input gate blocking (at least) its owning
// subtask from progressing until a matching response is appended.
type UIRequest struct {
	RequestID    string         `json:"request_id"`
	SubtaskID    string         `json:"subtask_id"`
	TemplateKind string         `json:"template_kind"`
	Priority     string         `json:"priority"`
	Prompt       map[string]any `json:"prompt"`
	OpenedAt     time.Time      `json:"opened_at"`
}

// State is the deterministic projection of a task's event log:
// project(events) -> State is a pure fold with no I/O.
type State struct {
	TaskID       string                `json:"task_id"`
	Status       TaskStatus            `json:"status"`
	Plan         *Plan                 `json:"plan,omitempty"`
	Phases       map[string]*Phase     `json:"phases"`
	Subtasks     map[string]*Subtask   `json:"subtasks"`
	UIRequests   map[string]*UIRequest `json:"ui_requests"`
	Data         map[string]any        `json:"data"`
	Completeness int                   `json:"completeness"`
	FailureInfo  map[string]any        `json:"failure_info,omitempty"`
	Tail         int64                 `json:"tail_sequence"`
}

// ActiveAgents returns the ids of agents currently assigned to an
// in-flight subtask, derived from the subtask set rather than stored.
func (s *State) ActiveAgents() []string {
	seen := map[string]bool{}
	var agents []string
	for _, st := range s.Subtasks {
		if st.Status == SubtaskStatusDispatched || st.Status == SubtaskStatusNeedsInput {
			if !seen[st.AgentID] {
				seen[st.AgentID] = true
				agents = append(agents, st.AgentID)
			}
		}
	}
	return agents
}

// Template is the declarative definition of a task's goals, phases, and
// success criteria, snapshotted onto the task at creation time so a
// later edit to the template never rewrites the meaning of history
// already recorded against the version active when the task was created.
type Template struct {
	TemplateID      string   `json:"template_id" yaml:"template_id"`
	Description     string   `json:"description,omitempty" yaml:"description,omitempty"`
	Goals           []string `json:"goals,omitempty" yaml:"goals,omitempty"`
	RequiredInputs  []string `json:"required_inputs,omitempty" yaml:"required_inputs,omitempty"`
	RequiredFields  []string `json:"required_fields,omitempty" yaml:"required_fields,omitempty"`
	SuccessCriteria string   `json:"success_criteria,omitempty" yaml:"success_criteria,omitempty"`
}

// NewState returns the zero-value projection for a task with no events.
func NewState(taskID string) *State {
	return &State{
		TaskID:     taskID,
		Status:     TaskStatusCreated,
		Phases:     map[string]*Phase{},
		Subtasks:   map[string]*Subtask{},
		UIRequests: map[string]*UIRequest{},
		Data:       map[string]any{},
	}
}
