// Package lifecycle manages a task's whole life: allocating identity,
// snapshotting the template active at creation time, driving new and
// resumed tasks through the dispatcher, and recovering in-flight tasks
// on process startup. Recovery ages each non-terminal task against a
// window — force it terminal past the window, resume it otherwise —
// using only the event log, so a crashed process leaves nothing to
// clean up but the history itself.
package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/codeready-toolchain/orchestrator/pkg/dispatcher"
	"github.com/codeready-toolchain/orchestrator/pkg/planner"
	"github.com/codeready-toolchain/orchestrator/pkg/rendezvous"
	"github.com/codeready-toolchain/orchestrator/pkg/taskcontext"
	"github.com/codeready-toolchain/orchestrator/pkg/taskmodel"
)

// DefaultRecoveryWindow bounds how long a non-terminal task may go
// without a new event before recovery gives up on it and forces
// task_failed(reason=recovery_timeout) instead of resuming it.
const DefaultRecoveryWindow = 15 * time.Minute

// Store is everything the lifecycle manager needs from the event log,
// beyond the taskcontext.Store subset the dispatcher already depends
// on: enumerating tasks and their last-activity time for the recovery
// scan.
type Store interface {
	taskcontext.Store
	ListTaskIDs(ctx context.Context) ([]string, error)
	LastRecordedAt(ctx context.Context, taskID string) (time.Time, error)
}

// TemplateSource resolves a template_id to the Template snapshot taken
// at task-creation time (later edits to the template must never change
// the meaning of history already recorded against an earlier version).
type TemplateSource interface {
	Get(templateID string) (taskmodel.Template, error)
}

// Manager is the lifecycle facade: create/recover/cancel, plus the glue that
// drives a task's dispatcher loop to completion in the background so
// callers of Create/SubmitResponse/Resume never block on a full run.
type Manager struct {
	Store          Store
	Templates      TemplateSource
	Planner        *planner.Planner
	Dispatcher     *dispatcher.Dispatcher
	Gate           *rendezvous.Gate
	RecoveryWindow time.Duration
}

// New returns a Manager wired to store/templates/planner/dispatcher/gate,
// with the default recovery window.
func New(store Store, templates TemplateSource, pl *planner.Planner, disp *dispatcher.Dispatcher, gate *rendezvous.Gate) *Manager {
	return &Manager{
		Store:          store,
		Templates:      templates,
		Planner:        pl,
		Dispatcher:     disp,
		Gate:           gate,
		RecoveryWindow: DefaultRecoveryWindow,
	}
}

// Create allocates a new task_id, snapshots templateID's current
// definition onto the task, appends task_created, and kicks off the
// dispatcher in the background. It returns as soon as the identity is
// durable; the caller observes progress via TaskContext/get_task, not
// via this call blocking on the full run. tenantID scopes the task; the
// persistence layer rejects cross-tenant access using it.
func (m *Manager) Create(ctx context.Context, tenantID, templateID string, initialData map[string]any, actor taskmodel.Actor) (string, error) {
	tmpl, err := m.Templates.Get(templateID)
	if err != nil {
		return "", fmt.Errorf("lifecycle: create task: %w", err)
	}

	taskID := uuid.NewString()
	tc := taskcontext.New(m.Store, taskID)

	data := map[string]any{
		"tenant_id":    tenantID,
		"template_id":  templateID,
		"template":     templateSnapshot(tmpl),
		"initial_data": initialData,
	}
	for k, v := range initialData {
		data[k] = v
	}

	if _, err := tc.AppendEntry(ctx, taskmodel.Entry{
		Operation: "task_created",
		Data:      data,
		Actor:     actor,
		Trigger:   &taskmodel.Trigger{Kind: "user_action", Source: "create_task"},
	}); err != nil {
		return "", fmt.Errorf("lifecycle: record task_created for %s: %w", taskID, err)
	}

	if _, err := m.Planner.Plan(ctx, tc, tmpl, initialData); err != nil {
		return "", fmt.Errorf("lifecycle: plan task %s: %w", taskID, err)
	}

	m.driveInBackground(tc, false)
	return taskID, nil
}

// templateSnapshot flattens a Template into the generic map shape every
// event payload uses, so the projected state's template snapshot looks
// identical whether the events came from the database (JSON round-trip)
// or straight from an in-process append.
func templateSnapshot(tmpl taskmodel.Template) map[string]any {
	raw, err := json.Marshal(tmpl)
	if err != nil {
		return map[string]any{"template_id": tmpl.TemplateID}
	}
	var snapshot map[string]any
	if err := json.Unmarshal(raw, &snapshot); err != nil {
		return map[string]any{"template_id": tmpl.TemplateID}
	}
	return snapshot
}

// Resume re-drives a task that a caller knows is parked or was
// interrupted (distinct from Recover's startup-wide scan): it
// reattaches any open UI requests before continuing, relying on
// Dispatcher.Resume's read-current-state-and-continue loop to make
// this a no-op for a task that is already terminal.
func (m *Manager) Resume(ctx context.Context, taskID string) {
	tc := taskcontext.New(m.Store, taskID)
	m.driveInBackground(tc, true)
}

// SubmitResponse resolves a pending UI request and resumes the task so
// the parked phase can proceed with the newly available data.
// Resumption after a human response is always a fresh dispatcher
// invocation, not a reawakened call stack.
func (m *Manager) SubmitResponse(ctx context.Context, taskID, requestID string, payload map[string]any, actor taskmodel.Actor) error {
	tc := taskcontext.New(m.Store, taskID)
	if err := m.Gate.SubmitResponse(ctx, tc, requestID, payload, actor); err != nil {
		return fmt.Errorf("lifecycle: submit response %s/%s: %w", taskID, requestID, err)
	}
	m.driveInBackground(tc, true)
	return nil
}

// Cancel appends task_cancelled; the dispatcher's run loop checks
// terminal status on every tick and stops driving the task on its next
// observation. Committed side effects are not rolled back — the
// cancellation event is the last state-modifying entry on the log.
func (m *Manager) Cancel(ctx context.Context, taskID string, actor taskmodel.Actor, reason string) error {
	tc := taskcontext.New(m.Store, taskID)
	return m.Dispatcher.Cancel(ctx, tc, reason, actor)
}

// Recover runs once at process startup: every task whose latest event
// predates RecoveryWindow is forced to task_failed(recovery_timeout);
// every other non-terminal task is resumed. Safe to call from multiple
// replicas concurrently — AppendExpecting inside the dispatcher's event
// path means a task driven by two processes at once just has one loser
// retry against the new tail, never a corrupted history.
func (m *Manager) Recover(ctx context.Context) error {
	taskIDs, err := m.Store.ListTaskIDs(ctx)
	if err != nil {
		return fmt.Errorf("lifecycle: recover: list tasks: %w", err)
	}

	for _, taskID := range taskIDs {
		tc := taskcontext.New(m.Store, taskID)
		state, err := tc.Load(ctx)
		if err != nil {
			slog.Error("lifecycle: recover: load task", "task_id", taskID, "error", err)
			continue
		}
		if state.Status.IsTerminal() {
			continue
		}

		lastSeen, err := m.Store.LastRecordedAt(ctx, taskID)
		if err != nil {
			slog.Error("lifecycle: recover: last recorded at", "task_id", taskID, "error", err)
			continue
		}

		if time.Since(lastSeen) > m.RecoveryWindow {
			if _, err := tc.AppendEntry(ctx, taskmodel.Entry{
				Operation: "task_failed",
				Data:      map[string]any{"reason": "recovery_timeout"},
				Actor:     taskmodel.SystemActor(),
				Reasoning: "task exceeded the recovery window with no progress; failing instead of resuming stale work",
				Trigger:   &taskmodel.Trigger{Kind: "system_event", Source: "startup_recovery"},
			}); err != nil {
				slog.Error("lifecycle: recover: mark recovery_timeout", "task_id", taskID, "error", err)
			}
			continue
		}

		slog.Info("lifecycle: recovering in-flight task", "task_id", taskID, "status", state.Status)
		m.driveInBackground(tc, true)
	}
	return nil
}

// driveInBackground runs the dispatcher for tc until it terminates,
// parks on a UI request, or fails, logging the outcome. Errors never
// propagate to the caller of Create/Resume/SubmitResponse: the
// dispatcher loop itself is the only thing that should ever retry a
// task's progress. resume selects
// Dispatcher.Resume (reattach open UI requests first) over a plain Run,
// appropriate for every caller except a brand-new Create.
func (m *Manager) driveInBackground(tc *taskcontext.Context, resume bool) {
	go func() {
		ctx := context.Background()
		drive := m.Dispatcher.Run
		if resume {
			drive = m.Dispatcher.Resume
		}
		if err := drive(ctx, tc); err != nil {
			switch {
			case errors.Is(err, dispatcher.ErrWaitingForInput):
				slog.Info("task parked on user input", "task_id", tc.TaskID())
			default:
				slog.Error("dispatcher run ended with error", "task_id", tc.TaskID(), "error", err)
			}
		}
	}()
}
