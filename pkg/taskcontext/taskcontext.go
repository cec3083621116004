// Package taskcontext provides the read-your-writes facade over the
// event log and projector: every call reloads the full event history
// and re-folds it rather than caching state across calls. A cache keyed
// on anything but the tail sequence would go stale on the first append,
// so the facade holds no mutable state at all.
package taskcontext

import (
	"context"
	"errors"
	"fmt"

	"github.com/codeready-toolchain/orchestrator/pkg/eventlog"
	"github.com/codeready-toolchain/orchestrator/pkg/projector"
	"github.com/codeready-toolchain/orchestrator/pkg/taskmodel"
)

// Store is the subset of eventlog.Store that TaskContext needs, kept as
// an interface so dispatcher/lifecycle tests can substitute a fake.
type Store interface {
	Append(ctx context.Context, taskID, operation string, data map[string]any) (taskmodel.Event, error)
	AppendEntry(ctx context.Context, taskID string, entry taskmodel.Entry) (taskmodel.Event, error)
	AppendExpecting(ctx context.Context, taskID, operation string, data map[string]any, expectedTail int64) (taskmodel.Event, error)
	List(ctx context.Context, taskID string) ([]taskmodel.Event, error)
}

// Context wraps a Store with the task it scopes operations to.
type Context struct {
	store  Store
	taskID string
}

// New returns a TaskContext facade bound to taskID.
func New(store Store, taskID string) *Context {
	return &Context{store: store, taskID: taskID}
}

// TaskID returns the bound task identifier.
func (c *Context) TaskID() string { return c.taskID }

// Load reconstructs the current projected state by replaying every
// event recorded for this task.
func (c *Context) Load(ctx context.Context) (*taskmodel.State, error) {
	events, err := c.store.List(ctx, c.taskID)
	if err != nil {
		return nil, fmt.Errorf("load events for %s: %w", c.taskID, err)
	}
	return projector.Project(c.taskID, events), nil
}

// Append writes operation/data as the next event for this task, with a
// system actor and no reasoning.
func (c *Context) Append(ctx context.Context, operation string, data map[string]any) (taskmodel.Event, error) {
	return c.store.Append(ctx, c.taskID, operation, data)
}

// AppendEntry writes a fully-specified entry (actor, reasoning,
// trigger) as the next event for this task. Error paths and
// human-caused transitions use this form so the history records who
// did what and why, not just that it happened.
func (c *Context) AppendEntry(ctx context.Context, entry taskmodel.Entry) (taskmodel.Event, error) {
	return c.store.AppendEntry(ctx, c.taskID, entry)
}

// AppendExpecting writes operation/data only if the task's tail
// sequence still equals expectedTail, returning eventlog.ErrConcurrentWrite
// otherwise. Callers on the optimistic-concurrency path reload and retry.
func (c *Context) AppendExpecting(ctx context.Context, operation string, data map[string]any, expectedTail int64) (taskmodel.Event, error) {
	ev, err := c.store.AppendExpecting(ctx, c.taskID, operation, data, expectedTail)
	if err != nil {
		return ev, err
	}
	return ev, nil
}

// IsConcurrentWrite reports whether err is the optimistic-concurrency
// conflict sentinel, so callers can reload-and-retry without importing
// eventlog directly.
func IsConcurrentWrite(err error) bool {
	return errors.Is(err, eventlog.ErrConcurrentWrite)
}
