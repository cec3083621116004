// Package rendezvous is the pause-at-dispatcher-level gate that lets a
// specialized agent ask a human for input without holding a suspended
// call stack. Opening and resolving a request are themselves just
// events on the task's log; the only in-memory state is a
// map[request_id]waiter so an in-process Wait can be woken without
// polling, and that map is rebuilt from the log after a restart.
package rendezvous

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/codeready-toolchain/orchestrator/pkg/taskcontext"
	"github.com/codeready-toolchain/orchestrator/pkg/taskmodel"
)

// ErrAlreadyResponded is returned by SubmitResponse/Cancel when the
// named request_id has no open UI request (already answered, already
// cancelled, or never existed).
var ErrAlreadyResponded = errors.New("rendezvous: request already resolved or unknown")

// Notifier pushes urgent UI requests to a channel humans actually
// watch (in practice pkg/slack). Implementations must be fail-open: a
// notification failure never blocks the rendezvous itself.
type Notifier interface {
	// UIRequestOpened announces a newly opened urgent request and
	// returns an opaque thread handle for the resolution follow-up.
	UIRequestOpened(ctx context.Context, taskID, requestID string, prompt map[string]any) (thread string)

	// UIRequestResolved announces the request's terminal outcome
	// (responded, cancelled, timeout), threaded when thread is known.
	UIRequestResolved(ctx context.Context, taskID, requestID, resolution, thread string)
}

// waiter is fulfilled exactly once, by whichever of SubmitResponse or
// Cancel settles the matching request_id first.
type waiter struct {
	ch     chan taskmodel.Event
	thread string // notifier thread handle for urgent requests
}

// Gate is the in-process rendezvous registry for one engine instance.
// A task's UI requests can only be waited on by the same process that
// opened them; after a process restart, Recover (pkg/lifecycle) re-opens
// a fresh Wait by subscribing to the event log instead of relying on
// this in-memory map, so no state here needs to survive a restart.
type Gate struct {
	mu       sync.Mutex
	waiters  map[string]*waiter // request_id -> waiter
	notifier Notifier           // optional, nil disables notifications
}

// NewGate returns an empty rendezvous registry.
func NewGate() *Gate {
	return &Gate{waiters: map[string]*waiter{}}
}

// WithNotifier attaches an urgent-request notifier and returns g.
func (g *Gate) WithNotifier(n Notifier) *Gate {
	g.notifier = n
	return g
}

// Open appends a ui_request_created event and registers a waiter for it.
func (g *Gate) Open(ctx context.Context, tc *taskcontext.Context, req taskmodel.UIRequest) error {
	_, err := tc.Append(ctx, "ui_request_created", map[string]any{
		"request_id":    req.RequestID,
		"subtask_id":    req.SubtaskID,
		"template_kind": req.TemplateKind,
		"priority":      req.Priority,
		"prompt":        req.Prompt,
	})
	if err != nil {
		return fmt.Errorf("open ui request %s: %w", req.RequestID, err)
	}

	w := &waiter{ch: make(chan taskmodel.Event, 1)}
	if g.notifier != nil && req.Priority == "urgent" {
		w.thread = g.notifier.UIRequestOpened(ctx, tc.TaskID(), req.RequestID, req.Prompt)
	}

	g.mu.Lock()
	g.waiters[req.RequestID] = w
	g.mu.Unlock()
	return nil
}

// Wait blocks until a response or cancellation event resolves
// requestID, the context is cancelled, or timeout elapses (zero means
// no timeout). A timeout is not just the waiter giving up: the request
// itself is cancelled with reason=timeout, so every other observer sees
// the same terminal state. Recovery reattachment: if this process did
// not open the request (e.g. after a restart), the caller should first
// replay the event log and, if the request is already resolved there,
// skip Wait entirely rather than blocking forever on a waiter nobody
// will ever fulfill.
func (g *Gate) Wait(ctx context.Context, tc *taskcontext.Context, requestID string, timeout time.Duration) (taskmodel.Event, error) {
	g.mu.Lock()
	w, ok := g.waiters[requestID]
	g.mu.Unlock()
	if !ok {
		return taskmodel.Event{}, fmt.Errorf("%w: %s", ErrAlreadyResponded, requestID)
	}

	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case ev := <-w.ch:
		return ev, nil
	case <-ctx.Done():
		return taskmodel.Event{}, ctx.Err()
	case <-timeoutCh:
		if err := g.Cancel(ctx, tc, requestID, "timeout"); err != nil {
			return taskmodel.Event{}, fmt.Errorf("rendezvous: wait for %s timed out (cancel failed: %v)", requestID, err)
		}
		return taskmodel.Event{}, fmt.Errorf("rendezvous: wait for %s timed out", requestID)
	}
}

// SubmitResponse appends ui_response_received with the accumulated
// response data and wakes any in-process waiter. Resumption after this
// is a fresh agent invocation with the response data injected into
// context — it is never a resumed goroutine/call stack, which is why
// Wait only returns the resolving Event, not control of any paused
// execution. actor records the human (or system, for automated
// responses) answering the request.
func (g *Gate) SubmitResponse(ctx context.Context, tc *taskcontext.Context, requestID string, responseData map[string]any, actor taskmodel.Actor) error {
	return g.resolve(ctx, tc, requestID, taskmodel.Entry{
		Operation: "ui_response_received",
		Data:      responseData,
		Actor:     actor,
		Trigger:   &taskmodel.Trigger{Kind: "user_action", Source: "ui_response"},
	})
}

// Cancel appends ui_request_cancelled and wakes any in-process waiter.
// reason distinguishes an explicit cancellation from a timeout.
func (g *Gate) Cancel(ctx context.Context, tc *taskcontext.Context, requestID, reason string) error {
	return g.resolve(ctx, tc, requestID, taskmodel.Entry{
		Operation: "ui_request_cancelled",
		Data:      map[string]any{"reason": reason},
		Actor:     taskmodel.SystemActor(),
		Reasoning: reason,
		Trigger:   &taskmodel.Trigger{Kind: "system_event", Source: "rendezvous_cancel"},
	})
}

func (g *Gate) resolve(ctx context.Context, tc *taskcontext.Context, requestID string, entry taskmodel.Entry) error {
	g.mu.Lock()
	w, ok := g.waiters[requestID]
	if ok {
		delete(g.waiters, requestID)
	}
	g.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrAlreadyResponded, requestID)
	}

	payload := map[string]any{"request_id": requestID}
	for k, v := range entry.Data {
		payload[k] = v
	}
	entry.Data = payload

	ev, err := tc.AppendEntry(ctx, entry)
	if err != nil {
		return fmt.Errorf("resolve ui request %s: %w", requestID, err)
	}

	if g.notifier != nil && w.thread != "" {
		resolution := "responded"
		if entry.Operation == "ui_request_cancelled" {
			resolution = "cancelled"
			if reason, ok := payload["reason"].(string); ok && reason == "timeout" {
				resolution = "timeout"
			}
		}
		g.notifier.UIRequestResolved(ctx, tc.TaskID(), requestID, resolution, w.thread)
	}

	select {
	case w.ch <- ev:
	default:
	}
	return nil
}

// Reattach registers a waiter for a request this process did not open
// (recovery path): the caller is responsible for having already checked
// the projected state does not show the request as resolved.
func (g *Gate) Reattach(requestID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, exists := g.waiters[requestID]; !exists {
		g.waiters[requestID] = &waiter{ch: make(chan taskmodel.Event, 1)}
	}
}

// Pending reports whether requestID currently has an open waiter.
func (g *Gate) Pending(requestID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.waiters[requestID]
	return ok
}
