package rendezvous

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/orchestrator/pkg/taskcontext"
	"github.com/codeready-toolchain/orchestrator/pkg/taskmodel"
)

// memStore is a minimal in-memory taskcontext.Store fake for tests that
// don't need Postgres.
type memStore struct {
	mu     sync.Mutex
	events map[string][]taskmodel.Event
}

func newMemStore() *memStore { return &memStore{events: map[string][]taskmodel.Event{}} }

func (s *memStore) Append(ctx context.Context, taskID, operation string, data map[string]any) (taskmodel.Event, error) {
	return s.AppendEntry(ctx, taskID, taskmodel.Entry{Operation: operation, Data: data, Actor: taskmodel.SystemActor()})
}

func (s *memStore) AppendEntry(_ context.Context, taskID string, entry taskmodel.Entry) (taskmodel.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seq := int64(len(s.events[taskID]) + 1)
	ev := taskmodel.Event{
		TaskID:         taskID,
		SequenceNumber: seq,
		Operation:      entry.Operation,
		Actor:          entry.Actor,
		Data:           entry.Data,
		Reasoning:      entry.Reasoning,
		Trigger:        entry.Trigger,
		RecordedAt:     time.Now(),
	}
	s.events[taskID] = append(s.events[taskID], ev)
	return ev, nil
}

func (s *memStore) AppendExpecting(ctx context.Context, taskID, operation string, data map[string]any, expectedTail int64) (taskmodel.Event, error) {
	s.mu.Lock()
	current := int64(len(s.events[taskID]))
	s.mu.Unlock()
	if current != expectedTail {
		return taskmodel.Event{}, assertErr
	}
	return s.Append(ctx, taskID, operation, data)
}

func (s *memStore) List(_ context.Context, taskID string) ([]taskmodel.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]taskmodel.Event(nil), s.events[taskID]...), nil
}

var assertErr = &concurrentErr{}

type concurrentErr struct{}

func (e *concurrentErr) Error() string { return "concurrent write" }

func userActor() taskmodel.Actor {
	return taskmodel.Actor{Kind: "user", ID: "tester"}
}

func TestGate_OpenThenSubmitResponseWakesWaiter(t *testing.T) {
	store := newMemStore()
	tc := taskcontext.New(store, "task-1")
	gate := NewGate()

	req := taskmodel.UIRequest{RequestID: "req-1", SubtaskID: "sub-1", TemplateKind: "confirmation", Priority: "medium"}
	require.NoError(t, gate.Open(context.Background(), tc, req))
	assert.True(t, gate.Pending("req-1"))

	done := make(chan taskmodel.Event, 1)
	go func() {
		ev, err := gate.Wait(context.Background(), tc, "req-1", time.Second)
		require.NoError(t, err)
		done <- ev
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, gate.SubmitResponse(context.Background(), tc, "req-1", map[string]any{"answer": "yes"}, userActor()))

	select {
	case ev := <-done:
		assert.Equal(t, "ui_response_received", ev.Operation)
		assert.Equal(t, "yes", ev.Data["answer"])
		assert.Equal(t, "user", ev.Actor.Kind)
	case <-time.After(time.Second):
		t.Fatal("waiter was never woken")
	}
	assert.False(t, gate.Pending("req-1"))
}

func TestGate_CancelIsExclusiveWithSubmitResponse(t *testing.T) {
	store := newMemStore()
	tc := taskcontext.New(store, "task-1")
	gate := NewGate()

	req := taskmodel.UIRequest{RequestID: "req-1", SubtaskID: "sub-1", TemplateKind: "confirmation", Priority: "medium"}
	require.NoError(t, gate.Open(context.Background(), tc, req))

	require.NoError(t, gate.Cancel(context.Background(), tc, "req-1", "operator abandoned the task"))
	err := gate.SubmitResponse(context.Background(), tc, "req-1", map[string]any{"answer": "too late"}, userActor())
	require.ErrorIs(t, err, ErrAlreadyResponded)
}

func TestGate_WaitTimeoutCancelsRequest(t *testing.T) {
	store := newMemStore()
	tc := taskcontext.New(store, "task-1")
	gate := NewGate()

	req := taskmodel.UIRequest{RequestID: "req-1", SubtaskID: "sub-1", TemplateKind: "confirmation", Priority: "medium"}
	require.NoError(t, gate.Open(context.Background(), tc, req))

	_, err := gate.Wait(context.Background(), tc, "req-1", 20*time.Millisecond)
	require.Error(t, err)

	// The timeout resolves the request itself, not just the waiter.
	assert.False(t, gate.Pending("req-1"))
	events, err := store.List(context.Background(), "task-1")
	require.NoError(t, err)
	last := events[len(events)-1]
	assert.Equal(t, "ui_request_cancelled", last.Operation)
	assert.Equal(t, "timeout", last.Data["reason"])
}

func TestGate_ReattachRestoresWaiter(t *testing.T) {
	store := newMemStore()
	tc := taskcontext.New(store, "task-1")
	gate := NewGate()

	// A fresh gate (post-restart) knows nothing about req-1.
	assert.False(t, gate.Pending("req-1"))
	gate.Reattach("req-1")
	assert.True(t, gate.Pending("req-1"))

	require.NoError(t, gate.SubmitResponse(context.Background(), tc, "req-1", map[string]any{"answer": "after restart"}, userActor()))
	assert.False(t, gate.Pending("req-1"))
}

type fakeNotifier struct {
	mu       sync.Mutex
	opened   []string
	resolved []string
}

func (n *fakeNotifier) UIRequestOpened(_ context.Context, _, requestID string, _ map[string]any) string {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.opened = append(n.opened, requestID)
	return "thread-" + requestID
}

func (n *fakeNotifier) UIRequestResolved(_ context.Context, _, requestID, resolution, thread string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.resolved = append(n.resolved, requestID+":"+resolution+":"+thread)
}

func TestGate_NotifierFiresOnlyForUrgentRequests(t *testing.T) {
	store := newMemStore()
	tc := taskcontext.New(store, "task-1")
	notifier := &fakeNotifier{}
	gate := NewGate().WithNotifier(notifier)

	routine := taskmodel.UIRequest{RequestID: "routine", TemplateKind: "form", Priority: "medium"}
	urgent := taskmodel.UIRequest{RequestID: "urgent-1", TemplateKind: "error", Priority: "urgent"}
	require.NoError(t, gate.Open(context.Background(), tc, routine))
	require.NoError(t, gate.Open(context.Background(), tc, urgent))

	assert.Equal(t, []string{"urgent-1"}, notifier.opened)

	require.NoError(t, gate.SubmitResponse(context.Background(), tc, "routine", nil, userActor()))
	require.NoError(t, gate.SubmitResponse(context.Background(), tc, "urgent-1", map[string]any{"ack": true}, userActor()))

	assert.Equal(t, []string{"urgent-1:responded:thread-urgent-1"}, notifier.resolved)
}
