package eventlog_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/orchestrator/pkg/eventlog"
	"github.com/codeready-toolchain/orchestrator/pkg/taskmodel"
	"github.com/codeready-toolchain/orchestrator/test/util"
)

// newTestStore wraps a fresh per-test schema's *sql.DB in an eventlog.Store
// without redialing, mirroring how production code only ever gets a Store
// via eventlog.Open.
func newTestStore(t *testing.T) *eventlog.Store {
	if testing.Short() {
		t.Skip("skipping Postgres-backed integration test in -short mode")
	}
	db := util.SetupTestDatabase(t)
	return eventlog.NewWithDB(db)
}

func TestStore_AppendAssignsGapFreeSequence(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		ev, err := store.Append(ctx, "task-1", "phase_started", map[string]any{"n": i})
		require.NoError(t, err)
		assert.Equal(t, int64(i), ev.SequenceNumber)
	}

	events, err := store.List(ctx, "task-1")
	require.NoError(t, err)
	require.Len(t, events, 5)
	for i, ev := range events {
		assert.Equal(t, int64(i+1), ev.SequenceNumber)
	}
}

func TestStore_AppendExpectingRejectsStaleTail(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Append(ctx, "task-2", "task_created", nil)
	require.NoError(t, err)

	_, err = store.AppendExpecting(ctx, "task-2", "plan_created", nil, 0)
	assert.ErrorIs(t, err, eventlog.ErrConcurrentWrite)

	_, err = store.AppendExpecting(ctx, "task-2", "plan_created", nil, 1)
	assert.NoError(t, err)
}

func TestStore_ListSinceReturnsTailSlice(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := store.Append(ctx, "task-3", "subtask_dispatched", nil)
		require.NoError(t, err)
	}

	tail, err := store.Tail(ctx, "task-3")
	require.NoError(t, err)
	require.Equal(t, int64(3), tail)

	events, err := store.ListSince(ctx, "task-3", 1)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, int64(2), events[0].SequenceNumber)
	assert.Equal(t, int64(3), events[1].SequenceNumber)
}

func TestStore_EventsAreIsolatedPerTask(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Append(ctx, "task-a", "task_created", nil)
	require.NoError(t, err)
	_, err = store.Append(ctx, "task-b", "task_created", nil)
	require.NoError(t, err)

	a, err := store.List(ctx, "task-a")
	require.NoError(t, err)
	require.Len(t, a, 1)

	b, err := store.List(ctx, "task-b")
	require.NoError(t, err)
	require.Len(t, b, 1)
}

func TestStore_AppendEntryRoundTripsActorReasoningTrigger(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	entry := taskmodel.Entry{
		Operation: "subtask_failed",
		Data:      map[string]any{"request_id": "req-1", "reason": "tool unavailable"},
		Actor:     taskmodel.Actor{Kind: "agent", ID: "data-collector", Version: "2"},
		Reasoning: "the registry endpoint refused the connection twice",
		Trigger:   &taskmodel.Trigger{Kind: "agent_request", Source: "data-collector"},
	}

	written, err := store.AppendEntry(ctx, "task-4", entry)
	require.NoError(t, err)
	assert.NotEmpty(t, written.EntryID)

	events, err := store.List(ctx, "task-4")
	require.NoError(t, err)
	require.Len(t, events, 1)

	got := events[0]
	assert.Equal(t, written.EntryID, got.EntryID)
	assert.Equal(t, entry.Actor, got.Actor)
	assert.Equal(t, entry.Reasoning, got.Reasoning)
	require.NotNil(t, got.Trigger)
	assert.Equal(t, "agent_request", got.Trigger.Kind)
}

func TestStore_AppendDefaultsToSystemActor(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Append(ctx, "task-5", "phase_started", map[string]any{"phase_name": "x"})
	require.NoError(t, err)

	events, err := store.List(ctx, "task-5")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, taskmodel.SystemActor(), events[0].Actor)
	assert.Nil(t, events[0].Trigger)
}

func TestStore_TaskIndexFollowsAppends(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Append(ctx, "task-6", "task_created", map[string]any{"tenant_id": "tenant-a", "template_id": "onboarding"})
	require.NoError(t, err)
	_, err = store.Append(ctx, "task-6", "task_completed", nil)
	require.NoError(t, err)

	var status, tenantID string
	var latest int64
	err = store.DB().QueryRowContext(ctx,
		`SELECT status, tenant_id, latest_sequence FROM task_index WHERE task_id = $1`, "task-6",
	).Scan(&status, &tenantID, &latest)
	require.NoError(t, err)
	assert.Equal(t, "completed", status)
	assert.Equal(t, "tenant-a", tenantID)
	assert.Equal(t, int64(2), latest)

	ids, err := store.ListTaskIDs(ctx)
	require.NoError(t, err)
	assert.Contains(t, ids, "task-6")
}
