package planner

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/orchestrator/pkg/llmgateway"
	"github.com/codeready-toolchain/orchestrator/pkg/registry"
	"github.com/codeready-toolchain/orchestrator/pkg/taskcontext"
	"github.com/codeready-toolchain/orchestrator/pkg/taskmodel"
)

// memStore is a minimal in-memory taskcontext.Store fake, mirroring the
// one pkg/rendezvous uses for the same purpose.
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
	return s.Append(ctx, taskID, operation, data)
}

func (s *memStore) List(ctx context.Context, taskID string) ([]taskmodel.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]taskmodel.Event(nil), s.events[taskID]...), nil
}

// fakeLLM returns a fixed Complete result or error, ignoring the request.
type fakeLLM struct {
	result *llmgateway.Result
	err    error
}

func (f *fakeLLM) Complete(ctx context.Context, req *llmgateway.Request) (*llmgateway.Result, error) {
	return f.result, f.err
}
func (f *fakeLLM) Stream(ctx context.Context, req *llmgateway.Request) (<-chan llmgateway.Chunk, error) {
	return nil, errors.New("not implemented")
}
func (f *fakeLLM) Close() error { return nil }

func testRegistry() *registry.Registry {
	r := registry.New()
	return r
}

func TestPlan_ValidProposalIsUsedVerbatim(t *testing.T) {
	store := newMemStore()
	tc := taskcontext.New(store, "task-1")
	llm := &fakeLLM{result: &llmgateway.Result{Content: `{
		"phases": [
			{"name": "gather", "required_agents": ["data-collector"]},
			{"name": "assess", "required_agents": ["analyzer"], "prerequisites": ["gather"]}
		],
		"reasoning": "collect then analyze"
	}`}}

	p := New(llm, testRegistry())
	plan, err := p.Plan(context.Background(), tc, taskmodel.Template{TemplateID: "demo"}, nil)
	require.NoError(t, err)
	require.Len(t, plan.Phases, 2)
	assert.Equal(t, "gather", plan.Phases[0].Name)
	assert.Equal(t, []string{"analyzer"}, plan.Phases[1].RequiredAgents)

	events, err := store.List(context.Background(), "task-1")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "plan_created", events[0].Operation)
	assert.Equal(t, false, events[0].Data["used_fallback"])
}

func TestPlan_UnknownAgentFallsBack(t *testing.T) {
	store := newMemStore()
	tc := taskcontext.New(store, "task-2")
	llm := &fakeLLM{result: &llmgateway.Result{Content: `{"phases":[{"name":"x","required_agents":["no-such-agent"]}]}`}}

	p := New(llm, testRegistry())
	plan, err := p.Plan(context.Background(), tc, taskmodel.Template{TemplateID: "demo"}, nil)
	require.NoError(t, err)
	assert.Equal(t, fallbackPlan(), *plan)

	events, err := store.List(context.Background(), "task-2")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, true, events[0].Data["used_fallback"])
	assert.NotEmpty(t, events[0].Data["validation_error"])
}

func TestPlan_CyclicPrerequisitesFallsBack(t *testing.T) {
	store := newMemStore()
	tc := taskcontext.New(store, "task-3")
	llm := &fakeLLM{result: &llmgateway.Result{Content: `{"phases":[
		{"name":"a","required_agents":["data-collector"],"prerequisites":["b"]},
		{"name":"b","required_agents":["analyzer"],"prerequisites":["a"]}
	]}`}}

	p := New(llm, testRegistry())
	plan, err := p.Plan(context.Background(), tc, taskmodel.Template{TemplateID: "demo"}, nil)
	require.NoError(t, err)
	assert.Equal(t, fallbackPlan(), *plan)
}

func TestPlan_LLMErrorFallsBack(t *testing.T) {
	store := newMemStore()
	tc := taskcontext.New(store, "task-4")
	llm := &fakeLLM{err: errors.New("gateway unavailable")}

	p := New(llm, testRegistry())
	plan, err := p.Plan(context.Background(), tc, taskmodel.Template{TemplateID: "demo"}, nil)
	require.NoError(t, err)
	assert.Equal(t, fallbackPlan(), *plan)
}

func TestTopologicalOrder_OrdersByPrerequisiteThenName(t *testing.T) {
	plan := taskmodel.Plan{Phases: []taskmodel.Phase{
		{Name: "c", Prerequisites: []string{"a", "b"}},
		{Name: "b", Prerequisites: []string{"a"}},
		{Name: "a"},
	}}
	order, err := TopologicalOrder(plan)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, order)
}

func TestTopologicalOrder_DetectsCycle(t *testing.T) {
	plan := taskmodel.Plan{Phases: []taskmodel.Phase{
		{Name: "a", Prerequisites: []string{"b"}},
		{Name: "b", Prerequisites: []string{"a"}},
	}}
	_, err := TopologicalOrder(plan)
	assert.Error(t, err)
}
