// Package planner turns a task's template and current data into an
// execution plan — a DAG of phases, each naming the agents it requires
// one subtask from — by asking
// the LLM gateway for a structured proposal and falling back to a
// conservative built-in plan whenever that proposal doesn't validate.
package planner

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/codeready-toolchain/orchestrator/pkg/llmgateway"
	"github.com/codeready-toolchain/orchestrator/pkg/registry"
	"github.com/codeready-toolchain/orchestrator/pkg/taskcontext"
	"github.com/codeready-toolchain/orchestrator/pkg/taskmodel"
)

// fallbackPlan is the conservative built-in plan used whenever the LLM's
// proposal fails validation: collect data, validate it, then finish.
// A deployment with no templates or agents configured still has
// something runnable.
func fallbackPlan() taskmodel.Plan {
	return taskmodel.Plan{
		Phases: []taskmodel.Phase{
			{Name: "data-collection", RequiredAgents: []string{"data-collector"}, Status: taskmodel.PhaseStatusPending},
			{Name: "validation", RequiredAgents: []string{"validator"}, Prerequisites: []string{"data-collection"}, Status: taskmodel.PhaseStatusPending},
			{Name: "completion", RequiredAgents: []string{"analyzer"}, Prerequisites: []string{"validation"}, Status: taskmodel.PhaseStatusPending},
		},
	}
}

// proposedPlan is the JSON shape asked of the model; ToPlan converts it
// to a taskmodel.Plan once validated.
type proposedPlan struct {
	Phases []struct {
		Name           string   `json:"name"`
		RequiredAgents []string `json:"required_agents"`
		Prerequisites  []string `json:"prerequisites"`
		Parallel       bool     `json:"parallel"`
	} `json:"phases"`
	Reasoning string `json:"reasoning"`
}

// Planner produces an execution plan for a task and records the
// decision (including a malformed proposal, if any) onto the task's
// event log.
type Planner struct {
	LLM      llmgateway.Client
	Registry *registry.Registry
}

// New returns a Planner bound to llm and reg.
func New(llm llmgateway.Client, reg *registry.Registry) *Planner {
	return &Planner{LLM: llm, Registry: reg}
}

// Plan asks the LLM gateway for a plan matching tmpl's goals and the
// task's current data, validates it against the registry and DAG
// well-formedness rules, falls back to the conservative built-in plan
// on any validation failure, and appends a plan_created event recording
// the outcome either way.
func (p *Planner) Plan(ctx context.Context, tc *taskcontext.Context, tmpl taskmodel.Template, data map[string]any) (*taskmodel.Plan, error) {
	req := &llmgateway.Request{
		TaskID:    tc.TaskID(),
		RequestID: tc.TaskID() + "-plan",
		Messages: []llmgateway.Message{
			{Role: llmgateway.RoleSystem, Content: planningSystemPrompt(p.Registry)},
			{Role: llmgateway.RoleUser, Content: planningUserPrompt(tmpl, data)},
		},
	}

	var (
		plan            taskmodel.Plan
		reasoning       string
		usedFallback    bool
		validationError string
		rawContent      string
	)

	result, err := p.LLM.Complete(ctx, req)
	if err != nil {
		usedFallback = true
		validationError = fmt.Sprintf("llm gateway error: %v", err)
	} else {
		rawContent = result.Content
		var proposal proposedPlan
		if err := llmgateway.CoerceJSON(result.Content, &proposal); err != nil {
			usedFallback = true
			validationError = fmt.Sprintf("parse proposal: %v", err)
		} else {
			candidate := toPlan(proposal)
			if verr := p.validate(candidate); verr != nil {
				usedFallback = true
				validationError = verr.Error()
			} else {
				plan = candidate
				reasoning = proposal.Reasoning
			}
		}
	}

	if usedFallback {
		plan = fallbackPlan()
	}

	eventData := map[string]any{
		"phases":        phasesAsMaps(plan.Phases),
		"used_fallback": usedFallback,
	}
	if reasoning != "" {
		eventData["reasoning"] = reasoning
	}
	if usedFallback {
		eventData["validation_error"] = validationError
		if rawContent != "" {
			eventData["rejected_proposal"] = rawContent
		}
	}

	if _, err := tc.Append(ctx, "plan_created", eventData); err != nil {
		return nil, fmt.Errorf("record plan_created: %w", err)
	}

	return &plan, nil
}

// phasesAsMaps flattens phases into the generic map shape every event
// payload uses, so the projection decodes the plan identically whether
// the event was read back from Postgres or straight from an in-process
// append.
func phasesAsMaps(phases []taskmodel.Phase) []any {
	out := make([]any, 0, len(phases))
	for _, ph := range phases {
		agents := make([]any, 0, len(ph.RequiredAgents))
		for _, a := range ph.RequiredAgents {
			agents = append(agents, a)
		}
		m := map[string]any{"name": ph.Name, "required_agents": agents}
		if len(ph.Prerequisites) > 0 {
			prereqs := make([]any, 0, len(ph.Prerequisites))
			for _, p := range ph.Prerequisites {
				prereqs = append(prereqs, p)
			}
			m["prerequisites"] = prereqs
		}
		if ph.Parallel {
			m["parallel"] = true
		}
		out = append(out, m)
	}
	return out
}

func toPlan(p proposedPlan) taskmodel.Plan {
	phases := make([]taskmodel.Phase, 0, len(p.Phases))
	for _, ph := range p.Phases {
		agents := make([]string, 0, len(ph.RequiredAgents))
		for _, a := range ph.RequiredAgents {
			if trimmed := strings.TrimSpace(a); trimmed != "" {
				agents = append(agents, trimmed)
			}
		}
		phases = append(phases, taskmodel.Phase{
			Name:           strings.TrimSpace(ph.Name),
			RequiredAgents: agents,
			Prerequisites:  ph.Prerequisites,
			Parallel:       ph.Parallel,
			Status:         taskmodel.PhaseStatusPending,
		})
	}
	return taskmodel.Plan{Phases: phases}
}

// validate enforces the plan well-formedness rules: every agent
// must exist in the registry, every prerequisite must reference a
// declared phase, and the prerequisite graph must be acyclic.
func (p *Planner) validate(plan taskmodel.Plan) error {
	if len(plan.Phases) == 0 {
		return fmt.Errorf("plan has no phases")
	}

	names := make(map[string]bool, len(plan.Phases))
	for _, ph := range plan.Phases {
		if ph.Name == "" {
			return fmt.Errorf("phase with empty name")
		}
		if names[ph.Name] {
			return fmt.Errorf("duplicate phase name %q", ph.Name)
		}
		names[ph.Name] = true
	}

	for _, ph := range plan.Phases {
		if len(ph.RequiredAgents) == 0 {
			return fmt.Errorf("phase %q: no required_agents", ph.Name)
		}
		seen := make(map[string]bool, len(ph.RequiredAgents))
		for _, agentID := range ph.RequiredAgents {
			if seen[agentID] {
				return fmt.Errorf("phase %q: duplicate required agent %q", ph.Name, agentID)
			}
			seen[agentID] = true
			if p.Registry != nil && !p.Registry.Has(agentID) {
				return fmt.Errorf("phase %q: unknown agent %q", ph.Name, agentID)
			}
		}
		for _, prereq := range ph.Prerequisites {
			if !names[prereq] {
				return fmt.Errorf("phase %q: prerequisite %q is not a declared phase", ph.Name, prereq)
			}
		}
	}

	if _, err := topologicalOrder(plan); err != nil {
		return err
	}
	return nil
}

// topologicalOrder runs Kahn's algorithm over the phase prerequisite
// graph, returning phase names in a valid execution order or an error
// if the graph contains a cycle. Used both by validate (acyclic check)
// and by the dispatcher to decide phase execution order.
func topologicalOrder(plan taskmodel.Plan) ([]string, error) {
	indegree := make(map[string]int, len(plan.Phases))
	dependents := make(map[string][]string, len(plan.Phases))
	for _, ph := range plan.Phases {
		if _, ok := indegree[ph.Name]; !ok {
			indegree[ph.Name] = 0
		}
		for _, prereq := range ph.Prerequisites {
			indegree[ph.Name]++
			dependents[prereq] = append(dependents[prereq], ph.Name)
		}
	}

	var ready []string
	for name, deg := range indegree {
		if deg == 0 {
			ready = append(ready, name)
		}
	}
	sort.Strings(ready)

	var order []string
	for len(ready) > 0 {
		n := ready[0]
		ready = ready[1:]
		order = append(order, n)

		var newlyReady []string
		for _, dep := range dependents[n] {
			indegree[dep]--
			if indegree[dep] == 0 {
				newlyReady = append(newlyReady, dep)
			}
		}
		sort.Strings(newlyReady)
		ready = append(ready, newlyReady...)
		sort.Strings(ready)
	}

	if len(order) != len(indegree) {
		return nil, fmt.Errorf("plan prerequisite graph contains a cycle")
	}
	return order, nil
}

// TopologicalOrder is the exported form of topologicalOrder, used by
// pkg/dispatcher to decide phase execution order from an already
// validated plan.
func TopologicalOrder(plan taskmodel.Plan) ([]string, error) {
	return topologicalOrder(plan)
}

func planningSystemPrompt(reg *registry.Registry) string {
	var b strings.Builder
	b.WriteString("You are the planning component of a task orchestration engine. ")
	b.WriteString("Given a task's goals and current data, propose an execution plan as a JSON object ")
	b.WriteString(`with the shape {"phases":[{"name":"...","required_agents":["..."],"prerequisites":["..."],"parallel":false}],"reasoning":"..."}. `)
	b.WriteString("Every required agent must be chosen from the catalog below; a phase with several required agents gets one subtask per agent, run concurrently when parallel is true. Every prerequisite must name another phase in the same plan. ")
	b.WriteString("Do not introduce cycles. Respond with only the JSON object.\n\nAvailable agents:\n")
	if reg != nil {
		for _, def := range reg.All() {
			fmt.Fprintf(&b, "- %s (capabilities: %s): %s\n", def.AgentID, strings.Join(def.Capabilities, ", "), def.Description)
		}
	}
	return b.String()
}

func planningUserPrompt(tmpl taskmodel.Template, data map[string]any) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Template: %s\n", tmpl.TemplateID)
	if len(tmpl.Goals) > 0 {
		fmt.Fprintf(&b, "Goals:\n- %s\n", strings.Join(tmpl.Goals, "\n- "))
	}
	if tmpl.SuccessCriteria != "" {
		fmt.Fprintf(&b, "Success criteria: %s\n", tmpl.SuccessCriteria)
	}
	if len(data) > 0 {
		fmt.Fprintf(&b, "Current task data keys: %s\n", strings.Join(mapKeys(data), ", "))
	}
	return b.String()
}

func mapKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
