package agentruntime

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/codeready-toolchain/orchestrator/pkg/llmgateway"
)

// defaultMaxIterations bounds the tool-calling loop when an agent
// definition doesn't declare its own max_iterations, a guard against a
// runaway agent that never reaches a final answer.
const defaultMaxIterations = 8

// ToolCallingController is the one built-in InstructionController:
// a native tool-calling loop (model-issued structured ToolCalls, not
// text-parsed action sections) that runs until the model returns a
// response with no tool calls, which is then parsed as the agent's
// response envelope.
type ToolCallingController struct {
	MaxIterations int
}

// NewToolCallingController returns the default controller every
// built-in agent uses unless a future agent type needs a different
// strategy (scoring, synthesis, and so on would be additional
// InstructionController implementations, not variants of this one).
func NewToolCallingController() *ToolCallingController {
	return &ToolCallingController{MaxIterations: defaultMaxIterations}
}

type finalResponsePayload struct {
	Status     string         `json:"status"`
	Data       map[string]any `json:"data"`
	Reasoning  string         `json:"reasoning"`
	Confidence float64        `json:"confidence"`
	NextAgent  string         `json:"next_agent"`
	UIRequest  *struct {
		TemplateKind string         `json:"template_kind"`
		Priority     string         `json:"priority"`
		Prompt       map[string]any `json:"prompt"`
	} `json:"ui_request"`
}

// Run drives the tool-calling loop and translates the model's final
// JSON response into the envelope the dispatcher consumes.
func (c *ToolCallingController) Run(ctx context.Context, req *Request, deps *Dependencies) (*Response, error) {
	maxIter := deps.AgentDef.MaxIterations
	if maxIter <= 0 {
		maxIter = c.MaxIterations
	}

	messages := []llmgateway.Message{
		{Role: llmgateway.RoleSystem, Content: systemPrompt(deps)},
		{Role: llmgateway.RoleUser, Content: userPrompt(req)},
	}

	var tools []llmgateway.ToolDefinition
	if deps.Tools != nil {
		defs, err := deps.Tools.ListTools(ctx)
		if err != nil {
			return nil, fmt.Errorf("agent %s: list tools: %w", deps.AgentDef.AgentID, err)
		}
		for _, d := range defs {
			tools = append(tools, llmgateway.ToolDefinition{Name: d.Name, Description: d.Description, ParametersSchema: d.ParametersSchema})
		}
	}

	var usage llmgateway.Usage
	for iter := 0; iter < maxIter; iter++ {
		result, err := deps.LLM.Complete(ctx, &llmgateway.Request{
			TaskID:    req.TaskID,
			RequestID: req.RequestID,
			Messages:  messages,
			Tools:     tools,
		})
		if err != nil {
			return nil, fmt.Errorf("agent %s: llm call failed: %w", deps.AgentDef.AgentID, err)
		}
		usage = accumulateUsage(usage, result.Usage)

		if len(result.ToolCalls) == 0 {
			resp, err := parseFinalResponse(result.Content)
			if err != nil {
				return &Response{Status: StatusFailed, Error: fmt.Errorf("agent %s: %w", deps.AgentDef.AgentID, err), TokensUsed: usage}, nil
			}
			resp.TokensUsed = usage
			return resp, nil
		}

		messages = append(messages, llmgateway.Message{Role: llmgateway.RoleAssistant, Content: result.Content, ToolCalls: result.ToolCalls})
		for _, tc := range result.ToolCalls {
			toolResult, err := deps.Tools.Call(ctx, req.RequestID, ToolCall{CallID: tc.ID, Name: tc.Name, Arguments: tc.Arguments})
			content := ""
			switch {
			case err != nil:
				content = fmt.Sprintf("tool execution failed: %v", err)
			case toolResult != nil:
				content = toolResult.Content
			}
			messages = append(messages, llmgateway.Message{
				Role:       llmgateway.RoleTool,
				Content:    content,
				ToolCallID: tc.ID,
				ToolName:   tc.Name,
			})
		}
	}

	return &Response{
		Status:     StatusFailed,
		Error:      fmt.Errorf("agent %s: exceeded %d tool-calling iterations without a final response", deps.AgentDef.AgentID, maxIter),
		TokensUsed: usage,
	}, nil
}

func parseFinalResponse(content string) (*Response, error) {
	var payload finalResponsePayload
	if err := llmgateway.CoerceJSON(content, &payload); err != nil {
		return nil, fmt.Errorf("parse final response: %w", err)
	}

	status := Status(payload.Status)
	switch status {
	case StatusCompleted, StatusNeedsInput, StatusDelegated, StatusFailed:
	default:
		return nil, fmt.Errorf("contract violation: unrecognized status %q", payload.Status)
	}

	resp := &Response{
		Status:     status,
		Data:       payload.Data,
		Reasoning:  payload.Reasoning,
		Confidence: payload.Confidence,
		NextAgent:  payload.NextAgent,
	}
	if payload.UIRequest != nil {
		resp.UIRequest = &UIRequestSpec{
			TemplateKind: payload.UIRequest.TemplateKind,
			Priority:     payload.UIRequest.Priority,
			Prompt:       payload.UIRequest.Prompt,
		}
	}
	return resp, nil
}

func accumulateUsage(total, delta llmgateway.Usage) llmgateway.Usage {
	total.InputTokens += delta.InputTokens
	total.OutputTokens += delta.OutputTokens
	total.TotalTokens += delta.TotalTokens
	total.ThinkingTokens += delta.ThinkingTokens
	return total
}

func systemPrompt(deps *Dependencies) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are the %q agent: %s\n\n", deps.AgentDef.AgentID, deps.AgentDef.Description)
	b.WriteString(deps.AgentDef.Instruction)
	b.WriteString("\n\nUse the available tools as needed. When you are done, respond with only a JSON object of the form ")
	b.WriteString(`{"status":"completed|needs_input|delegated|failed","data":{...},"reasoning":"why you decided this","confidence":0.0,"next_agent":"...","ui_request":{"template_kind":"...","priority":"...","prompt":{...}}}. `)
	b.WriteString(`Use "completed" once your work is done and put your findings in "data". `)
	b.WriteString(`Use "needs_input" only when you genuinely need a human to answer something, and populate "ui_request". `)
	b.WriteString(`Use "delegated" to hand the task to a specific next agent named in "next_agent". `)
	b.WriteString("Omit fields that don't apply. Do not call a tool and return this JSON object in the same response.")
	return b.String()
}

func userPrompt(req *Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Phase: %s\n", req.PhaseName)
	if len(req.TaskData) > 0 {
		fmt.Fprintf(&b, "Task data keys: %s\n", strings.Join(sortedKeys(req.TaskData), ", "))
	}
	if len(req.ResponseData) > 0 {
		b.WriteString("This is a resumed invocation; a human has just responded with:\n")
		for _, k := range sortedKeys(req.ResponseData) {
			fmt.Fprintf(&b, "- %s: %v\n", k, req.ResponseData[k])
		}
	}
	return b.String()
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
