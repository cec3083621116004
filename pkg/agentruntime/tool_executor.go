package agentruntime

import "context"

// ToolCall is one tool invocation an InstructionController wants to make.
// RequestID carries the subtask's request_id through to the backend so
// tools can honour at-least-once idempotency even though the call may
// be issued twice across a retry or a post-recovery redispatch.
type ToolCall struct {
	RequestID string
	CallID    string
	Name      string
	Arguments string // JSON
}

// ToolResult is the outcome of one ToolCall.
type ToolResult struct {
	CallID  string
	Name    string
	Content string
	IsError bool
}

// ToolDefinition describes one tool available to a controller, in the
// shape the LLM gateway's Request.Tools expects.
type ToolDefinition struct {
	Name             string
	Description      string
	ParametersSchema string
}

// ToolBackend is the subset of pkg/mcp's ToolExecutor a controller
// depends on, kept as an interface so unit tests can substitute a fake
// without standing up real MCP servers.
type ToolBackend interface {
	Execute(ctx context.Context, call ToolCall) (*ToolResult, error)
	ListTools(ctx context.Context) ([]ToolDefinition, error)
}

// ToolExecutor adapts a ToolBackend (in practice pkg/mcp's MCP-backed
// executor) for use by controllers, stamping each call with the
// subtask's request_id before it leaves the runtime.
type ToolExecutor struct {
	backend ToolBackend
}

// NewToolExecutor wraps backend for use by a Runtime's controllers.
func NewToolExecutor(backend ToolBackend) *ToolExecutor {
	return &ToolExecutor{backend: backend}
}

// Call executes one tool invocation on behalf of requestID.
func (t *ToolExecutor) Call(ctx context.Context, requestID string, call ToolCall) (*ToolResult, error) {
	if t == nil || t.backend == nil {
		return &ToolResult{Name: call.Name, Content: "no tool backend configured", IsError: true}, nil
	}
	call.RequestID = requestID
	return t.backend.Execute(ctx, call)
}

// ListTools returns every tool available to this executor.
func (t *ToolExecutor) ListTools(ctx context.Context) ([]ToolDefinition, error) {
	if t == nil || t.backend == nil {
		return nil, nil
	}
	return t.backend.ListTools(ctx)
}
