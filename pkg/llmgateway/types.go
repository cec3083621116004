// Package llmgateway is the client the orchestrator and specialized
// agents share for sending a conversation to the backing model provider
// and getting back either a single completion or a stream of
// incremental chunks. The provider runs out of process (typically a
// sidecar) and is reached over gRPC; everything provider-specific —
// credentials, rate limits, model hosting — stays on the far side of
// that connection.
package llmgateway

import "context"

// Client is the interface every agent/planner call site depends on.
// Most callers only need Complete; Stream exists for controllers that
// want incremental thinking/text tokens as they arrive.
type Client interface {
	// Complete drains a full response into a single result. Internally
	// this is Stream plus an accumulation loop, not a separate RPC.
	Complete(ctx context.Context, req *Request) (*Result, error)

	// Stream sends req and returns a channel of Chunks, closed when the
	// model has finished responding. Errors surface as ErrorChunk
	// values on the channel, not as a returned error, since a stream
	// may deliver partial output before failing.
	Stream(ctx context.Context, req *Request) (<-chan Chunk, error)

	// Close releases the underlying connection.
	Close() error
}

// Request is the Go-side representation of one Generate call.
type Request struct {
	TaskID    string
	RequestID string
	Messages  []Message
	Tools     []ToolDefinition
	Model     string
}

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one turn of the conversation sent to the model.
type Message struct {
	Role       string
	Content    string
	ToolCalls  []ToolCall
	ToolCallID string
	ToolName   string
}

// ToolDefinition describes one tool available to the model for this call.
type ToolDefinition struct {
	Name             string
	Description      string
	ParametersSchema string // JSON Schema
}

// ToolCall is a model-issued request to invoke a tool.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string // JSON
}

// Result is the drained, single-shot response Complete returns.
type Result struct {
	Content   string
	ToolCalls []ToolCall
	Usage     Usage
}

// Usage aggregates token consumption for one Complete/Stream call.
type Usage struct {
	InputTokens    int
	OutputTokens   int
	TotalTokens    int
	ThinkingTokens int
}

// Chunk is the interface for all streaming chunk variants.
type Chunk interface{ chunkType() ChunkType }

// ChunkType identifies the kind of streaming chunk.
type ChunkType string

const (
	ChunkTypeText     ChunkType = "text"
	ChunkTypeThinking ChunkType = "thinking"
	ChunkTypeToolCall ChunkType = "tool_call"
	ChunkTypeUsage    ChunkType = "usage"
	ChunkTypeError    ChunkType = "error"
)

// TextChunk is a fragment of the model's text response.
type TextChunk struct{ Content string }

// ThinkingChunk is a fragment of the model's internal reasoning.
type ThinkingChunk struct{ Content string }

// ToolCallChunk signals the model wants to call a tool.
type ToolCallChunk struct{ CallID, Name, Arguments string }

// UsageChunk reports token consumption for the call.
type UsageChunk struct{ InputTokens, OutputTokens, TotalTokens, ThinkingTokens int }

// ErrorChunk signals an error from the model provider.
type ErrorChunk struct {
	Message   string
	Retryable bool
}

func (c *TextChunk) chunkType() ChunkType     { return ChunkTypeText }
func (c *ThinkingChunk) chunkType() ChunkType { return ChunkTypeThinking }
func (c *ToolCallChunk) chunkType() ChunkType { return ChunkTypeToolCall }
func (c *UsageChunk) chunkType() ChunkType    { return ChunkTypeUsage }
func (c *ErrorChunk) chunkType() ChunkType    { return ChunkTypeError }
