package llmgateway

import (
	"context"
	"fmt"
	"io"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// serviceName and the two RPC paths form the wire contract between this
// client and the model-provider oracle process. No .proto file backs
// these — see jsonCodec — but the method names follow the same
// "/package.Service/Method" shape grpc expects from a generated stub.
const (
	serviceName    = "orchestrator.llmgateway.v1.LLMGateway"
	generateMethod = "/" + serviceName + "/Generate"
)

// GRPCClient implements Client over a gRPC connection to the model
// provider: a thin wrapper around *grpc.ClientConn plus
// request/response shape conversion.
type GRPCClient struct {
	conn *grpc.ClientConn
}

// Dial connects to addr using plaintext transport. The provider process
// is expected to run as a sidecar or on a trusted local network;
// upgrade to TLS credentials if that assumption ever changes.
func Dial(addr string) (*GRPCClient, error) {
	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(jsonCodecName)),
	)
	if err != nil {
		return nil, fmt.Errorf("dial LLM gateway at %s: %w", addr, err)
	}
	return &GRPCClient{conn: conn}, nil
}

func (c *GRPCClient) Close() error { return c.conn.Close() }

// wireRequest/wireChunk are the over-the-wire shapes for the JSON codec.
type wireRequest struct {
	TaskID    string           `json:"task_id"`
	RequestID string           `json:"request_id"`
	Model     string           `json:"model"`
	Messages  []wireMessage    `json:"messages"`
	Tools     []ToolDefinition `json:"tools,omitempty"`
}

type wireMessage struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolName   string     `json:"tool_name,omitempty"`
}

type wireChunk struct {
	Type      ChunkType `json:"type"`
	Content   string    `json:"content,omitempty"`
	CallID    string    `json:"call_id,omitempty"`
	Name      string    `json:"name,omitempty"`
	Arguments string    `json:"arguments,omitempty"`
	Usage     *Usage    `json:"usage,omitempty"`
	Message   string    `json:"message,omitempty"`
	Retryable bool      `json:"retryable,omitempty"`
	Final     bool      `json:"final,omitempty"`
}

func toWireRequest(req *Request) *wireRequest {
	wr := &wireRequest{
		TaskID:    req.TaskID,
		RequestID: req.RequestID,
		Model:     req.Model,
		Tools:     req.Tools,
	}
	for _, m := range req.Messages {
		wr.Messages = append(wr.Messages, wireMessage{
			Role:       m.Role,
			Content:    m.Content,
			ToolCalls:  m.ToolCalls,
			ToolCallID: m.ToolCallID,
			ToolName:   m.ToolName,
		})
	}
	return wr
}

func fromWireChunk(wc *wireChunk) Chunk {
	switch wc.Type {
	case ChunkTypeText:
		return &TextChunk{Content: wc.Content}
	case ChunkTypeThinking:
		return &ThinkingChunk{Content: wc.Content}
	case ChunkTypeToolCall:
		return &ToolCallChunk{CallID: wc.CallID, Name: wc.Name, Arguments: wc.Arguments}
	case ChunkTypeUsage:
		if wc.Usage == nil {
			return nil
		}
		return &UsageChunk{
			InputTokens:    wc.Usage.InputTokens,
			OutputTokens:   wc.Usage.OutputTokens,
			TotalTokens:    wc.Usage.TotalTokens,
			ThinkingTokens: wc.Usage.ThinkingTokens,
		}
	case ChunkTypeError:
		return &ErrorChunk{Message: wc.Message, Retryable: wc.Retryable}
	default:
		return nil
	}
}

// Stream opens a server-streaming RPC and translates each wire chunk
// into the Chunk variants callers expect.
func (c *GRPCClient) Stream(ctx context.Context, req *Request) (<-chan Chunk, error) {
	desc := &grpc.StreamDesc{ServerStreams: true}
	stream, err := c.conn.NewStream(ctx, desc, generateMethod)
	if err != nil {
		return nil, fmt.Errorf("open LLM gateway stream: %w", err)
	}
	if err := stream.SendMsg(toWireRequest(req)); err != nil {
		return nil, fmt.Errorf("send LLM gateway request: %w", err)
	}
	if err := stream.CloseSend(); err != nil {
		return nil, fmt.Errorf("close LLM gateway send side: %w", err)
	}

	out := make(chan Chunk, 32)
	go func() {
		defer close(out)
		for {
			var wc wireChunk
			err := stream.RecvMsg(&wc)
			if err == io.EOF {
				return
			}
			if err != nil {
				select {
				case out <- &ErrorChunk{Message: err.Error(), Retryable: false}:
				case <-ctx.Done():
				}
				return
			}
			if chunk := fromWireChunk(&wc); chunk != nil {
				select {
				case out <- chunk:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Complete drains Stream into a single accumulated Result.
func (c *GRPCClient) Complete(ctx context.Context, req *Request) (*Result, error) {
	chunks, err := c.Stream(ctx, req)
	if err != nil {
		return nil, err
	}
	return Drain(chunks)
}

// Drain accumulates a Chunk stream into a single Result, returning the
// first ErrorChunk encountered as a Go error. Exported so callers that
// obtained a stream some other way (e.g. a fake in tests) can reuse the
// same accumulation logic as Complete.
func Drain(chunks <-chan Chunk) (*Result, error) {
	result := &Result{}
	var toolCalls []ToolCall
	for chunk := range chunks {
		switch c := chunk.(type) {
		case *TextChunk:
			result.Content += c.Content
		case *ToolCallChunk:
			toolCalls = append(toolCalls, ToolCall{ID: c.CallID, Name: c.Name, Arguments: c.Arguments})
		case *UsageChunk:
			result.Usage = Usage{
				InputTokens:    c.InputTokens,
				OutputTokens:   c.OutputTokens,
				TotalTokens:    c.TotalTokens,
				ThinkingTokens: c.ThinkingTokens,
			}
		case *ErrorChunk:
			return nil, fmt.Errorf("llm gateway error: %s", c.Message)
		}
	}
	result.ToolCalls = toolCalls
	return result, nil
}
