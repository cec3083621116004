// Package agentruntime is the contract a dispatcher uses to invoke one
// agent definition against one request, and the response envelope that
// lets an agent complete, fail, delegate to another agent, or pause for
// human input. Execution strategy is a Controller keyed by the
// request's declared instruction — a closed set of operation variants,
// not an open polymorphism surface — so an unknown instruction is a
// first-class error, never a silent fallthrough.
package agentruntime

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/codeready-toolchain/orchestrator/pkg/llmgateway"
	"github.com/codeready-toolchain/orchestrator/pkg/registry"
)

// ErrUnknownInstruction marks a request whose instruction the agent
// cannot act on. Non-retryable: redispatching the same instruction can
// only fail the same way.
var ErrUnknownInstruction = errors.New("agentruntime: unknown instruction")

// ErrContractViolation marks an agent response that breaks the envelope
// contract (missing next_agent on delegation, missing ui_request on
// needs_input). Non-retryable for the same reason.
var ErrContractViolation = errors.New("agentruntime: contract violation")

// reasoningPlaceholder substitutes for an omitted reasoning field so
// audit entries are never silently empty.
const reasoningPlaceholder = "(agent provided no reasoning)"

// Status is the closed set of outcomes a subtask invocation can report.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusNeedsInput Status = "needs_input"
	StatusDelegated Status = "delegated"
	StatusFailed    Status = "failed"
	StatusTimedOut  Status = "timed_out"
	StatusCancelled Status = "cancelled"
)

// UIRequestSpec is what an agent emits when it needs human input; the
// dispatcher turns this into a rendezvous.Gate.Open call.
type UIRequestSpec struct {
	TemplateKind string
	Priority     string
	Prompt       map[string]any
}

// Request is everything one agent invocation needs: the declared
// instruction (selects the InstructionController), the accumulated task
// data visible to this subtask, and any UI-response data injected on a
// resumed invocation (resumption is always a fresh invocation, never a
// resumed stack, so that data arrives here, not via mutated shared
// state).
type Request struct {
	TaskID      string
	RequestID   string
	PhaseName   string
	Instruction string
	TaskData    map[string]any
	ResponseData map[string]any // non-nil only on a resumed invocation
}

// Response is the agent's response envelope.
type Response struct {
	Status     Status
	Data       map[string]any
	Reasoning  string
	Confidence float64
	NextAgent  string         // set only when Status == StatusDelegated
	UIRequest  *UIRequestSpec // set only when Status == StatusNeedsInput
	Error      error
	TokensUsed llmgateway.Usage
}

// InstructionController is the strategy interface every iteration
// pattern implements — tool loop, single-shot completion, scoring,
// synthesis, and so on.
type InstructionController interface {
	Run(ctx context.Context, req *Request, deps *Dependencies) (*Response, error)
}

// Dependencies bundles everything a controller needs to do its work:
// an agent never constructs its own LLM client or tool executor, it is
// handed one by the runtime, so tests can instantiate an independent
// runtime with stubbed gateways.
type Dependencies struct {
	LLM      llmgateway.Client
	Tools    *ToolExecutor
	AgentDef registry.Definition
}

// Runtime is the BaseAgent-equivalent: a thin shell that delegates to
// an InstructionController and classifies infrastructure-level failures
// into the envelope the dispatcher can act on uniformly, regardless of
// which controller ran.
type Runtime struct {
	controller InstructionController
}

// New returns a Runtime bound to controller. Panics on a nil
// controller — a registry/factory bug producing no controller is not
// something the caller can meaningfully recover from.
func New(controller InstructionController) *Runtime {
	if controller == nil {
		panic("agentruntime.New: controller must not be nil")
	}
	return &Runtime{controller: controller}
}

// Execute runs req through the bound controller, translating context
// cancellation/timeout into the matching terminal Status, and catching
// a controller bug that returns (nil, nil).
func (r *Runtime) Execute(ctx context.Context, req *Request, deps *Dependencies) (*Response, error) {
	if strings.TrimSpace(req.Instruction) == "" {
		return &Response{
			Status:    StatusFailed,
			Reasoning: reasoningPlaceholder,
			Error:     fmt.Errorf("%w: agent %s received an empty instruction", ErrUnknownInstruction, deps.AgentDef.AgentID),
		}, nil
	}

	result, err := r.controller.Run(ctx, req, deps)

	if err != nil {
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			return &Response{Status: StatusTimedOut, Error: err}, nil
		case errors.Is(err, context.Canceled):
			return &Response{Status: StatusCancelled, Error: err}, nil
		default:
			return &Response{Status: StatusFailed, Error: err}, nil
		}
	}

	if result == nil {
		return &Response{Status: StatusFailed, Error: fmt.Errorf("controller %T returned nil response", r.controller)}, nil
	}

	normalizeEnvelope(result)
	if err := validateEnvelope(result); err != nil {
		return &Response{Status: StatusFailed, Error: err}, nil
	}

	return result, nil
}

// normalizeEnvelope applies the lenient half of the contract: clamp
// out-of-range confidence and substitute a placeholder for omitted
// reasoning — execution is never blocked by omitted optional fields.
func normalizeEnvelope(resp *Response) {
	if resp.Confidence < 0 {
		resp.Confidence = 0
	}
	if resp.Confidence > 1 {
		resp.Confidence = 1
	}
	if strings.TrimSpace(resp.Reasoning) == "" {
		resp.Reasoning = reasoningPlaceholder
	}
}

// validateEnvelope enforces the strict half of the contract: a
// delegated response must name the next agent, and a needs_input
// response must carry a UI request to open.
func validateEnvelope(resp *Response) error {
	switch resp.Status {
	case StatusDelegated:
		if resp.NextAgent == "" {
			return fmt.Errorf("%w: delegated response missing next_agent", ErrContractViolation)
		}
	case StatusNeedsInput:
		if resp.UIRequest == nil {
			return fmt.Errorf("%w: needs_input response missing ui_request", ErrContractViolation)
		}
	}
	return nil
}
