package mcp

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
)

// RecoveryAction determines how a failed tool operation is handled.
// Because every tool call carries its subtask's request_id, a retried
// attempt is recognizable downstream as the same logical side effect —
// retrying is safe where the transport failed, and pointless where the
// request itself was rejected.
type RecoveryAction int

const (
	// NoRetry — the error is not recoverable (bad request, auth
	// failure, timeout): the same call would fail the same way, so the
	// failure policy at the dispatcher level decides what happens to
	// the subtask.
	NoRetry RecoveryAction = iota
	// RetrySameSession — transient error, retry over the existing
	// connection (rate limit). Reserved: ClassifyError does not
	// currently return this value.
	RetrySameSession
	// RetryNewSession — the transport died under the call; reconnect
	// and reissue the same request_id-stamped call.
	RetryNewSession
)

// Limits bounds every suspension point a tool call can hit. One Limits
// value is shared by a Client and its health monitor; tests shrink the
// durations, production uses DefaultLimits.
type Limits struct {
	// InitTimeout caps one server's transport creation + MCP handshake.
	InitTimeout time.Duration

	// ReinitTimeout caps a mid-call reconnect during recovery.
	ReinitTimeout time.Duration

	// OperationTimeout is the per-call deadline for CallTool and
	// ListTools. Set conservatively: some tools are legitimately slow.
	// The subtask deadline is the hard ceiling above this.
	OperationTimeout time.Duration

	// MaxRetries is the number of retry attempts after the initial
	// failure of one tool call.
	MaxRetries int

	// BackoffMin/BackoffMax bound the jittered pause between retries.
	BackoffMin time.Duration
	BackoffMax time.Duration

	// HealthPingTimeout and HealthInterval drive the health monitor's
	// periodic ListTools probe.
	HealthPingTimeout time.Duration
	HealthInterval    time.Duration
}

// DefaultLimits returns the production tool-chain bounds.
func DefaultLimits() Limits {
	return Limits{
		InitTimeout:       30 * time.Second,
		ReinitTimeout:     10 * time.Second,
		OperationTimeout:  90 * time.Second,
		MaxRetries:        1,
		BackoffMin:        250 * time.Millisecond,
		BackoffMax:        750 * time.Millisecond,
		HealthPingTimeout: 5 * time.Second,
		HealthInterval:    15 * time.Second,
	}
}

// connectionErrorFragments are substrings that identify a dead
// transport when the error reaches us as unstructured text (stdio
// child process gone, TCP peer reset) rather than a typed sentinel.
var connectionErrorFragments = []string{
	"connection refused",
	"connection reset",
	"broken pipe",
	"connection closed",
	"no such host",
}

// ClassifyError maps a tool operation error to its recovery action.
func ClassifyError(err error) RecoveryAction {
	switch {
	case err == nil:
		return NoRetry

	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		// The subtask's own deadline or cancellation: never retried
		// here, the dispatcher owns what happens next.
		return NoRetry

	case isProtocolError(err):
		// The server understood the transport and rejected the request;
		// a fresh connection would reject it identically.
		return NoRetry

	case isConnectionError(err):
		return RetryNewSession
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return NoRetry // a slow server is not a dead server
		}
		return RetryNewSession
	}

	// Unknown errors are not safe to retry.
	return NoRetry
}

// isConnectionError detects connection-level transport failures.
func isConnectionError(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, fragment := range connectionErrorFragments {
		if strings.Contains(msg, fragment) {
			return true
		}
	}
	return false
}

// isProtocolError detects MCP JSON-RPC protocol errors from the SDK.
// Uses the SDK's typed jsonrpc.Error (WireError) with standard JSON-RPC
// 2.0 error codes rather than string matching.
func isProtocolError(err error) bool {
	var wireErr *jsonrpc.Error
	if !errors.As(err, &wireErr) {
		return false
	}
	switch wireErr.Code {
	case jsonrpc.CodeParseError,
		jsonrpc.CodeInvalidRequest,
		jsonrpc.CodeMethodNotFound,
		jsonrpc.CodeInvalidParams:
		return true
	default:
		return false
	}
}
