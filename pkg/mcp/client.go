// Package mcp is the engine's tool chain: specialized agents invoke
// named external tools on MCP servers through it, with every call
// stamped with its subtask's request_id so at-least-once delivery stays
// idempotent downstream.
package mcp

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/codeready-toolchain/orchestrator/pkg/config"
	"github.com/codeready-toolchain/orchestrator/pkg/version"
)

// Client manages MCP SDK sessions for multiple tool servers on behalf
// of subtask executions. Thread-safe: a parallel phase's subtasks may
// call tools through the same Client from multiple goroutines.
type Client struct {
	registry *config.MCPServerRegistry
	limits   Limits

	mu            sync.RWMutex
	sessions      map[string]*mcpsdk.ClientSession // serverID → session
	clients       map[string]*mcpsdk.Client        // serverID → client (for reconnection)
	failedServers map[string]string                // serverID → error message

	// Tool cache (populated on first ListTools, invalidated only on
	// reconnect — tool servers don't grow tools mid-run, and a server
	// that did would surface them after its next connection drop anyway)
	toolCache   map[string][]*mcpsdk.Tool
	toolCacheMu sync.RWMutex

	// Per-server mutex for reconnection to prevent thundering herd
	reconnectMu sync.Map // serverID → *sync.Mutex

	logger *slog.Logger
}

// newClient creates a new Client with production limits.
func newClient(registry *config.MCPServerRegistry) *Client {
	return &Client{
		registry:      registry,
		limits:        DefaultLimits(),
		sessions:      make(map[string]*mcpsdk.ClientSession),
		clients:       make(map[string]*mcpsdk.Client),
		failedServers: make(map[string]string),
		toolCache:     make(map[string][]*mcpsdk.Tool),
		logger:        slog.Default(),
	}
}

// Initialize connects to all configured tool servers.
// Servers that fail to connect are recorded in failedServers.
// The caller decides whether failures are fatal:
//   - Startup (readiness probe): check FailedServers() and fail if non-empty
//   - Per-subtask: partial initialization is acceptable — an agent can
//     still work with the servers that did come up
//
// Always returns nil today; the error return is retained so the signature can
// evolve (e.g., returning an error when *all* servers fail) without breaking
// callers.
func (c *Client) Initialize(ctx context.Context, serverIDs []string) error {
	for _, serverID := range serverIDs {
		if err := c.Connect(ctx, serverID); err != nil {
			c.mu.Lock()
			c.failedServers[serverID] = err.Error()
			c.mu.Unlock()
			c.logger.Warn("Tool server failed to initialize",
				"server", serverID, "error", err)
		}
	}
	return nil
}

// Connect establishes the session for a single tool server.
// Returns nil if already connected. Used for lazy initialization and
// mid-call recovery. A per-server mutex serializes concurrent attempts
// from a parallel phase's subtasks.
func (c *Client) Connect(ctx context.Context, serverID string) error {
	muI, _ := c.reconnectMu.LoadOrStore(serverID, &sync.Mutex{})
	mu := muI.(*sync.Mutex)
	mu.Lock()
	defer mu.Unlock()

	return c.connectLocked(ctx, serverID)
}

// connectLocked performs the actual connection.
// Caller must hold the per-server reconnectMu lock.
func (c *Client) connectLocked(ctx context.Context, serverID string) error {
	// Check if already connected (under per-server lock, no TOCTOU race)
	c.mu.RLock()
	if _, exists := c.sessions[serverID]; exists {
		c.mu.RUnlock()
		return nil
	}
	c.mu.RUnlock()

	serverCfg, err := c.registry.Get(serverID)
	if err != nil {
		return fmt.Errorf("server %q not found in registry: %w", serverID, err)
	}

	transport, err := newTransport(serverCfg.Transport)
	if err != nil {
		return fmt.Errorf("failed to create transport for %q: %w", serverID, err)
	}

	initCtx, cancel := context.WithTimeout(ctx, c.limits.InitTimeout)
	defer cancel()

	client := mcpsdk.NewClient(&mcpsdk.Implementation{
		Name:    version.AppName,
		Version: version.GitCommit,
	}, nil)

	session, err := client.Connect(initCtx, transport, nil)
	if err != nil {
		// Close the transport if it implements io.Closer to avoid leaking
		// resources (e.g., stdio child processes). The SDK closes the
		// underlying connection on most failure paths, but this guards
		// against edge cases and future transport types.
		if closer, ok := transport.(io.Closer); ok {
			_ = closer.Close()
		}
		return fmt.Errorf("failed to connect to %q: %w", serverID, err)
	}

	c.mu.Lock()
	c.sessions[serverID] = session
	c.clients[serverID] = client
	delete(c.failedServers, serverID)
	c.mu.Unlock()

	c.logger.Info("Tool server connected", "server", serverID)
	return nil
}

// ListTools returns tools from a specific server. Uses cache if available.
func (c *Client) ListTools(ctx context.Context, serverID string) ([]*mcpsdk.Tool, error) {
	// Check cache first
	// Lock ordering: never acquire c.mu while holding toolCacheMu.
	c.toolCacheMu.RLock()
	if cached, ok := c.toolCache[serverID]; ok {
		c.toolCacheMu.RUnlock()
		return cached, nil
	}
	c.toolCacheMu.RUnlock()

	session, err := c.session(serverID)
	if err != nil {
		return nil, err
	}

	opCtx, cancel := context.WithTimeout(ctx, c.limits.OperationTimeout)
	defer cancel()

	result, err := session.ListTools(opCtx, nil)
	if err != nil {
		return nil, fmt.Errorf("list tools from %q: %w", serverID, err)
	}

	// Cache results (nil-guard: ensure we always cache a non-nil slice so
	// cache hits don't return nil to callers).
	tools := result.Tools
	if tools == nil {
		tools = []*mcpsdk.Tool{}
	}
	c.toolCacheMu.Lock()
	c.toolCache[serverID] = tools
	c.toolCacheMu.Unlock()

	return tools, nil
}

// ListAllTools returns tools from all connected servers.
// Returns partial results if some servers fail (logs errors, does not abort).
// Returns an error only when every server fails (no tools available at all).
func (c *Client) ListAllTools(ctx context.Context) (map[string][]*mcpsdk.Tool, error) {
	c.mu.RLock()
	serverIDs := make([]string, 0, len(c.sessions))
	for id := range c.sessions {
		serverIDs = append(serverIDs, id)
	}
	c.mu.RUnlock()

	result := make(map[string][]*mcpsdk.Tool)
	var lastErr error
	for _, id := range serverIDs {
		tools, err := c.ListTools(ctx, id)
		if err != nil {
			lastErr = err
			c.logger.Warn("Failed to list tools from tool server",
				"server", id, "error", err)
			continue
		}
		result[id] = tools
	}

	if len(result) == 0 && lastErr != nil {
		return nil, fmt.Errorf("all servers failed to list tools: %w", lastErr)
	}
	return result, nil
}

// CallTool executes one tool call on behalf of a subtask. requestID is
// the subtask's idempotency token: it is stamped into the arguments
// here, below the retry loop, so a reconnect-and-reissue carries the
// same token as the attempt the transport may or may not have
// delivered — exactly the duplicate a well-behaved tool must collapse.
// Transport-level failures are retried up to Limits.MaxRetries with a
// jittered pause and a fresh session; request-level failures are not.
func (c *Client) CallTool(ctx context.Context, serverID, toolName string, args map[string]any, requestID string) (*mcpsdk.CallToolResult, error) {
	if requestID != "" {
		if args == nil {
			args = map[string]any{}
		}
		if _, exists := args["request_id"]; !exists {
			args["request_id"] = requestID
		}
	}
	params := &mcpsdk.CallToolParams{
		Name:      toolName,
		Arguments: args,
	}

	var lastErr error
	for attempt := 0; ; attempt++ {
		result, err := c.callToolOnce(ctx, serverID, params)
		if err == nil {
			return result, nil
		}
		lastErr = err

		action := ClassifyError(err)
		if action == NoRetry || attempt >= c.limits.MaxRetries {
			break
		}

		c.logger.Info("Tool call failed, retrying under the same request_id",
			"server", serverID, "tool", toolName,
			"request_id", requestID, "action", action, "error", err)

		pause := c.limits.BackoffMin + time.Duration(rand.Int64N(int64(c.limits.BackoffMax-c.limits.BackoffMin)))
		select {
		case <-time.After(pause):
		case <-ctx.Done():
			return nil, ctx.Err()
		}

		if action == RetryNewSession {
			if err := c.reconnect(ctx, serverID); err != nil {
				return nil, fmt.Errorf("reconnect failed for %q: %w", serverID, err)
			}
		}
	}
	return nil, fmt.Errorf("call %q.%s (request %s): %w", serverID, toolName, requestID, lastErr)
}

// callToolOnce performs a single CallTool attempt.
func (c *Client) callToolOnce(ctx context.Context, serverID string, params *mcpsdk.CallToolParams) (*mcpsdk.CallToolResult, error) {
	session, err := c.session(serverID)
	if err != nil {
		return nil, err
	}

	opCtx, cancel := context.WithTimeout(ctx, c.limits.OperationTimeout)
	defer cancel()

	return session.CallTool(opCtx, params)
}

// session returns the live session for serverID or an error.
func (c *Client) session(serverID string) (*mcpsdk.ClientSession, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	session, exists := c.sessions[serverID]
	if !exists {
		return nil, fmt.Errorf("no session for server %q", serverID)
	}
	return session, nil
}

// reconnect tears down and re-establishes the session for a server.
// Uses the per-server mutex to prevent concurrent recreation.
//
// Note: if two subtasks race into reconnect, the second will
// unnecessarily tear down the freshly recreated session and create another.
// A staleness guard (checking if a session exists after lock) doesn't work
// here because the first caller also sees the broken session in the map.
// The cost is an extra reconnection, which is acceptable for simplicity.
// Future optimisation: a per-server generation counter (incremented on each
// reconnect) would let the second caller detect the session was already
// refreshed and skip re-creation. Worth adding if this becomes a hot path.
func (c *Client) reconnect(ctx context.Context, serverID string) error {
	muI, _ := c.reconnectMu.LoadOrStore(serverID, &sync.Mutex{})
	mu := muI.(*sync.Mutex)
	mu.Lock()
	defer mu.Unlock()

	// Close the existing session
	c.mu.Lock()
	if session, exists := c.sessions[serverID]; exists {
		_ = session.Close()
		delete(c.sessions, serverID)
		delete(c.clients, serverID)
	}
	c.mu.Unlock()

	// The cached tool list belonged to the dead connection
	c.InvalidateToolCache(serverID)

	reinitCtx, cancel := context.WithTimeout(ctx, c.limits.ReinitTimeout)
	defer cancel()

	return c.connectLocked(reinitCtx, serverID)
}

// Close shuts down all sessions and transports gracefully.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var firstErr error
	for id, session := range c.sessions {
		if err := session.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close session %q: %w", id, err)
		}
	}

	// Clear all state
	c.sessions = make(map[string]*mcpsdk.ClientSession)
	c.clients = make(map[string]*mcpsdk.Client)
	c.failedServers = make(map[string]string)

	// Lock ordering note: mu → toolCacheMu is safe here because no other
	// code path holds toolCacheMu while acquiring mu.
	c.toolCacheMu.Lock()
	c.toolCache = make(map[string][]*mcpsdk.Tool)
	c.toolCacheMu.Unlock()

	return firstErr
}

// InvalidateToolCache removes the cached tool list for a server,
// forcing the next ListTools call to re-probe the server.
// Lock ordering: never acquire c.mu while holding toolCacheMu.
func (c *Client) InvalidateToolCache(serverID string) {
	c.toolCacheMu.Lock()
	delete(c.toolCache, serverID)
	c.toolCacheMu.Unlock()
}

// HasSession checks if a server has an active session.
func (c *Client) HasSession(serverID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, exists := c.sessions[serverID]
	return exists
}

// FailedServers returns the map of servers that failed to initialize.
func (c *Client) FailedServers() map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	result := make(map[string]string, len(c.failedServers))
	for k, v := range c.failedServers {
		result[k] = v
	}
	return result
}
