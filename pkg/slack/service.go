// Package slack posts and resolves urgent UI-request notifications: a
// task's dispatcher escalates a high-priority human-input gate here so
// someone outside the dashboard notices it, and the eventual
// response/cancellation/timeout is posted as a threaded reply to the
// original message.
package slack

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

// ServiceConfig holds the parameters needed to construct a Service.
type ServiceConfig struct {
	Token        string
	Channel      string
	DashboardURL string
}

// UIRequestOpenedInput contains data for an urgent UI-request
// notification.
type UIRequestOpenedInput struct {
	TaskID    string
	RequestID string
	Prompt    map[string]any
}

// UIRequestResolvedInput contains data for a UI request's terminal
// notification.
type UIRequestResolvedInput struct {
	TaskID     string
	RequestID  string
	Resolution string // responded, cancelled, timeout
	ThreadTS   string // cached from the opened notification
}

// Service handles Slack notification delivery.
// Nil-safe: all methods are no-ops when service is nil.
type Service struct {
	client       *Client
	dashboardURL string
	logger       *slog.Logger
}

// NewService creates a new Slack notification service.
// Returns nil if Token or Channel is empty.
func NewService(cfg ServiceConfig) *Service {
	if cfg.Token == "" || cfg.Channel == "" {
		return nil
	}
	return &Service{
		client:       NewClient(cfg.Token, cfg.Channel),
		dashboardURL: cfg.DashboardURL,
		logger:       slog.Default().With("component", "slack-service"),
	}
}

// NewServiceWithClient creates a Service backed by a pre-built Client.
// Useful for testing with a mock API server.
func NewServiceWithClient(client *Client, dashboardURL string) *Service {
	return &Service{
		client:       client,
		dashboardURL: dashboardURL,
		logger:       slog.Default().With("component", "slack-service"),
	}
}

// NotifyUIRequestOpened posts an urgent UI-request notification and
// returns the message's timestamp, so the caller (pkg/lifecycle) can
// cache it and thread the eventual resolution notification under it
// without a fingerprint search. Fail-open: errors are logged, never
// returned.
func (s *Service) NotifyUIRequestOpened(ctx context.Context, input UIRequestOpenedInput) string {
	if s == nil {
		return ""
	}

	blocks := BuildOpenedMessage(input.TaskID, input.RequestID, summarizePrompt(input.Prompt), s.dashboardURL)
	ts, err := s.client.PostMessage(ctx, blocks, "", 5*time.Second)
	if err != nil {
		s.logger.Error("Failed to send Slack UI-request notification",
			"task_id", input.TaskID,
			"request_id", input.RequestID,
			"error", err)
		return ""
	}
	return ts
}

// NotifyUIRequestResolved posts the request's terminal outcome,
// threaded under the opened notification when ThreadTS is known, or
// found by searching recent history for the request_id otherwise (the
// path a recovered process takes, having lost its in-memory ThreadTS
// cache on restart). Fail-open: errors are logged, never returned.
func (s *Service) NotifyUIRequestResolved(ctx context.Context, input UIRequestResolvedInput) {
	if s == nil {
		return
	}

	threadTS := input.ThreadTS
	if threadTS == "" {
		var err error
		threadTS, err = s.client.FindMessageByRequestID(ctx, input.RequestID)
		if err != nil {
			s.logger.Warn("Failed to find Slack thread for UI request",
				"task_id", input.TaskID,
				"request_id", input.RequestID,
				"error", err)
		}
	}

	blocks := BuildResolvedMessage(input.TaskID, input.Resolution, s.dashboardURL)
	if _, err := s.client.PostMessage(ctx, blocks, threadTS, 10*time.Second); err != nil {
		s.logger.Error("Failed to send Slack resolution notification",
			"task_id", input.TaskID,
			"request_id", input.RequestID,
			"resolution", input.Resolution,
			"error", err)
	}
}

// UIRequestOpened adapts NotifyUIRequestOpened to the rendezvous
// Notifier contract (taskID/requestID/prompt in, thread handle out).
func (s *Service) UIRequestOpened(ctx context.Context, taskID, requestID string, prompt map[string]any) string {
	return s.NotifyUIRequestOpened(ctx, UIRequestOpenedInput{
		TaskID:    taskID,
		RequestID: requestID,
		Prompt:    prompt,
	})
}

// UIRequestResolved adapts NotifyUIRequestResolved to the rendezvous
// Notifier contract.
func (s *Service) UIRequestResolved(ctx context.Context, taskID, requestID, resolution, thread string) {
	s.NotifyUIRequestResolved(ctx, UIRequestResolvedInput{
		TaskID:     taskID,
		RequestID:  requestID,
		Resolution: resolution,
		ThreadTS:   thread,
	})
}

// summarizePrompt renders a UI request's prompt payload as readable
// text. Most prompts carry a "question" field; anything else falls
// back to its raw JSON so the notification is never silently empty.
func summarizePrompt(prompt map[string]any) string {
	if q, ok := prompt["question"].(string); ok && q != "" {
		return q
	}
	raw, err := json.MarshalIndent(prompt, "", "  ")
	if err != nil || len(raw) == 0 {
		return "(no prompt details)"
	}
	return fmt.Sprintf("```%s```", string(raw))
}
