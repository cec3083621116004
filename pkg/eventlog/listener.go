package eventlog

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// TaskNotification is delivered to Watch subscribers whenever new events
// land for their task, or when the notification had to be truncated and
// only task_id survives (see truncateIfNeeded); subscribers always treat
// a notification as "reload from SequenceAfter", never as authoritative
// event content.
type TaskNotification struct {
	TaskID    string
	Truncated bool
}

// watchRequest registers interest in a single task's channel.
type watchRequest struct {
	taskID string
	ch     chan TaskNotification
}

// Listener runs a single dedicated LISTEN connection and fans out
// decoded notifications to per-task subscriber channels: one long-lived
// pgx.Conn, a single receive-loop goroutine, and a command channel so
// subscribe/unsubscribe never race the receive loop directly.
type Listener struct {
	dsn string

	mu          sync.Mutex
	subscribers map[string][]chan TaskNotification
	generation  map[string]int

	subscribeCh   chan watchRequest
	unsubscribeCh chan watchRequest
	done          chan struct{}
}

// NewListener creates a Listener that will connect to dsn when Run starts.
func NewListener(dsn string) *Listener {
	return &Listener{
		dsn:           dsn,
		subscribers:   make(map[string][]chan TaskNotification),
		generation:    make(map[string]int),
		subscribeCh:   make(chan watchRequest),
		unsubscribeCh: make(chan watchRequest),
		done:          make(chan struct{}),
	}
}

// Subscribe registers ch to receive notifications for taskID until
// Unsubscribe is called with the same channel. The channel is buffered
// by the caller; Listener never blocks trying to deliver — a full
// channel just drops the notification, since subscribers always reload
// authoritatively via ListSince rather than trusting delivery.
func (l *Listener) Subscribe(taskID string, ch chan TaskNotification) {
	select {
	case l.subscribeCh <- watchRequest{taskID: taskID, ch: ch}:
	case <-l.done:
	}
}

// Unsubscribe removes ch from taskID's subscriber list.
func (l *Listener) Unsubscribe(taskID string, ch chan TaskNotification) {
	select {
	case l.unsubscribeCh <- watchRequest{taskID: taskID, ch: ch}:
	case <-l.done:
	}
}

// Run connects and processes LISTEN notifications until ctx is
// cancelled, reconnecting with exponential backoff on connection loss.
func (l *Listener) Run(ctx context.Context) error {
	defer close(l.done)

	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		conn, err := pgx.Connect(ctx, l.dsn)
		if err != nil {
			slog.Warn("eventlog listener connect failed, retrying", "error", err, "backoff", backoff)
			if !sleepOrDone(ctx, backoff) {
				return ctx.Err()
			}
			backoff = nextBackoff(backoff, maxBackoff)
			continue
		}

		if _, err := conn.Exec(ctx, "LISTEN "+NotifyChannel); err != nil {
			slog.Warn("eventlog listener LISTEN failed, retrying", "error", err)
			conn.Close(ctx)
			if !sleepOrDone(ctx, backoff) {
				return ctx.Err()
			}
			backoff = nextBackoff(backoff, maxBackoff)
			continue
		}

		backoff = time.Second
		if err := l.receiveLoop(ctx, conn); err != nil {
			slog.Warn("eventlog listener receive loop ended, reconnecting", "error", err)
		}
		conn.Close(ctx)
	}
}

func (l *Listener) receiveLoop(ctx context.Context, conn *pgx.Conn) error {
	notifyCh := make(chan *pgconn.Notification, 64)
	errCh := make(chan error, 1)

	go func() {
		for {
			n, err := conn.WaitForNotification(ctx)
			if err != nil {
				errCh <- err
				return
			}
			select {
			case notifyCh <- n:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errCh:
			return err
		case n := <-notifyCh:
			l.dispatch(n.Payload)
		case req := <-l.subscribeCh:
			l.addSubscriber(req.taskID, req.ch)
		case req := <-l.unsubscribeCh:
			l.removeSubscriber(req.taskID, req.ch)
		}
	}
}

func (l *Listener) addSubscriber(taskID string, ch chan TaskNotification) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.subscribers[taskID] = append(l.subscribers[taskID], ch)
	l.generation[taskID]++
}

func (l *Listener) removeSubscriber(taskID string, ch chan TaskNotification) {
	l.mu.Lock()
	defer l.mu.Unlock()
	list := l.subscribers[taskID]
	for i, existing := range list {
		if existing == ch {
			l.subscribers[taskID] = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(l.subscribers[taskID]) == 0 {
		delete(l.subscribers, taskID)
		delete(l.generation, taskID)
	}
}

func (l *Listener) dispatch(payload string) {
	var decoded struct {
		TaskID    string `json:"task_id"`
		Truncated bool   `json:"truncated"`
	}
	if err := json.Unmarshal([]byte(payload), &decoded); err != nil {
		slog.Warn("eventlog listener: malformed notification payload", "error", err)
		return
	}

	l.mu.Lock()
	subs := append([]chan TaskNotification(nil), l.subscribers[decoded.TaskID]...)
	l.mu.Unlock()

	notification := TaskNotification{TaskID: decoded.TaskID, Truncated: decoded.Truncated}
	for _, ch := range subs {
		select {
		case ch <- notification:
		default:
		}
	}
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func nextBackoff(current, max time.Duration) time.Duration {
	next := current * 2
	if next > max {
		return max
	}
	return next
}
