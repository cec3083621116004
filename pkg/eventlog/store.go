// Package eventlog implements the task orchestration engine's append-only
// event store: events are appended under a per-task serialization
// guarantee, listed in sequence order, and streamed live to watchers via
// PostgreSQL LISTEN/NOTIFY. Persist and notify happen in one
// transaction, so a watcher is never woken for an event a reader cannot
// yet see.
package eventlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/codeready-toolchain/orchestrator/pkg/taskmodel"
)

// ErrConcurrentWrite is returned by AppendExpecting when another writer
// appended to the task between the caller's read and this write.
var ErrConcurrentWrite = errors.New("eventlog: concurrent write detected")

// NotifyChannel is the Postgres channel events are published on. Listeners
// filter by task_id inside the JSON payload rather than using one channel
// per task, so a single LISTEN connection serves every watcher.
const NotifyChannel = "orchestrator_events"

// notifyPayloadLimit mirrors Postgres's 8000-byte NOTIFY payload ceiling.
const notifyPayloadLimit = 8000

// Store is the append-only event log, backed directly by database/sql +
// pgx (no ORM/codegen layer — see DESIGN.md).
type Store struct {
	db *sql.DB
}

// Open connects to Postgres at dsn and ensures the schema is migrated.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{db: db}, nil
}

// NewWithDB wraps an already-open, already-migrated *sql.DB in a Store.
// Used by tests that need their own schema-isolated connection (see
// test/util.SetupTestDatabase) instead of dialing a fresh pool via Open.
func NewWithDB(db *sql.DB) *Store { return &Store{db: db} }

// Close releases the underlying connection pool.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the raw pool for health checks and other packages (e.g.
// pkg/lifecycle) that need the same connection without duplicating pool
// configuration.
func (s *Store) DB() *sql.DB { return s.db }

// Append writes the next event for taskID with a system actor and no
// reasoning — the convenience path for routine bookkeeping entries.
func (s *Store) Append(ctx context.Context, taskID, operation string, data map[string]any) (taskmodel.Event, error) {
	return s.appendLocked(ctx, taskID, taskmodel.Entry{
		Operation: operation,
		Data:      data,
		Actor:     taskmodel.SystemActor(),
	}, nil)
}

// AppendEntry writes the next event for taskID with the caller's full
// entry: actor, reasoning, and trigger included.
func (s *Store) AppendEntry(ctx context.Context, taskID string, entry taskmodel.Entry) (taskmodel.Event, error) {
	return s.appendLocked(ctx, taskID, entry, nil)
}

// AppendExpecting behaves like Append but fails with ErrConcurrentWrite
// if the task's current tail sequence does not equal expectedTail, for
// callers on the optimistic-concurrency path: reload, reconcile, retry.
func (s *Store) AppendExpecting(ctx context.Context, taskID, operation string, data map[string]any, expectedTail int64) (taskmodel.Event, error) {
	return s.appendLocked(ctx, taskID, taskmodel.Entry{
		Operation: operation,
		Data:      data,
		Actor:     taskmodel.SystemActor(),
	}, &expectedTail)
}

func (s *Store) appendLocked(ctx context.Context, taskID string, entry taskmodel.Entry, expectedTail *int64) (taskmodel.Event, error) {
	var ev taskmodel.Event

	if entry.Actor == (taskmodel.Actor{}) {
		entry.Actor = taskmodel.SystemActor()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ev, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var tail sql.NullInt64
	// FOR UPDATE serializes concurrent appenders to the same task; a
	// second writer simply waits for this transaction to commit rather
	// than being skipped, unlike the SKIP LOCKED claim idiom used for
	// picking up queued work.
	row := tx.QueryRowContext(ctx,
		`SELECT max(sequence_number) FROM events WHERE task_id = $1 FOR UPDATE`, taskID)
	if err := row.Scan(&tail); err != nil {
		return ev, fmt.Errorf("lock task tail: %w", err)
	}

	current := tail.Int64 // zero value when no rows exist yet
	if expectedTail != nil && current != *expectedTail {
		return ev, ErrConcurrentWrite
	}

	next := current + 1
	payload, err := json.Marshal(entry.Data)
	if err != nil {
		return ev, fmt.Errorf("marshal event data: %w", err)
	}
	actorJSON, err := json.Marshal(entry.Actor)
	if err != nil {
		return ev, fmt.Errorf("marshal event actor: %w", err)
	}
	var triggerJSON []byte
	if entry.Trigger != nil {
		triggerJSON, err = json.Marshal(entry.Trigger)
		if err != nil {
			return ev, fmt.Errorf("marshal event trigger: %w", err)
		}
	}

	entryID := uuid.NewString()
	var recordedAt time.Time
	err = tx.QueryRowContext(ctx,
		`INSERT INTO events (entry_id, task_id, sequence_number, operation, actor, data, reasoning, trigger_info)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING recorded_at`,
		entryID, taskID, next, entry.Operation, actorJSON, payload, entry.Reasoning, nullableJSON(triggerJSON),
	).Scan(&recordedAt)
	if err != nil {
		return ev, fmt.Errorf("insert event: %w", err)
	}

	ev = taskmodel.Event{
		EntryID:        entryID,
		TaskID:         taskID,
		SequenceNumber: next,
		Operation:      entry.Operation,
		Actor:          entry.Actor,
		Data:           entry.Data,
		Reasoning:      entry.Reasoning,
		Trigger:        entry.Trigger,
		RecordedAt:     recordedAt,
	}

	if err := s.updateIndex(ctx, tx, ev); err != nil {
		return ev, fmt.Errorf("update task index: %w", err)
	}

	if err := s.notify(ctx, tx, ev); err != nil {
		return ev, fmt.Errorf("notify: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return ev, fmt.Errorf("commit append: %w", err)
	}
	return ev, nil
}

func nullableJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}

// updateIndex maintains the task_index row in the same transaction as
// the event insert, so index readers never observe a sequence the event
// table doesn't have. Status only moves on status-bearing operations;
// every append advances latest_sequence and updated_at.
func (s *Store) updateIndex(ctx context.Context, tx *sql.Tx, ev taskmodel.Event) error {
	status := statusFromOperation(ev.Operation)
	tenantID, _ := ev.Data["tenant_id"].(string)
	templateID, _ := ev.Data["template_id"].(string)

	_, err := tx.ExecContext(ctx,
		`INSERT INTO task_index (task_id, tenant_id, template_id, status, latest_sequence, updated_at)
		 VALUES ($1, $2, $3, COALESCE(NULLIF($4, ''), 'created'), $5, now())
		 ON CONFLICT (task_id) DO UPDATE SET
		   status = COALESCE(NULLIF($4, ''), task_index.status),
		   tenant_id = COALESCE(NULLIF($2, ''), task_index.tenant_id),
		   template_id = COALESCE(NULLIF($3, ''), task_index.template_id),
		   latest_sequence = $5,
		   updated_at = now()`,
		ev.TaskID, tenantID, templateID, status, ev.SequenceNumber)
	return err
}

// statusFromOperation maps status-bearing operations to the index's
// status column; other operations return "" and leave status unchanged.
func statusFromOperation(op string) string {
	switch op {
	case "task_created":
		return string(taskmodel.TaskStatusActive)
	case "task_waiting_for_input", "ui_request_created":
		return string(taskmodel.TaskStatusWaiting)
	case "ui_response_received", "ui_request_cancelled":
		// The projector derives whether other requests remain open;
		// the index optimistically returns to active and is corrected
		// by the next ui_request_created if not.
		return string(taskmodel.TaskStatusActive)
	case "task_completed":
		return string(taskmodel.TaskStatusCompleted)
	case "task_failed":
		return string(taskmodel.TaskStatusFailed)
	case "task_cancelled":
		return string(taskmodel.TaskStatusCancelled)
	default:
		return ""
	}
}

func (s *Store) notify(ctx context.Context, tx *sql.Tx, ev taskmodel.Event) error {
	notification := map[string]any{
		"task_id":         ev.TaskID,
		"sequence_number": ev.SequenceNumber,
		"operation":       ev.Operation,
	}
	payload, err := json.Marshal(notification)
	if err != nil {
		return err
	}
	payload = truncateIfNeeded(payload)

	_, err = tx.ExecContext(ctx, `SELECT pg_notify($1, $2)`, NotifyChannel, string(payload))
	return err
}

// truncateIfNeeded drops the notification to a minimal "something
// changed, go reload" shape if it would exceed Postgres's payload limit.
// Watchers that receive a truncated notification always fall back to
// List/ListSince for the authoritative data, so truncation never loses
// information, only the optimization of avoiding a reload.
func truncateIfNeeded(payload []byte) []byte {
	if len(payload) <= notifyPayloadLimit {
		return payload
	}
	var partial struct {
		TaskID string `json:"task_id"`
	}
	_ = json.Unmarshal(payload, &partial)
	minimal, _ := json.Marshal(map[string]any{"task_id": partial.TaskID, "truncated": true})
	return minimal
}

// List returns every event recorded for taskID in sequence order.
func (s *Store) List(ctx context.Context, taskID string) ([]taskmodel.Event, error) {
	return s.ListSince(ctx, taskID, 0)
}

// ListSince returns events for taskID with sequence_number > afterSeq,
// the incremental-reload primitive watchers use on reconnect.
func (s *Store) ListSince(ctx context.Context, taskID string, afterSeq int64) ([]taskmodel.Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT entry_id, sequence_number, operation, actor, data, reasoning, trigger_info, recorded_at FROM events
		 WHERE task_id = $1 AND sequence_number > $2 ORDER BY sequence_number ASC`,
		taskID, afterSeq,
	)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []taskmodel.Event
	for rows.Next() {
		var ev taskmodel.Event
		var rawActor, rawData []byte
		var rawTrigger []byte
		if err := rows.Scan(&ev.EntryID, &ev.SequenceNumber, &ev.Operation, &rawActor, &rawData, &ev.Reasoning, &rawTrigger, &ev.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if err := json.Unmarshal(rawActor, &ev.Actor); err != nil {
			return nil, fmt.Errorf("unmarshal event actor: %w", err)
		}
		if err := json.Unmarshal(rawData, &ev.Data); err != nil {
			return nil, fmt.Errorf("unmarshal event data: %w", err)
		}
		if len(rawTrigger) > 0 {
			ev.Trigger = &taskmodel.Trigger{}
			if err := json.Unmarshal(rawTrigger, ev.Trigger); err != nil {
				return nil, fmt.Errorf("unmarshal event trigger: %w", err)
			}
		}
		ev.TaskID = taskID
		events = append(events, ev)
	}
	return events, rows.Err()
}

// ListTaskIDs returns every task_id with at least one recorded event,
// for the lifecycle manager's startup recovery scan. Ordering is
// unspecified; callers project each task independently.
func (s *Store) ListTaskIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT task_id FROM task_index`)
	if err != nil {
		return nil, fmt.Errorf("list task ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan task id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// LastRecordedAt returns the wall-clock time of taskID's most recent
// event, used by recovery to decide whether a non-terminal task is
// still within the recovery window or should be force-failed.
func (s *Store) LastRecordedAt(ctx context.Context, taskID string) (time.Time, error) {
	var t time.Time
	err := s.db.QueryRowContext(ctx,
		`SELECT max(recorded_at) FROM events WHERE task_id = $1`, taskID,
	).Scan(&t)
	if err != nil {
		return time.Time{}, fmt.Errorf("last recorded at: %w", err)
	}
	return t, nil
}

// Tail returns the current highest sequence number for taskID, or 0 if
// the task has no events yet.
func (s *Store) Tail(ctx context.Context, taskID string) (int64, error) {
	var tail sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT max(sequence_number) FROM events WHERE task_id = $1`, taskID,
	).Scan(&tail)
	if err != nil {
		return 0, fmt.Errorf("query tail: %w", err)
	}
	return tail.Int64, nil
}
