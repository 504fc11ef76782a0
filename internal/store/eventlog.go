package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/rendis/maestro/internal/streaming"
)

// AppendEvent appends an event with a monotonically increasing per-run
// sequence. The single pooled connection serializes writers, so reading
// MAX(sequence) inside the transaction is safe.
func (s *LibSQLStore) AppendEvent(ctx context.Context, event *Event) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var seq int64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) + 1 FROM run_events WHERE run_id = ?`, event.RunID,
	).Scan(&seq)
	if err != nil {
		return fmt.Errorf("get next sequence: %w", err)
	}
	event.Sequence = seq

	if event.Timestamp.IsZero() {
		event.Timestamp = s.now().UTC()
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO run_events (run_id, sequence, step, step_index, event_type, payload, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		event.RunID, seq, nullStr(event.Step), event.Index, event.Type, nullRaw(event.Payload), formatTime(event.Timestamp),
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		event.ID = id
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit event: %w", err)
	}
	return nil
}

// GetEvents returns events for a run with sequence > since, ordered by sequence.
func (s *LibSQLStore) GetEvents(ctx context.Context, runID string, since int64) ([]*Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, sequence, step, step_index, event_type, payload, timestamp
		 FROM run_events WHERE run_id = ? AND sequence > ? ORDER BY sequence ASC`, runID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		var (
			e       Event
			step    sql.NullString
			payload sql.NullString
			ts      string
		)
		if err := rows.Scan(&e.ID, &e.RunID, &e.Sequence, &step, &e.Index, &e.Type, &payload, &ts); err != nil {
			return nil, err
		}
		e.Step = step.String
		e.Payload = rawOrNil(payload)
		e.Timestamp = parseTime(ts)
		events = append(events, &e)
	}
	return events, rows.Err()
}

// EventRecorder persists events published on a streaming hub.
type EventRecorder struct {
	store  Store
	logger *slog.Logger
	wg     sync.WaitGroup
}

// NewEventRecorder creates a recorder writing into s.
func NewEventRecorder(s Store, logger *slog.Logger) *EventRecorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventRecorder{store: s, logger: logger}
}

// Record subscribes to hub and appends every matching event until ctx is
// done or the returned stop function is called. Stop waits for the
// consumer to drain what it has already received.
func (r *EventRecorder) Record(ctx context.Context, hub streaming.EventHub, filter streaming.EventFilter) (func(), error) {
	ch, unsubscribe, err := hub.Subscribe(ctx, filter)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for {
			select {
			case <-ctx.Done():
				r.drain(ch)
				return
			case evt := <-ch:
				r.append(evt)
			}
		}
	}()

	var once sync.Once
	stop := func() {
		once.Do(func() {
			unsubscribe()
			cancel()
			r.wg.Wait()
		})
	}
	return stop, nil
}

func (r *EventRecorder) drain(ch <-chan streaming.StreamEvent) {
	for {
		select {
		case evt := <-ch:
			r.append(evt)
		default:
			return
		}
	}
}

func (r *EventRecorder) append(evt streaming.StreamEvent) {
	var payload json.RawMessage
	if evt.Payload != nil {
		if b, err := json.Marshal(evt.Payload); err == nil {
			payload = b
		}
	}
	event := &Event{
		RunID:   evt.RunID,
		Step:    evt.Step,
		Index:   evt.Index,
		Type:    evt.EventType,
		Payload: payload,
	}
	if err := r.store.AppendEvent(context.Background(), event); err != nil {
		r.logger.Warn("record event failed",
			slog.String("run_id", evt.RunID), slog.String("event", evt.EventType), slog.String("error", err.Error()))
	}
}
