package store

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/maestro/internal/streaming"
	"github.com/rendis/maestro/pkg/schema"
)

func TestAppendEvent_SequencePerRun(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, runID := range []string{"r1", "r2", "r1"} {
		require.NoError(t, s.AppendEvent(ctx, &Event{RunID: runID, Type: schema.EventStepStarted}))
	}

	r1, err := s.GetEvents(ctx, "r1", 0)
	require.NoError(t, err)
	require.Len(t, r1, 2)
	assert.Equal(t, int64(1), r1[0].Sequence)
	assert.Equal(t, int64(2), r1[1].Sequence)
	assert.False(t, r1[0].Timestamp.IsZero())

	since, err := s.GetEvents(ctx, "r1", 1)
	require.NoError(t, err)
	require.Len(t, since, 1)
	assert.Equal(t, int64(2), since[0].Sequence)
}

func TestAppendEvent_Concurrent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.AppendEvent(ctx, &Event{RunID: "busy", Type: "tick"}))
		}()
	}
	wg.Wait()

	events, err := s.GetEvents(ctx, "busy", 0)
	require.NoError(t, err)
	require.Len(t, events, 10)
	for i, e := range events {
		assert.Equal(t, int64(i+1), e.Sequence)
	}
}

func TestEventRecorder_PersistsHubEvents(t *testing.T) {
	s := newTestStore(t)
	hub := streaming.NewMemoryHub()
	rec := NewEventRecorder(s, slog.New(slog.NewTextHandler(io.Discard, nil)))

	stop, err := rec.Record(context.Background(), hub, streaming.EventFilter{RunID: "run-1"})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, hub.Publish(ctx, streaming.StreamEvent{RunID: "run-1", EventType: schema.EventRunStarted}))
	require.NoError(t, hub.Publish(ctx, streaming.StreamEvent{
		RunID: "run-1", Step: "build", Index: 0, EventType: schema.EventStepCompleted,
		Payload: map[string]any{"success": true},
	}))
	require.NoError(t, hub.Publish(ctx, streaming.StreamEvent{RunID: "other", EventType: schema.EventRunStarted}))
	stop()
	stop()

	events, err := s.GetEvents(ctx, "run-1", 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, schema.EventRunStarted, events[0].Type)
	assert.Equal(t, "build", events[1].Step)
	assert.JSONEq(t, `{"success": true}`, string(events[1].Payload))

	others, err := s.GetEvents(ctx, "other", 0)
	require.NoError(t, err)
	assert.Empty(t, others)
	assert.Zero(t, hub.Subscribers())
}
