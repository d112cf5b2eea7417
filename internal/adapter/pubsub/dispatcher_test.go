package pubsub

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/sitsense/posture-agent/internal/domain/event"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestTelemetryPublishedToItsTopic(t *testing.T) {
	bus := NewGoChannelBus(testLogger())
	defer bus.Close()
	d := NewDispatcher(bus)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	msgs, err := d.Subscriber().Subscribe(ctx, TopicTelemetry)
	require.NoError(t, err)

	sent := event.New(event.TelemetryPayload{PostureScore: 0.9, FrameSeq: 3, Timestamp: time.Now()})
	require.NoError(t, d.Publish(ctx, sent))

	select {
	case msg := <-msgs:
		var env struct {
			ID      string `json:"id"`
			Kind    string `json:"kind"`
			Payload struct {
				PostureScore float64 `json:"posture_score"`
			} `json:"payload"`
		}
		require.NoError(t, json.Unmarshal(msg.Payload, &env))
		assert.Equal(t, sent.ID.String(), env.ID)
		assert.Equal(t, "telemetry", env.Kind)
		assert.Equal(t, 0.9, env.Payload.PostureScore)
		msg.Ack()
	case <-time.After(time.Second):
		t.Fatal("telemetry never arrived on the diagnostics bus")
	}
}

func TestNonExportablePayloadIsSkipped(t *testing.T) {
	bus := NewGoChannelBus(testLogger())
	defer bus.Close()
	d := NewDispatcher(bus)

	ctx := context.Background()
	sent := event.New(event.CorrectionPayload{PreviousDurationSeconds: 30, Timestamp: time.Now()})
	assert.NoError(t, d.Publish(ctx, sent), "non-exportable payloads are a silent no-op")
}

func TestErrorsLandOnErrorsTopic(t *testing.T) {
	bus := NewGoChannelBus(testLogger())
	defer bus.Close()
	d := NewDispatcher(bus)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	msgs, err := d.Subscriber().Subscribe(ctx, TopicErrors)
	require.NoError(t, err)

	sent := event.New(event.ErrorPayload{Message: "camera gone", Kind_: event.ErrCamera})
	require.NoError(t, d.Publish(ctx, sent))

	select {
	case msg := <-msgs:
		assert.Contains(t, string(msg.Payload), "camera gone")
		msg.Ack()
	case <-time.After(time.Second):
		t.Fatal("error event never arrived on the diagnostics bus")
	}
}
