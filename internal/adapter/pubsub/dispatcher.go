package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/sitsense/posture-agent/internal/domain/event"
)

// Dispatcher defines the high-level contract for exporting events to the
// in-process diagnostics bus. The consumer loop stays agnostic of the
// transport implementation (which here is a gochannel pub/sub, never a
// broker: this process has no network surface).
type Dispatcher interface {
	Publish(ctx context.Context, ev event.Event) error
	Subscriber() message.Subscriber
}

// envelope is the wire shape on the diagnostics bus.
type envelope struct {
	ID       string        `json:"id"`
	Kind     string        `json:"kind"`
	Priority string        `json:"priority"`
	Payload  event.Payload `json:"payload"`
}

// busDispatcher is the concrete implementation (private).
type busDispatcher struct {
	bus *gochannel.GoChannel
}

// NewGoChannelBus builds the process-local pub/sub fabric. Buffered output
// so a slow diagnostics reader never backs up into the consumer loop.
func NewGoChannelBus(logger *slog.Logger) *gochannel.GoChannel {
	return gochannel.NewGoChannel(
		gochannel.Config{OutputChannelBuffer: 64},
		watermill.NewSlogLogger(logger),
	)
}

func NewDispatcher(bus *gochannel.GoChannel) Dispatcher {
	return &busDispatcher{bus: bus}
}

// Publish exports ev to its payload's diagnostic topic. Payloads that do
// not implement event.Exportable, or that report an empty topic, are
// skipped silently.
func (d *busDispatcher) Publish(ctx context.Context, ev event.Event) error {
	exp, ok := ev.Payload.(event.Exportable)
	if !ok {
		return nil
	}
	topic := exp.DiagnosticTopic()
	if topic == "" {
		return nil
	}

	data, err := json.Marshal(envelope{
		ID:       ev.ID.String(),
		Kind:     ev.Kind.String(),
		Priority: ev.Priority.String(),
		Payload:  ev.Payload,
	})
	if err != nil {
		return fmt.Errorf("diagnostics dispatcher: marshal failure: %w", err)
	}

	msg := message.NewMessage(watermill.NewUUID(), data)
	msg.SetContext(ctx)

	if err := d.bus.Publish(topic, msg); err != nil {
		return fmt.Errorf("diagnostics dispatcher: publish to %s: %w", topic, err)
	}
	return nil
}

func (d *busDispatcher) Subscriber() message.Subscriber {
	return d.bus
}
