package pubsub

import (
	"context"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill/message"
)

// Diagnostic topics currently carried on the bus.
const (
	TopicTelemetry = "diagnostics.telemetry"
	TopicErrors    = "diagnostics.errors"
)

// DiagnosticsReader drains the diagnostics topics into debug logs. It is a
// reference subscriber: anything else (exporters, debug tooling) attaches
// to the same bus the same way.
type DiagnosticsReader struct {
	logger *slog.Logger
	sub    message.Subscriber
	cancel context.CancelFunc
	done   chan struct{}
}

func NewDiagnosticsReader(logger *slog.Logger, d Dispatcher) *DiagnosticsReader {
	return &DiagnosticsReader{
		logger: logger,
		sub:    d.Subscriber(),
		done:   make(chan struct{}),
	}
}

// Start subscribes to every diagnostics topic and drains them until Stop.
func (r *DiagnosticsReader) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	topics := []string{TopicTelemetry, TopicErrors}
	chans := make([]<-chan *message.Message, 0, len(topics))
	for _, topic := range topics {
		ch, err := r.sub.Subscribe(ctx, topic)
		if err != nil {
			cancel()
			return err
		}
		chans = append(chans, ch)
	}

	go r.drain(ctx, topics, chans)
	return nil
}

func (r *DiagnosticsReader) drain(ctx context.Context, topics []string, chans []<-chan *message.Message) {
	defer close(r.done)

	merged := make(chan *message.Message)
	for i, ch := range chans {
		go func(topic string, ch <-chan *message.Message) {
			for msg := range ch {
				select {
				case merged <- msg:
				case <-ctx.Done():
					msg.Ack()
					return
				}
			}
		}(topics[i], ch)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-merged:
			r.logger.Debug("DIAGNOSTIC_EVENT",
				"msg_id", msg.UUID,
				"payload", string(msg.Payload),
			)
			msg.Ack()
		}
	}
}

// Stop cancels the subscriptions and waits for the drain goroutine.
func (r *DiagnosticsReader) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	<-r.done
}
