package tray

import (
	"log/slog"
	"time"

	"github.com/sitsense/posture-agent/internal/domain/event"
)

// Notifier is the outbound boundary to the desktop shell. The core defines
// only the call shape; how a toast or a tray icon is actually rendered is
// the shell's problem. Implementations run on the consumer loop's thread
// and must return quickly.
type Notifier interface {
	// Notify raises a user-visible notification for the event.
	Notify(ev event.Event, latency time.Duration)
	// UpdateIndicator refreshes passive UI state (tray icon, tooltip)
	// without raising a notification.
	UpdateIndicator(ev event.Event, latency time.Duration)
}

// Interface guard
var _ Notifier = (*SlogNotifier)(nil)

// SlogNotifier is the default sink: it renders nothing and logs everything.
// Useful headless and as the reference implementation of the contract.
type SlogNotifier struct {
	logger *slog.Logger
}

func NewSlogNotifier(logger *slog.Logger) *SlogNotifier {
	return &SlogNotifier{logger: logger}
}

func (n *SlogNotifier) Notify(ev event.Event, latency time.Duration) {
	n.logger.Info("NOTIFICATION",
		"kind", ev.Kind.String(),
		"event_id", ev.ID,
		"latency_ms", latency.Milliseconds(),
		"payload", ev.Payload,
	)
}

func (n *SlogNotifier) UpdateIndicator(ev event.Event, latency time.Duration) {
	n.logger.Debug("INDICATOR_UPDATED",
		"kind", ev.Kind.String(),
		"latency_ms", latency.Milliseconds(),
	)
}
