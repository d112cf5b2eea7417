package dash

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	ui "github.com/gizak/termui/v3"
	"github.com/gizak/termui/v3/widgets"
	"github.com/sitsense/posture-agent/internal/adapter/pubsub"
	"github.com/sitsense/posture-agent/internal/domain/event"
	"github.com/sitsense/posture-agent/internal/handler/tray"
	"github.com/sitsense/posture-agent/internal/queue"
	"github.com/sitsense/posture-agent/internal/service"
)

// Interface guard
var _ tray.Notifier = (*Dashboard)(nil)

// Dashboard is a terminal diagnostics view that doubles as the
// notification sink: dispatched events land on screen, and the p/r keys
// drive the same pause/resume control surface a tray menu would. It is a
// consumer of the core's outbound boundary, nothing more.
type Dashboard struct {
	mon    service.Monitorer
	q      *queue.Queue
	disp   pubsub.Dispatcher
	logger *slog.Logger

	mu      sync.Mutex
	recent  []string
	scores  []float64
	lastLat time.Duration
	started time.Time
}

func New(mon service.Monitorer, q *queue.Queue, disp pubsub.Dispatcher, logger *slog.Logger) *Dashboard {
	return &Dashboard{
		mon:     mon,
		q:       q,
		disp:    disp,
		logger:  logger,
		started: time.Now(),
	}
}

// --- tray.Notifier implementation (called from the consumer loop) ---

func (d *Dashboard) Notify(ev event.Event, latency time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()

	line := fmt.Sprintf("%s  %-13s %v", time.Now().Format("15:04:05"), ev.Kind.String(), ev.Payload)
	d.recent = append(d.recent, line)
	if len(d.recent) > 8 {
		d.recent = d.recent[len(d.recent)-8:]
	}
	d.lastLat = latency
}

func (d *Dashboard) UpdateIndicator(ev event.Event, latency time.Duration) {
	d.mu.Lock()
	d.lastLat = latency
	d.mu.Unlock()
}

// --- terminal loop ---

// Run owns the terminal until 'q' or ctx cancellation. Must be called on
// the command's goroutine after the fx app started.
func (d *Dashboard) Run(ctx context.Context) error {
	if err := ui.Init(); err != nil {
		return fmt.Errorf("dashboard: terminal init: %w", err)
	}
	defer ui.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Telemetry arrives over the diagnostics bus, same as any other
	// external diagnostics consumer would read it.
	telemetry, err := d.disp.Subscriber().Subscribe(ctx, pubsub.TopicTelemetry)
	if err != nil {
		return fmt.Errorf("dashboard: telemetry subscribe: %w", err)
	}

	status := widgets.NewParagraph()
	status.Title = " posture-agent "

	counters := widgets.NewParagraph()
	counters.Title = " queue "

	spark := widgets.NewSparkline()
	spark.MaxVal = 1.0
	sparkGroup := widgets.NewSparklineGroup(spark)
	sparkGroup.Title = " posture score "

	events := widgets.NewList()
	events.Title = " recent notifications "

	layout := func() {
		w, h := ui.TerminalDimensions()
		status.SetRect(0, 0, w/2, 7)
		counters.SetRect(w/2, 0, w, 7)
		sparkGroup.SetRect(0, 7, w, 14)
		events.SetRect(0, 14, w, h)
	}
	layout()

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	uiEvents := ui.PollEvents()

	for {
		select {
		case <-ctx.Done():
			return nil

		case msg := <-telemetry:
			d.recordScore(msg.Payload)
			msg.Ack()

		case e := <-uiEvents:
			switch e.ID {
			case "q", "<C-c>":
				return nil
			case "p":
				res := d.mon.Pause(ctx)
				d.logger.Info("DASHBOARD_PAUSE", "success", res.Success, "message", res.Message)
			case "r":
				res := d.mon.Resume(ctx)
				d.logger.Info("DASHBOARD_RESUME", "success", res.Success, "message", res.Message)
			case "<Resize>":
				layout()
			}

		case <-ticker.C:
			d.render(ctx, status, counters, spark, sparkGroup, events)
		}
	}
}

func (d *Dashboard) recordScore(payload []byte) {
	var env struct {
		Payload struct {
			PostureScore float64 `json:"posture_score"`
		} `json:"payload"`
	}
	if err := json.Unmarshal(payload, &env); err != nil {
		return
	}

	d.mu.Lock()
	d.scores = append(d.scores, env.Payload.PostureScore)
	if len(d.scores) > 120 {
		d.scores = d.scores[len(d.scores)-120:]
	}
	d.mu.Unlock()
}

func (d *Dashboard) render(ctx context.Context, status, counters *widgets.Paragraph, spark *widgets.Sparkline, sparkGroup *widgets.SparklineGroup, events *widgets.List) {
	snap := d.mon.Status(ctx)
	c := d.q.Counters()

	d.mu.Lock()
	spark.Data = append([]float64(nil), d.scores...)
	events.Rows = append([]string(nil), d.recent...)
	lastLat := d.lastLat
	d.mu.Unlock()

	running := "paused"
	if snap.MonitoringActive {
		running = "active"
	}
	alert := "ok"
	if snap.AlertActive {
		alert = fmt.Sprintf("ALERT (%ds)", snap.AlertDurationSeconds)
	}
	status.Text = fmt.Sprintf(
		"monitoring: %s\nposture:    %s\nuptime:     %s\nlatency:    %dms\n\n[p]ause [r]esume [q]uit",
		running, alert, time.Since(d.started).Round(time.Second), lastLat.Milliseconds(),
	)

	counters.Text = fmt.Sprintf(
		"depth:           %d\nproduced:        %d\ndropped full:    %d\ndropped timeout: %d\nevicted:         %d",
		d.q.Len(), c.Produced, c.DroppedFull, c.DroppedTimeout, c.Evicted,
	)

	ui.Render(status, counters, sparkGroup, events)
}
