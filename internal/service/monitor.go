package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/sitsense/posture-agent/config"
	"github.com/sitsense/posture-agent/internal/domain/event"
	"github.com/sitsense/posture-agent/internal/domain/registry"
	"github.com/sitsense/posture-agent/internal/domain/state"
	"github.com/sitsense/posture-agent/internal/queue"
)

// Result is what every control-surface call returns. Callers are UI code
// that must degrade gracefully, so failures are values, never panics.
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// StatsComputer is the storage-facing aggregation boundary. The monitor
// treats it as opaque: "returns a stats object" is the whole contract.
type StatsComputer interface {
	Compute(ctx context.Context) (state.StatsSnapshot, error)
}

// Monitorer is the surface the detection pipeline and the UI shell see.
type Monitorer interface {
	// Inbound from the detection pipeline.
	RaiseAlert(ctx context.Context, durationSeconds int, ts time.Time)
	RaiseCorrection(ctx context.Context, previousDurationSeconds int, ts time.Time)
	RaiseCameraState(ctx context.Context, st event.CameraConnState, ts time.Time)
	RaiseError(ctx context.Context, message string, kind event.ErrorKind)
	RecordTelemetry(ctx context.Context, score float64, frameSeq uint64, ts time.Time)

	// Inbound from the UI/control context.
	Pause(ctx context.Context) Result
	Resume(ctx context.Context) Result
	Status(ctx context.Context) state.Snapshot
	CachedStats(ctx context.Context) (state.StatsSnapshot, error)
}

// Interface guard
var _ Monitorer = (*Monitor)(nil)

// Monitor is the explicitly constructed worker handle: it owns shared-state
// writes, fans domain events through the callback registry, and bridges
// them into the priority queue. Callers receive it at construction time —
// there is no process-wide singleton to look up.
type Monitor struct {
	store  *state.Store
	reg    *registry.Registry
	q      *queue.Queue
	cfg    *config.Config
	stats  StatsComputer
	logger *slog.Logger

	bindOnce sync.Once
	subs     []registry.Subscription
}

func NewMonitor(store *state.Store, reg *registry.Registry, q *queue.Queue, cfg *config.Config, stats StatsComputer, logger *slog.Logger) *Monitor {
	return &Monitor{
		store:  store,
		reg:    reg,
		q:      q,
		cfg:    cfg,
		stats:  stats,
		logger: logger,
	}
}

// BindQueue installs the producer glue: one subscriber per kind that
// forwards the event into the priority queue. The queue already logs its
// own drops, so the glue stays silent on backpressure.
func (m *Monitor) BindQueue() {
	m.bindOnce.Do(func() {
		for _, k := range event.Kinds() {
			sub := m.reg.Register(k, func(ev event.Event) {
				_ = m.q.Enqueue(context.Background(), ev)
			})
			m.subs = append(m.subs, sub)
		}
		m.logger.Info("QUEUE_BRIDGE_BOUND", "kinds", len(m.subs))
	})
}

// Shutdown tears the glue down. Registered UI callbacks go with it; this
// runs once, at process exit.
func (m *Monitor) Shutdown() {
	m.reg.UnregisterAll()
	m.q.Close()
}

// --- INBOUND: DETECTION PIPELINE ---

// RaiseAlert records sustained poor posture and fans the event out. State
// first, then notify: subscribers observing state mid-callback see the
// alert already latched.
func (m *Monitor) RaiseAlert(ctx context.Context, durationSeconds int, ts time.Time) {
	_ = m.store.Write(ctx, func(st *state.Mutable) {
		st.AlertActive = true
		st.AlertDurationSeconds = durationSeconds
	})
	m.reg.Notify(event.New(event.AlertPayload{
		DurationSeconds: durationSeconds,
		Timestamp:       ts,
	}))
}

func (m *Monitor) RaiseCorrection(ctx context.Context, previousDurationSeconds int, ts time.Time) {
	_ = m.store.Write(ctx, func(st *state.Mutable) {
		st.AlertActive = false
		st.AlertDurationSeconds = 0
	})
	m.reg.Notify(event.New(event.CorrectionPayload{
		PreviousDurationSeconds: previousDurationSeconds,
		Timestamp:               ts,
	}))
}

func (m *Monitor) RaiseCameraState(ctx context.Context, st event.CameraConnState, ts time.Time) {
	m.reg.Notify(event.New(event.CameraStatePayload{State: st, Timestamp: ts}))
}

func (m *Monitor) RaiseError(ctx context.Context, message string, kind event.ErrorKind) {
	m.reg.Notify(event.New(event.ErrorPayload{Message: message, Kind_: kind}))
}

func (m *Monitor) RecordTelemetry(ctx context.Context, score float64, frameSeq uint64, ts time.Time) {
	m.reg.Notify(event.New(event.TelemetryPayload{
		PostureScore: score,
		FrameSeq:     frameSeq,
		Timestamp:    ts,
	}))
}

// --- INBOUND: CONTROL SURFACE ---

// Pause suspends monitoring. Idempotent in the no-op-failure sense: pausing
// twice reports {false, "Already paused"} without firing a second
// status_change. The notify happens strictly after the state lock is
// released — holding it across the registry invites lock-ordering trouble.
func (m *Monitor) Pause(ctx context.Context) Result {
	already := false
	err := m.store.Write(ctx, func(st *state.Mutable) {
		if !st.MonitoringActive {
			already = true
			return
		}
		st.MonitoringActive = false
	})
	if err != nil {
		return Result{Success: false, Message: "state is busy, try again"}
	}
	if already {
		return Result{Success: false, Message: "Already paused"}
	}

	m.notifyStatus(false)
	m.logger.Info("MONITORING_PAUSED")
	return Result{Success: true, Message: "Monitoring paused"}
}

func (m *Monitor) Resume(ctx context.Context) Result {
	already := false
	err := m.store.Write(ctx, func(st *state.Mutable) {
		if st.MonitoringActive {
			already = true
			return
		}
		st.MonitoringActive = true
	})
	if err != nil {
		return Result{Success: false, Message: "state is busy, try again"}
	}
	if already {
		return Result{Success: false, Message: "Already running"}
	}

	m.notifyStatus(true)
	m.logger.Info("MONITORING_RESUMED")
	return Result{Success: true, Message: "Monitoring resumed"}
}

func (m *Monitor) notifyStatus(active bool) {
	m.reg.Notify(event.New(event.StatusChangePayload{
		MonitoringActive: active,
		ThresholdSeconds: m.cfg.AlertThresholdSeconds(),
	}))
}

// Status returns the current snapshot; on lock pressure this degrades to
// the last good snapshot inside the store, never an error.
func (m *Monitor) Status(ctx context.Context) state.Snapshot {
	return m.store.Read(ctx)
}

// CachedStats serves the TTL'd daily aggregate through the store's cache.
func (m *Monitor) CachedStats(ctx context.Context) (state.StatsSnapshot, error) {
	return m.store.ReadCachedStats(ctx, m.stats.Compute)
}
