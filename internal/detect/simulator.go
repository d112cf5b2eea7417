package detect

import (
	"context"
	"log/slog"
	"math/rand"
	"time"

	"github.com/sitsense/posture-agent/config"
	"github.com/sitsense/posture-agent/internal/domain/event"
	"github.com/sitsense/posture-agent/internal/service"
)

// Simulator stands in for the real camera/classification pipeline. It
// exercises exactly the inbound surface the real pipeline would:
// RaiseAlert, RaiseCorrection, RaiseCameraState, RaiseError and
// RecordTelemetry. Everything else about posture detection stays out of
// this repository.
type Simulator struct {
	mon    service.Monitorer
	cfg    *config.Config
	logger *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

func NewSimulator(mon service.Monitorer, cfg *config.Config, logger *slog.Logger) *Simulator {
	return &Simulator{
		mon:    mon,
		cfg:    cfg,
		logger: logger,
		done:   make(chan struct{}),
	}
}

func (s *Simulator) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go s.run(ctx)
	s.logger.Info("SIMULATOR_STARTED")
}

func (s *Simulator) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	<-s.done
}

// run produces a plausible stream: ~10Hz telemetry with a random-walk
// posture score, slouch streaks that cross the alert threshold, the
// correction that ends them, and the occasional camera hiccup.
func (s *Simulator) run(ctx context.Context) {
	defer close(s.done)

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	score := 0.8
	frameSeq := uint64(0)
	slouchStart := time.Time{}
	alertRaised := false

	s.mon.RaiseCameraState(ctx, event.CameraConnected, time.Now())

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		frameSeq++
		score += (rng.Float64() - 0.5) * 0.08
		if score > 1 {
			score = 1
		}
		if score < 0 {
			score = 0
		}

		now := time.Now()
		s.mon.RecordTelemetry(ctx, score, frameSeq, now)

		slouching := score < 0.4
		switch {
		case slouching && slouchStart.IsZero():
			slouchStart = now

		case slouching && !alertRaised:
			// Simulated clock: one real second of slouch counts for sixty,
			// so the default 5-minute threshold trips within a demo run.
			elapsed := int(now.Sub(slouchStart).Seconds()) * 60
			if elapsed >= s.cfg.AlertThresholdSeconds() {
				s.mon.RaiseAlert(ctx, elapsed, now)
				alertRaised = true
			}

		case !slouching && !slouchStart.IsZero():
			if alertRaised {
				prev := int(now.Sub(slouchStart).Seconds()) * 60
				s.mon.RaiseCorrection(ctx, prev, now)
			}
			slouchStart = time.Time{}
			alertRaised = false
		}

		// Rare camera flaps keep the camera_state path warm.
		if rng.Intn(600) == 0 {
			s.mon.RaiseCameraState(ctx, event.CameraDegraded, now)
		} else if rng.Intn(2000) == 0 {
			s.mon.RaiseError(ctx, "simulated capture stall", event.ErrCamera)
		}
	}
}
