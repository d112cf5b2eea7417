package event

import (
	"time"

	"github.com/google/uuid"
)

type Kind int16

const (
	Alert        Kind = iota + 1 // [CRITICAL] posture threshold exceeded
	Error                        // [CRITICAL] pipeline failure surfaced to the user
	StatusChange                 // [SYSTEM] monitoring paused/resumed
	CameraState                  // [SYSTEM] capture device transitions
	Correction                   // [BUSINESS] user fixed their posture
	Telemetry                    // [DIAGNOSTIC] high-frequency, low-value samples
)

func (k Kind) String() string {
	switch k {
	case Alert:
		return "alert"
	case Error:
		return "error"
	case StatusChange:
		return "status_change"
	case CameraState:
		return "camera_state"
	case Correction:
		return "correction"
	case Telemetry:
		return "telemetry"
	default:
		return "unknown"
	}
}

// Kinds lists every kind the producer glue bridges into the queue.
func Kinds() []Kind {
	return []Kind{Alert, Error, StatusChange, CameraState, Correction, Telemetry}
}

type Priority int32

const (
	PriorityLow      Priority = 10
	PriorityNormal   Priority = 20
	PriorityHigh     Priority = 30
	PriorityCritical Priority = 40
)

func (p Priority) String() string {
	switch p {
	case PriorityCritical:
		return "critical"
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return "normal"
	default:
		return "low"
	}
}

// PriorityOf returns the fixed kind-to-tier mapping. The mapping is not
// configurable: producers never choose a priority themselves.
func PriorityOf(k Kind) Priority {
	switch k {
	case Alert, Error:
		return PriorityCritical
	case StatusChange, CameraState:
		return PriorityHigh
	case Correction:
		return PriorityNormal
	default:
		return PriorityLow
	}
}

// Event is the immutable record flowing from the producer glue through the
// priority queue to the consumer loop. Consumed exactly once, never mutated.
//
// EnqueuedAt carries Go's monotonic clock reading and exists solely for
// latency measurement. Ordering correctness never depends on it.
type Event struct {
	ID         uuid.UUID
	Kind       Kind
	Priority   Priority
	EnqueuedAt time.Time
	Payload    Payload
}

// New stamps the record at the moment the producer glue hands it to the
// queue. The priority is derived, not caller-supplied.
func New(p Payload) Event {
	return Event{
		ID:         uuid.New(),
		Kind:       p.Kind(),
		Priority:   PriorityOf(p.Kind()),
		EnqueuedAt: time.Now(),
		Payload:    p,
	}
}

// Exportable marks payloads that are re-published to the in-process
// diagnostics bus after local dispatch. An empty topic skips publishing.
type Exportable interface {
	DiagnosticTopic() string
}
