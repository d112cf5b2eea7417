package event

import "time"

// Payload is a closed sum over the per-kind payload shapes. One concrete
// struct per kind keeps the field set compile-time checked instead of the
// untyped key-value bags a dynamic runtime would tolerate.
type Payload interface {
	Kind() Kind
}

// [GUARDS]
var (
	_ Payload    = AlertPayload{}
	_ Payload    = ErrorPayload{}
	_ Payload    = StatusChangePayload{}
	_ Payload    = CameraStatePayload{}
	_ Payload    = CorrectionPayload{}
	_ Payload    = TelemetryPayload{}
	_ Exportable = ErrorPayload{}
	_ Exportable = TelemetryPayload{}
)

// AlertPayload fires when sustained poor posture crosses the threshold.
type AlertPayload struct {
	DurationSeconds int       `json:"duration_seconds"`
	Timestamp       time.Time `json:"timestamp"`
}

func (AlertPayload) Kind() Kind { return Alert }

// ErrorKind classifies pipeline failures for the notification layer.
type ErrorKind string

const (
	ErrCamera    ErrorKind = "camera"
	ErrInference ErrorKind = "inference"
	ErrStorage   ErrorKind = "storage"
	ErrInternal  ErrorKind = "internal"
)

type ErrorPayload struct {
	Message string    `json:"message"`
	Kind_   ErrorKind `json:"error_kind"`
}

func (ErrorPayload) Kind() Kind { return Error }

func (ErrorPayload) DiagnosticTopic() string { return "diagnostics.errors" }

// StatusChangePayload closes the control loop: the UI reflects the
// backend-confirmed monitoring state, not the state it assumed.
type StatusChangePayload struct {
	MonitoringActive bool `json:"monitoring_active"`
	ThresholdSeconds int  `json:"threshold_seconds"`
}

func (StatusChangePayload) Kind() Kind { return StatusChange }

type CameraConnState string

const (
	CameraConnected    CameraConnState = "connected"
	CameraDegraded     CameraConnState = "degraded"
	CameraDisconnected CameraConnState = "disconnected"
)

type CameraStatePayload struct {
	State     CameraConnState `json:"state"`
	Timestamp time.Time       `json:"timestamp"`
}

func (CameraStatePayload) Kind() Kind { return CameraState }

type CorrectionPayload struct {
	PreviousDurationSeconds int       `json:"previous_duration_seconds"`
	Timestamp               time.Time `json:"timestamp"`
}

func (CorrectionPayload) Kind() Kind { return Correction }

// TelemetryPayload is the latest-wins tier: per-frame classifier output the
// dashboard may sample but nobody waits for.
type TelemetryPayload struct {
	PostureScore float64   `json:"posture_score"`
	FrameSeq     uint64    `json:"frame_seq"`
	Timestamp    time.Time `json:"timestamp"`
}

func (TelemetryPayload) Kind() Kind { return Telemetry }

func (TelemetryPayload) DiagnosticTopic() string { return "diagnostics.telemetry" }
