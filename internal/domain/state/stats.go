package state

import "time"

// StatsSnapshot is the expensive daily aggregate cached by the Store. The
// core treats its production as opaque: a ComputeFunc queries whatever
// persistence layer the caller wires in.
type StatsSnapshot struct {
	GeneratedAt        time.Time  `json:"generated_at"`
	AlertsToday        int        `json:"alerts_today"`
	CorrectionsToday   int        `json:"corrections_today"`
	PoorPostureSeconds int        `json:"poor_posture_seconds"`
	History            []DayStats `json:"history,omitempty"`
}

// DayStats summarizes one closed day. Past days never change, which is what
// makes them safe to hold in the provider's expirable LRU.
type DayStats struct {
	Date               string `json:"date"` // YYYY-MM-DD
	Alerts             int    `json:"alerts"`
	Corrections        int    `json:"corrections"`
	PoorPostureSeconds int    `json:"poor_posture_seconds"`
}
