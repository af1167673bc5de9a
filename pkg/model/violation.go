package model

import "time"

// ViolationSeverity grades a constraint violation.
type ViolationSeverity uint8

const (
	// SeverityWarning indicates the envelope is approached or softly exceeded.
	SeverityWarning ViolationSeverity = 0
	// SeverityCritical indicates a hard electrical limit is exceeded.
	SeverityCritical ViolationSeverity = 1
)

// String returns the severity name.
func (s ViolationSeverity) String() string {
	switch s {
	case SeverityWarning:
		return "warning"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Violation records a breached site or capability constraint.
type Violation struct {
	// Component names the violating element (service, feeder:<id>, transformer:<id>, station:<id>).
	Component string `json:"component"`

	// Type names the violated limit (power_limit, phase_current, imbalance, ...).
	Type string `json:"type"`

	Severity ViolationSeverity `json:"severity"`

	// Measured is the observed value.
	Measured float64 `json:"measured"`

	// Limit is the configured limit.
	Limit float64 `json:"limit"`

	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}
