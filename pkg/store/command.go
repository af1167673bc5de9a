package store

import (
	"time"

	"github.com/voltmesh/dlm-go/pkg/model"
)

// Command is a typed state mutation. Commands are applied atomically and
// in submission order by the store's single writer.
type Command interface {
	isCommand()
}

// RegisterStation adds a new station.
type RegisterStation struct {
	Station model.Station
}

// UpdateStation replaces mutable station fields (name, zone, priority,
// requested power, user class, scheduled flag).
type UpdateStation struct {
	StationID         string
	Name              *string
	Zone              *string
	Priority          *int
	UserPriorityClass *int
	RequestedPowerKW  *float64
	ScheduledCharging *bool
}

// RemoveStation deletes a station and its fail-safe state.
type RemoveStation struct {
	StationID string
}

// ObserveStationMeasurement records a driver observation for a station.
type ObserveStationMeasurement struct {
	Observation model.StationObservation
}

// RegisterMeter adds a new meter.
type RegisterMeter struct {
	Meter model.Meter
}

// RemoveMeter deletes a meter.
type RemoveMeter struct {
	MeterID string
}

// ObserveMeterMeasurement records a driver observation for a meter.
type ObserveMeterMeasurement struct {
	Observation model.MeterObservation
}

// RecordAllocation appends an allocator tick to the history ring and
// updates each station's applied setpoint.
type RecordAllocation struct {
	Tick model.AllocationTick
}

// SetStationSetpoint records a dispatched setpoint for one station.
type SetStationSetpoint struct {
	StationID string
	PowerKW   float64
	Phases    *model.PhaseCurrents
	At        time.Time
}

// RecordViolation appends a violation to the bounded ring.
type RecordViolation struct {
	Violation model.Violation
}

// SetSheddingLevel records a shedding level transition.
type SetSheddingLevel struct {
	Level    int
	Previous int
	Reason   string
}

// SetFailSafeState stores per-station fail-safe configuration and status.
type SetFailSafeState struct {
	State model.FailSafeState
}

// SetPVProduction records the current PV production in kW.
type SetPVProduction struct {
	PowerKW float64
}

// SetTopology replaces the configured site topology.
type SetTopology struct {
	Topology model.SiteTopology
}

// StartSession marks a charging session started.
type StartSession struct {
	StationID string
	UserTag   string
}

// StopSession marks a charging session stopped.
type StopSession struct {
	StationID string
}

// SetCapacityLimits updates the configured grid capacity and peak threshold.
type SetCapacityLimits struct {
	MaxCapacityKW   *float64
	PeakThresholdKW *float64
}

// SetZoneCap sets or clears (nil) the cap for a zone.
type SetZoneCap struct {
	Zone  string
	CapKW *float64
}

// MarkStationOffline forces a station offline without an observation.
// Used by the fail-safe sweep and by shutdown when a driver call is
// cancelled.
type MarkStationOffline struct {
	StationID string
}

func (RegisterStation) isCommand()           {}
func (UpdateStation) isCommand()             {}
func (RemoveStation) isCommand()             {}
func (ObserveStationMeasurement) isCommand() {}
func (RegisterMeter) isCommand()             {}
func (RemoveMeter) isCommand()               {}
func (ObserveMeterMeasurement) isCommand()   {}
func (RecordAllocation) isCommand()          {}
func (SetStationSetpoint) isCommand()        {}
func (RecordViolation) isCommand()           {}
func (SetSheddingLevel) isCommand()          {}
func (SetFailSafeState) isCommand()          {}
func (SetPVProduction) isCommand()           {}
func (SetTopology) isCommand()               {}
func (StartSession) isCommand()              {}
func (StopSession) isCommand()               {}
func (SetCapacityLimits) isCommand()         {}
func (SetZoneCap) isCommand()                {}
func (MarkStationOffline) isCommand()        {}
