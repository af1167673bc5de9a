package model

import "time"

// MeterRole classifies what a meter measures.
type MeterRole string

const (
	// MeterRoleGrid measures the utility service entrance.
	MeterRoleGrid MeterRole = "grid"
	// MeterRoleBuilding measures non-charging building load.
	MeterRoleBuilding MeterRole = "building"
	// MeterRoleSolar measures PV production.
	MeterRoleSolar MeterRole = "solar"
	// MeterRoleZone measures a single site zone.
	MeterRoleZone MeterRole = "zone"
)

// Meter is an energy meter feeding the admission calculation.
type Meter struct {
	ID   string    `json:"id"`
	Name string    `json:"name"`
	Role MeterRole `json:"role"`

	Protocol Protocol `json:"protocol"`
	Endpoint string   `json:"endpoint,omitempty"`

	// PowerKW is the most recent active power reading.
	PowerKW float64 `json:"power_kw"`

	// TotalEnergyKWh is the cumulative energy register.
	TotalEnergyKWh float64 `json:"total_energy_kwh"`

	Voltage     float64 `json:"voltage,omitempty"`
	Current     float64 `json:"current,omitempty"`
	PowerFactor float64 `json:"power_factor,omitempty"`
	Frequency   float64 `json:"frequency,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	LastSeen  time.Time `json:"last_seen,omitempty"`
}

// MeterObservation is a driver-reported measurement set for a meter.
type MeterObservation struct {
	MeterID     string    `json:"meter_id"`
	PowerKW     float64   `json:"power_kw"`
	TotalEnergy float64   `json:"total_energy_kwh"`
	Voltage     float64   `json:"voltage,omitempty"`
	Current     float64   `json:"current,omitempty"`
	PowerFactor float64   `json:"power_factor,omitempty"`
	Frequency   float64   `json:"frequency,omitempty"`
	ObservedAt  time.Time `json:"observed_at"`
}
