package model

import "time"

// StationClass identifies the electrical class of a charging station.
type StationClass uint8

const (
	// ClassACSinglePhase is a single-phase AC station (current controlled).
	ClassACSinglePhase StationClass = 0
	// ClassACThreePhase is a three-phase AC station (current controlled).
	ClassACThreePhase StationClass = 1
	// ClassDC is a DC fast charger (power controlled).
	ClassDC StationClass = 2
)

// String returns the class name.
func (c StationClass) String() string {
	switch c {
	case ClassACSinglePhase:
		return "AC-1P"
	case ClassACThreePhase:
		return "AC-3P"
	case ClassDC:
		return "DC"
	default:
		return "UNKNOWN"
	}
}

// IsAC reports whether the class is current controlled.
func (c StationClass) IsAC() bool {
	return c == ClassACSinglePhase || c == ClassACThreePhase
}

// StationStatus is the observed operational state of a station.
type StationStatus uint8

const (
	// StatusOffline indicates no communication with the station.
	StatusOffline StationStatus = 0
	// StatusReady indicates the station is idle and available.
	StatusReady StationStatus = 1
	// StatusCharging indicates an active charging session.
	StatusCharging StationStatus = 2
	// StatusError indicates a station-reported fault.
	StatusError StationStatus = 3
	// StatusUnavailable indicates the station is administratively out of service.
	StatusUnavailable StationStatus = 4
)

// String returns the status name.
func (s StationStatus) String() string {
	switch s {
	case StatusOffline:
		return "offline"
	case StatusReady:
		return "ready"
	case StatusCharging:
		return "charging"
	case StatusError:
		return "error"
	case StatusUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// IsActive reports whether the station participates in allocation.
func (s StationStatus) IsActive() bool {
	return s == StatusReady || s == StatusCharging
}

// Protocol identifies the transport a station or meter speaks.
type Protocol string

const (
	ProtocolModbus Protocol = "modbus"
	ProtocolMQTT   Protocol = "mqtt"
	ProtocolOCPP   Protocol = "ocpp"
	ProtocolSim    Protocol = "sim"
)

// PhaseCurrents holds per-phase current setpoints or measurements in amperes.
type PhaseCurrents struct {
	A float64 `json:"a"`
	B float64 `json:"b"`
	C float64 `json:"c"`
}

// Total returns the sum of all phases.
func (p PhaseCurrents) Total() float64 {
	return p.A + p.B + p.C
}

// Max returns the highest phase current.
func (p PhaseCurrents) Max() float64 {
	m := p.A
	if p.B > m {
		m = p.B
	}
	if p.C > m {
		m = p.C
	}
	return m
}

// Station is a charging station managed by the service.
type Station struct {
	// ID is the opaque station identifier.
	ID string `json:"id"`

	// Name is the display name.
	Name string `json:"name"`

	// Zone is the site zone tag used for zone caps and grouping.
	Zone string `json:"zone,omitempty"`

	// Class is the electrical class.
	Class StationClass `json:"class"`

	// ConnectorType is the physical connector (Type2, CCS, CHAdeMO, ...).
	ConnectorType string `json:"connector_type,omitempty"`

	// NominalVoltage is the nominal supply voltage in volts.
	// For three-phase stations this is the line-to-line voltage.
	NominalVoltage float64 `json:"nominal_voltage"`

	// Protocol selects the driver adapter.
	Protocol Protocol `json:"protocol"`

	// Endpoint is the driver endpoint (host:port or broker URL).
	Endpoint string `json:"endpoint,omitempty"`

	// Priority orders allocation, 1-10, higher is served earlier.
	Priority int `json:"priority"`

	// UserPriorityClass is the optional RFID/user class, lower is higher priority.
	// Zero means unset.
	UserPriorityClass int `json:"user_priority_class,omitempty"`

	// ScheduledCharging marks the station as inside an active charging window.
	ScheduledCharging bool `json:"scheduled_charging,omitempty"`

	// Status is the observed operational state.
	Status StationStatus `json:"status"`

	// Online indicates live communication.
	Online bool `json:"online"`

	// RequestedPower is the power the station (or its user) asked for, kW.
	RequestedPower float64 `json:"requested_power"`

	// CurrentPower is the last applied setpoint, kW.
	CurrentPower float64 `json:"current_power"`

	// MeasuredPower is the last reported draw, kW.
	MeasuredPower float64 `json:"measured_power"`

	// MeasuredVoltage is the last reported supply voltage in volts.
	// Zero means no measurement has arrived yet.
	MeasuredVoltage float64 `json:"measured_voltage,omitempty"`

	// Phases is the last applied per-phase setpoint for AC stations.
	Phases PhaseCurrents `json:"phases,omitempty"`

	// TemperatureC is the last reported temperature for DC stations.
	TemperatureC float64 `json:"temperature_c,omitempty"`

	// VehicleSoC is the last reported vehicle state of charge, percent.
	VehicleSoC float64 `json:"vehicle_soc,omitempty"`

	// SessionEnergyKWh is the energy delivered in the current session.
	SessionEnergyKWh float64 `json:"session_energy_kwh"`

	// TotalEnergyKWh is the lifetime delivered energy.
	TotalEnergyKWh float64 `json:"total_energy_kwh"`

	// SessionUser is the user tag of the active session, if any.
	SessionUser string `json:"session_user,omitempty"`

	CreatedAt         time.Time `json:"created_at"`
	LastSeen          time.Time `json:"last_seen,omitempty"`
	ChargingStartedAt time.Time `json:"charging_started_at,omitempty"`
	LastCommandAt     time.Time `json:"last_command_at,omitempty"`
}

// StationObservation is a driver-reported measurement set for a station.
type StationObservation struct {
	StationID     string         `json:"station_id"`
	Status        StationStatus  `json:"status"`
	PowerKW       float64        `json:"power_kw"`
	SessionEnergy float64        `json:"session_energy_kwh"`
	Phases        *PhaseCurrents `json:"phases,omitempty"`
	VoltageV      *float64       `json:"voltage_v,omitempty"`
	TemperatureC  *float64       `json:"temperature_c,omitempty"`
	VehicleSoC    *float64       `json:"vehicle_soc,omitempty"`
	ObservedAt    time.Time      `json:"observed_at"`
}
