package model

import "time"

// OfflineAction selects what happens to a station when communication is lost.
type OfflineAction string

const (
	// OfflineMaintain keeps the last known good setpoint.
	OfflineMaintain OfflineAction = "maintain"
	// OfflineReduce drops the station to its configured safe power.
	OfflineReduce OfflineAction = "reduce"
	// OfflineStop sets the station to zero.
	OfflineStop OfflineAction = "stop"
)

// Valid reports whether the action is one of the known values.
func (a OfflineAction) Valid() bool {
	switch a {
	case OfflineMaintain, OfflineReduce, OfflineStop:
		return true
	default:
		return false
	}
}

// FailSafeState tracks fail-safe configuration and status for one station.
type FailSafeState struct {
	StationID string `json:"station_id"`

	// SafePowerKW is the power applied under the reduce action.
	SafePowerKW float64 `json:"safe_power_kw"`

	// Action is taken when CommTimeout elapses without an observation.
	Action OfflineAction `json:"offline_action"`

	// CommTimeout is the silence threshold before the action fires.
	CommTimeout time.Duration `json:"comm_timeout"`

	// LastComm is the time of the last observation.
	LastComm time.Time `json:"last_comm,omitempty"`

	// Active indicates the fail-safe override is in force.
	Active bool `json:"failsafe_active"`

	// ConsecutiveTimeouts counts uninterrupted timeout cycles.
	ConsecutiveTimeouts int `json:"consecutive_timeouts"`

	// LastKnownGoodKW is the last setpoint applied while online.
	LastKnownGoodKW float64 `json:"last_known_good_kw"`
}

// Target returns the power the fail-safe override dispatches for this station.
func (f FailSafeState) Target() float64 {
	switch f.Action {
	case OfflineMaintain:
		if f.LastKnownGoodKW > 0 {
			return f.LastKnownGoodKW
		}
		return f.SafePowerKW
	case OfflineReduce:
		return f.SafePowerKW
	case OfflineStop:
		return 0
	default:
		return 0
	}
}
