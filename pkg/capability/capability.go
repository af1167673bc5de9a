package capability

import (
	"time"

	"github.com/voltmesh/dlm-go/pkg/model"
)

// Feature names an optional station capability.
type Feature string

const (
	FeatureBidirectional     Feature = "bidirectional"
	FeatureVehicleTaper      Feature = "vehicle_taper"
	FeatureThermalManagement Feature = "thermal_management"
	FeatureISO15118          Feature = "iso15118"
	FeaturePhaseBalancing    Feature = "phase_balancing"
)

// Capability is the electrical envelope a station accepts.
type Capability struct {
	StationID string             `json:"station_id"`
	Class     model.StationClass `json:"class"`

	// Phases is the live phase count (1 or 3). Zero for DC.
	Phases int `json:"phases,omitempty"`

	// MinCurrentA and MaxCurrentA bound per-phase current for AC stations.
	MinCurrentA float64 `json:"min_current_a,omitempty"`
	MaxCurrentA float64 `json:"max_current_a,omitempty"`

	// CurrentStepA is the current granularity; setpoints must align to it.
	CurrentStepA float64 `json:"current_step_a,omitempty"`

	// MinPowerKW and MaxPowerKW bound power for DC stations.
	MinPowerKW float64 `json:"min_power_kw,omitempty"`
	MaxPowerKW float64 `json:"max_power_kw,omitempty"`

	// RampRate is the maximum setpoint change per second
	// (amperes for AC, kilowatts for DC).
	RampRate float64 `json:"ramp_rate"`

	// MinUpdateInterval is the shortest accepted command spacing.
	MinUpdateInterval time.Duration `json:"min_update_interval"`

	// TypicalUpdateInterval is the polling/ramping cadence for this station.
	TypicalUpdateInterval time.Duration `json:"typical_update_interval"`

	// NominalVoltage in volts (line-to-line for three-phase).
	NominalVoltage float64 `json:"nominal_voltage"`

	// Features flags optional capabilities.
	Features map[Feature]bool `json:"features,omitempty"`

	// Fallback marks an envelope assigned because discovery failed.
	Fallback bool `json:"fallback,omitempty"`

	DiscoveredAt time.Time `json:"discovered_at"`
}

// Has reports whether the feature is present.
func (c Capability) Has(f Feature) bool {
	return c.Features[f]
}

// Profile names a predefined capability template.
type Profile string

const (
	ProfileACL2SinglePhase Profile = "ac_l2_1p"
	ProfileACL2ThreePhase  Profile = "ac_l2_3p"
	ProfileDCFCMedium      Profile = "dcfc_medium"
	ProfileDCFCHigh        Profile = "dcfc_high"
	ProfileCHAdeMO         Profile = "chademo"
)

// FromProfile returns the template envelope for a profile.
// Unknown profiles return the conservative fallback.
func FromProfile(p Profile) Capability {
	switch p {
	case ProfileACL2SinglePhase:
		return Capability{
			Class: model.ClassACSinglePhase, Phases: 1,
			MinCurrentA: 6, MaxCurrentA: 32, CurrentStepA: 1,
			RampRate: 4, MinUpdateInterval: 2 * time.Second,
			TypicalUpdateInterval: 5 * time.Second, NominalVoltage: 230,
			Features: map[Feature]bool{},
		}
	case ProfileACL2ThreePhase:
		return Capability{
			Class: model.ClassACThreePhase, Phases: 3,
			MinCurrentA: 6, MaxCurrentA: 32, CurrentStepA: 1,
			RampRate: 4, MinUpdateInterval: 2 * time.Second,
			TypicalUpdateInterval: 5 * time.Second, NominalVoltage: 400,
			Features: map[Feature]bool{FeaturePhaseBalancing: true},
		}
	case ProfileDCFCMedium:
		return Capability{
			Class:      model.ClassDC,
			MinPowerKW: 5, MaxPowerKW: 150,
			RampRate: 10, MinUpdateInterval: time.Second,
			TypicalUpdateInterval: 2 * time.Second, NominalVoltage: 400,
			Features: map[Feature]bool{
				FeatureVehicleTaper:      true,
				FeatureThermalManagement: true,
			},
		}
	case ProfileDCFCHigh:
		return Capability{
			Class:      model.ClassDC,
			MinPowerKW: 10, MaxPowerKW: 350,
			RampRate: 25, MinUpdateInterval: time.Second,
			TypicalUpdateInterval: 2 * time.Second, NominalVoltage: 800,
			Features: map[Feature]bool{
				FeatureVehicleTaper:      true,
				FeatureThermalManagement: true,
				FeatureISO15118:          true,
				FeatureBidirectional:     true,
			},
		}
	case ProfileCHAdeMO:
		return Capability{
			Class:      model.ClassDC,
			MinPowerKW: 5, MaxPowerKW: 50,
			RampRate: 5, MinUpdateInterval: 2 * time.Second,
			TypicalUpdateInterval: 5 * time.Second, NominalVoltage: 400,
			Features: map[Feature]bool{FeatureBidirectional: true},
		}
	default:
		return Fallback()
	}
}

// Fallback returns the conservative envelope used when discovery fails:
// single-phase 6-16 A, 3.7 kW.
func Fallback() Capability {
	return Capability{
		Class: model.ClassACSinglePhase, Phases: 1,
		MinCurrentA: 6, MaxCurrentA: 16, CurrentStepA: 1,
		MinPowerKW: 1.4, MaxPowerKW: 3.7,
		RampRate: 1, MinUpdateInterval: 5 * time.Second,
		TypicalUpdateInterval: 10 * time.Second, NominalVoltage: 230,
		Features: map[Feature]bool{},
		Fallback: true,
	}
}
