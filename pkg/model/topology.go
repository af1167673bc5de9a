package model

// ServiceEntrance describes the utility service feeding the site.
type ServiceEntrance struct {
	// Phases is the phase count of the service, 1 or 3.
	Phases int `json:"phases"`

	// MaxCurrentA is the per-phase current limit.
	MaxCurrentA float64 `json:"max_current_a"`

	// MaxPowerKW is the service power limit.
	MaxPowerKW float64 `json:"max_power_kw"`

	// VoltageNominal is the nominal voltage in volts.
	VoltageNominal float64 `json:"voltage_nominal"`

	// VoltageTolerance is the allowed relative deviation (fraction).
	VoltageTolerance float64 `json:"voltage_tolerance"`

	// FrequencyNominal is the nominal frequency in Hz.
	FrequencyNominal float64 `json:"frequency_nominal"`

	// FrequencyTolerance is the allowed absolute deviation in Hz.
	FrequencyTolerance float64 `json:"frequency_tolerance"`

	// MinPowerFactor is the minimum acceptable power factor.
	MinPowerFactor float64 `json:"min_power_factor"`

	// ContinuousFactor derates continuous loads (NEC 625, default 0.80).
	ContinuousFactor float64 `json:"continuous_factor"`

	// MaxPhaseImbalance is the maximum phase imbalance fraction.
	MaxPhaseImbalance float64 `json:"max_phase_imbalance"`
}

// Feeder is a distribution branch with its own breaker and cable limits.
type Feeder struct {
	ID string `json:"id"`

	// MaxCurrentA is the feeder current limit.
	MaxCurrentA float64 `json:"max_current_a"`

	// MaxPowerKW is the feeder power limit.
	MaxPowerKW float64 `json:"max_power_kw"`

	// BreakerRatingA is the breaker trip rating.
	BreakerRatingA float64 `json:"breaker_rating_a"`

	// CableAmpacityA is the installed cable ampacity after derating.
	CableAmpacityA float64 `json:"cable_ampacity_a"`

	// Stations lists the station IDs served by this feeder.
	Stations []string `json:"stations,omitempty"`
}

// ThermalCurvePoint limits how long a transformer may run at a load factor.
type ThermalCurvePoint struct {
	// LoadFactor is load relative to rating (1.0 = rated).
	LoadFactor float64 `json:"load_factor"`

	// MaxMinutes is the permitted duration at or above this factor.
	MaxMinutes float64 `json:"max_minutes"`
}

// Transformer is a site transformer with thermal limits.
type Transformer struct {
	ID string `json:"id"`

	// RatedKVA is the nameplate rating.
	RatedKVA float64 `json:"rated_kva"`

	// ContinuousFactor derates the rating for continuous load.
	ContinuousFactor float64 `json:"continuous_factor"`

	// ThermalCurve maps load factor to maximum sustained minutes.
	ThermalCurve []ThermalCurvePoint `json:"thermal_curve,omitempty"`

	// MaxTemperatureC is the trip temperature.
	MaxTemperatureC float64 `json:"max_temperature_c"`

	// Feeders lists the feeder IDs behind this transformer.
	Feeders []string `json:"feeders,omitempty"`
}

// CableDerating holds derating factors applied to a cable's base ampacity.
type CableDerating struct {
	Bundling    float64 `json:"bundling"`
	Temperature float64 `json:"temperature"`
	Conduit     float64 `json:"conduit"`
}

// Cable describes an optional cable segment with derating.
type Cable struct {
	ID            string        `json:"id"`
	BaseAmpacityA float64       `json:"base_ampacity_a"`
	Derating      CableDerating `json:"derating"`
}

// EffectiveAmpacity applies the derating factors to the base ampacity.
// Unset (zero) factors are treated as 1.0.
func (c Cable) EffectiveAmpacity() float64 {
	amp := c.BaseAmpacityA
	for _, f := range []float64{c.Derating.Bundling, c.Derating.Temperature, c.Derating.Conduit} {
		if f > 0 {
			amp *= f
		}
	}
	return amp
}

// SiteTopology is the configured electrical topology of the site.
type SiteTopology struct {
	Service      ServiceEntrance `json:"service"`
	Feeders      []Feeder        `json:"feeders,omitempty"`
	Transformers []Transformer   `json:"transformers,omitempty"`
	Cables       []Cable         `json:"cables,omitempty"`
}
