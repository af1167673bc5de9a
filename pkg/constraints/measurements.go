package constraints

import (
	"time"

	"github.com/voltmesh/dlm-go/pkg/model"
)

// ServiceMeasurements is the latest reading at the service entrance.
type ServiceMeasurements struct {
	PowerKW     float64             `json:"power_kw"`
	Currents    model.PhaseCurrents `json:"currents"`
	VoltageV    float64             `json:"voltage_v"`
	FrequencyHz float64             `json:"frequency_hz"`
	PowerFactor float64             `json:"power_factor"`
	At          time.Time           `json:"timestamp"`
}

// FeederMeasurements is the latest reading on a feeder branch.
type FeederMeasurements struct {
	CurrentA float64   `json:"current_a"`
	PowerKW  float64   `json:"power_kw"`
	At       time.Time `json:"timestamp"`
}

// TransformerMeasurements is the latest reading on a transformer.
type TransformerMeasurements struct {
	LoadKVA      float64   `json:"load_kva"`
	TemperatureC float64   `json:"temperature_c"`
	At           time.Time `json:"timestamp"`
}
