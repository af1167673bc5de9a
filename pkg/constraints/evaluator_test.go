package constraints

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voltmesh/dlm-go/pkg/model"
)

func testTopology() model.SiteTopology {
	return model.SiteTopology{
		Service: model.ServiceEntrance{
			Phases: 3, MaxCurrentA: 400, MaxPowerKW: 250,
			VoltageNominal: 400, VoltageTolerance: 0.05,
			FrequencyNominal: 50, FrequencyTolerance: 0.5,
			MinPowerFactor: 0.9, ContinuousFactor: 0.80,
			MaxPhaseImbalance: 0.20,
		},
		Feeders: []model.Feeder{
			{ID: "f1", MaxCurrentA: 100, MaxPowerKW: 69, BreakerRatingA: 125, CableAmpacityA: 110},
		},
		Transformers: []model.Transformer{
			{
				ID: "t1", RatedKVA: 150, ContinuousFactor: 0.80,
				MaxTemperatureC: 120,
				ThermalCurve: []model.ThermalCurvePoint{
					{LoadFactor: 0.9, MaxMinutes: 120},
					{LoadFactor: 1.0, MaxMinutes: 30},
				},
			},
		},
	}
}

func TestAvailableCapacity(t *testing.T) {
	e := New(nil, nil)
	assert.Zero(t, e.AvailableCapacityKW(), "unconfigured topology offers nothing")

	e.SetTopology(testTopology())
	e.UpdateServiceMeasurements(ServiceMeasurements{PowerKW: 50})

	// (250 - 50) * 0.80 = 160, capped by feeder headroom 69.
	assert.InDelta(t, 69, e.AvailableCapacityKW(), 1e-9)

	e.UpdateFeederMeasurements("f1", FeederMeasurements{PowerKW: 30})
	assert.InDelta(t, 39, e.AvailableCapacityKW(), 1e-9)

	// Transformer headroom 150*0.8 - 100 = 20 becomes the binding limit.
	e.UpdateTransformerMeasurements("t1", TransformerMeasurements{LoadKVA: 100})
	assert.InDelta(t, 20, e.AvailableCapacityKW(), 1e-9)
}

func TestAvailableCapacityFloorsAtZero(t *testing.T) {
	e := New(nil, nil)
	e.SetTopology(testTopology())
	e.UpdateServiceMeasurements(ServiceMeasurements{PowerKW: 300})
	assert.Zero(t, e.AvailableCapacityKW())
}

func TestServiceViolations(t *testing.T) {
	e := New(nil, nil)
	e.SetTopology(testTopology())

	vs := e.UpdateServiceMeasurements(ServiceMeasurements{
		PowerKW:     260,
		Currents:    model.PhaseCurrents{A: 420, B: 200, C: 200},
		VoltageV:    352, // 12% under nominal
		FrequencyHz: 50.6,
		PowerFactor: 0.85,
	})

	types := map[string]model.ViolationSeverity{}
	for _, v := range vs {
		types[v.Type] = v.Severity
	}
	assert.Equal(t, model.SeverityCritical, types["power_limit"])
	assert.Equal(t, model.SeverityCritical, types["phase_current"])
	assert.Equal(t, model.SeverityWarning, types["imbalance"])
	assert.Equal(t, model.SeverityWarning, types["power_factor"])
	assert.Equal(t, model.SeverityCritical, types["voltage"])
	assert.Equal(t, model.SeverityWarning, types["frequency"])
}

func TestVoltageWarningInsideCriticalBand(t *testing.T) {
	e := New(nil, nil)
	e.SetTopology(testTopology())

	vs := e.UpdateServiceMeasurements(ServiceMeasurements{VoltageV: 372}) // 7% deviation
	require.Len(t, vs, 1)
	assert.Equal(t, "voltage", vs[0].Type)
	assert.Equal(t, model.SeverityWarning, vs[0].Severity)
}

func TestCleanServiceMeasurementsNoViolations(t *testing.T) {
	e := New(nil, nil)
	e.SetTopology(testTopology())

	vs := e.UpdateServiceMeasurements(ServiceMeasurements{
		PowerKW:     100,
		Currents:    model.PhaseCurrents{A: 150, B: 150, C: 150},
		VoltageV:    400,
		FrequencyHz: 50,
		PowerFactor: 0.95,
	})
	assert.Empty(t, vs)
}

func TestFeederViolations(t *testing.T) {
	e := New(nil, nil)
	e.SetTopology(testTopology())

	vs := e.UpdateFeederMeasurements("f1", FeederMeasurements{CurrentA: 115})
	types := map[string]model.ViolationSeverity{}
	for _, v := range vs {
		types[v.Type] = v.Severity
	}
	assert.Equal(t, model.SeverityCritical, types["current_limit"])
	assert.Equal(t, model.SeverityWarning, types["breaker_rating"])
	assert.Equal(t, model.SeverityCritical, types["cable_ampacity"])

	assert.Empty(t, e.UpdateFeederMeasurements("f1", FeederMeasurements{CurrentA: 50}))
	assert.Empty(t, e.UpdateFeederMeasurements("unknown", FeederMeasurements{CurrentA: 999}))
}

func TestTransformerThermalCurve(t *testing.T) {
	e := New(nil, nil)
	e.SetTopology(testTopology())

	base := time.Now()

	// Entering the 1.0 band starts the clock; within the limit no violation.
	vs := e.UpdateTransformerMeasurements("t1", TransformerMeasurements{LoadKVA: 160, At: base})
	types := map[string]bool{}
	for _, v := range vs {
		types[v.Type] = true
	}
	assert.True(t, types["load_factor"])
	assert.False(t, types["thermal_curve"])

	// 31 minutes at load factor > 1.0 exceeds the 30 minute band limit.
	vs = e.UpdateTransformerMeasurements("t1", TransformerMeasurements{
		LoadKVA: 160, At: base.Add(31 * time.Minute),
	})
	found := false
	for _, v := range vs {
		if v.Type == "thermal_curve" {
			found = true
			assert.Equal(t, model.SeverityCritical, v.Severity)
		}
	}
	assert.True(t, found)

	// Dropping to a lower band restarts the clock.
	vs = e.UpdateTransformerMeasurements("t1", TransformerMeasurements{
		LoadKVA: 140, At: base.Add(32 * time.Minute),
	})
	for _, v := range vs {
		assert.NotEqual(t, "thermal_curve", v.Type)
	}
}

func TestTransformerTemperature(t *testing.T) {
	e := New(nil, nil)
	e.SetTopology(testTopology())

	vs := e.UpdateTransformerMeasurements("t1", TransformerMeasurements{LoadKVA: 100, TemperatureC: 130})
	require.Len(t, vs, 1)
	assert.Equal(t, "temperature", vs[0].Type)
	assert.Equal(t, model.SeverityCritical, vs[0].Severity)
}
