package control

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voltmesh/dlm-go/pkg/bus"
	"github.com/voltmesh/dlm-go/pkg/capability"
	"github.com/voltmesh/dlm-go/pkg/driver"
	"github.com/voltmesh/dlm-go/pkg/model"
	"github.com/voltmesh/dlm-go/pkg/store"
)

type fixedCap struct{ cap capability.Capability }

func (f fixedCap) Interrogate(context.Context, string) (capability.Capability, error) {
	return f.cap, nil
}

type rig struct {
	caps   *capability.Registry
	sim    *driver.SimDriver
	store  *store.Store
	events *bus.Bus
}

func newRig(t *testing.T, st model.Station, cap capability.Capability) *rig {
	t.Helper()
	events := bus.New()
	t.Cleanup(events.Close)

	r := &rig{
		caps:   capability.NewRegistry(nil),
		sim:    driver.NewSim(),
		store:  store.New(events, nil),
		events: events,
	}
	require.NoError(t, r.sim.Connect(context.Background()))
	r.caps.Discover(context.Background(), st.ID, fixedCap{cap})
	require.NoError(t, r.store.Apply(store.RegisterStation{Station: st}))
	return r
}

func (r *rig) drivers() DriverSource {
	return DriverSourceFunc(func(context.Context, model.Station) (driver.Driver, error) {
		return r.sim, nil
	})
}

func acCap() capability.Capability {
	cap := capability.FromProfile(capability.ProfileACL2ThreePhase)
	cap.MinUpdateInterval = 0
	return cap
}

func dcCap() capability.Capability {
	cap := capability.FromProfile(capability.ProfileDCFCMedium)
	cap.MinUpdateInterval = 0
	cap.TypicalUpdateInterval = time.Second
	return cap
}

func TestPowerToPhasesThreePhase(t *testing.T) {
	cap := acCap()
	p := PowerToPhases(cap, 22)
	assert.InDelta(t, 31.75, p.A, 0.1)
	assert.Equal(t, p.A, p.B)
	assert.Equal(t, p.A, p.C)
	assert.InDelta(t, 22, PhasesToPower(cap, p), 1e-9)
}

func TestPowerToPhasesSinglePhase(t *testing.T) {
	cap := capability.FromProfile(capability.ProfileACL2SinglePhase)
	p := PowerToPhases(cap, 3.68)
	assert.InDelta(t, 16, p.A, 1e-9)
	assert.Zero(t, p.B)
	assert.InDelta(t, 3.68, PhasesToPower(cap, p), 1e-9)
}

func TestImbalance(t *testing.T) {
	assert.InDelta(t, 0.655, Imbalance(model.PhaseCurrents{A: 32, B: 16, C: 10}), 0.01)
	assert.Zero(t, Imbalance(model.PhaseCurrents{A: 16, B: 16, C: 16}))
	assert.Zero(t, Imbalance(model.PhaseCurrents{A: 16}))
}

func TestRebalance(t *testing.T) {
	b := Rebalance(model.PhaseCurrents{A: 32, B: 16, C: 10})
	assert.Equal(t, model.PhaseCurrents{A: 19, B: 19, C: 19}, b)
}

func TestSetPhaseCurrentsAutobalance(t *testing.T) {
	st := model.Station{ID: "cp-1", Class: model.ClassACThreePhase, NominalVoltage: 400}
	r := newRig(t, st, acCap())
	ac := NewAC(r.caps, r.drivers(), r.store, nil)

	applied, err := ac.SetPhaseCurrents(context.Background(), st, model.PhaseCurrents{A: 32, B: 16, C: 10})
	require.NoError(t, err)
	assert.Equal(t, model.PhaseCurrents{A: 19, B: 19, C: 19}, applied)

	last, ok := r.sim.LastCommand("cp-1")
	require.True(t, ok)
	assert.Equal(t, 19.0, last.Phases.A)

	got, ok := r.store.Station("cp-1")
	require.True(t, ok)
	assert.Equal(t, 19.0, got.Phases.B)
}

func TestSetPhaseCurrentsSubMinimumPauses(t *testing.T) {
	st := model.Station{ID: "cp-1", Class: model.ClassACThreePhase, NominalVoltage: 400}
	r := newRig(t, st, acCap())
	ac := NewAC(r.caps, r.drivers(), r.store, nil)

	applied, err := ac.SetPhaseCurrents(context.Background(), st, model.PhaseCurrents{A: 4, B: 4, C: 4})
	require.NoError(t, err)
	assert.Equal(t, model.PhaseCurrents{}, applied)
}

func TestSetPhaseCurrentsRejectsDC(t *testing.T) {
	st := model.Station{ID: "dc-1", Class: model.ClassDC}
	r := newRig(t, st, dcCap())
	ac := NewAC(r.caps, r.drivers(), r.store, nil)

	_, err := ac.SetPhaseCurrents(context.Background(), st, model.PhaseCurrents{A: 16})
	assert.Error(t, err)
}

func TestDCRampLimitsFirstStep(t *testing.T) {
	st := model.Station{ID: "dc-1", Class: model.ClassDC, NominalVoltage: 400}
	r := newRig(t, st, dcCap())
	dc := NewDC(r.caps, r.drivers(), r.store, r.events, nil)

	res, err := dc.SetPowerLimit(context.Background(), st, 150)
	require.NoError(t, err)
	assert.True(t, res.Ramped)
	assert.InDelta(t, 10, res.AppliedKW, 1e-9)

	got, _ := r.store.Station("dc-1")
	assert.InDelta(t, 10, got.CurrentPower, 1e-9)
}

func TestDCRampBoundBetweenDispatches(t *testing.T) {
	st := model.Station{ID: "dc-1", Class: model.ClassDC, NominalVoltage: 400}
	r := newRig(t, st, dcCap())
	dc := NewDC(r.caps, r.drivers(), r.store, r.events, nil)

	ctx := context.Background()
	prev, err := dc.SetPowerLimit(ctx, st, 150)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		time.Sleep(20 * time.Millisecond)
		start := time.Now()
		cur, _ := r.store.Station("dc-1")
		res, err := dc.SetPowerLimit(ctx, cur, 150)
		require.NoError(t, err)
		dt := time.Since(start) + 25*time.Millisecond
		assert.LessOrEqual(t, res.AppliedKW-prev.AppliedKW, 10*dt.Seconds()+0.01)
		prev = res
	}
}

func TestDCThermalDerating(t *testing.T) {
	st := model.Station{
		ID: "dc-1", Class: model.ClassDC, NominalVoltage: 400,
		CurrentPower: 100, TemperatureC: 85,
	}
	r := newRig(t, st, dcCap())
	events, cancel := r.events.Subscribe(bus.TopicThermalDerating)
	defer cancel()

	dc := NewDC(r.caps, r.drivers(), r.store, r.events, nil)
	ctx := context.Background()

	res, err := dc.SetPowerLimit(ctx, st, 100)
	require.NoError(t, err)
	assert.True(t, res.Derated)
	assert.InDelta(t, 50, res.AppliedKW, 1e-9)

	select {
	case ev := <-events:
		change := ev.Payload.(DeratingChange)
		assert.Equal(t, 3, change.Bucket)
		assert.Equal(t, 0.50, change.Reduction)
	case <-time.After(time.Second):
		t.Fatal("expected a derating event")
	}

	// Same bucket again: derated, but no second transition event.
	st.CurrentPower = 50
	_, err = dc.SetPowerLimit(ctx, st, 100)
	require.NoError(t, err)
	select {
	case <-events:
		t.Fatal("bucket did not change, no event expected")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDCVehicleTaper(t *testing.T) {
	st := model.Station{
		ID: "dc-1", Class: model.ClassDC, NominalVoltage: 400,
		CurrentPower: 100, VehicleSoC: 90,
	}
	r := newRig(t, st, dcCap())
	dc := NewDC(r.caps, r.drivers(), r.store, r.events, nil)

	res, err := dc.SetPowerLimit(context.Background(), st, 100)
	require.NoError(t, err)
	assert.True(t, res.Tapered)
	// factor = 1 - (90-80)/20 = 0.5
	assert.InDelta(t, 50, res.AppliedKW, 1e-9)
}

func TestDCTaperFloor(t *testing.T) {
	st := model.Station{
		ID: "dc-1", Class: model.ClassDC, NominalVoltage: 400,
		CurrentPower: 100, VehicleSoC: 100,
	}
	r := newRig(t, st, dcCap())
	dc := NewDC(r.caps, r.drivers(), r.store, r.events, nil)

	res, err := dc.SetPowerLimit(context.Background(), st, 100)
	require.NoError(t, err)
	assert.InDelta(t, 10, res.AppliedKW, 1e-9)
}

func TestDCDerateBelowMinimumPauses(t *testing.T) {
	// An 80 % thermal reduction on a 10 kW setpoint lands at 2 kW,
	// under the 5 kW envelope minimum: the station pauses instead of
	// being commanded below what it can deliver.
	st := model.Station{
		ID: "dc-1", Class: model.ClassDC, NominalVoltage: 400,
		CurrentPower: 10, TemperatureC: 95,
	}
	r := newRig(t, st, dcCap())
	dc := NewDC(r.caps, r.drivers(), r.store, r.events, nil)

	res, err := dc.SetPowerLimit(context.Background(), st, 10)
	require.NoError(t, err)
	assert.True(t, res.Derated)
	assert.Zero(t, res.AppliedKW)

	last, ok := r.sim.LastCommand("dc-1")
	require.True(t, ok)
	require.NotNil(t, last.PowerKW)
	assert.Zero(t, *last.PowerKW)

	got, _ := r.store.Station("dc-1")
	assert.Zero(t, got.CurrentPower)
}

func TestDCSetCurrentLimitUsesMeasuredVoltage(t *testing.T) {
	st := model.Station{
		ID: "dc-1", Class: model.ClassDC, NominalVoltage: 400,
		MeasuredVoltage: 380, CurrentPower: 30,
	}
	r := newRig(t, st, dcCap())
	dc := NewDC(r.caps, r.drivers(), r.store, r.events, nil)

	// 100 A at the measured 380 V, not the nominal 400 V.
	res, err := dc.SetCurrentLimit(context.Background(), st, 100)
	require.NoError(t, err)
	assert.InDelta(t, 38, res.TargetKW, 1e-9)
}

func TestDCExportNeedsBidirectional(t *testing.T) {
	st := model.Station{ID: "dc-1", Class: model.ClassDC, CurrentPower: 0}
	r := newRig(t, st, dcCap())
	dc := NewDC(r.caps, r.drivers(), r.store, r.events, nil)

	// Clamped to zero: export is not in this station's envelope.
	res, err := dc.SetPowerLimit(context.Background(), st, -50)
	require.NoError(t, err)
	assert.Zero(t, res.AppliedKW)
}

func TestDCSetCurrentLimit(t *testing.T) {
	st := model.Station{ID: "dc-1", Class: model.ClassDC, NominalVoltage: 400, CurrentPower: 30}
	r := newRig(t, st, dcCap())
	dc := NewDC(r.caps, r.drivers(), r.store, r.events, nil)

	// 100 A at 400 V = 40 kW, reachable within one ramp step.
	res, err := dc.SetPowerLimit(context.Background(), st, 40)
	require.NoError(t, err)
	assert.InDelta(t, 40, res.AppliedKW, 1e-9)

	cur, _ := r.store.Station("dc-1")
	res2, err := dc.SetCurrentLimit(context.Background(), cur, 100)
	require.NoError(t, err)
	assert.InDelta(t, 40, res2.TargetKW, 1e-9)
}

func TestDispatcherRoutesByClass(t *testing.T) {
	acSt := model.Station{ID: "cp-1", Class: model.ClassACThreePhase, NominalVoltage: 400}
	r := newRig(t, acSt, acCap())

	dcSt := model.Station{ID: "dc-1", Class: model.ClassDC, NominalVoltage: 400, CurrentPower: 45}
	r.caps.Discover(context.Background(), dcSt.ID, fixedCap{dcCap()})
	require.NoError(t, r.store.Apply(store.RegisterStation{Station: dcSt}))

	d := NewDispatcher(
		NewAC(r.caps, r.drivers(), r.store, nil),
		NewDC(r.caps, r.drivers(), r.store, r.events, nil),
	)
	ctx := context.Background()

	applied, err := d.Dispatch(ctx, acSt, 11)
	require.NoError(t, err)
	assert.Greater(t, applied, 10.0)

	applied, err = d.Dispatch(ctx, dcSt, 50)
	require.NoError(t, err)
	assert.InDelta(t, 50, applied, 1e-9)
}

func TestSystemPhaseBalance(t *testing.T) {
	stations := []model.Station{
		{ID: "a", Class: model.ClassACThreePhase, Phases: model.PhaseCurrents{A: 32, B: 16, C: 16}},
		{ID: "b", Class: model.ClassACThreePhase, Phases: model.PhaseCurrents{A: 16, B: 16, C: 16}},
		{ID: "c", Class: model.ClassACSinglePhase, Phases: model.PhaseCurrents{A: 32}},
	}
	b := SystemPhaseBalance(stations, 0.20)
	assert.Equal(t, model.PhaseCurrents{A: 48, B: 32, C: 32}, b.PerPhase)
	assert.True(t, b.Warning)

	balanced := SystemPhaseBalance(stations[1:2], 0.20)
	assert.False(t, balanced.Warning)
}
