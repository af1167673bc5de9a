package control

import (
	"context"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/voltmesh/dlm-go/pkg/capability"
	"github.com/voltmesh/dlm-go/pkg/fault"
	"github.com/voltmesh/dlm-go/pkg/model"
	"github.com/voltmesh/dlm-go/pkg/store"
)

// DefaultMaxImbalance is the autobalance trigger threshold.
const DefaultMaxImbalance = 0.20

// AC holds per-phase current setpoints for AC stations.
type AC struct {
	caps    *capability.Registry
	drivers DriverSource
	st      *store.Store
	logger  *zap.Logger

	// MaxImbalance triggers autobalancing when exceeded.
	MaxImbalance float64

	// AutoBalance rebalances imbalanced requests on stations that
	// support phase balancing.
	AutoBalance bool

	mu           sync.Mutex
	lastDispatch map[string]time.Time
}

// NewAC creates the AC phase-current controller.
func NewAC(caps *capability.Registry, drivers DriverSource, st *store.Store, logger *zap.Logger) *AC {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AC{
		caps:         caps,
		drivers:      drivers,
		st:           st,
		logger:       logger.Named("control.ac"),
		MaxImbalance: DefaultMaxImbalance,
		AutoBalance:  true,
		lastDispatch: make(map[string]time.Time),
	}
}

// SetPhaseCurrents validates, balances, and dispatches a per-phase
// setpoint, returning the currents actually applied. Phases below the
// station minimum become 0 (session paused), never a sub-minimum
// positive value.
func (c *AC) SetPhaseCurrents(ctx context.Context, st model.Station, req model.PhaseCurrents) (model.PhaseCurrents, error) {
	cap, err := c.caps.Get(st.ID)
	if err != nil {
		return model.PhaseCurrents{}, err
	}
	if !cap.Class.IsAC() {
		return model.PhaseCurrents{}, fault.New(fault.KindValidation,
			"station %q is not an AC station", st.ID)
	}

	applied := normalizePhases(cap, req)

	if imb := Imbalance(applied); imb > c.MaxImbalance &&
		c.AutoBalance && cap.Has(capability.FeaturePhaseBalancing) {
		c.logger.Debug("autobalancing phases",
			zap.String("station", st.ID), zap.Float64("imbalance", imb))
		applied = normalizePhases(cap, Rebalance(applied))
	}

	if err := c.caps.Validate(st.ID, capability.Command{Phases: applied}); err != nil {
		return model.PhaseCurrents{}, err
	}

	d, err := c.drivers.DriverFor(ctx, st)
	if err != nil {
		return model.PhaseCurrents{}, err
	}
	if err := d.CommandAC(ctx, st.ID, applied); err != nil {
		return model.PhaseCurrents{}, err
	}

	c.mu.Lock()
	c.lastDispatch[st.ID] = time.Now()
	c.mu.Unlock()

	err = c.st.Apply(store.SetStationSetpoint{
		StationID: st.ID,
		PowerKW:   PhasesToPower(cap, applied),
		Phases:    &applied,
		At:        time.Now(),
	})
	return applied, err
}

// SetPowerKW converts a power target to phase currents and dispatches it.
func (c *AC) SetPowerKW(ctx context.Context, st model.Station, kw float64) (float64, error) {
	cap, err := c.caps.Get(st.ID)
	if err != nil {
		return 0, err
	}
	applied, err := c.SetPhaseCurrents(ctx, st, PowerToPhases(cap, kw))
	if err != nil {
		return 0, err
	}
	return PhasesToPower(cap, applied), nil
}

// RampPhaseCurrents steps the station toward target at stepTime cadence
// until every phase is within 1 A of the target or the context ends.
// The loop always terminates: each step moves at least one step unit or
// finishes.
func (c *AC) RampPhaseCurrents(ctx context.Context, st model.Station, target model.PhaseCurrents, stepTime time.Duration) error {
	cap, err := c.caps.Get(st.ID)
	if err != nil {
		return err
	}
	if stepTime <= 0 {
		stepTime = cap.TypicalUpdateInterval
	}
	target = normalizePhases(cap, target)
	current := st.Phases

	for {
		next := model.PhaseCurrents{
			A: capability.RampStep(cap, current.A, target.A, stepTime),
			B: capability.RampStep(cap, current.B, target.B, stepTime),
			C: capability.RampStep(cap, current.C, target.C, stepTime),
		}
		applied, err := c.SetPhaseCurrents(ctx, st, next)
		if err != nil {
			return err
		}
		current = applied

		if withinOneAmp(current, target) {
			return nil
		}

		select {
		case <-ctx.Done():
			return fault.Wrap(fault.KindTimeout, ctx.Err(), "ramping station %q", st.ID)
		case <-time.After(stepTime):
		}
	}
}

// LastDispatch returns when the station last received a command.
func (c *AC) LastDispatch(stationID string) (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.lastDispatch[stationID]
	return t, ok
}

// normalizePhases zeroes unused phases for single-phase stations and
// clamps each live phase into the envelope.
func normalizePhases(cap capability.Capability, p model.PhaseCurrents) model.PhaseCurrents {
	if cap.Phases < 3 {
		p.B, p.C = 0, 0
	}
	return model.PhaseCurrents{
		A: capability.Clamp(cap, p.A),
		B: capability.Clamp(cap, p.B),
		C: capability.Clamp(cap, p.C),
	}
}

func withinOneAmp(a, b model.PhaseCurrents) bool {
	return math.Abs(a.A-b.A) <= 1 && math.Abs(a.B-b.B) <= 1 && math.Abs(a.C-b.C) <= 1
}
