package allocator

import (
	"context"
	"math"
	"sort"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/voltmesh/dlm-go/pkg/capability"
	"github.com/voltmesh/dlm-go/pkg/constraints"
	"github.com/voltmesh/dlm-go/pkg/control"
	"github.com/voltmesh/dlm-go/pkg/model"
	"github.com/voltmesh/dlm-go/pkg/shedding"
	"github.com/voltmesh/dlm-go/pkg/store"
)

// Defaults for the balancing loop.
const (
	DefaultInterval = 5 * time.Second

	// minDispatchDeltaKW suppresses dispatches that would not move the
	// setpoint meaningfully.
	minDispatchDeltaKW = 0.1
)

// Dispatcher applies a decided power to a station and reports what was
// actually applied after ramping and derating. Satisfied by
// control.Dispatcher.
type Dispatcher interface {
	Dispatch(ctx context.Context, st model.Station, targetKW float64) (float64, error)
}

// Allocator is the periodic balancing engine.
type Allocator struct {
	st     *store.Store
	caps   *capability.Registry
	cons   *constraints.Evaluator
	shed   *shedding.Controller
	disp   Dispatcher
	logger *zap.Logger

	// Interval is the tick period.
	Interval time.Duration

	// MaxStationKW caps any single allocation regardless of the station
	// capability. Zero means no site-level per-station limit.
	MaxStationKW float64

	// IncludePV adds PV production to the available capacity. Off when
	// the site has no PV system or excess charging is disabled.
	IncludePV bool

	tickID atomic.Uint64
}

// New creates the allocator. cons may be nil when no site topology is
// configured.
func New(st *store.Store, caps *capability.Registry, cons *constraints.Evaluator,
	shed *shedding.Controller, disp Dispatcher, logger *zap.Logger) *Allocator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Allocator{
		st:        st,
		caps:      caps,
		cons:      cons,
		shed:      shed,
		disp:      disp,
		logger:    logger.Named("allocator"),
		Interval:  DefaultInterval,
		IncludePV: true,
	}
}

// Run ticks until the context ends. The in-flight tick completes before
// Run returns.
func (a *Allocator) Run(ctx context.Context) error {
	ticker := time.NewTicker(a.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			a.Tick(ctx)
		}
	}
}

// Tick runs one balancing pass and records it.
func (a *Allocator) Tick(ctx context.Context) model.AllocationTick {
	snap := a.st.Snapshot()
	tick := model.AllocationTick{
		ID:        a.tickID.Add(1),
		Timestamp: time.Now(),
	}

	available := snap.Capacity.MaxCapacityKW - snap.BuildingConsumptionKW()
	if a.IncludePV {
		available += snap.PVKW
	}
	if available < 0 {
		available = 0
	}
	if a.cons != nil && a.cons.Configured() {
		if c := a.cons.AvailableCapacityKW(); c < available {
			available = c
		}
	}
	tick.AvailableKW = available

	active := snap.ActiveStations()
	if a.shed != nil {
		// Prefer the metered draw over the sum of setpoints; vehicles
		// often pull less than they were granted.
		load := snap.ChargingLoadKW()
		if measured := snap.MeasuredChargingKW(); measured > 0 {
			load = measured
		}
		tick.SheddingLevel, _ = a.shed.Evaluate(load, available, active)
	}

	if len(active) == 0 {
		a.record(tick)
		return tick
	}

	orderStations(active)
	allocs := a.distribute(active, available)
	a.applyZoneCaps(active, allocs, snap.ZoneCaps)
	a.applyOverrides(active, allocs, snap.FailSafe)

	tick.Stations = a.dispatch(ctx, active, allocs)
	for _, sa := range tick.Stations {
		tick.AllocatedKW += sa.PowerKW
	}

	a.record(tick)
	return tick
}

// orderStations sorts by priority (desc), user class (asc), scheduled
// charging first, then charging start time (earliest first; stations
// without a session queue behind those already charging).
func orderStations(stations []model.Station) {
	sort.SliceStable(stations, func(i, j int) bool {
		a, b := stations[i], stations[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if a.UserPriorityClass != b.UserPriorityClass {
			return a.UserPriorityClass < b.UserPriorityClass
		}
		if a.ScheduledCharging != b.ScheduledCharging {
			return a.ScheduledCharging
		}
		switch {
		case a.ChargingStartedAt.IsZero():
			return false
		case b.ChargingStartedAt.IsZero():
			return true
		default:
			return a.ChargingStartedAt.Before(b.ChargingStartedAt)
		}
	})
}

// distribute runs the two-pass allocation over the ordered stations.
func (a *Allocator) distribute(active []model.Station, available float64) []model.StationAllocation {
	allocs := make([]model.StationAllocation, len(active))
	mins := make([]float64, len(active))
	maxs := make([]float64, len(active))
	reqs := make([]float64, len(active))

	for i, st := range active {
		allocs[i] = model.StationAllocation{StationID: st.ID, Reason: model.ReasonAllocated}
		mins[i], maxs[i] = a.envelope(st)
		if a.MaxStationKW > 0 && maxs[i] > a.MaxStationKW {
			maxs[i] = a.MaxStationKW
			if mins[i] > maxs[i] {
				mins[i] = maxs[i]
			}
		}
		reqs[i] = st.RequestedPower
		if reqs[i] <= 0 {
			reqs[i] = maxs[i]
		}
	}

	// Pass A: minimum guarantee in priority order.
	for i := range active {
		need := math.Min(mins[i], reqs[i])
		if need > 0 && available >= need {
			allocs[i].PowerKW = need
			available -= need
		} else {
			allocs[i].PowerKW = 0
			allocs[i].Reason = model.ReasonInsufficientCapacity
		}
	}

	// Pass B: surplus top-up for stations that got their minimum.
	for i := range active {
		if available <= 0 {
			break
		}
		if allocs[i].PowerKW <= 0 {
			continue
		}
		want := math.Min(reqs[i], maxs[i]) - allocs[i].PowerKW
		if want <= 0 {
			continue
		}
		grant := math.Min(want, available)
		allocs[i].PowerKW += grant
		available -= grant
	}
	return allocs
}

// envelope returns the minimum and maximum power of a station from its
// discovered capability.
func (a *Allocator) envelope(st model.Station) (minKW, maxKW float64) {
	cap, err := a.caps.Get(st.ID)
	if err != nil {
		cap = capability.Fallback()
	}
	if cap.Class.IsAC() {
		phases := model.PhaseCurrents{A: cap.MinCurrentA}
		full := model.PhaseCurrents{A: cap.MaxCurrentA}
		if cap.Phases >= 3 {
			phases.B, phases.C = cap.MinCurrentA, cap.MinCurrentA
			full.B, full.C = cap.MaxCurrentA, cap.MaxCurrentA
		}
		return control.PhasesToPower(cap, phases), control.PhasesToPower(cap, full)
	}
	return cap.MinPowerKW, cap.MaxPowerKW
}

// applyZoneCaps scales zones whose total exceeds the configured cap.
// A scaled station falling below its minimum is clamped to zero.
func (a *Allocator) applyZoneCaps(active []model.Station, allocs []model.StationAllocation, caps map[string]float64) {
	if len(caps) == 0 {
		return
	}

	totals := make(map[string]float64)
	for i, st := range active {
		if st.Zone != "" {
			totals[st.Zone] += allocs[i].PowerKW
		}
	}

	for zone, capKW := range caps {
		total := totals[zone]
		if total <= capKW || total <= 0 {
			continue
		}
		scale := capKW / total
		for i, st := range active {
			if st.Zone != zone || allocs[i].PowerKW <= 0 {
				continue
			}
			scaled := allocs[i].PowerKW * scale
			minKW, _ := a.envelope(st)
			if scaled < minKW {
				scaled = 0
			}
			allocs[i].PowerKW = scaled
			allocs[i].Reason = model.ReasonZoneCap
		}
	}
}

// applyOverrides applies shedding, then fail-safe, which supersedes all.
func (a *Allocator) applyOverrides(active []model.Station, allocs []model.StationAllocation, failsafe map[string]model.FailSafeState) {
	for i, st := range active {
		if a.shed != nil {
			if adjusted, shed := a.shed.Override(st, allocs[i].PowerKW); shed {
				// Shedding never raises an allocation.
				if adjusted < allocs[i].PowerKW {
					allocs[i].PowerKW = adjusted
				}
				allocs[i].Reason = model.ReasonShedding
			}
		}
		if fs, ok := failsafe[st.ID]; ok && fs.Active {
			allocs[i].PowerKW = fs.Target()
			allocs[i].Reason = model.ReasonFailSafe
		}
	}
}

// dispatch pushes changed setpoints through the controllers. Errors are
// logged and recorded per station; the tick continues.
func (a *Allocator) dispatch(ctx context.Context, active []model.Station, allocs []model.StationAllocation) []model.StationAllocation {
	for i, st := range active {
		if math.Abs(allocs[i].PowerKW-st.CurrentPower) <= minDispatchDeltaKW {
			continue
		}
		applied, err := a.disp.Dispatch(ctx, st, allocs[i].PowerKW)
		if err != nil {
			a.logger.Warn("dispatch failed",
				zap.String("station", st.ID),
				zap.Float64("target_kw", allocs[i].PowerKW),
				zap.Error(err))
			// The station keeps its previous setpoint; record that, not
			// the undelivered target.
			allocs[i].PowerKW = st.CurrentPower
			allocs[i].Reason = model.ReasonDispatchError
			continue
		}
		allocs[i].PowerKW = applied
	}
	return allocs
}

func (a *Allocator) record(tick model.AllocationTick) {
	if err := a.st.Apply(store.RecordAllocation{Tick: tick}); err != nil {
		a.logger.Error("recording allocation tick failed", zap.Error(err))
	}
}
