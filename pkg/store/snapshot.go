package store

import (
	"time"

	"github.com/voltmesh/dlm-go/pkg/model"
)

// Snapshot is a consistent, read-only view of the store.
// All contained values are copies; mutating them has no effect.
type Snapshot struct {
	Version   uint64    `json:"version"`
	TakenAt   time.Time `json:"taken_at"`
	Stations  []model.Station
	Meters    []model.Meter
	FailSafe  map[string]model.FailSafeState
	ZoneCaps  map[string]float64
	Topology  *model.SiteTopology
	Capacity  CapacityConfig
	PVKW      float64
	ShedLevel int
}

// Snapshot returns a consistent copy of the current state.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() Snapshot {
	snap := Snapshot{
		Version:   s.version,
		TakenAt:   time.Now(),
		Stations:  make([]model.Station, 0, len(s.stations)),
		Meters:    make([]model.Meter, 0, len(s.meters)),
		FailSafe:  make(map[string]model.FailSafeState, len(s.failsafe)),
		ZoneCaps:  make(map[string]float64, len(s.zoneCaps)),
		Capacity:  s.capacity,
		PVKW:      s.pvKW,
		ShedLevel: s.shedLevel,
	}
	for _, st := range s.stations {
		snap.Stations = append(snap.Stations, *st)
	}
	for _, m := range s.meters {
		snap.Meters = append(snap.Meters, *m)
	}
	for id, fs := range s.failsafe {
		snap.FailSafe[id] = *fs
	}
	for z, cap := range s.zoneCaps {
		snap.ZoneCaps[z] = cap
	}
	if s.topology != nil {
		topo := *s.topology
		snap.Topology = &topo
	}
	return snap
}

// Station returns a copy of one station.
func (s *Store) Station(id string) (model.Station, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.stations[id]
	if !ok {
		return model.Station{}, false
	}
	return *st, true
}

// Meter returns a copy of one meter.
func (s *Store) Meter(id string) (model.Meter, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.meters[id]
	if !ok {
		return model.Meter{}, false
	}
	return *m, true
}

// AllocationHistory returns up to limit recent ticks, newest first.
func (s *Store) AllocationHistory(limit int) []model.AllocationTick {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.allocations.latest(limit)
}

// Violations returns up to limit recent violations, newest first.
func (s *Store) Violations(limit int) []model.Violation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.violations.latest(limit)
}

// Version returns the current mutation counter.
func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// GridPowerKW sums the grid-role meter readings.
func (snap Snapshot) GridPowerKW() float64 {
	var total float64
	for _, m := range snap.Meters {
		if m.Role == model.MeterRoleGrid {
			total += m.PowerKW
		}
	}
	return total
}

// SolarPowerKW sums the solar-role meter readings.
func (snap Snapshot) SolarPowerKW() float64 {
	var total float64
	for _, m := range snap.Meters {
		if m.Role == model.MeterRoleSolar {
			total += m.PowerKW
		}
	}
	return total
}

// BuildingConsumptionKW is grid import minus solar production, floored at 0.
// This is the admission figure used when computing available capacity.
func (snap Snapshot) BuildingConsumptionKW() float64 {
	c := snap.GridPowerKW() - snap.SolarPowerKW()
	if c < 0 {
		return 0
	}
	return c
}

// ChargingLoadKW sums the applied setpoints of active stations.
func (snap Snapshot) ChargingLoadKW() float64 {
	var total float64
	for _, st := range snap.Stations {
		if st.Status.IsActive() {
			total += st.CurrentPower
		}
	}
	return total
}

// MeasuredChargingKW sums the reported draw of active stations. Zero
// when no station has reported a measurement yet.
func (snap Snapshot) MeasuredChargingKW() float64 {
	var total float64
	for _, st := range snap.Stations {
		if st.Status.IsActive() {
			total += st.MeasuredPower
		}
	}
	return total
}

// ActiveStations returns stations in ready or charging state.
func (snap Snapshot) ActiveStations() []model.Station {
	out := make([]model.Station, 0, len(snap.Stations))
	for _, st := range snap.Stations {
		if st.Status.IsActive() {
			out = append(out, st)
		}
	}
	return out
}
