package persistence

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/voltmesh/dlm-go/pkg/model"
	"github.com/voltmesh/dlm-go/pkg/schedule"
	"github.com/voltmesh/dlm-go/pkg/store"
)

// StateVersion is the current version of the state file format.
const StateVersion = 1

// ServiceState is everything that survives a restart.
type ServiceState struct {
	// Version is the state file format version.
	Version int `json:"version"`

	// SavedAt is when the state was last saved.
	SavedAt time.Time `json:"saved_at"`

	Stations []model.Station `json:"stations,omitempty"`
	Meters   []model.Meter   `json:"meters,omitempty"`

	// FailSafe keys per-station fail-safe state by station ID. It
	// carries the last known good setpoints across restarts.
	FailSafe map[string]model.FailSafeState `json:"fail_safe,omitempty"`

	ZoneCaps map[string]float64   `json:"zone_caps,omitempty"`
	Capacity store.CapacityConfig `json:"capacity"`
	Topology *model.SiteTopology  `json:"topology,omitempty"`

	Schedules []schedule.Window `json:"schedules,omitempty"`

	PVProductionKW float64 `json:"pv_production_kw,omitempty"`
}

// File manages persistence of service state to a JSON file.
type File struct {
	mu   sync.Mutex
	path string
}

// NewFile creates a state file store.
func NewFile(path string) *File {
	return &File{path: path}
}

// Save persists the service state to disk.
func (f *File) Save(state *ServiceState) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	state.Version = StateVersion
	if state.SavedAt.IsZero() {
		state.SavedAt = time.Now()
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(f.path, data, 0644)
}

// Load reads the service state from disk.
// Returns nil, nil if the file doesn't exist (empty state).
func (f *File) Load() (*ServiceState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	state := &ServiceState{}
	if err := json.Unmarshal(data, state); err != nil {
		return nil, err
	}
	return state, nil
}

// Clear removes the state file.
func (f *File) Clear() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	err := os.Remove(f.path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// FromSnapshot builds a service state from a store snapshot.
func FromSnapshot(snap store.Snapshot, schedules []schedule.Window) *ServiceState {
	return &ServiceState{
		SavedAt:        time.Now(),
		Stations:       snap.Stations,
		Meters:         snap.Meters,
		FailSafe:       snap.FailSafe,
		ZoneCaps:       snap.ZoneCaps,
		Capacity:       snap.Capacity,
		Topology:       snap.Topology,
		Schedules:      schedules,
		PVProductionKW: snap.PVKW,
	}
}

// Restore replays a loaded state into the store. Stations come first so
// dependent fail-safe entries resolve.
func Restore(st *store.Store, state *ServiceState) error {
	if state == nil {
		return nil
	}

	if state.Capacity.MaxCapacityKW > 0 || state.Capacity.PeakThresholdKW > 0 {
		maxKW, peakKW := state.Capacity.MaxCapacityKW, state.Capacity.PeakThresholdKW
		if err := st.Apply(store.SetCapacityLimits{MaxCapacityKW: &maxKW, PeakThresholdKW: &peakKW}); err != nil {
			return err
		}
	}
	if state.Topology != nil {
		if err := st.Apply(store.SetTopology{Topology: *state.Topology}); err != nil {
			return err
		}
	}
	for zone, capKW := range state.ZoneCaps {
		kw := capKW
		if err := st.Apply(store.SetZoneCap{Zone: zone, CapKW: &kw}); err != nil {
			return err
		}
	}
	for _, s := range state.Stations {
		if err := st.Apply(store.RegisterStation{Station: s}); err != nil {
			return err
		}
	}
	for _, m := range state.Meters {
		if err := st.Apply(store.RegisterMeter{Meter: m}); err != nil {
			return err
		}
	}
	for _, fs := range state.FailSafe {
		if err := st.Apply(store.SetFailSafeState{State: fs}); err != nil {
			return err
		}
	}
	if state.PVProductionKW > 0 {
		if err := st.Apply(store.SetPVProduction{PowerKW: state.PVProductionKW}); err != nil {
			return err
		}
	}
	return nil
}

// Attach saves a snapshot on every store mutation. schedules supplies
// the current charging windows at save time; it may be nil.
func Attach(f *File, st *store.Store, schedules func() []schedule.Window, logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	log := logger.Named("persistence")
	st.OnCommit(func(snap store.Snapshot) {
		var wins []schedule.Window
		if schedules != nil {
			wins = schedules()
		}
		if err := f.Save(FromSnapshot(snap, wins)); err != nil {
			log.Error("saving state failed", zap.Error(err))
		}
	})
}
