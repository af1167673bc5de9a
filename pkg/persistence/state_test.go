package persistence

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voltmesh/dlm-go/pkg/bus"
	"github.com/voltmesh/dlm-go/pkg/model"
	"github.com/voltmesh/dlm-go/pkg/schedule"
	"github.com/voltmesh/dlm-go/pkg/store"
)

func newStore(t *testing.T) *store.Store {
	t.Helper()
	events := bus.New()
	t.Cleanup(events.Close)
	return store.New(events, nil)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	f := NewFile(filepath.Join(t.TempDir(), "state.json"))

	loaded, err := f.Load()
	require.NoError(t, err)
	assert.Nil(t, loaded, "missing file loads as empty state")

	state := &ServiceState{
		Stations: []model.Station{{ID: "cp-1", Class: model.ClassACThreePhase, Priority: 5}},
		Meters:   []model.Meter{{ID: "grid", Role: model.MeterRoleGrid}},
		FailSafe: map[string]model.FailSafeState{
			"cp-1": {StationID: "cp-1", Action: model.OfflineReduce, SafePowerKW: 5, LastKnownGoodKW: 11},
		},
		ZoneCaps: map[string]float64{"garage": 44},
		Capacity: store.CapacityConfig{MaxCapacityKW: 50, PeakThresholdKW: 45},
		Schedules: []schedule.Window{
			{ID: "night", StationID: "cp-1", Cron: "0 22 * * *", Duration: 8 * time.Hour},
		},
		PVProductionKW: 12,
	}
	require.NoError(t, f.Save(state))

	loaded, err = f.Load()
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, StateVersion, loaded.Version)
	assert.False(t, loaded.SavedAt.IsZero())
	assert.Equal(t, state.Stations, loaded.Stations)
	assert.Equal(t, state.FailSafe, loaded.FailSafe)
	assert.Equal(t, state.Schedules, loaded.Schedules)

	require.NoError(t, f.Clear())
	loaded, err = f.Load()
	require.NoError(t, err)
	assert.Nil(t, loaded)
	assert.NoError(t, f.Clear(), "clearing a missing file is fine")
}

func TestRestoreReplaysIntoStore(t *testing.T) {
	st := newStore(t)
	state := &ServiceState{
		Stations: []model.Station{{ID: "cp-1", Class: model.ClassDC, Priority: 7}},
		Meters:   []model.Meter{{ID: "grid", Role: model.MeterRoleGrid}},
		FailSafe: map[string]model.FailSafeState{
			"cp-1": {StationID: "cp-1", Action: model.OfflineMaintain, LastKnownGoodKW: 50},
		},
		ZoneCaps:       map[string]float64{"garage": 44},
		Capacity:       store.CapacityConfig{MaxCapacityKW: 50},
		PVProductionKW: 8,
	}

	require.NoError(t, Restore(st, state))

	snap := st.Snapshot()
	require.Len(t, snap.Stations, 1)
	assert.Equal(t, "cp-1", snap.Stations[0].ID)
	assert.Equal(t, 50.0, snap.FailSafe["cp-1"].LastKnownGoodKW)
	assert.Equal(t, 44.0, snap.ZoneCaps["garage"])
	assert.Equal(t, 50.0, snap.Capacity.MaxCapacityKW)
	assert.Equal(t, 8.0, snap.PVKW)

	assert.NoError(t, Restore(st, nil), "empty state restores as a no-op")
}

func TestAttachSavesOnMutation(t *testing.T) {
	st := newStore(t)
	f := NewFile(filepath.Join(t.TempDir(), "state.json"))
	Attach(f, st, nil, nil)

	require.NoError(t, st.Apply(store.RegisterStation{
		Station: model.Station{ID: "cp-1", Class: model.ClassDC},
	}))

	loaded, err := f.Load()
	require.NoError(t, err)
	require.NotNil(t, loaded)
	require.Len(t, loaded.Stations, 1)
	assert.Equal(t, "cp-1", loaded.Stations[0].ID)
}
