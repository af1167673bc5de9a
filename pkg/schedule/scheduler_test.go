package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voltmesh/dlm-go/pkg/bus"
	"github.com/voltmesh/dlm-go/pkg/model"
	"github.com/voltmesh/dlm-go/pkg/store"
)

func newScheduler(t *testing.T) (*Scheduler, *store.Store) {
	t.Helper()
	events := bus.New()
	t.Cleanup(events.Close)
	st := store.New(events, nil)
	return New(st, nil), st
}

func TestAddValidatesCron(t *testing.T) {
	s, _ := newScheduler(t)

	require.NoError(t, s.Add(Window{
		ID: "night", StationID: "cp-1", Cron: "0 22 * * *", Duration: 8 * time.Hour,
	}))
	assert.Error(t, s.Add(Window{ID: "bad", StationID: "cp-1", Cron: "not cron", Duration: time.Hour}))
	assert.Error(t, s.Add(Window{ID: "nodur", StationID: "cp-1", Cron: "0 22 * * *"}))
	assert.Error(t, s.Add(Window{Cron: "0 22 * * *", Duration: time.Hour}))
	assert.Len(t, s.Windows(), 1)
}

func TestActiveInsideWindow(t *testing.T) {
	s, _ := newScheduler(t)
	require.NoError(t, s.Add(Window{
		ID: "night", StationID: "cp-1", Cron: "0 22 * * *",
		Duration: 8 * time.Hour, PriorityBoost: 2,
	}))

	midnight := time.Date(2026, 8, 26, 0, 30, 0, 0, time.UTC)
	active, boost := s.Active("cp-1", midnight)
	assert.True(t, active, "00:30 is inside the 22:00+8h window")
	assert.Equal(t, 2, boost)

	noon := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)
	active, _ = s.Active("cp-1", noon)
	assert.False(t, active)

	active, _ = s.Active("other", midnight)
	assert.False(t, active)
}

func TestSyncFlipsScheduledCharging(t *testing.T) {
	s, st := newScheduler(t)
	require.NoError(t, st.Apply(store.RegisterStation{
		Station: model.Station{ID: "cp-1", Class: model.ClassACThreePhase, Priority: 5},
	}))
	require.NoError(t, s.Add(Window{
		ID: "night", StationID: "cp-1", Cron: "0 22 * * *",
		Duration: 8 * time.Hour, PriorityBoost: 2,
	}))

	now := time.Date(2026, 8, 26, 23, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	s.Sync()

	got, _ := st.Station("cp-1")
	assert.True(t, got.ScheduledCharging)
	assert.Equal(t, 7, got.Priority)

	// Re-sync inside the window changes nothing.
	s.Sync()
	got, _ = st.Station("cp-1")
	assert.Equal(t, 7, got.Priority)

	// The boost is removed when the window closes.
	now = time.Date(2026, 8, 27, 12, 0, 0, 0, time.UTC)
	s.Sync()
	got, _ = st.Station("cp-1")
	assert.False(t, got.ScheduledCharging)
	assert.Equal(t, 5, got.Priority)
}
