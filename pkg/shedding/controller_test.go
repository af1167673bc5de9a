package shedding

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voltmesh/dlm-go/pkg/model"
)

// newTestController removes the time guards so every Evaluate counts,
// and steps a fake clock between calls.
func newTestController() *Controller {
	c := New(nil, nil)
	c.MinUpdateInterval = 0
	t := time.Now()
	c.now = func() time.Time {
		t = t.Add(3 * time.Second)
		return t
	}
	return c
}

// fill pushes the same ratio until the smoothing window is saturated.
func fill(c *Controller, load, capacity float64) int {
	level := 0
	for i := 0; i < windowSize; i++ {
		level, _ = c.Evaluate(load, capacity, nil)
	}
	return level
}

func TestNoSheddingBelowUpper(t *testing.T) {
	c := newTestController()
	assert.Equal(t, 0, fill(c, 90, 100))
}

func TestEscalationTable(t *testing.T) {
	tests := []struct {
		ratio float64
		level int
	}{
		{0.96, 1},
		{1.00, 2},
		{1.03, 3},
		{1.06, 4},
		{1.12, 5},
	}
	for _, tt := range tests {
		c := newTestController()
		assert.Equal(t, tt.level, fill(c, tt.ratio*100, 100), "ratio %.2f", tt.ratio)
	}
}

func TestHysteresisNoChatter(t *testing.T) {
	c := newTestController()
	require.Equal(t, 1, fill(c, 96, 100))

	// Inside the band (0.85..0.95) the level must hold.
	for i := 0; i < 10; i++ {
		level, actions := c.Evaluate(90, 100, nil)
		assert.Equal(t, 1, level)
		assert.Nil(t, actions)
	}

	// Below the lower threshold the level releases to 0.
	assert.Equal(t, 0, fill(c, 70, 100))

	// And holds at 0 inside the band.
	level, _ := c.Evaluate(90, 100, nil)
	assert.Equal(t, 0, level)
}

func TestSmoothingIgnoresSingleSpike(t *testing.T) {
	c := newTestController()
	fill(c, 50, 100)

	level, _ := c.Evaluate(200, 100, nil)
	assert.Equal(t, 0, level, "one spike must not move the smoothed mean over the threshold")
}

func TestMinUpdateIntervalGuard(t *testing.T) {
	c := New(nil, nil)
	c.MinUpdateInterval = time.Hour

	c.Evaluate(100, 100, nil)
	level, actions := c.Evaluate(200, 100, nil)
	assert.Equal(t, 0, level)
	assert.Nil(t, actions)
}

func TestTransitionActionsReduce(t *testing.T) {
	c := newTestController()
	stations := []model.Station{
		{ID: "low", Priority: 2, RequestedPower: 10},
		{ID: "high", Priority: 8, RequestedPower: 22},
	}

	var actions []StationAction
	var level int
	for i := 0; i < windowSize; i++ {
		if l, a := c.Evaluate(96, 100, stations); a != nil {
			level, actions = l, a
		}
	}
	require.Equal(t, 1, level)
	require.Len(t, actions, 1)
	assert.Equal(t, "low", actions[0].StationID)
	assert.Equal(t, ActionReduce, actions[0].Action)
	assert.InDelta(t, 8, actions[0].TargetKW, 1e-9) // 10 kW reduced by 20%
}

func TestTransitionActionsStopAndRestore(t *testing.T) {
	c := newTestController()
	stations := []model.Station{
		{ID: "low", Priority: 4, RequestedPower: 10},
		{ID: "vip", Priority: 9, RequestedPower: 22},
	}

	var actions []StationAction
	for i := 0; i < windowSize; i++ {
		if _, a := c.Evaluate(112, 100, stations); a != nil {
			actions = a
		}
	}
	require.Equal(t, 5, c.Level())
	require.Len(t, actions, 1, "priority 9 is above the level 5 threshold")
	assert.Equal(t, ActionStop, actions[0].Action)

	// De-escalation may step through intermediate levels; the final
	// transition to 0 restores the affected station.
	actions = nil
	for i := 0; i < windowSize*3; i++ {
		if l, a := c.Evaluate(50, 100, stations); l == 0 {
			actions = a
			break
		}
	}
	require.Equal(t, 0, c.Level())
	require.Len(t, actions, 1)
	assert.Equal(t, ActionRestore, actions[0].Action)
	assert.InDelta(t, 10, actions[0].TargetKW, 1e-9)
}

func TestOverride(t *testing.T) {
	c := newTestController()
	fill(c, 100, 100) // level 2: priority <= 5 reduced by 40%
	require.Equal(t, 2, c.Level())

	got, shed := c.Override(model.Station{ID: "a", Priority: 3}, 10)
	assert.True(t, shed)
	assert.InDelta(t, 6, got, 1e-9)

	got, shed = c.Override(model.Station{ID: "b", Priority: 7}, 10)
	assert.False(t, shed)
	assert.Equal(t, 10.0, got)
}

func TestZeroCapacityIsOverload(t *testing.T) {
	c := newTestController()
	assert.Equal(t, 5, fill(c, 10, 0))
	assert.Equal(t, 0, fill(c, 0, 0))
}
