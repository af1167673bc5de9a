package capability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voltmesh/dlm-go/pkg/fault"
	"github.com/voltmesh/dlm-go/pkg/model"
)

type stubInterrogator struct {
	cap Capability
	err error
}

func (s stubInterrogator) Interrogate(context.Context, string) (Capability, error) {
	return s.cap, s.err
}

func TestDiscoverSuccess(t *testing.T) {
	r := NewRegistry(nil)
	want := FromProfile(ProfileDCFCMedium)

	got := r.Discover(context.Background(), "dc-1", stubInterrogator{cap: want})
	assert.Equal(t, "dc-1", got.StationID)
	assert.False(t, got.Fallback)
	assert.Equal(t, 150.0, got.MaxPowerKW)

	stored, err := r.Get("dc-1")
	require.NoError(t, err)
	assert.Equal(t, got, stored)
}

func TestDiscoverFallbackOnError(t *testing.T) {
	r := NewRegistry(nil)

	got := r.Discover(context.Background(), "cp-1", stubInterrogator{err: errors.New("timeout")})
	assert.True(t, got.Fallback)
	assert.Equal(t, 6.0, got.MinCurrentA)
	assert.Equal(t, 16.0, got.MaxCurrentA)
	assert.Equal(t, 3.7, got.MaxPowerKW)

	// Validate is defined after fallback discovery.
	err := r.Validate("cp-1", Command{Phases: model.PhaseCurrents{A: 10}})
	assert.NoError(t, err)
}

func TestGetNotDiscovered(t *testing.T) {
	r := NewRegistry(nil)
	_, err := r.Get("missing")
	assert.Equal(t, fault.KindNotDiscovered, fault.KindOf(err))
}

func TestValidateAC(t *testing.T) {
	r := NewRegistry(nil)
	cap := FromProfile(ProfileACL2ThreePhase)
	cap.MinUpdateInterval = 0 // not under test here
	r.storeForTest("cp-1", cap)

	tests := []struct {
		name   string
		phases model.PhaseCurrents
		kind   fault.Kind
	}{
		{"valid balanced", model.PhaseCurrents{A: 16, B: 16, C: 16}, fault.KindUnknown},
		{"zero phases paused", model.PhaseCurrents{}, fault.KindUnknown},
		{"below minimum", model.PhaseCurrents{A: 4}, fault.KindValidation},
		{"above maximum", model.PhaseCurrents{A: 40}, fault.KindValidation},
		{"step misaligned", model.PhaseCurrents{A: 10.5}, fault.KindValidation},
		{"negative", model.PhaseCurrents{A: -6}, fault.KindValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := r.Validate("cp-1", Command{Phases: tt.phases})
			if tt.kind == fault.KindUnknown {
				assert.NoError(t, err)
			} else {
				assert.Equal(t, tt.kind, fault.KindOf(err))
			}
		})
	}
}

func TestValidatePhaseCount(t *testing.T) {
	r := NewRegistry(nil)
	cap := FromProfile(ProfileACL2SinglePhase)
	cap.MinUpdateInterval = 0
	r.storeForTest("cp-1", cap)

	err := r.Validate("cp-1", Command{Phases: model.PhaseCurrents{A: 10, B: 10}})
	assert.Equal(t, fault.KindValidation, fault.KindOf(err))
}

func TestValidateDC(t *testing.T) {
	r := NewRegistry(nil)
	med := FromProfile(ProfileDCFCMedium)
	med.MinUpdateInterval = 0
	r.storeForTest("dc-1", med)

	assert.NoError(t, r.Validate("dc-1", Command{PowerKW: 50}))
	assert.NoError(t, r.Validate("dc-1", Command{PowerKW: 0}))
	assert.Equal(t, fault.KindValidation, fault.KindOf(r.Validate("dc-1", Command{PowerKW: 200})))
	assert.Equal(t, fault.KindValidation, fault.KindOf(r.Validate("dc-1", Command{PowerKW: 2})))

	// V2G export requires the bidirectional feature.
	assert.Equal(t, fault.KindValidation, fault.KindOf(r.Validate("dc-1", Command{PowerKW: -50})))

	hi := FromProfile(ProfileDCFCHigh)
	hi.MinUpdateInterval = 0
	r.storeForTest("dc-2", hi)
	assert.NoError(t, r.Validate("dc-2", Command{PowerKW: -50}))
}

func TestValidateMinInterval(t *testing.T) {
	r := NewRegistry(nil)
	cap := FromProfile(ProfileACL2ThreePhase)
	cap.MinUpdateInterval = time.Hour
	r.storeForTest("cp-1", cap)

	require.NoError(t, r.Validate("cp-1", Command{Phases: model.PhaseCurrents{A: 16}}))
	err := r.Validate("cp-1", Command{Phases: model.PhaseCurrents{A: 16}})
	assert.Equal(t, fault.KindValidation, fault.KindOf(err))
}

func TestRecommendClamps(t *testing.T) {
	r := NewRegistry(nil)
	r.storeForTest("cp-1", FromProfile(ProfileACL2ThreePhase))

	got, err := r.Recommend("cp-1", 40)
	require.NoError(t, err)
	assert.Equal(t, 32.0, got)

	got, _ = r.Recommend("cp-1", 4)
	assert.Equal(t, 0.0, got) // below minimum pauses, never sub-minimum positive

	got, _ = r.Recommend("cp-1", 17.8)
	assert.Equal(t, 17.0, got) // step aligned downward
}

func TestRampStep(t *testing.T) {
	cap := Capability{RampRate: 10}

	// Within rate: reach target.
	assert.InDelta(t, 5, RampStep(cap, 0, 5, time.Second), 1e-9)
	// Beyond rate: bounded.
	assert.InDelta(t, 10, RampStep(cap, 0, 150, time.Second), 1e-9)
	// Downward.
	assert.InDelta(t, 140, RampStep(cap, 150, 0, time.Second), 1e-9)
	// Zero rate passes through.
	assert.InDelta(t, 150, RampStep(Capability{}, 0, 150, time.Second), 1e-9)
}

func TestRemove(t *testing.T) {
	r := NewRegistry(nil)
	r.storeForTest("cp-1", Fallback())
	r.Remove("cp-1")
	_, err := r.Get("cp-1")
	assert.Equal(t, fault.KindNotDiscovered, fault.KindOf(err))
}

// storeForTest injects an envelope directly, bypassing discovery.
func (r *Registry) storeForTest(id string, cap Capability) {
	cap.StationID = id
	r.mu.Lock()
	r.caps[id] = cap
	r.mu.Unlock()
}
