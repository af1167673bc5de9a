package capability

import (
	"context"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/voltmesh/dlm-go/pkg/fault"
	"github.com/voltmesh/dlm-go/pkg/model"
)

// Interrogator asks a station for its envelope over its native protocol.
// Implemented by the driver layer.
type Interrogator interface {
	Interrogate(ctx context.Context, stationID string) (Capability, error)
}

// Command is a setpoint to validate against a station's envelope.
// Exactly one of Phases or PowerKW is meaningful, selected by the class.
type Command struct {
	// Phases is the per-phase current request for AC stations.
	Phases model.PhaseCurrents

	// PowerKW is the power request for DC stations. Negative means export.
	PowerKW float64
}

// Registry holds discovered capabilities per station.
type Registry struct {
	mu sync.RWMutex

	caps        map[string]Capability
	lastCommand map[string]time.Time
	logger      *zap.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		caps:        make(map[string]Capability),
		lastCommand: make(map[string]time.Time),
		logger:      logger.Named("capability"),
	}
}

// Discover interrogates the station and stores the result. On any failure
// the conservative fallback envelope is stored instead, flagged as such.
// Once Discover returns, Validate is defined for the station until Remove.
func (r *Registry) Discover(ctx context.Context, stationID string, in Interrogator) Capability {
	var cap Capability
	var err error

	if in != nil {
		cap, err = in.Interrogate(ctx, stationID)
	} else {
		err = fault.New(fault.KindNotDiscovered, "no interrogator for station %q", stationID)
	}
	if err != nil {
		r.logger.Warn("capability discovery failed, using fallback",
			zap.String("station", stationID), zap.Error(err))
		cap = Fallback()
	}

	cap.StationID = stationID
	cap.DiscoveredAt = time.Now()
	if cap.Features == nil {
		cap.Features = map[Feature]bool{}
	}

	r.mu.Lock()
	r.caps[stationID] = cap
	r.mu.Unlock()
	return cap
}

// Assign stores a profile-derived envelope without interrogation.
func (r *Registry) Assign(stationID string, p Profile) Capability {
	cap := FromProfile(p)
	cap.StationID = stationID
	cap.DiscoveredAt = time.Now()

	r.mu.Lock()
	r.caps[stationID] = cap
	r.mu.Unlock()
	return cap
}

// Get returns the envelope for a station.
func (r *Registry) Get(stationID string) (Capability, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cap, ok := r.caps[stationID]
	if !ok {
		return Capability{}, fault.New(fault.KindNotDiscovered, "no capability for station %q", stationID)
	}
	return cap, nil
}

// SetFeature flips one feature flag on a stored envelope.
func (r *Registry) SetFeature(stationID string, f Feature, on bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cap, ok := r.caps[stationID]
	if !ok {
		return fault.New(fault.KindNotDiscovered, "no capability for station %q", stationID)
	}
	features := make(map[Feature]bool, len(cap.Features)+1)
	for k, v := range cap.Features {
		features[k] = v
	}
	features[f] = on
	cap.Features = features
	r.caps[stationID] = cap
	return nil
}

// Remove forgets a station's envelope.
func (r *Registry) Remove(stationID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.caps, stationID)
	delete(r.lastCommand, stationID)
}

// All returns every stored capability.
func (r *Registry) All() []Capability {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Capability, 0, len(r.caps))
	for _, c := range r.caps {
		out = append(out, c)
	}
	return out
}

// Validate checks the command against the station's envelope:
// current bounds and step alignment per phase, power bounds for DC,
// phase count, and minimum command spacing. A passing command records
// its timestamp for the spacing check of the next one.
func (r *Registry) Validate(stationID string, cmd Command) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cap, ok := r.caps[stationID]
	if !ok {
		return fault.New(fault.KindNotDiscovered, "no capability for station %q", stationID)
	}

	now := time.Now()
	if last, ok := r.lastCommand[stationID]; ok && cap.MinUpdateInterval > 0 {
		if since := now.Sub(last); since < cap.MinUpdateInterval {
			return fault.New(fault.KindValidation,
				"command interval %s below minimum %s for station %q",
				since.Round(time.Millisecond), cap.MinUpdateInterval, stationID)
		}
	}

	if cap.Class.IsAC() {
		if err := validatePhases(cap, cmd.Phases); err != nil {
			return err
		}
	} else {
		if err := validatePower(cap, cmd.PowerKW); err != nil {
			return err
		}
	}

	r.lastCommand[stationID] = now
	return nil
}

func validatePhases(cap Capability, phases model.PhaseCurrents) error {
	values := []float64{phases.A, phases.B, phases.C}
	live := 0
	for i, v := range values {
		if v == 0 {
			continue
		}
		live++
		if v < 0 {
			return fault.New(fault.KindValidation, "phase %c current %.1fA is negative", 'A'+i, v)
		}
		if v < cap.MinCurrentA || v > cap.MaxCurrentA {
			return fault.New(fault.KindValidation,
				"phase %c current %.1fA outside [%.1f, %.1f]A", 'A'+i, v, cap.MinCurrentA, cap.MaxCurrentA)
		}
		if !stepAligned(v, cap.CurrentStepA) {
			return fault.New(fault.KindValidation,
				"phase %c current %.2fA not aligned to %.2fA step", 'A'+i, v, cap.CurrentStepA)
		}
	}
	if live > cap.Phases {
		return fault.New(fault.KindValidation,
			"%d live phases exceed station phase count %d", live, cap.Phases)
	}
	return nil
}

func validatePower(cap Capability, kw float64) error {
	if kw == 0 {
		return nil
	}
	if kw < 0 {
		if !cap.Has(FeatureBidirectional) {
			return fault.New(fault.KindValidation, "negative power requires the bidirectional feature")
		}
		kw = -kw
	}
	if kw < cap.MinPowerKW || kw > cap.MaxPowerKW {
		return fault.New(fault.KindValidation,
			"power %.1fkW outside [%.1f, %.1f]kW", kw, cap.MinPowerKW, cap.MaxPowerKW)
	}
	return nil
}

// Recommend clamps the desired value into the envelope and aligns it to
// the step size. For AC the value is amperes, for DC kilowatts.
// Values that cannot reach the minimum return 0 (session pause).
func (r *Registry) Recommend(stationID string, desired float64) (float64, error) {
	cap, err := r.Get(stationID)
	if err != nil {
		return 0, err
	}
	return Clamp(cap, desired), nil
}

// Clamp applies the envelope to a desired value without registry access.
func Clamp(cap Capability, desired float64) float64 {
	if cap.Class.IsAC() {
		if desired < cap.MinCurrentA {
			return 0
		}
		if desired > cap.MaxCurrentA {
			desired = cap.MaxCurrentA
		}
		return alignStep(desired, cap.CurrentStepA)
	}

	sign := 1.0
	if desired < 0 {
		if !cap.Has(FeatureBidirectional) {
			return 0
		}
		sign, desired = -1, -desired
	}
	if desired < cap.MinPowerKW {
		return 0
	}
	if desired > cap.MaxPowerKW {
		desired = cap.MaxPowerKW
	}
	return sign * desired
}

// RampLimit bounds the step from current toward target by the station's
// ramp rate over the elapsed interval.
func (r *Registry) RampLimit(stationID string, current, target float64, dt time.Duration) (float64, error) {
	cap, err := r.Get(stationID)
	if err != nil {
		return current, err
	}
	return RampStep(cap, current, target, dt), nil
}

// RampStep applies |delta| <= rate * dt without registry access.
func RampStep(cap Capability, current, target float64, dt time.Duration) float64 {
	if cap.RampRate <= 0 || dt <= 0 {
		return target
	}
	maxDelta := cap.RampRate * dt.Seconds()
	delta := target - current
	if math.Abs(delta) <= maxDelta {
		return target
	}
	if delta > 0 {
		return current + maxDelta
	}
	return current - maxDelta
}

func stepAligned(v, step float64) bool {
	if step <= 0 {
		return true
	}
	q := v / step
	return math.Abs(q-math.Round(q)) < 1e-6
}

func alignStep(v, step float64) float64 {
	if step <= 0 {
		return v
	}
	return math.Floor(v/step+1e-9) * step
}
