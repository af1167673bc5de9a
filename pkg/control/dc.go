package control

import (
	"context"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/voltmesh/dlm-go/pkg/bus"
	"github.com/voltmesh/dlm-go/pkg/capability"
	"github.com/voltmesh/dlm-go/pkg/fault"
	"github.com/voltmesh/dlm-go/pkg/model"
	"github.com/voltmesh/dlm-go/pkg/store"
)

// Taper defaults.
const (
	DefaultTaperStartSoC = 80.0
	DefaultTaperRate     = 1.0
	taperFloor           = 0.1
)

// thermalBucket maps a measured temperature to a derating bucket and
// the power reduction factor for that bucket.
func thermalBucket(tempC float64) (bucket int, reduction float64) {
	switch {
	case tempC < 60:
		return 0, 0
	case tempC < 70:
		return 1, 0
	case tempC < 80:
		return 2, 0.20
	case tempC < 90:
		return 3, 0.50
	default:
		return 4, 0.80
	}
}

// DeratingChange is the payload published on thermal bucket crossings.
type DeratingChange struct {
	StationID    string  `json:"station_id"`
	Bucket       int     `json:"bucket"`
	Reduction    float64 `json:"reduction"`
	TemperatureC float64 `json:"temperature_c"`
}

// DCResult describes one pass of the DC setpoint pipeline.
type DCResult struct {
	TargetKW  float64   `json:"target_kw"`
	AppliedKW float64   `json:"applied_kw"`
	Ramped    bool      `json:"ramped"`
	Derated   bool      `json:"derated"`
	Tapered   bool      `json:"tapered"`
	At        time.Time `json:"timestamp"`
}

// AtTarget reports whether the pipeline reached the requested power.
func (r DCResult) AtTarget() bool {
	return math.Abs(r.AppliedKW-r.TargetKW) <= 0.1
}

// DC runs the fast-charge setpoint pipeline: validate, ramp limit,
// thermal derate, vehicle taper, dispatch.
type DC struct {
	caps    *capability.Registry
	drivers DriverSource
	st      *store.Store
	events  *bus.Bus
	logger  *zap.Logger

	mu           sync.Mutex
	taperStart   float64
	taperRate    float64
	lastBucket   map[string]int
	lastDispatch map[string]time.Time
}

// NewDC creates the DC fast-charge controller.
func NewDC(caps *capability.Registry, drivers DriverSource, st *store.Store, events *bus.Bus, logger *zap.Logger) *DC {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DC{
		caps:          caps,
		drivers:       drivers,
		st:            st,
		events:        events,
		logger:        logger.Named("control.dc"),
		taperStart:    DefaultTaperStartSoC,
		taperRate:     DefaultTaperRate,
		lastBucket:    make(map[string]int),
		lastDispatch:  make(map[string]time.Time),
	}
}

// SetPowerLimit applies the setpoint pipeline for targetKW. Negative
// targets request export and pass validation only on bidirectional
// stations. The applied power is persisted and the class command event
// emitted through the store.
func (c *DC) SetPowerLimit(ctx context.Context, st model.Station, targetKW float64) (DCResult, error) {
	cap, err := c.caps.Get(st.ID)
	if err != nil {
		return DCResult{}, err
	}
	if cap.Class.IsAC() {
		return DCResult{}, fault.New(fault.KindValidation, "station %q is not a DC station", st.ID)
	}

	target := capability.Clamp(cap, targetKW)
	if err := c.caps.Validate(st.ID, capability.Command{PowerKW: target}); err != nil {
		return DCResult{}, err
	}

	res := DCResult{TargetKW: target, At: time.Now()}

	c.mu.Lock()
	last, seen := c.lastDispatch[st.ID]
	c.mu.Unlock()
	dt := cap.TypicalUpdateInterval
	if seen {
		dt = time.Since(last)
	}

	applied := capability.RampStep(cap, st.CurrentPower, target, dt)
	if target != 0 && math.Abs(applied) < cap.MinPowerKW {
		// A ramp cannot start below the deliverable minimum.
		applied = math.Copysign(cap.MinPowerKW, target)
	}
	res.Ramped = applied != target

	if cap.Has(capability.FeatureThermalManagement) {
		applied = c.derate(st, applied, &res)
	}

	taperStart, taperRate := c.TaperConfig()
	if cap.Has(capability.FeatureVehicleTaper) && st.VehicleSoC >= taperStart {
		factor := 1 - (st.VehicleSoC-taperStart)/(100-taperStart)*taperRate
		if factor < taperFloor {
			factor = taperFloor
		}
		applied *= factor
		res.Tapered = true
	}

	// Derating and taper can land under the envelope minimum; re-clamp
	// so a sub-minimum value pauses the station instead of dispatching
	// power the station cannot deliver.
	applied = capability.Clamp(cap, applied)
	res.AppliedKW = applied

	d, err := c.drivers.DriverFor(ctx, st)
	if err != nil {
		return res, err
	}
	if err := d.CommandDC(ctx, st.ID, applied); err != nil {
		return res, err
	}

	c.mu.Lock()
	c.lastDispatch[st.ID] = time.Now()
	c.mu.Unlock()

	err = c.st.Apply(store.SetStationSetpoint{
		StationID: st.ID,
		PowerKW:   applied,
		At:        res.At,
	})
	return res, err
}

// derate applies the thermal bucket reduction and publishes a
// transition event once per bucket crossing.
func (c *DC) derate(st model.Station, kw float64, res *DCResult) float64 {
	bucket, reduction := thermalBucket(st.TemperatureC)

	c.mu.Lock()
	prev := c.lastBucket[st.ID]
	c.lastBucket[st.ID] = bucket
	c.mu.Unlock()

	if bucket != prev {
		c.logger.Info("thermal derating bucket changed",
			zap.String("station", st.ID),
			zap.Int("bucket", bucket),
			zap.Float64("reduction", reduction),
			zap.Float64("temperature_c", st.TemperatureC))
		if c.events != nil {
			c.events.Publish(bus.TopicThermalDerating, DeratingChange{
				StationID:    st.ID,
				Bucket:       bucket,
				Reduction:    reduction,
				TemperatureC: st.TemperatureC,
			})
		}
	}

	if reduction > 0 {
		res.Derated = true
		return kw * (1 - reduction)
	}
	return kw
}

// ConfigureTaper sets the vehicle taper curve. Start is the SoC
// percentage where tapering begins; rate scales how hard the factor
// falls toward the floor. Non-positive values keep the defaults.
func (c *DC) ConfigureTaper(startSoC, rate float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if startSoC > 0 && startSoC < 100 {
		c.taperStart = startSoC
	}
	if rate > 0 {
		c.taperRate = rate
	}
}

// TaperConfig returns the current taper curve parameters.
func (c *DC) TaperConfig() (startSoC, rate float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.taperStart, c.taperRate
}

// SetCurrentLimit converts a current limit to power using the last
// measured voltage, falling back to the nominal voltage when no
// measurement has arrived, and delegates to SetPowerLimit.
func (c *DC) SetCurrentLimit(ctx context.Context, st model.Station, amps float64) (DCResult, error) {
	cap, err := c.caps.Get(st.ID)
	if err != nil {
		return DCResult{}, err
	}
	voltage := st.MeasuredVoltage
	if voltage <= 0 {
		voltage = cap.NominalVoltage
	}
	return c.SetPowerLimit(ctx, st, amps*voltage/1000)
}

// RampTo repeatedly runs the pipeline at the station's typical update
// interval until the applied power reaches the target or the context
// ends. State is re-read from the store each step so derating and taper
// follow live measurements.
func (c *DC) RampTo(ctx context.Context, stationID string, targetKW float64) error {
	cap, err := c.caps.Get(stationID)
	if err != nil {
		return err
	}
	interval := cap.TypicalUpdateInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}

	for {
		st, ok := c.st.Station(stationID)
		if !ok {
			return fault.New(fault.KindValidation, "station %q not registered", stationID)
		}
		res, err := c.SetPowerLimit(ctx, st, targetKW)
		if err != nil {
			return err
		}
		if res.AtTarget() || res.Derated || res.Tapered {
			return nil
		}

		select {
		case <-ctx.Done():
			return fault.Wrap(fault.KindTimeout, ctx.Err(), "ramping station %q", stationID)
		case <-time.After(interval):
		}
	}
}
