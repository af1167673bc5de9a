package constraints

import (
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/voltmesh/dlm-go/pkg/control"
	"github.com/voltmesh/dlm-go/pkg/model"
	"github.com/voltmesh/dlm-go/pkg/store"
)

// Default envelope parameters.
const (
	DefaultContinuousFactor = 0.80
	breakerWarningFraction  = 0.80
	criticalVoltageDev      = 0.10
)

// Evaluator audits measurements against the configured topology.
type Evaluator struct {
	mu sync.Mutex

	topo         model.SiteTopology
	configured   bool
	service      ServiceMeasurements
	feeders      map[string]FeederMeasurements
	transformers map[string]TransformerMeasurements

	// bandSince tracks when each transformer entered its current
	// thermal-curve band, for the time-at-load-factor limit.
	bandSince map[string]bandEntry

	st     *store.Store
	logger *zap.Logger
	now    func() time.Time
}

type bandEntry struct {
	band  int
	since time.Time
}

// New creates an evaluator recording violations through the store.
// st may be nil, in which case violations are only returned.
func New(st *store.Store, logger *zap.Logger) *Evaluator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Evaluator{
		feeders:      make(map[string]FeederMeasurements),
		transformers: make(map[string]TransformerMeasurements),
		bandSince:    make(map[string]bandEntry),
		st:           st,
		logger:       logger.Named("constraints"),
		now:          time.Now,
	}
}

// SetTopology installs or replaces the site topology.
func (e *Evaluator) SetTopology(topo model.SiteTopology) {
	e.mu.Lock()
	e.topo = topo
	e.configured = true
	e.bandSince = make(map[string]bandEntry)
	e.mu.Unlock()
}

// Configured reports whether a topology has been installed.
func (e *Evaluator) Configured() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.configured
}

// Topology returns the installed topology.
func (e *Evaluator) Topology() model.SiteTopology {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.topo
}

// AvailableCapacityKW computes the power available for charging:
// service headroom derated by the continuous factor, then the minimum
// against every feeder and transformer headroom. Floored at zero.
func (e *Evaluator) AvailableCapacityKW() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.configured {
		return 0
	}

	cf := e.topo.Service.ContinuousFactor
	if cf <= 0 {
		cf = DefaultContinuousFactor
	}
	avail := (e.topo.Service.MaxPowerKW - e.service.PowerKW) * cf

	for _, f := range e.topo.Feeders {
		if f.MaxPowerKW <= 0 {
			continue
		}
		headroom := f.MaxPowerKW - e.feeders[f.ID].PowerKW
		if headroom < avail {
			avail = headroom
		}
	}
	for _, tr := range e.topo.Transformers {
		if tr.RatedKVA <= 0 {
			continue
		}
		tcf := tr.ContinuousFactor
		if tcf <= 0 {
			tcf = DefaultContinuousFactor
		}
		headroom := tr.RatedKVA*tcf - e.transformers[tr.ID].LoadKVA
		if headroom < avail {
			avail = headroom
		}
	}

	if avail < 0 {
		return 0
	}
	return avail
}

// UpdateServiceMeasurements stores the reading and runs the service
// entrance checks, returning any violations found.
func (e *Evaluator) UpdateServiceMeasurements(m ServiceMeasurements) []model.Violation {
	e.mu.Lock()
	if m.At.IsZero() {
		m.At = e.now()
	}
	e.service = m
	svc := e.topo.Service
	configured := e.configured
	e.mu.Unlock()

	if !configured {
		return nil
	}

	var out []model.Violation
	add := func(typ string, sev model.ViolationSeverity, measured, limit float64, msg string) {
		out = append(out, model.Violation{
			Component: "service", Type: typ, Severity: sev,
			Measured: measured, Limit: limit, Message: msg, Timestamp: m.At,
		})
	}

	if svc.MaxPowerKW > 0 && m.PowerKW > svc.MaxPowerKW {
		add("power_limit", model.SeverityCritical, m.PowerKW, svc.MaxPowerKW,
			"service power above limit")
	}
	if svc.MaxCurrentA > 0 {
		for i, v := range []float64{m.Currents.A, m.Currents.B, m.Currents.C} {
			if v > svc.MaxCurrentA {
				add("phase_current", model.SeverityCritical, v, svc.MaxCurrentA,
					fmt.Sprintf("phase %c current above service limit", 'A'+i))
			}
		}
	}
	if svc.MaxPhaseImbalance > 0 {
		if imb := control.Imbalance(m.Currents); imb > svc.MaxPhaseImbalance {
			add("imbalance", model.SeverityWarning, imb, svc.MaxPhaseImbalance,
				"service phase imbalance above limit")
		}
	}
	if svc.MinPowerFactor > 0 && m.PowerFactor > 0 && m.PowerFactor < svc.MinPowerFactor {
		add("power_factor", model.SeverityWarning, m.PowerFactor, svc.MinPowerFactor,
			"power factor below minimum")
	}
	if svc.VoltageNominal > 0 && m.VoltageV > 0 {
		dev := math.Abs(m.VoltageV-svc.VoltageNominal) / svc.VoltageNominal
		switch {
		case dev > criticalVoltageDev:
			add("voltage", model.SeverityCritical, m.VoltageV, svc.VoltageNominal,
				"voltage deviation above 10%")
		case svc.VoltageTolerance > 0 && dev > svc.VoltageTolerance:
			add("voltage", model.SeverityWarning, m.VoltageV, svc.VoltageNominal,
				"voltage outside tolerance")
		}
	}
	if svc.FrequencyNominal > 0 && m.FrequencyHz > 0 && svc.FrequencyTolerance > 0 {
		dev := math.Abs(m.FrequencyHz - svc.FrequencyNominal)
		switch {
		case dev > 2*svc.FrequencyTolerance:
			add("frequency", model.SeverityCritical, m.FrequencyHz, svc.FrequencyNominal,
				"frequency far outside tolerance")
		case dev > svc.FrequencyTolerance:
			add("frequency", model.SeverityWarning, m.FrequencyHz, svc.FrequencyNominal,
				"frequency outside tolerance")
		}
	}

	e.record(out)
	return out
}

// UpdateFeederMeasurements stores the reading and runs the feeder checks.
func (e *Evaluator) UpdateFeederMeasurements(feederID string, m FeederMeasurements) []model.Violation {
	e.mu.Lock()
	if m.At.IsZero() {
		m.At = e.now()
	}
	e.feeders[feederID] = m

	var feeder *model.Feeder
	for i := range e.topo.Feeders {
		if e.topo.Feeders[i].ID == feederID {
			feeder = &e.topo.Feeders[i]
			break
		}
	}
	e.mu.Unlock()

	if feeder == nil {
		return nil
	}

	component := "feeder:" + feederID
	var out []model.Violation
	add := func(typ string, sev model.ViolationSeverity, limit float64, msg string) {
		out = append(out, model.Violation{
			Component: component, Type: typ, Severity: sev,
			Measured: m.CurrentA, Limit: limit, Message: msg, Timestamp: m.At,
		})
	}

	if feeder.MaxCurrentA > 0 && m.CurrentA > feeder.MaxCurrentA {
		add("current_limit", model.SeverityCritical, feeder.MaxCurrentA,
			"feeder current above limit")
	}
	if feeder.BreakerRatingA > 0 && m.CurrentA > breakerWarningFraction*feeder.BreakerRatingA {
		add("breaker_rating", model.SeverityWarning, feeder.BreakerRatingA,
			"feeder current above 80% of breaker rating")
	}
	if feeder.CableAmpacityA > 0 && m.CurrentA > feeder.CableAmpacityA {
		add("cable_ampacity", model.SeverityCritical, feeder.CableAmpacityA,
			"feeder current above cable ampacity")
	}

	e.record(out)
	return out
}

// UpdateTransformerMeasurements stores the reading and runs the
// transformer checks, including the thermal-curve time limit.
func (e *Evaluator) UpdateTransformerMeasurements(transformerID string, m TransformerMeasurements) []model.Violation {
	e.mu.Lock()
	if m.At.IsZero() {
		m.At = e.now()
	}
	e.transformers[transformerID] = m

	var tr *model.Transformer
	for i := range e.topo.Transformers {
		if e.topo.Transformers[i].ID == transformerID {
			tr = &e.topo.Transformers[i]
			break
		}
	}
	if tr == nil {
		e.mu.Unlock()
		return nil
	}

	component := "transformer:" + transformerID
	var out []model.Violation
	add := func(typ string, sev model.ViolationSeverity, measured, limit float64, msg string) {
		out = append(out, model.Violation{
			Component: component, Type: typ, Severity: sev,
			Measured: measured, Limit: limit, Message: msg, Timestamp: m.At,
		})
	}

	loadFactor := 0.0
	if tr.RatedKVA > 0 {
		loadFactor = m.LoadKVA / tr.RatedKVA
	}
	if loadFactor > 1 {
		add("load_factor", model.SeverityCritical, loadFactor, 1,
			"transformer loaded above rating")
	}

	// Time-at-load-factor limit from the thermal curve. The clock
	// restarts whenever the load moves to a different band.
	if band, maxMinutes := thermalBand(tr.ThermalCurve, loadFactor); band >= 0 {
		entry, ok := e.bandSince[transformerID]
		if !ok || entry.band != band {
			entry = bandEntry{band: band, since: m.At}
			e.bandSince[transformerID] = entry
		}
		if minutes := m.At.Sub(entry.since).Minutes(); minutes > maxMinutes {
			add("thermal_curve", model.SeverityCritical, minutes, maxMinutes,
				fmt.Sprintf("load factor %.2f sustained beyond thermal limit", loadFactor))
		}
	} else {
		delete(e.bandSince, transformerID)
	}

	if tr.MaxTemperatureC > 0 && m.TemperatureC > tr.MaxTemperatureC {
		add("temperature", model.SeverityCritical, m.TemperatureC, tr.MaxTemperatureC,
			"transformer temperature above maximum")
	}
	e.mu.Unlock()

	e.record(out)
	return out
}

// thermalBand returns the index and time limit of the highest curve
// point at or below the load factor, or -1 when none applies.
func thermalBand(curve []model.ThermalCurvePoint, loadFactor float64) (int, float64) {
	band, limit := -1, 0.0
	best := -1.0
	for i, p := range curve {
		if loadFactor >= p.LoadFactor && p.LoadFactor > best {
			band, limit, best = i, p.MaxMinutes, p.LoadFactor
		}
	}
	return band, limit
}

func (e *Evaluator) record(violations []model.Violation) {
	for _, v := range violations {
		e.logger.Warn("constraint violation",
			zap.String("component", v.Component),
			zap.String("type", v.Type),
			zap.String("severity", v.Severity.String()),
			zap.Float64("measured", v.Measured),
			zap.Float64("limit", v.Limit))
		if e.st != nil {
			if err := e.st.Apply(store.RecordViolation{Violation: v}); err != nil {
				e.logger.Error("recording violation failed", zap.Error(err))
			}
		}
	}
}
