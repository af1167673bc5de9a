package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/voltmesh/dlm-go/pkg/breaker"
	"github.com/voltmesh/dlm-go/pkg/capability"
	"github.com/voltmesh/dlm-go/pkg/config"
	"github.com/voltmesh/dlm-go/pkg/driver"
	"github.com/voltmesh/dlm-go/pkg/fault"
	"github.com/voltmesh/dlm-go/pkg/metrics"
	"github.com/voltmesh/dlm-go/pkg/model"
	"github.com/voltmesh/dlm-go/pkg/store"
)

// driverSet builds and memoizes one guarded driver per protocol and
// endpoint. It implements control.DriverSource.
type driverSet struct {
	cfg     *config.Config
	metrics *metrics.Metrics
	logger  *zap.Logger

	mu       sync.Mutex
	pools    map[model.Protocol]*driver.Pool
	breakers map[string]*breaker.Breaker
}

func newDriverSet(cfg *config.Config, m *metrics.Metrics, logger *zap.Logger) *driverSet {
	return &driverSet{
		cfg:      cfg,
		metrics:  m,
		logger:   logger.Named("drivers"),
		pools:    make(map[model.Protocol]*driver.Pool),
		breakers: make(map[string]*breaker.Breaker),
	}
}

// DriverFor resolves the station's protocol adapter.
func (d *driverSet) DriverFor(ctx context.Context, st model.Station) (driver.Driver, error) {
	return d.driverFor(ctx, st.Protocol, st.Endpoint)
}

func (d *driverSet) driverFor(ctx context.Context, proto model.Protocol, endpoint string) (driver.Driver, error) {
	d.mu.Lock()
	pool, ok := d.pools[proto]
	if !ok {
		p := proto
		pool = driver.NewPool(func(ep string) (driver.Driver, error) {
			return d.build(p, ep)
		})
		d.pools[proto] = pool
	}
	d.mu.Unlock()

	return pool.Get(ctx, endpoint)
}

// build constructs the raw protocol driver and wraps it in a circuit
// breaker keyed by endpoint.
func (d *driverSet) build(proto model.Protocol, endpoint string) (driver.Driver, error) {
	var inner driver.Driver
	switch proto {
	case model.ProtocolModbus:
		inner = driver.NewModbus(driver.ModbusConfig{Endpoint: endpoint}, d.logger)
	case model.ProtocolMQTT:
		broker := d.cfg.MQTT.BrokerURL
		if broker == "" {
			broker = endpoint
		}
		inner = driver.NewMQTT(driver.MQTTConfig{
			BrokerURL: broker,
			ClientID:  d.cfg.MQTT.ClientID,
			Username:  d.cfg.MQTT.Username,
			Password:  d.cfg.MQTT.Password,
		}, d.logger)
	case model.ProtocolOCPP:
		inner = driver.NewOCPP(driver.OCPPConfig{Endpoint: endpoint}, d.logger)
	case model.ProtocolSim:
		inner = driver.NewSim()
	default:
		return nil, fault.New(fault.KindValidation, "unknown protocol %q", proto)
	}

	b := breaker.New(breaker.Config{
		Name:        string(proto) + ":" + endpoint,
		CallTimeout: 10 * time.Second,
	}, d.logger)
	b.OnStateChange(func(name string, _, to gobreaker.State) {
		if d.metrics != nil {
			d.metrics.BreakerState.WithLabelValues(name).Set(breakerStateValue(to))
		}
	})

	d.mu.Lock()
	d.breakers[endpoint] = b
	d.mu.Unlock()

	return driver.NewGuarded(inner, b, nil), nil
}

func breakerStateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	default:
		return 2
	}
}

// breakerStates snapshots the per-endpoint breakers for the API.
func (d *driverSet) breakerStates() map[string]*breaker.Breaker {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string]*breaker.Breaker, len(d.breakers))
	for ep, b := range d.breakers {
		out[ep] = b
	}
	return out
}

func (d *driverSet) closeAll() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	d.mu.Lock()
	pools := make([]*driver.Pool, 0, len(d.pools))
	for _, p := range d.pools {
		pools = append(pools, p)
	}
	d.mu.Unlock()
	for _, p := range pools {
		p.CloseAll(ctx)
	}
}

// provisioner connects drivers and wires observations into the store.
type provisioner struct {
	st      *store.Store
	caps    *capability.Registry
	drivers *driverSet
	cfg     *config.Config
	logger  *zap.Logger
}

func newProvisioner(st *store.Store, caps *capability.Registry, drivers *driverSet,
	cfg *config.Config, logger *zap.Logger) *provisioner {
	return &provisioner{
		st:      st,
		caps:    caps,
		drivers: drivers,
		cfg:     cfg,
		logger:  logger.Named("provision"),
	}
}

// provisionAll brings up every station and meter in the store. Failures
// are logged per device so one dead endpoint cannot block startup.
func (p *provisioner) provisionAll(ctx context.Context) error {
	snap := p.st.Snapshot()
	var failed int
	for _, st := range snap.Stations {
		if err := p.provisionStation(ctx, st); err != nil {
			p.logger.Warn("station provisioning failed",
				zap.String("station", st.ID), zap.Error(err))
			failed++
		}
	}
	for _, m := range snap.Meters {
		if err := p.provisionMeter(ctx, m); err != nil {
			p.logger.Warn("meter provisioning failed",
				zap.String("meter", m.ID), zap.Error(err))
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d device(s) failed to provision", failed)
	}
	return nil
}

// provisionStation connects the driver, assigns the capability
// envelope, and subscribes to measurements.
func (p *provisioner) provisionStation(ctx context.Context, st model.Station) error {
	d, err := p.drivers.DriverFor(ctx, st)
	if err != nil {
		return err
	}
	if err := d.Connect(ctx); err != nil {
		return err
	}

	if _, err := p.caps.Get(st.ID); err != nil {
		p.caps.Assign(st.ID, profileForClass(st.Class))
	}

	return d.ObserveStation(st.ID, func(obs model.StationObservation) {
		if err := p.st.Apply(store.ObserveStationMeasurement{Observation: obs}); err != nil {
			p.logger.Warn("station observation rejected",
				zap.String("station", obs.StationID), zap.Error(err))
		}
	})
}

func (p *provisioner) provisionMeter(ctx context.Context, m model.Meter) error {
	d, err := p.drivers.driverFor(ctx, m.Protocol, m.Endpoint)
	if err != nil {
		return err
	}
	if err := d.Connect(ctx); err != nil {
		return err
	}

	return d.ObserveMeter(m.ID, func(obs model.MeterObservation) {
		if err := p.st.Apply(store.ObserveMeterMeasurement{Observation: obs}); err != nil {
			p.logger.Warn("meter observation rejected",
				zap.String("meter", obs.MeterID), zap.Error(err))
		}
	})
}

// deprovisionStation drops the capability record. The pooled driver
// stays connected; other stations may share the endpoint.
func (p *provisioner) deprovisionStation(_ context.Context, st model.Station) {
	p.caps.Remove(st.ID)
}

func profileForClass(c model.StationClass) capability.Profile {
	switch c {
	case model.ClassACSinglePhase:
		return capability.ProfileACL2SinglePhase
	case model.ClassACThreePhase:
		return capability.ProfileACL2ThreePhase
	default:
		return capability.ProfileDCFCMedium
	}
}

func stationFromConfig(sc config.StationConfig, cfg *config.Config) (model.Station, error) {
	class, err := classFromString(sc.Class)
	if err != nil {
		return model.Station{}, err
	}

	voltage := cfg.Site.ServiceVoltageV
	if class == model.ClassACThreePhase || class == model.ClassDC {
		voltage = cfg.Site.ServiceVoltageV * 1.732
	}

	priority := sc.Priority
	if priority == 0 {
		priority = 5
	}

	return model.Station{
		ID:             sc.ID,
		Name:           sc.Name,
		Zone:           sc.Zone,
		Class:          class,
		NominalVoltage: voltage,
		Protocol:       model.Protocol(sc.Protocol),
		Endpoint:       sc.Endpoint,
		Priority:       priority,
	}, nil
}

func classFromString(s string) (model.StationClass, error) {
	switch s {
	case "ac_single_phase":
		return model.ClassACSinglePhase, nil
	case "ac_three_phase":
		return model.ClassACThreePhase, nil
	case "dc":
		return model.ClassDC, nil
	default:
		return 0, fault.New(fault.KindValidation, "unknown station class %q", s)
	}
}

func meterFromConfig(mc config.MeterConfig) model.Meter {
	return model.Meter{
		ID:       mc.ID,
		Role:     model.MeterRole(mc.Role),
		Protocol: model.Protocol(mc.Protocol),
		Endpoint: mc.Endpoint,
	}
}

// siteTopology derives a service-only topology from the site section.
func siteTopology(cfg *config.Config) model.SiteTopology {
	voltage := cfg.Site.ServiceVoltageV
	phases := cfg.Site.ServicePhases

	maxKW := cfg.Site.MaxServiceCurrentA * voltage / 1000
	if phases == 3 {
		maxKW *= 3
	}

	return model.SiteTopology{
		Service: model.ServiceEntrance{
			Phases:             phases,
			MaxCurrentA:        cfg.Site.MaxServiceCurrentA,
			MaxPowerKW:         maxKW,
			VoltageNominal:     voltage,
			VoltageTolerance:   0.10,
			FrequencyNominal:   cfg.Site.ServiceFrequencyHz,
			FrequencyTolerance: 0.5,
			MinPowerFactor:     cfg.Site.MinPowerFactor,
			ContinuousFactor:   cfg.Site.ContinuousFactor,
			MaxPhaseImbalance:  cfg.Site.MaxPhaseImbalance,
		},
	}
}
