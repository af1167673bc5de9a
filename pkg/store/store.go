package store

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/voltmesh/dlm-go/pkg/bus"
	"github.com/voltmesh/dlm-go/pkg/fault"
	"github.com/voltmesh/dlm-go/pkg/model"
)

// Ring buffer capacities.
const (
	AllocationHistorySize = 128
	ViolationHistorySize  = 1024
)

// CapacityConfig holds the runtime-adjustable capacity limits.
type CapacityConfig struct {
	// MaxCapacityKW is the total grid capacity available to charging.
	MaxCapacityKW float64 `json:"max_capacity_kw"`

	// PeakThresholdKW marks the peak-demand boundary for cost reporting.
	PeakThresholdKW float64 `json:"peak_threshold_kw"`
}

// Store owns all mutable service state. See package doc for the contract.
type Store struct {
	mu sync.RWMutex

	stations map[string]*model.Station
	meters   map[string]*model.Meter
	failsafe map[string]*model.FailSafeState
	zoneCaps map[string]float64

	topology    *model.SiteTopology
	capacity    CapacityConfig
	pvKW        float64
	shedLevel   int
	version     uint64
	allocations *ring[model.AllocationTick]
	violations  *ring[model.Violation]

	events *bus.Bus
	logger *zap.Logger

	// onCommit is invoked with a fresh snapshot after every mutation.
	// Used by the persistence layer; must not call back into the store.
	onCommit func(Snapshot)
}

// New creates a store publishing on the given bus.
func New(events *bus.Bus, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		stations:    make(map[string]*model.Station),
		meters:      make(map[string]*model.Meter),
		failsafe:    make(map[string]*model.FailSafeState),
		zoneCaps:    make(map[string]float64),
		allocations: newRing[model.AllocationTick](AllocationHistorySize),
		violations:  newRing[model.Violation](ViolationHistorySize),
		events:      events,
		logger:      logger.Named("store"),
	}
}

// OnCommit sets the post-mutation snapshot hook.
func (s *Store) OnCommit(fn func(Snapshot)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onCommit = fn
}

// Apply executes a command under the single writer lock, publishes the
// resulting events after commit, and returns a validation error when the
// command references unknown state.
func (s *Store) Apply(cmd Command) error {
	s.mu.Lock()

	var pubs []publication
	var err error

	switch c := cmd.(type) {
	case RegisterStation:
		pubs, err = s.applyRegisterStation(c)
	case UpdateStation:
		pubs, err = s.applyUpdateStation(c)
	case RemoveStation:
		pubs, err = s.applyRemoveStation(c)
	case ObserveStationMeasurement:
		pubs, err = s.applyStationObservation(c)
	case RegisterMeter:
		pubs, err = s.applyRegisterMeter(c)
	case RemoveMeter:
		pubs, err = s.applyRemoveMeter(c)
	case ObserveMeterMeasurement:
		pubs, err = s.applyMeterObservation(c)
	case RecordAllocation:
		pubs, err = s.applyRecordAllocation(c)
	case SetStationSetpoint:
		pubs, err = s.applySetStationSetpoint(c)
	case RecordViolation:
		pubs, err = s.applyRecordViolation(c)
	case SetSheddingLevel:
		pubs, err = s.applySetSheddingLevel(c)
	case SetFailSafeState:
		pubs, err = s.applySetFailSafeState(c)
	case SetPVProduction:
		pubs, err = s.applySetPVProduction(c)
	case SetTopology:
		s.topology = &c.Topology
	case StartSession:
		pubs, err = s.applyStartSession(c)
	case StopSession:
		pubs, err = s.applyStopSession(c)
	case SetCapacityLimits:
		s.applySetCapacityLimits(c)
	case SetZoneCap:
		s.applySetZoneCap(c)
	case MarkStationOffline:
		pubs, err = s.applyMarkStationOffline(c)
	default:
		err = fault.New(fault.KindValidation, "unknown command type %T", cmd)
	}

	if err != nil {
		s.mu.Unlock()
		return err
	}

	s.version++

	// Publish before releasing the writer lock so per-topic delivery
	// order matches commit order. Publish never blocks; subscribers
	// with a full queue drop the event.
	for _, p := range pubs {
		s.events.Publish(p.topic, p.payload)
	}

	commit := s.onCommit
	var snap Snapshot
	if commit != nil {
		snap = s.snapshotLocked()
	}
	s.mu.Unlock()

	if commit != nil {
		commit(snap)
	}
	return nil
}

type publication struct {
	topic   string
	payload any
}

func (s *Store) applyRegisterStation(c RegisterStation) ([]publication, error) {
	st := c.Station
	if st.ID == "" {
		return nil, fault.New(fault.KindValidation, "station id is required")
	}
	if _, exists := s.stations[st.ID]; exists {
		return nil, fault.New(fault.KindValidation, "station %q already registered", st.ID)
	}
	if st.Priority < 1 {
		st.Priority = 1
	}
	if st.Priority > 10 {
		st.Priority = 10
	}
	if st.CreatedAt.IsZero() {
		st.CreatedAt = time.Now()
	}
	s.stations[st.ID] = &st
	return []publication{{bus.TopicStationRegistered, st}}, nil
}

func (s *Store) applyUpdateStation(c UpdateStation) ([]publication, error) {
	st, ok := s.stations[c.StationID]
	if !ok {
		return nil, fault.New(fault.KindValidation, "unknown station %q", c.StationID)
	}
	if c.Name != nil {
		st.Name = *c.Name
	}
	if c.Zone != nil {
		st.Zone = *c.Zone
	}
	if c.Priority != nil {
		p := *c.Priority
		if p < 1 || p > 10 {
			return nil, fault.New(fault.KindValidation, "priority %d out of range 1-10", p)
		}
		st.Priority = p
	}
	if c.UserPriorityClass != nil {
		st.UserPriorityClass = *c.UserPriorityClass
	}
	if c.RequestedPowerKW != nil {
		if *c.RequestedPowerKW < 0 {
			return nil, fault.New(fault.KindValidation, "requested power must be non-negative")
		}
		st.RequestedPower = *c.RequestedPowerKW
	}
	if c.ScheduledCharging != nil {
		st.ScheduledCharging = *c.ScheduledCharging
	}
	return []publication{{bus.TopicStationUpdated, *st}}, nil
}

func (s *Store) applyRemoveStation(c RemoveStation) ([]publication, error) {
	if _, ok := s.stations[c.StationID]; !ok {
		return nil, fault.New(fault.KindValidation, "unknown station %q", c.StationID)
	}
	delete(s.stations, c.StationID)
	delete(s.failsafe, c.StationID)
	return []publication{{bus.TopicStationDeleted, c.StationID}}, nil
}

func (s *Store) applyStationObservation(c ObserveStationMeasurement) ([]publication, error) {
	obs := c.Observation
	st, ok := s.stations[obs.StationID]
	if !ok {
		return nil, fault.New(fault.KindValidation, "unknown station %q", obs.StationID)
	}

	wasCharging := st.Status == model.StatusCharging

	st.Status = obs.Status
	st.Online = obs.Status != model.StatusOffline
	st.MeasuredPower = obs.PowerKW
	if obs.SessionEnergy > 0 {
		delta := obs.SessionEnergy - st.SessionEnergyKWh
		if delta > 0 {
			st.TotalEnergyKWh += delta
		}
		st.SessionEnergyKWh = obs.SessionEnergy
	}
	if obs.Phases != nil {
		st.Phases = *obs.Phases
	}
	if obs.VoltageV != nil && *obs.VoltageV > 0 {
		st.MeasuredVoltage = *obs.VoltageV
	}
	if obs.TemperatureC != nil {
		st.TemperatureC = *obs.TemperatureC
	}
	if obs.VehicleSoC != nil {
		st.VehicleSoC = *obs.VehicleSoC
	}
	if obs.ObservedAt.IsZero() {
		obs.ObservedAt = time.Now()
	}
	st.LastSeen = obs.ObservedAt

	if !wasCharging && obs.Status == model.StatusCharging {
		st.ChargingStartedAt = obs.ObservedAt
		st.SessionEnergyKWh = 0
	}

	// Observation arrival clears an active fail-safe override.
	var pubs []publication
	if fs, ok := s.failsafe[obs.StationID]; ok {
		fs.LastComm = obs.ObservedAt
		if fs.Active {
			fs.Active = false
			fs.ConsecutiveTimeouts = 0
			pubs = append(pubs, publication{bus.TopicFailSafeTransition, *fs})
		}
	}

	pubs = append(pubs, publication{bus.TopicStationUpdated, *st})
	return pubs, nil
}

func (s *Store) applyRegisterMeter(c RegisterMeter) ([]publication, error) {
	m := c.Meter
	if m.ID == "" {
		return nil, fault.New(fault.KindValidation, "meter id is required")
	}
	if _, exists := s.meters[m.ID]; exists {
		return nil, fault.New(fault.KindValidation, "meter %q already registered", m.ID)
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	s.meters[m.ID] = &m
	return []publication{{bus.TopicMeterUpdated, m}}, nil
}

func (s *Store) applyRemoveMeter(c RemoveMeter) ([]publication, error) {
	if _, ok := s.meters[c.MeterID]; !ok {
		return nil, fault.New(fault.KindValidation, "unknown meter %q", c.MeterID)
	}
	delete(s.meters, c.MeterID)
	return nil, nil
}

func (s *Store) applyMeterObservation(c ObserveMeterMeasurement) ([]publication, error) {
	obs := c.Observation
	m, ok := s.meters[obs.MeterID]
	if !ok {
		return nil, fault.New(fault.KindValidation, "unknown meter %q", obs.MeterID)
	}
	m.PowerKW = obs.PowerKW
	if obs.TotalEnergy > 0 {
		m.TotalEnergyKWh = obs.TotalEnergy
	}
	if obs.Voltage > 0 {
		m.Voltage = obs.Voltage
	}
	if obs.Current > 0 {
		m.Current = obs.Current
	}
	if obs.PowerFactor > 0 {
		m.PowerFactor = obs.PowerFactor
	}
	if obs.Frequency > 0 {
		m.Frequency = obs.Frequency
	}
	if obs.ObservedAt.IsZero() {
		obs.ObservedAt = time.Now()
	}
	m.LastSeen = obs.ObservedAt
	return []publication{{bus.TopicMeterUpdated, *m}}, nil
}

func (s *Store) applyRecordAllocation(c RecordAllocation) ([]publication, error) {
	s.allocations.push(c.Tick)
	return []publication{{bus.TopicLoadUpdated, c.Tick}}, nil
}

func (s *Store) applySetStationSetpoint(c SetStationSetpoint) ([]publication, error) {
	st, ok := s.stations[c.StationID]
	if !ok {
		return nil, fault.New(fault.KindValidation, "unknown station %q", c.StationID)
	}
	st.CurrentPower = c.PowerKW
	if c.Phases != nil {
		st.Phases = *c.Phases
	}
	at := c.At
	if at.IsZero() {
		at = time.Now()
	}
	st.LastCommandAt = at

	// The last command while not in fail-safe becomes the last known good.
	if fs, ok := s.failsafe[c.StationID]; ok && !fs.Active {
		fs.LastKnownGoodKW = c.PowerKW
	}

	topic := bus.TopicStationCommandDC
	if st.Class.IsAC() {
		topic = bus.TopicStationCommandAC
	}
	return []publication{{topic, *st}}, nil
}

func (s *Store) applyMarkStationOffline(c MarkStationOffline) ([]publication, error) {
	st, ok := s.stations[c.StationID]
	if !ok {
		return nil, fault.New(fault.KindValidation, "unknown station %q", c.StationID)
	}
	if !st.Online && st.Status == model.StatusOffline {
		return nil, nil
	}
	st.Online = false
	st.Status = model.StatusOffline
	return []publication{{bus.TopicStationUpdated, *st}}, nil
}

func (s *Store) applyRecordViolation(c RecordViolation) ([]publication, error) {
	v := c.Violation
	if v.Timestamp.IsZero() {
		v.Timestamp = time.Now()
	}
	s.violations.push(v)
	return []publication{{bus.TopicViolation, v}}, nil
}

func (s *Store) applySetSheddingLevel(c SetSheddingLevel) ([]publication, error) {
	s.shedLevel = c.Level
	return []publication{{bus.TopicSheddingTransition, c}}, nil
}

func (s *Store) applySetFailSafeState(c SetFailSafeState) ([]publication, error) {
	st := c.State
	if st.StationID == "" {
		return nil, fault.New(fault.KindValidation, "fail-safe state requires a station id")
	}
	if _, ok := s.stations[st.StationID]; !ok {
		return nil, fault.New(fault.KindValidation, "unknown station %q", st.StationID)
	}
	if st.Action != "" && !st.Action.Valid() {
		return nil, fault.New(fault.KindValidation, "invalid offline action %q", st.Action)
	}

	prev, had := s.failsafe[st.StationID]
	changed := !had || prev.Active != st.Active
	s.failsafe[st.StationID] = &st

	if changed {
		return []publication{{bus.TopicFailSafeTransition, st}}, nil
	}
	return nil, nil
}

func (s *Store) applySetPVProduction(c SetPVProduction) ([]publication, error) {
	if c.PowerKW < 0 {
		return nil, fault.New(fault.KindValidation, "pv production must be non-negative")
	}
	s.pvKW = c.PowerKW
	return []publication{{bus.TopicPVProduction, c.PowerKW}}, nil
}

func (s *Store) applyStartSession(c StartSession) ([]publication, error) {
	st, ok := s.stations[c.StationID]
	if !ok {
		return nil, fault.New(fault.KindValidation, "unknown station %q", c.StationID)
	}
	if st.Status == model.StatusOffline || st.Status == model.StatusUnavailable {
		return nil, fault.New(fault.KindStateConflict, "station %q is %s", c.StationID, st.Status)
	}
	st.SessionUser = c.UserTag
	st.SessionEnergyKWh = 0
	st.ChargingStartedAt = time.Now()
	return []publication{{bus.TopicStationSessionStarted, *st}}, nil
}

func (s *Store) applyStopSession(c StopSession) ([]publication, error) {
	st, ok := s.stations[c.StationID]
	if !ok {
		return nil, fault.New(fault.KindValidation, "unknown station %q", c.StationID)
	}
	st.SessionUser = ""
	st.ChargingStartedAt = time.Time{}
	return []publication{{bus.TopicStationSessionStopped, *st}}, nil
}

func (s *Store) applySetCapacityLimits(c SetCapacityLimits) {
	if c.MaxCapacityKW != nil {
		s.capacity.MaxCapacityKW = *c.MaxCapacityKW
	}
	if c.PeakThresholdKW != nil {
		s.capacity.PeakThresholdKW = *c.PeakThresholdKW
	}
}

func (s *Store) applySetZoneCap(c SetZoneCap) {
	if c.CapKW == nil {
		delete(s.zoneCaps, c.Zone)
		return
	}
	s.zoneCaps[c.Zone] = *c.CapKW
}
