package driver

import (
	"context"
	"encoding/binary"
	"sync"
	"time"

	"github.com/goburrow/modbus"
	"go.uber.org/zap"

	"github.com/voltmesh/dlm-go/pkg/fault"
	"github.com/voltmesh/dlm-go/pkg/model"
)

// Modbus register layout. Measurements are holding registers read as one
// block; currents are in deciamps, powers in watts, temperature in
// decidegrees, SoC in percent.
const (
	regStatus        = 0 // status code
	regPowerW        = 1 // uint32, 2 registers
	regSessionWh     = 3 // uint32, 2 registers
	regPhaseA        = 5 // dA
	regPhaseB        = 6 // dA
	regPhaseC        = 7 // dA
	regTemperature   = 8  // 0.1 degC
	regSoC           = 9  // percent
	regVoltage       = 10 // dV, 0 when the station does not report it
	regMeasureCount  = 11
	regCmdPhaseA     = 100 // dA
	regCmdPowerW     = 103 // int32, 2 registers
	regCmdSession    = 105 // 1 start, 0 stop
	meterRegPowerW   = 0   // int32, 2 registers
	meterRegEnergyWh = 2   // uint32, 2 registers
	meterRegVoltage  = 4   // dV
	meterRegCurrent  = 5   // dA
	meterRegPF       = 6   // 0.001
	meterRegFreq     = 7   // 0.01 Hz
	meterRegCount    = 8
)

// ModbusConfig configures a Modbus TCP adapter.
type ModbusConfig struct {
	// Endpoint is host:port of the Modbus TCP gateway.
	Endpoint string

	// UnitIDs maps station/meter IDs to Modbus unit identifiers.
	UnitIDs map[string]byte

	// PollInterval is the measurement poll cadence.
	PollInterval time.Duration

	// Timeout bounds each Modbus transaction.
	Timeout time.Duration

	// Status maps register status codes to station statuses.
	Status StatusMap
}

// ModbusDriver polls stations and meters over Modbus TCP.
type ModbusDriver struct {
	mu sync.Mutex

	cfg     ModbusConfig
	handler *modbus.TCPClientHandler
	client  modbus.Client
	logger  *zap.Logger

	stationObs map[string]StationObserver
	meterObs   map[string]MeterObserver

	cancel context.CancelFunc
	done   chan struct{}
}

// NewModbus creates a Modbus TCP driver.
func NewModbus(cfg ModbusConfig, logger *zap.Logger) *ModbusDriver {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.Status == nil {
		cfg.Status = DefaultStatusMap()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ModbusDriver{
		cfg:        cfg,
		logger:     logger.Named("modbus").With(zap.String("endpoint", cfg.Endpoint)),
		stationObs: make(map[string]StationObserver),
		meterObs:   make(map[string]MeterObserver),
	}
}

// Connect opens the TCP connection and starts the poll loop. Idempotent.
func (d *ModbusDriver) Connect(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.handler != nil {
		return nil
	}

	handler := modbus.NewTCPClientHandler(d.cfg.Endpoint)
	handler.Timeout = d.cfg.Timeout
	if err := handler.Connect(); err != nil {
		return fault.Wrap(fault.KindTransport, err, "modbus connect %s", d.cfg.Endpoint)
	}

	d.handler = handler
	d.client = modbus.NewClient(handler)

	pollCtx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	d.done = make(chan struct{})
	go d.pollLoop(pollCtx)

	d.logger.Info("modbus connected")
	return nil
}

// Disconnect stops polling and closes the connection.
func (d *ModbusDriver) Disconnect(context.Context) error {
	d.mu.Lock()
	if d.handler == nil {
		d.mu.Unlock()
		return nil
	}
	d.cancel()
	handler := d.handler
	done := d.done
	d.handler = nil
	d.client = nil
	d.mu.Unlock()

	<-done
	return handler.Close()
}

// ObserveStation registers a measurement callback for a station.
func (d *ModbusDriver) ObserveStation(stationID string, fn StationObserver) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.cfg.UnitIDs[stationID]; !ok {
		return fault.New(fault.KindValidation, "no modbus unit configured for %q", stationID)
	}
	d.stationObs[stationID] = fn
	return nil
}

// ObserveMeter registers a measurement callback for a meter.
func (d *ModbusDriver) ObserveMeter(meterID string, fn MeterObserver) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.cfg.UnitIDs[meterID]; !ok {
		return fault.New(fault.KindValidation, "no modbus unit configured for %q", meterID)
	}
	d.meterObs[meterID] = fn
	return nil
}

func (d *ModbusDriver) pollLoop(ctx context.Context) {
	defer close(d.done)

	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.pollOnce()
		}
	}
}

func (d *ModbusDriver) pollOnce() {
	d.mu.Lock()
	client := d.client
	stations := make(map[string]StationObserver, len(d.stationObs))
	for id, fn := range d.stationObs {
		stations[id] = fn
	}
	meters := make(map[string]MeterObserver, len(d.meterObs))
	for id, fn := range d.meterObs {
		meters[id] = fn
	}
	d.mu.Unlock()

	if client == nil {
		return
	}

	for id, fn := range stations {
		obs, err := d.readStation(id)
		if err != nil {
			d.logger.Warn("station poll failed", zap.String("station", id), zap.Error(err))
			continue
		}
		fn(obs)
	}
	for id, fn := range meters {
		obs, err := d.readMeter(id)
		if err != nil {
			d.logger.Warn("meter poll failed", zap.String("meter", id), zap.Error(err))
			continue
		}
		fn(obs)
	}
}

func (d *ModbusDriver) readStation(stationID string) (model.StationObservation, error) {
	data, err := d.read(stationID, regStatus, regMeasureCount)
	if err != nil {
		return model.StationObservation{}, err
	}

	status := d.cfg.Status.Lookup(binary.BigEndian.Uint16(data[0:2]))
	powerW := binary.BigEndian.Uint32(data[2:6])
	sessionWh := binary.BigEndian.Uint32(data[6:10])
	phases := model.PhaseCurrents{
		A: float64(binary.BigEndian.Uint16(data[10:12])) / 10,
		B: float64(binary.BigEndian.Uint16(data[12:14])) / 10,
		C: float64(binary.BigEndian.Uint16(data[14:16])) / 10,
	}
	temp := float64(binary.BigEndian.Uint16(data[16:18])) / 10
	soc := float64(binary.BigEndian.Uint16(data[18:20]))

	obs := model.StationObservation{
		StationID:     stationID,
		Status:        status,
		PowerKW:       float64(powerW) / 1000,
		SessionEnergy: float64(sessionWh) / 1000,
		Phases:        &phases,
		TemperatureC:  &temp,
		VehicleSoC:    &soc,
		ObservedAt:    time.Now(),
	}
	if v := float64(binary.BigEndian.Uint16(data[20:22])) / 10; v > 0 {
		obs.VoltageV = &v
	}
	return obs, nil
}

func (d *ModbusDriver) readMeter(meterID string) (model.MeterObservation, error) {
	data, err := d.read(meterID, meterRegPowerW, meterRegCount)
	if err != nil {
		return model.MeterObservation{}, err
	}

	powerW := int32(binary.BigEndian.Uint32(data[0:4]))
	energyWh := binary.BigEndian.Uint32(data[4:8])

	return model.MeterObservation{
		MeterID:     meterID,
		PowerKW:     float64(powerW) / 1000,
		TotalEnergy: float64(energyWh) / 1000,
		Voltage:     float64(binary.BigEndian.Uint16(data[8:10])) / 10,
		Current:     float64(binary.BigEndian.Uint16(data[10:12])) / 10,
		PowerFactor: float64(binary.BigEndian.Uint16(data[12:14])) / 1000,
		Frequency:   float64(binary.BigEndian.Uint16(data[14:16])) / 100,
		ObservedAt:  time.Now(),
	}, nil
}

func (d *ModbusDriver) read(deviceID string, addr, count uint16) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.client == nil {
		return nil, fault.New(fault.KindTransport, "modbus not connected")
	}
	unit, ok := d.cfg.UnitIDs[deviceID]
	if !ok {
		return nil, fault.New(fault.KindValidation, "no modbus unit configured for %q", deviceID)
	}
	d.handler.SlaveId = unit

	data, err := d.client.ReadHoldingRegisters(addr, count)
	if err != nil {
		return nil, fault.Wrap(fault.KindTransport, err, "modbus read unit %d", unit)
	}
	if len(data) < int(count)*2 {
		return nil, fault.New(fault.KindTransport, "short modbus read: %d bytes", len(data))
	}
	return data, nil
}

func (d *ModbusDriver) write(deviceID string, addr, value uint16) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.client == nil {
		return fault.New(fault.KindTransport, "modbus not connected")
	}
	unit, ok := d.cfg.UnitIDs[deviceID]
	if !ok {
		return fault.New(fault.KindValidation, "no modbus unit configured for %q", deviceID)
	}
	d.handler.SlaveId = unit

	if _, err := d.client.WriteSingleRegister(addr, value); err != nil {
		return fault.Wrap(fault.KindTransport, err, "modbus write unit %d reg %d", unit, addr)
	}
	return nil
}

// CommandAC writes the per-phase current setpoints in deciamps.
func (d *ModbusDriver) CommandAC(_ context.Context, stationID string, phases model.PhaseCurrents) error {
	for i, v := range []float64{phases.A, phases.B, phases.C} {
		if err := d.write(stationID, regCmdPhaseA+uint16(i), uint16(v*10)); err != nil {
			return err
		}
	}
	return nil
}

// CommandDC writes the power setpoint as a signed 32-bit watt value.
func (d *ModbusDriver) CommandDC(_ context.Context, stationID string, powerKW float64) error {
	w := int32(powerKW * 1000)
	if err := d.write(stationID, regCmdPowerW, uint16(uint32(w)>>16)); err != nil {
		return err
	}
	return d.write(stationID, regCmdPowerW+1, uint16(uint32(w)&0xFFFF))
}

// StartSession raises the session command register.
func (d *ModbusDriver) StartSession(_ context.Context, stationID, _ string) error {
	return d.write(stationID, regCmdSession, 1)
}

// StopSession clears the session command register.
func (d *ModbusDriver) StopSession(_ context.Context, stationID string) error {
	return d.write(stationID, regCmdSession, 0)
}

var _ Driver = (*ModbusDriver)(nil)
