package driver

import (
	"context"
	"sync"
	"time"

	"github.com/voltmesh/dlm-go/pkg/fault"
	"github.com/voltmesh/dlm-go/pkg/model"
)

// SimCommand records a command received by the simulator.
type SimCommand struct {
	StationID string
	Phases    *model.PhaseCurrents
	PowerKW   *float64
	Session   string // "start" or "stop"
	At        time.Time
}

// SimDriver is an in-memory adapter implementing the driver contract.
// Tests and demo mode drive the same interfaces as the real transports.
type SimDriver struct {
	mu sync.Mutex

	connected  bool
	stationObs map[string]StationObserver
	meterObs   map[string]MeterObserver
	commands   []SimCommand

	// FailCommands makes every command call fail with a transport error.
	FailCommands bool
}

// NewSim creates a simulator driver.
func NewSim() *SimDriver {
	return &SimDriver{
		stationObs: make(map[string]StationObserver),
		meterObs:   make(map[string]MeterObserver),
	}
}

// Connect marks the simulator connected. Idempotent.
func (d *SimDriver) Connect(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.connected = true
	return nil
}

// Disconnect clears observers.
func (d *SimDriver) Disconnect(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.connected = false
	d.stationObs = make(map[string]StationObserver)
	d.meterObs = make(map[string]MeterObserver)
	return nil
}

// ObserveStation registers a station callback.
func (d *SimDriver) ObserveStation(stationID string, fn StationObserver) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stationObs[stationID] = fn
	return nil
}

// ObserveMeter registers a meter callback.
func (d *SimDriver) ObserveMeter(meterID string, fn MeterObserver) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.meterObs[meterID] = fn
	return nil
}

// PushStation injects a station observation.
func (d *SimDriver) PushStation(obs model.StationObservation) {
	d.mu.Lock()
	fn := d.stationObs[obs.StationID]
	d.mu.Unlock()
	if fn != nil {
		if obs.ObservedAt.IsZero() {
			obs.ObservedAt = time.Now()
		}
		fn(obs)
	}
}

// PushMeter injects a meter observation.
func (d *SimDriver) PushMeter(obs model.MeterObservation) {
	d.mu.Lock()
	fn := d.meterObs[obs.MeterID]
	d.mu.Unlock()
	if fn != nil {
		if obs.ObservedAt.IsZero() {
			obs.ObservedAt = time.Now()
		}
		fn(obs)
	}
}

func (d *SimDriver) record(cmd SimCommand) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.connected {
		return fault.New(fault.KindTransport, "sim driver not connected")
	}
	if d.FailCommands {
		return fault.New(fault.KindTransport, "sim driver configured to fail")
	}
	cmd.At = time.Now()
	d.commands = append(d.commands, cmd)
	return nil
}

// CommandAC records a phase command.
func (d *SimDriver) CommandAC(_ context.Context, stationID string, phases model.PhaseCurrents) error {
	return d.record(SimCommand{StationID: stationID, Phases: &phases})
}

// CommandDC records a power command.
func (d *SimDriver) CommandDC(_ context.Context, stationID string, powerKW float64) error {
	return d.record(SimCommand{StationID: stationID, PowerKW: &powerKW})
}

// StartSession records a session start.
func (d *SimDriver) StartSession(_ context.Context, stationID, _ string) error {
	return d.record(SimCommand{StationID: stationID, Session: "start"})
}

// StopSession records a session stop.
func (d *SimDriver) StopSession(_ context.Context, stationID string) error {
	return d.record(SimCommand{StationID: stationID, Session: "stop"})
}

// Commands returns a copy of the received command log.
func (d *SimDriver) Commands() []SimCommand {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]SimCommand, len(d.commands))
	copy(out, d.commands)
	return out
}

// LastCommand returns the newest command for a station, if any.
func (d *SimDriver) LastCommand(stationID string) (SimCommand, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := len(d.commands) - 1; i >= 0; i-- {
		if d.commands[i].StationID == stationID {
			return d.commands[i], true
		}
	}
	return SimCommand{}, false
}

var _ Driver = (*SimDriver)(nil)
