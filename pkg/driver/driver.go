package driver

import (
	"context"

	"github.com/voltmesh/dlm-go/pkg/model"
)

// StationObserver receives push measurements for a station.
type StationObserver func(model.StationObservation)

// MeterObserver receives push measurements for a meter.
type MeterObserver func(model.MeterObservation)

// Driver is the uniform protocol adapter contract.
//
// Connect is idempotent. Observe* registers a callback that fires for
// every measurement until Disconnect; polling transports poll at the
// station's typical update interval, push transports do not poll.
// CommandDC accepts negative power for V2G export.
type Driver interface {
	Connect(ctx context.Context) error
	ObserveStation(stationID string, fn StationObserver) error
	ObserveMeter(meterID string, fn MeterObserver) error
	CommandAC(ctx context.Context, stationID string, phases model.PhaseCurrents) error
	CommandDC(ctx context.Context, stationID string, powerKW float64) error
	StartSession(ctx context.Context, stationID, userTag string) error
	StopSession(ctx context.Context, stationID string) error
	Disconnect(ctx context.Context) error
}

// StatusMap translates a protocol status code to a station status.
// Modbus register values default to
// {0: offline, 1: ready, 2: charging, 3: error, 4: unavailable}.
type StatusMap map[uint16]model.StationStatus

// DefaultStatusMap returns the default register-to-status mapping.
func DefaultStatusMap() StatusMap {
	return StatusMap{
		0: model.StatusOffline,
		1: model.StatusReady,
		2: model.StatusCharging,
		3: model.StatusError,
		4: model.StatusUnavailable,
	}
}

// Lookup maps a code, defaulting to error for unknown codes.
func (m StatusMap) Lookup(code uint16) model.StationStatus {
	if s, ok := m[code]; ok {
		return s
	}
	return model.StatusError
}
