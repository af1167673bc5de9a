package driver

import (
	"context"

	"github.com/voltmesh/dlm-go/pkg/breaker"
	"github.com/voltmesh/dlm-go/pkg/model"
)

// Guarded decorates a Driver with circuit breaking for command I/O and
// watchdog kicks for observations. Observations pass through untouched
// otherwise; last_seen bookkeeping is the store's responsibility.
type Guarded struct {
	inner    Driver
	breaker  *breaker.Breaker
	watchdog *breaker.Watchdog
}

// NewGuarded wraps a driver. watchdog may be nil.
func NewGuarded(inner Driver, b *breaker.Breaker, w *breaker.Watchdog) *Guarded {
	return &Guarded{inner: inner, breaker: b, watchdog: w}
}

// Connect passes through the breaker.
func (g *Guarded) Connect(ctx context.Context) error {
	return g.breaker.Execute(ctx, g.inner.Connect)
}

// Disconnect bypasses the breaker so shutdown always reaches the driver.
func (g *Guarded) Disconnect(ctx context.Context) error {
	return g.inner.Disconnect(ctx)
}

// ObserveStation registers the callback and kicks the watchdog on every
// observation.
func (g *Guarded) ObserveStation(stationID string, fn StationObserver) error {
	return g.inner.ObserveStation(stationID, func(obs model.StationObservation) {
		if g.watchdog != nil {
			g.watchdog.Kick()
		}
		fn(obs)
	})
}

// ObserveMeter registers the callback and kicks the watchdog on every
// observation.
func (g *Guarded) ObserveMeter(meterID string, fn MeterObserver) error {
	return g.inner.ObserveMeter(meterID, func(obs model.MeterObservation) {
		if g.watchdog != nil {
			g.watchdog.Kick()
		}
		fn(obs)
	})
}

// CommandAC passes through the breaker.
func (g *Guarded) CommandAC(ctx context.Context, stationID string, phases model.PhaseCurrents) error {
	return g.breaker.Execute(ctx, func(ctx context.Context) error {
		return g.inner.CommandAC(ctx, stationID, phases)
	})
}

// CommandDC passes through the breaker.
func (g *Guarded) CommandDC(ctx context.Context, stationID string, powerKW float64) error {
	return g.breaker.Execute(ctx, func(ctx context.Context) error {
		return g.inner.CommandDC(ctx, stationID, powerKW)
	})
}

// StartSession passes through the breaker.
func (g *Guarded) StartSession(ctx context.Context, stationID, userTag string) error {
	return g.breaker.Execute(ctx, func(ctx context.Context) error {
		return g.inner.StartSession(ctx, stationID, userTag)
	})
}

// StopSession passes through the breaker.
func (g *Guarded) StopSession(ctx context.Context, stationID string) error {
	return g.breaker.Execute(ctx, func(ctx context.Context) error {
		return g.inner.StopSession(ctx, stationID)
	})
}

// Breaker exposes the wrapped breaker for status reporting and reset.
func (g *Guarded) Breaker() *breaker.Breaker { return g.breaker }

var _ Driver = (*Guarded)(nil)
