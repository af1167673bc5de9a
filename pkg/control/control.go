package control

import (
	"context"

	"github.com/voltmesh/dlm-go/pkg/driver"
	"github.com/voltmesh/dlm-go/pkg/model"
)

// DriverSource resolves the protocol adapter for a station. Implemented
// by the driver pool at wiring time.
type DriverSource interface {
	DriverFor(ctx context.Context, st model.Station) (driver.Driver, error)
}

// DriverSourceFunc adapts a function to DriverSource.
type DriverSourceFunc func(ctx context.Context, st model.Station) (driver.Driver, error)

// DriverFor calls the function.
func (f DriverSourceFunc) DriverFor(ctx context.Context, st model.Station) (driver.Driver, error) {
	return f(ctx, st)
}

// Dispatcher routes a power allocation to the class-specific controller.
// The allocator depends on this rather than the concrete controllers.
type Dispatcher struct {
	ac *AC
	dc *DC
}

// NewDispatcher combines the two controllers.
func NewDispatcher(ac *AC, dc *DC) *Dispatcher {
	return &Dispatcher{ac: ac, dc: dc}
}

// Dispatch applies targetKW to the station through the appropriate
// controller and returns the power actually applied.
func (d *Dispatcher) Dispatch(ctx context.Context, st model.Station, targetKW float64) (float64, error) {
	if st.Class.IsAC() {
		return d.ac.SetPowerKW(ctx, st, targetKW)
	}
	res, err := d.dc.SetPowerLimit(ctx, st, targetKW)
	return res.AppliedKW, err
}

// Stop pauses the station's session by driving its setpoint to zero.
func (d *Dispatcher) Stop(ctx context.Context, st model.Station) error {
	_, err := d.Dispatch(ctx, st, 0)
	return err
}
