// Package allocator runs the periodic balancing loop.
//
// Each tick takes a store snapshot, computes the power available for
// charging, distributes it over the active stations in priority order
// with a minimum-guarantee pass followed by a surplus pass, applies
// zone caps, shedding overrides, and fail-safe overrides, and
// dispatches the changed setpoints through the controllers. Per-station
// dispatch errors are swallowed and recorded so one misbehaving station
// never starves the rest.
package allocator
