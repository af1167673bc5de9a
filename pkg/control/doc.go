// Package control drives station setpoints.
//
// The AC controller manages per-phase current setpoints with imbalance
// autobalancing; the DC controller runs the setpoint pipeline of
// validate, ramp, thermal derate, and vehicle taper. Both dispatch
// through the driver layer and persist applied setpoints in the store.
package control
