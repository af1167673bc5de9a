// Package failsafe supervises station communication.
//
// A heartbeat loop compares each station's last observation time
// against its communication timeout and activates the configured
// offline action when the silence threshold is crossed. A system-wide
// watchdog additionally forces every station into fail-safe when the
// service itself stops receiving heartbeats. The manager only mutates
// state through the store; the allocator honors the override on its
// next tick.
package failsafe
