// Package driver defines the uniform station and meter I/O contract and
// the protocol adapters implementing it (Modbus TCP, MQTT, OCPP-J, and
// an in-memory simulator).
//
// Adapters emit typed observations through callbacks; they never call
// into controllers directly. Command calls are expected to be wrapped by
// the Guarded decorator, which adds circuit breaking and watchdog kicks.
package driver
