// Package store is the single authority over mutable service state.
//
// All mutations flow through Apply as typed commands and are serialized
// by a single writer lock. Readers take consistent snapshots carrying a
// monotonically increasing version. Events are published on the bus
// strictly after the mutation has been committed.
package store
