// Package persistence saves and restores service state.
//
// A single JSON snapshot file holds stations, meters, fail-safe
// configuration, zone caps, capacity limits, site topology, and
// charging windows. The file is rewritten on every store mutation via
// the commit hook and loaded once on startup.
package persistence
