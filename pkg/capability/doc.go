// Package capability tracks the electrical envelope of every station
// and validates commands against it.
//
// Discovery interrogates the station through its driver; when that fails
// the station is assigned a conservative fallback envelope so that
// validation is always defined for a registered station.
package capability
