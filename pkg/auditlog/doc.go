// Package auditlog keeps an append-only record of control decisions.
//
// Entries are written to a file in CBOR with integer keys for
// compactness. A recorder can mirror the event bus into the log, and
// the reader answers bounded queries for the API without loading the
// whole file into memory at once.
package auditlog
