// Package breaker wraps driver I/O with circuit breaking, bounded
// retries with exponential backoff, and per-call timeouts. It also
// provides the kicked Watchdog timer used for communication monitoring.
package breaker
