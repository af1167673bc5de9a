// Package bus provides the in-process event bus.
//
// Publication is best-effort and at-most-once: a slow subscriber never
// blocks a publisher. Each subscriber owns a bounded queue; events that
// do not fit are dropped and counted. Per-topic ordering is preserved
// for a given subscriber, cross-topic ordering is not guaranteed.
package bus
