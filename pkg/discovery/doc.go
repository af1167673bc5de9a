// Package discovery finds charging station endpoints on the local
// network.
//
// Stations that advertise themselves over mDNS (Modbus TCP gateways,
// OCPP charge points) are surfaced as registration candidates. The
// browser aggregates addresses per instance across interfaces and
// drops a candidate once all of its addresses disappear. Discovery is
// advisory only; explicit registration through the API remains
// authoritative.
package discovery
