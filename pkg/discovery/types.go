package discovery

import (
	"errors"
	"time"
)

// Service types browsed for station endpoints.
const (
	ServiceTypeModbus = "_modbus._tcp"
	ServiceTypeOCPP   = "_ocpp._tcp"

	// Domain is the mDNS domain.
	Domain = "local."
)

// ErrNotFound indicates no matching candidate was discovered.
var ErrNotFound = errors.New("not found")

// Candidate is a discovered, not-yet-registered station endpoint.
type Candidate struct {
	// InstanceName is the mDNS instance name.
	InstanceName string `json:"instance_name"`

	// Protocol is the driver protocol implied by the service type
	// (modbus or ocpp).
	Protocol string `json:"protocol"`

	// Host is the advertised hostname.
	Host string `json:"host"`

	// Port is the service port.
	Port int `json:"port"`

	// Addresses holds all IPv4/IPv6 addresses seen for the instance.
	Addresses []string `json:"addresses"`

	// TXT carries the raw TXT record strings, vendor specific.
	TXT []string `json:"txt,omitempty"`

	// FirstSeen is when the candidate first appeared.
	FirstSeen time.Time `json:"first_seen"`
}

// Endpoint returns the dial address for the candidate, preferring the
// first resolved IP over the hostname.
func (c Candidate) Endpoint() string {
	host := c.Host
	if len(c.Addresses) > 0 {
		host = c.Addresses[0]
	}
	if c.Port == 0 {
		return host
	}
	return joinHostPort(host, c.Port)
}
