package auditlog

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/voltmesh/dlm-go/pkg/bus"
)

// Category classifies an audit entry.
type Category uint8

const (
	CategoryUnknown Category = iota
	CategoryStation
	CategorySession
	CategoryCommand
	CategoryAllocation
	CategoryShedding
	CategoryViolation
	CategoryFailSafe
	CategoryThermal
	CategoryConfig
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryStation:
		return "station"
	case CategorySession:
		return "session"
	case CategoryCommand:
		return "command"
	case CategoryAllocation:
		return "allocation"
	case CategoryShedding:
		return "shedding"
	case CategoryViolation:
		return "violation"
	case CategoryFailSafe:
		return "fail_safe"
	case CategoryThermal:
		return "thermal"
	case CategoryConfig:
		return "config"
	default:
		return "unknown"
	}
}

// ParseCategory maps a category name back to its value. Unknown names
// return CategoryUnknown, which queries treat as "no filter".
func ParseCategory(s string) Category {
	for c := CategoryStation; c <= CategoryConfig; c++ {
		if c.String() == s {
			return c
		}
	}
	return CategoryUnknown
}

// Entry is one audit record. Integer keys keep the on-disk encoding
// compact; tags are append-only and must never be renumbered.
type Entry struct {
	// Timestamp is when the recorded action happened.
	Timestamp time.Time `cbor:"1,keyasint" json:"timestamp"`

	// Category classifies the entry.
	Category Category `cbor:"2,keyasint" json:"-"`

	// Topic is the originating bus topic, if any.
	Topic string `cbor:"3,keyasint,omitempty" json:"topic,omitempty"`

	// StationID names the station the entry concerns, if any.
	StationID string `cbor:"4,keyasint,omitempty" json:"station_id,omitempty"`

	// Actor names the subsystem that took the action.
	Actor string `cbor:"5,keyasint,omitempty" json:"actor,omitempty"`

	// Summary is a short human-readable description.
	Summary string `cbor:"6,keyasint,omitempty" json:"summary,omitempty"`

	// Detail is the JSON-encoded payload of the recorded action.
	Detail []byte `cbor:"7,keyasint,omitempty" json:"-"`
}

// DecodeDetail unmarshals the JSON detail into v.
func (e Entry) DecodeDetail(v any) error {
	if len(e.Detail) == 0 {
		return nil
	}
	return json.Unmarshal(e.Detail, v)
}

// MarshalJSON renders the entry for the API, expanding the category
// name and inlining the detail payload.
func (e Entry) MarshalJSON() ([]byte, error) {
	type alias Entry
	out := struct {
		alias
		Category string          `json:"category"`
		Detail   json.RawMessage `json:"detail,omitempty"`
	}{
		alias:    alias(e),
		Category: e.Category.String(),
		Detail:   json.RawMessage(e.Detail),
	}
	return json.Marshal(out)
}

// FromEvent builds an audit entry from a bus event.
func FromEvent(ev bus.Event) Entry {
	e := Entry{
		Timestamp: ev.Timestamp,
		Category:  categoryFor(ev.Topic),
		Topic:     ev.Topic,
	}
	if ev.Payload != nil {
		if data, err := json.Marshal(ev.Payload); err == nil {
			e.Detail = data
		}
		e.StationID = stationIDOf(ev.Payload)
	}
	return e
}

// categoryFor maps a bus topic to an audit category.
func categoryFor(topic string) Category {
	switch {
	case strings.HasPrefix(topic, "station.session."):
		return CategorySession
	case strings.HasPrefix(topic, "station.command."):
		return CategoryCommand
	case strings.HasPrefix(topic, "station."):
		return CategoryStation
	case topic == bus.TopicLoadUpdated:
		return CategoryAllocation
	case topic == bus.TopicSheddingTransition:
		return CategoryShedding
	case topic == bus.TopicViolation:
		return CategoryViolation
	case topic == bus.TopicFailSafeTransition:
		return CategoryFailSafe
	case topic == bus.TopicThermalDerating:
		return CategoryThermal
	default:
		return CategoryUnknown
	}
}

// stationIDOf pulls a station ID out of a payload when it carries one.
func stationIDOf(payload any) string {
	if s, ok := payload.(interface{ GetStationID() string }); ok {
		return s.GetStationID()
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return ""
	}
	var probe struct {
		StationID string `json:"station_id"`
		ID        string `json:"id"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return ""
	}
	if probe.StationID != "" {
		return probe.StationID
	}
	return probe.ID
}
