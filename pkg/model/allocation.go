package model

import "time"

// AllocationReason explains a per-station allocation decision.
type AllocationReason string

const (
	ReasonAllocated            AllocationReason = "allocated"
	ReasonInsufficientCapacity AllocationReason = "insufficient_capacity"
	ReasonZoneCap              AllocationReason = "zone_cap"
	ReasonShedding             AllocationReason = "shedding"
	ReasonFailSafe             AllocationReason = "fail_safe"
	ReasonDispatchError        AllocationReason = "dispatch_error"
)

// StationAllocation is the decided power for one station in one tick.
type StationAllocation struct {
	StationID string           `json:"station_id"`
	PowerKW   float64          `json:"power_kw"`
	Reason    AllocationReason `json:"reason"`
}

// AllocationTick records the outcome of one balancing pass.
type AllocationTick struct {
	// ID is the monotonic tick counter.
	ID uint64 `json:"id"`

	// Timestamp is when the tick started.
	Timestamp time.Time `json:"timestamp"`

	// AvailableKW is the capacity offered to the distribution passes.
	AvailableKW float64 `json:"available_kw"`

	// AllocatedKW is the sum of decided powers.
	AllocatedKW float64 `json:"allocated_kw"`

	// SheddingLevel is the shedding level in force during the tick.
	SheddingLevel int `json:"shedding_level"`

	// Stations holds the per-station decisions.
	Stations []StationAllocation `json:"stations"`
}
