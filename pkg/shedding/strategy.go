package shedding

// Action is what a shedding level does to affected stations.
type Action string

const (
	ActionNone    Action = "none"
	ActionReduce  Action = "reduce"
	ActionStop    Action = "stop"
	ActionRestore Action = "restore"
)

// Strategy describes one shedding level.
type Strategy struct {
	// PriorityThreshold selects stations with priority <= threshold.
	PriorityThreshold int `json:"priority_threshold"`

	Action Action `json:"action"`

	// Reduction is the fraction removed from the allocation for
	// ActionReduce. ActionStop always removes everything.
	Reduction float64 `json:"reduction"`
}

// MaxLevel is the highest shedding level.
const MaxLevel = 5

// DefaultStrategies returns the level table used unless reconfigured.
func DefaultStrategies() map[int]Strategy {
	return map[int]Strategy{
		1: {PriorityThreshold: 3, Action: ActionReduce, Reduction: 0.20},
		2: {PriorityThreshold: 5, Action: ActionReduce, Reduction: 0.40},
		3: {PriorityThreshold: 10, Action: ActionReduce, Reduction: 0.50},
		4: {PriorityThreshold: 5, Action: ActionStop, Reduction: 1},
		5: {PriorityThreshold: 8, Action: ActionStop, Reduction: 1},
	}
}

// escalationLevel maps the overshoot above the upper threshold to a
// target level.
func escalationLevel(overshoot float64) int {
	switch {
	case overshoot >= 0.15:
		return 5
	case overshoot >= 0.10:
		return 4
	case overshoot >= 0.07:
		return 3
	case overshoot >= 0.04:
		return 2
	default:
		return 1
	}
}
