package shedding

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/voltmesh/dlm-go/pkg/model"
	"github.com/voltmesh/dlm-go/pkg/store"
)

// Defaults for the hysteresis band and evaluation guard.
const (
	DefaultUpperThreshold    = 0.95
	DefaultLowerThreshold    = 0.85
	DefaultMinUpdateInterval = 2 * time.Second
	windowSize               = 5
)

// StationAction is the per-station outcome of a level transition.
type StationAction struct {
	StationID string  `json:"station_id"`
	Action    Action  `json:"action"`
	TargetKW  float64 `json:"target_kw"`
}

// Transition is the payload recorded on level changes.
type Transition struct {
	From    int             `json:"from"`
	To      int             `json:"to"`
	Ratio   float64         `json:"ratio"`
	Actions []StationAction `json:"actions,omitempty"`
}

// Controller is the hysteretic shedding state machine.
type Controller struct {
	mu sync.Mutex

	strategies map[int]Strategy
	window     []float64
	level      int
	lastEval   time.Time

	// UpperThreshold escalates, LowerThreshold releases; between the
	// two the level holds.
	UpperThreshold    float64
	LowerThreshold    float64
	MinUpdateInterval time.Duration

	st     *store.Store
	logger *zap.Logger
	now    func() time.Time
}

// New creates the controller with default thresholds and strategies.
// st may be nil in tests.
func New(st *store.Store, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		strategies:        DefaultStrategies(),
		UpperThreshold:    DefaultUpperThreshold,
		LowerThreshold:    DefaultLowerThreshold,
		MinUpdateInterval: DefaultMinUpdateInterval,
		st:                st,
		logger:            logger.Named("shedding"),
		now:               time.Now,
	}
}

// Level returns the current shedding level.
func (c *Controller) Level() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.level
}

// Strategies returns a copy of the level table.
func (c *Controller) Strategies() map[int]Strategy {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[int]Strategy, len(c.strategies))
	for k, v := range c.strategies {
		out[k] = v
	}
	return out
}

// SetThresholds adjusts the hysteresis band at runtime.
func (c *Controller) SetThresholds(upper, lower float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.UpperThreshold = upper
	c.LowerThreshold = lower
}

// SetStrategy replaces the strategy for one level.
func (c *Controller) SetStrategy(level int, s Strategy) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.strategies[level] = s
}

// Evaluate pushes the load ratio into the smoothing window and decides
// the level. Calls arriving within MinUpdateInterval of the previous
// one are ignored and return the current level with no actions.
func (c *Controller) Evaluate(currentLoadKW, capacityKW float64, stations []model.Station) (int, []StationAction) {
	c.mu.Lock()

	now := c.now()
	if !c.lastEval.IsZero() && now.Sub(c.lastEval) < c.MinUpdateInterval {
		level := c.level
		c.mu.Unlock()
		return level, nil
	}
	c.lastEval = now

	ratio := 0.0
	switch {
	case capacityKW > 0:
		ratio = currentLoadKW / capacityKW
	case currentLoadKW > 0:
		// No capacity but load present: treat as full overload.
		ratio = c.UpperThreshold + 0.15
	}

	c.window = append(c.window, ratio)
	if len(c.window) > windowSize {
		c.window = c.window[1:]
	}
	var sum float64
	for _, r := range c.window {
		sum += r
	}
	smoothed := sum / float64(len(c.window))

	target := c.level
	switch {
	case smoothed >= c.UpperThreshold:
		target = escalationLevel(smoothed - c.UpperThreshold)
	case smoothed <= c.LowerThreshold:
		target = 0
	}

	if target == c.level {
		level := c.level
		c.mu.Unlock()
		return level, nil
	}

	prev := c.level
	c.level = target
	actions := c.transitionActions(prev, target, stations)
	c.mu.Unlock()

	c.logger.Info("shedding level changed",
		zap.Int("from", prev), zap.Int("to", target),
		zap.Float64("smoothed_ratio", smoothed),
		zap.Int("actions", len(actions)))

	if c.st != nil {
		err := c.st.Apply(store.SetSheddingLevel{
			Level:    target,
			Previous: prev,
			Reason:   fmt.Sprintf("smoothed load ratio %.2f", smoothed),
		})
		if err != nil {
			c.logger.Error("recording shedding transition failed", zap.Error(err))
		}
	}
	return target, actions
}

// transitionActions computes what happens to each station when moving
// between levels. Escalation applies the new level's strategy; full
// de-escalation restores requested power; partial de-escalation applies
// the weaker strategy of the new level. Caller holds the lock.
func (c *Controller) transitionActions(from, to int, stations []model.Station) []StationAction {
	var out []StationAction

	if to == 0 {
		// Release every station the old level touched.
		strat, ok := c.strategies[from]
		if !ok {
			return nil
		}
		for _, st := range stations {
			if st.Priority <= strat.PriorityThreshold {
				out = append(out, StationAction{
					StationID: st.ID, Action: ActionRestore, TargetKW: st.RequestedPower,
				})
			}
		}
		return out
	}

	strat, ok := c.strategies[to]
	if !ok {
		return nil
	}
	for _, st := range stations {
		if st.Priority > strat.PriorityThreshold {
			// Stations above the new threshold that the previous level
			// affected are restored on de-escalation.
			if to < from {
				if prev, ok := c.strategies[from]; ok && st.Priority <= prev.PriorityThreshold {
					out = append(out, StationAction{
						StationID: st.ID, Action: ActionRestore, TargetKW: st.RequestedPower,
					})
				}
			}
			continue
		}
		switch strat.Action {
		case ActionStop:
			out = append(out, StationAction{StationID: st.ID, Action: ActionStop})
		case ActionReduce:
			out = append(out, StationAction{
				StationID: st.ID, Action: ActionReduce,
				TargetKW: st.RequestedPower * (1 - strat.Reduction),
			})
		}
	}
	return out
}

// Override caps a proposed allocation according to the current level.
// It reports whether shedding changed the proposal.
func (c *Controller) Override(st model.Station, proposedKW float64) (float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	strat, ok := c.strategies[c.level]
	if c.level == 0 || !ok || st.Priority > strat.PriorityThreshold {
		return proposedKW, false
	}
	switch strat.Action {
	case ActionStop:
		return 0, true
	case ActionReduce:
		return proposedKW * (1 - strat.Reduction), true
	}
	return proposedKW, false
}
