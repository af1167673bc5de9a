package schedule

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/voltmesh/dlm-go/pkg/fault"
	"github.com/voltmesh/dlm-go/pkg/store"
)

// DefaultCheckInterval is how often window membership is re-evaluated.
const DefaultCheckInterval = 30 * time.Second

// Window is one recurring charging window.
type Window struct {
	ID        string `json:"id" yaml:"id"`
	StationID string `json:"station_id" yaml:"station_id"`

	// Cron is a standard five-field cron expression for the window start.
	Cron string `json:"cron" yaml:"cron"`

	// Duration is how long the window stays open after each start.
	Duration time.Duration `json:"duration" yaml:"duration"`

	// PriorityBoost is added to the station priority while the window
	// is open.
	PriorityBoost int `json:"priority_boost,omitempty" yaml:"priority_boost,omitempty"`
}

// Scheduler tracks windows and keeps station scheduling flags in sync.
type Scheduler struct {
	mu sync.Mutex

	windows map[string]Window
	specs   map[string]cron.Schedule

	// boosted remembers the boost applied per station so it can be
	// removed when the window closes.
	boosted map[string]int

	CheckInterval time.Duration

	st     *store.Store
	logger *zap.Logger
	now    func() time.Time
}

// New creates an empty scheduler.
func New(st *store.Store, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		windows:       make(map[string]Window),
		specs:         make(map[string]cron.Schedule),
		boosted:       make(map[string]int),
		CheckInterval: DefaultCheckInterval,
		st:            st,
		logger:        logger.Named("schedule"),
		now:           time.Now,
	}
}

// Add validates and installs a window.
func (s *Scheduler) Add(w Window) error {
	if w.ID == "" || w.StationID == "" {
		return fault.New(fault.KindValidation, "schedule window requires id and station_id")
	}
	if w.Duration <= 0 {
		return fault.New(fault.KindValidation, "schedule window %q requires a positive duration", w.ID)
	}
	spec, err := cron.ParseStandard(w.Cron)
	if err != nil {
		return fault.Wrap(fault.KindValidation, err, "cron expression %q", w.Cron)
	}

	s.mu.Lock()
	s.windows[w.ID] = w
	s.specs[w.ID] = spec
	s.mu.Unlock()
	return nil
}

// Remove deletes a window.
func (s *Scheduler) Remove(id string) {
	s.mu.Lock()
	delete(s.windows, id)
	delete(s.specs, id)
	s.mu.Unlock()
}

// Windows returns a copy of the installed windows.
func (s *Scheduler) Windows() []Window {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Window, 0, len(s.windows))
	for _, w := range s.windows {
		out = append(out, w)
	}
	return out
}

// Active reports whether any window for the station is open at t, and
// the strongest boost among open windows.
func (s *Scheduler) Active(stationID string, t time.Time) (bool, int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	active, boost := false, 0
	for id, w := range s.windows {
		if w.StationID != stationID {
			continue
		}
		if s.open(id, t) {
			active = true
			if w.PriorityBoost > boost {
				boost = w.PriorityBoost
			}
		}
	}
	return active, boost
}

// open reports whether window id covers t. A window covers t when its
// most recent start lies within [t-duration, t]. Caller holds the lock.
func (s *Scheduler) open(id string, t time.Time) bool {
	w := s.windows[id]
	next := s.specs[id].Next(t.Add(-w.Duration))
	return !next.IsZero() && !next.After(t)
}

// Run re-evaluates window membership until the context ends.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.CheckInterval)
	defer ticker.Stop()

	s.Sync()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.Sync()
		}
	}
}

// Sync flips ScheduledCharging and applies or removes priority boosts
// for every station named by a window.
func (s *Scheduler) Sync() {
	now := s.now()
	snap := s.st.Snapshot()

	stations := make(map[string]struct{})
	s.mu.Lock()
	for _, w := range s.windows {
		stations[w.StationID] = struct{}{}
	}
	s.mu.Unlock()

	for _, st := range snap.Stations {
		if _, named := stations[st.ID]; !named {
			continue
		}
		active, boost := s.Active(st.ID, now)
		if st.ScheduledCharging == active {
			continue
		}

		upd := store.UpdateStation{StationID: st.ID, ScheduledCharging: &active}

		s.mu.Lock()
		applied := s.boosted[st.ID]
		var newPrio int
		switch {
		case active && boost > 0:
			newPrio = st.Priority + boost
			s.boosted[st.ID] = boost
		case !active && applied > 0:
			newPrio = st.Priority - applied
			delete(s.boosted, st.ID)
		}
		s.mu.Unlock()

		if newPrio > 0 {
			upd.Priority = &newPrio
		}

		if err := s.st.Apply(upd); err != nil {
			s.logger.Error("updating scheduled charging failed",
				zap.String("station", st.ID), zap.Error(err))
			continue
		}
		s.logger.Info("charging window transition",
			zap.String("station", st.ID), zap.Bool("active", active))
	}
}
