package failsafe

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/voltmesh/dlm-go/pkg/breaker"
	"github.com/voltmesh/dlm-go/pkg/fault"
	"github.com/voltmesh/dlm-go/pkg/model"
	"github.com/voltmesh/dlm-go/pkg/store"
)

// Defaults for the supervision loops.
const (
	DefaultSweepInterval    = 10 * time.Second
	DefaultCommTimeout      = 30 * time.Second
	DefaultHeartbeatTimeout = 60 * time.Second
)

// TestResult is what test_failsafe reports without mutating state.
type TestResult struct {
	StationID     string              `json:"station_id"`
	WouldActivate bool                `json:"would_activate"`
	Action        model.OfflineAction `json:"offline_action"`
	TargetKW      float64             `json:"target_kw"`
	SilentFor     time.Duration       `json:"silent_for"`
}

// Manager runs the fail-safe heartbeat loop.
type Manager struct {
	st     *store.Store
	logger *zap.Logger

	// SweepInterval is the cadence of the per-station timeout sweep.
	SweepInterval time.Duration

	// Enabled gates the whole mechanism; a disabled manager sweeps
	// nothing but still answers Test.
	Enabled bool

	heartbeat *breaker.Watchdog

	mu            sync.Mutex
	systemOffline bool
	now           func() time.Time
}

// New creates a manager with the default intervals. The system
// watchdog arms on Run and fires system offline mode when Heartbeat is
// not called within heartbeatTimeout.
func New(st *store.Store, heartbeatTimeout time.Duration, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if heartbeatTimeout <= 0 {
		heartbeatTimeout = DefaultHeartbeatTimeout
	}
	m := &Manager{
		st:            st,
		logger:        logger.Named("failsafe"),
		SweepInterval: DefaultSweepInterval,
		Enabled:       true,
		now:           time.Now,
	}
	m.heartbeat = breaker.NewWatchdog(heartbeatTimeout, m.onSystemTimeout)
	return m
}

// Run sweeps until the context ends. The system watchdog is armed for
// the duration of the loop.
func (m *Manager) Run(ctx context.Context) error {
	m.heartbeat.Start()
	defer m.heartbeat.Stop()

	ticker := time.NewTicker(m.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.sweep()
		}
	}
}

// Heartbeat kicks the system watchdog and leaves system offline mode.
func (m *Manager) Heartbeat() {
	m.heartbeat.Kick()
	m.mu.Lock()
	if m.systemOffline {
		m.systemOffline = false
		m.logger.Info("system heartbeat restored, leaving offline mode")
	}
	m.mu.Unlock()
}

// SystemOffline reports whether system offline mode is in force.
func (m *Manager) SystemOffline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.systemOffline
}

func (m *Manager) onSystemTimeout() {
	m.mu.Lock()
	m.systemOffline = true
	m.mu.Unlock()
	m.logger.Warn("system heartbeat missed, entering offline mode")
	m.sweep()
}

// WatchdogStatus describes the system heartbeat watchdog.
type WatchdogStatus struct {
	Running       bool      `json:"running"`
	LastKick      time.Time `json:"last_kick,omitempty"`
	Timeouts      int       `json:"timeouts"`
	SystemOffline bool      `json:"system_offline"`
}

// WatchdogStatus reports the heartbeat watchdog state.
func (m *Manager) WatchdogStatus() WatchdogStatus {
	return WatchdogStatus{
		Running:       m.heartbeat.Running(),
		LastKick:      m.heartbeat.LastKick(),
		Timeouts:      m.heartbeat.Timeouts(),
		SystemOffline: m.SystemOffline(),
	}
}

// sweep activates the offline action for every station whose silence
// exceeds its communication timeout, or for all stations in system
// offline mode.
func (m *Manager) sweep() {
	if !m.Enabled {
		return
	}

	now := m.now()
	systemOffline := m.SystemOffline()
	snap := m.st.Snapshot()

	for _, fs := range snap.FailSafe {
		silent, silentFor := m.silence(fs, now)
		if !systemOffline && !silent {
			continue
		}

		fs.Active = true
		fs.ConsecutiveTimeouts++
		if err := m.st.Apply(store.SetFailSafeState{State: fs}); err != nil {
			m.logger.Error("storing fail-safe state failed",
				zap.String("station", fs.StationID), zap.Error(err))
			continue
		}
		if silent {
			if err := m.st.Apply(store.MarkStationOffline{StationID: fs.StationID}); err != nil {
				m.logger.Error("marking station offline failed",
					zap.String("station", fs.StationID), zap.Error(err))
			}
		}

		m.logger.Warn("fail-safe active",
			zap.String("station", fs.StationID),
			zap.String("action", string(fs.Action)),
			zap.Float64("target_kw", fs.Target()),
			zap.Duration("silent_for", silentFor),
			zap.Int("consecutive_timeouts", fs.ConsecutiveTimeouts),
			zap.Bool("system_offline", systemOffline))
	}
}

// silence reports whether the station exceeded its comm timeout.
// Stations that never communicated are not timed out; they have no
// session to protect yet.
func (m *Manager) silence(fs model.FailSafeState, now time.Time) (bool, time.Duration) {
	if fs.LastComm.IsZero() {
		return false, 0
	}
	timeout := fs.CommTimeout
	if timeout <= 0 {
		timeout = DefaultCommTimeout
	}
	silentFor := now.Sub(fs.LastComm)
	return silentFor > timeout, silentFor
}

// Test simulates the timeout for one station and reports the action
// that would be taken. Durable state is not touched.
func (m *Manager) Test(stationID string) (TestResult, error) {
	snap := m.st.Snapshot()
	fs, ok := snap.FailSafe[stationID]
	if !ok {
		return TestResult{}, fault.New(fault.KindValidation,
			"no fail-safe state for station %q", stationID)
	}

	silent, silentFor := m.silence(fs, m.now())
	return TestResult{
		StationID:     stationID,
		WouldActivate: silent || m.SystemOffline(),
		Action:        fs.Action,
		TargetKW:      fs.Target(),
		SilentFor:     silentFor,
	}, nil
}
