// Command dlmd is the dynamic load management daemon.
//
// It supervises a fleet of EV charging stations and energy meters,
// allocates the available grid capacity across active sessions, sheds
// load under pressure, and drops stations to safe setpoints when
// communication is lost. State survives restarts through a JSON
// snapshot file; every bus event is appended to a CBOR audit log.
//
// Usage:
//
//	dlmd [flags]
//
// Flags:
//
//	-config string   Configuration file path (YAML)
//	-reset           Clear persisted state before starting
//	-version         Print version and exit
//
// Configuration keys can also be set through DLM_* environment
// variables; see pkg/config.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/voltmesh/dlm-go/pkg/allocator"
	"github.com/voltmesh/dlm-go/pkg/api"
	"github.com/voltmesh/dlm-go/pkg/auditlog"
	"github.com/voltmesh/dlm-go/pkg/bus"
	"github.com/voltmesh/dlm-go/pkg/capability"
	"github.com/voltmesh/dlm-go/pkg/config"
	"github.com/voltmesh/dlm-go/pkg/constraints"
	"github.com/voltmesh/dlm-go/pkg/control"
	"github.com/voltmesh/dlm-go/pkg/discovery"
	"github.com/voltmesh/dlm-go/pkg/failsafe"
	"github.com/voltmesh/dlm-go/pkg/logging"
	"github.com/voltmesh/dlm-go/pkg/metrics"
	"github.com/voltmesh/dlm-go/pkg/model"
	"github.com/voltmesh/dlm-go/pkg/persistence"
	"github.com/voltmesh/dlm-go/pkg/schedule"
	"github.com/voltmesh/dlm-go/pkg/shedding"
	"github.com/voltmesh/dlm-go/pkg/store"
	"github.com/voltmesh/dlm-go/pkg/version"
)

const shutdownTimeout = 30 * time.Second

func main() {
	var (
		configPath   = flag.String("config", "", "configuration file path")
		reset        = flag.Bool("reset", false, "clear persisted state before starting")
		printVersion = flag.Bool("version", false, "print version and exit")
	)
	flag.Parse()

	if *printVersion {
		fmt.Println("dlmd", version.Get().String())
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "dlmd:", err)
		os.Exit(1)
	}

	logger := logging.Must(cfg.LogLevel, cfg.LogFormat)
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, *configPath, *reset, logger); err != nil {
		logger.Fatal("daemon failed", zap.Error(err))
	}
}

func run(cfg *config.Config, configPath string, reset bool, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("starting",
		zap.String("version", version.Get().String()),
		zap.String("listen", cfg.Listen),
		zap.Float64("max_capacity_kw", cfg.Grid.MaxCapacityKW))

	events := bus.New()
	defer events.Close()

	st := store.New(events, logger)
	caps := capability.NewRegistry(logger)
	m := metrics.New()

	// Persisted state replays before configured defaults so last known
	// good setpoints and zone caps survive restarts.
	stateFile := persistence.NewFile(cfg.StateFile)
	if reset {
		logger.Info("clearing persisted state", zap.String("path", cfg.StateFile))
		if err := stateFile.Clear(); err != nil {
			return fmt.Errorf("clearing state: %w", err)
		}
	}
	state, err := stateFile.Load()
	if err != nil {
		return fmt.Errorf("loading state: %w", err)
	}
	if err := persistence.Restore(st, state); err != nil {
		return fmt.Errorf("restoring state: %w", err)
	}

	scheduler := schedule.New(st, logger)
	if state != nil {
		for _, w := range state.Schedules {
			if err := scheduler.Add(w); err != nil {
				logger.Warn("dropping persisted schedule",
					zap.String("id", w.ID), zap.Error(err))
			}
		}
	}
	persistence.Attach(stateFile, st, scheduler.Windows, logger)

	if err := seedFromConfig(st, cfg, logger); err != nil {
		return err
	}

	cons := constraints.New(st, logger)
	installTopology(cons, st, cfg)

	drivers := newDriverSet(cfg, m, logger)
	defer drivers.closeAll()

	ac := control.NewAC(caps, drivers, st, logger)
	ac.MaxImbalance = cfg.Site.MaxPhaseImbalance
	dc := control.NewDC(caps, drivers, st, events, logger)
	dispatcher := control.NewDispatcher(ac, dc)

	shed := shedding.New(st, logger)
	shed.UpperThreshold = cfg.Shedding.UpperThreshold
	shed.LowerThreshold = cfg.Shedding.LowerThreshold
	if !cfg.Shedding.Enabled {
		shed = nil
	}

	alloc := allocator.New(st, caps, cons, shed, dispatcher, logger)
	alloc.MaxStationKW = cfg.Grid.MaxChargingPowerPerStationKW
	alloc.IncludePV = cfg.Grid.PVSystemEnabled && cfg.Grid.EnablePVExcessCharging

	fsm := failsafe.New(st, cfg.FailSafe.HeartbeatTimeout.D(), logger)
	fsm.Enabled = cfg.FailSafe.Enabled

	auditWriter, err := auditlog.NewWriter(cfg.AuditFile)
	if err != nil {
		return fmt.Errorf("opening audit log: %w", err)
	}
	defer auditWriter.Close()
	recorder := auditlog.NewRecorder(auditWriter, events, logger)

	observer := metrics.NewObserver(m, events, st)

	var disco *discovery.Manager
	if cfg.Discovery.Enabled {
		disco = discovery.NewManager(discovery.NewBrowser(discovery.BrowserConfig{}), st, logger)
	}

	prov := newProvisioner(st, caps, drivers, cfg, logger)

	srv := api.New(api.Deps{
		Store:        st,
		Events:       events,
		Config:       cfg,
		Capabilities: caps,
		AC:           ac,
		DC:           dc,
		Dispatcher:   dispatcher,
		Drivers:      drivers,
		Constraints:  cons,
		Shedding:     shed,
		Allocator:    alloc,
		FailSafe:     fsm,
		Scheduler:    scheduler,
		Discovery:    disco,
		Metrics:      m,
		Logger:       logger,
		Breakers:     drivers.breakerStates,
		AuditPath:    cfg.AuditFile,
		Provision:    prov.provisionStation,
		Deprovision:  prov.deprovisionStation,
	})

	if err := prov.provisionAll(ctx); err != nil {
		logger.Warn("initial provisioning incomplete", zap.Error(err))
	}

	httpSrv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return ignoreCanceled(observer.Run(gctx)) })
	g.Go(func() error { return ignoreCanceled(recorder.Run(gctx)) })
	g.Go(func() error { return ignoreCanceled(srv.Hub().Run(gctx)) })
	g.Go(func() error { return ignoreCanceled(scheduler.Run(gctx)) })
	g.Go(func() error { return ignoreCanceled(heartbeatLoop(gctx, events, fsm)) })

	if cfg.Grid.EnableLoadBalancing {
		g.Go(func() error { return ignoreCanceled(alloc.Run(gctx)) })
	}
	if cfg.FailSafe.Enabled {
		g.Go(func() error { return ignoreCanceled(fsm.Run(gctx)) })
	}
	if disco != nil {
		g.Go(func() error { return ignoreCanceled(disco.Run(gctx)) })
	}
	if configPath != "" {
		g.Go(func() error {
			return ignoreCanceled(config.Watch(gctx, configPath, logger, func(next *config.Config) {
				applyReload(st, shed, cfg, next, logger)
			}))
		})
	}

	g.Go(func() error {
		logger.Info("http listening", zap.String("addr", cfg.Listen))
		if err := httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	logger.Info("stopped")
	return err
}

// heartbeatLoop kicks the system watchdog on every completed
// allocation tick. A stalled allocator therefore drives the whole site
// into offline mode.
func heartbeatLoop(ctx context.Context, events *bus.Bus, fsm *failsafe.Manager) error {
	ticks, cancel := events.Subscribe(bus.TopicLoadUpdated)
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case _, ok := <-ticks:
			if !ok {
				return nil
			}
			fsm.Heartbeat()
		}
	}
}

// seedFromConfig applies configured capacity, zone caps, stations, and
// meters on top of whatever the persisted state restored. Configured
// values win; registration conflicts with restored entries are fine.
func seedFromConfig(st *store.Store, cfg *config.Config, logger *zap.Logger) error {
	maxKW, peakKW := cfg.Grid.MaxCapacityKW, cfg.Grid.PeakThresholdKW
	if err := st.Apply(store.SetCapacityLimits{
		MaxCapacityKW:   &maxKW,
		PeakThresholdKW: &peakKW,
	}); err != nil {
		return err
	}

	for zone, capKW := range cfg.Zones {
		kw := capKW
		if err := st.Apply(store.SetZoneCap{Zone: zone, CapKW: &kw}); err != nil {
			return err
		}
	}

	for _, sc := range cfg.Stations {
		station, err := stationFromConfig(sc, cfg)
		if err != nil {
			return err
		}
		if _, exists := st.Station(sc.ID); exists {
			continue
		}
		if err := st.Apply(store.RegisterStation{Station: station}); err != nil {
			return err
		}
		logger.Info("registered configured station", zap.String("station", sc.ID))
	}

	// Every station gets a fail-safe entry; restored entries keep their
	// tuned values.
	snap := st.Snapshot()
	for _, station := range snap.Stations {
		if _, ok := snap.FailSafe[station.ID]; ok {
			continue
		}
		err := st.Apply(store.SetFailSafeState{State: model.FailSafeState{
			StationID:   station.ID,
			SafePowerKW: cfg.Grid.MinChargingPowerKW,
			Action:      model.OfflineReduce,
			CommTimeout: cfg.FailSafe.CommTimeout.D(),
		}})
		if err != nil {
			return err
		}
	}

	for _, mc := range cfg.Meters {
		if _, exists := st.Meter(mc.ID); exists {
			continue
		}
		err := st.Apply(store.RegisterMeter{Meter: meterFromConfig(mc)})
		if err != nil {
			return err
		}
		logger.Info("registered configured meter", zap.String("meter", mc.ID))
	}
	return nil
}

// installTopology prefers a persisted topology and otherwise derives a
// single-service one from the site section.
func installTopology(cons *constraints.Evaluator, st *store.Store, cfg *config.Config) {
	if topo := st.Snapshot().Topology; topo != nil {
		cons.SetTopology(*topo)
		return
	}

	topo := siteTopology(cfg)
	cons.SetTopology(topo)
	_ = st.Apply(store.SetTopology{Topology: topo})
}

// applyReload pushes the reloadable subset of a changed configuration
// into the running service. Stations, meters, and listen address need a
// restart.
func applyReload(st *store.Store, shed *shedding.Controller, cur, next *config.Config, logger *zap.Logger) {
	if next.Grid.MaxCapacityKW != cur.Grid.MaxCapacityKW ||
		next.Grid.PeakThresholdKW != cur.Grid.PeakThresholdKW {
		maxKW, peakKW := next.Grid.MaxCapacityKW, next.Grid.PeakThresholdKW
		if err := st.Apply(store.SetCapacityLimits{
			MaxCapacityKW:   &maxKW,
			PeakThresholdKW: &peakKW,
		}); err != nil {
			logger.Warn("reload: capacity update rejected", zap.Error(err))
		}
	}

	for zone, capKW := range next.Zones {
		if cur.Zones[zone] == capKW {
			continue
		}
		kw := capKW
		if err := st.Apply(store.SetZoneCap{Zone: zone, CapKW: &kw}); err != nil {
			logger.Warn("reload: zone cap rejected", zap.String("zone", zone), zap.Error(err))
		}
	}

	if shed != nil {
		shed.SetThresholds(next.Shedding.UpperThreshold, next.Shedding.LowerThreshold)
	}

	cur.Grid = next.Grid
	cur.Zones = next.Zones
	cur.Shedding = next.Shedding
	logger.Info("configuration reloaded")
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
