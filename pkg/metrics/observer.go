package metrics

import (
	"context"

	"github.com/voltmesh/dlm-go/pkg/bus"
	"github.com/voltmesh/dlm-go/pkg/model"
	"github.com/voltmesh/dlm-go/pkg/store"
)

// Observer keeps the metric set in sync with bus events.
type Observer struct {
	metrics *Metrics
	events  *bus.Bus
	st      *store.Store
}

// NewObserver creates a bus-driven metrics updater.
func NewObserver(m *Metrics, events *bus.Bus, st *store.Store) *Observer {
	return &Observer{metrics: m, events: events, st: st}
}

// Run consumes events until the context is cancelled or the bus
// closes.
func (o *Observer) Run(ctx context.Context) error {
	ch, cancel := o.events.Subscribe(
		bus.TopicLoadUpdated,
		bus.TopicSheddingTransition,
		bus.TopicViolation,
		bus.TopicFailSafeTransition,
	)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			o.observe(ev)
		}
	}
}

func (o *Observer) observe(ev bus.Event) {
	m := o.metrics
	switch payload := ev.Payload.(type) {
	case model.AllocationTick:
		m.AllocatorTicks.Inc()
		m.AllocatedKW.Set(payload.AllocatedKW)
		m.AvailableKW.Set(payload.AvailableKW)
		m.SheddingLevel.Set(float64(payload.SheddingLevel))
		snap := o.st.Snapshot()
		m.ChargingLoadKW.Set(snap.ChargingLoadKW())
		m.ActiveStations.Set(float64(len(snap.ActiveStations())))
	case store.SetSheddingLevel:
		m.SheddingLevel.Set(float64(payload.Level))
	case model.Violation:
		m.Violations.WithLabelValues(payload.Type, payload.Severity.String()).Inc()
	case model.FailSafeState:
		snap := o.st.Snapshot()
		active := 0
		for _, fs := range snap.FailSafe {
			if fs.Active {
				active++
			}
		}
		m.FailSafeActive.Set(float64(active))
	}

	published, dropped := o.events.Stats()
	m.EventsPublished.Set(float64(published))
	m.BusEventsDropped.Set(float64(dropped))
}
