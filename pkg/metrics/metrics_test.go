package metrics

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voltmesh/dlm-go/pkg/bus"
	"github.com/voltmesh/dlm-go/pkg/model"
	"github.com/voltmesh/dlm-go/pkg/store"
)

func TestHandlerServesRegistry(t *testing.T) {
	m := New()
	m.SheddingLevel.Set(3)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "dlm_shedding_level 3")
}

func TestObserverTracksEvents(t *testing.T) {
	m := New()
	events := bus.New()
	defer events.Close()
	st := store.New(events, nil)

	obs := NewObserver(m, events, st)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- obs.Run(ctx) }()

	require.Eventually(t, func() bool {
		return events.SubscriberCount() == 1
	}, time.Second, 5*time.Millisecond)

	events.Publish(bus.TopicLoadUpdated, model.AllocationTick{
		ID:            7,
		AvailableKW:   40,
		AllocatedKW:   33,
		SheddingLevel: 1,
	})
	events.Publish(bus.TopicViolation, model.Violation{
		Type:     "power_limit",
		Severity: model.SeverityCritical,
	})

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(m.AllocatorTicks) == 1
	}, time.Second, 10*time.Millisecond)

	assert.Equal(t, 33.0, testutil.ToFloat64(m.AllocatedKW))
	assert.Equal(t, 40.0, testutil.ToFloat64(m.AvailableKW))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SheddingLevel))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Violations.WithLabelValues(
		"power_limit", model.SeverityCritical.String())))

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}
