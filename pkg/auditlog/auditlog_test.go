package auditlog

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voltmesh/dlm-go/pkg/bus"
)

func TestEntryRoundTrip(t *testing.T) {
	in := Entry{
		Timestamp: time.Date(2026, 3, 14, 9, 26, 53, 589793238, time.UTC),
		Category:  CategoryCommand,
		Topic:     bus.TopicStationCommandDC,
		StationID: "dc-1",
		Actor:     "allocator",
		Summary:   "power limit 50 kW",
		Detail:    []byte(`{"station_id":"dc-1","target_kw":50}`),
	}

	data, err := EncodeEntry(in)
	require.NoError(t, err)

	out, err := DecodeEntry(data)
	require.NoError(t, err)
	assert.True(t, in.Timestamp.Equal(out.Timestamp))
	assert.Equal(t, in.Category, out.Category)
	assert.Equal(t, in.StationID, out.StationID)
	assert.Equal(t, in.Detail, out.Detail)

	var detail struct {
		TargetKW float64 `json:"target_kw"`
	}
	require.NoError(t, out.DecodeDetail(&detail))
	assert.Equal(t, 50.0, detail.TargetKW)
}

func TestCategoryForTopic(t *testing.T) {
	cases := map[string]Category{
		bus.TopicStationRegistered:     CategoryStation,
		bus.TopicStationSessionStarted: CategorySession,
		bus.TopicStationCommandAC:      CategoryCommand,
		bus.TopicLoadUpdated:           CategoryAllocation,
		bus.TopicSheddingTransition:    CategoryShedding,
		bus.TopicViolation:             CategoryViolation,
		bus.TopicFailSafeTransition:    CategoryFailSafe,
		bus.TopicThermalDerating:       CategoryThermal,
		"something.else":               CategoryUnknown,
	}
	for topic, want := range cases {
		assert.Equal(t, want, categoryFor(topic), topic)
	}
}

func TestWriterAppendAndRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.cbor")
	w, err := NewWriter(path)
	require.NoError(t, err)

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		require.NoError(t, w.Append(Entry{
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			Category:  CategoryAllocation,
			Topic:     bus.TopicLoadUpdated,
		}))
	}
	require.NoError(t, w.Append(Entry{
		Timestamp: base.Add(10 * time.Minute),
		Category:  CategoryViolation,
		Topic:     bus.TopicViolation,
		StationID: "cp-1",
	}))
	require.NoError(t, w.Close())
	assert.NoError(t, w.Close(), "close is idempotent")

	all, err := Read(path, Query{})
	require.NoError(t, err)
	assert.Len(t, all, 6)

	violations, err := Read(path, Query{Category: CategoryViolation})
	require.NoError(t, err)
	require.Len(t, violations, 1)
	assert.Equal(t, "cp-1", violations[0].StationID)

	recent, err := Read(path, Query{Since: base.Add(3 * time.Minute)})
	require.NoError(t, err)
	assert.Len(t, recent, 3)

	limited, err := Read(path, Query{Limit: 2})
	require.NoError(t, err)
	require.Len(t, limited, 2)
	assert.Equal(t, CategoryViolation, limited[1].Category,
		"limit keeps the most recent entries")
}

func TestReadMissingFile(t *testing.T) {
	entries, err := Read(filepath.Join(t.TempDir(), "nope.cbor"), Query{})
	require.NoError(t, err)
	assert.Nil(t, entries)
}

func TestWriterAppendAfterClose(t *testing.T) {
	w, err := NewWriter(filepath.Join(t.TempDir(), "audit.cbor"))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	assert.Error(t, w.Append(Entry{Timestamp: time.Now()}))
}

func TestRecorderMirrorsBus(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.cbor")
	w, err := NewWriter(path)
	require.NoError(t, err)
	defer w.Close()

	events := bus.New()
	defer events.Close()

	rec := NewRecorder(w, events, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rec.Run(ctx) }()

	// Let the subscription land before publishing.
	require.Eventually(t, func() bool {
		return events.SubscriberCount() == 1
	}, time.Second, 5*time.Millisecond)

	events.Publish(bus.TopicStationRegistered, map[string]any{"id": "cp-1"})
	events.Publish(bus.TopicSheddingTransition, map[string]any{"from": 0, "to": 2})

	require.Eventually(t, func() bool {
		entries, err := Read(path, Query{})
		return err == nil && len(entries) == 2
	}, time.Second, 10*time.Millisecond)

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)

	entries, err := Read(path, Query{Category: CategoryStation})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "cp-1", entries[0].StationID)
}
