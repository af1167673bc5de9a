package bus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishSubscribe(t *testing.T) {
	b := New()
	defer b.Close()

	ch, cancel := b.Subscribe(TopicStationUpdated)
	defer cancel()

	b.Publish(TopicStationUpdated, "payload")

	select {
	case ev := <-ch:
		assert.Equal(t, TopicStationUpdated, ev.Topic)
		assert.Equal(t, "payload", ev.Payload)
		assert.NotEmpty(t, ev.ID)
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestWildcardMatching(t *testing.T) {
	b := New()
	defer b.Close()

	ch, cancel := b.Subscribe("station.*")
	defer cancel()

	b.Publish(TopicStationRegistered, nil)
	b.Publish(TopicMeterUpdated, nil)
	b.Publish(TopicStationSessionStarted, nil)

	got := drain(ch)
	require.Len(t, got, 2)
	assert.Equal(t, TopicStationRegistered, got[0].Topic)
	assert.Equal(t, TopicStationSessionStarted, got[1].Topic)
}

func TestTopicAll(t *testing.T) {
	b := New()
	defer b.Close()

	ch, cancel := b.Subscribe(TopicAll)
	defer cancel()

	b.Publish(TopicLoadUpdated, nil)
	b.Publish(TopicViolation, nil)

	assert.Len(t, drain(ch), 2)
}

func TestSlowSubscriberDropsNotBlocks(t *testing.T) {
	b := NewWithQueueSize(2)
	defer b.Close()

	_, cancel := b.Subscribe(TopicLoadUpdated)
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			b.Publish(TopicLoadUpdated, i)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publisher blocked on slow subscriber")
	}

	_, dropped := b.Stats()
	assert.Equal(t, uint64(8), dropped)
}

func TestPerTopicOrder(t *testing.T) {
	b := New()
	defer b.Close()

	ch, cancel := b.Subscribe(TopicLoadUpdated)
	defer cancel()

	for i := 0; i < 50; i++ {
		b.Publish(TopicLoadUpdated, i)
	}

	got := drain(ch)
	require.Len(t, got, 50)
	for i, ev := range got {
		assert.Equal(t, i, ev.Payload)
	}
}

func TestCancelStopsDelivery(t *testing.T) {
	b := New()
	defer b.Close()

	ch, cancel := b.Subscribe(TopicLoadUpdated)
	cancel()

	b.Publish(TopicLoadUpdated, nil)

	_, open := <-ch
	assert.False(t, open)
	assert.Equal(t, 0, b.SubscriberCount())
}

func TestCloseClosesSubscribers(t *testing.T) {
	b := New()
	ch, _ := b.Subscribe(TopicAll)

	b.Close()
	_, open := <-ch
	assert.False(t, open)

	// Publish after close is a no-op.
	b.Publish(TopicLoadUpdated, nil)
}

func drain(ch <-chan Event) []Event {
	var out []Event
	for {
		select {
		case ev := <-ch:
			out = append(out, ev)
		case <-time.After(50 * time.Millisecond):
			return out
		}
	}
}
