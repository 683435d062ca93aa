package events

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStartedBroker(t *testing.T) *Broker {
	t.Helper()
	b := NewBroker()
	b.Start()
	t.Cleanup(b.Stop)
	return b
}

func receive(t *testing.T, sub Subscriber) *Event {
	t.Helper()
	select {
	case event := <-sub:
		return event
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func TestPublishReachesSubscriber(t *testing.T) {
	b := newStartedBroker(t)
	sub := b.Subscribe("")

	b.Publish(&Event{Type: EventRunStarted, RunID: "run-1", Project: "shop"})

	event := receive(t, sub)
	assert.Equal(t, EventRunStarted, event.Type)
	assert.Equal(t, "run-1", event.RunID)
	assert.NotEmpty(t, event.ID)
	assert.False(t, event.Timestamp.IsZero())
}

func TestRunScopedSubscription(t *testing.T) {
	b := newStartedBroker(t)
	sub := b.Subscribe("run-1")

	b.Publish(&Event{Type: EventStepStarted, RunID: "run-2", UnitID: "app/api"})
	b.Publish(&Event{Type: EventStepStarted, RunID: "run-1", UnitID: "addon/postgres"})

	event := receive(t, sub)
	assert.Equal(t, "run-1", event.RunID)
	assert.Equal(t, "addon/postgres", event.UnitID)

	select {
	case extra := <-sub:
		t.Fatalf("unexpected event leaked through filter: %+v", extra)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := newStartedBroker(t)
	sub := b.Subscribe("")

	b.Unsubscribe(sub)
	_, ok := <-sub
	assert.False(t, ok)
	assert.Equal(t, 0, b.SubscriberCount())

	// Double unsubscribe must not panic on a closed channel
	b.Unsubscribe(sub)
}

func TestSlowSubscriberDoesNotBlockBroker(t *testing.T) {
	b := newStartedBroker(t)
	slow := b.Subscribe("")

	for i := 0; i < 55; i++ {
		b.Publish(&Event{Type: EventStepStarted, RunID: fmt.Sprintf("run-%d", i)})
	}
	require.Eventually(t, func() bool { return len(slow) == cap(slow) }, 2*time.Second, 10*time.Millisecond)

	// A fresh subscriber still gets new events while the slow one is full
	fresh := b.Subscribe("")
	b.Publish(&Event{Type: EventRunSucceeded, RunID: "run-final"})

	event := receive(t, fresh)
	assert.Equal(t, "run-final", event.RunID)
	assert.Len(t, slow, cap(slow))
}
