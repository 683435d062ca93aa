/*
Package events provides an in-memory event broker for deployment run
pub/sub messaging.

Every observable moment of a run flows through the broker: runs being
queued, steps starting and finishing, rollbacks firing. The API server
subscribes on behalf of streaming clients, the metrics layer counts
event types, and nothing that publishes ever blocks on a slow reader.

# Architecture

	┌──────────────────── EVENT BROKER ───────────────────────┐
	│                                                         │
	│  ┌───────────────────────────────────────────┐          │
	│  │              Event Broker                 │          │
	│  │  - In-memory message bus                  │          │
	│  │  - Per-run subscription filters           │          │
	│  │  - Non-blocking publish                   │          │
	│  └──────────────────┬────────────────────────┘          │
	│                     │                                   │
	│  ┌──────────────────▼────────────────────────┐          │
	│  │          Event Distribution               │          │
	│  │                                           │          │
	│  │  Publisher → Event Channel (buffer: 100)  │          │
	│  │       ↓                                   │          │
	│  │  Broadcast Loop (filter on run ID)        │          │
	│  │       ↓                                   │          │
	│  │  Subscriber Channels (buffer: 50 each)    │          │
	│  └──────────────────┬────────────────────────┘          │
	│                     │                                   │
	│  ┌──────────────────▼────────────────────────┐          │
	│  │           Event Types                     │          │
	│  │                                           │          │
	│  │  Run Events:                              │          │
	│  │    - run.queued / run.started             │          │
	│  │    - run.succeeded / run.failed           │          │
	│  │    - run.canceled                         │          │
	│  │                                           │          │
	│  │  Step Events:                             │          │
	│  │    - step.started / step.succeeded        │          │
	│  │    - step.unchanged / step.failed         │          │
	│  │    - step.skipped                         │          │
	│  │    - step.rolled_back                     │          │
	│  │    - step.rollback_failed                 │          │
	│  └───────────────────────────────────────────┘          │
	└─────────────────────────────────────────────────────────┘

# Delivery Semantics

Publish is fire-and-forget. Events land on a buffered channel and a
single goroutine fans them out; a subscriber whose buffer is full
misses the event rather than stalling the broker. Run progress is
always recoverable from the state store, so dropped events cost a
stream hiccup, not correctness.

Subscriptions optionally carry a run ID. A scoped subscriber sees only
that run's events, which is how one HTTP client follows one deployment
on a server executing several.

# Usage Examples

Publishing from the orchestrator:

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	broker.Publish(&events.Event{
		Type:    events.EventStepStarted,
		RunID:   run.ID,
		Project: run.Project,
		UnitID:  step.ID,
	})

Streaming one run's events:

	sub := broker.Subscribe(runID)
	defer broker.Unsubscribe(sub)

	for event := range sub {
		fmt.Printf("[%s] %s %s\n", event.Timestamp.Format(time.RFC3339), event.Type, event.UnitID)
	}

# Integration Points

  - pkg/orchestrator: publishes run and step lifecycle events
  - pkg/api: subscribes per run for the event stream endpoint
  - pkg/metrics: counts published event types

# See Also

  - pkg/orchestrator for the moments that produce events
  - pkg/api for how subscriptions reach HTTP clients
*/
package events
