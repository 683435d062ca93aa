package api

import (
	"sync"

	"github.com/cfkarakulak/superdeploy/pkg/events"
)

const (
	defaultJournalRuns   = 256
	defaultJournalEvents = 1000
)

// runJournal keeps recent events per run so the log stream can replay
// what happened before a client connected. Bounded both ways: the
// oldest run is evicted when a new one arrives past maxRuns, and one
// run keeps at most maxEvents entries.
type runJournal struct {
	mu        sync.RWMutex
	runs      map[string][]*events.Event
	order     []string
	maxRuns   int
	maxEvents int
}

func newRunJournal(maxRuns, maxEvents int) *runJournal {
	return &runJournal{
		runs:      make(map[string][]*events.Event),
		maxRuns:   maxRuns,
		maxEvents: maxEvents,
	}
}

// append records an event under its run. Events without a run ID carry
// no replay value and are dropped. Past maxEvents further entries for
// the run are dropped too; a run that large is pathological.
func (j *runJournal) append(ev *events.Event) {
	if ev.RunID == "" {
		return
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	buf, ok := j.runs[ev.RunID]
	if !ok {
		if len(j.order) >= j.maxRuns {
			oldest := j.order[0]
			j.order = j.order[1:]
			delete(j.runs, oldest)
		}
		j.order = append(j.order, ev.RunID)
	}
	if len(buf) >= j.maxEvents {
		return
	}
	j.runs[ev.RunID] = append(buf, ev)
}

// events returns a copy of the journal for one run, oldest first.
func (j *runJournal) events(runID string) []*events.Event {
	j.mu.RLock()
	defer j.mu.RUnlock()

	buf := j.runs[runID]
	out := make([]*events.Event, len(buf))
	copy(out, buf)
	return out
}

// runCount reports how many runs the journal currently holds.
func (j *runJournal) runCount() int {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return len(j.runs)
}
