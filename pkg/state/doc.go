/*
Package state persists deployment records, run history, and project
locks in an embedded BoltDB database.

Nothing here talks to the network. The store is the orchestrator's
memory: what was deployed where, what each run did, and which projects
are mid-deployment right now. A single file on disk survives restarts
and needs no external service.

# Architecture

	┌──────────────────────────────────────────────┐
	│                  BoltStore                   │
	│                                              │
	│  records bucket        runs bucket           │
	│  ┌────────────────┐    ┌─────────────────┐   │
	│  │ project/unitID │    │ run ID -> Run   │   │
	│  │  -> record     │    └─────────────────┘   │
	│  │     chain      │    locks bucket          │
	│  └────────────────┘    ┌─────────────────┐   │
	│                        │ project -> Lock │   │
	│                        └─────────────────┘   │
	└──────────────────────────────────────────────┘

# Record Chains

Every successful deployment of a unit pushes a DeploymentRecord. The
store links the prior head as Previous and trims the chain to
MaxRecordDepth, so rollback always has up to five known-good versions
to reach for without the file growing forever. PushRecord owns the
chain: whatever Previous the caller set is discarded.

# Runs

Runs are upserted on every status change. A webhook caller that
receives 202 polls GetRun until the status is terminal. ListRuns
returns newest first for status displays.

# Project Locks

AcquireLock takes an advisory lock per project so two runs cannot
interleave deployments. Locks held longer than StaleLockAge count as
abandoned (a crashed process) and are reclaimed with a warning.

# Usage Examples

	store, err := state.NewBoltStore("/var/lib/superdeploy/state.db")
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.AcquireLock("shop", runID); err != nil {
		if errors.Is(err, types.ErrProjectLocked) {
			// another run is deploying this project
		}
		return err
	}
	defer store.ReleaseLock("shop", runID)

	rec, err := store.GetRecord("shop", "addon/postgres")
	if errors.Is(err, types.ErrRecordAbsent) {
		// unit has never deployed successfully
	}

# Integration Points

  - pkg/orchestrator: pushes records after verified deployments, reads
    them for rollback, saves runs, holds project locks
  - pkg/api: serves run status and project state from the store
  - cmd/superdeploy: the status and rollback commands read through it

# See Also

  - pkg/orchestrator for when records are written
  - pkg/types for DeploymentRecord, Run, and the sentinel errors
*/
package state
