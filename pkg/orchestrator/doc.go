/*
Package orchestrator executes deployment runs end to end: load the
project configuration, plan the unit order, and drive every unit
through render, apply and verify against the environment's driver,
rolling back units whose deployment fails.

# Architecture

One run executes one plan. Waves run sequentially; steps inside a
wave run concurrently on a bounded worker pool:

	                    ┌──────────────┐
	    Deploy ────────▶│ config.Load  │  resolved Project
	                    └──────┬───────┘
	                           ▼
	                    ┌──────────────┐
	                    │ planner.Plan │  waves of independent steps
	                    └──────┬───────┘
	                           ▼
	              ┌────────────────────────┐
	              │ wave 0: [postgres, redis]     workers ≤ max-parallel
	              │ wave 1: [api]                 starts after wave 0
	              │ wave 2: [web]                 settles
	              └───────────┬────────────┘
	                          ▼  per step
	        Render ──▶ Apply ──▶ Verify ──▶ push DeploymentRecord
	           │          │         │
	           └──────────┴─────────┴──▶ on failure: roll back unit

Orchestrator state lives in the state store: deployment records (one
bounded chain per unit), run documents updated as steps progress, and
an advisory per-project lock that keeps two runs of the same project
from interleaving. Progress streams through the event broker.

# Step Lifecycle

A step moves pending → rendering → applying → verifying → succeeded.
Any phase failure moves it to rolling_back and then rolled_back or
rollback_failed; a step whose dependency did not end succeeded is
skipped without host contact, and skipping propagates transitively
because a skipped step is itself a failed dependency. Apply and
verify run under context.WithoutCancel with their own timeouts, so
operator cancellation never abandons a half-applied artifact: the
in-flight phase finishes, then the step stops and later steps are
skipped.

# Rollback

Automatic rollback restores the unit's current record, which is the
version that ran before the run started; the failed step never
displaced it in the store because records are pushed only after a
healthy verdict. The record's configuration snapshot re-renders and
re-applies without consulting the (changed) configuration directory.
A unit failing its first ever deploy has nothing to restore: it is
stopped and the step ends rollback_failed.

Operator rollback (the rollback command) instead restores the record
before the current one and, on success, pushes a new record so the
restored version becomes the head of the chain.

# Usage Example

	store, err := state.NewBoltStore("/var/lib/superdeploy/state.db")
	if err != nil {
	    return err
	}
	defer store.Close()

	orc, err := orchestrator.New(&orchestrator.Config{
	    ConfigDir: "/etc/superdeploy",
	    Store:     store,
	})
	if err != nil {
	    return err
	}
	defer orc.Close()

	run, err := orc.Deploy(ctx, "myproject", orchestrator.DeployOptions{
	    Environment: "production",
	    Version:     "v1.4.2",
	})
	if err != nil {
	    return err // never started: config, plan, lock or driver
	}
	if run.Status != types.RunSucceeded {
	    return errors.New(run.Error)
	}

Rolling a single unit back one version:

	result, err := orc.Rollback(ctx, "myproject", "", "app/api")
	if err != nil {
	    return err
	}
	fmt.Println("restored", result.RestoredVersion)

# Integration Points

  - pkg/config: loads and resolves the project for every run
  - pkg/planner: computes waves from the dependency graph
  - pkg/render: produces the artifact each apply ships
  - pkg/driver: converges units on targets; chosen per environment
  - pkg/health: verifies units before their records are pushed
  - pkg/state: records, run documents and project locks
  - pkg/events: run and step progress for API streaming
  - pkg/metrics: run, step, rollback and verification counters

# See Also

  - pkg/api for the HTTP surface that enqueues runs
  - cmd/superdeploy for the CLI verbs built on this package
*/
package orchestrator
