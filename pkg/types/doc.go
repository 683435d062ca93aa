/*
Package types defines the core domain model shared by every superdeploy
package: projects, environments, units, plans, rendered artifacts,
deployment records, runs, and the error taxonomy.

# Architecture

The model follows the orchestrator pipeline. Configuration is loaded into
an immutable Project snapshot, planned into a DeploymentPlan, and executed
step by step against the environment's hosts:

	┌──────────────────────────────────────────────────────────┐
	│                        Project                           │
	│  ┌──────────────┐  ┌──────────────┐  ┌───────────────┐   │
	│  │ AddonInstance│  │ AppDefinition│  │  Environment  │   │
	│  │  (resolved)  │  │  (resolved)  │  │  + Inventory  │   │
	│  └──────┬───────┘  └──────┬───────┘  └───────┬───────┘   │
	│         └────────┬────────┘                  │           │
	│                  ▼                           │           │
	│            []*Unit (normalized)              │           │
	└──────────────────┬───────────────────────────┼───────────┘
	                   ▼                           ▼
	          DeploymentPlan ──► PlanStep ──► Artifact ──► host
	                                │
	                                ▼ (on verified success)
	                        DeploymentRecord chain

# Core Types

Project snapshot:
  - Project: one project bound to one environment, built fresh per run.
    Addons and Apps keep declaration order, which is the planner's
    tie-break for independent units.
  - Environment: subnet, driver selection, SSH defaults, host inventory.
  - Inventory / Endpoint: role to host mapping, consumed read-only.

Deployment targets:
  - AddonInstance: an enabled addon with its configuration fully resolved.
  - AppDefinition: a project application workload, fully resolved.
  - Unit: the normalized atomic target. Both addon instances and app
    definitions become Units so the planner, renderer, drivers and
    verifier handle them uniformly. A unit carries its resolved
    configuration tree and the deterministic ConfigHash derived from it.

Execution:
  - DeploymentPlan / PlanStep: topologically ordered steps plus wave
    grouping for parallel-eligible units.
  - Artifact: the rendered service definition. Content is byte-identical
    for identical configuration and template version; Spec is the typed
    equivalent for drivers that speak a runtime API directly.
  - Verdict: the health verifier's answer for one unit.

Persistence:
  - DeploymentRecord: the only entity with cross-run persistence. Each
    verified deployment pushes a new record retaining its predecessor, so
    rollback always has a well-defined target.
  - Run / StepSummary: the persisted summary of one orchestrator
    invocation, polled by webhook callers until terminal.

# Step State Machine

	Pending ──► Rendering ──► Applying ──► Verifying ──► Succeeded
	   │            │             │            │
	   │            ▼             ▼            ▼
	   │          Failed ◄────────┴────────────┘
	   │            │
	   │            ▼
	   │       RollingBack ──► RolledBack
	   │            │
	   ▼            ▼
	Skipped    RollbackFailed

Succeeded, RolledBack, RollbackFailed and Skipped are terminal. A step is
Skipped when a dependency failed or the run was aborted before it started.
The run as a whole succeeds only if every step reaches Succeeded.

# Error Taxonomy

Validation-class errors abort before any host is touched:

  - ConfigError: missing field, type mismatch, duplicate key, unknown
    addon kind. The whole load fails; no partial tree is produced.
  - CyclicDependencyError / UnknownDependencyError: planning failures.

Runtime-class errors are confined to their unit:

  - RenderError: fatal for the unit, never retried.
  - DriverError (ApplyTimeout, HostUnreachable, ConflictingState) and
    HealthError: trigger an automatic rollback of that unit only.
  - RollbackError: surfaced to the operator, never retried automatically.

# Usage

	unit := project.Unit("addon/postgres")
	fmt.Println(unit.ConfigHash, unit.Target.Address())

	if types.IsDriverError(err, types.DriverHostUnreachable) {
		// host-level failure, siblings keep running
	}

# Integration Points

Consumed by pkg/config (builds Project), pkg/planner (builds
DeploymentPlan), pkg/render (builds Artifact), pkg/driver and pkg/health
(consume Unit and Artifact), pkg/state (persists DeploymentRecord and
Run), and pkg/orchestrator (drives the step state machine).
*/
package types
