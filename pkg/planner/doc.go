/*
Package planner computes the execution order for a project's units.

The planner consumes the resolved unit set produced by the config loader and
emits a DeploymentPlan: an ordered list of steps grouped into waves. Units in
the same wave have no dependency relationship between them and are safe to
apply concurrently; a unit never lands in a wave before all of its
dependencies.

# Architecture

Planning is a pure function over the unit set. It touches no host, reads no
state store, and produces the same plan for the same input every time:

	┌─────────────────────────────────────────────────────────┐
	│                  Resolved Project                       │
	│      units with DependsOn edges and DeclIndex           │
	└──────────────────────┬──────────────────────────────────┘
	                       │
	                       ▼
	┌─────────────────────────────────────────────────────────┐
	│  1. Build dependency graph (validate edges)             │
	│  2. DFS cycle detection (report full cycle membership)  │
	│  3. Kahn's algorithm, level by level                    │
	│  4. Sort each level by declaration order                │
	└──────────────────────┬──────────────────────────────────┘
	                       │
	                       ▼
	┌─────────────────────────────────────────────────────────┐
	│                  DeploymentPlan                         │
	│   Wave 0: [addon/postgres  addon/redis]                 │
	│   Wave 1: [app/api]                                     │
	│   Wave 2: [app/web  app/worker]                         │
	└─────────────────────────────────────────────────────────┘

# Core Components

Planner: the stateless planning engine.

	plan, err := planner.NewPlanner().Plan(project)
	if err != nil {
		// *types.CyclicDependencyError or *types.UnknownDependencyError
	}

	for wave, unitIDs := range plan.Waves {
		fmt.Printf("wave %d: %v\n", wave, unitIDs)
	}

Each PlanStep starts in StepPending. The orchestrator owns all later state
transitions; the planner never mutates a plan after returning it.

# Ordering Rules

Dependencies place a unit strictly after everything it depends on:

	addon/postgres (no deps)          -> wave 0
	addon/redis    (no deps)          -> wave 0
	app/api        (postgres, redis)  -> wave 1
	app/web        (api)              -> wave 2

Within a single wave, units keep the order of their declaration in the
project descriptor. Two plans over the same project are byte-for-byte
identical in step ordering, which keeps dry-run output stable and makes
deployment records comparable across runs.

# Failure Modes

Cyclic dependencies abort planning with every member of the cycle named:

	circular dependency: addon/a -> addon/b -> addon/c

A dependency on a unit that is not part of the project aborts planning with
the declaring unit and the missing reference:

	app/api depends on unknown unit "addon/kafka"

Both errors surface before anything is rendered or applied; a plan that
comes back without error is structurally sound.

# Integration Points

  - pkg/config resolves units and assigns DeclIndex in declaration order
  - pkg/orchestrator executes waves, fanning out within each wave up to
    its parallelism limit
  - cmd/superdeploy prints plans for the plan and deploy verbs

# See Also

  - pkg/orchestrator - wave execution and failure handling
  - pkg/types - DeploymentPlan, PlanStep, and planning error types
*/
package planner
