/*
Package driver executes deployment artifacts against concrete targets.

The driver is the only layer that touches infrastructure. Everything
above it (planner, orchestrator) works on declarative state; the driver
turns an artifact into running containers and reports what it had to
change. Two production drivers exist, selected per environment, plus an
in-memory driver for tests.

# Architecture

	                       ┌─────────────────┐
	                       │  Orchestrator   │
	                       └────────┬────────┘
	                                │ Apply / CurrentHash / Stop
	                       ┌────────▼────────┐
	                       │  Driver (iface) │
	                       └────────┬────────┘
	          ┌─────────────────────┼─────────────────────┐
	          │                     │                     │
	 ┌────────▼────────┐   ┌────────▼────────┐   ┌────────▼────────┐
	 │    SSHDriver    │   │   LocalDriver   │   │  MemoryDriver   │
	 │                 │   │                 │   │                 │
	 │ ssh + sftp      │   │ containerd API  │   │ maps + mutex    │
	 │ docker compose  │   │ host network    │   │ failure         │
	 │ marker files    │   │ labels          │   │ injection       │
	 └────────┬────────┘   └────────┬────────┘   └─────────────────┘
	          │                     │
	 ┌────────▼────────┐   ┌────────▼────────┐
	 │  Remote hosts   │   │   Local daemon  │
	 └─────────────────┘   └─────────────────┘

# Idempotency Contract

Every driver records the config hash of what it deployed and compares
it before acting:

  - SSHDriver writes a ".hash" marker file next to the uploaded
    artifact containing "<unitID> <configHash>".
  - LocalDriver stores the hash in the "superdeploy.config-hash"
    container label.
  - MemoryDriver keeps it in a map.

Apply with a matching hash returns OutcomeUnchanged without touching
the target. A marker or label owned by a different unit surfaces as a
conflicting state error rather than being overwritten, because two
units claiming one location is always an operator mistake.

# Core Components

SSHDriver deploys over SSH to the hosts in an environment's inventory.
Artifacts upload via SFTP into <workdir>/<project>/<unit>/unit.yaml and
start with "docker compose up -d --remove-orphans". Connections pool
per host and are reused across units; each SFTP transfer gets a fresh
session. Host key verification uses known_hosts unless the environment
explicitly opts out.

LocalDriver runs units on the local containerd daemon for development.
Containers join the host network namespace so health probes reach
published ports on 127.0.0.1. Named volumes are backed by directories
under /var/lib/superdeploy/volumes.

MemoryDriver backs tests. It honors the hash contract, records calls
for assertions, and injects failures per unit, optionally scoped to a
single config hash so rollback paths can be exercised.

New selects the driver from the environment definition:

	d, err := driver.New(env)

# Usage Examples

Applying an artifact:

	d := driver.NewSSHDriver(env.SSH, env.Workdir)
	outcome, err := d.Apply(ctx, artifact)
	if err != nil {
		var derr *types.DriverError
		if errors.As(err, &derr) && derr.Kind == types.DriverHostUnreachable {
			// host is down, retry elsewhere
		}
	}
	if outcome == types.OutcomeUnchanged {
		// nothing was touched
	}

Checking what is deployed:

	hash, err := d.CurrentHash(ctx, ref)
	if errors.Is(err, types.ErrHashAbsent) {
		// first deployment for this unit
	}

Exec probes run through the driver as well, since only the driver
knows how to reach a unit's container:

	output, err := d.RunCommand(ctx, ref, []string{"pg_isready", "-U", "app"})

# Error Classification

Driver failures carry a DriverError with a kind the orchestrator keys
its handling on:

  - host_unreachable: dial failed, nothing was changed
  - apply_timeout: the operation outlived its context deadline
  - conflicting_state: the target location belongs to another unit
  - apply_failed: the operation ran and failed (compose exit status,
    image pull error, task start failure)

# Integration Points

  - pkg/orchestrator: calls Apply for every plan step and Stop during
    first-deploy rollback
  - pkg/health: drivers implement CommandRunner so exec probes run
    inside unit containers
  - pkg/render: produces the Artifact values drivers consume
  - pkg/types: UnitRef, Artifact, Outcome, DriverError

# See Also

  - pkg/render for artifact generation
  - pkg/health for the probes that gate a deployment's success
  - pkg/orchestrator for how outcomes drive step status
*/
package driver
