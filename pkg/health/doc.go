/*
Package health verifies that deployed units actually came up.

After a driver applies a unit, the orchestrator does not trust the apply
alone: the unit's probe must succeed before the step counts as done and a
deployment record is written. This package provides the probe checkers
and the bounded polling loop that turns probe attempts into a verdict.

# Architecture

	┌──────────────────────────────────────────────────────┐
	│                  Verifier.Wait(ctx, unit)            │
	│                                                      │
	│   start period ──▶ probe ──▶ healthy? ──▶ verdict    │
	│        ▲             │          │no                  │
	│        │             │          ▼                    │
	│        │             │    delay (fixed or            │
	│        │             │     exponential)              │
	│        │             │          │                    │
	│        └─────────────┴──────────┘                    │
	│              attempts bounded by MaxAttempts         │
	└──────────────────────────────────────────────────────┘

Every wait is bounded three ways: the attempt budget, the per-probe
timeout, and the caller's context. Wait never blocks indefinitely.

# Probe Types

HTTP: GET against http://<target>:<port><path>; any status in 200-399
counts as healthy. Redirects are not followed.

	health:
	  type: http
	  path: /healthz
	  interval: 3s
	  max_attempts: 10

TCP: a successful connect to the unit's port. This is the default when a
health block sets no type.

	health:
	  type: tcp
	  interval: 2s

Exec: a command run inside the unit through the driver's command runner;
exit code zero means healthy. Only available with drivers that support
remote execution.

	health:
	  type: exec
	  command: ["pg_isready", "-U", "postgres"]
	  start_period: 10s

# Retry Policies

fixed (default): the configured interval between attempts.

exponential: interval doubles after each failure, capped at 30 seconds.
Useful for slow-starting units where early probes are known noise.

An optional start_period delays the first probe, giving units like
databases their initialization window without burning attempts.

# Core Components

Verifier: the polling loop. Construct once, share across steps.

	v := health.NewVerifier().WithRunner(driver)
	verdict := v.Wait(ctx, unit)
	if !verdict.Healthy {
		// verdict.Reason carries the last probe failure
	}

Checker: one probe attempt. ForUnit builds the right checker from a
unit's health block; units without one verify trivially healthy.

# Integration Points

  - pkg/orchestrator calls Wait after every apply; an unhealthy verdict
    rolls the step back and skips its dependents
  - pkg/driver implementations may implement CommandRunner to enable
    exec probes
  - verdicts land in step results and deployment events

# See Also

  - pkg/orchestrator - what happens on an unhealthy verdict
  - pkg/types - HealthCheck configuration and Verdict
*/
package health
