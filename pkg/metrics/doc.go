/*
Package metrics provides Prometheus metrics and component health
endpoints for the superdeploy server.

Two concerns live here. Prometheus collectors count what the
orchestrator and API do (runs, steps, rollbacks, request latency), and
a component health registry backs the /healthz, /readyz, and /livez
endpoints that load balancers and probes consume.

# Architecture

	┌────────────────── METRICS SUBSYSTEM ───────────────────┐
	│                                                        │
	│  ┌──────────────────────────────────────────┐          │
	│  │         Prometheus Collectors            │          │
	│  │                                          │          │
	│  │  Runs:   superdeploy_runs_total          │          │
	│  │          superdeploy_run_duration_...    │          │
	│  │  Steps:  superdeploy_steps_total         │          │
	│  │          superdeploy_step_phase_...      │          │
	│  │          superdeploy_rollbacks_total     │          │
	│  │          superdeploy_verifications_...   │          │
	│  │  State:  superdeploy_units_deployed      │          │
	│  │  API:    superdeploy_api_requests_total  │          │
	│  │          superdeploy_queue_depth         │          │
	│  │          superdeploy_watch_reloads_total │          │
	│  └──────────────────┬───────────────────────┘          │
	│                     │ /metrics                         │
	│  ┌──────────────────▼───────────────────────┐          │
	│  │          Health Registry                 │          │
	│  │                                          │          │
	│  │  /healthz: all registered components     │          │
	│  │  /readyz:  state, events, orchestrator   │          │
	│  │  /livez:   process is serving            │          │
	│  └──────────────────────────────────────────┘          │
	│                                                        │
	│  Collector: refreshes units_deployed from the          │
	│  state store every 15s                                 │
	└────────────────────────────────────────────────────────┘

# Core Components

Counters and histograms are package-level vars registered in init, the
standard client_golang pattern. Callers increment them directly:

	metrics.StepsTotal.WithLabelValues(project, string(step.Status)).Inc()

Timer measures one operation for histogram observation:

	timer := metrics.NewTimer()
	applyUnit(ctx, artifact)
	timer.ObserveDurationVec(metrics.StepPhaseDuration, "apply")

The health registry collects component reports. Components register on
startup and update on state changes:

	metrics.RegisterComponent("state", true, "")
	metrics.UpdateComponent("state", false, "database locked")

Readiness gates on the critical set: a server whose state store,
broker, or orchestrator is missing reports 503 on /readyz so traffic
holds off until deploy requests can actually be served.

# Usage Examples

Wiring the endpoints:

	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", metrics.HealthHandler())
	mux.HandleFunc("/readyz", metrics.ReadyHandler())
	mux.HandleFunc("/livez", metrics.LivenessHandler())

Running the gauge collector:

	collector := metrics.NewCollector(store, loader.Projects)
	collector.Start()
	defer collector.Stop()

# Integration Points

  - pkg/orchestrator: increments run, step, rollback, and verification
    counters
  - pkg/api: request middleware, queue depth, watch reload counter
  - pkg/state: the collector reads deployment records through it
  - cmd/superdeploy: registers components and mounts the endpoints

# See Also

  - pkg/api for where the endpoints are mounted
  - pkg/orchestrator for the operations being measured
*/
package metrics
