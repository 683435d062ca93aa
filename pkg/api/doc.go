/*
Package api exposes deployments over an HTTP JSON interface.

The api package is the remote surface of the orchestrator: CI systems
and dashboards POST deployment requests, poll run documents, stream
per-run log lines and read the deployed version of every unit. Deploys
are accepted immediately and executed by a bounded worker pool, so a
webhook caller is never held for the duration of a run.

# Architecture

The server sits between HTTP clients and the orchestrator:

	┌──────────────────── CLIENT (CI/dashboard) ─────────────────┐
	│                                                             │
	│   POST /v1/deploys          GET /v1/runs/{id}               │
	│   X-Superdeploy-Token       GET /v1/runs/{id}/logs          │
	│                             GET /v1/projects/{name}/status  │
	└─────────────────────┬───────────────────────────────────────┘
	                      │ HTTP (JSON)
	┌─────────────────────▼──── API SERVER ──────────────────────┐
	│                                                             │
	│  ┌───────────────┐   ┌──────────────┐   ┌───────────────┐  │
	│  │ token auth +  │   │ deploy queue │   │ event journal │  │
	│  │ instrumented  │──▶│ worker pool  │   │ (log replay)  │  │
	│  │ mux           │   └──────┬───────┘   └───────▲───────┘  │
	│  └───────────────┘          │                   │          │
	│                             ▼                   │          │
	│                      ┌──────────────┐    ┌──────┴───────┐  │
	│                      │ orchestrator │───▶│ event broker │  │
	│                      └──────┬───────┘    └──────────────┘  │
	│                             ▼                              │
	│                      ┌──────────────┐                      │
	│                      │ state store  │                      │
	│                      └──────────────┘                      │
	└─────────────────────────────────────────────────────────────┘

# Endpoints

	POST /v1/deploys                   accept a deployment, answer 202 {run_id}
	GET  /v1/runs/{id}                 run document with per-step outcomes
	GET  /v1/runs/{id}/logs            replayed + live event lines, plain text
	GET  /v1/projects/{name}/status    head deployment record per unit
	GET  /healthz /readyz /livez       health in JSON
	GET  /metrics                      prometheus exposition

All /v1 endpoints require the X-Superdeploy-Token header when the
server was configured with a token.

# Request Flow

A deploy request is validated, persisted as a pending run and pushed
onto a buffered queue. The 202 response carries the run ID, which is
pollable immediately. Workers pull from the queue and call
Orchestrator.Deploy with the pre-created run ID, so the document the
client polls is the one the orchestrator updates. A full queue answers
503 and marks the just-created run failed rather than blocking.

The log stream replays journaled events for the run and then follows
the broker live until a terminal run event arrives. After a server
restart the journal is empty; terminal runs fall back to lines
reconstructed from the persisted step summaries.

# Usage Example

	srv, err := api.NewServer(api.Config{
		Orchestrator: orch,
		Store:        store,
		Broker:       broker,
		Token:        token,
	})
	if err != nil {
		return err
	}

	watcher := api.NewWatcher(srv, configDir)
	if err := watcher.Start(ctx); err != nil {
		return err
	}

	go func() {
		<-ctx.Done()
		_ = srv.Stop(context.Background())
	}()
	return srv.Start(ctx, ":8080")

# Configuration Watch

Watcher observes the configuration directory through fsnotify and
enqueues deployments for projects whose files changed, debounced so a
burst of writes becomes one run. Shared files (addons, environments,
templates, defaults) trigger every project; idempotent hashing turns
the unaffected ones into no-ops.

# Integration Points

  - pkg/orchestrator: executes queued runs
  - pkg/state: run documents and deployment records
  - pkg/events: broker feeding the journal and log streams
  - pkg/metrics: request counters, queue depth, health handlers
  - pkg/log: structured logging

# See Also

  - pkg/orchestrator for run semantics
  - cmd/superdeploy for the serve command wiring
*/
package api
