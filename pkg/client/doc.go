/*
Package client provides a Go client library for the superdeploy HTTP API.

The client package wraps the API server's endpoints with a convenient,
idiomatic Go interface. It handles authentication, request encoding,
error decoding, run polling, and log streaming, and shares its request
and response types with pkg/api so the wire contract cannot drift.

# Architecture

The client provides a high-level interface to a running server:

	┌──────────────────── APPLICATION CODE ───────────────────────┐
	│                                                             │
	│  import "github.com/cfkarakulak/superdeploy/pkg/client"     │
	│                                                             │
	│  cli, err := client.NewClient("http://host:8080", token)    │
	│  acc, err := cli.Deploy(ctx, api.DeployRequest{...})        │
	│                                                             │
	└──────────────────────┬──────────────────────────────────────┘
	                       │
	┌──────────────────────▼──── pkg/client ──────────────────────┐
	│                                                             │
	│  ┌───────────────────────────────────────────────┐          │
	│  │            Client Wrapper                     │          │
	│  │  - Method per endpoint                        │          │
	│  │  - X-Superdeploy-Token header                 │          │
	│  │  - JSON encode/decode via pkg/api types       │          │
	│  │  - APIError for non-2xx answers               │          │
	│  └───────────────────┬───────────────────────────┘          │
	│                      │                                      │
	│  ┌───────────────────▼───────────────────────────┐          │
	│  │            net/http Transport                 │          │
	│  │  - Pooled keep-alive connections              │          │
	│  │  - 10s per-call timeout on unary methods      │          │
	│  │  - Unbounded stream for Logs                  │          │
	│  └───────────────────┬───────────────────────────┘          │
	└──────────────────────┼──────────────────────────────────────┘
	                       │ HTTP
	                       ▼
	                 API Server (pkg/api)

# Core Features

Deployment Flow:
  - Deploy returns immediately with the accepted run ID
  - GetRun fetches the run document at any point
  - WaitForRun polls until the run is terminal
  - Logs streams the run's events line by line

Error Handling:
  - Non-2xx answers decode into *APIError with status and message
  - Unknown runs wrap types.ErrRunNotFound for errors.Is checks
  - Unary calls time out after 10 seconds per request

# Usage

Creating a client and deploying:

	import (
		"context"
		"log"
		"time"

		"github.com/cfkarakulak/superdeploy/pkg/api"
		"github.com/cfkarakulak/superdeploy/pkg/client"
	)

	cli, err := client.NewClient("http://localhost:8080", token)
	if err != nil {
		log.Fatal(err)
	}
	defer cli.Close()

	acc, err := cli.Deploy(context.Background(), api.DeployRequest{
		Project: "shop",
		Version: "2.4.0",
	})
	if err != nil {
		log.Fatal(err)
	}

	run, err := cli.WaitForRun(context.Background(), acc.RunID, time.Second)
	if err != nil {
		log.Fatal(err)
	}
	log.Printf("run %s finished: %s", run.ID, run.Status)

Streaming a run's events, one text line per event:

	rc, err := cli.Logs(ctx, acc.RunID)
	if err != nil {
		log.Fatal(err)
	}
	defer rc.Close()

	sc := bufio.NewScanner(rc)
	for sc.Scan() {
		fmt.Println(sc.Text())
	}

Checking what a project runs:

	status, err := cli.ProjectStatus(ctx, "shop")
	if err != nil {
		log.Fatal(err)
	}
	for _, u := range status.Units {
		fmt.Printf("%s %s\n", u.UnitID, u.Version)
	}

# Error Handling

Distinguishing failure modes:

	run, err := cli.GetRun(ctx, id)
	if errors.Is(err, types.ErrRunNotFound) {
		// The server has no such run.
	}
	var apiErr *client.APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized {
		// Wrong or missing token.
	}

WaitForRun returns the run on ANY terminal status; a failed run is a
result, not an error. Check run.Status after waiting.

# Thread Safety

The client is safe for concurrent use. The wrapper keeps no mutable
state and the underlying http.Client pools connections across
goroutines:

	cli, _ := client.NewClient("http://localhost:8080", token)

	go func() {
		status, _ := cli.ProjectStatus(ctx, "shop")
		// Use status...
	}()

	go func() {
		run, _ := cli.GetRun(ctx, runID)
		// Use run...
	}()

# Integration Points

  - pkg/api owns the request and response types this client sends
  - types.ErrRunNotFound surfaces through GetRun, WaitForRun and Logs
  - cmd/superdeploy talks to local state directly; this package is for
    tooling that goes through a running server

# See Also

  - pkg/api for the server-side implementation and endpoint list
  - pkg/types for run and step status values
  - pkg/events for the event payloads Logs delivers
*/
package client
