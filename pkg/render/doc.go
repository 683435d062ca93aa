/*
Package render turns resolved units into deployable artifacts.

The renderer is the projection stage between configuration and the wire:
it takes a unit's fully merged configuration tree and produces the
compose-style service definition that drivers ship to hosts. Rendering is
pure - no host contact, no clock reads, no randomness - so identical
resolved configuration and template text always produce byte-identical
output.

# Architecture

	┌──────────────────────────────────────────────────────┐
	│                   Resolved Unit                      │
	│        config tree + image/version/port/target       │
	└───────────────────────┬──────────────────────────────┘
	                        │
	          ┌─────────────┴─────────────┐
	          ▼                           ▼
	┌────────────────────┐     ┌─────────────────────────┐
	│     BuildSpec      │     │    template lookup      │
	│  tree -> Service   │     │  override dir, then     │
	│  (env sorted,      │     │  embedded defaults      │
	│   ports, volumes)  │     │                         │
	└─────────┬──────────┘     └────────────┬────────────┘
	          │                             │
	          └─────────────┬───────────────┘
	                        ▼
	┌──────────────────────────────────────────────────────┐
	│        text/template, missingkey=error               │
	└───────────────────────┬──────────────────────────────┘
	                        │
	                        ▼
	┌──────────────────────────────────────────────────────┐
	│  Artifact: content + checksum + template version     │
	└──────────────────────────────────────────────────────┘

# Core Components

Renderer: stateless rendering engine with optional template overrides.

	r := render.NewRenderer().WithOverrideDir("/etc/superdeploy/templates")
	artifact, err := r.Render(unit)

BuildSpec: deterministic projection of the configuration tree onto the
structured ServiceSpec. Environment variables are sorted by name; ports
and volumes keep configured order; a bare unit port becomes a same-port
mapping when no ports list is configured.

# Templates

Two templates ship embedded: addon.yaml.tmpl and app.yaml.tmpl. A unit
may name its own template, which is looked up in the override directory
first and falls back to the embedded set. Templates see:

	.Unit          the resolved unit (ID, project, version, hash)
	.Service       the structured service spec
	.Config        the raw merged configuration tree
	.NamedVolumes  named volume sources needing top-level declaration

Execution runs with missingkey=error: a template that references a key
absent from the tree fails the unit with an undefined-reference error
instead of emitting "<no value>" into a file a host would then run.

# Failure Modes

  - template parse failure: RenderError, template_syntax_error
  - reference to an absent key or field: RenderError, undefined_reference
  - malformed ports/volumes entries in the tree: ConfigError, type_mismatch

All three fail the unit before any driver is invoked; a render failure
never mutates a host.

# Integration Points

  - pkg/config produces the merged trees and config hashes
  - pkg/driver ships Artifact.Content (ssh) or Artifact.Spec (local)
  - pkg/orchestrator renders every step before applying it

# See Also

  - pkg/types - Artifact, ServiceSpec, RenderError
  - pkg/driver - how artifacts reach hosts
*/
package render
