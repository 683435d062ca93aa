/*
Package config loads the layered configuration directory and produces
immutable Project snapshots with fully resolved, deterministic
configuration trees.

# Directory Layout

	<config-dir>/
	  defaults.yaml            global role defaults (lowest layer)
	  addons/<kind>.yaml       addon definition and default configuration
	  projects/<name>.yaml     project descriptor: enabled addons, apps
	  environments/<env>.yaml  subnet, driver, ssh defaults, inventory ref
	  inventory/<env>.yaml     role to endpoint mapping (external input)
	  secrets/<project>/<env>.yaml         plaintext secrets bundle
	  secrets/<project>/<env>.yaml.sealed  AES-256-GCM sealed bundle

# Layer Merge

Each unit's configuration is merged from four layers, highest precedence
first:

	secrets  >  project overrides  >  addon/app defaults  >  global defaults

Maps merge recursively; scalars and lists are replaced wholesale by the
higher layer. The merge is evaluated eagerly into one immutable tree per
unit before planning starts, so the result is inspectable and testable in
isolation.

	merged := config.Merge(global, addonDefaults, projectOverrides, secrets)
	hash, _ := config.Hash(merged)

Hash is sha256 over the canonical JSON encoding of the tree, so identical
inputs always hash identically. The hash is what drivers compare to decide
whether an apply is a no-op.

# Validation

Required fields are enforced before any host is contacted: addon kind,
port and image, app name, image and port. Violations fail the whole load
with a *types.ConfigError naming the offending key path; no partial tree
is ever returned. Health probe blocks and durations are validated the
same way.

# Sealed Secrets

A bundle sealed with SealBundle takes precedence over a plaintext bundle
at the same path. The master key is derived from the SUPERDEPLOY_MASTER_KEY
passphrase (or a key file) with SHA-256, and the bundle is AES-256-GCM
with the nonce prepended. Decrypted secrets exist only in memory.
*/
package config
