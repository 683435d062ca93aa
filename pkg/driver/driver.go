package driver

import (
	"context"
	"fmt"

	"github.com/cfkarakulak/superdeploy/pkg/types"
)

// Driver converges units on their targets. Implementations are safe for
// concurrent use by steps of different units; the orchestrator guarantees
// a single writer per unit.
type Driver interface {
	// Apply makes the unit on its target match the artifact. Applying an
	// artifact whose config hash is already deployed is a no-op reported
	// as OutcomeUnchanged. State only mutates when hashes differ.
	Apply(ctx context.Context, artifact *types.Artifact) (types.Outcome, error)

	// CurrentHash reports the config hash of what is deployed for the
	// unit on its target, or types.ErrHashAbsent when nothing is.
	CurrentHash(ctx context.Context, ref types.UnitRef) (string, error)

	// Stop tears the unit down. Stopping a unit that is not deployed is
	// not an error.
	Stop(ctx context.Context, ref types.UnitRef) error
}

// New builds the driver for an environment.
func New(env *types.Environment) (Driver, error) {
	switch env.Driver {
	case types.DriverSSH:
		return NewSSHDriver(env.SSH, env.Workdir), nil
	case types.DriverLocal:
		return NewLocalDriver(DefaultContainerdSocket, DefaultNamespace)
	default:
		return nil, fmt.Errorf("unknown driver kind %q", env.Driver)
	}
}
