package driver

import (
	"context"
	"sync"
	"time"

	"github.com/cfkarakulak/superdeploy/pkg/types"
)

// ApplyCall records one Apply invocation against the memory driver.
type ApplyCall struct {
	Ref     types.UnitRef
	Hash    string
	Outcome types.Outcome
}

type commandResult struct {
	output string
	err    error
}

// MemoryDriver is an in-memory Driver implementation. It honors the
// same hash comparison contract as the real drivers and records every
// call, which makes orchestration logic testable without a daemon or a
// remote host. Failures are injected per unit, optionally scoped to a
// specific config hash so a rollback to an older artifact can succeed
// where the new one failed.
type MemoryDriver struct {
	mu          sync.Mutex
	deployed    map[string]string // unitID -> config hash
	applies     []ApplyCall
	stops       []types.UnitRef
	applyErrs   map[string]error // unitID or unitID@hash -> injected error
	commands    map[string]commandResult
	applyDelay  time.Duration
	inFlight    int
	maxInFlight int
}

// NewMemoryDriver creates an empty memory driver.
func NewMemoryDriver() *MemoryDriver {
	return &MemoryDriver{
		deployed:  make(map[string]string),
		applyErrs: make(map[string]error),
		commands:  make(map[string]commandResult),
	}
}

// Seed marks a unit as already deployed with the given hash.
func (d *MemoryDriver) Seed(unitID, hash string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.deployed[unitID] = hash
}

// FailApply injects an error for a unit. With a non-empty hash the
// error fires only for artifacts carrying that config hash.
func (d *MemoryDriver) FailApply(unitID, hash string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	key := unitID
	if hash != "" {
		key = unitID + "@" + hash
	}
	d.applyErrs[key] = err
}

// SetCommandResult scripts the outcome of RunCommand for a unit.
func (d *MemoryDriver) SetCommandResult(unitID, output string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.commands[unitID] = commandResult{output: output, err: err}
}

// SetApplyDelay makes every Apply take at least d, which exposes
// concurrency behavior to tests.
func (d *MemoryDriver) SetApplyDelay(delay time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.applyDelay = delay
}

// Apply records the call and stores the artifact's hash as deployed.
func (d *MemoryDriver) Apply(ctx context.Context, artifact *types.Artifact) (types.Outcome, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	ref := artifact.Ref

	d.mu.Lock()
	d.inFlight++
	if d.inFlight > d.maxInFlight {
		d.maxInFlight = d.inFlight
	}
	delay := d.applyDelay
	d.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			d.mu.Lock()
			d.inFlight--
			d.mu.Unlock()
			return "", ctx.Err()
		case <-time.After(delay):
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.inFlight--

	if err := d.injectedError(ref.UnitID, artifact.ConfigHash); err != nil {
		return "", err
	}

	outcome := types.OutcomeCreated
	if current, ok := d.deployed[ref.UnitID]; ok {
		if current == artifact.ConfigHash {
			outcome = types.OutcomeUnchanged
		} else {
			outcome = types.OutcomeUpdated
		}
	}
	if outcome != types.OutcomeUnchanged {
		d.deployed[ref.UnitID] = artifact.ConfigHash
	}
	d.applies = append(d.applies, ApplyCall{Ref: ref, Hash: artifact.ConfigHash, Outcome: outcome})
	return outcome, nil
}

// CurrentHash returns the deployed hash for the unit.
func (d *MemoryDriver) CurrentHash(ctx context.Context, ref types.UnitRef) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	hash, ok := d.deployed[ref.UnitID]
	if !ok {
		return "", types.ErrHashAbsent
	}
	return hash, nil
}

// Stop records the call and clears the unit's deployed hash.
func (d *MemoryDriver) Stop(ctx context.Context, ref types.UnitRef) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.deployed, ref.UnitID)
	d.stops = append(d.stops, ref)
	return nil
}

// RunCommand returns the scripted result for the unit, or success.
func (d *MemoryDriver) RunCommand(ctx context.Context, ref types.UnitRef, command []string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if result, ok := d.commands[ref.UnitID]; ok {
		return result.output, result.err
	}
	return "", nil
}

// Deployed reports the unit's current hash and whether one exists.
func (d *MemoryDriver) Deployed(unitID string) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	hash, ok := d.deployed[unitID]
	return hash, ok
}

// Applies returns a copy of the recorded Apply calls in order.
func (d *MemoryDriver) Applies() []ApplyCall {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]ApplyCall, len(d.applies))
	copy(out, d.applies)
	return out
}

// Stops returns a copy of the recorded Stop calls in order.
func (d *MemoryDriver) Stops() []types.UnitRef {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]types.UnitRef, len(d.stops))
	copy(out, d.stops)
	return out
}

// MaxConcurrent reports the highest number of Apply calls that were in
// flight at once.
func (d *MemoryDriver) MaxConcurrent() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.maxInFlight
}

func (d *MemoryDriver) injectedError(unitID, hash string) error {
	if err, ok := d.applyErrs[unitID+"@"+hash]; ok {
		return err
	}
	if err, ok := d.applyErrs[unitID]; ok {
		return err
	}
	return nil
}
