package orchestrator

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/cfkarakulak/superdeploy/pkg/config"
	"github.com/cfkarakulak/superdeploy/pkg/events"
	"github.com/cfkarakulak/superdeploy/pkg/health"
	"github.com/cfkarakulak/superdeploy/pkg/log"
	"github.com/cfkarakulak/superdeploy/pkg/metrics"
	"github.com/cfkarakulak/superdeploy/pkg/types"
)

// rollback restores a step's unit after a failed phase. The restore
// target is the unit's current record: the version that ran before this
// run, which the failed step never displaced in the store. mutated says
// whether the failed phase may have changed the host; when it did not,
// the recorded version is still running untouched and no host contact
// is needed. A unit failing its first ever deploy has no restore
// target: it is stopped and the step ends rollback_failed.
func (e *runExecutor) rollback(ctx context.Context, step *types.PlanStep, mutated bool, cause error) {
	e.setCause(step, cause)
	e.publishStep(events.EventStepFailed, step, cause.Error())
	e.setStatus(step, types.StepRollingBack)

	unit := step.Unit
	logger := log.WithRun(e.run.ID).With().Str("unit", unit.ID).Logger()

	rec, err := e.orc.store.GetRecord(e.run.Project, unit.ID)
	if err != nil {
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.orc.applyTimeout)
		stopErr := e.driver.Stop(stopCtx, unit.Ref())
		cancel()

		msg := cause.Error() + "; " + types.ErrNoPriorVersion.Error()
		if stopErr != nil {
			msg += "; stop failed: " + stopErr.Error()
			logger.Error().Err(stopErr).Msg("Stopping unit after first-deploy failure failed")
		}
		e.finishStep(step, types.StepRollbackFailed, msg)
		e.publishStep(events.EventStepRollbackFailed, step, msg)
		metrics.RollbacksTotal.WithLabelValues(e.run.Project, "failed").Inc()
		logger.Warn().Msg("No prior version to roll back to; unit stopped")
		return
	}

	if !mutated {
		msg := cause.Error() + "; previous version " + rec.Version + " left running"
		e.finishStep(step, types.StepRolledBack, msg)
		e.publishStep(events.EventStepRolledBack, step, "version "+rec.Version+" untouched")
		metrics.RollbacksTotal.WithLabelValues(e.run.Project, "succeeded").Inc()
		logger.Info().Str("version", rec.Version).Msg("Rolled back without host contact")
		return
	}

	if err := e.restore(ctx, unit, rec); err != nil {
		msg := cause.Error() + "; rollback failed: " + err.Error()
		e.finishStep(step, types.StepRollbackFailed, msg)
		e.publishStep(events.EventStepRollbackFailed, step, err.Error())
		metrics.RollbacksTotal.WithLabelValues(e.run.Project, "failed").Inc()
		logger.Error().Err(err).Str("version", rec.Version).Msg("Rollback failed")
		return
	}

	msg := cause.Error() + "; rolled back to version " + rec.Version
	e.finishStep(step, types.StepRolledBack, msg)
	e.publishStep(events.EventStepRolledBack, step, "restored version "+rec.Version)
	metrics.RollbacksTotal.WithLabelValues(e.run.Project, "succeeded").Inc()
	logger.Info().Str("version", rec.Version).Msg("Rolled back to previous version")
}

// restore replays render, apply and verify for a recorded version. The
// current record stays the head of the chain: it already describes what
// runs after a successful restore.
func (e *runExecutor) restore(ctx context.Context, unit *types.Unit, rec *types.DeploymentRecord) error {
	restored := restoreUnit(unit, rec)

	artifact, err := e.orc.renderer.Render(restored)
	if err != nil {
		return &types.RollbackError{Unit: unit.ID, Reason: "render of recorded version failed", Err: err}
	}

	applyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.orc.applyTimeout)
	_, err = e.driver.Apply(applyCtx, artifact)
	cancel()
	if err != nil {
		return &types.RollbackError{Unit: unit.ID, Reason: "apply of recorded version failed", Err: err}
	}

	verifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.orc.verifyTimeout)
	verdict := e.verifier.Wait(verifyCtx, restored)
	cancel()
	if !verdict.Healthy {
		return &types.RollbackError{Unit: unit.ID, Reason: "restored version unhealthy: " + verdict.Reason}
	}
	return nil
}

// Rollback restores a unit to the version recorded before its current
// one. The previous record re-renders from its tree snapshot and
// replays the full apply and verify pipeline; success pushes a new
// record reporting the restored version as the new head. With no
// previous record the unit is left as-is and ErrNoPriorVersion
// surfaces.
func (o *Orchestrator) Rollback(ctx context.Context, project, environment, unitID string) (*types.RollbackResult, error) {
	result := &types.RollbackResult{Project: project, UnitID: unitID, Status: types.StepRollbackFailed}

	rec, err := o.store.GetRecord(project, unitID)
	if err != nil {
		result.Error = types.ErrNoPriorVersion.Error()
		return result, fmt.Errorf("unit %s: %w", unitID, types.ErrNoPriorVersion)
	}
	prev := rec.Previous
	if prev == nil {
		result.Error = types.ErrNoPriorVersion.Error()
		return result, fmt.Errorf("unit %s: %w", unitID, types.ErrNoPriorVersion)
	}

	proj, err := o.loader.Load(project, environment, config.LoadOptions{})
	if err != nil {
		result.Error = err.Error()
		return result, err
	}
	unit := proj.Unit(unitID)
	if unit == nil {
		err := fmt.Errorf("unit %s is not part of project %s", unitID, project)
		result.Error = err.Error()
		return result, err
	}

	logger := log.WithProject(project).With().Str("unit", unitID).Logger()

	owner := "rollback-" + uuid.New().String()
	if err := o.store.AcquireLock(project, owner); err != nil {
		result.Error = err.Error()
		return result, err
	}
	defer func() {
		if err := o.store.ReleaseLock(project, owner); err != nil {
			logger.Warn().Err(err).Msg("Releasing project lock failed")
		}
	}()

	fail := func(reason string, cause error) (*types.RollbackResult, error) {
		rbErr := &types.RollbackError{Unit: unitID, Reason: reason, Err: cause}
		result.Error = rbErr.Error()
		metrics.RollbacksTotal.WithLabelValues(project, "failed").Inc()
		o.broker.Publish(&events.Event{
			Type:    events.EventStepRollbackFailed,
			Project: project,
			UnitID:  unitID,
			Message: rbErr.Error(),
		})
		logger.Error().Err(cause).Str("reason", reason).Msg("Operator rollback failed")
		return result, rbErr
	}

	drv, err := o.newDriver(proj.Env)
	if err != nil {
		return fail("driver construction failed", err)
	}
	if closer, ok := drv.(io.Closer); ok {
		defer closer.Close()
	}
	verifier := health.NewVerifier()
	if runner, ok := drv.(health.CommandRunner); ok {
		verifier = verifier.WithRunner(runner)
	}

	logger.Info().Str("from", rec.Version).Str("to", prev.Version).Msg("Operator rollback started")

	restored := restoreUnit(unit, prev)
	artifact, err := o.renderer.Render(restored)
	if err != nil {
		return fail("render of recorded version failed", err)
	}

	applyCtx, cancel := context.WithTimeout(ctx, o.applyTimeout)
	_, err = drv.Apply(applyCtx, artifact)
	cancel()
	if err != nil {
		return fail("apply of recorded version failed", err)
	}

	verifyCtx, cancel := context.WithTimeout(ctx, o.verifyTimeout)
	verdict := verifier.Wait(verifyCtx, restored)
	cancel()

	verified := "healthy"
	if !verdict.Healthy {
		verified = "unhealthy"
	}
	metrics.VerificationsTotal.WithLabelValues(project, verified).Inc()
	if !verdict.Healthy {
		return fail("restored version unhealthy: "+verdict.Reason, nil)
	}

	if err := o.store.PushRecord(&types.DeploymentRecord{
		Project:    project,
		UnitID:     unitID,
		Version:    prev.Version,
		ConfigHash: prev.ConfigHash,
		Config:     prev.Config,
		Template:   prev.Template,
		RunID:      owner,
		DeployedAt: time.Now().UTC(),
	}); err != nil {
		return fail("record write failed", err)
	}

	metrics.RollbacksTotal.WithLabelValues(project, "succeeded").Inc()
	o.broker.Publish(&events.Event{
		Type:    events.EventStepRolledBack,
		Project: project,
		UnitID:  unitID,
		Message: "restored version " + prev.Version,
	})

	result.Status = types.StepRolledBack
	result.RestoredVersion = prev.Version
	result.Error = ""
	logger.Info().Str("version", prev.Version).Msg("Operator rollback succeeded")
	return result, nil
}

// restoreUnit projects a deployment record back onto a live unit. The
// record's tree snapshot drives rendering; the live unit keeps its
// placement and probe configuration, which are not part of the tree.
// Numbers in a snapshot read back from the store arrive as float64.
func restoreUnit(live *types.Unit, rec *types.DeploymentRecord) *types.Unit {
	u := *live
	u.Config = rec.Config
	u.ConfigHash = rec.ConfigHash
	u.Template = rec.Template
	u.Version = rec.Version
	if img, ok := rec.Config["image"].(string); ok && img != "" {
		u.Image = img
	}
	if port := portFrom(rec.Config); port > 0 {
		u.Port = port
	}
	return &u
}

func portFrom(tree map[string]any) int {
	switch v := tree["port"].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}
