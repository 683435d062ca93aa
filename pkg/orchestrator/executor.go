package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cfkarakulak/superdeploy/pkg/driver"
	"github.com/cfkarakulak/superdeploy/pkg/events"
	"github.com/cfkarakulak/superdeploy/pkg/health"
	"github.com/cfkarakulak/superdeploy/pkg/log"
	"github.com/cfkarakulak/superdeploy/pkg/metrics"
	"github.com/cfkarakulak/superdeploy/pkg/types"
)

// runExecutor drives one plan to completion. Plan steps and run
// summaries are shared between workers and the progress writer, so
// every mutation happens under mu.
type runExecutor struct {
	orc         *Orchestrator
	run         *types.Run
	plan        *types.DeploymentPlan
	driver      driver.Driver
	verifier    *health.Verifier
	maxParallel int

	mu        sync.Mutex
	statuses  map[string]types.StepStatus
	summaries map[string]*types.StepSummary
	causes    map[string]error
}

// execute runs the plan wave by wave. A wave starts only after the
// previous one fully settled, so every dependency a step declares has a
// terminal status by the time the step's worker picks it up.
func (e *runExecutor) execute(ctx context.Context) {
	for _, wave := range e.plan.Waves {
		if ctx.Err() != nil {
			break
		}
		e.executeWave(ctx, wave)
	}
	e.skipPending("run canceled")
}

// executeWave fans the wave's steps out to a bounded worker pool.
func (e *runExecutor) executeWave(ctx context.Context, wave []string) {
	workers := e.maxParallel
	if len(wave) < workers {
		workers = len(wave)
	}

	work := make(chan *types.PlanStep, len(wave))
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for step := range work {
				e.executeStep(ctx, step)
			}
		}()
	}
	for _, id := range wave {
		work <- e.plan.Step(id)
	}
	close(work)
	wg.Wait()
}

// executeStep walks one step through the render, apply and verify
// phases. Apply and verify run under context.WithoutCancel so an
// operator abort never leaves an artifact half-applied; the step checks
// for cancellation between phases instead.
func (e *runExecutor) executeStep(ctx context.Context, step *types.PlanStep) {
	if dep := e.unmetDependency(step); dep != "" {
		reason := "dependency " + dep + " did not succeed"
		e.finishStep(step, types.StepSkipped, reason)
		e.publishStep(events.EventStepSkipped, step, reason)
		return
	}
	if ctx.Err() != nil {
		e.finishStep(step, types.StepSkipped, "run canceled")
		e.publishStep(events.EventStepSkipped, step, "run canceled")
		return
	}

	unit := step.Unit
	logger := log.WithRun(e.run.ID).With().Str("unit", unit.ID).Logger()

	e.startStep(step)
	e.publishStep(events.EventStepStarted, step, "")

	timer := metrics.NewTimer()
	artifact, err := e.orc.renderer.Render(unit)
	timer.ObserveDurationVec(metrics.StepPhaseDuration, "render")
	if err != nil {
		logger.Error().Err(err).Msg("Render failed")
		e.rollback(ctx, step, false, err)
		return
	}

	if ctx.Err() != nil {
		e.finishStep(step, types.StepSkipped, "run canceled before apply")
		e.publishStep(events.EventStepSkipped, step, "run canceled before apply")
		return
	}

	e.setStatus(step, types.StepApplying)
	applyCtx, cancelApply := context.WithTimeout(context.WithoutCancel(ctx), e.orc.applyTimeout)
	timer = metrics.NewTimer()
	outcome, err := e.driver.Apply(applyCtx, artifact)
	cancelApply()
	timer.ObserveDurationVec(metrics.StepPhaseDuration, "apply")
	if err != nil {
		logger.Error().Err(err).Msg("Apply failed")
		e.rollback(ctx, step, true, err)
		return
	}
	e.setOutcome(step, outcome)
	logger.Debug().Str("outcome", string(outcome)).Msg("Apply finished")

	if ctx.Err() != nil {
		e.finishStep(step, types.StepSkipped, "run canceled after apply")
		e.publishStep(events.EventStepSkipped, step, "run canceled after apply")
		return
	}

	e.setStatus(step, types.StepVerifying)
	verifyCtx, cancelVerify := context.WithTimeout(context.WithoutCancel(ctx), e.orc.verifyTimeout)
	timer = metrics.NewTimer()
	verdict := e.verifier.Wait(verifyCtx, unit)
	cancelVerify()
	timer.ObserveDurationVec(metrics.StepPhaseDuration, "verify")

	result := "healthy"
	if !verdict.Healthy {
		result = "unhealthy"
	}
	metrics.VerificationsTotal.WithLabelValues(e.run.Project, result).Inc()

	if !verdict.Healthy {
		logger.Error().Str("reason", verdict.Reason).Int("attempts", verdict.Attempts).Msg("Verification failed")
		e.rollback(ctx, step, outcome.Mutated(), &types.HealthError{Unit: unit.ID, Reason: verdict.Reason})
		return
	}

	// A record is pushed only for verified deployments that changed the
	// host, or when the unit has none yet. Idempotent re-runs must not
	// burn the bounded record chain.
	if outcome.Mutated() || !e.hasRecord(unit) {
		if err := e.pushRecord(unit); err != nil {
			logger.Error().Err(err).Msg("Record write failed")
			e.rollback(ctx, step, outcome.Mutated(), fmt.Errorf("record deployment: %w", err))
			return
		}
	}

	evType := events.EventStepSucceeded
	if outcome == types.OutcomeUnchanged {
		evType = events.EventStepUnchanged
	}
	e.finishStep(step, types.StepSucceeded, "")
	e.publishStep(evType, step, string(outcome))
	logger.Info().Str("outcome", string(outcome)).Dur("took", step.FinishedAt.Sub(step.StartedAt)).Msg("Step succeeded")
}

// unmetDependency returns the first dependency of the step that did not
// end Succeeded, or "". Waves guarantee dependencies settled first, so
// a transitive failure surfaces here without explicit recursion: a
// skipped dependency fails this check the same way a failed one does.
func (e *runExecutor) unmetDependency(step *types.PlanStep) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, dep := range step.DependsOn {
		if e.statuses[dep] != types.StepSucceeded {
			return dep
		}
	}
	return ""
}

// skipPending marks every step still pending as skipped.
func (e *runExecutor) skipPending(reason string) {
	for _, step := range e.plan.Steps {
		e.mu.Lock()
		pending := step.Status == types.StepPending
		e.mu.Unlock()
		if pending {
			e.finishStep(step, types.StepSkipped, reason)
			e.publishStep(events.EventStepSkipped, step, reason)
		}
	}
}

func (e *runExecutor) hasRecord(unit *types.Unit) bool {
	_, err := e.orc.store.GetRecord(e.run.Project, unit.ID)
	return err == nil
}

func (e *runExecutor) pushRecord(unit *types.Unit) error {
	return e.orc.store.PushRecord(&types.DeploymentRecord{
		Project:    e.run.Project,
		UnitID:     unit.ID,
		Version:    unit.Version,
		ConfigHash: unit.ConfigHash,
		Config:     unit.Config,
		Template:   unit.Template,
		RunID:      e.run.ID,
		DeployedAt: time.Now().UTC(),
	})
}

func (e *runExecutor) startStep(step *types.PlanStep) {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := time.Now().UTC()
	step.Status = types.StepRendering
	step.StartedAt = now
	sum := e.summaries[step.ID]
	sum.Status = types.StepRendering
	sum.StartedAt = now
	e.saveRunLocked()
}

func (e *runExecutor) setStatus(step *types.PlanStep, status types.StepStatus) {
	e.mu.Lock()
	defer e.mu.Unlock()
	step.Status = status
	e.summaries[step.ID].Status = status
	e.saveRunLocked()
}

func (e *runExecutor) setOutcome(step *types.PlanStep, outcome types.Outcome) {
	e.mu.Lock()
	defer e.mu.Unlock()
	step.Outcome = outcome
	e.summaries[step.ID].Outcome = outcome
}

func (e *runExecutor) setCause(step *types.PlanStep, cause error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.causes[step.ID] = cause
}

// finishStep records a terminal status for the step and persists the
// run so pollers see progress while later steps execute.
func (e *runExecutor) finishStep(step *types.PlanStep, status types.StepStatus, errMsg string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := time.Now().UTC()
	if step.StartedAt.IsZero() {
		step.StartedAt = now
	}
	step.Status = status
	step.Error = errMsg
	step.FinishedAt = now

	sum := e.summaries[step.ID]
	sum.Status = status
	sum.Outcome = step.Outcome
	sum.Error = errMsg
	sum.StartedAt = step.StartedAt
	sum.FinishedAt = now

	e.statuses[step.ID] = status
	metrics.StepsTotal.WithLabelValues(e.run.Project, string(status)).Inc()
	e.saveRunLocked()
}

func (e *runExecutor) saveRunLocked() {
	if err := e.orc.store.SaveRun(e.run); err != nil {
		logger := log.WithRun(e.run.ID)
		logger.Warn().Err(err).Msg("Saving run progress failed")
	}
}

func (e *runExecutor) publishStep(t events.EventType, step *types.PlanStep, msg string) {
	e.orc.broker.Publish(&events.Event{
		Type:    t,
		RunID:   e.run.ID,
		Project: e.run.Project,
		UnitID:  step.ID,
		Message: msg,
	})
}

// failedStep returns the first step in plan order that failed, or nil.
// Skipped dependents trace back to it, so its cause is the run's cause.
func (e *runExecutor) failedStep() *types.PlanStep {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, step := range e.plan.Steps {
		if _, ok := e.causes[step.ID]; ok {
			return step
		}
	}
	return nil
}

func (e *runExecutor) failureMessage(step *types.PlanStep) string {
	e.mu.Lock()
	cause := e.causes[step.ID]
	status := step.Status
	e.mu.Unlock()
	return types.FormatUnitFailure(step.ID, types.FailureKind(cause), cause.Error(), status == types.StepRolledBack)
}

func (e *runExecutor) allSucceeded() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, step := range e.plan.Steps {
		if step.Status != types.StepSucceeded {
			return false
		}
	}
	return true
}
