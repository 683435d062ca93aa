package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/cfkarakulak/superdeploy/pkg/config"
	"github.com/cfkarakulak/superdeploy/pkg/driver"
	"github.com/cfkarakulak/superdeploy/pkg/events"
	"github.com/cfkarakulak/superdeploy/pkg/health"
	"github.com/cfkarakulak/superdeploy/pkg/log"
	"github.com/cfkarakulak/superdeploy/pkg/metrics"
	"github.com/cfkarakulak/superdeploy/pkg/planner"
	"github.com/cfkarakulak/superdeploy/pkg/render"
	"github.com/cfkarakulak/superdeploy/pkg/state"
	"github.com/cfkarakulak/superdeploy/pkg/types"
)

// Defaults for Config knobs left unset.
const (
	DefaultMaxParallel   = 4
	DefaultApplyTimeout  = 5 * time.Minute
	DefaultVerifyTimeout = 10 * time.Minute
)

// Config wires an orchestrator together.
type Config struct {
	// ConfigDir is the root of the layered configuration directory.
	ConfigDir string

	// Store persists deployment records, runs and project locks.
	Store state.Store

	// Broker receives run and step events. When nil the orchestrator
	// starts a private broker and stops it on Close.
	Broker *events.Broker

	// MaxParallel bounds concurrent steps within a wave. Zero means
	// DefaultMaxParallel. Per-run overrides win.
	MaxParallel int

	// ApplyTimeout bounds one driver apply. Zero means
	// DefaultApplyTimeout.
	ApplyTimeout time.Duration

	// VerifyTimeout caps one unit's health verification on top of its
	// own attempt budget. Zero means DefaultVerifyTimeout.
	VerifyTimeout time.Duration

	// MasterKey opens sealed secrets bundles during load. Optional.
	MasterKey []byte

	// TemplateDir holds template files that shadow the built-in set.
	// Optional.
	TemplateDir string

	// NewDriver builds the driver for an environment. Defaults to
	// driver.New. Tests substitute a memory driver here.
	NewDriver func(env *types.Environment) (driver.Driver, error)
}

// Orchestrator executes deployment runs: it loads a project, plans the
// unit order, and drives every step through render, apply and verify
// against the environment's driver. All durable state goes through the
// store; progress streams through the event broker.
type Orchestrator struct {
	loader    *config.Loader
	planner   *planner.Planner
	renderer  *render.Renderer
	store     state.Store
	broker    *events.Broker
	newDriver func(env *types.Environment) (driver.Driver, error)

	maxParallel   int
	applyTimeout  time.Duration
	verifyTimeout time.Duration
	ownBroker     bool
}

// New creates an orchestrator from a config.
func New(cfg *Config) (*Orchestrator, error) {
	if cfg == nil {
		return nil, errors.New("orchestrator: nil config")
	}
	if cfg.ConfigDir == "" {
		return nil, errors.New("orchestrator: ConfigDir is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("orchestrator: Store is required")
	}

	loader := config.NewLoader(cfg.ConfigDir)
	if len(cfg.MasterKey) > 0 {
		loader = loader.WithMasterKey(cfg.MasterKey)
	}
	renderer := render.NewRenderer()
	if cfg.TemplateDir != "" {
		renderer = renderer.WithOverrideDir(cfg.TemplateDir)
	}

	o := &Orchestrator{
		loader:        loader,
		planner:       planner.NewPlanner(),
		renderer:      renderer,
		store:         cfg.Store,
		broker:        cfg.Broker,
		newDriver:     cfg.NewDriver,
		maxParallel:   cfg.MaxParallel,
		applyTimeout:  cfg.ApplyTimeout,
		verifyTimeout: cfg.VerifyTimeout,
	}
	if o.maxParallel <= 0 {
		o.maxParallel = DefaultMaxParallel
	}
	if o.applyTimeout <= 0 {
		o.applyTimeout = DefaultApplyTimeout
	}
	if o.verifyTimeout <= 0 {
		o.verifyTimeout = DefaultVerifyTimeout
	}
	if o.newDriver == nil {
		o.newDriver = driver.New
	}
	if o.broker == nil {
		o.broker = events.NewBroker()
		o.broker.Start()
		o.ownBroker = true
	}
	return o, nil
}

// Close releases resources owned by the orchestrator.
func (o *Orchestrator) Close() {
	if o.ownBroker {
		o.broker.Stop()
	}
}

// Projects lists the projects present in the configuration directory.
func (o *Orchestrator) Projects() ([]string, error) {
	return o.loader.Projects()
}

// DeployOptions tune one run.
type DeployOptions struct {
	// Environment selects the target environment. Empty means the
	// project's declared default.
	Environment string

	// Version overrides the image tag of every app. Carried by deploys
	// triggered from CI with a freshly built image.
	Version string

	// Trigger records what started the run. Empty means cli.
	Trigger types.RunTrigger

	// MaxParallel overrides the orchestrator's bound for this run.
	MaxParallel int

	// RunID adopts a run document the caller already saved in pending
	// state. The HTTP queue persists the document at accept time so the
	// run is pollable from the moment the 202 goes out.
	RunID string
}

// Deploy executes one full run for a project and blocks until it
// finishes. The returned error is non-nil only when the run never
// reached execution: configuration, planning, locking or driver
// construction failed. A run whose steps failed comes back with Status
// RunFailed and a nil error; callers decide by Status.
func (o *Orchestrator) Deploy(ctx context.Context, project string, opts DeployOptions) (*types.Run, error) {
	run, created := o.pendingRun(project, opts)
	if err := o.store.SaveRun(run); err != nil {
		return nil, fmt.Errorf("save run: %w", err)
	}
	if created {
		o.publishRun(run, events.EventRunQueued, "")
	}

	logger := log.WithRun(run.ID)
	logger.Info().Str("project", project).Str("trigger", string(run.Trigger)).Msg("Deployment run created")

	proj, err := o.loader.Load(project, opts.Environment, config.LoadOptions{Version: opts.Version})
	if err != nil {
		return o.failRun(run, err)
	}
	run.Environment = proj.Env.Name

	plan, err := o.planner.Plan(proj)
	if err != nil {
		return o.failRun(run, err)
	}
	run.Steps = stepSummaries(plan)

	if err := o.store.AcquireLock(project, run.ID); err != nil {
		return o.failRun(run, err)
	}
	defer func() {
		if err := o.store.ReleaseLock(project, run.ID); err != nil {
			logger.Warn().Err(err).Msg("Releasing project lock failed")
		}
	}()

	drv, err := o.newDriver(proj.Env)
	if err != nil {
		return o.failRun(run, fmt.Errorf("build %s driver: %w", proj.Env.Driver, err))
	}
	if closer, ok := drv.(io.Closer); ok {
		defer closer.Close()
	}

	verifier := health.NewVerifier()
	if runner, ok := drv.(health.CommandRunner); ok {
		verifier = verifier.WithRunner(runner)
	}

	run.Status = types.RunRunning
	run.StartedAt = time.Now().UTC()
	if err := o.store.SaveRun(run); err != nil {
		return o.failRun(run, err)
	}
	o.publishRun(run, events.EventRunStarted, "")
	logger.Info().
		Str("environment", proj.Env.Name).
		Int("steps", len(plan.Steps)).
		Int("waves", len(plan.Waves)).
		Msg("Run started")

	maxParallel := o.maxParallel
	if opts.MaxParallel > 0 {
		maxParallel = opts.MaxParallel
	}

	exec := &runExecutor{
		orc:         o,
		run:         run,
		plan:        plan,
		driver:      drv,
		verifier:    verifier,
		maxParallel: maxParallel,
		statuses:    make(map[string]types.StepStatus, len(plan.Steps)),
		summaries:   summaryIndex(run),
		causes:      make(map[string]error),
	}
	exec.execute(ctx)

	o.finishRun(ctx, run, exec)
	return run, nil
}

// pendingRun builds the initial run document. When opts.RunID names a
// run the caller already saved, that document is adopted so CreatedAt
// keeps measuring queue latency and the queued event is not repeated.
func (o *Orchestrator) pendingRun(project string, opts DeployOptions) (*types.Run, bool) {
	if opts.RunID != "" {
		if run, err := o.store.GetRun(opts.RunID); err == nil {
			run.Status = types.RunPending
			return run, false
		}
	}

	trigger := opts.Trigger
	if trigger == "" {
		trigger = types.TriggerCLI
	}
	id := opts.RunID
	if id == "" {
		id = uuid.New().String()
	}
	return &types.Run{
		ID:          id,
		Project:     project,
		Environment: opts.Environment,
		Version:     opts.Version,
		Trigger:     trigger,
		Status:      types.RunPending,
		CreatedAt:   time.Now().UTC(),
	}, true
}

// Plan loads and plans a project without contacting any host. Serves
// the plan command and dry runs.
func (o *Orchestrator) Plan(project, environment, version string) (*types.Project, *types.DeploymentPlan, error) {
	proj, err := o.loader.Load(project, environment, config.LoadOptions{Version: version})
	if err != nil {
		return nil, nil, err
	}
	plan, err := o.planner.Plan(proj)
	if err != nil {
		return nil, nil, err
	}
	return proj, plan, nil
}

// failRun finalizes a run that never reached execution.
func (o *Orchestrator) failRun(run *types.Run, cause error) (*types.Run, error) {
	run.Status = types.RunFailed
	run.Error = cause.Error()
	if run.StartedAt.IsZero() {
		run.StartedAt = run.CreatedAt
	}
	run.FinishedAt = time.Now().UTC()
	logger := log.WithRun(run.ID)
	if err := o.store.SaveRun(run); err != nil {
		logger.Error().Err(err).Msg("Saving failed run failed")
	}
	metrics.RunsTotal.WithLabelValues(run.Project, string(types.RunFailed)).Inc()
	o.publishRun(run, events.EventRunFailed, run.Error)
	logger.Error().Err(cause).Msg("Run aborted before execution")
	return run, cause
}

// finishRun settles the final run status after execution.
func (o *Orchestrator) finishRun(ctx context.Context, run *types.Run, exec *runExecutor) {
	run.FinishedAt = time.Now().UTC()

	failed := exec.failedStep()
	switch {
	case ctx.Err() != nil:
		run.Status = types.RunCanceled
		run.Error = "run canceled"
	case failed != nil:
		run.Status = types.RunFailed
		run.Error = exec.failureMessage(failed)
	case !exec.allSucceeded():
		run.Status = types.RunFailed
		run.Error = "one or more steps did not succeed"
	default:
		run.Status = types.RunSucceeded
	}

	logger := log.WithRun(run.ID)
	if err := o.store.SaveRun(run); err != nil {
		logger.Error().Err(err).Msg("Saving finished run failed")
	}

	metrics.RunsTotal.WithLabelValues(run.Project, string(run.Status)).Inc()
	metrics.RunDuration.WithLabelValues(run.Project).Observe(run.FinishedAt.Sub(run.StartedAt).Seconds())

	switch run.Status {
	case types.RunSucceeded:
		o.publishRun(run, events.EventRunSucceeded, "")
	case types.RunCanceled:
		o.publishRun(run, events.EventRunCanceled, run.Error)
	default:
		o.publishRun(run, events.EventRunFailed, run.Error)
	}

	logger.Info().
		Str("status", string(run.Status)).
		Dur("took", run.FinishedAt.Sub(run.StartedAt)).
		Msg("Run finished")
}

func (o *Orchestrator) publishRun(run *types.Run, t events.EventType, msg string) {
	o.broker.Publish(&events.Event{
		Type:    t,
		RunID:   run.ID,
		Project: run.Project,
		Message: msg,
	})
}

func stepSummaries(plan *types.DeploymentPlan) []*types.StepSummary {
	out := make([]*types.StepSummary, len(plan.Steps))
	for i, s := range plan.Steps {
		out[i] = &types.StepSummary{UnitID: s.ID, Status: types.StepPending}
	}
	return out
}

func summaryIndex(run *types.Run) map[string]*types.StepSummary {
	idx := make(map[string]*types.StepSummary, len(run.Steps))
	for _, s := range run.Steps {
		idx[s.UnitID] = s
	}
	return idx
}
