package orchestrator

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cfkarakulak/superdeploy/pkg/config"
	"github.com/cfkarakulak/superdeploy/pkg/driver"
	"github.com/cfkarakulak/superdeploy/pkg/events"
	"github.com/cfkarakulak/superdeploy/pkg/state"
	"github.com/cfkarakulak/superdeploy/pkg/types"
)

func demoConfig() map[string]string {
	return map[string]string{
		"addons/postgres.yaml": `kind: postgres
config:
  image: postgres
  port: 5432
  version: "16.3"
`,
		"projects/demo.yaml": `name: demo
default_environment: prod
addons:
  - kind: postgres
apps:
  - name: api
    image: ghcr.io/acme/api
    port: 8080
    depends_on: [postgres]
  - name: web
    image: ghcr.io/acme/web
    port: 3000
`,
		"environments/prod.yaml": `driver: local
`,
	}
}

func writeConfigFiles(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for rel, content := range files {
		path := filepath.Join(dir, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	return dir
}

func newTestOrchestrator(t *testing.T, configDir string, drv driver.Driver) (*Orchestrator, *state.BoltStore) {
	t.Helper()
	store, err := state.NewBoltStore(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	orc, err := New(&Config{
		ConfigDir: configDir,
		Store:     store,
		NewDriver: func(*types.Environment) (driver.Driver, error) { return drv, nil },
	})
	require.NoError(t, err)
	t.Cleanup(orc.Close)
	return orc, store
}

func stepByUnit(t *testing.T, run *types.Run, unitID string) *types.StepSummary {
	t.Helper()
	for _, s := range run.Steps {
		if s.UnitID == unitID {
			return s
		}
	}
	t.Fatalf("run has no step for %s", unitID)
	return nil
}

func TestNewValidatesConfig(t *testing.T) {
	_, err := New(nil)
	require.Error(t, err)

	_, err = New(&Config{})
	require.Error(t, err)

	_, err = New(&Config{ConfigDir: t.TempDir()})
	require.Error(t, err)
}

func TestDeploySucceeds(t *testing.T) {
	mem := driver.NewMemoryDriver()
	orc, store := newTestOrchestrator(t, writeConfigFiles(t, demoConfig()), mem)

	run, err := orc.Deploy(context.Background(), "demo", DeployOptions{})
	require.NoError(t, err)
	assert.Equal(t, types.RunSucceeded, run.Status)
	assert.Equal(t, "prod", run.Environment)
	assert.Empty(t, run.Error)
	require.Len(t, run.Steps, 3)
	for _, s := range run.Steps {
		assert.Equal(t, types.StepSucceeded, s.Status, s.UnitID)
		assert.Equal(t, types.OutcomeCreated, s.Outcome, s.UnitID)
		assert.False(t, s.FinishedAt.IsZero(), s.UnitID)
	}

	for _, unitID := range []string{"addon/postgres", "app/api", "app/web"} {
		rec, err := store.GetRecord("demo", unitID)
		require.NoError(t, err, unitID)
		assert.Equal(t, run.ID, rec.RunID)
		assert.Nil(t, rec.Previous)
	}

	applies := mem.Applies()
	require.Len(t, applies, 3)
	order := make(map[string]int, len(applies))
	for i, call := range applies {
		order[call.Ref.UnitID] = i
	}
	assert.Less(t, order["addon/postgres"], order["app/api"], "dependency must apply first")

	saved, err := store.GetRun(run.ID)
	require.NoError(t, err)
	assert.Equal(t, types.RunSucceeded, saved.Status)
	require.Len(t, saved.Steps, 3)
}

func TestDeployIdempotentSecondRun(t *testing.T) {
	mem := driver.NewMemoryDriver()
	orc, store := newTestOrchestrator(t, writeConfigFiles(t, demoConfig()), mem)

	run1, err := orc.Deploy(context.Background(), "demo", DeployOptions{})
	require.NoError(t, err)
	require.Equal(t, types.RunSucceeded, run1.Status)

	run2, err := orc.Deploy(context.Background(), "demo", DeployOptions{})
	require.NoError(t, err)
	assert.Equal(t, types.RunSucceeded, run2.Status)
	for _, s := range run2.Steps {
		assert.Equal(t, types.StepSucceeded, s.Status, s.UnitID)
		assert.Equal(t, types.OutcomeUnchanged, s.Outcome, s.UnitID)
	}

	// No-op runs must not grow the record chain.
	rec, err := store.GetRecord("demo", "app/web")
	require.NoError(t, err)
	assert.Equal(t, run1.ID, rec.RunID)
	assert.Nil(t, rec.Previous)
}

func TestDeployVersionBumpPushesRecordChain(t *testing.T) {
	mem := driver.NewMemoryDriver()
	orc, store := newTestOrchestrator(t, writeConfigFiles(t, demoConfig()), mem)

	run1, err := orc.Deploy(context.Background(), "demo", DeployOptions{})
	require.NoError(t, err)
	require.Equal(t, types.RunSucceeded, run1.Status)

	run2, err := orc.Deploy(context.Background(), "demo", DeployOptions{Version: "v2"})
	require.NoError(t, err)
	assert.Equal(t, types.RunSucceeded, run2.Status)
	assert.Equal(t, types.OutcomeUnchanged, stepByUnit(t, run2, "addon/postgres").Outcome)
	assert.Equal(t, types.OutcomeUpdated, stepByUnit(t, run2, "app/api").Outcome)

	rec, err := store.GetRecord("demo", "app/api")
	require.NoError(t, err)
	assert.Equal(t, "v2", rec.Version)
	assert.Equal(t, run2.ID, rec.RunID)
	require.NotNil(t, rec.Previous)
	assert.Equal(t, "latest", rec.Previous.Version)

	// The untouched addon keeps its original record.
	pg, err := store.GetRecord("demo", "addon/postgres")
	require.NoError(t, err)
	assert.Equal(t, run1.ID, pg.RunID)
	assert.Nil(t, pg.Previous)

	runs, err := store.ListRuns("demo", 10)
	require.NoError(t, err)
	assert.Len(t, runs, 2)
}

func TestDeployApplyFailureRollsBack(t *testing.T) {
	mem := driver.NewMemoryDriver()
	orc, store := newTestOrchestrator(t, writeConfigFiles(t, demoConfig()), mem)

	run1, err := orc.Deploy(context.Background(), "demo", DeployOptions{})
	require.NoError(t, err)
	require.Equal(t, types.RunSucceeded, run1.Status)
	h1, ok := mem.Deployed("app/api")
	require.True(t, ok)

	// The hash the next run will carry for app/api, derived the same way
	// the loader resolves it: declared fields plus the version override.
	h2, err := config.Hash(map[string]any{
		"image":   "ghcr.io/acme/api",
		"port":    8080,
		"version": "v2",
	})
	require.NoError(t, err)
	require.NotEqual(t, h1, h2)
	mem.FailApply("app/api", h2, &types.DriverError{
		Kind: types.DriverApplyFailed, Unit: "app/api", Host: "local", Detail: "compose up exited 1",
	})

	run2, err := orc.Deploy(context.Background(), "demo", DeployOptions{Version: "v2"})
	require.NoError(t, err)
	assert.Equal(t, types.RunFailed, run2.Status)
	assert.Contains(t, run2.Error, "app/api")
	assert.Contains(t, run2.Error, "rolled back")

	apiStep := stepByUnit(t, run2, "app/api")
	assert.Equal(t, types.StepRolledBack, apiStep.Status)
	assert.Contains(t, apiStep.Error, "rolled back to version latest")

	// The failed version never displaced the running one.
	hash, ok := mem.Deployed("app/api")
	require.True(t, ok)
	assert.Equal(t, h1, hash)
	rec, err := store.GetRecord("demo", "app/api")
	require.NoError(t, err)
	assert.Equal(t, "latest", rec.Version)
	assert.Equal(t, run1.ID, rec.RunID)

	// Independent units of the same run are unaffected.
	assert.Equal(t, types.StepSucceeded, stepByUnit(t, run2, "app/web").Status)
	web, err := store.GetRecord("demo", "app/web")
	require.NoError(t, err)
	assert.Equal(t, "v2", web.Version)
}

func TestFirstDeployFailureStopsUnit(t *testing.T) {
	mem := driver.NewMemoryDriver()
	orc, store := newTestOrchestrator(t, writeConfigFiles(t, demoConfig()), mem)
	mem.FailApply("app/web", "", &types.DriverError{
		Kind: types.DriverApplyFailed, Unit: "app/web", Host: "local", Detail: "no such image",
	})

	run, err := orc.Deploy(context.Background(), "demo", DeployOptions{})
	require.NoError(t, err)
	assert.Equal(t, types.RunFailed, run.Status)

	webStep := stepByUnit(t, run, "app/web")
	assert.Equal(t, types.StepRollbackFailed, webStep.Status)
	assert.Contains(t, webStep.Error, "no prior version")

	stopped := false
	for _, ref := range mem.Stops() {
		if ref.UnitID == "app/web" {
			stopped = true
		}
	}
	assert.True(t, stopped, "failed first deploy must stop the unit")
	_, err = store.GetRecord("demo", "app/web")
	assert.ErrorIs(t, err, types.ErrRecordAbsent)

	assert.Equal(t, types.StepSucceeded, stepByUnit(t, run, "addon/postgres").Status)
	assert.Equal(t, types.StepSucceeded, stepByUnit(t, run, "app/api").Status)
}

func TestDependencyFailureSkipsDependents(t *testing.T) {
	mem := driver.NewMemoryDriver()
	orc, store := newTestOrchestrator(t, writeConfigFiles(t, demoConfig()), mem)
	mem.FailApply("addon/postgres", "", &types.DriverError{
		Kind: types.DriverHostUnreachable, Unit: "addon/postgres", Host: "local", Detail: "dial refused",
	})

	run, err := orc.Deploy(context.Background(), "demo", DeployOptions{})
	require.NoError(t, err)
	assert.Equal(t, types.RunFailed, run.Status)
	assert.Contains(t, run.Error, "addon/postgres")

	assert.Equal(t, types.StepRollbackFailed, stepByUnit(t, run, "addon/postgres").Status)

	apiStep := stepByUnit(t, run, "app/api")
	assert.Equal(t, types.StepSkipped, apiStep.Status)
	assert.Contains(t, apiStep.Error, "addon/postgres")

	// Independent units still deploy.
	assert.Equal(t, types.StepSucceeded, stepByUnit(t, run, "app/web").Status)

	for _, call := range mem.Applies() {
		assert.NotEqual(t, "app/api", call.Ref.UnitID, "skipped step must not touch the host")
	}
	_, err = store.GetRecord("demo", "app/api")
	assert.ErrorIs(t, err, types.ErrRecordAbsent)
}

func TestVerifyFailureRollsBackToPrior(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		if n == 2 || n == 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()
	port := srv.Listener.Addr().(*net.TCPAddr).Port

	files := map[string]string{
		"environments/prod.yaml": "driver: local\n",
		"projects/demo.yaml": fmt.Sprintf(`name: demo
default_environment: prod
apps:
  - name: web
    image: ghcr.io/acme/web
    port: 3000
    health:
      type: http
      path: /
      port: %d
      interval: 1ms
      timeout: 1s
      max_attempts: 2
`, port),
	}
	mem := driver.NewMemoryDriver()
	orc, store := newTestOrchestrator(t, writeConfigFiles(t, files), mem)

	run1, err := orc.Deploy(context.Background(), "demo", DeployOptions{})
	require.NoError(t, err)
	require.Equal(t, types.RunSucceeded, run1.Status)
	h1, _ := mem.Deployed("app/web")

	// v2 applies cleanly but probes 500 twice; the rollback's probe
	// sees the recovered endpoint.
	run2, err := orc.Deploy(context.Background(), "demo", DeployOptions{Version: "v2"})
	require.NoError(t, err)
	assert.Equal(t, types.RunFailed, run2.Status)
	assert.Contains(t, run2.Error, "health")

	webStep := stepByUnit(t, run2, "app/web")
	assert.Equal(t, types.StepRolledBack, webStep.Status)

	hash, ok := mem.Deployed("app/web")
	require.True(t, ok)
	assert.Equal(t, h1, hash, "rollback must restore the recorded version")
	rec, err := store.GetRecord("demo", "app/web")
	require.NoError(t, err)
	assert.Equal(t, "latest", rec.Version)
}

func TestDeployLockedProject(t *testing.T) {
	mem := driver.NewMemoryDriver()
	orc, store := newTestOrchestrator(t, writeConfigFiles(t, demoConfig()), mem)
	require.NoError(t, store.AcquireLock("demo", "another-run"))

	run, err := orc.Deploy(context.Background(), "demo", DeployOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrProjectLocked)
	assert.Equal(t, types.RunFailed, run.Status)
	assert.Empty(t, mem.Applies(), "locked project must not be touched")
}

func TestDeployCancelSkipsRemainingSteps(t *testing.T) {
	mem := driver.NewMemoryDriver()
	orc, store := newTestOrchestrator(t, writeConfigFiles(t, demoConfig()), mem)
	mem.SetApplyDelay(200 * time.Millisecond)

	// Cancel once the first wave has an apply in flight, which pins the
	// cancellation inside a phase rather than racing the run start.
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		for mem.MaxConcurrent() == 0 {
			time.Sleep(5 * time.Millisecond)
		}
		cancel()
	}()

	run, err := orc.Deploy(ctx, "demo", DeployOptions{})
	require.NoError(t, err)
	assert.Equal(t, types.RunCanceled, run.Status)

	// In-flight applies finish under their own context; nothing after
	// them starts and no step completes the full pipeline.
	applies := mem.Applies()
	require.NotEmpty(t, applies)
	for _, call := range applies {
		assert.NotEqual(t, "app/api", call.Ref.UnitID, "later waves must not start")
	}
	assert.Equal(t, types.StepSkipped, stepByUnit(t, run, "app/api").Status)
	for _, s := range run.Steps {
		assert.True(t, s.Status.Terminal(), s.UnitID)
		assert.NotEqual(t, types.StepSucceeded, s.Status, s.UnitID)
	}
	_, err = store.GetRecord("demo", "addon/postgres")
	assert.ErrorIs(t, err, types.ErrRecordAbsent)

	saved, err := store.GetRun(run.ID)
	require.NoError(t, err)
	assert.Equal(t, types.RunCanceled, saved.Status)
}

func TestDeployConfigErrorFailsBeforeHostContact(t *testing.T) {
	mem := driver.NewMemoryDriver()
	orc, store := newTestOrchestrator(t, writeConfigFiles(t, demoConfig()), mem)

	run, err := orc.Deploy(context.Background(), "ghost", DeployOptions{})
	require.Error(t, err)
	assert.Equal(t, types.RunFailed, run.Status)
	assert.Empty(t, mem.Applies())

	saved, err := store.GetRun(run.ID)
	require.NoError(t, err)
	assert.Equal(t, types.RunFailed, saved.Status)

	// The lock was never taken.
	assert.NoError(t, store.AcquireLock("ghost", "probe"))
}

func TestOperatorRollback(t *testing.T) {
	mem := driver.NewMemoryDriver()
	orc, store := newTestOrchestrator(t, writeConfigFiles(t, demoConfig()), mem)

	run1, err := orc.Deploy(context.Background(), "demo", DeployOptions{})
	require.NoError(t, err)
	require.Equal(t, types.RunSucceeded, run1.Status)
	h1, _ := mem.Deployed("app/api")

	run2, err := orc.Deploy(context.Background(), "demo", DeployOptions{Version: "v2"})
	require.NoError(t, err)
	require.Equal(t, types.RunSucceeded, run2.Status)

	result, err := orc.Rollback(context.Background(), "demo", "", "app/api")
	require.NoError(t, err)
	assert.Equal(t, types.StepRolledBack, result.Status)
	assert.Equal(t, "latest", result.RestoredVersion)

	hash, _ := mem.Deployed("app/api")
	assert.Equal(t, h1, hash)

	rec, err := store.GetRecord("demo", "app/api")
	require.NoError(t, err)
	assert.Equal(t, "latest", rec.Version)
	assert.Contains(t, rec.RunID, "rollback-")
	require.NotNil(t, rec.Previous)
	assert.Equal(t, "v2", rec.Previous.Version)
	assert.Equal(t, 3, rec.Depth())
}

func TestOperatorRollbackWithoutPriorVersion(t *testing.T) {
	mem := driver.NewMemoryDriver()
	orc, _ := newTestOrchestrator(t, writeConfigFiles(t, demoConfig()), mem)

	run, err := orc.Deploy(context.Background(), "demo", DeployOptions{})
	require.NoError(t, err)
	require.Equal(t, types.RunSucceeded, run.Status)
	applied := len(mem.Applies())

	result, err := orc.Rollback(context.Background(), "demo", "", "app/api")
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrNoPriorVersion)
	assert.Equal(t, types.StepRollbackFailed, result.Status)
	assert.Len(t, mem.Applies(), applied, "unit must be left as-is")

	// Unknown units surface the same way.
	_, err = orc.Rollback(context.Background(), "demo", "", "app/ghost")
	assert.ErrorIs(t, err, types.ErrNoPriorVersion)
}

func TestPlanHasNoSideEffects(t *testing.T) {
	mem := driver.NewMemoryDriver()
	orc, _ := newTestOrchestrator(t, writeConfigFiles(t, demoConfig()), mem)

	proj, plan, err := orc.Plan("demo", "", "")
	require.NoError(t, err)
	assert.Equal(t, "prod", proj.Env.Name)
	require.Len(t, plan.Waves, 2)
	assert.Equal(t, []string{"addon/postgres", "app/web"}, plan.Waves[0])
	assert.Equal(t, []string{"app/api"}, plan.Waves[1])
	assert.Empty(t, mem.Applies())
}

func TestDeployPublishesEvents(t *testing.T) {
	broker := events.NewBroker()
	broker.Start()
	t.Cleanup(broker.Stop)
	sub := broker.Subscribe("")

	mem := driver.NewMemoryDriver()
	store, err := state.NewBoltStore(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	orc, err := New(&Config{
		ConfigDir: writeConfigFiles(t, demoConfig()),
		Store:     store,
		Broker:    broker,
		NewDriver: func(*types.Environment) (driver.Driver, error) { return mem, nil },
	})
	require.NoError(t, err)

	run, err := orc.Deploy(context.Background(), "demo", DeployOptions{})
	require.NoError(t, err)
	require.Equal(t, types.RunSucceeded, run.Status)

	got := make(map[events.EventType]int)
	deadline := time.After(2 * time.Second)
	for got[events.EventRunSucceeded] == 0 {
		select {
		case ev := <-sub:
			assert.Equal(t, run.ID, ev.RunID)
			got[ev.Type]++
		case <-deadline:
			t.Fatalf("terminal event never arrived, got %v", got)
		}
	}

	assert.Equal(t, 1, got[events.EventRunQueued])
	assert.Equal(t, 1, got[events.EventRunStarted])
	assert.Equal(t, 3, got[events.EventStepStarted])
	assert.Equal(t, 3, got[events.EventStepSucceeded])
}

func TestRestoreUnitProjectsSnapshot(t *testing.T) {
	live := &types.Unit{
		ID:         "app/api",
		Image:      "ghcr.io/acme/api",
		Version:    "v2",
		Port:       9090,
		Template:   "",
		ConfigHash: "hash-v2",
		Config:     map[string]any{"image": "ghcr.io/acme/api", "port": 9090, "version": "v2"},
	}
	rec := &types.DeploymentRecord{
		Version:    "v1",
		ConfigHash: "hash-v1",
		Template:   "custom.yaml.tmpl",
		// Snapshots read back from the store carry float64 numbers.
		Config: map[string]any{"image": "ghcr.io/acme/api-old", "port": float64(8080), "version": "v1"},
	}

	u := restoreUnit(live, rec)
	assert.Equal(t, "ghcr.io/acme/api-old", u.Image)
	assert.Equal(t, 8080, u.Port)
	assert.Equal(t, "v1", u.Version)
	assert.Equal(t, "hash-v1", u.ConfigHash)
	assert.Equal(t, "custom.yaml.tmpl", u.Template)

	// The live unit is untouched.
	assert.Equal(t, "ghcr.io/acme/api", live.Image)
	assert.Equal(t, 9090, live.Port)
}
