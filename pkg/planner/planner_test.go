package planner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cfkarakulak/superdeploy/pkg/types"
)

func unit(id string, decl int, deps ...string) *types.Unit {
	return &types.Unit{ID: id, DependsOn: deps, DeclIndex: decl}
}

func project(units ...*types.Unit) *types.Project {
	return &types.Project{
		Name:  "demo",
		Env:   &types.Environment{Name: "dev"},
		Units: units,
	}
}

func TestPlanLinearChain(t *testing.T) {
	proj := project(
		unit("addon/postgres", 0),
		unit("app/api", 1, "addon/postgres"),
		unit("app/web", 2, "app/api"),
	)

	plan, err := NewPlanner().Plan(proj)
	require.NoError(t, err)

	require.Len(t, plan.Waves, 3)
	assert.Equal(t, []string{"addon/postgres"}, plan.Waves[0])
	assert.Equal(t, []string{"app/api"}, plan.Waves[1])
	assert.Equal(t, []string{"app/web"}, plan.Waves[2])

	require.Len(t, plan.Steps, 3)
	for _, s := range plan.Steps {
		assert.Equal(t, types.StepPending, s.Status)
	}
	assert.Equal(t, 1, plan.Step("app/api").Wave)
}

func TestPlanDiamond(t *testing.T) {
	proj := project(
		unit("addon/postgres", 0),
		unit("addon/redis", 1),
		unit("app/api", 2, "addon/postgres", "addon/redis"),
		unit("app/worker", 3, "app/api"),
	)

	plan, err := NewPlanner().Plan(proj)
	require.NoError(t, err)

	require.Len(t, plan.Waves, 3)
	// both roots are parallel-eligible in the first wave
	assert.Equal(t, []string{"addon/postgres", "addon/redis"}, plan.Waves[0])
	assert.Equal(t, []string{"app/api"}, plan.Waves[1])
	assert.Equal(t, []string{"app/worker"}, plan.Waves[2])
}

func TestPlanDeclarationOrderTieBreak(t *testing.T) {
	// Independent units share a wave; declaration order decides their
	// position regardless of map iteration order.
	proj := project(
		unit("addon/zookeeper", 0),
		unit("addon/postgres", 1),
		unit("addon/redis", 2),
		unit("addon/minio", 3),
	)

	for i := 0; i < 20; i++ {
		plan, err := NewPlanner().Plan(proj)
		require.NoError(t, err)
		require.Len(t, plan.Waves, 1)
		assert.Equal(t, []string{"addon/zookeeper", "addon/postgres", "addon/redis", "addon/minio"}, plan.Waves[0])
	}
}

func TestPlanCycleDetected(t *testing.T) {
	proj := project(
		unit("addon/a", 0, "addon/c"),
		unit("addon/b", 1, "addon/a"),
		unit("addon/c", 2, "addon/b"),
	)

	_, err := NewPlanner().Plan(proj)
	var cerr *types.CyclicDependencyError
	require.ErrorAs(t, err, &cerr)
	assert.ElementsMatch(t, []string{"addon/a", "addon/b", "addon/c"}, cerr.Cycle)
	assert.Contains(t, cerr.Error(), " -> ")
}

func TestPlanSelfDependency(t *testing.T) {
	proj := project(unit("addon/a", 0, "addon/a"))

	_, err := NewPlanner().Plan(proj)
	var cerr *types.CyclicDependencyError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, []string{"addon/a"}, cerr.Cycle)
}

func TestPlanUnknownDependency(t *testing.T) {
	proj := project(unit("app/api", 0, "addon/kafka"))

	_, err := NewPlanner().Plan(proj)
	var uerr *types.UnknownDependencyError
	require.ErrorAs(t, err, &uerr)
	assert.Equal(t, "app/api", uerr.Unit)
	assert.Equal(t, "addon/kafka", uerr.Dependency)
}

func TestPlanEmptyProject(t *testing.T) {
	plan, err := NewPlanner().Plan(project())
	require.NoError(t, err)
	assert.Empty(t, plan.Steps)
	assert.Empty(t, plan.Waves)
	assert.NotEmpty(t, plan.ID)
}

func TestPlanWaveInvariant(t *testing.T) {
	proj := project(
		unit("addon/postgres", 0),
		unit("addon/redis", 1),
		unit("app/api", 2, "addon/postgres", "addon/redis"),
		unit("app/web", 3, "app/api", "addon/redis"),
	)

	plan, err := NewPlanner().Plan(proj)
	require.NoError(t, err)

	// every dependency sits in a strictly earlier wave
	for _, s := range plan.Steps {
		for _, dep := range s.DependsOn {
			assert.Less(t, plan.Step(dep).Wave, s.Wave, "%s after %s", dep, s.ID)
		}
	}
}
