package planner

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/cfkarakulak/superdeploy/pkg/log"
	"github.com/cfkarakulak/superdeploy/pkg/types"
)

// Planner turns a resolved project into an ordered deployment plan
type Planner struct{}

// NewPlanner creates a new planner
func NewPlanner() *Planner {
	return &Planner{}
}

// Plan computes the execution order for a project's units. Units land in
// waves: every unit in a wave has all its dependencies in earlier waves,
// so a wave's members are safe to apply in parallel. Within a wave, units
// keep their declaration order.
func (p *Planner) Plan(proj *types.Project) (*types.DeploymentPlan, error) {
	g, err := buildGraph(proj.Units)
	if err != nil {
		return nil, err
	}

	if cycle := g.findCycle(); cycle != nil {
		return nil, &types.CyclicDependencyError{Cycle: cycle}
	}

	waves := g.computeWaves()

	plan := &types.DeploymentPlan{
		ID:          uuid.New().String(),
		Project:     proj.Name,
		Environment: proj.Env.Name,
		Waves:       waves,
		CreatedAt:   time.Now(),
	}
	for wave, ids := range waves {
		for _, id := range ids {
			unit := g.units[id]
			plan.Steps = append(plan.Steps, &types.PlanStep{
				ID:        unit.ID,
				Unit:      unit,
				DependsOn: append([]string(nil), unit.DependsOn...),
				Wave:      wave,
				Status:    types.StepPending,
			})
		}
	}

	logger := log.WithComponent("planner")
	logger.Debug().
		Str("project", proj.Name).
		Str("environment", proj.Env.Name).
		Int("steps", len(plan.Steps)).
		Int("waves", len(waves)).
		Msg("Deployment plan computed")
	return plan, nil
}

// graph holds the dependency structure during planning
type graph struct {
	units      map[string]*types.Unit
	order      []string            // unit IDs in declaration order
	dependents map[string][]string // edges dependency -> dependent
	inDegree   map[string]int
}

func buildGraph(units []*types.Unit) (*graph, error) {
	g := &graph{
		units:      make(map[string]*types.Unit, len(units)),
		dependents: make(map[string][]string),
		inDegree:   make(map[string]int),
	}

	for _, u := range units {
		if _, exists := g.units[u.ID]; exists {
			return nil, fmt.Errorf("duplicate unit %s", u.ID)
		}
		g.units[u.ID] = u
		g.order = append(g.order, u.ID)
		g.inDegree[u.ID] = 0
	}

	for _, id := range g.order {
		u := g.units[id]
		for _, dep := range u.DependsOn {
			if _, exists := g.units[dep]; !exists {
				return nil, &types.UnknownDependencyError{Unit: u.ID, Dependency: dep}
			}
			g.dependents[dep] = append(g.dependents[dep], u.ID)
			g.inDegree[u.ID]++
		}
	}
	return g, nil
}

// findCycle runs DFS over the dependency edges and returns the members of
// the first cycle found, in traversal order, or nil when the graph is
// acyclic.
func (g *graph) findCycle() []string {
	visited := make(map[string]bool)
	onStack := make(map[string]bool)

	var walk func(id string, path []string) []string
	walk = func(id string, path []string) []string {
		visited[id] = true
		onStack[id] = true
		path = append(path, id)

		for _, next := range g.dependents[id] {
			if !visited[next] {
				if cycle := walk(next, path); cycle != nil {
					return cycle
				}
			} else if onStack[next] {
				start := 0
				for i, member := range path {
					if member == next {
						start = i
						break
					}
				}
				return append([]string(nil), path[start:]...)
			}
		}

		onStack[id] = false
		return nil
	}

	// Iterate in declaration order so the reported cycle is stable.
	for _, id := range g.order {
		if !visited[id] {
			if cycle := walk(id, nil); cycle != nil {
				return cycle
			}
		}
	}
	return nil
}

// computeWaves runs Kahn's algorithm level by level. Each returned wave
// lists unit IDs whose dependencies all sit in earlier waves, sorted by
// declaration order.
func (g *graph) computeWaves() [][]string {
	inDegree := make(map[string]int, len(g.inDegree))
	for id, d := range g.inDegree {
		inDegree[id] = d
	}

	var current []string
	for _, id := range g.order {
		if inDegree[id] == 0 {
			current = append(current, id)
		}
	}

	var waves [][]string
	for len(current) > 0 {
		g.sortByDeclaration(current)
		waves = append(waves, current)

		var next []string
		for _, id := range current {
			for _, dependent := range g.dependents[id] {
				inDegree[dependent]--
				if inDegree[dependent] == 0 {
					next = append(next, dependent)
				}
			}
		}
		current = next
	}
	return waves
}

func (g *graph) sortByDeclaration(ids []string) {
	sort.SliceStable(ids, func(i, j int) bool {
		return g.units[ids[i]].DeclIndex < g.units[ids[j]].DeclIndex
	})
}
