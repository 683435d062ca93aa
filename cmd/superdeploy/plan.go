package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cfkarakulak/superdeploy/pkg/config"
	"github.com/cfkarakulak/superdeploy/pkg/driver"
	"github.com/cfkarakulak/superdeploy/pkg/planner"
	"github.com/cfkarakulak/superdeploy/pkg/render"
	"github.com/cfkarakulak/superdeploy/pkg/types"
)

var planCmd = &cobra.Command{
	Use:   "plan PROJECT [ENVIRONMENT]",
	Short: "Print the deployment plan for a project",
	Long: `Print the ordered deployment plan without contacting any host.

Units are grouped into waves: a unit depends only on units in earlier
waves and may deploy concurrently with its wave siblings.

With --explain each unit is also rendered and applied against an
in-memory driver seeded from the deployment records, so the outcome
column shows what a real run would do: created, updated or unchanged.

Examples:
  superdeploy plan myproject
  superdeploy plan myproject staging --explain`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runPlan,
}

func init() {
	planCmd.Flags().String("version", "", "Image tag override for every app")
	planCmd.Flags().Bool("explain", false, "Render units and simulate apply outcomes")

	rootCmd.AddCommand(planCmd)
}

func runPlan(cmd *cobra.Command, args []string) error {
	project := args[0]
	environment := ""
	if len(args) == 2 {
		environment = args[1]
	}
	version, _ := cmd.Flags().GetString("version")
	explain, _ := cmd.Flags().GetBool("explain")

	return printPlan(cmd, project, environment, version, explain)
}

// printPlan loads and plans a project, then prints the waves. Shared by
// the plan command and deploy --dry-run.
func printPlan(cmd *cobra.Command, project, environment, version string, explain bool) error {
	configDir, _ := cmd.Flags().GetString("config-dir")
	key, err := masterKey(cmd)
	if err != nil {
		return err
	}

	loader := config.NewLoader(configDir)
	if len(key) > 0 {
		loader = loader.WithMasterKey(key)
	}
	proj, err := loader.Load(project, environment, config.LoadOptions{Version: version})
	if err != nil {
		return err
	}

	plan, err := planner.NewPlanner().Plan(proj)
	if err != nil {
		return err
	}

	var outcomes map[string]types.Outcome
	if explain {
		if outcomes, err = simulateApplies(cmd, proj, plan); err != nil {
			return err
		}
	}

	fmt.Printf("Project %s, environment %s: %d units in %d waves\n",
		proj.Name, proj.Env.Name, len(plan.Steps), len(plan.Waves))
	for i, wave := range plan.Waves {
		fmt.Printf("\nWave %d:\n", i+1)
		for _, id := range wave {
			step := plan.Step(id)
			line := fmt.Sprintf("  %-24s %s", step.ID, step.Unit.Version)
			if len(step.DependsOn) > 0 {
				line += "  after " + strings.Join(step.DependsOn, ", ")
			}
			if explain {
				line += fmt.Sprintf("  [%s]", outcomes[id])
			}
			fmt.Println(line)
		}
	}
	return nil
}

// simulateApplies renders every planned unit and applies it to a memory
// driver seeded with the recorded config hashes. No host is contacted;
// the outcomes mirror the idempotence check a real driver performs.
func simulateApplies(cmd *cobra.Command, proj *types.Project, plan *types.DeploymentPlan) (map[string]types.Outcome, error) {
	store, err := openStore(cmd)
	if err != nil {
		return nil, err
	}
	defer store.Close()

	drv := driver.NewMemoryDriver()
	records, err := store.ListRecords(proj.Name)
	if err != nil {
		return nil, err
	}
	for _, rec := range records {
		drv.Seed(rec.UnitID, rec.ConfigHash)
	}

	renderer := render.NewRenderer()
	if dir, _ := cmd.Flags().GetString("template-dir"); dir != "" {
		renderer = renderer.WithOverrideDir(dir)
	}

	ctx := context.Background()
	outcomes := make(map[string]types.Outcome, len(plan.Steps))
	for _, step := range plan.Steps {
		artifact, err := renderer.Render(step.Unit)
		if err != nil {
			return nil, err
		}
		outcome, err := drv.Apply(ctx, artifact)
		if err != nil {
			return nil, err
		}
		outcomes[step.ID] = outcome
	}
	return outcomes, nil
}
