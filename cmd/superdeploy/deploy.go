package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cfkarakulak/superdeploy/pkg/orchestrator"
	"github.com/cfkarakulak/superdeploy/pkg/types"
)

var deployCmd = &cobra.Command{
	Use:   "deploy PROJECT [ENVIRONMENT]",
	Short: "Deploy a project to an environment",
	Long: `Deploy every unit of a project in dependency order.

Addons deploy before the apps that depend on them; independent units in
the same wave run concurrently. Each unit is rendered, applied on its
target host and health-verified. A unit that fails apply or
verification is rolled back to its previous version without touching
its siblings.

Examples:
  # Deploy to the project's default environment
  superdeploy deploy myproject

  # Deploy to staging with a CI-built image tag
  superdeploy deploy myproject staging --version sha-41ad9f2

  # Show what would happen without contacting any host
  superdeploy deploy myproject --dry-run`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runDeploy,
}

func init() {
	deployCmd.Flags().Int("max-parallel", 0, "Concurrent steps per wave (0 = default)")
	deployCmd.Flags().String("version", "", "Image tag override for every app")
	deployCmd.Flags().Bool("dry-run", false, "Plan and print without contacting hosts")

	rootCmd.AddCommand(deployCmd)
}

func runDeploy(cmd *cobra.Command, args []string) error {
	project := args[0]
	environment := ""
	if len(args) == 2 {
		environment = args[1]
	}
	maxParallel, _ := cmd.Flags().GetInt("max-parallel")
	version, _ := cmd.Flags().GetString("version")
	dryRun, _ := cmd.Flags().GetBool("dry-run")

	if dryRun {
		return printPlan(cmd, project, environment, version, false)
	}

	store, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	orch, err := buildOrchestrator(cmd, store, nil, maxParallel)
	if err != nil {
		return err
	}
	defer orch.Close()

	// Ctrl+C cancels the run context; in-flight steps finish as canceled
	// and the run is persisted with what happened.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Printf("Deploying project %s", project)
	if environment != "" {
		fmt.Printf(" to %s", environment)
	}
	fmt.Println("...")

	run, err := orch.Deploy(ctx, project, orchestrator.DeployOptions{
		Environment: environment,
		Version:     version,
	})
	if err != nil {
		return fmt.Errorf("deployment failed: %v", err)
	}

	printRun(run)
	if run.Status != types.RunSucceeded {
		return fmt.Errorf("run %s %s: %s", run.ID, run.Status, run.Error)
	}
	fmt.Printf("✓ Deployment succeeded (run %s)\n", run.ID)
	return nil
}

// printRun prints the per-step outcomes of a finished run.
func printRun(run *types.Run) {
	fmt.Println()
	for _, st := range run.Steps {
		var mark string
		switch st.Status {
		case types.StepSucceeded:
			mark = "✓"
		case types.StepSkipped, types.StepPending:
			mark = "-"
		default:
			mark = "✗"
		}
		line := fmt.Sprintf("%s %-24s %s", mark, st.UnitID, st.Status)
		if st.Outcome != "" {
			line += fmt.Sprintf(" (%s)", st.Outcome)
		}
		if st.Error != "" {
			line += ": " + st.Error
		}
		fmt.Println(line)
	}
	fmt.Println()
}
