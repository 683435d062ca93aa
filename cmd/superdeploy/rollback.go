package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var rollbackCmd = &cobra.Command{
	Use:   "rollback PROJECT UNIT",
	Short: "Roll a unit back to its previously deployed version",
	Long: `Restore a unit to the version recorded before its current one.

The previous version re-renders from its recorded configuration
snapshot and replays the full apply and verify pipeline. On success the
restored version becomes the unit's new current record.

Examples:
  superdeploy rollback myproject addon/postgres
  superdeploy rollback myproject app/web --environment staging`,
	Args: cobra.ExactArgs(2),
	RunE: runRollback,
}

func init() {
	rollbackCmd.Flags().String("environment", "", "Environment (default: the project's default)")

	rootCmd.AddCommand(rollbackCmd)
}

func runRollback(cmd *cobra.Command, args []string) error {
	project, unitID := args[0], args[1]
	environment, _ := cmd.Flags().GetString("environment")

	store, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	orch, err := buildOrchestrator(cmd, store, nil, 0)
	if err != nil {
		return err
	}
	defer orch.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Printf("Rolling back %s in project %s...\n", unitID, project)

	result, err := orch.Rollback(ctx, project, environment, unitID)
	if err != nil {
		return fmt.Errorf("rollback failed: %v", err)
	}

	fmt.Printf("✓ Restored %s to version %s\n", result.UnitID, result.RestoredVersion)
	return nil
}
