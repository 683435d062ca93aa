package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cfkarakulak/superdeploy/pkg/types"
)

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Maintain the deployment state database",
}

var stateBackupCmd = &cobra.Command{
	Use:   "backup DEST",
	Short: "Write a snapshot of the state database",
	Long: `Write a consistent snapshot of the state database to DEST.

The snapshot is taken inside a read transaction, so it is safe to run
against a live server.

Examples:
  superdeploy state backup /var/backups/superdeploy-state.db`,
	Args: cobra.ExactArgs(1),
	RunE: runStateBackup,
}

var statePruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete old runs from the state database",
	Long: `Delete finished runs beyond a per-project retention count.

Runs that have not reached a terminal status are never deleted.
Deployment records are untouched; their history is bounded at write
time.

Examples:
  superdeploy state prune --keep 20
  superdeploy state prune --project myproject --keep 5 --dry-run`,
	Args: cobra.NoArgs,
	RunE: runStatePrune,
}

func init() {
	statePruneCmd.Flags().String("project", "", "Prune only this project's runs")
	statePruneCmd.Flags().Int("keep", 20, "Finished runs to keep per project")
	statePruneCmd.Flags().Bool("dry-run", false, "Report what would be deleted without deleting")

	stateCmd.AddCommand(stateBackupCmd)
	stateCmd.AddCommand(statePruneCmd)
	rootCmd.AddCommand(stateCmd)
}

func runStateBackup(cmd *cobra.Command, args []string) error {
	dest := args[0]

	store, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	f, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("failed to create backup file: %v", err)
	}
	defer f.Close()

	n, err := store.Backup(f)
	if err != nil {
		return fmt.Errorf("backup failed: %v", err)
	}

	fmt.Printf("✓ Backup written: %s (%d bytes)\n", dest, n)
	return nil
}

func runStatePrune(cmd *cobra.Command, args []string) error {
	project, _ := cmd.Flags().GetString("project")
	keep, _ := cmd.Flags().GetInt("keep")
	dryRun, _ := cmd.Flags().GetBool("dry-run")

	store, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	if dryRun {
		runs, err := store.ListRuns(project, 0)
		if err != nil {
			return err
		}
		would := countPrunable(runs, keep)
		fmt.Printf("Would delete %d runs. Run without --dry-run to delete them.\n", would)
		return nil
	}

	pruned, err := store.PruneRuns(project, keep)
	if err != nil {
		return err
	}
	fmt.Printf("✓ Deleted %d runs\n", pruned)
	return nil
}

// countPrunable counts terminal runs beyond the per-project retention.
// ListRuns returns newest first, so per-project order is already the
// retention order.
func countPrunable(runs []*types.Run, keep int) int {
	if keep < 0 {
		keep = 0
	}
	perProject := make(map[string]int)
	prunable := 0
	for _, run := range runs {
		if !run.Status.Terminal() {
			continue
		}
		perProject[run.Project]++
		if perProject[run.Project] > keep {
			prunable++
		}
	}
	return prunable
}
