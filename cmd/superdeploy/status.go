package main

import (
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/cfkarakulak/superdeploy/pkg/config"
)

var statusCmd = &cobra.Command{
	Use:   "status PROJECT",
	Short: "Show the deployed state of a project",
	Long: `Show the current deployment record of every unit in a project.

Records come from the local state database; no host is contacted.

Examples:
  superdeploy status myproject
  superdeploy status myproject --history
  superdeploy status myproject --runs 5`,
	Args: cobra.ExactArgs(1),
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().Bool("history", false, "Show the full record chain per unit")
	statusCmd.Flags().Int("runs", 0, "Also list the N most recent runs")

	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	project := args[0]
	history, _ := cmd.Flags().GetBool("history")
	runLimit, _ := cmd.Flags().GetInt("runs")

	store, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	records, err := store.ListRecords(project)
	if err != nil {
		return err
	}

	if len(records) == 0 {
		fmt.Printf("No deployments recorded for project %s\n", project)
	} else {
		sort.Slice(records, func(i, j int) bool { return records[i].UnitID < records[j].UnitID })

		fmt.Printf("%-24s %-20s %-14s %-8s %s\n", "UNIT", "VERSION", "CONFIG", "AGE", "RUN")
		for _, rec := range records {
			fmt.Printf("%-24s %-20s %-14s %-8s %s\n",
				rec.UnitID, rec.Version, config.ShortHash(rec.ConfigHash),
				formatAge(time.Since(rec.DeployedAt)), rec.RunID)
			if history {
				for prev := rec.Previous; prev != nil; prev = prev.Previous {
					fmt.Printf("%-24s %-20s %-14s %-8s %s\n",
						"", prev.Version, config.ShortHash(prev.ConfigHash),
						formatAge(time.Since(prev.DeployedAt)), prev.RunID)
				}
			}
		}
	}

	if runLimit > 0 {
		runs, err := store.ListRuns(project, runLimit)
		if err != nil {
			return err
		}
		if len(runs) > 0 {
			fmt.Printf("\nRecent runs:\n")
			fmt.Printf("%-38s %-10s %-8s %-8s %s\n", "RUN", "STATUS", "TRIGGER", "AGE", "ERROR")
			for _, run := range runs {
				fmt.Printf("%-38s %-10s %-8s %-8s %s\n",
					run.ID, run.Status, run.Trigger,
					formatAge(time.Since(run.CreatedAt)), run.Error)
			}
		}
	}
	return nil
}

// formatAge renders a duration in the largest sensible single unit.
func formatAge(d time.Duration) string {
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
}
