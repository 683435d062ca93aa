package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cfkarakulak/superdeploy/pkg/client"
)

var logsCmd = &cobra.Command{
	Use:   "logs RUN_ID",
	Short: "Stream the event log of a run from a server",
	Long: `Stream the event log of a run from a running superdeploy server.

The stream replays what already happened, then follows live events
until the run finishes. Finished runs replay and exit immediately.

Examples:
  superdeploy logs 9b2f0c1e-77aa-4f28-b9d3-0e5ad14c9f10
  superdeploy logs 9b2f0c1e-77aa-4f28-b9d3-0e5ad14c9f10 --server http://deploy.internal:8080`,
	Args: cobra.ExactArgs(1),
	RunE: runLogs,
}

func init() {
	logsCmd.Flags().String("server", "http://localhost:8080", "Base URL of the API server")
	logsCmd.Flags().String("token", "", "API token (default: $SUPERDEPLOY_TOKEN)")

	rootCmd.AddCommand(logsCmd)
}

func runLogs(cmd *cobra.Command, args []string) error {
	server, _ := cmd.Flags().GetString("server")
	token, _ := cmd.Flags().GetString("token")
	if token == "" {
		token = os.Getenv("SUPERDEPLOY_TOKEN")
	}

	cli, err := client.NewClient(server, token)
	if err != nil {
		return err
	}
	defer cli.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rc, err := cli.Logs(ctx, args[0])
	if err != nil {
		return fmt.Errorf("failed to open log stream: %v", err)
	}
	defer rc.Close()

	sc := bufio.NewScanner(rc)
	for sc.Scan() {
		fmt.Println(sc.Text())
	}
	if err := sc.Err(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("log stream interrupted: %v", err)
	}
	return nil
}
