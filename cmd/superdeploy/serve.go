package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cfkarakulak/superdeploy/pkg/api"
	"github.com/cfkarakulak/superdeploy/pkg/events"
	"github.com/cfkarakulak/superdeploy/pkg/metrics"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the deployment API server",
	Long: `Run the HTTP API server.

Deployments POSTed to /v1/deploys are queued and executed by a worker
pool; clients poll the run document or stream its log lines until the
run finishes. With --watch the configuration directory is watched and
changed projects are redeployed automatically.

Examples:
  superdeploy serve --listen :8080 --token s3cret
  superdeploy serve --watch`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("listen", ":8080", "Address to listen on")
	serveCmd.Flags().String("token", "", "Shared secret for /v1 requests (default: $SUPERDEPLOY_TOKEN)")
	serveCmd.Flags().Bool("watch", false, "Redeploy projects when their configuration changes")
	serveCmd.Flags().Int("max-parallel", 0, "Concurrent steps per wave (0 = default)")
	serveCmd.Flags().Int("workers", 0, "Deployment worker goroutines (0 = default)")

	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	listen, _ := cmd.Flags().GetString("listen")
	token, _ := cmd.Flags().GetString("token")
	watch, _ := cmd.Flags().GetBool("watch")
	maxParallel, _ := cmd.Flags().GetInt("max-parallel")
	workers, _ := cmd.Flags().GetInt("workers")
	configDir, _ := cmd.Flags().GetString("config-dir")
	stateFile, _ := cmd.Flags().GetString("state-file")

	if token == "" {
		token = os.Getenv("SUPERDEPLOY_TOKEN")
	}

	fmt.Println("Starting Superdeploy server...")
	fmt.Printf("  Config Directory: %s\n", configDir)
	fmt.Printf("  State File: %s\n", stateFile)
	fmt.Printf("  Listen Address: %s\n", listen)
	fmt.Println()

	store, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer store.Close()
	metrics.RegisterComponent("state", true, "bolt store open")
	fmt.Println("✓ State store opened")

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()
	metrics.RegisterComponent("events", true, "broker running")
	fmt.Println("✓ Event broker started")

	orch, err := buildOrchestrator(cmd, store, broker, maxParallel)
	if err != nil {
		return err
	}
	defer orch.Close()
	metrics.RegisterComponent("orchestrator", true, "ready")
	metrics.SetVersion(Version)

	collector := metrics.NewCollector(store, orch.Projects)
	collector.Start()
	defer collector.Stop()

	srv, err := api.NewServer(api.Config{
		Orchestrator: orch,
		Store:        store,
		Broker:       broker,
		Token:        token,
		Workers:      workers,
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if watch {
		watcher := api.NewWatcher(srv, configDir)
		if err := watcher.Start(ctx); err != nil {
			return fmt.Errorf("failed to start config watcher: %v", err)
		}
		fmt.Println("✓ Configuration watcher started")
	}

	// Start API server in background
	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(ctx, listen); err != nil {
			errCh <- fmt.Errorf("API server error: %v", err)
		}
	}()
	fmt.Printf("✓ API server listening on %s\n", listen)

	fmt.Println()
	fmt.Println("Server is running. Press Ctrl+C to stop.")

	// Wait for interrupt signal or API server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		fmt.Println("\nShutting down...")
	case err := <-errCh:
		fmt.Fprintf(os.Stderr, "\nError: %v\n", err)
	}

	if err := srv.Stop(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error stopping server: %v\n", err)
	}

	fmt.Println("✓ Shutdown complete")
	return nil
}
