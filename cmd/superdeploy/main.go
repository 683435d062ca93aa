package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cfkarakulak/superdeploy/pkg/config"
	"github.com/cfkarakulak/superdeploy/pkg/events"
	"github.com/cfkarakulak/superdeploy/pkg/log"
	"github.com/cfkarakulak/superdeploy/pkg/orchestrator"
	"github.com/cfkarakulak/superdeploy/pkg/state"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "superdeploy",
	Short: "Superdeploy - Config-driven deployment orchestrator",
	Long: `Superdeploy deploys projects and their managed addons to remote
hosts from a layered YAML configuration directory.

Deployments are planned from declared dependencies, applied
idempotently over SSH or containerd, verified with health probes and
rolled back per unit on failure.`,
	Version: Version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level, _ := cmd.Flags().GetString("log-level")
		jsonOut, _ := cmd.Flags().GetBool("log-json")
		log.Init(log.Config{Level: log.Level(level), JSONOutput: jsonOut})
	},
}

func init() {
	// Set version template
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Superdeploy version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("config-dir", ".", "Configuration directory root")
	rootCmd.PersistentFlags().String("state-file", "/var/lib/superdeploy/state.db", "Deployment state database file")
	rootCmd.PersistentFlags().String("template-dir", "", "Directory of templates shadowing the built-in set")
	rootCmd.PersistentFlags().String("master-key-file", "", "File holding the secrets passphrase (default: $"+config.MasterKeyEnv+")")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug|info|warn|error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Log JSON instead of console output")
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Printf("Superdeploy version %s\nCommit: %s\nBuilt: %s\n", Version, Commit, BuildTime)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

// masterKey resolves the secrets key from --master-key-file or the
// environment. A missing key is not an error here; loading fails later
// only when a sealed bundle actually needs one.
func masterKey(cmd *cobra.Command) ([]byte, error) {
	if path, _ := cmd.Flags().GetString("master-key-file"); path != "" {
		return config.MasterKeyFromFile(path)
	}
	if os.Getenv(config.MasterKeyEnv) != "" {
		return config.MasterKeyFromEnv()
	}
	return nil, nil
}

// openStore opens the bolt-backed state store named by --state-file.
// The caller closes it.
func openStore(cmd *cobra.Command) (*state.BoltStore, error) {
	path, _ := cmd.Flags().GetString("state-file")
	store, err := state.NewBoltStore(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open state store: %v", err)
	}
	return store, nil
}

// buildOrchestrator wires an orchestrator from the shared flags. A nil
// broker makes the orchestrator run a private one.
func buildOrchestrator(cmd *cobra.Command, store *state.BoltStore, broker *events.Broker, maxParallel int) (*orchestrator.Orchestrator, error) {
	configDir, _ := cmd.Flags().GetString("config-dir")
	templateDir, _ := cmd.Flags().GetString("template-dir")
	key, err := masterKey(cmd)
	if err != nil {
		return nil, err
	}

	return orchestrator.New(&orchestrator.Config{
		ConfigDir:   configDir,
		Store:       store,
		Broker:      broker,
		MaxParallel: maxParallel,
		MasterKey:   key,
		TemplateDir: templateDir,
	})
}
