package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/cfkarakulak/superdeploy/pkg/config"
)

var secretCmd = &cobra.Command{
	Use:   "secret",
	Short: "Manage sealed secrets bundles",
}

var secretSealCmd = &cobra.Command{
	Use:   "seal PROJECT ENVIRONMENT",
	Short: "Encrypt a plaintext secrets bundle",
	Long: `Encrypt the plaintext secrets bundle of a project and environment.

The sealed file is written next to the plaintext one and is safe to
commit; the loader prefers it over the plaintext bundle. The passphrase
comes from $` + config.MasterKeyEnv + ` or --master-key-file.

Examples:
  superdeploy secret seal myproject production
  superdeploy secret seal myproject production --rm`,
	Args: cobra.ExactArgs(2),
	RunE: runSecretSeal,
}

var secretOpenCmd = &cobra.Command{
	Use:   "open PROJECT ENVIRONMENT",
	Short: "Decrypt a sealed secrets bundle",
	Long: `Decrypt the sealed secrets bundle of a project and environment.

The plaintext is printed to stdout; --write restores the plaintext
bundle file instead.

Examples:
  superdeploy secret open myproject production
  superdeploy secret open myproject production --write`,
	Args: cobra.ExactArgs(2),
	RunE: runSecretOpen,
}

func init() {
	secretSealCmd.Flags().Bool("rm", false, "Delete the plaintext bundle after sealing")
	secretOpenCmd.Flags().Bool("write", false, "Write the plaintext bundle file instead of printing")

	secretCmd.AddCommand(secretSealCmd)
	secretCmd.AddCommand(secretOpenCmd)
	rootCmd.AddCommand(secretCmd)
}

// secretsPath returns the plaintext bundle path for a project and
// environment under the configuration directory.
func secretsPath(cmd *cobra.Command, project, environment string) string {
	configDir, _ := cmd.Flags().GetString("config-dir")
	return filepath.Join(configDir, "secrets", project, environment+".yaml")
}

// requireMasterKey resolves the secrets key and fails when none is
// configured.
func requireMasterKey(cmd *cobra.Command) ([]byte, error) {
	key, err := masterKey(cmd)
	if err != nil {
		return nil, err
	}
	if key == nil {
		return nil, fmt.Errorf("no master key configured: set %s or pass --master-key-file", config.MasterKeyEnv)
	}
	return key, nil
}

func runSecretSeal(cmd *cobra.Command, args []string) error {
	project, environment := args[0], args[1]

	key, err := requireMasterKey(cmd)
	if err != nil {
		return err
	}

	plainPath := secretsPath(cmd, project, environment)
	plaintext, err := os.ReadFile(plainPath)
	if err != nil {
		return fmt.Errorf("failed to read secrets bundle: %v", err)
	}

	sealed, err := config.SealBundle(plaintext, key)
	if err != nil {
		return err
	}

	sealedPath := plainPath + config.SealedExt
	if err := os.WriteFile(sealedPath, sealed, 0o600); err != nil {
		return fmt.Errorf("failed to write sealed bundle: %v", err)
	}
	fmt.Printf("✓ Sealed bundle written: %s\n", sealedPath)

	if rm, _ := cmd.Flags().GetBool("rm"); rm {
		if err := os.Remove(plainPath); err != nil {
			return fmt.Errorf("failed to remove plaintext bundle: %v", err)
		}
		fmt.Printf("✓ Plaintext bundle removed: %s\n", plainPath)
	} else {
		fmt.Printf("Plaintext bundle kept at %s (pass --rm to delete it)\n", plainPath)
	}
	return nil
}

func runSecretOpen(cmd *cobra.Command, args []string) error {
	project, environment := args[0], args[1]

	key, err := requireMasterKey(cmd)
	if err != nil {
		return err
	}

	plainPath := secretsPath(cmd, project, environment)
	sealedPath := plainPath + config.SealedExt
	sealed, err := os.ReadFile(sealedPath)
	if err != nil {
		return fmt.Errorf("failed to read sealed bundle: %v", err)
	}

	plaintext, err := config.OpenBundle(sealed, key)
	if err != nil {
		return err
	}

	if write, _ := cmd.Flags().GetBool("write"); write {
		if err := os.WriteFile(plainPath, plaintext, 0o600); err != nil {
			return fmt.Errorf("failed to write plaintext bundle: %v", err)
		}
		fmt.Printf("✓ Plaintext bundle written: %s\n", plainPath)
		return nil
	}

	_, err = os.Stdout.Write(plaintext)
	return err
}
