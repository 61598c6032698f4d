package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/AIDilloBot/trustgate/internal/config"
	"github.com/AIDilloBot/trustgate/internal/vault"
)

var (
	vaultConfig     string
	vaultDir        string
	vaultPassphrase string
)

func init() {
	rootCmd.AddCommand(vaultCmd)
	vaultCmd.PersistentFlags().StringVar(&vaultConfig, "config", "", "Path to security config YAML (default ~/.trustgate/config.yaml)")
	vaultCmd.PersistentFlags().StringVar(&vaultDir, "dir", "", "Vault directory (overrides config)")
	vaultCmd.PersistentFlags().StringVar(&vaultPassphrase, "passphrase", "", "Vault passphrase (default TRUSTGATE_VAULT_PASSPHRASE or machine key)")

	vaultCmd.AddCommand(vaultSetCmd)
	vaultCmd.AddCommand(vaultGetCmd)
	vaultCmd.AddCommand(vaultListCmd)
	vaultCmd.AddCommand(vaultDeleteCmd)
	vaultCmd.AddCommand(vaultRotateCmd)
	vaultCmd.AddCommand(vaultMigrateCmd)
}

var vaultCmd = &cobra.Command{
	Use:   "vault",
	Short: "Manage the encrypted secrets vault",
}

func openVault() (*vault.Vault, error) {
	dir := vaultDir
	if dir == "" {
		path := vaultConfig
		if path == "" {
			path = defaultConfigPath()
		}
		secCfg, err := config.LoadConfig(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load security config: %w", err)
		}
		dir = secCfg.VaultDir
	}
	return vault.Open(vault.Options{Dir: dir, Passphrase: vaultPassphrase})
}

var vaultSetCmd = &cobra.Command{
	Use:   "set <key> [value]",
	Short: "Store a secret",
	Long: "Stores a secret under the given key. The value comes from the\n" +
		"second argument, or from stdin when omitted (recommended: values\n" +
		"passed as arguments end up in shell history).",
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := openVault()
		if err != nil {
			return err
		}
		value, err := contentFromArgsOrStdin(args[1:])
		if err != nil {
			return err
		}
		value = strings.TrimRight(value, "\n")
		if err := v.Store(args[0], []byte(value)); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "stored: %s\n", args[0])
		return nil
	},
}

var vaultGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Retrieve a secret",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := openVault()
		if err != nil {
			return err
		}
		plaintext, err := v.Retrieve(args[0])
		if err != nil {
			return err
		}
		fmt.Println(string(plaintext))
		return nil
	},
}

var vaultListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored keys (names only, never values)",
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := openVault()
		if err != nil {
			return err
		}
		for _, key := range v.List() {
			fmt.Println(key)
		}
		return nil
	},
}

var vaultDeleteCmd = &cobra.Command{
	Use:   "delete <key>",
	Short: "Delete a secret",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := openVault()
		if err != nil {
			return err
		}
		if err := v.Delete(args[0]); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "deleted: %s\n", args[0])
		return nil
	},
}

var vaultRotateTo string

func init() {
	vaultRotateCmd.Flags().StringVar(&vaultRotateTo, "new-passphrase", "", "New passphrase (default: re-derive from env or machine key)")
}

var vaultRotateCmd = &cobra.Command{
	Use:   "rotate",
	Short: "Re-encrypt every secret under a fresh salt and key",
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := openVault()
		if err != nil {
			return err
		}
		if err := v.Rotate(vaultRotateTo); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "rotated: %d entries re-encrypted\n", len(v.List()))
		return nil
	},
}

var vaultMigrateCmd = &cobra.Command{
	Use:   "migrate <legacy-dir>",
	Short: "Import plaintext secret files into the vault",
	Long: "Imports legacy plaintext secret files from a directory into the\n" +
		"encrypted vault, then overwrites and removes the originals.\n" +
		"Already-migrated directories are skipped via a marker file.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := openVault()
		if err != nil {
			return err
		}
		rec, err := vault.Migrate(v, args[0], nil)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "migrated=%d failed=%d skipped=%d\n",
			len(rec.Migrated), len(rec.Failed), len(rec.Skipped))
		return nil
	},
}
