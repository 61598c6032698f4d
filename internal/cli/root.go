package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/AIDilloBot/trustgate/internal/integrity"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "trustgate",
	Short: "Trust boundary for AI agent gateways",
	Long:  "Screens inbound content for prompt injection, filters credentials out of outbound replies, verifies skills before install, and keeps secrets in an encrypted vault. Sits between the channels and the agent.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := integrity.Verify(); err != nil {
			fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
			os.Exit(78) // EX_CONFIG
		}
		return nil
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// defaultConfigPath is where commands look for the security config
// when --config is not given. A missing file means defaults.
func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".trustgate", "config.yaml")
}
