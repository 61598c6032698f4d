package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/AIDilloBot/trustgate/internal/audit"
	"github.com/AIDilloBot/trustgate/internal/config"
)

var (
	auditConfig string
	auditLog    string
	auditLimit  int
	auditType   string
)

func init() {
	rootCmd.AddCommand(auditCmd)
	auditCmd.PersistentFlags().StringVar(&auditConfig, "config", "", "Path to security config YAML (default ~/.trustgate/config.yaml)")
	auditCmd.PersistentFlags().StringVar(&auditLog, "log", "", "Audit log path (overrides config)")

	auditCmd.AddCommand(auditTailCmd)
	auditTailCmd.Flags().IntVarP(&auditLimit, "limit", "n", 20, "Number of events to show")
	auditTailCmd.Flags().StringVar(&auditType, "type", "", "Filter by event type (requires db_path)")

	auditCmd.AddCommand(auditVerifyCmd)
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Inspect and verify the security event trail",
}

func resolveAuditPaths() (logPath, dbPath string, err error) {
	path := auditConfig
	if path == "" {
		path = defaultConfigPath()
	}
	secCfg, err := config.LoadConfig(path)
	if err != nil {
		return "", "", fmt.Errorf("failed to load security config: %w", err)
	}
	logPath = auditLog
	if logPath == "" {
		logPath = auditLogPath(secCfg)
	}
	return logPath, secCfg.Audit.DBPath, nil
}

var auditTailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Print recent security events",
	Long: "Prints the most recent events, newest last. Reads the SQLite\n" +
		"store when configured, otherwise the JSONL log.",
	RunE: func(cmd *cobra.Command, args []string) error {
		logPath, dbPath, err := resolveAuditPaths()
		if err != nil {
			return err
		}

		var events []audit.Event
		if dbPath != "" {
			store, err := audit.OpenStore(dbPath)
			if err != nil {
				return err
			}
			defer store.Close()
			events, err = store.Recent(auditLimit, audit.EventType(auditType))
			if err != nil {
				return err
			}
		} else {
			if auditType != "" {
				return fmt.Errorf("--type requires audit.db_path in the config")
			}
			events, err = audit.Tail(logPath, auditLimit)
			if err != nil {
				return err
			}
		}

		enc := json.NewEncoder(os.Stdout)
		for _, ev := range events {
			if err := enc.Encode(ev); err != nil {
				return err
			}
		}
		return nil
	},
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Validate the audit log hash chain",
	Long: "Walks the JSONL log and checks every entry's prev_hash link.\n" +
		"Exit code 0 when intact, 1 when tampered or truncated.",
	RunE: func(cmd *cobra.Command, args []string) error {
		logPath, _, err := resolveAuditPaths()
		if err != nil {
			return err
		}

		res := audit.Verify(logPath)
		out, _ := json.MarshalIndent(res, "", "  ")
		fmt.Println(string(out))
		if !res.Valid {
			os.Exit(1)
		}
		return nil
	},
}
