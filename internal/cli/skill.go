package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/AIDilloBot/trustgate/internal/analyzer"
	"github.com/AIDilloBot/trustgate/internal/approval"
	"github.com/AIDilloBot/trustgate/internal/audit"
	"github.com/AIDilloBot/trustgate/internal/config"
	"github.com/AIDilloBot/trustgate/internal/skill"
)

var (
	skillConfig     string
	skillVerifyJSON bool
	skillApproveFor string
)

func init() {
	rootCmd.AddCommand(skillCmd)
	skillCmd.PersistentFlags().StringVar(&skillConfig, "config", "", "Path to security config YAML (default ~/.trustgate/config.yaml)")

	skillCmd.AddCommand(skillVerifyCmd)
	skillVerifyCmd.Flags().BoolVar(&skillVerifyJSON, "json", false, "Print the full verification result as JSON")

	skillCmd.AddCommand(skillPendingCmd)

	skillCmd.AddCommand(skillApproveCmd)
	skillApproveCmd.Flags().StringVar(&skillApproveFor, "for", "", "Approval window (e.g. 1h); omit for one-time")

	skillCmd.AddCommand(skillDenyCmd)
}

var skillCmd = &cobra.Command{
	Use:   "skill",
	Short: "Verify skills and manage bypass approvals",
}

// skillFile is the on-disk skill manifest format.
type skillFile struct {
	Name         string `yaml:"name"`
	Description  string `yaml:"description"`
	Instructions string `yaml:"instructions"`
}

var skillVerifyCmd = &cobra.Command{
	Use:   "verify <skill.yaml>",
	Short: "Run a skill manifest through the verification pipeline",
	Long: "Loads a skill manifest and checks it against the red-flag rules\n" +
		"and, when an analyzer is configured, the semantic inspector.\n\n" +
		"Exit code 0 when approved, 1 when blocked or pending approval.",
	Args: cobra.ExactArgs(1),
	RunE: runSkillVerify,
}

func runSkillVerify(cmd *cobra.Command, args []string) error {
	raw, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read skill manifest: %w", err)
	}
	var sf skillFile
	if err := yaml.Unmarshal(raw, &sf); err != nil {
		return fmt.Errorf("failed to parse skill manifest: %w", err)
	}
	if sf.Name == "" {
		return fmt.Errorf("skill manifest has no name")
	}

	secCfg, err := loadSkillConfig()
	if err != nil {
		return err
	}

	verifier, cleanup, err := buildSkillVerifier(secCfg)
	if err != nil {
		return err
	}
	defer cleanup()

	res := verifier.Verify(context.Background(), skill.Skill{
		Name:         sf.Name,
		Description:  sf.Description,
		Instructions: sf.Instructions,
	}, args[0])

	if skillVerifyJSON {
		out, err := json.MarshalIndent(res, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
	} else {
		status := "BLOCKED"
		if res.Approved {
			status = "APPROVED"
			if res.Bypassed {
				status = "APPROVED (bypassed)"
			}
		}
		fmt.Fprintf(os.Stderr, "%s  %s\n", status, res.Message)
		if res.Inspection != nil {
			fmt.Fprintf(os.Stderr, "risk=%s findings=%v\n", res.Inspection.RiskLevel, res.Inspection.Findings)
		}
	}

	if !res.Approved {
		cleanup()
		os.Exit(1)
	}
	return nil
}

var skillPendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "List pending skill-bypass requests",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openApprovalStore()
		if err != nil {
			return err
		}
		list, err := store.List()
		if err != nil {
			return err
		}
		if len(list) == 0 {
			fmt.Fprintln(os.Stderr, "no pending requests")
			return nil
		}
		for _, r := range list {
			fmt.Printf("%-40s %-9s risk=%-8s %s\n", r.Key, r.Status, r.RiskLevel, r.Summary)
		}
		return nil
	},
}

var skillApproveCmd = &cobra.Command{
	Use:   "approve <key>",
	Short: "Approve a pending skill-bypass request",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openApprovalStore()
		if err != nil {
			return err
		}
		var duration time.Duration
		if skillApproveFor != "" {
			duration, err = time.ParseDuration(skillApproveFor)
			if err != nil {
				return fmt.Errorf("invalid duration %q: %w", skillApproveFor, err)
			}
		}
		if err := store.Approve(args[0], duration); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "approved: %s\n", args[0])
		return nil
	},
}

var skillDenyCmd = &cobra.Command{
	Use:   "deny <key>",
	Short: "Deny a pending skill-bypass request",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openApprovalStore()
		if err != nil {
			return err
		}
		if err := store.Deny(args[0]); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "denied: %s\n", args[0])
		return nil
	},
}

func loadSkillConfig() (*config.SecurityConfig, error) {
	path := skillConfig
	if path == "" {
		path = defaultConfigPath()
	}
	secCfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load security config: %w", err)
	}
	return secCfg, nil
}

func openApprovalStore() (*approval.Store, error) {
	secCfg, err := loadSkillConfig()
	if err != nil {
		return nil, err
	}
	dir := secCfg.Skills.PendingDir
	if dir == "" {
		dir = approval.DefaultDir()
	}
	return approval.NewStore(dir)
}

// buildSkillVerifier assembles the verifier the way the servers do:
// red-flag rules always, semantic inspector when an analyzer URL is
// configured, approvals bridged through the pending store.
func buildSkillVerifier(secCfg *config.SecurityConfig) (*skill.Verifier, func(), error) {
	bus := audit.NewBus()
	cleanup := func() {}
	if logPath := auditLogPath(secCfg); logPath != "" {
		auditLog, err := audit.OpenLog(logPath)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open audit log: %w", err)
		}
		bus.Subscribe(auditLog.Listener())
		cleanup = func() { auditLog.Close() }
	}

	pendingDir := secCfg.Skills.PendingDir
	if pendingDir == "" {
		pendingDir = approval.DefaultDir()
	}
	approvals, err := approval.NewStore(pendingDir)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("failed to create approval store: %w", err)
	}

	var inspector *skill.Inspector
	if secCfg.Analyzer.URL != "" {
		inspector = skill.NewInspector(analyzer.NewHTTPProvider(
			secCfg.Analyzer.URL,
			secCfg.Analyzer.APIKey,
			secCfg.Analyzer.Model,
			time.Duration(secCfg.Analyzer.TimeoutSeconds)*time.Second,
		))
	}

	verifier := skill.NewVerifier(skill.Config{
		RequireVerification: secCfg.Skills.RequireVerification,
		TrustedSkills:       secCfg.Skills.Trusted,
		BundledDir:          secCfg.Skills.BundledDir,
		TrustBundled:        secCfg.Skills.TrustBundled,
		QuickCheckOnly:      secCfg.Skills.QuickCheckOnly,
	}, inspector, skill.StoreApprover(approvals), nil, bus)
	return verifier, cleanup, nil
}
