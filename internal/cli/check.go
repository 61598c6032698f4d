package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/AIDilloBot/trustgate/internal/analyzer"
	"github.com/AIDilloBot/trustgate/internal/audit"
	"github.com/AIDilloBot/trustgate/internal/config"
	"github.com/AIDilloBot/trustgate/internal/gate"
	"github.com/AIDilloBot/trustgate/internal/model"
	"github.com/AIDilloBot/trustgate/internal/prefilter"
)

var (
	checkConfig     string
	checkSessionKey string
	checkSender     string
	checkChannel    string
	checkAnalyze    bool
	checkFormat     string
)

func init() {
	rootCmd.AddCommand(checkCmd)
	checkCmd.Flags().StringVar(&checkConfig, "config", "", "Path to security config YAML (default ~/.trustgate/config.yaml)")
	checkCmd.Flags().StringVar(&checkSessionKey, "session-key", "", "Session key identifying the content source (e.g. webhook:github)")
	checkCmd.Flags().StringVar(&checkSender, "sender", "", "Sender identifier for the audit trail")
	checkCmd.Flags().StringVar(&checkChannel, "channel", "", "Channel hint (email|webhook|web|skill)")
	checkCmd.Flags().BoolVar(&checkAnalyze, "analyze", true, "Allow semantic analysis escalation")
	checkCmd.Flags().StringVarP(&checkFormat, "format", "f", "text", "Output format (text|json)")
}

var checkCmd = &cobra.Command{
	Use:   "check [content]",
	Short: "Run content through the security gate",
	Long: "Evaluates one message through the inbound pipeline: source\n" +
		"classification, pattern pre-filter, and optional semantic analysis.\n\n" +
		"Content is read from the argument, or from stdin when omitted.\n" +
		"Exit code 0 when allowed, 1 when blocked.",
	Args: cobra.MaximumNArgs(1),
	RunE: runCheck,
}

func runCheck(cmd *cobra.Command, args []string) error {
	content, err := contentFromArgsOrStdin(args)
	if err != nil {
		return err
	}

	g, cleanup, err := buildGate(checkConfig)
	if err != nil {
		return err
	}
	defer cleanup()

	res := g.Run(context.Background(), gate.Request{
		Content:        content,
		SessionKey:     checkSessionKey,
		SenderID:       checkSender,
		Channel:        checkChannel,
		EnableAnalysis: checkAnalyze,
	})

	switch checkFormat {
	case "json":
		out, err := json.MarshalIndent(res, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
	default:
		printCheckResult(res)
	}

	if res.Blocked {
		cleanup()
		os.Exit(1)
	}
	return nil
}

func printCheckResult(res model.GateResult) {
	verdict := "ALLOW"
	if res.Blocked {
		verdict = "BLOCK"
	}
	fmt.Fprintf(os.Stderr, "%s  source=%s trust=%s\n", verdict, res.Source, res.TrustLevel)
	if len(res.QuickFilterPatterns) > 0 {
		fmt.Fprintf(os.Stderr, "patterns: %v\n", res.QuickFilterPatterns)
	}
	if res.LLMAnalysis != nil {
		fmt.Fprintf(os.Stderr, "analysis: risk=%s intent=%s category=%s\n",
			res.LLMAnalysis.RiskLevel, res.LLMAnalysis.Intent, res.LLMAnalysis.Category)
	}
	if res.AlertMessage != "" {
		fmt.Fprintf(os.Stderr, "%s\n", res.AlertMessage)
	}
	if !res.Blocked {
		fmt.Println(res.Content)
	}
}

// buildGate assembles the inbound pipeline from the security config.
// The returned cleanup closes the audit log.
func buildGate(configPath string) (*gate.Gate, func(), error) {
	if configPath == "" {
		configPath = defaultConfigPath()
	}
	secCfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load security config: %w", err)
	}

	filter, err := prefilter.Load(secCfg.Injection.PatternsPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load filter patterns: %w", err)
	}

	var an *analyzer.Analyzer
	if secCfg.Analyzer.URL != "" {
		provider := analyzer.NewHTTPProvider(
			secCfg.Analyzer.URL,
			secCfg.Analyzer.APIKey,
			secCfg.Analyzer.Model,
			time.Duration(secCfg.Analyzer.TimeoutSeconds)*time.Second,
		)
		an = analyzer.New(provider, analyzer.Config{
			BlockAt: model.ParseSeverity(secCfg.Analyzer.BlockAt),
			WarnAt:  model.ParseSeverity(secCfg.Analyzer.WarnAt),
		})
	}

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

	return gate.New(gate.NewOrchestrator(secCfg.Injection, filter, an, bus), bus), cleanup, nil
}

// auditLogPath resolves the audit log location, defaulting under the
// user's home.
func auditLogPath(secCfg *config.SecurityConfig) string {
	if secCfg.Audit.LogPath != "" {
		return secCfg.Audit.LogPath
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".trustgate", "audit.jsonl")
}

// contentFromArgsOrStdin reads the text to process from the first
// argument, or stdin when none is given.
func contentFromArgsOrStdin(args []string) (string, error) {
	if len(args) > 0 {
		return args[0], nil
	}
	raw, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", fmt.Errorf("failed to read stdin: %w", err)
	}
	return string(raw), nil
}
