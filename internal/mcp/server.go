// Package mcp exposes the trust boundary as MCP tools over stdio, so
// agent runtimes can call the gate, output filter, and skill verifier
// without linking the module.
package mcp

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/AIDilloBot/trustgate/internal/alert"
	"github.com/AIDilloBot/trustgate/internal/analyzer"
	"github.com/AIDilloBot/trustgate/internal/approval"
	"github.com/AIDilloBot/trustgate/internal/audit"
	"github.com/AIDilloBot/trustgate/internal/config"
	"github.com/AIDilloBot/trustgate/internal/gate"
	"github.com/AIDilloBot/trustgate/internal/model"
	"github.com/AIDilloBot/trustgate/internal/prefilter"
	"github.com/AIDilloBot/trustgate/internal/skill"
)

// Config holds MCP server configuration.
type Config struct {
	ConfigPath string
}

// Server wraps the MCP SDK server around the security pipeline.
type Server struct {
	mcpServer  *mcpsdk.Server
	cfg        *config.SecurityConfig
	configHash string
	gate       *gate.Gate
	verifier   *skill.Verifier
	bus        *audit.Bus
	auditLog   *audit.Log
	store      *audit.Store
	logPath    string
}

// New creates an MCP server with the pipeline assembled from the
// security config.
func New(cfg Config) (*Server, error) {
	secCfg, hash, err := config.LoadConfigWithHash(cfg.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load security config: %w", err)
	}

	filter, err := prefilter.Load(secCfg.Injection.PatternsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load filter patterns: %w", err)
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

	logPath := secCfg.Audit.LogPath
	if logPath == "" {
		home, err := os.UserHomeDir()
		if err == nil {
			logPath = filepath.Join(home, ".trustgate", "audit.jsonl")
		}
	}
	var auditLog *audit.Log
	if logPath != "" {
		auditLog, err = audit.OpenLog(logPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open audit log: %w", err)
		}
		bus.Subscribe(auditLog.Listener())
	}

	var store *audit.Store
	if secCfg.Audit.DBPath != "" {
		store, err = audit.OpenStore(secCfg.Audit.DBPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open audit store: %w", err)
		}
		bus.Subscribe(store.Listener())
	}

	if secCfg.Audit.Webhook.URL != "" {
		dispatcher := alert.NewDispatcher([]alert.Config{{
			URL:     secCfg.Audit.Webhook.URL,
			Format:  secCfg.Audit.Webhook.Format,
			Events:  secCfg.Audit.Webhook.Events,
			Headers: secCfg.Audit.Webhook.Headers,
		}})
		bus.Subscribe(dispatcher.Listener())
	}

	pendingDir := secCfg.Skills.PendingDir
	if pendingDir == "" {
		pendingDir = approval.DefaultDir()
	}
	approvals, err := approval.NewStore(pendingDir)
	if err != nil {
		return nil, fmt.Errorf("failed to create approval store: %w", err)
	}

	var inspector *skill.Inspector
	if an.Ready() {
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

	s := &Server{
		cfg:        secCfg,
		configHash: hash,
		gate:       gate.New(gate.NewOrchestrator(secCfg.Injection, filter, an, bus), bus),
		verifier:   verifier,
		bus:        bus,
		auditLog:   auditLog,
		store:      store,
		logPath:    logPath,
	}

	s.mcpServer = mcpsdk.NewServer(
		&mcpsdk.Implementation{
			Name:    "trustgate",
			Version: "0.1.0",
		},
		nil,
	)

	s.registerTools()
	return s, nil
}

// Run starts the MCP server on stdio transport. Blocks until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	return s.mcpServer.Run(ctx, &mcpsdk.StdioTransport{})
}

// Close releases the audit sinks.
func (s *Server) Close() error {
	if s.store != nil {
		s.store.Close()
	}
	if s.auditLog != nil {
		return s.auditLog.Close()
	}
	return nil
}

// registerTools adds all trustgate tools to the MCP server.
func (s *Server) registerTools() {
	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "trustgate_check",
		Description: "Run inbound content through the security gate. Returns the verdict; blocked content must not be forwarded to the agent.",
	}, s.handleCheck)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "trustgate_filter_output",
		Description: "Scan agent-generated text for leaked secrets, prompts, and paths; returns the text with redaction markers applied.",
	}, s.handleFilterOutput)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "trustgate_verify_skill",
		Description: "Verify an extension before installation. Flagged skills can be approved later via the pending-approvals CLI.",
	}, s.handleVerifySkill)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "trustgate_audit_tail",
		Description: "Return the most recent security audit events.",
	}, s.handleAuditTail)
}
