package trustgate

import (
	"context"
	"fmt"
	"time"

	"github.com/AIDilloBot/trustgate/internal/analyzer"
	"github.com/AIDilloBot/trustgate/internal/audit"
	"github.com/AIDilloBot/trustgate/internal/config"
	"github.com/AIDilloBot/trustgate/internal/gate"
	"github.com/AIDilloBot/trustgate/internal/model"
	"github.com/AIDilloBot/trustgate/internal/prefilter"
	"github.com/AIDilloBot/trustgate/internal/redact"
)

// Client holds the inbound and outbound pipelines for in-process
// screening. Safe for concurrent use.
type Client struct {
	cfg      clientConfig
	secCfg   *config.SecurityConfig
	gate     *gate.Gate
	auditLog *audit.Log
}

// New creates a Client with the given options.
func New(opts ...Option) (*Client, error) {
	var cfg clientConfig
	for _, o := range opts {
		o(&cfg)
	}

	secCfg, err := config.LoadConfig(cfg.configPath)
	if err != nil {
		return nil, fmt.Errorf("trustgate: failed to load security config: %w", err)
	}

	filter, err := prefilter.Load(secCfg.Injection.PatternsPath)
	if err != nil {
		return nil, fmt.Errorf("trustgate: failed to load filter patterns: %w", err)
	}

	var an *analyzer.Analyzer
	if !cfg.disableModel && secCfg.Analyzer.URL != "" {
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
	var auditLog *audit.Log
	if secCfg.Audit.LogPath != "" {
		auditLog, err = audit.OpenLog(secCfg.Audit.LogPath)
		if err != nil {
			return nil, fmt.Errorf("trustgate: failed to open audit log: %w", err)
		}
		bus.Subscribe(auditLog.Listener())
	}

	return &Client{
		cfg:      cfg,
		secCfg:   secCfg,
		gate:     gate.New(gate.NewOrchestrator(secCfg.Injection, filter, an, bus), bus),
		auditLog: auditLog,
	}, nil
}

// Check runs one message through the inbound gate.
func (c *Client) Check(ctx context.Context, msg Message) Result {
	return fromGateResult(c.gate.Run(ctx, gate.Request{
		Content:        msg.Content,
		SessionKey:     msg.SessionKey,
		SenderID:       msg.SenderID,
		Channel:        msg.Channel,
		EnableAnalysis: !c.cfg.disableModel,
	}))
}

// FilterOutput redacts credentials from outbound text. Returns the
// filtered text and the categories that fired.
func (c *Client) FilterOutput(text string) (string, []string) {
	if c.cfg.disableOutput || !c.secCfg.Output.RedactionEnabled {
		return text, nil
	}
	res := redact.Filter(text)
	var cats []string
	for _, cat := range res.Categories {
		cats = append(cats, string(cat))
	}
	return res.Text, cats
}

// Close releases the audit log.
func (c *Client) Close() error {
	if c.auditLog != nil {
		return c.auditLog.Close()
	}
	return nil
}
