package mcp

import (
	"context"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/AIDilloBot/trustgate/internal/audit"
	"github.com/AIDilloBot/trustgate/internal/gate"
	"github.com/AIDilloBot/trustgate/internal/model"
	"github.com/AIDilloBot/trustgate/internal/redact"
	"github.com/AIDilloBot/trustgate/internal/skill"
)

// --- Input/Output types ---

// CheckInput defines parameters for the trustgate_check tool.
type CheckInput struct {
	Content        string `json:"content" jsonschema:"inbound content to evaluate"`
	SessionKey     string `json:"session_key" jsonschema:"session or connection key identifying the content origin"`
	SenderID       string `json:"sender_id,omitempty" jsonschema:"sender identifier for audit records"`
	Channel        string `json:"channel,omitempty" jsonschema:"channel hint (telegram/discord/email/...)"`
	EnableAnalysis bool   `json:"enable_analysis,omitempty" jsonschema:"permit semantic analyzer escalation"`
}

// CheckOutput contains the gate verdict.
type CheckOutput struct {
	Allowed             bool     `json:"allowed"`
	Blocked             bool     `json:"blocked"`
	BlockReason         string   `json:"block_reason,omitempty"`
	AlertMessage        string   `json:"alert_message,omitempty"`
	Source              string   `json:"source"`
	TrustLevel          string   `json:"trust_level"`
	QuickFilterPatterns []string `json:"quick_filter_patterns,omitempty"`
	Content             string   `json:"content,omitempty"`
}

// FilterOutputInput defines parameters for the trustgate_filter_output tool.
type FilterOutputInput struct {
	Text string `json:"text" jsonschema:"agent-generated text to scan"`
}

// FilterOutputOutput contains the redacted text and fired categories.
type FilterOutputOutput struct {
	Text       string   `json:"text"`
	Redacted   bool     `json:"redacted"`
	Categories []string `json:"categories,omitempty"`
}

// VerifySkillInput defines parameters for the trustgate_verify_skill tool.
type VerifySkillInput struct {
	Name         string `json:"name" jsonschema:"skill name"`
	Description  string `json:"description,omitempty" jsonschema:"skill description"`
	Instructions string `json:"instructions" jsonschema:"skill instruction/source text"`
	SourcePath   string `json:"source_path,omitempty" jsonschema:"path the skill is being installed from"`
}

// VerifySkillOutput contains the install decision.
type VerifySkillOutput struct {
	Approved  bool     `json:"approved"`
	Bypassed  bool     `json:"bypassed"`
	Message   string   `json:"message"`
	RiskLevel string   `json:"risk_level,omitempty"`
	Findings  []string `json:"findings,omitempty"`
	Summary   string   `json:"summary,omitempty"`
}

// AuditTailInput defines parameters for the trustgate_audit_tail tool.
type AuditTailInput struct {
	Limit int `json:"limit,omitempty" jsonschema:"number of events to return (default 20)"`
}

// AuditTailOutput lists recent audit events.
type AuditTailOutput struct {
	Events []audit.Event `json:"events"`
}

// --- Handlers ---

func (s *Server) handleCheck(ctx context.Context, req *mcpsdk.CallToolRequest, input CheckInput) (*mcpsdk.CallToolResult, CheckOutput, error) {
	res := s.gate.Run(ctx, gate.Request{
		Content:        input.Content,
		SessionKey:     input.SessionKey,
		SenderID:       input.SenderID,
		Channel:        input.Channel,
		EnableAnalysis: input.EnableAnalysis,
	})

	out := CheckOutput{
		Allowed:             res.Allowed,
		Blocked:             res.Blocked,
		BlockReason:         res.BlockReason,
		AlertMessage:        res.AlertMessage,
		Source:              string(res.Source),
		TrustLevel:          string(res.TrustLevel),
		QuickFilterPatterns: res.QuickFilterPatterns,
		Content:             res.Content,
	}
	if res.Blocked {
		return &mcpsdk.CallToolResult{IsError: true}, out, nil
	}
	return nil, out, nil
}

func (s *Server) handleFilterOutput(ctx context.Context, req *mcpsdk.CallToolRequest, input FilterOutputInput) (*mcpsdk.CallToolResult, FilterOutputOutput, error) {
	if !s.cfg.Output.RedactionEnabled {
		return nil, FilterOutputOutput{Text: input.Text}, nil
	}

	res := redact.Filter(input.Text)
	if res.Redacted {
		ev := audit.NewEvent(audit.EventOutputRedacted, model.SeverityMedium, input.Text)
		ev.Detail = map[string]string{"categories": joinCategories(res.Categories)}
		s.bus.Emit(ev)
	}

	out := FilterOutputOutput{
		Text:     res.Text,
		Redacted: res.Redacted,
	}
	for _, c := range res.Categories {
		out.Categories = append(out.Categories, string(c))
	}
	return nil, out, nil
}

func (s *Server) handleVerifySkill(ctx context.Context, req *mcpsdk.CallToolRequest, input VerifySkillInput) (*mcpsdk.CallToolResult, VerifySkillOutput, error) {
	res := s.verifier.Verify(ctx, skill.Skill{
		Name:         input.Name,
		Description:  input.Description,
		Instructions: input.Instructions,
	}, input.SourcePath)

	out := VerifySkillOutput{
		Approved: res.Approved,
		Bypassed: res.Bypassed,
		Message:  res.Message,
	}
	if res.Inspection != nil {
		out.RiskLevel = res.Inspection.RiskLevel.String()
		out.Findings = res.Inspection.Findings
		out.Summary = res.Inspection.Summary
	}
	if !res.Approved {
		return &mcpsdk.CallToolResult{IsError: true}, out, nil
	}
	return nil, out, nil
}

func (s *Server) handleAuditTail(ctx context.Context, req *mcpsdk.CallToolRequest, input AuditTailInput) (*mcpsdk.CallToolResult, AuditTailOutput, error) {
	limit := input.Limit
	if limit <= 0 {
		limit = 20
	}

	if s.store != nil {
		events, err := s.store.Recent(limit, "")
		if err != nil {
			return nil, AuditTailOutput{}, err
		}
		return nil, AuditTailOutput{Events: events}, nil
	}

	events, err := audit.Tail(s.logPath, limit)
	if err != nil {
		return nil, AuditTailOutput{}, err
	}
	return nil, AuditTailOutput{Events: events}, nil
}

func joinCategories(cats []redact.Category) string {
	out := ""
	for i, c := range cats {
		if i > 0 {
			out += ","
		}
		out += string(c)
	}
	return out
}
