package gate

import (
	"context"
	"fmt"

	"github.com/AIDilloBot/trustgate/internal/audit"
	"github.com/AIDilloBot/trustgate/internal/model"
	"github.com/AIDilloBot/trustgate/internal/source"
)

// Request is one inbound message presented at the gate.
type Request struct {
	Content    string
	SessionKey string
	SenderID   string
	Channel    string
	// EnableAnalysis permits semantic escalation for this request.
	// When false the gate runs on pattern rules alone.
	EnableAnalysis bool
}

// Gate is the boundary the dispatch layer calls. On block it
// guarantees the content never reaches the agent and synthesizes a
// user-visible alert for the reply channel.
type Gate struct {
	orch *Orchestrator
	bus  *audit.Bus
}

// New creates a Gate over an orchestrator.
func New(orch *Orchestrator, bus *audit.Bus) *Gate {
	return &Gate{orch: orch, bus: bus}
}

// Run evaluates one message and returns the dispatch contract result.
// When Blocked is set, Content is empty and AlertMessage carries the
// user-visible explanation.
func (g *Gate) Run(ctx context.Context, req Request) model.GateResult {
	hints := &source.Hints{Channel: req.Channel}
	v := g.orch.process(ctx, req.Content, req.SessionKey, hints, req.EnableAnalysis)

	res := model.GateResult{
		Allowed:             v.Action != ActionBlock,
		Blocked:             v.Action == ActionBlock,
		Source:              v.Source,
		TrustLevel:          v.Trust,
		QuickFilterPatterns: v.QuickFilter.Patterns,
		LLMAnalysis:         v.Analysis,
		Content:             v.Content,
	}

	switch v.Action {
	case ActionBlock:
		res.BlockReason = v.BlockReason
		res.AlertMessage = alertMessage(v)
		g.emit(audit.EventContentBlocked, req, v, severityOf(v))
	case ActionSanitize:
		g.emit(audit.EventContentSanitized, req, v, v.QuickFilter.Severity)
	case ActionWarn:
		res.AlertMessage = alertMessage(v)
		g.emit(audit.EventContentWarned, req, v, severityOf(v))
	}

	return res
}

func (g *Gate) emit(typ audit.EventType, req Request, v Verdict, sev model.Severity) {
	ev := audit.NewEvent(typ, sev, req.Content)
	ev.SessionKey = req.SessionKey
	ev.SenderID = req.SenderID
	ev.Channel = req.Channel
	ev.Detail = map[string]string{
		"source": string(v.Source),
		"trust":  string(v.Trust),
	}
	if len(v.QuickFilter.Patterns) > 0 {
		ev.Detail["patterns"] = fmt.Sprint(v.QuickFilter.Patterns)
	}
	if v.BlockReason != "" {
		ev.Detail["reason"] = v.BlockReason
	}
	g.bus.Emit(ev)
}

// severityOf picks the strongest severity the pipeline saw.
func severityOf(v Verdict) model.Severity {
	sev := v.QuickFilter.Severity
	if v.Analysis != nil {
		sev = model.MaxSeverity(sev, v.Analysis.RiskLevel)
	}
	if v.Action == ActionBlock {
		sev = model.MaxSeverity(sev, model.SeverityHigh)
	}
	return sev
}

// alertMessage builds the user-visible security notice delivered
// through the reply channel in place of the agent's answer.
func alertMessage(v Verdict) string {
	sev := severityOf(v)
	switch v.Action {
	case ActionBlock:
		msg := fmt.Sprintf("Security alert: a %s message was blocked (risk: %s", v.Source, sev)
		if v.Analysis != nil && v.Analysis.Category != model.CategoryNone && v.Analysis.Category != model.CategoryOther {
			msg += fmt.Sprintf(", category: %s", v.Analysis.Category)
		}
		msg += ")."
		if v.Analysis != nil && v.Analysis.Explanation != "" {
			msg += " " + v.Analysis.Explanation
		} else if v.BlockReason != "" {
			msg += " " + v.BlockReason
		}
		return msg
	case ActionWarn:
		msg := fmt.Sprintf("Security notice: a %s message looks suspicious (risk: %s).", v.Source, sev)
		if v.Analysis != nil && v.Analysis.Explanation != "" {
			msg += " " + v.Analysis.Explanation
		}
		return msg
	default:
		return ""
	}
}
