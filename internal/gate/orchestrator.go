// Package gate composes the classifier, pre-filter, and semantic
// analyzer into one verdict and exposes the boundary the dispatch
// layer calls before content may reach the agent.
package gate

import (
	"context"
	"fmt"
	"strings"

	"github.com/AIDilloBot/trustgate/internal/analyzer"
	"github.com/AIDilloBot/trustgate/internal/audit"
	"github.com/AIDilloBot/trustgate/internal/config"
	"github.com/AIDilloBot/trustgate/internal/model"
	"github.com/AIDilloBot/trustgate/internal/prefilter"
	"github.com/AIDilloBot/trustgate/internal/source"
)

// Action is what the pipeline decided to do with the content.
type Action string

const (
	ActionAllow    Action = "allow"
	ActionWarn     Action = "warn"
	ActionSanitize Action = "sanitize"
	ActionBlock    Action = "block"
)

// Verdict is the orchestrator's decision for one piece of content.
type Verdict struct {
	Action       Action
	Source       model.ContentSource
	Trust        model.TrustLevel
	Content      string // sanitized and wrapped; empty when blocked
	BlockReason  string
	QuickFilter  model.ScanResult
	Analysis     *model.AnalysisResult
	SanitizedFor []string
}

// Orchestrator runs the inbound content-security pipeline.
type Orchestrator struct {
	cfg    config.InjectionConfig
	filter *prefilter.Filter
	an     *analyzer.Analyzer
	bus    *audit.Bus
}

// NewOrchestrator wires the pipeline. filter must be non-nil; an and
// bus may be nil.
func NewOrchestrator(cfg config.InjectionConfig, filter *prefilter.Filter, an *analyzer.Analyzer, bus *audit.Bus) *Orchestrator {
	return &Orchestrator{cfg: cfg, filter: filter, an: an, bus: bus}
}

// Process classifies, filters, and (when warranted) escalates one
// inbound message. Policy order: classify → pre-filter always →
// critical literal blocks immediately → semantic analysis only for
// low-trust or flagged content → sanitize or block per thresholds →
// wrap non-direct content in external-content markers.
func (o *Orchestrator) Process(ctx context.Context, content, sessionKey string, hints *source.Hints) Verdict {
	return o.process(ctx, content, sessionKey, hints, true)
}

func (o *Orchestrator) process(ctx context.Context, content, sessionKey string, hints *source.Hints, allowAnalysis bool) Verdict {
	src, trust := source.Classify(sessionKey, hints)

	v := Verdict{Action: ActionAllow, Source: src, Trust: trust, Content: content}
	if !o.cfg.Enabled || o.cfg.Mode == "off" {
		v.Content = wrapExternal(content, src)
		return v
	}

	critical := o.filter.ScanCritical(content)
	if critical.ShouldBlockImmediately {
		v.Action = ActionBlock
		v.Content = ""
		v.QuickFilter = critical
		v.BlockReason = fmt.Sprintf("never-legitimate pattern: %s", strings.Join(critical.Patterns, ", "))
		return v
	}

	quick := o.filter.Scan(content)
	v.QuickFilter = quick

	// Mode caps only the score-derived action. The critical tier above
	// and the analyzer verdict below are never capped.
	action := capAction(o.scoreAction(quick.Score), o.cfg.Mode)

	escalate := trust == model.TrustLow || quick.Severity >= model.SeverityMedium
	if allowAnalysis && escalate && o.an.Ready() {
		res := o.an.Analyze(ctx, content, string(src))
		v.Analysis = &res
		if res.Degraded || res.Aborted {
			ev := audit.NewEvent(audit.EventAnalyzerDegraded, res.RiskLevel, content)
			ev.SessionKey = sessionKey
			ev.Detail = map[string]string{"reason": res.Explanation}
			o.bus.Emit(ev)
		}
		if res.ShouldBlock {
			action = maxAction(action, ActionBlock)
		} else if res.ShouldWarn {
			action = maxAction(action, ActionWarn)
		}
	}

	switch action {
	case ActionBlock:
		v.Action = ActionBlock
		v.Content = ""
		v.BlockReason = blockReason(quick, v.Analysis)
		return v
	case ActionSanitize:
		sanitized, applied := o.filter.Sanitize(content)
		v.Action = ActionSanitize
		v.SanitizedFor = applied
		v.Content = wrapExternal(sanitized, src)
		return v
	case ActionWarn:
		v.Action = ActionWarn
	}

	v.Content = wrapExternal(v.Content, src)
	return v
}

// scoreAction maps the pre-filter's weighted score through the
// configured thresholds.
func (o *Orchestrator) scoreAction(score int) Action {
	switch {
	case score >= o.cfg.BlockThreshold:
		return ActionBlock
	case score >= o.cfg.SanitizeThreshold:
		return ActionSanitize
	case score >= o.cfg.WarnThreshold:
		return ActionWarn
	default:
		return ActionAllow
	}
}

var actionRank = map[Action]int{
	ActionAllow:    0,
	ActionWarn:     1,
	ActionSanitize: 2,
	ActionBlock:    3,
}

func maxAction(a, b Action) Action {
	if actionRank[b] > actionRank[a] {
		return b
	}
	return a
}

// capAction limits the score-derived response to the configured mode.
func capAction(a Action, mode string) Action {
	var limit Action
	switch mode {
	case "warn":
		limit = ActionWarn
	case "sanitize":
		limit = ActionSanitize
	case "block":
		limit = ActionBlock
	default:
		limit = ActionWarn
	}
	if actionRank[a] > actionRank[limit] {
		return limit
	}
	return a
}

func blockReason(quick model.ScanResult, analysis *model.AnalysisResult) string {
	if analysis != nil && analysis.ShouldBlock {
		return fmt.Sprintf("%s (%s): %s", analysis.Intent, analysis.Category, analysis.Explanation)
	}
	if len(quick.Patterns) > 0 {
		return fmt.Sprintf("pattern score %d: %s", quick.Score, strings.Join(quick.Patterns, ", "))
	}
	return "content failed security checks"
}

// wrapExternal marks content from non-direct sources so the agent can
// distinguish data from operator instructions. Direct user input is
// returned unchanged.
func wrapExternal(content string, src model.ContentSource) string {
	if src == model.SourceDirectUser {
		return content
	}
	var b strings.Builder
	b.WriteString("[EXTERNAL_CONTENT source=")
	b.WriteString(string(src))
	b.WriteString("]\n")
	b.WriteString(content)
	b.WriteString("\n[/EXTERNAL_CONTENT]")
	return b.String()
}
