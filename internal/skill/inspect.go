package skill

import (
	"context"
	"fmt"
	"strings"

	"github.com/AIDilloBot/trustgate/internal/analyzer"
	"github.com/AIDilloBot/trustgate/internal/model"
)

// skillTaxonomy replaces the inbound-content vocabulary with terms
// tuned for extension source text.
const skillTaxonomy = "hidden instructions directed at the agent, instruction override, " +
	"credential or environment-variable exfiltration, remote code download and execution, " +
	"destructive filesystem or system commands, obfuscated payloads, backdoored tool definitions"

// Inspector escalates a skill's content to the semantic analyzer using
// the same hardened boundary protocol as inbound content analysis.
type Inspector struct {
	an *analyzer.Analyzer
}

// NewInspector wraps a provider for skill inspection. A nil provider
// yields an inspector that is not Ready.
func NewInspector(provider analyzer.Provider) *Inspector {
	return &Inspector{an: analyzer.New(provider, analyzer.Config{
		BlockAt:  model.SeverityHigh,
		WarnAt:   model.SeverityMedium,
		Taxonomy: skillTaxonomy,
	})}
}

// Ready reports whether a provider is configured.
func (i *Inspector) Ready() bool { return i != nil && i.an.Ready() }

// Inspect runs full semantic inspection of the skill text.
func (i *Inspector) Inspect(ctx context.Context, s Skill) *InspectionResult {
	var b strings.Builder
	b.WriteString("Skill name: " + s.Name + "\n")
	if s.Description != "" {
		b.WriteString("Description: " + s.Description + "\n")
	}
	b.WriteString("Instructions:\n")
	b.WriteString(s.Instructions)

	res := i.an.Analyze(ctx, b.String(), "skill:"+s.Name)

	ins := &InspectionResult{
		RiskLevel:     res.RiskLevel,
		BypassAllowed: res.RiskLevel < model.SeverityCritical,
	}
	switch {
	case res.Aborted:
		ins.RiskLevel = model.MaxSeverity(ins.RiskLevel, model.SeverityMedium)
		ins.Summary = "inspection aborted before a verdict"
		ins.Findings = []string{"inspection_aborted"}
	case res.Degraded:
		ins.RiskLevel = model.MaxSeverity(ins.RiskLevel, model.SeverityMedium)
		ins.Summary = fmt.Sprintf("inspection degraded: %s", res.Explanation)
		ins.Findings = []string{"inspection_degraded"}
	case res.Safe:
		ins.Summary = "no malicious content found"
	default:
		ins.Summary = res.Explanation
		if res.Category != model.CategoryNone {
			ins.Findings = append(ins.Findings, string(res.Category))
		}
		if res.Intent != model.IntentBenign && res.Intent != model.IntentUnknown {
			ins.Findings = append(ins.Findings, "intent:"+string(res.Intent))
		}
	}
	return ins
}
