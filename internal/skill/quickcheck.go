package skill

import (
	"fmt"
	"regexp"

	"github.com/AIDilloBot/trustgate/internal/model"
)

// redFlag is one narrow quick-check rule for extension content. The
// set stays small on purpose: this tier exists to catch the patterns
// that are near-certain abuse in a skill, not to approximate the full
// inspector.
type redFlag struct {
	name     string
	pattern  *regexp.Regexp
	severity model.Severity
}

var redFlags = []redFlag{
	{
		name:     "instruction_override",
		pattern:  regexp.MustCompile(`(?i)ignore\s+(all\s+)?(previous|prior|above|earlier)\s+(instructions?|prompts?|rules?)`),
		severity: model.SeverityHigh,
	},
	{
		name:     "hidden_agent_directive",
		pattern:  regexp.MustCompile(`(?i)(do\s+not\s+(tell|inform|mention)\s+(the\s+)?user|without\s+the\s+user('s)?\s+knowledge)`),
		severity: model.SeverityHigh,
	},
	{
		name:     "jailbreak_phrasing",
		pattern:  regexp.MustCompile(`(?i)(jailbreak|DAN\s+mode|developer\s+mode|no\s+(restrictions|limitations|filters))`),
		severity: model.SeverityHigh,
	},
	{
		name:     "remote_exec_pipe",
		pattern:  regexp.MustCompile(`(?i)(curl|wget)[^\n|;]*\|\s*(sudo\s+)?(ba)?sh`),
		severity: model.SeverityCritical,
	},
	{
		name:     "dynamic_exec",
		pattern:  regexp.MustCompile(`(?i)(\beval\s*\(|\bexec\s*\(|child_process|subprocess\.(run|call|Popen)|os\.system)`),
		severity: model.SeverityMedium,
	},
	{
		name:     "destructive_fs",
		pattern:  regexp.MustCompile(`(?i)(rm\s+-rf\s+[/~]|mkfs\.|dd\s+if=.*of=/dev/|:\(\)\s*\{.*\|.*&\s*\}\s*;)`),
		severity: model.SeverityCritical,
	},
	{
		name:     "credential_env_reference",
		pattern:  regexp.MustCompile(`(?i)(AWS_SECRET_ACCESS_KEY|OPENAI_API_KEY|ANTHROPIC_API_KEY|GITHUB_TOKEN|process\.env\.\w*(KEY|TOKEN|SECRET)|os\.environ\[[^\]]*(KEY|TOKEN|SECRET))`),
		severity: model.SeverityHigh,
	},
	{
		name:     "secret_exfil_phrase",
		pattern:  regexp.MustCompile(`(?i)(send|post|upload|forward)\s+[^\n.]{0,40}(credential|token|api\s*key|password|secret)s?\s+to\s+`),
		severity: model.SeverityCritical,
	},
}

// quickCheck runs the red-flag rules against the skill's content and
// returns an inspection-shaped result so callers resolve it the same
// way as a full verdict.
func quickCheck(s Skill) *InspectionResult {
	content := s.Name + "\n" + s.Description + "\n" + s.Instructions

	res := &InspectionResult{RiskLevel: model.SeverityNone, BypassAllowed: true}
	for _, f := range redFlags {
		if f.pattern.MatchString(content) {
			res.Findings = append(res.Findings, f.name)
			res.RiskLevel = model.MaxSeverity(res.RiskLevel, f.severity)
		}
	}
	if len(res.Findings) == 0 {
		res.Summary = "no red flags"
		return res
	}
	res.Summary = fmt.Sprintf("quick check flagged: %s", res.Findings[0])
	if len(res.Findings) > 1 {
		res.Summary = fmt.Sprintf("quick check flagged %d patterns, first: %s", len(res.Findings), res.Findings[0])
	}
	res.BypassAllowed = res.RiskLevel < model.SeverityCritical
	return res
}
