package prefilter

import (
	"regexp"

	"github.com/AIDilloBot/trustgate/internal/model"
)

// Rule is one heuristic detection pattern. Rules are a static table
// compiled once at init — matching is a fold over the table.
type Rule struct {
	Name     string
	Pattern  *regexp.Regexp
	Severity model.Severity
	Weight   int
	Category model.Category
}

// heuristicRules is the broad scoring tier. These patterns inform
// escalation and sanitization; they never block on their own.
var heuristicRules = []Rule{
	// Instruction override
	{
		Name:     "ignore_previous",
		Pattern:  regexp.MustCompile(`(?i)ignore\s+(?:all\s+)?(?:previous|prior|above|earlier)\s+(?:instructions?|rules?|prompts?|messages?)`),
		Severity: model.SeverityHigh,
		Weight:   40,
		Category: model.CategoryInstructionOverride,
	},
	{
		Name:     "disregard_instructions",
		Pattern:  regexp.MustCompile(`(?i)(?:disregard|forget|override)\s+(?:your|all|any|the)\s+(?:instructions?|rules?|guidelines?|training)`),
		Severity: model.SeverityHigh,
		Weight:   40,
		Category: model.CategoryInstructionOverride,
	},
	{
		Name:     "new_instructions",
		Pattern:  regexp.MustCompile(`(?i)(?:new|updated|real)\s+instructions?\s*(?::|follow|below)`),
		Severity: model.SeverityMedium,
		Weight:   25,
		Category: model.CategoryInstructionOverride,
	},

	// Role hijack
	{
		Name:     "role_hijack",
		Pattern:  regexp.MustCompile(`(?i)you\s+are\s+(?:now|no\s+longer)\s+(?:a|an|the)?\s*\w+`),
		Severity: model.SeverityMedium,
		Weight:   25,
		Category: model.CategoryRoleHijack,
	},
	{
		Name:     "pretend_persona",
		Pattern:  regexp.MustCompile(`(?i)(?:pretend|act\s+as\s+if|imagine)\s+you\s+(?:are|have|can)`),
		Severity: model.SeverityLow,
		Weight:   15,
		Category: model.CategoryRoleHijack,
	},

	// System tag injection
	{
		Name:     "system_tag",
		Pattern:  regexp.MustCompile(`(?i)<\s*/?\s*(?:system|assistant|im_start|im_end)\s*>`),
		Severity: model.SeverityHigh,
		Weight:   35,
		Category: model.CategoryInstructionOverride,
	},
	{
		Name:     "fake_delimiter",
		Pattern:  regexp.MustCompile(`(?i)(?:\[\[|\{\{|<<<|---\s*(?:START|END))\s*(?:SYSTEM|INSTRUCTIONS?|ADMIN)`),
		Severity: model.SeverityHigh,
		Weight:   35,
		Category: model.CategoryInstructionOverride,
	},

	// Prompt exfiltration
	{
		Name:     "reveal_prompt",
		Pattern:  regexp.MustCompile(`(?i)(?:reveal|show|print|repeat|output)\s+(?:your|the)\s+(?:system\s+)?(?:prompt|instructions?)`),
		Severity: model.SeverityHigh,
		Weight:   35,
		Category: model.CategoryPromptExfil,
	},

	// Jailbreak phrasing
	{
		Name:     "jailbreak_dan",
		Pattern:  regexp.MustCompile(`(?i)\b(?:DAN\s+mode|do\s+anything\s+now|developer\s+mode|jailbreak)\b`),
		Severity: model.SeverityHigh,
		Weight:   35,
		Category: model.CategoryRoleHijack,
	},
	{
		Name:     "no_restrictions",
		Pattern:  regexp.MustCompile(`(?i)(?:without|no|free\s+(?:of|from))\s+(?:any\s+)?(?:restrictions?|limitations?|filters?|guidelines?)`),
		Severity: model.SeverityMedium,
		Weight:   20,
		Category: model.CategoryRoleHijack,
	},

	// Destructive commands
	{
		Name:     "destructive_rm",
		Pattern:  regexp.MustCompile(`(?i)rm\s+-[a-z]*rf?\s+[/~]`),
		Severity: model.SeverityHigh,
		Weight:   35,
		Category: model.CategoryCodeExecution,
	},
	{
		Name:     "destructive_disk",
		Pattern:  regexp.MustCompile(`(?i)\b(?:mkfs|dd\s+if=.*of=/dev/|shred\s)`),
		Severity: model.SeverityHigh,
		Weight:   35,
		Category: model.CategoryCodeExecution,
	},
	{
		Name:     "pipe_to_shell",
		Pattern:  regexp.MustCompile(`(?i)(?:curl|wget)\s+[^\n|]*\|\s*(?:sudo\s+)?(?:ba)?sh\b`),
		Severity: model.SeverityHigh,
		Weight:   35,
		Category: model.CategoryCodeExecution,
	},

	// Encoded payloads
	{
		Name:     "base64_payload",
		Pattern:  regexp.MustCompile(`\b[A-Za-z0-9+/]{80,}={0,2}\b`),
		Severity: model.SeverityMedium,
		Weight:   20,
		Category: model.CategoryObfuscation,
	},
	{
		Name:     "hex_escapes",
		Pattern:  regexp.MustCompile(`(?:\\x[0-9a-fA-F]{2}){8,}`),
		Severity: model.SeverityMedium,
		Weight:   20,
		Category: model.CategoryObfuscation,
	},
	{
		Name:     "eval_decode",
		Pattern:  regexp.MustCompile(`(?i)(?:eval|exec)\s*\(\s*(?:atob|base64|b64decode)`),
		Severity: model.SeverityHigh,
		Weight:   30,
		Category: model.CategoryObfuscation,
	},

	// Exfiltration staging
	{
		Name:     "send_credentials",
		Pattern:  regexp.MustCompile(`(?i)(?:send|post|upload|forward)\s+(?:me\s+|all\s+)?(?:your\s+|the\s+)?(?:credentials?|passwords?|secrets?|tokens?|api\s+keys?)`),
		Severity: model.SeverityHigh,
		Weight:   35,
		Category: model.CategoryDataExfil,
	},
}

// Rules returns the built-in heuristic rule table.
func Rules() []Rule {
	return heuristicRules
}
