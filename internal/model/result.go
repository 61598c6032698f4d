package model

// ScanResult is the output of the pattern pre-filter.
// The heuristic tier never blocks on its own — it informs escalation.
// Only the critical tier may set ShouldBlockImmediately.
type ScanResult struct {
	Detected               bool     `json:"detected"`
	Patterns               []string `json:"patterns"`
	Severity               Severity `json:"severity"`
	Score                  int      `json:"score"`
	ShouldBlockImmediately bool     `json:"should_block_immediately"`
}

// Intent values the semantic analyzer may report. Anything outside
// this list is coerced to IntentUnknown.
type Intent string

const (
	IntentBenign       Intent = "benign"
	IntentProbing      Intent = "probing"
	IntentInjection    Intent = "injection"
	IntentExfiltration Intent = "exfiltration"
	IntentManipulation Intent = "manipulation"
	IntentUnknown      Intent = "unknown"
)

// ParseIntent coerces an arbitrary model-supplied string to the closed set.
func ParseIntent(s string) Intent {
	switch Intent(s) {
	case IntentBenign, IntentProbing, IntentInjection, IntentExfiltration, IntentManipulation:
		return Intent(s)
	default:
		return IntentUnknown
	}
}

// Category values the semantic analyzer may report.
type Category string

const (
	CategoryNone                Category = "none"
	CategoryInstructionOverride Category = "instruction_override"
	CategoryRoleHijack          Category = "role_hijack"
	CategoryPromptExfil         Category = "prompt_exfiltration"
	CategoryDataExfil           Category = "data_exfiltration"
	CategoryCodeExecution       Category = "code_execution"
	CategoryObfuscation         Category = "obfuscation"
	CategorySocialEngineering   Category = "social_engineering"
	CategoryOther               Category = "other"
)

// ParseCategory coerces an arbitrary model-supplied string to the closed set.
func ParseCategory(s string) Category {
	switch Category(s) {
	case CategoryNone, CategoryInstructionOverride, CategoryRoleHijack,
		CategoryPromptExfil, CategoryDataExfil, CategoryCodeExecution,
		CategoryObfuscation, CategorySocialEngineering:
		return Category(s)
	default:
		return CategoryOther
	}
}

// AnalysisResult is the semantic analyzer verdict after threshold mapping.
type AnalysisResult struct {
	Safe        bool     `json:"safe"`
	RiskLevel   Severity `json:"risk_level"`
	Intent      Intent   `json:"intent"`
	Category    Category `json:"category"`
	Explanation string   `json:"explanation"`
	ShouldBlock bool     `json:"should_block"`
	ShouldWarn  bool     `json:"should_warn"`
	Aborted     bool     `json:"aborted,omitempty"`
	Degraded    bool     `json:"degraded,omitempty"`
}

// DegradedResult is the verdict used when the analyzer's reply cannot
// be trusted (transport error, timeout, malformed output). Ambiguity
// warns — it never silently passes and never blocks.
func DegradedResult(reason string) AnalysisResult {
	return AnalysisResult{
		Safe:        false,
		RiskLevel:   SeverityMedium,
		Intent:      IntentUnknown,
		Category:    CategoryOther,
		Explanation: reason,
		ShouldBlock: false,
		ShouldWarn:  true,
		Degraded:    true,
	}
}

// AbortedResult is the verdict for a cancelled analysis call.
// Cancellation never resolves to a false "safe".
func AbortedResult() AnalysisResult {
	r := DegradedResult("analysis aborted before completion")
	r.Aborted = true
	return r
}

// GateResult is the dispatch-facing security gate contract.
type GateResult struct {
	Allowed             bool            `json:"allowed"`
	Blocked             bool            `json:"blocked"`
	BlockReason         string          `json:"block_reason,omitempty"`
	AlertMessage        string          `json:"alert_message,omitempty"`
	Source              ContentSource   `json:"source"`
	TrustLevel          TrustLevel      `json:"trust_level"`
	QuickFilterPatterns []string        `json:"quick_filter_patterns,omitempty"`
	LLMAnalysis         *AnalysisResult `json:"llm_analysis,omitempty"`
	// Content is the (possibly sanitized and wrapped) text safe for
	// downstream use. Empty when Blocked.
	Content string `json:"content,omitempty"`
}
