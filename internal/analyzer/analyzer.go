// Package analyzer is the escalation path for low-trust or rule-flagged
// content: an out-of-band model call with hardened prompt boundaries
// and a strictly parsed verdict.
//
// Failure policy is fail-open-with-warning. Transport errors, timeouts,
// and malformed replies resolve to a medium-risk warning — blocking on
// transport noise would hand an attacker a denial-of-service lever,
// and passing silently would defeat the mechanism.
package analyzer

import (
	"context"
	"errors"

	"github.com/AIDilloBot/trustgate/internal/model"
)

const defaultTaxonomy = "prompt injection, instruction override, role hijacking, " +
	"system prompt exfiltration, data exfiltration, obfuscated payloads, " +
	"social engineering of the agent"

// Config holds the threshold mapping applied to the model's verdict.
type Config struct {
	// BlockAt is the minimum risk level that sets ShouldBlock.
	BlockAt model.Severity
	// WarnAt is the minimum risk level that sets ShouldWarn.
	WarnAt model.Severity
	// Taxonomy overrides the default attack vocabulary in the system
	// instruction. Skill inspection swaps in extension-specific terms.
	Taxonomy string
}

// DefaultConfig blocks at high and warns at medium.
func DefaultConfig() Config {
	return Config{BlockAt: model.SeverityHigh, WarnAt: model.SeverityMedium}
}

// Analyzer wraps a Provider with the boundary protocol.
type Analyzer struct {
	provider Provider
	cfg      Config
}

// New creates an Analyzer. A nil provider is allowed; Analyze then
// degrades immediately.
func New(provider Provider, cfg Config) *Analyzer {
	if cfg.BlockAt == 0 && cfg.WarnAt == 0 {
		def := DefaultConfig()
		cfg.BlockAt = def.BlockAt
		cfg.WarnAt = def.WarnAt
	}
	return &Analyzer{provider: provider, cfg: cfg}
}

// Ready reports whether a provider is configured.
func (a *Analyzer) Ready() bool { return a != nil && a.provider != nil }

// CanSkipAnalysis reports whether content is trivially inert. This is
// a cost optimization, not a security boundary — it stays conservative
// and favors running the analysis.
func CanSkipAnalysis(content string) bool {
	if len(content) > 24 {
		return false
	}
	for _, r := range content {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == ' ' || r == '.' || r == ',' || r == '?' || r == '!':
		default:
			return false
		}
	}
	return true
}

// Analyze runs the full boundary protocol against the provider and
// maps the verdict through the configured thresholds.
func (a *Analyzer) Analyze(ctx context.Context, content, sourceLabel string) model.AnalysisResult {
	if a.provider == nil {
		return model.DegradedResult("no analysis provider configured")
	}
	if CanSkipAnalysis(content) {
		return model.AnalysisResult{
			Safe:        true,
			RiskLevel:   model.SeverityNone,
			Intent:      model.IntentBenign,
			Category:    model.CategoryNone,
			Explanation: "content below analysis threshold",
		}
	}

	taxonomy := a.cfg.Taxonomy
	if taxonomy == "" {
		taxonomy = defaultTaxonomy
	}
	token := newBoundaryToken()
	escaped := escapeDelimiters(content, token)
	system := systemInstruction(token, taxonomy)
	user := userPart(escaped, token, sourceLabel)

	reply, err := a.provider.Analyze(ctx, system, user)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
			return model.AbortedResult()
		}
		return model.DegradedResult("analysis provider error: " + err.Error())
	}

	raw, err := extractVerdict(reply)
	if err != nil {
		return model.DegradedResult("unparseable analysis reply")
	}

	return a.mapVerdict(raw)
}

// mapVerdict coerces the raw reply fields through the closed-set
// parsers and applies the configured thresholds.
func (a *Analyzer) mapVerdict(raw *rawVerdict) model.AnalysisResult {
	risk := model.ParseSeverity(raw.RiskLevel)

	res := model.AnalysisResult{
		Safe:        raw.Safe && risk < a.cfg.WarnAt,
		RiskLevel:   risk,
		Intent:      model.ParseIntent(raw.Intent),
		Category:    model.ParseCategory(raw.Category),
		Explanation: raw.Explanation,
	}

	if risk >= a.cfg.BlockAt {
		res.ShouldBlock = true
		res.Safe = false
	}
	if risk >= a.cfg.WarnAt {
		res.ShouldWarn = true
		res.Safe = false
	}

	// A reply claiming safe but carrying an attack intent is itself
	// suspicious — degrade to a warning.
	if raw.Safe && (res.Intent == model.IntentInjection || res.Intent == model.IntentExfiltration) {
		res.Safe = false
		res.ShouldWarn = true
		res.RiskLevel = model.MaxSeverity(res.RiskLevel, model.SeverityMedium)
	}

	return res
}
