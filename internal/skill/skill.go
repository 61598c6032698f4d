// Package skill verifies installable extensions before activation. It
// runs the same escalation shape as the inbound content pipeline: trust
// lists first, then a narrow red-flag quick check, then full semantic
// inspection, with an explicit human-bypass path for everything short
// of critical findings.
package skill

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/AIDilloBot/trustgate/internal/audit"
	"github.com/AIDilloBot/trustgate/internal/model"
)

// Skill is an installable extension awaiting verification.
type Skill struct {
	Name         string
	Description  string
	Instructions string
}

// InspectionResult is the verdict on one extension's content.
type InspectionResult struct {
	RiskLevel     model.Severity `json:"riskLevel"`
	Findings      []string       `json:"findings"`
	Summary       string         `json:"summary"`
	BypassAllowed bool           `json:"bypassAllowed"`
}

// VerifyResult is the install-time decision for one extension.
type VerifyResult struct {
	Approved   bool
	Bypassed   bool
	Inspection *InspectionResult
	Message    string
}

// Decision is a human approver's answer to a bypass prompt.
type Decision int

const (
	DecisionCancel Decision = iota
	DecisionSkip
	DecisionInstall
)

// ApproveFunc asks a human whether to install despite findings. A nil
// func means no bypass path: flagged skills are rejected outright.
type ApproveFunc func(s Skill, ins *InspectionResult) Decision

// SignatureVerifier checks an extension's publisher signature. This is
// a required extension point: installations must supply a real
// implementation before relying on signature trust.
type SignatureVerifier interface {
	VerifySignature(s Skill, sourcePath string) error
}

// Config controls the verification pipeline.
type Config struct {
	// RequireVerification gates the whole pipeline. When false every
	// skill is approved unchecked.
	RequireVerification bool
	// TrustedSkills are names approved without inspection.
	TrustedSkills []string
	// BundledDir marks first-party extensions shipped with the install.
	BundledDir string
	// TrustBundled approves extensions under BundledDir without
	// inspection.
	TrustBundled bool
	// QuickCheckOnly resolves flagged skills from the quick check
	// without escalating to the semantic inspector.
	QuickCheckOnly bool
}

// DefaultConfig requires verification and trusts nothing implicitly.
func DefaultConfig() Config {
	return Config{RequireVerification: true}
}

// Verifier runs the install-time decision pipeline. Safe inspection
// verdicts are cached in memory by content hash for the process
// lifetime, so repeated install attempts do not repeat inspection.
type Verifier struct {
	cfg       Config
	inspector *Inspector
	approve   ApproveFunc
	sig       SignatureVerifier
	bus       *audit.Bus

	mu    sync.Mutex
	cache map[string]*InspectionResult
}

// NewVerifier creates a verifier. inspector, approve, sig, and bus may
// each be nil; every absence narrows the pipeline rather than breaking
// it.
func NewVerifier(cfg Config, inspector *Inspector, approve ApproveFunc, sig SignatureVerifier, bus *audit.Bus) *Verifier {
	return &Verifier{
		cfg:       cfg,
		inspector: inspector,
		approve:   approve,
		sig:       sig,
		bus:       bus,
		cache:     make(map[string]*InspectionResult),
	}
}

// ContentHash hashes the skill's instruction content for caching and
// approval keys.
func ContentHash(s Skill) string {
	h := sha256.Sum256([]byte(s.Instructions))
	return hex.EncodeToString(h[:])
}

// Verify runs the decision order for one extension: disabled → trusted
// name → bundled path → cached hash → quick check → full inspection.
func (v *Verifier) Verify(ctx context.Context, s Skill, sourcePath string) VerifyResult {
	if !v.cfg.RequireVerification {
		return VerifyResult{Approved: true, Message: "skill verification disabled"}
	}

	if v.sig != nil {
		if err := v.sig.VerifySignature(s, sourcePath); err != nil {
			v.emitBlocked(s, model.SeverityHigh, "signature verification failed")
			return VerifyResult{
				Approved: false,
				Message:  fmt.Sprintf("skill %q signature verification failed: %v", s.Name, err),
			}
		}
	}

	for _, trusted := range v.cfg.TrustedSkills {
		if strings.EqualFold(trusted, s.Name) {
			return VerifyResult{Approved: true, Message: fmt.Sprintf("skill %q is explicitly trusted", s.Name)}
		}
	}

	if v.cfg.TrustBundled && v.cfg.BundledDir != "" && pathWithin(v.cfg.BundledDir, sourcePath) {
		return VerifyResult{Approved: true, Message: fmt.Sprintf("skill %q is bundled", s.Name)}
	}

	hash := ContentHash(s)
	v.mu.Lock()
	cached, ok := v.cache[hash]
	v.mu.Unlock()
	if ok {
		return v.resolve(s, cached, true)
	}

	quick := quickCheck(s)
	if len(quick.Findings) > 0 && (v.cfg.QuickCheckOnly || v.inspector == nil || !v.inspector.Ready()) {
		return v.resolve(s, quick, false)
	}

	if v.inspector == nil || !v.inspector.Ready() {
		// Nothing flagged and no inspector to escalate to.
		return VerifyResult{
			Approved:   true,
			Inspection: quick,
			Message:    fmt.Sprintf("skill %q passed quick check", s.Name),
		}
	}

	ins := v.inspector.Inspect(ctx, s)
	if len(quick.Findings) > 0 {
		ins.Findings = append(quick.Findings, ins.Findings...)
		ins.RiskLevel = model.MaxSeverity(ins.RiskLevel, quick.RiskLevel)
		ins.BypassAllowed = ins.BypassAllowed && quick.BypassAllowed
	}

	if ins.RiskLevel < model.SeverityMedium {
		v.mu.Lock()
		v.cache[hash] = ins
		v.mu.Unlock()
	}

	return v.resolve(s, ins, false)
}

// resolve turns an inspection verdict into an install decision,
// invoking the bypass path when findings allow it.
func (v *Verifier) resolve(s Skill, ins *InspectionResult, fromCache bool) VerifyResult {
	if ins.RiskLevel < model.SeverityMedium {
		msg := fmt.Sprintf("skill %q verified", s.Name)
		if fromCache {
			msg += " (cached)"
		}
		v.emitApproved(s, ins, false)
		return VerifyResult{Approved: true, Inspection: ins, Message: msg}
	}

	if !ins.BypassAllowed || v.approve == nil {
		v.emitBlocked(s, ins.RiskLevel, ins.Summary)
		return VerifyResult{
			Approved:   false,
			Inspection: ins,
			Message:    fmt.Sprintf("skill %q blocked: %s", s.Name, ins.Summary),
		}
	}

	switch v.approve(s, ins) {
	case DecisionInstall:
		v.emitApproved(s, ins, true)
		return VerifyResult{
			Approved:   true,
			Bypassed:   true,
			Inspection: ins,
			Message:    fmt.Sprintf("skill %q installed by explicit bypass", s.Name),
		}
	case DecisionSkip:
		return VerifyResult{
			Approved:   false,
			Inspection: ins,
			Message:    fmt.Sprintf("skill %q skipped", s.Name),
		}
	default:
		v.emitBlocked(s, ins.RiskLevel, ins.Summary)
		return VerifyResult{
			Approved:   false,
			Inspection: ins,
			Message:    fmt.Sprintf("skill %q installation cancelled", s.Name),
		}
	}
}

func (v *Verifier) emitBlocked(s Skill, sev model.Severity, reason string) {
	ev := audit.NewEvent(audit.EventSkillBlocked, sev, s.Instructions)
	ev.Detail = map[string]string{"skill": s.Name, "reason": reason}
	v.bus.Emit(ev)
}

func (v *Verifier) emitApproved(s Skill, ins *InspectionResult, bypassed bool) {
	typ := audit.EventSkillApproved
	if bypassed {
		typ = audit.EventSkillBypassed
	}
	ev := audit.NewEvent(typ, ins.RiskLevel, s.Instructions)
	ev.Detail = map[string]string{"skill": s.Name}
	v.bus.Emit(ev)
}

func pathWithin(dir, path string) bool {
	if dir == "" || path == "" {
		return false
	}
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
