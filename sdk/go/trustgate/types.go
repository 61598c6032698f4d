package trustgate

import (
	"fmt"

	"github.com/AIDilloBot/trustgate/internal/model"
)

// Message is one inbound unit of content presented at the boundary.
type Message struct {
	Content    string
	SessionKey string // identifies the source, e.g. "main" or "webhook:github"
	SenderID   string // optional sender for the audit trail
	Channel    string // optional channel hint: email, webhook, web, skill
}

// Result is a gate evaluation outcome.
type Result struct {
	Allowed      bool
	Blocked      bool
	BlockReason  string
	AlertMessage string
	Source       string
	TrustLevel   string
	Patterns     []string
	RiskLevel    string
	// Content is the screened (possibly sanitized and wrapped) text
	// safe for downstream use. Empty when Blocked.
	Content string
}

// BlockedError is returned by a guarded handler when the gate refuses
// the inbound message. AlertMessage is the user-visible notice to
// deliver in place of the agent's reply.
type BlockedError struct {
	Message      Message
	Reason       string
	AlertMessage string
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("trustgate blocked: %s", e.Reason)
}

// fromGateResult maps the internal gate contract to the SDK shape.
func fromGateResult(res model.GateResult) Result {
	out := Result{
		Allowed:      res.Allowed,
		Blocked:      res.Blocked,
		BlockReason:  res.BlockReason,
		AlertMessage: res.AlertMessage,
		Source:       string(res.Source),
		TrustLevel:   string(res.TrustLevel),
		Patterns:     res.QuickFilterPatterns,
		Content:      res.Content,
	}
	if res.LLMAnalysis != nil {
		out.RiskLevel = res.LLMAnalysis.RiskLevel.String()
	}
	return out
}
