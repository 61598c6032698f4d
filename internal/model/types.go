package model

// ContentSource tags the channel/origin type of inbound text.
// Fixed closed set — classification never invents new values.
type ContentSource string

const (
	SourceDirectUser ContentSource = "direct_user"
	SourceEmail      ContentSource = "email"
	SourceWebhook    ContentSource = "webhook"
	SourceAPI        ContentSource = "api"
	SourceWebFetch   ContentSource = "web_fetch"
	SourceFile       ContentSource = "file"
	SourceSkill      ContentSource = "skill"
	SourceUnknown    ContentSource = "unknown"
)

// TrustLevel is the coarse trust bucket derived from a ContentSource.
// It drives whether content is escalated to semantic analysis and
// whether it is wrapped before reaching the agent.
type TrustLevel string

const (
	TrustHigh   TrustLevel = "high"
	TrustMedium TrustLevel = "medium"
	TrustLow    TrustLevel = "low"
)

// sourceTrust maps each source to its trust bucket.
// Unknown sources are always low trust.
var sourceTrust = map[ContentSource]TrustLevel{
	SourceDirectUser: TrustHigh,
	SourceAPI:        TrustMedium,
	SourceFile:       TrustMedium,
	SourceEmail:      TrustLow,
	SourceWebhook:    TrustLow,
	SourceWebFetch:   TrustLow,
	SourceSkill:      TrustLow,
	SourceUnknown:    TrustLow,
}

// TrustFor returns the trust level for a content source.
func TrustFor(s ContentSource) TrustLevel {
	if t, ok := sourceTrust[s]; ok {
		return t
	}
	return TrustLow
}

// Severity is the ordered injection risk scale.
// Threshold comparisons use this order, never raw scores across scanners.
type Severity int

const (
	SeverityNone Severity = iota
	SeverityLow
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityNone:
		return "none"
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// ParseSeverity maps a string to a Severity. Values outside the
// allow-list resolve to medium — ambiguity must surface, never
// silently rank as safe.
func ParseSeverity(s string) Severity {
	switch s {
	case "none":
		return SeverityNone
	case "low":
		return SeverityLow
	case "medium":
		return SeverityMedium
	case "high":
		return SeverityHigh
	case "critical":
		return SeverityCritical
	default:
		return SeverityMedium
	}
}

// MaxSeverity returns the higher of two severities.
func MaxSeverity(a, b Severity) Severity {
	if b > a {
		return b
	}
	return a
}
