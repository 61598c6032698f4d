package prefilter

import (
	"regexp"

	"github.com/AIDilloBot/trustgate/internal/model"
)

// criticalRules is the narrow never-legitimate tier. A match here is a
// literal that has no benign reading in inbound content — credential
// material, known exfiltration endpoints. This tier decides
// ShouldBlockImmediately without waiting for semantic analysis.
var criticalRules = []Rule{
	{
		Name:     "aws_access_key",
		Pattern:  regexp.MustCompile(`\b(?:AKIA|ASIA)[0-9A-Z]{16}\b`),
		Severity: model.SeverityCritical,
		Weight:   100,
		Category: model.CategoryDataExfil,
	},
	{
		Name:     "private_key_pem",
		Pattern:  regexp.MustCompile(`-----BEGIN (?:RSA |EC |OPENSSH |DSA )?PRIVATE KEY-----`),
		Severity: model.SeverityCritical,
		Weight:   100,
		Category: model.CategoryDataExfil,
	},
	{
		Name:     "github_token",
		Pattern:  regexp.MustCompile(`\bgh[pousr]_[A-Za-z0-9]{36,}\b`),
		Severity: model.SeverityCritical,
		Weight:   100,
		Category: model.CategoryDataExfil,
	},
	{
		Name:     "slack_token",
		Pattern:  regexp.MustCompile(`\bxox[baprs]-[0-9A-Za-z-]{10,}\b`),
		Severity: model.SeverityCritical,
		Weight:   100,
		Category: model.CategoryDataExfil,
	},
	{
		Name:     "discord_webhook",
		Pattern:  regexp.MustCompile(`https://(?:discord(?:app)?\.com)/api/webhooks/\d+/`),
		Severity: model.SeverityCritical,
		Weight:   100,
		Category: model.CategoryDataExfil,
	},
	{
		Name:     "slack_webhook",
		Pattern:  regexp.MustCompile(`https://hooks\.slack\.com/services/T[0-9A-Z]+/B[0-9A-Z]+/`),
		Severity: model.SeverityCritical,
		Weight:   100,
		Category: model.CategoryDataExfil,
	},
	{
		Name:     "telegram_bot_api",
		Pattern:  regexp.MustCompile(`https://api\.telegram\.org/bot\d+:[A-Za-z0-9_-]{30,}`),
		Severity: model.SeverityCritical,
		Weight:   100,
		Category: model.CategoryDataExfil,
	},
	{
		Name:     "request_catcher",
		Pattern:  regexp.MustCompile(`https?://[a-z0-9-]+\.(?:requestbin\.com|pipedream\.net|webhook\.site|requestcatcher\.com|ngrok\.io)`),
		Severity: model.SeverityCritical,
		Weight:   100,
		Category: model.CategoryDataExfil,
	},
}

// hiddenRunes are invisible or direction-altering code points that let
// content display differently from how it is processed. They are never
// legitimate in conversational input. Written as escapes: the literal
// characters are invisible in an editor.
// Grounds: zero-width set, bidi overrides, and the Unicode tag block.
func isHiddenRune(r rune) bool {
	switch r {
	case '\u200B', // ZERO WIDTH SPACE
		'\u200C', // ZERO WIDTH NON-JOINER
		'\u200D', // ZERO WIDTH JOINER
		'\u2060', // WORD JOINER
		'\uFEFF', // ZERO WIDTH NO-BREAK SPACE (BOM)
		'\u180E': // MONGOLIAN VOWEL SEPARATOR
		return true
	case '\u202A', '\u202B', '\u202C', '\u202D', '\u202E', // embedding/override
		'\u2066', '\u2067', '\u2068', '\u2069': // isolates
		return true
	}
	// Unicode tag block — hidden instruction smuggling.
	if r >= 0xE0000 && r <= 0xE007F {
		return true
	}
	return false
}

// CriticalRules returns the never-legitimate rule table.
func CriticalRules() []Rule {
	return criticalRules
}
