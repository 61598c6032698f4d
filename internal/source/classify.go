// Package source classifies inbound content by its session/connection
// key. Classification is a pure function — no side effects, no failure
// mode beyond defaulting to unknown (low trust).
package source

import (
	"strings"

	"github.com/AIDilloBot/trustgate/internal/model"
)

// Hints carries optional context about the connection that produced
// the content, used when the session key alone is ambiguous.
type Hints struct {
	Channel string // e.g. "telegram", "discord", "email"
	Origin  string // e.g. "webhook", "poll", "terminal"
}

// prefixSources maps session-key prefix conventions to sources.
// First match wins; longer prefixes are listed before shorter ones.
var prefixSources = []struct {
	prefix string
	source model.ContentSource
}{
	{"webhook:", model.SourceWebhook},
	{"hook:", model.SourceWebhook},
	{"email:", model.SourceEmail},
	{"mail:", model.SourceEmail},
	{"imap:", model.SourceEmail},
	{"api:", model.SourceAPI},
	{"fetch:", model.SourceWebFetch},
	{"url:", model.SourceWebFetch},
	{"web:", model.SourceWebFetch},
	{"file:", model.SourceFile},
	{"upload:", model.SourceFile},
	{"skill:", model.SourceSkill},
}

// channelSources maps hint channel names to sources.
var channelSources = map[string]model.ContentSource{
	"email":    model.SourceEmail,
	"webhook":  model.SourceWebhook,
	"api":      model.SourceAPI,
	"web":      model.SourceWebFetch,
	"file":     model.SourceFile,
	"skill":    model.SourceSkill,
	"telegram": model.SourceAPI,
	"discord":  model.SourceAPI,
	"slack":    model.SourceAPI,
	"whatsapp": model.SourceAPI,
}

// directKeys is the small explicit allow-list of bare identifiers
// that mean the operator typed the content themselves.
var directKeys = map[string]bool{
	"main":    true,
	"default": true,
	"cli":     true,
	"repl":    true,
	"local":   true,
}

// Classify maps a session key and optional hints to a content source
// and its trust level.
func Classify(sessionKey string, hints *Hints) (model.ContentSource, model.TrustLevel) {
	key := strings.ToLower(strings.TrimSpace(sessionKey))

	for _, ps := range prefixSources {
		if strings.HasPrefix(key, ps.prefix) {
			return ps.source, model.TrustFor(ps.source)
		}
	}

	if hints != nil {
		if hints.Origin == "webhook" {
			return model.SourceWebhook, model.TrustFor(model.SourceWebhook)
		}
		if s, ok := channelSources[strings.ToLower(hints.Channel)]; ok {
			return s, model.TrustFor(s)
		}
	}

	if directKeys[key] {
		return model.SourceDirectUser, model.TrustFor(model.SourceDirectUser)
	}

	return model.SourceUnknown, model.TrustFor(model.SourceUnknown)
}
