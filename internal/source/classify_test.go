package source

import (
	"testing"

	"github.com/AIDilloBot/trustgate/internal/model"
)

func TestClassifyPrefixes(t *testing.T) {
	cases := []struct {
		key    string
		source model.ContentSource
		trust  model.TrustLevel
	}{
		{"webhook:github-push", model.SourceWebhook, model.TrustLow},
		{"hook:ci", model.SourceWebhook, model.TrustLow},
		{"email:inbox-7", model.SourceEmail, model.TrustLow},
		{"api:bot-42", model.SourceAPI, model.TrustMedium},
		{"fetch:https://example.com", model.SourceWebFetch, model.TrustLow},
		{"file:report.pdf", model.SourceFile, model.TrustMedium},
		{"skill:weather", model.SourceSkill, model.TrustLow},
	}

	for _, c := range cases {
		src, trust := Classify(c.key, nil)
		if src != c.source {
			t.Errorf("Classify(%q) source = %s, want %s", c.key, src, c.source)
		}
		if trust != c.trust {
			t.Errorf("Classify(%q) trust = %s, want %s", c.key, trust, c.trust)
		}
	}
}

func TestClassifyDirectUserAllowList(t *testing.T) {
	for _, key := range []string{"main", "default", "cli", "repl"} {
		src, trust := Classify(key, nil)
		if src != model.SourceDirectUser {
			t.Errorf("Classify(%q) = %s, want direct_user", key, src)
		}
		if trust != model.TrustHigh {
			t.Errorf("Classify(%q) trust = %s, want high", key, trust)
		}
	}
}

func TestClassifyUnknownDefaultsLow(t *testing.T) {
	src, trust := Classify("something-random-9f2c", nil)
	if src != model.SourceUnknown {
		t.Errorf("source = %s, want unknown", src)
	}
	if trust != model.TrustLow {
		t.Errorf("trust = %s, want low", trust)
	}
}

func TestClassifyHints(t *testing.T) {
	src, _ := Classify("session-1", &Hints{Channel: "email"})
	if src != model.SourceEmail {
		t.Errorf("channel hint: source = %s, want email", src)
	}

	src, _ = Classify("session-2", &Hints{Origin: "webhook", Channel: "telegram"})
	if src != model.SourceWebhook {
		t.Errorf("origin hint wins: source = %s, want webhook", src)
	}

	// Prefix beats hints.
	src, _ = Classify("email:x", &Hints{Channel: "telegram"})
	if src != model.SourceEmail {
		t.Errorf("prefix beats hint: source = %s, want email", src)
	}
}

func TestClassifyIsPure(t *testing.T) {
	for i := 0; i < 3; i++ {
		src, trust := Classify("webhook:x", nil)
		if src != model.SourceWebhook || trust != model.TrustLow {
			t.Fatalf("classification changed between calls")
		}
	}
}
