// Package redact scans agent-generated output for secrets and system
// internals before the text leaves the process. Defense in depth: even
// a value that was never meant to be in context gets caught on the way
// out.
package redact

import (
	"fmt"
	"regexp"
	"sort"
)

// Category identifies what kind of sensitive data a pattern detects.
type Category string

const (
	CategoryAPIKey       Category = "api_key"
	CategoryBearerToken  Category = "bearer_token"
	CategoryJWT          Category = "jwt"
	CategoryPrivateKey   Category = "private_key"
	CategorySystemPrompt Category = "system_prompt"
	CategoryConfigPath   Category = "config_path"
)

// pattern pairs a category with its compiled regex. The table is
// static and compiled once.
type pattern struct {
	category Category
	re       *regexp.Regexp
}

var patterns = []pattern{
	// Provider key prefixes.
	{CategoryAPIKey, regexp.MustCompile(`\bsk-[A-Za-z0-9_-]{20,}\b`)},
	{CategoryAPIKey, regexp.MustCompile(`\b(?:AKIA|ASIA)[0-9A-Z]{16}\b`)},
	{CategoryAPIKey, regexp.MustCompile(`\bgh[pousr]_[A-Za-z0-9]{36,}\b`)},
	{CategoryAPIKey, regexp.MustCompile(`\bxox[baprs]-[0-9A-Za-z-]{10,}\b`)},
	{CategoryAPIKey, regexp.MustCompile(`\bAIza[0-9A-Za-z_-]{35}\b`)},

	// Bearer tokens.
	{CategoryBearerToken, regexp.MustCompile(`(?i)\bBearer\s+[A-Za-z0-9._~+/-]{16,}=*`)},

	// JWT shape: three dot-joined base64url segments.
	{CategoryJWT, regexp.MustCompile(`\beyJ[A-Za-z0-9_-]{8,}\.[A-Za-z0-9_-]{8,}\.[A-Za-z0-9_-]{8,}\b`)},

	// PEM private key blocks, header included.
	{CategoryPrivateKey, regexp.MustCompile(`-----BEGIN (?:RSA |EC |OPENSSH |DSA )?PRIVATE KEY-----[\s\S]*?-----END (?:RSA |EC |OPENSSH |DSA )?PRIVATE KEY-----`)},
	{CategoryPrivateKey, regexp.MustCompile(`-----BEGIN (?:RSA |EC |OPENSSH |DSA )?PRIVATE KEY-----`)},

	// System prompt fragment leakage.
	{CategorySystemPrompt, regexp.MustCompile(`(?i)(?:my|the)\s+system\s+prompt\s+(?:is|says|begins|starts)[:\s]`)},
	{CategorySystemPrompt, regexp.MustCompile(`(?i)^\s*You are a[n]? [A-Za-z ,-]+ (?:assistant|agent)\b.{0,80}(?:instructions?|rules?|must)`)},

	// Configuration and secret-bearing path leakage.
	{CategoryConfigPath, regexp.MustCompile(`(?:/home/[a-z_][a-z0-9_-]*|~)/\.(?:trustgate|ssh|aws|config/gcloud)/\S+`)},
	{CategoryConfigPath, regexp.MustCompile(`(?i)(?:password|passwd|secret|api_key|apikey|auth_token)[ \t]*[=:][ \t]*\S{6,}`)},
}

// Result reports what the filter changed.
type Result struct {
	Text       string     // filtered text
	Redacted   bool       // whether anything fired
	Categories []Category // deduplicated, sorted category names
}

// Filter replaces every sensitive match with a labeled redaction
// marker and reports which categories fired.
func Filter(text string) Result {
	fired := make(map[Category]bool)

	for _, p := range patterns {
		if !p.re.MatchString(text) {
			continue
		}
		fired[p.category] = true
		marker := fmt.Sprintf("[REDACTED:%s]", p.category)
		text = p.re.ReplaceAllString(text, marker)
	}

	res := Result{Text: text, Redacted: len(fired) > 0}
	for c := range fired {
		res.Categories = append(res.Categories, c)
	}
	sort.Slice(res.Categories, func(i, j int) bool { return res.Categories[i] < res.Categories[j] })
	return res
}
