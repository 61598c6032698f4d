// Package prefilter is the synchronous, deterministic scan that runs
// on every piece of inbound content before anything else. Two tiers:
// a broad heuristic table used for scoring and sanitization, and a
// narrow never-legitimate table that blocks immediately.
package prefilter

import (
	"strings"

	"github.com/AIDilloBot/trustgate/internal/model"
)

// Filter holds the compiled rule tables. Construct once, share freely —
// all methods are pure.
type Filter struct {
	heuristic []Rule
	critical  []Rule
}

// New creates a Filter with the built-in rule tables plus any extras.
func New(extra ...Rule) *Filter {
	f := &Filter{
		heuristic: heuristicRules,
		critical:  criticalRules,
	}
	for _, r := range extra {
		if r.Severity >= model.SeverityCritical {
			f.critical = append(f.critical, r)
		} else {
			f.heuristic = append(f.heuristic, r)
		}
	}
	return f
}

// Scan runs the heuristic tier. The result informs escalation — it
// never sets ShouldBlockImmediately.
func (f *Filter) Scan(content string) model.ScanResult {
	res := model.ScanResult{Severity: model.SeverityNone}

	for _, r := range f.heuristic {
		if r.Pattern.MatchString(content) {
			res.Detected = true
			res.Patterns = append(res.Patterns, r.Name)
			res.Score += r.Weight
			res.Severity = model.MaxSeverity(res.Severity, r.Severity)
		}
	}

	return res
}

// ScanCritical runs the never-legitimate tier plus the hidden-Unicode
// check. A match blocks synchronously.
func (f *Filter) ScanCritical(content string) model.ScanResult {
	res := model.ScanResult{Severity: model.SeverityNone}

	for _, r := range f.critical {
		if r.Pattern.MatchString(content) {
			res.Detected = true
			res.Patterns = append(res.Patterns, r.Name)
			res.Score += r.Weight
			res.Severity = model.SeverityCritical
			res.ShouldBlockImmediately = true
		}
	}

	if hidden := scanHidden(content); len(hidden) > 0 {
		res.Detected = true
		res.Patterns = append(res.Patterns, hidden...)
		res.Score += 100
		res.Severity = model.SeverityCritical
		res.ShouldBlockImmediately = true
	}

	return res
}

// scanHidden reports which classes of hidden code points appear.
func scanHidden(content string) []string {
	var zeroWidth, bidi, tag bool
	for _, r := range content {
		if !isHiddenRune(r) {
			continue
		}
		switch {
		case r >= 0xE0000 && r <= 0xE007F:
			tag = true
		case (r >= '\u202A' && r <= '\u202E') || (r >= '\u2066' && r <= '\u2069'):
			bidi = true
		default:
			zeroWidth = true
		}
	}

	var names []string
	if zeroWidth {
		names = append(names, "unicode_zero_width")
	}
	if bidi {
		names = append(names, "unicode_bidi_override")
	}
	if tag {
		names = append(names, "unicode_tag_chars")
	}
	return names
}

// Sanitize strips hidden code points and neutralizes heuristic matches
// by replacing them with a labeled marker. Returns the cleaned text
// and the names of the rules that fired.
func (f *Filter) Sanitize(content string) (string, []string) {
	var fired []string

	// Hidden code points are removed outright.
	if names := scanHidden(content); len(names) > 0 {
		fired = append(fired, names...)
		var b strings.Builder
		b.Grow(len(content))
		for _, r := range content {
			if !isHiddenRune(r) {
				b.WriteRune(r)
			}
		}
		content = b.String()
	}

	for _, r := range f.heuristic {
		if r.Pattern.MatchString(content) {
			fired = append(fired, r.Name)
			content = r.Pattern.ReplaceAllString(content, "[FILTERED:"+r.Name+"]")
		}
	}

	return content, fired
}
