package analyzer

import (
	"encoding/json"
	"fmt"
	"strings"
)

// rawVerdict is the wire shape of the model's reply before coercion.
type rawVerdict struct {
	Safe        bool   `json:"safe"`
	RiskLevel   string `json:"risk_level"`
	Intent      string `json:"intent"`
	Category    string `json:"category"`
	Explanation string `json:"explanation"`
}

// extractVerdict scans the reply line by line for a line beginning with
// '{' and matches balanced braces from there. Requiring the object to
// start at a line head prevents a payload that embeds a fake verdict
// mid-text from being extracted instead of the real one.
func extractVerdict(reply string) (*rawVerdict, error) {
	for _, line := range strings.Split(reply, "\n") {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, "{") {
			continue
		}

		// The object may span multiple lines; find it in the full reply
		// starting at this line's position.
		idx := strings.Index(reply, line)
		candidate := reply[idx+strings.Index(line, "{"):]
		obj, ok := balancedObject(candidate)
		if !ok {
			continue
		}

		var v rawVerdict
		if err := json.Unmarshal([]byte(obj), &v); err != nil {
			continue
		}
		if v.RiskLevel == "" {
			// An object with no risk_level is not a verdict.
			continue
		}
		return &v, nil
	}
	return nil, fmt.Errorf("analyzer: no verdict object at line head")
}

// balancedObject returns the prefix of s that forms one balanced JSON
// object, honoring string literals and escapes.
func balancedObject(s string) (string, bool) {
	depth := 0
	inString := false
	escaped := false

	for i, r := range s {
		if escaped {
			escaped = false
			continue
		}
		switch r {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					return s[:i+1], true
				}
			}
		}
	}
	return "", false
}
