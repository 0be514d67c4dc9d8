// ABOUTME: Tiered JSON extraction for model responses: raw parse, fence-stripped, then brace-bounded substring.
package agents

import (
	"encoding/json"
	"fmt"
	"strings"
)

// decodeJSON parses model output into v, tolerating markdown fences and
// surrounding prose. It fails rather than guess when no tier parses.
func decodeJSON(text string, v any) error {
	if err := json.Unmarshal([]byte(text), v); err == nil {
		return nil
	}

	stripped := stripCodeFences(text)
	if err := json.Unmarshal([]byte(stripped), v); err == nil {
		return nil
	}

	firstBrace := strings.Index(text, "{")
	lastBrace := strings.LastIndex(text, "}")
	if firstBrace >= 0 && lastBrace > firstBrace {
		if err := json.Unmarshal([]byte(text[firstBrace:lastBrace+1]), v); err == nil {
			return nil
		}
	}

	return fmt.Errorf("response is not parseable JSON")
}

// stripCodeFences removes markdown code fences from text.
func stripCodeFences(text string) string {
	var lines []string
	inFence := false

	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") {
			inFence = !inFence
			continue
		}
		if inFence || trimmed != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}
