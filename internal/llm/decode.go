package llm

import (
	"encoding/json"
	"fmt"
	"strings"
)

// DecodeJSON decodes the first JSON object in raw into v. Markdown code
// fences and surrounding prose are tolerated.
func DecodeJSON(raw string, v any) error {
	s := strings.TrimSpace(raw)
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end < start {
		return fmt.Errorf("no JSON object in model output %q", truncate(s, 80))
	}
	if err := json.Unmarshal([]byte(s[start:end+1]), v); err != nil {
		return fmt.Errorf("decode model output: %w", err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
