package tools

import (
	"encoding/json"
	"strings"
)

// ParseArguments decodes model-produced arguments into an object. Empty
// input, invalid JSON and non-object values all yield an empty map; ok is
// false when the input was present but unusable.
func ParseArguments(raw string) (args map[string]any, ok bool) {
	if strings.TrimSpace(raw) == "" {
		return map[string]any{}, true
	}
	if err := json.Unmarshal([]byte(raw), &args); err != nil || args == nil {
		return map[string]any{}, false
	}
	return args, true
}
