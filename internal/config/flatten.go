package config

import (
	"sort"
	"strconv"
	"strings"
)

// secretKeys lists the dot-separated keys whose values should be masked.
var secretKeys = map[string]bool{
	"llm.api_key":    true,
	"telegram.token": true,
}

// IsSecretKey reports whether key holds a secret. Besides the fixed keys,
// every MCP provider header is treated as one, since those usually carry
// bearer tokens.
func IsSecretKey(key string) bool {
	if secretKeys[key] {
		return true
	}
	parts := strings.Split(key, ".")
	return len(parts) == 5 && parts[0] == "tools" && parts[1] == "providers" && parts[3] == "headers"
}

// Flatten converts a nested map into a flat map with dot-separated keys.
// List elements are addressed by index, so
// {"tools": {"providers": [{"url": "u"}]}} becomes
// {"tools.providers.0.url": "u"}. Empty maps and lists are kept as leaf
// values.
func Flatten(m map[string]any) map[string]any {
	out := make(map[string]any)
	flattenMap("", m, out)
	return out
}

func join(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}

func flattenMap(prefix string, m map[string]any, out map[string]any) {
	for k, v := range m {
		flattenValue(join(prefix, k), v, out)
	}
}

func flattenValue(key string, v any, out map[string]any) {
	switch child := v.(type) {
	case map[string]any:
		if len(child) == 0 {
			out[key] = child
			return
		}
		flattenMap(key, child, out)
	case []any:
		if len(child) == 0 {
			out[key] = child
			return
		}
		for i, item := range child {
			flattenValue(join(key, strconv.Itoa(i)), item, out)
		}
	case []map[string]any:
		// TOML arrays of tables decode to this type.
		if len(child) == 0 {
			out[key] = []any{}
			return
		}
		for i, item := range child {
			flattenValue(join(key, strconv.Itoa(i)), item, out)
		}
	default:
		out[key] = v
	}
}

// Unflatten converts a flat map with dot-separated keys back into a nested
// map. Maps whose keys are exactly 0..n-1 become lists again.
func Unflatten(flat map[string]any) map[string]any {
	out := make(map[string]any)
	for k, v := range flat {
		parts := strings.Split(k, ".")
		current := out
		for i, part := range parts {
			if i == len(parts)-1 {
				current[part] = v
				break
			}
			m, ok := current[part].(map[string]any)
			if !ok {
				m = make(map[string]any)
				current[part] = m
			}
			current = m
		}
	}
	for k, v := range out {
		out[k] = restoreLists(v)
	}
	return out
}

func restoreLists(v any) any {
	m, ok := v.(map[string]any)
	if !ok || len(m) == 0 {
		return v
	}
	for k, child := range m {
		m[k] = restoreLists(child)
	}

	keys := make([]int, 0, len(m))
	for k := range m {
		n, err := strconv.Atoi(k)
		if err != nil || n < 0 || strconv.Itoa(n) != k {
			return m
		}
		keys = append(keys, n)
	}
	sort.Ints(keys)
	for i, n := range keys {
		if i != n {
			return m
		}
	}
	list := make([]any, len(keys))
	for i := range list {
		list[i] = m[strconv.Itoa(i)]
	}
	return list
}

// MaskSecrets returns a copy of the flat map with secret values shown as
// "***xxxx", xxxx being the last 4 characters. Empty values stay empty.
func MaskSecrets(flat map[string]any) map[string]any {
	out := make(map[string]any, len(flat))
	for k, v := range flat {
		s, ok := v.(string)
		if !ok || s == "" || !IsSecretKey(k) {
			out[k] = v
			continue
		}
		out[k] = mask(s)
	}
	return out
}

func mask(s string) string {
	if len(s) <= 4 {
		return "***" + s
	}
	return "***" + s[len(s)-4:]
}
