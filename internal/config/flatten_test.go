package config

import (
	"reflect"
	"testing"
)

func TestFlatten(t *testing.T) {
	tests := []struct {
		name string
		in   map[string]any
		want map[string]any
	}{
		{
			name: "empty",
			in:   map[string]any{},
			want: map[string]any{},
		},
		{
			name: "nested",
			in: map[string]any{
				"llm":       map[string]any{"base_url": "https://openrouter.ai/api/v1", "max_tokens": 500.0},
				"log_level": "info",
			},
			want: map[string]any{
				"llm.base_url":   "https://openrouter.ai/api/v1",
				"llm.max_tokens": 500.0,
				"log_level":      "info",
			},
		},
		{
			name: "provider list",
			in: map[string]any{
				"tools": map[string]any{
					"providers": []any{
						map[string]any{"name": "coincap", "disabled": true},
						map[string]any{"name": "files"},
					},
				},
			},
			want: map[string]any{
				"tools.providers.0.name":     "coincap",
				"tools.providers.0.disabled": true,
				"tools.providers.1.name":     "files",
			},
		},
		{
			name: "toml tables",
			in: map[string]any{
				"tools": map[string]any{
					"providers": []map[string]any{{"name": "coincap"}},
				},
			},
			want: map[string]any{"tools.providers.0.name": "coincap"},
		},
		{
			name: "empty containers kept",
			in: map[string]any{
				"tools": map[string]any{"providers": []any{}},
				"http":  map[string]any{},
			},
			want: map[string]any{
				"tools.providers": []any{},
				"http":            map[string]any{},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Flatten(tt.in); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Flatten() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestUnflatten_RestoresLists(t *testing.T) {
	got := Unflatten(map[string]any{
		"tools.providers.1.name":          "files",
		"tools.providers.0.name":          "coincap",
		"tools.providers.0.headers.X-Key": "k",
		"tools.max_iterations":            10.0,
	})
	want := map[string]any{
		"tools": map[string]any{
			"max_iterations": 10.0,
			"providers": []any{
				map[string]any{"name": "coincap", "headers": map[string]any{"X-Key": "k"}},
				map[string]any{"name": "files"},
			},
		},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Unflatten() = %v, want %v", got, want)
	}
}

func TestUnflatten_SparseIndexesStayMap(t *testing.T) {
	got := Unflatten(map[string]any{"a.0": "x", "a.2": "y"})
	a, ok := got["a"].(map[string]any)
	if !ok || a["0"] != "x" || a["2"] != "y" {
		t.Errorf("expected a map for sparse indexes, got %#v", got["a"])
	}

	got = Unflatten(map[string]any{"a.01": "x"})
	if _, ok := got["a"].(map[string]any); !ok {
		t.Errorf("expected a map for a non-canonical index, got %#v", got["a"])
	}
}

func TestRoundTrip_FlattenUnflatten(t *testing.T) {
	original := map[string]any{
		"data_dir":  "/home/test/.toolchat",
		"log_level": "debug",
		"llm": map[string]any{
			"base_url": "https://openrouter.ai/api/v1",
			"api_key":  "sk-test123456",
		},
		"tools": map[string]any{
			"providers": []any{
				map[string]any{"name": "coincap", "url": "http://localhost:3000/mcp/coincap"},
			},
		},
		"monitor":  map[string]any{"report_tool": "save_bitcoin_report"},
		"telegram": map[string]any{},
	}

	restored := Unflatten(Flatten(original))
	if !reflect.DeepEqual(restored, original) {
		t.Errorf("round trip mismatch:\n got %v\nwant %v", restored, original)
	}
}

func TestIsSecretKey(t *testing.T) {
	tests := []struct {
		key  string
		want bool
	}{
		{"llm.api_key", true},
		{"telegram.token", true},
		{"tools.providers.0.headers.Authorization", true},
		{"tools.providers.12.headers.X-Key", true},
		{"tools.providers.0.url", false},
		{"tools.providers.0.headers", false},
		{"llm.base_url", false},
		{"monitor.report_tool", false},
	}
	for _, tt := range tests {
		if got := IsSecretKey(tt.key); got != tt.want {
			t.Errorf("IsSecretKey(%q) = %v, want %v", tt.key, got, tt.want)
		}
	}
}

func TestMaskSecrets(t *testing.T) {
	flat := map[string]any{
		"llm.base_url":                            "https://openrouter.ai/api/v1",
		"llm.api_key":                             "sk-test123456",
		"telegram.token":                          "123456:ABCdefGHIjkl",
		"tools.providers.0.headers.Authorization": "Bearer abcdefgh",
		"monitor.report_tool":                     "save_bitcoin_report",
		"log_level":                               "info",
	}
	got := MaskSecrets(flat)

	want := map[string]any{
		"llm.base_url":                            "https://openrouter.ai/api/v1",
		"llm.api_key":                             "***3456",
		"telegram.token":                          "***Ijkl",
		"tools.providers.0.headers.Authorization": "***efgh",
		"monitor.report_tool":                     "save_bitcoin_report",
		"log_level":                               "info",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("MaskSecrets() = %v, want %v", got, want)
	}
	if flat["llm.api_key"] != "sk-test123456" {
		t.Error("MaskSecrets must not modify its input")
	}
}

func TestMaskSecrets_ShortValues(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", ""},
		{"ab", "***ab"},
		{"abcd", "***abcd"},
		{"abcde", "***bcde"},
	}
	for _, tt := range tests {
		got := MaskSecrets(map[string]any{"llm.api_key": tt.in})
		if got["llm.api_key"] != tt.want {
			t.Errorf("mask(%q) = %v, want %q", tt.in, got["llm.api_key"], tt.want)
		}
	}
}
