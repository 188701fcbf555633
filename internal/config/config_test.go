package config

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func tempConfigPath(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	return filepath.Join(dir, "config.json")
}

func writeTestConfig(t *testing.T, path string, cfg *Config) {
	t.Helper()
	if err := Save(path, cfg); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"OPENROUTER_API_KEY", "OPENROUTER_BASE_URL", "TOOLCHAT_MODEL", "TELEGRAM_BOT_TOKEN"} {
		t.Setenv(k, "")
	}
}

func TestSave_ReloadRoundTrip(t *testing.T) {
	clearEnv(t)
	path := tempConfigPath(t)

	original := Default()
	original.DataDir = "/tmp/test-data"
	original.LogLevel = "debug"
	original.MaxConcurrent = 4
	original.LLM.APIKey = "sk-or-test-round-trip"
	original.LLM.Model = "amazon/nova-2-lite-v1:free"
	original.LLM.MaxTokens = 4000
	original.Tools.Concurrency = 3
	original.Tools.Providers = []ProviderConfig{
		{Name: "coincap", URL: "http://localhost:3000/mcp/coincap", Headers: map[string]string{"X-Key": "k"}},
		{Name: "file", URL: "http://localhost:3000/mcp/file", Disabled: true},
	}
	original.Compaction.Enabled = false
	original.Storage.Driver = "sqlite"
	original.Telegram.Token = "bot-token-456"

	if err := Save(path, original); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("config file does not exist after Save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if loaded.DataDir != original.DataDir {
		t.Errorf("DataDir mismatch: %v != %v", loaded.DataDir, original.DataDir)
	}
	if loaded.LogLevel != original.LogLevel {
		t.Errorf("LogLevel mismatch: %v != %v", loaded.LogLevel, original.LogLevel)
	}
	if loaded.MaxConcurrent != original.MaxConcurrent {
		t.Errorf("MaxConcurrent mismatch: %v != %v", loaded.MaxConcurrent, original.MaxConcurrent)
	}
	if loaded.LLM.APIKey != original.LLM.APIKey {
		t.Errorf("LLM.APIKey mismatch: %v != %v", loaded.LLM.APIKey, original.LLM.APIKey)
	}
	if loaded.LLM.Model != original.LLM.Model {
		t.Errorf("LLM.Model mismatch: %v != %v", loaded.LLM.Model, original.LLM.Model)
	}
	if loaded.Tools.Concurrency != 3 || len(loaded.Tools.Providers) != 2 {
		t.Errorf("Tools mismatch: %+v", loaded.Tools)
	}
	if loaded.Tools.Providers[0].Headers["X-Key"] != "k" || !loaded.Tools.Providers[1].Disabled {
		t.Errorf("providers mismatch: %+v", loaded.Tools.Providers)
	}
	if loaded.Compaction.Enabled {
		t.Error("Compaction.Enabled should stay false")
	}
	if loaded.Storage.Driver != "sqlite" {
		t.Errorf("Storage.Driver = %q", loaded.Storage.Driver)
	}
	if loaded.Telegram.Token != original.Telegram.Token {
		t.Errorf("Telegram.Token mismatch: %v != %v", loaded.Telegram.Token, original.Telegram.Token)
	}
}

func TestLoad_CreatesDefaults(t *testing.T) {
	clearEnv(t)
	path := tempConfigPath(t)

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.LLM.Model != DefaultModel || cfg.LLM.BaseURL != "https://openrouter.ai/api/v1" {
		t.Errorf("unexpected llm defaults %+v", cfg.LLM)
	}
	if cfg.Compaction.Threshold != 10 || cfg.Compaction.RecentWindow != 10 {
		t.Errorf("unexpected compaction defaults %+v", cfg.Compaction)
	}
	if cfg.Monitor.ReportTool != "save_bitcoin_report" || cfg.Monitor.MaxTokens != 500 {
		t.Errorf("unexpected monitor defaults %+v", cfg.Monitor)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("defaults not written: %v", err)
	}
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	clearEnv(t)
	path := tempConfigPath(t)
	if err := os.WriteFile(path, []byte(`{"llm":{"model":""},"log_level":"warn"}`), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("log_level = %q", cfg.LogLevel)
	}
	if cfg.LLM.Model != DefaultModel {
		t.Errorf("empty model should fall back to the default, got %q", cfg.LLM.Model)
	}
	if cfg.LLM.TimeoutSeconds != 30 {
		t.Errorf("missing keys should keep defaults, got %d", cfg.LLM.TimeoutSeconds)
	}
}

func TestLoad_YAML(t *testing.T) {
	clearEnv(t)
	t.Setenv("TEST_OR_KEY", "sk-or-from-env")
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
log_format: pretty
llm:
  api_key: ${TEST_OR_KEY}
  model: google/gemma-3n-e4b-it:free
tools:
  providers:
    - name: coincap
      url: http://localhost:3000/mcp/coincap
      timeout_seconds: 5
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.LLM.APIKey != "sk-or-from-env" {
		t.Errorf("api_key = %q", cfg.LLM.APIKey)
	}
	if cfg.LogFormat != "pretty" || cfg.LLM.Model != "google/gemma-3n-e4b-it:free" {
		t.Errorf("unexpected config %+v", cfg)
	}
	if len(cfg.Tools.Providers) != 1 || cfg.Tools.Providers[0].TimeoutSeconds != 5 {
		t.Errorf("providers = %+v", cfg.Tools.Providers)
	}
	if !cfg.Tools.Builtin {
		t.Error("tools.builtin default lost")
	}
}

func TestLoad_TOML(t *testing.T) {
	clearEnv(t)
	t.Setenv("TEST_TG_TOKEN", "123:abc")
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
max_concurrent = 5

[telegram]
token = "${TEST_TG_TOKEN}"

[storage]
driver = "sqlite"

[[tools.providers]]
name = "file"
url = "http://localhost:3000/mcp/file"
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.MaxConcurrent != 5 || cfg.Telegram.Token != "123:abc" || cfg.Storage.Driver != "sqlite" {
		t.Errorf("unexpected config %+v", cfg)
	}
	if len(cfg.Tools.Providers) != 1 || cfg.Tools.Providers[0].Name != "file" {
		t.Errorf("providers = %+v", cfg.Tools.Providers)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := tempConfigPath(t)
	t.Setenv("OPENROUTER_API_KEY", "env-key")
	t.Setenv("OPENROUTER_BASE_URL", "http://127.0.0.1:9999/v1")
	t.Setenv("TOOLCHAT_MODEL", "env/model")
	t.Setenv("TELEGRAM_BOT_TOKEN", "env-token")

	cfg := Default()
	cfg.LLM.APIKey = "file-key"
	writeTestConfig(t, path, cfg)

	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.LLM.APIKey != "env-key" || loaded.LLM.BaseURL != "http://127.0.0.1:9999/v1" ||
		loaded.LLM.Model != "env/model" || loaded.Telegram.Token != "env-token" {
		t.Errorf("env overrides not applied: %+v", loaded)
	}
}

func TestSave_AtomicWrite(t *testing.T) {
	path := tempConfigPath(t)

	cfg := &Config{LogLevel: "info"}
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Errorf("temp file should not exist after successful save")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read saved config: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Errorf("saved file is not valid JSON: %v", err)
	}
}

func TestToMap(t *testing.T) {
	cfg := &Config{
		DataDir:  "/tmp/test",
		LogLevel: "debug",
	}
	cfg.LLM.Model = "gpt-4"
	cfg.LLM.MaxTokens = 2000

	m, err := ToMap(cfg)
	if err != nil {
		t.Fatalf("ToMap failed: %v", err)
	}
	if m["data_dir"] != "/tmp/test" {
		t.Errorf("expected data_dir=/tmp/test, got %v", m["data_dir"])
	}

	llm, ok := m["llm"].(map[string]any)
	if !ok {
		t.Fatalf("expected llm to be map, got %T", m["llm"])
	}
	if llm["model"] != "gpt-4" {
		t.Errorf("expected llm.model=gpt-4, got %v", llm["model"])
	}
	// JSON numbers are float64
	if llm["max_tokens"] != float64(2000) {
		t.Errorf("expected llm.max_tokens=2000, got %v", llm["max_tokens"])
	}
}

func TestListValues_NoMask(t *testing.T) {
	cfg := &Config{LogLevel: "info"}
	cfg.LLM.APIKey = "sk-secret-key-1234"
	cfg.Telegram.Token = "bot-token-abcd"

	flat, err := ListValues(cfg, false)
	if err != nil {
		t.Fatalf("ListValues failed: %v", err)
	}
	if flat["llm.api_key"] != "sk-secret-key-1234" {
		t.Errorf("expected unmasked llm.api_key, got %v", flat["llm.api_key"])
	}
	if flat["telegram.token"] != "bot-token-abcd" {
		t.Errorf("expected unmasked telegram.token, got %v", flat["telegram.token"])
	}
	if flat["compaction.enabled"] != false {
		t.Errorf("expected compaction.enabled=false, got %v", flat["compaction.enabled"])
	}
}

func TestListValues_WithMask(t *testing.T) {
	cfg := &Config{LogLevel: "info"}
	cfg.LLM.APIKey = "sk-secret-key-1234"
	cfg.Telegram.Token = "bot-token-abcd"

	flat, err := ListValues(cfg, true)
	if err != nil {
		t.Fatalf("ListValues failed: %v", err)
	}
	if flat["llm.api_key"] != "***1234" {
		t.Errorf("expected masked llm.api_key=***1234, got %v", flat["llm.api_key"])
	}
	if flat["telegram.token"] != "***abcd" {
		t.Errorf("expected masked telegram.token=***abcd, got %v", flat["telegram.token"])
	}
	if flat["log_level"] != "info" {
		t.Errorf("expected log_level=info, got %v", flat["log_level"])
	}
}

func TestGetValue_ExistingKey(t *testing.T) {
	clearEnv(t)
	path := tempConfigPath(t)

	cfg := Default()
	cfg.LogLevel = "debug"
	cfg.MaxConcurrent = 8
	cfg.LLM.Model = "gpt-4"
	writeTestConfig(t, path, cfg)

	v, err := GetValue(path, "log_level")
	if err != nil {
		t.Fatalf("GetValue failed: %v", err)
	}
	if v != "debug" {
		t.Errorf("expected log_level=debug, got %v", v)
	}

	v, err = GetValue(path, "llm.model")
	if err != nil {
		t.Fatalf("GetValue failed: %v", err)
	}
	if v != "gpt-4" {
		t.Errorf("expected llm.model=gpt-4, got %v", v)
	}

	v, err = GetValue(path, "max_concurrent")
	if err != nil {
		t.Fatalf("GetValue failed: %v", err)
	}
	if v != float64(8) {
		t.Errorf("expected max_concurrent=8, got %v (%T)", v, v)
	}
}

func TestGetValue_UnknownKey(t *testing.T) {
	path := tempConfigPath(t)
	writeTestConfig(t, path, &Config{LogLevel: "info"})

	_, err := GetValue(path, "nonexistent.key")
	if err == nil {
		t.Fatal("expected error for unknown key, got nil")
	}
	expected := "unknown config key: nonexistent.key"
	if err.Error() != expected {
		t.Errorf("expected error %q, got %q", expected, err.Error())
	}
}

func TestSetValue_String(t *testing.T) {
	clearEnv(t)
	path := tempConfigPath(t)

	cfg := Default()
	cfg.LLM.Model = "amazon/nova-2-lite-v1:free"
	writeTestConfig(t, path, cfg)

	if err := SetValue(path, "log_level", "debug"); err != nil {
		t.Fatalf("SetValue failed: %v", err)
	}
	v, err := GetValue(path, "log_level")
	if err != nil {
		t.Fatalf("GetValue failed: %v", err)
	}
	if v != "debug" {
		t.Errorf("expected log_level=debug after set, got %v", v)
	}

	v, err = GetValue(path, "llm.model")
	if err != nil {
		t.Fatalf("GetValue failed: %v", err)
	}
	if v != "amazon/nova-2-lite-v1:free" {
		t.Errorf("expected llm.model preserved, got %v", v)
	}
}

func TestSetValue_Numeric(t *testing.T) {
	path := tempConfigPath(t)
	writeTestConfig(t, path, &Config{MaxConcurrent: 2})

	if err := SetValue(path, "llm.max_tokens", "1000"); err != nil {
		t.Fatalf("SetValue failed: %v", err)
	}
	v, err := GetValue(path, "llm.max_tokens")
	if err != nil {
		t.Fatalf("GetValue failed: %v", err)
	}
	if v != float64(1000) {
		t.Errorf("expected llm.max_tokens=1000, got %v (%T)", v, v)
	}
}

func TestSetValue_Boolean(t *testing.T) {
	path := tempConfigPath(t)
	writeTestConfig(t, path, Default())

	if err := SetValue(path, "compaction.enabled", "false"); err != nil {
		t.Fatalf("SetValue failed: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Compaction.Enabled {
		t.Error("expected compaction disabled after set")
	}
}

func TestSetValue_NewNestedKey(t *testing.T) {
	path := tempConfigPath(t)
	writeTestConfig(t, path, &Config{LogLevel: "info"})

	if err := SetValue(path, "custom.setting", "value"); err != nil {
		t.Fatalf("SetValue failed: %v", err)
	}
	v, err := GetValue(path, "custom.setting")
	if err != nil {
		t.Fatalf("GetValue failed: %v", err)
	}
	if v != "value" {
		t.Errorf("expected custom.setting=value, got %v", v)
	}
}

func TestSetValue_KeepsProviders(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg := Default()
	cfg.Tools.Providers = []ProviderConfig{{Name: "coincap", URL: "http://localhost:3000/mcp/coincap"}}
	writeTestConfig(t, path, cfg)

	if err := SetValue(path, "llm.model", "google/gemma-3n-e4b-it:free"); err != nil {
		t.Fatal(err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.LLM.Model != "google/gemma-3n-e4b-it:free" {
		t.Errorf("model = %q", loaded.LLM.Model)
	}
	if len(loaded.Tools.Providers) != 1 || loaded.Tools.Providers[0].Name != "coincap" {
		t.Errorf("providers lost: %+v", loaded.Tools.Providers)
	}
}

func TestSetValue_ProviderByIndex(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.json")
	cfg := Default()
	cfg.Tools.Providers = []ProviderConfig{
		{Name: "coincap", URL: "http://localhost:3000/mcp/coincap"},
		{Name: "files", URL: "http://localhost:3001/mcp"},
	}
	writeTestConfig(t, path, cfg)

	if err := SetValue(path, "tools.providers.1.disabled", "true"); err != nil {
		t.Fatal(err)
	}
	if err := SetValue(path, "tools.providers.0.headers.Authorization", "Bearer secret-token"); err != nil {
		t.Fatal(err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(loaded.Tools.Providers) != 2 || !loaded.Tools.Providers[1].Disabled || loaded.Tools.Providers[0].Disabled {
		t.Fatalf("providers = %+v", loaded.Tools.Providers)
	}
	if loaded.Tools.Providers[0].Headers["Authorization"] != "Bearer secret-token" {
		t.Errorf("header not stored: %+v", loaded.Tools.Providers[0].Headers)
	}

	masked, err := ListValues(loaded, true)
	if err != nil {
		t.Fatal(err)
	}
	if got := masked["tools.providers.0.headers.Authorization"]; got != "***oken" {
		t.Errorf("expected masked header, got %v", got)
	}
	if got := masked["tools.providers.1.name"]; got != "files" {
		t.Errorf("expected tools.providers.1.name=files, got %v", got)
	}
}

func TestSetValue_NonexistentFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "does-not-exist", "config.json")
	if err := SetValue(path, "log_level", "debug"); err == nil {
		t.Fatal("expected error for nonexistent file, got nil")
	}
}

func TestGetValue_NonexistentFile(t *testing.T) {
	path := tempConfigPath(t)

	// Load creates the file with defaults.
	v, err := GetValue(path, "log_level")
	if err != nil {
		t.Fatalf("GetValue on new config failed: %v", err)
	}
	if v != "info" {
		t.Errorf("expected default log_level=info, got %v", v)
	}
}

func TestSave_CreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "subdir", "config.json")

	if err := Save(path, &Config{LogLevel: "warn"}); err != nil {
		t.Fatalf("Save should create parent directory, got: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("config file should exist: %v", err)
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"trace": LevelTrace,
		"DEBUG": slog.LevelDebug,
		"info":  slog.LevelInfo,
		"Warn":  slog.LevelWarn,
		"error": slog.LevelError,
	}
	for in, want := range tests {
		got, err := ParseLogLevel(in)
		if err != nil || got != want {
			t.Errorf("ParseLogLevel(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := ParseLogLevel("loud"); err == nil {
		t.Error("expected error for unknown level")
	}
}

func TestNewLogger(t *testing.T) {
	for _, format := range []string{"text", "json", "pretty"} {
		var buf bytes.Buffer
		logger, err := NewLogger(&buf, slog.LevelInfo, format)
		if err != nil {
			t.Fatalf("%s: %v", format, err)
		}
		logger.Debug("hidden")
		logger.Info("request complete", "key", "telegram:1:2")
		out := buf.String()
		if strings.Contains(out, "hidden") {
			t.Errorf("%s: debug record leaked: %s", format, out)
		}
		if !strings.Contains(out, "request complete") || !strings.Contains(out, "telegram:1:2") {
			t.Errorf("%s: missing record: %s", format, out)
		}
	}
	if _, err := NewLogger(&bytes.Buffer{}, slog.LevelInfo, "xml"); err == nil {
		t.Error("expected error for unknown format")
	}
}
