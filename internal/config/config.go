// Package config loads toolchat's configuration from a JSON, YAML or TOML
// file and offers a flat dot-key view of it for `toolchat config`.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// DefaultModel is used when llm.model is empty.
const DefaultModel = "tngtech/deepseek-r1t2-chimera:free"

type Config struct {
	DataDir       string           `json:"data_dir"`
	LogLevel      string           `json:"log_level"`
	LogFormat     string           `json:"log_format"`
	MaxConcurrent int              `json:"max_concurrent"`
	LLM           LLMConfig        `json:"llm"`
	Tools         ToolsConfig      `json:"tools"`
	Compaction    CompactionConfig `json:"compaction"`
	Storage       StorageConfig    `json:"storage"`
	Monitor       MonitorConfig    `json:"monitor"`
	Telegram      TelegramConfig   `json:"telegram"`
	HTTP          HTTPConfig       `json:"http"`
}

type LLMConfig struct {
	BaseURL          string `json:"base_url"`
	APIKey           string `json:"api_key"`
	Model            string `json:"model"`
	MaxTokens        int    `json:"max_tokens"`
	Referer          string `json:"referer"`
	Title            string `json:"title"`
	TimeoutSeconds   int    `json:"timeout_seconds"`
	MaxContextTokens int    `json:"max_context_tokens"`
}

type ToolsConfig struct {
	MaxIterations           int              `json:"max_iterations"`
	Concurrency             int              `json:"concurrency"`
	DiscoveryTimeoutSeconds int              `json:"discovery_timeout_seconds"`
	Builtin                 bool             `json:"builtin"`
	Providers               []ProviderConfig `json:"providers"`
}

// ProviderConfig is one MCP endpoint. Providers register in list order, so
// the first one declaring a tool name owns it.
type ProviderConfig struct {
	Name           string            `json:"name"`
	URL            string            `json:"url"`
	Headers        map[string]string `json:"headers,omitempty"`
	TimeoutSeconds int               `json:"timeout_seconds,omitempty"`
	Disabled       bool              `json:"disabled,omitempty"`
}

type CompactionConfig struct {
	Enabled          bool `json:"enabled"`
	Threshold        int  `json:"threshold"`
	RecentWindow     int  `json:"recent_window"`
	SummaryMaxTokens int  `json:"summary_max_tokens"`
}

type StorageConfig struct {
	// Driver is "file" or "sqlite".
	Driver string `json:"driver"`
}

type MonitorConfig struct {
	Enabled      bool   `json:"enabled"`
	PriceFeedURL string `json:"price_feed_url"`
	ReportTool   string `json:"report_tool"`
	MaxTokens    int    `json:"max_tokens"`
	// Model overrides llm.model for analyses.
	Model string `json:"model"`
}

type TelegramConfig struct {
	Token string `json:"token"`
}

type HTTPConfig struct {
	Enabled bool   `json:"enabled"`
	Listen  string `json:"listen"`
}

// Default returns the configuration used for missing keys.
func Default() *Config {
	cfg := &Config{
		DataDir:       filepath.Join(os.Getenv("HOME"), ".toolchat"),
		LogLevel:      "info",
		LogFormat:     "text",
		MaxConcurrent: 2,
	}
	cfg.LLM = LLMConfig{
		BaseURL:          "https://openrouter.ai/api/v1",
		Model:            DefaultModel,
		Referer:          "https://github.com/user/toolchat",
		Title:            "toolchat",
		TimeoutSeconds:   30,
		MaxContextTokens: 32000,
	}
	cfg.Tools = ToolsConfig{
		MaxIterations:           10,
		Concurrency:             1,
		DiscoveryTimeoutSeconds: 15,
		Builtin:                 true,
		Providers:               []ProviderConfig{},
	}
	cfg.Compaction = CompactionConfig{
		Enabled:          true,
		Threshold:        10,
		RecentWindow:     10,
		SummaryMaxTokens: 500,
	}
	cfg.Storage.Driver = "file"
	cfg.Monitor = MonitorConfig{
		Enabled:      true,
		PriceFeedURL: "http://localhost:3000",
		ReportTool:   "save_bitcoin_report",
		MaxTokens:    500,
	}
	cfg.HTTP.Listen = "127.0.0.1:8484"
	return cfg
}

// DefaultPath returns $HOME/.toolchat/config.json.
func DefaultPath() string {
	return filepath.Join(os.Getenv("HOME"), ".toolchat", "config.json")
}

type format int

const (
	formatJSON format = iota
	formatYAML
	formatTOML
)

func formatOf(path string) format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return formatYAML
	case ".toml":
		return formatTOML
	default:
		return formatJSON
	}
}

// Load reads path over the defaults and applies environment overrides.
// A missing file is created with the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	if _, err := os.Stat(path); err == nil {
		raw, err := readMap(path)
		if err != nil {
			return nil, err
		}
		// Decoding goes through JSON so every format shares the json tags.
		data, err := json.Marshal(raw)
		if err != nil {
			return nil, fmt.Errorf("normalize config: %w", err)
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("decode config %s: %w", path, err)
		}
	} else if os.IsNotExist(err) {
		if err := Save(path, cfg); err != nil {
			return nil, err
		}
	} else {
		return nil, fmt.Errorf("stat config: %w", err)
	}

	applyEnv(cfg)
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = DefaultModel
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("OPENROUTER_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("OPENROUTER_BASE_URL"); v != "" {
		cfg.LLM.BaseURL = v
	}
	if v := os.Getenv("TOOLCHAT_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Telegram.Token = v
	}
}

// readMap decodes the file at path into a generic map. YAML and TOML
// content is passed through os.ExpandEnv first.
func readMap(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	m := make(map[string]any)
	switch formatOf(path) {
	case formatYAML:
		if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &m); err != nil {
			return nil, fmt.Errorf("parse yaml config %s: %w", path, err)
		}
	case formatTOML:
		if _, err := toml.Decode(os.ExpandEnv(string(data)), &m); err != nil {
			return nil, fmt.Errorf("parse toml config %s: %w", path, err)
		}
	default:
		if len(bytes.TrimSpace(data)) == 0 {
			return m, nil
		}
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("parse json config %s: %w", path, err)
		}
	}
	return m, nil
}

// writeMap encodes v in the format chosen by path's extension and
// replaces the file atomically.
func writeMap(path string, v any) error {
	var (
		data []byte
		err  error
	)
	switch formatOf(path) {
	case formatYAML:
		data, err = yaml.Marshal(v)
	case formatTOML:
		var buf bytes.Buffer
		err = toml.NewEncoder(&buf).Encode(v)
		data = buf.Bytes()
	default:
		data, err = json.MarshalIndent(v, "", "  ")
		data = append(data, '\n')
	}
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename config: %w", err)
	}
	return nil
}

// Save writes cfg to path.
func Save(path string, cfg *Config) error {
	m, err := ToMap(cfg)
	if err != nil {
		return err
	}
	return writeMap(path, m)
}

// ToMap converts cfg to a nested map keyed by the json tags. Numbers are
// float64.
func ToMap(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return m, nil
}

// ListValues returns the flattened configuration, with secrets masked
// when mask is set.
func ListValues(cfg *Config, mask bool) (map[string]any, error) {
	m, err := ToMap(cfg)
	if err != nil {
		return nil, err
	}
	flat := Flatten(m)
	if mask {
		flat = MaskSecrets(flat)
	}
	return flat, nil
}

// GetValue loads path and returns the value at key.
func GetValue(path, key string) (any, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	flat, err := ListValues(cfg, false)
	if err != nil {
		return nil, err
	}
	if v, ok := flat[key]; ok {
		return v, nil
	}

	// Keys outside the struct survive in the file.
	raw, err := readMap(path)
	if err != nil {
		return nil, err
	}
	if v, ok := Flatten(raw)[key]; ok {
		return v, nil
	}
	return nil, fmt.Errorf("unknown config key: %s", key)
}

// SetValue sets key in the existing file at path. value is parsed as JSON
// when possible (numbers, booleans), otherwise stored as a string.
func SetValue(path, key, value string) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("config file: %w", err)
	}
	raw, err := readMap(path)
	if err != nil {
		return err
	}
	flat := Flatten(raw)

	var parsed any
	if err := json.Unmarshal([]byte(value), &parsed); err != nil {
		parsed = value
	}
	flat[key] = parsed

	return writeMap(path, Unflatten(flat))
}
