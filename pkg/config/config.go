// Package config loads the YAML configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults.
const (
	DefaultBind          = "0.0.0.0:8080"
	DefaultTitle         = "IRC Logs"
	DefaultSearchLimit   = 10000
	DefaultLogsDir       = "./logs"
	DefaultProvider      = "anthropic"
	DefaultModel         = "claude-haiku-4-5-20251001"
	DefaultGeminiModel   = "gemini-2.5-flash"
	DefaultAPIURL        = "https://api.anthropic.com"
	DefaultMaxConcurrent = 1
	DefaultMaxToolCalls  = 30
	DefaultMaxTokens     = 4096
	DefaultOutputDir     = "./ask"
)

// ErrNotExist is returned by Load when the file is missing.
var ErrNotExist = errors.New("config file does not exist")

// Config is the top-level configuration.
type Config struct {
	Bind        string    `yaml:"bind"`
	Title       string    `yaml:"title"`
	SearchLimit int       `yaml:"search_limit"`
	LogsDirs    []string  `yaml:"logs_dirs"`
	BasePath    string    `yaml:"base_path,omitempty"`
	AI          *AIConfig `yaml:"ai,omitempty"`
	Log         LogConfig `yaml:"log,omitempty"`
}

// AIConfig enables the ask endpoints. A nil AIConfig disables them.
type AIConfig struct {
	Provider      string `yaml:"provider,omitempty"`
	APIKey        string `yaml:"api_key"`
	Model         string `yaml:"model,omitempty"`
	OutputDir     string `yaml:"output_dir,omitempty"`
	BaseURL       string `yaml:"base_url,omitempty"`
	APIURL        string `yaml:"api_url,omitempty"`
	MaxConcurrent int    `yaml:"max_concurrent,omitempty"`
	MaxToolCalls  int    `yaml:"max_tool_calls,omitempty"`
	MaxTokens     int    `yaml:"max_tokens,omitempty"`
	SystemPrompt  string `yaml:"system_prompt,omitempty"`
	CatalogPath   string `yaml:"catalog_path,omitempty"`

	// RequestTimeout bounds one model call. Zero means no timeout.
	RequestTimeout time.Duration `yaml:"request_timeout,omitempty"`

	ReportBudgetExhausted bool `yaml:"report_budget_exhausted,omitempty"`
	ReportWriteErrors     bool `yaml:"report_write_errors,omitempty"`
}

// LogConfig controls process logging.
type LogConfig struct {
	Level      string `yaml:"level,omitempty"`
	File       string `yaml:"file,omitempty"`
	MaxSizeMB  int    `yaml:"max_size_mb,omitempty"`
	MaxBackups int    `yaml:"max_backups,omitempty"`
	MaxAgeDays int    `yaml:"max_age_days,omitempty"`
}

// Default returns the configuration written for a fresh install.
func Default() *Config {
	return &Config{
		Bind:        DefaultBind,
		Title:       DefaultTitle,
		SearchLimit: DefaultSearchLimit,
		LogsDirs:    []string{DefaultLogsDir},
	}
}

// Load reads and normalizes the file at path. A missing file yields an
// error matching ErrNotExist.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", path, ErrNotExist)
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML and applies defaults.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	cfg.LogsDirs = nil
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Bind == "" {
		c.Bind = DefaultBind
	}
	if c.Title == "" {
		c.Title = DefaultTitle
	}
	if c.SearchLimit <= 0 {
		c.SearchLimit = DefaultSearchLimit
	}
	if len(c.LogsDirs) == 0 {
		c.LogsDirs = []string{DefaultLogsDir}
	}
	c.BasePath = NormalizeBasePath(c.BasePath)
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}

	ai := c.AI
	if ai == nil {
		return
	}
	if ai.Provider == "" {
		ai.Provider = DefaultProvider
	}
	if ai.Model == "" {
		ai.Model = DefaultModel
		if ai.Provider == "gemini" {
			ai.Model = DefaultGeminiModel
		}
	}
	if ai.APIURL == "" {
		ai.APIURL = DefaultAPIURL
	}
	if ai.OutputDir == "" {
		ai.OutputDir = DefaultOutputDir
	}
	if ai.MaxConcurrent <= 0 {
		ai.MaxConcurrent = DefaultMaxConcurrent
	}
	if ai.MaxToolCalls <= 0 {
		ai.MaxToolCalls = DefaultMaxToolCalls
	}
	if ai.MaxTokens <= 0 {
		ai.MaxTokens = DefaultMaxTokens
	}
	if ai.CatalogPath == "" {
		ai.CatalogPath = filepath.Join(ai.OutputDir, "catalog.db")
	}
}

// FillAPIKey sets an empty ai.api_key from the provider's environment
// variable.
func (c *Config) FillAPIKey(getenv func(string) string) {
	if c.AI == nil || c.AI.APIKey != "" {
		return
	}
	switch c.AI.Provider {
	case "gemini":
		c.AI.APIKey = getenv("GEMINI_API_KEY")
	default:
		c.AI.APIKey = getenv("ANTHROPIC_API_KEY")
	}
}

// Validate reports configuration that cannot be served.
func (c *Config) Validate() error {
	if c.AI == nil {
		return nil
	}
	switch c.AI.Provider {
	case "anthropic", "gemini":
	default:
		return fmt.Errorf("unknown ai.provider %q", c.AI.Provider)
	}
	if c.AI.APIKey == "" {
		return errors.New("ai.api_key is required when ai is configured")
	}
	if c.AI.RequestTimeout < 0 {
		return errors.New("ai.request_timeout must not be negative")
	}
	return nil
}

// PublicURL is the prefix of artifact links: ai.base_url when set, else
// the ask path under base_path.
func (c *Config) PublicURL() string {
	if c.AI != nil && c.AI.BaseURL != "" {
		return strings.TrimSuffix(c.AI.BaseURL, "/")
	}
	return c.BasePath + "/ask"
}

// NormalizeBasePath turns "irc", "/irc/" and "/irc" into "/irc", and the
// empty or root path into "".
func NormalizeBasePath(p string) string {
	p = strings.Trim(p, "/")
	if p == "" {
		return ""
	}
	return "/" + p
}

const defaultAIHint = `#base_path: /irc
#ai:
#  api_key: sk-ant-api03-...
#  model: claude-haiku-4-5-20251001
#  output_dir: /var/lib/irc-logs/ask
#  base_url: https://example.com/ask
#  max_concurrent: 1
`

// WriteDefault writes the default configuration to path, followed by a
// commented-out ai section.
func WriteDefault(path string) error {
	data, err := yaml.Marshal(Default())
	if err != nil {
		return fmt.Errorf("encoding default config: %w", err)
	}
	data = append(data, defaultAIHint...)
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing default config: %w", err)
	}
	return nil
}
