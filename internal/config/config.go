// Package config handles application configuration and environment loading.
package config

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "ANALYST_"

// DefaultConfigFile is looked up in the working directory when no file is
// given explicitly.
const DefaultConfigFile = "analyst.yaml"

// Source types.
const (
	SourceS3       = "s3"
	SourceGCS      = "gcs"
	SourceAzure    = "azure"
	SourceLocal    = "local"
	SourcePostgres = "postgres"
)

// EngineConfig is the DuckDB connection profile.
type EngineConfig struct {
	Path        string   `koanf:"path"` // empty for an in-memory database
	MemoryLimit string   `koanf:"memory_limit"`
	Threads     int      `koanf:"threads"`
	Extensions  []string `koanf:"extensions"`
}

// CatalogConfig controls schema discovery.
type CatalogConfig struct {
	TTL             time.Duration `koanf:"ttl"`
	RefreshTimeout  time.Duration `koanf:"refresh_timeout"`
	Concurrency     int           `koanf:"concurrency"`
	RefreshSchedule string        `koanf:"refresh_schedule"` // cron syntax; empty disables background refresh
	MaxTables       int           `koanf:"max_tables"`
	SampleValues    int           `koanf:"sample_values"`
	CountRows       bool          `koanf:"count_rows"`
	DateRange       bool          `koanf:"date_range"`
}

// SourceConfig declares one data source. Credentials are read-only.
type SourceConfig struct {
	Name string `koanf:"name"`
	Type string `koanf:"type"`

	// Object stores.
	URI          string `koanf:"uri"`
	Region       string `koanf:"region"`
	Endpoint     string `koanf:"endpoint"`
	KeyID        string `koanf:"key_id"`
	Secret       string `koanf:"secret"`
	SessionToken string `koanf:"session_token"`
	URLStyle     string `koanf:"url_style"`
	UseSSL       *bool  `koanf:"use_ssl"`

	// GCS: KeyFile authenticates listing, KeyID/Secret (HMAC) reading.
	KeyFile string `koanf:"key_file"`

	// Azure.
	AccountName      string `koanf:"account_name"`
	AccountKey       string `koanf:"account_key"`
	ConnectionString string `koanf:"connection_string"`

	// Local files.
	Paths []string `koanf:"paths"`

	// PostgreSQL.
	DSN     string   `koanf:"dsn"`
	Schemas []string `koanf:"schemas"`
}

// AgentConfig bounds one turn.
type AgentConfig struct {
	MaxAttempts  int           `koanf:"max_attempts"`
	QueryTimeout time.Duration `koanf:"query_timeout"`
	TurnTimeout  time.Duration `koanf:"turn_timeout"`
	MaxResults   int           `koanf:"max_results"`
	HistoryTurns int           `koanf:"history_turns"`
	DefaultLimit int           `koanf:"default_limit"`
	MaxLimit     int           `koanf:"max_limit"`
	StrictLimit  bool          `koanf:"strict_limit"`
}

// LLMConfig configures the chat model endpoint.
type LLMConfig struct {
	APIKey            string        `koanf:"api_key"`
	BaseURL           string        `koanf:"base_url"`
	Model             string        `koanf:"model"`
	Timeout           time.Duration `koanf:"timeout"`
	RequestsPerSecond float64       `koanf:"requests_per_second"`
	Burst             int           `koanf:"burst"`
}

// CheckpointConfig locates the session store.
type CheckpointConfig struct {
	Path string `koanf:"path"`
}

// Config holds the configuration of the analyst.
type Config struct {
	LogLevel   string           `koanf:"log_level"`  // debug, info, warn, error (default "info")
	LogFormat  string           `koanf:"log_format"` // text or json
	Output     string           `koanf:"output"`     // table, json or yaml
	Engine     EngineConfig     `koanf:"engine"`
	Catalog    CatalogConfig    `koanf:"catalog"`
	Sources    []SourceConfig   `koanf:"sources"`
	Agent      AgentConfig      `koanf:"agent"`
	LLM        LLMConfig        `koanf:"llm"`
	Checkpoint CheckpointConfig `koanf:"checkpoint"`

	// File is the config file that was loaded, if any.
	File string `koanf:"-"`

	// Warnings collects non-fatal warnings generated during config loading.
	// These are logged by the caller after the logger is initialised.
	Warnings []string `koanf:"-"`
}

func defaults() map[string]any {
	return map[string]any{
		"log_level":               "info",
		"log_format":              "text",
		"output":                  "table",
		"catalog.ttl":             "5m",
		"catalog.refresh_timeout": "2m",
		"catalog.concurrency":     4,
		"catalog.max_tables":      20,
		"catalog.sample_values":   3,
		"catalog.count_rows":      true,
		"catalog.date_range":      true,
		"agent.max_attempts":      3,
		"agent.query_timeout":     "30s",
		"agent.max_results":       1000,
		"agent.history_turns":     5,
		"agent.default_limit":     100,
		"agent.max_limit":         1000,
		"llm.model":               "gpt-4o-mini",
		"llm.timeout":             "60s",
		"llm.requests_per_second": 0,
		"llm.burst":               1,
		"checkpoint.path":         "analyst_sessions.sqlite",
	}
}

// sections are the nested keys an environment variable may address, e.g.
// ANALYST_AGENT_QUERY_TIMEOUT -> agent.query_timeout.
var sections = []string{"engine", "catalog", "agent", "llm", "checkpoint"}

func envKey(name string) string {
	key := strings.ToLower(strings.TrimPrefix(name, EnvPrefix))
	for _, s := range sections {
		if rest, ok := strings.CutPrefix(key, s+"_"); ok {
			return s + "." + rest
		}
	}
	return key
}

// flagKeys maps CLI flags onto config keys. Unlisted flags are not config.
var flagKeys = map[string]string{
	"log-level":     "log_level",
	"log-format":    "log_format",
	"output":        "output",
	"database":      "engine.path",
	"model":         "llm.model",
	"query-timeout": "agent.query_timeout",
	"max-attempts":  "agent.max_attempts",
	"strict-limit":  "agent.strict_limit",
	"checkpoint":    "checkpoint.path",
}

// Load merges configuration sources. Precedence (highest to lowest):
// flags > ANALYST_ environment variables > config file > defaults.
// An empty path loads analyst.yaml from the working directory if present.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path == "" {
		if _, err := os.Stat(DefaultConfigFile); err == nil {
			path = DefaultConfigFile
		}
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, interface{}) {
			key, ok := flagKeys[f.Name]
			if !ok || !f.Changed {
				return "", nil
			}
			return key, posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	cfg.File = path

	if cfg.LLM.APIKey == "" {
		cfg.LLM.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	for i := range cfg.Sources {
		expandSecrets(&cfg.Sources[i])
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if len(cfg.Sources) == 0 {
		cfg.Warnings = append(cfg.Warnings, "no data sources configured; the catalog will be empty")
	}
	if !cfg.HasLLM() {
		cfg.Warnings = append(cfg.Warnings, "no LLM endpoint configured; set ANALYST_LLM_API_KEY, OPENAI_API_KEY or llm.base_url")
	}
	return &cfg, nil
}

// expandSecrets resolves ${VAR} references in credential fields so config
// files need not hold secrets.
func expandSecrets(s *SourceConfig) {
	for _, p := range []*string{&s.KeyID, &s.Secret, &s.SessionToken, &s.AccountKey, &s.ConnectionString, &s.DSN} {
		*p = os.ExpandEnv(*p)
	}
}

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log_format %q: must be text or json", c.LogFormat)
	}
	switch c.Output {
	case "table", "json", "yaml":
	default:
		return fmt.Errorf("invalid output %q: must be table, json or yaml", c.Output)
	}
	if c.Agent.MaxAttempts < 1 || c.Agent.MaxAttempts > 3 {
		return fmt.Errorf("agent.max_attempts must be between 1 and 3, got %d", c.Agent.MaxAttempts)
	}
	if c.Agent.MaxLimit > 0 && c.Agent.DefaultLimit > c.Agent.MaxLimit {
		return fmt.Errorf("agent.default_limit (%d) exceeds agent.max_limit (%d)", c.Agent.DefaultLimit, c.Agent.MaxLimit)
	}

	seen := make(map[string]bool, len(c.Sources))
	for i, s := range c.Sources {
		if s.Name == "" {
			return fmt.Errorf("sources[%d]: name is required", i)
		}
		if seen[s.Name] {
			return fmt.Errorf("sources[%d]: duplicate source name %q", i, s.Name)
		}
		seen[s.Name] = true
		if err := s.validate(); err != nil {
			return fmt.Errorf("source %s: %w", s.Name, err)
		}
	}
	return nil
}

func (s *SourceConfig) validate() error {
	switch s.Type {
	case SourceS3, SourceGCS, SourceAzure:
		if s.URI == "" {
			return fmt.Errorf("uri is required for %s sources", s.Type)
		}
		if s.Type == SourceAzure && s.ConnectionString == "" && (s.AccountName == "" || s.AccountKey == "") {
			return fmt.Errorf("azure sources need connection_string or account_name and account_key")
		}
	case SourceLocal:
		if len(s.Paths) == 0 {
			return fmt.Errorf("paths is required for local sources")
		}
	case SourcePostgres:
		if s.DSN == "" {
			return fmt.Errorf("dsn is required for postgres sources")
		}
	default:
		return fmt.Errorf("unknown source type %q", s.Type)
	}
	return nil
}

// HasLLM reports whether a chat model endpoint is configured.
func (c *Config) HasLLM() bool {
	return c.LLM.APIKey != "" || c.LLM.BaseURL != ""
}

// SlogLevel maps the LogLevel string to an slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// LoadDotEnv reads a .env file and sets any variables not already in the environment.
// Lines must be in KEY=VALUE format. Comments (#) and blank lines are skipped.
func LoadDotEnv(path string) error {
	f, err := os.Open(path) //nolint:gosec // path is caller-controlled
	if err != nil {
		if os.IsNotExist(err) {
			return nil // .env not found is not an error
		}
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close() //nolint:errcheck

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = stripQuotes(strings.TrimSpace(value))
		if _, set := os.LookupEnv(key); !set {
			if err := os.Setenv(key, value); err != nil {
				return fmt.Errorf("setenv %s: %w", key, err)
			}
		}
	}
	return scanner.Err()
}

// stripQuotes removes surrounding double or single quotes from a value.
func stripQuotes(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}
