package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// FileName is the project config file at the project root.
const FileName = "finledger.yaml"

// ErrNotInitialized is returned when no finledger.yaml exists at the root.
var ErrNotInitialized = errors.New("not a finledger project (run `finledger init`)")

// Environment overrides, read after .env is loaded.
const (
	EnvRoot         = "FINLEDGER_ROOT"
	EnvDedupBackend = "FINLEDGER_DEDUP_BACKEND"
	EnvLogLevel     = "FINLEDGER_LOG_LEVEL"
	EnvEngine       = "FINLEDGER_ENGINE"
)

// Config represents the top-level finledger.yaml configuration.
type Config struct {
	Ledger LedgerConfig `yaml:"ledger"`
	Dedup  DedupConfig  `yaml:"dedup"`
	Review ReviewConfig `yaml:"review"`
	Engine EngineConfig `yaml:"engine"`
	Git    GitConfig    `yaml:"git"`
	Log    LogConfig    `yaml:"log"`
}

// LedgerConfig controls how postings are rendered.
type LedgerConfig struct {
	Commodity            string `yaml:"commodity"`
	UncategorizedAccount string `yaml:"uncategorized_account"`
}

// DedupConfig selects the fingerprint store backend.
type DedupConfig struct {
	Backend string `yaml:"backend"` // "sqlite" or "bolt"
}

// ReviewConfig controls review-time validation.
type ReviewConfig struct {
	CheckWithEngine bool `yaml:"check_with_engine"`
}

// EngineConfig names the external accounting engine binary.
type EngineConfig struct {
	Command string `yaml:"command"`
}

// GitConfig controls git integration after posting.
type GitConfig struct {
	AutoCommit  bool   `yaml:"auto_commit"`
	AuthorName  string `yaml:"author_name"`
	AuthorEmail string `yaml:"author_email"`
}

// LogConfig sets the default log level.
type LogConfig struct {
	Level string `yaml:"level"`
}

// Load reads a finledger.yaml file from disk. Missing keys take defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// LoadProject loads .env from the root (if present), then finledger.yaml,
// then applies environment overrides.
func LoadProject(root string) (*Config, error) {
	envPath := filepath.Join(root, ".env")
	if _, err := os.Stat(envPath); err == nil {
		if err := godotenv.Load(envPath); err != nil {
			return nil, fmt.Errorf("loading %s: %w", envPath, err)
		}
	}

	cfg, err := Load(filepath.Join(root, FileName))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", root, ErrNotInitialized)
	}
	if err != nil {
		return nil, err
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config after environment overrides: %w", err)
	}
	return cfg, nil
}

// ResolveRoot picks the project root: the flag value, else FINLEDGER_ROOT
// (after loading ./.env), else the current directory.
func ResolveRoot(flagValue string) (string, error) {
	root := flagValue
	if root == "" {
		_ = godotenv.Load()
		root = getEnvOrDefault(EnvRoot, ".")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolving root %q: %w", root, err)
	}
	return abs, nil
}

// Save writes a Config to a YAML file.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

// Default returns a Config with sensible defaults for a new project.
func Default() *Config {
	return &Config{
		Ledger: LedgerConfig{
			Commodity:            "$",
			UncategorizedAccount: "Expenses:Uncategorized",
		},
		Dedup: DedupConfig{
			Backend: "sqlite",
		},
		Engine: EngineConfig{
			Command: "hledger",
		},
		Git: GitConfig{
			AutoCommit:  false,
			AuthorName:  "finledger",
			AuthorEmail: "finledger@localhost",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Validate checks values that would otherwise fail late in a run.
func (c *Config) Validate() error {
	switch c.Dedup.Backend {
	case "sqlite", "bolt":
	default:
		return fmt.Errorf("dedup.backend must be sqlite or bolt, got %q", c.Dedup.Backend)
	}
	if c.Ledger.Commodity == "" {
		return errors.New("ledger.commodity must not be empty")
	}
	if c.Ledger.UncategorizedAccount == "" {
		return errors.New("ledger.uncategorized_account must not be empty")
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Dedup.Backend = getEnvOrDefault(EnvDedupBackend, c.Dedup.Backend)
	c.Log.Level = getEnvOrDefault(EnvLogLevel, c.Log.Level)
	c.Engine.Command = getEnvOrDefault(EnvEngine, c.Engine.Command)
}

// getEnvOrDefault returns the value of the environment variable or a default value if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
