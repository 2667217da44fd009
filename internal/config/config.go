package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/sitetrust/sitetrust/internal/heuristic"
	"github.com/sitetrust/sitetrust/internal/policy"
)

// Environment variables holding secrets.
const (
	EnvRadarToken     = "SITETRUST_RADAR_TOKEN"
	EnvRadarAccountID = "SITETRUST_RADAR_ACCOUNT_ID"
	EnvVirusTotalKey  = "SITETRUST_VT_API_KEY"
	EnvRedisURL       = "SITETRUST_REDIS_URL"
)

// defaultRadarMaxWait matches the radar adapter's own default.
const defaultRadarMaxWait = 60 * time.Second

// Config is the sitetrust configuration.
type Config struct {
	Scale      string           `yaml:"scale"`
	LogLevel   string           `yaml:"log_level"`
	Blocklists BlocklistConfig  `yaml:"blocklists"`
	Timeouts   TimeoutConfig    `yaml:"timeouts"`
	Providers  ProvidersConfig  `yaml:"providers"`
	Heuristics HeuristicsConfig `yaml:"heuristics"`
	Reports    ReportsConfig    `yaml:"reports"`
	Server     ServerConfig     `yaml:"server"`

	// Weights optionally overrides fields of the profile selected by Scale.
	Weights yaml.Node `yaml:"weights"`

	// Secrets come from the environment, never from YAML.
	Secrets Secrets `yaml:"-"`

	// Source tells where the YAML was read from (not in YAML)
	Source string `yaml:"-"`
}

// BlocklistConfig selects where lists come from.
type BlocklistConfig struct {
	// Dir is a directory of "*.txt" lists. Empty uses the built-in lists.
	Dir string `yaml:"dir"`
	// URL is a base URL serving lists; it takes precedence over Dir.
	URL string `yaml:"url"`
	// Names restricts analysis to these lists. Empty means every list.
	Names     []string      `yaml:"names"`
	CacheSize int           `yaml:"cache_size"`
	CacheTTL  time.Duration `yaml:"cache_ttl"`
	Watch     bool          `yaml:"watch"`
}

// TimeoutConfig bounds the analysis.
type TimeoutConfig struct {
	Analysis time.Duration `yaml:"analysis"`
	Probe    time.Duration `yaml:"probe"`
}

// ProvidersConfig configures the threat-intel adapters.
type ProvidersConfig struct {
	Radar      RadarConfig      `yaml:"radar"`
	VirusTotal VirusTotalConfig `yaml:"virustotal"`
}

// RadarConfig configures the URL scanner.
type RadarConfig struct {
	Enabled      bool          `yaml:"enabled"`
	BaseURL      string        `yaml:"base_url"`
	Timeout      time.Duration `yaml:"timeout"`
	PollInterval time.Duration `yaml:"poll_interval"`
	MaxAttempts  int           `yaml:"max_attempts"`
	MaxWait      time.Duration `yaml:"max_wait"`
}

// VirusTotalConfig configures the reputation lookup.
type VirusTotalConfig struct {
	Enabled           bool          `yaml:"enabled"`
	BaseURL           string        `yaml:"base_url"`
	Timeout           time.Duration `yaml:"timeout"`
	RequestsPerMinute int           `yaml:"requests_per_minute"`
}

// HeuristicsConfig configures the domain-name rules.
type HeuristicsConfig struct {
	Patterns       []string `yaml:"patterns"`
	RepeatedRun    int      `yaml:"repeated_run"`
	SuspiciousTLDs []string `yaml:"suspicious_tlds"`

	// Compiled regex (not in YAML)
	compiledPatterns []*regexp.Regexp
}

// ReportsConfig selects the report store.
type ReportsConfig struct {
	Backend   string `yaml:"backend"` // "sqlite" | "redis" | "none"
	Path      string `yaml:"path"`
	RedisURL  string `yaml:"redis_url"`
	KeyPrefix string `yaml:"key_prefix"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// Secrets are credentials read from the environment.
type Secrets struct {
	RadarToken     string
	RadarAccountID string
	VirusTotalKey  string
}

// LoadConfig loads configuration with 3-level fallback:
// 1. Explicit path (--config flag)
// 2. Home directory (~/.sitetrust/config.yaml)
// 3. Embedded default (passed as defaultData)
func LoadConfig(path string, defaultData []byte) (*Config, error) {
	data, source, err := readConfig(path, defaultData)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", source, err)
	}
	cfg.Source = source
	cfg.applyDefaults()
	cfg.applyEnv()

	// Compile all regex patterns
	for _, src := range cfg.Heuristics.Patterns {
		re, err := regexp.Compile(src)
		if err != nil {
			return nil, fmt.Errorf("heuristics pattern %q: %w", src, err)
		}
		cfg.Heuristics.compiledPatterns = append(cfg.Heuristics.compiledPatterns, re)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func readConfig(path string, defaultData []byte) ([]byte, string, error) {
	// Level 1: explicit path
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, "", err
		}
		return data, path, nil
	}

	// Level 2: home directory
	if home, err := os.UserHomeDir(); err == nil {
		homeConfig := filepath.Join(home, ".sitetrust", "config.yaml")
		if data, err := os.ReadFile(homeConfig); err == nil {
			return data, homeConfig, nil
		}
	}

	// Level 3: embedded default
	return defaultData, "embedded", nil
}

// LoadEnv loads KEY=value pairs from an env file into the process
// environment without overriding variables that are already set. An empty
// path tries ".env" in the working directory; a missing file is fine.
func LoadEnv(path string) error {
	explicit := path != ""
	if !explicit {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Scale == "" {
		c.Scale = policy.Scale100
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Timeouts.Analysis == 0 {
		c.Timeouts.Analysis = 90 * time.Second
	}
	if c.Timeouts.Probe == 0 {
		c.Timeouts.Probe = 4 * time.Second
	}
	if c.Heuristics.Patterns == nil {
		c.Heuristics.Patterns = append([]string(nil), heuristic.DefaultPatternSources...)
	}
	if c.Heuristics.RepeatedRun == 0 {
		c.Heuristics.RepeatedRun = 4
	}
	if c.Heuristics.SuspiciousTLDs == nil {
		c.Heuristics.SuspiciousTLDs = append([]string(nil), heuristic.DefaultSuspiciousTLDs...)
	}
	if c.Reports.Backend == "" {
		c.Reports.Backend = "sqlite"
	}
	if c.Reports.Path == "" {
		if home, err := os.UserHomeDir(); err == nil {
			c.Reports.Path = filepath.Join(home, ".sitetrust", "reports.db")
		}
	}
	if c.Server.Addr == "" {
		c.Server.Addr = "127.0.0.1:8080"
	}
}

func (c *Config) applyEnv() {
	c.Secrets = Secrets{
		RadarToken:     os.Getenv(EnvRadarToken),
		RadarAccountID: os.Getenv(EnvRadarAccountID),
		VirusTotalKey:  os.Getenv(EnvVirusTotalKey),
	}
	if v := os.Getenv(EnvRedisURL); v != "" {
		c.Reports.RedisURL = v
	}
}

// Validate rejects inconsistent settings.
func (c *Config) Validate() error {
	if _, err := c.ScoringWeights(); err != nil {
		return err
	}
	if c.Timeouts.Analysis <= 0 || c.Timeouts.Probe <= 0 {
		return fmt.Errorf("timeouts must be positive")
	}
	if r := c.Providers.Radar; r.Enabled {
		maxWait := r.MaxWait
		if maxWait <= 0 {
			maxWait = defaultRadarMaxWait
		}
		if maxWait >= c.Timeouts.Analysis {
			return fmt.Errorf("providers.radar.max_wait (%s) must be shorter than timeouts.analysis (%s)", maxWait, c.Timeouts.Analysis)
		}
	}
	if c.Heuristics.RepeatedRun < 0 {
		return fmt.Errorf("heuristics.repeated_run must not be negative")
	}
	switch c.Reports.Backend {
	case "sqlite":
		if c.Reports.Path == "" {
			return fmt.Errorf("reports.path is required for the sqlite backend")
		}
	case "redis":
		if c.Reports.RedisURL == "" {
			return fmt.Errorf("reports.redis_url (or %s) is required for the redis backend", EnvRedisURL)
		}
	case "none":
	default:
		return fmt.Errorf("unknown reports.backend %q", c.Reports.Backend)
	}
	return nil
}

// ScoringWeights returns the profile for Scale with any overrides applied.
func (c *Config) ScoringWeights() (policy.Weights, error) {
	w, err := policy.ForScale(c.Scale)
	if err != nil {
		return policy.Weights{}, err
	}
	if !c.Weights.IsZero() {
		if err := c.Weights.Decode(&w); err != nil {
			return policy.Weights{}, fmt.Errorf("weights: %w", err)
		}
	}
	if err := w.Validate(); err != nil {
		return policy.Weights{}, err
	}
	return w, nil
}

// HeuristicRules returns the compiled domain rules.
func (c *Config) HeuristicRules() heuristic.Rules {
	return heuristic.Rules{
		Patterns:       c.Heuristics.compiledPatterns,
		RepeatedRun:    c.Heuristics.RepeatedRun,
		SuspiciousTLDs: c.Heuristics.SuspiciousTLDs,
	}
}

// RadarEnabled reports whether the URL scanner can be used.
func (c *Config) RadarEnabled() bool {
	return c.Providers.Radar.Enabled && c.Secrets.RadarToken != "" && c.Secrets.RadarAccountID != ""
}

// VirusTotalEnabled reports whether the reputation lookup can be used.
func (c *Config) VirusTotalEnabled() bool {
	return c.Providers.VirusTotal.Enabled && c.Secrets.VirusTotalKey != ""
}
