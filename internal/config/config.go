// Package config loads the engine configuration: a YAML file followed by
// TURNGOV_ environment overrides.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"

	"github.com/Rogers-F/turngov/internal/domain"
)

// EnvPrefix marks environment variables that override file values.
const EnvPrefix = "TURNGOV_"

// LogConfig selects the logger level and encoder.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// PolicyConfig locates the operation rule set.
type PolicyConfig struct {
	RulesPath string `koanf:"rules_path"`
	// Degraded substitutes the built-in rule set when RulesPath is missing.
	Degraded bool `koanf:"degraded"`
}

// DefaultAuditDir receives the JSONL logs when no audit.dir is configured.
const DefaultAuditDir = ".turngov/runtime"

// AuditConfig selects the audit sinks. The JSONL directory is always
// written; SQLite is added on request.
type AuditConfig struct {
	Dir    string `koanf:"dir"`
	SQLite bool   `koanf:"sqlite"`
}

// GuardsConfig tunes the turn-document guards.
type GuardsConfig struct {
	Role             string              `koanf:"role"`
	MinThinkWords    int                 `koanf:"min_think_words"`
	MaxThinkWords    int                 `koanf:"max_think_words"`
	MaxPatchLines    int                 `koanf:"max_patch_lines"`
	MaxPatchFiles    int                 `koanf:"max_patch_files"`
	DiffTimeout      time.Duration       `koanf:"diff_timeout"`
	RepoDir          string              `koanf:"repo_dir"`
	RoleRestrictions map[string][]string `koanf:"role_restrictions"`
}

// CycleConfig controls compliance-cycle retention.
type CycleConfig struct {
	Retention     time.Duration `koanf:"retention"`
	IdleTimeout   time.Duration `koanf:"idle_timeout"`
	SweepInterval time.Duration `koanf:"sweep_interval"`
}

// HTTPConfig controls browser access to the API.
type HTTPConfig struct {
	// AllowedOrigins lists the origins allowed to call the API from a
	// browser. Requests carrying any other Origin are refused.
	AllowedOrigins []string `koanf:"allowed_origins"`
}

// TrackerConfig enables GitHub label sync when Token is set.
type TrackerConfig struct {
	GitHubToken       string        `koanf:"github_token"`
	Owner             string        `koanf:"owner"`
	Repo              string        `koanf:"repo"`
	RequestsPerSecond float64       `koanf:"requests_per_second"`
	Timeout           time.Duration `koanf:"timeout"`
}

// Config holds the engine's runtime configuration.
type Config struct {
	DBPath     string        `koanf:"db_path"`
	ListenAddr string        `koanf:"listen_addr"`
	Log        LogConfig     `koanf:"log"`
	Policy     PolicyConfig  `koanf:"policy"`
	Audit      AuditConfig   `koanf:"audit"`
	HTTP       HTTPConfig    `koanf:"http"`
	Guards     GuardsConfig  `koanf:"guards"`
	Cycle      CycleConfig   `koanf:"cycle"`
	Tracker    TrackerConfig `koanf:"tracker"`
}

// TrackerEnabled reports whether GitHub label sync is configured.
func (c *Config) TrackerEnabled() bool {
	return c.Tracker.GitHubToken != ""
}

// Load reads the YAML file at path, if any, applies environment
// overrides and defaults, then validates. An empty path skips the file.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, domain.NewEngineError(domain.ErrConfigInvalid.Code, "config file not found: "+path)
			}
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := k.Load(rawbytes.Provider(data), yaml.Parser()); err != nil {
			return nil, domain.WrapEngineError(domain.ErrConfigInvalid.Code, "parse config "+path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, domain.WrapEngineError(domain.ErrConfigInvalid.Code, "decode config", err)
	}

	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// topLevel keys contain an underscore but no section.
var topLevel = map[string]bool{"db_path": true, "listen_addr": true}

// envKey maps TURNGOV_POLICY_RULES_PATH to policy.rules_path: the first
// underscore separates the section, the rest belong to the field name.
func envKey(s string) string {
	key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	if topLevel[key] {
		return key
	}
	section, field, ok := strings.Cut(key, "_")
	if !ok {
		return key
	}
	return section + "." + field
}

func (c *Config) applyDefaults() {
	if c.DBPath == "" {
		c.DBPath = "turngov.db"
	}
	if c.ListenAddr == "" {
		c.ListenAddr = "127.0.0.1:9810"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Policy.RulesPath == "" {
		c.Policy.RulesPath = "policy.yaml"
	}
	if c.Audit.Dir == "" {
		c.Audit.Dir = DefaultAuditDir
	}
	if c.Guards.Role == "" {
		c.Guards.Role = os.Getenv("TURN_ROLE")
	}
	if c.Guards.Role == "" {
		c.Guards.Role = "dev"
	}
	if c.Guards.RepoDir == "" {
		c.Guards.RepoDir = "."
	}
	if c.Cycle.Retention == 0 {
		c.Cycle.Retention = 5 * time.Minute
	}
	if c.Cycle.IdleTimeout == 0 {
		c.Cycle.IdleTimeout = 30 * time.Minute
	}
	if c.Cycle.SweepInterval == 0 {
		c.Cycle.SweepInterval = time.Minute
	}
	if c.Tracker.RequestsPerSecond == 0 {
		c.Tracker.RequestsPerSecond = 5
	}
	if c.Tracker.Timeout == 0 {
		c.Tracker.Timeout = 10 * time.Second
	}
}

func (c *Config) validate() error {
	var problems []string

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		problems = append(problems, fmt.Sprintf("log.level %q must be debug, info, warn or error", c.Log.Level))
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		problems = append(problems, fmt.Sprintf("log.format %q must be json or console", c.Log.Format))
	}

	g := c.Guards
	if g.MinThinkWords < 0 || g.MaxThinkWords < 0 || g.MaxPatchLines < 0 || g.MaxPatchFiles < 0 {
		problems = append(problems, "guards limits must not be negative")
	}
	if g.MinThinkWords > 0 && g.MaxThinkWords > 0 && g.MinThinkWords > g.MaxThinkWords {
		problems = append(problems, "guards.min_think_words must not exceed guards.max_think_words")
	}
	if g.DiffTimeout < 0 {
		problems = append(problems, "guards.diff_timeout must not be negative")
	}

	if c.Cycle.Retention < 0 || c.Cycle.IdleTimeout < 0 || c.Cycle.SweepInterval < 0 {
		problems = append(problems, "cycle durations must be positive")
	}
	if c.Tracker.RequestsPerSecond < 0 {
		problems = append(problems, "tracker.requests_per_second must be positive")
	}
	if c.TrackerEnabled() && (c.Tracker.Owner == "" || c.Tracker.Repo == "") {
		problems = append(problems, "tracker.owner and tracker.repo are required with tracker.github_token")
	}

	if len(problems) > 0 {
		return &domain.EngineError{
			Code:    domain.ErrConfigInvalid.Code,
			Message: fmt.Sprintf("%s: %v", domain.ErrConfigInvalid.Message, problems),
		}
	}
	return nil
}
