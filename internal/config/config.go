// Package config loads the security configuration: YAML on disk,
// environment overrides on top, hardened defaults underneath.
package config

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// InjectionConfig controls the inbound content-security pipeline.
type InjectionConfig struct {
	Enabled bool `yaml:"enabled"`
	// Mode is what happens to flagged content: off, warn, sanitize, block.
	Mode string `yaml:"mode"`
	// Score thresholds applied to the pre-filter's weighted score.
	WarnThreshold     int `yaml:"warn_threshold"`
	SanitizeThreshold int `yaml:"sanitize_threshold"`
	BlockThreshold    int `yaml:"block_threshold"`
	// PatternsPath points at extra pre-filter patterns. Empty uses
	// ~/.trustgate/patterns.yaml when present.
	PatternsPath string `yaml:"patterns_path"`
}

// AnalyzerConfig configures the out-of-band semantic analyzer. An
// empty URL disables escalation entirely.
type AnalyzerConfig struct {
	URL            string `yaml:"url"`
	Model          string `yaml:"model"`
	APIKey         string `yaml:"api_key"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	// BlockAt / WarnAt are minimum risk levels (none|low|medium|high|critical).
	BlockAt string `yaml:"block_at"`
	WarnAt  string `yaml:"warn_at"`
}

// SkillsConfig controls extension verification.
type SkillsConfig struct {
	RequireVerification bool     `yaml:"require_verification"`
	Trusted             []string `yaml:"trusted"`
	BundledDir          string   `yaml:"bundled_dir"`
	TrustBundled        bool     `yaml:"trust_bundled"`
	QuickCheckOnly      bool     `yaml:"quick_check_only"`
	// PendingDir holds bypass-approval requests. Empty uses
	// ~/.trustgate/pending.
	PendingDir string `yaml:"pending_dir"`
}

// DevicesConfig controls challenge-response authentication.
type DevicesConfig struct {
	// RequireChallenge stays true even for local connections; the
	// first-run loopback bootstrap is the only exception.
	RequireChallenge bool   `yaml:"require_challenge"`
	ServerIdentity   string `yaml:"server_identity"`
	ValiditySeconds  int    `yaml:"validity_seconds"`
	SkewSeconds      int    `yaml:"skew_seconds"`
	// MaxAuthFailures locks a remote host out after this many failed
	// attempts within the lockout window.
	MaxAuthFailures      int `yaml:"max_auth_failures"`
	LockoutWindowSeconds int `yaml:"lockout_window_seconds"`
}

// OutputConfig controls the outbound redaction filter.
type OutputConfig struct {
	RedactionEnabled bool `yaml:"redaction_enabled"`
}

// WebhookConfig forwards matching audit events to an external endpoint.
type WebhookConfig struct {
	URL     string            `yaml:"url"`
	Format  string            `yaml:"format"`
	Events  []string          `yaml:"events"`
	Headers map[string]string `yaml:"headers"`
}

// AuditConfig controls the audit trail sinks.
type AuditConfig struct {
	// LogPath is the hash-chained JSONL file. Empty uses
	// ~/.trustgate/audit.jsonl.
	LogPath string `yaml:"log_path"`
	// DBPath is the queryable SQLite store. Empty disables it.
	DBPath  string        `yaml:"db_path"`
	Webhook WebhookConfig `yaml:"webhook"`
}

// SecurityConfig is the root configuration structure.
type SecurityConfig struct {
	VaultDir  string          `yaml:"vault_dir"`
	Injection InjectionConfig `yaml:"injection"`
	Analyzer  AnalyzerConfig  `yaml:"analyzer"`
	Skills    SkillsConfig    `yaml:"skills"`
	Devices   DevicesConfig   `yaml:"devices"`
	Output    OutputConfig    `yaml:"output"`
	Audit     AuditConfig     `yaml:"audit"`
}

// DefaultConfig returns the hardened defaults: sanitize mode with
// 20/50/80 thresholds, skills verified, challenges required even for
// local connections.
func DefaultConfig() *SecurityConfig {
	return &SecurityConfig{
		Injection: InjectionConfig{
			Enabled:           true,
			Mode:              "sanitize",
			WarnThreshold:     20,
			SanitizeThreshold: 50,
			BlockThreshold:    80,
		},
		Analyzer: AnalyzerConfig{
			TimeoutSeconds: 30,
			BlockAt:        "high",
			WarnAt:         "medium",
		},
		Skills: SkillsConfig{
			RequireVerification: true,
		},
		Devices: DevicesConfig{
			RequireChallenge:     true,
			ValiditySeconds:      300,
			SkewSeconds:          600,
			MaxAuthFailures:      10,
			LockoutWindowSeconds: 60,
		},
		Output: OutputConfig{
			RedactionEnabled: true,
		},
	}
}

// LoadConfig loads configuration from a YAML file, then applies
// environment overrides. Empty path falls back to
// ~/.trustgate/config.yaml. Missing file returns defaults. Invalid
// YAML returns an error.
func LoadConfig(path string) (*SecurityConfig, error) {
	cfg, _, err := LoadConfigWithHash(path)
	return cfg, err
}

// LoadConfigWithHash loads configuration and returns the SHA-256 hash
// of the raw YAML bytes on disk, so the active config can be pinned in
// audit output. When no file exists the hash is the SHA-256 of empty
// input.
func LoadConfigWithHash(path string) (*SecurityConfig, string, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			cfg := DefaultConfig()
			applyEnv(cfg)
			h := sha256.Sum256(nil)
			return cfg, "sha256:" + hex.EncodeToString(h[:]), nil
		}
		path = filepath.Join(home, ".trustgate", "config.yaml")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg := DefaultConfig()
			applyEnv(cfg)
			h := sha256.Sum256(nil)
			return cfg, "sha256:" + hex.EncodeToString(h[:]), nil
		}
		return nil, "", fmt.Errorf("failed to read security config: %w", err)
	}

	h := sha256.Sum256(data)
	hash := "sha256:" + hex.EncodeToString(h[:])

	// Start with defaults, YAML overwrites only specified fields.
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, "", fmt.Errorf("failed to parse security config: %w", err)
	}
	if err := validate(cfg); err != nil {
		return nil, "", err
	}
	applyEnv(cfg)

	return cfg, hash, nil
}

func validate(cfg *SecurityConfig) error {
	switch cfg.Injection.Mode {
	case "off", "warn", "sanitize", "block":
	default:
		return fmt.Errorf("invalid injection mode %q (want off, warn, sanitize, or block)", cfg.Injection.Mode)
	}
	if cfg.Injection.WarnThreshold > cfg.Injection.SanitizeThreshold ||
		cfg.Injection.SanitizeThreshold > cfg.Injection.BlockThreshold {
		return fmt.Errorf("injection thresholds must be ordered warn <= sanitize <= block")
	}
	return nil
}

// applyEnv overlays TRUSTGATE_* environment variables. Environment
// wins over file values so deployments can override without editing
// the config.
func applyEnv(cfg *SecurityConfig) {
	if v := os.Getenv("TRUSTGATE_VAULT_DIR"); v != "" {
		cfg.VaultDir = v
	}
	if v := os.Getenv("TRUSTGATE_INJECTION_MODE"); v != "" {
		cfg.Injection.Mode = v
	}
	if v, ok := envBool("TRUSTGATE_INJECTION_ENABLED"); ok {
		cfg.Injection.Enabled = v
	}
	if v := os.Getenv("TRUSTGATE_ANALYZER_URL"); v != "" {
		cfg.Analyzer.URL = v
	}
	if v := os.Getenv("TRUSTGATE_ANALYZER_MODEL"); v != "" {
		cfg.Analyzer.Model = v
	}
	if v := os.Getenv("TRUSTGATE_ANALYZER_API_KEY"); v != "" {
		cfg.Analyzer.APIKey = v
	}
	if v, ok := envBool("TRUSTGATE_SKILLS_REQUIRE_VERIFICATION"); ok {
		cfg.Skills.RequireVerification = v
	}
	if v, ok := envBool("TRUSTGATE_REQUIRE_CHALLENGE"); ok {
		cfg.Devices.RequireChallenge = v
	}
	if v, ok := envBool("TRUSTGATE_OUTPUT_REDACTION"); ok {
		cfg.Output.RedactionEnabled = v
	}
	if v := os.Getenv("TRUSTGATE_AUDIT_LOG"); v != "" {
		cfg.Audit.LogPath = v
	}
	if v := os.Getenv("TRUSTGATE_ALERT_WEBHOOK"); v != "" {
		cfg.Audit.Webhook.URL = v
	}
}

func envBool(name string) (bool, bool) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return false, false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return v, true
}

// DefaultConfigYAML returns a commented YAML string for config init.
func DefaultConfigYAML() string {
	return `# trustgate security configuration
# Generated by: trustgate config init
#
# Environment variables (TRUSTGATE_*) override values in this file.

# Directory for the encrypted secrets vault. Empty uses ~/.trustgate.
vault_dir: ""

# Inbound content-security pipeline.
# mode: off | warn | sanitize | block
# Thresholds apply to the pre-filter's weighted score:
#   score >= warn_threshold     -> warn
#   score >= sanitize_threshold -> sanitize matched patterns
#   score >= block_threshold    -> block the message
injection:
  enabled: true
  mode: sanitize
  warn_threshold: 20
  sanitize_threshold: 50
  block_threshold: 80

# Out-of-band semantic analyzer (OpenAI-compatible endpoint).
# Leave url empty to run on pattern rules alone.
analyzer:
  url: ""
  model: ""
  api_key: ""
  timeout_seconds: 30
  block_at: high
  warn_at: medium

# Extension verification before installation.
skills:
  require_verification: true
  trusted: []
  bundled_dir: ""
  trust_bundled: false
  quick_check_only: false
  pending_dir: ""

# Device challenge-response authentication. Challenges are required
# even for local connections; only the one-time first-run loopback
# bootstrap is exempt.
devices:
  require_challenge: true
  validity_seconds: 300
  skew_seconds: 600
  max_auth_failures: 10
  lockout_window_seconds: 60

# Outbound output filter.
output:
  redaction_enabled: true

# Audit sinks. log_path empty uses ~/.trustgate/audit.jsonl;
# db_path empty disables the queryable store.
audit:
  log_path: ""
  db_path: ""
  webhook:
    url: ""
    format: generic # generic | slack | pagerduty
    events: []      # empty matches all event types
`
}
