package config

import (
	"os"
	"path/filepath"
	"testing"

	"gopkg.in/yaml.v3"
)

func TestDefaultConfigIsHardened(t *testing.T) {
	cfg := DefaultConfig()

	if !cfg.Injection.Enabled {
		t.Error("injection filtering disabled by default")
	}
	if cfg.Injection.Mode != "sanitize" {
		t.Errorf("default mode = %q, want sanitize", cfg.Injection.Mode)
	}
	if cfg.Injection.WarnThreshold != 20 || cfg.Injection.SanitizeThreshold != 50 || cfg.Injection.BlockThreshold != 80 {
		t.Errorf("default thresholds = %d/%d/%d, want 20/50/80",
			cfg.Injection.WarnThreshold, cfg.Injection.SanitizeThreshold, cfg.Injection.BlockThreshold)
	}
	if !cfg.Skills.RequireVerification {
		t.Error("skill verification disabled by default")
	}
	if !cfg.Devices.RequireChallenge {
		t.Error("device challenge not required by default")
	}
	if !cfg.Output.RedactionEnabled {
		t.Error("output redaction disabled by default")
	}
}

func TestLoadConfigMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nonexistent.yaml"))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Injection.Mode != "sanitize" {
		t.Errorf("expected defaults, got mode %q", cfg.Injection.Mode)
	}
}

func TestLoadConfigPartialOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `injection:
  mode: block
skills:
  trusted:
    - weather
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Injection.Mode != "block" {
		t.Errorf("mode = %q, want block", cfg.Injection.Mode)
	}
	// Unspecified fields keep defaults.
	if cfg.Injection.BlockThreshold != 80 {
		t.Errorf("block_threshold = %d, want default 80", cfg.Injection.BlockThreshold)
	}
	if len(cfg.Skills.Trusted) != 1 || cfg.Skills.Trusted[0] != "weather" {
		t.Errorf("trusted = %v", cfg.Skills.Trusted)
	}
	if !cfg.Skills.RequireVerification {
		t.Error("require_verification lost its default")
	}
}

func TestLoadConfigInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("injection: [not a map"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Error("expected error for invalid YAML")
	}
}

func TestLoadConfigRejectsBadMode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("injection:\n  mode: explode\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Error("expected error for unknown injection mode")
	}
}

func TestLoadConfigRejectsUnorderedThresholds(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "injection:\n  warn_threshold: 90\n  sanitize_threshold: 50\n  block_threshold: 80\n"
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Error("expected error for unordered thresholds")
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("injection:\n  mode: warn\n"), 0600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("TRUSTGATE_INJECTION_MODE", "block")
	t.Setenv("TRUSTGATE_ANALYZER_URL", "https://llm.internal/v1")
	t.Setenv("TRUSTGATE_SKILLS_REQUIRE_VERIFICATION", "false")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Injection.Mode != "block" {
		t.Errorf("mode = %q, env should win", cfg.Injection.Mode)
	}
	if cfg.Analyzer.URL != "https://llm.internal/v1" {
		t.Errorf("analyzer url = %q", cfg.Analyzer.URL)
	}
	if cfg.Skills.RequireVerification {
		t.Error("env bool override not applied")
	}
}

func TestEnvBoolIgnoresGarbage(t *testing.T) {
	t.Setenv("TRUSTGATE_REQUIRE_CHALLENGE", "maybe")

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "none.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if !cfg.Devices.RequireChallenge {
		t.Error("unparseable env bool flipped a hardened default")
	}
}

func TestLoadConfigWithHash(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("injection:\n  mode: warn\n"), 0600); err != nil {
		t.Fatal(err)
	}

	_, hash1, err := LoadConfigWithHash(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(hash1) != len("sha256:")+64 {
		t.Errorf("hash format: %q", hash1)
	}

	if err := os.WriteFile(path, []byte("injection:\n  mode: block\n"), 0600); err != nil {
		t.Fatal(err)
	}
	_, hash2, _ := LoadConfigWithHash(path)
	if hash1 == hash2 {
		t.Error("hash unchanged after content change")
	}

	_, missingHash, err := LoadConfigWithHash(filepath.Join(t.TempDir(), "none.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if missingHash != "sha256:e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855" {
		t.Errorf("missing-file hash = %q, want sha256 of empty input", missingHash)
	}
}

func TestDefaultConfigYAMLParses(t *testing.T) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(DefaultConfigYAML()), cfg); err != nil {
		t.Fatalf("generated YAML does not parse: %v", err)
	}
	if cfg.Injection.Mode != "sanitize" {
		t.Errorf("generated YAML mode = %q", cfg.Injection.Mode)
	}
}
