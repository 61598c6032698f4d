// Package integrity verifies binary checksums at startup. A trust
// boundary whose own binary has been swapped out is worse than none:
// it would keep reporting "screened" while doing nothing. The
// expected hash is embedded at build time via ldflags; if the running
// binary does not match, a tamper event is recorded and the process
// refuses to start.
package integrity

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ExpectedHash is set at build time via:
//
//	-ldflags "-X github.com/AIDilloBot/trustgate/internal/integrity.ExpectedHash=<sha256hex>"
//
// When empty (dev builds), verification falls back to a checksum file.
var ExpectedHash string

// TamperLogDir is the directory where tamper events are written.
// Override for testing.
var TamperLogDir = "/var/log/trustgate"

// ChecksumPaths are the paths checked (in order) for a sha256
// checksum file containing a single hex-encoded SHA-256 hash.
// Override for testing.
var ChecksumPaths = []string{
	"/etc/trustgate/binary.sha256",
	"$HOME/.trustgate/binary.sha256",
}

// ConfigPath is where the webhook alert config is read from on a
// tamper event. Override for testing.
var ConfigPath = "$HOME/.trustgate/config.yaml"

// TamperEvent records a binary integrity violation.
type TamperEvent struct {
	Timestamp    string `json:"timestamp"`
	Binary       string `json:"binary"`
	ExpectedHash string `json:"expected_hash"`
	ActualHash   string `json:"actual_hash"`
	Hostname     string `json:"hostname"`
	Type         string `json:"type"`
}

// Verify checks that the running binary matches ExpectedHash. An
// empty ExpectedHash falls back to the checksum file; with neither,
// verification is skipped (dev mode). On mismatch the tamper event is
// persisted and alerted before the error returns.
func Verify() error {
	expected := ExpectedHash
	if expected == "" {
		expected = loadChecksumFile()
	}
	if expected == "" {
		return nil
	}

	exePath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("integrity: cannot resolve executable path: %w", err)
	}

	actual, err := hashFile(exePath)
	if err != nil {
		return fmt.Errorf("integrity: cannot hash binary: %w", err)
	}

	if actual == expected {
		return nil
	}

	event := TamperEvent{
		Timestamp:    time.Now().UTC().Format(time.RFC3339Nano),
		Binary:       exePath,
		ExpectedHash: expected,
		ActualHash:   actual,
		Type:         "binary_tamper",
	}
	event.Hostname, _ = os.Hostname()

	writeTamperEvent(event)

	return fmt.Errorf("integrity: binary checksum mismatch (expected %s, got %s)", expected, actual)
}

// HashSelf returns the SHA-256 hex digest of the running binary.
// Useful for writing the checksum file after install.
func HashSelf() (string, error) {
	exePath, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("integrity: cannot resolve executable path: %w", err)
	}
	return hashFile(exePath)
}

// loadChecksumFile reads the expected hash from the first readable
// checksum file.
func loadChecksumFile() string {
	for _, p := range ChecksumPaths {
		data, err := os.ReadFile(os.ExpandEnv(p))
		if err != nil {
			continue
		}
		hash := strings.TrimSpace(string(data))
		if len(hash) == 64 && isHex(hash) {
			return hash
		}
	}
	return ""
}

func isHex(s string) bool {
	for _, c := range s {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')) {
			return false
		}
	}
	return true
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// writeTamperEvent appends a tamper event to the tamper log, prints
// to stderr for the journal, and fires the alert webhook.
func writeTamperEvent(event TamperEvent) {
	line, err := json.Marshal(event)
	if err != nil {
		return
	}

	logPath := filepath.Join(TamperLogDir, "tamper.jsonl")
	if err := os.MkdirAll(TamperLogDir, 0700); err == nil {
		if f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600); err == nil {
			f.Write(append(line, '\n'))
			f.Sync()
			f.Close()
		}
	}

	fmt.Fprintf(os.Stderr, "TAMPER ALERT: %s\n", string(line))

	dispatchTamperAlert(event)
}

// webhookConfig is a minimal struct for parsing just the webhook
// section of the security config. This runs before full config init.
type webhookConfig struct {
	URL     string            `yaml:"url"`
	Events  []string          `yaml:"events"`
	Headers map[string]string `yaml:"headers"`
}

type auditSection struct {
	Audit struct {
		Webhook webhookConfig `yaml:"webhook"`
	} `yaml:"audit"`
}

// dispatchTamperAlert posts the event to the configured alert webhook
// when its event list is empty or names binary_tamper. Best-effort
// and synchronous, since the process is about to exit.
func dispatchTamperAlert(event TamperEvent) {
	data, err := os.ReadFile(os.ExpandEnv(ConfigPath))
	if err != nil {
		return
	}
	var cfg auditSection
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return
	}
	wh := cfg.Audit.Webhook
	if wh.URL == "" {
		return
	}
	if len(wh.Events) > 0 {
		found := false
		for _, e := range wh.Events {
			if e == "binary_tamper" {
				found = true
				break
			}
		}
		if !found {
			return
		}
	}

	body, err := json.Marshal(event)
	if err != nil {
		return
	}
	req, err := http.NewRequest(http.MethodPost, wh.URL, bytes.NewReader(body))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range wh.Headers {
		req.Header.Set(k, v)
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "TAMPER ALERT webhook failed: %v\n", err)
		return
	}
	resp.Body.Close()
}
