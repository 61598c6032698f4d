package vault

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// Iterations for PBKDF2-SHA256 master key derivation.
	kdfIterations = 300_000
	keyLen        = 32
	saltLen       = 32

	// EnvPassphrase overrides the vault passphrase.
	EnvPassphrase = "TRUSTGATE_VAULT_PASSPHRASE"
)

// loadOrCreateSalt reads the salt file, creating 32 fresh random bytes
// on first run.
func loadOrCreateSalt(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		if len(data) != saltLen {
			return nil, fmt.Errorf("vault: salt file %s has %d bytes, want %d", path, len(data), saltLen)
		}
		return data, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("vault: read salt: %w", err)
	}

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("vault: generate salt: %w", err)
	}
	if err := writeFileAtomic(path, salt, 0600); err != nil {
		return nil, fmt.Errorf("vault: persist salt: %w", err)
	}
	return salt, nil
}

// deriveKey derives the 256-bit master key from a passphrase and salt.
func deriveKey(passphrase string, salt []byte) []byte {
	return pbkdf2.Key([]byte(passphrase), salt, kdfIterations, keyLen, sha256.New)
}

// resolvePassphrase picks the passphrase source in priority order:
// explicit option, environment, machine fingerprint. The fingerprint
// path yields passwordless operation tied to one machine.
func resolvePassphrase(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if env := os.Getenv(EnvPassphrase); env != "" {
		return env
	}
	return machineFingerprint()
}

// machineFingerprint derives a deterministic per-machine secret from
// hostname, home directory, and platform. It protects secrets at rest
// against casual copying, not against an attacker with local code
// execution — that caveat is inherent to passwordless operation.
func machineFingerprint() string {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown-host"
	}
	home, err := os.UserHomeDir()
	if err != nil {
		home = "unknown-home"
	}

	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s/%s", hostname, home, runtime.GOOS, runtime.GOARCH)
	return fmt.Sprintf("%x", h.Sum(nil))
}

// zeroBytes overwrites key material in place.
func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// writeFileAtomic writes data via a temp file followed by rename, so a
// crash mid-write never leaves a truncated file.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}

	return os.Rename(tmpName, path)
}
