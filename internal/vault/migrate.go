package vault

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/AIDilloBot/trustgate/internal/audit"
	"github.com/AIDilloBot/trustgate/internal/model"
)

// markerName is the migration marker file. Its presence is the
// idempotency guard: migration never re-runs once it exists.
const markerName = "migration.json"

// MigrationRecord is the persisted migration outcome.
type MigrationRecord struct {
	Version    int      `json:"version"`
	MigratedAt string   `json:"migratedAt"`
	Migrated   []string `json:"migrated"`
	Failed     []string `json:"failed"`
	Skipped    []string `json:"skipped"`
}

// legacyKeyFor maps a legacy plaintext secret filename to its vault
// namespace. Unrecognized files land in the env-secret cache.
func legacyKeyFor(name string) string {
	base := strings.TrimSuffix(name, filepath.Ext(name))
	switch {
	case strings.HasPrefix(base, "telegram"):
		return Key(NSTelegramToken, base)
	case strings.HasPrefix(base, "discord"):
		return Key(NSDiscordToken, base)
	case strings.HasPrefix(base, "slack"):
		return Key(NSSlackToken, base)
	case strings.HasPrefix(base, "whatsapp"):
		return Key(NSWhatsAppToken, base)
	case strings.HasPrefix(base, "gateway"):
		return Key(NSGatewayToken, base)
	case strings.HasPrefix(base, "device"):
		return Key(NSDeviceAuth, base)
	case strings.HasPrefix(base, "pairing"):
		return Key(NSPairing, base)
	default:
		return Key(NSEnvCache, base)
	}
}

// Migrate transfers legacy plaintext secret files from legacyDir into
// the vault, then securely deletes the originals. It is a one-time,
// idempotent operation: the marker file records the outcome and its
// presence means migration must not re-run.
func Migrate(v *Vault, legacyDir string, bus *audit.Bus) (*MigrationRecord, error) {
	markerPath := filepath.Join(v.dir, markerName)

	if data, err := os.ReadFile(markerPath); err == nil {
		var prior MigrationRecord
		if err := json.Unmarshal(data, &prior); err == nil {
			return &prior, nil
		}
		// An unreadable marker still means a migration ran; do not risk
		// double-migrating partially deleted originals.
		return nil, fmt.Errorf("vault: migration marker exists but is unreadable; refusing to re-run")
	}

	rec := &MigrationRecord{
		Version:    fileVersion,
		MigratedAt: time.Now().UTC().Format(time.RFC3339),
		Migrated:   []string{},
		Failed:     []string{},
		Skipped:    []string{},
	}

	entries, err := os.ReadDir(legacyDir)
	if err != nil {
		if os.IsNotExist(err) {
			// Nothing to migrate; still write the marker so we never scan again.
			return rec, writeMarker(markerPath, rec)
		}
		return nil, fmt.Errorf("vault: read legacy directory: %w", err)
	}

	for _, de := range entries {
		name := de.Name()
		if de.IsDir() || strings.HasPrefix(name, ".") {
			rec.Skipped = append(rec.Skipped, name)
			continue
		}

		path := filepath.Join(legacyDir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			rec.Failed = append(rec.Failed, name)
			continue
		}
		if len(data) == 0 {
			rec.Skipped = append(rec.Skipped, name)
			continue
		}

		key := legacyKeyFor(name)
		if err := v.Store(key, data); err != nil {
			rec.Failed = append(rec.Failed, name)
			continue
		}

		if err := secureRemove(path, len(data)); err != nil {
			// The secret is in the vault; a lingering original is
			// reported as a failure so the operator cleans it up.
			fmt.Fprintf(os.Stderr, "vault: migrate: could not remove %s: %v\n", path, err)
			rec.Failed = append(rec.Failed, name)
			continue
		}

		rec.Migrated = append(rec.Migrated, name)
	}

	if err := writeMarker(markerPath, rec); err != nil {
		return nil, err
	}

	e := audit.NewEvent(audit.EventVaultMigrated, model.SeverityNone, "")
	e.Detail = map[string]string{
		"migrated": fmt.Sprintf("%d", len(rec.Migrated)),
		"failed":   fmt.Sprintf("%d", len(rec.Failed)),
		"skipped":  fmt.Sprintf("%d", len(rec.Skipped)),
	}
	bus.Emit(e)

	return rec, nil
}

func writeMarker(path string, rec *MigrationRecord) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("vault: marshal migration record: %w", err)
	}
	if err := writeFileAtomic(path, data, 0600); err != nil {
		return fmt.Errorf("vault: write migration marker: %w", err)
	}
	return nil
}

// secureRemove zero-fills the file contents before unlinking, so the
// plaintext secret does not linger on disk.
func secureRemove(path string, size int) error {
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err == nil {
		zeros := make([]byte, size)
		_, writeErr := f.WriteAt(zeros, 0)
		syncErr := f.Sync()
		f.Close()
		if writeErr != nil {
			return writeErr
		}
		if syncErr != nil {
			return syncErr
		}
	}
	return os.Remove(path)
}
