package vault

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func openTestVault(t *testing.T, dir string) *Vault {
	t.Helper()
	v, err := Open(Options{Dir: dir, Passphrase: "test-passphrase"})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return v
}

func TestRoundTrip(t *testing.T) {
	v := openTestVault(t, t.TempDir())

	payloads := [][]byte{
		[]byte("simple secret"),
		[]byte(""),
		{0x00, 0xFF, 0x10, 0x80},
		bytes.Repeat([]byte("x"), 10_000),
	}

	for i, p := range payloads {
		key := Key(NSEnvCache, "roundtrip")
		if err := v.Store(key, p); err != nil {
			t.Fatalf("payload %d: Store: %v", i, err)
		}
		got, err := v.Retrieve(key)
		if err != nil {
			t.Fatalf("payload %d: Retrieve: %v", i, err)
		}
		if !bytes.Equal(got, p) {
			t.Errorf("payload %d: round-trip mismatch", i)
		}
	}
}

func TestPersistenceAcrossInstances(t *testing.T) {
	dir := t.TempDir()

	v1 := openTestVault(t, dir)
	secret := []byte(`{"token":"abc"}`)
	if err := v1.Store("telegram-token:default", secret); err != nil {
		t.Fatalf("Store: %v", err)
	}

	// Fresh instance, same file and salt.
	v2 := openTestVault(t, dir)
	got, err := v2.Retrieve("telegram-token:default")
	if err != nil {
		t.Fatalf("Retrieve after restart: %v", err)
	}
	if !bytes.Equal(got, secret) {
		t.Errorf("got %q, want %q", got, secret)
	}
}

func TestRetrieveMissingKey(t *testing.T) {
	v := openTestVault(t, t.TempDir())
	if _, err := v.Retrieve("gateway-token:nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestCorruptedEntrySkippedNotFatal(t *testing.T) {
	dir := t.TempDir()
	v := openTestVault(t, dir)

	v.Store("slack-token:good", []byte("keep me"))
	v.Store("slack-token:bad", []byte("corrupt me"))

	// Flip ciphertext bytes of one entry on disk.
	raw, _ := os.ReadFile(filepath.Join(dir, "vault.json"))
	var vf vaultFile
	json.Unmarshal(raw, &vf)
	e := vf.Entries["slack-token:bad"]
	e.Ciphertext = "AAAA" + e.Ciphertext[4:]
	vf.Entries["slack-token:bad"] = e
	out, _ := json.Marshal(vf)
	os.WriteFile(filepath.Join(dir, "vault.json"), out, 0600)

	v2 := openTestVault(t, dir)
	if _, err := v2.Retrieve("slack-token:bad"); !errors.Is(err, ErrNotFound) {
		t.Errorf("corrupted entry: err = %v, want ErrNotFound", err)
	}
	got, err := v2.Retrieve("slack-token:good")
	if err != nil || string(got) != "keep me" {
		t.Errorf("unrelated entry affected: %q, %v", got, err)
	}
}

func TestCorruptedFileBackupAndReset(t *testing.T) {
	dir := t.TempDir()
	v := openTestVault(t, dir)
	v.Store("pairing:x", []byte("data"))

	os.WriteFile(filepath.Join(dir, "vault.json"), []byte(`"garbage"`), 0600)

	v2 := openTestVault(t, dir)
	if keys := v2.List(); len(keys) != 0 {
		t.Errorf("expected empty store after corruption, got %v", keys)
	}

	entries, _ := os.ReadDir(dir)
	var foundBackup bool
	for _, e := range entries {
		if strings.Contains(e.Name(), ".corrupted.") {
			foundBackup = true
		}
	}
	if !foundBackup {
		t.Error("no .corrupted.<timestamp> backup file left behind")
	}
}

func TestDeleteRemovesEntry(t *testing.T) {
	dir := t.TempDir()
	v := openTestVault(t, dir)

	v.Store("device-auth:phone", []byte("secret"))
	if err := v.Delete("device-auth:phone"); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	if _, err := v.Retrieve("device-auth:phone"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}

	// The persisted file must not contain the entry either.
	raw, _ := os.ReadFile(filepath.Join(dir, "vault.json"))
	if strings.Contains(string(raw), "device-auth:phone") {
		t.Error("deleted key still present in file")
	}
}

func TestRotateKeepsEntriesReadable(t *testing.T) {
	dir := t.TempDir()
	v := openTestVault(t, dir)

	v.Store("auth-profile:main", []byte("profile-data"))
	v.Store("gateway-token:default", []byte("tok"))

	oldSalt, _ := os.ReadFile(filepath.Join(dir, "vault.salt"))

	if err := v.Rotate("new-passphrase"); err != nil {
		t.Fatalf("Rotate: %v", err)
	}

	newSalt, _ := os.ReadFile(filepath.Join(dir, "vault.salt"))
	if bytes.Equal(oldSalt, newSalt) {
		t.Error("salt unchanged after rotation")
	}

	// Same handle still reads.
	got, err := v.Retrieve("auth-profile:main")
	if err != nil || string(got) != "profile-data" {
		t.Errorf("post-rotation read: %q, %v", got, err)
	}

	// Fresh instance with the new passphrase reads too.
	v2, err := Open(Options{Dir: dir, Passphrase: "new-passphrase"})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	got, err = v2.Retrieve("gateway-token:default")
	if err != nil || string(got) != "tok" {
		t.Errorf("fresh instance post-rotation read: %q, %v", got, err)
	}

	// The old passphrase no longer authenticates entries.
	v3, err := Open(Options{Dir: dir, Passphrase: "test-passphrase"})
	if err != nil {
		t.Fatalf("reopen with old passphrase: %v", err)
	}
	if _, err := v3.Retrieve("gateway-token:default"); !errors.Is(err, ErrNotFound) {
		t.Errorf("old key still decrypts after rotation: %v", err)
	}
}

func TestRoundTripSurvivesRotation(t *testing.T) {
	v := openTestVault(t, t.TempDir())

	payload := []byte{0x01, 0x02, 0x00, 0xFE}
	v.Store("env-cache:blob", payload)
	if err := v.Rotate("another-pass"); err != nil {
		t.Fatalf("Rotate: %v", err)
	}

	got, err := v.Retrieve("env-cache:blob")
	if err != nil || !bytes.Equal(got, payload) {
		t.Errorf("round-trip across rotation: %v, %v", got, err)
	}
}

func TestInterruptedRotationRecovers(t *testing.T) {
	dir := t.TempDir()
	v := openTestVault(t, dir)
	v.Store("gateway-token:g", []byte("original-secret"))

	// Simulate a rotation that crashed after the new salt landed but
	// before the re-encrypted entries did: the live salt is replaced
	// while the staged backup still holds the one the entries need.
	saltPath := filepath.Join(dir, "vault.salt")
	oldSalt, err := os.ReadFile(saltPath)
	if err != nil {
		t.Fatalf("read salt: %v", err)
	}
	if err := os.WriteFile(saltPath+".old", oldSalt, 0600); err != nil {
		t.Fatalf("stage salt backup: %v", err)
	}
	newSalt := make([]byte, len(oldSalt))
	newSalt[0] = oldSalt[0] + 1
	if err := os.WriteFile(saltPath, newSalt, 0600); err != nil {
		t.Fatalf("overwrite salt: %v", err)
	}

	v2, err := Open(Options{Dir: dir, Passphrase: "test-passphrase"})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	got, err := v2.Retrieve("gateway-token:g")
	if err != nil || string(got) != "original-secret" {
		t.Fatalf("entry unreadable after recovery: %v, %v", got, err)
	}

	restored, err := os.ReadFile(saltPath)
	if err != nil || !bytes.Equal(restored, oldSalt) {
		t.Error("salt file should be rolled back to the staged copy")
	}
	if _, err := os.Stat(saltPath + ".old"); !os.IsNotExist(err) {
		t.Error("staged salt backup should be removed after recovery")
	}
}

func TestCompletedRotationDropsStaleSaltBackup(t *testing.T) {
	dir := t.TempDir()
	v := openTestVault(t, dir)
	v.Store("gateway-token:g", []byte("original-secret"))
	if err := v.Rotate("test-passphrase"); err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "vault.salt.old")); !os.IsNotExist(err) {
		t.Error("successful rotation should remove the staged salt")
	}

	v2, err := Open(Options{Dir: dir, Passphrase: "test-passphrase"})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if got, err := v2.Retrieve("gateway-token:g"); err != nil || string(got) != "original-secret" {
		t.Fatalf("entry unreadable after rotation: %v, %v", got, err)
	}
}

func TestListNamespace(t *testing.T) {
	v := openTestVault(t, t.TempDir())
	v.Store(Key(NSTelegramToken, "a"), []byte("1"))
	v.Store(Key(NSTelegramToken, "b"), []byte("2"))
	v.Store(Key(NSDiscordToken, "c"), []byte("3"))

	got := v.ListNamespace(NSTelegramToken)
	if len(got) != 2 {
		t.Errorf("ListNamespace = %v, want 2 telegram keys", got)
	}
}

func TestCiphertextNotPlaintextOnDisk(t *testing.T) {
	dir := t.TempDir()
	v := openTestVault(t, dir)
	v.Store("slack-token:s", []byte("super-secret-token-value"))

	raw, _ := os.ReadFile(filepath.Join(dir, "vault.json"))
	if strings.Contains(string(raw), "super-secret-token-value") {
		t.Error("plaintext secret present in vault file")
	}
}

func TestFreshIVPerStore(t *testing.T) {
	v := openTestVault(t, t.TempDir())

	v.Store("env-cache:a", []byte("same plaintext"))
	e1 := v.entries["env-cache:a"]
	v.Store("env-cache:a", []byte("same plaintext"))
	e2 := v.entries["env-cache:a"]

	if e1.IV == e2.IV {
		t.Error("IV reused across Store calls")
	}
	if e1.Ciphertext == e2.Ciphertext {
		t.Error("identical ciphertext for repeated plaintext implies IV reuse")
	}
}

func TestMigrateMovesAndDeletesOriginals(t *testing.T) {
	dir := t.TempDir()
	legacy := filepath.Join(dir, "legacy")
	os.MkdirAll(legacy, 0700)
	os.WriteFile(filepath.Join(legacy, "telegram_token"), []byte("tg-secret"), 0600)
	os.WriteFile(filepath.Join(legacy, "gateway.json"), []byte(`{"t":"gw"}`), 0600)

	v := openTestVault(t, dir)
	rec, err := Migrate(v, legacy, nil)
	if err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if len(rec.Migrated) != 2 {
		t.Errorf("migrated = %v, want 2 files", rec.Migrated)
	}

	got, err := v.Retrieve(Key(NSTelegramToken, "telegram_token"))
	if err != nil || string(got) != "tg-secret" {
		t.Errorf("migrated secret: %q, %v", got, err)
	}

	if _, err := os.Stat(filepath.Join(legacy, "telegram_token")); !os.IsNotExist(err) {
		t.Error("legacy plaintext file still exists")
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	legacy := filepath.Join(dir, "legacy")
	os.MkdirAll(legacy, 0700)
	os.WriteFile(filepath.Join(legacy, "slack_token"), []byte("s1"), 0600)

	v := openTestVault(t, dir)
	if _, err := Migrate(v, legacy, nil); err != nil {
		t.Fatalf("first Migrate: %v", err)
	}

	// A new legacy file after migration must NOT be picked up.
	os.WriteFile(filepath.Join(legacy, "slack_token2"), []byte("s2"), 0600)
	rec, err := Migrate(v, legacy, nil)
	if err != nil {
		t.Fatalf("second Migrate: %v", err)
	}
	for _, m := range rec.Migrated {
		if m == "slack_token2" {
			t.Error("migration re-ran despite marker")
		}
	}
	if _, err := os.Stat(filepath.Join(legacy, "slack_token2")); err != nil {
		t.Error("second run touched legacy files")
	}
}

func TestMachineFingerprintDeterministic(t *testing.T) {
	if machineFingerprint() != machineFingerprint() {
		t.Error("machine fingerprint not deterministic")
	}
}
