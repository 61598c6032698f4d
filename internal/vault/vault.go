// Package vault is the authenticated-encryption credential store.
// One encrypted JSON file plus one separately stored salt file; a
// 256-bit master key derived from a passphrase or, absent one, a
// machine fingerprint.
//
// Failure policy: a single undecryptable entry is skipped and logged,
// never fatal. A file that fails to parse at all is backed up under a
// .corrupted.<timestamp> suffix and the store restarts empty rather
// than refusing to boot.
//
// The in-process entry map is mutex-guarded; there is no cross-process
// lock. Two platform instances sharing one vault path can race on the
// read-modify-write cycle — an accepted limitation, see DESIGN.md.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/AIDilloBot/trustgate/internal/audit"
	"github.com/AIDilloBot/trustgate/internal/model"
)

const (
	fileVersion = 1
	ivLen       = 12 // 96-bit GCM nonce
	tagLen      = 16 // 128-bit auth tag
)

// ErrNotFound is returned when a key is absent or its entry cannot be
// authenticated under the current master key.
var ErrNotFound = errors.New("vault: entry not found")

// Entry is one encrypted secret as persisted. All fields are base64.
type Entry struct {
	IV         string `json:"iv"`
	Ciphertext string `json:"ciphertext"`
	AuthTag    string `json:"authTag"`
}

// vaultFile is the persisted container.
type vaultFile struct {
	Version int              `json:"version"`
	Entries map[string]Entry `json:"entries"`
}

// Options configures a vault handle.
type Options struct {
	// Dir holds vault.json and vault.salt. Default ~/.trustgate.
	Dir string
	// Passphrase overrides env and machine-fingerprint derivation.
	Passphrase string
	// Bus receives corruption events. Optional.
	Bus *audit.Bus
}

// Vault is an open credential store. Construct once at process start
// and pass the handle to every component that needs it.
type Vault struct {
	dir      string
	filePath string
	saltPath string
	key      []byte
	entries  map[string]Entry
	bus      *audit.Bus
	mu       sync.Mutex
}

// Open initializes the vault: ensures the directory exists with
// restrictive permissions, loads or creates the salt, derives the
// master key, and loads the entry file (recovering from corruption).
func Open(opts Options) (*Vault, error) {
	dir := opts.Dir
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("vault: resolve home: %w", err)
		}
		dir = filepath.Join(home, ".trustgate")
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("vault: create directory: %w", err)
	}

	v := &Vault{
		dir:      dir,
		filePath: filepath.Join(dir, "vault.json"),
		saltPath: filepath.Join(dir, "vault.salt"),
		bus:      opts.Bus,
	}

	salt, err := loadOrCreateSalt(v.saltPath)
	if err != nil {
		return nil, err
	}
	passphrase := resolvePassphrase(opts.Passphrase)
	v.key = deriveKey(passphrase, salt)

	if err := v.load(); err != nil {
		return nil, err
	}
	v.recoverRotation(passphrase)
	return v, nil
}

// recoverRotation repairs the state left by a Rotate that crashed
// between writing the new salt and writing the re-encrypted entries.
// Rotate keeps the previous salt staged at vault.salt.old until the
// entries land; if the staged copy is still present, whichever salt
// authenticates the entries is the live one.
func (v *Vault) recoverRotation(passphrase string) {
	oldPath := v.saltPath + ".old"
	oldSalt, err := os.ReadFile(oldPath)
	if err != nil || len(oldSalt) != saltLen {
		return
	}
	if v.anyEntryAuthenticates() {
		// Rotation completed; the staged copy is stale.
		os.Remove(oldPath)
		return
	}

	current := v.key
	v.key = deriveKey(passphrase, oldSalt)
	if !v.anyEntryAuthenticates() {
		// Neither salt matches (wrong passphrase?). Leave the staged
		// copy for manual recovery.
		v.key = current
		return
	}

	// The entries still belong to the previous salt: the rotation never
	// finished. Roll the salt file back.
	if err := writeFileAtomic(v.saltPath, oldSalt, 0600); err != nil {
		fmt.Fprintf(os.Stderr, "vault: restore salt after interrupted rotation: %v\n", err)
		return
	}
	os.Remove(oldPath)
	fmt.Fprintf(os.Stderr, "vault: recovered from interrupted key rotation\n")
}

// anyEntryAuthenticates probes whether the current key decrypts at
// least one entry. An empty vault trivially passes.
func (v *Vault) anyEntryAuthenticates() bool {
	for _, e := range v.entries {
		if _, err := decrypt(v.key, e); err == nil {
			return true
		}
	}
	return len(v.entries) == 0
}

// load reads the vault file into memory. A file that fails structural
// parsing is backed up and replaced with an empty store.
func (v *Vault) load() error {
	data, err := os.ReadFile(v.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			v.entries = make(map[string]Entry)
			return nil
		}
		return fmt.Errorf("vault: read file: %w", err)
	}

	var vf vaultFile
	if err := json.Unmarshal(data, &vf); err != nil || vf.Entries == nil {
		backup := fmt.Sprintf("%s.corrupted.%d", v.filePath, time.Now().UTC().Unix())
		if renameErr := os.Rename(v.filePath, backup); renameErr != nil {
			return fmt.Errorf("vault: back up corrupted file: %w", renameErr)
		}
		fmt.Fprintf(os.Stderr, "vault: corrupted file backed up to %s, starting empty\n", backup)

		e := audit.NewEvent(audit.EventVaultCorruption, model.SeverityHigh, "")
		e.Detail = map[string]string{"backup": filepath.Base(backup)}
		v.bus.Emit(e)

		v.entries = make(map[string]Entry)
		return nil
	}

	v.entries = vf.Entries
	return nil
}

// persist rewrites the vault file atomically.
func (v *Vault) persist() error {
	data, err := json.MarshalIndent(vaultFile{Version: fileVersion, Entries: v.entries}, "", "  ")
	if err != nil {
		return fmt.Errorf("vault: marshal: %w", err)
	}
	if err := writeFileAtomic(v.filePath, data, 0600); err != nil {
		return fmt.Errorf("vault: write file: %w", err)
	}
	return nil
}

// Store encrypts plaintext under a fresh random IV and persists the
// entry under the namespaced key.
func (v *Vault) Store(key string, plaintext []byte) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	entry, err := encrypt(v.key, plaintext)
	if err != nil {
		return err
	}
	v.entries[key] = entry
	return v.persist()
}

// StoreJSON marshals value and stores it.
func (v *Vault) StoreJSON(key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("vault: marshal value: %w", err)
	}
	return v.Store(key, data)
}

// Retrieve decrypts the entry for key. Tag-verification failure is
// logged and reported as ErrNotFound — one corrupted entry must not
// block reads of unrelated entries.
func (v *Vault) Retrieve(key string) ([]byte, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	entry, ok := v.entries[key]
	if !ok {
		return nil, ErrNotFound
	}

	plaintext, err := decrypt(v.key, entry)
	if err != nil {
		fmt.Fprintf(os.Stderr, "vault: entry %q failed authentication, treating as absent: %v\n", key, err)
		return nil, ErrNotFound
	}
	return plaintext, nil
}

// RetrieveJSON decrypts and unmarshals the entry for key.
func (v *Vault) RetrieveJSON(key string, out any) error {
	data, err := v.Retrieve(key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("vault: unmarshal value: %w", err)
	}
	return nil
}

// Has reports whether an entry exists for key, without decrypting it.
func (v *Vault) Has(key string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	_, ok := v.entries[key]
	return ok
}

// Delete zero-fills the stored ciphertext, removes the entry, and
// rewrites the file.
func (v *Vault) Delete(key string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	entry, ok := v.entries[key]
	if !ok {
		return nil
	}

	if raw, err := base64.StdEncoding.DecodeString(entry.Ciphertext); err == nil {
		zeroBytes(raw)
		entry.Ciphertext = base64.StdEncoding.EncodeToString(raw)
		v.entries[key] = entry
	}

	delete(v.entries, key)
	return v.persist()
}

// List returns all entry keys, sorted.
func (v *Vault) List() []string {
	v.mu.Lock()
	defer v.mu.Unlock()

	keys := make([]string, 0, len(v.entries))
	for k := range v.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ListNamespace returns all keys with the given prefix, sorted.
func (v *Vault) ListNamespace(prefix string) []string {
	var keys []string
	for _, k := range v.List() {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			keys = append(keys, k)
		}
	}
	return keys
}

// Rotate decrypts every entry under the current key, generates a new
// salt and key, re-encrypts everything, and persists atomically.
// Entries that fail authentication under the old key are dropped (they
// were already unreadable). The old key is zeroed in memory.
func (v *Vault) Rotate(newPassphrase string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	// Decrypt everything under the old key first.
	plaintexts := make(map[string][]byte, len(v.entries))
	for k, e := range v.entries {
		p, err := decrypt(v.key, e)
		if err != nil {
			fmt.Fprintf(os.Stderr, "vault: rotate: dropping unreadable entry %q: %v\n", k, err)
			continue
		}
		plaintexts[k] = p
	}

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return fmt.Errorf("vault: generate salt: %w", err)
	}
	newKey := deriveKey(resolvePassphrase(newPassphrase), salt)

	newEntries := make(map[string]Entry, len(plaintexts))
	for k, p := range plaintexts {
		e, err := encrypt(newKey, p)
		zeroBytes(p)
		if err != nil {
			return fmt.Errorf("vault: rotate: re-encrypt %q: %w", k, err)
		}
		newEntries[k] = e
	}

	// Stage the current salt before overwriting it, so a crash between
	// the salt write and the entry write stays recoverable at Open.
	if oldSalt, err := os.ReadFile(v.saltPath); err == nil {
		if err := writeFileAtomic(v.saltPath+".old", oldSalt, 0600); err != nil {
			return fmt.Errorf("vault: rotate: stage salt backup: %w", err)
		}
	}
	if err := writeFileAtomic(v.saltPath, salt, 0600); err != nil {
		return fmt.Errorf("vault: rotate: persist salt: %w", err)
	}

	oldKey := v.key
	oldEntries := v.entries
	v.key = newKey
	v.entries = newEntries
	if err := v.persist(); err != nil {
		// Roll back in-memory state; the staged salt backup lets the
		// next Open repair the on-disk mismatch.
		v.key = oldKey
		v.entries = oldEntries
		return err
	}
	os.Remove(v.saltPath + ".old")

	zeroBytes(oldKey)

	v.bus.Emit(audit.NewEvent(audit.EventVaultRotated, model.SeverityNone, ""))
	return nil
}

// Dir returns the vault directory.
func (v *Vault) Dir() string { return v.dir }

// encrypt seals plaintext with AES-256-GCM under a fresh 96-bit IV and
// splits the 128-bit tag out of the sealed output.
func encrypt(key, plaintext []byte) (Entry, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return Entry{}, fmt.Errorf("vault: cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return Entry{}, fmt.Errorf("vault: gcm: %w", err)
	}

	iv := make([]byte, ivLen)
	if _, err := rand.Read(iv); err != nil {
		return Entry{}, fmt.Errorf("vault: generate iv: %w", err)
	}

	sealed := gcm.Seal(nil, iv, plaintext, nil)
	ct, tag := sealed[:len(sealed)-tagLen], sealed[len(sealed)-tagLen:]

	return Entry{
		IV:         base64.StdEncoding.EncodeToString(iv),
		Ciphertext: base64.StdEncoding.EncodeToString(ct),
		AuthTag:    base64.StdEncoding.EncodeToString(tag),
	}, nil
}

// decrypt reassembles ciphertext||tag and opens it.
func decrypt(key []byte, e Entry) ([]byte, error) {
	iv, err := base64.StdEncoding.DecodeString(e.IV)
	if err != nil {
		return nil, fmt.Errorf("vault: decode iv: %w", err)
	}
	ct, err := base64.StdEncoding.DecodeString(e.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("vault: decode ciphertext: %w", err)
	}
	tag, err := base64.StdEncoding.DecodeString(e.AuthTag)
	if err != nil {
		return nil, fmt.Errorf("vault: decode tag: %w", err)
	}
	if len(iv) != ivLen {
		return nil, fmt.Errorf("vault: iv has %d bytes, want %d", len(iv), ivLen)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("vault: cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("vault: gcm: %w", err)
	}

	plaintext, err := gcm.Open(nil, iv, append(ct, tag...), nil)
	if err != nil {
		return nil, fmt.Errorf("vault: authentication failed: %w", err)
	}
	return plaintext, nil
}
