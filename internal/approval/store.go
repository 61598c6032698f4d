// Package approval persists pending skill-bypass requests as files so
// a flagged installation can be resolved later from the CLI instead of
// requiring an interactive prompt at install time.
package approval

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/AIDilloBot/trustgate/internal/model"
)

// validKey matches alphanumeric, dash, underscore, and dot characters only.
var validKey = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)

// validateKey rejects keys that could cause path traversal.
func validateKey(key string) error {
	if key == "" {
		return fmt.Errorf("key must not be empty")
	}
	if strings.Contains(key, "..") {
		return fmt.Errorf("key must not contain '..'")
	}
	if !validKey.MatchString(key) {
		return fmt.Errorf("key contains invalid characters: only alphanumeric, dash, underscore, and dot are allowed")
	}
	return nil
}

// Status represents the state of a bypass request.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusDenied   Status = "denied"
	StatusConsumed Status = "consumed"
	StatusExpired  Status = "expired"
)

// Request is a single skill-bypass request and its state. ContentHash
// pins the request to the exact inspected content: a changed skill
// needs a fresh request.
type Request struct {
	Key         string         `json:"key"`
	Status      Status         `json:"status"`
	SkillName   string         `json:"skill_name"`
	ContentHash string         `json:"content_hash"`
	RiskLevel   model.Severity `json:"risk_level"`
	Summary     string         `json:"summary"`
	CreatedAt   time.Time      `json:"created_at"`
	ExpiresAt   *time.Time     `json:"expires_at,omitempty"`
	ResolvedAt  *time.Time     `json:"resolved_at,omitempty"`
}

// Store manages bypass-request files on disk.
type Store struct {
	dir string
	mu  sync.Mutex
}

// NewStore creates a Store backed by the given directory.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("cannot create approval directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

// DefaultDir returns the default bypass-request directory.
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "trustgate-pending")
	}
	return filepath.Join(home, ".trustgate", "pending")
}

// KeyFor derives a request key from a skill name and its content hash.
func KeyFor(skillName, contentHash string) string {
	sanitized := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-' || r == '_' || r == '.':
			return r
		default:
			return '-'
		}
	}, skillName)
	if len(contentHash) > 12 {
		contentHash = contentHash[:12]
	}
	return sanitized + "-" + contentHash
}

// Submit creates a pending request file. No-op if one already exists.
func (s *Store) Submit(key, skillName, contentHash, summary string, risk model.Severity) error {
	if err := validateKey(key); err != nil {
		return fmt.Errorf("invalid approval key: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.path(key)
	if _, err := os.Stat(path); err == nil {
		return nil // already exists
	}

	r := Request{
		Key:         key,
		Status:      StatusPending,
		SkillName:   skillName,
		ContentHash: contentHash,
		RiskLevel:   risk,
		Summary:     summary,
		CreatedAt:   time.Now().UTC(),
	}

	return s.writeAtomic(path, r)
}

// Approve marks a request as approved. If duration > 0, sets
// expiration. If duration == 0, the approval is one-time (consumed on
// first use).
func (s *Store) Approve(key string, duration time.Duration) error {
	if err := validateKey(key); err != nil {
		return fmt.Errorf("invalid approval key: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r, err := s.read(key)
	if err != nil {
		return fmt.Errorf("approval %q not found: %w", key, err)
	}

	r.Status = StatusApproved
	now := time.Now().UTC()
	r.ResolvedAt = &now
	if duration > 0 {
		exp := now.Add(duration)
		r.ExpiresAt = &exp
	}

	return s.writeAtomic(s.path(key), *r)
}

// Deny marks a request as denied.
func (s *Store) Deny(key string) error {
	if err := validateKey(key); err != nil {
		return fmt.Errorf("invalid approval key: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r, err := s.read(key)
	if err != nil {
		return fmt.Errorf("approval %q not found: %w", key, err)
	}

	r.Status = StatusDenied
	now := time.Now().UTC()
	r.ResolvedAt = &now

	return s.writeAtomic(s.path(key), *r)
}

// Check returns the current status of a request. Returns StatusExpired
// if an approval has passed its deadline.
func (s *Store) Check(key string) (Status, error) {
	if err := validateKey(key); err != nil {
		return "", fmt.Errorf("invalid approval key: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r, err := s.read(key)
	if err != nil {
		return "", fmt.Errorf("approval %q not found", key)
	}

	if r.Status == StatusApproved && r.ExpiresAt != nil && time.Now().UTC().After(*r.ExpiresAt) {
		r.Status = StatusExpired
		s.writeAtomic(s.path(key), *r)
		return StatusExpired, nil
	}

	return r.Status, nil
}

// Consume marks a one-time approval as consumed.
func (s *Store) Consume(key string) error {
	if err := validateKey(key); err != nil {
		return fmt.Errorf("invalid approval key: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r, err := s.read(key)
	if err != nil {
		return fmt.Errorf("approval %q not found: %w", key, err)
	}

	if r.Status == StatusConsumed {
		return fmt.Errorf("approval %q already consumed", key)
	}

	r.Status = StatusConsumed
	now := time.Now().UTC()
	r.ResolvedAt = &now

	return s.writeAtomic(s.path(key), *r)
}

// Use redeems an approval: a one-time approval (no expiry) is marked
// consumed, a time-limited one stays valid until it expires. Returns
// whether the caller may proceed.
func (s *Store) Use(key string) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, fmt.Errorf("invalid approval key: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r, err := s.read(key)
	if err != nil {
		return false, fmt.Errorf("approval %q not found: %w", key, err)
	}
	if r.Status != StatusApproved {
		return false, nil
	}

	now := time.Now().UTC()
	if r.ExpiresAt != nil {
		if now.After(*r.ExpiresAt) {
			r.Status = StatusExpired
			s.writeAtomic(s.path(key), *r)
			return false, nil
		}
		return true, nil
	}

	r.Status = StatusConsumed
	r.ResolvedAt = &now
	if err := s.writeAtomic(s.path(key), *r); err != nil {
		return false, err
	}
	return true, nil
}

// List returns all requests in the store.
func (s *Store) List() ([]Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var requests []Request
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		key := strings.TrimSuffix(e.Name(), ".json")
		r, err := s.read(key)
		if err != nil {
			continue
		}
		requests = append(requests, *r)
	}

	return requests, nil
}

// Cleanup removes all request files in the store.
func (s *Store) Cleanup() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var errs []error
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, e.Name())); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func (s *Store) path(key string) string {
	return filepath.Join(s.dir, key+".json")
}

func (s *Store) read(key string) (*Request, error) {
	data, err := os.ReadFile(s.path(key))
	if err != nil {
		return nil, err
	}

	var r Request
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}

	return &r, nil
}

func (s *Store) writeAtomic(path string, r Request) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return err
	}

	return os.Rename(tmp, path)
}
