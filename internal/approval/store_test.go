package approval

import (
	"sync"
	"testing"
	"time"

	"github.com/AIDilloBot/trustgate/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := NewStore(dir)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	return s
}

func submit(t *testing.T, s *Store, key string) {
	t.Helper()
	if err := s.Submit(key, "web-search", "abc123def456", "quick check flagged: remote_exec_pipe", model.SeverityHigh); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
}

func TestSubmitCreatesFile(t *testing.T) {
	s := newTestStore(t)
	submit(t, s, "web-search-abc123def456")

	r, err := s.read("web-search-abc123def456")
	if err != nil {
		t.Fatalf("failed to read: %v", err)
	}
	if r.Status != StatusPending {
		t.Errorf("expected status=pending, got %s", r.Status)
	}
	if r.SkillName != "web-search" {
		t.Errorf("expected skill_name=web-search, got %s", r.SkillName)
	}
	if r.ContentHash != "abc123def456" {
		t.Errorf("expected content_hash pinned, got %s", r.ContentHash)
	}
	if r.RiskLevel != model.SeverityHigh {
		t.Errorf("expected risk high, got %s", r.RiskLevel)
	}
}

func TestSubmitIdempotent(t *testing.T) {
	s := newTestStore(t)
	s.Submit("key1", "skill-a", "hash1", "first summary", model.SeverityMedium)
	s.Submit("key1", "skill-b", "hash2", "second summary", model.SeverityHigh) // should not overwrite

	r, _ := s.read("key1")
	if r.SkillName != "skill-a" {
		t.Errorf("expected original request preserved, got skill %s", r.SkillName)
	}
}

func TestKeyFor(t *testing.T) {
	key := KeyFor("my skill!", "0123456789abcdef0123")
	if key != "my-skill--0123456789ab" {
		t.Errorf("KeyFor = %q", key)
	}
	if err := validateKey(key); err != nil {
		t.Errorf("derived key fails validation: %v", err)
	}
}

func TestApproveOneTime(t *testing.T) {
	s := newTestStore(t)
	submit(t, s, "key1")

	if err := s.Approve("key1", 0); err != nil {
		t.Fatalf("Approve failed: %v", err)
	}

	status, _ := s.Check("key1")
	if status != StatusApproved {
		t.Errorf("expected approved, got %s", status)
	}

	r, _ := s.read("key1")
	if r.ExpiresAt != nil {
		t.Error("expected no expiration for one-time approval")
	}
	if r.ResolvedAt == nil {
		t.Error("expected resolved_at to be set")
	}
}

func TestApproveTimeLimited(t *testing.T) {
	s := newTestStore(t)
	submit(t, s, "key1")

	if err := s.Approve("key1", 5*time.Minute); err != nil {
		t.Fatalf("Approve failed: %v", err)
	}

	r, _ := s.read("key1")
	if r.ExpiresAt == nil {
		t.Fatal("expected expires_at for time-limited approval")
	}
	if time.Until(*r.ExpiresAt) < 4*time.Minute {
		t.Error("expected expiration ~5 minutes from now")
	}
}

func TestDeny(t *testing.T) {
	s := newTestStore(t)
	submit(t, s, "key1")

	if err := s.Deny("key1"); err != nil {
		t.Fatalf("Deny failed: %v", err)
	}

	status, _ := s.Check("key1")
	if status != StatusDenied {
		t.Errorf("expected denied, got %s", status)
	}
}

func TestCheckExpired(t *testing.T) {
	s := newTestStore(t)
	submit(t, s, "key1")

	s.Approve("key1", 1*time.Millisecond)
	time.Sleep(5 * time.Millisecond)

	status, _ := s.Check("key1")
	if status != StatusExpired {
		t.Errorf("expected expired, got %s", status)
	}
}

func TestCheckNotFound(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.Check("nonexistent"); err == nil {
		t.Error("expected error for nonexistent key")
	}
}

func TestConsume(t *testing.T) {
	s := newTestStore(t)
	submit(t, s, "key1")
	s.Approve("key1", 0)

	if err := s.Consume("key1"); err != nil {
		t.Fatalf("Consume failed: %v", err)
	}

	status, _ := s.Check("key1")
	if status != StatusConsumed {
		t.Errorf("expected consumed, got %s", status)
	}

	if err := s.Consume("key1"); err == nil {
		t.Error("expected error for double consume")
	}
}

func TestUseOneTimeConsumes(t *testing.T) {
	s := newTestStore(t)
	submit(t, s, "key1")
	s.Approve("key1", 0)

	ok, err := s.Use("key1")
	if err != nil || !ok {
		t.Fatalf("Use = %v, %v; want true", ok, err)
	}

	ok, _ = s.Use("key1")
	if ok {
		t.Error("one-time approval redeemed twice")
	}
}

func TestUseTimeLimitedIsReusable(t *testing.T) {
	s := newTestStore(t)
	submit(t, s, "key1")
	s.Approve("key1", time.Hour)

	for i := 0; i < 3; i++ {
		ok, err := s.Use("key1")
		if err != nil || !ok {
			t.Fatalf("use %d: Use = %v, %v; want true", i, ok, err)
		}
	}
}

func TestUsePendingDoesNotProceed(t *testing.T) {
	s := newTestStore(t)
	submit(t, s, "key1")

	ok, err := s.Use("key1")
	if err != nil {
		t.Fatalf("Use: %v", err)
	}
	if ok {
		t.Error("pending request redeemed")
	}
}

func TestListAndCleanup(t *testing.T) {
	s := newTestStore(t)
	submit(t, s, "key1")
	submit(t, s, "key2")
	submit(t, s, "key3")

	list, err := s.List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(list) != 3 {
		t.Errorf("expected 3 requests, got %d", len(list))
	}

	if err := s.Cleanup(); err != nil {
		t.Fatalf("Cleanup failed: %v", err)
	}
	list, _ = s.List()
	if len(list) != 0 {
		t.Errorf("expected 0 after cleanup, got %d", len(list))
	}
}

func TestRejectsTraversalKeys(t *testing.T) {
	s := newTestStore(t)
	for _, key := range []string{"", "../escape", "a/b", "key with space"} {
		if err := s.Submit(key, "x", "h", "s", model.SeverityLow); err == nil {
			t.Errorf("key %q accepted, want rejection", key)
		}
		if _, err := s.Check(key); err == nil {
			t.Errorf("Check accepted key %q", key)
		}
	}
}

func TestConcurrentAccess(t *testing.T) {
	s := newTestStore(t)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			key := "concurrent_key"
			s.Submit(key, "skill", "hash", "summary", model.SeverityMedium)
			s.Check(key)
		}()
	}
	wg.Wait()

	status, err := s.Check("concurrent_key")
	if err != nil {
		t.Fatalf("Check failed after concurrent access: %v", err)
	}
	if status != StatusPending {
		t.Errorf("expected pending, got %s", status)
	}
}

func TestResolveNonexistent(t *testing.T) {
	s := newTestStore(t)
	if err := s.Approve("nonexistent", 0); err == nil {
		t.Error("expected error for approving nonexistent key")
	}
	if err := s.Deny("nonexistent"); err == nil {
		t.Error("expected error for denying nonexistent key")
	}
}
