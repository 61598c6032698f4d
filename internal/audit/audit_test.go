package audit

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/AIDilloBot/trustgate/internal/model"
)

func TestBusFanOut(t *testing.T) {
	bus := NewBus()

	var got []Event
	bus.Subscribe(func(e Event) { got = append(got, e) })
	bus.Subscribe(func(e Event) { got = append(got, e) })

	bus.Emit(NewEvent(EventContentBlocked, model.SeverityHigh, "payload"))

	if len(got) != 2 {
		t.Fatalf("delivered to %d listeners, want 2", len(got))
	}
	if got[0].ID != got[1].ID {
		t.Error("listeners saw different events")
	}
}

func TestNilBusDropsEvents(t *testing.T) {
	var bus *Bus
	// Must not panic.
	bus.Emit(NewEvent(EventContentWarned, model.SeverityLow, ""))
}

func TestEventNeverCarriesRawContent(t *testing.T) {
	secret := "the password is hunter2"
	e := NewEvent(EventContentBlocked, model.SeverityCritical, secret)

	if strings.Contains(e.ContentHash, "hunter2") {
		t.Error("raw content leaked into hash field")
	}
	if !strings.HasPrefix(e.ContentHash, "sha256:") {
		t.Errorf("content hash %q not labeled", e.ContentHash)
	}
	if e.ContentHash != HashContent(secret) {
		t.Error("hash not deterministic")
	}
}

func TestEventIDsUnique(t *testing.T) {
	a := NewEvent(EventContentBlocked, model.SeverityHigh, "")
	b := NewEvent(EventContentBlocked, model.SeverityHigh, "")
	if a.ID == b.ID {
		t.Error("event IDs must be unique")
	}
}

func TestLogChainAndVerify(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")

	log, err := OpenLog(path)
	if err != nil {
		t.Fatalf("OpenLog: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := log.Record(NewEvent(EventContentBlocked, model.SeverityHigh, "x")); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}
	log.Close()

	res := Verify(path)
	if !res.Valid {
		t.Fatalf("chain invalid: %s (line %d)", res.Error, res.ErrorLine)
	}
	if res.Lines != 3 {
		t.Errorf("lines = %d, want 3", res.Lines)
	}
}

func TestLogRecoversChainTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")

	log, _ := OpenLog(path)
	log.Record(NewEvent(EventContentBlocked, model.SeverityHigh, "one"))
	log.Close()

	// Reopen and append — the chain must stay intact.
	log, err := OpenLog(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	log.Record(NewEvent(EventContentWarned, model.SeverityMedium, "two"))
	log.Close()

	res := Verify(path)
	if !res.Valid {
		t.Fatalf("chain broke across reopen: %s", res.Error)
	}
	if res.Lines != 2 {
		t.Errorf("lines = %d, want 2", res.Lines)
	}
}

func TestVerifyDetectsTampering(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")

	log, _ := OpenLog(path)
	log.Record(NewEvent(EventContentBlocked, model.SeverityHigh, "one"))
	log.Record(NewEvent(EventContentBlocked, model.SeverityHigh, "two"))
	log.Close()

	data, _ := os.ReadFile(path)
	tampered := strings.Replace(string(data), "content_blocked", "content_allowed", 1)
	os.WriteFile(path, []byte(tampered), 0600)

	res := Verify(path)
	if res.Valid {
		t.Error("tampered log verified as valid")
	}
}

func TestTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")

	log, _ := OpenLog(path)
	for i := 0; i < 5; i++ {
		log.Record(NewEvent(EventContentWarned, model.SeverityMedium, "x"))
	}
	log.Close()

	events, err := Tail(path, 2)
	if err != nil {
		t.Fatalf("Tail: %v", err)
	}
	if len(events) != 2 {
		t.Errorf("tail = %d events, want 2", len(events))
	}
}

func TestStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.db")

	store, err := OpenStore(path)
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	defer store.Close()

	e := NewEvent(EventSkillBlocked, model.SeverityCritical, "skill body")
	e.SessionKey = "webhook:ci"
	e.Detail = map[string]string{"skill": "weather"}
	if err := store.Record(e); err != nil {
		t.Fatalf("Record: %v", err)
	}

	events, err := store.Recent(10, EventSkillBlocked)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	got := events[0]
	if got.ID != e.ID || got.SessionKey != "webhook:ci" || got.Severity != model.SeverityCritical {
		t.Errorf("round-trip mismatch: %+v", got)
	}
	if got.Detail["skill"] != "weather" {
		t.Errorf("detail lost: %+v", got.Detail)
	}
}
