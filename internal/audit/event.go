package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/google/uuid"

	"github.com/AIDilloBot/trustgate/internal/model"
)

// EventType identifies what kind of security decision an event records.
type EventType string

const (
	EventContentBlocked   EventType = "content_blocked"
	EventContentWarned    EventType = "content_warned"
	EventContentSanitized EventType = "content_sanitized"
	EventOutputRedacted   EventType = "output_redacted"
	EventSkillBlocked     EventType = "skill_blocked"
	EventSkillApproved    EventType = "skill_approved"
	EventSkillBypassed    EventType = "skill_bypassed"
	EventVaultCorruption  EventType = "vault_corruption"
	EventVaultRotated     EventType = "vault_rotated"
	EventVaultMigrated    EventType = "vault_migrated"
	EventDeviceAuthFailed EventType = "device_auth_failed"
	EventDevicePaired     EventType = "device_paired"
	EventAnalyzerDegraded EventType = "analyzer_degraded"
)

// Event is one immutable security audit record. It never carries raw
// message or secret content — only a one-way hash of it.
type Event struct {
	ID          string            `json:"id"`
	Timestamp   string            `json:"ts"`
	Type        EventType         `json:"type"`
	Severity    model.Severity    `json:"severity"`
	SessionKey  string            `json:"session_key,omitempty"`
	SenderID    string            `json:"sender_id,omitempty"`
	Channel     string            `json:"channel,omitempty"`
	ContentHash string            `json:"content_hash,omitempty"`
	Detail      map[string]string `json:"detail,omitempty"`
}

// NewEvent creates an event with a fresh ID and timestamp. The content
// argument is hashed immediately; the raw text is never retained.
func NewEvent(typ EventType, severity model.Severity, content string) Event {
	e := Event{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC().Format("2006-01-02T15:04:05.000Z"),
		Type:      typ,
		Severity:  severity,
	}
	if content != "" {
		e.ContentHash = HashContent(content)
	}
	return e
}

// HashContent returns "sha256:<hex>" of the content. This is the only
// representation of message bodies that may appear in audit records.
func HashContent(content string) string {
	h := sha256.Sum256([]byte(content))
	return "sha256:" + hex.EncodeToString(h[:])
}
