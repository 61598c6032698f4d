package device

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/AIDilloBot/trustgate/internal/audit"
	"github.com/AIDilloBot/trustgate/internal/vault"
)

func openTestVault(t *testing.T) *vault.Vault {
	t.Helper()
	v, err := vault.Open(vault.Options{Dir: t.TempDir(), Passphrase: "test-passphrase"})
	if err != nil {
		t.Fatalf("open vault: %v", err)
	}
	return v
}

func reasonOf(t *testing.T, err error) Reason {
	t.Helper()
	var ve *VerifyError
	if !errors.As(err, &ve) {
		t.Fatalf("expected *VerifyError, got %T: %v", err, err)
	}
	return ve.Reason
}

func TestChallengeRoundTrip(t *testing.T) {
	id, err := NewIdentity()
	if err != nil {
		t.Fatal(err)
	}
	ver := NewVerifier("gateway-1")

	ch, err := NewChallenge("gateway-1")
	if err != nil {
		t.Fatal(err)
	}
	resp := Sign(id, ch)

	deviceID, err := ver.Verify(ch, resp)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if deviceID != id.ID {
		t.Errorf("device id = %q, want %q", deviceID, id.ID)
	}
}

func TestDeviceIDDerivedFromPublicKey(t *testing.T) {
	id, err := NewIdentity()
	if err != nil {
		t.Fatal(err)
	}
	if got := DeriveDeviceID(id.PublicKey); got != id.ID {
		t.Errorf("DeriveDeviceID = %q, want %q", got, id.ID)
	}
	if len(id.ID) != 32 {
		t.Errorf("device id length = %d, want 32", len(id.ID))
	}

	other, err := NewIdentity()
	if err != nil {
		t.Fatal(err)
	}
	if other.ID == id.ID {
		t.Error("distinct keypairs produced the same device id")
	}
}

func TestVerifyRejectsNonceMismatch(t *testing.T) {
	id, _ := NewIdentity()
	ver := NewVerifier("gw")

	issued, _ := NewChallenge("gw")
	other, _ := NewChallenge("gw")
	resp := Sign(id, other)

	_, err := ver.Verify(issued, resp)
	if got := reasonOf(t, err); got != ReasonNonceMismatch {
		t.Errorf("reason = %q, want %q", got, ReasonNonceMismatch)
	}
}

func TestVerifyFreshnessWindow(t *testing.T) {
	id, _ := NewIdentity()

	cases := []struct {
		name   string
		offset time.Duration
		reason Reason // empty means accept
	}{
		{"six minutes old", -6 * time.Minute, ReasonChallengeExpired},
		{"just inside validity", -4 * time.Minute, ""},
		{"five minutes ahead", 5 * time.Minute, ""},
		{"eleven minutes ahead", 11 * time.Minute, ReasonChallengeFromFuture},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ver := NewVerifier("gw")
			now := time.Now()
			ver.now = func() time.Time { return now }

			ch, _ := NewChallenge("gw")
			ch.IssuedAtMillis = now.Add(tc.offset).UnixMilli()
			resp := Sign(id, ch)

			_, err := ver.Verify(ch, resp)
			if tc.reason == "" {
				if err != nil {
					t.Fatalf("verify: %v", err)
				}
				return
			}
			if got := reasonOf(t, err); got != tc.reason {
				t.Errorf("reason = %q, want %q", got, tc.reason)
			}
		})
	}
}

func TestVerifyRejectsServerMismatch(t *testing.T) {
	id, _ := NewIdentity()
	ver := NewVerifier("gateway-real")

	ch, _ := NewChallenge("gateway-impostor")
	resp := Sign(id, ch)

	// Nonce matches because the attacker is replaying the issued
	// challenge with the wrong binding, so verification has to reach
	// the server identity check.
	_, err := ver.Verify(ch, resp)
	if got := reasonOf(t, err); got != ReasonServerMismatch {
		t.Errorf("reason = %q, want %q", got, ReasonServerMismatch)
	}
}

func TestVerifyRejectsTamperedSignature(t *testing.T) {
	id, _ := NewIdentity()
	ver := NewVerifier("gw")

	ch, _ := NewChallenge("gw")
	resp := Sign(id, ch)
	resp.Signature = strings.Repeat("A", len(resp.Signature))

	_, err := ver.Verify(ch, resp)
	if got := reasonOf(t, err); got != ReasonInvalidSignature {
		t.Errorf("reason = %q, want %q", got, ReasonInvalidSignature)
	}
}

func TestVerifyRejectsWrongKeySignature(t *testing.T) {
	id, _ := NewIdentity()
	impostor, _ := NewIdentity()
	ver := NewVerifier("gw")

	ch, _ := NewChallenge("gw")
	resp := Sign(impostor, ch)
	// Claim the victim's public key with the impostor's signature.
	resp.PublicKey = Sign(id, ch).PublicKey

	_, err := ver.Verify(ch, resp)
	if got := reasonOf(t, err); got != ReasonInvalidSignature {
		t.Errorf("reason = %q, want %q", got, ReasonInvalidSignature)
	}
}

func TestVerifyMalformedKeyIsTypedError(t *testing.T) {
	id, _ := NewIdentity()
	ver := NewVerifier("gw")

	ch, _ := NewChallenge("gw")
	resp := Sign(id, ch)
	resp.PublicKey = "not base64!!"

	_, err := ver.Verify(ch, resp)
	if got := reasonOf(t, err); got != ReasonVerificationError {
		t.Errorf("reason = %q, want %q", got, ReasonVerificationError)
	}
}

func TestIdentityPersistsInVault(t *testing.T) {
	v := openTestVault(t)

	first, err := LoadOrCreateIdentity(v, "default")
	if err != nil {
		t.Fatal(err)
	}
	second, err := LoadOrCreateIdentity(v, "default")
	if err != nil {
		t.Fatal(err)
	}
	if first.ID != second.ID {
		t.Errorf("identity not stable across loads: %q vs %q", first.ID, second.ID)
	}

	// Loaded key must still sign valid responses.
	ver := NewVerifier("gw")
	ch, _ := NewChallenge("gw")
	if _, err := ver.Verify(ch, Sign(second, ch)); err != nil {
		t.Errorf("loaded identity failed verification: %v", err)
	}
}

func TestBootstrapOnlyOnFirstRunFromLoopback(t *testing.T) {
	v := openTestVault(t)
	p := NewPairer(v, audit.NewBus())

	if p.CanBootstrap("203.0.113.9:5544") {
		t.Error("bootstrap allowed for non-loopback remote")
	}
	if !p.CanBootstrap("127.0.0.1:5544") {
		t.Error("bootstrap refused on fresh install from loopback")
	}
	if !p.CanBootstrap("[::1]:5544") {
		t.Error("bootstrap refused for IPv6 loopback")
	}

	id, _ := NewIdentity()
	if err := p.Pair(id.ID, "127.0.0.1:5544"); err != nil {
		t.Fatal(err)
	}

	if p.CanBootstrap("127.0.0.1:5544") {
		t.Error("bootstrap still allowed after first pairing")
	}
	if !p.IsPaired(id.ID) {
		t.Error("paired device not found")
	}
	if p.IsPaired("deadbeef") {
		t.Error("unknown device reported as paired")
	}
}

func TestBootstrapStateReadFromDisk(t *testing.T) {
	dir := t.TempDir()
	v1, err := vault.Open(vault.Options{Dir: dir, Passphrase: "pp"})
	if err != nil {
		t.Fatal(err)
	}
	id, _ := NewIdentity()
	if err := NewPairer(v1, nil).Pair(id.ID, "127.0.0.1:1"); err != nil {
		t.Fatal(err)
	}

	// A separate instance over the same directory must see the pairing.
	v2, err := vault.Open(vault.Options{Dir: dir, Passphrase: "pp"})
	if err != nil {
		t.Fatal(err)
	}
	p := NewPairer(v2, nil)
	if p.CanBootstrap("127.0.0.1:2") {
		t.Error("fresh instance ignored persisted pairing state")
	}
	if !p.IsPaired(id.ID) {
		t.Error("fresh instance lost pairing record")
	}
}

func TestAuthFailureEmitsAuditEvent(t *testing.T) {
	v := openTestVault(t)
	bus := audit.NewBus()

	var got []audit.Event
	bus.Subscribe(func(e audit.Event) { got = append(got, e) })

	NewPairer(v, bus).RecordAuthFailure("10.0.0.7:9000", ReasonInvalidSignature)

	if len(got) != 1 {
		t.Fatalf("events = %d, want 1", len(got))
	}
	if got[0].Type != audit.EventDeviceAuthFailed {
		t.Errorf("event type = %q", got[0].Type)
	}
	if got[0].Detail["reason"] != string(ReasonInvalidSignature) {
		t.Errorf("reason detail = %q", got[0].Detail["reason"])
	}
}
