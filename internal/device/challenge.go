package device

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"time"
)

const (
	// protocolVersion pins the canonical signed-string format. Bumping
	// it invalidates signatures produced under the old format.
	protocolVersion = "trustgate-v1"

	nonceLen = 32

	// DefaultValidity is how long an issued challenge stays answerable.
	DefaultValidity = 5 * time.Minute

	// DefaultSkew is the forward clock tolerance for a response whose
	// challenge timestamp is ahead of the verifier's clock.
	DefaultSkew = 10 * time.Minute
)

// Reason classifies why a response was rejected.
type Reason string

const (
	ReasonNonceMismatch       Reason = "nonce_mismatch"
	ReasonChallengeExpired    Reason = "challenge_expired"
	ReasonChallengeFromFuture Reason = "challenge_from_future"
	ReasonServerMismatch      Reason = "server_identity_mismatch"
	ReasonInvalidSignature    Reason = "invalid_signature"
	ReasonVerificationError   Reason = "verification_error"
)

// VerifyError carries the typed rejection reason so callers can audit
// and report it without string matching.
type VerifyError struct {
	Reason Reason
	Detail string
}

func (e *VerifyError) Error() string {
	if e.Detail == "" {
		return "device: " + string(e.Reason)
	}
	return fmt.Sprintf("device: %s: %s", e.Reason, e.Detail)
}

// Challenge is a single-use nonce bound to an issue time and the
// issuing server's identity.
type Challenge struct {
	Nonce          string `json:"nonce"`
	IssuedAtMillis int64  `json:"issuedAt"`
	ServerIdentity string `json:"serverIdentity"`
}

// Response is a device's answer to a challenge. The public key rides
// along so the verifier can re-derive the device id instead of
// trusting a claimed one.
type Response struct {
	Challenge Challenge `json:"challenge"`
	PublicKey string    `json:"publicKey"`
	Signature string    `json:"signature"`
}

// NewChallenge issues a fresh challenge from serverIdentity.
func NewChallenge(serverIdentity string) (Challenge, error) {
	nonce := make([]byte, nonceLen)
	if _, err := rand.Read(nonce); err != nil {
		return Challenge{}, fmt.Errorf("device: challenge nonce: %w", err)
	}
	return Challenge{
		Nonce:          base64.StdEncoding.EncodeToString(nonce),
		IssuedAtMillis: time.Now().UnixMilli(),
		ServerIdentity: serverIdentity,
	}, nil
}

// canonicalString is the exact byte sequence both sides sign and
// verify. Every field of the challenge is bound into it.
func canonicalString(c Challenge) string {
	return fmt.Sprintf("%s|%s|%d|%s", protocolVersion, c.Nonce, c.IssuedAtMillis, c.ServerIdentity)
}

// Sign answers a challenge with the device's identity.
func Sign(id *Identity, c Challenge) Response {
	sig := ed25519.Sign(id.PrivateKey, []byte(canonicalString(c)))
	return Response{
		Challenge: c,
		PublicKey: base64.StdEncoding.EncodeToString(id.PublicKey),
		Signature: base64.StdEncoding.EncodeToString(sig),
	}
}

// Verifier checks responses against the challenge it issued.
type Verifier struct {
	ServerIdentity string
	Validity       time.Duration
	Skew           time.Duration

	// now is swappable for tests.
	now func() time.Time
}

// NewVerifier returns a verifier with the default freshness window.
func NewVerifier(serverIdentity string) *Verifier {
	return &Verifier{
		ServerIdentity: serverIdentity,
		Validity:       DefaultValidity,
		Skew:           DefaultSkew,
		now:            time.Now,
	}
}

// Verify checks a response against the challenge this server issued.
// On success it returns the device id derived from the response's
// public key. Checks run in a fixed order: nonce, freshness, server
// identity, signature.
func (v *Verifier) Verify(issued Challenge, resp Response) (string, error) {
	if subtle.ConstantTimeCompare([]byte(issued.Nonce), []byte(resp.Challenge.Nonce)) != 1 {
		return "", &VerifyError{Reason: ReasonNonceMismatch}
	}

	clock := v.now
	if clock == nil {
		clock = time.Now
	}
	now := clock()
	issuedAt := time.UnixMilli(resp.Challenge.IssuedAtMillis)
	if now.Sub(issuedAt) > v.Validity {
		return "", &VerifyError{Reason: ReasonChallengeExpired}
	}
	if issuedAt.Sub(now) > v.Skew {
		return "", &VerifyError{Reason: ReasonChallengeFromFuture}
	}

	if resp.Challenge.ServerIdentity != v.ServerIdentity {
		return "", &VerifyError{Reason: ReasonServerMismatch}
	}

	pub, err := base64.StdEncoding.DecodeString(resp.PublicKey)
	if err != nil {
		return "", &VerifyError{Reason: ReasonVerificationError, Detail: "public key not base64"}
	}
	if len(pub) != ed25519.PublicKeySize {
		return "", &VerifyError{Reason: ReasonVerificationError, Detail: "public key wrong size"}
	}
	sig, err := base64.StdEncoding.DecodeString(resp.Signature)
	if err != nil {
		return "", &VerifyError{Reason: ReasonVerificationError, Detail: "signature not base64"}
	}
	if !ed25519.Verify(pub, []byte(canonicalString(resp.Challenge)), sig) {
		return "", &VerifyError{Reason: ReasonInvalidSignature}
	}

	return DeriveDeviceID(pub), nil
}
