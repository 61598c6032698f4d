// Package device implements asymmetric device identity and the
// nonce-based challenge-response protocol that proves possession of a
// device's private key without transmitting it.
package device

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/AIDilloBot/trustgate/internal/vault"
)

// Identity is one device's asymmetric keypair. The private key never
// leaves the vault once one is available.
type Identity struct {
	ID         string
	PublicKey  ed25519.PublicKey
	PrivateKey ed25519.PrivateKey
}

// storedIdentity is the vault-persisted shape.
type storedIdentity struct {
	PublicKey  string `json:"publicKey"`
	PrivateKey string `json:"privateKey"`
}

// NewIdentity generates a fresh device keypair.
func NewIdentity() (*Identity, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("device: generate keypair: %w", err)
	}
	return &Identity{
		ID:         DeriveDeviceID(pub),
		PublicKey:  pub,
		PrivateKey: priv,
	}, nil
}

// DeriveDeviceID derives the device id as a hash of the raw public key
// bytes. The id is always re-derivable and never trusted as a separate
// claim.
func DeriveDeviceID(pub ed25519.PublicKey) string {
	h := sha256.Sum256(pub)
	return hex.EncodeToString(h[:])[:32]
}

// LoadOrCreateIdentity returns the persisted identity for name,
// generating and storing one on first use.
func LoadOrCreateIdentity(v *vault.Vault, name string) (*Identity, error) {
	key := vault.Key(vault.NSDeviceIdentity, name)

	var stored storedIdentity
	err := v.RetrieveJSON(key, &stored)
	if err == nil {
		pub, pubErr := base64.StdEncoding.DecodeString(stored.PublicKey)
		priv, privErr := base64.StdEncoding.DecodeString(stored.PrivateKey)
		if pubErr != nil || privErr != nil ||
			len(pub) != ed25519.PublicKeySize || len(priv) != ed25519.PrivateKeySize {
			return nil, fmt.Errorf("device: stored identity %q is malformed", name)
		}
		return &Identity{
			ID:         DeriveDeviceID(pub),
			PublicKey:  pub,
			PrivateKey: priv,
		}, nil
	}
	if !errors.Is(err, vault.ErrNotFound) {
		return nil, err
	}

	id, err := NewIdentity()
	if err != nil {
		return nil, err
	}
	stored = storedIdentity{
		PublicKey:  base64.StdEncoding.EncodeToString(id.PublicKey),
		PrivateKey: base64.StdEncoding.EncodeToString(id.PrivateKey),
	}
	if err := v.StoreJSON(key, stored); err != nil {
		return nil, fmt.Errorf("device: persist identity: %w", err)
	}
	return id, nil
}
