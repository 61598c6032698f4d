package device

import (
	"net"
	"time"

	"github.com/AIDilloBot/trustgate/internal/audit"
	"github.com/AIDilloBot/trustgate/internal/model"
	"github.com/AIDilloBot/trustgate/internal/vault"
)

// PairingRecord is the persisted record of an approved device.
type PairingRecord struct {
	DeviceID string `json:"deviceId"`
	PairedAt string `json:"pairedAt"`
	Remote   string `json:"remote"`
}

// Pairer manages the set of paired devices and the one-time loopback
// bootstrap. Pairing state lives in the vault, never in process
// memory, so bootstrap eligibility is re-checked from disk on every
// call.
type Pairer struct {
	vault *vault.Vault
	bus   *audit.Bus
}

func NewPairer(v *vault.Vault, bus *audit.Bus) *Pairer {
	return &Pairer{vault: v, bus: bus}
}

// IsPaired reports whether deviceID has an approved pairing record.
func (p *Pairer) IsPaired(deviceID string) bool {
	return p.vault.Has(vault.Key(vault.NSPairing, deviceID))
}

// CanBootstrap reports whether an unpaired device at remoteAddr may be
// auto-approved. Only loopback remotes qualify, and only while no
// device has ever been paired on this install. The first-run state is
// read from the vault each time, so a client cannot claim it.
func (p *Pairer) CanBootstrap(remoteAddr string) bool {
	if !isLoopback(remoteAddr) {
		return false
	}
	return len(p.vault.ListNamespace(vault.NSPairing)) == 0
}

// Pair records deviceID as approved.
func (p *Pairer) Pair(deviceID, remoteAddr string) error {
	rec := PairingRecord{
		DeviceID: deviceID,
		PairedAt: time.Now().UTC().Format(time.RFC3339),
		Remote:   remoteAddr,
	}
	if err := p.vault.StoreJSON(vault.Key(vault.NSPairing, deviceID), rec); err != nil {
		return err
	}
	ev := audit.NewEvent(audit.EventDevicePaired, model.SeverityLow, "")
	ev.Detail = map[string]string{"device_id": deviceID, "remote": remoteAddr}
	p.bus.Emit(ev)
	return nil
}

// RecordAuthFailure emits an audit event for a rejected response.
func (p *Pairer) RecordAuthFailure(remoteAddr string, reason Reason) {
	ev := audit.NewEvent(audit.EventDeviceAuthFailed, model.SeverityMedium, "")
	ev.Detail = map[string]string{"remote": remoteAddr, "reason": string(reason)}
	p.bus.Emit(ev)
}

func isLoopback(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
