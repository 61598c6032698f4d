// Package alert pushes security audit events to operator webhook
// endpoints. Delivery is best-effort and asynchronous — the security
// pipeline never waits on a webhook.
package alert

import (
	"github.com/AIDilloBot/trustgate/internal/audit"
)

// Config defines one webhook alert destination.
type Config struct {
	URL     string            `yaml:"url"     json:"url"`
	Format  string            `yaml:"format"  json:"format"` // "generic", "slack", "pagerduty"
	Events  []string          `yaml:"events"  json:"events"` // event types to forward; empty = all
	Headers map[string]string `yaml:"headers" json:"headers"`
}

// Dispatcher fans out audit events to matching webhook configurations.
type Dispatcher struct {
	configs []Config
}

// NewDispatcher creates a Dispatcher from webhook configurations.
// Returns nil if configs is empty (callers should nil-check).
func NewDispatcher(configs []Config) *Dispatcher {
	if len(configs) == 0 {
		return nil
	}
	return &Dispatcher{configs: configs}
}

// Dispatch sends the event to all webhooks whose Events list matches.
// Fires goroutines — does not block the caller.
func (d *Dispatcher) Dispatch(e audit.Event) {
	if d == nil {
		return
	}
	for _, cfg := range d.configs {
		if matches(cfg.Events, e) {
			go Send(cfg, e)
		}
	}
}

// Listener returns an audit bus listener that dispatches every event.
func (d *Dispatcher) Listener() audit.Listener {
	return func(e audit.Event) { d.Dispatch(e) }
}

func matches(events []string, e audit.Event) bool {
	if len(events) == 0 {
		return true
	}
	for _, want := range events {
		if want == string(e.Type) {
			return true
		}
	}
	return false
}
