package alert

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/AIDilloBot/trustgate/internal/audit"
)

const (
	requestTimeout = 5 * time.Second
	maxRetries     = 3
)

var httpClient = &http.Client{Timeout: requestTimeout}

// Send posts an audit event to a webhook endpoint with retry on 5xx.
func Send(cfg Config, e audit.Event) error {
	body, err := FormatPayload(cfg.Format, e)
	if err != nil {
		return fmt.Errorf("format payload: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(time.Duration(attempt) * time.Second)
		}

		req, err := http.NewRequest(http.MethodPost, cfg.URL, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		for k, v := range cfg.Headers {
			req.Header.Set(k, v)
		}

		resp, err := httpClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return fmt.Errorf("webhook rejected: HTTP %d", resp.StatusCode)
		}
		// 5xx — retry
		lastErr = fmt.Errorf("webhook server error: HTTP %d", resp.StatusCode)
	}

	return fmt.Errorf("webhook failed after %d attempts: %w", maxRetries, lastErr)
}

// FormatPayload builds the webhook body for the given format.
func FormatPayload(format string, e audit.Event) ([]byte, error) {
	switch format {
	case "slack":
		return formatSlack(e)
	case "pagerduty":
		return formatPagerDuty(e)
	default:
		return json.Marshal(e)
	}
}

func formatSlack(e audit.Event) ([]byte, error) {
	payload := map[string]any{
		"blocks": []any{
			map[string]any{
				"type": "header",
				"text": map[string]any{
					"type": "plain_text",
					"text": fmt.Sprintf("trustgate: %s", e.Type),
				},
			},
			map[string]any{
				"type": "section",
				"fields": []any{
					map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Severity:* %s", e.Severity)},
					map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Session:* %s", e.SessionKey)},
					map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Channel:* %s", e.Channel)},
					map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Content:* %s", e.ContentHash)},
				},
			},
		},
	}
	return json.Marshal(payload)
}

func formatPagerDuty(e audit.Event) ([]byte, error) {
	severity := "info"
	switch e.Severity.String() {
	case "critical":
		severity = "critical"
	case "high":
		severity = "error"
	case "medium":
		severity = "warning"
	}

	payload := map[string]any{
		"event_action": "trigger",
		"payload": map[string]any{
			"summary":  fmt.Sprintf("trustgate %s (%s)", e.Type, e.Severity),
			"severity": severity,
			"source":   "trustgate",
			"custom_details": map[string]any{
				"event_id":     e.ID,
				"session_key":  e.SessionKey,
				"channel":      e.Channel,
				"content_hash": e.ContentHash,
				"detail":       e.Detail,
			},
		},
	}
	return json.Marshal(payload)
}
