// Package slack posts alert notifications to Slack via incoming webhooks.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/linnemanlabs/watchpost/internal/alert"
	"github.com/linnemanlabs/watchpost/internal/alerting"
)

const (
	maxRecipientsLen = 1500
	httpTimeout      = 10 * time.Second
)

// Notifier posts alert notifications to a Slack webhook.
type Notifier struct {
	webhookURL string
	client     *http.Client
}

// New creates a new Slack notifier. If webhookURL is empty, Notify is a no-op.
func New(webhookURL string) *Notifier {
	return &Notifier{
		webhookURL: webhookURL,
		client: &http.Client{
			Timeout:   httpTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// Name implements notify.Named.
func (*Notifier) Name() string { return "slack" }

// Notify posts n to the configured webhook.
func (n *Notifier) Notify(ctx context.Context, note alerting.Notification) error {
	if n.webhookURL == "" {
		return nil
	}

	body, err := json.Marshal(buildMessage(note))
	if err != nil {
		return fmt.Errorf("slack: marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("slack: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req) //nolint:gosec // G704: webhookURL is from trusted config, not user input
	if err != nil {
		return fmt.Errorf("slack: post webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("slack: webhook returned %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

func buildMessage(n alerting.Notification) map[string]any {
	return map[string]any{
		"text": fallbackText(n),
		"blocks": []map[string]any{
			headerBlock(n),
			fieldsBlock(n),
			{"type": "divider"},
			recipientsBlock(n),
			contextBlock(n),
		},
	}
}

func fallbackText(n alerting.Notification) string {
	return fmt.Sprintf("%s %s: %s", n.Reference, eventTitle(n.Event), n.Title)
}

func headerBlock(n alerting.Notification) map[string]any {
	return map[string]any{
		"type": "header",
		"text": map[string]any{
			"type": "plain_text",
			"text": truncate(fmt.Sprintf("%s %s: %s", severityEmoji(n.Severity), eventTitle(n.Event), n.Title), 150),
		},
	}
}

func fieldsBlock(n alerting.Notification) map[string]any {
	field := func(label string, v any) map[string]any {
		return map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*%s:* %v", label, v)}
	}
	return map[string]any{
		"type": "section",
		"fields": []map[string]any{
			field("Reference", n.Reference),
			field("Category", n.Category),
			field("Severity", n.Severity),
			field("Status", n.Status),
			field("Station", n.OwnerStation),
			field("By", fmt.Sprintf("%s / %s", n.Actor.Station, n.Actor.Agent)),
		},
	}
}

func recipientsBlock(n alerting.Notification) map[string]any {
	var lines []string
	r := n.Recipients
	if r.AllStations {
		lines = append(lines, "*Stations:* all stations")
	}
	if len(r.Stations) > 0 {
		lines = append(lines, "*Stations:* "+joinIDs(r.Stations))
	}
	if len(r.Agents) > 0 {
		lines = append(lines, "*Agents:* "+joinIDs(r.Agents))
	}
	text := strings.Join(lines, "\n")
	if text == "" {
		text = "_No recipients._"
	}
	return map[string]any{
		"type": "section",
		"text": map[string]any{
			"type": "mrkdwn",
			"text": truncate(text, maxRecipientsLen),
		},
	}
}

func contextBlock(n alerting.Notification) map[string]any {
	return map[string]any{
		"type": "context",
		"elements": []map[string]any{
			{
				"type": "mrkdwn",
				"text": fmt.Sprintf("watchpost • alert %s • v%d • %s", n.AlertID, n.Version, n.At.UTC().Format("2006-01-02 15:04 UTC")),
			},
		},
	}
}

func eventTitle(ev alerting.Event) string {
	switch ev {
	case alerting.EventCreated:
		return "New alert"
	case alerting.EventBroadcast:
		return "Alert broadcast"
	case alerting.EventAssigned:
		return "Alert assigned"
	case alerting.EventDiffused:
		return "Alert diffused"
	case alerting.EventResolved:
		return "Alert resolved"
	case alerting.EventArchived:
		return "Alert archived"
	}
	return string(ev)
}

func severityEmoji(s alert.Severity) string {
	switch s {
	case alert.SeverityCritical:
		return "\U0001f534" // red circle
	case alert.SeverityHigh:
		return "\U0001f7e0" // orange circle
	case alert.SeverityMedium:
		return "\U0001f7e1" // yellow circle
	default:
		return "\U0001f7e2" // green circle
	}
}

func joinIDs[T ~string](ids []T) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = string(id)
	}
	return strings.Join(parts, ", ")
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit-3] + "..."
}
