// Package slack delivers enriched articles to Slack via incoming
// webhooks.
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

	"github.com/linnemanlabs/clarion/internal/news"
	"github.com/linnemanlabs/clarion/internal/triage"
)

const (
	maxSummaryLen = 3000
	httpTimeout   = 10 * time.Second
)

// Notifier sends deliveries to a Slack webhook.
type Notifier struct {
	webhookURL string
	client     *http.Client
}

// New creates a new Slack notifier. If webhookURL is empty, Send is a no-op.
func New(webhookURL string) *Notifier {
	return &Notifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: httpTimeout},
	}
}

// Name identifies the channel in logs and metrics.
func (n *Notifier) Name() string { return "slack" }

// Send posts one delivery to the configured Slack webhook.
// If no webhook URL is configured, it returns nil immediately.
func (n *Notifier) Send(ctx context.Context, d *triage.Delivery) error {
	if n.webhookURL == "" {
		return nil
	}

	msg := buildMessage(d)

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("slack: marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("slack: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
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

func buildMessage(d *triage.Delivery) map[string]any {
	return map[string]any{
		"blocks": []map[string]any{
			headerBlock(d),
			{"type": "divider"},
			fieldsBlock(d),
			summaryBlock(d),
			{"type": "divider"},
			contextBlock(d),
		},
	}
}

func headerBlock(d *triage.Delivery) map[string]any {
	text := fmt.Sprintf("%s %s", sentimentEmoji(d.Enriched), d.Enriched.Title)

	return map[string]any{
		"type": "header",
		"text": map[string]any{
			"type": "plain_text",
			"text": truncate(text, 150),
		},
	}
}

func fieldsBlock(d *triage.Delivery) map[string]any {
	e := d.Enriched
	fields := []map[string]any{
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Source:* %s", e.Source),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Rule:* %s", orDash(d.MatchedRule)),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Sentiment:* %s (%+d)", orDash(e.Sentiment.Label), e.Sentiment.Score),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Topics:* %s", orDash(strings.Join(e.Topics, ", "))),
		},
	}

	return map[string]any{
		"type":   "section",
		"fields": fields,
	}
}

func summaryBlock(d *triage.Delivery) map[string]any {
	text := truncate(d.Enriched.AISummary, maxSummaryLen)
	if text == "" {
		text = "_No summary available._"
	}
	if d.Enriched.AIFailed {
		text = "_AI enrichment unavailable; original excerpt:_\n" + text
	}

	return map[string]any{
		"type": "section",
		"text": map[string]any{
			"type": "mrkdwn",
			"text": text,
		},
	}
}

func contextBlock(d *triage.Delivery) map[string]any {
	e := d.Enriched
	parts := []string{"clarion"}
	if e.URL != "" {
		parts = append(parts, fmt.Sprintf("<%s|original>", e.URL))
	}
	if !e.PublishedAt.IsZero() {
		parts = append(parts, e.PublishedAt.UTC().Format("2006-01-02 15:04 UTC"))
	}

	return map[string]any{
		"type": "context",
		"elements": []map[string]any{
			{
				"type": "mrkdwn",
				"text": strings.Join(parts, " • "),
			},
		},
	}
}

func sentimentEmoji(e *news.EnrichedArticle) string {
	if e.AIFailed {
		return "⚪" // white circle
	}
	switch e.Sentiment.Label {
	case news.SentimentPositive:
		return "\U0001f7e2" // green circle
	case news.SentimentNegative:
		return "\U0001f534" // red circle
	default:
		return "\U0001f7e1" // yellow circle
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit-3]) + "..."
}
