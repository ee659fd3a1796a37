// Package telegram delivers enriched articles through the Telegram
// bot API.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/linnemanlabs/clarion/internal/news"
	"github.com/linnemanlabs/clarion/internal/triage"
)

const (
	defaultAPIBase = "https://api.telegram.org"
	maxSummaryLen  = 1500
	httpTimeout    = 10 * time.Second
)

// Notifier sends deliveries to one Telegram chat via a bot.
type Notifier struct {
	token   string
	chatID  string
	apiBase string
	client  *http.Client
}

// New creates a Telegram notifier. If token or chatID is empty, Send
// is a no-op.
func New(token, chatID string) *Notifier {
	return &Notifier{
		token:   token,
		chatID:  chatID,
		apiBase: defaultAPIBase,
		client:  &http.Client{Timeout: httpTimeout},
	}
}

// Name identifies the channel in logs and metrics.
func (n *Notifier) Name() string { return "telegram" }

type sendMessageRequest struct {
	ChatID                string `json:"chat_id"`
	Text                  string `json:"text"`
	ParseMode             string `json:"parse_mode"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview"`
}

type sendMessageResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

// Send posts one delivery as an HTML-formatted bot message.
func (n *Notifier) Send(ctx context.Context, d *triage.Delivery) error {
	if n.token == "" || n.chatID == "" {
		return nil
	}

	body, err := json.Marshal(sendMessageRequest{
		ChatID:                n.chatID,
		Text:                  formatMessage(d),
		ParseMode:             "HTML",
		DisableWebPagePreview: true,
	})
	if err != nil {
		return fmt.Errorf("telegram: marshal message: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.apiBase, n.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("telegram: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram: send message: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return fmt.Errorf("telegram: read response: %w", err)
	}

	var out sendMessageResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("telegram: api returned %d: %s", resp.StatusCode, string(raw))
	}
	if !out.OK {
		return fmt.Errorf("telegram: api returned %d: %s", resp.StatusCode, out.Description)
	}
	return nil
}

func formatMessage(d *triage.Delivery) string {
	e := d.Enriched
	var b strings.Builder

	title := html.EscapeString(e.Title)
	if e.URL != "" {
		fmt.Fprintf(&b, "<b><a href=\"%s\">%s</a></b>\n", html.EscapeString(e.URL), title)
	} else {
		fmt.Fprintf(&b, "<b>%s</b>\n", title)
	}

	summary := e.AISummary
	if runes := []rune(summary); len(runes) > maxSummaryLen {
		summary = string(runes[:maxSummaryLen]) + "..."
	}
	if summary != "" {
		b.WriteString(html.EscapeString(summary))
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "\n%s %s", sentimentGlyph(e), sentimentLine(e))

	footer := html.EscapeString(e.Source)
	if !e.PublishedAt.IsZero() {
		footer += " · " + e.PublishedAt.Format("2006-01-02 15:04")
	}
	fmt.Fprintf(&b, "\n<i>%s</i>", footer)

	return b.String()
}

func sentimentLine(e *news.EnrichedArticle) string {
	if e.AIFailed {
		return "情感分析不可用"
	}
	label := e.Sentiment.Label
	if label == "" {
		label = news.SentimentNeutral
	}
	return fmt.Sprintf("%s (%+d)", label, e.Sentiment.Score)
}

func sentimentGlyph(e *news.EnrichedArticle) string {
	if e.AIFailed {
		return "⚪"
	}
	switch e.Sentiment.Label {
	case news.SentimentPositive:
		return "\U0001f4c8" // chart increasing
	case news.SentimentNegative:
		return "\U0001f4c9" // chart decreasing
	default:
		return "➖" // heavy minus
	}
}
