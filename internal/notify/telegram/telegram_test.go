package telegram

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/linnemanlabs/clarion/internal/news"
	"github.com/linnemanlabs/clarion/internal/triage"
)

func sampleDelivery() *triage.Delivery {
	return &triage.Delivery{
		Enriched: &news.EnrichedArticle{
			Article: news.Article{
				Source:      "wire",
				Title:       "中国<公司>发布财报",
				URL:         "https://example.com/a1",
				PublishedAt: time.Date(2026, 2, 26, 14, 23, 0, 0, time.UTC),
			},
			AISummary: "营收超预期。",
			Sentiment: news.Sentiment{Label: news.SentimentPositive, Score: 6},
		},
		MatchedRule: "china-news",
	}
}

func TestSend_PostsToBotAPI(t *testing.T) {
	t.Parallel()

	var got sendMessageRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if want := "/bottest-token/sendMessage"; r.URL.Path != want {
			t.Errorf("path = %q, want %q", r.URL.Path, want)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	n := New("test-token", "12345")
	n.apiBase = srv.URL

	if err := n.Send(context.Background(), sampleDelivery()); err != nil {
		t.Fatalf("Send: %v", err)
	}

	if got.ChatID != "12345" {
		t.Errorf("chat_id = %q, want %q", got.ChatID, "12345")
	}
	if got.ParseMode != "HTML" {
		t.Errorf("parse_mode = %q, want HTML", got.ParseMode)
	}
	if !strings.Contains(got.Text, `<a href="https://example.com/a1">`) {
		t.Errorf("text = %q, want title as link", got.Text)
	}
	if !strings.Contains(got.Text, "中国&lt;公司&gt;发布财报") {
		t.Errorf("text = %q, want HTML-escaped title", got.Text)
	}
	if !strings.Contains(got.Text, "positive (+6)") {
		t.Errorf("text = %q, want sentiment line", got.Text)
	}
	if !strings.Contains(got.Text, "wire · 2026-02-26 14:23") {
		t.Errorf("text = %q, want source and publish time footer", got.Text)
	}
}

func TestSend_NoOpWithoutCredentials(t *testing.T) {
	t.Parallel()

	if err := New("", "123").Send(context.Background(), sampleDelivery()); err != nil {
		t.Errorf("empty token should be no-op, got: %v", err)
	}
	if err := New("tok", "").Send(context.Background(), sampleDelivery()); err != nil {
		t.Errorf("empty chat should be no-op, got: %v", err)
	}
}

func TestSend_APIError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"ok":false,"description":"Bad Request: chat not found"}`))
	}))
	defer srv.Close()

	n := New("test-token", "bad-chat")
	n.apiBase = srv.URL

	err := n.Send(context.Background(), sampleDelivery())
	if err == nil {
		t.Fatal("expected error when ok=false")
	}
	if !strings.Contains(err.Error(), "chat not found") {
		t.Errorf("error = %q, want api description", err.Error())
	}
}

func TestFormatMessage_AIFailed(t *testing.T) {
	t.Parallel()

	d := sampleDelivery()
	d.Enriched.AIFailed = true

	text := formatMessage(d)
	if !strings.Contains(text, "情感分析不可用") {
		t.Errorf("text = %q, want the unavailable marker", text)
	}
}

func TestFormatMessage_TruncatesSummary(t *testing.T) {
	t.Parallel()

	d := sampleDelivery()
	d.Enriched.AISummary = strings.Repeat("长", 3000)

	text := formatMessage(d)
	if strings.Count(text, "长") > maxSummaryLen {
		t.Errorf("summary not truncated, %d runes", strings.Count(text, "长"))
	}
	if !strings.Contains(text, "...") {
		t.Error("expected ellipsis after truncation")
	}
}
