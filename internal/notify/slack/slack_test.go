package slack

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
				Title:       "中国发布新能源政策",
				URL:         "https://example.com/a1",
				PublishedAt: time.Date(2026, 2, 26, 14, 23, 0, 0, time.UTC),
			},
			AISummary: "政策利好新能源产业链。",
			Topics:    []string{"宏观", "新能源"},
			Sentiment: news.Sentiment{Label: news.SentimentNegative, Score: -6},
		},
		MatchedRule:       "china-news",
		PostFilterVerdict: "passed",
	}
}

func TestSend_PostsToWebhook(t *testing.T) {
	t.Parallel()

	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("content-type = %q, want application/json", r.Header.Get("Content-Type"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := New(srv.URL)
	if err := n.Send(context.Background(), sampleDelivery()); err != nil {
		t.Fatalf("Send: %v", err)
	}

	blocks, ok := got["blocks"].([]any)
	if !ok {
		t.Fatal("expected blocks array in payload")
	}

	// header, divider, fields, summary, divider, context = 6 blocks
	if len(blocks) != 6 {
		t.Errorf("blocks count = %d, want 6", len(blocks))
	}

	header := blocks[0].(map[string]any)
	headerText := header["text"].(map[string]any)["text"].(string)
	if !strings.Contains(headerText, "中国发布新能源政策") {
		t.Errorf("header text = %q, want to contain the title", headerText)
	}
	if !strings.Contains(headerText, "\U0001f534") {
		t.Error("header should carry the red circle for negative sentiment")
	}
}

func TestSend_NoOpWithoutURL(t *testing.T) {
	t.Parallel()

	n := New("")
	if err := n.Send(context.Background(), sampleDelivery()); err != nil {
		t.Fatalf("Send with empty URL should be no-op, got: %v", err)
	}
}

func TestSend_TruncatesLongSummary(t *testing.T) {
	t.Parallel()

	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := sampleDelivery()
	d.Enriched.AISummary = strings.Repeat("长", 4000)

	n := New(srv.URL)
	if err := n.Send(context.Background(), d); err != nil {
		t.Fatalf("Send: %v", err)
	}

	blocks := got["blocks"].([]any)
	summarySection := blocks[3].(map[string]any)
	text := summarySection["text"].(map[string]any)["text"].(string)

	if got := len([]rune(text)); got > maxSummaryLen {
		t.Errorf("summary rune length = %d, expected <= %d", got, maxSummaryLen)
	}
	if !strings.HasSuffix(text, "...") {
		t.Error("expected truncated summary to end with ...")
	}
}

func TestSend_AIFailedBanner(t *testing.T) {
	t.Parallel()

	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := sampleDelivery()
	d.Enriched.AIFailed = true

	n := New(srv.URL)
	if err := n.Send(context.Background(), d); err != nil {
		t.Fatalf("Send: %v", err)
	}

	blocks := got["blocks"].([]any)
	text := blocks[3].(map[string]any)["text"].(map[string]any)["text"].(string)
	if !strings.Contains(text, "AI enrichment unavailable") {
		t.Errorf("summary = %q, want the fallback banner", text)
	}
}

func TestSentimentEmoji(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		enriched news.EnrichedArticle
		want     string
	}{
		{"positive", news.EnrichedArticle{Sentiment: news.Sentiment{Label: news.SentimentPositive}}, "\U0001f7e2"},
		{"negative", news.EnrichedArticle{Sentiment: news.Sentiment{Label: news.SentimentNegative}}, "\U0001f534"},
		{"neutral", news.EnrichedArticle{Sentiment: news.Sentiment{Label: news.SentimentNeutral}}, "\U0001f7e1"},
		{"empty label", news.EnrichedArticle{}, "\U0001f7e1"},
		{"ai failed", news.EnrichedArticle{AIFailed: true}, "⚪"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := sentimentEmoji(&tt.enriched); got != tt.want {
				t.Errorf("sentimentEmoji = %q, want %q", got, tt.want)
			}
		})
	}
}

func FuzzSlackBuild(f *testing.F) {
	f.Add("中国新政", "wire", "摘要内容", "china-news", int(5))
	f.Add("", "", "", "", int(0))
	f.Add("<@U123> mention", "src\nline", "*bold* _italic_", "rule", int(-10))
	f.Add(strings.Repeat("A", 5000), "s", strings.Repeat("x", 10000), "r", int(10))

	f.Fuzz(func(t *testing.T, title, source, summary, rule string, score int) {
		d := &triage.Delivery{
			Enriched: &news.EnrichedArticle{
				Article:   news.Article{Source: source, Title: title},
				AISummary: summary,
				Sentiment: news.Sentiment{Label: news.SentimentNeutral, Score: score},
			},
			MatchedRule: rule,
		}

		// must not panic, must marshal
		msg := buildMessage(d)
		data, err := json.Marshal(msg)
		if err != nil {
			t.Fatalf("buildMessage produced non-marshalable output: %v", err)
		}

		var decoded map[string]any
		if err := json.Unmarshal(data, &decoded); err != nil {
			t.Fatalf("buildMessage JSON does not round-trip: %v", err)
		}
		if blocks, ok := decoded["blocks"].([]any); !ok || len(blocks) != 6 {
			t.Fatalf("blocks = %v, want 6-element array", decoded["blocks"])
		}
	})
}

func TestSend_NonOKStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("internal error"))
	}))
	defer srv.Close()

	n := New(srv.URL)
	err := n.Send(context.Background(), sampleDelivery())
	if err == nil {
		t.Fatal("expected error on non-OK status")
	}
	if !strings.Contains(err.Error(), "500") {
		t.Errorf("error = %q, want to contain status code 500", err.Error())
	}
}
