// Package news defines the article domain model shared by the triage
// pipeline: the raw Article as produced by fetch sources and the
// EnrichedArticle produced by the AI stage.
package news

import (
	"errors"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Article is a normalized news item as fetched from a source. It is
// immutable for the duration of a pipeline run; downstream stages read
// it but never write to it.
type Article struct {
	Source      string    `json:"source"`
	Title       string    `json:"title"`
	URL         string    `json:"url"`
	Summary     string    `json:"summary,omitempty"`
	Content     string    `json:"content,omitempty"`
	PublishedAt time.Time `json:"published_at,omitzero"`
	Authors     []string  `json:"authors,omitempty"`
}

// Validate checks the minimum shape required at the ingestion boundary.
// Everything downstream may assume a validated article.
func (a *Article) Validate() error {
	var errs []error
	if strings.TrimSpace(a.Source) == "" {
		errs = append(errs, errors.New("article source is required"))
	}
	if strings.TrimSpace(a.Title) == "" && strings.TrimSpace(a.URL) == "" {
		errs = append(errs, errors.New("article needs at least a title or a url"))
	}
	return errors.Join(errs...)
}

// CombinedText returns the normalized text the rule engine matches
// against: title, summary and content joined, NFKC-normalized,
// lowercased, with runs of whitespace collapsed to single spaces.
func (a *Article) CombinedText() string {
	joined := strings.Join([]string{a.Title, a.Summary, a.Content}, "\n")
	return NormalizeText(joined)
}

// NormalizeText applies the matching normalization used across the
// pipeline (rule engine and fingerprint derivation must agree on it).
func NormalizeText(s string) string {
	s = norm.NFKC.String(s)
	s = strings.ToLower(s)
	return collapseSpace(s)
}

func collapseSpace(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inSpace := false
	for _, r := range s {
		if unicode.IsSpace(r) {
			inSpace = true
			continue
		}
		if inSpace && b.Len() > 0 {
			b.WriteByte(' ')
		}
		inSpace = false
		b.WriteRune(r)
	}
	return b.String()
}

// Sentiment is the AI-judged tone of an article. Score is signed in
// [-10, 10]; Label must agree with the sign of Score, which the AI
// stage enforces as a validation rule rather than trusting the model.
type Sentiment struct {
	Label  string `json:"label"`
	Reason string `json:"reason"`
	Level  string `json:"level"`
	Score  int    `json:"score"`
}

// Sentiment labels accepted from the enrichment endpoint.
const (
	SentimentPositive = "positive"
	SentimentNeutral  = "neutral"
	SentimentNegative = "negative"
)

// Entity is a named entity extracted by the enrichment stage.
type Entity struct {
	Text    string `json:"text"`
	Type    string `json:"type"`
	Context string `json:"context"`
}

// Meta carries the article identity as echoed back by the model.
type Meta struct {
	Title       string `json:"title"`
	PublishTime string `json:"publish_time"`
	Source      string `json:"source"`
}

// Impact describes business exposure as judged by the enrichment stage.
type Impact struct {
	Risks          []string `json:"risks"`
	MarketImpact   string   `json:"market_impact"`
	IndustryImpact string   `json:"industry_impact"`
	CompanyImpact  string   `json:"company_impact"`
}

// EnrichedArticle is an Article plus the structured metadata produced
// by the AI enrichment stage. Every field is always present after
// enrichment: absent upstream values become empty strings or empty
// slices, never nil-marshalled-as-null. Created once per article and
// never mutated afterward.
type EnrichedArticle struct {
	Article

	AISummary string    `json:"ai_summary"`
	Keywords  []string  `json:"keywords"`
	KeyPoints []string  `json:"key_points"`
	Entities  []Entity  `json:"entities"`
	Events    []string  `json:"events"`
	Topics    []string  `json:"topics"`
	Sentiment Sentiment `json:"sentiment"`
	Meta      Meta      `json:"meta"`
	Impact    Impact    `json:"impact"`

	// AIFailed marks an article whose enrichment exhausted all retry
	// attempts. Such articles carry fallback content only and are
	// exempt from AI-only filtering decisions.
	AIFailed bool `json:"ai_failed,omitempty"`
}
