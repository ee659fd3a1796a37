package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/xeipuuv/gojsonschema"

	"github.com/linnemanlabs/clarion/internal/news"
)

// responseSchema type-checks the enrichment reply. Keys may be absent
// (normalization fills explicit defaults) but a present key with the
// wrong shape is a contract violation worth a retry.
const responseSchema = `{
  "type": "object",
  "properties": {
    "summary": {"type": "string"},
    "keywords": {"type": "array", "items": {"type": "string"}},
    "key_points": {"type": "array", "items": {"type": "string"}},
    "entities": {"type": "array", "items": {"type": "object"}},
    "events": {"type": "array"},
    "topics": {"type": "array"},
    "sentiment": {
      "type": "object",
      "properties": {
        "label": {"type": "string"},
        "reason": {"type": "string"},
        "level": {"type": "string"},
        "score": {"type": "number", "minimum": -10, "maximum": 10}
      }
    },
    "meta": {"type": "object"},
    "impact": {
      "type": "object",
      "properties": {
        "risks": {"type": "array"},
        "market_impact": {"type": "string"},
        "industry_impact": {"type": "string"},
        "company_impact": {"type": "string"}
      }
    }
  }
}`

var compiledSchema = gojsonschema.NewStringLoader(responseSchema)

const defaultEnrichSystem = "你是一名严谨的中文财经记者，请根据指定信息生成结构化摘要。" +
	"只输出要求的 JSON 对象本身，不要包含任何解释、前后缀或 Markdown 代码块。"

const enrichPrompt = `请阅读以下新闻并输出结构化分析。分析立场：%s

标题：%s
来源：%s
发布时间：%s
当前时间：%s
正文：
%s

输出且仅输出如下 JSON 对象（所有键必须存在，未知字段填空字符串或空数组）：
{
 "summary": "string",
 "keywords": ["string"],
 "key_points": ["string"],
 "entities": [{"text":"","type":"","context":""}],
 "events": [],
 "topics": ["string"],
 "sentiment": {"label":"positive|neutral|negative","reason":"","level":"高|中|低","score": -10..10},
 "meta": {"title":"","publish_time":"","source":""},
 "impact": {"risks":[],"market_impact":"","industry_impact":"","company_impact":""}
}`

// neutralScoreLimit is the largest |score| still consistent with a
// neutral label. A reply claiming neutral with a stronger score gets
// rejected and retried instead of silently defaulting to neutral.
const neutralScoreLimit = 3

// EnricherConfig holds the knobs for the enrichment call site.
type EnricherConfig struct {
	// IdentityHint is the stance string rendered into every prompt.
	// It intentionally biases sentiment and impact framing; the same
	// article under two hints may legitimately score differently.
	IdentityHint string
	SystemPrompt string
	MaxTokens    int
	Temperature  float64
	CallTimeout  time.Duration
	MaxBodyChars int
}

// Enricher turns an Article into an EnrichedArticle via the provider.
type Enricher struct {
	provider Provider
	retry    RetryPolicy
	cfg      EnricherConfig
	logger   log.Logger
	now      func() time.Time
}

// NewEnricher creates an enricher. Zero-value config fields fall back
// to working defaults.
func NewEnricher(provider Provider, retry RetryPolicy, cfg EnricherConfig, logger log.Logger) *Enricher {
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = defaultEnrichSystem
	}
	if cfg.IdentityHint == "" {
		cfg.IdentityHint = "保持专业中立、关注风险敞口的分析视角"
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 2048
	}
	if cfg.CallTimeout == 0 {
		cfg.CallTimeout = 60 * time.Second
	}
	if cfg.MaxBodyChars == 0 {
		cfg.MaxBodyChars = 6000
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Enricher{provider: provider, retry: retry, cfg: cfg, logger: logger, now: time.Now}
}

// enrichReply is the wire shape of the enrichment response.
type enrichReply struct {
	Summary   string   `json:"summary"`
	Keywords  []string `json:"keywords"`
	KeyPoints []string `json:"key_points"`
	Entities  []struct {
		Text    string `json:"text"`
		Type    string `json:"type"`
		Context string `json:"context"`
	} `json:"entities"`
	Events    []any    `json:"events"`
	Topics    []string `json:"topics"`
	Sentiment *struct {
		Label  string  `json:"label"`
		Reason string  `json:"reason"`
		Level  string  `json:"level"`
		Score  float64 `json:"score"`
	} `json:"sentiment"`
	Meta *struct {
		Title       string `json:"title"`
		PublishTime string `json:"publish_time"`
		Source      string `json:"source"`
	} `json:"meta"`
	Impact *struct {
		Risks          []string `json:"risks"`
		MarketImpact   string   `json:"market_impact"`
		IndustryImpact string   `json:"industry_impact"`
		CompanyImpact  string   `json:"company_impact"`
	} `json:"impact"`
}

// Enrich calls the provider with retries and returns the structured
// result. The returned article is complete: every schema field is
// present, absent values rendered as empty string or empty slice.
// Exhaustion surfaces as an error wrapping ErrExhausted; the caller
// decides between keyword-only fallback and dropping the article.
func (e *Enricher) Enrich(ctx context.Context, article *news.Article) (*news.EnrichedArticle, error) {
	prompt := e.buildPrompt(article)

	var enriched *news.EnrichedArticle
	err := e.retry.Do(ctx, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
		defer cancel()

		resp, err := e.provider.Complete(callCtx, &Request{
			System:      e.cfg.SystemPrompt,
			Prompt:      prompt,
			MaxTokens:   e.cfg.MaxTokens,
			Temperature: e.cfg.Temperature,
		})
		if err != nil {
			return err
		}

		e.logger.Info(ctx, "enrichment reply",
			"title", article.Title,
			"input_tokens", resp.Usage.InputTokens,
			"output_tokens", resp.Usage.OutputTokens,
		)

		parsed, err := parseEnrichReply(resp.Text)
		if err != nil {
			return err
		}
		enriched = materialize(article, parsed)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("enrich %q: %w", article.Title, err)
	}
	return enriched, nil
}

// Fallback builds the keyword-only stand-in for an article whose AI
// path is exhausted: original snippet as summary, empty structure,
// AIFailed set.
func Fallback(article *news.Article) *news.EnrichedArticle {
	snippet := article.Summary
	if snippet == "" {
		snippet = article.Content
	}
	if snippet == "" {
		snippet = article.Title
	}
	const maxChars = 400
	if runes := []rune(snippet); len(runes) > maxChars {
		snippet = string(runes[:maxChars]) + "..."
	}

	return &news.EnrichedArticle{
		Article:   *article,
		AISummary: snippet,
		Keywords:  []string{},
		KeyPoints: []string{},
		Entities:  []news.Entity{},
		Events:    []string{},
		Topics:    []string{},
		Sentiment: news.Sentiment{Label: news.SentimentNeutral, Level: "中"},
		Meta: news.Meta{
			Title:       article.Title,
			PublishTime: formatPublishTime(article),
			Source:      article.Source,
		},
		Impact:   news.Impact{Risks: []string{}},
		AIFailed: true,
	}
}

func (e *Enricher) buildPrompt(article *news.Article) string {
	body := article.Content
	if body == "" {
		body = article.Summary
	}
	if body == "" {
		body = article.Title
	}
	if runes := []rune(body); len(runes) > e.cfg.MaxBodyChars {
		body = string(runes[:e.cfg.MaxBodyChars])
	}

	return fmt.Sprintf(enrichPrompt,
		e.cfg.IdentityHint,
		article.Title,
		article.Source,
		formatPublishTime(article),
		e.now().Format("2006-01-02 15:04"),
		body,
	)
}

func formatPublishTime(article *news.Article) string {
	if article.PublishedAt.IsZero() {
		return ""
	}
	return article.PublishedAt.Format(time.RFC3339)
}

// parseEnrichReply decodes, schema-validates, and sanity-checks a raw
// reply. All failure modes return ErrSchema so the retry policy gives
// the model another chance before the article falls back.
func parseEnrichReply(raw string) (*enrichReply, error) {
	text := cleanReply(raw)
	if isRefusal(text) {
		return nil, fmt.Errorf("%w: refusal reply", ErrSchema)
	}
	obj, err := extractObject(text)
	if err != nil {
		return nil, err
	}

	res, err := gojsonschema.Validate(compiledSchema, gojsonschema.NewStringLoader(obj))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSchema, err)
	}
	if !res.Valid() {
		issues := make([]string, 0, len(res.Errors()))
		for _, desc := range res.Errors() {
			issues = append(issues, desc.String())
		}
		return nil, fmt.Errorf("%w: %s", ErrSchema, strings.Join(issues, "; "))
	}

	var reply enrichReply
	if err := json.Unmarshal([]byte(obj), &reply); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSchema, err)
	}

	if reply.Sentiment != nil {
		if err := checkSentiment(reply.Sentiment.Label, reply.Sentiment.Score); err != nil {
			return nil, err
		}
	}
	return &reply, nil
}

// checkSentiment enforces label/score consistency as a hard rule: the
// prompt alone cannot be trusted to keep the model from hedging with
// "neutral" on a clearly directional story.
func checkSentiment(label string, score float64) error {
	rounded := int(math.Round(score))
	switch strings.ToLower(strings.TrimSpace(label)) {
	case news.SentimentNeutral, "":
		if rounded > neutralScoreLimit || rounded < -neutralScoreLimit {
			return fmt.Errorf("%w: sentiment label neutral with score %d", ErrSchema, rounded)
		}
	case news.SentimentPositive:
		if rounded < 0 {
			return fmt.Errorf("%w: sentiment label positive with score %d", ErrSchema, rounded)
		}
	case news.SentimentNegative:
		if rounded > 0 {
			return fmt.Errorf("%w: sentiment label negative with score %d", ErrSchema, rounded)
		}
	default:
		return fmt.Errorf("%w: unknown sentiment label %q", ErrSchema, label)
	}
	return nil
}

// materialize converts the wire reply into the domain type, filling
// every absent field with an explicit empty value.
func materialize(article *news.Article, reply *enrichReply) *news.EnrichedArticle {
	out := &news.EnrichedArticle{
		Article:   *article,
		AISummary: reply.Summary,
		Keywords:  emptyIfNil(reply.Keywords),
		KeyPoints: emptyIfNil(reply.KeyPoints),
		Entities:  []news.Entity{},
		Events:    []string{},
		Topics:    []string{},
		Sentiment: news.Sentiment{Label: news.SentimentNeutral, Level: "中"},
		Meta: news.Meta{
			Title:       article.Title,
			PublishTime: formatPublishTime(article),
			Source:      article.Source,
		},
		Impact: news.Impact{Risks: []string{}},
	}

	for _, ent := range reply.Entities {
		out.Entities = append(out.Entities, news.Entity{Text: ent.Text, Type: ent.Type, Context: ent.Context})
	}
	for _, ev := range reply.Events {
		if s, ok := ev.(string); ok && strings.TrimSpace(s) != "" {
			out.Events = append(out.Events, s)
		}
	}
	for _, topic := range reply.Topics {
		if t := strings.TrimSpace(topic); t != "" {
			out.Topics = append(out.Topics, t)
		}
	}

	if s := reply.Sentiment; s != nil {
		out.Sentiment = news.Sentiment{
			Label:  strings.ToLower(strings.TrimSpace(nonEmpty(s.Label, news.SentimentNeutral))),
			Reason: s.Reason,
			Level:  nonEmpty(s.Level, "中"),
			Score:  clampScore(s.Score),
		}
	}
	if m := reply.Meta; m != nil {
		out.Meta.Title = nonEmpty(m.Title, out.Meta.Title)
		out.Meta.PublishTime = nonEmpty(m.PublishTime, out.Meta.PublishTime)
		out.Meta.Source = nonEmpty(m.Source, out.Meta.Source)
	}
	if im := reply.Impact; im != nil {
		out.Impact = news.Impact{
			Risks:          emptyIfNil(im.Risks),
			MarketImpact:   im.MarketImpact,
			IndustryImpact: im.IndustryImpact,
			CompanyImpact:  im.CompanyImpact,
		}
	}
	if out.Meta.Title != "" && out.Article.Title == "" {
		out.Article.Title = out.Meta.Title
	}
	return out
}

func clampScore(score float64) int {
	rounded := int(math.Round(score))
	if rounded > 10 {
		return 10
	}
	if rounded < -10 {
		return -10
	}
	return rounded
}

func emptyIfNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func nonEmpty(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}
