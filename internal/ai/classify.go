package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/clarion/internal/news"
	"github.com/linnemanlabs/clarion/internal/rules"
)

const defaultClassifySystem = "你是一名资深的中英文新闻审核员，擅长理解不同语言的同义表达并判断新闻是否命中指定情报需求。" +
	"只输出要求的 JSON 对象本身。"

const classifyPrompt = `判断下面这条新闻是否与任一情报规则相关。规则中 all_of 的每一组至少命中一个词、none_of 的词全部不出现才算相关；允许同义、跨语言表达。

规则：
%s

新闻标题：%s
新闻来源：%s
新闻摘要：%s

输出且仅输出：{"relevant": true|false, "matched_rules": ["规则名"], "reason": ""}`

// ClassifierConfig holds the knobs for the semantic pre-filter.
type ClassifierConfig struct {
	SystemPrompt string
	MaxTokens    int
	Temperature  float64
	CallTimeout  time.Duration
	MaxTextChars int
}

// Classifier is the cheap semantic gate run before the rule engine.
// It is advisory: on any failure it fails open, because the keyword
// rule engine downstream remains the hard gate.
type Classifier struct {
	provider Provider
	retry    RetryPolicy
	cfg      ClassifierConfig
	logger   log.Logger
}

// NewClassifier creates the pre-filter call site.
func NewClassifier(provider Provider, retry RetryPolicy, cfg ClassifierConfig, logger log.Logger) *Classifier {
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = defaultClassifySystem
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 512
	}
	if cfg.CallTimeout == 0 {
		cfg.CallTimeout = 30 * time.Second
	}
	if cfg.MaxTextChars == 0 {
		cfg.MaxTextChars = 300
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Classifier{provider: provider, retry: retry, cfg: cfg, logger: logger}
}

// Relevance is the pre-filter verdict for one article.
type Relevance struct {
	Relevant     bool     `json:"relevant"`
	MatchedRules []string `json:"matched_rules"`
	Reason       string   `json:"reason"`
}

// Classify asks the model whether the article plausibly matches any of
// the active rules. Fail-open: a transient AI outage must never
// silently drop news, so call failure or a malformed reply after
// retries yields relevant=true.
func (c *Classifier) Classify(ctx context.Context, article *news.Article, active []rules.Rule) Relevance {
	prompt := c.buildPrompt(article, active)

	var verdict Relevance
	err := c.retry.Do(ctx, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, c.cfg.CallTimeout)
		defer cancel()

		resp, err := c.provider.Complete(callCtx, &Request{
			System:      c.cfg.SystemPrompt,
			Prompt:      prompt,
			MaxTokens:   c.cfg.MaxTokens,
			Temperature: c.cfg.Temperature,
		})
		if err != nil {
			return err
		}
		var parsed Relevance
		if err := decodeObject(resp.Text, &parsed); err != nil {
			return err
		}
		verdict = parsed
		return nil
	})
	if err != nil {
		c.logger.Warn(ctx, "pre-filter failed, keeping article",
			"title", article.Title, "source", article.Source, "error", err.Error())
		return Relevance{Relevant: true, Reason: "pre-filter unavailable, fail-open"}
	}
	if verdict.MatchedRules == nil {
		verdict.MatchedRules = []string{}
	}
	return verdict
}

func (c *Classifier) buildPrompt(article *news.Article, active []rules.Rule) string {
	type promptRule struct {
		Name   string     `json:"name"`
		AllOf  [][]string `json:"all_of"`
		NoneOf []string   `json:"none_of"`
	}
	payload := make([]promptRule, 0, len(active))
	for _, r := range active {
		payload = append(payload, promptRule{Name: r.Name, AllOf: r.AllOf, NoneOf: r.NoneOf})
	}
	rulesJSON, _ := json.MarshalIndent(payload, "", "  ")

	text := article.Summary
	if text == "" {
		text = article.Content
	}
	if runes := []rune(text); len(runes) > c.cfg.MaxTextChars {
		text = string(runes[:c.cfg.MaxTextChars]) + "..."
	}

	return fmt.Sprintf(classifyPrompt, rulesJSON, article.Title, article.Source, text)
}

// PostFilter screens enriched articles on the dimensions the AI stage
// produced: topic include/exclude and sentiment include/exclude sets.
// No model call is involved; the enrichment already paid for the
// signal. Empty sets pass everything.
type PostFilter struct {
	TopicInclude     []string
	TopicExclude     []string
	SentimentInclude []string
	SentimentExclude []string
}

// Enabled reports whether any criterion is configured.
func (f *PostFilter) Enabled() bool {
	return len(f.TopicInclude) > 0 || len(f.TopicExclude) > 0 ||
		len(f.SentimentInclude) > 0 || len(f.SentimentExclude) > 0
}

// Keep reports whether the enriched article survives the post-filter.
// Articles whose AI path failed are always kept: they cannot be judged
// on fields they do not have.
func (f *PostFilter) Keep(enriched *news.EnrichedArticle) bool {
	if !f.Enabled() || enriched.AIFailed {
		return true
	}

	topics := make(map[string]bool, len(enriched.Topics))
	for _, t := range enriched.Topics {
		topics[normToken(t)] = true
	}
	if len(f.TopicInclude) > 0 && !anyIn(topics, f.TopicInclude) {
		return false
	}
	if anyIn(topics, f.TopicExclude) {
		return false
	}

	label := normToken(enriched.Sentiment.Label)
	if len(f.SentimentInclude) > 0 && !contains(f.SentimentInclude, label) {
		return false
	}
	if contains(f.SentimentExclude, label) {
		return false
	}
	return true
}

func normToken(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func anyIn(set map[string]bool, terms []string) bool {
	for _, t := range terms {
		if set[normToken(t)] {
			return true
		}
	}
	return false
}

func contains(terms []string, token string) bool {
	if token == "" {
		return false
	}
	for _, t := range terms {
		if normToken(t) == token {
			return true
		}
	}
	return false
}
