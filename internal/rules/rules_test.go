package rules

import (
	"testing"

	"github.com/linnemanlabs/clarion/internal/news"
)

func article(title string) *news.Article {
	return &news.Article{Source: "test", Title: title}
}

func TestEvaluate_GroupSemantics(t *testing.T) {
	t.Parallel()

	ruleSet := []Rule{{
		Name:    "china-taiwan",
		Action:  ActionAllow,
		AllOf:   [][]string{{"中国", "台湾"}},
		NoneOf:  []string{"广告"},
		Enabled: true,
	}}

	tests := []struct {
		name  string
		title string
		want  Action
		rule  string
	}{
		{"group term hit", "中国游客在日本", ActionAllow, "china-taiwan"},
		{"none_of blocks", "中国广告推广", ActionDeny, ""},
		{"no match falls through", "美国新闻", ActionDeny, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			v := Evaluate(article(tt.title), ruleSet, ActionDeny)
			if v.Action != tt.want {
				t.Errorf("action = %q, want %q", v.Action, tt.want)
			}
			if v.Rule != tt.rule {
				t.Errorf("rule = %q, want %q", v.Rule, tt.rule)
			}
		})
	}
}

func TestEvaluate_DeclarationOrderWins(t *testing.T) {
	t.Parallel()

	ruleSet := []Rule{
		{Name: "first", Action: ActionDeny, AllOf: [][]string{{"market"}}, Enabled: true},
		{Name: "second", Action: ActionAllow, AllOf: [][]string{{"market"}}, Enabled: true},
	}

	// Repeated evaluations must be reproducible.
	for range 50 {
		v := Evaluate(article("market crash"), ruleSet, ActionAllow)
		if v.Action != ActionDeny || v.Rule != "first" || v.Index != 0 {
			t.Fatalf("verdict = %+v, want first/deny/0", v)
		}
	}
}

func TestEvaluate_EmptyRuleAlwaysMatches(t *testing.T) {
	t.Parallel()

	ruleSet := []Rule{{Name: "catch-all", Action: ActionAllow, Enabled: true}}
	v := Evaluate(article("anything at all"), ruleSet, ActionDeny)
	if v.Action != ActionAllow {
		t.Errorf("action = %q, want allow (empty all_of/none_of are vacuously true)", v.Action)
	}
}

func TestEvaluate_DisabledRuleSkipped(t *testing.T) {
	t.Parallel()

	ruleSet := []Rule{
		{Name: "off", Action: ActionDeny, AllOf: [][]string{{"news"}}, Enabled: false},
		{Name: "on", Action: ActionAllow, AllOf: [][]string{{"news"}}, Enabled: true},
	}
	v := Evaluate(article("breaking news"), ruleSet, ActionDeny)
	if v.Rule != "on" {
		t.Errorf("rule = %q, want %q", v.Rule, "on")
	}
}

func TestEvaluate_DefaultWhenNoRules(t *testing.T) {
	t.Parallel()

	v := Evaluate(article("whatever"), nil, ActionAllow)
	if v.Action != ActionAllow || v.Index != -1 {
		t.Errorf("verdict = %+v, want default allow with index -1", v)
	}
}

func TestMatches_CaseInsensitive(t *testing.T) {
	t.Parallel()

	r := Rule{Action: ActionAllow, AllOf: [][]string{{"BitCoin"}}, Enabled: true}
	if !r.Matches(news.NormalizeText("BITCOIN hits new high")) {
		t.Error("expected case-insensitive match")
	}
}

func TestParse_RulesFile(t *testing.T) {
	t.Parallel()

	doc := []byte(`
filters:
  enabled: true
  default_action: deny
  rules:
    - name: geopolitics
      action: allow
      all_of: ["中国"]
      any_of: ["台湾", "香港"]
      none_of: ["广告"]
    - name: ads
      action: deny
      any_of: ["promo"]
      enabled: false
`)

	cfg, err := Parse(doc)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !cfg.Enabled {
		t.Error("expected filters enabled")
	}
	if cfg.DefaultAction != ActionDeny {
		t.Errorf("default = %q, want deny", cfg.DefaultAction)
	}
	if len(cfg.Rules) != 2 {
		t.Fatalf("rules = %d, want 2", len(cfg.Rules))
	}

	geo := cfg.Rules[0]
	// all_of contributes one group per term, any_of one group total.
	if len(geo.AllOf) != 2 {
		t.Fatalf("AllOf groups = %d, want 2", len(geo.AllOf))
	}
	if len(geo.AllOf[1]) != 2 {
		t.Errorf("any_of group size = %d, want 2", len(geo.AllOf[1]))
	}
	if cfg.Rules[1].Enabled {
		t.Error("expected second rule disabled")
	}
}

func TestParse_PostFilterSection(t *testing.T) {
	t.Parallel()

	doc := []byte(`
filters:
  enabled: true
  default_action: allow
post_filter:
  topic_include: ["宏观经济", "市场"]
  topic_exclude: ["广告"]
  sentiment_exclude: ["neutral"]
`)

	cfg, err := Parse(doc)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	pf := cfg.PostFilter
	if len(pf.TopicInclude) != 2 || pf.TopicInclude[0] != "宏观经济" {
		t.Errorf("TopicInclude = %v", pf.TopicInclude)
	}
	if len(pf.TopicExclude) != 1 || len(pf.SentimentExclude) != 1 {
		t.Errorf("exclude lists = %v / %v", pf.TopicExclude, pf.SentimentExclude)
	}
	if len(pf.SentimentInclude) != 0 {
		t.Errorf("SentimentInclude = %v, want empty", pf.SentimentInclude)
	}
}

func TestParse_UnknownAction(t *testing.T) {
	t.Parallel()

	_, err := Parse([]byte("filters:\n  rules:\n    - name: x\n      action: maybe\n"))
	if err == nil {
		t.Fatal("expected error for unknown action")
	}
}
