// Package rules implements the keyword filter engine: boolean rules
// over normalized article text, evaluated in declaration order with
// first-match-wins semantics.
package rules

import (
	"fmt"
	"strings"

	"github.com/linnemanlabs/clarion/internal/news"
)

// Action is the outcome a rule (or the default) assigns to an article.
type Action string

const (
	ActionAllow Action = "allow"
	ActionDeny  Action = "deny"
)

// Rule is a single keyword rule. AllOf is a conjunction of groups: the
// rule requires every group to match, and a group matches when any of
// its terms appears in the text. NoneOf terms must all be absent.
// Empty AllOf and NoneOf are vacuously true, so a rule with both empty
// matches every article.
type Rule struct {
	Name    string
	Action  Action
	AllOf   [][]string
	NoneOf  []string
	Enabled bool
}

// Matches reports whether the rule matches the given normalized text.
// Matching is case-insensitive substring search; terms are normalized
// the same way the text was.
func (r *Rule) Matches(text string) bool {
	if !r.Enabled {
		return false
	}
	for _, group := range r.AllOf {
		if len(group) == 0 {
			continue
		}
		hit := false
		for _, term := range group {
			if containsTerm(text, term) {
				hit = true
				break
			}
		}
		if !hit {
			return false
		}
	}
	for _, term := range r.NoneOf {
		if containsTerm(text, term) {
			return false
		}
	}
	return true
}

func containsTerm(text, term string) bool {
	term = news.NormalizeText(term)
	if term == "" {
		return false
	}
	return strings.Contains(text, term)
}

// Verdict is the result of evaluating a rule set against one article.
// Rule is empty and Index is -1 when the default action applied.
type Verdict struct {
	Action Action
	Rule   string
	Index  int
}

// Evaluate runs the rules against the article in declaration order and
// returns the first matching rule's action, or defaultAction when no
// rule matches. Pure function: no I/O, no mutation of the article.
func Evaluate(article *news.Article, ruleSet []Rule, defaultAction Action) Verdict {
	text := article.CombinedText()
	for i := range ruleSet {
		if ruleSet[i].Matches(text) {
			return Verdict{Action: ruleSet[i].Action, Rule: ruleSet[i].Name, Index: i}
		}
	}
	return Verdict{Action: defaultAction, Index: -1}
}

// Active returns the enabled subset of the rule set, preserving order.
func Active(ruleSet []Rule) []Rule {
	out := make([]Rule, 0, len(ruleSet))
	for _, r := range ruleSet {
		if r.Enabled {
			out = append(out, r)
		}
	}
	return out
}

func parseAction(s string) (Action, error) {
	switch Action(strings.ToLower(strings.TrimSpace(s))) {
	case ActionAllow, "":
		return ActionAllow, nil
	case ActionDeny:
		return ActionDeny, nil
	default:
		return "", fmt.Errorf("unknown rule action %q (want allow or deny)", s)
	}
}
