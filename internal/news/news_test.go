package news

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		article Article
		wantErr bool
	}{
		{"full", Article{Source: "bbc", Title: "headline", URL: "https://x/1"}, false},
		{"title only", Article{Source: "bbc", Title: "headline"}, false},
		{"url only", Article{Source: "bbc", URL: "https://x/1"}, false},
		{"no source", Article{Title: "headline"}, true},
		{"no identity", Article{Source: "bbc"}, true},
		{"whitespace title", Article{Source: "bbc", Title: "   "}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.article.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestCombinedText(t *testing.T) {
	t.Parallel()

	a := Article{
		Source:  "test",
		Title:   "  Breaking   NEWS ",
		Summary: "Short\tsummary",
		Content: "Body\n\ntext",
	}

	got := a.CombinedText()
	want := "breaking news short summary body text"
	if got != want {
		t.Errorf("CombinedText() = %q, want %q", got, want)
	}
}

func TestNormalizeText_Unicode(t *testing.T) {
	t.Parallel()

	// Full-width latin letters NFKC-fold to ASCII.
	got := NormalizeText("ＡＢＣ 中国")
	if got != "abc 中国" {
		t.Errorf("NormalizeText = %q, want %q", got, "abc 中国")
	}
}

func TestEnrichedArticle_JSONShape(t *testing.T) {
	t.Parallel()

	e := EnrichedArticle{
		Article:   Article{Source: "reuters", Title: "t"},
		Keywords:  []string{},
		KeyPoints: []string{},
		Entities:  []Entity{},
		Events:    []string{},
		Topics:    []string{},
		Impact:    Impact{Risks: []string{}},
	}

	out, err := json.Marshal(&e)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	s := string(out)
	if strings.Contains(s, "null") {
		t.Errorf("enriched article marshals field as null: %s", s)
	}
	for _, key := range []string{`"keywords"`, `"entities"`, `"topics"`, `"sentiment"`, `"impact"`, `"market_impact"`} {
		if !strings.Contains(s, key) {
			t.Errorf("marshalled enriched article missing %s: %s", key, s)
		}
	}
}
