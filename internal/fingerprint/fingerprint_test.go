package fingerprint

import (
	"testing"
	"time"

	"github.com/linnemanlabs/clarion/internal/news"
)

func TestFrom_StableAcrossFetches(t *testing.T) {
	t.Parallel()

	a := &news.Article{Source: "bbc", Title: "Headline", URL: "https://example.com/story/1", PublishedAt: time.Now()}
	b := &news.Article{Source: "bbc", Title: "Headline", URL: "https://Example.com/story/1/", PublishedAt: time.Now().Add(time.Hour)}

	if From(a) != From(b) {
		t.Errorf("same normalized URL must yield identical fingerprints: %q vs %q", From(a), From(b))
	}
}

func TestFrom_FragmentIgnored(t *testing.T) {
	t.Parallel()

	a := &news.Article{Source: "s", URL: "https://example.com/a", Title: "x"}
	b := &news.Article{Source: "s", URL: "https://example.com/a#section", Title: "x"}
	if From(a) != From(b) {
		t.Error("fragment must not affect the fingerprint")
	}
}

func TestFrom_DistinctArticlesDiffer(t *testing.T) {
	t.Parallel()

	a := &news.Article{Source: "bbc", Title: "First story", URL: "https://example.com/1"}
	b := &news.Article{Source: "bbc", Title: "Second story", URL: "https://example.com/2"}
	if From(a) == From(b) {
		t.Error("distinct URLs must yield distinct fingerprints")
	}
}

func TestFrom_TitleFallback(t *testing.T) {
	t.Parallel()

	a := &news.Article{Source: "wire", Title: "Same  Headline"}
	b := &news.Article{Source: "wire", Title: "same headline"}
	c := &news.Article{Source: "other-wire", Title: "same headline"}

	if From(a) != From(b) {
		t.Error("title normalization must make republished titles identical")
	}
	if From(a) == From(c) {
		t.Error("same title from a different source must differ")
	}
}
