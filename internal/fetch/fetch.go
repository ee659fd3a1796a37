// Package fetch collects raw articles from configured sources and
// hands them to the pipeline as one batch.
package fetch

import (
	"context"
	"net/http"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/clarion/internal/news"
)

const userAgent = "Mozilla/5.0 (compatible; clarion/1.0)"

// Source is one upstream of raw articles.
type Source interface {
	Name() string
	Fetch(ctx context.Context) ([]news.Article, error)
}

// SourceResult records what one source contributed to a batch. Err is
// set when the source failed; Count is zero then, which is not the
// same as a source that succeeded with nothing new.
type SourceResult struct {
	Source string
	Count  int
	Err    error
}

// Aggregator fans in over all configured sources in declaration order.
type Aggregator struct {
	sources []Source
	logger  log.Logger
}

// NewAggregator creates an aggregator over the given sources.
func NewAggregator(sources []Source, logger log.Logger) *Aggregator {
	if logger == nil {
		logger = log.Nop()
	}
	return &Aggregator{sources: sources, logger: logger}
}

// Collect fetches from every source. A failing source is logged and
// recorded in its SourceResult; the batch continues with the rest.
func (a *Aggregator) Collect(ctx context.Context) ([]news.Article, []SourceResult) {
	var batch []news.Article
	results := make([]SourceResult, 0, len(a.sources))

	for _, src := range a.sources {
		articles, err := src.Fetch(ctx)
		if err != nil {
			a.logger.Error(ctx, err, "source fetch failed", "source", src.Name())
			results = append(results, SourceResult{Source: src.Name(), Err: err})
			continue
		}
		a.logger.Info(ctx, "source fetched", "source", src.Name(), "articles", len(articles))
		results = append(results, SourceResult{Source: src.Name(), Count: len(articles)})
		batch = append(batch, articles...)
	}

	return batch, results
}

func newHTTPClient() *http.Client {
	return &http.Client{Timeout: 30 * time.Second}
}

func get(ctx context.Context, client *http.Client, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	return client.Do(req)
}
