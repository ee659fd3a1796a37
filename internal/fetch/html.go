package fetch

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/linnemanlabs/clarion/internal/news"
)

// Selectors describes where to find article fields on a listing page.
// Item scopes each entry; Title, Link and Summary are resolved inside
// it. Link falls back to the first anchor when empty.
type Selectors struct {
	Item    string `yaml:"item"`
	Title   string `yaml:"title"`
	Link    string `yaml:"link"`
	Summary string `yaml:"summary"`
}

// htmlSource scrapes a listing page with CSS selectors.
type htmlSource struct {
	name      string
	url       string
	selectors Selectors
	client    *http.Client
}

// NewHTMLSource creates a source that scrapes a listing page.
func NewHTMLSource(name, pageURL string, sel Selectors) Source {
	return &htmlSource{name: name, url: pageURL, selectors: sel, client: newHTTPClient()}
}

func (s *htmlSource) Name() string { return s.name }

func (s *htmlSource) Fetch(ctx context.Context) ([]news.Article, error) {
	resp, err := get(ctx, s.client, s.url)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", s.url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: status %d", s.url, resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse page %s: %w", s.url, err)
	}

	base, err := url.Parse(s.url)
	if err != nil {
		return nil, fmt.Errorf("parse base url %s: %w", s.url, err)
	}

	var articles []news.Article
	doc.Find(s.selectors.Item).Each(func(_ int, item *goquery.Selection) {
		title := strings.TrimSpace(item.Find(s.selectors.Title).First().Text())
		link := s.extractLink(item)
		if title == "" && link == "" {
			return
		}

		a := news.Article{
			Source: s.name,
			Title:  title,
			URL:    resolveLink(base, link),
		}
		if s.selectors.Summary != "" {
			a.Summary = strings.TrimSpace(item.Find(s.selectors.Summary).First().Text())
		}
		articles = append(articles, a)
	})
	return articles, nil
}

func (s *htmlSource) extractLink(item *goquery.Selection) string {
	sel := s.selectors.Link
	if sel == "" {
		sel = "a"
	}
	node := item.Find(sel).First()
	if href, ok := node.Attr("href"); ok {
		return strings.TrimSpace(href)
	}
	// the item node itself may be the anchor
	if href, ok := item.Attr("href"); ok {
		return strings.TrimSpace(href)
	}
	return ""
}

func resolveLink(base *url.URL, link string) string {
	if link == "" {
		return ""
	}
	ref, err := url.Parse(link)
	if err != nil {
		return link
	}
	return base.ResolveReference(ref).String()
}
