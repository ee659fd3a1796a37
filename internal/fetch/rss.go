package fetch

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/linnemanlabs/clarion/internal/news"
)

// rssSource reads an RSS 2.0 feed.
type rssSource struct {
	name   string
	url    string
	client *http.Client
}

// NewRSSSource creates a source backed by an RSS 2.0 feed URL.
func NewRSSSource(name, url string) Source {
	return &rssSource{name: name, url: url, client: newHTTPClient()}
}

func (s *rssSource) Name() string { return s.name }

type rssFeed struct {
	Channel struct {
		Title string    `xml:"title"`
		Items []rssItem `xml:"item"`
	} `xml:"channel"`
}

type rssItem struct {
	Title       string `xml:"title"`
	Link        string `xml:"link"`
	Description string `xml:"description"`
	PubDate     string `xml:"pubDate"`
	Author      string `xml:"author"`
}

func (s *rssSource) Fetch(ctx context.Context) ([]news.Article, error) {
	resp, err := get(ctx, s.client, s.url)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", s.url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: status %d", s.url, resp.StatusCode)
	}

	var feed rssFeed
	if err := xml.NewDecoder(io.LimitReader(resp.Body, 10<<20)).Decode(&feed); err != nil {
		return nil, fmt.Errorf("parse feed %s: %w", s.url, err)
	}

	articles := make([]news.Article, 0, len(feed.Channel.Items))
	for _, item := range feed.Channel.Items {
		a := news.Article{
			Source:      s.name,
			Title:       strings.TrimSpace(item.Title),
			URL:         strings.TrimSpace(item.Link),
			Summary:     strings.TrimSpace(item.Description),
			PublishedAt: parsePubDate(item.PubDate),
		}
		if author := strings.TrimSpace(item.Author); author != "" {
			a.Authors = []string{author}
		}
		if a.Title == "" && a.URL == "" {
			continue
		}
		articles = append(articles, a)
	}
	return articles, nil
}

// parsePubDate tries the date layouts seen in real feeds. A zero time
// is returned when none match; downstream treats that as unknown.
func parsePubDate(s string) time.Time {
	s = strings.TrimSpace(s)
	for _, layout := range []string{time.RFC1123Z, time.RFC1123, time.RFC3339, "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
