package discovery

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"

	"github.com/pevans/newsagg/dates"
	"github.com/pevans/newsagg/newsfeed"
)

// ParseFeed parses an RSS or Atom document. gofeed detects the format.
func ParseFeed(body []byte) (*gofeed.Feed, error) {
	feed, err := gofeed.NewParser().Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to parse feed: %w", err)
	}
	return feed, nil
}

// ExtractFeedItem converts a feed item into an article. Items without a
// title or link fail like listing nodes do.
func (e *Extractor) ExtractFeedItem(ctx context.Context, item *gofeed.Item, sourceName, baseURL string, now time.Time) (newsfeed.Article, error) {
	// Title: from <title> in both RSS and Atom
	title := collapseSpace(htmlText(item.Title))
	if title == "" {
		return newsfeed.Article{}, ErrMissingTitle
	}

	// URL: gofeed normalizes <link> and <link rel="alternate"> to Link
	link := strings.TrimSpace(item.Link)
	if link == "" && len(item.Links) > 0 {
		link = strings.TrimSpace(item.Links[0])
	}
	if link == "" {
		return newsfeed.Article{}, ErrMissingURL
	}
	link = ResolveURL(baseURL, link)

	// Summary: <description> or Atom <summary>, which may carry markup
	summary := htmlText(item.Description)
	if summary == "" {
		summary = title
	}
	summary = Truncate(summary, MaxSummaryLength)

	// Published: <pubDate>, <published> or <updated>, else crawl time
	published := now
	if item.PublishedParsed != nil {
		published = *item.PublishedParsed
	} else if item.UpdatedParsed != nil {
		published = *item.UpdatedParsed
	}

	// Image: item image or the first image enclosure
	var imageURL string
	if item.Image != nil && item.Image.URL != "" {
		imageURL = ResolveURL(baseURL, item.Image.URL)
	} else {
		for _, enc := range item.Enclosures {
			if enc != nil && strings.HasPrefix(enc.Type, "image/") && enc.URL != "" {
				imageURL = ResolveURL(baseURL, enc.URL)
				break
			}
		}
	}

	// Content: the feed's own body when present, else the article page
	content := htmlText(item.Content)
	if content == "" && e.content != nil {
		content = e.content.FetchFullContent(ctx, link)
	}
	if content == "" {
		content = summary
	}

	return newsfeed.NewArticle(title, link, sourceName, dates.Format(published), summary, content, imageURL), nil
}

// htmlText returns the collapsed text of an HTML fragment. Plain text passes
// through unchanged apart from whitespace.
func htmlText(fragment string) string {
	if !strings.Contains(fragment, "<") {
		return collapseSpace(fragment)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return collapseSpace(fragment)
	}
	return blockText(doc.Selection)
}
