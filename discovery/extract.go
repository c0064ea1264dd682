package discovery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"

	"github.com/pevans/newsagg/dates"
	"github.com/pevans/newsagg/logger"
	"github.com/pevans/newsagg/newsfeed"
	"github.com/pevans/newsagg/scraper"
	"github.com/pevans/newsagg/selector"
)

// MaxSummaryLength is the summary length, in characters, beyond which a
// summary is truncated and suffixed with "...".
const MaxSummaryLength = 500

// Extraction failures. Each aborts only the article being extracted.
var (
	ErrMissingTitle = errors.New("title not found")
	ErrMissingURL   = errors.New("article URL not found")
)

// imageAttrs are the attributes checked for an image URL, in order.
var imageAttrs = []string{"src", "data-src", "data-lazy-src", "data-original"}

// ContentSource fetches an article's full body text. Implementations return
// an empty string on any failure.
type ContentSource interface {
	FetchFullContent(ctx context.Context, url string) string
}

// Extractor turns one listing node into an article.
type Extractor struct {
	resolver *selector.Resolver
	dates    *dates.Normalizer
	content  ContentSource
	log      logger.Logger
}

// NewExtractor creates an Extractor. content may be nil, in which case the
// summary is used as the article body.
func NewExtractor(resolver *selector.Resolver, normalizer *dates.Normalizer, content ContentSource, log logger.Logger) *Extractor {
	log = logger.OrNop(log)
	if resolver == nil {
		resolver = selector.NewResolver(log, nil)
	}
	if normalizer == nil {
		normalizer = dates.NewNormalizer(log, nil)
	}
	return &Extractor{
		resolver: resolver,
		dates:    normalizer,
		content:  content,
		log:      log,
	}
}

// Extract builds an article from node using src's selectors. Only the first
// match of each field selector is used.
func (e *Extractor) Extract(ctx context.Context, node *goquery.Selection, src *scraper.Source) (article newsfeed.Article, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("extraction panicked: %v", r)
		}
	}()

	sel := src.Selectors

	// Title is required and must not be blank
	title := collapseSpace(e.resolver.Resolve(node, sel.Title).First().Text())
	if title == "" {
		return newsfeed.Article{}, ErrMissingTitle
	}

	// URL is required
	href, ok := e.resolver.Resolve(node, sel.URL).First().Attr("href")
	href = strings.TrimSpace(href)
	if !ok || href == "" {
		return newsfeed.Article{}, ErrMissingURL
	}
	articleURL := ResolveURL(src.BaseURL, href)

	// Image is optional
	var imageURL string
	if sel.Image != "" {
		img := e.resolver.Resolve(node, sel.Image).First()
		for _, attr := range imageAttrs {
			if v, ok := img.Attr(attr); ok && strings.TrimSpace(v) != "" {
				imageURL = ResolveURL(src.BaseURL, strings.TrimSpace(v))
				break
			}
		}
	}

	// Summary defaults to the title
	summary := title
	if sel.Summary != "" {
		if text := collapseSpace(e.resolver.Resolve(node, sel.Summary).First().Text()); text != "" {
			summary = text
		}
	}
	summary = Truncate(summary, MaxSummaryLength)

	// Date prefers machine-readable attributes over the element text
	var rawDate string
	if sel.Date != "" {
		rawDate = dateText(e.resolver.Resolve(node, sel.Date).First())
	}
	publishedAt, _ := e.dates.Normalize(rawDate, sel.DateFormat)

	// Full content is best effort
	content := ""
	if e.content != nil {
		content = e.content.FetchFullContent(ctx, articleURL)
	}
	if content == "" {
		content = summary
	}

	return newsfeed.NewArticle(title, articleURL, src.Name, publishedAt, summary, content, imageURL), nil
}

func dateText(s *goquery.Selection) string {
	if s.Length() == 0 {
		return ""
	}
	for _, attr := range []string{"datetime", "content"} {
		if v, ok := s.Attr(attr); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return collapseSpace(s.Text())
}

// ResolveURL makes href absolute against base. Absolute http(s) URLs are
// returned unchanged and protocol-relative URLs get https.
func ResolveURL(base, href string) string {
	switch {
	case href == "":
		return ""
	case strings.HasPrefix(href, "http"):
		return href
	case strings.HasPrefix(href, "//"):
		return "https:" + href
	case strings.HasPrefix(href, "/"):
		return strings.TrimRight(base, "/") + href
	default:
		return strings.TrimRight(base, "/") + "/" + href
	}
}

// Truncate shortens s to max characters followed by "..." when it is longer.
func Truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max]) + "..."
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
