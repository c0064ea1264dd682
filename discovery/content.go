package discovery

import (
	"bytes"
	"context"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/pevans/newsagg/logger"
)

// ContentSelectors are the containers tried for an article's body, in
// order. The first one whose text is long enough once boilerplate is removed
// wins.
var ContentSelectors = []string{
	`article[itemprop="articleBody"]`,
	"article .article-content",
	"article .post-content",
	"article .entry-content",
	"article main",
	`div[itemprop="articleBody"]`,
	".article-body",
	".post-content",
	".entry-content",
	"main article",
	"article",
	"main",
	".content",
	".body-content",
	".article-content",
	".page-content",
	".blog-post",
}

// BoilerplateSelectors are removed from a content container before its text
// is taken.
var BoilerplateSelectors = []string{
	"script", "style", "nav", "footer",
	".comments", ".advertisement", ".ads", ".social-share",
	".related-posts", ".author-bio", ".tags", ".categories",
	"#comments", ".comment", ".sidebar", ".widget",
	".header", ".byline", ".meta",
}

// bodyBoilerplate is removed from <body> when no content container matched.
const bodyBoilerplate = "header, footer, nav, aside, .sidebar, .header, script, style"

const (
	minContainerText = 50
	minBodyText      = 100

	// DefaultContentTimeout bounds a single article page fetch.
	DefaultContentTimeout = 8 * time.Second
)

// PageFetcher fetches an article page.
type PageFetcher interface {
	FetchPage(ctx context.Context, url string, timeout time.Duration) ([]byte, error)
}

// TextCache stores extracted bodies by URL.
type TextCache interface {
	Get(url string) (string, bool)
	Put(url, content string) error
}

// ContentFetcher fetches an article's own page and extracts its body text.
type ContentFetcher struct {
	pages   PageFetcher
	cache   TextCache
	timeout time.Duration
	log     logger.Logger
}

// NewContentFetcher creates a ContentFetcher. cache may be nil and a
// non-positive timeout uses DefaultContentTimeout.
func NewContentFetcher(pages PageFetcher, cache TextCache, timeout time.Duration, log logger.Logger) *ContentFetcher {
	if timeout <= 0 {
		timeout = DefaultContentTimeout
	}
	return &ContentFetcher{
		pages:   pages,
		cache:   cache,
		timeout: timeout,
		log:     logger.OrNop(log),
	}
}

// FetchFullContent returns the body text of the page at url, or "" when the
// page cannot be fetched or has no recognizable body.
func (f *ContentFetcher) FetchFullContent(ctx context.Context, url string) string {
	if url == "" {
		return ""
	}

	if f.cache != nil {
		if text, ok := f.cache.Get(url); ok {
			return text
		}
	}

	body, err := f.pages.FetchPage(ctx, url, f.timeout)
	if err != nil {
		f.log.Debug("Could not fetch article content",
			logger.String("url", url),
			logger.Error(err),
		)
		return ""
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		f.log.Debug("Could not parse article page",
			logger.String("url", url),
			logger.Error(err),
		)
		return ""
	}

	text := ExtractContent(doc)
	if text != "" && f.cache != nil {
		if err := f.cache.Put(url, text); err != nil {
			f.log.Warn("Failed to cache article content",
				logger.String("url", url),
				logger.Error(err),
			)
		}
	}
	return text
}

// ExtractContent finds the body text of an article page.
func ExtractContent(doc *goquery.Document) string {
	for _, sel := range ContentSelectors {
		match := doc.Find(sel).First()
		if match.Length() == 0 {
			continue
		}

		cleaned := match.Clone()
		for _, bp := range BoilerplateSelectors {
			cleaned.Find(bp).Remove()
		}
		if text := blockText(cleaned); len(text) > minContainerText {
			return text
		}
	}

	// Fall back to the whole body without page chrome
	body := doc.Find("body").First().Clone()
	if body.Length() == 0 {
		return ""
	}
	body.Find(bodyBoilerplate).Remove()
	text := blockText(body)
	if len(text) > minBodyText {
		return text
	}
	return ""
}

// blockElements end a run of text so adjacent blocks don't run together.
var blockElements = map[string]bool{
	"p": true, "div": true, "br": true, "li": true, "ul": true, "ol": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"section": true, "article": true, "blockquote": true, "pre": true,
	"table": true, "tr": true, "td": true, "th": true, "figure": true,
	"figcaption": true, "header": true, "main": true, "hr": true,
}

// blockText returns the whitespace-collapsed text of s with a space between
// block-level elements.
func blockText(s *goquery.Selection) string {
	var b strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			b.WriteString(n.Data)
			return
		case html.CommentNode:
			return
		case html.ElementNode:
			if n.Data == "script" || n.Data == "style" {
				return
			}
		}

		block := n.Type == html.ElementNode && blockElements[n.Data]
		if block {
			b.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if block {
			b.WriteByte(' ')
		}
	}

	for _, n := range s.Nodes {
		walk(n)
	}
	return collapseSpace(b.String())
}
