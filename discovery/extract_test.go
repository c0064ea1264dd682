package discovery

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pevans/newsagg/dates"
	"github.com/pevans/newsagg/scraper"
)

var extractNow = time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC)

const listingHTML = `<html><body>
<div class="card featured">
  <h2>  Robots   learn to read  </h2>
  <a class="story_link" href="/2025/06/30/robots-read">Read</a>
  <img data-src="//cdn.example.com/robots.jpg">
  <p class="standfirst">A short   teaser
     about robots.</p>
  <time datetime="2025-06-30T09:15:00Z">30 Jun</time>
</div>
<div class="card">
  <h2>Second story</h2>
  <a href="news/second">Read</a>
  <img src="https://img.example.com/second.png">
  <span class="stamp">1 Jun 2025</span>
</div>
<div class="card">
  <h2>   </h2>
  <a href="/blank">Read</a>
</div>
<div class="card">
  <h2>No link here</h2>
</div>
</body></html>`

// fakeContent serves canned bodies by URL
type fakeContent map[string]string

func (f fakeContent) FetchFullContent(ctx context.Context, url string) string {
	return f[url]
}

var testSource = scraper.Source{
	Name:    "Example",
	BaseURL: "https://example.com",
	Selectors: scraper.Selectors{
		Articles:   "div.card",
		Title:      "h2",
		URL:        "a",
		Summary:    `[class*="standfirst"]`,
		Date:       "time, .stamp",
		DateFormat: "j M Y",
		Image:      "img",
	},
}

// Test helper: extractor with a fixed clock
func newTestExtractor(content ContentSource) *Extractor {
	return NewExtractor(nil, dates.NewNormalizer(nil, func() time.Time { return extractNow }), content, nil)
}

// Test helper: the listing's card nodes
func listingCards(t *testing.T) *goquery.Selection {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(listingHTML))
	require.NoError(t, err)
	cards := doc.Find("div.card")
	require.Equal(t, 4, cards.Length())
	return cards
}

// TestExtract verifies every field of a fully populated node
func TestExtract(t *testing.T) {
	content := fakeContent{"https://example.com/2025/06/30/robots-read": "The full robot story."}
	src := testSource

	article, err := newTestExtractor(content).Extract(context.Background(), listingCards(t).Eq(0), &src)
	require.NoError(t, err)

	assert.Equal(t, "Robots learn to read", article.Title)
	assert.Equal(t, "https://example.com/2025/06/30/robots-read", article.URL)
	assert.Equal(t, "https://cdn.example.com/robots.jpg", article.ImageURL)
	assert.Equal(t, "A short teaser about robots.", article.Summary)
	assert.Equal(t, "2025-06-30 09:15:00", article.PublishedAt, "datetime attribute wins over text")
	assert.Equal(t, "The full robot story.", article.Content)
	assert.Equal(t, "Example", article.Source)
	assert.Equal(t, "robots-learn-to-read", article.Slug)
}

// TestExtract_Defaults verifies optional fields fall back
func TestExtract_Defaults(t *testing.T) {
	src := testSource

	article, err := newTestExtractor(nil).Extract(context.Background(), listingCards(t).Eq(1), &src)
	require.NoError(t, err)

	assert.Equal(t, "https://example.com/news/second", article.URL, "relative path gets a slash")
	assert.Equal(t, "https://img.example.com/second.png", article.ImageURL)
	assert.Equal(t, "Second story", article.Summary, "summary defaults to the title")
	assert.Equal(t, "Second story", article.Content, "content falls back to the summary")
	assert.Equal(t, "2025-06-01 00:00:00", article.PublishedAt)
}

// TestExtract_UnparseableDate verifies the crawl time is used
func TestExtract_UnparseableDate(t *testing.T) {
	src := testSource
	src.Selectors.Date = "h2"
	src.Selectors.DateFormat = ""

	article, err := newTestExtractor(nil).Extract(context.Background(), listingCards(t).Eq(1), &src)
	require.NoError(t, err)
	assert.Equal(t, "2025-07-01 12:00:00", article.PublishedAt)
}

// TestExtract_Failures verifies required fields abort extraction
func TestExtract_Failures(t *testing.T) {
	src := testSource
	cards := listingCards(t)
	extractor := newTestExtractor(nil)

	_, err := extractor.Extract(context.Background(), cards.Eq(2), &src)
	assert.ErrorIs(t, err, ErrMissingTitle)

	_, err = extractor.Extract(context.Background(), cards.Eq(3), &src)
	assert.ErrorIs(t, err, ErrMissingURL)

	bad := testSource
	bad.Selectors.Title = "h2[[["
	_, err = extractor.Extract(context.Background(), cards.Eq(0), &bad)
	assert.ErrorIs(t, err, ErrMissingTitle, "invalid selectors match nothing")
}

// TestExtract_LongSummary verifies truncation
func TestExtract_LongSummary(t *testing.T) {
	long := strings.Repeat("word ", 200)
	html := `<div class="card"><h2>T</h2><a href="/t">x</a><p class="standfirst">` + long + `</p></div>`
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	require.NoError(t, err)

	src := testSource
	article, err := newTestExtractor(nil).Extract(context.Background(), doc.Find("div.card"), &src)
	require.NoError(t, err)

	assert.Equal(t, MaxSummaryLength+3, len([]rune(article.Summary)))
	assert.True(t, strings.HasSuffix(article.Summary, "..."))
}

// TestResolveURL verifies absolute URL normalization
func TestResolveURL(t *testing.T) {
	tests := []struct {
		base, href, want string
	}{
		{"https://a.com", "https://b.com/x", "https://b.com/x"},
		{"https://a.com", "http://b.com/x", "http://b.com/x"},
		{"https://a.com", "//cdn.a.com/i.png", "https://cdn.a.com/i.png"},
		{"https://a.com", "/news/1", "https://a.com/news/1"},
		{"https://a.com/", "/news/1", "https://a.com/news/1"},
		{"https://a.com", "news/1", "https://a.com/news/1"},
		{"https://a.com", "", ""},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ResolveURL(tt.base, tt.href), tt.href)
	}
}

// TestTruncate verifies character-based truncation
func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", Truncate("short", 10))
	assert.Equal(t, "exactly", Truncate("exactly", 7))
	assert.Equal(t, "abc...", Truncate("abcdef", 3))
	assert.Equal(t, "héé...", Truncate("héééé", 3), "counts characters, not bytes")
}
