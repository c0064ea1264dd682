package discovery

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pevans/newsagg/newsfeed"
	"github.com/pevans/newsagg/ratelimit"
)

const articlePage = `<html><head><title>Robots</title><script>var x = 1;</script></head>
<body>
<header class="header">Site header</header>
<nav>Home | News</nav>
<article itemprop="articleBody">
  <p class="byline">By A. Writer</p>
  <p>Robots have started reading the morning paper.</p><p>Nobody is quite sure why they prefer the crossword.</p>
  <div class="social-share">Share this</div>
  <script>track();</script>
  <div class="related-posts">More robots</div>
</article>
<footer>Copyright</footer>
</body></html>`

// Test helper: parse an HTML string
func parseDoc(t *testing.T, html string) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	require.NoError(t, err)
	return doc
}

// TestExtractContent verifies the container match and boilerplate removal
func TestExtractContent(t *testing.T) {
	text := ExtractContent(parseDoc(t, articlePage))

	assert.Equal(t,
		"Robots have started reading the morning paper. Nobody is quite sure why they prefer the crossword.",
		text)
}

// TestExtractContent_LeavesDocumentIntact verifies stripping works on a copy
func TestExtractContent_LeavesDocumentIntact(t *testing.T) {
	doc := parseDoc(t, articlePage)
	ExtractContent(doc)
	assert.Equal(t, 1, doc.Find(".byline").Length())
}

// TestExtractContent_ShortContainerSkipped verifies the length threshold
func TestExtractContent_ShortContainerSkipped(t *testing.T) {
	html := `<html><body>
<main>Too short.</main>
<div class="content">` + strings.Repeat("Long enough entry text. ", 5) + `</div>
</body></html>`

	text := ExtractContent(parseDoc(t, html))
	assert.True(t, strings.HasPrefix(text, "Long enough entry text."))
}

// TestExtractContent_BoilerplateContainerSkipped verifies the length threshold
// applies after boilerplate is stripped
func TestExtractContent_BoilerplateContainerSkipped(t *testing.T) {
	prose := strings.Repeat("The main story carries on at length. ", 4)
	html := `<html><body>
<article><script>` + strings.Repeat("trackEverything();", 12) + `</script><div class="social-share">Share this</div><p>Share this</p></article>
<main><p>` + prose + `</p></main>
</body></html>`

	text := ExtractContent(parseDoc(t, html))
	assert.Equal(t, strings.TrimSpace(prose), text)
}

// TestExtractContent_SelectorOrder verifies earlier selectors win
func TestExtractContent_SelectorOrder(t *testing.T) {
	body := strings.Repeat("Post body text. ", 5)
	html := `<html><body>
<main>` + strings.Repeat("Main text. ", 10) + `</main>
<div class="post-content">` + body + `</div>
</body></html>`

	text := ExtractContent(parseDoc(t, html))
	assert.Equal(t, strings.TrimSpace(body), text)
}

// TestExtractContent_BodyFallback verifies the page body is used last
func TestExtractContent_BodyFallback(t *testing.T) {
	para := strings.Repeat("Plain body paragraph. ", 6)
	html := `<html><body><header>Top</header><aside>Ads</aside><div>` + para + `</div><footer>Bottom</footer></body></html>`

	text := ExtractContent(parseDoc(t, html))
	assert.Equal(t, strings.TrimSpace(para), text)
}

// TestExtractContent_Nothing verifies short pages yield nothing
func TestExtractContent_Nothing(t *testing.T) {
	assert.Equal(t, "", ExtractContent(parseDoc(t, `<html><body><p>Hi.</p></body></html>`)))
}

// TestFetchFullContent verifies fetching, caching and failure handling
func TestFetchFullContent(t *testing.T) {
	var hits atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/article", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte(articlePage))
	})
	mux.HandleFunc("/broken", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	fetcher := NewFetcher(server.Client(), DefaultClientConfig(), nil, nil)
	cache := newsfeed.NewContentCache(t.TempDir())
	content := NewContentFetcher(fetcher, cache, 0, nil)

	first := content.FetchFullContent(context.Background(), server.URL+"/article")
	assert.Contains(t, first, "morning paper")

	second := content.FetchFullContent(context.Background(), server.URL+"/article")
	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), hits.Load(), "second call is served from the cache")

	assert.Equal(t, "", content.FetchFullContent(context.Background(), server.URL+"/broken"))
	assert.Equal(t, "", content.FetchFullContent(context.Background(), ""))
}

// TestFetchFullContent_TimeoutExcludesRateLimitWait verifies the content
// timeout does not cut short a rate limit pause
func TestFetchFullContent_TimeoutExcludesRateLimitWait(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(articlePage))
	}))
	defer server.Close()

	var mu sync.Mutex
	var waitErrs []error
	limiter := ratelimit.New(ratelimit.Config{MaxPerWindow: 1, Window: time.Minute}, nil,
		ratelimit.WithSleep(func(ctx context.Context, d time.Duration) error {
			mu.Lock()
			defer mu.Unlock()
			waitErrs = append(waitErrs, ctx.Err())
			return ctx.Err()
		}),
	)
	fetcher := NewFetcher(server.Client(), DefaultClientConfig(), limiter, nil)

	_, err := fetcher.FetchPage(context.Background(), server.URL, 0)
	require.NoError(t, err)

	// The window is spent, so this fetch has to wait for the next one
	content := NewContentFetcher(fetcher, nil, time.Nanosecond, nil)
	content.FetchFullContent(context.Background(), server.URL)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, waitErrs, 1)
	assert.NoError(t, waitErrs[0], "the pause runs on the caller's context")
	assert.Equal(t, 1, limiter.State().Requests, "the booked request still counts")
}
