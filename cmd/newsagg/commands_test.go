package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/adrg/xdg"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pevans/newsagg/config"
	"github.com/pevans/newsagg/dates"
	"github.com/pevans/newsagg/history"
	"github.com/pevans/newsagg/logger"
	"github.com/pevans/newsagg/newsfeed"
	"github.com/pevans/newsagg/sources"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const siteListing = `<html><body>
<article><h2>Machines that dream</h2><a href="/articles/dream">more</a><p>Do they?</p></article>
<article><h2>Robots learn to knit</h2><a href="/articles/knit">more</a><p>Scarves for everyone.</p></article>
</body></html>`

// testEnv points every path setting at a temp directory
type testEnv struct {
	dir         string
	storage     string
	sourcesFile string
}

func setupEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()

	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "xdg"))
	xdg.Reload()
	t.Cleanup(xdg.Reload)

	env := &testEnv{
		dir:         dir,
		storage:     filepath.Join(dir, "storage", "articles"),
		sourcesFile: filepath.Join(dir, "sources.yaml"),
	}
	t.Setenv("STORAGE_PATH", env.storage)
	t.Setenv("SOURCES_FILE", env.sourcesFile)
	t.Setenv("HISTORY_DSN", filepath.Join(dir, "storage", "history.db"))
	t.Setenv("CRAWL_DELAY_BETWEEN_SOURCES", "0")
	t.Setenv("CRAWL_DELAY_BETWEEN_ARTICLES", "0")
	t.Setenv("CRAWL_JITTER", "0")
	t.Setenv("LOG_LEVEL", "error")
	return env
}

func (e *testEnv) writeSources(t *testing.T, baseURL string) {
	t.Helper()
	yaml := `sources:
  - name: Test Site
    base_url: ` + baseURL + `
    endpoint: /news
    selectors:
      articles: article
      title: h2
      url: a
      summary: p
  - name: Paused
    base_url: https://paused.example.com
    endpoint: /
    enabled: false
    selectors:
      articles: article
      title: h2
      url: a
`
	require.NoError(t, os.WriteFile(e.sourcesFile, []byte(yaml), 0o644))
}

func (e *testEnv) seed(t *testing.T, titles ...string) {
	t.Helper()
	feed, err := newsfeed.NewNewsFeed(e.storage)
	require.NoError(t, err)
	for _, title := range titles {
		article := newsfeed.NewArticle(title, "https://example.com/"+newsfeed.Slug(title), "Seed",
			dates.Format(time.Now()), title+" summary", title+" content", "")
		saved, err := feed.Save(article)
		require.NoError(t, err)
		require.True(t, saved)
	}
}

func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func newTestSite(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/news", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(siteListing))
	})
	mux.HandleFunc("/articles/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body><article><p>Researchers report that the machines, left alone overnight, produce surprisingly vivid output.</p></article></body></html>`))
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func TestCrawlCommand(t *testing.T) {
	env := setupEnv(t)
	site := newTestSite(t)
	env.writeSources(t, site.URL)

	out, err := runCommand(t, "crawl")
	require.NoError(t, err)
	assert.Contains(t, out, "CRAWL COMPLETED")
	assert.Contains(t, out, "Test Site")
	assert.NotContains(t, out, "Paused")
	assert.Contains(t, out, "Total articles in storage: 2")

	out, err = runCommand(t, "list", "--format", "compact")
	require.NoError(t, err)
	assert.Contains(t, out, "Machines that dream (Test Site)")
	assert.Contains(t, out, "Robots learn to knit (Test Site)")

	// A second run only finds duplicates
	out, err = runCommand(t, "crawl", "--format", "json")
	require.NoError(t, err)
	var stats struct {
		TotalProcessed int `json:"total_processed"`
		TotalSaved     int `json:"total_saved"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &stats))
	assert.Equal(t, 2, stats.TotalProcessed)
	assert.Zero(t, stats.TotalSaved)

	out, err = runCommand(t, "history", "list", "--format", "json")
	require.NoError(t, err)
	var runs []history.Run
	require.NoError(t, json.Unmarshal([]byte(out), &runs))
	require.Len(t, runs, 2)
	assert.Zero(t, runs[0].TotalSaved, "newest run first")

	out, err = runCommand(t, "history", "show", runs[1].RunID.String())
	require.NoError(t, err)
	assert.Contains(t, out, "Test Site")
}

func TestCrawlCommand_SourceListFailure(t *testing.T) {
	setupEnv(t)

	_, err := runCommand(t, "crawl")
	assert.Error(t, err, "a missing sources file fails the run")
}

func TestCrawlCommand_FailedSourceStillSucceeds(t *testing.T) {
	env := setupEnv(t)
	site := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(site.Close)
	env.writeSources(t, site.URL)

	out, err := runCommand(t, "crawl")
	require.NoError(t, err)
	assert.Contains(t, out, "0 ok, 1 failed")
	assert.Contains(t, out, "HTTP 404: Not Found")
}

func TestCrawlCommand_SingleSource(t *testing.T) {
	env := setupEnv(t)
	site := newTestSite(t)
	env.writeSources(t, site.URL)

	out, err := runCommand(t, "crawl", "--source", "test site")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ Test Site: 2 saved")

	_, err = runCommand(t, "crawl", "--source", "Nope")
	assert.ErrorIs(t, err, sources.ErrSourceNotFound)
}

func TestArticleCommands(t *testing.T) {
	env := setupEnv(t)
	env.seed(t, "Machines that dream", "Robots learn to knit")

	out, err := runCommand(t, "list")
	require.NoError(t, err)
	assert.Contains(t, out, "Showing 1-2 of 2 articles")

	out, err = runCommand(t, "search", "knit", "--format", "json")
	require.NoError(t, err)
	var page newsfeed.PageResult
	require.NoError(t, json.Unmarshal([]byte(out), &page))
	require.Len(t, page.Articles, 1)
	assert.Equal(t, "robots-learn-to-knit", page.Articles[0].Slug)
	assert.Positive(t, page.Articles[0].RelevanceScore)

	out, err = runCommand(t, "show", "machines-that-dream")
	require.NoError(t, err)
	assert.Contains(t, out, "Machines that dream content")

	_, err = runCommand(t, "show", "missing-article")
	assert.ErrorIs(t, err, errArticleNotFound)

	_, err = runCommand(t, "list", "--format", "xml")
	assert.Error(t, err)
}

func TestPruneCommand(t *testing.T) {
	env := setupEnv(t)
	feed, err := newsfeed.NewNewsFeed(env.storage)
	require.NoError(t, err)
	old := newsfeed.NewArticle("Ancient news", "https://example.com/ancient", "Seed",
		dates.Format(time.Now().AddDate(0, 0, -45)), "", "", "")
	_, err = feed.Save(old)
	require.NoError(t, err)
	env.seed(t, "Fresh news")

	out, err := runCommand(t, "prune")
	require.NoError(t, err)
	assert.Equal(t, "Deleted 1 articles older than 30 days\n", out)

	_, err = runCommand(t, "prune", "--days", "0")
	assert.Error(t, err)
}

func TestCacheClearCommand(t *testing.T) {
	env := setupEnv(t)
	cacheDir := filepath.Join(env.dir, "storage", "cache")
	require.NoError(t, os.MkdirAll(filepath.Join(cacheDir, "content"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(cacheDir, "content", "a.txt"), []byte("x"), 0o644))
	env.seed(t, "Kept article")

	out, err := runCommand(t, "cache", "clear")
	require.NoError(t, err)
	assert.Contains(t, out, "1 files, 1 directories deleted")

	entries, err := os.ReadDir(env.storage)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "articles are not touched")
}

func TestSourcesCommands(t *testing.T) {
	env := setupEnv(t)
	env.writeSources(t, "https://www.example.com")

	out, err := runCommand(t, "sources", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "Test Site")
	assert.Contains(t, out, "Paused")

	out, err = runCommand(t, "sources", "list", "--enabled", "--format", "compact")
	require.NoError(t, err)
	assert.Equal(t, "Test Site https://www.example.com/news\n", out)

	out, err = runCommand(t, "sources", "check")
	require.NoError(t, err)
	assert.Contains(t, out, "2 sources (1 enabled, 0 feeds)")
}

func TestHistoryCommands_Errors(t *testing.T) {
	setupEnv(t)

	_, err := runCommand(t, "history", "show", "not-a-uuid")
	assert.Error(t, err)

	_, err = runCommand(t, "history", "list", "--limit", "-1")
	assert.Error(t, err)

	out, err := runCommand(t, "history", "prune", "--older-than", "2w")
	require.NoError(t, err)
	assert.Equal(t, "Deleted 0 crawl runs older than 2w\n", out)
}

func TestNewRouter(t *testing.T) {
	env := setupEnv(t)
	env.writeSources(t, "https://www.example.com")
	env.seed(t, "Machines that dream")

	cfg, err := config.Load(config.Options{})
	require.NoError(t, err)
	a, err := newApp(cfg, logger.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })

	runs, err := a.History()
	require.NoError(t, err)

	router := newRouter(a.log,
		newsfeed.NewAPIServer(a.feed, cfg.PerPage),
		sources.NewSourceAPIServer(a.loader),
		history.NewHistoryAPIServer(runs),
		config.NewConfigAPIServer(cfg),
	)

	for _, path := range []string{
		"/api/v1/articles",
		"/api/v1/articles/machines-that-dream",
		"/api/v1/recent?limit=5",
		"/api/v1/sources",
		"/api/v1/history",
		"/api/v1/meta/config",
	} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code, path)
	}

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/crawl", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}
