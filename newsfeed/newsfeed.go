package newsfeed

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pevans/newsagg/logger"
)

// DefaultPerPage is used when a page size below one is requested.
const DefaultPerPage = 20

// ErrFileExists is returned by Save when the article's file name is already
// taken by another file.
var ErrFileExists = errors.New("article file already exists")

// NewsFeed is the flat-file article store. Each article lives in its own
// markdown file under storageDir. All operations are serialized by a single
// mutex so duplicate checks and writes cannot interleave.
type NewsFeed struct {
	storageDir    string
	cacheDir      string
	retentionDays int
	pruneAtCutoff bool
	now           func() time.Time
	log           logger.Logger

	mu sync.Mutex
}

// Option configures a NewsFeed.
type Option func(*NewsFeed)

// WithCacheDir sets the cache directory. It defaults to a "cache" directory
// next to the storage directory.
func WithCacheDir(dir string) Option {
	return func(nf *NewsFeed) { nf.cacheDir = dir }
}

// WithRetention makes ListPage and Search prune articles older than days
// before reading. When atCutoff is true an article dated exactly at the
// cutoff is pruned too.
func WithRetention(days int, atCutoff bool) Option {
	return func(nf *NewsFeed) {
		nf.retentionDays = days
		nf.pruneAtCutoff = atCutoff
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(nf *NewsFeed) { nf.now = now }
}

// WithLogger sets the logger.
func WithLogger(log logger.Logger) Option {
	return func(nf *NewsFeed) { nf.log = logger.OrNop(log) }
}

// ReadError describes a failure to read a single article file.
type ReadError struct {
	Filename string
	Err      error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("%s: %v", e.Filename, e.Err)
}

func (e *ReadError) Unwrap() error {
	return e.Err
}

// StoredArticle is an article together with the file it was read from.
type StoredArticle struct {
	Article
	Filename string
}

// ListResult contains the results of listing articles, including any
// per-file errors that occurred during the operation.
type ListResult struct {
	Articles []StoredArticle
	Errors   []ReadError
}

// NewNewsFeed creates a news feed with the specified storage directory
func NewNewsFeed(storageDir string, opts ...Option) (*NewsFeed, error) {
	// Create the storage directory if it doesn't exist
	if err := os.MkdirAll(storageDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	nf := &NewsFeed{
		storageDir: storageDir,
		cacheDir:   filepath.Join(filepath.Dir(filepath.Clean(storageDir)), "cache"),
		now:        time.Now,
		log:        logger.NewNop(),
	}
	for _, opt := range opts {
		opt(nf)
	}

	return nf, nil
}

// StorageDir returns the article directory.
func (nf *NewsFeed) StorageDir() string {
	return nf.storageDir
}

// CacheDir returns the cache directory.
func (nf *NewsFeed) CacheDir() string {
	return nf.cacheDir
}

// Save stores an article unless one with the same URL or slug already
// exists. It reports true only when a new file was written. The file is
// created exclusively, so an existing file is never overwritten.
func (nf *NewsFeed) Save(article Article) (bool, error) {
	if err := article.Validate(); err != nil {
		return false, err
	}

	nf.mu.Lock()
	defer nf.mu.Unlock()

	result, err := nf.list()
	if err != nil {
		return false, err
	}
	for _, stored := range result.Articles {
		if stored.URL == article.URL || stored.Slug == article.Slug {
			return false, nil
		}
	}

	name := article.Filename(nf.now())
	filename := filepath.Join(nf.storageDir, name)

	f, err := os.OpenFile(filename, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return false, fmt.Errorf("%w: %s", ErrFileExists, name)
		}
		return false, fmt.Errorf("failed to create article file: %w", err)
	}

	if _, err := f.Write(article.Marshal()); err != nil {
		f.Close()
		os.Remove(filename)
		return false, fmt.Errorf("failed to write article: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(filename)
		return false, fmt.Errorf("failed to write article: %w", err)
	}

	return true, nil
}

// Exists reports whether an article with the given URL is stored.
func (nf *NewsFeed) Exists(url string) (bool, error) {
	return nf.exists(func(a *Article) bool { return a.URL == url })
}

// ExistsBySlug reports whether an article with the given slug is stored.
func (nf *NewsFeed) ExistsBySlug(slug string) (bool, error) {
	return nf.exists(func(a *Article) bool { return a.Slug == slug })
}

func (nf *NewsFeed) exists(match func(*Article) bool) (bool, error) {
	nf.mu.Lock()
	defer nf.mu.Unlock()

	result, err := nf.list()
	if err != nil {
		return false, err
	}
	for i := range result.Articles {
		if match(&result.Articles[i].Article) {
			return true, nil
		}
	}
	return false, nil
}

// List returns all stored articles in directory order. Files that cannot
// be read or are not articles are collected in the result's Errors slice
// rather than causing the entire operation to fail. A non-nil error return
// indicates a total failure (e.g., the storage directory is unreadable).
func (nf *NewsFeed) List() (*ListResult, error) {
	nf.mu.Lock()
	defer nf.mu.Unlock()
	return nf.list()
}

func (nf *NewsFeed) list() (*ListResult, error) {
	entries, err := os.ReadDir(nf.storageDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read storage directory: %w", err)
	}

	result := &ListResult{}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".md" {
			continue
		}

		article, err := nf.read(entry.Name())
		if err != nil {
			result.Errors = append(result.Errors, ReadError{
				Filename: entry.Name(),
				Err:      err,
			})
			continue
		}

		result.Articles = append(result.Articles, StoredArticle{
			Article:  *article,
			Filename: entry.Name(),
		})
	}

	for _, re := range result.Errors {
		nf.log.Debug("Skipping unreadable article file",
			logger.String("file", re.Filename),
			logger.Error(re.Err),
		)
	}

	return result, nil
}

func (nf *NewsFeed) read(name string) (*Article, error) {
	data, err := os.ReadFile(filepath.Join(nf.storageDir, name))
	if err != nil {
		return nil, err
	}
	return Unmarshal(data)
}

// GetBySlug returns the article whose file name contains slug. When several
// files match, the one whose stored slug equals slug is preferred. It
// returns nil without error when nothing matches.
func (nf *NewsFeed) GetBySlug(slug string) (*Article, error) {
	if slug == "" {
		return nil, nil
	}

	nf.mu.Lock()
	defer nf.mu.Unlock()

	entries, err := os.ReadDir(nf.storageDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read storage directory: %w", err)
	}

	var first *Article
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || filepath.Ext(name) != ".md" || !strings.Contains(name, slug) {
			continue
		}

		article, err := nf.read(name)
		if err != nil {
			continue
		}
		if article.Slug == slug {
			return article, nil
		}
		if first == nil {
			first = article
		}
	}

	return first, nil
}

// PruneOlderThan deletes articles published more than days ago and returns
// how many were deleted. Articles with unreadable dates are kept.
func (nf *NewsFeed) PruneOlderThan(days int) (int, error) {
	nf.mu.Lock()
	defer nf.mu.Unlock()
	return nf.prune(days)
}

func (nf *NewsFeed) prune(days int) (int, error) {
	result, err := nf.list()
	if err != nil {
		return 0, err
	}

	now := nf.now()
	cutoff := now.AddDate(0, 0, -days)

	deleted := 0
	for _, stored := range result.Articles {
		published, err := stored.PublishedTime(now.Location())
		if err != nil {
			continue
		}

		expired := published.Before(cutoff)
		if nf.pruneAtCutoff && published.Equal(cutoff) {
			expired = true
		}
		if !expired {
			continue
		}

		if err := os.Remove(filepath.Join(nf.storageDir, stored.Filename)); err != nil {
			nf.log.Warn("Failed to delete old article",
				logger.String("file", stored.Filename),
				logger.Error(err),
			)
			continue
		}
		deleted++
	}

	if deleted > 0 {
		nf.log.Info("Pruned old articles",
			logger.Int("deleted", deleted),
			logger.Int("days", days),
		)
	}
	return deleted, nil
}

// autoPrune applies the configured retention window, if any.
func (nf *NewsFeed) autoPrune() {
	if nf.retentionDays <= 0 {
		return
	}
	if _, err := nf.prune(nf.retentionDays); err != nil {
		nf.log.Warn("Retention pruning failed", logger.Error(err))
	}
}

// Entry is the listing view of a stored article. Content is omitted.
type Entry struct {
	Title          string `json:"title"`
	URL            string `json:"url"`
	Source         string `json:"source"`
	PublishedAt    string `json:"published_at"`
	Summary        string `json:"summary"`
	Slug           string `json:"slug"`
	ImageURL       string `json:"image_url"`
	Filename       string `json:"filename"`
	RelevanceScore int    `json:"relevance_score,omitempty"`
}

func newEntry(stored StoredArticle) Entry {
	summary := stored.Summary
	if summary == stored.Title {
		summary = ""
	}
	return Entry{
		Title:       stored.Title,
		URL:         stored.URL,
		Source:      stored.Source,
		PublishedAt: stored.PublishedAt,
		Summary:     summary,
		Slug:        stored.Slug,
		ImageURL:    stored.ImageURL,
		Filename:    stored.Filename,
	}
}

// PageResult is one page of a listing or search.
type PageResult struct {
	Articles    []Entry `json:"articles"`
	Total       int     `json:"total"`
	Pages       int     `json:"pages"`
	CurrentPage int     `json:"current_page"`
	PerPage     int     `json:"per_page"`
	HasNext     bool    `json:"has_next"`
	HasPrev     bool    `json:"has_prev"`
	NextPage    *int    `json:"next_page"`
	PrevPage    *int    `json:"prev_page"`
	Query       string  `json:"query,omitempty"`
}

// paginate slices entries into the requested page. The page is clamped to
// [1, pages]; an empty set yields page 1 of 0.
func paginate(entries []Entry, page, perPage int) *PageResult {
	if perPage < 1 {
		perPage = DefaultPerPage
	}

	total := len(entries)
	pages := (total + perPage - 1) / perPage
	page = max(1, min(page, pages))

	start := min((page-1)*perPage, total)
	end := min(start+perPage, total)

	result := &PageResult{
		Articles:    append([]Entry{}, entries[start:end]...),
		Total:       total,
		Pages:       pages,
		CurrentPage: page,
		PerPage:     perPage,
		HasNext:     page < pages,
		HasPrev:     page > 1,
	}
	if result.HasNext {
		next := page + 1
		result.NextPage = &next
	}
	if result.HasPrev {
		prev := page - 1
		result.PrevPage = &prev
	}
	return result
}

// sortNewestFirst orders articles by published date, newest first. Ties and
// unreadable dates fall back to file name order, newest first.
func (nf *NewsFeed) sortNewestFirst(articles []StoredArticle) {
	loc := nf.now().Location()
	published := make(map[string]time.Time, len(articles))
	for _, a := range articles {
		t, _ := a.PublishedTime(loc)
		published[a.Filename] = t
	}

	sort.SliceStable(articles, func(i, j int) bool {
		ti, tj := published[articles[i].Filename], published[articles[j].Filename]
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return articles[i].Filename > articles[j].Filename
	})
}

// ListPage prunes expired articles, then returns one page of all articles
// sorted newest first.
func (nf *NewsFeed) ListPage(page, perPage int) (*PageResult, error) {
	nf.mu.Lock()
	defer nf.mu.Unlock()

	nf.autoPrune()

	result, err := nf.list()
	if err != nil {
		return nil, err
	}
	nf.sortNewestFirst(result.Articles)

	entries := make([]Entry, 0, len(result.Articles))
	for _, stored := range result.Articles {
		entries = append(entries, newEntry(stored))
	}
	return paginate(entries, page, perPage), nil
}

// GetRecent returns up to limit of the newest articles.
func (nf *NewsFeed) GetRecent(limit int) ([]Entry, error) {
	result, err := nf.ListPage(1, limit)
	if err != nil {
		return nil, err
	}
	return result.Articles, nil
}

// Search returns articles whose title, summary, content or source contain
// query, case-insensitively, ordered by relevance score. An empty query is
// a plain listing.
func (nf *NewsFeed) Search(query string, page, perPage int) (*PageResult, error) {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return nf.ListPage(page, perPage)
	}

	nf.mu.Lock()
	defer nf.mu.Unlock()

	nf.autoPrune()

	result, err := nf.list()
	if err != nil {
		return nil, err
	}
	nf.sortNewestFirst(result.Articles)

	now := nf.now()
	var entries []Entry
	for _, stored := range result.Articles {
		score := Score(&stored.Article, q, now)
		if score == 0 {
			continue
		}
		entry := newEntry(stored)
		entry.RelevanceScore = score
		entries = append(entries, entry)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].RelevanceScore > entries[j].RelevanceScore
	})

	paged := paginate(entries, page, perPage)
	paged.Query = q
	return paged, nil
}

// Score computes the relevance of an article for a lowercase query. It is
// zero when no field matches.
func Score(a *Article, query string, now time.Time) int {
	title := strings.ToLower(a.Title)

	titleMatch := strings.Contains(title, query)
	summaryMatch := a.Summary != "" && strings.Contains(strings.ToLower(a.Summary), query)
	contentMatch := a.Content != "" && strings.Contains(strings.ToLower(a.Content), query)
	sourceMatch := strings.Contains(strings.ToLower(a.Source), query)

	if !titleMatch && !summaryMatch && !contentMatch && !sourceMatch {
		return 0
	}

	score := 0
	if titleMatch {
		score += 100
		if strings.HasPrefix(title, query) {
			score += 50
		}
	}
	if summaryMatch {
		score += 50
	}
	if contentMatch {
		score += 30
	}
	if sourceMatch {
		score += 20
	}

	if published, err := a.PublishedTime(now.Location()); err == nil {
		age := now.Sub(published)
		if age < 0 {
			age = -age
		}
		switch days := int(age.Hours() / 24); {
		case days <= 7:
			score += 30
		case days <= 30:
			score += 15
		}
	}

	return score
}
