package newsfeed

import (
	"bufio"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/pevans/newsagg/dates"
)

var (
	// ErrEmptySlug is returned when an article title has no characters a
	// slug can be built from.
	ErrEmptySlug = errors.New("article slug is empty")

	// ErrInvalidArticle is returned when a required article field is
	// missing.
	ErrInvalidArticle = errors.New("invalid article")

	// ErrNotArticle is returned when data does not have the header layout
	// of a stored article.
	ErrNotArticle = errors.New("not an article file")
)

// Article is a single crawled news article.
type Article struct {
	Title  string `json:"title"`
	URL    string `json:"url"`
	Source string `json:"source"`
	// PublishedAt uses the dates.Layout format.
	PublishedAt string `json:"published_at"`
	Summary     string `json:"summary"`
	Content     string `json:"content"`
	ImageURL    string `json:"image_url"`
	Slug        string `json:"slug"`
}

// NewArticle creates an article with its slug derived from the title.
func NewArticle(title, url, source, publishedAt, summary, content, imageURL string) Article {
	return Article{
		Title:       title,
		URL:         url,
		Source:      source,
		PublishedAt: publishedAt,
		Summary:     summary,
		Content:     content,
		ImageURL:    imageURL,
		Slug:        Slug(title),
	}
}

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

// Slug derives the URL-safe identifier for a title: lowercase ASCII letters
// and digits, with every other run of characters collapsed to one hyphen.
func Slug(title string) string {
	s := nonSlug.ReplaceAllString(strings.ToLower(title), "-")
	return strings.Trim(s, "-")
}

// Validate checks the fields every stored article must have.
func (a *Article) Validate() error {
	switch {
	case strings.TrimSpace(a.Title) == "":
		return fmt.Errorf("%w: missing title", ErrInvalidArticle)
	case strings.TrimSpace(a.URL) == "":
		return fmt.Errorf("%w: missing url", ErrInvalidArticle)
	case strings.TrimSpace(a.Source) == "":
		return fmt.Errorf("%w: missing source", ErrInvalidArticle)
	case a.Slug == "":
		return ErrEmptySlug
	}
	return nil
}

// PublishedTime parses PublishedAt in loc.
func (a *Article) PublishedTime(loc *time.Location) (time.Time, error) {
	return dates.ParseStored(a.PublishedAt, loc)
}

// Filename returns the storage file name, "YYYY-MM-DD-<slug>.md". The date
// part comes from PublishedAt, or from now when PublishedAt is unreadable.
func (a *Article) Filename(now time.Time) string {
	day := now
	if t, err := a.PublishedTime(now.Location()); err == nil {
		day = t
	} else if t, ok := dates.Parse(a.PublishedAt, "", now); ok {
		day = t
	}
	return day.Format("2006-01-02") + "-" + a.Slug + ".md"
}

const delimiter = "---"

// headerFields lists the header keys in the order they are written.
var headerFields = []string{"title", "url", "source", "published_at", "summary", "slug", "image_url"}

func (a *Article) field(key string) *string {
	switch key {
	case "title":
		return &a.Title
	case "url":
		return &a.URL
	case "source":
		return &a.Source
	case "published_at":
		return &a.PublishedAt
	case "summary":
		return &a.Summary
	case "slug":
		return &a.Slug
	case "image_url":
		return &a.ImageURL
	}
	return nil
}

var lineBreaks = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ")

// quote flattens line breaks and wraps s in double quotes with Go escaping.
func quote(s string) string {
	return strconv.Quote(lineBreaks.Replace(s))
}

// unquote reverses quote. Values written by hand with only \" escaped are
// accepted too.
func unquote(s string) string {
	if v, err := strconv.Unquote(s); err == nil {
		return v
	}
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	return strings.ReplaceAll(s, `\"`, `"`)
}

// Marshal encodes the article as a header block followed by a blank line and
// the raw content.
func (a *Article) Marshal() []byte {
	var b strings.Builder
	b.WriteString(delimiter + "\n")
	for _, key := range headerFields {
		b.WriteString(key)
		b.WriteString(": ")
		b.WriteString(quote(*a.field(key)))
		b.WriteString("\n")
	}
	b.WriteString(delimiter + "\n\n")
	b.WriteString(a.Content)
	return []byte(b.String())
}

// Unmarshal decodes data written by Marshal. Data without the opening and
// closing delimiter lines, or without the title, url, source and
// published_at keys, yields ErrNotArticle. The slug stored in the header is
// kept as is; when absent it is derived from the title.
func Unmarshal(data []byte) (*Article, error) {
	text := string(data)
	if !strings.HasPrefix(text, delimiter+"\n") {
		return nil, ErrNotArticle
	}

	rest := text[len(delimiter)+1:]
	end := strings.Index(rest, "\n"+delimiter+"\n\n")
	if end < 0 {
		return nil, ErrNotArticle
	}

	header := rest[:end]
	article := &Article{Content: rest[end+len(delimiter)+3:]}
	seen := make(map[string]bool, len(headerFields))

	scanner := bufio.NewScanner(strings.NewReader(header))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		key, value, ok := strings.Cut(scanner.Text(), ":")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		dst := article.field(key)
		if dst == nil {
			continue
		}

		value = strings.TrimSpace(value)
		if strings.HasPrefix(value, `"`) && strings.HasSuffix(value, `"`) && len(value) >= 2 {
			value = unquote(value)
		}
		*dst = value
		seen[key] = true
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotArticle, err)
	}

	for _, key := range []string{"title", "url", "source", "published_at"} {
		if !seen[key] {
			return nil, fmt.Errorf("%w: missing %s", ErrNotArticle, key)
		}
	}
	if !seen["slug"] {
		article.Slug = Slug(article.Title)
	}

	return article, nil
}
