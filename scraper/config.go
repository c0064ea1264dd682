package scraper

import "strings"

// Source types.
const (
	TypeHTML = "html"
	TypeFeed = "feed"
)

// Source defines one site the crawler targets and how to read its listing
// page.
type Source struct {
	Name        string    `yaml:"name" json:"name"`
	Type        string    `yaml:"type,omitempty" json:"type"`
	BaseURL     string    `yaml:"base_url" json:"base_url"`
	Endpoint    string    `yaml:"endpoint" json:"endpoint"`
	SearchQuery string    `yaml:"search_query,omitempty" json:"search_query,omitempty"`
	Enabled     *bool     `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	Selectors   Selectors `yaml:"selectors" json:"selectors"`
}

// Selectors is the selector map for a source. Articles, Title and URL are
// required for HTML sources; everything else is optional.
type Selectors struct {
	Articles   string `yaml:"articles" json:"articles"`
	Title      string `yaml:"title" json:"title"`
	URL        string `yaml:"url" json:"url"`
	Summary    string `yaml:"summary,omitempty" json:"summary,omitempty"`
	Date       string `yaml:"date,omitempty" json:"date,omitempty"`
	DateFormat string `yaml:"date_format,omitempty" json:"date_format,omitempty"`
	Image      string `yaml:"image,omitempty" json:"image,omitempty"`
	// Count overrides the global max articles per source. Zero means unset.
	Count int `yaml:"count,omitempty" json:"count,omitempty"`
	// Fallbacks are tried in order when Articles matches nothing.
	Fallbacks []string `yaml:"fallbacks,omitempty" json:"fallbacks,omitempty"`
}

// IsEnabled reports whether the source should be crawled. Sources are
// enabled unless explicitly disabled.
func (s *Source) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// IsFeed reports whether the source is an RSS/Atom feed rather than an HTML
// listing page.
func (s *Source) IsFeed() bool {
	return strings.EqualFold(s.Type, TypeFeed)
}

// ListingURL builds the URL of the source's listing page: base URL plus
// endpoint, with the search query appended when present.
func (s *Source) ListingURL() string {
	u := s.BaseURL + s.Endpoint
	if s.SearchQuery != "" {
		u += "?" + s.SearchQuery
	}
	return u
}

// Limit returns how many articles to take from a listing that yielded found
// nodes. The source's Count wins over the global maximum; aggressive mode
// disables the cap.
func (s *Source) Limit(found, globalMax int, aggressive bool) int {
	if aggressive {
		return found
	}
	limit := globalMax
	if s.Selectors.Count > 0 {
		limit = s.Selectors.Count
	}
	if limit <= 0 || found < limit {
		return found
	}
	return limit
}
