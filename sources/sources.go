// Package sources loads the list of sites to crawl from a YAML file. The
// file is re-read on every Load so it can be edited while the service runs.
package sources

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/pevans/newsagg/scraper"
)

// Custom errors for source loading
var (
	ErrNoSources         = errors.New("no sources configured")
	ErrSourceNotFound    = errors.New("source not found")
	ErrInvalidSource     = errors.New("invalid source")
	ErrMissingSelector   = errors.New("missing required selector")
	ErrDuplicateName     = errors.New("source with this name already exists")
	ErrInvalidSourceType = errors.New("type must be html or feed")
)

// File is the layout of the sources YAML file.
type File struct {
	Sources []scraper.Source `yaml:"sources"`
}

// Loader returns the current source list.
type Loader interface {
	Load(ctx context.Context) ([]scraper.Source, error)
}

// FileLoader reads sources from a YAML file on every call.
type FileLoader struct {
	Path string
}

// NewFileLoader creates a loader for the file at path.
func NewFileLoader(path string) *FileLoader {
	return &FileLoader{Path: path}
}

// Load reads, parses and validates the sources file.
func (l *FileLoader) Load(ctx context.Context) ([]scraper.Source, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(l.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read sources file: %w", err)
	}

	list, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", l.Path, err)
	}
	return list, nil
}

// StaticLoader serves a fixed list.
type StaticLoader []scraper.Source

// Load validates and returns the list.
func (s StaticLoader) Load(ctx context.Context) ([]scraper.Source, error) {
	list := normalize([]scraper.Source(s))
	if err := Validate(list); err != nil {
		return nil, err
	}
	return list, nil
}

// Parse decodes and validates a sources YAML document.
func Parse(data []byte) ([]scraper.Source, error) {
	var file File
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse sources file: %w", err)
	}

	list := normalize(file.Sources)
	if err := Validate(list); err != nil {
		return nil, err
	}
	return list, nil
}

// normalize fills defaults on a copy of list: the type is lowercased and
// defaults to html, and a trailing slash is trimmed from the base URL.
func normalize(list []scraper.Source) []scraper.Source {
	out := make([]scraper.Source, len(list))
	for i, src := range list {
		src.Name = strings.TrimSpace(src.Name)
		src.Type = strings.ToLower(strings.TrimSpace(src.Type))
		if src.Type == "" {
			src.Type = scraper.TypeHTML
		}
		src.BaseURL = strings.TrimRight(strings.TrimSpace(src.BaseURL), "/")
		out[i] = src
	}
	return out
}

// Validate checks every source in list. An empty list is ErrNoSources.
func Validate(list []scraper.Source) error {
	if len(list) == 0 {
		return ErrNoSources
	}

	seen := make(map[string]bool, len(list))
	for i, src := range list {
		if err := validateSource(&src); err != nil {
			if src.Name == "" {
				return fmt.Errorf("source %d: %w", i+1, err)
			}
			return fmt.Errorf("source %q: %w", src.Name, err)
		}

		key := strings.ToLower(src.Name)
		if seen[key] {
			return fmt.Errorf("source %q: %w", src.Name, ErrDuplicateName)
		}
		seen[key] = true
	}
	return nil
}

func validateSource(src *scraper.Source) error {
	if src.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidSource)
	}
	if src.BaseURL == "" {
		return fmt.Errorf("%w: base_url is required", ErrInvalidSource)
	}

	switch src.Type {
	case scraper.TypeHTML:
		sel := src.Selectors
		for _, required := range []struct{ key, value string }{
			{"articles", sel.Articles},
			{"title", sel.Title},
			{"url", sel.URL},
		} {
			if strings.TrimSpace(required.value) == "" {
				return fmt.Errorf("%w: %s", ErrMissingSelector, required.key)
			}
		}
	case scraper.TypeFeed:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidSourceType, src.Type)
	}

	if src.Selectors.Count < 0 {
		return fmt.Errorf("%w: count must not be negative", ErrInvalidSource)
	}
	return nil
}

// Enabled returns the sources that are not disabled, in order.
func Enabled(list []scraper.Source) []scraper.Source {
	var out []scraper.Source
	for _, src := range list {
		if src.IsEnabled() {
			out = append(out, src)
		}
	}
	return out
}

// Find returns the source with the given name, compared case-insensitively.
func Find(list []scraper.Source, name string) (*scraper.Source, error) {
	for i := range list {
		if strings.EqualFold(list[i].Name, name) {
			return &list[i], nil
		}
	}
	return nil, ErrSourceNotFound
}
