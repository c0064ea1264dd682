package discovery

import (
	"compress/flate"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/andybalholm/brotli"

	"github.com/pevans/newsagg/logger"
	"github.com/pevans/newsagg/ratelimit"
)

// Response is a fetched page.
type Response struct {
	URL        string
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Fetcher performs GET requests for the crawler. Every request first passes
// through the rate limiter.
type Fetcher struct {
	client       *http.Client
	userAgent    string
	maxBodyBytes int64
	limiter      *ratelimit.Limiter
	log          logger.Logger
}

// NewFetcher creates a Fetcher. The client is usually built with
// NewHTTPClient from the same cfg.
func NewFetcher(client *http.Client, cfg ClientConfig, limiter *ratelimit.Limiter, log logger.Logger) *Fetcher {
	cfg = cfg.withDefaults()
	if client == nil {
		client = http.DefaultClient
	}
	return &Fetcher{
		client:       client,
		userAgent:    cfg.UserAgent,
		maxBodyBytes: cfg.MaxBodyBytes,
		limiter:      limiter,
		log:          logger.OrNop(log),
	}
}

// get performs one request without touching the rate limiter.
func (f *Fetcher) get(ctx context.Context, url string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.8")
	req.Header.Set("Accept-Encoding", "gzip, deflate, br")

	resp, err := f.client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return nil, err
		}
		return nil, classifyTransportError(err)
	}

	body, err := f.readBody(resp)
	if err != nil {
		return nil, err
	}

	return &Response{
		URL:        url,
		StatusCode: resp.StatusCode,
		Header:     resp.Header.Clone(),
		Body:       body,
	}, nil
}

func (f *Fetcher) readBody(resp *http.Response) ([]byte, error) {
	if resp == nil || resp.Body == nil {
		return nil, ErrEmptyResponse
	}

	reader := io.Reader(resp.Body)
	closers := []io.Closer{resp.Body}

	encoding := strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding")))
	switch encoding {
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			resp.Body.Close()
			return nil, fmt.Errorf("gzip decode: %w", err)
		}
		reader = gz
		closers = append(closers, gz)
	case "br":
		reader = brotli.NewReader(resp.Body)
	case "deflate":
		fl := flate.NewReader(resp.Body)
		reader = fl
		closers = append(closers, fl)
	}

	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i].Close()
		}
	}()

	limited := io.LimitReader(reader, f.maxBodyBytes+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(body)) > f.maxBodyBytes {
		return nil, fmt.Errorf("%w: limit is %d bytes", ErrBodyTooLarge, f.maxBodyBytes)
	}
	return body, nil
}

func (f *Fetcher) tick(ctx context.Context) error {
	if f.limiter == nil {
		return nil
	}
	return f.limiter.Tick(ctx)
}

// FetchListing fetches a listing page. A 429 answer is retried exactly once
// after waiting out its Retry-After header; a second 429 is
// ErrTooManyRequests. Any other non-200 status is an *HTTPError and an empty
// body is ErrEmptyResponse.
func (f *Fetcher) FetchListing(ctx context.Context, url string) ([]byte, error) {
	if err := f.tick(ctx); err != nil {
		return nil, err
	}

	resp, err := f.get(ctx, url)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		if f.limiter != nil {
			if err := f.limiter.WaitRetryAfter(ctx, resp.Header.Get("Retry-After")); err != nil {
				return nil, err
			}
		}
		if err := f.tick(ctx); err != nil {
			return nil, err
		}

		resp, err = f.get(ctx, url)
		if err != nil {
			return nil, fmt.Errorf("retry failed: %w", err)
		}
		if resp.StatusCode == http.StatusTooManyRequests {
			return nil, fmt.Errorf("retry failed: %w", ErrTooManyRequests)
		}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &HTTPError{StatusCode: resp.StatusCode}
	}
	if len(strings.TrimSpace(string(resp.Body))) == 0 {
		return nil, ErrEmptyResponse
	}

	return resp.Body, nil
}

// FetchPage fetches an article page with no retry. A positive timeout bounds
// the request itself; time spent waiting on the rate limiter is not counted.
func (f *Fetcher) FetchPage(ctx context.Context, url string, timeout time.Duration) ([]byte, error) {
	if err := f.tick(ctx); err != nil {
		return nil, err
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	resp, err := f.get(ctx, url)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &HTTPError{StatusCode: resp.StatusCode}
	}
	if len(resp.Body) == 0 {
		return nil, ErrEmptyResponse
	}
	return resp.Body, nil
}
