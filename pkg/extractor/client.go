// Package extractor is a client for the extraction service that turns
// marketplace search and detail pages into structured JSON.
package extractor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/listing-radar/internal/model"
	"github.com/sells-group/listing-radar/internal/resilience"
)

// Client defines the extraction service operations.
type Client interface {
	// FetchSearchPage returns the candidates on one search result page of
	// category, newest first. An empty slice means past the last page.
	FetchSearchPage(ctx context.Context, category string, page int) ([]model.SearchCandidate, error)
	// FetchDetail extracts a single listing page. Pages the service refuses
	// to extract come back as *SkipError.
	FetchDetail(ctx context.Context, url string) (*model.Detail, error)
}

// SkipError is returned when the service declined to extract a listing,
// for example because it was removed or is a promoted placement.
type SkipError struct {
	URL    string
	Reason string
}

func (e *SkipError) Error() string {
	return "extractor: skipped " + e.URL + ": " + e.Reason
}

// IsSkip reports whether err is a *SkipError.
func IsSkip(err error) bool {
	var se *SkipError
	return errors.As(err, &se)
}

type searchResponse struct {
	Candidates []model.SearchCandidate `json:"candidates"`
}

type detailResponse struct {
	model.Detail
	SkipReason string `json:"skip_reason"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL sets the service base URL.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.rest.SetBaseURL(strings.TrimRight(url, "/"))
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *httpClient) {
		c.rest.SetTimeout(d)
	}
}

// WithHTTPClient replaces the underlying transport client. It resets
// timeout and headers, so pass it before WithTimeout.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.rest = resty.NewWithClient(hc).
			SetBaseURL(c.rest.BaseURL).
			SetHeader("Accept", "application/json")
	}
}

// WithRateLimit caps requests per second to the service. Zero disables
// limiting.
func WithRateLimit(rps float64) Option {
	return func(c *httpClient) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
}

// WithBreaker guards all calls with b.
func WithBreaker(b *resilience.Breaker) Option {
	return func(c *httpClient) {
		c.breaker = b
	}
}

// WithSource sets the portal name stamped on details that omit one.
func WithSource(source string) Option {
	return func(c *httpClient) {
		c.source = source
	}
}

type httpClient struct {
	rest    *resty.Client
	limiter *rate.Limiter
	breaker *resilience.Breaker
	source  string
}

// NewClient creates an extraction service client.
func NewClient(opts ...Option) Client {
	c := &httpClient{
		rest: resty.New().
			SetBaseURL("http://localhost:8090").
			SetTimeout(30*time.Second).
			SetHeader("Accept", "application/json"),
		limiter: rate.NewLimiter(rate.Limit(2), 1),
		source:  "willhaben",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) FetchSearchPage(ctx context.Context, category string, page int) ([]model.SearchCandidate, error) {
	return resilience.Call(ctx, c.breaker, func(ctx context.Context) ([]model.SearchCandidate, error) {
		if err := c.wait(ctx); err != nil {
			return nil, err
		}

		var out searchResponse
		resp, err := c.rest.R().
			SetContext(ctx).
			SetQueryParams(map[string]string{
				"category": category,
				"page":     strconv.Itoa(page),
			}).
			SetResult(&out).
			SetError(&errorResponse{}).
			Get("/v1/search")
		if err != nil {
			return nil, resilience.NewTransientError(eris.Wrapf(err, "extractor: search %s page %d", category, page), 0)
		}
		if resp.IsError() {
			return nil, statusError(resp, fmt.Sprintf("extractor: search %s page %d", category, page))
		}
		return out.Candidates, nil
	})
}

func (c *httpClient) FetchDetail(ctx context.Context, url string) (*model.Detail, error) {
	return resilience.Call(ctx, c.breaker, func(ctx context.Context) (*model.Detail, error) {
		if err := c.wait(ctx); err != nil {
			return nil, err
		}

		var out detailResponse
		resp, err := c.rest.R().
			SetContext(ctx).
			SetQueryParam("url", url).
			SetResult(&out).
			SetError(&errorResponse{}).
			Get("/v1/detail")
		if err != nil {
			return nil, resilience.NewTransientError(eris.Wrapf(err, "extractor: detail %s", url), 0)
		}
		if resp.IsError() {
			return nil, statusError(resp, "extractor: detail "+url)
		}
		if out.SkipReason != "" {
			return nil, &SkipError{URL: url, Reason: out.SkipReason}
		}

		d := out.Detail
		if d.URL == "" {
			d.URL = url
		}
		if d.Source == "" {
			d.Source = c.source
		}
		return &d, nil
	})
}

func (c *httpClient) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return eris.Wrap(c.limiter.Wait(ctx), "extractor: rate limit wait")
}

// statusError classifies a non-2xx response. The classification stays the
// outermost error so callers can test it with errors.As.
func statusError(resp *resty.Response, op string) error {
	msg := http.StatusText(resp.StatusCode())
	if e, ok := resp.Error().(*errorResponse); ok && e.Error != "" {
		msg = e.Error
	}
	return resilience.FromStatus(resp.StatusCode(), op+": "+msg)
}
