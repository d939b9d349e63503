// Package pncp provides a client for the national procurement portal's
// search index and procurement API.
package pncp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/auction-ingest/internal/resilience"
)

// ErrNotFound matches HTTPErrors with a 404 status.
var ErrNotFound = eris.New("pncp: not found")

// HTTPError is a non-success response from the portal.
type HTTPError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("pncp: %s returned %d: %s", e.URL, e.StatusCode, e.Body)
}

// Is makes errors.Is(err, ErrNotFound) work for 404 responses.
func (e *HTTPError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

// Client defines the portal operations used by the pipeline.
type Client interface {
	// Search returns one page of listing summaries.
	Search(ctx context.Context, q SearchQuery) (*SearchPage, error)
	// Detail returns the structured record for one procurement.
	Detail(ctx context.Context, k Key) (*Detail, error)
	// Documents lists the attachments of one procurement.
	Documents(ctx context.Context, k Key) ([]Document, error)
	// Download fetches an attachment body.
	Download(ctx context.Context, rawURL string) (*Download, error)
}

// Option configures the client.
type Option func(*httpClient)

// WithSearchBaseURL sets a custom search base URL (for testing).
func WithSearchBaseURL(u string) Option {
	return func(c *httpClient) {
		c.searchBaseURL = strings.TrimRight(u, "/")
	}
}

// WithAPIBaseURL sets a custom procurement API base URL (for testing).
func WithAPIBaseURL(u string) Option {
	return func(c *httpClient) {
		c.apiBaseURL = strings.TrimRight(u, "/")
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithDetailDelay spaces calls to the procurement API at least d apart.
// Zero disables throttling.
func WithDetailDelay(d time.Duration) Option {
	return func(c *httpClient) {
		if d > 0 {
			c.limiter = rate.NewLimiter(rate.Every(d), 1)
		} else {
			c.limiter = nil
		}
	}
}

// WithMaxDownloadBytes caps attachment downloads.
func WithMaxDownloadBytes(n int64) Option {
	return func(c *httpClient) {
		c.maxDownload = n
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *httpClient) {
		c.userAgent = ua
	}
}

type httpClient struct {
	searchBaseURL string
	apiBaseURL    string
	http          *http.Client
	limiter       *rate.Limiter
	maxDownload   int64
	userAgent     string
	now           func() time.Time
}

// NewClient creates a portal client. By default procurement API calls are
// throttled to 4 req/s.
func NewClient(opts ...Option) Client {
	c := &httpClient{
		searchBaseURL: "https://pncp.gov.br/api/search",
		apiBaseURL:    "https://pncp.gov.br/api/pncp/v1",
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter:     rate.NewLimiter(rate.Every(250*time.Millisecond), 1),
		maxDownload: 20 << 20,
		userAgent:   "auction-ingest/1.0",
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// wait blocks until the rate limiter allows one event, or ctx is cancelled.
func (c *httpClient) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

func (c *httpClient) Search(ctx context.Context, q SearchQuery) (*SearchPage, error) {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.PageSize < 1 {
		q.PageSize = 50
	}

	params := url.Values{}
	params.Set("q", q.Terms)
	params.Set("ordenacao", "-data")
	params.Set("pagina", strconv.Itoa(q.Page))
	params.Set("tam_pagina", strconv.Itoa(q.PageSize))
	if q.Category != "" {
		params.Set("tipos_documento", q.Category)
	}
	if q.Status != "" {
		params.Set("status", q.Status)
	}
	if !q.From.IsZero() {
		params.Set("data_inicial", q.From.Format("2006-01-02"))
	}
	if !q.To.IsZero() {
		params.Set("data_final", q.To.Format("2006-01-02"))
	}

	var page SearchPage
	found, err := c.getJSON(ctx, c.searchBaseURL+"/?"+params.Encode(), &page)
	if err != nil {
		return nil, eris.Wrapf(err, "pncp: search page %d", q.Page)
	}
	if !found {
		page = SearchPage{}
	}
	page.Page = q.Page
	page.PageSize = q.PageSize
	return &page, nil
}

func (c *httpClient) Detail(ctx context.Context, k Key) (*Detail, error) {
	if !k.Valid() {
		return nil, eris.Errorf("pncp: invalid key %+v", k)
	}
	if err := c.wait(ctx); err != nil {
		return nil, eris.Wrap(err, "pncp: rate limit")
	}

	var d Detail
	found, err := c.getJSON(ctx, c.apiBaseURL+"/"+k.path(), &d)
	if err != nil {
		return nil, eris.Wrapf(err, "pncp: detail %s", k.path())
	}
	if !found {
		return nil, eris.Wrapf(ErrNotFound, "pncp: detail %s", k.path())
	}
	return &d, nil
}

func (c *httpClient) Documents(ctx context.Context, k Key) ([]Document, error) {
	if !k.Valid() {
		return nil, eris.Errorf("pncp: invalid key %+v", k)
	}
	if err := c.wait(ctx); err != nil {
		return nil, eris.Wrap(err, "pncp: rate limit")
	}

	var docs []Document
	if _, err := c.getJSON(ctx, c.apiBaseURL+"/"+k.path()+"/arquivos", &docs); err != nil {
		return nil, eris.Wrapf(err, "pncp: documents %s", k.path())
	}
	return docs, nil
}

func (c *httpClient) Download(ctx context.Context, rawURL string) (*Download, error) {
	resp, err := c.do(ctx, rawURL, "*/*")
	if err != nil {
		return nil, eris.Wrapf(err, "pncp: download %s", rawURL)
	}
	defer resp.Body.Close() //nolint:errcheck

	r := io.Reader(resp.Body)
	if c.maxDownload > 0 {
		r = io.LimitReader(resp.Body, c.maxDownload+1)
	}
	body, err := io.ReadAll(r)
	if err != nil {
		return nil, eris.Wrapf(resilience.NewTransientError(err, 0), "pncp: read download %s", rawURL)
	}

	dl := &Download{
		URL:         rawURL,
		ContentType: resp.Header.Get("Content-Type"),
		Filename:    filename(resp.Header.Get("Content-Disposition"), rawURL),
		Body:        body,
	}
	if c.maxDownload > 0 && int64(len(body)) > c.maxDownload {
		dl.Truncated = true
	}
	return dl, nil
}

// getJSON decodes a 200 response into v. A 204 reports found=false.
func (c *httpClient) getJSON(ctx context.Context, u string, v any) (bool, error) {
	resp, err := c.do(ctx, u, "application/json")
	if err != nil {
		return false, err
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode == http.StatusNoContent {
		return false, nil
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return false, resilience.NewTransientError(eris.Wrap(err, "pncp: read response body"), 0)
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return false, nil
	}
	if err := json.Unmarshal(body, v); err != nil {
		return false, eris.Wrap(err, "pncp: decode response")
	}
	return true, nil
}

// do sends a GET and maps failures: transport errors and throttling or
// 5xx statuses become resilience.TransientErrors, other non-2xx statuses
// become HTTPErrors. The caller closes the body of a successful response.
func (c *httpClient) do(ctx context.Context, u, accept string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, eris.Wrap(err, "pncp: create request")
	}
	req.Header.Set("Accept", accept)
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, resilience.NewTransientError(err, 0)
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	_ = resp.Body.Close()

	herr := &HTTPError{StatusCode: resp.StatusCode, URL: u, Body: strings.TrimSpace(string(body))}
	if resilience.IsTransientHTTPStatus(resp.StatusCode) {
		te := resilience.NewTransientError(herr, resp.StatusCode)
		te.RetryAfter = resilience.ParseRetryAfter(resp.Header.Get("Retry-After"), c.now())
		return nil, te
	}
	return nil, herr
}

// filename prefers the Content-Disposition name over the URL's last segment.
func filename(disposition, rawURL string) string {
	if _, params, err := mime.ParseMediaType(disposition); err == nil {
		if name := params["filename"]; name != "" {
			return name
		}
	}
	if u, err := url.Parse(rawURL); err == nil {
		if base := path.Base(u.Path); base != "." && base != "/" {
			return base
		}
	}
	return ""
}
