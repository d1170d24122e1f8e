// Package httpclient issues outbound requests through the currently selected
// proxy and reports failures as typed errors.
package httpclient

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/aluiziolira/go-tap-menu/config"
	"github.com/aluiziolira/go-tap-menu/metrics"
	"github.com/gocolly/colly/v2"
)

const (
	startKey    = "start"
	responseKey = "response"
)

// ProxyFunc selects the proxy for a request; a nil URL means a direct connection.
type ProxyFunc func(*http.Request) (*url.URL, error)

// Response is the raw result of a request.
type Response struct {
	URL        string
	StatusCode int
	Header     http.Header
	Body       []byte
}

// File is one part of a multipart submission.
type File struct {
	Name string
	Data []byte
}

// Client wraps a synchronous colly collector. It is safe for concurrent use.
type Client struct {
	collector *colly.Collector
	proxy     ProxyFunc
	userAgent string
	metrics   *metrics.Metrics
}

// Option customises a Client.
type Option func(*Client)

// WithTransport replaces the network transport, bypassing proxy selection.
func WithTransport(rt http.RoundTripper) Option {
	return func(c *Client) {
		c.collector.WithTransport(rt)
		c.proxy = nil
	}
}

// WithMetrics records request counters on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// New builds a client whose transport asks proxy for the outbound route.
func New(cfg *config.Config, proxy ProxyFunc, opts ...Option) (*Client, error) {
	collector := colly.NewCollector(
		colly.UserAgent(cfg.UserAgent),
		colly.AllowURLRevisit(),
	)

	collector.SetRequestTimeout(cfg.Timeout)
	collector.IgnoreRobotsTxt = true
	collector.ParseHTTPErrorResponse = true

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   cfg.Timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
	if proxy != nil {
		transport.Proxy = proxy
	}
	collector.WithTransport(transport)

	if err := collector.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: cfg.Workers,
	}); err != nil {
		return nil, fmt.Errorf("configure rate limits: %w", err)
	}

	c := &Client{
		collector: collector,
		proxy:     proxy,
		userAgent: cfg.UserAgent,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.configureHandlers()
	return c, nil
}

func (c *Client) configureHandlers() {
	c.collector.OnRequest(func(r *colly.Request) {
		r.Ctx.Put(startKey, time.Now())
		c.metrics.IncRequest("started")
	})

	c.collector.OnResponse(func(r *colly.Response) {
		header := http.Header{}
		if r.Headers != nil {
			header = r.Headers.Clone()
		}
		r.Ctx.Put(responseKey, &Response{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Header:     header,
			Body:       r.Body,
		})
		if start, ok := r.Ctx.GetAny(startKey).(time.Time); ok {
			c.metrics.ObserveDuration(time.Since(start))
		}
	})
}

// Get fetches rawURL. A response with status >= 400 is returned together with
// its typed error so callers can still inspect the body.
func (c *Client) Get(rawURL string, headers http.Header) (*Response, error) {
	return c.do(http.MethodGet, rawURL, nil, headers)
}

// Post submits fields as an URL-encoded form.
func (c *Client) Post(rawURL string, fields map[string]string) (*Response, error) {
	form := url.Values{}
	for k, v := range fields {
		form.Set(k, v)
	}
	headers := http.Header{}
	headers.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(http.MethodPost, rawURL, strings.NewReader(form.Encode()), headers)
}

// PostMultipart submits fields and files as multipart/form-data.
func (c *Client) PostMultipart(rawURL string, fields map[string]string, files map[string]File) (*Response, error) {
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)

	for _, k := range sortedKeys(fields) {
		if err := mw.WriteField(k, fields[k]); err != nil {
			return nil, fmt.Errorf("write field %s: %w", k, err)
		}
	}
	for _, field := range sortedKeys(files) {
		f := files[field]
		part, err := mw.CreateFormFile(field, f.Name)
		if err != nil {
			return nil, fmt.Errorf("create part %s: %w", field, err)
		}
		if _, err := part.Write(f.Data); err != nil {
			return nil, fmt.Errorf("write part %s: %w", field, err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close multipart writer: %w", err)
	}

	headers := http.Header{}
	headers.Set("Content-Type", mw.FormDataContentType())
	return c.do(http.MethodPost, rawURL, body, headers)
}

func (c *Client) do(method, rawURL string, body io.Reader, headers http.Header) (*Response, error) {
	hdr := headers.Clone()
	if hdr == nil {
		hdr = http.Header{}
	}
	if hdr.Get("User-Agent") == "" {
		hdr.Set("User-Agent", c.userAgent)
	}

	ctx := colly.NewContext()
	err := c.collector.Request(method, rawURL, body, ctx, hdr)
	resp, _ := ctx.GetAny(responseKey).(*Response)

	status := 0
	if resp != nil {
		status = resp.StatusCode
	}
	if classified := classifyError(err, status, c.proxied(rawURL)); classified != nil {
		label := ErrorType(classified)
		c.metrics.IncError(label)
		slog.Debug("request failed",
			slog.String("method", method),
			slog.String("url", rawURL),
			slog.String("category", label),
			slog.Any("error", classified),
		)
		return resp, fmt.Errorf("%s %s: %w", method, rawURL, classified)
	}
	if resp == nil {
		return nil, fmt.Errorf("%s %s: no response", method, rawURL)
	}

	c.metrics.IncRequest("completed")
	return resp, nil
}

// proxied reports whether requests to rawURL currently leave through a proxy.
func (c *Client) proxied(rawURL string) bool {
	if c.proxy == nil {
		return false
	}
	req, err := http.NewRequest(http.MethodGet, rawURL, nil)
	if err != nil {
		return false
	}
	proxyURL, err := c.proxy(req)
	return err == nil && proxyURL != nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
