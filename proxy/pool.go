// Package proxy keeps one working outbound proxy selected from a public list.
package proxy

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/aluiziolira/go-tap-menu/config"
	"github.com/aluiziolira/go-tap-menu/metrics"
	"golang.org/x/sync/singleflight"
)

// ErrExhausted is returned when no candidate passed the probe.
var ErrExhausted = errors.New("proxy: all candidates failed")

const rotateKey = "rotate"

// Pool selects a random working proxy and shares it with every request.
type Pool struct {
	listURL      string
	testURL      string
	userAgent    string
	probeTimeout time.Duration

	client       *http.Client
	transportFor func(*url.URL) http.RoundTripper
	shuffle      func([]*url.URL)
	metrics      *metrics.Metrics

	current atomic.Pointer[url.URL]
	group   singleflight.Group
}

// Option customises a Pool.
type Option func(*Pool)

// WithSourceTransport sets the transport used to download the candidate list.
func WithSourceTransport(rt http.RoundTripper) Option {
	return func(p *Pool) {
		p.client.Transport = rt
	}
}

// WithProbeTransport sets how probe requests are routed through a candidate.
func WithProbeTransport(fn func(*url.URL) http.RoundTripper) Option {
	return func(p *Pool) {
		p.transportFor = fn
	}
}

// WithShuffle replaces the candidate shuffle.
func WithShuffle(fn func([]*url.URL)) Option {
	return func(p *Pool) {
		p.shuffle = fn
	}
}

// WithMetrics records rotations and probes on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pool) {
		p.metrics = m
	}
}

// NewPool builds an empty pool; call Rotate to select the first proxy.
func NewPool(cfg *config.Config, opts ...Option) *Pool {
	p := &Pool{
		listURL:      cfg.ProxyListURL,
		testURL:      cfg.ProxyTestURL,
		userAgent:    cfg.UserAgent,
		probeTimeout: cfg.ProbeTimeout,
		client:       &http.Client{Timeout: cfg.Timeout},
		transportFor: probeTransport(cfg.ProbeTimeout),
		shuffle: func(c []*url.URL) {
			rand.Shuffle(len(c), func(i, j int) { c[i], c[j] = c[j], c[i] })
		},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Current returns the active proxy, or nil when requests go direct.
func (p *Pool) Current() *url.URL {
	return p.current.Load()
}

// ProxyFunc adapts the pool for http.Transport.Proxy.
func (p *Pool) ProxyFunc(*http.Request) (*url.URL, error) {
	return p.current.Load(), nil
}

// Rotate replaces the active proxy with a freshly probed candidate. Callers
// arriving while a rotation is in flight wait for it and share its outcome.
// On failure the previous proxy stays active.
func (p *Pool) Rotate(ctx context.Context) error {
	_, err, shared := p.group.Do(rotateKey, func() (any, error) {
		return p.rotate(ctx)
	})
	if shared {
		slog.Debug("joined in-flight proxy rotation")
	}
	return err
}

func (p *Pool) rotate(ctx context.Context) (*url.URL, error) {
	candidates, err := p.fetchCandidates(ctx)
	if err != nil {
		p.metrics.IncRotation("source_error")
		slog.Error("proxy list download failed", slog.String("url", p.listURL), slog.Any("error", err))
		return nil, err
	}
	p.shuffle(candidates)

	for _, candidate := range candidates {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if err := p.probe(ctx, candidate); err != nil {
			p.metrics.IncProbe("failed")
			slog.Debug("proxy probe failed", slog.String("proxy", candidate.Host), slog.Any("error", err))
			continue
		}
		p.metrics.IncProbe("ok")
		p.metrics.IncRotation("success")
		p.current.Store(candidate)
		slog.Info("proxy selected", slog.String("proxy", candidate.Host))
		return candidate, nil
	}

	p.metrics.IncRotation("exhausted")
	previous := ""
	if cur := p.current.Load(); cur != nil {
		previous = cur.Host
	}
	slog.Warn("no working proxy found",
		slog.Int("candidates", len(candidates)),
		slog.String("keeping", previous),
	)
	return nil, ErrExhausted
}

func (p *Pool) fetchCandidates(ctx context.Context) ([]*url.URL, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.listURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build proxy list request: %w", err)
	}
	req.Header.Set("User-Agent", p.userAgent)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get proxy list: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("get proxy list: http status %d", resp.StatusCode)
	}
	return ParseCandidates(resp.Body)
}

func (p *Pool) probe(ctx context.Context, candidate *url.URL) error {
	ctx, cancel := context.WithTimeout(ctx, p.probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.testURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", p.userAgent)

	client := &http.Client{Transport: p.transportFor(candidate), Timeout: p.probeTimeout}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("probe status %d", resp.StatusCode)
	}
	return nil
}

func probeTransport(timeout time.Duration) func(*url.URL) http.RoundTripper {
	return func(candidate *url.URL) http.RoundTripper {
		return &http.Transport{
			Proxy: http.ProxyURL(candidate),
			DialContext: (&net.Dialer{
				Timeout: timeout,
			}).DialContext,
			TLSHandshakeTimeout: timeout,
			DisableKeepAlives:   true,
		}
	}
}

// ParseCandidates reads one proxy per line, either "host:port" or
// "scheme://host:port". Blank lines, comments and malformed entries are skipped.
func ParseCandidates(r io.Reader) ([]*url.URL, error) {
	var out []*url.URL
	seen := make(map[string]struct{})

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if !strings.Contains(line, "://") {
			line = "http://" + line
		}
		u, err := url.Parse(line)
		if err != nil || u.Hostname() == "" || u.Port() == "" {
			continue
		}
		switch u.Scheme {
		case "http", "https", "socks5":
		default:
			continue
		}
		if _, ok := seen[u.Host]; ok {
			continue
		}
		seen[u.Host] = struct{}{}
		out = append(out, u)
	}
	return out, scanner.Err()
}
