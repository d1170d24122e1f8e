package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/aluiziolira/go-tap-menu/config"
	"github.com/aluiziolira/go-tap-menu/httpclient"
	"github.com/aluiziolira/go-tap-menu/metrics"
	"github.com/aluiziolira/go-tap-menu/models"
	"github.com/aluiziolira/go-tap-menu/pipeline"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Fetcher performs a GET through the current outbound route.
type Fetcher interface {
	Get(rawURL string, headers http.Header) (*httpclient.Response, error)
}

// Rotator replaces the outbound proxy after a proxy-attributed failure.
type Rotator interface {
	Rotate(ctx context.Context) error
}

// Batch is the outcome of scraping one menu list.
type Batch struct {
	Beers   []models.Beer
	Links   int
	Dropped int
}

// Scraper turns menu pages into beers. The worker pool is owned by the
// caller and shared across every FetchAll.
type Scraper struct {
	client      Fetcher
	rotator     Rotator
	pool        *pipeline.Pool
	base        *url.URL
	maxAttempts int
	cache       *expirable.LRU[string, models.Beer]
	Metrics     *metrics.Metrics
}

// Option customises a Scraper.
type Option func(*Scraper)

// WithMetrics records scrape counters on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Scraper) {
		s.Metrics = m
	}
}

// NewScraper builds a scraper instance configured from cfg. rotator may be nil
// when requests go direct.
func NewScraper(cfg *config.Config, client Fetcher, rotator Rotator, pool *pipeline.Pool, opts ...Option) (*Scraper, error) {
	if client == nil {
		return nil, fmt.Errorf("scraper needs a fetcher")
	}
	if pool == nil {
		return nil, fmt.Errorf("scraper needs a worker pool")
	}
	if cfg.MaxAttempts <= 0 {
		return nil, fmt.Errorf("max attempts must be positive")
	}

	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}

	s := &Scraper{
		client:      client,
		base:        base,
		rotator:     rotator,
		pool:        pool,
		maxAttempts: cfg.MaxAttempts,
	}
	if cfg.ItemCacheTTL > 0 {
		s.cache = expirable.NewLRU[string, models.Beer](cfg.ItemCacheSize, nil, cfg.ItemCacheTTL)
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// FetchList downloads a menu page and returns the absolute detail links in
// page order. A relative listURL is resolved against the configured base URL.
// A page without the menu container is an error; a container with no
// entries yields an empty slice.
func (s *Scraper) FetchList(ctx context.Context, listURL string) ([]string, error) {
	if abs := resolve(s.base, listURL); abs != "" {
		listURL = abs
	}

	var links []string
	err := s.withRetry(ctx, listURL, listRetryable, func() error {
		resp, err := s.client.Get(listURL, nil)
		if err != nil {
			return err
		}
		pageURL := resp.URL
		if pageURL == "" {
			pageURL = listURL
		}
		links, err = extractLinks(resp.Body, pageURL)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("fetch list %s: %w", listURL, err)
	}
	return links, nil
}

// FetchItem downloads and parses one detail page.
func (s *Scraper) FetchItem(ctx context.Context, itemURL string) (*models.Beer, error) {
	if s.cache != nil {
		if beer, ok := s.cache.Get(itemURL); ok {
			return &beer, nil
		}
	}

	var beer *models.Beer
	err := s.withRetry(ctx, itemURL, retryable, func() error {
		resp, err := s.client.Get(itemURL, nil)
		if err != nil {
			return err
		}
		beer, err = extractBeer(resp.Body, itemURL)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.Metrics.IncItems()
	if s.cache != nil {
		s.cache.Add(itemURL, *beer)
	}
	return beer, nil
}

// FetchAll scrapes a menu list and every item on it. Items that fail are
// left out; only a listing failure is returned as an error. Result order is
// not defined.
func (s *Scraper) FetchAll(ctx context.Context, listURL string) (*Batch, error) {
	links, err := s.FetchList(ctx, listURL)
	if err != nil {
		return nil, err
	}

	var (
		mu    sync.Mutex
		wg    sync.WaitGroup
		batch = &Batch{Beers: make([]models.Beer, 0, len(links)), Links: len(links)}
	)

	for _, link := range links {
		wg.Add(1)
		err := s.pool.Submit(ctx, func() {
			defer wg.Done()
			beer, err := s.FetchItem(ctx, link)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				batch.Dropped++
				label := errorTypeLabel(err)
				s.Metrics.IncDropped(label)
				slog.Debug("dropping item",
					slog.String("url", link),
					slog.String("category", label),
					slog.Any("error", err),
				)
				return
			}
			batch.Beers = append(batch.Beers, *beer)
		})
		if err != nil {
			wg.Done()
			wg.Wait()
			return nil, fmt.Errorf("submit %s: %w", link, err)
		}
	}
	wg.Wait()

	return batch, nil
}

// withRetry runs fn up to maxAttempts times. Proxy faults rotate the proxy
// before the next attempt; other errors retry as-is when canRetry allows and
// are returned straight away otherwise.
func (s *Scraper) withRetry(ctx context.Context, target string, canRetry func(error) bool, fn func() error) error {
	var err error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		start := time.Now()
		if err = fn(); err == nil {
			return nil
		}

		label := errorTypeLabel(err)
		if httpclient.IsProxyFault(err) {
			s.rotate(ctx, target, label)
		}
		if attempt == s.maxAttempts || !canRetry(err) || ctx.Err() != nil {
			break
		}

		s.Metrics.IncRetries()
		slog.Debug("retrying request",
			slog.String("url", target),
			slog.String("category", label),
			slog.Int("attempt", attempt),
			slog.Duration("elapsed", time.Since(start)),
		)
	}
	return err
}

func (s *Scraper) rotate(ctx context.Context, target, reason string) {
	if s.rotator == nil {
		return
	}
	slog.Info("rotating proxy", slog.String("url", target), slog.String("reason", reason))
	if err := s.rotator.Rotate(ctx); err != nil {
		slog.Warn("proxy rotation failed", slog.Any("error", err))
	}
}
