package menu

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/aluiziolira/go-tap-menu/metrics"
	"github.com/aluiziolira/go-tap-menu/models"
	"github.com/aluiziolira/go-tap-menu/scraper"
)

// ErrRunning is returned when lists are reconfigured on a running poller.
var ErrRunning = errors.New("menu: poller is running")

// Fetcher scrapes one menu list.
type Fetcher interface {
	FetchAll(ctx context.Context, listURL string) (*scraper.Batch, error)
}

// List is a named menu page.
type List struct {
	Name string
	URL  string
}

// Poller refreshes every configured list on a fixed interval and serves the
// results to readers. It is the only writer of its Store.
type Poller struct {
	fetcher  Fetcher
	store    *Store
	interval time.Duration
	metrics  *metrics.Metrics

	mu          sync.Mutex // guards lists/defaultList/running/stop
	lists       []List
	defaultList string
	running     bool
	stop        chan struct{}

	// held for a whole cycle so a restarted loop never overlaps the old one
	cycleMu sync.Mutex
}

// NewPoller creates a stopped poller with an empty store.
func NewPoller(fetcher Fetcher, interval time.Duration, m *metrics.Metrics) *Poller {
	return &Poller{
		fetcher:  fetcher,
		store:    NewStore(m),
		interval: interval,
		metrics:  m,
	}
}

// SetLists replaces the configured lists. Lists are scraped in name order.
func (p *Poller) SetLists(lists map[string]string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return ErrRunning
	}

	out := make([]List, 0, len(lists))
	for name, url := range lists {
		out = append(out, List{Name: name, URL: url})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	p.lists = out

	if _, ok := lists[p.defaultList]; !ok {
		p.defaultList = ""
	}
	return nil
}

// SetDefaultList selects the list served for an empty name. It reports
// whether name is configured.
func (p *Poller) SetDefaultList(name string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, l := range p.lists {
		if l.Name == name {
			p.defaultList = name
			return true
		}
	}
	return false
}

// Lists returns the configured list names in scrape order.
func (p *Poller) Lists() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	names := make([]string, 0, len(p.lists))
	for _, l := range p.lists {
		names = append(names, l.Name)
	}
	return names
}

// BeersOnList returns the current snapshot of list without scraping. An
// empty name selects the default list.
func (p *Poller) BeersOnList(list string) []models.Beer {
	return p.store.Read(p.resolve(list))
}

// Snapshot returns the stored snapshot of list and whether one exists.
func (p *Poller) Snapshot(list string) (Snapshot, bool) {
	return p.store.Snapshot(p.resolve(list))
}

func (p *Poller) resolve(list string) string {
	if list != "" {
		return list
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.defaultList
}

// Running reports whether the background loop is active.
func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Start launches the background loop. Starting a running poller is a no-op.
// The loop also ends when ctx is done.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}

	p.running = true
	p.stop = make(chan struct{})
	go p.loop(ctx, p.stop)
}

// Stop asks the loop to exit. A cycle in progress runs to completion.
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return
	}
	close(p.stop)
	p.running = false
}

func (p *Poller) loop(ctx context.Context, stop chan struct{}) {
	slog.Info("menu poller started", slog.Duration("interval", p.interval))
	defer slog.Info("menu poller stopped")

	for {
		select {
		case <-stop:
			return
		default:
		}

		p.RunCycle(ctx)

		timer := time.NewTimer(p.interval)
		select {
		case <-stop:
			timer.Stop()
			return
		case <-ctx.Done():
			timer.Stop()
			p.stopFromContext(stop)
			return
		case <-timer.C:
		}
	}
}

func (p *Poller) stopFromContext(stop chan struct{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running && p.stop == stop {
		close(p.stop)
		p.running = false
	}
}

// RunCycle scrapes every list once. A list that fails keeps its previous
// snapshot and does not stop the remaining lists.
func (p *Poller) RunCycle(ctx context.Context) *models.CycleResult {
	p.cycleMu.Lock()
	defer p.cycleMu.Unlock()

	p.mu.Lock()
	lists := append([]List(nil), p.lists...)
	p.mu.Unlock()

	result := &models.CycleResult{StartTime: time.Now()}
	slog.Info("updating menus", slog.Int("lists", len(lists)))

	for _, l := range lists {
		start := time.Now()
		lr := models.ListResult{Name: l.Name, URL: l.URL}

		batch, err := p.fetch(ctx, l)
		lr.Duration = time.Since(start)
		if err != nil {
			lr.Err = err
			slog.Error("menu update failed, keeping previous snapshot",
				slog.String("list", l.Name),
				slog.Any("error", err),
			)
		} else {
			p.store.replace(l.Name, batch.Beers)
			lr.Items = len(batch.Beers)
			lr.Dropped = batch.Dropped
			slog.Info("menu updated",
				slog.String("list", l.Name),
				slog.Int("beers", lr.Items),
				slog.Int("dropped", lr.Dropped),
				slog.Duration("took", lr.Duration),
			)
		}
		result.Lists = append(result.Lists, lr)
	}

	result.EndTime = time.Now()
	p.metrics.ObserveCycle(result.EndTime.Sub(result.StartTime))
	if failed := result.Failed(); failed > 0 {
		slog.Warn("menu update complete with errors", slog.Int("failed_lists", failed))
	} else {
		slog.Info("menu update complete")
	}
	return result
}

func (p *Poller) fetch(ctx context.Context, l List) (batch *scraper.Batch, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("scrape %s panicked: %v", l.Name, r)
		}
	}()

	batch, err = p.fetcher.FetchAll(ctx, l.URL)
	if err == nil && batch == nil {
		err = fmt.Errorf("scrape %s returned no result", l.Name)
	}
	return batch, err
}
