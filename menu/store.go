// Package menu keeps the latest scraped snapshot of every configured list and
// refreshes it in the background.
package menu

import (
	"sort"
	"sync"
	"time"

	"github.com/aluiziolira/go-tap-menu/metrics"
	"github.com/aluiziolira/go-tap-menu/models"
)

// Snapshot is the complete result of the last successful scrape of a list.
type Snapshot struct {
	Beers     []models.Beer
	UpdatedAt time.Time
}

// Store holds one snapshot per list. Snapshots are never mutated after they
// are stored; a replace swaps the whole value under the lock.
type Store struct {
	mu        sync.RWMutex
	snapshots map[string]*Snapshot
	metrics   *metrics.Metrics
}

// NewStore returns an empty store.
func NewStore(m *metrics.Metrics) *Store {
	return &Store{
		snapshots: make(map[string]*Snapshot),
		metrics:   m,
	}
}

// replace installs beers as the snapshot for list. The copy happens before the
// lock is taken.
func (s *Store) replace(list string, beers []models.Beer) {
	snap := &Snapshot{
		Beers:     append(make([]models.Beer, 0, len(beers)), beers...),
		UpdatedAt: time.Now(),
	}

	s.mu.Lock()
	s.snapshots[list] = snap
	s.mu.Unlock()

	s.metrics.SetSnapshotSize(list, len(snap.Beers))
}

// Read returns a copy of the beers on list, or an empty slice if the list
// was never populated.
func (s *Store) Read(list string) []models.Beer {
	s.mu.RLock()
	snap := s.snapshots[list]
	s.mu.RUnlock()

	if snap == nil {
		return []models.Beer{}
	}
	return append(make([]models.Beer, 0, len(snap.Beers)), snap.Beers...)
}

// Snapshot returns a copy of the stored snapshot for list.
func (s *Store) Snapshot(list string) (Snapshot, bool) {
	s.mu.RLock()
	snap := s.snapshots[list]
	s.mu.RUnlock()

	if snap == nil {
		return Snapshot{Beers: []models.Beer{}}, false
	}
	return Snapshot{
		Beers:     append(make([]models.Beer, 0, len(snap.Beers)), snap.Beers...),
		UpdatedAt: snap.UpdatedAt,
	}, true
}

// Names returns the lists that have a snapshot, sorted.
func (s *Store) Names() []string {
	s.mu.RLock()
	names := make([]string, 0, len(s.snapshots))
	for name := range s.snapshots {
		names = append(names, name)
	}
	s.mu.RUnlock()

	sort.Strings(names)
	return names
}
