package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/missionkpi/missionkpi/pkg/kpi"
)

// ErrNotFound is returned when a dataset has no live entry.
var ErrNotFound = errors.New("store: dataset not found")

// Entry is the snapshot history of one dataset, oldest first, together with
// the time of the last upload.
type Entry struct {
	Dataset   string
	History   []*kpi.Snapshot
	UpdatedAt time.Time
}

// Latest returns the newest snapshot.
func (e *Entry) Latest() *kpi.Snapshot {
	if len(e.History) == 0 {
		return nil
	}
	return e.History[len(e.History)-1]
}

// Previous returns the snapshot before Latest, or nil.
func (e *Entry) Previous() *kpi.Snapshot {
	if len(e.History) < 2 {
		return nil
	}
	return e.History[len(e.History)-2]
}

// Store is a thread-safe in-memory snapshot store keyed by dataset ID.
// Each dataset keeps its last `history` snapshots. A background goroutine
// (Run) evicts datasets that have not been updated within the TTL.
type Store struct {
	mu      sync.RWMutex
	data    map[string]*Entry
	ttl     time.Duration
	history int
	onEvict func(dataset string)
	now     func() time.Time // injectable for deterministic tests
}

// New creates a Store with the given TTL and per-dataset history depth.
// A history below 1 is treated as 1.
func New(ttl time.Duration, history int) *Store {
	if history < 1 {
		history = 1
	}
	return &Store{
		data:    make(map[string]*Entry),
		ttl:     ttl,
		history: history,
		now:     time.Now,
	}
}

// OnEvict registers fn to be called, outside the lock, for every dataset
// removed by Evict.
func (s *Store) OnEvict(fn func(dataset string)) {
	s.mu.Lock()
	s.onEvict = fn
	s.mu.Unlock()
}

// TTL returns the configured eviction TTL.
func (s *Store) TTL() time.Duration { return s.ttl }

// Put appends snap to the dataset's history and returns the snapshot that was
// latest before the call, or nil. Callers must not modify snap after Put.
func (s *Store) Put(dataset string, snap *kpi.Snapshot) (previous *kpi.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.data[dataset]
	if !ok {
		e = &Entry{Dataset: dataset}
	}
	previous = e.Latest()

	// Copy on write so entries handed out by Get and List stay immutable.
	start := len(e.History) + 1 - s.history
	if start < 0 {
		start = 0
	}
	kept := e.History[start:]
	hist := make([]*kpi.Snapshot, 0, len(kept)+1)
	hist = append(hist, kept...)
	hist = append(hist, snap)

	s.data[dataset] = &Entry{Dataset: dataset, History: hist, UpdatedAt: s.now()}
	return previous
}

// Get returns the Entry for dataset and whether it was found. The entry may
// be stale if the TTL has elapsed but eviction has not yet run.
func (s *Store) Get(dataset string) (*Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.data[dataset]
	return e, ok
}

// Lookup returns the entry of a live dataset.
func (s *Store) Lookup(dataset string) (*Entry, error) {
	return s.live(dataset)
}

// Latest returns the newest snapshot of a live dataset.
func (s *Store) Latest(dataset string) (*kpi.Snapshot, error) {
	e, err := s.live(dataset)
	if err != nil {
		return nil, err
	}
	return e.Latest(), nil
}

// Previous returns the snapshot before the newest one; nil with no error when
// the dataset has a single snapshot.
func (s *Store) Previous(dataset string) (*kpi.Snapshot, error) {
	e, err := s.live(dataset)
	if err != nil {
		return nil, err
	}
	return e.Previous(), nil
}

// History returns the dataset's snapshots, oldest first.
func (s *Store) History(dataset string) ([]*kpi.Snapshot, error) {
	e, err := s.live(dataset)
	if err != nil {
		return nil, err
	}
	return e.History, nil
}

// Series extracts one metric from the dataset's history, oldest first.
func (s *Store) Series(dataset, metric string) ([]float64, error) {
	hist, err := s.History(dataset)
	if err != nil {
		return nil, err
	}
	out := make([]float64, 0, len(hist))
	for _, snap := range hist {
		v, ok := snap.Metric(metric)
		if !ok {
			return nil, fmt.Errorf("store: unknown metric %q", metric)
		}
		out = append(out, v)
	}
	return out, nil
}

// List returns all entries whose UpdatedAt is within the TTL, ordered by
// dataset ID. Stale entries that have not yet been evicted are excluded.
func (s *Store) List() []*Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cutoff := s.now().Add(-s.ttl)
	out := make([]*Entry, 0, len(s.data))
	for _, e := range s.data {
		if e.UpdatedAt.After(cutoff) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Dataset < out[j].Dataset })
	return out
}

// Count returns the total number of datasets currently held, including stale ones.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

// Evict removes datasets whose UpdatedAt is older than now minus TTL.
// It returns the number of datasets removed.
func (s *Store) Evict(now time.Time) int {
	s.mu.Lock()
	cutoff := now.Add(-s.ttl)
	var removed []string
	for id, e := range s.data {
		if !e.UpdatedAt.After(cutoff) {
			delete(s.data, id)
			removed = append(removed, id)
		}
	}
	fn := s.onEvict
	s.mu.Unlock()

	if fn != nil {
		for _, id := range removed {
			fn(id)
		}
	}
	return len(removed)
}

// Run starts the background TTL eviction loop. It ticks at half the TTL
// (minimum 1 second) and blocks until ctx is cancelled.
func (s *Store) Run(ctx context.Context) {
	interval := s.ttl / 2
	if interval < time.Second {
		interval = time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			if n := s.Evict(now); n > 0 {
				slog.Debug("store: evicted stale datasets", "count", n)
			}
		}
	}
}

func (s *Store) live(dataset string) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.data[dataset]
	if !ok || !e.UpdatedAt.After(s.now().Add(-s.ttl)) {
		return nil, ErrNotFound
	}
	return e, nil
}
