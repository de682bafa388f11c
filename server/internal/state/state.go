package state

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/missionkpi/missionkpi/pkg/synccfg"
)

// Holder is the process-wide owner of the sync state. It is safe for
// concurrent use.
type Holder struct {
	path string

	mu  sync.Mutex
	cur synccfg.State
	day string // YYYY-MM-DD the alertsToday counter belongs to
	now func() time.Time
}

// Open loads the state at path over base. A missing file is not an error.
func Open(path string, base synccfg.State) (*Holder, error) {
	return open(path, base, time.Now)
}

func open(path string, base synccfg.State, now func() time.Time) (*Holder, error) {
	h := &Holder{path: path, cur: base.Clone(), now: now, day: dayOf(now())}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		slog.Info("state: no state file, using defaults", "path", path)
		return h, nil
	case err != nil:
		return nil, fmt.Errorf("state: read %q: %w", path, err)
	}

	h.cur = synccfg.Deserialize(string(data), base)
	if fi, err := os.Stat(path); err == nil {
		h.day = dayOf(fi.ModTime())
	}
	slog.Info("state: loaded", "path", path, "alerts", len(h.cur.AlertLog))
	return h, nil
}

// Get returns a copy of the current state.
func (h *Holder) Get() synccfg.State {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.rollover()
	return h.cur.Clone()
}

// Merge applies a serialized partial state over the current one, persists the
// result and returns it. Malformed input leaves the state unchanged.
func (h *Holder) Merge(raw string) (synccfg.State, error) {
	return h.Update(func(s synccfg.State) synccfg.State {
		return synccfg.Deserialize(raw, s)
	})
}

// Update replaces the state with fn's result and persists it. If the write
// fails the in-memory state is left unchanged.
func (h *Holder) Update(fn func(synccfg.State) synccfg.State) (synccfg.State, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.rollover()

	next := fn(h.cur.Clone())
	if err := h.save(next); err != nil {
		return h.cur.Clone(), err
	}
	h.cur = next
	return next.Clone(), nil
}

// rollover zeroes alertsToday when the calendar day has changed. Callers hold mu.
func (h *Holder) rollover() {
	today := dayOf(h.now())
	if today == h.day {
		return
	}
	h.day = today
	if h.cur.AlertsToday == 0 {
		return
	}
	slog.Info("state: new day, resetting alert counter", "previous", h.cur.AlertsToday)
	h.cur.AlertsToday = 0
}

// save writes s atomically. Callers hold mu.
func (h *Holder) save(s synccfg.State) error {
	raw, err := synccfg.Serialize(s)
	if err != nil {
		return fmt.Errorf("state: %w", err)
	}
	dir := filepath.Dir(h.path)
	tmp, err := os.CreateTemp(dir, ".state-*.json")
	if err != nil {
		return fmt.Errorf("state: create temp: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("state: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("state: close: %w", err)
	}
	if err := os.Rename(tmp.Name(), h.path); err != nil {
		return fmt.Errorf("state: rename: %w", err)
	}
	return nil
}

func dayOf(t time.Time) string {
	return t.Format(time.DateOnly)
}
