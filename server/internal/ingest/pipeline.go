package ingest

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/missionkpi/missionkpi/pkg/breach"
	"github.com/missionkpi/missionkpi/pkg/kpi"
	"github.com/missionkpi/missionkpi/pkg/tabular"
	"github.com/missionkpi/missionkpi/server/internal/alerts"
	"github.com/missionkpi/missionkpi/server/internal/metrics"
	"github.com/missionkpi/missionkpi/server/internal/store"
)

// ErrNoRecords is returned when the text holds a header but no data rows, or
// nothing at all.
var ErrNoRecords = errors.New("ingest: no records")

// Result is the outcome of one successful ingest.
type Result struct {
	Dataset  string          `json:"dataset"`
	Snapshot *kpi.Snapshot   `json:"snapshot"`
	Breaches []breach.Breach `json:"breaches"`
}

// Pipeline is safe for concurrent use.
type Pipeline struct {
	store   *store.Store
	alerts  *alerts.Engine
	metrics *metrics.Metrics

	mu        sync.RWMutex
	mode      tabular.Mode
	listeners []func(*Result)

	now func() time.Time
}

// New creates a Pipeline parsing uploads in the given mode.
func New(mode tabular.Mode, st *store.Store, al *alerts.Engine, m *metrics.Metrics) *Pipeline {
	return &Pipeline{store: st, alerts: al, metrics: m, mode: mode, now: time.Now}
}

// SetMode switches the parser used for subsequent uploads.
func (p *Pipeline) SetMode(mode tabular.Mode) {
	p.mu.Lock()
	p.mode = mode
	p.mu.Unlock()
}

// OnIngest registers fn to run after every successful ingest.
func (p *Pipeline) OnIngest(fn func(*Result)) {
	p.mu.Lock()
	p.listeners = append(p.listeners, fn)
	p.mu.Unlock()
}

// Ingest aggregates text into a new snapshot for dataset, stores it and
// evaluates it against the previous snapshot of the same dataset.
func (p *Pipeline) Ingest(dataset, text string) (*Result, error) {
	start := p.now()
	p.mu.RLock()
	mode, listeners := p.mode, p.listeners
	p.mu.RUnlock()

	recs, err := tabular.ParseMode(mode, text)
	if err != nil {
		p.metrics.IngestDone(metrics.ResultParseErr, 0, p.now().Sub(start))
		return nil, fmt.Errorf("ingest %q: %w", dataset, err)
	}

	snap := kpi.AggregateAt(recs, start)
	if snap == nil {
		p.metrics.IngestDone(metrics.ResultEmpty, 0, p.now().Sub(start))
		return nil, ErrNoRecords
	}

	prev := p.store.Put(dataset, snap)
	p.metrics.SnapshotStored(dataset, snap)
	found := p.alerts.Evaluate(dataset, snap, prev)
	if found == nil {
		found = []breach.Breach{}
	}

	took := p.now().Sub(start)
	p.metrics.IngestDone(metrics.ResultOK, snap.N, took)
	slog.Info("ingest: snapshot stored",
		"dataset", dataset,
		"mode", mode,
		"missions", snap.N,
		"breaches", len(found),
		"took", took,
	)
	res := &Result{Dataset: dataset, Snapshot: snap, Breaches: found}
	for _, fn := range listeners {
		fn(res)
	}
	return res, nil
}
