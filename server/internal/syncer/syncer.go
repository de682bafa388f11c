package syncer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/missionkpi/missionkpi/server/internal/config"
	"github.com/missionkpi/missionkpi/server/internal/ingest"
	"github.com/missionkpi/missionkpi/server/internal/state"
)

// ErrNoSheet is returned by SyncOnce when the state has no gsUrl.
var ErrNoSheet = errors.New("syncer: no sheet url configured")

// Ingester is the part of ingest.Pipeline the syncer needs.
type Ingester interface {
	Ingest(dataset, text string) (*ingest.Result, error)
}

// Syncer periodically pulls the remote sheet into one dataset.
type Syncer struct {
	state   *state.Holder
	pipe    Ingester
	dataset string
	timeout time.Duration
	maxBody int64
	client  *http.Client

	// unit scales the state's interval; a minute outside tests.
	unit time.Duration
}

// New creates a Syncer. maxBody caps the downloaded export.
func New(h *state.Holder, p Ingester, cfg config.SyncConfig, maxBody int64) *Syncer {
	return &Syncer{
		state:   h,
		pipe:    p,
		dataset: cfg.Dataset,
		timeout: cfg.Timeout,
		maxBody: maxBody,
		client:  &http.Client{},
		unit:    time.Minute,
	}
}

// Run syncs once immediately and then every intervalMin until ctx is
// cancelled.
func (s *Syncer) Run(ctx context.Context) {
	slog.Info("syncer: started", "dataset", s.dataset)
	for {
		if res, err := s.SyncOnce(ctx); err != nil {
			if errors.Is(err, ErrNoSheet) {
				slog.Debug("syncer: skipped, no sheet url")
			} else {
				slog.Warn("syncer: sync failed", "dataset", s.dataset, "err", err)
			}
		} else {
			slog.Info("syncer: synced",
				"dataset", s.dataset,
				"missions", res.Snapshot.N,
				"breaches", len(res.Breaches),
			)
		}

		t := time.NewTimer(s.interval())
		select {
		case <-ctx.Done():
			t.Stop()
			slog.Info("syncer: stopped", "dataset", s.dataset)
			return
		case <-t.C:
		}
	}
}

// SyncOnce fetches the sheet and ingests it.
func (s *Syncer) SyncOnce(ctx context.Context) (*ingest.Result, error) {
	url := s.state.Get().SheetURL
	if url == "" {
		return nil, ErrNoSheet
	}
	text, err := s.fetch(ctx, url)
	if err != nil {
		return nil, err
	}
	return s.pipe.Ingest(s.dataset, text)
}

func (s *Syncer) interval() time.Duration {
	n := s.state.Get().IntervalMinutes
	if n < 1 {
		n = 1
	}
	return time.Duration(n) * s.unit
}

func (s *Syncer) fetch(ctx context.Context, url string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("syncer: build request: %w", err)
	}
	req.Header.Set("Accept", "text/csv")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("syncer: http get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("syncer: unexpected status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, s.maxBody+1))
	if err != nil {
		return "", fmt.Errorf("syncer: read body: %w", err)
	}
	if int64(len(body)) > s.maxBody {
		return "", fmt.Errorf("syncer: export exceeds %d bytes", s.maxBody)
	}
	return string(body), nil
}
