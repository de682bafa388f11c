package syncer

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/missionkpi/missionkpi/pkg/kpi"
	"github.com/missionkpi/missionkpi/pkg/synccfg"
	"github.com/missionkpi/missionkpi/pkg/tabular"
	"github.com/missionkpi/missionkpi/server/internal/config"
	"github.com/missionkpi/missionkpi/server/internal/ingest"
	"github.com/missionkpi/missionkpi/server/internal/state"
)

// fakeIngester aggregates without store or alerts.
type fakeIngester struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeIngester) Ingest(dataset, text string) (*ingest.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, dataset)
	f.mu.Unlock()
	snap := kpi.Aggregate(tabular.Parse(text))
	if snap == nil {
		return nil, ingest.ErrNoRecords
	}
	return &ingest.Result{Dataset: dataset, Snapshot: snap}, nil
}

func (f *fakeIngester) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func newSyncer(t *testing.T, sheetURL string, fi *fakeIngester) *Syncer {
	t.Helper()
	h, err := state.Open(filepath.Join(t.TempDir(), "state.json"), synccfg.State{SheetURL: sheetURL, IntervalMinutes: 1})
	if err != nil {
		t.Fatalf("state.Open: %v", err)
	}
	return New(h, fi, config.SyncConfig{Enabled: true, Dataset: "sheet", Timeout: 2 * time.Second}, 1<<20)
}

func csvServer(body string, status int) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/csv")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
}

func TestSyncOnce_Ingests(t *testing.T) {
	srv := csvServer("ResponseMin,Status\n60,late\n40,good\n", http.StatusOK)
	defer srv.Close()

	fi := &fakeIngester{}
	res, err := newSyncer(t, srv.URL, fi).SyncOnce(context.Background())
	if err != nil {
		t.Fatalf("SyncOnce: %v", err)
	}
	if res.Snapshot.N != 2 || res.Snapshot.AvgResponse != 50 {
		t.Errorf("snapshot: got n=%d avgResp=%v", res.Snapshot.N, res.Snapshot.AvgResponse)
	}
	if fi.calls[0] != "sheet" {
		t.Errorf("dataset: got %q, want sheet", fi.calls[0])
	}
}

func TestSyncOnce_NoSheet(t *testing.T) {
	_, err := newSyncer(t, "", &fakeIngester{}).SyncOnce(context.Background())
	if !errors.Is(err, ErrNoSheet) {
		t.Errorf("got %v, want ErrNoSheet", err)
	}
}

func TestSyncOnce_HTTPError(t *testing.T) {
	srv := csvServer("nope", http.StatusForbidden)
	defer srv.Close()

	fi := &fakeIngester{}
	_, err := newSyncer(t, srv.URL, fi).SyncOnce(context.Background())
	if err == nil || !strings.Contains(err.Error(), "403") {
		t.Errorf("got %v, want status 403 error", err)
	}
	if fi.count() != 0 {
		t.Error("ingester called after failed fetch")
	}
}

func TestSyncOnce_BodyTooLarge(t *testing.T) {
	srv := csvServer("ResponseMin\n"+strings.Repeat("1\n", 100), http.StatusOK)
	defer srv.Close()

	s := newSyncer(t, srv.URL, &fakeIngester{})
	s.maxBody = 16
	if _, err := s.SyncOnce(context.Background()); err == nil {
		t.Error("expected size error")
	}
}

func TestSyncOnce_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	s := newSyncer(t, srv.URL, &fakeIngester{})
	s.timeout = 50 * time.Millisecond
	if _, err := s.SyncOnce(context.Background()); err == nil {
		t.Error("expected timeout error")
	}
}

func TestRun_PollsAtInterval(t *testing.T) {
	srv := csvServer("ResponseMin\n60\n", http.StatusOK)
	defer srv.Close()

	fi := &fakeIngester{}
	s := newSyncer(t, srv.URL, fi)
	s.unit = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for fi.count() < 3 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	<-done

	if fi.count() < 3 {
		t.Errorf("ingest calls: got %d, want at least 3", fi.count())
	}
}

func TestRun_KeepsGoingAfterErrors(t *testing.T) {
	var mu sync.Mutex
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		hits++
		n := hits
		mu.Unlock()
		if n == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte("ResponseMin\n60\n"))
	}))
	defer srv.Close()

	fi := &fakeIngester{}
	s := newSyncer(t, srv.URL, fi)
	s.unit = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for fi.count() < 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	if fi.count() < 1 {
		t.Error("syncer stopped after the first failure")
	}
}
