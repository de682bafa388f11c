package ingest

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/missionkpi/missionkpi/pkg/breach"
	"github.com/missionkpi/missionkpi/pkg/synccfg"
	"github.com/missionkpi/missionkpi/pkg/tabular"
	"github.com/missionkpi/missionkpi/server/internal/alerts"
	"github.com/missionkpi/missionkpi/server/internal/config"
	"github.com/missionkpi/missionkpi/server/internal/metrics"
	"github.com/missionkpi/missionkpi/server/internal/state"
	"github.com/missionkpi/missionkpi/server/internal/store"
)

const fixture = `ResponseMin,DispatchMin,TravelMin,DurationMin,Status,Center,Severity,Shift,Month,Hospital
64,12,38,110,late,C1,life-saving,Morning,January,King Faisal
45,10,25,90,good,C1,standard,Evening,January,King Faisal
80,15,45,120,late,C2,standard,Morning,February,National Guard
55,8,30,95,good,C2,life-saving,Night,March,King Faisal
70,12,40,105,late,C1,standard,Morning,April,Prince Sultan
50,9,28,88,good,C3,standard,Evening,May,King Faisal
90,20,50,130,late,C3,life-saving,Night,June,National Guard
42,7,22,80,good,C1,standard,Morning,July,Prince Sultan
75,14,42,115,late,C2,standard,Evening,August,King Faisal
60,11,35,100,good,C3,standard,Night,September,National Guard`

type harness struct {
	p     *Pipeline
	store *store.Store
	state *state.Holder
	al    *alerts.Engine
}

func newHarness(t *testing.T, th breach.Thresholds) *harness {
	t.Helper()
	h, err := state.Open(filepath.Join(t.TempDir(), "state.json"), synccfg.State{IntervalMinutes: 5, Thresholds: th})
	if err != nil {
		t.Fatalf("state.Open: %v", err)
	}
	m := metrics.New()
	st := store.New(time.Hour, 10)
	al := alerts.New(h, config.AlertsConfig{Cooldown: time.Minute, WebhookRPS: 1}, m)
	return &harness{p: New(tabular.ModeLenient, st, al, m), store: st, state: h, al: al}
}

func TestIngest_Fixture(t *testing.T) {
	h := newHarness(t, breach.Thresholds{ResponseLimit: 60, LateRateLimit: 40, DailyMissionLimit: 50})
	res, err := h.p.Ingest("riyadh", fixture)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if res.Snapshot.N != 10 || res.Snapshot.AvgResponse != 63.1 {
		t.Errorf("snapshot: got n=%d avgResp=%v", res.Snapshot.N, res.Snapshot.AvgResponse)
	}

	kinds := map[breach.Kind]int{}
	for _, b := range res.Breaches {
		kinds[b.Kind]++
	}
	if kinds[breach.KindResponse] != 1 || kinds[breach.KindLateRate] != 1 {
		t.Errorf("breaches: got %v, want response and late_rate", kinds)
	}

	latest, err := h.store.Latest("riyadh")
	if err != nil || latest != res.Snapshot {
		t.Errorf("store.Latest: got %p, %v; want the ingested snapshot", latest, err)
	}
	if got := h.state.Get().AlertsToday; got != len(res.Breaches) {
		t.Errorf("AlertsToday: got %d, want %d", got, len(res.Breaches))
	}
}

func TestIngest_PermissiveNoBreaches(t *testing.T) {
	h := newHarness(t, breach.Thresholds{ResponseLimit: 70, LateRateLimit: 10, DailyMissionLimit: 50})
	res, err := h.p.Ingest("ds", "ResponseMin,Status\n30,good\n40,good")
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if res.Breaches == nil || len(res.Breaches) != 0 {
		t.Errorf("Breaches: got %v, want empty non-nil", res.Breaches)
	}
}

func TestIngest_DeltaAgainstPrevious(t *testing.T) {
	h := newHarness(t, breach.Thresholds{ResponseLimit: 50, LateRateLimit: 100, DailyMissionLimit: 100})
	if _, err := h.p.Ingest("ds", "ResponseMin\n55"); err != nil {
		t.Fatalf("first Ingest: %v", err)
	}
	res, err := h.p.Ingest("ds", "ResponseMin\n70")
	if err != nil {
		t.Fatalf("second Ingest: %v", err)
	}
	if len(res.Breaches) != 1 || res.Breaches[0].Delta != 15 {
		t.Errorf("breaches: got %+v, want one with delta 15", res.Breaches)
	}
	hist, _ := h.store.History("ds")
	if len(hist) != 2 {
		t.Errorf("history: got %d, want 2", len(hist))
	}
}

func TestIngest_NoRecords(t *testing.T) {
	h := newHarness(t, breach.Thresholds{})
	for _, text := range []string{"", "ResponseMin,Status", "   \n  "} {
		if _, err := h.p.Ingest("ds", text); !errors.Is(err, ErrNoRecords) {
			t.Errorf("Ingest(%q): got %v, want ErrNoRecords", text, err)
		}
	}
	if h.store.Count() != 0 {
		t.Errorf("store: got %d datasets, want 0", h.store.Count())
	}
}

func TestIngest_StrictMode(t *testing.T) {
	h := newHarness(t, breach.Thresholds{ResponseLimit: 1000, LateRateLimit: 1000, DailyMissionLimit: 1000})
	text := "Hospital,ResponseMin\n\"King Faisal, Riyadh\",40\n"

	res, err := h.p.Ingest("ds", text)
	if err != nil {
		t.Fatalf("lenient Ingest: %v", err)
	}
	if res.Snapshot.TopHospitals[0].Hospital != "King Faisal" {
		t.Errorf("lenient hospital: got %q", res.Snapshot.TopHospitals[0].Hospital)
	}

	h.p.SetMode(tabular.ModeStrict)
	res, err = h.p.Ingest("ds", text)
	if err != nil {
		t.Fatalf("strict Ingest: %v", err)
	}
	if res.Snapshot.TopHospitals[0].Hospital != "King Faisal, Riyadh" {
		t.Errorf("strict hospital: got %q", res.Snapshot.TopHospitals[0].Hospital)
	}
	if res.Snapshot.AvgResponse != 40 {
		t.Errorf("strict AvgResponse: got %v, want 40", res.Snapshot.AvgResponse)
	}

	if _, err := h.p.Ingest("ds", "A,B\n\"open,1\n"); err == nil || errors.Is(err, ErrNoRecords) {
		t.Errorf("malformed strict Ingest: got %v, want parse error", err)
	}
}

func TestIngest_OnIngestListeners(t *testing.T) {
	h := newHarness(t, breach.Thresholds{})
	var got []string
	h.p.OnIngest(func(r *Result) { got = append(got, r.Dataset) })

	if _, err := h.p.Ingest("ds", "ResponseMin\n40"); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if _, err := h.p.Ingest("ds", ""); err == nil {
		t.Fatal("empty Ingest: expected error")
	}
	if len(got) != 1 || got[0] != "ds" {
		t.Errorf("listener calls: got %v, want [ds]", got)
	}
}
