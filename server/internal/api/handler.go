package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"github.com/missionkpi/missionkpi/pkg/forecast"
	"github.com/missionkpi/missionkpi/pkg/kpi"
	"github.com/missionkpi/missionkpi/pkg/synccfg"
	"github.com/missionkpi/missionkpi/server/internal/alerts"
	"github.com/missionkpi/missionkpi/server/internal/config"
	"github.com/missionkpi/missionkpi/server/internal/ingest"
	"github.com/missionkpi/missionkpi/server/internal/metrics"
	"github.com/missionkpi/missionkpi/server/internal/state"
	"github.com/missionkpi/missionkpi/server/internal/store"
)

// maxDaysAhead bounds the forecast horizon accepted from a request.
const maxDaysAhead = 365

// Options wires a Handler to the rest of the server.
type Options struct {
	Store    *store.Store
	State    *state.Holder
	Alerts   *alerts.Engine
	Pipeline *ingest.Pipeline
	Forecast config.ForecastConfig

	// MaxBodyBytes caps uploads and config updates. Zero means
	// config.DefaultMaxBodyBytes.
	MaxBodyBytes int64

	// Auth wraps every route except health. nil disables authentication.
	Auth func(http.Handler) http.Handler
}

// Handler is the HTTP handler for all /api/v1/* endpoints.
type Handler struct {
	store   *store.Store
	state   *state.Holder
	alerts  *alerts.Engine
	pipe    *ingest.Pipeline
	maxBody int64
	router  *mux.Router

	mu       sync.RWMutex
	factors  forecast.DayFactors
	fcMetric string

	now func() time.Time
}

// New creates a Handler from o and registers all routes.
func New(o Options) *Handler {
	h := &Handler{
		store:   o.Store,
		state:   o.State,
		alerts:  o.Alerts,
		pipe:    o.Pipeline,
		maxBody: o.MaxBodyBytes,
		router:  mux.NewRouter(),
		now:     time.Now,
	}
	if h.maxBody <= 0 {
		h.maxBody = config.DefaultMaxBodyBytes
	}
	h.SetForecast(o.Forecast)

	h.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		jsonErr(w, http.StatusNotFound, "not found")
	})

	// Each path is registered once and checks its own method.
	protect := o.Auth
	if protect == nil {
		protect = func(next http.Handler) http.Handler { return next }
	}
	route := func(path string, fn http.HandlerFunc) {
		h.router.Handle("/api/v1"+path, protect(fn))
	}

	h.router.HandleFunc("/api/v1/health", allow(http.MethodGet, h.health))

	route("/datasets", allow(http.MethodGet, h.listDatasets))
	route("/datasets/{id}", allow(http.MethodGet, h.getDataset))
	route("/datasets/{id}/records", allow(http.MethodPost, h.ingest))
	route("/datasets/{id}/snapshot", allow(http.MethodGet, h.snapshot))
	route("/datasets/{id}/breaches", allow(http.MethodGet, h.breaches))
	route("/datasets/{id}/history", allow(http.MethodGet, h.history))
	route("/datasets/{id}/forecast", allow(http.MethodGet, h.forecast))
	route("/datasets/{id}/metrics", allow(http.MethodGet, h.exposition))
	route("/config", h.configRoute)
	route("/alerts", allow(http.MethodGet, h.alertLog))

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

// SetForecast applies a reloaded forecast configuration.
func (h *Handler) SetForecast(cfg config.ForecastConfig) {
	metric := cfg.Metric
	if metric == "" {
		metric = config.DefaultForecastMetric
	}
	h.mu.Lock()
	h.factors = cfg.Factors()
	h.fcMetric = metric
	h.mu.Unlock()
}

// --- route handlers ---------------------------------------------------------

// allow rejects every method but method with a JSON 405.
func allow(method string, fn http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			w.Header().Set("Allow", method)
			jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		fn(w, r)
	}
}

// configRoute serves GET and PUT /api/v1/config.
func (h *Handler) configRoute(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.getConfig(w, r)
	case http.MethodPut:
		h.putConfig(w, r)
	default:
		w.Header().Set("Allow", "GET, PUT")
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// health returns GET /api/v1/health.
func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	st := h.state.Get()
	jsonResp(w, http.StatusOK, HealthResponse{
		Status:       "ok",
		DatasetCount: len(h.store.List()),
		AlertsToday:  st.AlertsToday,
		AlertCount:   len(st.AlertLog),
	})
}

// listDatasets returns GET /api/v1/datasets: all live datasets.
func (h *Handler) listDatasets(w http.ResponseWriter, _ *http.Request) {
	jsonResp(w, http.StatusOK, buildDatasets(h.store, h.alerts))
}

// getDataset returns GET /api/v1/datasets/{id}.
func (h *Handler) getDataset(w http.ResponseWriter, r *http.Request) {
	e, ok := h.liveEntry(w, r)
	if !ok {
		return
	}
	jsonResp(w, http.StatusOK, toDatasetResponse(e, h.alerts))
}

// ingest handles POST /api/v1/datasets/{id}/records. The body is delimited
// text with a header row.
func (h *Handler) ingest(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	body, ok := h.readBody(w, r)
	if !ok {
		return
	}

	res, err := h.pipe.Ingest(id, string(body))
	switch {
	case errors.Is(err, ingest.ErrNoRecords):
		jsonErr(w, http.StatusUnprocessableEntity, "no records: need a header row and at least one data row")
		return
	case err != nil:
		slog.Warn("api: ingest rejected", "dataset", id, "err", err)
		jsonErr(w, http.StatusBadRequest, err.Error())
		return
	}
	jsonResp(w, http.StatusCreated, res)
}

// snapshot returns GET /api/v1/datasets/{id}/snapshot: the latest snapshot.
func (h *Handler) snapshot(w http.ResponseWriter, r *http.Request) {
	e, ok := h.liveEntry(w, r)
	if !ok {
		return
	}
	jsonResp(w, http.StatusOK, e.Latest())
}

// breaches returns GET /api/v1/datasets/{id}/breaches: the breaches from the
// dataset's last evaluation.
func (h *Handler) breaches(w http.ResponseWriter, r *http.Request) {
	e, ok := h.liveEntry(w, r)
	if !ok {
		return
	}
	jsonResp(w, http.StatusOK, h.alerts.Active(e.Dataset))
}

// history returns GET /api/v1/datasets/{id}/history?metric=.
func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	e, ok := h.liveEntry(w, r)
	if !ok {
		return
	}
	_, metric := h.forecastSettings()
	if m := r.URL.Query().Get("metric"); m != "" {
		metric = m
	}
	if !validMetric(metric) {
		jsonErr(w, http.StatusBadRequest, "unknown metric "+strconv.Quote(metric))
		return
	}

	points := make([]HistoryPoint, 0, len(e.History))
	for _, s := range e.History {
		v, _ := s.Metric(metric)
		points = append(points, HistoryPoint{Timestamp: s.Timestamp, Value: v})
	}
	jsonResp(w, http.StatusOK, HistoryResponse{Dataset: e.Dataset, Metric: metric, Points: points})
}

// forecast returns GET /api/v1/datasets/{id}/forecast?metric=&day=&ahead=.
// day defaults to the weekday `ahead` days from now; ahead defaults to 1.
func (h *Handler) forecast(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	factors, metric := h.forecastSettings()
	q := r.URL.Query()
	if m := q.Get("metric"); m != "" {
		metric = m
	}
	if !validMetric(metric) {
		jsonErr(w, http.StatusBadRequest, "unknown metric "+strconv.Quote(metric))
		return
	}

	ahead := 1
	if v := q.Get("ahead"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 || n > maxDaysAhead {
			jsonErr(w, http.StatusBadRequest, "ahead must be an integer in [0, 365]")
			return
		}
		ahead = n
	}
	day := h.now().AddDate(0, 0, ahead).Weekday()
	if v := q.Get("day"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			jsonErr(w, http.StatusBadRequest, "day must be an integer in [0, 6]")
			return
		}
		day = time.Weekday(n)
	}

	series, err := h.store.Series(id, metric)
	if err != nil {
		jsonErr(w, http.StatusNotFound, "dataset not found")
		return
	}
	p, err := forecast.Predict(series, factors, day, ahead)
	if err != nil {
		jsonErr(w, http.StatusBadRequest, err.Error())
		return
	}
	jsonResp(w, http.StatusOK, ForecastResponse{
		Dataset:    id,
		Metric:     metric,
		Day:        int(day),
		DaysAhead:  ahead,
		Samples:    len(series),
		Prediction: p,
	})
}

// exposition returns GET /api/v1/datasets/{id}/metrics: the latest snapshot
// in Prometheus text format.
func (h *Handler) exposition(w http.ResponseWriter, r *http.Request) {
	e, ok := h.liveEntry(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", metrics.ContentType)
	w.WriteHeader(http.StatusOK)
	if err := metrics.WriteSnapshot(w, e.Dataset, e.Latest()); err != nil {
		slog.Warn("api: write exposition failed", "dataset", e.Dataset, "err", err)
	}
}

// getConfig returns GET /api/v1/config: the serialized persisted state.
func (h *Handler) getConfig(w http.ResponseWriter, _ *http.Request) {
	writeState(w, h.state.Get())
}

// putConfig handles PUT /api/v1/config. Fields present in the body replace
// the stored ones; absent fields are kept. Fields of the wrong type are
// skipped, so a valid JSON body always gets 200 with the resulting state,
// which may equal the previous one.
func (h *Handler) putConfig(w http.ResponseWriter, r *http.Request) {
	body, ok := h.readBody(w, r)
	if !ok {
		return
	}
	if !json.Valid(body) {
		jsonErr(w, http.StatusBadRequest, "body is not valid JSON")
		return
	}
	st, err := h.state.Merge(string(body))
	if err != nil {
		slog.Error("api: persist state failed", "err", err)
		jsonErr(w, http.StatusInternalServerError, "could not persist state")
		return
	}
	slog.Info("api: state updated", "interval_min", st.IntervalMinutes, "thresholds", st.Thresholds)
	writeState(w, st)
}

// alertLog returns GET /api/v1/alerts: the persisted alert log, newest first.
func (h *Handler) alertLog(w http.ResponseWriter, _ *http.Request) {
	log := h.alerts.Log()
	if log == nil {
		log = []synccfg.Alert{}
	}
	jsonResp(w, http.StatusOK, log)
}

// --- helpers ----------------------------------------------------------------

// BuildSnapshot assembles the full dump of live datasets and the alert log.
// It is shared with the WebSocket hub.
func BuildSnapshot(st *store.Store, al *alerts.Engine) SnapshotResponse {
	log := al.Log()
	if log == nil {
		log = []synccfg.Alert{}
	}
	return SnapshotResponse{
		Datasets:    buildDatasets(st, al),
		Alerts:      log,
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
	}
}

func buildDatasets(st *store.Store, al *alerts.Engine) []DatasetResponse {
	entries := st.List()
	out := make([]DatasetResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, toDatasetResponse(e, al))
	}
	return out
}

// toDatasetResponse maps a store.Entry to its JSON representation.
func toDatasetResponse(e *store.Entry, al *alerts.Engine) DatasetResponse {
	snap := e.Latest()
	return DatasetResponse{
		Dataset:     e.Dataset,
		Snapshot:    snap,
		History:     len(e.History),
		Breaches:    al.Active(e.Dataset),
		Diagnostics: computeDiagnostics(snap, al.Thresholds()),
		LastSeen:    e.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

// liveEntry resolves {id} to a live store entry, writing 404 when there is none.
func (h *Handler) liveEntry(w http.ResponseWriter, r *http.Request) (*store.Entry, bool) {
	e, err := h.store.Lookup(mux.Vars(r)["id"])
	if err != nil {
		jsonErr(w, http.StatusNotFound, "dataset not found")
		return nil, false
	}
	return e, true
}

// readBody reads at most maxBody bytes, writing 413 when the body is larger.
func (h *Handler) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			jsonErr(w, http.StatusRequestEntityTooLarge, "body exceeds "+strconv.FormatInt(h.maxBody, 10)+" bytes")
			return nil, false
		}
		jsonErr(w, http.StatusBadRequest, "read body: "+err.Error())
		return nil, false
	}
	return body, true
}

func (h *Handler) forecastSettings() (forecast.DayFactors, string) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.factors, h.fcMetric
}

func validMetric(name string) bool {
	_, ok := (&kpi.Snapshot{}).Metric(name)
	return ok
}

func writeState(w http.ResponseWriter, st synccfg.State) {
	raw, err := synccfg.Serialize(st)
	if err != nil {
		jsonErr(w, http.StatusInternalServerError, "serialize state: "+err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, raw) //nolint:errcheck
}

func jsonResp(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, errorResponse{Error: msg})
}
