package alerts

import (
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/missionkpi/missionkpi/pkg/breach"
	"github.com/missionkpi/missionkpi/pkg/kpi"
	"github.com/missionkpi/missionkpi/pkg/synccfg"
	"github.com/missionkpi/missionkpi/server/internal/config"
	"github.com/missionkpi/missionkpi/server/internal/state"
)

// Recorder receives a count for every detected breach.
type Recorder interface {
	BreachDetected(kind breach.Kind)
}

type nopRecorder struct{}

func (nopRecorder) BreachDetected(breach.Kind) {}

// Engine evaluates snapshots against the thresholds held in the state and
// delivers webhook notifications for fresh breaches.
//
// Engine is safe for concurrent use.
type Engine struct {
	state *state.Holder
	rec   Recorder

	mu          sync.Mutex
	cooldown    time.Duration
	fallbackURL string
	limiter     *rate.Limiter
	active      map[string][]breach.Breach // key: dataset
	lastFire    map[string]time.Time       // key: dataset|kind|center

	client  *http.Client
	now     func() time.Time
	newID   func() string
	pending sync.WaitGroup
}

// New creates an Engine reading thresholds from h. rec may be nil.
func New(h *state.Holder, cfg config.AlertsConfig, rec Recorder) *Engine {
	if rec == nil {
		rec = nopRecorder{}
	}
	e := &Engine{
		state:    h,
		rec:      rec,
		active:   make(map[string][]breach.Breach),
		lastFire: make(map[string]time.Time),
		client:   &http.Client{Timeout: 10 * time.Second},
		now:      time.Now,
		newID:    uuid.NewString,
	}
	e.SetConfig(cfg)
	return e
}

// SetConfig applies a reloaded alerts configuration.
func (e *Engine) SetConfig(cfg config.AlertsConfig) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cooldown = cfg.Cooldown
	e.fallbackURL = cfg.WebhookURL()
	burst := int(cfg.WebhookRPS)
	if burst < 1 {
		burst = 1
	}
	if e.limiter == nil {
		e.limiter = rate.NewLimiter(rate.Limit(cfg.WebhookRPS), burst)
		return
	}
	e.limiter.SetLimit(rate.Limit(cfg.WebhookRPS))
	e.limiter.SetBurst(burst)
}

// Evaluate detects breaches of current (compared with previous) and returns
// them. Fresh breaches are appended to the alert log and delivered
// asynchronously.
func (e *Engine) Evaluate(dataset string, current, previous *kpi.Snapshot) []breach.Breach {
	st := e.state.Get()
	found := breach.Detect(current, previous, st.Thresholds)
	for _, b := range found {
		e.rec.BreachDetected(b.Kind)
	}

	now := e.now()
	e.mu.Lock()
	e.active[dataset] = found
	var fresh []synccfg.Alert
	for _, b := range found {
		key := dataset + "|" + string(b.Kind) + "|" + b.Center
		if last, ok := e.lastFire[key]; ok && now.Sub(last) < e.cooldown {
			continue
		}
		e.lastFire[key] = now
		fresh = append(fresh, synccfg.Alert{
			Breach:  b,
			ID:      e.newID(),
			Dataset: dataset,
			Time:    now.UnixMilli(),
		})
	}
	fallback := e.fallbackURL
	e.mu.Unlock()

	if len(fresh) == 0 {
		return found
	}

	updated, err := e.state.Update(func(s synccfg.State) synccfg.State {
		return s.WithAlerts(fresh)
	})
	if err != nil {
		slog.Error("alerts: persist alert log failed", "dataset", dataset, "err", err)
		updated = st
	}
	for _, a := range fresh {
		slog.Warn("alert fired",
			"dataset", dataset,
			"kind", a.Kind,
			"center", a.Center,
			"value", a.Value,
			"threshold", a.Threshold,
		)
	}

	url := updated.WebhookURL
	if url == "" {
		url = fallback
	}
	if url != "" {
		e.pending.Add(1)
		go func() {
			defer e.pending.Done()
			e.deliver(url, dataset, fresh)
		}()
	}
	return found
}

// Active returns the breaches from the dataset's last evaluation.
func (e *Engine) Active(dataset string) []breach.Breach {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]breach.Breach, len(e.active[dataset]))
	copy(out, e.active[dataset])
	return out
}

// Forget drops the active breaches and cooldown timers of a dataset that
// left the store.
func (e *Engine) Forget(dataset string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.active, dataset)
	prefix := dataset + "|"
	for key := range e.lastFire {
		if strings.HasPrefix(key, prefix) {
			delete(e.lastFire, key)
		}
	}
}

// Thresholds returns the limits the next evaluation will use.
func (e *Engine) Thresholds() breach.Thresholds {
	return e.state.Get().Thresholds
}

// Log returns the persisted alert log, newest first.
func (e *Engine) Log() []synccfg.Alert {
	return e.state.Get().AlertLog
}

// Wait blocks until in-flight webhook deliveries finish.
func (e *Engine) Wait() {
	e.pending.Wait()
}
