package synccfg

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/missionkpi/missionkpi/pkg/breach"
)

// MaxAlertLog caps State.AlertLog.
const MaxAlertLog = 100

// Alert is one fired breach as kept in the alert log.
type Alert struct {
	breach.Breach
	ID      string `json:"id"`
	Dataset string `json:"dataset"`
	// Time is Unix milliseconds.
	Time int64 `json:"time"`
}

// State is the persisted sync configuration.
type State struct {
	SheetURL        string            `json:"gsUrl"`
	WebhookURL      string            `json:"webhookUrl"`
	AlertEmail      string            `json:"alertEmail"`
	IntervalMinutes int               `json:"intervalMin"`
	Thresholds      breach.Thresholds `json:"thresholds"`
	AlertLog        []Alert           `json:"alertLog"`
	AlertsToday     int               `json:"alertsToday"`
}

// Clone returns a copy of s that shares no slice storage with it.
func (s State) Clone() State {
	if s.AlertLog != nil {
		s.AlertLog = append([]Alert(nil), s.AlertLog...)
	}
	return s
}

// WithAlerts returns a copy of s with alerts prepended, newest first, the log
// capped at MaxAlertLog and AlertsToday increased by len(alerts).
// alerts is expected oldest first.
func (s State) WithAlerts(alerts []Alert) State {
	out := s.Clone()
	if len(alerts) == 0 {
		return out
	}
	log := make([]Alert, 0, len(alerts)+len(s.AlertLog))
	for i := len(alerts) - 1; i >= 0; i-- {
		log = append(log, alerts[i])
	}
	log = append(log, s.AlertLog...)
	if len(log) > MaxAlertLog {
		log = log[:MaxAlertLog]
	}
	out.AlertLog = log
	out.AlertsToday += len(alerts)
	return out
}

// Serialize encodes s. The alert log keeps its order and is cut to the first
// MaxAlertLog entries; a nil log encodes as [].
func Serialize(s State) (string, error) {
	out := s
	switch {
	case s.AlertLog == nil:
		out.AlertLog = []Alert{}
	case len(s.AlertLog) > MaxAlertLog:
		out.AlertLog = s.AlertLog[:MaxAlertLog]
	}
	b, err := json.Marshal(out)
	if err != nil {
		return "", fmt.Errorf("synccfg: marshal: %w", err)
	}
	return string(b), nil
}

// Deserialize merges raw over a copy of base. base is never modified.
// Fields are decoded one by one: a field that is null or has the wrong type
// is skipped and the rest still apply. Input that is not a JSON object
// yields base unchanged.
func Deserialize(raw string, base State) State {
	out := base.Clone()
	if strings.TrimSpace(raw) == "" {
		return out
	}
	var p map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &p); err != nil || p == nil {
		return out
	}

	field(p, "gsUrl", &out.SheetURL)
	field(p, "webhookUrl", &out.WebhookURL)
	field(p, "alertEmail", &out.AlertEmail)
	field(p, "intervalMin", &out.IntervalMinutes)
	field(p, "alertsToday", &out.AlertsToday)

	var th map[string]json.RawMessage
	if field(p, "thresholds", &th) {
		field(th, "resp", &out.Thresholds.ResponseLimit)
		field(th, "late", &out.Thresholds.LateRateLimit)
		field(th, "missionsMax", &out.Thresholds.DailyMissionLimit)
	}

	var log []Alert
	if field(p, "alertLog", &log) {
		out.AlertLog = append([]Alert{}, log...)
	}
	return out
}

// field decodes m[key] into dst and reports whether it did. dst is left
// untouched when the key is missing, null or of the wrong type.
func field[T any](m map[string]json.RawMessage, key string, dst *T) bool {
	raw, ok := m[key]
	if !ok || string(raw) == "null" {
		return false
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return false
	}
	*dst = v
	return true
}
