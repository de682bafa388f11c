package api

import (
	"fmt"
	"sort"

	"github.com/missionkpi/missionkpi/pkg/breach"
	"github.com/missionkpi/missionkpi/pkg/kpi"
)

// Hint levels, most severe first.
const (
	LevelCritical = "critical"
	LevelWarning  = "warning"
	LevelInfo     = "info"
	LevelOK       = "ok"
)

// hospitalShareWarn is the leaderboard share above which one destination
// hospital is called out.
const hospitalShareWarn = 40.0

// dispatchShareWarn is the fraction of total response time spent in dispatch
// above which dispatch is called out.
const dispatchShareWarn = 0.3

// DiagnosticHint is one human-readable insight about a dataset's latest
// snapshot. The dashboard renders these as chips; Detail is the longer
// explanation shown on click.
type DiagnosticHint struct {
	// Key is a stable machine-readable identifier.
	Key string `json:"key"`
	// Level is "ok" | "info" | "warning" | "critical"
	Level string `json:"level"`
	// Title is a short chip label.
	Title string `json:"title"`
	// Detail is the full explanation.
	Detail string `json:"detail"`
	// Value is the number the hint is about, if any.
	Value *float64 `json:"value,omitempty"`
}

// computeDiagnostics derives hints from a snapshot and the active thresholds.
// Hints are ordered critical first, then warnings, then info.
func computeDiagnostics(snap *kpi.Snapshot, th breach.Thresholds) []DiagnosticHint {
	if snap == nil {
		return []DiagnosticHint{}
	}
	var hints []DiagnosticHint

	// ── Late rate ────────────────────────────────────────────────────────────
	if snap.LateRate > 0 && th.LateRateLimit > 0 {
		v := snap.LateRate
		switch {
		case v > th.LateRateLimit:
			hints = append(hints, DiagnosticHint{
				Key:   "late_rate",
				Level: LevelCritical,
				Title: fmt.Sprintf("%.1f%% late", v),
				Detail: fmt.Sprintf(
					"%d of %d missions (%.1f%%) were marked late, above the %.1f%% limit. "+
						"Look at the center breakdown first: a single slow center usually "+
						"drives the overall number.",
					snap.Late, snap.N, v, th.LateRateLimit,
				),
				Value: &v,
			})
		case v > th.LateRateLimit*0.8:
			hints = append(hints, DiagnosticHint{
				Key:   "late_rate",
				Level: LevelWarning,
				Title: "Late rate near limit",
				Detail: fmt.Sprintf(
					"The late rate is %.1f%%, within 20%% of the %.1f%% limit. "+
						"One more bad shift will push it over.",
					v, th.LateRateLimit,
				),
				Value: &v,
			})
		}
	}

	// ── Response time ────────────────────────────────────────────────────────
	if th.ResponseLimit > 0 && snap.AvgResponse > th.ResponseLimit*0.9 {
		v := snap.AvgResponse
		level, title := LevelWarning, "Response near limit"
		if v > th.ResponseLimit {
			level, title = LevelCritical, fmt.Sprintf("%.1f min response", v)
		}
		hints = append(hints, DiagnosticHint{
			Key:   "response_time",
			Level: level,
			Title: title,
			Detail: fmt.Sprintf(
				"Average total response time is %.1f minutes against a %.1f minute limit. "+
					"Of that, %.1f minutes is dispatch and %.1f minutes is travel.",
				v, th.ResponseLimit, snap.AvgDispatch, snap.AvgTravel,
			),
			Value: &v,
		})
	}

	// ── Dispatch share ───────────────────────────────────────────────────────
	if snap.AvgResponse > 0 && snap.AvgDispatch/snap.AvgResponse > dispatchShareWarn {
		v := snap.AvgDispatch
		hints = append(hints, DiagnosticHint{
			Key:   "dispatch_share",
			Level: LevelInfo,
			Title: "Slow dispatch",
			Detail: fmt.Sprintf(
				"Dispatch takes %.1f of the %.1f response minutes, more than %.0f%% of the total. "+
					"Crews are waiting on assignment rather than on the road.",
				v, snap.AvgResponse, dispatchShareWarn*100,
			),
			Value: &v,
		})
	}

	// ── Daily volume ─────────────────────────────────────────────────────────
	if th.DailyMissionLimit > 0 && snap.DailyMissionRate() > th.DailyMissionLimit {
		v := snap.DailyMissionRate()
		hints = append(hints, DiagnosticHint{
			Key:   "daily_missions",
			Level: LevelWarning,
			Title: "High mission volume",
			Detail: fmt.Sprintf(
				"The fleet is averaging %.1f missions a day, above the planned capacity of %.0f.",
				v, th.DailyMissionLimit,
			),
			Value: &v,
		})
	}

	// ── Centers over the limit ───────────────────────────────────────────────
	for _, c := range snap.Centers {
		if c.LateRate <= th.LateRateLimit+breach.CenterMargin {
			continue
		}
		v := c.LateRate
		hints = append(hints, DiagnosticHint{
			Key:   "center_late:" + c.ID,
			Level: LevelWarning,
			Title: fmt.Sprintf("Center %s running late", c.ID),
			Detail: fmt.Sprintf(
				"Center %s handled %d missions with %.1f%% late and an average response of %.1f minutes.",
				c.ID, c.Missions, c.LateRate, c.AvgResponse,
			),
			Value: &v,
		})
	}

	// ── Hospital concentration ───────────────────────────────────────────────
	if len(snap.TopHospitals) > 1 && snap.TopHospitals[0].Pct >= hospitalShareWarn {
		top := snap.TopHospitals[0]
		v := top.Pct
		hints = append(hints, DiagnosticHint{
			Key:   "hospital_concentration",
			Level: LevelInfo,
			Title: "One hospital dominates",
			Detail: fmt.Sprintf(
				"%.1f%% of ranked transports go to %s. A diversion there will hit most of the load.",
				top.Pct, top.Hospital,
			),
			Value: &v,
		})
	}

	// ── Life-saving share ────────────────────────────────────────────────────
	if snap.LifeSaving > 0 {
		v := snap.LifeSavingPct
		hints = append(hints, DiagnosticHint{
			Key:    "life_saving",
			Level:  LevelInfo,
			Title:  fmt.Sprintf("%d life-saving", snap.LifeSaving),
			Detail: fmt.Sprintf("%d missions (%.1f%%) were recorded as life-saving.", snap.LifeSaving, v),
			Value:  &v,
		})
	}

	// ── All clear ────────────────────────────────────────────────────────────
	if !hasProblem(hints) {
		v := snap.GoodRate
		hints = append(hints, DiagnosticHint{
			Key:   "healthy",
			Level: LevelOK,
			Title: "All clear",
			Detail: fmt.Sprintf(
				"%d missions, all KPIs inside their limits. %.1f%% of missions were rated good.",
				snap.N, v,
			),
			Value: &v,
		})
	}

	sort.SliceStable(hints, func(i, j int) bool {
		return levelRank(hints[i].Level) < levelRank(hints[j].Level)
	})
	return hints
}

func hasProblem(hints []DiagnosticHint) bool {
	for _, h := range hints {
		if h.Level == LevelCritical || h.Level == LevelWarning {
			return true
		}
	}
	return false
}

func levelRank(level string) int {
	switch level {
	case LevelCritical:
		return 0
	case LevelWarning:
		return 1
	case LevelInfo:
		return 2
	default:
		return 3
	}
}
