package breach

import (
	"fmt"
	"math"

	"github.com/missionkpi/missionkpi/pkg/kpi"
)

// CenterMargin is added to the late-rate limit before a single center is
// flagged, in percentage points.
const CenterMargin = 1.5

// SeverityCritical is the only severity the detector emits.
const SeverityCritical = "critical"

// Kind identifies which rule produced a Breach.
type Kind string

const (
	KindResponse       Kind = "response"
	KindLateRate       Kind = "late_rate"
	KindDailyMissions  Kind = "daily_missions"
	KindCenterLateRate Kind = "center_late_rate"
)

// Thresholds are the operator limits. There are no implicit defaults; a zero
// limit means any positive value breaches.
type Thresholds struct {
	ResponseLimit     float64 `json:"resp" yaml:"resp"`
	LateRateLimit     float64 `json:"late" yaml:"late"`
	DailyMissionLimit float64 `json:"missionsMax" yaml:"missions_max"`
}

// Breach is one exceeded limit.
type Breach struct {
	Kind      Kind    `json:"kind"`
	Icon      string  `json:"icon"`
	Label     string  `json:"label"`
	Center    string  `json:"center,omitempty"`
	Value     float64 `json:"val"`
	Threshold float64 `json:"threshold"`
	Delta     float64 `json:"delta"`
	Unit      string  `json:"unit"`
	Severity  string  `json:"severity"`
}

// globalRule is one snapshot-wide check.
type globalRule struct {
	kind  Kind
	icon  string
	label string
	unit  string
	value func(*kpi.Snapshot) float64
	limit func(Thresholds) float64
}

var globalRules = []globalRule{
	{
		kind: KindResponse, icon: "⏱", label: "Total response time", unit: "min",
		value: func(s *kpi.Snapshot) float64 { return s.AvgResponse },
		limit: func(th Thresholds) float64 { return th.ResponseLimit },
	},
	{
		kind: KindLateRate, icon: "📊", label: "Late rate", unit: "%",
		value: func(s *kpi.Snapshot) float64 { return s.LateRate },
		limit: func(th Thresholds) float64 { return th.LateRateLimit },
	},
	{
		kind: KindDailyMissions, icon: "📋", label: "Daily missions", unit: "",
		value: func(s *kpi.Snapshot) float64 { return s.DailyMissionRate() },
		limit: func(th Thresholds) float64 { return th.DailyMissionLimit },
	},
}

// Detect returns the breaches of current against th, global rules first and
// then one entry per offending center in snapshot order. A nil current yields
// nil.
//
// For every global rule the delta is measured against previous.AvgResponse,
// whatever the rule's own metric. Alert consumers already read deltas this
// way, so it stays until the rule owner decides otherwise.
func Detect(current, previous *kpi.Snapshot, th Thresholds) []Breach {
	if current == nil {
		return nil
	}

	var out []Breach
	for _, r := range globalRules {
		val, limit := r.value(current), r.limit(th)
		if !(val > limit) {
			continue
		}
		var delta float64
		if previous != nil {
			delta = round1(val - previous.AvgResponse)
		}
		out = append(out, Breach{
			Kind:      r.kind,
			Icon:      r.icon,
			Label:     r.label,
			Value:     val,
			Threshold: limit,
			Delta:     delta,
			Unit:      r.unit,
			Severity:  SeverityCritical,
		})
	}

	for _, c := range current.Centers {
		if !(c.LateRate > th.LateRateLimit+CenterMargin) {
			continue
		}
		out = append(out, Breach{
			Kind:      KindCenterLateRate,
			Icon:      "🏥",
			Label:     fmt.Sprintf("Center %s late rate", c.ID),
			Center:    c.ID,
			Value:     c.LateRate,
			Threshold: th.LateRateLimit,
			Unit:      "%",
			Severity:  SeverityCritical,
		})
	}
	return out
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
