package kpi

import "time"

// MonthsPerYear is the fixed length of Snapshot.Monthly.
const MonthsPerYear = 12

// MaxTopHospitals caps Snapshot.TopHospitals.
const MaxTopHospitals = 5

// DaysPerYear divides the mission count into a daily rate.
const DaysPerYear = 365

// Snapshot is the KPI aggregate of one batch of mission records.
// A Snapshot is never modified after Aggregate returns it.
type Snapshot struct {
	N           int `json:"n"`
	Late        int `json:"late"`
	Good        int `json:"good"`
	Exceptional int `json:"exc"`
	LifeSaving  int `json:"lifeSave"`

	// Averages in minutes, rounded to one decimal.
	AvgResponse float64 `json:"avgResp"`
	AvgDispatch float64 `json:"avgDisp"`
	AvgTravel   float64 `json:"avgTravel"`
	AvgDuration float64 `json:"avgDur"`

	// Rates in percent of N, rounded to one decimal.
	LateRate        float64 `json:"lateRate"`
	GoodRate        float64 `json:"goodRate"`
	ExceptionalRate float64 `json:"excRate"`
	LifeSavingPct   float64 `json:"lifeSavePct"`

	// Centers is sorted by Missions, descending; ties keep encounter order.
	Centers []CenterSummary `json:"centers"`

	// Monthly counts missions per calendar month, January at index 0.
	// Rows with an unrecognised month are counted in N but not here.
	Monthly [MonthsPerYear]int `json:"monthlyArr"`

	// TopHospitals holds at most MaxTopHospitals entries, busiest first.
	TopHospitals []HospitalCount `json:"topHospitals"`

	// Shifts counts missions per shift name; rows without a shift are skipped.
	Shifts map[string]int `json:"shiftMap"`

	// Timestamp is the creation time in Unix milliseconds.
	Timestamp int64 `json:"ts"`
}

// CenterSummary is the per-center breakdown inside a Snapshot.
type CenterSummary struct {
	ID          string  `json:"id"`
	Missions    int     `json:"missions"`
	AvgResponse float64 `json:"resp"`
	AvgDispatch float64 `json:"disp"`
	LateRate    float64 `json:"late"`
}

// HospitalCount is one entry of the hospital leaderboard.
type HospitalCount struct {
	Hospital string  `json:"hospital"`
	Count    int     `json:"count"`
	Pct      float64 `json:"pct"`
}

// CreatedAt returns Timestamp as a time.Time.
func (s *Snapshot) CreatedAt() time.Time {
	return time.UnixMilli(s.Timestamp)
}

// DailyMissionRate is N spread over a year. It is not rounded.
func (s *Snapshot) DailyMissionRate() float64 {
	return float64(s.N) / DaysPerYear
}

// MonthlyTotal sums Monthly. It never exceeds N.
func (s *Snapshot) MonthlyTotal() int {
	var total int
	for _, c := range s.Monthly {
		total += c
	}
	return total
}

// Metric names accepted by Snapshot.Metric.
const (
	MetricMissions      = "n"
	MetricAvgResponse   = "avgResp"
	MetricAvgDispatch   = "avgDisp"
	MetricAvgTravel     = "avgTravel"
	MetricAvgDuration   = "avgDur"
	MetricLateRate      = "lateRate"
	MetricGoodRate      = "goodRate"
	MetricExcRate       = "excRate"
	MetricLifeSavePct   = "lifeSavePct"
	MetricDailyMissions = "dailyMissions"
)

// Metric returns the named scalar KPI, used to build forecast series from a
// snapshot history. ok is false for an unknown name.
func (s *Snapshot) Metric(name string) (v float64, ok bool) {
	switch name {
	case MetricMissions:
		return float64(s.N), true
	case MetricAvgResponse:
		return s.AvgResponse, true
	case MetricAvgDispatch:
		return s.AvgDispatch, true
	case MetricAvgTravel:
		return s.AvgTravel, true
	case MetricAvgDuration:
		return s.AvgDuration, true
	case MetricLateRate:
		return s.LateRate, true
	case MetricGoodRate:
		return s.GoodRate, true
	case MetricExcRate:
		return s.ExceptionalRate, true
	case MetricLifeSavePct:
		return s.LifeSavingPct, true
	case MetricDailyMissions:
		return s.DailyMissionRate(), true
	default:
		return 0, false
	}
}
