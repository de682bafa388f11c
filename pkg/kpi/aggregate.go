package kpi

import (
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/missionkpi/missionkpi/pkg/tabular"
)

// monthIndex maps canonical English month names to 0..11.
var monthIndex = func() map[string]int {
	m := make(map[string]int, MonthsPerYear)
	for i := 0; i < MonthsPerYear; i++ {
		m[time.Month(i+1).String()] = i
	}
	return m
}()

// Aggregate builds a Snapshot stamped with the current time.
// It returns nil when records is empty.
func Aggregate(records []tabular.Record) *Snapshot {
	return AggregateAt(records, time.Now())
}

// AggregateAt is Aggregate with an explicit creation time.
func AggregateAt(records []tabular.Record, now time.Time) *Snapshot {
	if len(records) == 0 {
		return nil
	}

	cols := Resolve(records[0].Keys())
	acc := newAccumulator()
	for _, r := range records {
		acc.add(cols, r)
	}
	return acc.snapshot(now)
}

// centerTotals is the running state for one center.
type centerTotals struct {
	id       string
	missions int
	sumResp  float64
	sumDisp  float64
	late     int
}

// tally counts string keys and remembers first-seen order.
type tally struct {
	order  []string
	counts map[string]int
}

func newTally() *tally {
	return &tally{counts: make(map[string]int)}
}

func (t *tally) inc(key string) {
	if _, ok := t.counts[key]; !ok {
		t.order = append(t.order, key)
	}
	t.counts[key]++
}

// accumulator holds everything gathered during the single pass. It lives for
// one AggregateAt call.
type accumulator struct {
	n        int
	sumResp  float64
	sumDisp  float64
	sumTrav  float64
	sumDur   float64
	late     int
	good     int
	exc      int
	lifeSave int

	centerOrder []*centerTotals
	centers     map[string]*centerTotals
	monthly     [MonthsPerYear]int
	hospitals   *tally
	shifts      *tally
}

func newAccumulator() *accumulator {
	return &accumulator{
		centers:   make(map[string]*centerTotals),
		hospitals: newTally(),
		shifts:    newTally(),
	}
}

func (a *accumulator) add(cols Columns, r tabular.Record) {
	resp := number(r, cols[FieldResponse])
	disp := number(r, cols[FieldDispatch])
	trav := number(r, cols[FieldTravel])
	dur := number(r, cols[FieldDuration])
	status := strings.ToLower(text(r, cols[FieldStatus]))
	severity := strings.ToLower(text(r, cols[FieldSeverity]))
	center := text(r, cols[FieldCenter])
	month := text(r, cols[FieldMonth])
	hospital := text(r, cols[FieldHospital])
	shift := text(r, cols[FieldShift])

	a.n++
	a.sumResp += resp
	a.sumDisp += disp
	a.sumTrav += trav
	a.sumDur += dur

	isLate := strings.Contains(status, "late")
	switch {
	case isLate:
		a.late++
	case strings.Contains(status, "good"):
		a.good++
	default:
		a.exc++
	}
	if strings.Contains(severity, "life") || strings.Contains(severity, "saving") {
		a.lifeSave++
	}

	if center != "" {
		ct, ok := a.centers[center]
		if !ok {
			ct = &centerTotals{id: center}
			a.centers[center] = ct
			a.centerOrder = append(a.centerOrder, ct)
		}
		ct.missions++
		ct.sumResp += resp
		ct.sumDisp += disp
		if isLate {
			ct.late++
		}
	}
	if i, ok := monthIndex[month]; ok {
		a.monthly[i]++
	}
	if hospital != "" {
		a.hospitals.inc(hospital)
	}
	if shift != "" {
		a.shifts.inc(shift)
	}
}

func (a *accumulator) snapshot(now time.Time) *Snapshot {
	n := float64(a.n)
	s := &Snapshot{
		N:           a.n,
		Late:        a.late,
		Good:        a.good,
		Exceptional: a.exc,
		LifeSaving:  a.lifeSave,

		AvgResponse: round1(a.sumResp / n),
		AvgDispatch: round1(a.sumDisp / n),
		AvgTravel:   round1(a.sumTrav / n),
		AvgDuration: round1(a.sumDur / n),

		LateRate:        pct(a.late, a.n),
		GoodRate:        pct(a.good, a.n),
		ExceptionalRate: pct(a.exc, a.n),
		LifeSavingPct:   pct(a.lifeSave, a.n),

		Monthly:   a.monthly,
		Timestamp: now.UnixMilli(),
	}

	s.Centers = make([]CenterSummary, 0, len(a.centerOrder))
	for _, ct := range a.centerOrder {
		m := float64(ct.missions)
		s.Centers = append(s.Centers, CenterSummary{
			ID:          ct.id,
			Missions:    ct.missions,
			AvgResponse: round1(ct.sumResp / m),
			AvgDispatch: round1(ct.sumDisp / m),
			LateRate:    pct(ct.late, ct.missions),
		})
	}
	sort.SliceStable(s.Centers, func(i, j int) bool {
		return s.Centers[i].Missions > s.Centers[j].Missions
	})

	hospitals := make([]HospitalCount, 0, len(a.hospitals.order))
	for _, h := range a.hospitals.order {
		c := a.hospitals.counts[h]
		hospitals = append(hospitals, HospitalCount{Hospital: h, Count: c, Pct: pct(c, a.n)})
	}
	sort.SliceStable(hospitals, func(i, j int) bool {
		return hospitals[i].Count > hospitals[j].Count
	})
	if len(hospitals) > MaxTopHospitals {
		hospitals = hospitals[:MaxTopHospitals]
	}
	s.TopHospitals = hospitals

	s.Shifts = make(map[string]int, len(a.shifts.counts))
	for k, v := range a.shifts.counts {
		s.Shifts[k] = v
	}
	return s
}

// leadingNumber matches the numeric prefix a lenient float parse accepts.
var leadingNumber = regexp.MustCompile(`^[+-]?(\d+\.?\d*|\.\d+)([eE][+-]?\d+)?`)

// number reads a cell as a float. Text after a numeric prefix is ignored
// ("64 min" is 64); a cell with no numeric prefix, or a missing column, is 0.
func number(r tabular.Record, header string) float64 {
	if header == "" {
		return 0
	}
	m := leadingNumber.FindString(strings.TrimSpace(r.Get(header)))
	if m == "" {
		return 0
	}
	v, err := strconv.ParseFloat(m, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

func text(r tabular.Record, header string) string {
	if header == "" {
		return ""
	}
	return r.Get(header)
}

// pct is part/whole as a one-decimal percentage; 0 when whole is 0.
func pct(part, whole int) float64 {
	if whole == 0 {
		return 0
	}
	return round1(float64(part) / float64(whole) * 100)
}

// round1 rounds half away from zero to one decimal.
func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
