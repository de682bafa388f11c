package kpi

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/missionkpi/missionkpi/pkg/tabular"
)

// baseTime keeps snapshot timestamps deterministic.
var baseTime = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// sampleCSV spans 3 centers and 3 hospitals with mixed statuses.
var sampleCSV = strings.Join([]string{
	"ResponseMin,DispatchMin,TravelMin,DurationMin,Status,Center,Severity,Shift,Month,Hospital",
	"64,12,38,110,late,C1,life-saving,Morning,January,King Faisal",
	"45,10,25,90,good,C1,standard,Evening,January,King Faisal",
	"80,15,45,120,late,C2,standard,Morning,February,National Guard",
	"55,8,30,95,good,C2,life-saving,Night,March,King Faisal",
	"70,12,40,105,late,C1,standard,Morning,April,Prince Sultan",
	"50,9,28,88,good,C3,standard,Evening,May,King Faisal",
	"90,20,50,130,late,C3,life-saving,Night,June,National Guard",
	"42,7,22,80,good,C1,standard,Morning,July,Prince Sultan",
	"75,14,42,115,late,C2,standard,Evening,August,King Faisal",
	"60,11,35,100,good,C3,standard,Night,September,National Guard",
}, "\n")

// row builds a record with realistic defaults; kv overrides or adds columns.
func row(kv ...string) tabular.Record {
	base := []string{
		"ResponseMin", "64",
		"DispatchMin", "12",
		"TravelMin", "38",
		"DurationMin", "110",
		"Status", "good",
		"Center", "C1",
		"Severity", "standard",
		"Shift", "Morning",
		"Month", "January",
		"Hospital", "King Faisal",
	}
	for i := 0; i+1 < len(kv); i += 2 {
		found := false
		for j := 0; j < len(base); j += 2 {
			if base[j] == kv[i] {
				base[j+1] = kv[i+1]
				found = true
			}
		}
		if !found {
			base = append(base, kv[i], kv[i+1])
		}
	}
	return tabular.RecordOf(base...)
}

func rows(n int, kv ...string) []tabular.Record {
	out := make([]tabular.Record, n)
	for i := range out {
		out[i] = row(kv...)
	}
	return out
}

func aggregate(t *testing.T, recs []tabular.Record) *Snapshot {
	t.Helper()
	s := AggregateAt(recs, baseTime)
	if s == nil {
		t.Fatal("AggregateAt returned nil for non-empty input")
	}
	return s
}

// --- nil sentinel -----------------------------------------------------------

func TestAggregate_EmptyIsNil(t *testing.T) {
	if s := Aggregate(nil); s != nil {
		t.Errorf("Aggregate(nil): got %+v, want nil", s)
	}
	if s := Aggregate([]tabular.Record{}); s != nil {
		t.Errorf("Aggregate([]): got %+v, want nil", s)
	}
}

func TestAggregate_Timestamp(t *testing.T) {
	s := aggregate(t, rows(1))
	if s.Timestamp != baseTime.UnixMilli() {
		t.Errorf("Timestamp: got %d, want %d", s.Timestamp, baseTime.UnixMilli())
	}
	if !s.CreatedAt().Equal(baseTime) {
		t.Errorf("CreatedAt: got %v, want %v", s.CreatedAt(), baseTime)
	}

	before := time.Now().UnixMilli()
	live := Aggregate(rows(1))
	if live.Timestamp < before {
		t.Errorf("Aggregate timestamp %d is older than call start %d", live.Timestamp, before)
	}
}

// --- counts and rates -------------------------------------------------------

func TestAggregate_StatusPrecedence(t *testing.T) {
	s := aggregate(t, []tabular.Record{
		row("Status", "late"),
		row("Status", "Late but good"),
		row("Status", "GOOD"),
		row("Status", "excellent"),
		row("Status", ""),
	})
	if s.Late != 2 || s.Good != 1 || s.Exceptional != 2 {
		t.Errorf("late/good/exc: got %d/%d/%d, want 2/1/2", s.Late, s.Good, s.Exceptional)
	}
	if s.Late+s.Good+s.Exceptional != s.N {
		t.Errorf("status counts do not sum to N=%d", s.N)
	}
}

func TestAggregate_RatesAllLate(t *testing.T) {
	s := aggregate(t, rows(3, "Status", "late"))
	if s.LateRate != 100 {
		t.Errorf("LateRate: got %v, want 100", s.LateRate)
	}
	if s.GoodRate != 0 {
		t.Errorf("GoodRate: got %v, want 0", s.GoodRate)
	}
}

func TestAggregate_RatesRounded(t *testing.T) {
	s := aggregate(t, []tabular.Record{row("Status", "late"), row(), row()})
	if s.LateRate != 33.3 {
		t.Errorf("LateRate: got %v, want 33.3", s.LateRate)
	}
	if s.GoodRate != 66.7 {
		t.Errorf("GoodRate: got %v, want 66.7", s.GoodRate)
	}
}

func TestAggregate_Averages(t *testing.T) {
	s := aggregate(t, []tabular.Record{
		row("ResponseMin", "60", "DispatchMin", "10", "TravelMin", "30", "DurationMin", "100"),
		row("ResponseMin", "80", "DispatchMin", "20", "TravelMin", "50", "DurationMin", "200"),
	})
	if s.AvgResponse != 70 {
		t.Errorf("AvgResponse: got %v, want 70", s.AvgResponse)
	}
	if s.AvgDispatch != 15 {
		t.Errorf("AvgDispatch: got %v, want 15", s.AvgDispatch)
	}
	if s.AvgTravel != 40 {
		t.Errorf("AvgTravel: got %v, want 40", s.AvgTravel)
	}
	if s.AvgDuration != 150 {
		t.Errorf("AvgDuration: got %v, want 150", s.AvgDuration)
	}
}

func TestAggregate_RoundingHalfAwayFromZero(t *testing.T) {
	// 55.25 is exact in binary, so this checks the tie rule itself.
	s := aggregate(t, []tabular.Record{
		row("ResponseMin", "64"), row("ResponseMin", "45"),
		row("ResponseMin", "70"), row("ResponseMin", "42"),
	})
	if s.AvgResponse != 55.3 {
		t.Errorf("AvgResponse: got %v, want 55.3", s.AvgResponse)
	}
}

func TestAggregate_NonNumericIsZero(t *testing.T) {
	s := aggregate(t, []tabular.Record{row("ResponseMin", "N/A"), row("ResponseMin", "100")})
	if s.AvgResponse != 50 {
		t.Errorf("AvgResponse: got %v, want 50", s.AvgResponse)
	}
}

func TestAggregate_MissingColumnIsZero(t *testing.T) {
	s := aggregate(t, []tabular.Record{tabular.RecordOf("Status", "good")})
	if s.AvgResponse != 0 || s.AvgDispatch != 0 {
		t.Errorf("averages: got resp %v disp %v, want 0", s.AvgResponse, s.AvgDispatch)
	}
	if len(s.Centers) != 0 {
		t.Errorf("Centers: got %d, want 0", len(s.Centers))
	}
}

func TestNumber_LeadingPrefix(t *testing.T) {
	tests := map[string]float64{
		"64":       64,
		" 12.5 ":   12.5,
		"64 min":   64,
		"-3":       -3,
		".5":       0.5,
		"1e2":      100,
		"abc":      0,
		"":         0,
		"N/A":      0,
		"7.":       7,
		"+8.25xyz": 8.25,
	}
	for in, want := range tests {
		r := tabular.RecordOf("v", in)
		if got := number(r, "v"); got != want {
			t.Errorf("number(%q): got %v, want %v", in, got, want)
		}
	}
}

// --- life-saving ------------------------------------------------------------

func TestAggregate_LifeSaving(t *testing.T) {
	tests := []struct {
		severity string
		want     int
	}{
		{"life-saving", 1},
		{"life saving", 1},
		{"critical saving", 1},
		{"Life threatening", 1},
		{"standard", 0},
	}
	for _, tc := range tests {
		t.Run(tc.severity, func(t *testing.T) {
			s := aggregate(t, []tabular.Record{row("Severity", tc.severity)})
			if s.LifeSaving != tc.want {
				t.Errorf("LifeSaving: got %d, want %d", s.LifeSaving, tc.want)
			}
		})
	}
}

// --- centers ----------------------------------------------------------------

func TestAggregate_CentersSortedDescending(t *testing.T) {
	s := aggregate(t, []tabular.Record{
		row("Center", "Small"),
		row("Center", "Big"), row("Center", "Big"), row("Center", "Big"),
		row("Center", "Mid"), row("Center", "Mid"),
	})
	want := []string{"Big", "Mid", "Small"}
	for i, id := range want {
		if s.Centers[i].ID != id {
			t.Errorf("Centers[%d]: got %q, want %q", i, s.Centers[i].ID, id)
		}
	}
	for i := 1; i < len(s.Centers); i++ {
		if s.Centers[i-1].Missions < s.Centers[i].Missions {
			t.Errorf("Centers not descending at %d", i)
		}
	}
}

func TestAggregate_CentersStableOnTies(t *testing.T) {
	s := aggregate(t, []tabular.Record{
		row("Center", "A"), row("Center", "B"), row("Center", "C"),
	})
	for i, id := range []string{"A", "B", "C"} {
		if s.Centers[i].ID != id {
			t.Errorf("Centers[%d]: got %q, want %q", i, s.Centers[i].ID, id)
		}
	}
}

func TestAggregate_CenterStats(t *testing.T) {
	s := aggregate(t, []tabular.Record{
		row("Center", "C1", "DispatchMin", "10", "ResponseMin", "50", "Status", "late"),
		row("Center", "C1", "DispatchMin", "20", "ResponseMin", "70"),
		row("Center", "C2", "DispatchMin", "30"),
		row("Center", ""),
	})
	if len(s.Centers) != 2 {
		t.Fatalf("Centers: got %d, want 2 (empty center skipped)", len(s.Centers))
	}
	c1 := s.Centers[0]
	if c1.ID != "C1" || c1.Missions != 2 {
		t.Fatalf("Centers[0]: got %+v", c1)
	}
	if c1.AvgDispatch != 15 {
		t.Errorf("C1 AvgDispatch: got %v, want 15", c1.AvgDispatch)
	}
	if c1.AvgResponse != 60 {
		t.Errorf("C1 AvgResponse: got %v, want 60", c1.AvgResponse)
	}
	if c1.LateRate != 50 {
		t.Errorf("C1 LateRate: got %v, want 50", c1.LateRate)
	}
	if s.Centers[1].AvgDispatch != 30 {
		t.Errorf("C2 AvgDispatch: got %v, want 30", s.Centers[1].AvgDispatch)
	}
	if s.N != 4 {
		t.Errorf("N: got %d, want 4 (rows without center still count)", s.N)
	}
}

// --- months -----------------------------------------------------------------

func TestAggregate_MonthlyAllMonths(t *testing.T) {
	var recs []tabular.Record
	for m := time.January; m <= time.December; m++ {
		recs = append(recs, row("Month", m.String()))
	}
	s := aggregate(t, recs)
	for i, c := range s.Monthly {
		if c != 1 {
			t.Errorf("Monthly[%d]: got %d, want 1", i, c)
		}
	}
	if s.MonthlyTotal() != s.N {
		t.Errorf("MonthlyTotal: got %d, want %d", s.MonthlyTotal(), s.N)
	}
}

func TestAggregate_MonthlyUnknownDropped(t *testing.T) {
	s := aggregate(t, []tabular.Record{
		row("Month", "Thermidor"),
		row("Month", "january"),
		row("Month", "March"),
		row("Month", "March"),
	})
	if s.N != 4 {
		t.Errorf("N: got %d, want 4", s.N)
	}
	if s.Monthly[2] != 2 {
		t.Errorf("Monthly[March]: got %d, want 2", s.Monthly[2])
	}
	if s.MonthlyTotal() != 2 {
		t.Errorf("MonthlyTotal: got %d, want 2", s.MonthlyTotal())
	}
}

// --- hospitals --------------------------------------------------------------

func TestAggregate_TopHospitalsCapped(t *testing.T) {
	var recs []tabular.Record
	for _, h := range []string{"H1", "H2", "H3", "H4", "H5", "H6"} {
		recs = append(recs, rows(2, "Hospital", h)...)
	}
	s := aggregate(t, recs)
	if len(s.TopHospitals) != MaxTopHospitals {
		t.Fatalf("TopHospitals: got %d, want %d", len(s.TopHospitals), MaxTopHospitals)
	}
	// All tied: encounter order is kept and H6 falls off.
	for i, want := range []string{"H1", "H2", "H3", "H4", "H5"} {
		if s.TopHospitals[i].Hospital != want {
			t.Errorf("TopHospitals[%d]: got %q, want %q", i, s.TopHospitals[i].Hospital, want)
		}
	}
}

func TestAggregate_TopHospitalsDescending(t *testing.T) {
	recs := append(rows(1, "Hospital", "Small"), rows(3, "Hospital", "Big")...)
	s := aggregate(t, recs)
	top := s.TopHospitals[0]
	if top.Hospital != "Big" || top.Count != 3 {
		t.Errorf("TopHospitals[0]: got %+v, want Big/3", top)
	}
	if top.Pct != 75 {
		t.Errorf("Pct: got %v, want 75", top.Pct)
	}
}

func TestAggregate_SingleHospitalIsHundredPct(t *testing.T) {
	s := aggregate(t, rows(4, "Hospital", "Only"))
	if s.TopHospitals[0].Pct != 100 {
		t.Errorf("Pct: got %v, want 100", s.TopHospitals[0].Pct)
	}
}

// --- shifts -----------------------------------------------------------------

func TestAggregate_Shifts(t *testing.T) {
	s := aggregate(t, []tabular.Record{
		row("Shift", "Morning"), row("Shift", "Morning"),
		row("Shift", "Evening"), row("Shift", ""),
	})
	if len(s.Shifts) != 2 {
		t.Errorf("Shifts: got %v, want 2 entries", s.Shifts)
	}
	if s.Shifts["Morning"] != 2 || s.Shifts["Evening"] != 1 {
		t.Errorf("Shifts: got %v", s.Shifts)
	}
	if _, ok := s.Shifts[""]; ok {
		t.Error("Shifts contains empty shift key")
	}
}

func TestAggregate_ShiftsEmpty(t *testing.T) {
	s := aggregate(t, rows(3, "Shift", ""))
	if s.Shifts == nil || len(s.Shifts) != 0 {
		t.Errorf("Shifts: got %v, want empty non-nil map", s.Shifts)
	}
}

// --- flexible headers -------------------------------------------------------

func TestAggregate_FlexibleHeaders(t *testing.T) {
	tests := []struct {
		name string
		rec  tabular.Record
		want float64
	}{
		{"TotalResponse", tabular.RecordOf("TotalResponse", "80", "Status", "good"), 80},
		{"response", tabular.RecordOf("response", "55", "Status", "late"), 55},
		{"Response_Min", tabular.RecordOf("Response_Min", "75"), 75},
		{"response min", tabular.RecordOf("response min", "65"), 65},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := aggregate(t, []tabular.Record{tc.rec})
			if s.AvgResponse != tc.want {
				t.Errorf("AvgResponse: got %v, want %v", s.AvgResponse, tc.want)
			}
		})
	}

	s := aggregate(t, []tabular.Record{tabular.RecordOf("centre", "C99", "Status", "good")})
	if len(s.Centers) != 1 || s.Centers[0].ID != "C99" {
		t.Errorf("centre: got %+v", s.Centers)
	}
}

// --- end to end -------------------------------------------------------------

func TestAggregate_SampleCSV(t *testing.T) {
	s := aggregate(t, tabular.Parse(sampleCSV))

	checks := []struct {
		name      string
		got, want float64
	}{
		{"n", float64(s.N), 10},
		{"late", float64(s.Late), 5},
		{"good", float64(s.Good), 5},
		{"exc", float64(s.Exceptional), 0},
		{"lifeSave", float64(s.LifeSaving), 3},
		{"lifeSavePct", s.LifeSavingPct, 30},
		{"avgResp", s.AvgResponse, 63.1},
		{"avgDisp", s.AvgDispatch, 11.8},
		{"avgTravel", s.AvgTravel, 35.5},
		{"avgDur", s.AvgDuration, 103.3},
		{"lateRate", s.LateRate, 50},
		{"centers", float64(len(s.Centers)), 3},
		{"busiest center", float64(s.Centers[0].Missions), 4},
		{"top hospital", float64(s.TopHospitals[0].Count), 5},
		{"january", float64(s.Monthly[0]), 2},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s: got %v, want %v", c.name, c.got, c.want)
		}
	}
	if s.Centers[0].ID != "C1" {
		t.Errorf("busiest center: got %q, want C1", s.Centers[0].ID)
	}
	if s.TopHospitals[0].Hospital != "King Faisal" {
		t.Errorf("top hospital: got %q, want King Faisal", s.TopHospitals[0].Hospital)
	}
	for i := 9; i < 12; i++ {
		if s.Monthly[i] != 0 {
			t.Errorf("Monthly[%d]: got %d, want 0", i, s.Monthly[i])
		}
	}
	if s.Shifts["Morning"] != 4 {
		t.Errorf("Shifts[Morning]: got %d, want 4", s.Shifts["Morning"])
	}
}

func TestSnapshot_JSONFieldNames(t *testing.T) {
	s := aggregate(t, tabular.Parse(sampleCSV))
	data, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	for _, k := range []string{
		"n", "late", "good", "exc", "lifeSave",
		"avgResp", "avgDisp", "avgTravel", "avgDur",
		"lateRate", "goodRate", "excRate", "lifeSavePct",
		"centers", "monthlyArr", "topHospitals", "shiftMap", "ts",
	} {
		if _, ok := m[k]; !ok {
			t.Errorf("JSON missing key %q", k)
		}
	}
	if months := m["monthlyArr"].([]interface{}); len(months) != MonthsPerYear {
		t.Errorf("monthlyArr: got %d entries, want 12", len(months))
	}
}

func TestSnapshot_Metric(t *testing.T) {
	s := aggregate(t, tabular.Parse(sampleCSV))
	if v, ok := s.Metric(MetricAvgResponse); !ok || v != 63.1 {
		t.Errorf("Metric(avgResp): got %v, %v", v, ok)
	}
	if v, ok := s.Metric(MetricDailyMissions); !ok || v != 10.0/365 {
		t.Errorf("Metric(dailyMissions): got %v, %v", v, ok)
	}
	if _, ok := s.Metric("bogus"); ok {
		t.Error("Metric(bogus): expected ok=false")
	}
}
