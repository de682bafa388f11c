package metrics

import (
	"fmt"
	"io"
	"sort"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"

	"github.com/missionkpi/missionkpi/pkg/kpi"
)

// ContentType is the exposition format WriteSnapshot produces.
var ContentType = string(expfmt.NewFormat(expfmt.TypeTextPlain))

// WriteSnapshot renders s as Prometheus text exposition. Every sample carries
// a dataset label and the snapshot timestamp.
func WriteSnapshot(w io.Writer, dataset string, s *kpi.Snapshot) error {
	for _, mf := range SnapshotFamilies(dataset, s) {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return fmt.Errorf("metrics: write %s: %w", mf.GetName(), err)
		}
	}
	return nil
}

// SnapshotFamilies builds the metric families WriteSnapshot renders, sorted
// by name.
func SnapshotFamilies(dataset string, s *kpi.Snapshot) []*dto.MetricFamily {
	ts := s.Timestamp
	b := &familyBuilder{dataset: dataset, ts: ts, fams: make(map[string]*dto.MetricFamily)}

	b.gauge("missions", "Missions in the snapshot.", float64(s.N))
	b.gauge("missions_late", "Missions classified late.", float64(s.Late))
	b.gauge("missions_good", "Missions classified good.", float64(s.Good))
	b.gauge("missions_exceptional", "Missions neither late nor good.", float64(s.Exceptional))
	b.gauge("missions_life_saving", "Missions with a life-saving severity.", float64(s.LifeSaving))
	b.gauge("avg_response_minutes", "Average response time.", s.AvgResponse)
	b.gauge("avg_dispatch_minutes", "Average dispatch time.", s.AvgDispatch)
	b.gauge("avg_travel_minutes", "Average travel time.", s.AvgTravel)
	b.gauge("avg_duration_minutes", "Average mission duration.", s.AvgDuration)
	b.gauge("late_rate_percent", "Late missions as a percentage of all missions.", s.LateRate)
	b.gauge("good_rate_percent", "Good missions as a percentage of all missions.", s.GoodRate)
	b.gauge("exceptional_rate_percent", "Exceptional missions as a percentage of all missions.", s.ExceptionalRate)
	b.gauge("life_saving_percent", "Life-saving missions as a percentage of all missions.", s.LifeSavingPct)
	b.gauge("daily_missions", "Missions per day over a 365-day year.", s.DailyMissionRate())

	for _, c := range s.Centers {
		b.gauge("center_missions", "Missions per center.", float64(c.Missions), "center", c.ID)
		b.gauge("center_avg_response_minutes", "Average response time per center.", c.AvgResponse, "center", c.ID)
		b.gauge("center_avg_dispatch_minutes", "Average dispatch time per center.", c.AvgDispatch, "center", c.ID)
		b.gauge("center_late_rate_percent", "Late rate per center.", c.LateRate, "center", c.ID)
	}
	for i, n := range s.Monthly {
		b.gauge("monthly_missions", "Missions per calendar month.", float64(n), "month", time.Month(i+1).String())
	}
	for _, h := range s.TopHospitals {
		b.gauge("hospital_missions", "Missions per destination hospital, top entries only.", float64(h.Count), "hospital", h.Hospital)
	}
	shifts := make([]string, 0, len(s.Shifts))
	for k := range s.Shifts {
		shifts = append(shifts, k)
	}
	sort.Strings(shifts)
	for _, k := range shifts {
		b.gauge("shift_missions", "Missions per shift.", float64(s.Shifts[k]), "shift", k)
	}

	out := make([]*dto.MetricFamily, 0, len(b.fams))
	for _, mf := range b.fams {
		out = append(out, mf)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GetName() < out[j].GetName() })
	return out
}

type familyBuilder struct {
	dataset string
	ts      int64
	fams    map[string]*dto.MetricFamily
}

// gauge appends one sample; extra holds label name/value pairs.
func (b *familyBuilder) gauge(name, help string, v float64, extra ...string) {
	full := Namespace + "_" + name
	mf, ok := b.fams[full]
	if !ok {
		mf = &dto.MetricFamily{
			Name: ptr(full),
			Help: ptr(help),
			Type: dto.MetricType_GAUGE.Enum(),
		}
		b.fams[full] = mf
	}

	labels := []*dto.LabelPair{{Name: ptr(labelDataset), Value: ptr(b.dataset)}}
	for i := 0; i+1 < len(extra); i += 2 {
		labels = append(labels, &dto.LabelPair{Name: ptr(extra[i]), Value: ptr(extra[i+1])})
	}
	mf.Metric = append(mf.Metric, &dto.Metric{
		Label:       labels,
		Gauge:       &dto.Gauge{Value: ptr(v)},
		TimestampMs: ptr(b.ts),
	})
}

func ptr[T any](v T) *T { return &v }
