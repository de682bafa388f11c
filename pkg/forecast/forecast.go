package forecast

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// DefaultWindow is the trailing window used by Predict.
const DefaultWindow = 7

// Confidence model constants.
const (
	confidenceBase    = 92
	confidencePenalty = 2
	confidenceMin     = 55
	confidenceMax     = 93
)

var (
	// ErrNoHistory is returned by Predict for an empty series.
	ErrNoHistory = errors.New("forecast: empty history")
	// ErrDayOutOfRange is returned by Predict for a weekday outside Sunday..Saturday.
	ErrDayOutOfRange = errors.New("forecast: day out of range")
)

// DayFactors holds a seasonal multiplier per weekday, indexed by time.Weekday.
type DayFactors [7]float64

// Neutral returns factors that leave a prediction unchanged.
func Neutral() DayFactors {
	return DayFactors{1, 1, 1, 1, 1, 1, 1}
}

// FactorsFrom converts a config slice into DayFactors. It needs exactly seven
// entries.
func FactorsFrom(v []float64) (DayFactors, error) {
	var f DayFactors
	if len(v) != len(f) {
		return f, fmt.Errorf("forecast: need %d day factors, got %d", len(f), len(v))
	}
	copy(f[:], v)
	return f, nil
}

// Prediction is the result of Predict.
type Prediction struct {
	Value      float64 `json:"value"`
	Confidence int     `json:"confidence"`
}

// WMA is the weighted moving average of the last window points, weighting
// the oldest point 1 and the newest k. An empty series, or a window below 1,
// gives 0.
func WMA(series []float64, window int) float64 {
	tail := trailing(series, window)
	if len(tail) == 0 {
		return 0
	}
	var sumW, sumV float64
	for i, v := range tail {
		w := float64(i + 1)
		sumW += w
		sumV += w * v
	}
	return sumV / sumW
}

// TrendSlope is the average change per step across the last n points,
// (last-first)/(count-1). It is 0 with fewer than two points.
func TrendSlope(series []float64, n int) float64 {
	tail := trailing(series, n)
	if len(tail) < 2 {
		return 0
	}
	return (tail[len(tail)-1] - tail[0]) / float64(len(tail)-1)
}

// Predict forecasts the series daysAhead steps past its last point for the
// given weekday. Value is rounded to one decimal.
func Predict(history []float64, factors DayFactors, day time.Weekday, daysAhead int) (Prediction, error) {
	if len(history) == 0 {
		return Prediction{}, ErrNoHistory
	}
	if day < time.Sunday || day > time.Saturday {
		return Prediction{}, fmt.Errorf("%w: %d", ErrDayOutOfRange, day)
	}

	base := WMA(history, DefaultWindow)
	trend := TrendSlope(history, DefaultWindow)
	raw := (base + trend*float64(daysAhead)) * factors[day]

	// The deviation sum is always divided by the full window, so short
	// histories read as steadier than they are.
	var dev float64
	for _, v := range trailing(history, DefaultWindow) {
		dev += math.Abs(v - base)
	}
	variance := dev / DefaultWindow

	conf := confidenceBase - confidencePenalty*variance
	conf = math.Max(confidenceMin, math.Min(confidenceMax, conf))

	return Prediction{
		Value:      math.Round(raw*10) / 10,
		Confidence: int(math.Round(conf)),
	}, nil
}

func trailing(series []float64, n int) []float64 {
	if n <= 0 {
		return nil
	}
	if len(series) > n {
		return series[len(series)-n:]
	}
	return series
}
