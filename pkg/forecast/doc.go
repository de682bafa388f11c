// Package forecast projects a KPI series forward.
//
// The model is deliberately small: a recency-weighted moving average as the
// base, a straight-line trend over the same trailing window, and a
// day-of-week multiplier. Confidence shrinks with the mean absolute deviation
// of the recent points from the base and is clamped to [55, 93].
package forecast
