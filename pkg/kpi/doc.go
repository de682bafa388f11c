// Package kpi aggregates mission records into an immutable KPI Snapshot.
//
// columns.go resolves semantic fields (response time, status, center, ...)
// onto whatever header spelling a dataset uses: an ordered alias table is
// matched by normalised substring, candidates first, headers second.
//
// aggregate.go makes a single pass over the records, accumulating sums,
// status/severity counts and per-center, per-month, per-hospital and
// per-shift tallies, then derives one-decimal averages and rates.
//
// Aggregate returns nil for an empty input. A nil *Snapshot means "no data"
// and is a different state from a snapshot with zero missions.
package kpi
