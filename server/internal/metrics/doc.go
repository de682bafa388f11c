// Package metrics exposes service counters on /metrics and renders a single
// KPI snapshot in the Prometheus text exposition format.
package metrics
