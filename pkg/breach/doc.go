// Package breach compares a KPI snapshot against operator thresholds and
// reports every limit it exceeds. All comparisons are strict: a value equal to
// its limit never breaches.
package breach
