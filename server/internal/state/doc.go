// Package state holds the persisted sync state (endpoints, thresholds and the
// alert log) for the running server.
//
// The state file is the string produced by synccfg.Serialize. On startup it is
// merged over the configured defaults; a missing file yields the defaults.
// Every change is written back with a temp-file rename so a crash never leaves
// a half-written file. The alertsToday counter starts again at zero on the
// first access of a new calendar day.
package state
