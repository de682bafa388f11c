// Package synccfg encodes the persisted sync state (sheet and webhook
// endpoints, thresholds, alert history) as a single JSON string and merges a
// stored string back over an existing state.
//
// Deserialize never fails: empty or malformed input returns a copy of the
// base state. Fields absent from the payload keep their base value, and
// thresholds merge key by key so a partial update never zeroes a limit.
package synccfg
