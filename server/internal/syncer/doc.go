// Package syncer polls the remote sheet named in the sync state (gsUrl) and
// feeds its CSV export into the ingest pipeline.
//
// The polling period is the state's intervalMin, re-read after every cycle so
// a change made through the config API applies without a restart. Fetch and
// ingest failures are logged and the loop continues.
package syncer
