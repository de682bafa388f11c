// Package api implements the HTTP REST API for missionkpi-server.
//
// New(Options) returns a Handler routed with gorilla/mux that serves:
//
//	GET  /api/v1/health                   dataset count, alerts today (no auth)
//	GET  /api/v1/datasets                 all live datasets ([]DatasetResponse)
//	GET  /api/v1/datasets/{id}            one dataset with breaches and diagnostics
//	POST /api/v1/datasets/{id}/records    upload delimited text; 201, 422 when empty
//	GET  /api/v1/datasets/{id}/snapshot   latest KPI snapshot
//	GET  /api/v1/datasets/{id}/breaches   breaches from the last evaluation
//	GET  /api/v1/datasets/{id}/history    one metric over the stored history
//	GET  /api/v1/datasets/{id}/forecast   seasonal forecast (metric, day, ahead)
//	GET  /api/v1/datasets/{id}/metrics    latest snapshot as Prometheus text
//	GET  /api/v1/config                   serialized persisted state
//	PUT  /api/v1/config                   merge a partial state (bad fields skipped)
//	GET  /api/v1/alerts                   alert log, newest first
//
// Unknown datasets, including ones older than the store TTL, return 404.
// A known path called with the wrong method returns 405.
// Errors are JSON bodies of the form {"error": "..."}.
//
// BuildSnapshot produces the payload the WebSocket hub broadcasts.
package api
