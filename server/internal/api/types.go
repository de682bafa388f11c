package api

import (
	"github.com/missionkpi/missionkpi/pkg/breach"
	"github.com/missionkpi/missionkpi/pkg/forecast"
	"github.com/missionkpi/missionkpi/pkg/kpi"
	"github.com/missionkpi/missionkpi/pkg/synccfg"
)

// HealthResponse is the payload for GET /api/v1/health.
type HealthResponse struct {
	Status       string `json:"status"`
	DatasetCount int    `json:"dataset_count"`
	AlertsToday  int    `json:"alerts_today"`
	AlertCount   int    `json:"alert_count"`
}

// DatasetResponse is one dataset entry in GET /api/v1/datasets or
// GET /api/v1/datasets/{id}.
type DatasetResponse struct {
	Dataset     string           `json:"dataset"`
	Snapshot    *kpi.Snapshot    `json:"snapshot"`
	History     int              `json:"history"`
	Breaches    []breach.Breach  `json:"breaches"`
	Diagnostics []DiagnosticHint `json:"diagnostics"`
	LastSeen    string           `json:"last_seen"` // RFC3339
}

// HistoryPoint is one sample of a metric series.
type HistoryPoint struct {
	Timestamp int64   `json:"ts"`
	Value     float64 `json:"value"`
}

// HistoryResponse is the payload for GET /api/v1/datasets/{id}/history.
type HistoryResponse struct {
	Dataset string         `json:"dataset"`
	Metric  string         `json:"metric"`
	Points  []HistoryPoint `json:"points"`
}

// ForecastResponse is the payload for GET /api/v1/datasets/{id}/forecast.
type ForecastResponse struct {
	Dataset   string `json:"dataset"`
	Metric    string `json:"metric"`
	Day       int    `json:"day"`
	DaysAhead int    `json:"ahead"`
	Samples   int    `json:"samples"`
	forecast.Prediction
}

// SnapshotResponse is the full dump broadcast over the WebSocket stream.
type SnapshotResponse struct {
	Datasets    []DatasetResponse `json:"datasets"`
	Alerts      []synccfg.Alert   `json:"alerts"`
	GeneratedAt string            `json:"generated_at"` // RFC3339
}

// errorResponse is a generic JSON error body.
type errorResponse struct {
	Error string `json:"error"`
}
