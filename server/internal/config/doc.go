// Package config loads the server configuration from the `server:` section of
// config.yaml.
//
// Config fields:
//   - HTTPPort          port for the REST API and WebSocket hub (default 8080)
//   - LogLevel          debug | info | warn | error (default info)
//   - AllowedOrigins    CORS origins; empty allows any
//   - StreamInterval    WebSocket push interval (default 5s)
//   - Auth              API key mode, key env var and header name
//   - Snapshot.TTL      how long an idle dataset remains live (default 24h)
//   - Snapshot.History  snapshots kept per dataset for forecasting (default 90)
//   - State             persisted state file and the defaults it merges over
//   - Ingest            parser mode and upload size cap
//   - Forecast          weekday factors and default metric
//   - Sync              remote sheet polling
//   - Alerts            webhook cooldown and rate
//
// Load(path) applies defaults before unmarshalling, then validates. Watch
// reloads the file on change.
package config
