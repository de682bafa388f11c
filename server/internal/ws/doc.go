// Package ws implements the WebSocket hub for missionkpi-server.
//
// Hub keeps the set of connected dashboard clients and pushes the current
// snapshot of all live datasets plus the alert log to each of them. A push
// happens on connect, on every tick of the configured interval and whenever
// Notify is called (the server calls it after each successful ingest).
//
// Message format:
//
//	{
//	  "event": "snapshot",
//	  "data":  {"datasets": [...], "alerts": [...], "generated_at": "..."}
//	}
//
// The endpoint is mounted at /ws/stream. Browsers cannot set custom headers
// on a WebSocket handshake, so API key auth accepts ?api_key= there.
package ws
