package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/missionkpi/missionkpi/pkg/synccfg"
)

// deliver posts alerts to target in one request. Errors are logged and do
// not affect the caller.
func (e *Engine) deliver(target, dataset string, alerts []synccfg.Alert) {
	ctx, cancel := context.WithTimeout(context.Background(), e.client.Timeout)
	defer cancel()

	e.mu.Lock()
	lim := e.limiter
	e.mu.Unlock()
	if err := lim.Wait(ctx); err != nil {
		slog.Warn("alerts: webhook throttled, dropping delivery",
			"dataset", dataset, "alerts", len(alerts), "err", err)
		return
	}

	var body []byte
	kind := webhookKind(target)
	switch kind {
	case "slack":
		body = slackPayload(dataset, alerts)
	case "teams":
		body = teamsPayload(dataset, alerts)
	default:
		body, _ = json.Marshal(map[string]interface{}{"dataset": dataset, "alerts": alerts})
	}

	if err := e.post(ctx, target, body); err != nil {
		slog.Error("alerts: webhook delivery failed",
			"type", kind, "dataset", dataset, "err", err)
		return
	}
	slog.Debug("alerts: webhook delivered",
		"type", kind, "dataset", dataset, "alerts", len(alerts))
}

// webhookKind picks the payload format from the webhook host.
func webhookKind(target string) string {
	u, err := url.Parse(target)
	if err != nil {
		return "http"
	}
	host := strings.ToLower(u.Hostname())
	switch {
	case host == "hooks.slack.com":
		return "slack"
	case strings.HasSuffix(host, ".webhook.office.com"), host == "outlook.office.com":
		return "teams"
	default:
		return "http"
	}
}

func summary(a synccfg.Alert) string {
	s := fmt.Sprintf("%s: %.1f%s exceeds %.1f%s", a.Label, a.Value, a.Unit, a.Threshold, a.Unit)
	if a.Delta != 0 {
		s += fmt.Sprintf(" (Δ %+.1f)", a.Delta)
	}
	return s
}

func slackPayload(dataset string, alerts []synccfg.Alert) []byte {
	lines := make([]string, 0, len(alerts)+1)
	lines = append(lines, fmt.Sprintf("*[CRITICAL]* %d KPI breach(es) on %s", len(alerts), dataset))
	for _, a := range alerts {
		lines = append(lines, a.Icon+" "+summary(a))
	}
	body, _ := json.Marshal(map[string]string{"text": strings.Join(lines, "\n")})
	return body
}

func teamsPayload(dataset string, alerts []synccfg.Alert) []byte {
	lines := make([]string, 0, len(alerts))
	for _, a := range alerts {
		lines = append(lines, a.Icon+" "+summary(a))
	}
	payload := map[string]interface{}{
		"@type":      "MessageCard",
		"@context":   "http://schema.org/extensions",
		"themeColor": "FF4F6A",
		"summary":    "KPI breach on " + dataset,
		"title":      fmt.Sprintf("Mission KPI alert: %s", dataset),
		"text":       strings.Join(lines, "<br>"),
	}
	body, _ := json.Marshal(payload)
	return body
}

func (e *Engine) post(ctx context.Context, target string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("http post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned HTTP %d", resp.StatusCode)
	}
	return nil
}
