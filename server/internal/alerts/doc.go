// Package alerts turns breach detection results into alert log entries and
// webhook notifications.
//
// Every evaluation replaces the dataset's active breach list. A breach whose
// dataset, kind and center did not already fire within the cooldown is
// logged in the persisted state and posted to the webhook. Slack and Teams
// incoming-webhook URLs get their native payloads; any other URL receives the
// alerts as JSON.
package alerts
