// Package notifier delivers dispatched alerts to downstream systems.
package notifier

import "github.com/V4T54L/scanalyzer/internal/domain"

const (
	kindRaised    = "raised"
	kindTriggered = "triggered"
)

// Kind classifies an alert: triggered alerts crossed the level-code policy,
// the rest were only raised by the classifier.
func Kind(alert domain.AlertMessage) string {
	if alert.Record.Trigger {
		return kindTriggered
	}
	return kindRaised
}

// Subject returns the subject an alert is published on.
func Subject(prefix string, alert domain.AlertMessage) string {
	return prefix + "." + Kind(alert)
}
